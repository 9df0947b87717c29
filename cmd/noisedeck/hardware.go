package main

import (
	"log/slog"
	"time"
)

// ============================================================================
// Display boundary
// ============================================================================
//
// The orchestrator emits render commands carrying ButtonView values; turning a
// view into pixels and shipping it over USB is the display adapter's problem.
// The daemon ships a logging adapter so it runs headless; the state websocket
// hub doubles as a display for virtual deck clients.
// ============================================================================

// ButtonView is everything a display needs to draw one slot.
type ButtonView struct {
	Slot  int    `json:"slot"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`

	// Playing is set while the slot's sound is audible (Starting counts).
	Playing bool `json:"playing"`

	// Remaining is the countdown to the end of playback, zero when unknown.
	Remaining time.Duration `json:"remaining,omitempty"`

	// Instances is the Overlap multiplicity (0 or 1 for other modes).
	Instances int `json:"instances,omitempty"`

	// Failed marks the distinct visual error state. It sticks until the next
	// successful press or a reload.
	Failed bool `json:"failed,omitempty"`
}

// PageView is a full-page render: the page identity plus one view per
// populated slot.
type PageView struct {
	Page    PageID       `json:"page"`
	Label   string       `json:"label"`
	Buttons []ButtonView `json:"buttons"`
}

// Display consumes render output. Implementations must tolerate partial
// failure: a render error is reported, logged by the caller, and never
// escalates beyond the affected frame.
type Display interface {
	RenderButton(view ButtonView) error
	RenderPage(view PageView) error
	Close() error
}

// logDisplay is the headless display adapter: it traces renders and drops
// them. Useful without device hardware and in tests.
type logDisplay struct {
	logger *slog.Logger
}

func newLogDisplay(logger *slog.Logger) *logDisplay {
	return &logDisplay{logger: logger}
}

func (d *logDisplay) RenderButton(view ButtonView) error {
	d.logger.Debug("render button",
		"slot", view.Slot,
		"label", view.Label,
		"playing", view.Playing,
		"failed", view.Failed)
	return nil
}

func (d *logDisplay) RenderPage(view PageView) error {
	d.logger.Debug("render page", "page", view.Page, "buttons", len(view.Buttons))
	return nil
}

func (d *logDisplay) Close() error { return nil }
