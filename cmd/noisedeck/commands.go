package main

import (
	"fmt"
	"time"
)

// ============================================================================
// Commands (side effects)
// ============================================================================
// Commands are the reducer's only way to affect the world. The daemon loop
// executes them through runEffect and feeds the resulting observations back
// into the reducer. The reducer itself performs no I/O.
// ============================================================================

// Command represents an external side effect to be executed by the daemon loop.
type Command interface {
	commandMarker()
	String() string
}

// CmdStartSound asks the engine to begin playback for a button.
type CmdStartSound struct {
	Key  ButtonKey
	Spec *SoundSpec
}

func (CmdStartSound) commandMarker() {}
func (c CmdStartSound) String() string {
	return fmt.Sprintf("CmdStartSound(key=%s, resource=%s, mode=%s)", c.Key, c.Spec.Resource, c.Spec.Mode)
}

// CmdStopSound asks the engine to end a handle, fading when FadeOut > 0.
type CmdStopSound struct {
	Key     ButtonKey
	Handle  Handle
	FadeOut time.Duration
}

func (CmdStopSound) commandMarker() {}
func (c CmdStopSound) String() string {
	return fmt.Sprintf("CmdStopSound(key=%s, handle=%d, fade_out=%s)", c.Key, c.Handle, c.FadeOut)
}

// CmdSetMasterVolume applies the master gain to the engine.
type CmdSetMasterVolume struct {
	Volume float64
}

func (CmdSetMasterVolume) commandMarker() {}
func (c CmdSetMasterVolume) String() string {
	return fmt.Sprintf("CmdSetMasterVolume(volume=%.2f)", c.Volume)
}

// CmdRenderButton redraws a single slot of the current page.
type CmdRenderButton struct {
	View ButtonView
}

func (CmdRenderButton) commandMarker() {}
func (c CmdRenderButton) String() string {
	return fmt.Sprintf("CmdRenderButton(slot=%d, label=%q)", c.View.Slot, c.View.Label)
}

// CmdRenderPage redraws the whole current page.
type CmdRenderPage struct {
	View PageView
}

func (CmdRenderPage) commandMarker() {}
func (c CmdRenderPage) String() string {
	return fmt.Sprintf("CmdRenderPage(page=%s, buttons=%d)", c.View.Page, len(c.View.Buttons))
}

// CmdLoadConfig re-reads and compiles the config file. The result returns as
// a ConfigLoaded or ConfigLoadFailed observation.
type CmdLoadConfig struct {
	Path string
}

func (CmdLoadConfig) commandMarker() {}
func (c CmdLoadConfig) String() string {
	return fmt.Sprintf("CmdLoadConfig(path=%s)", c.Path)
}
