package main

import (
	"fmt"
	"sort"
	"time"
)

// ============================================================================
// DeckState - reducer-owned runtime state
// ============================================================================
//
// Goals:
//   - Keep all reducer-owned state in one place (pure reducer, no external
//     mutation).
//   - One authoritative answer to "what is this button doing right now".
//   - Make it easy to publish a coherent snapshot to other clients (WS/IPC).
//
// DeckState is owned by the daemon goroutine. Nothing outside the reducer may
// mutate it; snapshots cross goroutine boundaries as copies only.
// ============================================================================

// ButtonKey identifies a button across pages for runtime playback state.
type ButtonKey struct {
	Page PageID
	Slot int
}

func (k ButtonKey) String() string {
	return fmt.Sprintf("%s/%d", k.Page, k.Slot)
}

// PlaybackPhase is the per-button playback state machine position.
type PlaybackPhase int

const (
	PhaseIdle PlaybackPhase = iota
	PhaseStarting
	PhasePlaying
	PhaseFadingOut
)

func (p PlaybackPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhasePlaying:
		return "playing"
	case PhaseFadingOut:
		return "fading_out"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ButtonPlayback tracks one non-idle sound button.
//
// Invariant: Active holds an entry only while the button is not idle, so an
// absent entry IS the idle state. Overlap multiplicity is the Instances count
// plus the newest handle; completions decrement the count regardless of which
// instance finished, which keeps lookup and cleanup bounded.
type ButtonPlayback struct {
	Phase     PlaybackPhase
	Handle    Handle // zero while Starting
	StartedAt time.Time
	Elapsed   time.Duration
	Total     time.Duration

	// Instances counts concurrent playbacks for Overlap buttons (>= 1 while
	// non-idle). Toggle/Loop buttons always hold 1.
	Instances int

	// PendingToggle queues a press that arrived while Starting. It resolves
	// when the engine confirms the start; it must never race ahead and issue
	// a second start.
	PendingToggle bool

	// FadeDeadline bounds a FadingOut phase. If the engine never reports
	// Finished, the Tick handler forces the transition at the deadline.
	FadeDeadline time.Time
}

// DeckState is the top-level, daemon-owned state container.
type DeckState struct {
	// Deck is the immutable layout currently in effect. Swapped wholesale on
	// reload, never mutated.
	Deck *DeckConfig

	// Page is the currently displayed page. Always a valid page of Deck.
	Page PageID

	// NavStack holds the navigation history; Back buttons pop it. The current
	// page is always the last element.
	NavStack []PageID

	// Active maps non-idle sound buttons to their playback state.
	Active map[ButtonKey]*ButtonPlayback

	// ByHandle finds the owning button for engine observations.
	ByHandle map[Handle]ButtonKey

	// FailedButtons carries the sticky error indicator per button. Cleared by
	// the next successful press or a reload.
	FailedButtons map[ButtonKey]bool

	// MasterVolume is the last applied master gain (0..1).
	MasterVolume float64

	// Degraded is set by the supervisor after the step failure budget is
	// exhausted; sound commands are rejected until a step succeeds again.
	Degraded bool
}

// NewDeckState builds the initial runtime state for a loaded deck.
func NewDeckState(deck *DeckConfig, masterVolume float64) *DeckState {
	return &DeckState{
		Deck:          deck,
		Page:          deck.StartPage,
		NavStack:      []PageID{deck.StartPage},
		Active:        make(map[ButtonKey]*ButtonPlayback),
		ByHandle:      make(map[Handle]ButtonKey),
		FailedButtons: make(map[ButtonKey]bool),
		MasterVolume:  masterVolume,
	}
}

// CurrentPage returns the page currently displayed.
func (s *DeckState) CurrentPage() *Page {
	return s.Deck.PageFor(s.Page)
}

// PushPage navigates to target, recording it on the nav stack.
// Intended to be called only by the reducer (single-owner).
func (s *DeckState) PushPage(target PageID) {
	s.NavStack = append(s.NavStack, target)
	s.Page = target
}

// PopPage navigates back one step. At the root it is a no-op and returns false.
// Intended to be called only by the reducer (single-owner).
func (s *DeckState) PopPage() bool {
	if len(s.NavStack) <= 1 {
		return false
	}
	s.NavStack = s.NavStack[:len(s.NavStack)-1]
	s.Page = s.NavStack[len(s.NavStack)-1]
	return true
}

// AttachHandle records a confirmed handle for a button.
// Intended to be called only by the reducer (single-owner).
func (s *DeckState) AttachHandle(key ButtonKey, h Handle, now time.Time) {
	pb := s.Active[key]
	if pb == nil {
		return
	}
	// Overlap buttons keep one mapping per live instance; pb.Handle tracks
	// the newest one.
	pb.Handle = h
	pb.StartedAt = now
	s.ByHandle[h] = key
}

// ReleaseButton drops all runtime playback state for a button.
// Intended to be called only by the reducer (single-owner).
func (s *DeckState) ReleaseButton(key ButtonKey) {
	if s.Active[key] == nil {
		return
	}
	for h, k := range s.ByHandle {
		if k == key {
			delete(s.ByHandle, h)
		}
	}
	delete(s.Active, key)
}

// KeyForHandle resolves the owning button of an engine handle.
func (s *DeckState) KeyForHandle(h Handle) (ButtonKey, bool) {
	key, ok := s.ByHandle[h]
	return key, ok
}

// ButtonViewFor builds the render view of one button from current state.
// Buttons not on the current page render as views for their own slot but are
// only emitted when their page is showing; the reducer enforces that.
func (s *DeckState) ButtonViewFor(key ButtonKey) ButtonView {
	view := ButtonView{Slot: key.Slot}

	btn := s.Deck.ButtonAt(key.Page, key.Slot)
	if btn == nil {
		return view
	}
	view.Label = btn.Label
	view.Icon = btn.Icon
	view.Failed = s.FailedButtons[key]

	if pb := s.Active[key]; pb != nil {
		view.Playing = pb.Phase == PhaseStarting || pb.Phase == PhasePlaying || pb.Phase == PhaseFadingOut
		view.Instances = pb.Instances
		if pb.Total > 0 && pb.Elapsed <= pb.Total {
			view.Remaining = pb.Total - pb.Elapsed
		}
	}

	return view
}

// PageViewFor builds the full-page render view for the given page.
func (s *DeckState) PageViewFor(id PageID) PageView {
	page := s.Deck.PageFor(id)
	if page == nil {
		return PageView{Page: id}
	}

	slots := make([]int, 0, len(page.Buttons))
	for slot := range page.Buttons {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	view := PageView{
		Page:    id,
		Label:   page.Label,
		Buttons: make([]ButtonView, 0, len(slots)),
	}
	for _, slot := range slots {
		view.Buttons = append(view.Buttons, s.ButtonViewFor(ButtonKey{Page: id, Slot: slot}))
	}
	return view
}

// Reset rebuilds the runtime state against a new deck layout, keeping only
// the master volume. Used on config reload.
func (s *DeckState) Reset(deck *DeckConfig) {
	s.Deck = deck
	s.Page = deck.StartPage
	s.NavStack = []PageID{deck.StartPage}
	s.Active = make(map[ButtonKey]*ButtonPlayback)
	s.ByHandle = make(map[Handle]ButtonKey)
	s.FailedButtons = make(map[ButtonKey]bool)
}
