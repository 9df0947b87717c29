package main

import (
	"math"
	"time"
)

// This file implements the reducer at the heart of the daemon:
//
//   - Events: hardware taps, IPC/UI requests, engine observations, ticks
//   - Commands: side effects requested by the reducer (engine + display calls)
//   - Reduce(): computes next state + commands + broadcasts, without I/O
//
// The reducer must be pure. It must not perform I/O, block, or mutate anything
// outside the returned state. The daemon loop executes Commands and feeds the
// resulting observations back as Events.

// ReducerConfig is the static policy the reducer needs beyond DeckState.
type ReducerConfig struct {
	// ConfigPath is re-read by CmdLoadConfig on reload requests.
	ConfigPath string
}

// ==============================
// Broadcasts (state websocket)
// ==============================

// Broadcast is a reducer-emitted state change for websocket fan-out.
// Broadcasts are derived purely; the hub serializes and distributes them.
type Broadcast interface {
	broadcastMarker()
}

// BroadcastVolumeChanged is emitted when the rounded master volume changes.
type BroadcastVolumeChanged struct {
	Volume float64
	At     time.Time
}

func (BroadcastVolumeChanged) broadcastMarker() {}

// BroadcastPageChanged is emitted when the displayed page flips.
type BroadcastPageChanged struct {
	View PageView
	At   time.Time
}

func (BroadcastPageChanged) broadcastMarker() {}

// BroadcastButtonChanged is emitted when a button of the displayed page
// changes its view.
type BroadcastButtonChanged struct {
	View ButtonView
	At   time.Time
}

func (BroadcastButtonChanged) broadcastMarker() {}

// ==============================
// Reducer input/output
// ==============================

// ReduceResult is the output of Reduce(): next state plus the commands to
// execute and the state broadcasts to fan out.
type ReduceResult struct {
	State      *DeckState
	Commands   []Command
	Broadcasts []Broadcast
}

// reduction accumulates the outputs while a single event is processed.
type reduction struct {
	s   *DeckState
	cfg ReducerConfig

	cmds []Command
	bcs  []Broadcast
}

func (r *reduction) command(c Command)     { r.cmds = append(r.cmds, c) }
func (r *reduction) broadcast(b Broadcast) { r.bcs = append(r.bcs, b) }

// renderButton emits a render command and broadcast for a button, but only
// while its page is the one being displayed.
func (r *reduction) renderButton(key ButtonKey, at time.Time) {
	if key.Page != r.s.Page {
		return
	}
	view := r.s.ButtonViewFor(key)
	r.command(CmdRenderButton{View: view})
	r.broadcast(BroadcastButtonChanged{View: view, At: at})
}

// renderPage emits a full-page render and broadcast for the current page.
func (r *reduction) renderPage(at time.Time) {
	view := r.s.PageViewFor(r.s.Page)
	r.command(CmdRenderPage{View: view})
	r.broadcast(BroadcastPageChanged{View: view, At: at})
}

// Reduce is the pure reducer.
//
// Rules:
//   - Must not perform I/O
//   - Must not block
//   - Must not mutate anything outside the returned state
//
// The daemon loop must execute Commands, translate results into Events, and
// feed those Events back into Reduce().
func Reduce(s *DeckState, e Event, cfg ReducerConfig) ReduceResult {
	r := &reduction{s: s, cfg: cfg}

	switch ev := e.(type) {
	case Tick:
		r.reduceTick(ev.Now)

	case TimedEvent:
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		r.reduceExternal(ev.Event, at)

	case StartIssued:
		r.reduceStartIssued(ev)

	case PlaybackStarted:
		r.reducePlaybackStarted(ev)

	case PlaybackPosition:
		r.reducePlaybackPosition(ev)

	case PlaybackFinished:
		r.reducePlaybackFinished(ev)

	case PlaybackFailed:
		r.reducePlaybackFailed(ev)

	case StartFailed:
		r.reduceStartFailed(ev)

	case ConfigLoaded:
		r.reduceConfigLoaded(ev)

	case ConfigLoadFailed:
		// Keep the running layout; the effects layer already logged the cause.
		_ = ev

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{State: s, Commands: r.cmds, Broadcasts: r.bcs}
}

// reduceExternal handles user-originated events (hardware, IPC, websocket).
func (r *reduction) reduceExternal(e Event, at time.Time) {
	switch ev := e.(type) {
	case ButtonDown:
		// Taps act on release. Acknowledged, no state change.
		_ = ev

	case ButtonUp:
		r.reduceTap(ev.Slot, at)

	case NavigateTo:
		target := PageID(ev.Page)
		if r.s.Deck.PageFor(target) == nil {
			return
		}
		if target == r.s.Page {
			// Re-render without growing the nav stack.
			r.renderPage(at)
			return
		}
		r.s.PushPage(target)
		r.renderPage(at)

	case NavigateBack:
		if r.s.PopPage() {
			r.renderPage(at)
		}

	case SetMasterVolume:
		r.setMasterVolume(ev.Volume, at)

	case MasterVolumeStep:
		r.setMasterVolume(r.s.MasterVolume+ev.Delta, at)

	case ReloadRequested:
		r.command(CmdLoadConfig{Path: r.cfg.ConfigPath})

	default:
		// no-op
	}
}

// reduceTap dispatches a tap on the current page.
func (r *reduction) reduceTap(slot int, at time.Time) {
	key := ButtonKey{Page: r.s.Page, Slot: slot}
	btn := r.s.Deck.ButtonAt(key.Page, key.Slot)
	if btn == nil {
		return
	}

	switch {
	case btn.Navigate != nil && btn.Navigate.Back:
		if r.s.PopPage() {
			r.renderPage(at)
		}

	case btn.Navigate != nil:
		// Navigation is unconditional and independent of playback state.
		r.s.PushPage(btn.Navigate.Target)
		r.renderPage(at)

	case btn.Sound != nil:
		r.reduceSoundTap(key, btn.Sound, at)
	}
}

// reduceSoundTap runs the per-button playback state machine for a press.
func (r *reduction) reduceSoundTap(key ButtonKey, spec *SoundSpec, at time.Time) {
	pb := r.s.Active[key]

	if spec.Mode.Overlaps() {
		// Every press starts an independent instance; completions decrement
		// the count one by one.
		if r.s.Degraded {
			return
		}
		if pb == nil {
			pb = &ButtonPlayback{Phase: PhaseStarting, Instances: 1}
			r.s.Active[key] = pb
		} else {
			pb.Instances++
		}
		delete(r.s.FailedButtons, key)
		r.command(CmdStartSound{Key: key, Spec: spec})
		r.renderButton(key, at)
		return
	}

	// Toggle and Loop share the toggle press rule.
	switch {
	case pb == nil:
		if r.s.Degraded {
			return
		}
		r.s.Active[key] = &ButtonPlayback{Phase: PhaseStarting, Instances: 1}
		delete(r.s.FailedButtons, key)
		r.command(CmdStartSound{Key: key, Spec: spec})
		r.renderButton(key, at)

	case pb.Phase == PhaseStarting || pb.Handle == 0:
		// The engine has not confirmed yet (initial start or loop restart in
		// flight). Queue the intent; resolving it here would race a second
		// start against the first.
		pb.PendingToggle = !pb.PendingToggle

	case pb.Phase == PhasePlaying:
		if spec.FadeOut > 0 {
			pb.Phase = PhaseFadingOut
			pb.FadeDeadline = at.Add(spec.FadeOut)
			r.command(CmdStopSound{Key: key, Handle: pb.Handle, FadeOut: spec.FadeOut})
			r.renderButton(key, at)
		} else {
			h := pb.Handle
			r.s.ReleaseButton(key)
			r.command(CmdStopSound{Key: key, Handle: h})
			r.renderButton(key, at)
		}

	case pb.Phase == PhaseFadingOut:
		// Already stopping; the press is the stop it asked for.
	}
}

// setMasterVolume clamps, stores and applies the master gain, broadcasting
// only when the rounded value actually changed.
func (r *reduction) setMasterVolume(vol float64, at time.Time) {
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}

	prev := math.Round(r.s.MasterVolume*100) / 100
	next := math.Round(vol*100) / 100

	r.s.MasterVolume = vol
	r.command(CmdSetMasterVolume{Volume: vol})
	if next != prev {
		r.broadcast(BroadcastVolumeChanged{Volume: next, At: at})
	}
}

// reduceStartIssued binds a freshly issued engine handle to its button.
// The button stays in Starting until the engine confirms audio.
func (r *reduction) reduceStartIssued(ev StartIssued) {
	pb := r.s.Active[ev.Key]
	if pb == nil {
		// The button was released while the start was in flight (e.g. reload).
		// Stop the orphan immediately.
		r.command(CmdStopSound{Key: ev.Key, Handle: ev.Handle})
		return
	}
	r.s.AttachHandle(ev.Key, ev.Handle, ev.At)
}

// reducePlaybackStarted moves Starting -> Playing and resolves a queued
// toggle intent if one arrived in between.
func (r *reduction) reducePlaybackStarted(ev PlaybackStarted) {
	key, ok := r.s.KeyForHandle(ev.Handle)
	if !ok {
		return
	}
	pb := r.s.Active[key]
	if pb == nil {
		return
	}

	if pb.Phase == PhaseStarting {
		pb.Phase = PhasePlaying
	}

	if pb.PendingToggle {
		pb.PendingToggle = false
		spec := r.soundSpecFor(key)
		if spec != nil && spec.FadeOut > 0 {
			pb.Phase = PhaseFadingOut
			pb.FadeDeadline = ev.At.Add(spec.FadeOut)
			r.command(CmdStopSound{Key: key, Handle: ev.Handle, FadeOut: spec.FadeOut})
		} else {
			r.s.ReleaseButton(key)
			r.command(CmdStopSound{Key: key, Handle: ev.Handle})
		}
	}

	r.renderButton(key, ev.At)
}

// reducePlaybackPosition refreshes the countdown view of a live button.
func (r *reduction) reducePlaybackPosition(ev PlaybackPosition) {
	key, ok := r.s.KeyForHandle(ev.Handle)
	if !ok {
		return
	}
	pb := r.s.Active[key]
	if pb == nil {
		return
	}

	pb.Elapsed = ev.Elapsed
	if ev.Total > 0 {
		pb.Total = ev.Total
	}
	r.renderButton(key, ev.At)
}

// reducePlaybackFinished retires one playback instance. A Finished for an
// unknown handle is a no-op: re-delivery after the button went idle produces
// neither commands nor renders.
func (r *reduction) reducePlaybackFinished(ev PlaybackFinished) {
	key, ok := r.s.KeyForHandle(ev.Handle)
	if !ok {
		return
	}
	pb := r.s.Active[key]
	if pb == nil {
		delete(r.s.ByHandle, ev.Handle)
		return
	}

	spec := r.soundSpecFor(key)

	// Loop buttons restart on completion unless a stop is queued or running.
	if spec != nil && spec.Mode.Loops() &&
		pb.Phase == PhasePlaying && !pb.PendingToggle && !r.s.Degraded {
		delete(r.s.ByHandle, ev.Handle)
		pb.Handle = 0
		pb.Elapsed = 0
		r.command(CmdStartSound{Key: key, Spec: spec})
		return
	}

	delete(r.s.ByHandle, ev.Handle)
	if ev.Handle == pb.Handle {
		pb.Handle = 0
	}
	pb.Instances--
	if pb.Instances > 0 {
		r.renderButton(key, ev.At)
		return
	}

	r.s.ReleaseButton(key)
	r.renderButton(key, ev.At)
}

// reducePlaybackFailed forces the owning button back to Idle and shows the
// error indicator. Playback failures never halt event processing.
func (r *reduction) reducePlaybackFailed(ev PlaybackFailed) {
	key, ok := r.s.KeyForHandle(ev.Handle)
	if !ok {
		delete(r.s.ByHandle, ev.Handle)
		return
	}

	r.s.ReleaseButton(key)
	r.s.FailedButtons[key] = true
	r.renderButton(key, ev.At)
}

// reduceStartFailed handles a start that never produced a handle.
func (r *reduction) reduceStartFailed(ev StartFailed) {
	pb := r.s.Active[ev.Key]
	if pb != nil {
		pb.Instances--
		if pb.Instances <= 0 || pb.Handle == 0 {
			r.s.ReleaseButton(ev.Key)
		}
	}
	r.s.FailedButtons[ev.Key] = true
	r.renderButton(ev.Key, ev.At)
}

// reduceConfigLoaded swaps in a freshly compiled layout: every live handle is
// stopped, runtime state resets against the new deck, and the start page is
// rendered from scratch.
func (r *reduction) reduceConfigLoaded(ev ConfigLoaded) {
	for h, key := range r.s.ByHandle {
		r.command(CmdStopSound{Key: key, Handle: h})
	}
	r.s.Reset(ev.Deck)
	r.renderPage(ev.At)
}

// reduceTick enforces fade-out deadlines. A FadingOut button whose engine
// never reported Finished still lands in Idle at its deadline.
func (r *reduction) reduceTick(now time.Time) {
	for key, pb := range r.s.Active {
		if pb.Phase != PhaseFadingOut {
			continue
		}
		if pb.FadeDeadline.IsZero() || now.Before(pb.FadeDeadline) {
			continue
		}
		r.s.ReleaseButton(key)
		r.renderButton(key, now)
	}
}

// soundSpecFor looks up the sound spec of a button, nil for non-sound buttons.
func (r *reduction) soundSpecFor(key ButtonKey) *SoundSpec {
	btn := r.s.Deck.ButtonAt(key.Page, key.Slot)
	if btn == nil {
		return nil
	}
	return btn.Sound
}
