package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop - Reducer-driven "Deck Brain"
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands + broadcasts.
//   - The daemon loop is the only place that executes side effects (engine and
//     display calls).
//   - Engine results are turned into Events and fed back into the reducer.
//   - Explicit event queue and command queue (no nested/re-entrant execution).
//
// Supervision:
//   - Every step (one select arm worth of work) runs under recover().
//   - A panicking step is dropped; the loop continues with the next event.
//   - Crossing the consecutive failure budget flips the deck into degraded
//     mode: new playback starts are rejected, everything else keeps running.
//
// ============================================================================

// runDaemon is the main daemon loop that:
//   - Receives Events from hardware input, IPC and the state websocket
//   - Receives EngineEvents and translates them into observation Events
//   - Emits Tick events on a fixed cadence
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands and feeds observations back into the reducer
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	engineEvents <-chan EngineEvent,
	engine Engine,
	display Display,
	state *DeckState,
	rcfg ReducerConfig,
	updateHz int,
	stepFailureBudget int,
	broadcast func(Broadcast),
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("daemon state is nil")
		return
	}
	if updateHz <= 0 {
		updateHz = defaultUpdateHz
	}
	if stepFailureBudget <= 0 {
		stepFailureBudget = defaultStepFailureBudget
	}

	ticker := time.NewTicker(time.Second / time.Duration(updateHz))
	defer ticker.Stop()

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}
	enqueueCommands := func(cmds []Command) {
		if len(cmds) == 0 {
			return
		}
		cmdQueue = append(cmdQueue, cmds...)
	}

	// Reduce all queued events, enqueuing any resulting commands and fanning
	// out broadcasts.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, rcfg)
			if rr.State != nil {
				state = rr.State
			}
			enqueueCommands(rr.Commands)
			if broadcast != nil {
				for _, b := range rr.Broadcasts {
					broadcast(b)
				}
			}
		}
	}

	// Execute all queued commands, enqueuing observation events.
	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(engine, display, cmd, logger, func(obs Event) {
				enqueueEvent(obs)
			})

			// Observations should be reduced promptly to keep state coherent
			// and allow the reducer to emit follow-up commands (if any).
			flushEvents()
		}
	}

	consecutiveFailures := 0

	// step runs one unit of work under recover. A panic anywhere in the
	// reducer or an effect drops the queued work for this step but leaves
	// the loop alive.
	step := func(fn func()) {
		defer func() {
			r := recover()
			if r == nil {
				consecutiveFailures = 0
				if state.Degraded {
					state.Degraded = false
					logger.Info("step succeeded, leaving degraded mode")
				}
				return
			}
			logger.Error("daemon step panicked", "panic", r,
				"consecutive_failures", consecutiveFailures+1)
			eventQueue = eventQueue[:0]
			cmdQueue = cmdQueue[:0]
			consecutiveFailures++
			if consecutiveFailures >= stepFailureBudget && !state.Degraded {
				state.Degraded = true
				logger.Error("step failure budget exhausted, entering degraded mode",
					"budget", stepFailureBudget)
			}
		}()
		fn()
	}

	// Main loop
	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			stopLiveHandles(state, engine, logger)
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				stopLiveHandles(state, engine, logger)
				return
			}
			if req, isSnap := ev.(RequestStateSnapshot); isSnap {
				// Answered here so DeckState never leaves this goroutine.
				select {
				case req.Reply <- snapshotOf(state):
				default:
				}
				continue
			}
			step(func() {
				enqueueEvent(TimedEvent{Event: ev, At: time.Now()})
				flushEvents()
				flushCommands()
			})

		case ee, ok := <-engineEvents:
			if !ok {
				engineEvents = nil
				continue
			}
			step(func() {
				enqueueEvent(engineObservation(ee))
				flushEvents()
				flushCommands()
			})

		case now := <-ticker.C:
			step(func() {
				enqueueEvent(Tick{Now: now})
				flushEvents()
				flushCommands()
			})
		}
	}
}

// stopLiveHandles stops whatever is still audible on shutdown. Stop errors
// are warnings; the engine's Close tears down the device either way.
func stopLiveHandles(state *DeckState, engine Engine, logger *slog.Logger) {
	if engine == nil {
		return
	}
	for h, key := range state.ByHandle {
		if err := engine.Stop(h, 0); err != nil {
			logger.Warn("failed to stop handle on shutdown",
				"handle", h, "page", key.Page, "slot", key.Slot, "error", err)
		}
	}
}

// snapshotOf builds the initial view a freshly connected client needs.
func snapshotOf(s *DeckState) StateSnapshot {
	return StateSnapshot{
		Page:         s.PageViewFor(s.Page),
		MasterVolume: s.MasterVolume,
		Degraded:     s.Degraded,
		At:           time.Now().UTC(),
	}
}

// engineObservation translates an engine event into a reducer event.
func engineObservation(ee EngineEvent) Event {
	now := time.Now()
	switch e := ee.(type) {
	case EnginePlaying:
		return PlaybackStarted{Handle: e.Handle, At: now}
	case EnginePosition:
		return PlaybackPosition{Handle: e.Handle, Elapsed: e.Elapsed, Total: e.Total, At: now}
	case EngineFinished:
		return PlaybackFinished{Handle: e.Handle, At: now}
	case EngineFailed:
		return PlaybackFailed{Handle: e.Handle, Err: e.Err, At: now}
	default:
		return Tick{Now: now}
	}
}
