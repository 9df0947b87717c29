package main

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Playback engine abstraction
// ============================================================================
//
// Engine is the uniform contract over the audio mixing/decoding backend.
// The orchestrator never touches the backend directly; the effects layer calls
// Engine methods and the engine reports progress through its event channel.
//
// Contract:
//   - Start performs at most one decode/allocate attempt per call.
//   - Stop with fadeOut > 0 keeps the handle alive, attenuating until silence,
//     then reports EngineFinished; fadeOut == 0 halts immediately.
//   - SetVolume ramps, it never steps (audible clicks).
//   - Events are per-handle monotonic: no event for a handle precedes an
//     earlier event for the same handle. Cross-handle ordering is unspecified.
// ============================================================================

// Handle references one in-progress playback instance.
type Handle uint64

// Engine is the playback backend boundary.
type Engine interface {
	Start(resource string, volume float64, fadeIn time.Duration) (Handle, error)
	Stop(h Handle, fadeOut time.Duration) error
	SetVolume(h Handle, volume float64) error
	SetMasterVolume(volume float64) error

	// Events delivers playback progress. The channel is closed by Close.
	Events() <-chan EngineEvent

	Close() error
}

// ==============================
// Engine events
// ==============================

// EngineEvent is the marker interface for playback progress reports.
type EngineEvent interface {
	engineEventMarker()
}

// EnginePlaying confirms a handle started producing audio.
type EnginePlaying struct {
	Handle Handle
}

func (EnginePlaying) engineEventMarker() {}

// EnginePosition reports elapsed playback time for a handle.
type EnginePosition struct {
	Handle  Handle
	Elapsed time.Duration
	Total   time.Duration // zero when unknown (e.g. streams)
}

func (EnginePosition) engineEventMarker() {}

// EngineFinished reports a handle completed (ran out of samples or finished
// its fade-out). The handle is invalid afterwards.
type EngineFinished struct {
	Handle Handle
}

func (EngineFinished) engineEventMarker() {}

// EngineFailed reports a handle failed. The handle is invalid afterwards.
type EngineFailed struct {
	Handle Handle
	Err    error
}

func (EngineFailed) engineEventMarker() {}

// ==============================
// Engine errors
// ==============================

// EngineErrorKind classifies engine failures. All kinds are recoverable at the
// button granularity; none abort the daemon.
type EngineErrorKind int

const (
	ErrResourceUnavailable EngineErrorKind = iota
	ErrDecodeFailed
	ErrDeviceUnavailable
	ErrEngineInternal
)

func (k EngineErrorKind) String() string {
	switch k {
	case ErrResourceUnavailable:
		return "resource unavailable"
	case ErrDecodeFailed:
		return "decode failed"
	case ErrDeviceUnavailable:
		return "device unavailable"
	default:
		return "internal"
	}
}

// EngineError carries the failure kind next to the underlying cause.
type EngineError struct {
	Kind EngineErrorKind
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine: %s", e.Kind)
	}
	return fmt.Sprintf("engine: %s: %v", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// engineErr wraps err with a kind, preserving an existing EngineError.
func engineErr(kind EngineErrorKind, err error) error {
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Kind: kind, Err: err}
}

// EngineErrorKindOf extracts the failure kind from err, defaulting to internal.
func EngineErrorKindOf(err error) EngineErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ErrEngineInternal
}

// ErrUnknownHandle is returned by engine operations on dead or foreign handles.
var ErrUnknownHandle = errors.New("unknown playback handle")
