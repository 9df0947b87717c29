package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events
// ============================================================================
// Events are the only input to the reducer. They originate from the hardware
// input readers, the IPC socket, websocket clients, the playback engine (as
// observations routed through the effects layer) and the daemon's own ticker.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// Tick is emitted by the daemon loop at a fixed cadence. It drives fade-out
// deadlines; playback positions arrive as engine observations instead.
type Tick struct {
	Now time.Time
}

func (Tick) eventMarker() {}

// TimedEvent wraps an external event with its arrival time.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// ButtonDown indicates a physical slot was pressed. Taps act on release, so
// this is acknowledged but changes no state.
type ButtonDown struct {
	Slot int `json:"slot"`
}

func (ButtonDown) eventMarker() {}

// ButtonUp indicates a physical slot was released. This is the tap trigger.
type ButtonUp struct {
	Slot int `json:"slot"`
}

func (ButtonUp) eventMarker() {}

// NavigateTo requests a page change without a physical button (IPC/UI).
type NavigateTo struct {
	Page string `json:"page"`
}

func (NavigateTo) eventMarker() {}

// NavigateBack pops the navigation stack (IPC/UI).
type NavigateBack struct{}

func (NavigateBack) eventMarker() {}

// SetMasterVolume requests the master gain to be set to an absolute value.
type SetMasterVolume struct {
	Volume float64 `json:"volume"`
	Origin string  `json:"origin,omitempty"` // e.g. "ipc", "ws", "button"
}

func (SetMasterVolume) eventMarker() {}

// MasterVolumeStep requests a relative master gain change.
type MasterVolumeStep struct {
	Delta float64 `json:"delta"`
}

func (MasterVolumeStep) eventMarker() {}

// ReloadRequested asks the daemon to re-read its config file and swap the
// deck layout.
type ReloadRequested struct{}

func (ReloadRequested) eventMarker() {}

// ============================================================================
// Engine observations (fed back by the effects layer; not IPC-visible)
// ============================================================================

// StartIssued binds a freshly issued engine handle to the button whose
// CmdStartSound produced it. The button stays in Starting until the engine
// confirms audio with PlaybackStarted.
type StartIssued struct {
	Key    ButtonKey
	Handle Handle
	At     time.Time
}

func (StartIssued) eventMarker() {}

// PlaybackStarted confirms a handle is producing audio.
type PlaybackStarted struct {
	Handle Handle
	At     time.Time
}

func (PlaybackStarted) eventMarker() {}

// PlaybackPosition reports elapsed playback time for a live handle.
type PlaybackPosition struct {
	Handle  Handle
	Elapsed time.Duration
	Total   time.Duration
	At      time.Time
}

func (PlaybackPosition) eventMarker() {}

// PlaybackFinished reports a handle completed or finished its fade-out.
type PlaybackFinished struct {
	Handle Handle
	At     time.Time
}

func (PlaybackFinished) eventMarker() {}

// PlaybackFailed reports a live handle failed.
type PlaybackFailed struct {
	Handle Handle
	Err    error
	At     time.Time
}

func (PlaybackFailed) eventMarker() {}

// StartFailed reports that CmdStartSound never produced a handle.
type StartFailed struct {
	Key ButtonKey
	Err error
	At  time.Time
}

func (StartFailed) eventMarker() {}

// ConfigLoaded carries a freshly compiled deck layout after CmdLoadConfig.
type ConfigLoaded struct {
	Deck *DeckConfig
	At   time.Time
}

func (ConfigLoaded) eventMarker() {}

// ConfigLoadFailed reports that the reload could not produce a valid layout.
// The running layout stays in effect.
type ConfigLoadFailed struct {
	Err error
	At  time.Time
}

func (ConfigLoadFailed) eventMarker() {}

// ============================================================================
// JSON encoding/decoding support
// ============================================================================
// EventEnvelope wraps the IPC-visible events for JSON transport. Since Go has
// no union types, a type discriminator selects the concrete payload.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event.
// Only externally injectable events are accepted; engine observations and
// internal events are not valid on the wire.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "button_down":
		var e ButtonDown
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ButtonDown: %w", err)
		}
		return e, nil

	case "button_up":
		var e ButtonUp
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ButtonUp: %w", err)
		}
		return e, nil

	case "navigate":
		var e NavigateTo
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal NavigateTo: %w", err)
		}
		return e, nil

	case "navigate_back":
		return NavigateBack{}, nil

	case "set_master_volume":
		var e SetMasterVolume
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal SetMasterVolume: %w", err)
		}
		return e, nil

	case "master_volume_step":
		var e MasterVolumeStep
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal MasterVolumeStep: %w", err)
		}
		return e, nil

	case "reload":
		return ReloadRequested{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an IPC-visible Event into a JSON envelope.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case ButtonDown:
		env.Type = "button_down"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal ButtonDown: %w", err)
		}
		env.Data = data

	case ButtonUp:
		env.Type = "button_up"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal ButtonUp: %w", err)
		}
		env.Data = data

	case NavigateTo:
		env.Type = "navigate"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal NavigateTo: %w", err)
		}
		env.Data = data

	case NavigateBack:
		env.Type = "navigate_back"

	case SetMasterVolume:
		env.Type = "set_master_volume"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal SetMasterVolume: %w", err)
		}
		env.Data = data

	case MasterVolumeStep:
		env.Type = "master_volume_step"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal MasterVolumeStep: %w", err)
		}
		env.Data = data

	case ReloadRequested:
		env.Type = "reload"

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
