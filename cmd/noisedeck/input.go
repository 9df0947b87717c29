package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"time"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// readInputEvents reads input events from a file descriptor and sends them to
// a channel. This runs in a dedicated goroutine and blocks on read operations.
func readInputEvents(f *os.File, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- ev
	}
}

// readMultiDevice fans in raw events from several devices. The portable
// default spawns one blocking reader per device; input_epoll.go swaps in a
// single epoll loop on Linux.
var readMultiDevice = func(files []*os.File, events chan<- inputEvent, readErr chan<- error) {
	for _, f := range files {
		go readInputEvents(f, events, readErr)
	}
}

// translateInput maps a raw key event to a daemon event, false when the event
// carries no meaning for the deck.
func translateInput(cfg *Config, ev inputEvent) (Event, bool) {
	if ev.Type != EV_KEY {
		return nil, false
	}

	switch ev.Code {
	case KEY_VOLUMEUP:
		if ev.Value == evValuePress || ev.Value == evValueRepeat {
			return MasterVolumeStep{Delta: masterVolumeStepDelta}, true
		}
		return nil, false
	case KEY_VOLUMEDOWN:
		if ev.Value == evValuePress || ev.Value == evValueRepeat {
			return MasterVolumeStep{Delta: -masterVolumeStepDelta}, true
		}
		return nil, false
	case KEY_MUTE:
		if ev.Value == evValuePress {
			return SetMasterVolume{Volume: 0, Origin: "input"}, true
		}
		return nil, false
	}

	slot, ok := cfg.SlotForKeyCode(ev.Code)
	if !ok {
		return nil, false
	}
	switch ev.Value {
	case evValuePress:
		return ButtonDown{Slot: slot}, true
	case evValueRelease:
		return ButtonUp{Slot: slot}, true
	}
	// Key repeat on a deck button is noise.
	return nil, false
}

// runInput owns the hardware input devices for the life of the process. It
// opens the configured device nodes, feeds translated events into out, and
// reopens devices with backoff when a reader dies (USB replug). The retry
// budget counts consecutive failed sessions; a session that delivered events
// resets it.
func runInput(ctx context.Context, cfg *Config, out chan<- Event, logger *slog.Logger) error {
	retryLimit := cfg.Input.RetryLimit
	if retryLimit <= 0 {
		retryLimit = defaultInputRetryLimit
	}
	backoff := time.Duration(cfg.Input.RetryBackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = defaultInputRetryBackoffMS * time.Millisecond
	}

	retries := 0
	for {
		delivered, err := runInputSession(ctx, cfg, out, logger)
		if ctx.Err() != nil {
			return nil
		}
		if delivered {
			retries = 0
		}
		retries++
		if retries > retryLimit {
			logger.Error("input retry budget exhausted, giving up on hardware input",
				"retries", retries-1, "error", err)
			// The deck stays usable through IPC and the websocket.
			return nil
		}
		logger.Warn("input session ended, retrying",
			"error", err, "retry", retries, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// runInputSession opens all devices and pumps events until a reader fails or
// the context ends. Reports whether at least one event was delivered.
func runInputSession(ctx context.Context, cfg *Config, out chan<- Event, logger *slog.Logger) (bool, error) {
	var files []*os.File
	for _, path := range cfg.Input.Devices {
		f, err := os.Open(path)
		if err != nil {
			for _, o := range files {
				o.Close()
			}
			return false, err
		}
		logger.Info("input device opened", "device", path)
		files = append(files, f)
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	raw := make(chan inputEvent, daemonEventBuf)
	readErr := make(chan error, len(files))
	readMultiDevice(files, raw, readErr)

	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case err := <-readErr:
			return delivered, err
		case ev := <-raw:
			de, ok := translateInput(cfg, ev)
			if !ok {
				continue
			}
			delivered = true
			select {
			case out <- de:
			case <-ctx.Done():
				return delivered, ctx.Err()
			}
		}
	}
}
