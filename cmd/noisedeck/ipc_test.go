package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func startTestIPC(t *testing.T) (string, chan Event) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "noisedeck.sock")
	events := make(chan Event, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := runIPCServer(ctx, socketPath, events, testLogger()); err != nil {
			t.Errorf("IPC server failed: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("IPC server did not stop")
		}
	})

	// Wait for the listener to come up.
	waitUntil(t, time.Second, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, "IPC socket never came up")

	return socketPath, events
}

func TestIPC_EventRoundTrip(t *testing.T) {
	socketPath, events := startTestIPC(t)

	if err := SendIPCEvent(socketPath, ButtonUp{Slot: 2}); err != nil {
		t.Fatalf("SendIPCEvent: %v", err)
	}

	select {
	case ev := <-events:
		up, ok := ev.(ButtonUp)
		if !ok {
			t.Fatalf("expected ButtonUp, got %T", ev)
		}
		if up.Slot != 2 {
			t.Fatalf("expected slot 2, got %d", up.Slot)
		}
	case <-time.After(time.Second):
		t.Fatalf("event never reached the daemon channel")
	}

	// Events without payloads work too.
	if err := SendIPCEvent(socketPath, ReloadRequested{}); err != nil {
		t.Fatalf("SendIPCEvent reload: %v", err)
	}
	select {
	case ev := <-events:
		if _, ok := ev.(ReloadRequested); !ok {
			t.Fatalf("expected ReloadRequested, got %T", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("reload event never arrived")
	}
}

func TestIPC_MalformedLineGetsErrorResponse(t *testing.T) {
	socketPath, events := startTestIPC(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, `{"type":"no_such_event"}`); err != nil {
		t.Fatalf("write: %v", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no response: %v", scanner.Err())
	}
	var resp IPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "error" {
		t.Fatalf("expected error status, got %q", resp.Status)
	}

	select {
	case ev := <-events:
		t.Fatalf("malformed line must not produce an event, got %T", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnmarshalEvent_RejectsInternalEvents(t *testing.T) {
	// Engine observations are not injectable from the outside.
	if _, err := UnmarshalEvent([]byte(`{"type":"playback_finished","data":{"handle":1}}`)); err == nil {
		t.Fatalf("expected internal event type to be rejected")
	}
}
