package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ============================================================================
// noisedeck-ctl - Command-line IPC Client
// ============================================================================
// This tool sends events to the noisedeck daemon via IPC.
//
// Usage:
//   noisedeck-ctl tap 3
//   noisedeck-ctl navigate sfx
//   noisedeck-ctl back
//   noisedeck-ctl volume 0.8
//   noisedeck-ctl volume-up
//   noisedeck-ctl volume-down
//   noisedeck-ctl reload
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/noisedeck.sock)
// ============================================================================

const defaultSocket = "/tmp/noisedeck.sock"

const volumeStep = 0.05

// Wire types (duplicated from the daemon for a standalone binary)

type buttonUp struct {
	Slot int `json:"slot"`
}

type navigateTo struct {
	Page string `json:"page"`
}

type setMasterVolume struct {
	Volume float64 `json:"volume"`
	Origin string  `json:"origin,omitempty"`
}

type masterVolumeStep struct {
	Delta float64 `json:"delta"`
}

// eventEnvelope wraps events for JSON transport
type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ipcResponse represents the daemon's response
type ipcResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	socketPath := defaultSocket

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	env, err := buildEnvelope(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	if err := sendEvent(socketPath, env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

func buildEnvelope(args []string) (eventEnvelope, error) {
	switch args[0] {
	case "tap", "press":
		if len(args) < 2 {
			return eventEnvelope{}, fmt.Errorf("tap requires a slot number")
		}
		slot, err := strconv.Atoi(args[1])
		if err != nil {
			return eventEnvelope{}, fmt.Errorf("invalid slot: %v", err)
		}
		return envelope("button_up", buttonUp{Slot: slot})

	case "navigate", "page":
		if len(args) < 2 {
			return eventEnvelope{}, fmt.Errorf("navigate requires a page id")
		}
		return envelope("navigate", navigateTo{Page: args[1]})

	case "back":
		return eventEnvelope{Type: "navigate_back"}, nil

	case "volume", "set-volume":
		if len(args) < 2 {
			return eventEnvelope{}, fmt.Errorf("volume requires a value between 0 and 1")
		}
		vol, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return eventEnvelope{}, fmt.Errorf("invalid volume: %v", err)
		}
		return envelope("set_master_volume", setMasterVolume{Volume: vol, Origin: "noisedeck-ctl"})

	case "volume-up", "up":
		return envelope("master_volume_step", masterVolumeStep{Delta: volumeStep})

	case "volume-down", "down":
		return envelope("master_volume_step", masterVolumeStep{Delta: -volumeStep})

	case "reload":
		return eventEnvelope{Type: "reload"}, nil

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
		return eventEnvelope{}, nil

	default:
		return eventEnvelope{}, fmt.Errorf("unknown command: %s", args[0])
	}
}

func envelope(typ string, payload any) (eventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return eventEnvelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return eventEnvelope{Type: typ, Data: data}, nil
}

func sendEvent(socketPath string, env eventEnvelope) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	// Send event (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var response ipcResponse
	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}

	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `noisedeck-ctl - Control the noisedeck daemon via IPC

Usage:
  noisedeck-ctl [options] <command> [args]

Options:
  -socket PATH       Unix domain socket path (default: %s)

Commands:
  tap SLOT           Tap the button in SLOT on the current page
  navigate PAGE      Switch to PAGE
  back               Pop the navigation stack
  volume VALUE       Set master volume (0..1)
  volume-up          Step master volume up
  volume-down        Step master volume down
  reload             Reload the deck layout from the config file
  help               Show this help
`, defaultSocket)
}
