package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/state", "noisedeck state websocket URL")
		send  = flag.String("send", "", "Send a single control frame and exit (e.g., 'tap 3', 'navigate sfx', 'volume 0.5')")
	)
	flag.Parse()

	// Parse websocket URL
	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// Set up ping/pong handlers for connection health
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	// Handle single control-frame mode
	if *send != "" {
		frame, err := buildControlFrame(*send)
		if err != nil {
			log.Fatalf("bad -send argument: %v", err)
		}
		writeMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, frame)
		writeMu.Unlock()
		if err != nil {
			log.Fatalf("failed to send control frame: %v", err)
		}
		log.Printf("sent %s", string(frame))
		return
	}

	log.Printf("connected! (press Ctrl+C to exit)")

	// Track last volume for change detection
	var (
		lastVolumeMu sync.Mutex
		lastVolume   *float64 // nil means no volume seen yet
	)

	// Message reading loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}

			switch messageType {
			case websocket.TextMessage:
				handleStateFrame(message, &lastVolumeMu, &lastVolume)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			case websocket.CloseMessage:
				fmt.Printf("[CLOSE]\n")
				return
			}
		}
	}()

	// Wait for shutdown signal or connection close
	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// stateFrame mirrors the daemon's outbound websocket envelope.
type stateFrame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// handleStateFrame processes incoming state frames
func handleStateFrame(message []byte, lastVolumeMu *sync.Mutex, lastVolume **float64) {
	var frame stateFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch frame.Type {
	case "volume_changed":
		handleVolumeChanged(frame.Data, lastVolumeMu, lastVolume)
	case "state_init", "page_changed", "button_changed":
		var pretty interface{}
		if err := json.Unmarshal(frame.Data, &pretty); err != nil {
			fmt.Printf("[%s] %s\n", frame.Type, string(frame.Data))
			return
		}
		prettyJSON, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("[%s]\n%s\n\n", frame.Type, string(prettyJSON))
	default:
		fmt.Printf("[%s] %s\n", frame.Type, string(frame.Data))
	}
}

// handleVolumeChanged tracks volume changes and only prints real ones
func handleVolumeChanged(data json.RawMessage, lastVolumeMu *sync.Mutex, lastVolume **float64) {
	var payload struct {
		Volume float64 `json:"volume"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		fmt.Printf("[volume_changed] %s\n", string(data))
		return
	}

	// Round to 2 decimal places to avoid spurious changes
	vol := math.Round(payload.Volume*100) / 100

	lastVolumeMu.Lock()
	changed := *lastVolume == nil || math.Abs(**lastVolume-vol) >= 0.01
	if changed {
		if *lastVolume == nil {
			v := vol
			*lastVolume = &v
		} else {
			**lastVolume = vol
		}
	}
	lastVolumeMu.Unlock()

	if changed {
		fmt.Printf("[VOLUME] %.0f%%\n", vol*100)
	}
}

// buildControlFrame turns a short command string into the daemon's
// inbound event envelope.
func buildControlFrame(arg string) ([]byte, error) {
	var verb, rest string
	if n, _ := fmt.Sscanf(arg, "%s %s", &verb, &rest); n < 1 {
		return nil, fmt.Errorf("empty command")
	}

	envelope := func(typ string, data interface{}) ([]byte, error) {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data,omitempty"`
		}{Type: typ, Data: payload})
	}

	switch verb {
	case "tap":
		var slot int
		if _, err := fmt.Sscanf(rest, "%d", &slot); err != nil {
			return nil, fmt.Errorf("tap needs a slot number: %w", err)
		}
		return envelope("button_up", map[string]int{"slot": slot})
	case "navigate":
		if rest == "" {
			return nil, fmt.Errorf("navigate needs a page id")
		}
		return envelope("navigate", map[string]string{"page": rest})
	case "back":
		return envelope("navigate_back", nil)
	case "volume":
		var vol float64
		if _, err := fmt.Sscanf(rest, "%f", &vol); err != nil {
			return nil, fmt.Errorf("volume needs a value in [0,1]: %w", err)
		}
		return envelope("set_master_volume", map[string]interface{}{"volume": vol, "origin": "noisedeck-watch"})
	case "reload":
		return envelope("reload", nil)
	default:
		return nil, fmt.Errorf("unknown command %q", verb)
	}
}
