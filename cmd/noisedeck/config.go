package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the noisedeck daemon.
//
// The config file is the primary configuration surface; flags exist for small
// overrides. Keep defaults and validation centralized so the rest of the code
// can assume a well-formed config.
type Config struct {
	// Input device configuration (evdev button devices)
	Input InputConfig `yaml:"input"`

	// Audio playback configuration
	Audio AudioConfig `yaml:"audio"`

	// IPC configuration (unix socket event injection)
	IPC IPCConfig `yaml:"ipc"`

	// State websocket configuration (UI / virtual deck clients)
	StateWS StateWSConfig `yaml:"state_ws"`

	// Supervisor behavior
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Deck is the page/button layout driven by the orchestrator.
	Deck DeckFileConfig `yaml:"deck"`
}

type InputConfig struct {
	// Devices lists Linux input event devices to monitor for button presses.
	// Empty means "no physical input"; taps still arrive via IPC and websocket.
	Devices []string `yaml:"devices,omitempty"`

	// Keys maps slot index -> evdev key code. When empty, slots 0..11 map to
	// KEY_F13..KEY_F24, which is what most macro keypads emit out of the box.
	Keys []int `yaml:"keys,omitempty"`

	RetryLimit     int `yaml:"retry_limit"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
}

type AudioConfig struct {
	// Path is prepended to every relative sound resource in the deck layout.
	Path string `yaml:"path"`

	// CheckPaths verifies at load time that every sound resource is a readable
	// file. Missing files are reported but do not fail the load; the button
	// will surface the error when pressed.
	CheckPaths bool `yaml:"check_paths"`

	MasterVolume float64 `yaml:"master_volume"`

	// UpdateHz is the tick cadence driving fade deadlines and countdown renders.
	UpdateHz int `yaml:"update_hz"`

	// PositionIntervalMS throttles per-handle position reports from the engine.
	PositionIntervalMS int `yaml:"position_interval_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	// Addr is the HTTP listen address for the state websocket (empty disables it).
	Addr string `yaml:"addr"`
}

type SupervisorConfig struct {
	// StepFailureBudget is the number of consecutive orchestrator step failures
	// tolerated before the daemon enters degraded mode.
	StepFailureBudget int `yaml:"step_failure_budget"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ============================================================================
// Deck layout (file representation)
// ============================================================================

// DeckFileConfig is the user-facing deck layout as represented in YAML.
// It is compiled into the immutable runtime DeckConfig by Compile().
type DeckFileConfig struct {
	StartPage string           `yaml:"start_page"`
	Pages     []PageFileConfig `yaml:"pages"`
}

type PageFileConfig struct {
	ID      string             `yaml:"id"`
	Label   string             `yaml:"label"`
	Buttons []ButtonFileConfig `yaml:"buttons"`
}

// ButtonFileConfig holds exactly one behavior: navigate, back, or sound.
type ButtonFileConfig struct {
	Slot  int    `yaml:"slot"`
	Label string `yaml:"label"`
	Icon  string `yaml:"icon,omitempty"`

	Navigate string           `yaml:"navigate,omitempty"`
	Back     bool             `yaml:"back,omitempty"`
	Sound    *SoundFileConfig `yaml:"sound,omitempty"`
}

type SoundFileConfig struct {
	Resource  string `yaml:"resource"`
	Mode      string `yaml:"mode,omitempty"` // toggle (default), overlap, loop
	FadeInMS  int    `yaml:"fade_in_ms,omitempty"`
	FadeOutMS int    `yaml:"fade_out_ms,omitempty"`

	// Volume is 0..1 and defaults to 1.0 when absent. A pointer so an
	// explicit zero (a muted button) survives decoding.
	Volume *float64 `yaml:"volume,omitempty"`
}

// ============================================================================
// Deck layout (runtime representation)
// ============================================================================

// PageID identifies a page in the deck layout.
type PageID string

// PlaybackMode selects how repeated presses of a sound button behave.
type PlaybackMode string

const (
	ModeToggle  PlaybackMode = "toggle"
	ModeOverlap PlaybackMode = "overlap"
	ModeLoop    PlaybackMode = "loop"
)

// Loops reports whether the mode restarts playback on completion.
func (m PlaybackMode) Loops() bool { return m == ModeLoop }

// Overlaps reports whether every press starts an independent playback instance.
func (m PlaybackMode) Overlaps() bool { return m == ModeOverlap }

// SoundSpec describes what a sound button plays.
type SoundSpec struct {
	Resource string
	Mode     PlaybackMode
	FadeIn   time.Duration
	FadeOut  time.Duration
	Volume   float64
}

// NavigateAction describes a page-change button.
type NavigateAction struct {
	Target PageID
	Back   bool
}

// Button is one slot of a page. Exactly one of Navigate or Sound is set.
type Button struct {
	Label    string
	Icon     string
	Navigate *NavigateAction
	Sound    *SoundSpec
}

// Page is one screen of buttons, keyed by slot index.
type Page struct {
	ID      PageID
	Label   string
	Buttons map[int]*Button
}

// DeckConfig is the immutable runtime deck layout. It is shared read-only by
// the orchestrator, the renderer and the state websocket; a reload builds a
// fresh DeckConfig and swaps it wholesale, never mutating in place.
type DeckConfig struct {
	Pages     map[PageID]*Page
	StartPage PageID
}

// PageFor returns the page with the given id, or nil.
func (d *DeckConfig) PageFor(id PageID) *Page {
	if d == nil {
		return nil
	}
	return d.Pages[id]
}

// ButtonAt returns the button at (page, slot), or nil.
func (d *DeckConfig) ButtonAt(page PageID, slot int) *Button {
	p := d.PageFor(page)
	if p == nil {
		return nil
	}
	return p.Buttons[slot]
}

// ============================================================================
// Defaults, load, compile, validate
// ============================================================================

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			RetryLimit:     defaultInputRetryLimit,
			RetryBackoffMS: defaultInputRetryBackoffMS,
		},
		Audio: AudioConfig{
			MasterVolume:       defaultMasterVolume,
			UpdateHz:           defaultUpdateHz,
			PositionIntervalMS: defaultPositionIntervalMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		StateWS: StateWSConfig{
			Addr: defaultStateWSAddr,
		},
		Supervisor: SupervisorConfig{
			StepFailureBudget: defaultStepFailureBudget,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed
	// after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// Validate checks daemon-level config invariants and returns a user-friendly
// error. Deck layout validation happens in Compile().
func (c *Config) Validate() error {
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	if c.Input.RetryLimit < 0 {
		return errors.New("input.retry_limit must be >= 0")
	}
	if c.Input.RetryBackoffMS < 0 {
		return errors.New("input.retry_backoff_ms must be >= 0")
	}

	if c.Audio.MasterVolume < 0 || c.Audio.MasterVolume > 1 {
		return errors.New("audio.master_volume must be between 0 and 1")
	}
	if c.Audio.UpdateHz <= 0 || c.Audio.UpdateHz > 1000 {
		return errors.New("audio.update_hz must be between 1 and 1000")
	}
	if c.Audio.PositionIntervalMS < 0 {
		return errors.New("audio.position_interval_ms must be >= 0")
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.Supervisor.StepFailureBudget <= 0 {
		return errors.New("supervisor.step_failure_budget must be > 0")
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// SlotForKeyCode maps an evdev key code to a deck slot index, honoring the
// configured key map. Returns (slot, true) when the code is mapped.
func (c *Config) SlotForKeyCode(code uint16) (int, bool) {
	if len(c.Input.Keys) > 0 {
		for slot, k := range c.Input.Keys {
			if uint16(k) == code {
				return slot, true
			}
		}
		return 0, false
	}
	if code >= KEY_F13 && code <= KEY_F24 {
		return int(code - KEY_F13), true
	}
	return 0, false
}

// Compile turns the file-level deck layout into the immutable runtime
// DeckConfig. All layout errors are detected here, at load time; the
// orchestrator never re-validates page or button references.
//
// Sound resources are rebased against audio.path. With audio.check_paths set,
// each resource is stat'ed and problems are reported through report (the button
// still loads; a missing file surfaces as a playback failure when pressed).
func (c *Config) Compile(report func(resource string, err error)) (*DeckConfig, error) {
	if len(c.Deck.Pages) == 0 {
		return nil, errors.New("deck.pages must not be empty")
	}
	if c.Deck.StartPage == "" {
		return nil, errors.New("deck.start_page must not be empty")
	}

	deck := &DeckConfig{
		Pages:     make(map[PageID]*Page, len(c.Deck.Pages)),
		StartPage: PageID(c.Deck.StartPage),
	}

	for _, pc := range c.Deck.Pages {
		if pc.ID == "" {
			return nil, errors.New("deck page without id")
		}
		id := PageID(pc.ID)
		if _, dup := deck.Pages[id]; dup {
			return nil, fmt.Errorf("duplicate deck page id %q", pc.ID)
		}

		page := &Page{
			ID:      id,
			Label:   pc.Label,
			Buttons: make(map[int]*Button, len(pc.Buttons)),
		}

		for _, bc := range pc.Buttons {
			if bc.Slot < 0 {
				return nil, fmt.Errorf("page %q: negative slot %d", pc.ID, bc.Slot)
			}
			if _, dup := page.Buttons[bc.Slot]; dup {
				return nil, fmt.Errorf("page %q: duplicate slot %d", pc.ID, bc.Slot)
			}

			btn, err := c.compileButton(pc.ID, bc, report)
			if err != nil {
				return nil, err
			}
			page.Buttons[bc.Slot] = btn
		}

		deck.Pages[id] = page
	}

	if _, ok := deck.Pages[deck.StartPage]; !ok {
		return nil, fmt.Errorf("deck.start_page %q does not exist", c.Deck.StartPage)
	}

	// Navigation targets can only be checked once all pages are known.
	for _, page := range deck.Pages {
		for slot, btn := range page.Buttons {
			if btn.Navigate != nil && !btn.Navigate.Back {
				if _, ok := deck.Pages[btn.Navigate.Target]; !ok {
					return nil, fmt.Errorf("page %q slot %d: navigate target %q does not exist",
						page.ID, slot, btn.Navigate.Target)
				}
			}
		}
	}

	return deck, nil
}

func (c *Config) compileButton(pageID string, bc ButtonFileConfig, report func(string, error)) (*Button, error) {
	behaviors := 0
	if bc.Navigate != "" {
		behaviors++
	}
	if bc.Back {
		behaviors++
	}
	if bc.Sound != nil {
		behaviors++
	}
	if behaviors != 1 {
		return nil, fmt.Errorf("page %q slot %d: exactly one of navigate, back or sound is required",
			pageID, bc.Slot)
	}

	btn := &Button{Label: bc.Label, Icon: bc.Icon}

	switch {
	case bc.Back:
		btn.Navigate = &NavigateAction{Back: true}
	case bc.Navigate != "":
		btn.Navigate = &NavigateAction{Target: PageID(bc.Navigate)}
	default:
		spec, err := c.compileSound(pageID, bc, report)
		if err != nil {
			return nil, err
		}
		btn.Sound = spec
	}

	return btn, nil
}

func (c *Config) compileSound(pageID string, bc ButtonFileConfig, report func(string, error)) (*SoundSpec, error) {
	sc := bc.Sound
	if sc.Resource == "" {
		return nil, fmt.Errorf("page %q slot %d: sound.resource must not be empty", pageID, bc.Slot)
	}

	mode := PlaybackMode(sc.Mode)
	switch mode {
	case "":
		mode = ModeToggle
	case ModeToggle, ModeOverlap, ModeLoop:
	default:
		return nil, fmt.Errorf("page %q slot %d: unknown sound.mode %q", pageID, bc.Slot, sc.Mode)
	}

	if sc.FadeInMS < 0 || sc.FadeOutMS < 0 {
		return nil, fmt.Errorf("page %q slot %d: fade durations must be >= 0", pageID, bc.Slot)
	}

	vol := 1.0
	if sc.Volume != nil {
		vol = *sc.Volume
	}
	if vol < 0 || vol > 1 {
		return nil, fmt.Errorf("page %q slot %d: sound.volume must be between 0 and 1", pageID, bc.Slot)
	}

	resource := sc.Resource
	if c.Audio.Path != "" && !filepath.IsAbs(resource) {
		resource = filepath.Join(ExpandPath(c.Audio.Path), resource)
	}

	if c.Audio.CheckPaths && report != nil {
		if fi, err := os.Stat(resource); err != nil {
			report(resource, err)
		} else if fi.IsDir() {
			report(resource, fmt.Errorf("is a directory"))
		}
	}

	return &SoundSpec{
		Resource: resource,
		Mode:     mode,
		FadeIn:   time.Duration(sc.FadeInMS) * time.Millisecond,
		FadeOut:  time.Duration(sc.FadeOutMS) * time.Millisecond,
		Volume:   vol,
	}, nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
// This is handy for config values like audio.path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
