package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
)

const (
	engineSampleRate = beep.SampleRate(48000)

	// Gain changes ramp over this duration to avoid clicks.
	volumeRampDuration = 50 * time.Millisecond

	resampleQuality = 4
)

// BeepEngine is the real playback backend on top of gopxl/beep. One speaker is
// initialized for the process; every playback instance is a decoder chained
// into a gain ramp and a beep.Ctrl, mixed by the shared speaker mixer.
//
// If the audio device cannot be opened the engine degrades to silent mode:
// construction succeeds, every Start reports DeviceUnavailable, and the daemon
// keeps running (navigation and rendering stay functional).
type BeepEngine struct {
	logger *slog.Logger
	events chan EngineEvent

	mu         sync.Mutex
	voices     map[Handle]*beepVoice
	nextHandle Handle
	master     float64
	silent     bool
	closed     bool

	pollInterval time.Duration
	stopPoll     chan struct{}
	pollDone     chan struct{}
}

// beepVoice is the per-handle playback chain. All fields behind the speaker
// lock unless noted.
type beepVoice struct {
	ctrl   *beep.Ctrl
	gain   *gainStreamer
	volume float64 // configured button volume, master-independent

	// closer releases the decoder and its file once the voice is retired.
	closer io.Closer

	sampleRate beep.SampleRate
	total      time.Duration

	announced bool // EnginePlaying emitted
	finishing bool // Stop requested; Finished is expected, not Failed
}

// NewBeepEngine initializes the speaker and starts the position poller.
func NewBeepEngine(logger *slog.Logger, masterVolume float64, pollInterval time.Duration) *BeepEngine {
	e := &BeepEngine{
		logger:       logger,
		events:       make(chan EngineEvent, engineEventBuf),
		voices:       make(map[Handle]*beepVoice),
		nextHandle:   1,
		master:       masterVolume,
		pollInterval: pollInterval,
		stopPoll:     make(chan struct{}),
		pollDone:     make(chan struct{}),
	}

	if err := speaker.Init(engineSampleRate, engineSampleRate.N(100*time.Millisecond)); err != nil {
		logger.Warn("audio device unavailable, continuing in silent mode", "error", err)
		e.silent = true
	}

	go e.pollLoop()
	return e
}

func (e *BeepEngine) Events() <-chan EngineEvent { return e.events }

// Start decodes the resource and attaches it to the speaker mixer.
// Exactly one decode attempt happens per call.
func (e *BeepEngine) Start(resource string, volume float64, fadeIn time.Duration) (Handle, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, engineErr(ErrDeviceUnavailable, fmt.Errorf("engine closed"))
	}
	if e.silent {
		e.mu.Unlock()
		return 0, engineErr(ErrDeviceUnavailable, fmt.Errorf("no audio device"))
	}
	h := e.nextHandle
	e.nextHandle++
	master := e.master
	e.mu.Unlock()

	f, err := os.Open(resource)
	if err != nil {
		return 0, engineErr(ErrResourceUnavailable, err)
	}

	streamer, format, err := decodeByExtension(resource, f)
	if err != nil {
		f.Close()
		return 0, engineErr(ErrDecodeFailed, err)
	}

	var total time.Duration
	if ss, ok := streamer.(beep.StreamSeeker); ok {
		total = format.SampleRate.D(ss.Len())
	}

	// The gain streamer runs upstream of the resampler, so ramp steps are
	// computed against the source rate.
	gain := newGainStreamer(streamer, volume*master, format.SampleRate)
	if fadeIn > 0 {
		gain.current = 0
		gain.rampTo(volume*master, fadeIn)
	}

	var src beep.Streamer = gain
	if format.SampleRate != engineSampleRate {
		src = beep.Resample(resampleQuality, format.SampleRate, engineSampleRate, gain)
	}

	voice := &beepVoice{
		gain:       gain,
		volume:     volume,
		closer:     streamer,
		sampleRate: format.SampleRate,
		total:      total,
	}
	voice.ctrl = &beep.Ctrl{Streamer: src}

	e.mu.Lock()
	e.voices[h] = voice
	e.mu.Unlock()

	speaker.Play(voice.ctrl)
	return h, nil
}

// Stop requests the handle to end. With a fade the gain ramps to silence and
// the voice ends itself once it gets there; without one it ends immediately.
func (e *BeepEngine) Stop(h Handle, fadeOut time.Duration) error {
	e.mu.Lock()
	voice, ok := e.voices[h]
	e.mu.Unlock()
	if !ok {
		return engineErr(ErrEngineInternal, fmt.Errorf("stop %d: %w", h, ErrUnknownHandle))
	}

	speaker.Lock()
	voice.finishing = true
	if fadeOut > 0 {
		voice.gain.fadeOut(fadeOut)
	} else {
		voice.gain.halt()
	}
	speaker.Unlock()
	return nil
}

// SetVolume ramps the handle gain to the new value.
func (e *BeepEngine) SetVolume(h Handle, volume float64) error {
	e.mu.Lock()
	voice, ok := e.voices[h]
	master := e.master
	e.mu.Unlock()
	if !ok {
		return engineErr(ErrEngineInternal, fmt.Errorf("set volume %d: %w", h, ErrUnknownHandle))
	}

	speaker.Lock()
	voice.volume = volume
	voice.gain.rampTo(volume*master, volumeRampDuration)
	speaker.Unlock()
	return nil
}

// SetMasterVolume re-ramps every live voice against the new master gain.
func (e *BeepEngine) SetMasterVolume(volume float64) error {
	e.mu.Lock()
	e.master = volume
	voices := make([]*beepVoice, 0, len(e.voices))
	for _, v := range e.voices {
		voices = append(voices, v)
	}
	e.mu.Unlock()

	speaker.Lock()
	for _, v := range voices {
		if !v.finishing {
			v.gain.rampTo(v.volume*volume, volumeRampDuration)
		}
	}
	speaker.Unlock()
	return nil
}

// Close stops the poller, silences all voices and closes the event channel.
func (e *BeepEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	voices := make([]*beepVoice, 0, len(e.voices))
	for _, v := range e.voices {
		voices = append(voices, v)
	}
	e.voices = make(map[Handle]*beepVoice)
	e.mu.Unlock()

	close(e.stopPoll)
	<-e.pollDone

	if !e.silent {
		speaker.Lock()
		for _, v := range voices {
			v.gain.halt()
		}
		speaker.Unlock()
		speaker.Clear()
	}
	for _, v := range voices {
		closeVoice(v, e.logger)
	}

	close(e.events)
	return nil
}

// closeVoice releases a retired voice's decoder and underlying file.
func closeVoice(v *beepVoice, logger *slog.Logger) {
	if v.closer == nil {
		return
	}
	if err := v.closer.Close(); err != nil {
		logger.Debug("failed to close decoder", "error", err)
	}
	v.closer = nil
}

// pollLoop mirrors the state-polling idiom of streaming audio backends: rather
// than emitting events from inside the realtime mixing callback, a poller
// samples voice state on a fixed cadence and publishes progress from its own
// goroutine. Blocking on a full event channel stalls only the poller.
func (e *BeepEngine) pollLoop() {
	defer close(e.pollDone)

	interval := e.pollInterval
	if interval <= 0 {
		interval = time.Duration(defaultPositionIntervalMS) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopPoll:
			return
		case <-ticker.C:
			for _, ev := range e.collect() {
				select {
				case e.events <- ev:
				case <-e.stopPoll:
					return
				}
			}
		}
	}
}

// collect snapshots all voices under the speaker lock and returns the events
// to publish. Finished/failed voices are dropped from the handle table.
func (e *BeepEngine) collect() []EngineEvent {
	e.mu.Lock()
	type entry struct {
		h Handle
		v *beepVoice
	}
	live := make([]entry, 0, len(e.voices))
	for h, v := range e.voices {
		live = append(live, entry{h, v})
	}
	e.mu.Unlock()

	if e.silent || len(live) == 0 {
		return nil
	}

	var out []EngineEvent
	var dead []entry

	speaker.Lock()
	for _, ent := range live {
		v := ent.v
		if v.gain.done {
			if err := v.gain.src.Err(); err != nil && !v.finishing {
				out = append(out, EngineFailed{Handle: ent.h, Err: engineErr(ErrDecodeFailed, err)})
			} else {
				out = append(out, EngineFinished{Handle: ent.h})
			}
			dead = append(dead, ent)
			continue
		}
		if !v.announced {
			v.announced = true
			out = append(out, EnginePlaying{Handle: ent.h})
		}
		out = append(out, EnginePosition{
			Handle:  ent.h,
			Elapsed: v.sampleRate.D(v.gain.streamed),
			Total:   v.total,
		})
	}
	speaker.Unlock()

	if len(dead) > 0 {
		e.mu.Lock()
		for _, ent := range dead {
			delete(e.voices, ent.h)
		}
		e.mu.Unlock()
		// Decoders hold the open file; release them outside the speaker lock.
		for _, ent := range dead {
			closeVoice(ent.v, e.logger)
		}
	}

	return out
}

// decodeByExtension picks the decoder from the file extension.
func decodeByExtension(resource string, f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(resource)) {
	case ".wav", ".wave":
		return wav.Decode(f)
	case ".mp3":
		return mp3.Decode(f)
	case ".flac":
		return flac.Decode(f)
	case ".ogg", ".oga":
		return vorbis.Decode(f)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", filepath.Ext(resource))
	}
}

// ============================================================================
// Gain ramp streamer
// ============================================================================

// gainStreamer applies a linearly ramped gain to its source. Ramping instead
// of stepping keeps volume changes and fades free of audible clicks. It also
// counts streamed samples for position reporting and ends the stream once a
// fade-out reaches silence.
//
// All fields are accessed under the speaker lock.
type gainStreamer struct {
	src beep.Streamer

	current float64
	target  float64
	step    float64 // per-sample gain delta while ramping

	endAtTarget bool // fade-out: end the stream when the ramp lands
	done        bool

	streamed int // samples delivered, at source rate

	sampleRate beep.SampleRate
}

func newGainStreamer(src beep.Streamer, gain float64, sr beep.SampleRate) *gainStreamer {
	return &gainStreamer{
		src:        src,
		current:    gain,
		target:     gain,
		sampleRate: sr,
	}
}

// rampTo ramps the gain to target over d.
func (g *gainStreamer) rampTo(target float64, d time.Duration) {
	g.target = target
	g.endAtTarget = false
	n := g.sampleRate.N(d)
	if n <= 0 {
		g.current = target
		g.step = 0
		return
	}
	g.step = (target - g.current) / float64(n)
}

// fadeOut ramps to silence and ends the stream on arrival.
func (g *gainStreamer) fadeOut(d time.Duration) {
	g.rampTo(0, d)
	g.endAtTarget = true
	if g.step == 0 {
		g.done = true
	}
}

// halt ends the stream immediately.
func (g *gainStreamer) halt() {
	g.done = true
}

func (g *gainStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if g.done {
		return 0, false
	}

	n, ok = g.src.Stream(samples)
	for i := range samples[:n] {
		if g.step != 0 {
			g.current += g.step
			if (g.step > 0 && g.current >= g.target) || (g.step < 0 && g.current <= g.target) {
				g.current = g.target
				g.step = 0
				if g.endAtTarget {
					g.done = true
				}
			}
		}
		samples[i][0] *= g.current
		samples[i][1] *= g.current
		if g.done {
			n = i + 1
			ok = true
			break
		}
	}
	g.streamed += n

	if !ok {
		g.done = true
	}
	return n, ok
}

func (g *gainStreamer) Err() error {
	return g.src.Err()
}
