package main

import (
	"errors"
	"testing"
	"time"
)

// testDeck builds a small two-page layout exercised by the reducer tests:
//
//	main: 0 toggle, 1 overlap, 2 loop, 3 navigate->sfx, 4 toggle with fade-out
//	sfx:  0 back, 1 toggle
func testDeck() *DeckConfig {
	return &DeckConfig{
		StartPage: "main",
		Pages: map[PageID]*Page{
			"main": {
				ID:    "main",
				Label: "Main",
				Buttons: map[int]*Button{
					0: {Label: "Horn", Sound: &SoundSpec{Resource: "/srv/horn.wav", Mode: ModeToggle, Volume: 1.0}},
					1: {Label: "Clap", Sound: &SoundSpec{Resource: "/srv/clap.wav", Mode: ModeOverlap, Volume: 1.0}},
					2: {Label: "Rain", Sound: &SoundSpec{Resource: "/srv/rain.ogg", Mode: ModeLoop, Volume: 0.8}},
					3: {Label: "SFX", Navigate: &NavigateAction{Target: "sfx"}},
					4: {Label: "Pad", Sound: &SoundSpec{Resource: "/srv/pad.flac", Mode: ModeToggle, FadeOut: 200 * time.Millisecond, Volume: 1.0}},
				},
			},
			"sfx": {
				ID:    "sfx",
				Label: "SFX",
				Buttons: map[int]*Button{
					0: {Label: "Back", Navigate: &NavigateAction{Back: true}},
					1: {Label: "Boo", Sound: &SoundSpec{Resource: "/srv/boo.mp3", Mode: ModeToggle, Volume: 1.0}},
				},
			},
		},
	}
}

var testRcfg = ReducerConfig{ConfigPath: "/tmp/noisedeck-test.yaml"}

func tap(t *testing.T, s *DeckState, slot int, at time.Time) ReduceResult {
	t.Helper()
	return Reduce(s, TimedEvent{Event: ButtonUp{Slot: slot}, At: at}, testRcfg)
}

func countStarts(cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if _, ok := c.(CmdStartSound); ok {
			n++
		}
	}
	return n
}

func countStops(cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if _, ok := c.(CmdStopSound); ok {
			n++
		}
	}
	return n
}

func TestReduce_ToggleTwice_OneStartOneStop(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 0}

	rr := tap(t, s, 0, t0)
	if got := countStarts(rr.Commands); got != 1 {
		t.Fatalf("expected 1 start on first tap, got %d", got)
	}
	if s.Active[key] == nil || s.Active[key].Phase != PhaseStarting {
		t.Fatalf("expected button in Starting after first tap")
	}

	rr = Reduce(s, StartIssued{Key: key, Handle: 7, At: t0}, testRcfg)
	if len(rr.Commands) != 0 {
		t.Fatalf("expected no commands on StartIssued, got %d", len(rr.Commands))
	}
	Reduce(s, PlaybackStarted{Handle: 7, At: t0.Add(20 * time.Millisecond)}, testRcfg)
	if s.Active[key].Phase != PhasePlaying {
		t.Fatalf("expected Playing after engine confirmation, got %v", s.Active[key].Phase)
	}

	rr = tap(t, s, 0, t0.Add(time.Second))
	if got := countStops(rr.Commands); got != 1 {
		t.Fatalf("expected 1 stop on second tap, got %d", got)
	}
	if got := countStarts(rr.Commands); got != 0 {
		t.Fatalf("expected no start on second tap, got %d", got)
	}
	// No fade configured: the button is idle immediately.
	if s.Active[key] != nil {
		t.Fatalf("expected button idle after second tap")
	}
	if len(s.ByHandle) != 0 {
		t.Fatalf("expected no live handle mappings, got %d", len(s.ByHandle))
	}
}

func TestReduce_PressDuringStarting_QueuesToggle(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 0}

	tap(t, s, 0, t0)

	// The engine has not confirmed yet; the second press must not race a
	// second start against the first.
	rr := tap(t, s, 0, t0.Add(10*time.Millisecond))
	if len(rr.Commands) != 0 {
		t.Fatalf("expected no commands for press during Starting, got %d", len(rr.Commands))
	}
	if !s.Active[key].PendingToggle {
		t.Fatalf("expected pending toggle to be queued")
	}

	Reduce(s, StartIssued{Key: key, Handle: 3, At: t0}, testRcfg)
	rr = Reduce(s, PlaybackStarted{Handle: 3, At: t0.Add(30 * time.Millisecond)}, testRcfg)
	if got := countStops(rr.Commands); got != 1 {
		t.Fatalf("expected queued toggle to stop playback on confirmation, got %d stops", got)
	}
	if s.Active[key] != nil {
		t.Fatalf("expected button idle after resolved pending toggle")
	}
}

func TestReduce_PressDuringStartingTwice_CancelsOut(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 0}

	tap(t, s, 0, t0)
	tap(t, s, 0, t0.Add(5*time.Millisecond))
	tap(t, s, 0, t0.Add(10*time.Millisecond))
	if s.Active[key].PendingToggle {
		t.Fatalf("expected two queued presses to cancel out")
	}

	Reduce(s, StartIssued{Key: key, Handle: 3, At: t0}, testRcfg)
	rr := Reduce(s, PlaybackStarted{Handle: 3, At: t0.Add(30 * time.Millisecond)}, testRcfg)
	if got := countStops(rr.Commands); got != 0 {
		t.Fatalf("expected playback to continue, got %d stops", got)
	}
	if s.Active[key] == nil || s.Active[key].Phase != PhasePlaying {
		t.Fatalf("expected button still Playing")
	}
}

func TestReduce_Overlap_ThreeStartsNoStops(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 1}

	starts, stops := 0, 0
	for i := 0; i < 3; i++ {
		rr := tap(t, s, 1, t0.Add(time.Duration(i)*100*time.Millisecond))
		starts += countStarts(rr.Commands)
		stops += countStops(rr.Commands)
		Reduce(s, StartIssued{Key: key, Handle: Handle(i + 1), At: t0}, testRcfg)
		Reduce(s, PlaybackStarted{Handle: Handle(i + 1), At: t0}, testRcfg)
	}

	if starts != 3 {
		t.Fatalf("expected 3 starts, got %d", starts)
	}
	if stops != 0 {
		t.Fatalf("expected 0 stops, got %d", stops)
	}
	if got := s.Active[key].Instances; got != 3 {
		t.Fatalf("expected 3 live instances, got %d", got)
	}
	if got := len(s.ByHandle); got != 3 {
		t.Fatalf("expected 3 handle mappings, got %d", got)
	}

	// Completions retire instances one by one.
	for i := 0; i < 3; i++ {
		Reduce(s, PlaybackFinished{Handle: Handle(i + 1), At: t0.Add(time.Second)}, testRcfg)
	}
	if s.Active[key] != nil {
		t.Fatalf("expected button idle after all instances finished")
	}
	if len(s.ByHandle) != 0 {
		t.Fatalf("expected no stale handle mappings, got %d", len(s.ByHandle))
	}
}

func TestReduce_LoopRestartsOnFinished(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 2}

	tap(t, s, 2, t0)
	Reduce(s, StartIssued{Key: key, Handle: 9, At: t0}, testRcfg)
	Reduce(s, PlaybackStarted{Handle: 9, At: t0}, testRcfg)

	rr := Reduce(s, PlaybackFinished{Handle: 9, At: t0.Add(3 * time.Second)}, testRcfg)
	if got := countStarts(rr.Commands); got != 1 {
		t.Fatalf("expected loop to restart on completion, got %d starts", got)
	}
	if got := countStops(rr.Commands); got != 0 {
		t.Fatalf("expected no stops on loop restart, got %d", got)
	}
	if s.Active[key] == nil || s.Active[key].Phase != PhasePlaying {
		t.Fatalf("expected loop button to remain in Playing across the restart")
	}

	// New handle attaches; a tap now stops the loop for good.
	Reduce(s, StartIssued{Key: key, Handle: 10, At: t0}, testRcfg)
	Reduce(s, PlaybackStarted{Handle: 10, At: t0}, testRcfg)
	rr = tap(t, s, 2, t0.Add(5*time.Second))
	if got := countStops(rr.Commands); got != 1 {
		t.Fatalf("expected tap to stop the loop, got %d stops", got)
	}
	if s.Active[key] != nil {
		t.Fatalf("expected loop button idle after stop")
	}
}

func TestReduce_LoopStopDuringRestartGap(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 2}

	tap(t, s, 2, t0)
	Reduce(s, StartIssued{Key: key, Handle: 9, At: t0}, testRcfg)
	Reduce(s, PlaybackStarted{Handle: 9, At: t0}, testRcfg)
	Reduce(s, PlaybackFinished{Handle: 9, At: t0.Add(time.Second)}, testRcfg)

	// Restart start is in flight (no handle yet); the press queues.
	rr := tap(t, s, 2, t0.Add(time.Second))
	if len(rr.Commands) != 0 {
		t.Fatalf("expected press during restart gap to queue, got %d commands", len(rr.Commands))
	}

	Reduce(s, StartIssued{Key: key, Handle: 10, At: t0}, testRcfg)
	rr = Reduce(s, PlaybackStarted{Handle: 10, At: t0.Add(1100 * time.Millisecond)}, testRcfg)
	if got := countStops(rr.Commands); got != 1 {
		t.Fatalf("expected queued press to stop the restarted loop, got %d stops", got)
	}
	if s.Active[key] != nil {
		t.Fatalf("expected loop button idle")
	}
}

func TestReduce_NavigateRendersFullPage(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()

	rr := tap(t, s, 3, t0)
	if s.Page != "sfx" {
		t.Fatalf("expected current page sfx, got %s", s.Page)
	}
	if len(rr.Commands) != 1 {
		t.Fatalf("expected exactly 1 command on navigation, got %d", len(rr.Commands))
	}
	page, ok := rr.Commands[0].(CmdRenderPage)
	if !ok {
		t.Fatalf("expected CmdRenderPage, got %T", rr.Commands[0])
	}
	if page.View.Page != "sfx" {
		t.Fatalf("expected render of page sfx, got %s", page.View.Page)
	}
	if len(rr.Broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast on navigation, got %d", len(rr.Broadcasts))
	}
	if _, ok := rr.Broadcasts[0].(BroadcastPageChanged); !ok {
		t.Fatalf("expected BroadcastPageChanged, got %T", rr.Broadcasts[0])
	}

	// The back button pops to main.
	rr = tap(t, s, 0, t0.Add(time.Second))
	if s.Page != "main" {
		t.Fatalf("expected back to main, got %s", s.Page)
	}
	page, ok = rr.Commands[0].(CmdRenderPage)
	if !ok || page.View.Page != "main" {
		t.Fatalf("expected full render of main after back")
	}
}

func TestReduce_NavigateBackOnRoot_NoOp(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	rr := Reduce(s, TimedEvent{Event: NavigateBack{}, At: time.Unix(1000, 0)}, testRcfg)
	if len(rr.Commands) != 0 || len(rr.Broadcasts) != 0 {
		t.Fatalf("expected back on root page to do nothing")
	}
	if s.Page != "main" {
		t.Fatalf("expected page unchanged, got %s", s.Page)
	}
}

func TestReduce_StartFailed_MarksButtonAndRecovers(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 0}

	tap(t, s, 0, t0)
	rr := Reduce(s, StartFailed{Key: key, Err: errors.New("no such file"), At: t0}, testRcfg)

	if s.Active[key] != nil {
		t.Fatalf("expected button forced idle on start failure")
	}
	if !s.FailedButtons[key] {
		t.Fatalf("expected sticky failure indicator")
	}
	render, ok := rr.Commands[0].(CmdRenderButton)
	if !ok || !render.View.Failed {
		t.Fatalf("expected failed render, got %+v", rr.Commands)
	}

	// The daemon keeps processing; the next press issues a fresh start and
	// clears the failure indicator.
	rr = tap(t, s, 0, t0.Add(time.Second))
	if got := countStarts(rr.Commands); got != 1 {
		t.Fatalf("expected retry start after failure, got %d", got)
	}
	if s.FailedButtons[key] {
		t.Fatalf("expected failure indicator cleared on retry")
	}
}

func TestReduce_PlaybackFailed_ForcesIdle(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 0}

	tap(t, s, 0, t0)
	Reduce(s, StartIssued{Key: key, Handle: 4, At: t0}, testRcfg)
	Reduce(s, PlaybackStarted{Handle: 4, At: t0}, testRcfg)

	Reduce(s, PlaybackFailed{Handle: 4, Err: errors.New("decode error"), At: t0.Add(time.Second)}, testRcfg)
	if s.Active[key] != nil {
		t.Fatalf("expected button idle after playback failure")
	}
	if !s.FailedButtons[key] {
		t.Fatalf("expected failure indicator set")
	}
	if len(s.ByHandle) != 0 {
		t.Fatalf("expected handle mapping cleaned up")
	}
}

func TestReduce_FinishedForUnknownHandle_Idempotent(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	rr := Reduce(s, PlaybackFinished{Handle: 99, At: time.Unix(1000, 0)}, testRcfg)
	if len(rr.Commands) != 0 || len(rr.Broadcasts) != 0 {
		t.Fatalf("expected Finished for unknown handle to be a no-op")
	}
}

func TestReduce_FadeOutDeadline_ForcesIdle(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 4}

	tap(t, s, 4, t0)
	Reduce(s, StartIssued{Key: key, Handle: 5, At: t0}, testRcfg)
	Reduce(s, PlaybackStarted{Handle: 5, At: t0}, testRcfg)

	rr := tap(t, s, 4, t0.Add(time.Second))
	stop, ok := rr.Commands[0].(CmdStopSound)
	if !ok {
		t.Fatalf("expected CmdStopSound, got %T", rr.Commands[0])
	}
	if stop.FadeOut != 200*time.Millisecond {
		t.Fatalf("expected fade-out 200ms, got %s", stop.FadeOut)
	}
	if s.Active[key].Phase != PhaseFadingOut {
		t.Fatalf("expected FadingOut, got %v", s.Active[key].Phase)
	}

	// Before the deadline nothing happens.
	Reduce(s, Tick{Now: t0.Add(1100 * time.Millisecond)}, testRcfg)
	if s.Active[key] == nil {
		t.Fatalf("expected button still fading before deadline")
	}

	// The engine never reported Finished; the deadline forces Idle.
	Reduce(s, Tick{Now: t0.Add(1300 * time.Millisecond)}, testRcfg)
	if s.Active[key] != nil {
		t.Fatalf("expected button idle after fade deadline")
	}
}

func TestReduce_PressWhileFadingOut_NoSecondStop(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 4}

	tap(t, s, 4, t0)
	Reduce(s, StartIssued{Key: key, Handle: 5, At: t0}, testRcfg)
	Reduce(s, PlaybackStarted{Handle: 5, At: t0}, testRcfg)
	tap(t, s, 4, t0.Add(time.Second))

	rr := tap(t, s, 4, t0.Add(1050*time.Millisecond))
	if len(rr.Commands) != 0 {
		t.Fatalf("expected press while fading to be absorbed, got %d commands", len(rr.Commands))
	}
}

func TestReduce_MasterVolume_ClampAndBroadcast(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()

	rr := Reduce(s, TimedEvent{Event: SetMasterVolume{Volume: 0.5, Origin: "ipc"}, At: t0}, testRcfg)
	if s.MasterVolume != 0.5 {
		t.Fatalf("expected master volume 0.5, got %v", s.MasterVolume)
	}
	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	if _, ok := rr.Commands[0].(CmdSetMasterVolume); !ok {
		t.Fatalf("expected CmdSetMasterVolume, got %T", rr.Commands[0])
	}
	if len(rr.Broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(rr.Broadcasts))
	}
	bc, ok := rr.Broadcasts[0].(BroadcastVolumeChanged)
	if !ok || bc.Volume != 0.5 {
		t.Fatalf("expected volume broadcast 0.5, got %+v", rr.Broadcasts[0])
	}

	// Same rounded value again: command yes, broadcast no.
	rr = Reduce(s, TimedEvent{Event: SetMasterVolume{Volume: 0.501, Origin: "ipc"}, At: t0}, testRcfg)
	if len(rr.Broadcasts) != 0 {
		t.Fatalf("expected no broadcast when rounded volume unchanged, got %d", len(rr.Broadcasts))
	}

	// Steps clamp at the bounds.
	Reduce(s, TimedEvent{Event: MasterVolumeStep{Delta: 0.9}, At: t0}, testRcfg)
	if s.MasterVolume != 1.0 {
		t.Fatalf("expected clamp at 1.0, got %v", s.MasterVolume)
	}
	Reduce(s, TimedEvent{Event: MasterVolumeStep{Delta: -2.0}, At: t0}, testRcfg)
	if s.MasterVolume != 0.0 {
		t.Fatalf("expected clamp at 0.0, got %v", s.MasterVolume)
	}
}

func TestReduce_ButtonDown_NoOp(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	rr := Reduce(s, TimedEvent{Event: ButtonDown{Slot: 0}, At: time.Unix(1000, 0)}, testRcfg)
	if len(rr.Commands) != 0 || len(rr.Broadcasts) != 0 {
		t.Fatalf("expected ButtonDown to change nothing")
	}
	if len(s.Active) != 0 {
		t.Fatalf("expected no active playback after ButtonDown")
	}
}

func TestReduce_ReloadRequested_EmitsLoadConfig(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	rr := Reduce(s, TimedEvent{Event: ReloadRequested{}, At: time.Unix(1000, 0)}, testRcfg)
	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	load, ok := rr.Commands[0].(CmdLoadConfig)
	if !ok {
		t.Fatalf("expected CmdLoadConfig, got %T", rr.Commands[0])
	}
	if load.Path != testRcfg.ConfigPath {
		t.Fatalf("expected config path %q, got %q", testRcfg.ConfigPath, load.Path)
	}
}

func TestReduce_ConfigLoaded_StopsAllAndRerenders(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 0}

	tap(t, s, 0, t0)
	Reduce(s, StartIssued{Key: key, Handle: 6, At: t0}, testRcfg)
	Reduce(s, PlaybackStarted{Handle: 6, At: t0}, testRcfg)
	s.MasterVolume = 0.7

	newDeck := testDeck()
	rr := Reduce(s, ConfigLoaded{Deck: newDeck, At: t0.Add(time.Minute)}, testRcfg)

	if got := countStops(rr.Commands); got != 1 {
		t.Fatalf("expected live handle stopped on reload, got %d stops", got)
	}
	foundRender := false
	for _, c := range rr.Commands {
		if page, ok := c.(CmdRenderPage); ok {
			foundRender = true
			if page.View.Page != "main" {
				t.Fatalf("expected start page render, got %s", page.View.Page)
			}
		}
	}
	if !foundRender {
		t.Fatalf("expected full page render after reload")
	}
	if len(s.Active) != 0 || len(s.ByHandle) != 0 {
		t.Fatalf("expected runtime playback state cleared")
	}
	if s.Deck != newDeck {
		t.Fatalf("expected new deck installed")
	}
	if s.MasterVolume != 0.7 {
		t.Fatalf("expected master volume to survive reload, got %v", s.MasterVolume)
	}
}

func TestReduce_ConfigLoadFailed_KeepsLayout(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	oldDeck := s.Deck
	rr := Reduce(s, ConfigLoadFailed{Err: errors.New("yaml: bad"), At: time.Unix(1000, 0)}, testRcfg)
	if len(rr.Commands) != 0 {
		t.Fatalf("expected no commands on failed reload, got %d", len(rr.Commands))
	}
	if s.Deck != oldDeck {
		t.Fatalf("expected running layout kept")
	}
}

func TestReduce_PositionUpdatesCountdownRender(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 0}

	tap(t, s, 0, t0)
	Reduce(s, StartIssued{Key: key, Handle: 8, At: t0}, testRcfg)
	Reduce(s, PlaybackStarted{Handle: 8, At: t0}, testRcfg)

	rr := Reduce(s, PlaybackPosition{Handle: 8, Elapsed: 2 * time.Second, Total: 10 * time.Second, At: t0.Add(2 * time.Second)}, testRcfg)
	render, ok := rr.Commands[0].(CmdRenderButton)
	if !ok {
		t.Fatalf("expected CmdRenderButton, got %T", rr.Commands[0])
	}
	if render.View.Remaining != 8*time.Second {
		t.Fatalf("expected 8s remaining, got %v", render.View.Remaining)
	}

	// Off-page buttons do not render.
	tap(t, s, 3, t0.Add(3*time.Second)) // navigate to sfx
	rr = Reduce(s, PlaybackPosition{Handle: 8, Elapsed: 4 * time.Second, Total: 10 * time.Second, At: t0.Add(4 * time.Second)}, testRcfg)
	if len(rr.Commands) != 0 {
		t.Fatalf("expected no render for off-page button, got %d commands", len(rr.Commands))
	}
}

func TestReduce_Degraded_RejectsStartsAllowsStops(t *testing.T) {
	s := NewDeckState(testDeck(), 1.0)
	t0 := time.Unix(1000, 0).UTC()
	key := ButtonKey{Page: "main", Slot: 0}

	tap(t, s, 0, t0)
	Reduce(s, StartIssued{Key: key, Handle: 2, At: t0}, testRcfg)
	Reduce(s, PlaybackStarted{Handle: 2, At: t0}, testRcfg)

	s.Degraded = true

	rr := tap(t, s, 1, t0.Add(time.Second))
	if got := countStarts(rr.Commands); got != 0 {
		t.Fatalf("expected degraded mode to reject new starts, got %d", got)
	}

	rr = tap(t, s, 0, t0.Add(2*time.Second))
	if got := countStops(rr.Commands); got != 1 {
		t.Fatalf("expected degraded mode to still stop playback, got %d stops", got)
	}
}
