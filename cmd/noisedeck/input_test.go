package main

import "testing"

func TestTranslateInput(t *testing.T) {
	cfg := DefaultConfig()

	press := func(code uint16, value int32) inputEvent {
		return inputEvent{Type: EV_KEY, Code: code, Value: value}
	}

	ev, ok := translateInput(&cfg, press(KEY_F13, evValuePress))
	if !ok {
		t.Fatalf("expected F13 press to translate")
	}
	if down, isDown := ev.(ButtonDown); !isDown || down.Slot != 0 {
		t.Fatalf("expected ButtonDown slot 0, got %#v", ev)
	}

	ev, ok = translateInput(&cfg, press(KEY_F13+1, evValueRelease))
	if !ok {
		t.Fatalf("expected F14 release to translate")
	}
	if up, isUp := ev.(ButtonUp); !isUp || up.Slot != 1 {
		t.Fatalf("expected ButtonUp slot 1, got %#v", ev)
	}

	// Key repeat on deck buttons is dropped.
	if _, ok := translateInput(&cfg, press(KEY_F13, evValueRepeat)); ok {
		t.Fatalf("expected repeat to be dropped")
	}

	// Non-key events are dropped.
	if _, ok := translateInput(&cfg, inputEvent{Type: 0x02, Code: KEY_F13, Value: 1}); ok {
		t.Fatalf("expected non-key event to be dropped")
	}

	// Volume keys step the master gain, on press and repeat.
	ev, ok = translateInput(&cfg, press(KEY_VOLUMEUP, evValuePress))
	if !ok {
		t.Fatalf("expected volume-up to translate")
	}
	if step, isStep := ev.(MasterVolumeStep); !isStep || step.Delta <= 0 {
		t.Fatalf("expected positive volume step, got %#v", ev)
	}
	ev, ok = translateInput(&cfg, press(KEY_VOLUMEDOWN, evValueRepeat))
	if !ok {
		t.Fatalf("expected volume-down repeat to translate")
	}
	if step, isStep := ev.(MasterVolumeStep); !isStep || step.Delta >= 0 {
		t.Fatalf("expected negative volume step, got %#v", ev)
	}

	// Mute drops the master gain to zero.
	ev, ok = translateInput(&cfg, press(KEY_MUTE, evValuePress))
	if !ok {
		t.Fatalf("expected mute to translate")
	}
	if set, isSet := ev.(SetMasterVolume); !isSet || set.Volume != 0 {
		t.Fatalf("expected SetMasterVolume 0, got %#v", ev)
	}
}
