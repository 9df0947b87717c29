package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_F13 = 183
	KEY_F24 = 194

	KEY_MUTE       = 113
	KEY_VOLUMEDOWN = 114
	KEY_VOLUMEUP   = 115
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

const (
	defaultUpdateHz     = 10 // Tick cadence for fade deadlines and position renders (Hz)
	defaultIPCSocket    = "/tmp/noisedeck.sock"
	defaultStateWSAddr  = ":3002"
	defaultMasterVolume = 1.0

	// Position updates are throttled to roughly this interval per handle so
	// countdown renders do not flood the display.
	defaultPositionIntervalMS = 500

	// Engine event channel capacity. Producers block when full; events are
	// never dropped (a lost Finished would desynchronize displayed state).
	engineEventBuf = 64

	// Daemon event channel capacity shared by input, IPC and websocket taps.
	daemonEventBuf = 64

	// Supervisor: consecutive step failures before the daemon degrades.
	defaultStepFailureBudget = 5

	// Input device reconnect/backoff budget.
	defaultInputRetryLimit     = 10
	defaultInputRetryBackoffMS = 500

	// Master volume change per volume-key press or repeat.
	masterVolumeStepDelta = 0.05
)
