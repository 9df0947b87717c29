package main

import (
	"fmt"
	"log/slog"
	"time"
)

// runEffect executes a single command against the engine and display and
// reports the outcome back as events. Commands never return errors to the
// daemon loop directly; everything flows through onEvent so the reducer sees
// a single ordered stream.
func runEffect(
	engine Engine,
	display Display,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		// No place to report observations/errors; nothing sensible to do.
		return
	}

	now := time.Now()

	switch c := cmd.(type) {
	case CmdStartSound:
		if engine == nil {
			onEvent(StartFailed{Key: c.Key, Err: errNoEngine{}, At: now})
			return
		}
		h, err := engine.Start(c.Spec.Resource, c.Spec.Volume, c.Spec.FadeIn)
		if err != nil {
			logger.Error("engine Start failed",
				"key", c.Key, "resource", c.Spec.Resource,
				"kind", EngineErrorKindOf(err), "error", err)
			onEvent(StartFailed{Key: c.Key, Err: err, At: now})
			return
		}
		logger.Debug("playback start issued", "key", c.Key, "handle", h, "resource", c.Spec.Resource)
		onEvent(StartIssued{Key: c.Key, Handle: h, At: now})

	case CmdStopSound:
		if engine == nil {
			return
		}
		if err := engine.Stop(c.Handle, c.FadeOut); err != nil {
			// An unknown handle means the sound already finished on its own;
			// the reducer has either processed that or is about to.
			logger.Debug("engine Stop failed", "key", c.Key, "handle", c.Handle, "error", err)
		}

	case CmdSetMasterVolume:
		if engine == nil {
			return
		}
		if err := engine.SetMasterVolume(c.Volume); err != nil {
			logger.Error("engine SetMasterVolume failed", "volume", c.Volume, "error", err)
		}

	case CmdRenderButton:
		if display == nil {
			return
		}
		if err := display.RenderButton(c.View); err != nil {
			logger.Warn("render button failed", "slot", c.View.Slot, "error", err)
		}

	case CmdRenderPage:
		if display == nil {
			return
		}
		if err := display.RenderPage(c.View); err != nil {
			logger.Warn("render page failed", "page", c.View.Page, "error", err)
		}

	case CmdLoadConfig:
		deck, err := reloadDeck(c.Path, logger)
		if err != nil {
			logger.Error("config reload failed, keeping current layout", "path", c.Path, "error", err)
			onEvent(ConfigLoadFailed{Err: err, At: now})
			return
		}
		logger.Info("config reloaded", "path", c.Path, "pages", len(deck.Pages))
		onEvent(ConfigLoaded{Deck: deck, At: now})

	default:
		logger.Warn("unknown command type", "command", fmt.Sprintf("%T", cmd))
	}
}

// reloadDeck re-reads the config file and compiles a fresh layout. Only the
// deck section takes effect on reload; input, audio and socket settings keep
// their boot values.
func reloadDeck(path string, logger *slog.Logger) (*DeckConfig, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg.Compile(func(resource string, err error) {
		logger.Warn("sound resource not reachable", "resource", resource, "error", err)
	})
}

type errNoEngine struct{}

func (errNoEngine) Error() string { return "no playback engine attached" }
