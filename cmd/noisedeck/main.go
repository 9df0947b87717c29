package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("noisedeck v%s\n", version)
	fmt.Println("Soundboard daemon for macro keypads and stream decks")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  noisedeck -config PATH [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that maps hardware button presses (via Linux input devices) to")
	fmt.Println("  sound playback. Buttons toggle, overlap or loop sounds, navigate between")
	fmt.Println("  pages, and report their state over a websocket for virtual deck UIs.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to the YAML config file with the deck layout (required)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocket)
	fmt.Println()
	fmt.Println("  -state-ws-addr string")
	fmt.Printf("        HTTP listen address for the state websocket, empty disables it (default %q)\n", defaultStateWSAddr)
	fmt.Println()
	fmt.Println("  -update-hz int")
	fmt.Printf("        Orchestrator tick frequency in Hz (default %d)\n", defaultUpdateHz)
	fmt.Println()
	fmt.Println("  -master-volume float")
	fmt.Printf("        Initial master volume 0..1 (default %.1f)\n", defaultMasterVolume)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with a deck layout")
	fmt.Println("  noisedeck -config ~/.config/noisedeck/config.yaml")
	fmt.Println()
	fmt.Println("  # Trigger a button from a script")
	fmt.Println("  noisedeck-ctl tap 3")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to input devices (run as root or add user to 'input' group)")
	fmt.Println("  - Without an audio device the daemon runs silent; buttons report errors on press")
	fmt.Println("  - Send SIGHUP or 'noisedeck-ctl reload' to reload the deck layout")
}

func main() {
	// Check for version/help flags early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath   = flag.String("config", "", "Path to YAML config file with the deck layout")
		ipcSocket    = flag.String("ipc-socket", defaultIPCSocket, "Unix domain socket path for IPC")
		stateWSAddr  = flag.String("state-ws-addr", defaultStateWSAddr, "HTTP listen address for the state websocket (empty disables)")
		updateHz     = flag.Int("update-hz", defaultUpdateHz, "Orchestrator tick frequency in Hz")
		masterVolume = flag.Float64("master-volume", defaultMasterVolume, "Initial master volume 0..1")
		logLevelStr  = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion  = flag.Bool("version", false, "Print version and exit")
		showHelp     = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "error: -config is required (the deck layout lives in the config file)")
		os.Exit(1)
	}
	if *updateHz <= 0 || *updateHz > 1000 {
		fmt.Fprintln(os.Stderr, "error: -update-hz must be between 1 and 1000")
		os.Exit(1)
	}
	if *masterVolume < 0 || *masterVolume > 1 {
		fmt.Fprintln(os.Stderr, "error: -master-volume must be between 0 and 1")
		os.Exit(1)
	}

	cfg, err := LoadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	// Flags set on the command line override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ipc-socket":
			cfg.IPC.SocketPath = *ipcSocket
		case "state-ws-addr":
			cfg.StateWS.Addr = *stateWSAddr
		case "update-hz":
			cfg.Audio.UpdateHz = *updateHz
		case "master-volume":
			cfg.Audio.MasterVolume = *masterVolume
		case "log-level":
			cfg.Logging.Level = *logLevelStr
		}
	})

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	deck, err := cfg.Compile(func(resource string, cerr error) {
		logger.Warn("sound resource not reachable", "resource", resource, "error", cerr)
	})
	if err != nil {
		logger.Error("invalid deck layout", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger.Debug("starting noisedeck", "version", version)
	logger.Debug("configuration",
		"config", *configPath,
		"input_devices", cfg.Input.Devices,
		"ipc_socket", cfg.IPC.SocketPath,
		"state_ws_addr", cfg.StateWS.Addr,
		"update_hz", cfg.Audio.UpdateHz,
		"master_volume", cfg.Audio.MasterVolume,
		"pages", len(deck.Pages))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := NewBeepEngine(logger, cfg.Audio.MasterVolume,
		time.Duration(cfg.Audio.PositionIntervalMS)*time.Millisecond)
	defer engine.Close()

	display := newLogDisplay(logger)

	// Central event bus: hardware input, IPC, websocket taps and SIGHUP all
	// feed the same channel.
	events := make(chan Event, daemonEventBuf)

	state := NewDeckState(deck, cfg.Audio.MasterVolume)
	rcfg := ReducerConfig{ConfigPath: *configPath}

	// State websocket (optional).
	var wsServer *Server
	broadcasts := make(chan Broadcast, 128)
	if cfg.StateWS.Addr != "" {
		wsServer = NewServer(logger, events, ServerConfig{})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		broadcast := func(b Broadcast) {
			select {
			case broadcasts <- b:
			default:
				logger.Warn("broadcast queue full, dropping state update")
			}
		}
		runDaemon(gctx, events, engine.Events(), engine, display, state, rcfg,
			cfg.Audio.UpdateHz, cfg.Supervisor.StepFailureBudget, broadcast, logger)
		return nil
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})

	if len(cfg.Input.Devices) > 0 {
		g.Go(func() error {
			return runInput(gctx, &cfg, events, logger)
		})
	} else {
		logger.Info("no input devices configured, running headless (IPC/websocket only)")
	}

	if wsServer != nil {
		g.Go(func() error {
			wsServer.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, wsServer.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runStateWSServer(gctx, cfg.StateWS.Addr, wsServer, logger)
		})
	}

	// SIGHUP reloads the deck layout.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("SIGHUP received, reloading deck layout")
				select {
				case events <- ReloadRequested{}:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

	// Render the start page once everything is wired.
	events <- NavigateTo{Page: string(deck.StartPage)}

	if err := g.Wait(); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// runStateWSServer serves the state websocket endpoint until ctx ends.
func runStateWSServer(ctx context.Context, addr string, ws *Server, logger *slog.Logger) error {
	mux := http.NewServeMux()
	ws.Register(mux, "/state")

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("state websocket listening", "addr", addr, "path", "/state")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
