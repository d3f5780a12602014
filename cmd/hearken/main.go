package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/hearken/internal/api"
	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/config"
	"github.com/mattjoyce/hearken/internal/dispatch"
	"github.com/mattjoyce/hearken/internal/doctor"
	"github.com/mattjoyce/hearken/internal/inspect"
	"github.com/mattjoyce/hearken/internal/lock"
	"github.com/mattjoyce/hearken/internal/log"
	"github.com/mattjoyce/hearken/internal/metrics"
	"github.com/mattjoyce/hearken/internal/parser"
	"github.com/mattjoyce/hearken/internal/parsers/builtin"
	"github.com/mattjoyce/hearken/internal/pipeline"
	"github.com/mattjoyce/hearken/internal/state"
	"github.com/mattjoyce/hearken/internal/storage"
	"github.com/mattjoyce/hearken/internal/telemetry"
	"github.com/mattjoyce/hearken/internal/tui/watch"
)

const version = "0.3.0"

const eventBufferSize = 256

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "replay":
		os.Exit(runReplay(args))
	case "parsers":
		os.Exit(runParsers(args))
	case "inspect":
		os.Exit(runInspect(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("hearken version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`hearken - pluggable audio parsers for a voice assistant

Usage:
  hearken <command> [flags]

Commands:
  start             Run the parser service and HTTP API in the foreground
  replay            Feed a raw PCM file through the parsers and print the context
  parsers           Load the configured parsers and list them
  inspect <id>      Show a recorded utterance
  config check      Validate configuration (add --probe to trial-load parsers)
  config lock       Write .checksums for the configuration file
  watch             Live TUI over the running service's event stream
  version           Show version information
  help              Show this help message

Most commands accept --config <path>; otherwise the config is discovered from
$HEARKEN_CONFIG, ~/.config/hearken, /etc/hearken or the working directory.
`)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: hearken config <check|lock> [flags]")
		if len(args) > 0 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// loadConfig resolves --config (or discovery) and loads it.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// runtime is the parser stack shared by start and replay.
type runtime struct {
	hub       *bus.Hub
	collector *metrics.Collector
	loader    *parser.Loader
	service   *dispatch.Service
	telemetry *telemetry.Providers
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	providers, err := telemetry.Init(cfg.Telemetry, cfg.Service.Name, version, log.WithComponent("telemetry"))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	hub := bus.NewHub(eventBufferSize)
	collector := metrics.NewCollector("hearken")

	opts := cfg.AudioParsers.LoaderOptions()
	opts.Recorder = collector
	opts.Logger = log.WithComponent("parser-loader")
	loader := parser.NewLoader(builtin.Catalog(), hub, opts)
	if _, err := loader.Load(ctx); err != nil {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("load parsers: %w", err)
	}

	svc := dispatch.New(loader, dispatch.Options{
		Concurrent:     cfg.AudioParsers.Concurrent,
		MaxConcurrency: cfg.AudioParsers.MaxConcurrency,
		Bus:            hub,
		Recorder:       collector,
		Logger:         log.WithComponent("dispatch"),
	})
	return &runtime{hub: hub, collector: collector, loader: loader, service: svc, telemetry: providers}, nil
}

// shutdown stops the parsers, then flushes pending spans.
func (rt *runtime) shutdown(ctx context.Context) {
	rt.loader.Shutdown(ctx)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		log.WithComponent("telemetry").Warn("telemetry shutdown failed", "error", err)
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("hearken starting", "version", version, "config", cfg.Path)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	ledger := state.NewUtteranceStore(db)

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		logger.Error("parser startup failed", "error", err)
		return 1
	}
	defer rt.shutdown(context.Background())
	for name, lerr := range rt.loader.Failures() {
		logger.Warn("parser excluded", "parser", name, "stage", lerr.Stage, "error", lerr.Err)
	}

	session := pipeline.NewSession(rt.service, pipeline.Options{
		Source: "api",
		Bus:    rt.hub,
		Ledger: ledger,
		Logger: log.WithComponent("pipeline"),
	})
	defer session.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	if cfg.API.Enabled {
		server := api.New(
			api.Config{Listen: cfg.API.Listen},
			session,
			rt.loader,
			ledger,
			rt.hub,
			rt.collector.Handler(),
			log.WithComponent("api"),
		)
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	} else {
		logger.Warn("API disabled; no audio source is attached")
	}

	logger.Info("hearken running (press Ctrl+C to stop)", "parsers", len(rt.loader.Loaded()))

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("hearken stopped")
	return 0
}

// replayOptions describes how a raw PCM file is cut into chunks.
type replayOptions struct {
	format  audio.Format
	chunkMs int
	hotword bool
}

// replayFile feeds one utterance through the session: optional ambient audio,
// then the speech file in chunkMs pieces, then utterance end with the
// buffered speech.
func replayFile(ctx context.Context, session *pipeline.Session, ambient, speech io.Reader, opts replayOptions) (*pipeline.Report, error) {
	size := opts.format.SampleRate * opts.chunkMs / 1000 * opts.format.FrameSize()
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive (chunk_ms=%d)", opts.chunkMs)
	}

	feed := func(r io.Reader, first func(*audio.Chunk) error, rest func(context.Context, *audio.Chunk) error) error {
		buf := make([]byte, size)
		for i := 0; ; i++ {
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				chunk, cerr := audio.NewChunk(buf[:n], opts.format)
				if cerr != nil {
					return cerr
				}
				if i == 0 && first != nil {
					if err := first(chunk); err != nil {
						return err
					}
				}
				if err := rest(ctx, chunk); err != nil {
					return err
				}
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}

	if ambient != nil {
		if err := feed(ambient, nil, session.Ambient); err != nil {
			return nil, fmt.Errorf("replay ambient: %w", err)
		}
	}
	var onFirst func(*audio.Chunk) error
	if opts.hotword {
		onFirst = func(c *audio.Chunk) error { return session.Hotword(ctx, c) }
	}
	if err := feed(speech, onFirst, session.Speech); err != nil {
		return nil, fmt.Errorf("replay speech: %w", err)
	}
	return session.EndUtterance(ctx, nil)
}

func runReplay(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	ambientPath := fs.String("ambient", "", "Raw PCM file fed as ambient audio before the speech")
	rate := fs.Int("rate", audio.DefaultSampleRate, "Sample rate in Hz")
	width := fs.Int("width", audio.DefaultSampleWidth, "Bytes per sample (1, 2 or 4)")
	channels := fs.Int("channels", audio.DefaultChannels, "Channel count")
	chunkMs := fs.Int("chunk-ms", 100, "Chunk length in milliseconds")
	hotword := fs.Bool("hotword", false, "Also deliver the first speech chunk as a hotword chunk")
	record := fs.Bool("record", false, "Record the utterance in the state database")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hearken replay [flags] <speech.pcm>")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel)

	opts := replayOptions{
		format:  audio.Format{SampleRate: *rate, SampleWidth: *width, Channels: *channels},
		chunkMs: *chunkMs,
		hotword: *hotword,
	}
	if err := opts.format.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid audio format: %v\n", err)
		return 1
	}

	ctx := context.Background()
	var ledger pipeline.Ledger
	if *record {
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
			return 1
		}
		defer db.Close()
		ledger = state.NewUtteranceStore(db)
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parser startup failed: %v\n", err)
		return 1
	}
	defer rt.shutdown(ctx)

	session := pipeline.NewSession(rt.service, pipeline.Options{
		Source: "replay",
		Bus:    rt.hub,
		Ledger: ledger,
		Logger: log.WithComponent("pipeline"),
	})
	defer session.Close()

	speech, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open speech file: %v\n", err)
		return 1
	}
	defer speech.Close()

	var ambient io.Reader
	if *ambientPath != "" {
		f, err := os.Open(*ambientPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open ambient file: %v\n", err)
			return 1
		}
		defer f.Close()
		ambient = f
	}

	report, err := replayFile(ctx, session, ambient, speech, opts)
	if report == nil {
		fmt.Fprintf(os.Stderr, "Replay failed: %v\n", err)
		return 1
	}
	if err != nil {
		log.WithUtterance(report.ID).Warn("utterance not recorded", "error", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode report: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	if len(report.Failed) > 0 {
		return 2
	}
	return 0
}

func runParsers(args []string) int {
	fs := flag.NewFlagSet("parsers", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter(io.Discard, "error")

	opts := cfg.AudioParsers.LoaderOptions()
	loader := parser.NewLoader(builtin.Catalog(), nil, opts)
	ctx := context.Background()
	loaded, err := loader.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load parsers: %v\n", err)
		return 1
	}
	defer loader.Shutdown(ctx)

	return printParsers(os.Stdout, loaded, loader.Failures(), *jsonOut)
}

func printParsers(w io.Writer, loaded []*parser.Instance, failures map[string]*parser.LoadError, jsonOut bool) int {
	if jsonOut {
		type entry struct {
			Name     string `json:"name"`
			Kind     string `json:"kind"`
			Priority int    `json:"priority"`
			Source   string `json:"source"`
		}
		doc := struct {
			Loaded []entry           `json:"loaded"`
			Failed map[string]string `json:"failed"`
		}{Loaded: []entry{}, Failed: map[string]string{}}
		for _, inst := range loaded {
			doc.Loaded = append(doc.Loaded, entry{inst.Name(), inst.Kind(), inst.Priority(), inst.Source()})
		}
		for name, lerr := range failures {
			doc.Failed[name] = lerr.Error()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode: %v\n", err)
			return 1
		}
	} else {
		fmt.Fprintf(w, "%-4s %-20s %-12s %s\n", "PRIO", "NAME", "KIND", "SOURCE")
		for _, inst := range loaded {
			fmt.Fprintf(w, "%-4d %-20s %-12s %s\n", inst.Priority(), inst.Name(), inst.Kind(), inst.Source())
		}
		for name, lerr := range failures {
			fmt.Fprintf(w, "FAIL %-20s %s: %v\n", name, lerr.Stage, lerr.Err)
		}
	}
	if len(failures) > 0 {
		return 2
	}
	return 0
}

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hearken inspect [--config PATH] [--json] <utterance-id>")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()
	store := state.NewUtteranceStore(db)

	build := inspect.BuildReport
	if *jsonOut {
		build = inspect.BuildJSONReport
	}
	out, err := build(ctx, store, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(strings.TrimRight(out, "\n") + "\n")
	return 0
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut, probe bool

	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&probe, "probe", false, "Construct and initialize every parser")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	log.SetupWriter(io.Discard, "error")

	result := doctor.New(cfg, builtin.Catalog()).Validate(context.Background(), probe)
	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		path = discovered
	}

	out, err := config.Lock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Locked configuration: %s\n", out)
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration (used for api.listen)")
	url := fs.String("url", "", "Base URL of the hearken API, e.g. http://127.0.0.1:8080")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	apiURL := *url
	if apiURL == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config (or pass --url): %v\n", err)
			return 1
		}
		apiURL = "http://" + cfg.API.Listen
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(apiURL, "/")))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}
	return 0
}
