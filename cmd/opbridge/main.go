// Opbridge connects an OpenProject browser extension to a hosted
// assistant that can manage projects and tasks and read GitHub code.
//
// The extension posts chat messages to a small webhook; each message is
// handed to the assistant, whose tool calls are executed against
// OpenProject and GitHub until it produces a final reply. Configuration
// is loaded from an optional YAML file (see [config.DefaultSearchPaths]),
// a .env file and the environment.
//
// Usage:
//
//	opbridge serve              Start the webhook server
//	opbridge init [dir]         Write an example config.yaml and .env
//	opbridge ask <message>      Send one message and print the reply
//	opbridge chat               Interactive session on stdin
//	opbridge tools              List the tools offered to the assistant
//	opbridge version            Print version and build information
//	opbridge -o json version    Output version information as JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opbridge/opbridge/internal/agent"
	"github.com/opbridge/opbridge/internal/api"
	"github.com/opbridge/opbridge/internal/assistant"
	"github.com/opbridge/opbridge/internal/buildinfo"
	"github.com/opbridge/opbridge/internal/config"
	"github.com/opbridge/opbridge/internal/forge"
	"github.com/opbridge/opbridge/internal/httpkit"
	"github.com/opbridge/opbridge/internal/observe"
	"github.com/opbridge/opbridge/internal/openproject"
	"github.com/opbridge/opbridge/internal/tools"
	"github.com/opbridge/opbridge/internal/usage"
)

// main builds the OS-level environment and hands off to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand because the
// flag package keeps global state, which gets in the way of calling run
// from parallel tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: opbridge ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, strings.Join(cmdArgs, " "))
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, configPath)
	case "tools":
		return runTools(stdout, stderr, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Opbridge - OpenProject assistant webhook")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: opbridge [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Start the webhook server")
	fmt.Fprintln(w, "  init [dir]     Write example config.yaml and .env (default: .)")
	fmt.Fprintln(w, "  ask <message>  Send one message and print the reply")
	fmt.Fprintln(w, "  chat           Interactive session on stdin")
	fmt.Fprintln(w, "  tools          List the tools offered to the assistant")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/opbridge/config.yaml, /etc/opbridge/config.yaml")
	fmt.Fprintln(w, "Secrets come from the environment or ./.env:")
	fmt.Fprintln(w, "  BACKBOARD_API_KEY (or OPENAI_API_KEY), OPENPROJECT_API_KEY, OPENPROJECT_URL, GITHUB_TOKEN")
	return nil
}

// runServe starts the dispatch worker and the webhook server and runs
// until ctx is cancelled or SIGINT/SIGTERM arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting opbridge", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// The startup banner uses Info/text; everything after this point uses
	// the configured level and format.
	level, _ := config.ParseLogLevel(cfg.LogLevel) // validated by loadConfig
	logger = newLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.Assistant.Provider,
		"openproject_url", cfg.OpenProject.URL,
		"github", cfg.GitHub.Enabled,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Telemetry ---
	// Prometheus-backed meter provider registered globally; /metrics
	// serves the default registry it writes to.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "opbridge",
		ServiceVersion: buildinfo.Version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := otelShutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	a, err := newApp(cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(api.Config{
		Address:        cfg.Listen.Address,
		Port:           cfg.Listen.Port,
		Sender:         a.bridge,
		Descriptors:    a.registry.Descriptors(),
		Stats:          a.stats(),
		SessionReady:   func() bool { return a.sessions.Current() != nil },
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		ReplyTimeout:   cfg.Dispatch.Timeout(),
		Metrics:        metrics,
		Logger:         logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.worker.Run(gctx) })

	if err := a.bridge.Warmup(); err != nil {
		logger.Warn("session warmup not scheduled", "error", err)
	}

	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		return server.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("opbridge stopped")
	return nil
}

// runAsk sends a single message through the same worker and dispatcher
// the server uses and prints the reply.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, message string) error {
	a, stop, err := startLocal(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer stop()

	reply, err := a.bridge.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, reply)
	return nil
}

// runChat reads messages from stdin one line at a time until EOF or a
// line reading "exit" or "quit". Failed turns are reported and the
// session continues.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	a, stop, err := startLocal(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer stop()

	return chatLoop(ctx, a.bridge, stdin, stdout)
}

// runTools prints the tool descriptors the assistant would be created
// with. It makes no network calls.
func runTools(stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	registry, err := buildRegistry(cfg, newLogger(stderr, slog.LevelWarn, "text"))
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(registry.Descriptors())
	}
	for _, d := range registry.Descriptors() {
		fmt.Fprintf(stdout, "%-20s %s\n", d.Name, d.Description)
	}
	return nil
}

// app holds the components shared by serve, ask and chat.
type app struct {
	registry *tools.Registry
	sessions *agent.SessionManager
	worker   *agent.Worker
	bridge   *agent.Bridge
	usage    *usage.Store
}

// newApp wires the tool executors, the assistant backend and the
// dispatch worker from cfg.
func newApp(cfg *config.Config, metrics *observe.Metrics, logger *slog.Logger) (*app, error) {
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	svc, err := newAssistantService(cfg, logger)
	if err != nil {
		return nil, err
	}

	// --- Usage store ---
	// Optional SQLite audit log of every tool call.
	var store *usage.Store
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
		}
		dbPath := filepath.Join(cfg.DataDir, "usage.db")
		store, err = usage.NewStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open usage database %s: %w", dbPath, err)
		}
		logger.Info("usage database opened", "path", dbPath)
	}

	sessions := agent.NewSessionManager(svc, cfg.Assistant.Name, cfg.Assistant.Description, registry.Descriptors(), logger)

	dcfg := agent.Config{
		Service:        svc,
		Sessions:       sessions,
		Registry:       registry,
		SearchCooldown: cfg.Dispatch.SearchCooldown(),
		MaxIterations:  cfg.Dispatch.MaxIterations,
		Metrics:        metrics,
		Logger:         logger,
	}
	if store != nil {
		dcfg.Usage = store
	}
	dispatcher := agent.NewDispatcher(dcfg)

	worker := agent.NewWorker(cfg.Dispatch.QueueSize, metrics, logger)

	return &app{
		registry: registry,
		sessions: sessions,
		worker:   worker,
		bridge:   &agent.Bridge{Worker: worker, Dispatcher: dispatcher, Timeout: cfg.Dispatch.Timeout()},
		usage:    store,
	}, nil
}

// stats returns the usage store as an [api.ToolStats], or nil when the
// store is disabled. The nil check keeps a typed nil out of the interface.
func (a *app) stats() api.ToolStats {
	if a.usage == nil {
		return nil
	}
	return a.usage
}

// Close releases the usage database.
func (a *app) Close() error {
	if a.usage != nil {
		return a.usage.Close()
	}
	return nil
}

// startLocal loads config and starts a worker for the CLI commands. Logs
// go to w so stdout carries only replies.
func startLocal(ctx context.Context, w io.Writer, configPath string) (*app, func(), error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(w, max(level, slog.LevelWarn), cfg.LogFormat)

	a, err := newApp(cfg, nil, logger)
	if err != nil {
		return nil, nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		a.worker.Run(wctx)
		close(done)
	}()

	return a, func() {
		cancel()
		<-done
		a.Close()
	}, nil
}

// sender is what the chat loop needs from [agent.Bridge].
type sender interface {
	Send(ctx context.Context, message string) (string, error)
}

func chatLoop(ctx context.Context, s sender, stdin io.Reader, stdout io.Writer) error {
	scanner := bufio.NewScanner(stdin)
	fmt.Fprintln(stdout, "Type a message, or \"exit\" to quit.")
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		reply, err := s.Send(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(stdout, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, reply)
	}
}

// buildRegistry assembles the tools enabled by cfg. The OpenProject
// tools are always offered; an unconfigured instance makes them fail
// with an upstream error rather than disappear from the assistant.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*tools.Registry, error) {
	if !cfg.OpenProject.Configured() {
		logger.Warn("OpenProject not configured - project and task tools will fail")
	}
	op := openproject.NewClient(cfg.OpenProject.URL, cfg.OpenProject.APIKey, logger)
	all := tools.ProjectTools(op, logger)

	if cfg.GitHub.Enabled {
		hc := httpkit.NewClient(
			httpkit.WithHeader("Accept", "application/vnd.github+json"),
			httpkit.WithRetry(3, 2*time.Second),
			httpkit.WithLogger(logger),
		)
		gh, err := forge.NewGitHub(hc, cfg.GitHub.Token, cfg.GitHub.URL, logger)
		if err != nil {
			return nil, err
		}
		all = append(all, tools.ForgeTools(gh, logger)...)
	}

	registry, err := tools.NewRegistry(all...)
	if err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	logger.Debug("tools registered", "tools", registry.Names())
	return registry, nil
}

// newAssistantService picks the assistant backend named by
// assistant.provider.
func newAssistantService(cfg *config.Config, logger *slog.Logger) (assistant.Service, error) {
	if cfg.Assistant.APIKey == "" {
		logger.Warn("assistant API key not set - requests will be rejected", "provider", cfg.Assistant.Provider)
	}
	switch cfg.Assistant.Provider {
	case config.ProviderOpenAI:
		poll := time.Duration(cfg.Assistant.PollIntervalMs) * time.Millisecond
		svc, err := assistant.NewOpenAI(cfg.Assistant.APIKey, cfg.Assistant.Model, cfg.Assistant.BaseURL, poll, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return assistant.NewBackboard(cfg.Assistant.APIKey, cfg.Assistant.BaseURL, logger), nil
	}
}

// newLogger creates a structured logger writing to w. Format "json"
// selects the JSON handler; anything else is text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig loads .env, then the YAML file (explicit or discovered),
// then fills secrets from the environment and validates the result. No
// config file at all is fine; defaults and the environment are used.
func loadConfig(explicit string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(""); err != nil {
		return nil, "", err
	}

	var cfg *config.Config
	cfgPath, err := config.FindConfig(explicit)
	switch {
	case errors.Is(err, config.ErrNoConfig):
		cfg, cfgPath = config.Default(), ""
	case err != nil:
		return nil, "", err
	default:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}
