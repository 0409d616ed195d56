package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/switchboard/internal/agent"
	"github.com/kalambet/switchboard/internal/api"
	"github.com/kalambet/switchboard/internal/command"
	"github.com/kalambet/switchboard/internal/config"
	"github.com/kalambet/switchboard/internal/confirm"
	"github.com/kalambet/switchboard/internal/intent"
	"github.com/kalambet/switchboard/internal/maintenance"
	"github.com/kalambet/switchboard/internal/pipeline"
	"github.com/kalambet/switchboard/internal/preference"
	"github.com/kalambet/switchboard/internal/proxy"
	"github.com/kalambet/switchboard/internal/queue"
	"github.com/kalambet/switchboard/internal/storage"
	"github.com/kalambet/switchboard/internal/tracing"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the switchboard server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(stdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running switchboard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show switchboard status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", true, "serve the diagnostics MCP server on stdin/stdout")
}

// mediaTools are the tool candidates the tool agent chooses between.
var mediaTools = map[intent.Intent][]string{
	intent.MediaAnalysis:   {"youtube", "vision"},
	intent.MediaGeneration: {"dalle", "flux"},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "switchboard.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app is the fully wired server.
type app struct {
	store      *storage.Store
	tracer     *tracing.Tracer
	classifier *intent.Classifier
	watcher    *intent.RuleWatcher
	pipeline   *pipeline.Pipeline
	worker     *maintenance.Worker
	handler    http.Handler
	mcp        *server.MCPServer
	provider   *client.Client
}

// buildApp wires every component from cfg. The caller starts the watcher
// and worker and must call close.
func buildApp(ctx context.Context, cfg config.Config, token string, logger *slog.Logger) (*app, error) {
	a := &app{}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store

	a.tracer = tracing.New(tracing.Options{
		MaxTraces: cfg.Tracing.MaxTraces,
		TTL:       cfg.Tracing.TTL,
		Logger:    logger,
	})
	confirms := confirm.NewManager(confirm.Options{
		Timeout: cfg.Confirm.Timeout,
		Logger:  logger,
	})
	prefs := preference.NewStore(preference.Options{
		MinUses:        cfg.Preference.MinUses,
		MinSuccessRate: cfg.Preference.MinSuccessRate,
		TTL:            cfg.Preference.TTL,
		Persistence:    store,
		Logger:         logger,
	})
	if err := prefs.Load(ctx); err != nil {
		logger.Warn("preferences not restored", "error", err)
	}

	a.classifier = intent.NewDefault()
	if cfg.Intent.RulesPath != "" {
		a.watcher = intent.NewRuleWatcher(cfg.Intent.RulesPath, a.classifier)
	}

	var exec command.Executor
	var runner agent.ToolRunner
	if cfg.Commands.MCPURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		c, err := command.DialMCP(dialCtx, cfg.Commands.MCPURL, "switchboard", version)
		cancel()
		if err != nil {
			logger.Warn("command provider unavailable, commands will be emulated", "url", cfg.Commands.MCPURL, "error", err)
		} else {
			a.provider = c
			exec = command.NewMCPExecutor(c)
			runner = command.NewMCPToolRunner(c)
		}
	}
	dispatcher := command.NewDispatcher(exec, a.tracer, command.DispatcherOptions{Logger: logger})

	completer := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey, cfg.Proxy.Model)
	if cfg.Proxy.OpenRouterAPIKey == "" {
		logger.Warn("no OpenRouter API key, chat replies will apologize")
	}

	agents := []agent.Agent{
		agent.NewConfirmationAgent(confirms, dispatcher, prefs),
		agent.NewCommandAgent(a.classifier, dispatcher, confirms, prefs, agent.ConfirmPolicy{
			AlwaysConfirm:        cfg.Confirm.AlwaysConfirm,
			AutoExecuteThreshold: cfg.Confirm.AutoExecuteThreshold,
			Timeout:              cfg.Confirm.Timeout,
		}),
	}
	if runner != nil {
		agents = append(agents, agent.NewToolAgent(a.classifier, prefs, runner, mediaTools, a.tracer))
	}
	router, err := agent.NewRouter(
		agent.NewChatAgent(completer, 0),
		agent.RouterOptions{Tracer: a.tracer, Logger: logger},
		agents...,
	)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("building router: %w", err)
	}

	qcfg, err := queue.LoadConfig()
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("loading queue config: %w", err)
	}
	qcfg.Logger = logger
	qcfg.ErrorHandler = func(err error) {
		logger.Warn("queued job failed", "error", err)
	}

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Tracer:        a.tracer,
		Preferences:   prefs,
		Confirmations: confirms,
		Queue:         queue.New(qcfg),
		Router:        router,
		Logger:        logger,
	})
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("building pipeline: %w", err)
	}

	a.worker = maintenance.NewWorker(confirms, a.tracer, prefs, cfg.Maintenance.Interval)
	a.handler = api.NewHandler(api.Deps{
		Pipeline:       a.pipeline,
		Classifier:     a.classifier,
		Token:          token,
		AdminIDs:       cfg.Access.AdminIDs,
		RequestTimeout: cfg.Pipeline.RequestTimeout,
		Logger:         logger,
	})
	a.mcp = api.NewMCPServer(api.MCPDeps{
		Tracer:     a.tracer,
		Classifier: a.classifier,
		Version:    version,
	})
	return a, nil
}

// close stops the pipeline, which flushes preferences, then releases the
// provider connection and storage.
func (a *app) close(ctx context.Context) {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.pipeline != nil {
		if err := a.pipeline.Close(ctx); err != nil {
			slog.Warn("closing pipeline", "error", err)
		}
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			slog.Warn("closing command provider", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}
}

func runServer(stdio bool) error {
	fmt.Fprintf(os.Stderr, "switchboard version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	token, err := ensureAPIToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("switchboard is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("switchboard is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, token, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.close(closeCtx)
	}()

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			slog.Warn("intent rule watcher not started", "path", cfg.Intent.RulesPath, "error", err)
		}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: a.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "switchboard listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if stdio {
		stdioSrv := server.NewStdioServer(a.mcp)
		go func() {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("switchboard is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop switchboard (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to switchboard (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	hc := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := hc.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Proxy.Model)
	if cfg.Commands.MCPURL != "" {
		printStatus("Command provider", "%s", cfg.Commands.MCPURL)
	} else {
		printStatus("Command provider", "none (emulated)")
	}

	if running {
		if c, err := newAPIClient(); err == nil {
			if m, err := fetchMetrics(ctx, c); err == nil {
				printStatus("Active traces", "%d", m.Active)
				printStatus("Requests", "%d (%.0f%% ok)", m.Total, m.SuccessRate*100)
			}
			var stats confirm.Stats
			if resp, err := c.get(ctx, "/v1/confirmations/stats"); err == nil && decodeJSON(resp, &stats) == nil {
				printStatus("Pending confirmations", "%d", stats.Active)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
