package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ratchet/internal/config"
	"ratchet/internal/coordinator"
	"ratchet/internal/logging"
	"ratchet/internal/mcp"
	"ratchet/internal/mcpserver"
	"ratchet/internal/observability"
	"ratchet/internal/registry"
	"ratchet/internal/restapi"
	"ratchet/internal/task"
	"ratchet/internal/workerpool"
)

func newServeCommand(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot the worker pool, MCP handler (stdio), and REST façade",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, *verbose)
		},
	}
}

// poolAdapter narrows *workerpool.Manager's Acquire (which returns a
// concrete *worker.Process) to coordinator.Pool's WorkerHandle-returning
// signature. *worker.Process already satisfies WorkerHandle structurally;
// this adapter only exists to bridge the two concrete return types.
type poolAdapter struct {
	mgr *workerpool.Manager
}

func (p poolAdapter) Acquire(ctx context.Context) (coordinator.WorkerHandle, error) {
	return p.mgr.Acquire(ctx)
}

func runServe(configPath string, verbose bool) error {
	overrides := config.Overrides{}
	if verbose {
		v := true
		overrides.Verbose = &v
	}

	cfg, meta, err := config.Load(config.WithConfigPath(configPath), config.WithOverrides(overrides))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	os.Setenv("RATCHET_LOG_DIR", cfg.LogDir)
	if cfg.Verbose {
		os.Setenv("RATCHET_LOG_LEVEL", "DEBUG")
	}
	logger := logging.NewComponentLogger("cmd.serve")
	logger.Info("config loaded, worker_count source=%s", meta.Source("worker_count"))

	catalog, bridges := buildCatalog(cfg)
	for _, b := range bridges {
		if _, err := b.Sync(context.Background()); err != nil {
			logger.Warn("initial registry sync failed: %v", err)
		}
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	poolMgr := workerpool.NewManager(workerpool.Config{
		WorkerCount:          cfg.WorkerCount,
		WorkerCommand:        exePath,
		WorkerMaxInflight:    cfg.WorkerMaxInflight,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		RestartBackoffMax:    cfg.RestartBackoffMax,
		StartupTimeout:       cfg.StartupTimeout,
		StartupRetries:       cfg.StartupRetries,
		WorkerAcquireTimeout: cfg.WorkerAcquireTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := poolMgr.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer poolMgr.Shutdown(10 * time.Second)

	var recorder coordinator.Recorder
	if cfg.HARRecordingDir != "" {
		recorder = coordinator.NewFileRecorder(cfg.HARRecordingDir)
	}

	coord := coordinator.New(coordinator.Config{
		DefaultTaskTimeout: cfg.DefaultTaskTimeout,
		GlobalMaxTimeout:   cfg.GlobalMaxTimeout,
	}, catalog, poolAdapter{mgr: poolMgr}, recorder)

	metrics := observability.NewMetrics()
	correlation := observability.NewCorrelationManager()
	audit := observability.NewAuditLogger(1024)

	toolRegistry := mcpserver.NewTaskToolRegistry(catalog, coord, "")
	mcpHandler := mcpserver.NewHandler(toolRegistry, mcpserver.EmptyResourceLister{}, correlation, metrics, audit)

	restServer := restapi.NewServer(coord, catalog, restapi.NewExecutionStore())

	g := make(chan error, 2)

	go func() {
		g <- serveStdioMCP(ctx, mcpHandler)
	}()

	httpServer := &http.Server{
		Addr:    cfg.RESTListen,
		Handler: restServer.Handler(cfg.RESTBearerToken, nil),
	}
	go func() {
		logger.Info("REST façade listening on %s", cfg.RESTListen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g <- err
			return
		}
		g <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-g:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return runErr
}

// buildCatalog wires the registry Catalog from whichever sources cfg
// names, per spec §4.5's multi-source precedence (embedded > filesystem >
// git > http). A Bridge is returned per non-embedded source so its
// health can be polled and its background sync scheduled.
func buildCatalog(cfg config.Config) (*registry.Catalog, []*registry.Bridge) {
	var sources []registry.Source
	var bridges []*registry.Bridge

	if cfg.RegistryFilesystemRoot != "" {
		sources = append(sources, registry.NewFilesystemSource(registry.FilesystemConfig{Root: cfg.RegistryFilesystemRoot}))
	}
	if cfg.RegistryGitURL != "" {
		sources = append(sources, registry.NewGitSource(registry.GitConfig{URL: cfg.RegistryGitURL, Branch: cfg.RegistryGitBranch}))
	}
	if cfg.RegistryHTTPBaseURL != "" {
		sources = append(sources, registry.NewHTTPSource(registry.HTTPConfig{BaseURL: cfg.RegistryHTTPBaseURL}))
	}

	catalog := registry.NewCatalog(sources...)

	for i, src := range sources {
		name := fmt.Sprintf("source-%d", i)
		reconciler := registry.NewReconciler(catalog, registry.NewMemStore(), name, registry.TakeRemote)
		bridges = append(bridges, registry.NewBridge(name, sourceTypeOf(src), catalog, reconciler))
	}

	return catalog, bridges
}

func sourceTypeOf(src registry.Source) string {
	switch src.(type) {
	case *registry.FilesystemSource:
		return "filesystem"
	case *registry.GitSource:
		return "git"
	case *registry.HTTPSource:
		return "http"
	default:
		return "embedded"
	}
}

// serveStdioMCP runs the MCP request/response loop over stdin/stdout:
// one JSON-RPC request object per line in, one response object per line
// out. C1's length-delimited framing is reserved for coordinator<->worker
// IPC (internal/ipc); the MCP stdio surface is a distinct JSON-RPC 2.0
// transport with its own line-delimited convention, per SPEC_FULL.md §2.3
// mcp_transport: "stdio".
func serveStdioMCP(ctx context.Context, h *mcpserver.Handler) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	out := bufio.NewWriter(os.Stdout)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		req, err := mcp.UnmarshalRequest(line)
		if err != nil {
			continue
		}

		secCtx := task.SecurityContext{ClientID: "mcp-stdio", AuthenticatedAt: time.Now()}
		resp := h.HandleRequest(ctx, req, secCtx)
		body, err := mcp.Marshal(resp)
		if err != nil {
			continue
		}
		if _, err := out.Write(body); err != nil {
			return err
		}
		if err := out.WriteByte('\n'); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}
