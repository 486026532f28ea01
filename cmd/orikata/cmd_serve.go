package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	orikata "github.com/orikata-ai/orikata"
	"github.com/orikata-ai/orikata/api"
	"github.com/orikata-ai/orikata/internal/config"
	"github.com/orikata-ai/orikata/internal/server"
	"github.com/orikata-ai/orikata/internal/telemetry"
)

var serveStubNodes bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the HTTP API over the graphs in ORIKATA_GRAPH_DIR.

Node implementations are normally registered by an embedding program;
a bare serve exposes graph inspection and binding status, and run
launches fail until nodes are bound. With --stub-nodes every node key
gets a pass-through implementation, which makes the server useful for
exercising topology and routing without real node code.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveStubNodes, "stub-nodes", false,
		"register pass-through implementations for all graph node keys")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	logger.Info("orikata starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	eng, err := orikata.New(
		orikata.WithLogger(logger),
		storeOption(cfg),
		orikata.WithDefaultTimeout(cfg.RunTimeout),
		orikata.WithMaxSteps(cfg.MaxSteps),
		orikata.WithDebugSnapshots(cfg.DebugSnapshots),
		orikata.WithStoreInput(cfg.StoreInput),
	)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := eng.LoadGraphs(cfg.GraphDir); err != nil {
		return fmt.Errorf("load graphs: %w", err)
	}
	logger.Info("graphs loaded", "dir", cfg.GraphDir, "count", len(eng.GraphSlugs()))

	if serveStubNodes {
		if err := registerStubNodes(eng); err != nil {
			return err
		}
	}

	srv := server.New(server.Config{
		Engine:       eng,
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
		OpenAPISpec:  api.OpenAPISpec,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return eng.Close(shutdownCtx)
}

// storeOption maps the configured backend to the engine's built-in
// store options; the engine owns the store and closes it on Close.
func storeOption(cfg config.Config) orikata.Option {
	switch cfg.Storage {
	case config.StoragePostgres:
		return orikata.WithDatabaseURL(cfg.DatabaseURL)
	case config.StorageMemory:
		return orikata.WithMemoryStore()
	default:
		return orikata.WithSQLitePath(cfg.SQLitePath)
	}
}
