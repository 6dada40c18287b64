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
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bakebake-xr/bakebake/internal/api"
	"github.com/bakebake-xr/bakebake/internal/chain"
	"github.com/bakebake-xr/bakebake/internal/composer"
	"github.com/bakebake-xr/bakebake/internal/config"
	"github.com/bakebake-xr/bakebake/internal/cooldown"
	"github.com/bakebake-xr/bakebake/internal/metrics"
	"github.com/bakebake-xr/bakebake/internal/pipeline"
	"github.com/bakebake-xr/bakebake/internal/provider"
	"github.com/bakebake-xr/bakebake/internal/provider/gemini"
	"github.com/bakebake-xr/bakebake/internal/provider/openrouter"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the concept generation server (foreground)",
	Long: `Run the HTTP API in the foreground.

With --mcp the same generator is also exposed as an MCP server over
stdin/stdout; logs then go to stderr only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func runServer(ctx context.Context, withMCP bool) error {
	fmt.Fprintln(stderr, versionString())

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(stderr, cfg.Log.Format, level))

	gen := buildGenerator(cfg, prometheus.DefaultRegisterer)
	if !gen.Configured() {
		printWarning("no provider credentials; POST /api/concepts will answer 503")
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewHandler(api.Deps{
			Generator:      gen,
			Gatherer:       prometheus.DefaultGatherer,
			RequestTimeout: cfg.Generation.RequestTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		printStep("bakebake listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Generator:      gen,
			RequestTimeout: cfg.Generation.RequestTimeout,
			Version:        version,
		})
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// newLogger builds the process logger: colored tint output for "text",
// slog's JSON handler for "json".
func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}))
}

// buildGenerator wires the provider chain from cfg. Each Gemini key becomes
// a primary link in the configured order; the OpenRouter key, when set,
// becomes the single-shot secondary.
func buildGenerator(cfg config.Config, reg prometheus.Registerer) *pipeline.Generator {
	rec := metrics.New(reg)
	gate := cooldown.New(cooldown.WithWindow(cfg.Generation.Cooldown))

	ccfg := chain.Config{
		MaxAttempts:    cfg.Generation.MaxAttempts,
		InitialDelay:   cfg.Generation.InitialDelay,
		RetryTransient: cfg.Generation.RetryTransient,
	}
	for i, key := range cfg.Gemini.Keys() {
		ccfg.Primary = append(ccfg.Primary, chain.Link{
			Credential: provider.Credential{Provider: gemini.Name, Key: key, Rank: i},
			Generator: gemini.NewClient(gemini.Config{
				APIKey:  key,
				BaseURL: cfg.Gemini.BaseURL,
				Model:   cfg.Gemini.Model,
				Timeout: cfg.Generation.ProviderTimeout,
			}),
		})
	}
	if key := cfg.OpenRouter.APIKey; key != "" {
		ccfg.Secondary = &chain.Link{
			Credential: provider.Credential{Provider: openrouter.Name, Key: key},
			Generator: openrouter.NewClient(openrouter.Config{
				APIKey:  key,
				BaseURL: cfg.OpenRouter.BaseURL,
				Model:   cfg.OpenRouter.Model,
				Timeout: cfg.Generation.ProviderTimeout,
			}),
		}
	}

	slog.Info("provider chain configured",
		"gemini_keys", len(ccfg.Primary),
		"openrouter", ccfg.Secondary != nil,
		"cooldown", gate.Window(),
	)
	ch := chain.New(gate, ccfg, chain.WithObserver(rec))
	return pipeline.NewGenerator(gate, ch, composer.New(0), rec)
}
