package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rmarronnier/docusphere-sub011/internal/app"
	"github.com/rmarronnier/docusphere-sub011/internal/config"
	"github.com/rmarronnier/docusphere-sub011/internal/engine"
	"github.com/rmarronnier/docusphere-sub011/internal/observability"
	"github.com/rmarronnier/docusphere-sub011/internal/repo"
	"github.com/rmarronnier/docusphere-sub011/internal/server"
)

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every write appends an event: entity creation, status changes, workflow transitions and cancellations.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				projectID := ""
				if override := viper.GetString("project"); override != "" {
					p, err := app.ResolveProject(ctx, e.Repo, override)
					if err != nil {
						return err
					}
					projectID = p.ID
				}
				events, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
					ProjectID:  projectID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "docusphere.yml holds the analytics policy (lookahead, permit expiry, workload thresholds, phase weights), the store, the HTTP server, the report cache and logging.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	var def bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if def {
				fmt.Print(config.GenerateDefault())
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	cmd.Flags().BoolVar(&def, "default", false, "print the default docusphere.yml")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate docusphere.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, func(ctx context.Context, e *engine.Engine) error {
				cfg := e.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Enabled, cfg.Tracing.ServiceName, os.Stderr)
				if err != nil {
					return err
				}
				defer shutdownTracing(context.Background())

				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				metrics := observability.InitMetrics(reg)
				e.Metrics = metrics

				if cfg.Server.JWTSecret == "" {
					e.Logger.Warn("DSP_JWT_SECRET not set; accepting X-Actor-Id as identity")
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: cfg.Server.JWTSecret, Logger: e.Logger},
					Metrics:  metrics,
					Logger:   e.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						e.Logger.Warn("shutdown", zap.Error(err))
					}
				}()
				e.Logger.Info("serving docusphere API",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.Bool("cache", e.Cache != nil),
				)
				fmt.Printf("Serving Docusphere API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
