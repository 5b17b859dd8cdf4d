package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rmarronnier/docusphere-sub011/internal/app"
	"github.com/rmarronnier/docusphere-sub011/internal/cache"
	"github.com/rmarronnier/docusphere-sub011/internal/config"
	"github.com/rmarronnier/docusphere-sub011/internal/db"
	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/engine"
	"github.com/rmarronnier/docusphere-sub011/internal/migrate"
	"github.com/rmarronnier/docusphere-sub011/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "dsp",
	Short: "Docusphere project workflow CLI",
	Long: `Docusphere tracks construction projects through phases, tasks, milestones and permits.
Core concepts:
- Workspace: the directory holding .docusphere/ (the sqlite store) and an optional docusphere.yml.
- Project: owns an ordered chain of phases, its stakeholders and its permits.
- Domain status: the business status of an entity (planning, blocked, under_review, ...).
- Workflow status: every domain status projects onto pending, in_progress, completed or cancelled.
  Moves follow a fixed table: pending -> in_progress|cancelled, in_progress -> completed|cancelled,
  cancelled -> pending|in_progress; completed is final. Every move is recorded in the history.
- Report: weighted progress, delay and permit alerts, critical path and workload recommendations.
- Event log: every write appends an event, view with 'dsp log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DSP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier recorded on writes")
	flags.String("project", "", "project id (defaults to the only project in the workspace)")
	flags.String("driver", "", "store driver override (sqlite, postgres)")
	flags.String("dsn", "", "store DSN override")
	flags.String("log-level", "", "log level override (debug, info, warn, error)")
	flags.String("redis-addr", "", "enable the report cache against this Redis address")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "driver", "dsn", "log-level", "redis-addr"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(stakeholderCmd())
	rootCmd.AddCommand(permitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(criticalPathCmd())
	rootCmd.AddCommand(workloadCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

// loadConfig reads docusphere.yml (defaults when absent) and applies flag and
// DSP_* environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("driver"); v != "" {
		cfg.Store.Driver = v
	}
	if v := viper.GetString("dsn"); v != "" {
		cfg.Store.DSN = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("redis-addr"); v != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.Addr = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withEngine opens the store, migrates it and hands a ready engine to fn.
func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	conn, dialect, err := db.Open(db.Config{
		Workspace: viper.GetString("workspace"),
		Driver:    cfg.Store.Driver,
		DSN:       cfg.Store.DSN,
	})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn, dialect); err != nil {
		return err
	}
	e := engine.New(conn, dialect, cfg)
	e.Logger = logger
	if cfg.Cache.Enabled {
		client, err := cache.Dial(ctx, cfg.Cache.Addr)
		if err != nil {
			logger.Warn("report cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			e.Cache = cache.NewReportCache(client, cfg.Cache.Prefix, cfg.CacheTTL())
		}
	}
	return fn(observability.WithLogger(ctx, logger), e)
}

// withProject is withEngine plus the resolved active project.
func withProject(ctx context.Context, fn func(context.Context, *engine.Engine, domain.Project) error) error {
	return withEngine(ctx, func(ctx context.Context, e *engine.Engine) error {
		p, err := app.ResolveProject(ctx, e.Repo, viper.GetString("project"))
		if err != nil {
			return err
		}
		return fn(ctx, e, p)
	})
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDateFlag parses a YYYY-MM-DD flag value; empty means unset.
func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
	}
	return &t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateOnly)
}

func parseRef(kind, id string) (domain.Ref, error) {
	for _, k := range domain.Kinds {
		if k == kind {
			return domain.Ref{Kind: kind, ID: id}, nil
		}
	}
	return domain.Ref{}, fmt.Errorf("unknown entity kind %q (want one of %s)", kind, strings.Join(domain.Kinds, ", "))
}
