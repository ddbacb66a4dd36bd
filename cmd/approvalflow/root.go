package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/example/approvalflow/internal/bootstrap"
	"github.com/example/approvalflow/internal/config"
	applog "github.com/example/approvalflow/internal/log"
	"github.com/example/approvalflow/internal/observability"
	"github.com/example/approvalflow/internal/service"
	"github.com/example/approvalflow/internal/storage"
	"github.com/example/approvalflow/internal/storage/postgres"
	"github.com/example/approvalflow/internal/storage/sqlite"
	"github.com/example/approvalflow/pkg/clock"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	envFile    string

	cfg    *config.Config
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "approvalflow",
		Short: "Multi-step approval workflow engine",
		Long: `approvalflow runs workflow instances through definitions of approval steps.

Each step is approved or rejected by an actor, or resolved automatically by the
expiration scheduler once its time limit passes.

EXAMPLES:
  # Run the gRPC and HTTP APIs with the in-process scheduler
  approvalflow serve

  # Run only the expiration scheduler
  approvalflow job -j WorkflowStepStatusChanger

  # Load workflow definitions
  approvalflow seed --file definitions/payroll.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath, a.envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = applog.New(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the config file (default ./approvalflow.yaml or ./configs/approvalflow.yaml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "path to a .env file (default .env when present)")

	root.AddCommand(
		newServeCmd(a),
		newJobCmd(a),
		newMigrateCmd(a),
		newSeedCmd(a),
	)
	return root
}

// openStorage connects to the configured backend and applies migrations.
func (a *app) openStorage(ctx context.Context) (storage.Storage, error) {
	var (
		store storage.Storage
		err   error
	)
	switch a.cfg.Storage.Driver {
	case config.DriverSQLite:
		a.logger.WithField("path", a.cfg.Storage.SQLite.Path).Info("opening sqlite storage")
		store, err = sqlite.New(a.cfg.Storage.SQLite.Path)
	case config.DriverPostgres:
		a.logger.Info("opening postgres storage")
		store, err = postgres.New(ctx, a.cfg.Storage.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// newWorkflowService builds the service and scheduler on top of store.
func (a *app) newWorkflowService(store storage.Storage, metrics *observability.Metrics) (*service.WorkflowService, *service.ExpirationScheduler) {
	svc := service.NewWorkflowService(store,
		service.WithClock(clock.System()),
		service.WithLogger(a.logger),
		service.WithMetrics(metrics),
	)
	sched := service.NewExpirationScheduler(svc, service.SchedulerConfig{
		DefaultInterval: a.cfg.Scheduler.DefaultInterval,
	})
	return svc, sched
}

// applyBootstrap loads every file in paths into store.
func (a *app) applyBootstrap(ctx context.Context, store storage.Storage, paths []string) error {
	now := clock.System().Now()
	for _, path := range paths {
		file, err := bootstrap.LoadFile(path)
		if err != nil {
			return err
		}
		res, err := bootstrap.Apply(ctx, store, file, a.cfg.Bootstrap.Actor, now)
		if err != nil {
			return fmt.Errorf("failed to apply %s: %w", path, err)
		}
		a.logger.WithFields(logrus.Fields{
			"file":              path,
			"roles_created":     res.RolesCreated,
			"workflows_created": res.WorkflowsCreated,
			"workflows_skipped": res.WorkflowsSkipped,
		}).Info("bootstrap applied")
	}
	return nil
}
