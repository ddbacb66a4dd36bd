package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/approvalflow/internal/observability"
)

// JobStepStatusChanger resolves expired steps on a loop.
const JobStepStatusChanger = "WorkflowStepStatusChanger"

func newJobCmd(a *app) *cobra.Command {
	var job string
	var once bool

	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run a background job",
		Long: `Run a background job by name.

JOBS:
  WorkflowStepStatusChanger  resolve steps whose time limit has passed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if job != JobStepStatusChanger {
				return fmt.Errorf("unknown job %q", job)
			}
			return a.runStepStatusChanger(cmd.Context(), once)
		},
	}

	cmd.Flags().StringVarP(&job, "job", "j", "", "name of the job to run")
	cmd.Flags().BoolVar(&once, "once", false, "run a single expiration cycle and exit")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func (a *app) runStepStatusChanger(ctx context.Context, once bool) error {
	store, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	_, sched := a.newWorkflowService(store, observability.NewMetrics())

	if once {
		_, next := sched.TriggerCycle(ctx)
		a.logger.WithField("next_wake_interval", next).Info("expiration cycle finished")
		return nil
	}

	a.logger.WithField("job", JobStepStatusChanger).Info("job started")
	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		a.logger.Info("job stopped")
		return nil
	}
	return err
}
