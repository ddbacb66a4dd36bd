package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/approvalflow/internal/endpoint"
	"github.com/example/approvalflow/internal/observability"
	grpctransport "github.com/example/approvalflow/internal/transport/grpc"
	"github.com/example/approvalflow/internal/web"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC and HTTP APIs and the expiration scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	store, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := a.applyBootstrap(ctx, store, a.cfg.Bootstrap.Files); err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	svc, sched := a.newWorkflowService(store, metrics)

	grpcServer := grpctransport.NewServer(
		endpoint.MakeEndpoints(svc, sched),
		grpctransport.WithLogger(a.logger),
	)
	webServer := web.NewServer(a.cfg.HTTP.Addr, svc,
		web.WithLogger(a.logger),
		web.WithMetrics(metrics),
	)

	errCh := make(chan error, 2)
	go func() {
		a.logger.WithField("addr", a.cfg.GRPC.Addr).Info("starting gRPC server")
		if err := grpcServer.Serve(a.cfg.GRPC.Addr); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		if err := webServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	// Deadlines set by decisions wake the scheduler early.
	if a.cfg.Scheduler.Enabled {
		svc.SetExpiryNotifier(sched)
		sched.Start()
	} else {
		a.logger.Warn("expiration scheduler disabled")
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errCh:
		a.logger.WithError(runErr).Error("server failed, shutting down")
	}

	if a.cfg.Scheduler.Enabled {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("HTTP server shutdown")
	}
	grpcServer.GracefulStop()

	return runErr
}
