package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cadre-io/cadre/internal/domain/agent"
	"github.com/cadre-io/cadre/internal/pattern"
)

// staleCheck builds the predicate the work sweep uses to decide whether a
// claim holder is gone: deregistered, offline or errored agents are stale.
func staleCheck(ctx context.Context, a *app) (func(string) bool, error) {
	all, err := a.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	alive := make(map[string]bool, len(all))
	for _, ag := range all {
		alive[ag.ID] = ag.Status != agent.StatusOffline && ag.Status != agent.StatusError
	}
	return func(agentID string) bool { return !alive[agentID] }, nil
}

type sweepReport struct {
	OfflineAgents []string `json:"offline_agents,omitempty"`
	RecoveredWork []string `json:"recovered_work,omitempty"`
	FailedWork    []string `json:"failed_work,omitempty"`
	Archived      int      `json:"archived,omitempty"`
}

func sweepOnce(ctx context.Context, a *app, compact bool) (*sweepReport, error) {
	report := &sweepReport{}

	offline, err := a.agents.SweepOffline(ctx)
	if err != nil {
		return nil, err
	}
	report.OfflineAgents = offline

	stale, err := staleCheck(ctx, a)
	if err != nil {
		return nil, err
	}
	recovered, failed, err := a.work.SweepTimeouts(ctx, stale)
	if err != nil {
		return nil, err
	}
	report.RecoveredWork = recovered
	report.FailedWork = failed

	if compact {
		db, archive, err := a.openArchive()
		if err != nil {
			return nil, err
		}
		defer db.Close()
		report.Archived, err = a.work.Compact(ctx, archive.ArchiveWork)
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}

func newSweepCmd() *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance pass over agents and claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			report, err := sweepOnce(cmd.Context(), a, compact)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "archive terminal work items to SQLite")
	return cmd
}

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the maintenance and realtime flush loops until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			realtime := pattern.NewRealtimeEngine(a.store, a.ids, a.emitter, a.logger,
				a.cfg.Realtime.FlushInterval, a.cfg.Realtime.BatchSize, a.cfg.Realtime.LatencyBudget)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return runSweepLoop(ctx, a)
			})
			g.Go(func() error {
				return realtime.Run(ctx)
			})

			a.logger.Info("daemon started",
				"sweep_interval", a.cfg.Agents.SweepInterval,
				"flush_interval", a.cfg.Realtime.FlushInterval)
			err = g.Wait()
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
	return cmd
}

func runSweepLoop(ctx context.Context, a *app) error {
	ticker := time.NewTicker(a.cfg.Agents.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := sweepOnce(ctx, a, true)
			if err != nil {
				a.logger.Error("sweep pass failed", "error", err)
				continue
			}
			if len(report.OfflineAgents)+len(report.RecoveredWork)+len(report.FailedWork)+report.Archived > 0 {
				a.logger.Info("sweep pass",
					"offline_agents", len(report.OfflineAgents),
					"recovered_work", len(report.RecoveredWork),
					"failed_work", len(report.FailedWork),
					"archived", report.Archived)
			}
		}
	}
}
