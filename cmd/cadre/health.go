package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadre-io/cadre/internal/domain/agent"
	"github.com/cadre-io/cadre/internal/health"
	"github.com/cadre-io/cadre/internal/pattern"
)

// healthThresholds scores the coordination directory's observable load.
func healthThresholds(a *app) map[string]health.Thresholds {
	return map[string]health.Thresholds{
		"pending_items":   {Warning: 50, Critical: 200, Weight: 40},
		"heartbeat_lag_s": {Warning: a.cfg.Agents.HeartbeatTimeout.Seconds(), Critical: 3 * a.cfg.Agents.HeartbeatTimeout.Seconds(), Weight: 40},
		"offline_ratio":   {Warning: 0.3, Critical: 0.7, Weight: 30},
		"buffered_events": {Warning: float64(2 * a.cfg.Realtime.BatchSize), Critical: float64(8 * a.cfg.Realtime.BatchSize), Weight: 30},
	}
}

type healthReport struct {
	System      health.Report   `json:"system"`
	Components  []health.Report `json:"components"`
	Bottlenecks []string        `json:"bottlenecks,omitempty"`
	Breaker     string          `json:"breaker"`
}

func observeHealth(ctx context.Context, a *app) (*healthReport, error) {
	monitor := health.NewMonitor(healthThresholds(a), 90, 70, a.logger)

	pending, err := a.work.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	queueReport := monitor.Observe("work_queue", []health.Sample{{
		Component:  "work_queue",
		Metric:     "pending_items",
		Value:      float64(len(pending)),
		Bottleneck: health.BottleneckQueueBacklog,
	}})

	agents, err := a.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	var worstLag float64
	offline := 0
	now := time.Now()
	for _, ag := range agents {
		if lag := now.Sub(ag.LastHeartbeat).Seconds(); lag > worstLag {
			worstLag = lag
		}
		if ag.Status == agent.StatusOffline {
			offline++
		}
	}
	offlineRatio := 0.0
	if len(agents) > 0 {
		offlineRatio = float64(offline) / float64(len(agents))
	}
	agentReport := monitor.Observe("agents", []health.Sample{
		{
			Component:  "agents",
			Metric:     "heartbeat_lag_s",
			Value:      worstLag,
			Bottleneck: health.BottleneckHeartbeatLag,
		},
		{
			Component:  "agents",
			Metric:     "offline_ratio",
			Value:      offlineRatio,
			Bottleneck: health.BottleneckHeartbeatLag,
		},
	})

	session, err := pattern.ReadSession(ctx, a.store)
	if err != nil {
		return nil, err
	}
	buffered := 0
	if session.Realtime != nil {
		buffered = session.Realtime.Buffered
	}
	realtimeReport := monitor.Observe("realtime", []health.Sample{{
		Component:  "realtime",
		Metric:     "buffered_events",
		Value:      float64(buffered),
		Bottleneck: health.BottleneckFlushBackpressure,
	}})

	return &healthReport{
		System:      monitor.System(),
		Components:  []health.Report{queueReport, agentReport, realtimeReport},
		Bottlenecks: monitor.Bottlenecks(),
		Breaker:     string(a.breaker.State()),
	}, nil
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Score coordination health from the current directory state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			report, err := observeHealth(cmd.Context(), a)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}
