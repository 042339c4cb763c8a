package health

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testThresholds() map[string]Thresholds {
	return map[string]Thresholds{
		"queue_depth":   {Warning: 10, Critical: 50, Weight: 40},
		"heartbeat_lag": {Warning: 90, Critical: 270, Weight: 40},
	}
}

func newTestMonitor() *Monitor {
	return NewMonitor(testThresholds(), 90, 70, nil)
}

func TestObserve_HealthyBelowWarning(t *testing.T) {
	m := newTestMonitor()

	report := m.Observe("work_queue", []Sample{{
		Component:  "work_queue",
		Metric:     "queue_depth",
		Value:      5,
		Bottleneck: BottleneckQueueBacklog,
	}})

	require.Equal(t, 100, report.Score)
	require.Equal(t, StatusHealthy, report.Status)
	require.Empty(t, report.Bottleneck)
}

func TestObserve_CriticalValueScoresDown(t *testing.T) {
	m := newTestMonitor()

	// At the critical threshold the deviation is 1.0, so the full weight
	// comes off the score.
	report := m.Observe("work_queue", []Sample{{
		Component:  "work_queue",
		Metric:     "queue_depth",
		Value:      50,
		Bottleneck: BottleneckQueueBacklog,
	}})

	require.Equal(t, 60, report.Score)
	require.Equal(t, StatusCritical, report.Status)
	require.Equal(t, BottleneckQueueBacklog, report.Bottleneck)
	require.Equal(t, "queue_depth", report.MetricName)
}

func TestObserve_WorstPenaltySuppliesBottleneck(t *testing.T) {
	m := newTestMonitor()

	report := m.Observe("system", []Sample{
		{Metric: "queue_depth", Value: 12, Bottleneck: BottleneckQueueBacklog},
		{Metric: "heartbeat_lag", Value: 270, Bottleneck: BottleneckHeartbeatLag},
	})

	require.Equal(t, BottleneckHeartbeatLag, report.Bottleneck)
}

func TestObserve_UnknownMetricIgnored(t *testing.T) {
	m := newTestMonitor()

	report := m.Observe("work_queue", []Sample{{
		Metric: "unconfigured",
		Value:  9999,
	}})

	require.Equal(t, 100, report.Score)
	require.Equal(t, StatusHealthy, report.Status)
}

func TestSystem_AggregatesComponents(t *testing.T) {
	m := newTestMonitor()

	m.Observe("good", []Sample{{Metric: "queue_depth", Value: 0}})
	m.Observe("bad", []Sample{{Metric: "queue_depth", Value: 200, Bottleneck: BottleneckQueueBacklog}})

	report := m.System()
	require.Equal(t, "system", report.Component)
	require.Equal(t, StatusCritical, report.Status)
	require.Equal(t, (100+40)/2, report.Score)
	require.Contains(t, report.Bottleneck, "bad")
	require.NotContains(t, report.Bottleneck, "good")
}

func TestSystem_EmptyIsCritical(t *testing.T) {
	m := newTestMonitor()

	report := m.System()
	require.Equal(t, StatusCritical, report.Status)
	require.Equal(t, 0, report.Score)
}

func TestBottlenecks_WorstFirst(t *testing.T) {
	m := newTestMonitor()

	m.Observe("a", []Sample{{Metric: "queue_depth", Value: 0}})
	m.Observe("b", []Sample{{Metric: "queue_depth", Value: 0}})
	m.Observe("c", []Sample{{Metric: "queue_depth", Value: 0}})
	m.Observe("d", []Sample{{Metric: "queue_depth", Value: 0}})
	m.Observe("e", []Sample{{Metric: "queue_depth", Value: 200, Bottleneck: BottleneckQueueBacklog}})

	require.Equal(t, []string{"e"}, m.Bottlenecks())
}

func TestBottlenecks_HealthyFleetReportsNone(t *testing.T) {
	m := newTestMonitor()

	m.Observe("a", []Sample{{Metric: "queue_depth", Value: 0}})

	require.Empty(t, m.Bottlenecks())
}

func TestComponent_ReturnsLastReport(t *testing.T) {
	m := newTestMonitor()

	_, ok := m.Component("work_queue")
	require.False(t, ok)

	m.Observe("work_queue", []Sample{{Metric: "queue_depth", Value: 5}})
	report, ok := m.Component("work_queue")
	require.True(t, ok)
	require.Equal(t, 100, report.Score)
}
