// Package health scores subsystem health from observed metrics and guards
// failure-prone operations with a circuit breaker.
package health

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Status classifies a component's health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Bottleneck labels come from a fixed taxonomy so downstream tooling can
// switch on them.
const (
	BottleneckLockContention    = "lock_contention"
	BottleneckQueueBacklog      = "queue_backlog"
	BottleneckIOLatency         = "io_latency"
	BottleneckHeartbeatLag      = "heartbeat_lag"
	BottleneckVoteStall         = "vote_stall"
	BottleneckFlushBackpressure = "flush_backpressure"
)

// Sample is one observed metric for a component. Higher values are worse.
type Sample struct {
	Component  string
	Metric     string
	Value      float64
	Trend      string
	Bottleneck string
}

// Thresholds configure scoring for one metric.
type Thresholds struct {
	Warning  float64
	Critical float64
	Weight   float64
}

// Report is the scored health record for a component.
type Report struct {
	Component   string  `json:"component"`
	Score       int     `json:"score"`
	Status      Status  `json:"status"`
	Bottleneck  string  `json:"bottleneck,omitempty"`
	MetricName  string  `json:"metric_name,omitempty"`
	MetricValue float64 `json:"metric_value,omitempty"`
	Trend       string  `json:"trend,omitempty"`
}

// Monitor recomputes component health from metric samples.
type Monitor struct {
	mu            sync.RWMutex
	reports       map[string]Report
	thresholds    map[string]Thresholds
	warningScore  int
	criticalScore int
	logger        *slog.Logger
}

// NewMonitor creates a monitor. warningScore and criticalScore are the score
// cutoffs for status classification; thresholds are keyed by metric name.
func NewMonitor(thresholds map[string]Thresholds, warningScore, criticalScore int, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		reports:       make(map[string]Report),
		thresholds:    thresholds,
		warningScore:  warningScore,
		criticalScore: criticalScore,
		logger:        logger,
	}
}

// Observe folds a batch of samples for one component into a fresh report.
// The score starts at 100 and loses weighted points for every metric past
// its warning threshold; the worst offender supplies the bottleneck label.
func (m *Monitor) Observe(component string, samples []Sample) Report {
	score := 100.0
	worstPenalty := 0.0
	report := Report{Component: component}

	for _, s := range samples {
		th, ok := m.thresholds[s.Metric]
		if !ok {
			continue
		}
		penalty := th.Weight * deviation(s.Value, th)
		score -= penalty
		if penalty > worstPenalty {
			worstPenalty = penalty
			report.Bottleneck = s.Bottleneck
			report.MetricName = s.Metric
			report.MetricValue = s.Value
			report.Trend = s.Trend
		}
	}

	if score < 0 {
		score = 0
	}
	report.Score = int(score)
	report.Status = m.classify(report.Score)
	if report.Status == StatusHealthy {
		report.Bottleneck = ""
	}

	m.mu.Lock()
	previous, had := m.reports[component]
	m.reports[component] = report
	m.mu.Unlock()

	if had && abs(previous.Score-report.Score) > 10 {
		m.logger.Info("significant health change",
			"component", component,
			"previous_score", previous.Score,
			"score", report.Score,
			"status", report.Status)
	}
	return report
}

// Component returns the last report for a component, if any.
func (m *Monitor) Component(component string) (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[component]
	return r, ok
}

// System aggregates all component reports: average score, worst status, and
// the names of components scoring under 70 joined as the bottleneck.
func (m *Monitor) System() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.reports) == 0 {
		return Report{Component: "system", Score: 0, Status: StatusCritical, Bottleneck: "no components monitored"}
	}

	total := 0
	worst := StatusHealthy
	var lagging []string
	for _, r := range m.reports {
		total += r.Score
		if statusRank(r.Status) > statusRank(worst) {
			worst = r.Status
		}
		if r.Score < 70 {
			lagging = append(lagging, r.Component)
		}
	}
	sort.Strings(lagging)

	report := Report{
		Component: "system",
		Score:     total / len(m.reports),
		Status:    worst,
	}
	if len(lagging) > 0 {
		report.Bottleneck = strings.Join(lagging, ", ")
	}
	return report
}

// Bottlenecks returns the lowest-scoring fifth of components (at least one)
// that fall under a score of 80, worst first.
func (m *Monitor) Bottlenecks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		component string
		score     int
	}
	all := make([]scored, 0, len(m.reports))
	for _, r := range m.reports {
		all = append(all, scored{r.Component, r.Score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score < all[j].score
		}
		return all[i].component < all[j].component
	})

	take := len(all) / 5
	if take < 1 {
		take = 1
	}
	var out []string
	for _, s := range all {
		if len(out) >= take {
			break
		}
		if s.score < 80 {
			out = append(out, s.component)
		}
	}
	return out
}

func (m *Monitor) classify(score int) Status {
	switch {
	case score < m.criticalScore:
		return StatusCritical
	case score < m.warningScore:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// deviation maps a value onto [0, 1.5]: 0 below warning, 1 at critical,
// capped at 1.5 beyond.
func deviation(value float64, th Thresholds) float64 {
	if value <= th.Warning {
		return 0
	}
	span := th.Critical - th.Warning
	if span <= 0 {
		return 1.5
	}
	d := (value - th.Warning) / span
	if d > 1.5 {
		d = 1.5
	}
	return d
}

func statusRank(s Status) int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
