package pattern

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cadre-io/cadre/internal/ids"
	"github.com/cadre-io/cadre/internal/store"
	"github.com/cadre-io/cadre/internal/telemetry"
)

// RealtimeSession is the persisted sync state of the realtime pattern.
type RealtimeSession struct {
	SequenceCounter uint64  `json:"sequence_counter"`
	Buffered        int     `json:"buffered"`
	FlushedTotal    uint64  `json:"flushed_total"`
	FlaggedTotal    uint64  `json:"flagged_total"`
	LastFlushEpoch  int64   `json:"last_flush_epoch,omitempty"`
	BatchLatencyMS  float64 `json:"batch_latency_ms,omitempty"`
	BatchThroughput float64 `json:"batch_throughput_per_s,omitempty"`
}

// Event is one sequenced submission in the realtime buffer.
type Event struct {
	Sequence    uint64    `json:"sequence"`
	Timestamp   int64     `json:"timestamp_ns"`
	Source      string    `json:"source"`
	Payload     string    `json:"payload"`
	OverBudget  bool      `json:"over_budget,omitempty"`
	SubmittedAt time.Time `json:"-"`
}

// RealtimeEngine buffers sequence-numbered events and flushes them in
// batches, reporting per-batch latency and throughput. Submissions whose
// handling exceeds the latency budget are flagged for observability, never
// rejected.
type RealtimeEngine struct {
	store         *store.Store
	ids           *ids.Generator
	emitter       telemetry.Emitter
	logger        *slog.Logger
	flushInterval time.Duration
	batchSize     int
	latencyBudget time.Duration

	mu       sync.Mutex
	sequence uint64
	buffer   []Event
	flushed  uint64
	flagged  uint64
}

// NewRealtimeEngine creates the realtime pattern engine.
func NewRealtimeEngine(st *store.Store, gen *ids.Generator, emitter telemetry.Emitter, logger *slog.Logger, flushInterval time.Duration, batchSize int, latencyBudget time.Duration) *RealtimeEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	return &RealtimeEngine{
		store:         st,
		ids:           gen,
		emitter:       emitter,
		logger:        logger,
		flushInterval: flushInterval,
		batchSize:     batchSize,
		latencyBudget: latencyBudget,
	}
}

// Pattern identifies the engine.
func (e *RealtimeEngine) Pattern() Kind { return KindRealtime }

// Submit timestamps and sequence-numbers an event and buffers it. The
// returned event carries its assigned sequence and over-budget flag.
func (e *RealtimeEngine) Submit(source, payload string) Event {
	started := time.Now()

	e.mu.Lock()
	e.sequence++
	ev := Event{
		Sequence:    e.sequence,
		Timestamp:   e.ids.Epoch(),
		Source:      source,
		Payload:     payload,
		SubmittedAt: started,
	}
	if time.Since(started) > e.latencyBudget {
		ev.OverBudget = true
		e.flagged++
	}
	e.buffer = append(e.buffer, ev)
	e.mu.Unlock()

	if ev.OverBudget {
		e.logger.Warn("submission exceeded latency budget",
			"sequence", ev.Sequence,
			"budget", e.latencyBudget)
	}
	return ev
}

// Flush drains up to one batch from the buffer and persists the sync state.
// It returns the drained events.
func (e *RealtimeEngine) Flush(ctx context.Context) ([]Event, error) {
	started := time.Now()
	epoch := e.ids.Epoch()
	timer := telemetry.Start(e.emitter, "pattern.realtime.flush").WithEpoch(epoch)

	e.mu.Lock()
	n := len(e.buffer)
	if n > e.batchSize {
		n = e.batchSize
	}
	batch := make([]Event, n)
	copy(batch, e.buffer[:n])
	e.buffer = e.buffer[n:]
	e.flushed += uint64(n)
	remaining := len(e.buffer)
	sequence := e.sequence
	flushedTotal := e.flushed
	flaggedTotal := e.flagged
	e.mu.Unlock()

	var latencyMS, throughput float64
	if n > 0 {
		oldest := batch[0].SubmittedAt
		latencyMS = float64(time.Since(oldest).Microseconds()) / 1000.0
		if elapsed := time.Since(started).Seconds(); elapsed > 0 {
			throughput = float64(n) / elapsed
		}
	}

	err := updateSession(ctx, e.store, func(rec *SessionRecord) error {
		rec.Epoch = epoch
		rec.Pattern = KindRealtime
		rec.Realtime = &RealtimeSession{
			SequenceCounter: sequence,
			Buffered:        remaining,
			FlushedTotal:    flushedTotal,
			FlaggedTotal:    flaggedTotal,
			LastFlushEpoch:  epoch,
			BatchLatencyMS:  latencyMS,
			BatchThroughput: throughput,
		}
		return nil
	})
	timer.WithParticipants(n).Done(ctx, err, store.ErrorKind(err))
	if err != nil {
		return nil, err
	}

	if n > 0 {
		e.logger.Debug("realtime batch flushed",
			"events", n,
			"remaining", remaining,
			"batch_latency_ms", latencyMS)
	}
	return batch, nil
}

// Run flushes on the configured interval until the context is done. The
// final flush drains whatever is left.
func (e *RealtimeEngine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), e.flushInterval)
			defer cancel()
			_, err := e.Flush(flushCtx)
			if err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Flush(ctx); err != nil {
				return err
			}
		}
	}
}

// Coordinate runs one realtime round: every participant contributes a sync
// event, then the batch is flushed.
func (e *RealtimeEngine) Coordinate(ctx context.Context, participants []string) (*Result, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	for _, agentID := range participants {
		e.Submit(agentID, "sync")
	}
	batch, err := e.Flush(ctx)
	if err != nil {
		return nil, err
	}

	flagged := 0
	for _, ev := range batch {
		if ev.OverBudget {
			flagged++
		}
	}
	rec, err := ReadSession(ctx, e.store)
	if err != nil {
		return nil, err
	}
	return &Result{
		Pattern:      KindRealtime,
		Epoch:        rec.Epoch,
		Participants: len(participants),
		Flushed:      len(batch),
		Flagged:      flagged,
	}, nil
}
