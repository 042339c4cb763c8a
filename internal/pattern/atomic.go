package pattern

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cadre-io/cadre/internal/domain/work"
	"github.com/cadre-io/cadre/internal/ids"
	"github.com/cadre-io/cadre/internal/store"
	"github.com/cadre-io/cadre/internal/telemetry"
)

// AtomicSession is the persisted state of the atomic pattern: plain claim
// distribution with the lock and rename semantics of the store.
type AtomicSession struct {
	Epoch            int64         `json:"epoch"`
	LockDuration     time.Duration `json:"lock_duration"`
	ConflictDetected bool          `json:"conflict_detected"`
}

// AtomicEngine is the thinnest coordinator: each participant pulls work
// straight off the queue; the store's claim serialization is the whole
// algorithm.
type AtomicEngine struct {
	store   *store.Store
	work    *work.Service
	ids     *ids.Generator
	emitter telemetry.Emitter
	logger  *slog.Logger
}

// NewAtomicEngine creates the atomic pattern engine.
func NewAtomicEngine(st *store.Store, workSvc *work.Service, gen *ids.Generator, emitter telemetry.Emitter, logger *slog.Logger) *AtomicEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	return &AtomicEngine{store: st, work: workSvc, ids: gen, emitter: emitter, logger: logger}
}

// Pattern identifies the engine.
func (e *AtomicEngine) Pattern() Kind { return KindAtomic }

// Coordinate has every participant claim its next item. Claims lost to
// another agent are counted as conflicts and the loop moves on; that is the
// zero-conflict guarantee working, not failing.
func (e *AtomicEngine) Coordinate(ctx context.Context, participants []string) (*Result, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	epoch := e.ids.Epoch()
	started := time.Now()
	timer := telemetry.Start(e.emitter, "pattern.atomic.coordinate").WithEpoch(epoch).WithParticipants(len(participants))

	result := &Result{
		Pattern:      KindAtomic,
		Epoch:        epoch,
		Participants: len(participants),
		ClaimedWork:  make(map[string]string),
	}

	for _, agentID := range participants {
		item, err := e.claimWithRetry(ctx, agentID, result)
		if err != nil {
			if errors.Is(err, work.ErrNoPendingWork) {
				continue
			}
			timer.Done(ctx, err, store.ErrorKind(err))
			return nil, err
		}
		result.ClaimedWork[agentID] = item.ID
	}

	err := updateSession(ctx, e.store, func(rec *SessionRecord) error {
		rec.Epoch = epoch
		rec.Pattern = KindAtomic
		rec.Atomic = &AtomicSession{
			Epoch:            epoch,
			LockDuration:     time.Since(started),
			ConflictDetected: result.Conflicts > 0,
		}
		return nil
	})
	timer.Done(ctx, err, store.ErrorKind(err))
	if err != nil {
		return nil, err
	}

	e.logger.Info("atomic round complete",
		"epoch", epoch,
		"participants", len(participants),
		"claims", len(result.ClaimedWork),
		"conflicts", result.Conflicts)
	return result, nil
}

// claimWithRetry walks pending candidates for one agent, counting lost
// races until a claim wins or candidates run out.
func (e *AtomicEngine) claimWithRetry(ctx context.Context, agentID string, result *Result) (*work.Item, error) {
	pending, err := e.work.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, candidate := range pending {
		item, err := e.work.Claim(ctx, candidate.ID, agentID)
		if err != nil {
			if errors.Is(err, work.ErrAlreadyClaimed) {
				result.Conflicts++
				continue
			}
			if errors.Is(err, work.ErrWorkNotFound) {
				continue
			}
			return nil, err
		}
		return item, nil
	}
	return nil, work.ErrNoPendingWork
}
