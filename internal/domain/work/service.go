// Package work implements the work queue and claiming protocol. Claiming is
// pull-based: agents list pending candidates and race compare-and-swap style
// claims; the per-item lock serializes attempts so exactly one wins.
package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cadre-io/cadre/internal/domain/agent"
	"github.com/cadre-io/cadre/internal/ids"
	"github.com/cadre-io/cadre/internal/store"
	"github.com/cadre-io/cadre/internal/telemetry"
)

const workDir = "work"

// Service handles the work item lifecycle over the coordination store.
type Service struct {
	store       *store.Store
	ids         *ids.Generator
	agents      *agent.Service
	emitter     telemetry.Emitter
	logger      *slog.Logger
	maxAttempts int
	claimTTL    time.Duration
	now         func() time.Time
}

// NewService creates a work queue service. agents may be nil when claim
// filtering by specialization is not wanted (tests, single-purpose tools).
func NewService(st *store.Store, gen *ids.Generator, agents *agent.Service, emitter telemetry.Emitter, logger *slog.Logger, maxAttempts int, claimTTL time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	return &Service{
		store:       st,
		ids:         gen,
		agents:      agents,
		emitter:     emitter,
		logger:      logger,
		maxAttempts: maxAttempts,
		claimTTL:    claimTTL,
		now:         time.Now,
	}
}

// CreateRequest describes a new work item.
type CreateRequest struct {
	Type     string
	Priority float64
}

// Create writes a pending work item and returns it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Item, error) {
	timer := telemetry.Start(s.emitter, "work.create")
	item, err := s.create(ctx, req)
	timer.Done(ctx, err, store.ErrorKind(err))
	return item, err
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*Item, error) {
	if req.Priority < 0 {
		return nil, fmt.Errorf("priority %.2f: %w", req.Priority, ErrInvalidPriority)
	}
	if strings.TrimSpace(req.Type) == "" {
		req.Type = "generic"
	}

	item := &Item{
		ID:        s.ids.NextID("work"),
		Type:      req.Type,
		Priority:  req.Priority,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	if err := s.writeItem(ctx, item, 1); err != nil {
		return nil, err
	}
	s.logger.Info("work item created", "work_id", item.ID, "type", item.Type, "priority", item.Priority)
	return item, nil
}

// Claim attempts to claim one specific work item for the agent. Inside the
// item's critical section the current status is compared against pending and
// swapped to claimed; losing the race surfaces ErrAlreadyClaimed, which the
// claiming loop treats as "try the next candidate".
func (s *Service) Claim(ctx context.Context, workID, agentID string) (*Item, error) {
	timer := telemetry.Start(s.emitter, "work.claim")
	item, err := s.claim(ctx, workID, agentID)
	if item != nil {
		timer.WithEpoch(item.Epoch)
	}
	timer.Done(ctx, err, claimErrorKind(err))
	return item, err
}

func (s *Service) claim(ctx context.Context, workID, agentID string) (*Item, error) {
	var claimed *Item
	err := s.store.WithLock(ctx, path.Join(workDir, workID), func() error {
		item, version, err := s.load(ctx, workID)
		if err != nil {
			return err
		}
		if item.Status != StatusPending {
			return fmt.Errorf("%s held by %s: %w", workID, item.ClaimedBy, ErrAlreadyClaimed)
		}

		previous := item.filename()
		epoch := s.ids.Epoch()
		item.Status = StatusClaimed
		item.ClaimedBy = agentID
		item.ClaimNS = epoch
		item.Epoch = epoch

		if err := s.writeItem(ctx, item, version+1); err != nil {
			return err
		}
		if err := s.store.Remove(ctx, path.Join(workDir, previous)); err != nil {
			return err
		}
		claimed = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("work item claimed", "work_id", workID, "agent_id", agentID, "epoch", claimed.Epoch)
	return claimed, nil
}

// ClaimNext pulls the best matching pending item for the agent: candidates
// are ordered by priority then age, filtered by the agent's specializations
// and capacity, and claimed one at a time until a claim wins.
func (s *Service) ClaimNext(ctx context.Context, agentID string) (*Item, error) {
	var spec *agent.Agent
	if s.agents != nil {
		var err error
		spec, err = s.agents.Get(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if spec.Capacity <= 0 {
			return nil, ErrNoPendingWork
		}
		if spec.WorkCapacity != nil {
			held, err := s.countHeld(ctx, agentID)
			if err != nil {
				return nil, err
			}
			if held >= *spec.WorkCapacity {
				return nil, ErrNoPendingWork
			}
		}
	}

	candidates, err := s.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range candidates {
		if spec != nil && !spec.HasSpecialization(item.Type) {
			continue
		}
		claimed, err := s.Claim(ctx, item.ID, agentID)
		if err != nil {
			if errors.Is(err, ErrAlreadyClaimed) || errors.Is(err, ErrWorkNotFound) {
				continue
			}
			return nil, err
		}
		return claimed, nil
	}
	return nil, ErrNoPendingWork
}

// Progress updates the claiming agent's progress percentage in place. The
// first progress report moves the item from claimed to in_progress. Each
// report refreshes the claim timestamp, so the timeout sweep measures
// inactivity rather than total runtime.
func (s *Service) Progress(ctx context.Context, workID, agentID string, pct int) (*Item, error) {
	if pct < 0 || pct > 100 {
		return nil, fmt.Errorf("progress %d: %w", pct, ErrInvalidProgress)
	}
	return s.transition(ctx, "work.progress", workID, func(item *Item) error {
		if item.Status != StatusClaimed && item.Status != StatusInProgress {
			return fmt.Errorf("progress on %s item %s: %w", item.Status, workID, ErrInvalidTransition)
		}
		if item.ClaimedBy != agentID {
			return fmt.Errorf("%s claimed by %s, caller %s: %w", workID, item.ClaimedBy, agentID, ErrNotOwner)
		}
		item.Status = StatusInProgress
		item.Progress = pct
		item.ClaimNS = s.ids.Epoch()
		return nil
	})
}

// Complete finishes the item successfully. Only the current owner may
// complete, and terminal items reject all further transitions.
func (s *Service) Complete(ctx context.Context, workID, agentID, result string) (*Item, error) {
	return s.transition(ctx, "work.complete", workID, func(item *Item) error {
		if err := requireOwner(item, agentID, workID); err != nil {
			return err
		}
		now := s.now()
		item.Status = StatusCompleted
		item.CompletedAt = &now
		item.Progress = 100
		item.Result = result
		return nil
	})
}

// Fail marks the item failed with a reason. Owner-only.
func (s *Service) Fail(ctx context.Context, workID, agentID, reason string) (*Item, error) {
	return s.transition(ctx, "work.fail", workID, func(item *Item) error {
		if err := requireOwner(item, agentID, workID); err != nil {
			return err
		}
		now := s.now()
		item.Status = StatusFailed
		item.CompletedAt = &now
		item.Result = reason
		return nil
	})
}

// Cancel withdraws the item. A pending item may be cancelled by anyone; a
// claimed item only by its owner.
func (s *Service) Cancel(ctx context.Context, workID, agentID string) (*Item, error) {
	return s.transition(ctx, "work.cancel", workID, func(item *Item) error {
		if item.Status.Terminal() {
			return fmt.Errorf("cancel %s item %s: %w", item.Status, workID, ErrInvalidTransition)
		}
		if item.Status != StatusPending && item.ClaimedBy != agentID {
			return fmt.Errorf("%s claimed by %s, caller %s: %w", workID, item.ClaimedBy, agentID, ErrNotOwner)
		}
		now := s.now()
		item.Status = StatusCancelled
		item.CompletedAt = &now
		return nil
	})
}

// Get returns the work item by ID regardless of status.
func (s *Service) Get(ctx context.Context, workID string) (*Item, error) {
	item, _, err := s.load(ctx, workID)
	return item, err
}

// ListPending returns claimable items, highest priority first, oldest first
// within a priority. The scan is only a candidate query; claim attempts
// re-validate state under the item lock.
func (s *Service) ListPending(ctx context.Context) ([]*Item, error) {
	items, err := s.list(ctx, "*.todo")
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// ListClaimed returns items currently held by any agent.
func (s *Service) ListClaimed(ctx context.Context) ([]*Item, error) {
	return s.list(ctx, "*.claimed_*")
}

// ListTerminal returns completed, failed and cancelled items, for archival.
func (s *Service) ListTerminal(ctx context.Context) ([]*Item, error) {
	var out []*Item
	for _, pattern := range []string{"*.completed_*", "*.failed", "*.cancelled"} {
		items, err := s.list(ctx, pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// SweepTimeouts resets items whose owner stopped heartbeating back to
// pending, bumping the retry counter. Items out of retries go to failed
// with ReasonMaxRetries. stale reports whether an agent's heartbeat window
// has lapsed; owners unknown to the registry count as stale.
func (s *Service) SweepTimeouts(ctx context.Context, stale func(agentID string) bool) (recovered, failed []string, err error) {
	timer := telemetry.Start(s.emitter, "work.sweep_timeouts")
	recovered, failed, err = s.sweepTimeouts(ctx, stale)
	timer.WithParticipants(len(recovered) + len(failed)).Done(ctx, err, store.ErrorKind(err))
	return recovered, failed, err
}

func (s *Service) sweepTimeouts(ctx context.Context, stale func(agentID string) bool) (recovered, failed []string, err error) {
	claimed, err := s.ListClaimed(ctx)
	if err != nil {
		return nil, nil, err
	}

	cutoff := s.now().Add(-s.claimTTL).UnixNano()
	for _, candidate := range claimed {
		if !stale(candidate.ClaimedBy) && candidate.ClaimNS > cutoff {
			continue
		}
		id := candidate.ID
		var outcome Status
		err := s.store.WithLock(ctx, path.Join(workDir, id), func() error {
			item, version, err := s.load(ctx, id)
			if err != nil {
				return err
			}
			// Re-check under the lock: the owner may have finished,
			// heartbeated or reported progress between the scan and now.
			if item.Status != StatusClaimed && item.Status != StatusInProgress {
				return nil
			}
			if !stale(item.ClaimedBy) && item.ClaimNS > cutoff {
				return nil
			}

			previous := item.filename()
			owner := item.ClaimedBy
			item.Attempts++
			if item.Attempts >= s.maxAttempts {
				now := s.now()
				item.Status = StatusFailed
				item.CompletedAt = &now
				item.Result = ReasonMaxRetries
			} else {
				item.Status = StatusPending
				item.ClaimedBy = ""
				item.ClaimNS = 0
				item.Progress = 0
			}
			if err := s.writeItem(ctx, item, version+1); err != nil {
				return err
			}
			if err := s.store.Remove(ctx, path.Join(workDir, previous)); err != nil {
				return err
			}
			outcome = item.Status
			s.logger.Warn("claim expired", "work_id", id, "owner", owner, "attempts", item.Attempts, "outcome", item.Status)
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrWorkNotFound) {
				continue
			}
			return recovered, failed, err
		}
		switch outcome {
		case StatusPending:
			recovered = append(recovered, id)
		case StatusFailed:
			failed = append(failed, id)
		}
	}
	return recovered, failed, nil
}

// Compact removes terminal items from the coordination tree after archive
// has a durable copy. archive is called per item before removal.
func (s *Service) Compact(ctx context.Context, archive func(context.Context, *Item) error) (int, error) {
	terminal, err := s.ListTerminal(ctx)
	if err != nil {
		return 0, err
	}
	compacted := 0
	for _, item := range terminal {
		if err := archive(ctx, item); err != nil {
			return compacted, fmt.Errorf("archiving %s: %w", item.ID, err)
		}
		if err := s.store.Remove(ctx, path.Join(workDir, item.filename())); err != nil {
			return compacted, err
		}
		compacted++
	}
	return compacted, nil
}

// transition applies fn inside the item's critical section, persisting the
// result under the status-encoding filename.
func (s *Service) transition(ctx context.Context, op, workID string, fn func(*Item) error) (*Item, error) {
	timer := telemetry.Start(s.emitter, op)
	var result *Item
	err := s.store.WithLock(ctx, path.Join(workDir, workID), func() error {
		item, version, err := s.load(ctx, workID)
		if err != nil {
			return err
		}
		previous := item.filename()
		if err := fn(item); err != nil {
			return err
		}
		if err := s.writeItem(ctx, item, version+1); err != nil {
			return err
		}
		if item.filename() != previous {
			if err := s.store.Remove(ctx, path.Join(workDir, previous)); err != nil {
				return err
			}
		}
		result = item
		return nil
	})
	if result != nil {
		timer.WithEpoch(result.Epoch)
	}
	timer.Done(ctx, err, store.ErrorKind(err))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func requireOwner(item *Item, agentID, workID string) error {
	if item.Status.Terminal() {
		return fmt.Errorf("%s item %s is terminal: %w", item.Status, workID, ErrInvalidTransition)
	}
	if item.Status == StatusPending {
		return fmt.Errorf("%s is unclaimed: %w", workID, ErrInvalidTransition)
	}
	if item.ClaimedBy != agentID {
		return fmt.Errorf("%s claimed by %s, caller %s: %w", workID, item.ClaimedBy, agentID, ErrNotOwner)
	}
	return nil
}

func (s *Service) load(ctx context.Context, workID string) (*Item, int64, error) {
	matches, err := s.store.Glob(ctx, path.Join(workDir, workID+".*"))
	if err != nil {
		return nil, 0, err
	}
	// A transition interrupted between writing the new status file and
	// removing the old one leaves the item under two names; the highest
	// version is the truth.
	var (
		best        *Item
		bestVersion int64
	)
	for _, p := range matches {
		if strings.HasSuffix(p, ".lock") || strings.Contains(p, ".tmp.") {
			continue
		}
		receipt, err := s.store.Read(ctx, p)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, 0, err
		}
		if best != nil && receipt.Version <= bestVersion {
			continue
		}
		var item Item
		if err := json.Unmarshal(receipt.Payload, &item); err != nil {
			return nil, 0, fmt.Errorf("decoding work record %s: %w", p, err)
		}
		best = &item
		bestVersion = receipt.Version
	}
	if best == nil {
		return nil, 0, fmt.Errorf("%s: %w", workID, ErrWorkNotFound)
	}
	return best, bestVersion, nil
}

func (s *Service) list(ctx context.Context, pattern string) ([]*Item, error) {
	paths, err := s.store.Glob(ctx, path.Join(workDir, pattern))
	if err != nil {
		return nil, err
	}
	items := make([]*Item, 0, len(paths))
	for _, p := range paths {
		receipt, err := s.store.Read(ctx, p)
		if err != nil {
			// Claims race the scan; vanished files just mean someone won.
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var item Item
		if err := json.Unmarshal(receipt.Payload, &item); err != nil {
			return nil, fmt.Errorf("decoding work record %s: %w", p, err)
		}
		items = append(items, &item)
	}
	return items, nil
}

func (s *Service) countHeld(ctx context.Context, agentID string) (int, error) {
	paths, err := s.store.Glob(ctx, path.Join(workDir, "*.claimed_"+agentID))
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

func (s *Service) writeItem(ctx context.Context, item *Item, version int64) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding work item %s: %w", item.ID, err)
	}
	_, err = s.store.Write(ctx, path.Join(workDir, item.filename()), payload, version)
	return err
}

// claimErrorKind keeps AlreadyClaimed distinguishable in telemetry without
// counting it as a failure class of its own.
func claimErrorKind(err error) string {
	if errors.Is(err, ErrAlreadyClaimed) {
		return "already_claimed"
	}
	return store.ErrorKind(err)
}
