package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cadre-io/cadre/internal/domain/agent"
	"github.com/cadre-io/cadre/internal/ids"
	"github.com/cadre-io/cadre/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(t.TempDir(), "test-writer", logger,
		store.WithLockPolicy(store.LockPolicy{
			Retries:    1000,
			Backoff:    time.Millisecond,
			BackoffCap: 5 * time.Millisecond,
			Timeout:    30 * time.Second,
		}))
	require.NoError(t, err)
	return NewService(st, ids.NewGenerator(), nil, nil, logger, 3, 90*time.Second)
}

func newTestServiceWithRegistry(t *testing.T) (*Service, *agent.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(t.TempDir(), "test-writer", logger)
	require.NoError(t, err)
	gen := ids.NewGenerator()
	agents := agent.NewService(st, gen, nil, logger, 16, 90*time.Second)
	return NewService(st, gen, agents, nil, logger, 3, 90*time.Second), agents
}

func TestCreate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Type: "ingest", Priority: 0.7})
	require.NoError(t, err)
	require.Equal(t, StatusPending, item.Status)
	require.Equal(t, "ingest", item.Type)
	require.Equal(t, 0, item.Attempts)

	got, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, item.ID, got.ID)
}

func TestCreate_DefaultsAndValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{})
	require.NoError(t, err)
	require.Equal(t, "generic", item.Type)

	_, err = svc.Create(ctx, CreateRequest{Priority: -1})
	require.ErrorIs(t, err, ErrInvalidPriority)
}

func TestClaim_Lifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Type: "ingest", Priority: 0.5})
	require.NoError(t, err)

	claimed, err := svc.Claim(ctx, item.ID, "agent_1")
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, claimed.Status)
	require.Equal(t, "agent_1", claimed.ClaimedBy)
	require.Greater(t, claimed.Epoch, int64(0))

	progressed, err := svc.Progress(ctx, item.ID, "agent_1", 40)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, progressed.Status)
	require.Equal(t, 40, progressed.Progress)

	done, err := svc.Complete(ctx, item.ID, "agent_1", "ok")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.Equal(t, 100, done.Progress)
	require.Equal(t, "ok", done.Result)
	require.NotNil(t, done.CompletedAt)
}

func TestClaim_AlreadyClaimed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, item.ID, "agent_1")
	require.NoError(t, err)

	_, err = svc.Claim(ctx, item.ID, "agent_2")
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestClaim_UnknownItem(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Claim(context.Background(), "work_0", "agent_1")
	require.ErrorIs(t, err, ErrWorkNotFound)
}

func TestClaim_ExactlyOneWinner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)

	const claimants = 50
	var mu sync.Mutex
	winners := 0
	losers := 0

	g := new(errgroup.Group)
	for i := 0; i < claimants; i++ {
		agentID := fmt.Sprintf("agent_%d", i)
		g.Go(func() error {
			_, err := svc.Claim(ctx, item.ID, agentID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrAlreadyClaimed):
				losers++
			default:
				return fmt.Errorf("%s: unexpected claim error: %w", agentID, err)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1, winners, "exactly one claim must win")
	require.Equal(t, claimants-1, losers)

	got, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, got.Status)
}

func TestProgress_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, item.ID, "agent_1")
	require.NoError(t, err)

	_, err = svc.Progress(ctx, item.ID, "agent_1", 101)
	require.ErrorIs(t, err, ErrInvalidProgress)

	_, err = svc.Progress(ctx, item.ID, "agent_2", 50)
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestComplete_OwnerOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, item.ID, "agent_1")
	require.NoError(t, err)

	_, err = svc.Complete(ctx, item.ID, "agent_2", "stolen")
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestComplete_PendingRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, item.ID, "agent_1", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTerminal_RejectsFurtherTransitions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, item.ID, "agent_1")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, item.ID, "agent_1", "done")
	require.NoError(t, err)

	_, err = svc.Complete(ctx, item.ID, "agent_1", "again")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Fail(ctx, item.ID, "agent_1", "late")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Cancel(ctx, item.ID, "agent_1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Claim(ctx, item.ID, "agent_2")
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestCancel(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	pending, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	cancelled, err := svc.Cancel(ctx, pending.ID, "anyone")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	claimed, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, claimed.ID, "agent_1")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, claimed.ID, "agent_2")
	require.ErrorIs(t, err, ErrNotOwner)
	_, err = svc.Cancel(ctx, claimed.ID, "agent_1")
	require.NoError(t, err)
}

func TestListPending_Ordering(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Distinct creation times make the tie-break deterministic regardless of
	// clock resolution.
	base := time.Now()
	step := 0
	svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	low, err := svc.Create(ctx, CreateRequest{Priority: 0.1})
	require.NoError(t, err)
	highOld, err := svc.Create(ctx, CreateRequest{Priority: 0.9})
	require.NoError(t, err)
	highNew, err := svc.Create(ctx, CreateRequest{Priority: 0.9})
	require.NoError(t, err)

	pending, err := svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, highOld.ID, pending[0].ID)
	require.Equal(t, highNew.ID, pending[1].ID)
	require.Equal(t, low.ID, pending[2].ID)
}

func TestListClaimedAndTerminal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, a.ID, "agent_1")
	require.NoError(t, err)
	_, err = svc.Claim(ctx, b.ID, "agent_1")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, b.ID, "agent_1", "ok")
	require.NoError(t, err)

	claimed, err := svc.ListClaimed(ctx)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, a.ID, claimed[0].ID)

	terminal, err := svc.ListTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	require.Equal(t, b.ID, terminal[0].ID)
}

func TestClaimNext_PrefersHighPriority(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Priority: 0.2})
	require.NoError(t, err)
	high, err := svc.Create(ctx, CreateRequest{Priority: 0.9})
	require.NoError(t, err)

	claimed, err := svc.ClaimNext(ctx, "agent_1")
	require.NoError(t, err)
	require.Equal(t, high.ID, claimed.ID)
}

func TestClaimNext_NoPendingWork(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ClaimNext(context.Background(), "agent_1")
	require.ErrorIs(t, err, ErrNoPendingWork)
}

func TestClaimNext_RespectsSpecializations(t *testing.T) {
	svc, agents := newTestServiceWithRegistry(t)
	ctx := context.Background()

	specialist, err := agents.Register(ctx, agent.RegisterRequest{
		Role:            "worker",
		Capacity:        1,
		Specializations: []string{"transform"},
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateRequest{Type: "ingest", Priority: 0.9})
	require.NoError(t, err)
	match, err := svc.Create(ctx, CreateRequest{Type: "transform", Priority: 0.1})
	require.NoError(t, err)

	claimed, err := svc.ClaimNext(ctx, specialist.ID)
	require.NoError(t, err)
	require.Equal(t, match.ID, claimed.ID)
}

func TestClaimNext_RespectsWorkCapacity(t *testing.T) {
	svc, agents := newTestServiceWithRegistry(t)
	ctx := context.Background()

	one := 1
	a, err := agents.Register(ctx, agent.RegisterRequest{
		Role:         "worker",
		Capacity:     1,
		WorkCapacity: &one,
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)

	_, err = svc.ClaimNext(ctx, a.ID)
	require.NoError(t, err)
	_, err = svc.ClaimNext(ctx, a.ID)
	require.ErrorIs(t, err, ErrNoPendingWork)
}

func TestClaimNext_ZeroCapacityAgent(t *testing.T) {
	svc, agents := newTestServiceWithRegistry(t)
	ctx := context.Background()

	a, err := agents.Register(ctx, agent.RegisterRequest{Role: "observer", Capacity: 0})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)

	_, err = svc.ClaimNext(ctx, a.ID)
	require.ErrorIs(t, err, ErrNoPendingWork)
}

func TestSweepTimeouts_RecoversExpiredClaims(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, item.ID, "agent_1")
	require.NoError(t, err)

	// Claim is fresh and the owner is alive: nothing to do.
	recovered, failed, err := svc.SweepTimeouts(ctx, func(string) bool { return false })
	require.NoError(t, err)
	require.Empty(t, recovered)
	require.Empty(t, failed)

	// Move the clock past the TTL.
	base := time.Now()
	svc.now = func() time.Time { return base.Add(2 * svc.claimTTL) }

	recovered, failed, err = svc.SweepTimeouts(ctx, func(string) bool { return false })
	require.NoError(t, err)
	require.Equal(t, []string{item.ID}, recovered)
	require.Empty(t, failed)

	got, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Empty(t, got.ClaimedBy)
	require.Equal(t, 1, got.Attempts)
}

func TestSweepTimeouts_ProgressKeepsClaimAlive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	base := time.Now()
	offset := time.Duration(0)
	clock := func() time.Time { return base.Add(offset) }
	svc.ids = ids.NewGeneratorWithClock(clock)
	svc.now = clock

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, item.ID, "agent_1")
	require.NoError(t, err)

	// Progress at 60s refreshes the claim, so at 120s only 60s of
	// inactivity have elapsed and the 90s TTL is not exceeded.
	offset = 60 * time.Second
	_, err = svc.Progress(ctx, item.ID, "agent_1", 30)
	require.NoError(t, err)

	offset = 120 * time.Second
	recovered, failed, err := svc.SweepTimeouts(ctx, func(string) bool { return false })
	require.NoError(t, err)
	require.Empty(t, recovered)
	require.Empty(t, failed)

	got, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, got.Status)

	// With no further reports the claim does expire.
	offset = 151 * time.Second
	recovered, failed, err = svc.SweepTimeouts(ctx, func(string) bool { return false })
	require.NoError(t, err)
	require.Equal(t, []string{item.ID}, recovered)
	require.Empty(t, failed)
}

func TestSweepTimeouts_StaleOwnerReleasesImmediately(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, item.ID, "agent_gone")
	require.NoError(t, err)

	recovered, failed, err := svc.SweepTimeouts(ctx, func(agentID string) bool {
		return agentID == "agent_gone"
	})
	require.NoError(t, err)
	require.Equal(t, []string{item.ID}, recovered)
	require.Empty(t, failed)
}

func TestSweepTimeouts_ExhaustedRetriesFail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)

	stale := func(string) bool { return true }
	for i := 0; i < svc.maxAttempts-1; i++ {
		_, err = svc.Claim(ctx, item.ID, "agent_flaky")
		require.NoError(t, err)
		recovered, failed, err := svc.SweepTimeouts(ctx, stale)
		require.NoError(t, err)
		require.Equal(t, []string{item.ID}, recovered)
		require.Empty(t, failed)
	}

	_, err = svc.Claim(ctx, item.ID, "agent_flaky")
	require.NoError(t, err)
	recovered, failed, err := svc.SweepTimeouts(ctx, stale)
	require.NoError(t, err)
	require.Empty(t, recovered)
	require.Equal(t, []string{item.ID}, failed)

	got, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, ReasonMaxRetries, got.Result)
}

func TestGet_PrefersNewestDuplicateRecord(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	claimed, err := svc.Claim(ctx, item.ID, "agent_1")
	require.NoError(t, err)

	// Simulate a claim interrupted after writing the claimed record but
	// before removing the pending one: both names exist, the pending copy
	// at the older version.
	stale := &Item{
		ID:        item.ID,
		Type:      item.Type,
		Priority:  item.Priority,
		Status:    StatusPending,
		CreatedAt: item.CreatedAt,
	}
	payload, err := json.Marshal(stale)
	require.NoError(t, err)
	_, err = svc.store.Write(ctx, "work/"+item.ID+".todo", payload, 1)
	require.NoError(t, err)

	got, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, got.Status)
	require.Equal(t, claimed.ClaimedBy, got.ClaimedBy)

	// The stale pending copy must not be claimable either.
	_, err = svc.Claim(ctx, item.ID, "agent_2")
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestCompact(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	done, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, done.ID, "agent_1")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, done.ID, "agent_1", "ok")
	require.NoError(t, err)

	open, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)

	var archived []string
	n, err := svc.Compact(ctx, func(_ context.Context, item *Item) error {
		archived = append(archived, item.ID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{done.ID}, archived)

	_, err = svc.Get(ctx, done.ID)
	require.ErrorIs(t, err, ErrWorkNotFound)
	_, err = svc.Get(ctx, open.ID)
	require.NoError(t, err)

	terminal, err := svc.ListTerminal(ctx)
	require.NoError(t, err)
	require.Empty(t, terminal)
}

func TestCompact_ArchiveFailureStopsRemoval(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateRequest{Priority: 0.5})
	require.NoError(t, err)
	_, err = svc.Claim(ctx, item.ID, "agent_1")
	require.NoError(t, err)
	_, err = svc.Fail(ctx, item.ID, "agent_1", "broke")
	require.NoError(t, err)

	n, err := svc.Compact(ctx, func(context.Context, *Item) error {
		return fmt.Errorf("archive unavailable")
	})
	require.Error(t, err)
	require.Equal(t, 0, n)

	// The item survives for the next compaction pass.
	got, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
}
