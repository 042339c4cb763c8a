package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cadre-io/cadre/internal/domain/work"
)

func terminalItem(id, agentID string, status work.Status) *work.Item {
	now := time.Now().Round(time.Second)
	return &work.Item{
		ID:          id,
		Type:        "generic",
		Priority:    0.5,
		Status:      status,
		ClaimedBy:   agentID,
		Epoch:       42,
		CreatedAt:   now.Add(-time.Minute),
		CompletedAt: &now,
		Attempts:    1,
		Result:      "done",
	}
}

func TestArchiveWork_Roundtrip(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewArchiveRepository(db)

	item := terminalItem("work_1", "agent_1", work.StatusCompleted)
	require.NoError(t, repo.ArchiveWork(ctx, item))

	items, err := repo.ListArchived(ctx, ListArchivedOptions{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "work_1", items[0].ID)
	require.Equal(t, work.StatusCompleted, items[0].Status)
	require.Equal(t, "agent_1", items[0].ClaimedBy)
	require.Equal(t, int64(42), items[0].Epoch)
	require.NotNil(t, items[0].CompletedAt)
}

func TestArchiveWork_RejectsNonTerminal(t *testing.T) {
	db := NewTestDB(t)
	repo := NewArchiveRepository(db)

	item := terminalItem("work_1", "agent_1", work.StatusClaimed)
	require.Error(t, repo.ArchiveWork(context.Background(), item))
}

func TestArchiveWork_Idempotent(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewArchiveRepository(db)

	item := terminalItem("work_1", "agent_1", work.StatusFailed)
	require.NoError(t, repo.ArchiveWork(ctx, item))
	require.NoError(t, repo.ArchiveWork(ctx, item))

	items, err := repo.ListArchived(ctx, ListArchivedOptions{})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestListArchived_Filters(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewArchiveRepository(db)

	require.NoError(t, repo.ArchiveWork(ctx, terminalItem("work_1", "agent_1", work.StatusCompleted)))
	require.NoError(t, repo.ArchiveWork(ctx, terminalItem("work_2", "agent_2", work.StatusFailed)))
	require.NoError(t, repo.ArchiveWork(ctx, terminalItem("work_3", "agent_1", work.StatusCancelled)))

	items, err := repo.ListArchived(ctx, ListArchivedOptions{Status: work.StatusFailed})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "work_2", items[0].ID)

	items, err = repo.ListArchived(ctx, ListArchivedOptions{ClaimedBy: "agent_1"})
	require.NoError(t, err)
	require.Len(t, items, 2)

	items, err = repo.ListArchived(ctx, ListArchivedOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestActivityLog(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewArchiveRepository(db)

	first := &ActivityEntry{
		CorrelationID: "corr-1",
		Operation:     "work.claim",
		AgentID:       "agent_1",
		WorkID:        "work_1",
		Detail:        `{"epoch":42}`,
		Epoch:         42,
	}
	require.NoError(t, repo.LogActivity(ctx, first))
	require.Greater(t, first.ID, int64(0))

	second := &ActivityEntry{
		CorrelationID: "corr-2",
		Operation:     "pattern.atomic.coordinate",
		Epoch:         43,
	}
	require.NoError(t, repo.LogActivity(ctx, second))

	entries, err := repo.ListActivity(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, second.Operation, entries[0].Operation, "newest first")
	require.Equal(t, first.Operation, entries[1].Operation)
	require.Equal(t, "agent_1", entries[1].AgentID)
	require.Equal(t, "work_1", entries[1].WorkID)

	entries, err = repo.ListActivity(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
