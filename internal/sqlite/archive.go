package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cadre-io/cadre/internal/domain/work"
)

// ArchiveRepository persists terminal work items and coordination activity
// in SQLite after they are compacted out of the coordination directory.
type ArchiveRepository struct {
	db *DB
}

// NewArchiveRepository creates a new ArchiveRepository
func NewArchiveRepository(db *DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// ArchiveWork inserts a terminal work item. Re-archiving the same item is
// idempotent.
func (r *ArchiveRepository) ArchiveWork(ctx context.Context, item *work.Item) error {
	if !item.Status.Terminal() {
		return fmt.Errorf("work item %s is not terminal (%s)", item.ID, item.Status)
	}

	query := `
		INSERT OR REPLACE INTO archived_work (
			id, type, priority, status, claimed_by,
			result, attempts, epoch, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var claimedBy sql.NullString
	if item.ClaimedBy != "" {
		claimedBy = sql.NullString{String: item.ClaimedBy, Valid: true}
	}
	var completedAt sql.NullTime
	if item.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *item.CompletedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.Type,
		item.Priority,
		string(item.Status),
		claimedBy,
		item.Result,
		item.Attempts,
		item.Epoch,
		item.CreatedAt,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive work item: %w", err)
	}

	return nil
}

// ListArchivedOptions filters ListArchived results.
type ListArchivedOptions struct {
	Status    work.Status
	ClaimedBy string
	Limit     int
}

// ListArchived returns archived work items, newest first.
func (r *ArchiveRepository) ListArchived(ctx context.Context, opts ListArchivedOptions) ([]work.Item, error) {
	query := `
		SELECT id, type, priority, status, claimed_by,
		       result, attempts, epoch, created_at, completed_at
		FROM archived_work
		WHERE 1 = 1
	`

	args := []interface{}{}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.ClaimedBy != "" {
		query += " AND claimed_by = ?"
		args = append(args, opts.ClaimedBy)
	}

	query += " ORDER BY archived_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived work: %w", err)
	}
	defer rows.Close()

	var items []work.Item
	for rows.Next() {
		var item work.Item
		var status string
		var claimedBy sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.Type,
			&item.Priority,
			&status,
			&claimedBy,
			&item.Result,
			&item.Attempts,
			&item.Epoch,
			&item.CreatedAt,
			&completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan archived work item: %w", err)
		}
		item.Status = work.Status(status)
		if claimedBy.Valid {
			item.ClaimedBy = claimedBy.String
		}
		if completedAt.Valid {
			t := completedAt.Time
			item.CompletedAt = &t
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived work rows: %w", err)
	}

	return items, nil
}

// ActivityEntry is one row of the coordination activity log.
type ActivityEntry struct {
	ID            int64
	CorrelationID string
	Operation     string
	AgentID       string
	WorkID        string
	Detail        string
	Epoch         int64
	CreatedAt     time.Time
}

// LogActivity inserts a new activity entry
func (r *ArchiveRepository) LogActivity(ctx context.Context, entry *ActivityEntry) error {
	query := `
		INSERT INTO activity_log (
			correlation_id, operation, agent_id, work_id, detail, epoch
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	var agentID, workID sql.NullString
	if entry.AgentID != "" {
		agentID = sql.NullString{String: entry.AgentID, Valid: true}
	}
	if entry.WorkID != "" {
		workID = sql.NullString{String: entry.WorkID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		entry.CorrelationID,
		entry.Operation,
		agentID,
		workID,
		entry.Detail,
		entry.Epoch,
	)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		entry.ID = id
	}

	return nil
}

// ListActivity returns recent activity entries, newest first.
func (r *ArchiveRepository) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	query := `
		SELECT id, correlation_id, operation, agent_id, work_id, detail, epoch, created_at
		FROM activity_log
		ORDER BY id DESC
	`

	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var entry ActivityEntry
		var agentID, workID sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.CorrelationID,
			&entry.Operation,
			&agentID,
			&workID,
			&entry.Detail,
			&entry.Epoch,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		if agentID.Valid {
			entry.AgentID = agentID.String
		}
		if workID.Valid {
			entry.WorkID = workID.String
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}

	return entries, nil
}
