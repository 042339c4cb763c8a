package work

import (
	"fmt"
	"time"
)

// Status represents a work item's lifecycle state. Transitions are monotone
// through the lifecycle graph; the only backward edge is timeout recovery
// (claimed/in_progress back to pending).
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ReasonMaxRetries is the failure reason recorded when the retry budget is
// exhausted by timeout recovery.
const ReasonMaxRetries = "max_retries_exceeded"

// Item is one unit of claimable work. At most one agent holds ClaimedBy at
// any time; the filesystem's rename atomicity plus the item lock enforce it.
type Item struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Priority    float64    `json:"priority"`
	Status      Status     `json:"status"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	ClaimNS     int64      `json:"claim_timestamp_ns,omitempty"`
	Epoch       int64      `json:"coordination_epoch,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Progress    int        `json:"progress_percentage"`
	Result      string     `json:"result,omitempty"`
	Attempts    int        `json:"attempts"`
}

// suffix returns the filename suffix encoding the item's status, so a
// directory scan reveals queue state without opening files.
func (i *Item) suffix() string {
	switch i.Status {
	case StatusPending:
		return "todo"
	case StatusClaimed, StatusInProgress:
		return "claimed_" + i.ClaimedBy
	case StatusCompleted:
		return "completed_" + i.ClaimedBy
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

func (i *Item) filename() string {
	return fmt.Sprintf("%s.%s", i.ID, i.suffix())
}
