// Package pattern implements the four coordination strategies as a closed
// set of engines sharing one capability: coordinate a group of participants
// against the work queue and agent registry. The active engine is selected
// by configuration, never by runtime string matching in callers.
package pattern

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cadre-io/cadre/internal/store"
)

// Kind names a coordination pattern.
type Kind string

const (
	KindAtomic   Kind = "atomic"
	KindRealtime Kind = "realtime"
	KindScrum    Kind = "scrum"
	KindRoberts  Kind = "roberts"
)

// Kinds lists every supported pattern.
func Kinds() []Kind {
	return []Kind{KindAtomic, KindRealtime, KindScrum, KindRoberts}
}

// ParseKind validates a configured pattern name.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindAtomic, KindRealtime, KindScrum, KindRoberts:
		return Kind(name), nil
	}
	return "", fmt.Errorf("%q: %w", name, ErrUnknownPattern)
}

// Coordinator is the common capability of all pattern engines.
type Coordinator interface {
	// Pattern identifies the engine.
	Pattern() Kind
	// Coordinate runs one coordination round for the given participant
	// agent IDs and returns what the round produced.
	Coordinate(ctx context.Context, participants []string) (*Result, error)
}

// Result reports one coordination round. Only the fields relevant to the
// engine's pattern are populated.
type Result struct {
	Pattern      Kind              `json:"pattern"`
	Epoch        int64             `json:"epoch"`
	Participants int               `json:"participants"`
	// ClaimedWork maps agent ID to the work item it claimed (atomic).
	ClaimedWork map[string]string `json:"claimed_work,omitempty"`
	// Conflicts counts claim attempts lost to another agent (atomic).
	Conflicts int `json:"conflicts,omitempty"`
	// Teams is the sprint team breakdown (scrum).
	Teams []Team `json:"teams,omitempty"`
	// SprintID identifies the produced sprint plan (scrum).
	SprintID string `json:"sprint_id,omitempty"`
	// Flushed and Flagged count events drained and over-budget (realtime).
	Flushed int `json:"flushed,omitempty"`
	Flagged int `json:"flagged,omitempty"`
	// DecidedMotions lists motions resolved this round (roberts).
	DecidedMotions []string `json:"decided_motions,omitempty"`
}

// sessionPath is where the active session state lives, keyed by epoch so
// rounds are totally ordered across patterns.
const sessionPath = "coordination/active.json"

// SessionRecord is the persisted session state for the selected pattern.
type SessionRecord struct {
	Epoch    int64            `json:"epoch"`
	Pattern  Kind             `json:"pattern"`
	Atomic   *AtomicSession   `json:"atomic,omitempty"`
	Realtime *RealtimeSession `json:"realtime,omitempty"`
	Scrum    *ScrumSession    `json:"scrum,omitempty"`
	Roberts  *RobertsSession  `json:"roberts,omitempty"`
}

// updateSession mutates the persisted session record inside its critical
// section. fn receives a zero record when none exists yet.
func updateSession(ctx context.Context, st *store.Store, fn func(*SessionRecord) error) error {
	return st.WithLock(ctx, "coordination/active", func() error {
		rec, version, err := loadSession(ctx, st)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding session: %w", err)
		}
		_, err = st.Write(ctx, sessionPath, payload, version+1)
		return err
	})
}

func loadSession(ctx context.Context, st *store.Store) (*SessionRecord, int64, error) {
	receipt, err := st.Read(ctx, sessionPath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &SessionRecord{}, 0, nil
		}
		return nil, 0, err
	}
	var rec SessionRecord
	if err := json.Unmarshal(receipt.Payload, &rec); err != nil {
		return nil, 0, fmt.Errorf("decoding session: %w", err)
	}
	return &rec, receipt.Version, nil
}

// ReadSession returns the persisted session state, if any.
func ReadSession(ctx context.Context, st *store.Store) (*SessionRecord, error) {
	rec, _, err := loadSession(ctx, st)
	return rec, err
}
