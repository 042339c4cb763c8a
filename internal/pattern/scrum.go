package pattern

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cadre-io/cadre/internal/domain/work"
	"github.com/cadre-io/cadre/internal/ids"
	"github.com/cadre-io/cadre/internal/store"
	"github.com/cadre-io/cadre/internal/telemetry"
)

// Team is one sprint team in a scrum-at-scale session.
type Team struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// BacklogItem is a work queue entry assigned to a team for the sprint.
type BacklogItem struct {
	WorkID   string  `json:"work_id"`
	Type     string  `json:"type"`
	Priority float64 `json:"priority"`
	Team     string  `json:"team"`
}

// ScrumSession is the persisted sprint plan.
type ScrumSession struct {
	SprintID string        `json:"sprint_id"`
	Epoch    int64         `json:"epoch"`
	Teams    []Team        `json:"teams"`
	Backlog  []BacklogItem `json:"backlog"`
	// ScrumOfScrums groups team names into a coordination tier once the
	// team count exceeds the scaling threshold.
	ScrumOfScrums [][]string `json:"scrum_of_scrums,omitempty"`
}

// ScrumEngine partitions participants into bounded teams and produces a
// sprint plan from the pending work queue.
type ScrumEngine struct {
	store          *store.Store
	work           *work.Service
	ids            *ids.Generator
	emitter        telemetry.Emitter
	logger         *slog.Logger
	minTeamSize    int
	maxTeamSize    int
	scaleThreshold int
}

// NewScrumEngine creates the scrum-at-scale pattern engine.
func NewScrumEngine(st *store.Store, workSvc *work.Service, gen *ids.Generator, emitter telemetry.Emitter, logger *slog.Logger, minTeamSize, maxTeamSize, scaleThreshold int) *ScrumEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	return &ScrumEngine{
		store:          st,
		work:           workSvc,
		ids:            gen,
		emitter:        emitter,
		logger:         logger,
		minTeamSize:    minTeamSize,
		maxTeamSize:    maxTeamSize,
		scaleThreshold: scaleThreshold,
	}
}

// Pattern identifies the engine.
func (e *ScrumEngine) Pattern() Kind { return KindScrum }

// Coordinate runs sprint planning: partition participants into teams,
// pull the backlog from pending work, assign items round-robin, and add a
// scrum-of-scrums tier when the team count crosses the scaling threshold.
func (e *ScrumEngine) Coordinate(ctx context.Context, participants []string) (*Result, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	epoch := e.ids.Epoch()
	timer := telemetry.Start(e.emitter, "pattern.scrum.coordinate").WithEpoch(epoch).WithParticipants(len(participants))

	teams := e.partition(participants)
	pending, err := e.work.ListPending(ctx)
	if err != nil {
		timer.Done(ctx, err, store.ErrorKind(err))
		return nil, err
	}

	backlog := make([]BacklogItem, 0, len(pending))
	for i, item := range pending {
		backlog = append(backlog, BacklogItem{
			WorkID:   item.ID,
			Type:     item.Type,
			Priority: item.Priority,
			Team:     teams[i%len(teams)].Name,
		})
	}

	session := &ScrumSession{
		SprintID: e.ids.NextID("sprint"),
		Epoch:    epoch,
		Teams:    teams,
		Backlog:  backlog,
	}
	if len(teams) > e.scaleThreshold {
		session.ScrumOfScrums = e.tier(teams)
	}

	err = updateSession(ctx, e.store, func(rec *SessionRecord) error {
		rec.Epoch = epoch
		rec.Pattern = KindScrum
		rec.Scrum = session
		return nil
	})
	timer.Done(ctx, err, store.ErrorKind(err))
	if err != nil {
		return nil, err
	}

	e.logger.Info("sprint planned",
		"sprint_id", session.SprintID,
		"teams", len(teams),
		"backlog", len(backlog),
		"scaled", session.ScrumOfScrums != nil)
	return &Result{
		Pattern:      KindScrum,
		Epoch:        epoch,
		Participants: len(participants),
		Teams:        teams,
		SprintID:     session.SprintID,
	}, nil
}

// partition splits participants into the fewest teams that respect the
// maximum size, spreading members round-robin so sizes stay within one of
// each other. The maximum bound always wins: when it conflicts with the
// minimum, teams run undersized rather than oversized, and fewer
// participants than the minimum still form one team rather than nothing.
func (e *ScrumEngine) partition(participants []string) []Team {
	count := (len(participants) + e.maxTeamSize - 1) / e.maxTeamSize
	if count < 1 {
		count = 1
	}
	if len(participants)/count < e.minTeamSize {
		e.logger.Warn("teams below minimum size",
			"participants", len(participants), "teams", count, "min_team_size", e.minTeamSize)
	}

	teams := make([]Team, count)
	for i := range teams {
		teams[i].Name = fmt.Sprintf("team-%02d", i+1)
	}
	for i, member := range participants {
		t := &teams[i%count]
		t.Members = append(t.Members, member)
	}
	return teams
}

// tier groups team names into scrum-of-scrums clusters of at most the
// scaling threshold.
func (e *ScrumEngine) tier(teams []Team) [][]string {
	var tiers [][]string
	var current []string
	for _, t := range teams {
		current = append(current, t.Name)
		if len(current) == e.scaleThreshold {
			tiers = append(tiers, current)
			current = nil
		}
	}
	if len(current) > 0 {
		tiers = append(tiers, current)
	}
	return tiers
}
