package pattern

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cadre-io/cadre/internal/domain/agent"
	"github.com/cadre-io/cadre/internal/domain/work"
	"github.com/cadre-io/cadre/internal/ids"
	"github.com/cadre-io/cadre/internal/store"
	"github.com/cadre-io/cadre/internal/telemetry"
)

// MotionType classifies a parliamentary motion.
type MotionType string

const (
	MotionMain       MotionType = "main"
	MotionSubsidiary MotionType = "subsidiary"
	MotionPrivileged MotionType = "privileged"
	MotionIncidental MotionType = "incidental"
)

// workPriority maps motion types onto work queue priorities: privileged
// matters outrank procedure, which outranks ordinary business.
func (t MotionType) workPriority() float64 {
	switch t {
	case MotionPrivileged:
		return 0.9
	case MotionIncidental:
		return 0.8
	case MotionMain:
		return 0.6
	case MotionSubsidiary:
		return 0.4
	}
	return 0
}

// requiresSecond reports whether the motion type needs a second before a
// vote. Incidental motions (points of procedure) do not.
func (t MotionType) requiresSecond() bool {
	return t != MotionIncidental
}

// MotionState tracks a motion through parliamentary procedure.
type MotionState string

const (
	MotionSubmitted MotionState = "submitted"
	MotionSeconded  MotionState = "seconded"
	MotionDebated   MotionState = "debated"
	MotionVoting    MotionState = "voting"
	MotionDecided   MotionState = "decided"
)

// VoteChoice is one member's vote.
type VoteChoice string

const (
	VoteAye     VoteChoice = "aye"
	VoteNay     VoteChoice = "nay"
	VoteAbstain VoteChoice = "abstain"
	VotePresent VoteChoice = "present"
)

// Motion is one item of parliamentary business.
type Motion struct {
	ID          string                `json:"id"`
	Type        MotionType            `json:"type"`
	Description string                `json:"description"`
	Proposer    string                `json:"proposer"`
	Seconder    string                `json:"seconder,omitempty"`
	State       MotionState           `json:"state"`
	Votes       map[string]VoteChoice `json:"votes,omitempty"`
	Adopted     bool                  `json:"adopted"`
	SubmittedAt int64                 `json:"submitted_at"`
}

// RobertsSession is the persisted parliamentary session state.
type RobertsSession struct {
	SessionID    string   `json:"session_id"`
	Epoch        int64    `json:"epoch"`
	Present      []string `json:"present"`
	ActiveMotion *Motion  `json:"active_motion,omitempty"`
	MotionQueue  []Motion `json:"motion_queue,omitempty"`
	Decided      []Motion `json:"decided,omitempty"`
}

// RobertsEngine is the parliamentary decision pattern: motions are
// submitted, seconded, debated, voted and decided, with quorum enforced at
// the vote and every state change derived from the persisted session.
type RobertsEngine struct {
	store         *store.Store
	ids           *ids.Generator
	agents        *agent.Service
	work          *work.Service
	emitter       telemetry.Emitter
	logger        *slog.Logger
	quorumMinimum int
	quorumPercent int
}

// NewRobertsEngine creates the Roberts Rules pattern engine. work may be
// nil to disable adopted-motion bridging into the work queue.
func NewRobertsEngine(st *store.Store, gen *ids.Generator, agents *agent.Service, workSvc *work.Service, emitter telemetry.Emitter, logger *slog.Logger, quorumMinimum, quorumPercent int) *RobertsEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	return &RobertsEngine{
		store:         st,
		ids:           gen,
		agents:        agents,
		work:          workSvc,
		emitter:       emitter,
		logger:        logger,
		quorumMinimum: quorumMinimum,
		quorumPercent: quorumPercent,
	}
}

// Pattern identifies the engine.
func (e *RobertsEngine) Pattern() Kind { return KindRoberts }

// Coordinate convenes the session: participants become the present members
// and, when the floor is free, the next queued motion is activated.
func (e *RobertsEngine) Coordinate(ctx context.Context, participants []string) (*Result, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	epoch := e.ids.Epoch()
	timer := telemetry.Start(e.emitter, "pattern.roberts.coordinate").WithEpoch(epoch).WithParticipants(len(participants))

	var decided []string
	err := e.update(ctx, func(s *RobertsSession) error {
		if s.SessionID == "" {
			s.SessionID = e.ids.NextID("session")
		}
		s.Epoch = epoch
		s.Present = append([]string(nil), participants...)
		s.activateNext()
		for _, m := range s.Decided {
			decided = append(decided, m.ID)
		}
		return nil
	})
	timer.Done(ctx, err, store.ErrorKind(err))
	if err != nil {
		return nil, err
	}

	return &Result{
		Pattern:        KindRoberts,
		Epoch:          epoch,
		Participants:   len(participants),
		DecidedMotions: decided,
	}, nil
}

// SubmitMotion places a motion before the session. If another motion holds
// the floor the new one is queued behind it.
func (e *RobertsEngine) SubmitMotion(ctx context.Context, motionType MotionType, proposer, description string) (*Motion, error) {
	switch motionType {
	case MotionMain, MotionSubsidiary, MotionPrivileged, MotionIncidental:
	default:
		return nil, fmt.Errorf("%q: %w", motionType, ErrInvalidMotionType)
	}

	motion := Motion{
		ID:          e.ids.NextID("motion"),
		Type:        motionType,
		Description: description,
		Proposer:    proposer,
		State:       MotionSubmitted,
		SubmittedAt: e.ids.Epoch(),
	}

	err := e.update(ctx, func(s *RobertsSession) error {
		if s.SessionID == "" {
			s.SessionID = e.ids.NextID("session")
		}
		if s.ActiveMotion == nil {
			s.ActiveMotion = &motion
		} else {
			s.MotionQueue = append(s.MotionQueue, motion)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("motion submitted", "motion_id", motion.ID, "type", motionType, "proposer", proposer)
	return &motion, nil
}

// SecondMotion records a second. A proposer cannot second their own motion.
func (e *RobertsEngine) SecondMotion(ctx context.Context, motionID, seconder string) (*Motion, error) {
	return e.mutateMotion(ctx, motionID, func(m *Motion) error {
		if m.Proposer == seconder {
			return fmt.Errorf("proposer %s cannot second own motion %s: %w", seconder, m.ID, ErrInvalidTransition)
		}
		if m.State != MotionSubmitted {
			return fmt.Errorf("second %s motion %s: %w", m.State, m.ID, ErrInvalidTransition)
		}
		m.Seconder = seconder
		m.State = MotionSeconded
		return nil
	})
}

// OpenDebate moves a seconded motion onto the floor for debate.
func (e *RobertsEngine) OpenDebate(ctx context.Context, motionID string) (*Motion, error) {
	return e.mutateMotion(ctx, motionID, func(m *Motion) error {
		if m.State != MotionSeconded && !(m.State == MotionSubmitted && !m.Type.requiresSecond()) {
			return fmt.Errorf("debate %s motion %s: %w", m.State, m.ID, ErrInvalidTransition)
		}
		m.State = MotionDebated
		return nil
	})
}

// CallVote opens voting on the motion. It fails when the motion still
// needs a second, or when present members fall short of quorum.
func (e *RobertsEngine) CallVote(ctx context.Context, motionID string) (*Motion, error) {
	registered := 0
	if e.agents != nil && e.quorumPercent > 0 {
		all, err := e.agents.List(ctx)
		if err != nil {
			return nil, err
		}
		registered = len(all)
	}

	var result *Motion
	err := e.update(ctx, func(s *RobertsSession) error {
		m, err := s.find(motionID)
		if err != nil {
			return err
		}
		switch m.State {
		case MotionSeconded, MotionDebated:
		case MotionSubmitted:
			if m.Type.requiresSecond() {
				return fmt.Errorf("motion %s lacks a second: %w", m.ID, ErrInvalidTransition)
			}
		default:
			return fmt.Errorf("call vote on %s motion %s: %w", m.State, m.ID, ErrInvalidTransition)
		}
		if need := e.quorum(registered); len(s.Present) < need {
			return fmt.Errorf("%d present, %d required: %w", len(s.Present), need, ErrQuorumNotMet)
		}
		m.State = MotionVoting
		if m.Votes == nil {
			m.Votes = make(map[string]VoteChoice)
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("vote called", "motion_id", motionID)
	return result, nil
}

// CastVote records one present member's vote on the motion under vote.
func (e *RobertsEngine) CastVote(ctx context.Context, motionID, member string, choice VoteChoice) (*Motion, error) {
	switch choice {
	case VoteAye, VoteNay, VoteAbstain, VotePresent:
	default:
		return nil, fmt.Errorf("vote %q: %w", choice, ErrInvalidTransition)
	}

	var result *Motion
	err := e.update(ctx, func(s *RobertsSession) error {
		m, err := s.find(motionID)
		if err != nil {
			return err
		}
		if m.State != MotionVoting {
			return fmt.Errorf("vote on %s motion %s: %w", m.State, m.ID, ErrInvalidTransition)
		}
		present := false
		for _, p := range s.Present {
			if p == member {
				present = true
				break
			}
		}
		if !present {
			return fmt.Errorf("member %s not present: %w", member, ErrInvalidTransition)
		}
		m.Votes[member] = choice
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Tally closes voting and decides the motion: adopted iff ayes exceed
// nays. The floor passes to the next queued motion, and an adopted motion
// becomes a work item when bridging is enabled.
func (e *RobertsEngine) Tally(ctx context.Context, motionID string) (*Motion, error) {
	var decided *Motion
	err := e.update(ctx, func(s *RobertsSession) error {
		if s.ActiveMotion == nil || s.ActiveMotion.ID != motionID {
			return fmt.Errorf("%s: %w", motionID, ErrMotionNotFound)
		}
		m := s.ActiveMotion
		if m.State != MotionVoting {
			return fmt.Errorf("tally %s motion %s: %w", m.State, m.ID, ErrInvalidTransition)
		}

		ayes, nays := 0, 0
		for _, v := range m.Votes {
			switch v {
			case VoteAye:
				ayes++
			case VoteNay:
				nays++
			}
		}
		m.State = MotionDecided
		m.Adopted = ayes > nays

		done := *m
		s.Decided = append(s.Decided, done)
		s.ActiveMotion = nil
		s.activateNext()
		decided = &done

		e.logger.Info("motion decided",
			"motion_id", m.ID,
			"adopted", m.Adopted,
			"ayes", ayes,
			"nays", nays)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if decided.Adopted && e.work != nil {
		if _, err := e.work.Create(ctx, work.CreateRequest{
			Type:     "motion." + string(decided.Type),
			Priority: decided.Type.workPriority(),
		}); err != nil {
			return nil, fmt.Errorf("bridging adopted motion %s to work queue: %w", decided.ID, err)
		}
	}
	return decided, nil
}

// Session returns the current parliamentary session state.
func (e *RobertsEngine) Session(ctx context.Context) (*RobertsSession, error) {
	rec, err := ReadSession(ctx, e.store)
	if err != nil {
		return nil, err
	}
	if rec.Roberts == nil {
		return &RobertsSession{}, nil
	}
	return rec.Roberts, nil
}

// quorum returns the present-member floor for a valid vote.
func (e *RobertsEngine) quorum(registered int) int {
	if e.quorumMinimum > 0 {
		return e.quorumMinimum
	}
	need := (registered*e.quorumPercent + 99) / 100
	if need < 1 {
		need = 1
	}
	return need
}

func (e *RobertsEngine) update(ctx context.Context, fn func(*RobertsSession) error) error {
	return updateSession(ctx, e.store, func(rec *SessionRecord) error {
		if rec.Roberts == nil {
			rec.Roberts = &RobertsSession{}
		}
		rec.Pattern = KindRoberts
		if err := fn(rec.Roberts); err != nil {
			return err
		}
		if rec.Roberts.Epoch > rec.Epoch {
			rec.Epoch = rec.Roberts.Epoch
		}
		return nil
	})
}

func (e *RobertsEngine) mutateMotion(ctx context.Context, motionID string, fn func(*Motion) error) (*Motion, error) {
	var result *Motion
	err := e.update(ctx, func(s *RobertsSession) error {
		m, err := s.find(motionID)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		copied := *m
		result = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// find locates a motion on the floor or in the queue.
func (s *RobertsSession) find(motionID string) (*Motion, error) {
	if s.ActiveMotion != nil && s.ActiveMotion.ID == motionID {
		return s.ActiveMotion, nil
	}
	for i := range s.MotionQueue {
		if s.MotionQueue[i].ID == motionID {
			return &s.MotionQueue[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", motionID, ErrMotionNotFound)
}

// activateNext gives the floor to the next queued motion when it is free.
func (s *RobertsSession) activateNext() {
	if s.ActiveMotion != nil || len(s.MotionQueue) == 0 {
		return
	}
	next := s.MotionQueue[0]
	s.MotionQueue = s.MotionQueue[1:]
	s.ActiveMotion = &next
}
