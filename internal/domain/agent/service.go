// Package agent implements the registry: registration, heartbeats, and the
// offline sweep that feeds claim recovery.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/cadre-io/cadre/internal/ids"
	"github.com/cadre-io/cadre/internal/store"
	"github.com/cadre-io/cadre/internal/telemetry"
)

const (
	agentsDir    = "agents"
	registryLock = "agents/registry"
)

// Service handles agent lifecycle over the coordination store.
type Service struct {
	store            *store.Store
	ids              *ids.Generator
	emitter          telemetry.Emitter
	logger           *slog.Logger
	maxAgents        int
	heartbeatTimeout time.Duration
	now              func() time.Time
}

// NewService creates an agent registry service.
func NewService(st *store.Store, gen *ids.Generator, emitter telemetry.Emitter, logger *slog.Logger, maxAgents int, heartbeatTimeout time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	return &Service{
		store:            st,
		ids:              gen,
		emitter:          emitter,
		logger:           logger,
		maxAgents:        maxAgents,
		heartbeatTimeout: heartbeatTimeout,
		now:              time.Now,
	}
}

// RegisterRequest describes an agent registration.
type RegisterRequest struct {
	Role            string
	Capacity        float64
	Specializations []string
	WorkCapacity    *int
}

// Register creates a registry record for a new agent. The identifier is
// freshly minted, so the write cannot collide; the registry lock only
// serializes the capacity check.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Agent, error) {
	timer := telemetry.Start(s.emitter, "agent.register")
	a, err := s.register(ctx, req)
	timer.Done(ctx, err, store.ErrorKind(err))
	return a, err
}

func (s *Service) register(ctx context.Context, req RegisterRequest) (*Agent, error) {
	if strings.TrimSpace(req.Role) == "" {
		return nil, ErrInvalidRole
	}
	if req.Capacity < 0 || req.Capacity > 1 {
		return nil, fmt.Errorf("capacity %.2f: %w", req.Capacity, ErrInvalidCapacity)
	}

	now := s.now()
	a := &Agent{
		ID:              s.ids.NextID("agent"),
		Role:            req.Role,
		Status:          StatusActive,
		Capacity:        req.Capacity,
		Specializations: req.Specializations,
		WorkCapacity:    req.WorkCapacity,
		LastHeartbeat:   now,
		RegisteredAt:    now,
		Metrics:         Metrics{SuccessRate: 1.0},
	}

	err := s.store.WithLock(ctx, registryLock, func() error {
		existing, err := s.store.Glob(ctx, path.Join(agentsDir, "agent_*.json"))
		if err != nil {
			return err
		}
		if len(existing) >= s.maxAgents {
			return fmt.Errorf("%d agents registered (max %d): %w", len(existing), s.maxAgents, ErrRegistryFull)
		}
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encoding agent: %w", err)
		}
		_, err = s.store.Write(ctx, agentPath(a.ID), payload, 1)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("agent registered", "agent_id", a.ID, "role", a.Role, "capacity", a.Capacity)
	return a, nil
}

// Heartbeat refreshes the agent's liveness timestamp. An agent the sweep
// marked offline comes back active on its next heartbeat.
func (s *Service) Heartbeat(ctx context.Context, agentID string) error {
	timer := telemetry.Start(s.emitter, "agent.heartbeat")
	err := s.mutate(ctx, agentID, func(a *Agent) error {
		a.LastHeartbeat = s.now()
		if a.Status == StatusOffline {
			a.Status = StatusActive
		}
		return nil
	})
	timer.Done(ctx, err, store.ErrorKind(err))
	return err
}

// SetStatus updates the agent's lifecycle status.
func (s *Service) SetStatus(ctx context.Context, agentID string, status Status) error {
	return s.mutate(ctx, agentID, func(a *Agent) error {
		a.Status = status
		return nil
	})
}

// RecordCompletion folds one finished work item into the agent's metrics.
func (s *Service) RecordCompletion(ctx context.Context, agentID string, elapsed time.Duration, success bool) error {
	return s.mutate(ctx, agentID, func(a *Agent) error {
		n := float64(a.Metrics.WorkCompleted)
		ms := float64(elapsed.Milliseconds())
		a.Metrics.AvgCompletionMS = (a.Metrics.AvgCompletionMS*n + ms) / (n + 1)
		outcome := 0.0
		if success {
			outcome = 1.0
		}
		a.Metrics.SuccessRate = (a.Metrics.SuccessRate*n + outcome) / (n + 1)
		a.Metrics.WorkCompleted++
		return nil
	})
}

// Deregister removes the agent's registry record.
func (s *Service) Deregister(ctx context.Context, agentID string) error {
	timer := telemetry.Start(s.emitter, "agent.deregister")
	err := s.store.WithLock(ctx, agentPath(agentID), func() error {
		if _, err := s.store.Read(ctx, agentPath(agentID)); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%s: %w", agentID, ErrAgentNotFound)
			}
			return err
		}
		return s.store.Remove(ctx, agentPath(agentID))
	})
	timer.Done(ctx, err, store.ErrorKind(err))
	if err == nil {
		s.logger.Info("agent deregistered", "agent_id", agentID)
	}
	return err
}

// Get returns one agent record.
func (s *Service) Get(ctx context.Context, agentID string) (*Agent, error) {
	receipt, err := s.store.Read(ctx, agentPath(agentID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", agentID, ErrAgentNotFound)
		}
		return nil, err
	}
	var a Agent
	if err := json.Unmarshal(receipt.Payload, &a); err != nil {
		return nil, fmt.Errorf("decoding agent %s: %w", agentID, err)
	}
	return &a, nil
}

// List returns every registered agent.
func (s *Service) List(ctx context.Context) ([]*Agent, error) {
	paths, err := s.store.Glob(ctx, path.Join(agentsDir, "agent_*.json"))
	if err != nil {
		return nil, err
	}
	agents := make([]*Agent, 0, len(paths))
	for _, p := range paths {
		receipt, err := s.store.Read(ctx, p)
		if err != nil {
			// Records may vanish between the scan and the read.
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var a Agent
		if err := json.Unmarshal(receipt.Payload, &a); err != nil {
			return nil, fmt.Errorf("decoding agent record %s: %w", p, err)
		}
		agents = append(agents, &a)
	}
	return agents, nil
}

// SweepOffline marks agents whose heartbeat lapsed as offline and returns
// their IDs so the work sweep can release their claims.
func (s *Service) SweepOffline(ctx context.Context) ([]string, error) {
	timer := telemetry.Start(s.emitter, "agent.sweep_offline")
	lapsed, err := s.sweepOffline(ctx)
	timer.WithParticipants(len(lapsed)).Done(ctx, err, store.ErrorKind(err))
	return lapsed, err
}

func (s *Service) sweepOffline(ctx context.Context) ([]string, error) {
	agents, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var lapsed []string
	cutoff := s.now().Add(-s.heartbeatTimeout)
	for _, a := range agents {
		if a.Status == StatusOffline || !a.LastHeartbeat.Before(cutoff) {
			continue
		}
		id := a.ID
		err := s.mutate(ctx, id, func(rec *Agent) error {
			if rec.Status == StatusOffline || !rec.LastHeartbeat.Before(cutoff) {
				return nil
			}
			rec.Status = StatusOffline
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrAgentNotFound) {
				continue
			}
			return lapsed, err
		}
		s.logger.Warn("agent heartbeat lapsed", "agent_id", id, "last_heartbeat", a.LastHeartbeat)
		lapsed = append(lapsed, id)
	}
	return lapsed, nil
}

// mutate applies fn to the agent record inside its critical section and
// persists the result with a bumped version.
func (s *Service) mutate(ctx context.Context, agentID string, fn func(*Agent) error) error {
	return s.store.WithLock(ctx, agentPath(agentID), func() error {
		receipt, err := s.store.Read(ctx, agentPath(agentID))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%s: %w", agentID, ErrAgentNotFound)
			}
			return err
		}
		var a Agent
		if err := json.Unmarshal(receipt.Payload, &a); err != nil {
			return fmt.Errorf("decoding agent %s: %w", agentID, err)
		}
		if err := fn(&a); err != nil {
			return err
		}
		payload, err := json.Marshal(&a)
		if err != nil {
			return fmt.Errorf("encoding agent %s: %w", agentID, err)
		}
		_, err = s.store.Write(ctx, agentPath(agentID), payload, receipt.Version+1)
		return err
	})
}

func agentPath(agentID string) string {
	return path.Join(agentsDir, agentID+".json")
}
