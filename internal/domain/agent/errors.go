package agent

import "errors"

var (
	// ErrAgentNotFound indicates no registry record exists for the ID.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrRegistryFull indicates the configured agent limit is reached.
	ErrRegistryFull = errors.New("agent registry full")
	// ErrInvalidRole indicates a registration with an empty role.
	ErrInvalidRole = errors.New("agent role is required")
	// ErrInvalidCapacity indicates a capacity outside 0.0-1.0.
	ErrInvalidCapacity = errors.New("agent capacity must be within 0.0-1.0")
)
