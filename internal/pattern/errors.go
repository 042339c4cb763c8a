package pattern

import "errors"

var (
	// ErrUnknownPattern indicates a pattern name outside the closed set.
	ErrUnknownPattern = errors.New("unknown coordination pattern")
	// ErrQuorumNotMet indicates present members are below the vote floor.
	ErrQuorumNotMet = errors.New("quorum not met")
	// ErrInvalidTransition indicates a parliamentary or session state
	// machine violation, such as self-seconding.
	ErrInvalidTransition = errors.New("invalid coordination transition")
	// ErrMotionNotFound indicates no motion exists with the ID.
	ErrMotionNotFound = errors.New("motion not found")
	// ErrInvalidMotionType indicates a motion type outside the allowed set.
	ErrInvalidMotionType = errors.New("invalid motion type")
	// ErrNoParticipants indicates a round was requested with nobody in it.
	ErrNoParticipants = errors.New("no participants for coordination round")
)
