package work

import "errors"

var (
	// ErrWorkNotFound indicates no work item exists with the ID.
	ErrWorkNotFound = errors.New("work item not found")
	// ErrAlreadyClaimed indicates another agent won the claim. This is an
	// expected control-flow outcome of the claiming loop, not a fault.
	ErrAlreadyClaimed = errors.New("work item already claimed")
	// ErrNotOwner indicates the caller does not hold the claim.
	ErrNotOwner = errors.New("caller does not own work item")
	// ErrInvalidTransition indicates a lifecycle violation, such as
	// progressing an unclaimed item or mutating a terminal one.
	ErrInvalidTransition = errors.New("invalid work item transition")
	// ErrInvalidProgress indicates a progress value outside 0-100.
	ErrInvalidProgress = errors.New("progress must be within 0-100")
	// ErrInvalidPriority indicates a negative priority.
	ErrInvalidPriority = errors.New("priority must not be negative")
	// ErrNoPendingWork indicates the claiming loop exhausted all candidates.
	ErrNoPendingWork = errors.New("no claimable work available")
)
