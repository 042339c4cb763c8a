package store

import "errors"

var (
	// ErrLockContention indicates the lock could not be acquired within the
	// retry budget. Retryable.
	ErrLockContention = errors.New("lock contention: retry budget exhausted")
	// ErrStaleRead indicates the record's version regressed below what the
	// caller has already observed. The caller must re-read.
	ErrStaleRead = errors.New("stale read: version regressed")
	// ErrCorruptRead indicates the record's checksum does not match its
	// payload. Never retried silently.
	ErrCorruptRead = errors.New("corrupt read: checksum mismatch")
	// ErrCASMismatch indicates compare-and-swap found different current
	// bytes than expected. Expected control flow, not a fault.
	ErrCASMismatch = errors.New("compare-and-swap: current value differs from expected")
	// ErrNotFound indicates no record exists at the path.
	ErrNotFound = errors.New("record not found")
	// ErrTimeout indicates a bounded wait elapsed before the operation
	// completed.
	ErrTimeout = errors.New("operation timed out")
)
