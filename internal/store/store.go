// Package store is the atomic coordination substrate. It is the only
// package that touches the shared filesystem: envelope-encoded JSON records
// written via temp-file-plus-rename, validated reads, compare-and-swap, and
// scoped advisory locking. Everything cross-agent is derived from what this
// package persists, never from in-memory assumptions about other processes.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cadre-io/cadre/internal/health"
	"github.com/cadre-io/cadre/internal/telemetry"
)

// Envelope is the on-disk record shape. Payload carries the domain record;
// Version and Checksum let readers reject stale or corrupt state.
type Envelope struct {
	Version  int64           `json:"version"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// Receipt reports the outcome of a read or write.
type Receipt struct {
	Path     string
	Version  int64
	Checksum string
	Payload  []byte
}

// Store provides atomic coordination primitives rooted at a data directory.
type Store struct {
	dir        string
	writerID   string
	lockPolicy LockPolicy
	breaker    *health.Breaker
	emitter    telemetry.Emitter
	logger     *slog.Logger

	mu       sync.Mutex
	observed map[string]int64
}

// Option customizes a Store during construction.
type Option func(*Store)

// WithLockPolicy overrides the default lock retry policy.
func WithLockPolicy(p LockPolicy) Option {
	return func(s *Store) { s.lockPolicy = p }
}

// WithBreaker wraps every store operation in the given circuit breaker.
func WithBreaker(b *health.Breaker) Option {
	return func(s *Store) { s.breaker = b }
}

// WithEmitter sets the telemetry emitter for store operations.
func WithEmitter(e telemetry.Emitter) Option {
	return func(s *Store) { s.emitter = e }
}

// New creates a store rooted at dir. writerID names this process in temp
// files and lock holders so concurrent writers never collide.
func New(dir, writerID string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: data directory is required")
	}
	if writerID == "" {
		return nil, fmt.Errorf("store: writer id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure data dir: %w", err)
	}
	s := &Store{
		dir:        dir,
		writerID:   writerID,
		lockPolicy: DefaultLockPolicy(),
		emitter:    telemetry.NopEmitter{},
		logger:     logger,
		observed:   make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the data directory root.
func (s *Store) Dir() string {
	return s.dir
}

// Write persists payload at path with the given version. The bytes land in
// a writer-named temp sibling first and are promoted with an atomic rename,
// so a concurrent reader never observes a partial record.
func (s *Store) Write(ctx context.Context, path string, payload []byte, version int64) (Receipt, error) {
	var receipt Receipt
	err := s.guarded(ctx, "store.write", func() error {
		var err error
		receipt, err = s.write(path, payload, version)
		return err
	})
	return receipt, err
}

func (s *Store) write(path string, payload []byte, version int64) (Receipt, error) {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Receipt{}, fmt.Errorf("store: ensure dir for %s: %w", path, err)
	}

	env := Envelope{
		Version:  version,
		Checksum: checksum(payload),
		Payload:  json.RawMessage(payload),
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		return Receipt{}, fmt.Errorf("store: encode envelope for %s: %w", path, err)
	}

	tmp := fmt.Sprintf("%s.tmp.%s", full, s.writerID)
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return Receipt{}, fmt.Errorf("store: write temp for %s: %w", path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return Receipt{}, fmt.Errorf("store: promote %s: %w", path, err)
	}

	s.observe(path, version)
	return Receipt{Path: path, Version: version, Checksum: env.Checksum, Payload: payload}, nil
}

// Read loads and validates the record at path. A checksum mismatch is
// ErrCorruptRead; a version older than one this process has already
// observed is ErrStaleRead. Neither is ever silently accepted.
func (s *Store) Read(ctx context.Context, path string) (Receipt, error) {
	var receipt Receipt
	err := s.guarded(ctx, "store.read", func() error {
		var err error
		receipt, err = s.read(path)
		return err
	})
	return receipt, err
}

func (s *Store) read(path string) (Receipt, error) {
	full := s.resolve(path)
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Receipt{}, fmt.Errorf("store: %s: %w", path, ErrNotFound)
		}
		return Receipt{}, fmt.Errorf("store: read %s: %w", path, err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Receipt{}, fmt.Errorf("store: %s: decode envelope: %w", path, ErrCorruptRead)
	}
	if checksum(env.Payload) != env.Checksum {
		return Receipt{}, fmt.Errorf("store: %s: %w", path, ErrCorruptRead)
	}
	if known := s.known(path); env.Version < known {
		return Receipt{}, fmt.Errorf("store: %s: version %d older than observed %d: %w",
			path, env.Version, known, ErrStaleRead)
	}

	s.observe(path, env.Version)
	return Receipt{Path: path, Version: env.Version, Checksum: env.Checksum, Payload: env.Payload}, nil
}

// CompareAndSwap writes next at path only if the current payload equals
// expected, all under the path's lock. It returns whether the swap
// occurred; losing the race is control flow, not an error.
func (s *Store) CompareAndSwap(ctx context.Context, path string, expected, next []byte) (bool, error) {
	swapped := false
	err := s.guarded(ctx, "store.compare_and_swap", func() error {
		return s.WithLock(ctx, path, func() error {
			current, err := s.read(path)
			if err != nil {
				return err
			}
			if !bytes.Equal(current.Payload, expected) {
				return nil
			}
			if _, err := s.write(path, next, current.Version+1); err != nil {
				return err
			}
			swapped = true
			return nil
		})
	})
	return swapped, err
}

// Rename atomically moves a record, carrying its observed version forward.
// Used by the work queue to encode status in the filename suffix.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	return s.guarded(ctx, "store.rename", func() error {
		if err := os.MkdirAll(filepath.Dir(s.resolve(newPath)), 0o755); err != nil {
			return fmt.Errorf("store: ensure dir for %s: %w", newPath, err)
		}
		if err := os.Rename(s.resolve(oldPath), s.resolve(newPath)); err != nil {
			return fmt.Errorf("store: rename %s -> %s: %w", oldPath, newPath, err)
		}
		s.mu.Lock()
		if v, ok := s.observed[oldPath]; ok {
			s.observed[newPath] = v
			delete(s.observed, oldPath)
		}
		s.mu.Unlock()
		return nil
	})
}

// Remove deletes a record. Missing records are not an error: removal is
// used by compaction, which may race other compactors.
func (s *Store) Remove(ctx context.Context, path string) error {
	return s.guarded(ctx, "store.remove", func() error {
		if err := os.Remove(s.resolve(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("store: remove %s: %w", path, err)
		}
		s.mu.Lock()
		delete(s.observed, path)
		s.mu.Unlock()
		return nil
	})
}

// Glob lists record paths (relative to the data directory) matching the
// pattern. Directory scans are a pure candidate query; ordering truth always
// comes from record contents, never the listing.
func (s *Store) Glob(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := s.guarded(ctx, "store.glob", func() error {
		matches, err := filepath.Glob(filepath.Join(s.dir, pattern))
		if err != nil {
			return fmt.Errorf("store: glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			rel, err := filepath.Rel(s.dir, m)
			if err != nil {
				return fmt.Errorf("store: glob %s: %w", pattern, err)
			}
			out = append(out, rel)
		}
		return nil
	})
	return out, err
}

// guarded wraps an operation with the circuit breaker and telemetry. Only
// infrastructure failures count against the breaker; contention, staleness
// and missing records are coordination outcomes, not dependency faults.
func (s *Store) guarded(ctx context.Context, op string, fn func() error) error {
	if s.breaker != nil {
		if err := s.breaker.Allow(); err != nil {
			timer := telemetry.Start(s.emitter, op)
			timer.Done(ctx, err, ErrorKind(err))
			return err
		}
	}
	timer := telemetry.Start(s.emitter, op)
	// A panic in fn must still settle the breaker, or a half-open trial
	// would stay in flight forever and fast-fail every later call.
	settled := false
	defer func() {
		if !settled && s.breaker != nil {
			s.breaker.RecordFailure()
		}
	}()
	err := fn()
	settled = true
	timer.Done(ctx, err, ErrorKind(err))
	if s.breaker != nil {
		if err != nil && isInfrastructure(err) {
			s.breaker.RecordFailure()
		} else {
			s.breaker.RecordSuccess()
		}
	}
	return err
}

func (s *Store) resolve(path string) string {
	return filepath.Join(s.dir, filepath.FromSlash(path))
}

func (s *Store) known(path string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed[path]
}

func (s *Store) observe(path string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.observed[path] {
		s.observed[path] = version
	}
}

// ErrorKind maps an error onto the taxonomy used in telemetry events.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLockContention):
		return "lock_contention"
	case errors.Is(err, ErrStaleRead):
		return "stale_read"
	case errors.Is(err, ErrCorruptRead):
		return "corrupt_read"
	case errors.Is(err, ErrCASMismatch):
		return "cas_mismatch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, health.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "io"
	}
}

func isInfrastructure(err error) bool {
	kind := ErrorKind(err)
	return kind == "io" || kind == "corrupt_read"
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
