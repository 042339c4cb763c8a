package pattern

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cadre-io/cadre/internal/domain/work"
	"github.com/cadre-io/cadre/internal/ids"
	"github.com/cadre-io/cadre/internal/store"
)

func newTestFixture(t *testing.T) (*store.Store, *work.Service, *ids.Generator) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(t.TempDir(), "test-writer", logger)
	require.NoError(t, err)
	gen := ids.NewGenerator()
	workSvc := work.NewService(st, gen, nil, nil, logger, 3, 90*time.Second)
	return st, workSvc, gen
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseKind(t *testing.T) {
	for _, kind := range Kinds() {
		parsed, err := ParseKind(string(kind))
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
	}

	_, err := ParseKind("consensus")
	require.ErrorIs(t, err, ErrUnknownPattern)
}

func TestReadSession_EmptyStore(t *testing.T) {
	st, _, _ := newTestFixture(t)

	rec, err := ReadSession(context.Background(), st)
	require.NoError(t, err)
	require.Equal(t, int64(0), rec.Epoch)
	require.Nil(t, rec.Atomic)
	require.Nil(t, rec.Roberts)
}
