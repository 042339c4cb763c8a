package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureEmitter struct {
	events []Event
}

func (c *captureEmitter) Emit(_ context.Context, ev Event) {
	c.events = append(c.events, ev)
}

func TestTimer_Success(t *testing.T) {
	capture := &captureEmitter{}

	timer := Start(capture, "work.claim").WithEpoch(42).WithParticipants(3)
	time.Sleep(time.Millisecond)
	timer.Done(context.Background(), nil, "")

	require.Len(t, capture.events, 1)
	ev := capture.events[0]
	require.Equal(t, "work.claim", ev.Operation)
	require.True(t, ev.Success)
	require.Empty(t, ev.ErrorKind)
	require.Equal(t, int64(42), ev.Epoch)
	require.Equal(t, 3, ev.ParticipantCount)
	require.Greater(t, ev.Duration, time.Duration(0))
}

func TestTimer_Failure(t *testing.T) {
	capture := &captureEmitter{}

	timer := Start(capture, "store.read")
	timer.Done(context.Background(), errors.New("disk gone"), "io")

	require.Len(t, capture.events, 1)
	require.False(t, capture.events[0].Success)
	require.Equal(t, "io", capture.events[0].ErrorKind)
}

func TestNewCorrelationID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewCorrelationID()
		require.NotEmpty(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}
