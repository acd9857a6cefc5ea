package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/motion_streamer/internal/dot"
	"github.com/relabs-tech/motion_streamer/internal/transport"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func packets(timestamps ...uint32) [][]byte {
	out := make([][]byte, 0, len(timestamps))
	for _, ts := range timestamps {
		out = append(out, dot.AppendExtendedQuaternion(nil, dot.QuaternionSample{
			Timestamp: ts,
			Quat:      [4]float32{1, 0, 0, 0},
		}))
	}
	return out
}

func newTestCoordinator(tr transport.Transport) *Coordinator {
	c := New(tr, testLogger())
	c.ConnectTimeout = 100 * time.Millisecond
	c.StopGrace = 100 * time.Millisecond
	return c
}

func TestRunZeroTargets(t *testing.T) {
	c := newTestCoordinator(transport.NewMock())
	results := c.Run(context.Background(), nil, 50*time.Millisecond)
	assert.Empty(t, results)
}

func TestRunCollectsAllDevices(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "AA:01", Name: "Movella DOT 1", Notifications: packets(1, 2, 3)})
	m.AddDevice(&transport.MockDevice{Address: "AA:02", Name: "Movella DOT 2", Notifications: packets(4, 5)})

	c := newTestCoordinator(m)
	results := c.Run(context.Background(), []Target{
		{Address: "AA:01", Name: "Sensor-1"},
		{Address: "AA:02", Name: "Sensor-2"},
	}, 100*time.Millisecond)

	require.Len(t, results, 2)
	assert.Equal(t, "completed", results["AA:01"].Status)
	assert.Equal(t, "completed", results["AA:02"].Status)
	assert.Len(t, results["AA:01"].Samples, 3)
	assert.Len(t, results["AA:02"].Samples, 2)
	assert.Equal(t, "Sensor-1", results["AA:01"].Name)

	// Per-device reception order is preserved in the merged result.
	got := results["AA:01"].Samples
	assert.Equal(t, uint32(1), got[0].Timestamp)
	assert.Equal(t, uint32(3), got[2].Timestamp)
}

func TestRunToleratesPartialFailure(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "AA:01", Notifications: packets(1, 2)})
	m.AddDevice(&transport.MockDevice{Address: "AA:02", ConnectErr: errors.New("rejected")})
	m.AddDevice(&transport.MockDevice{Address: "AA:03", Notifications: packets(7, 8, 9)})

	c := newTestCoordinator(m)
	results := c.Run(context.Background(), []Target{
		{Address: "AA:01"}, {Address: "AA:02"}, {Address: "AA:03"},
	}, 100*time.Millisecond)

	// Exactly N entries, no matter how many sessions failed.
	require.Len(t, results, 3)
	assert.Equal(t, "completed", results["AA:01"].Status)
	assert.Equal(t, "failed:ConnectError", results["AA:02"].Status)
	assert.Empty(t, results["AA:02"].Samples)
	assert.Equal(t, "completed", results["AA:03"].Status)
	assert.Len(t, results["AA:03"].Samples, 3)
}

func TestRunNeverConnects(t *testing.T) {
	c := newTestCoordinator(transport.NewMock())

	start := time.Now()
	results := c.Run(context.Background(), []Target{{Address: "AA:BB"}}, 2*time.Second)
	elapsed := time.Since(start)

	require.Len(t, results, 1)
	assert.Equal(t, "failed:ConnectError", results["AA:BB"].Status)
	assert.Empty(t, results["AA:BB"].Samples)

	// No surviving session: the streaming window must be skipped.
	assert.Less(t, elapsed, time.Second)
}

func TestRunSlowFailingConnectOverlapsWindow(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "AA:01", Notifications: packets(1, 2)})
	m.AddDevice(&transport.MockDevice{
		Address:      "AA:02",
		ConnectErr:   errors.New("rejected"),
		ConnectDelay: 300 * time.Millisecond,
	})

	c := newTestCoordinator(m)
	c.ConnectTimeout = time.Second

	start := time.Now()
	results := c.Run(context.Background(), []Target{
		{Address: "AA:01"}, {Address: "AA:02"},
	}, 200*time.Millisecond)
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	assert.Equal(t, "completed", results["AA:01"].Status)
	assert.Len(t, results["AA:01"].Samples, 2)
	assert.Equal(t, "failed:ConnectError", results["AA:02"].Status)

	// The window is anchored at AA:01's streaming transition, so the
	// slow failing connect overlaps it instead of adding to the run:
	// total wall clock stays near the 300ms connect attempt, not
	// 300ms plus a full 200ms window on top.
	assert.Less(t, elapsed, 450*time.Millisecond)
}

func TestRunMidStreamDrop(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "AA:01", Notifications: packets(1, 2, 3, 4), DropAfter: 2})
	m.AddDevice(&transport.MockDevice{Address: "AA:02", Notifications: packets(5, 6)})

	c := newTestCoordinator(m)
	results := c.Run(context.Background(), []Target{
		{Address: "AA:01"}, {Address: "AA:02"},
	}, 100*time.Millisecond)

	require.Len(t, results, 2)
	assert.Equal(t, "disconnected", results["AA:01"].Status)
	assert.Len(t, results["AA:01"].Samples, 2)
	// The sibling session continues to completion.
	assert.Equal(t, "completed", results["AA:02"].Status)
	assert.Len(t, results["AA:02"].Samples, 2)
}

func TestRunStopGrace(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "AA:01", StallOnStop: true})

	c := newTestCoordinator(m)
	start := time.Now()
	results := c.Run(context.Background(), []Target{{Address: "AA:01"}}, 30*time.Millisecond)

	require.Len(t, results, 1)
	assert.Equal(t, "failed:timeout", results["AA:01"].Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunDuplicateIdentifiers(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "AA:01", Notifications: packets(1)})

	c := newTestCoordinator(m)
	results := c.Run(context.Background(), []Target{
		{Address: "AA:01", Name: "first"},
		{Address: "AA:01", Name: "second"},
	}, 50*time.Millisecond)

	// One entry per identifier per run.
	require.Len(t, results, 1)
	assert.Equal(t, "first", results["AA:01"].Name)
}

func TestRunLiveFanOut(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "AA:01", Notifications: packets(1, 2, 3)})

	var (
		mu   sync.Mutex
		live []uint32
	)
	c := newTestCoordinator(m)
	c.OnSample = func(device string, s dot.QuaternionSample) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, "AA:01", device)
		live = append(live, s.Timestamp)
	}

	results := c.Run(context.Background(), []Target{{Address: "AA:01"}}, 100*time.Millisecond)
	require.Equal(t, "completed", results["AA:01"].Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint32{1, 2, 3}, live)
}

func TestRunCancelledContext(t *testing.T) {
	m := transport.NewMock()
	m.AddDevice(&transport.MockDevice{Address: "AA:01", Notifications: packets(1, 2)})

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestCoordinator(m)

	done := make(chan map[string]*SessionResult, 1)
	go func() { done <- c.Run(ctx, []Target{{Address: "AA:01"}}, 10*time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case results := <-done:
		require.Len(t, results, 1)
		assert.Equal(t, "completed", results["AA:01"].Status)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}
