package events

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/tracker"
)

type fakeSource struct {
	mu        sync.Mutex
	pending   []Event
	connected *Checkpoint
	connects  int
}

func (s *fakeSource) push(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.pending = append(s.pending, Event{
			Event:    tracker.Event{ID: id, Type: "NewShot"},
			Position: []byte(strconv.FormatInt(id, 10)),
		})
	}
}

func (s *fakeSource) Connect(ctx context.Context, checkpoint *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = checkpoint
	s.connects++
	return nil
}

func (s *fakeSource) Disconnect(ctx context.Context) error { return nil }

func (s *fakeSource) Next(ctx context.Context) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Event{}, ErrNoEventsFound
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

func (s *fakeSource) Stats() SourceStats { return SourceStats{} }

type fakeTarget struct {
	mu      sync.Mutex
	written []Event
	flushes int
	closes  int
	failOn  int64
}

func (t *fakeTarget) Connect(ctx context.Context) error { return nil }

func (t *fakeTarget) Write(ctx context.Context, event Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failOn != 0 && event.ID == t.failOn {
		return errors.New("write rejected")
	}
	t.written = append(t.written, event)
	return nil
}

func (t *fakeTarget) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushes++
	return nil
}

func (t *fakeTarget) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *fakeTarget) Stats() TargetStats { return TargetStats{} }

func (t *fakeTarget) closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes > 0
}

func (t *fakeTarget) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.written)
}

func newTestDaemon(t *testing.T, source Source, target Target, opts ...Option) *Daemon {
	t.Helper()

	opts = append([]Option{
		WithSource(source),
		WithTarget(target),
		WithLogger(zap.NewNop()),
		WithSourceOptions(SourceOptions{
			CheckpointEvery:   1,
			EmptyPollInterval: 5 * time.Millisecond,
		}),
	}, opts...)

	d, err := New(opts...)
	require.NoError(t, err)
	return d
}

func TestNewRequiresSourceAndTarget(t *testing.T) {
	_, err := New(WithTarget(&fakeTarget{}))
	require.Error(t, err)

	_, err = New(WithSource(&fakeSource{}))
	require.Error(t, err)

	d, err := New(WithSource(&fakeSource{}), WithTarget(&fakeTarget{}))
	require.NoError(t, err)
	assert.Equal(t, StateCreated, d.State.Current())
	assert.Equal(t, "events", d.ID)
}

func TestDaemonDeliversAndCheckpoints(t *testing.T) {
	source := &fakeSource{}
	source.push(1, 2, 3)
	target := &fakeTarget{}
	cp := NewFilesystemCheckpointer(t.TempDir(), zap.NewNop())

	d := newTestDaemon(t, source, target, WithCheckpointer(cp))

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	require.Eventually(t, func() bool { return target.count() == 3 },
		2*time.Second, 10*time.Millisecond)

	d.SendSignal(SignalStop)
	require.NoError(t, <-done)

	checkpoint, err := cp.Load(context.Background(), d.ID)
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, []byte("3"), checkpoint.Position, "checkpoint tracks the last delivered event")

	stats := d.Stats()
	assert.Equal(t, StateStopped, stats.Daemon.State)
	assert.Equal(t, int64(3), stats.Daemon.CheckpointCount)
	assert.True(t, target.closed(), "stop releases the target's connections")
}

func TestDaemonResumesFromCheckpoint(t *testing.T) {
	cp := NewFilesystemCheckpointer(t.TempDir(), zap.NewNop())
	require.NoError(t, cp.Save(context.Background(), &Checkpoint{
		DaemonID: "events",
		Position: []byte("7"),
	}))

	source := &fakeSource{}
	target := &fakeTarget{}
	d := newTestDaemon(t, source, target, WithCheckpointer(cp))

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.connected != nil
	}, 2*time.Second, 10*time.Millisecond)

	source.mu.Lock()
	assert.Equal(t, []byte("7"), source.connected.Position,
		"source reconnects from the saved position")
	source.mu.Unlock()

	d.SendSignal(SignalStop)
	require.NoError(t, <-done)
}

func TestDaemonWriteFailureLeavesCheckpointBehind(t *testing.T) {
	source := &fakeSource{}
	source.push(1, 2)
	target := &fakeTarget{failOn: 2}
	cp := NewFilesystemCheckpointer(t.TempDir(), zap.NewNop())

	d := newTestDaemon(t, source, target, WithCheckpointer(cp))

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, d.State.Current())

	// Only event 1 was delivered, so only event 1 is checkpointed: a
	// restart replays event 2 instead of skipping it.
	checkpoint, err := cp.Load(context.Background(), d.ID)
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, []byte("1"), checkpoint.Position)
}

func TestDaemonPauseAndResume(t *testing.T) {
	source := &fakeSource{}
	target := &fakeTarget{}
	d := newTestDaemon(t, source, target)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	require.Eventually(t, func() bool { return d.State.Current() == StateStreaming },
		2*time.Second, 10*time.Millisecond)

	d.SendSignal(SignalPause)
	require.Eventually(t, func() bool { return d.State.Current() == StatePaused },
		2*time.Second, 10*time.Millisecond)

	source.push(1)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, target.count(), "paused daemons do not deliver")

	d.SendSignal(SignalResume)
	require.Eventually(t, func() bool { return target.count() == 1 },
		2*time.Second, 10*time.Millisecond)

	d.SendSignal(SignalStop)
	require.NoError(t, <-done)
}

func TestDaemonCheckpointEvery(t *testing.T) {
	source := &fakeSource{}
	source.push(1, 2, 3, 4, 5)
	target := &fakeTarget{}
	cp := NewFilesystemCheckpointer(t.TempDir(), zap.NewNop())

	d := newTestDaemon(t, source, target,
		WithCheckpointer(cp),
		WithSourceOptions(SourceOptions{
			CheckpointEvery:   2,
			EmptyPollInterval: 5 * time.Millisecond,
		}))

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	require.Eventually(t, func() bool { return target.count() == 5 },
		2*time.Second, 10*time.Millisecond)

	d.SendSignal(SignalStop)
	require.NoError(t, <-done)

	// 5 deliveries at every-2 means checkpoints after events 2 and 4.
	checkpoint, err := cp.Load(context.Background(), d.ID)
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, []byte("4"), checkpoint.Position)
	assert.Equal(t, int64(2), d.Stats().Daemon.CheckpointCount)
}

func TestDaemonContextCancelStops(t *testing.T) {
	source := &fakeSource{}
	target := &fakeTarget{}
	d := newTestDaemon(t, source, target)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.State.Current() == StateStreaming },
		2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, d.State.Current())
	assert.True(t, target.closed(), "cancellation releases the target's connections")
}
