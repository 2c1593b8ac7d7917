// Package events tails the tracking service's event log and fans the
// events out to configured targets: studio automation (folder creation
// on new shots), a kafka stream and a postgres ledger.
package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/tracker"
)

type Signal string

const (
	SignalPause   Signal = "pause"
	SignalResume  Signal = "resume"
	SignalStop    Signal = "stop"
	SignalRestart Signal = "restart"
)

// ErrNoEventsFound signals an idle source; the daemon backs off for
// EmptyPollInterval instead of treating it as a failure.
var ErrNoEventsFound = errors.New("no events found")

// Event is one tracker event plus the source position used for
// checkpointing.
type Event struct {
	tracker.Event

	Position []byte `json:"-"`
}

type Source interface {
	Connect(ctx context.Context, checkpoint *Checkpoint) error
	Disconnect(ctx context.Context) error
	Next(ctx context.Context) (Event, error)
	Stats() SourceStats
}

type Target interface {
	Connect(ctx context.Context) error
	Write(ctx context.Context, event Event) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
	Stats() TargetStats
}

type SourceOptions struct {
	// CheckpointEvery persists a checkpoint after this many delivered
	// events; zero disables checkpointing.
	CheckpointEvery int

	// EmptyPollInterval is how long to sleep when the source is idle.
	EmptyPollInterval time.Duration
}

type TargetOptions struct {
	FlushTimeout time.Duration
}

type Daemon struct {
	ID            string
	State         *FSM
	Source        Source
	Target        Target
	Checkpointer  Checkpointer
	SourceOptions SourceOptions
	TargetOptions TargetOptions

	controlChan     chan Signal
	lastCheckpoint  *Checkpoint
	sinceCheckpoint int
	logger          *zap.Logger
	stats           DaemonStats
}

type Option func(*Daemon)

func WithID(id string) Option {
	return func(d *Daemon) {
		d.ID = id
	}
}

func WithSource(source Source) Option {
	return func(d *Daemon) {
		d.Source = source
	}
}

func WithTarget(target Target) Option {
	return func(d *Daemon) {
		d.Target = target
	}
}

func WithCheckpointer(checkpointer Checkpointer) Option {
	return func(d *Daemon) {
		d.Checkpointer = checkpointer
	}
}

func WithSourceOptions(opts SourceOptions) Option {
	return func(d *Daemon) {
		d.SourceOptions = opts
	}
}

func WithTargetOptions(opts TargetOptions) Option {
	return func(d *Daemon) {
		d.TargetOptions = opts
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Daemon) {
		d.logger = logger.Named("stagehand.events")
	}
}

func New(opts ...Option) (*Daemon, error) {
	d := &Daemon{
		ID:           "events",
		Checkpointer: &NoopCheckpointer{},
		SourceOptions: SourceOptions{
			CheckpointEvery:   1,
			EmptyPollInterval: time.Second,
		},
		logger:      zap.NewNop(),
		controlChan: make(chan Signal, 1),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.Source == nil {
		return nil, errors.New("daemon needs a source")
	}
	if d.Target == nil {
		return nil, errors.New("daemon needs a target")
	}

	d.State = NewFSM(d.logger.Named("fsm"))
	return d, nil
}

// Run drives the daemon until the context is cancelled or a stop signal
// arrives. Checkpoints are only written after successful target writes,
// so delivery is at least once: a crash replays from the last
// checkpoint, it never skips.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.State.Transition(StateConnecting); err != nil {
		return err
	}

	d.stats.StartedAt = time.Now()
	d.stats.State = d.State.Current()

	checkpoint, err := d.Checkpointer.Load(ctx, d.ID)
	if err != nil {
		d.State.Transition(StateError)
		return err
	}
	d.lastCheckpoint = checkpoint

	if err := d.Target.Connect(ctx); err != nil {
		d.State.Transition(StateError)
		return err
	}
	if err := d.Source.Connect(ctx, checkpoint); err != nil {
		d.State.Transition(StateError)
		return err
	}

	if err := d.State.Transition(StateStreaming); err != nil {
		return err
	}
	d.logger.Info("daemon started", zap.String("daemon_id", d.ID))

	var flushChan <-chan time.Time
	if d.TargetOptions.FlushTimeout > 0 {
		ticker := time.NewTicker(d.TargetOptions.FlushTimeout)
		defer ticker.Stop()
		flushChan = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("context cancelled, stopping daemon")
			d.State.Transition(StateStopped)
			d.shutdownTarget(context.Background())
			return d.Source.Disconnect(context.Background())

		case signal := <-d.controlChan:
			d.stats.SignalsReceived++
			if err := d.handleSignal(ctx, signal); err != nil {
				d.logger.Error("signal handling failed",
					zap.String("signal", string(signal)), zap.Error(err))
				return err
			}
			if d.State.Current() == StateStopped {
				return nil
			}

		case <-flushChan:
			if err := d.Target.Flush(ctx); err != nil {
				d.logger.Error("target flush failed", zap.Error(err))
				d.State.Transition(StateError)
				return err
			}

		default:
			if d.State.Current() != StateStreaming {
				time.Sleep(100 * time.Millisecond)
				continue
			}

			event, err := d.Source.Next(ctx)
			if errors.Is(err, ErrNoEventsFound) {
				time.Sleep(d.SourceOptions.EmptyPollInterval)
				continue
			}
			if err != nil {
				d.State.Transition(StateError)
				return err
			}

			if err := d.Target.Write(ctx, event); err != nil {
				d.logger.Error("target write failed", zap.Error(err))
				d.State.Transition(StateError)
				return err
			}

			if err := d.checkpoint(ctx, event); err != nil {
				d.logger.Error("checkpoint failed", zap.Error(err))
				return err
			}
		}
	}
}

// SendSignal delivers a control signal without blocking; a full control
// channel drops the signal.
func (d *Daemon) SendSignal(signal Signal) {
	select {
	case d.controlChan <- signal:
	default:
		d.logger.Warn("control channel full, signal dropped",
			zap.String("signal", string(signal)))
	}
}

func (d *Daemon) handleSignal(ctx context.Context, signal Signal) error {
	current := d.State.Current()

	switch signal {
	case SignalPause:
		if current == StateStreaming {
			return d.State.Transition(StatePaused)
		}
		d.logger.Warn("cannot pause", zap.String("state", string(current)))

	case SignalResume:
		if current == StatePaused {
			return d.State.Transition(StateStreaming)
		}
		d.logger.Warn("cannot resume", zap.String("state", string(current)))

	case SignalStop:
		d.State.Transition(StateStopped)
		d.shutdownTarget(ctx)
		return d.Source.Disconnect(ctx)

	case SignalRestart:
		if err := d.Source.Disconnect(ctx); err != nil {
			d.logger.Error("disconnect during restart failed", zap.Error(err))
		}
		if err := d.State.Transition(StateConnecting); err != nil {
			return err
		}
		if err := d.Source.Connect(ctx, d.lastCheckpoint); err != nil {
			d.State.Transition(StateError)
			return err
		}
		return d.State.Transition(StateStreaming)

	default:
		d.logger.Warn("unknown signal", zap.String("signal", string(signal)))
	}
	return nil
}

// shutdownTarget flushes buffered events and releases the target's
// connections. Buffering targets (kafka, the ledger) hold sockets that
// would otherwise leak past Run.
func (d *Daemon) shutdownTarget(ctx context.Context) {
	if err := d.Target.Flush(ctx); err != nil {
		d.logger.Error("final target flush failed", zap.Error(err))
	}
	if err := d.Target.Close(ctx); err != nil {
		d.logger.Error("target close failed", zap.Error(err))
	}
}

func (d *Daemon) checkpoint(ctx context.Context, latest Event) error {
	if d.SourceOptions.CheckpointEvery == 0 {
		return nil
	}

	d.sinceCheckpoint++
	if d.sinceCheckpoint < d.SourceOptions.CheckpointEvery {
		return nil
	}

	checkpoint := &Checkpoint{
		DaemonID:  d.ID,
		Position:  latest.Position,
		Timestamp: time.Now(),
	}
	if err := d.Checkpointer.Save(ctx, checkpoint); err != nil {
		return err
	}

	d.lastCheckpoint = checkpoint
	d.sinceCheckpoint = 0
	d.stats.CheckpointCount++
	d.stats.LastCheckpointAt = checkpoint.Timestamp
	return nil
}

// Stats snapshots source, target and daemon counters.
func (d *Daemon) Stats() Stats {
	stats := Stats{
		Source: d.Source.Stats(),
		Target: d.Target.Stats(),
		Daemon: d.stats,
	}
	stats.Daemon.State = d.State.Current()
	if !stats.Daemon.StartedAt.IsZero() {
		stats.Daemon.UptimeSeconds = int64(time.Since(stats.Daemon.StartedAt).Seconds())
	}
	return stats
}
