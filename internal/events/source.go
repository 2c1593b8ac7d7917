package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/tracker"
)

// TrackerSource polls the tracking service's event log in id order.
// Position is the last delivered event id, ascii-encoded.
type TrackerSource struct {
	client    *tracker.Client
	batchSize int
	logger    *zap.Logger

	sinceID int64
	buffer  []tracker.Event

	statsMu sync.RWMutex
	stats   SourceStats
}

type TrackerSourceOption func(*TrackerSource)

func TrackerSourceWithBatchSize(n int) TrackerSourceOption {
	return func(s *TrackerSource) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func TrackerSourceWithLogger(logger *zap.Logger) TrackerSourceOption {
	return func(s *TrackerSource) {
		s.logger = logger.Named("stagehand.events.source")
	}
}

func NewTrackerSource(client *tracker.Client, opts ...TrackerSourceOption) *TrackerSource {
	s := &TrackerSource{
		client:    client,
		batchSize: 100,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TrackerSource) Connect(ctx context.Context, checkpoint *Checkpoint) error {
	s.sinceID = 0
	s.buffer = nil

	if checkpoint != nil && len(checkpoint.Position) > 0 {
		id, err := strconv.ParseInt(string(checkpoint.Position), 10, 64)
		if err != nil {
			s.logger.Warn("bad checkpoint position, starting fresh",
				zap.String("position", string(checkpoint.Position)))
		} else {
			s.sinceID = id
		}
	}

	s.logger.Info("tracker source connected", zap.Int64("since_id", s.sinceID))
	return nil
}

func (s *TrackerSource) Disconnect(ctx context.Context) error {
	s.buffer = nil
	return nil
}

// Next returns the next event, fetching a fresh batch when the buffer
// runs dry. An empty log yields ErrNoEventsFound.
func (s *TrackerSource) Next(ctx context.Context) (Event, error) {
	if len(s.buffer) == 0 {
		batch, err := s.client.Events(ctx, s.sinceID, s.batchSize)
		if err != nil {
			return Event{}, err
		}
		if len(batch) == 0 {
			s.statsMu.Lock()
			s.stats.EmptyPolls++
			s.statsMu.Unlock()
			return Event{}, ErrNoEventsFound
		}
		s.buffer = batch
	}

	ev := s.buffer[0]
	s.buffer = s.buffer[1:]
	s.sinceID = ev.ID

	s.statsMu.Lock()
	s.stats.TotalEvents++
	s.stats.LastEventReceivedAt = time.Now()
	s.statsMu.Unlock()

	return Event{
		Event:    ev,
		Position: []byte(strconv.FormatInt(ev.ID, 10)),
	}, nil
}

func (s *TrackerSource) Stats() SourceStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}
