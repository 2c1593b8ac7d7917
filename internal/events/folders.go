package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/folders"
	"github.com/framehaus/stagehand/internal/tracker"
)

// FoldersTarget is the automation behind "folders appear on their own":
// it reacts to New<Entity> events by running folder creation for the
// new record. Other event types pass through untouched.
type FoldersTarget struct {
	creator *folders.Creator
	logger  *zap.Logger

	// entityTypes limits which created entities trigger folder
	// creation.
	entityTypes map[string]bool

	statsMu sync.RWMutex
	stats   TargetStats
	created int64
	skipped int64
}

type FoldersTargetOption func(*FoldersTarget)

func FoldersTargetWithLogger(logger *zap.Logger) FoldersTargetOption {
	return func(t *FoldersTarget) {
		t.logger = logger.Named("stagehand.events.folders")
	}
}

// FoldersTargetForEntities overrides the default Shot/Asset/Sequence
// trigger set.
func FoldersTargetForEntities(types ...string) FoldersTargetOption {
	return func(t *FoldersTarget) {
		t.entityTypes = map[string]bool{}
		for _, typ := range types {
			t.entityTypes[typ] = true
		}
	}
}

func NewFoldersTarget(creator *folders.Creator, opts ...FoldersTargetOption) *FoldersTarget {
	t := &FoldersTarget{
		creator: creator,
		logger:  zap.NewNop(),
		entityTypes: map[string]bool{
			"Shot":     true,
			"Asset":    true,
			"Sequence": true,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *FoldersTarget) Connect(ctx context.Context) error {
	t.statsMu.Lock()
	t.stats.ConnectionHealthy = true
	t.statsMu.Unlock()
	return nil
}

func (t *FoldersTarget) Write(ctx context.Context, event Event) error {
	entityType, created := strings.CutPrefix(event.Type, "New")
	if !created || !t.entityTypes[entityType] {
		t.statsMu.Lock()
		t.skipped++
		t.statsMu.Unlock()
		return nil
	}

	report, err := t.creator.Create(ctx, folders.Selection{
		Refs: []tracker.Ref{event.EntityRef},
	})
	if err != nil {
		t.statsMu.Lock()
		t.stats.FailedEvents++
		t.stats.LastError = err.Error()
		t.statsMu.Unlock()
		return err
	}

	t.logger.Info("folders created for new entity",
		zap.String("entity", event.EntityRef.String()),
		zap.Int("created", len(report.Created)),
		zap.Int("existing", len(report.Existing)))

	t.statsMu.Lock()
	t.stats.TotalEvents++
	t.stats.LastWriteAt = time.Now()
	t.created += int64(len(report.Created))
	t.statsMu.Unlock()
	return nil
}

func (t *FoldersTarget) Flush(ctx context.Context) error { return nil }

func (t *FoldersTarget) Close(ctx context.Context) error {
	t.statsMu.Lock()
	t.stats.ConnectionHealthy = false
	t.statsMu.Unlock()
	return nil
}

func (t *FoldersTarget) Stats() TargetStats {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()

	stats := t.stats
	stats.TargetSpecific = map[string]any{
		"directories_created": t.created,
		"events_skipped":      t.skipped,
	}
	return stats
}
