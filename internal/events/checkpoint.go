package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checkpoint records how far into the event log a daemon has delivered.
// Position is source-defined; the tracker source stores the last event
// id.
type Checkpoint struct {
	DaemonID  string    `json:"daemon_id"`
	Position  []byte    `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

type Checkpointer interface {
	Load(ctx context.Context, daemonID string) (*Checkpoint, error)
	Save(ctx context.Context, checkpoint *Checkpoint) error
	Delete(ctx context.Context, daemonID string) error
}

// NoopCheckpointer never persists; every run starts fresh.
type NoopCheckpointer struct{}

func (n *NoopCheckpointer) Load(ctx context.Context, daemonID string) (*Checkpoint, error) {
	return nil, nil
}
func (n *NoopCheckpointer) Save(ctx context.Context, checkpoint *Checkpoint) error { return nil }
func (n *NoopCheckpointer) Delete(ctx context.Context, daemonID string) error      { return nil }

// FilesystemCheckpointer keeps one <daemon-id>.checkpoint JSON file per
// daemon, written atomically via tmp+rename.
type FilesystemCheckpointer struct {
	baseDir string
	logger  *zap.Logger
	mu      sync.Mutex
}

func NewFilesystemCheckpointer(baseDir string, logger *zap.Logger) *FilesystemCheckpointer {
	return &FilesystemCheckpointer{
		baseDir: baseDir,
		logger:  logger,
	}
}

func (f *FilesystemCheckpointer) path(daemonID string) string {
	return filepath.Join(f.baseDir, daemonID+".checkpoint")
}

func (f *FilesystemCheckpointer) Load(ctx context.Context, daemonID string) (*Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(daemonID))
	if os.IsNotExist(err) {
		f.logger.Info("no checkpoint found", zap.String("daemon_id", daemonID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, err
	}

	f.logger.Info("checkpoint loaded",
		zap.String("daemon_id", daemonID),
		zap.String("position", string(checkpoint.Position)),
		zap.Time("timestamp", checkpoint.Timestamp))
	return &checkpoint, nil
}

func (f *FilesystemCheckpointer) Save(ctx context.Context, checkpoint *Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return err
	}

	final := f.path(checkpoint.DaemonID)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if file, err := os.OpenFile(tmp, os.O_RDWR, 0o644); err == nil {
		file.Sync()
		file.Close()
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}

	f.logger.Debug("checkpoint saved",
		zap.String("daemon_id", checkpoint.DaemonID),
		zap.String("position", string(checkpoint.Position)))
	return nil
}

func (f *FilesystemCheckpointer) Delete(ctx context.Context, daemonID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(daemonID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
