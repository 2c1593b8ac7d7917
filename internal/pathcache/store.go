// Package pathcache associates tracking-service entities with the
// filesystem paths created for them. The cache is a sqlite file under
// the configuration root so every machine sharing the configuration
// shares the registry.
package pathcache

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/framehaus/stagehand/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one entity-to-path association. Paths are stored
// slash-normalized and root-relative ("primary:arizona/sequences/...")
// so the cache is sharable across platforms.
type Entry struct {
	EntityType string
	EntityID   int
	Name       string
	Path       string
	Primary    bool
}

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if necessary) the cache database at path and
// applies pending migrations.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open path cache %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open path cache %s: %w", path, err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate path cache %s: %w", path, err)
	}

	s.db = db
	s.logger.Debug("path cache opened", zap.String("path", path))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies every migration file not yet recorded, one
// transaction per file.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return err
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, name).Scan(&applied); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}

		bs, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(bs)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, name, time.Now().UnixMilli()); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

// Register upserts entries keyed on (entity_type, entity_id, path).
// Re-registering an existing association is a no-op apart from
// refreshing name and primary flags.
func (s *Store) Register(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entity_paths (entity_type, entity_id, name, path, is_primary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id, path)
		DO UPDATE SET name = excluded.name, is_primary = excluded.is_primary`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range entries {
		primary := 0
		if e.Primary {
			primary = 1
		}
		if _, err := stmt.ExecContext(ctx, e.EntityType, e.EntityID, e.Name, e.Path, primary, now); err != nil {
			return fmt.Errorf("register %s %d at %s: %w", e.EntityType, e.EntityID, e.Path, err)
		}
	}

	return tx.Commit()
}

// PathsFor returns every registered path for an entity, primary first.
func (s *Store) PathsFor(ctx context.Context, entityType string, entityID int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, name, path, is_primary
		FROM entity_paths
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY is_primary DESC, path`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// EntityAt returns the entry registered at exactly this stored path, or
// nil when the path is unregistered. Primary registrations win when
// several entities share a path.
func (s *Store) EntityAt(ctx context.Context, path string) (*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, name, path, is_primary
		FROM entity_paths
		WHERE path = ?
		ORDER BY is_primary DESC
		LIMIT 1`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// All snapshots the registry, ordered for stable archive export.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, name, path, is_primary
		FROM entity_paths
		ORDER BY entity_type, entity_id, path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var primary int
		if err := rows.Scan(&e.EntityType, &e.EntityID, &e.Name, &e.Path, &primary); err != nil {
			return nil, err
		}
		e.Primary = primary == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// Normalize converts an absolute path under a storage root into the
// stored "<root>:<slash/relative>" form.
func Normalize(root config.Root, abs string) (string, error) {
	norm := strings.ReplaceAll(abs, `\`, "/")
	for _, platform := range root.Platforms() {
		rootPath, err := root.For(platform)
		if err != nil {
			continue
		}
		prefix := strings.TrimSuffix(strings.ReplaceAll(rootPath, `\`, "/"), "/")
		if norm == prefix {
			return root.Name + ":", nil
		}
		if strings.HasPrefix(norm, prefix+"/") {
			return root.Name + ":" + strings.TrimPrefix(norm, prefix+"/"), nil
		}
	}
	return "", fmt.Errorf("path %q is not under root %q", abs, root.Name)
}

// Denormalize renders a stored path back to an absolute path on the
// current platform.
func Denormalize(roots map[string]config.Root, stored string) (string, error) {
	rootName, rel, ok := strings.Cut(stored, ":")
	if !ok {
		return "", fmt.Errorf("malformed cache path %q", stored)
	}
	root, exists := roots[rootName]
	if !exists {
		return "", fmt.Errorf("cache path %q references unknown root %q", stored, rootName)
	}
	base, err := root.For(config.CurrentPlatform())
	if err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.FromSlash(rel)), nil
}
