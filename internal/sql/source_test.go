package sql_test

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	lsql "github.com/framehaus/stagehand/internal/sql"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE paths (
		id INTEGER PRIMARY KEY,
		entity_type TEXT NOT NULL,
		path TEXT NOT NULL
	)`)
	require.NoError(t, err)

	for _, row := range [][]any{
		{1, "Shot", "primary:arizona/sequences/mirage/mi001"},
		{2, "Shot", "primary:arizona/sequences/mirage/mi002"},
		{3, "Sequence", "primary:arizona/sequences/mirage"},
	} {
		_, err = db.Exec("INSERT INTO paths (id, entity_type, path) VALUES (?, ?, ?)", row...)
		require.NoError(t, err)
	}
	return db
}

func TestSource(t *testing.T) {
	ctx := context.Background()

	t.Run("count matches the query not the table", func(t *testing.T) {
		source := lsql.NewSource(newTestDB(t),
			lsql.WithTable("paths"),
			lsql.WithQuery("SELECT id, path FROM paths WHERE entity_type = 'Shot'"))

		count, err := source.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("snapshot cursor yields every row then EOF", func(t *testing.T) {
		source := lsql.NewSource(newTestDB(t), lsql.WithTable("paths"))

		snapshot, err := source.Snapshot(ctx)
		require.NoError(t, err)
		defer snapshot.Close()

		var rows int
		for {
			record, err := snapshot.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			require.Equal(t, 3, record.Len())
			rows++
		}
		assert.Equal(t, 3, rows)
	})

	t.Run("records expose fields by name", func(t *testing.T) {
		source := lsql.NewSource(newTestDB(t),
			lsql.WithQuery("SELECT id, path FROM paths WHERE id = 1"))

		snapshot, err := source.Snapshot(ctx)
		require.NoError(t, err)
		defer snapshot.Close()

		record, err := snapshot.Next()
		require.NoError(t, err)

		m := record.Map()
		assert.EqualValues(t, 1, m["id"])
		assert.EqualValues(t, "primary:arizona/sequences/mirage/mi001", m["path"])
	})

	t.Run("default query selects the whole table", func(t *testing.T) {
		source := lsql.NewSource(newTestDB(t), lsql.WithTable("paths"))
		assert.Equal(t, "SELECT * FROM paths", source.Query)
		assert.Equal(t, "paths", source.Name())
	})

	t.Run("schema qualifies the name", func(t *testing.T) {
		source := lsql.NewSource(newTestDB(t),
			lsql.WithSchema("public"), lsql.WithTable("pipeline_events"))
		assert.Equal(t, "public.pipeline_events", source.Name())
	})
}
