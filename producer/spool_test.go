package producer

import (
	"archive/zip"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenearth/esingest/bootstrap"
	"github.com/greenearth/esingest/internal/logging"
	"github.com/greenearth/esingest/internal/spoolstate"
)

// writeSnapshot builds a small SQLite database with one "posts" table and
// zips it as dir/name, the on-disk shape both spool producers expect.
func writeSnapshot(t *testing.T, dir, name string, rows [][2]string) string {
	t.Helper()

	dbPath := filepath.Join(dir, name+".db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE posts (at_uri TEXT, raw_post TEXT)`)
	require.NoError(t, err)
	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO posts (at_uri, raw_post) VALUES (?, ?)`, r[0], r[1])
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	zipPath := filepath.Join(dir, name+".db.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	defer zf.Close()

	zw := zip.NewWriter(zf)
	entry, err := zw.Create(name + ".db")
	require.NoError(t, err)

	dbBytes, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	_, err = entry.Write(dbBytes)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.Remove(dbPath))

	return zipPath
}

func TestLocalSpoolProducer_QueuesRowsAndMarksProcessed(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "snap-1", [][2]string{
			{"at://1", `{"text":"a"}`},
			{"at://2", `{"text":"b"}`},
		})

	statePath := filepath.Join(dir, "state.json")
	state, err := spoolstate.NewManager(statePath, logging.New(false))
	require.NoError(t, err)

	var decoded []string
	decode := func(rows *sql.Rows, filename string) (post, error) {
		var atURI, rawPost string
		if err := rows.Scan(&atURI, &rawPost); err != nil {
			return post{}, err
		}
		decoded = append(decoded, atURI)
		return post{ID: atURI, Text: rawPost}, nil
	}

	cfg := SpoolConfig{
		Mode: "once",
		Query: "SELECT at_uri, raw_post FROM posts",
		DrainMaxWait: 2 * time.Second,
	}
	producer := NewLocalSpoolProducer[post](dir, cfg, state, logging.New(false), decode)

	ch := testChannel(t)
	require.NoError(t, ch.Bootstrap(context.Background(), &bootstrap.Context{}))
	require.NoError(t, ch.Start(context.Background()))

	require.NoError(t, producer.Run(context.Background(), ch))

	assert.ElementsMatch(t, []string{"at://1", "at://2"}, decoded)
	assert.True(t, state.IsProcessed("snap-1.db.zip"))
	_, err = os.Stat(filepath.Join(dir, "snap-1.db.zip"))
	assert.True(t, os.IsNotExist(err), "processed snapshot zip should be removed")
}

func TestLocalSpoolProducer_SkipsAlreadyProcessedFile(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "snap-2", [][2]string{{"at://1", "{}"}})

	statePath := filepath.Join(dir, "state.json")
	state, err := spoolstate.NewManager(statePath, logging.New(false))
	require.NoError(t, err)
	require.NoError(t, state.MarkProcessed("snap-2.db.zip"))

	called := false
	decode := func(rows *sql.Rows, filename string) (post, error) {
		called = true
		return post{}, nil
	}

	cfg := SpoolConfig{Mode: "once", Query: "SELECT at_uri, raw_post FROM posts"}
	producer := NewLocalSpoolProducer[post](dir, cfg, state, logging.New(false), decode)

	ch := testChannel(t)
	require.NoError(t, ch.Bootstrap(context.Background(), &bootstrap.Context{}))
	require.NoError(t, ch.Start(context.Background()))

	require.NoError(t, producer.Run(context.Background(), ch))
	assert.False(t, called, "an already-processed snapshot must not be re-queued")
}

func TestLocalSpoolProducer_MarksFailedOnBadSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.db.zip"), []byte("not a zip"), 0o644))

	statePath := filepath.Join(dir, "state.json")
	state, err := spoolstate.NewManager(statePath, logging.New(false))
	require.NoError(t, err)

	decode := func(rows *sql.Rows, filename string) (post, error) { return post{}, nil }
	cfg := SpoolConfig{Mode: "once", Query: "SELECT at_uri, raw_post FROM posts"}
	producer := NewLocalSpoolProducer[post](dir, cfg, state, logging.New(false), decode)

	ch := testChannel(t)
	require.NoError(t, ch.Bootstrap(context.Background(), &bootstrap.Context{}))
	require.NoError(t, ch.Start(context.Background()))

	require.NoError(t, producer.Run(context.Background(), ch))
	assert.True(t, state.IsFailed("bad.db.zip"))
}
