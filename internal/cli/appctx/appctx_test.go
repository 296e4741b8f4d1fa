package appctx

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/iatisync/internal/db"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("db", "", "Database path")
	cmd.Flags().String("as", "", "Actor")
	return cmd
}

func migratedDB(t *testing.T, path string) {
	t.Helper()
	database, err := db.Open(path)
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	database.Close()
}

func TestBootstrap_ConfigOnly(t *testing.T) {
	t.Setenv("IATISYNC_DB_PATH", filepath.Join(t.TempDir(), "test.db"))

	app, err := Bootstrap(newCmd(), Options{NeedsDB: false})
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Config)
	assert.NotNil(t, app.Log)
	assert.Nil(t, app.DB)
	assert.Nil(t, app.Store)
}

func TestBootstrap_WithDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migratedDB(t, dbPath)
	t.Setenv("IATISYNC_DB_PATH", dbPath)

	app, err := Bootstrap(newCmd(), DefaultOptions())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.DB)
	assert.NotNil(t, app.Store)
	assert.Equal(t, dbPath, app.Config.DBPath)
}

func TestBootstrap_DBFlagOverride(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	overridePath := filepath.Join(dir, "override.db")
	migratedDB(t, dbPath)
	migratedDB(t, overridePath)
	t.Setenv("IATISYNC_DB_PATH", dbPath)

	cmd := newCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--db", overridePath}))

	app, err := Bootstrap(cmd, DefaultOptions())
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, overridePath, app.Config.DBPath)
}

func TestBootstrap_PendingMigrations(t *testing.T) {
	t.Setenv("IATISYNC_DB_PATH", filepath.Join(t.TempDir(), "fresh.db"))

	_, err := Bootstrap(newCmd(), DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires migration")

	app, err := Bootstrap(newCmd(), Options{NeedsDB: true, SkipMigrationCheck: true})
	require.NoError(t, err)
	app.Close()
}

func TestBootstrap_Actor(t *testing.T) {
	t.Setenv("IATISYNC_DB_PATH", filepath.Join(t.TempDir(), "test.db"))
	t.Setenv("IATISYNC_ACTOR", "etl-bot")

	app, err := Bootstrap(newCmd(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "etl-bot", app.Actor)

	cmd := newCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--as", "alice"}))
	app, err = Bootstrap(cmd, Options{})
	require.NoError(t, err)
	assert.Equal(t, "alice", app.Actor)
}

func TestWithApp_ClosesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migratedDB(t, dbPath)
	t.Setenv("IATISYNC_DB_PATH", dbPath)

	var captured *App
	run := WithApp(DefaultOptions(), func(app *App, cmd *cobra.Command, args []string) error {
		captured = app
		require.NotNil(t, app.DB)
		return nil
	})
	require.NoError(t, run(newCmd(), nil))
	assert.Nil(t, captured.DB)
}
