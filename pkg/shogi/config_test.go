package shogi_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"shogi/pkg/shogi"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"engine": "bin/engine", "engine_options": {"Threads": "2"}, "millis": 250, "log_level": "debug"}`)
	// godotenv leaves variables behind in the process environment.
	writeFile(t, filepath.Join(dir, ".env"), "SHOGI_MOVE_LIMIT=300\nSHOGI_MILLIS=999\n")
	t.Cleanup(func() { _ = os.Unsetenv("SHOGI_MOVE_LIMIT") })
	t.Setenv("SHOGI_MILLIS", "75")

	cfg, err := shogi.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bin", "engine"), cfg.EnginePath(dir))
	assert.Equal(t, map[string]string{"Threads": "2"}, cfg.EngineOptions)
	assert.Equal(t, 75, cfg.Millis, "process environment wins over .env")
	assert.Equal(t, 300, cfg.MoveLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.ReplyDelay())
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := shogi.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, shogi.DefaultMoveLimit, cfg.MoveLimit)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
	assert.Empty(t, cfg.EnginePath("/repo"))

	cfg.Engine = "/opt/engine"
	assert.Equal(t, "/opt/engine", cfg.EnginePath("/repo"))
	cfg.LogLevel = "chatty"
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	_, err := shogi.LoadConfig(path)
	assert.Error(t, err, "missing file")

	writeFile(t, path, `{"millis": "fast"}`)
	_, err = shogi.LoadConfig(path)
	assert.Error(t, err, "wrong type")

	writeFile(t, path, `{}`)
	t.Setenv("SHOGI_REPLY_DELAY_MS", "soon")
	_, err = shogi.LoadConfig(path)
	assert.Error(t, err, "bad integer in environment")
}

func TestFindConfigPath(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	writeFile(t, filepath.Join(root, "config.json"), `{}`)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	path, dir, err := shogi.FindConfigPath()
	require.NoError(t, err)
	// TempDir may sit behind a symlink; compare resolved paths.
	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "config.json", filepath.Base(path))
}
