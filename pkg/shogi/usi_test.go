package shogi_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"shogi/pkg/shogi"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine answers the handful of commands a session sends. The first
// argument is the bestmove it plays. The second is how many lines of noise it
// writes to stderr before answering go.
const fakeEngine = `#!/bin/sh
move=${1:-7g7f}
noise=${2:-0}
while read -r line; do
  case "$line" in
    usi) echo "id name fake"; echo "id author test"; echo "usiok" ;;
    isready) echo "readyok" ;;
    go*)
      i=0
      while [ "$i" -lt "$noise" ]; do
        echo "debug $i ................................................" >&2
        i=$((i+1))
      done
      echo "info depth 1 score cp 42 pv $move"; echo "bestmove $move ponder 3c3d" ;;
    quit) exit 0 ;;
  esac
done
`

func TestParseLine(t *testing.T) {
	cases := []struct {
		line string
		want shogi.Event
	}{
		{"id name Fake Engine 1.0", shogi.Event{Type: shogi.EventID, Key: "name", Value: "Fake Engine 1.0"}},
		{"usiok", shogi.Event{Type: shogi.EventUSIOK}},
		{"readyok\r", shogi.Event{Type: shogi.EventReadyOK}},
		{"bestmove 7g7f", shogi.Event{Type: shogi.EventBestMove, Move: "7g7f"}},
		{"bestmove 7g7f ponder 3c3d", shogi.Event{Type: shogi.EventBestMove, Move: "7g7f", Ponder: "3c3d"}},
		{"bestmove resign", shogi.Event{Type: shogi.EventBestMove, Move: "resign"}},
		{"info depth 3 score cp 12", shogi.Event{Type: shogi.EventInfo, Raw: "info depth 3 score cp 12"}},
		{"option name USI_Hash type spin", shogi.Event{Type: shogi.EventUnknown, Raw: "option name USI_Hash type spin"}},
	}
	for _, tc := range cases {
		got, err := shogi.ParseLine(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
	for _, bad := range []string{"", "   ", "id name", "bestmove"} {
		if _, err := shogi.ParseLine(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestReaderEOF(t *testing.T) {
	r := shogi.NewReader(strings.NewReader("usiok\n"))
	event, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, shogi.EventUSIOK, event.Type)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestScoreString(t *testing.T) {
	assert.Equal(t, "cp -42", shogi.Score{Kind: "cp", Value: -42}.String())
	assert.Equal(t, "mate 3", shogi.Score{Kind: "mate", Value: 3}.String())
	assert.Equal(t, "unknown", shogi.Score{}.String())
}

func startFakeEngine(t *testing.T, ctx context.Context, move string) *shogi.Session {
	t.Helper()
	return startLoggedFakeEngine(t, ctx, zerolog.Nop(), move)
}

func startLoggedFakeEngine(t *testing.T, ctx context.Context, logger zerolog.Logger, args ...string) *shogi.Session {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine is a shell script")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fake-engine")
	require.NoError(t, os.WriteFile(path, []byte(fakeEngine), 0o755))

	session, err := shogi.StartSession(ctx, logger, path, args...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	require.NoError(t, session.Handshake(ctx, map[string]string{"USI_Hash": "16", "Threads": "1"}))
	return session
}

func TestSessionSearch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := startFakeEngine(t, ctx, "7g7f")

	result, err := session.Search(ctx, shogi.StandardSFEN, 10)
	require.NoError(t, err)
	assert.Equal(t, "7g7f", result.Move)
	assert.Equal(t, "3c3d", result.Ponder)
	require.True(t, result.HasScore)
	assert.Equal(t, shogi.Score{Kind: "cp", Value: 42}, result.Score)

	// Scores are reported from Black's side.
	result, err = session.Search(ctx, "lnsgkgsnl/1r5b1/ppppppppp/9/9/2P6/PP1PPPPPP/1B5R1/LNSGKGSNL w - 2", 10)
	require.NoError(t, err)
	assert.Equal(t, shogi.Score{Kind: "cp", Value: -42}, result.Score)
}

func TestEngineOpponent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cases := []struct {
		move string
		want shogi.Action
		err  error
	}{
		{move: "2g2f", want: shogi.MoveAction(shogi.Sq(2, 7), shogi.Sq(2, 6))},
		{move: "resign", err: shogi.ErrResign},
	}
	state := shogi.NewGameState()
	for _, tc := range cases {
		opponent := shogi.NewEngineOpponent(startFakeEngine(t, ctx, tc.move), "fake", 10)
		assert.Equal(t, "fake", opponent.Name())
		got, err := opponent.Choose(ctx, shogi.NewSnapshot(&state))
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("%s: expected %v, got %v", tc.move, tc.err, err)
			}
			continue
		}
		require.NoError(t, err, tc.move)
		assert.Equal(t, tc.want, got)
	}

	opponent := shogi.NewEngineOpponent(startFakeEngine(t, ctx, "win"), "fake", 10)
	_, err := opponent.Choose(ctx, shogi.NewSnapshot(&state))
	assert.Error(t, err)
}

func TestEngineOpponentPlaysGame(t *testing.T) {
	cfgPath, repoRoot, err := shogi.FindConfigPath()
	if err != nil {
		t.Skipf("config.json not found: %v", err)
	}
	cfg, err := shogi.LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config.json: %v", err)
	}
	enginePath := cfg.EnginePath(repoRoot)
	if enginePath == "" {
		t.Skip("config.json has no engine path")
	}
	if _, err := os.Stat(enginePath); err != nil {
		t.Skipf("engine binary not found at %s: %v", enginePath, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	session, err := shogi.StartSession(ctx, zerolog.Nop(), enginePath)
	if err != nil {
		t.Fatalf("failed to start engine session: %v", err)
	}
	defer session.Close()

	if err := session.Handshake(ctx, cfg.EngineOptions); err != nil {
		if msg := session.StderrTail(500 * time.Millisecond); shouldSkipForMissingLibs(msg) {
			t.Skipf("engine cannot start due to missing runtime libraries: %s", strings.TrimSpace(msg))
		}
		t.Fatalf("usi handshake failed: %v", err)
	}

	g := newGame(t, shogi.Options{
		Seats:     [2]shogi.Actor{shogi.Automated, shogi.Automated},
		Opponent:  shogi.NewEngineOpponent(session, "engine", 10),
		MoveLimit: 20,
	})
	for !g.Outcome().Over() {
		if _, err := g.PlayAutomated(ctx); err != nil {
			t.Fatalf("engine move %d failed: %v", len(g.Records())+1, err)
		}
	}
	assert.NotEmpty(t, g.Records())
}

func shouldSkipForMissingLibs(msg string) bool {
	return strings.Contains(msg, "GLIBC") || strings.Contains(msg, "GLIBCXX")
}

func TestEngineOpponentNoisyStderr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Far more than a pipe buffer holds.
	session := startLoggedFakeEngine(t, ctx, zerolog.Nop(), "2g2f", "4000")
	opponent := shogi.NewEngineOpponent(session, "fake", 10)
	state := shogi.NewGameState()
	got, err := opponent.Choose(ctx, shogi.NewSnapshot(&state))
	require.NoError(t, err)
	assert.Equal(t, shogi.MoveAction(shogi.Sq(2, 7), shogi.Sq(2, 6)), got)

	require.NoError(t, session.Close())
	tail := session.StderrTail(time.Second)
	assert.Contains(t, tail, "debug 3999 ")
	assert.NotContains(t, tail, "debug 0 ")
}

func TestEngineOpponentLogsSearch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.DebugLevel)
	session := startLoggedFakeEngine(t, ctx, logger, "3c3d")
	opponent := shogi.NewEngineOpponent(session, "fake", 10)

	s := mustState(t, "lnsgkgsnl/1r5b1/ppppppppp/9/9/2P6/PP1PPPPPP/1B5R1/LNSGKGSNL w - 2")
	_, err := opponent.Choose(ctx, shogi.NewSnapshot(&s))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"bestmove":"3c3d"`)
	assert.Contains(t, out, `"ponder":"3c3d"`)
	assert.Contains(t, out, `"score":"cp -42"`)
	assert.Contains(t, out, `"opponent":"fake"`)
}
