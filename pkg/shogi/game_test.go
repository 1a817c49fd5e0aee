package shogi_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"shogi/pkg/shogi"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualTimer queues scheduled callbacks until the test fires them. Stopping
// a callback does not remove it, so stale callbacks still run.
type manualTimer struct {
	queue []func()
}

func (m *manualTimer) schedule(_ time.Duration, f func()) func() bool {
	m.queue = append(m.queue, f)
	return func() bool { return true }
}

func (m *manualTimer) fire(t *testing.T, i int) {
	t.Helper()
	require.Less(t, i, len(m.queue), "callback %d was never scheduled", i)
	m.queue[i]()
}

type resigningOpponent struct{}

func (resigningOpponent) Name() string { return "resigner" }

func (resigningOpponent) Choose(context.Context, shogi.Snapshot) (shogi.Action, error) {
	return shogi.Action{}, shogi.ErrResign
}

func quietLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func usi(t *testing.T, text string) shogi.Action {
	t.Helper()
	a, err := shogi.ParseUSIMove(text)
	require.NoError(t, err)
	return a
}

func newGame(t *testing.T, opts shogi.Options) *shogi.Game {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	g, err := shogi.NewGame(opts)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

// newReplyGame seats a human as Black against a random opponent with manually
// fired replies.
func newReplyGame(t *testing.T) (*shogi.Game, *manualTimer) {
	t.Helper()
	g := newGame(t, shogi.Options{
		Seats:     [2]shogi.Actor{shogi.Interactive, shogi.Automated},
		Opponent:  shogi.NewRandomOpponent(1),
		AutoReply: true,
	})
	timer := &manualTimer{}
	shogi.SetSchedule(g, timer.schedule)
	return g, timer
}

func TestNewGameValidation(t *testing.T) {
	_, err := shogi.NewGame(shogi.Options{SFEN: "4k4/9/9/9/9/9/9/9/4K4 b - 1", Logger: quietLogger()})
	if !errors.Is(err, shogi.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}

	_, err = shogi.NewGame(shogi.Options{Seats: [2]shogi.Actor{shogi.Interactive, shogi.Automated}, Logger: quietLogger()})
	assert.Error(t, err, "automated seat without opponent")

	_, err = shogi.NewGame(shogi.Options{SFEN: "not an sfen", Logger: quietLogger()})
	assert.Error(t, err)
}

func TestGamePlay(t *testing.T) {
	g := newGame(t, shogi.Options{})
	assert.Equal(t, shogi.UndoUnavailable, g.Undo())

	res, err := g.Play(usi(t, "7g7f"))
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.Equal(t, 1, res.Record.Number)
	assert.Equal(t, shogi.Black, res.Record.Actor)
	assert.False(t, res.Outcome.Over())

	sq, ok := g.LastMove()
	assert.True(t, ok)
	assert.Equal(t, shogi.Sq(7, 6), sq)
	assert.Equal(t, shogi.White, g.Snapshot().Turn())

	_, err = g.Play(usi(t, "7f7e"))
	if !errors.Is(err, shogi.ErrIllegalAction) {
		t.Fatalf("expected ErrIllegalAction, got %v", err)
	}
	assert.Len(t, g.Records(), 1, "illegal action changes nothing")
}

func TestGameRejectsPlayOnAutomatedSeat(t *testing.T) {
	g, _ := newReplyGame(t)
	_, err := g.Play(usi(t, "7g7f"))
	require.NoError(t, err)

	_, err = g.Play(usi(t, "3c3d"))
	if !errors.Is(err, shogi.ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
}

func TestGamePendingPromotion(t *testing.T) {
	g := newGame(t, shogi.Options{SFEN: "k8/9/9/4P4/9/9/9/9/8K b 2R2B4G4S4N4L17P 1"})
	gen := g.Generation()

	res, err := g.Play(usi(t, "5d5c"))
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Nil(t, res.Record)
	assert.Equal(t, gen, g.Generation(), "a pending choice changes nothing")

	plan, ok := g.Pending()
	require.True(t, ok)
	assert.Equal(t, shogi.PromotionOptional, plan.Promotion)
	assert.Equal(t, shogi.Black, g.Snapshot().Turn(), "nothing applied yet")

	_, err = g.Play(usi(t, "1i1h"))
	assert.ErrorIs(t, err, shogi.ErrPromotionPending)
	assert.Equal(t, shogi.UndoPromotionPending, g.Undo())
	assert.False(t, g.CanUndo())

	res, err = g.ResolvePromotion(false)
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.True(t, res.Record.Declined)
	assert.Greater(t, g.Generation(), gen)
	assert.Equal(t, shogi.Piece{Kind: shogi.Pawn, Owner: shogi.Black}, g.Snapshot().PieceAt(shogi.Sq(5, 3)))

	_, err = g.ResolvePromotion(true)
	assert.ErrorIs(t, err, shogi.ErrNoPendingPromotion)
}

func TestGameOverBlocksEverything(t *testing.T) {
	g := newGame(t, shogi.Options{SFEN: "4k4/9/4P4/9/9/9/9/9/4K4 b 2R2B4G4S4N4L17P 1"})
	res, err := g.Play(usi(t, "G*5b"))
	require.NoError(t, err)
	assert.Equal(t, shogi.ReasonCheckmate, res.Outcome.Reason)
	assert.Equal(t, res.Outcome, g.Outcome())

	_, err = g.Play(usi(t, "5a4a"))
	assert.ErrorIs(t, err, shogi.ErrGameOver)
	assert.Equal(t, shogi.UndoGameOver, g.Undo())
	_, err = g.Resign(shogi.White)
	assert.ErrorIs(t, err, shogi.ErrGameOver)
}

func TestDeferredReply(t *testing.T) {
	g, timer := newReplyGame(t)

	_, err := g.Play(usi(t, "7g7f"))
	require.NoError(t, err)
	require.Len(t, timer.queue, 1)
	assert.Len(t, g.Records(), 1, "reply waits for the timer")

	timer.fire(t, 0)
	records := g.Records()
	require.Len(t, records, 2)
	assert.Equal(t, shogi.White, records[1].Actor)
	assert.Equal(t, shogi.Black, g.Snapshot().Turn())

	// A second firing of the same callback is stale.
	timer.fire(t, 0)
	assert.Len(t, g.Records(), 2)
}

func TestUndoSuppressesStaleReply(t *testing.T) {
	g, timer := newReplyGame(t)

	_, err := g.Play(usi(t, "7g7f"))
	require.NoError(t, err)
	timer.fire(t, 0)
	firstReply := g.Records()[1]
	before := g.Snapshot()

	_, err = g.Play(usi(t, "2g2f"))
	require.NoError(t, err)
	require.Len(t, timer.queue, 2)

	// Undo while the reply to 2g2f is still pending takes back 2g2f only.
	require.True(t, g.CanUndo())
	assert.Equal(t, shogi.UndoApplied, g.Undo())
	snap := g.Snapshot()
	assert.Equal(t, before.SFEN(), snap.SFEN())
	assert.Equal(t, shogi.Black, snap.Turn())
	assert.Equal(t, 2, snap.MoveCount())
	records := g.Records()
	require.Len(t, records, 2)
	assert.Equal(t, firstReply, records[1], "the earlier reply stays")
	assert.Len(t, timer.queue, 2, "undo arms no reply")

	timer.fire(t, 1)
	assert.Len(t, g.Records(), 2, "stale reply must not apply")
	assert.Equal(t, before.SFEN(), g.Snapshot().SFEN())

	_, err = g.Play(usi(t, "2g2f"))
	require.NoError(t, err)
	require.Len(t, timer.queue, 3)
	timer.fire(t, 2)
	assert.Len(t, g.Records(), 4)
	assert.Equal(t, shogi.Black, g.Snapshot().Turn())
}

func TestUndoBeforeFirstReply(t *testing.T) {
	g, timer := newReplyGame(t)

	_, err := g.Play(usi(t, "7g7f"))
	require.NoError(t, err)
	assert.False(t, g.CanUndo())
	assert.Equal(t, shogi.UndoUnavailable, g.Undo())
	assert.Len(t, g.Records(), 1)

	timer.fire(t, 0)
	assert.Len(t, g.Records(), 2, "refused undo leaves the reply armed")
}

func TestUndoAfterAutomatedFirstMove(t *testing.T) {
	g := newGame(t, shogi.Options{
		Seats:     [2]shogi.Actor{shogi.Automated, shogi.Interactive},
		Opponent:  shogi.NewRandomOpponent(7),
		AutoReply: true,
	})
	timer := &manualTimer{}
	shogi.SetSchedule(g, timer.schedule)

	g.Start()
	timer.fire(t, 0)
	before := g.Snapshot()
	require.Equal(t, shogi.White, before.Turn())

	_, err := g.Play(usi(t, "3c3d"))
	require.NoError(t, err)
	require.Len(t, timer.queue, 2)

	assert.Equal(t, shogi.UndoApplied, g.Undo())
	assert.Equal(t, before.SFEN(), g.Snapshot().SFEN())
	assert.Len(t, g.Records(), 1)

	timer.fire(t, 1)
	assert.Len(t, g.Records(), 1)
	assert.Equal(t, shogi.White, g.Snapshot().Turn())
}

func TestUndoFullTurn(t *testing.T) {
	g := newGame(t, shogi.Options{})
	for _, text := range []string{"7g7f", "3c3d", "2g2f", "8c8d"} {
		_, err := g.Play(usi(t, text))
		require.NoError(t, err)
	}
	assert.Equal(t, shogi.UndoApplied, g.Undo())
	assert.Equal(t, "lnsgkgsnl/1r5b1/pppppp1pp/6p2/9/2P6/PP1PPPPPP/1B5R1/LNSGKGSNL b - 3", g.Snapshot().SFEN())
	assert.Len(t, g.Records(), 2)

	// Replaying the undone plies reaches the same position as before.
	for _, text := range []string{"2g2f", "8c8d"} {
		_, err := g.Play(usi(t, text))
		require.NoError(t, err)
	}
	assert.Len(t, g.Records(), 4)
}

func TestUndoClearsRepetitionCount(t *testing.T) {
	// Two cycles bring the start position back a third time. Undoing and
	// replaying the last turn must not count it twice.
	const sfen = "4k4/9/9/9/9/9/9/9/K4R3 b R2B4G4S4N4L18P 1"
	g := newGame(t, shogi.Options{SFEN: sfen})
	cycle := []string{"4i3i", "5a6a", "3i4i", "6a5a"}
	for _, text := range append(cycle, cycle...) {
		_, err := g.Play(usi(t, text))
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		require.Equal(t, shogi.UndoApplied, g.Undo())
		for _, text := range cycle[2:] {
			res, err := g.Play(usi(t, text))
			require.NoError(t, err)
			require.False(t, res.Outcome.Over(), "undo %d", i)
		}
	}
	for _, text := range cycle {
		_, err := g.Play(usi(t, text))
		require.NoError(t, err)
	}
	assert.Equal(t, shogi.Outcome{Status: shogi.Draw, Reason: shogi.ReasonRepetition}, g.Outcome())
}

func TestResignSuppressesReply(t *testing.T) {
	g, timer := newReplyGame(t)
	_, err := g.Play(usi(t, "7g7f"))
	require.NoError(t, err)

	outcome, err := g.Resign(shogi.Black)
	require.NoError(t, err)
	assert.Equal(t, shogi.Outcome{Status: shogi.Win, Winner: shogi.White, Reason: shogi.ReasonResignation}, outcome)

	timer.fire(t, 0)
	assert.Len(t, g.Records(), 1)
	assert.Equal(t, shogi.White, g.Snapshot().Turn())
}

func TestOpponentResigns(t *testing.T) {
	g := newGame(t, shogi.Options{
		Seats:    [2]shogi.Actor{shogi.Interactive, shogi.Automated},
		Opponent: resigningOpponent{},
	})
	_, err := g.PlayAutomated(context.Background())
	assert.ErrorIs(t, err, shogi.ErrNotYourTurn)

	_, err = g.Play(usi(t, "7g7f"))
	require.NoError(t, err)
	res, err := g.PlayAutomated(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shogi.Outcome{Status: shogi.Win, Winner: shogi.Black, Reason: shogi.ReasonResignation}, res.Outcome)
}

func TestAutomatedFirstMover(t *testing.T) {
	g := newGame(t, shogi.Options{
		Seats:     [2]shogi.Actor{shogi.Automated, shogi.Interactive},
		Opponent:  shogi.NewRandomOpponent(3),
		AutoReply: true,
	})
	timer := &manualTimer{}
	shogi.SetSchedule(g, timer.schedule)

	g.Start()
	require.Len(t, timer.queue, 1)
	timer.fire(t, 0)
	assert.Equal(t, shogi.White, g.Snapshot().Turn())
	assert.Equal(t, shogi.Automated, g.Seat(shogi.Black))
}

func TestSelfPlay(t *testing.T) {
	g := newGame(t, shogi.Options{
		Seats:     [2]shogi.Actor{shogi.Automated, shogi.Automated},
		Opponent:  shogi.NewRandomOpponent(11),
		MoveLimit: 60,
	})
	ctx := context.Background()
	for !g.Outcome().Over() {
		_, err := g.PlayAutomated(ctx)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(g.Records()), 60)

	s := g.Snapshot().State()
	assert.Equal(t, shogi.PieceSetSize, s.PieceCount())
}

func TestReset(t *testing.T) {
	g, timer := newReplyGame(t)
	_, err := g.Play(usi(t, "7g7f"))
	require.NoError(t, err)

	g.Reset()
	assert.Equal(t, shogi.StandardSFEN, g.Snapshot().SFEN())
	assert.Empty(t, g.Records())
	assert.False(t, g.Outcome().Over())
	assert.False(t, g.CanUndo())

	timer.fire(t, 0)
	assert.Empty(t, g.Records(), "reply scheduled before reset is stale")
}

func TestReplyTimer(t *testing.T) {
	updates := make(chan shogi.Update, 16)
	g := newGame(t, shogi.Options{
		Seats:      [2]shogi.Actor{shogi.Interactive, shogi.Automated},
		Opponent:   shogi.NewRandomOpponent(5),
		AutoReply:  true,
		ReplyDelay: time.Millisecond,
		OnUpdate:   func(u shogi.Update) { updates <- u },
	})

	_, err := g.Play(usi(t, "7g7f"))
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.Record != nil && u.Record.Actor == shogi.White {
				assert.Equal(t, shogi.Black, u.Snapshot.Turn())
				assert.Equal(t, 2, u.Snapshot.MoveCount())
				return
			}
		case <-deadline:
			t.Fatal("automated reply never arrived")
		}
	}
}
