package shogi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
)

// ErrResign is returned by an Opponent that gives up the game.
var ErrResign = errors.New("opponent resigns")

// Opponent picks moves for an automated seat. Choose runs without the game
// lock held and may block.
type Opponent interface {
	Name() string
	Choose(ctx context.Context, snap Snapshot) (Action, error)
}

// RandomOpponent plays a uniformly random legal action.
type RandomOpponent struct {
	rules Rules

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomOpponent(seed uint64) *RandomOpponent {
	return &RandomOpponent{rng: rand.New(rand.NewSource(seed))}
}

func (o *RandomOpponent) Name() string {
	return "random"
}

func (o *RandomOpponent) Choose(ctx context.Context, snap Snapshot) (Action, error) {
	if err := ctx.Err(); err != nil {
		return Action{}, err
	}
	state := snap.State()
	actions := o.rules.LegalActions(&state)
	if len(actions) == 0 {
		return Action{}, ErrResign
	}
	o.mu.Lock()
	idx := o.rng.Intn(len(actions))
	o.mu.Unlock()
	return actions[idx], nil
}

// EngineOpponent asks a USI engine for its best move.
type EngineOpponent struct {
	session    *Session
	name       string
	moveTimeMs int
	log        zerolog.Logger

	mu sync.Mutex
}

func NewEngineOpponent(session *Session, name string, moveTimeMs int) *EngineOpponent {
	return &EngineOpponent{
		session:    session,
		name:       name,
		moveTimeMs: moveTimeMs,
		log:        session.engine.log.With().Str("opponent", name).Logger(),
	}
}

func (o *EngineOpponent) Name() string {
	return o.name
}

func (o *EngineOpponent) Choose(ctx context.Context, snap Snapshot) (Action, error) {
	// A session serves one search at a time.
	o.mu.Lock()
	defer o.mu.Unlock()
	result, err := o.session.Search(ctx, snap.SFEN(), o.moveTimeMs)
	if err != nil {
		return Action{}, err
	}
	ev := o.log.Debug().Int("ply", snap.MoveCount()+1).Str("bestmove", result.Move)
	if result.Ponder != "" {
		ev = ev.Str("ponder", result.Ponder)
	}
	if result.HasScore {
		ev = ev.Stringer("score", result.Score)
	}
	ev.Msg("engine move")
	switch result.Move {
	case "resign":
		return Action{}, ErrResign
	case "win":
		return Action{}, errors.New("engine declared an entering-king win")
	}
	a, err := ParseUSIMove(result.Move)
	if err != nil {
		return Action{}, fmt.Errorf("engine bestmove: %w", err)
	}
	return a, nil
}
