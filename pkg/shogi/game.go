package shogi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrStaleReply is returned when an automated reply was computed for a
// position that has since been undone, resigned or reset.
var ErrStaleReply = errors.New("reply computed for a stale position")

// UndoStatus reports what Undo did.
type UndoStatus uint8

const (
	UndoApplied UndoStatus = iota
	UndoUnavailable
	UndoGameOver
	UndoPromotionPending
)

func (u UndoStatus) String() string {
	switch u {
	case UndoApplied:
		return "applied"
	case UndoUnavailable:
		return "unavailable"
	case UndoGameOver:
		return "game_over"
	case UndoPromotionPending:
		return "promotion_pending"
	default:
		return "unknown"
	}
}

// Result is what a ply produced: a committed record with the outcome, or a
// pending promotion choice.
type Result struct {
	Record  *MoveRecord
	Pending *Plan
	Outcome Outcome
}

// Update is delivered to the presentation layer after every state change.
type Update struct {
	Snapshot   Snapshot
	Record     *MoveRecord
	Outcome    Outcome
	Generation uint64
}

// Options configures a Game. Zero values give a standard game between two
// interactive seats.
type Options struct {
	ID uuid.UUID
	// SFEN overrides the starting position; it must hold the full piece set.
	SFEN      string
	Oracle    Oracle
	Seats     [2]Actor
	Opponent  Opponent
	MoveLimit int
	// AutoReply schedules the opponent's move after every interactive ply.
	AutoReply  bool
	ReplyDelay time.Duration
	Context    context.Context
	Logger     *zerolog.Logger
	OnUpdate   func(Update)
}

// scheduleFunc runs f after d and returns a stop function.
type scheduleFunc func(d time.Duration, f func()) func() bool

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Game owns the authoritative GameState. All mutation goes through its
// methods, which are serialized by mu. The generation counter changes on
// every mutation so deferred replies can detect that they are stale.
type Game struct {
	ID uuid.UUID

	mu         sync.Mutex
	oracle     Oracle
	exec       *Executor
	detector   *Detector
	initial    GameState
	state      GameState
	ledger     *Ledger
	history    *History
	records    []MoveRecord
	outcome    Outcome
	pending    *Plan
	generation uint64

	seats      [2]Actor
	opponent   Opponent
	autoReply  bool
	replyDelay time.Duration
	schedule   scheduleFunc
	stopReply  func() bool
	ctx        context.Context
	cancel     context.CancelFunc
	onUpdate   func(Update)
	log        zerolog.Logger
}

// NewGame sets up a game and registers its starting position.
func NewGame(opts Options) (*Game, error) {
	start := NewGameState()
	if opts.SFEN != "" {
		parsed, err := ParseSFEN(opts.SFEN)
		if err != nil {
			return nil, err
		}
		start = parsed
	}
	if n := start.PieceCount(); n != PieceSetSize {
		return nil, fmt.Errorf("%w: start position has %d pieces", ErrIntegrity, n)
	}
	oracle := opts.Oracle
	if oracle == nil {
		oracle = Rules{}
	}
	for _, seat := range opts.Seats {
		if seat == Automated && opts.Opponent == nil {
			return nil, errors.New("automated seat requires an opponent")
		}
	}
	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	parent := opts.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	detector := NewDetector(oracle)
	if opts.MoveLimit > 0 {
		detector.MoveLimit = opts.MoveLimit
	}
	g := &Game{
		ID:         id,
		oracle:     oracle,
		exec:       NewExecutor(),
		detector:   detector,
		initial:    start,
		state:      start,
		ledger:     NewLedger(),
		history:    NewHistory(),
		seats:      opts.Seats,
		opponent:   opts.Opponent,
		autoReply:  opts.AutoReply,
		replyDelay: opts.ReplyDelay,
		schedule:   afterFunc,
		ctx:        ctx,
		cancel:     cancel,
		onUpdate:   opts.OnUpdate,
		log:        logger.With().Str("game", id.String()).Logger(),
	}
	if err := detector.Register(&g.state, g.ledger); err != nil {
		cancel()
		return nil, err
	}
	return g, nil
}

// Start schedules the opponent when an automated seat moves first.
func (g *Game) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeScheduleReply()
}

// Close suppresses any scheduled reply and cancels a running search.
func (g *Game) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	g.cancelReply()
	g.cancel()
}

func (g *Game) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return NewSnapshot(&g.state)
}

func (g *Game) LastMove() (Square, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.LastMove, g.state.HasLast
}

func (g *Game) Outcome() Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome
}

func (g *Game) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// Records returns the committed plies in order.
func (g *Game) Records() []MoveRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]MoveRecord(nil), g.records...)
}

// Pending returns the plan waiting for a promotion decision.
func (g *Game) Pending() (Plan, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Plan{}, false
	}
	return *g.pending, true
}

func (g *Game) CanUndo() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.undoStatus() == UndoApplied
}

func (g *Game) Seat(c Color) Actor {
	return g.seats[c]
}

// Play applies an interactive action for the side to move. When the piece
// may promote but does not have to, the returned Result carries the pending
// plan and nothing changes until ResolvePromotion.
func (g *Game) Play(a Action) (Result, error) {
	g.mu.Lock()
	var upd *Update
	defer func() { g.emit(upd) }()
	defer g.mu.Unlock()

	if err := g.checkPlayable(Interactive); err != nil {
		return Result{}, err
	}
	if !isLegal(g.oracle, &g.state, a) {
		return Result{}, fmt.Errorf("%w: %v", ErrIllegalAction, a)
	}
	plan := g.mustPlan(a)
	if plan.Promotion == PromotionOptional && !a.Promote {
		g.pending = &plan
		return Result{Pending: &plan}, nil
	}
	res := g.commit(plan, a.Promote)
	upd = g.update(res.Record)
	return res, nil
}

// ResolvePromotion completes the pending interactive ply.
func (g *Game) ResolvePromotion(promote bool) (Result, error) {
	g.mu.Lock()
	var upd *Update
	defer func() { g.emit(upd) }()
	defer g.mu.Unlock()

	if g.pending == nil {
		return Result{}, ErrNoPendingPromotion
	}
	plan := *g.pending
	g.pending = nil
	res := g.commit(plan, promote)
	upd = g.update(res.Record)
	return res, nil
}

// PlayAutomated asks the opponent for a move and applies it synchronously.
func (g *Game) PlayAutomated(ctx context.Context) (Result, error) {
	g.mu.Lock()
	gen := g.generation
	g.mu.Unlock()
	return g.reply(ctx, gen)
}

// reply computes the opponent's move for generation gen and applies it only
// if nothing changed in between.
func (g *Game) reply(ctx context.Context, gen uint64) (Result, error) {
	g.mu.Lock()
	if gen != g.generation {
		g.mu.Unlock()
		return Result{}, ErrStaleReply
	}
	if err := g.checkPlayable(Automated); err != nil {
		g.mu.Unlock()
		return Result{}, err
	}
	snap := NewSnapshot(&g.state)
	mover := g.state.Turn
	g.mu.Unlock()

	a, chooseErr := g.opponent.Choose(ctx, snap)

	g.mu.Lock()
	var upd *Update
	defer func() { g.emit(upd) }()
	defer g.mu.Unlock()

	if gen != g.generation {
		g.log.Debug().Uint64("generation", gen).Msg("dropping stale reply")
		return Result{}, ErrStaleReply
	}
	if errors.Is(chooseErr, ErrResign) {
		g.resign(mover)
		upd = g.update(nil)
		return Result{Outcome: g.outcome}, nil
	}
	if chooseErr != nil {
		return Result{}, chooseErr
	}
	if !isLegal(g.oracle, &g.state, a) {
		return Result{}, fmt.Errorf("%w: opponent %s played %v", ErrIllegalAction, g.opponent.Name(), a)
	}
	res := g.commit(g.mustPlan(a), true)
	upd = g.update(res.Record)
	return res, nil
}

// Undo rewinds the last full turn: the human ply and the automated reply.
// If the reply is still pending only the human ply is taken back. Either
// way the interactive seat is to move afterwards and no reply is armed.
func (g *Game) Undo() UndoStatus {
	g.mu.Lock()
	var upd *Update
	defer func() { g.emit(upd) }()
	defer g.mu.Unlock()

	status := g.undoStatus()
	if status != UndoApplied {
		g.log.Debug().Stringer("status", status).Msg("undo refused")
		return status
	}
	g.generation++
	g.cancelReply()
	plies := g.undoDepth()
	snap, _ := g.history.Rewind(plies)
	g.state = snap.State()
	g.ledger.Rewind(plies)
	g.records = g.records[:len(g.records)-plies]
	g.outcome = Outcome{}
	g.log.Info().Int("plies", plies).Int("move_count", g.state.MoveCount).Msg("undo")
	upd = g.update(nil)
	return UndoApplied
}

// undoDepth is the number of plies back to the interactive seat's last move.
func (g *Game) undoDepth() int {
	mover := g.state.Turn
	if g.seats[mover] == Automated && g.seats[mover.Opponent()] == Interactive {
		return 1
	}
	return undoPlies
}

func (g *Game) undoStatus() UndoStatus {
	switch {
	case g.pending != nil:
		return UndoPromotionPending
	case g.outcome.Over():
		return UndoGameOver
	case !g.history.CanUndo():
		return UndoUnavailable
	default:
		return UndoApplied
	}
}

// Resign ends the game in the opponent's favor without running the detector.
func (g *Game) Resign(side Color) (Outcome, error) {
	g.mu.Lock()
	var upd *Update
	defer func() { g.emit(upd) }()
	defer g.mu.Unlock()

	if g.outcome.Over() {
		return g.outcome, ErrGameOver
	}
	g.resign(side)
	upd = g.update(nil)
	return g.outcome, nil
}

func (g *Game) resign(side Color) {
	g.pending = nil
	g.outcome = winFor(side.Opponent(), ReasonResignation)
	g.generation++
	g.cancelReply()
	g.log.Info().Stringer("side", side).Msg("resigned")
}

// Reset starts over from the starting position the game was created with.
func (g *Game) Reset() {
	g.mu.Lock()
	var upd *Update
	defer func() { g.emit(upd) }()
	defer g.mu.Unlock()

	g.cancelReply()
	g.state = g.initial
	g.ledger = NewLedger()
	g.history.Reset()
	g.records = nil
	g.outcome = Outcome{}
	g.pending = nil
	g.generation++
	if err := g.detector.Register(&g.state, g.ledger); err != nil {
		g.log.Panic().Err(err).Msg("cannot register start position")
	}
	g.log.Info().Msg("reset")
	g.maybeScheduleReply()
	upd = g.update(nil)
}

func (g *Game) checkPlayable(actor Actor) error {
	if g.outcome.Over() {
		return ErrGameOver
	}
	if g.pending != nil {
		return ErrPromotionPending
	}
	if g.seats[g.state.Turn] != actor {
		return ErrNotYourTurn
	}
	return nil
}

// mustPlan treats executor refusals of an oracle-approved action as fatal.
func (g *Game) mustPlan(a Action) Plan {
	plan, err := g.exec.Plan(&g.state, a)
	if err != nil {
		g.log.Panic().Err(err).Stringer("action", a).Msg("executor rejected a legal action")
	}
	return plan
}

// commit snapshots, applies, evaluates and schedules the next reply.
func (g *Game) commit(plan Plan, promote bool) Result {
	g.history.BeforeApply(&g.state)
	rec, err := g.exec.Commit(&g.state, plan, promote)
	if err != nil {
		g.log.Panic().Err(err).Stringer("action", plan.Action).Msg("commit failed")
	}
	g.records = append(g.records, rec)
	outcome, err := g.detector.Evaluate(&g.state, g.ledger)
	if err != nil {
		g.log.Panic().Err(err).Msg("terminal evaluation failed")
	}
	g.outcome = outcome
	g.generation++

	ev := g.log.Debug().Int("ply", rec.Number).Stringer("move", rec.Action())
	if outcome.Over() {
		ev = g.log.Info().Int("ply", rec.Number).Stringer("outcome", outcome)
	}
	ev.Msg("ply")

	if !outcome.Over() {
		g.maybeScheduleReply()
	}
	return Result{Record: &rec, Outcome: outcome}
}

// maybeScheduleReply arms the deferred opponent move. The callback carries
// the generation it was scheduled at and is a no-op once it changes.
func (g *Game) maybeScheduleReply() {
	if !g.autoReply || g.outcome.Over() || g.seats[g.state.Turn] != Automated {
		return
	}
	g.cancelReply()
	gen := g.generation
	g.stopReply = g.schedule(g.replyDelay, func() {
		if _, err := g.reply(g.ctx, gen); err != nil && !errors.Is(err, ErrStaleReply) {
			g.log.Error().Err(err).Msg("automated reply failed")
		}
	})
}

func (g *Game) cancelReply() {
	if g.stopReply != nil {
		g.stopReply()
		g.stopReply = nil
	}
}

func (g *Game) update(rec *MoveRecord) *Update {
	if g.onUpdate == nil {
		return nil
	}
	return &Update{
		Snapshot:   NewSnapshot(&g.state),
		Record:     rec,
		Outcome:    g.outcome,
		Generation: g.generation,
	}
}

// emit runs after mu is released so callbacks may call back into the Game.
func (g *Game) emit(u *Update) {
	if u != nil && g.onUpdate != nil {
		g.onUpdate(*u)
	}
}
