package shogi

// Snapshot is a frozen copy of a GameState. The state is held by value, so
// later changes to the live state can never reach it.
type Snapshot struct {
	state GameState
}

func NewSnapshot(s *GameState) Snapshot {
	return Snapshot{state: *s}
}

// State returns a copy the caller may modify freely.
func (sn Snapshot) State() GameState {
	return sn.state
}

func (sn Snapshot) Turn() Color {
	return sn.state.Turn
}

func (sn Snapshot) MoveCount() int {
	return sn.state.MoveCount
}

func (sn Snapshot) PieceAt(sq Square) Piece {
	return sn.state.PieceAt(sq)
}

func (sn Snapshot) Hand(c Color) Hand {
	return sn.state.Hands[c]
}

// LastMove returns the destination of the previous ply, if any.
func (sn Snapshot) LastMove() (Square, bool) {
	return sn.state.LastMove, sn.state.HasLast
}

func (sn Snapshot) SFEN() string {
	return sn.state.SFEN()
}

// undoPlies is the depth of one undo: the human ply and the automated reply.
const undoPlies = 2

// History is the undo stack. A snapshot is pushed before every applied ply.
type History struct {
	snaps []Snapshot
}

func NewHistory() *History {
	return &History{}
}

// BeforeApply must be called right before the executor mutates s.
func (h *History) BeforeApply(s *GameState) {
	h.snaps = append(h.snaps, NewSnapshot(s))
}

func (h *History) Len() int {
	return len(h.snaps)
}

// CanUndo reports whether a full turn is on the stack.
func (h *History) CanUndo() bool {
	return len(h.snaps) >= undoPlies
}

// Undo drops the two most recent snapshots and returns the older one, the
// position from just before the human's ply.
func (h *History) Undo() (Snapshot, bool) {
	if !h.CanUndo() {
		return Snapshot{}, false
	}
	return h.Rewind(undoPlies)
}

// Rewind drops the n most recent snapshots and returns the oldest of them.
func (h *History) Rewind(n int) (Snapshot, bool) {
	if n <= 0 || n > len(h.snaps) {
		return Snapshot{}, false
	}
	restore := h.snaps[len(h.snaps)-n]
	h.snaps = h.snaps[:len(h.snaps)-n]
	return restore, true
}

func (h *History) Reset() {
	h.snaps = nil
}
