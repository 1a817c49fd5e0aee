package shogi

import "fmt"

type Color uint8

const (
	Black Color = iota
	White
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	return c ^ 1
}

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// Kind is an unpromoted piece type. Promotion is carried by Piece.Promoted.
type Kind uint8

const (
	NoKind Kind = iota
	Pawn
	Lance
	Knight
	Silver
	Gold
	Bishop
	Rook
	King
	kindCount
)

// handOrder is the canonical order used for SFEN hands and KIF output.
var handOrder = []Kind{Rook, Bishop, Gold, Silver, Knight, Lance, Pawn}

var kindLetters = [kindCount]byte{
	NoKind: '.',
	Pawn:   'P',
	Lance:  'L',
	Knight: 'N',
	Silver: 'S',
	Gold:   'G',
	Bishop: 'B',
	Rook:   'R',
	King:   'K',
}

// Letter returns the upper-case SFEN/USI letter.
func (k Kind) Letter() byte {
	if k >= kindCount {
		return '?'
	}
	return kindLetters[k]
}

func (k Kind) String() string {
	return string(k.Letter())
}

// CanPromote reports whether the kind has a promoted form.
func (k Kind) CanPromote() bool {
	switch k {
	case Pawn, Lance, Knight, Silver, Bishop, Rook:
		return true
	default:
		return false
	}
}

// KindFromLetter parses an SFEN letter, either case.
func KindFromLetter(r byte) (Kind, bool) {
	if r >= 'a' && r <= 'z' {
		r -= 'a' - 'A'
	}
	for k := Pawn; k < kindCount; k++ {
		if kindLetters[k] == r {
			return k, true
		}
	}
	return NoKind, false
}

// Piece is a tagged board occupant. The zero value is an empty square.
type Piece struct {
	Kind     Kind
	Owner    Color
	Promoted bool
}

func (p Piece) IsEmpty() bool {
	return p.Kind == NoKind
}

// Promote returns the promoted form. Pieces that cannot promote are returned unchanged.
func (p Piece) Promote() Piece {
	if p.Kind.CanPromote() {
		p.Promoted = true
	}
	return p
}

// SFEN renders the piece the way an SFEN board field does ("+p", "K").
func (p Piece) SFEN() string {
	if p.IsEmpty() {
		return ""
	}
	letter := p.Kind.Letter()
	if p.Owner == White {
		letter += 'a' - 'A'
	}
	if p.Promoted {
		return "+" + string(letter)
	}
	return string(letter)
}

func (p Piece) String() string {
	if p.IsEmpty() {
		return "."
	}
	return p.SFEN()
}

// Square addresses the board with 1-based file and rank, as in USI and KIF.
type Square struct {
	File int
	Rank int
}

// Sq is shorthand for Square{file, rank}.
func Sq(file, rank int) Square {
	return Square{File: file, Rank: rank}
}

func (s Square) Valid() bool {
	return s.File >= 1 && s.File <= 9 && s.Rank >= 1 && s.Rank <= 9
}

// USI renders the square as "7g".
func (s Square) USI() string {
	return fmt.Sprintf("%d%c", s.File, rankToLetter(s.Rank))
}

func (s Square) String() string {
	return s.USI()
}

func rankToLetter(rank int) byte {
	return byte('a' + rank - 1)
}

// Hand counts captured pieces by kind. Pieces in hand carry no owner or promotion.
type Hand [kindCount]int

func (h *Hand) Add(k Kind) {
	h[k]++
}

// Remove takes one piece of the kind. It reports false when none is held.
func (h *Hand) Remove(k Kind) bool {
	if h[k] <= 0 {
		return false
	}
	h[k]--
	return true
}

func (h Hand) Count(k Kind) int {
	return h[k]
}

func (h Hand) Total() int {
	total := 0
	for _, n := range h {
		total += n
	}
	return total
}

// Kinds lists the held kinds in canonical order.
func (h Hand) Kinds() []Kind {
	var out []Kind
	for _, k := range handOrder {
		if h[k] > 0 {
			out = append(out, k)
		}
	}
	return out
}
