package shogi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PieceSetSize is the number of pieces in a standard set, kings included.
const PieceSetSize = 40

// StandardSFEN is the even-game starting position.
const StandardSFEN = "lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1/LNSGKGSNL b - 1"

// Board is indexed [rank-1][file-1]. It holds values, so assigning a Board copies it.
type Board [9][9]Piece

// GameState is the authoritative game data. It contains no pointers or maps;
// a plain assignment is a full structural copy.
type GameState struct {
	Board     Board
	Hands     [2]Hand
	Turn      Color
	MoveCount int
	LastMove  Square
	HasLast   bool
}

// NewGameState returns the standard starting position.
func NewGameState() GameState {
	s, err := ParseSFEN(StandardSFEN)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *GameState) PieceAt(sq Square) Piece {
	if !sq.Valid() {
		return Piece{}
	}
	return s.Board[sq.Rank-1][sq.File-1]
}

func (s *GameState) SetPiece(sq Square, p Piece) {
	if !sq.Valid() {
		return
	}
	s.Board[sq.Rank-1][sq.File-1] = p
}

// PieceCount counts pieces on the board and in both hands.
func (s *GameState) PieceCount() int {
	count := s.Hands[Black].Total() + s.Hands[White].Total()
	for r := 0; r < 9; r++ {
		for f := 0; f < 9; f++ {
			if !s.Board[r][f].IsEmpty() {
				count++
			}
		}
	}
	return count
}

// KingSquare finds the king of the given side.
func (s *GameState) KingSquare(c Color) (Square, bool) {
	for r := 0; r < 9; r++ {
		for f := 0; f < 9; f++ {
			p := s.Board[r][f]
			if p.Kind == King && p.Owner == c {
				return Square{File: f + 1, Rank: r + 1}, true
			}
		}
	}
	return Square{}, false
}

// InPromotionZone reports whether rank lies in the three ranks nearest the opponent.
func InPromotionZone(rank int, c Color) bool {
	if c == Black {
		return rank >= 1 && rank <= 3
	}
	return rank >= 7 && rank <= 9
}

// relativeRank counts ranks from the side's far edge: 1 is the farthest rank.
func relativeRank(rank int, c Color) int {
	if c == Black {
		return rank
	}
	return 10 - rank
}

// mustPromote reports whether an unpromoted piece of kind k would have no
// continuation from rank.
func mustPromote(k Kind, rank int, c Color) bool {
	rel := relativeRank(rank, c)
	switch k {
	case Pawn, Lance:
		return rel == 1
	case Knight:
		return rel <= 2
	default:
		return false
	}
}

// ParseSFEN reads the board, turn, hands and move-number fields of an SFEN.
// The move number becomes MoveCount = number-1.
func ParseSFEN(sfen string) (GameState, error) {
	fields := strings.Fields(sfen)
	if len(fields) < 3 {
		return GameState{}, fmt.Errorf("invalid sfen: %s", sfen)
	}
	var s GameState
	switch fields[1] {
	case "b":
		s.Turn = Black
	case "w":
		s.Turn = White
	default:
		return GameState{}, fmt.Errorf("invalid side to move: %s", fields[1])
	}
	if err := parseBoardSFEN(fields[0], &s); err != nil {
		return GameState{}, err
	}
	if err := parseHandsSFEN(fields[2], &s); err != nil {
		return GameState{}, err
	}
	if len(fields) >= 4 {
		n, err := strconv.Atoi(fields[3])
		if err != nil || n < 1 {
			return GameState{}, fmt.Errorf("invalid move number: %s", fields[3])
		}
		s.MoveCount = n - 1
	}
	return s, nil
}

func parseBoardSFEN(board string, s *GameState) error {
	ranks := strings.Split(board, "/")
	if len(ranks) != 9 {
		return fmt.Errorf("invalid board ranks: %d", len(ranks))
	}
	for rankIndex, rankText := range ranks {
		file := 9
		for i := 0; i < len(rankText); i++ {
			r := rankText[i]
			if r >= '1' && r <= '9' {
				file -= int(r - '0')
				continue
			}
			promoted := false
			if r == '+' {
				promoted = true
				i++
				if i >= len(rankText) {
					return errors.New("dangling promotion marker")
				}
				r = rankText[i]
			}
			color := Black
			if r >= 'a' && r <= 'z' {
				color = White
			}
			kind, ok := KindFromLetter(r)
			if !ok {
				return fmt.Errorf("unknown sfen piece %c", r)
			}
			if promoted && !kind.CanPromote() {
				return fmt.Errorf("piece %c cannot be promoted", r)
			}
			if file < 1 {
				return errors.New("too many files in rank")
			}
			s.SetPiece(Sq(file, rankIndex+1), Piece{Kind: kind, Owner: color, Promoted: promoted})
			file--
		}
		if file != 0 {
			return fmt.Errorf("rank %d does not have 9 files", rankIndex+1)
		}
	}
	return nil
}

func parseHandsSFEN(hand string, s *GameState) error {
	if hand == "-" {
		return nil
	}
	count := 0
	for i := 0; i < len(hand); i++ {
		r := hand[i]
		if r >= '0' && r <= '9' {
			count = count*10 + int(r-'0')
			continue
		}
		if count == 0 {
			count = 1
		}
		color := Black
		if r >= 'a' && r <= 'z' {
			color = White
		}
		kind, ok := KindFromLetter(r)
		if !ok || kind == King {
			return fmt.Errorf("unknown hand piece %c", r)
		}
		s.Hands[color][kind] += count
		count = 0
	}
	if count != 0 {
		return errors.New("trailing hand count")
	}
	return nil
}

// SFEN renders the state; the move number field is MoveCount+1.
func (s *GameState) SFEN() string {
	rows := make([]string, 0, 9)
	for rank := 1; rank <= 9; rank++ {
		rows = append(rows, s.rankToSFEN(rank))
	}
	turn := "b"
	if s.Turn == White {
		turn = "w"
	}
	hand := buildHands(s.Hands[Black], s.Hands[White])
	if hand == "" {
		hand = "-"
	}
	return fmt.Sprintf("%s %s %s %d", strings.Join(rows, "/"), turn, hand, s.MoveCount+1)
}

func (s *GameState) rankToSFEN(rank int) string {
	var b strings.Builder
	empty := 0
	for file := 9; file >= 1; file-- {
		p := s.PieceAt(Sq(file, rank))
		if p.IsEmpty() {
			empty++
			continue
		}
		if empty > 0 {
			b.WriteString(strconv.Itoa(empty))
			empty = 0
		}
		b.WriteString(p.SFEN())
	}
	if empty > 0 {
		b.WriteString(strconv.Itoa(empty))
	}
	return b.String()
}

func buildHands(black, white Hand) string {
	var b strings.Builder
	for _, side := range []struct {
		hand  Hand
		lower bool
	}{{black, false}, {white, true}} {
		for _, k := range handOrder {
			count := side.hand[k]
			if count == 0 {
				continue
			}
			if count > 1 {
				b.WriteString(strconv.Itoa(count))
			}
			letter := k.Letter()
			if side.lower {
				letter += 'a' - 'A'
			}
			b.WriteByte(letter)
		}
	}
	return b.String()
}
