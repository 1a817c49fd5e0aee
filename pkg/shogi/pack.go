package shogi

import "fmt"

// PositionKey is a 256-bit Huffman packing of board, hands and side to move.
// It exists only for positions holding the full 40-piece set. It is
// comparable and is used directly as a map key.
type PositionKey struct {
	Words [4]uint64
}

type bitWriter256 struct {
	words [4]uint64
	pos   int
}

type bitReader256 struct {
	words [4]uint64
	pos   int
}

type code struct {
	bits   uint64
	bitLen int
}

// Board codes; a hand code is the board code without its leading zero bit,
// which keeps the total length fixed no matter where the pieces are.
var boardCodes = [kindCount]code{
	NoKind: {bits: 0b0, bitLen: 1},
	Pawn:   {bits: 0b01, bitLen: 2},
	Lance:  {bits: 0b0011, bitLen: 4},
	Knight: {bits: 0b1011, bitLen: 4},
	Silver: {bits: 0b0111, bitLen: 4},
	Gold:   {bits: 0b01111, bitLen: 5},
	Bishop: {bits: 0b011111, bitLen: 6},
	Rook:   {bits: 0b111111, bitLen: 6},
}

var handCodes = [kindCount]code{
	Pawn:   {bits: 0b0, bitLen: 1},
	Lance:  {bits: 0b001, bitLen: 3},
	Knight: {bits: 0b101, bitLen: 3},
	Silver: {bits: 0b011, bitLen: 3},
	Gold:   {bits: 0b0111, bitLen: 4},
	Bishop: {bits: 0b01111, bitLen: 5},
	Rook:   {bits: 0b11111, bitLen: 5},
}

// packOrder fixes the order hand pieces are written in.
var packOrder = []Kind{Pawn, Lance, Knight, Silver, Gold, Bishop, Rook}

// Key packs the state. It fails when a king is missing or duplicated, or when
// the piece total is not PieceSetSize.
func (s *GameState) Key() (PositionKey, error) {
	w := &bitWriter256{}

	if err := w.writeColor(s.Turn); err != nil {
		return PositionKey{}, err
	}
	blackKing, whiteKing, err := kingIndexes(s)
	if err != nil {
		return PositionKey{}, err
	}
	if err := w.writeBits(uint64(blackKing), 7); err != nil {
		return PositionKey{}, err
	}
	if err := w.writeBits(uint64(whiteKing), 7); err != nil {
		return PositionKey{}, err
	}

	for sq := 0; sq < 81; sq++ {
		if sq == blackKing || sq == whiteKing {
			continue
		}
		p := s.Board[sq/9][sq%9]
		if err := w.writeCode(boardCodes[p.Kind]); err != nil {
			return PositionKey{}, err
		}
		if p.IsEmpty() {
			continue
		}
		if err := w.writeColor(p.Owner); err != nil {
			return PositionKey{}, err
		}
		if p.Kind.CanPromote() {
			if err := w.writeBool(p.Promoted); err != nil {
				return PositionKey{}, err
			}
		}
	}

	for _, color := range []Color{Black, White} {
		for _, kind := range packOrder {
			for i := 0; i < s.Hands[color][kind]; i++ {
				if err := w.writeCode(handCodes[kind]); err != nil {
					return PositionKey{}, err
				}
				if err := w.writeColor(color); err != nil {
					return PositionKey{}, err
				}
				if kind.CanPromote() {
					if err := w.writeBool(false); err != nil {
						return PositionKey{}, err
					}
				}
			}
		}
	}

	if w.pos != 256 {
		return PositionKey{}, fmt.Errorf("%w: packed length is %d bits, expected 256", ErrIntegrity, w.pos)
	}
	return PositionKey{Words: w.words}, nil
}

// Unpack restores board, hands and turn. MoveCount and LastMove are not part of the key.
func (k PositionKey) Unpack() (GameState, error) {
	r := &bitReader256{words: k.Words}

	turn, err := r.readColor()
	if err != nil {
		return GameState{}, err
	}
	blackKing, err := r.readBits(7)
	if err != nil {
		return GameState{}, err
	}
	whiteKing, err := r.readBits(7)
	if err != nil {
		return GameState{}, err
	}
	if blackKing == whiteKing || blackKing >= 81 || whiteKing >= 81 {
		return GameState{}, fmt.Errorf("invalid king squares %d/%d", blackKing, whiteKing)
	}

	s := GameState{Turn: turn}
	s.Board[blackKing/9][blackKing%9] = Piece{Kind: King, Owner: Black}
	s.Board[whiteKing/9][whiteKing%9] = Piece{Kind: King, Owner: White}

	for sq := 0; sq < 81; sq++ {
		if sq == int(blackKing) || sq == int(whiteKing) {
			continue
		}
		kind, err := r.readCode(boardCodes)
		if err != nil {
			return GameState{}, err
		}
		if kind == NoKind {
			continue
		}
		color, err := r.readColor()
		if err != nil {
			return GameState{}, err
		}
		promoted := false
		if kind.CanPromote() {
			if promoted, err = r.readBool(); err != nil {
				return GameState{}, err
			}
		}
		s.Board[sq/9][sq%9] = Piece{Kind: kind, Owner: color, Promoted: promoted}
	}

	for r.pos < 256 {
		kind, err := r.readCode(handCodes)
		if err != nil {
			return GameState{}, err
		}
		color, err := r.readColor()
		if err != nil {
			return GameState{}, err
		}
		if kind.CanPromote() {
			promoted, err := r.readBool()
			if err != nil {
				return GameState{}, err
			}
			if promoted {
				return GameState{}, fmt.Errorf("promoted piece in hand: %s", kind)
			}
		}
		s.Hands[color].Add(kind)
	}
	return s, nil
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%016x%016x%016x%016x", k.Words[3], k.Words[2], k.Words[1], k.Words[0])
}

func kingIndexes(s *GameState) (int, int, error) {
	black, white := -1, -1
	for idx := 0; idx < 81; idx++ {
		p := s.Board[idx/9][idx%9]
		if p.Kind != King {
			continue
		}
		if p.Owner == Black {
			if black != -1 {
				return 0, 0, fmt.Errorf("%w: multiple black kings", ErrIntegrity)
			}
			black = idx
		} else {
			if white != -1 {
				return 0, 0, fmt.Errorf("%w: multiple white kings", ErrIntegrity)
			}
			white = idx
		}
	}
	if black == -1 || white == -1 {
		return 0, 0, fmt.Errorf("%w: missing king", ErrIntegrity)
	}
	return black, white, nil
}

func (w *bitWriter256) writeBit(bit uint64) error {
	if w.pos >= 256 {
		return fmt.Errorf("%w: bitstream overflow", ErrIntegrity)
	}
	if bit != 0 {
		w.words[w.pos/64] |= 1 << uint(w.pos%64)
	}
	w.pos++
	return nil
}

func (w *bitWriter256) writeBits(value uint64, bitLen int) error {
	for i := 0; i < bitLen; i++ {
		if err := w.writeBit((value >> i) & 1); err != nil {
			return err
		}
	}
	return nil
}

func (w *bitWriter256) writeCode(c code) error {
	return w.writeBits(c.bits, c.bitLen)
}

func (w *bitWriter256) writeBool(b bool) error {
	if b {
		return w.writeBit(1)
	}
	return w.writeBit(0)
}

func (w *bitWriter256) writeColor(c Color) error {
	return w.writeBool(c == White)
}

func (r *bitReader256) readBit() (uint64, error) {
	if r.pos >= 256 {
		return 0, fmt.Errorf("bitstream underflow")
	}
	bit := (r.words[r.pos/64] >> uint(r.pos%64)) & 1
	r.pos++
	return bit, nil
}

func (r *bitReader256) readBits(bitLen int) (uint64, error) {
	var value uint64
	for i := 0; i < bitLen; i++ {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		value |= bit << i
	}
	return value, nil
}

func (r *bitReader256) readBool() (bool, error) {
	bit, err := r.readBit()
	return bit == 1, err
}

func (r *bitReader256) readColor() (Color, error) {
	white, err := r.readBool()
	if white {
		return White, err
	}
	return Black, err
}

// readCode reads bits until they match a code of the same length.
func (r *bitReader256) readCode(book [kindCount]code) (Kind, error) {
	var value uint64
	for length := 1; length <= 6; length++ {
		bit, err := r.readBit()
		if err != nil {
			return NoKind, err
		}
		value |= bit << (length - 1)
		for kind, c := range book {
			if c.bitLen == length && c.bits == value {
				return Kind(kind), nil
			}
		}
	}
	return NoKind, fmt.Errorf("invalid code")
}
