package shogi

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// KIFHeader carries the metadata lines of a KIF file.
type KIFHeader struct {
	Black   string
	White   string
	Started time.Time
}

// KIFGame is a parsed KIF file.
type KIFGame struct {
	Header  KIFHeader
	Start   GameState
	Actions []Action
	// Terminal is the closing marker such as 投了, empty when the record stops
	// without one.
	Terminal string
	// Outcome is what Terminal declares; zero when the marker has no
	// counterpart (中断, 切れ負け and the like).
	Outcome Outcome
}

var moveLineRe = regexp.MustCompile(`^\s*(\d+)\s+(.+?)\s+\(`)
var terminalLineRe = regexp.MustCompile(`^\s*(\d+)\s+(.+?)\s*$`)
var fromSquareRe = regexp.MustCompile(`\((\d)(\d)\)`)

const kifTimeLayout = "2006/01/02 15:04:05"

var fileDigits = []rune("１２３４５６７８９")
var rankKanji = []rune("一二三四五六七八九")

var kindKanji = [kindCount]string{
	Pawn:   "歩",
	Lance:  "香",
	Knight: "桂",
	Silver: "銀",
	Gold:   "金",
	Bishop: "角",
	Rook:   "飛",
	King:   "玉",
}

var promotedKanji = [kindCount]string{
	Pawn:   "と",
	Lance:  "成香",
	Knight: "成桂",
	Silver: "成銀",
	Bishop: "馬",
	Rook:   "龍",
}

// boardKanji is the one-rune form used inside board diagrams.
var boardKanji = [kindCount]string{
	Pawn:   "と",
	Lance:  "杏",
	Knight: "圭",
	Silver: "全",
	Bishop: "馬",
	Rook:   "龍",
}

type kifPiece struct {
	name     string
	kind     Kind
	promoted bool
}

// kifPieces lists move and diagram piece names, two-rune names first.
var kifPieces = []kifPiece{
	{"成銀", Silver, true},
	{"成桂", Knight, true},
	{"成香", Lance, true},
	{"成歩", Pawn, true},
	{"と", Pawn, true},
	{"杏", Lance, true},
	{"圭", Knight, true},
	{"全", Silver, true},
	{"馬", Bishop, true},
	{"龍", Rook, true},
	{"竜", Rook, true},
	{"王", King, false},
	{"玉", King, false},
	{"飛", Rook, false},
	{"角", Bishop, false},
	{"金", Gold, false},
	{"銀", Silver, false},
	{"桂", Knight, false},
	{"香", Lance, false},
	{"歩", Pawn, false},
}

func pieceName(p Piece) string {
	if p.Promoted {
		return promotedKanji[p.Kind]
	}
	return kindKanji[p.Kind]
}

func kifSquare(sq Square) string {
	return string(fileDigits[sq.File-1]) + string(rankKanji[sq.Rank-1])
}

// FormatMove renders a record in KIF move notation, e.g. "７六歩(77)",
// "同　歩(76)", "５五角打" or "２三歩不成(24)". prev is the destination of
// the preceding ply, if any.
func FormatMove(rec MoveRecord, prev *Square) string {
	var b strings.Builder
	if prev != nil && *prev == rec.To {
		b.WriteString("同　")
	} else {
		b.WriteString(kifSquare(rec.To))
	}
	b.WriteString(pieceName(rec.Piece))
	switch {
	case rec.Drop:
		b.WriteString("打")
		return b.String()
	case rec.Promoted:
		b.WriteString("成")
	case rec.Declined:
		b.WriteString("不成")
	}
	fmt.Fprintf(&b, "(%d%d)", rec.From.File, rec.From.Rank)
	return b.String()
}

// terminalToken names the closing marker for an outcome.
func terminalToken(o Outcome) string {
	switch o.Reason {
	case ReasonCheckmate:
		return "詰み"
	case ReasonResignation:
		return "投了"
	case ReasonRepetition:
		return "千日手"
	case ReasonMoveLimit:
		return "持将棋"
	case ReasonPerpetualCheck:
		return "反則勝ち"
	default:
		return ""
	}
}

// outcomeFromTerminal reads a closing marker. mover is the side that would
// have played the marker's ply.
func outcomeFromTerminal(token string, mover Color) Outcome {
	switch token {
	case "投了":
		return winFor(mover.Opponent(), ReasonResignation)
	case "詰み":
		return winFor(mover.Opponent(), ReasonCheckmate)
	case "反則勝ち":
		return winFor(mover, ReasonPerpetualCheck)
	case "千日手":
		return drawBy(ReasonRepetition)
	case "持将棋":
		return drawBy(ReasonMoveLimit)
	default:
		return Outcome{}
	}
}

func isTerminalMove(token string) bool {
	switch token {
	case "投了", "中断", "持将棋", "千日手", "詰み", "切れ負け", "反則勝ち", "反則負け", "入玉勝ち", "勝ち宣言":
		return true
	default:
		return false
	}
}

// WriteKIF writes a game record. A start position other than the even game
// is written as a board diagram. With shiftJIS the output is encoded the way
// most KIF tools expect.
func WriteKIF(w io.Writer, h KIFHeader, start GameState, records []MoveRecord, outcome Outcome, shiftJIS bool) error {
	var enc io.WriteCloser
	if shiftJIS {
		enc = transform.NewWriter(w, japanese.ShiftJIS.NewEncoder())
		w = enc
	}
	bw := bufio.NewWriter(w)

	if !h.Started.IsZero() {
		fmt.Fprintf(bw, "開始日時：%s\n", h.Started.Format(kifTimeLayout))
	}
	if start.SFEN() == StandardSFEN {
		fmt.Fprintln(bw, "手合割：平手")
	} else {
		writeDiagram(bw, &start)
	}
	fmt.Fprintf(bw, "先手：%s\n", h.Black)
	fmt.Fprintf(bw, "後手：%s\n", h.White)
	fmt.Fprintln(bw, "手数----指手---------消費時間--")

	var prev *Square
	for i := range records {
		rec := records[i]
		fmt.Fprintf(bw, "%4d %s   ( 0:00/00:00:00)\n", rec.Number, FormatMove(rec, prev))
		prev = &rec.To
	}
	if token := terminalToken(outcome); token != "" {
		fmt.Fprintf(bw, "%4d %s\n", start.MoveCount+len(records)+1, token)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if enc != nil {
		return enc.Close()
	}
	return nil
}

func writeDiagram(w io.Writer, s *GameState) {
	fmt.Fprintf(w, "後手の持駒：%s\n", formatHand(s.Hands[White]))
	fmt.Fprintln(w, "  ９ ８ ７ ６ ５ ４ ３ ２ １")
	fmt.Fprintln(w, "+---------------------------+")
	for rank := 1; rank <= 9; rank++ {
		var b strings.Builder
		b.WriteByte('|')
		for file := 9; file >= 1; file-- {
			p := s.PieceAt(Sq(file, rank))
			switch {
			case p.IsEmpty():
				b.WriteString(" ・")
				continue
			case p.Owner == White:
				b.WriteByte('v')
			default:
				b.WriteByte(' ')
			}
			if p.Promoted {
				b.WriteString(boardKanji[p.Kind])
			} else {
				b.WriteString(kindKanji[p.Kind])
			}
		}
		b.WriteByte('|')
		b.WriteRune(rankKanji[rank-1])
		fmt.Fprintln(w, b.String())
	}
	fmt.Fprintln(w, "+---------------------------+")
	fmt.Fprintf(w, "先手の持駒：%s\n", formatHand(s.Hands[Black]))
	if s.Turn == White {
		fmt.Fprintln(w, "手番：後手")
	} else {
		fmt.Fprintln(w, "手番：先手")
	}
	if s.MoveCount > 0 {
		fmt.Fprintf(w, "手数＝%d\n", s.MoveCount)
	}
}

func formatHand(h Hand) string {
	kinds := h.Kinds()
	if len(kinds) == 0 {
		return "なし"
	}
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, kindKanji[k]+kanjiCount(h[k]))
	}
	return strings.Join(parts, "　")
}

func kanjiCount(n int) string {
	switch {
	case n <= 1:
		return ""
	case n < 10:
		return string(rankKanji[n-1])
	case n == 10:
		return "十"
	default:
		return "十" + string(rankKanji[n-11])
	}
}

// LoadKIF reads and parses a KIF file in UTF-8 or Shift-JIS.
func LoadKIF(path string) (KIFGame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KIFGame{}, err
	}
	return ParseKIF(data)
}

// ReadKIF parses a KIF stream.
func ReadKIF(r io.Reader) (KIFGame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return KIFGame{}, err
	}
	return ParseKIF(data)
}

func ParseKIF(data []byte) (KIFGame, error) {
	text, err := decodeKIF(data)
	if err != nil {
		return KIFGame{}, err
	}
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}

	start, err := startFromKIF(lines)
	if err != nil {
		return KIFGame{}, err
	}
	game := KIFGame{Start: start}
	game.Header.Black = headerValue(lines, "先手")
	game.Header.White = headerValue(lines, "後手")
	if raw := headerValue(lines, "開始日時"); raw != "" {
		if t, err := time.ParseInLocation(kifTimeLayout, raw, time.Local); err == nil {
			game.Header.Started = t
		}
	}

	var prev *Square
	for i, line := range lines {
		match := moveLineRe.FindStringSubmatch(line)
		if len(match) == 0 {
			match = terminalLineRe.FindStringSubmatch(line)
		}
		if len(match) == 0 {
			continue
		}
		token := strings.TrimSpace(match[2])
		if token == "" {
			continue
		}
		if isTerminalMove(token) {
			game.Terminal = token
			mover := start.Turn
			if len(game.Actions)%2 == 1 {
				mover = mover.Opponent()
			}
			game.Outcome = outcomeFromTerminal(token, mover)
			break
		}
		a, err := parseKIFMove(token, prev)
		if err != nil {
			return KIFGame{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		game.Actions = append(game.Actions, a)
		to := a.To
		prev = &to
	}
	return game, nil
}

func decodeKIF(data []byte) (string, error) {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		data = data[3:]
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	reader := transform.NewReader(bytes.NewReader(data), japanese.ShiftJIS.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(decoded) {
		return "", errors.New("failed to decode Shift-JIS KIF")
	}
	return string(decoded), nil
}

func parseKIFMove(token string, prev *Square) (Action, error) {
	work := strings.TrimSpace(token)
	var dest Square
	if strings.HasPrefix(work, "同") {
		if prev == nil {
			return Action{}, errors.New("same-square move without previous destination")
		}
		dest = *prev
		work = strings.TrimLeft(strings.TrimPrefix(work, "同"), " 　")
	} else {
		runes := []rune(work)
		if len(runes) < 2 {
			return Action{}, fmt.Errorf("invalid move token: %s", token)
		}
		file, ok := parseFileRune(runes[0])
		if !ok {
			return Action{}, fmt.Errorf("invalid destination file in %s", token)
		}
		rank, ok := parseRankRune(runes[1])
		if !ok {
			return Action{}, fmt.Errorf("invalid destination rank in %s", token)
		}
		dest = Sq(file, rank)
		work = string(runes[2:])
	}

	from, hasFrom := parseFromSquare(work)
	work = strings.TrimSpace(fromSquareRe.ReplaceAllString(work, ""))

	piece, rest, ok := cutPieceName(work)
	if !ok {
		return Action{}, fmt.Errorf("unknown piece in %s", token)
	}
	switch rest {
	case "打":
		if piece.promoted || piece.kind == King {
			return Action{}, fmt.Errorf("cannot drop %s", piece.name)
		}
		return DropAction(piece.kind, dest), nil
	case "", "成", "不成":
	default:
		return Action{}, fmt.Errorf("unexpected suffix %q in %s", rest, token)
	}
	if !hasFrom {
		// Older records omit 打 when only a drop can reach the square.
		if rest == "" && !piece.promoted && piece.kind != King {
			return DropAction(piece.kind, dest), nil
		}
		return Action{}, fmt.Errorf("missing source square in %s", token)
	}
	a := MoveAction(from, dest)
	a.Promote = rest == "成"
	return a, nil
}

func cutPieceName(text string) (kifPiece, string, bool) {
	for _, def := range kifPieces {
		if strings.HasPrefix(text, def.name) {
			return def, strings.TrimPrefix(text, def.name), true
		}
	}
	return kifPiece{}, "", false
}

func parseFromSquare(text string) (Square, bool) {
	match := fromSquareRe.FindStringSubmatch(text)
	if len(match) != 3 {
		return Square{}, false
	}
	sq := Sq(int(match[1][0]-'0'), int(match[2][0]-'0'))
	return sq, sq.Valid()
}

func parseFileRune(r rune) (int, bool) {
	if r >= '1' && r <= '9' {
		return int(r - '0'), true
	}
	if r >= '１' && r <= '９' {
		return int(r-'１') + 1, true
	}
	return 0, false
}

func parseRankRune(r rune) (int, bool) {
	for i, k := range rankKanji {
		if k == r {
			return i + 1, true
		}
	}
	return 0, false
}

func headerValue(lines []string, key string) string {
	prefixes := []string{key + "：", key + ":"}
	for _, line := range lines {
		trim := strings.TrimSpace(line)
		for _, prefix := range prefixes {
			if strings.HasPrefix(trim, prefix) {
				return strings.TrimSpace(strings.TrimPrefix(trim, prefix))
			}
		}
	}
	return ""
}

func startFromKIF(lines []string) (GameState, error) {
	if strings.Contains(headerValue(lines, "手合割"), "平手") {
		return NewGameState(), nil
	}
	var rows []string
	for _, line := range lines {
		trim := strings.TrimSpace(line)
		if strings.HasPrefix(trim, "|") {
			rows = append(rows, trim)
		}
	}
	if len(rows) == 0 {
		return NewGameState(), nil
	}
	if len(rows) != 9 {
		return GameState{}, fmt.Errorf("board diagram must have 9 rows, got %d", len(rows))
	}
	var s GameState
	for i, row := range rows {
		if err := parseDiagramRow(row, i+1, &s); err != nil {
			return GameState{}, fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	for _, side := range []struct {
		key   string
		color Color
	}{{"先手の持駒", Black}, {"後手の持駒", White}} {
		hand, err := parseHandLine(headerValue(lines, side.key))
		if err != nil {
			return GameState{}, err
		}
		s.Hands[side.color] = hand
	}
	if strings.Contains(headerValue(lines, "手番"), "後手") {
		s.Turn = White
	}
	for _, line := range lines {
		trim := strings.TrimSpace(line)
		if strings.HasPrefix(trim, "手数＝") {
			fmt.Sscanf(strings.TrimPrefix(trim, "手数＝"), "%d", &s.MoveCount)
		}
	}
	return s, nil
}

func parseDiagramRow(row string, rank int, s *GameState) error {
	body := strings.TrimPrefix(row, "|")
	if end := strings.LastIndex(body, "|"); end >= 0 {
		body = body[:end]
	}
	runes := []rune(body)
	file := 9
	for i := 0; i < len(runes); {
		r := runes[i]
		switch r {
		case ' ', '\t', '　':
			i++
			continue
		case '・':
			file--
			i++
			continue
		}
		owner := Black
		if r == 'v' {
			owner = White
			i++
		}
		piece, rest, ok := cutPieceName(string(runes[i:]))
		if !ok {
			return fmt.Errorf("unknown piece near %q", string(runes[i:]))
		}
		if file < 1 {
			return errors.New("too many cells")
		}
		s.SetPiece(Sq(file, rank), Piece{Kind: piece.kind, Owner: owner, Promoted: piece.promoted})
		file--
		i = len(runes) - len([]rune(rest))
	}
	if file != 0 {
		return fmt.Errorf("expected 9 cells, got %d", 9-file)
	}
	return nil
}

func parseHandLine(text string) (Hand, error) {
	var h Hand
	text = strings.TrimSpace(text)
	if text == "" || text == "なし" {
		return h, nil
	}
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == ' ' || r == '　' }) {
		piece, rest, ok := cutPieceName(part)
		if !ok || piece.promoted || piece.kind == King {
			return Hand{}, fmt.Errorf("unknown hand piece %s", part)
		}
		n, ok := parseKanjiCount(rest)
		if !ok {
			return Hand{}, fmt.Errorf("invalid hand count %s", part)
		}
		h[piece.kind] += n
	}
	return h, nil
}

func parseKanjiCount(text string) (int, bool) {
	if text == "" {
		return 1, true
	}
	n := 0
	for _, r := range text {
		switch {
		case r == '十':
			n += 10
		case r >= '0' && r <= '9':
			n = n*10 + int(r-'0')
		default:
			d, ok := parseRankRune(r)
			if !ok {
				return 0, false
			}
			n += d
		}
	}
	return n, n > 0
}

// CollectKIF lists the .kif files under root in lexical order.
func CollectKIF(root string) ([]string, error) {
	var files []string
	if err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".kif") {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Replay is the result of running a KIF game through the executor.
type Replay struct {
	Final   GameState
	Records []MoveRecord
	Outcome Outcome
	Ledger  *Ledger
}

// Replay applies the recorded actions from the start position, checking each
// one against the oracle and evaluating every resulting position. A verdict
// reached before the last action is an error.
func (k KIFGame) Replay(oracle Oracle, moveLimit int) (Replay, error) {
	if oracle == nil {
		oracle = Rules{}
	}
	detector := NewDetector(oracle)
	if moveLimit > 0 {
		detector.MoveLimit = moveLimit
	}
	exec := NewExecutor()
	r := Replay{Final: k.Start, Ledger: NewLedger()}
	if err := detector.Register(&r.Final, r.Ledger); err != nil {
		return r, err
	}
	for i, a := range k.Actions {
		if r.Outcome.Over() {
			return r, fmt.Errorf("ply %d: game already ended (%v)", i+1, r.Outcome)
		}
		if !isLegal(oracle, &r.Final, a) {
			return r, fmt.Errorf("ply %d: %w: %v", i+1, ErrIllegalAction, a)
		}
		plan, err := exec.Plan(&r.Final, a)
		if err != nil {
			return r, fmt.Errorf("ply %d: %w", i+1, err)
		}
		rec, err := exec.Commit(&r.Final, plan, a.Promote)
		if err != nil {
			return r, fmt.Errorf("ply %d: %w", i+1, err)
		}
		r.Records = append(r.Records, rec)
		if r.Outcome, err = detector.Evaluate(&r.Final, r.Ledger); err != nil {
			return r, fmt.Errorf("ply %d: %w", i+1, err)
		}
	}
	return r, nil
}
