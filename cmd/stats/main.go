package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"shogi/pkg/shogi"
)

type lengthStats struct {
	binSize     int
	count       int
	sum         int64
	min         int
	max         int
	initialized bool
	bins        map[int]int
}

type playerAgg struct {
	games  int
	wins   int
	draws  int
	losses int
}

func newLengthStats(binSize int) *lengthStats {
	return &lengthStats{
		binSize: binSize,
		bins:    make(map[int]int),
	}
}

func (ls *lengthStats) Add(moves int32) {
	value := int(moves)
	ls.count++
	ls.sum += int64(value)
	if !ls.initialized {
		ls.min = value
		ls.max = value
		ls.initialized = true
	} else {
		if value < ls.min {
			ls.min = value
		}
		if value > ls.max {
			ls.max = value
		}
	}
	binStart := (value / ls.binSize) * ls.binSize
	ls.bins[binStart]++
}

func main() {
	kifDir := flag.String("kif-dir", "", "input directory for KIF files")
	parquetPath := flag.String("parquet", "", "input parquet file")
	binSize := flag.Int("bin-size", 50, "move count bin size")
	flag.Parse()

	if *binSize <= 0 {
		fatal(fmt.Errorf("bin-size must be > 0"))
	}
	if (*kifDir == "") == (*parquetPath == "") {
		fatal(fmt.Errorf("specify exactly one of -kif-dir or -parquet"))
	}

	var records []shogi.GameRecord
	failed := 0
	if *parquetPath != "" {
		var err error
		records, err = shogi.ReadParquet(*parquetPath, 4)
		if err != nil {
			fatal(err)
		}
	} else {
		files, err := shogi.CollectKIF(*kifDir)
		if err != nil {
			fatal(err)
		}
		if len(files) == 0 {
			fatal(fmt.Errorf("no .kif files found in %s", *kifDir))
		}
		for _, path := range files {
			game, err := shogi.LoadKIF(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to parse %s: %v\n", path, err)
				failed++
				continue
			}
			records = append(records, shogi.GameRecord{
				GameID:    path,
				Black:     game.Header.Black,
				White:     game.Header.White,
				Result:    shogi.ResultLabel(game.Outcome),
				Reason:    game.Outcome.Reason.String(),
				MoveCount: int32(len(game.Actions)),
			})
		}
	}

	results := make(map[string]int)
	reasons := make(map[string]int)
	checks := 0
	lengths := newLengthStats(*binSize)
	players := make(map[string]*playerAgg)
	for _, record := range records {
		results[record.Result]++
		if record.Reason != "" {
			reasons[record.Reason]++
		}
		lengths.Add(record.MoveCount)
		for _, move := range record.Moves {
			if move.Check {
				checks++
			}
		}
		addPlayer(players, shogi.Black, record.Black, record.Result)
		addPlayer(players, shogi.White, record.White, record.Result)
	}

	if *parquetPath != "" {
		fmt.Printf("input parquet: %s\n", *parquetPath)
	} else {
		fmt.Printf("kif dir: %s\n", *kifDir)
		fmt.Printf("failed files: %d\n", failed)
	}
	fmt.Printf("games: %d\n", len(records))
	fmt.Println("results:")
	printCounts(results)
	fmt.Println("reasons:")
	printCounts(reasons)
	if lengths.count > 0 {
		fmt.Printf("move count range: %d-%d (mean %.1f)\n", lengths.min, lengths.max, float64(lengths.sum)/float64(lengths.count))
		if lengths.sum > 0 && *parquetPath != "" {
			fmt.Printf("checking moves: %d (%.1f%%)\n", checks, float64(checks)*100/float64(lengths.sum))
		}
	}
	fmt.Printf("move count distribution (bin size=%d):\n", lengths.binSize)
	keys := make([]int, 0, len(lengths.bins))
	for key := range lengths.bins {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	for _, start := range keys {
		end := start + lengths.binSize - 1
		fmt.Printf("%d-%d,%d\n", start, end, lengths.bins[start])
	}
	fmt.Println("players by seat (games,wins,draws,losses):")
	names := make([]string, 0, len(players))
	for name := range players {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		agg := players[name]
		fmt.Printf("%s,%d,%d,%d,%d\n", name, agg.games, agg.wins, agg.draws, agg.losses)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// addPlayer tallies one game for a seat. Rows are keyed by seat and name so
// a player meeting itself is not counted twice in one row.
func addPlayer(agg map[string]*playerAgg, seat shogi.Color, name, result string) {
	if name == "" {
		return
	}
	key := seat.String() + ":" + name
	entry, ok := agg[key]
	if !ok {
		entry = &playerAgg{}
		agg[key] = entry
	}
	winResult := shogi.ResultBlackWin
	if seat == shogi.White {
		winResult = shogi.ResultWhiteWin
	}
	entry.games++
	switch result {
	case winResult:
		entry.wins++
	case shogi.ResultDraw:
		entry.draws++
	case shogi.ResultBlackWin, shogi.ResultWhiteWin:
		entry.losses++
	}
}

func printCounts(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("  %s,%d\n", key, counts[key])
	}
}
