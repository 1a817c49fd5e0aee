package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"shogi/pkg/shogi"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// fileResult is the verdict for one replayed KIF file.
type fileResult struct {
	path     string
	plies    int
	computed shogi.Outcome
	recorded shogi.Outcome
	terminal string
	final    string
	err      error
}

func (r fileResult) agrees() bool {
	if !r.recorded.Over() {
		return true
	}
	return r.computed == r.recorded || r.recorded.Reason == shogi.ReasonResignation
}

func main() {
	inputDir := flag.String("input", "test_kif", "input directory for KIF files")
	workers := flag.Int("workers", 0, "number of parallel workers (0=NumCPU)")
	moveLimit := flag.Int("move-limit", shogi.DefaultMoveLimit, "draw after this many plies")
	top := flag.Int("top", 0, "print the N positions seen most often across all files")
	showSFEN := flag.Bool("sfen", false, "print the final position of every file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(level)

	if *workers <= 0 {
		*workers = runtime.NumCPU()
	}
	start := time.Now()
	files, err := shogi.CollectKIF(*inputDir)
	if err != nil {
		fatal(err)
	}
	if len(files) == 0 {
		fatal(fmt.Errorf("no .kif files found in %s", *inputDir))
	}
	log.Info().Int("files", len(files)).Int("workers", *workers).Msg("replaying")

	counts := make(map[shogi.PositionKey]uint32)
	var mu sync.Mutex
	var processed atomic.Int64
	results := make([]fileResult, len(files))

	ch := make(chan int, *workers*4)
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range ch {
				res, keys := replayFile(files[i], *moveLimit, *top > 0)
				results[i] = res
				if len(keys) > 0 {
					mu.Lock()
					for _, k := range keys {
						counts[k]++
					}
					mu.Unlock()
				}
				if n := processed.Add(1); n%1000 == 0 {
					log.Info().Int64("done", n).Int("total", len(files)).Msg("progress")
				}
			}
		}()
	}
	for i := range files {
		ch <- i
	}
	close(ch)
	wg.Wait()

	failed, mismatched := 0, 0
	for _, res := range results {
		switch {
		case res.err != nil:
			failed++
			log.Warn().Str("path", res.path).Err(res.err).Msg("replay failed")
			continue
		case !res.agrees():
			mismatched++
			log.Warn().Str("path", res.path).Stringer("computed", res.computed).
				Str("terminal", res.terminal).Msg("outcome mismatch")
		}
		fmt.Printf("%s,%d,%s,%s,%s\n", res.path, res.plies, shogi.ResultLabel(res.computed), res.computed.Reason, res.terminal)
		if *showSFEN {
			fmt.Printf("  sfen %s\n", res.final)
		}
	}

	if *top > 0 {
		printTop(counts, *top)
	}
	log.Info().Int("files", len(files)).Int("failed", failed).Int("mismatched", mismatched).
		Dur("elapsed", time.Since(start).Round(time.Millisecond)).Msg("replay done")
}

// replayFile runs one file through the executor and the detector. With
// collect it also returns the key of every position reached.
func replayFile(path string, moveLimit int, collect bool) (fileResult, []shogi.PositionKey) {
	res := fileResult{path: path}
	game, err := shogi.LoadKIF(path)
	if err != nil {
		res.err = err
		return res, nil
	}
	res.recorded = game.Outcome
	res.terminal = game.Terminal

	replay, err := game.Replay(shogi.Rules{}, moveLimit)
	res.plies = len(replay.Records)
	res.computed = replay.Outcome
	res.final = replay.Final.SFEN()
	if err != nil {
		res.err = err
		return res, nil
	}
	if !collect {
		return res, nil
	}

	state := game.Start
	keys := make([]shogi.PositionKey, 0, len(replay.Records)+1)
	if k, err := state.Key(); err == nil {
		keys = append(keys, k)
	}
	exec := shogi.NewExecutor()
	for _, rec := range replay.Records {
		plan, err := exec.Plan(&state, rec.Action())
		if err != nil {
			break
		}
		if _, err := exec.Commit(&state, plan, rec.Promoted); err != nil {
			break
		}
		k, err := state.Key()
		if err != nil {
			break
		}
		keys = append(keys, k)
	}
	return res, keys
}

func printTop(counts map[shogi.PositionKey]uint32, n int) {
	type entry struct {
		key   shogi.PositionKey
		count uint32
	}
	entries := make([]entry, 0, len(counts))
	for k, c := range counts {
		entries = append(entries, entry{k, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key.String() < entries[j].key.String()
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	fmt.Println("most frequent positions:")
	for _, e := range entries {
		state, err := e.key.Unpack()
		if err != nil {
			continue
		}
		fmt.Printf("%d %s\n", e.count, state.SFEN())
	}
}

func fatal(err error) {
	log.Fatal().Err(err).Msg("replay")
}
