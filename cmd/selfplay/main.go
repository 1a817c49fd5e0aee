package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"shogi/pkg/shogi"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type playerSpec struct {
	kind string
	name string
}

func main() {
	startTime := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	configPath := flag.String("config", "", "path to config.json (searched upward from cwd when empty)")
	games := flag.Int("games", 10, "number of games to play")
	outputPath := flag.String("output", "selfplay.parquet", "output parquet file")
	kifDir := flag.String("kif-dir", "", "also write each game as KIF into this directory")
	sjis := flag.Bool("sjis", false, "encode KIF output as Shift-JIS")
	processNum := flag.Int("process-num", 4, "number of parallel workers")
	black := flag.String("black", "random", "black player: random or engine")
	white := flag.String("white", "random", "white player: random or engine")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "seed for random players")
	flag.Parse()

	cfgPath, repoRoot := resolveConfigPath(*configPath)
	cfg, err := shogi.LoadConfig(cfgPath)
	if err != nil {
		fatal(err)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(cfg.Level())

	players := [2]playerSpec{{kind: *black}, {kind: *white}}
	enginePath := cfg.EnginePath(repoRoot)
	for i, p := range players {
		switch p.kind {
		case "random":
			players[i].name = "random"
		case "engine":
			if enginePath == "" {
				fatal(errors.New("engine path is required for an engine player"))
			}
			if _, err := os.Stat(enginePath); err != nil {
				fatal(fmt.Errorf("engine binary not found at %s: %w", enginePath, err))
			}
			players[i].name = filepath.Base(enginePath)
		default:
			fatal(fmt.Errorf("unknown player %q", p.kind))
		}
	}

	workers := *processNum
	if workers <= 0 {
		workers = 1
	}
	if workers > *games {
		workers = *games
	}
	if workers <= 0 {
		return
	}
	if dir := filepath.Dir(*outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fatal(err)
		}
	}
	if *kifDir != "" {
		if err := os.MkdirAll(*kifDir, 0o755); err != nil {
			fatal(err)
		}
	}

	jobs := make(chan int)
	errCh := make(chan error, workers)
	results := make(chan shogi.GameRecord, workers)
	writeErr := make(chan error, 1)
	done := make(chan struct{})
	var played int64
	var writeWg sync.WaitGroup
	writeWg.Add(1)
	go func() {
		defer writeWg.Done()
		writeErr <- collect(func(records <-chan shogi.GameRecord) error {
			return shogi.WriteParquet(*outputPath, records, int64(workers))
		}, results, cancel)
	}()
	go func(total int) {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				fmt.Fprintf(os.Stderr, "\rprogress: %d/%d (100%%)\n", total, total)
				return
			case <-ticker.C:
				count := int(atomic.LoadInt64(&played))
				fmt.Fprintf(os.Stderr, "\rprogress: %d/%d (%d%%)", count, total, count*100/total)
			}
		}
	}(*games)

	var wg sync.WaitGroup
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(stopCh)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			opponents, closeAll, err := newOpponents(ctx, players, enginePath, cfg, *seed+uint64(w))
			if err != nil {
				errCh <- err
				// keep the enqueue loop from blocking
				for range jobs {
					atomic.AddInt64(&played, 1)
				}
				return
			}
			defer closeAll()
			for n := range jobs {
				if ctx.Err() != nil {
					return
				}
				gameStart := time.Now()
				record, err := playGame(ctx, n, players, opponents, cfg, *kifDir, *sjis)
				if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
					return
				}
				elapsed := time.Since(gameStart).Round(time.Millisecond)
				if err != nil {
					log.Error().Err(err).Int("game", n).Dur("elapsed", elapsed).Msg("game failed")
					atomic.AddInt64(&played, 1)
					continue
				}
				results <- record
				log.Debug().Int("game", n).Str("result", record.Result).Str("reason", record.Reason).
					Int32("moves", record.MoveCount).Dur("elapsed", elapsed).Msg("game finished")
				atomic.AddInt64(&played, 1)
			}
		}(w)
	}

	enqueue(ctx, jobs, *games)
	wg.Wait()
	close(done)
	close(results)
	writeWg.Wait()
	if err := <-writeErr; err != nil {
		fatal(err)
	}
	close(errCh)
	for err := range errCh {
		if err != nil {
			fatal(err)
		}
	}
	log.Info().Dur("elapsed", time.Since(startTime).Round(time.Second)).
		Int64("games", atomic.LoadInt64(&played)).Msg("selfplay done")
}

// newOpponents builds one opponent per seat. Engine seats get their own
// session so both sides may be engines.
func newOpponents(ctx context.Context, players [2]playerSpec, enginePath string, cfg shogi.Config, seed uint64) ([2]shogi.Opponent, func(), error) {
	var opponents [2]shogi.Opponent
	var sessions []*shogi.Session
	closeAll := func() {
		for _, s := range sessions {
			_ = s.Close()
		}
	}
	for i, p := range players {
		if p.kind == "random" {
			opponents[i] = shogi.NewRandomOpponent(seed*2 + uint64(i))
			continue
		}
		session, err := shogi.StartSession(ctx, log.Logger, enginePath)
		if err != nil {
			closeAll()
			return opponents, nil, err
		}
		sessions = append(sessions, session)
		if err := session.Handshake(ctx, cfg.EngineOptions); err != nil {
			closeAll()
			return opponents, nil, err
		}
		opponents[i] = shogi.NewEngineOpponent(session, p.name, cfg.Millis)
	}
	return opponents, closeAll, nil
}

// seatOpponent dispatches to the opponent of the side to move.
type seatOpponent struct {
	seats [2]shogi.Opponent
}

func (s seatOpponent) Name() string {
	return s.seats[shogi.Black].Name() + "-" + s.seats[shogi.White].Name()
}

func (s seatOpponent) Choose(ctx context.Context, snap shogi.Snapshot) (shogi.Action, error) {
	return s.seats[snap.Turn()].Choose(ctx, snap)
}

func playGame(ctx context.Context, n int, players [2]playerSpec, opponents [2]shogi.Opponent, cfg shogi.Config, kifDir string, sjis bool) (shogi.GameRecord, error) {
	logger := log.Logger.With().Int("n", n).Logger()
	game, err := shogi.NewGame(shogi.Options{
		Seats:     [2]shogi.Actor{shogi.Automated, shogi.Automated},
		Opponent:  seatOpponent{seats: opponents},
		MoveLimit: cfg.MoveLimit,
		Context:   ctx,
		Logger:    &logger,
	})
	if err != nil {
		return shogi.GameRecord{}, err
	}
	defer game.Close()
	started := time.Now()

	for !game.Outcome().Over() {
		if _, err := game.PlayAutomated(ctx); err != nil {
			return shogi.GameRecord{}, err
		}
	}

	start := shogi.NewGameState()
	records := game.Records()
	outcome := game.Outcome()
	if kifDir != "" {
		if err := writeKIF(filepath.Join(kifDir, game.ID.String()+".kif"), shogi.KIFHeader{
			Black:   players[shogi.Black].name,
			White:   players[shogi.White].name,
			Started: started,
		}, start, records, outcome, sjis); err != nil {
			return shogi.GameRecord{}, err
		}
	}
	return shogi.NewGameRecord(game.ID, players[shogi.Black].name, players[shogi.White].name, start, records, outcome)
}

func writeKIF(path string, header shogi.KIFHeader, start shogi.GameState, records []shogi.MoveRecord, outcome shogi.Outcome, sjis bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := shogi.WriteKIF(f, header, start, records, outcome, sjis); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func resolveConfigPath(arg string) (string, string) {
	if arg != "" {
		abs, err := filepath.Abs(arg)
		if err != nil {
			fatal(err)
		}
		return abs, filepath.Dir(abs)
	}
	path, root, err := shogi.FindConfigPath()
	if err != nil {
		cwd, _ := os.Getwd()
		return "", cwd
	}
	return path, root
}

func fatal(err error) {
	log.Fatal().Err(err).Msg("selfplay")
}

// enqueue hands out game numbers until all are taken or ctx is done, then
// closes jobs.
func enqueue(ctx context.Context, jobs chan<- int, games int) {
	defer close(jobs)
	for n := 1; n <= games; n++ {
		select {
		case <-ctx.Done():
			return
		case jobs <- n:
		}
	}
}

// collect runs the parquet writer over results. A failed writer stops the
// run, and results is drained so no worker blocks on a send.
func collect(write func(<-chan shogi.GameRecord) error, results <-chan shogi.GameRecord, cancel context.CancelFunc) error {
	err := write(results)
	if err != nil {
		cancel()
		for range results {
		}
	}
	return err
}
