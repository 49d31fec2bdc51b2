// Command stagesim plays scripted stage runs against a SQLite save slot and
// reports how each run ended.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/stagecraft/internal/logger"
	"github.com/freeeve/stagecraft/internal/repository/sqlite"
	"github.com/freeeve/stagecraft/internal/service"
)

// eventLog prints stage events instead of pushing them to clients.
type eventLog struct{}

func (eventLog) BroadcastStageEvent(runID, eventType string, data any) {
	log.Debug().Str("runId", runID).Str("event", eventType).Interface("data", data).Msg("Stage event")
}

func main() {
	_ = godotenv.Load()

	var (
		scriptPath string
		dbPath     string
		slotID     string
		runs       int
		workers    int
		jsonOut    bool
		verbose    bool
	)
	flag.StringVar(&scriptPath, "script", "", "Script file (required)")
	flag.StringVar(&dbPath, "db", "stagesim.db", "SQLite save slot file (:memory: for none)")
	flag.StringVar(&slotID, "slot", "sim", "Save slot id; runs after the first use <slot>-<n>")
	flag.IntVar(&runs, "n", 1, "Number of runs")
	flag.IntVar(&workers, "workers", 1, "Concurrency (parallel runs)")
	flag.BoolVar(&jsonOut, "json", false, "Output results as JSON")
	flag.BoolVar(&verbose, "v", false, "Log stage events")
	flag.Parse()

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger.Init(logger.Options{Level: level, Dev: true})

	if scriptPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	script, err := LoadScript(scriptPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load script")
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("SQLite open failed")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	svc := service.NewStageService(service.NewPersister(store), nil, eventLog{}, service.Options{})
	results, errCount := runAll(ctx, svc, script, slotID, runs, workers)

	if err := svc.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("Pending save slot writes did not finish")
	}

	if jsonOut {
		printJSON(results, errCount)
	} else {
		printSummary(ctx, svc, results, errCount)
	}
	if errCount > 0 {
		os.Exit(1)
	}
}

func runAll(ctx context.Context, svc *service.StageService, script *Script, slotID string, runs, workers int) ([]*RunResult, int) {
	if workers < 1 {
		workers = 1
	}
	results := make([]*RunResult, runs)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	errCount := 0

	for i := 0; i < runs; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			slot := slotID
			if idx > 0 {
				slot = fmt.Sprintf("%s-%d", slotID, idx+1)
			}
			res, err := Run(ctx, svc, script, slot, "stagesim")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error().Err(err).Int("run", idx+1).Msg("Run failed")
				errCount++
				return
			}
			results[idx] = res
		}(i)
	}
	wg.Wait()
	return results, errCount
}

func printSummary(ctx context.Context, svc *service.StageService, results []*RunResult, errCount int) {
	fmt.Printf("\nResults (%d runs):\n", len(results))
	if errCount > 0 {
		fmt.Printf("  (%d runs failed)\n", errCount)
	}
	for i, r := range results {
		if r == nil {
			continue
		}
		f := r.Final
		line := fmt.Sprintf("  #%d %-8s turn %d, %d recruited", i+1, f.Status, f.Turn, len(f.Recruited))
		if f.Rewards != nil {
			line += fmt.Sprintf(", rating %s, %d xp, %d gold", f.Rewards.Rating, f.Rewards.Experience, f.Rewards.Gold)
		}
		if f.Defeat != "" {
			line += ", " + f.Defeat
		}
		fmt.Println(line)

		slot, res := svc.LoadSlot(ctx, r.SlotID)
		if !res.OK {
			fmt.Printf("     save slot %s unavailable: %s\n", r.SlotID, res.Kind)
			continue
		}
		fmt.Printf("     slot %s: version %d, army %d\n", slot.SlotID, slot.Version, len(slot.Army))
	}
}

func printJSON(results []*RunResult, errCount int) {
	out := struct {
		Total   int          `json:"total"`
		Errors  int          `json:"errors"`
		Results []*RunResult `json:"results"`
	}{
		Total:   len(results),
		Errors:  errCount,
		Results: results,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
