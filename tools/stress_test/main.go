package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/VanDung-dev/BenOr-Engine/cluster"
	"github.com/VanDung-dev/BenOr-Engine/consensus"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	N           int
	F           int
	Faulty      int
	Concurrency int
	Runs        int
	Duration    time.Duration
	RunTimeout  time.Duration
	Timing      consensus.Timing
	ReportFile  string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalRuns           int64
	DecidedRuns         int64
	TimedOutRuns        int64
	AgreementViolations int64
	ValidityViolations  int64
	TotalDuration       time.Duration
	AvgDecision         time.Duration
	MinDecision         time.Duration
	MaxDecision         time.Duration
	MaxRounds           int64
	RunsPerSec          float64
}

type counters struct {
	total, decided, timedOut       atomic.Int64
	agreement, validity            atomic.Int64
	latencySum, minLatency, maxLat atomic.Int64
	maxRounds                      atomic.Int64
}

func main() {
	config := parseFlags()

	fmt.Println("=== Ben-Or Consensus Stress Test ===")
	fmt.Printf("Group: N=%d F=%d faulty=%d\n", config.N, config.F, config.Faulty)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Println()

	result := runStressTest(config)

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
	if result.AgreementViolations > 0 || result.ValidityViolations > 0 {
		os.Exit(1)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{Timing: consensus.DefaultTiming()}

	flag.IntVar(&config.N, "n", 4, "Participants per group")
	flag.IntVar(&config.F, "f", 1, "Assumed faulty participants per group")
	flag.IntVar(&config.Faulty, "faulty", 0, "Participants actually faulty in each run (random choice)")
	flag.IntVar(&config.Concurrency, "c", 4, "Number of concurrent workers")
	flag.IntVar(&config.Runs, "runs", 0, "Total number of runs (0 = unlimited, use -d instead)")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.DurationVar(&config.RunTimeout, "run-timeout", 30*time.Second, "Give up on a single run after this long")
	flag.DurationVar(&config.Timing.QuorumTimeout, "quorum-timeout", config.Timing.QuorumTimeout, "Quorum wait bound per phase")
	flag.DurationVar(&config.Timing.PacingDelay, "pacing", config.Timing.PacingDelay, "Pause after each broadcast")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

func runStressTest(config StressTestConfig) StressTestResult {
	var (
		c        counters
		wg       sync.WaitGroup
		stopChan = make(chan struct{})
		started  atomic.Int64
	)
	c.minLatency.Store(1<<63 - 1)

	startTime := time.Now()

	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopChan:
					return
				default:
				}
				if config.Runs > 0 && started.Add(1) > int64(config.Runs) {
					return
				}
				runOnce(config, &c)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-time.After(config.Duration):
		close(stopChan)
		<-done
	case <-done:
	}

	duration := time.Since(startTime)
	total := c.total.Load()
	decided := c.decided.Load()

	var avg time.Duration
	if decided > 0 {
		avg = time.Duration(c.latencySum.Load() / decided)
	}
	minLat := c.minLatency.Load()
	if decided == 0 {
		minLat = 0
	}

	return StressTestResult{
		TotalRuns:           total,
		DecidedRuns:         decided,
		TimedOutRuns:        c.timedOut.Load(),
		AgreementViolations: c.agreement.Load(),
		ValidityViolations:  c.validity.Load(),
		TotalDuration:       duration,
		AvgDecision:         avg,
		MinDecision:         time.Duration(minLat),
		MaxDecision:         time.Duration(c.maxLat.Load()),
		MaxRounds:           c.maxRounds.Load(),
		RunsPerSec:          float64(total) / duration.Seconds(),
	}
}

// runOnce simulates one group with random inputs and random faulty participants.
func runOnce(config StressTestConfig, c *counters) {
	faulty := rand.Perm(config.N)[:min(config.Faulty, config.N)]
	isFaulty := make(map[int]bool, len(faulty))
	for _, id := range faulty {
		isFaulty[id] = true
	}

	initial := make([]consensus.Value, config.N)
	liveInput := consensus.Unset
	unanimous := true
	for i := range initial {
		initial[i] = consensus.Value(rand.IntN(2))
		if isFaulty[i] {
			continue
		}
		if liveInput != consensus.Unset && initial[i] != liveInput {
			unanimous = false
		}
		liveInput = initial[i]
	}

	group, err := cluster.New(cluster.Spec{
		N:             config.N,
		F:             config.F,
		InitialValues: initial,
		Faulty:        faulty,
		Timing:        config.Timing,
	}, cluster.WithLogger(zap.NewNop().Sugar()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid group: %v\n", err)
		os.Exit(2)
	}

	start := time.Now()
	group.StartAll()
	ctx, cancel := context.WithTimeout(context.Background(), config.RunTimeout)
	waitErr := group.WaitDecided(ctx)
	cancel()
	latency := time.Since(start)
	group.StopAll()

	c.total.Add(1)
	if waitErr != nil {
		c.timedOut.Add(1)
		return
	}

	value, ok, err := group.Decision()
	if err != nil {
		c.agreement.Add(1)
		return
	}
	if !ok {
		c.timedOut.Add(1)
		return
	}
	if unanimous && value != liveInput {
		c.validity.Add(1)
	}

	c.decided.Add(1)
	lat := int64(latency)
	c.latencySum.Add(lat)
	for {
		old := c.minLatency.Load()
		if lat >= old || c.minLatency.CompareAndSwap(old, lat) {
			break
		}
	}
	for {
		old := c.maxLat.Load()
		if lat <= old || c.maxLat.CompareAndSwap(old, lat) {
			break
		}
	}
	for _, state := range group.States() {
		if state.K == nil {
			continue
		}
		rounds := int64(*state.K)
		for {
			old := c.maxRounds.Load()
			if rounds <= old || c.maxRounds.CompareAndSwap(old, rounds) {
				break
			}
		}
	}
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func printResults(result StressTestResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Runs:      %d\n", result.TotalRuns)
	fmt.Printf("Decided:         %d (%.2f%%)\n", result.DecidedRuns, percent(result.DecidedRuns, result.TotalRuns))
	fmt.Printf("Timed Out:       %d (%.2f%%)\n", result.TimedOutRuns, percent(result.TimedOutRuns, result.TotalRuns))
	fmt.Printf("Agreement Viol.: %d\n", result.AgreementViolations)
	fmt.Printf("Validity Viol.:  %d\n", result.ValidityViolations)
	fmt.Printf("Runs/sec:        %.2f\n", result.RunsPerSec)
	fmt.Printf("Avg Decision:    %v\n", result.AvgDecision.Round(time.Microsecond))
	fmt.Printf("Min Decision:    %v\n", result.MinDecision.Round(time.Microsecond))
	fmt.Printf("Max Decision:    %v\n", result.MaxDecision.Round(time.Microsecond))
	fmt.Printf("Max Rounds:      %d\n", result.MaxRounds)
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]interface{}{
		"id": xid.New().String(),
		"config": map[string]interface{}{
			"n":              config.N,
			"f":              config.F,
			"faulty":         config.Faulty,
			"concurrency":    config.Concurrency,
			"duration":       config.Duration.String(),
			"quorum_timeout": config.Timing.QuorumTimeout.String(),
		},
		"results": map[string]interface{}{
			"total_runs":           result.TotalRuns,
			"decided":              result.DecidedRuns,
			"timed_out":            result.TimedOutRuns,
			"agreement_violations": result.AgreementViolations,
			"validity_violations":  result.ValidityViolations,
			"runs_per_sec":         result.RunsPerSec,
			"avg_decision_ms":      float64(result.AvgDecision.Microseconds()) / 1000,
			"min_decision_ms":      float64(result.MinDecision.Microseconds()) / 1000,
			"max_decision_ms":      float64(result.MaxDecision.Microseconds()) / 1000,
			"max_rounds":           result.MaxRounds,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
