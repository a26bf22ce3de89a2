package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/VanDung-dev/BenOr-Engine/api"
	"github.com/VanDung-dev/BenOr-Engine/cluster"
	"github.com/VanDung-dev/BenOr-Engine/consensus"
	"github.com/VanDung-dev/BenOr-Engine/data"
	"github.com/VanDung-dev/BenOr-Engine/logging"
)

// ExportFileName is the ledger file written by simulate --export.
const ExportFileName = "ledgers.arrow"

type simulateOptions struct {
	n             int
	f             int
	values        []int
	faulty        []int
	timeout       time.Duration
	exportDir     string
	metricsListen string
	logLevel      string
	seed          uint64
	timing        consensus.Timing
}

func simulateCmd() *cobra.Command {
	opts := &simulateOptions{timing: consensus.DefaultTiming()}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a whole group in one process.",
		Long: `Runs N participants connected in-process, waits until every live participant has
decided or --timeout expires, and prints the final states.`,
		Example: `  benor simulate --n 4 --f 1 --values 0,0,1,0
  benor simulate --n 3 --f 1 --values 0,1,0 --faulty 2 --export ./out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.n, "n", 4, "Number of participants.")
	flags.IntVar(&opts.f, "f", 1, "Assumed number of faulty participants.")
	flags.IntSliceVar(&opts.values, "values", nil, "Initial value (0 or 1) of each participant.")
	flags.IntSliceVar(&opts.faulty, "faulty", nil, "Indexes of faulty participants.")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Give up waiting for decisions after this long.")
	flags.StringVar(&opts.exportDir, "export", "", "Directory to write every ledger to as an Arrow IPC stream.")
	flags.StringVar(&opts.metricsListen, "metrics-listen", "", "Serve /metrics on this address while simulating.")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level.")
	flags.Uint64Var(&opts.seed, "seed", 0, "Seed the participants' coins for a reproducible run (0 = random).")
	flags.DurationVar(&opts.timing.PollInterval, "poll-interval", opts.timing.PollInterval, "Quorum re-check interval.")
	flags.DurationVar(&opts.timing.QuorumTimeout, "quorum-timeout", opts.timing.QuorumTimeout, "Quorum wait bound per phase.")
	flags.DurationVar(&opts.timing.PacingDelay, "pacing", opts.timing.PacingDelay, "Pause after each broadcast.")
	return cmd
}

func runSimulation(ctx context.Context, out io.Writer, opts *simulateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(opts.values) != opts.n {
		return fmt.Errorf("--values needs %d entries, got %d", opts.n, len(opts.values))
	}
	initial := make([]consensus.Value, opts.n)
	faulty := make(map[int]bool, len(opts.faulty))
	for _, id := range opts.faulty {
		faulty[id] = true
	}
	for i, v := range opts.values {
		value, err := consensus.BinaryValue(v)
		if err != nil && !faulty[i] {
			return fmt.Errorf("participant %d: %w", i, err)
		}
		initial[i] = value
	}

	if err := logging.Init(logging.Config{Level: opts.logLevel}); err != nil {
		return err
	}
	defer logging.Sync()

	reg := prometheus.NewRegistry()
	clusterOpts := []cluster.Option{
		cluster.WithRecorders(func(id int) consensus.Recorder {
			return api.NewMetrics("benor", prometheus.WrapRegistererWith(
				prometheus.Labels{"participant": strconv.Itoa(id)}, reg))
		}),
	}
	if opts.seed != 0 {
		clusterOpts = append(clusterOpts, cluster.WithCoins(seededCoins(opts.seed)))
	}
	c, err := cluster.New(cluster.Spec{
		N:             opts.n,
		F:             opts.f,
		InitialValues: initial,
		Faulty:        opts.faulty,
		Timing:        opts.timing,
	}, clusterOpts...)
	if err != nil {
		return err
	}

	if opts.metricsListen != "" {
		metricsServer := api.NewMetricsServer(opts.metricsListen, reg)
		metricsServer.StartAsync()
		defer func() { _ = metricsServer.Stop() }()
	}

	start := time.Now()
	c.StartAll()

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	waitErr := c.WaitDecided(waitCtx)
	c.StopAll()
	elapsed := time.Since(start)

	if err := printStates(out, c.States()); err != nil {
		return err
	}

	if opts.exportDir != "" {
		if err := exportLedgers(opts.exportDir, c.Ledgers()); err != nil {
			return err
		}
		fmt.Fprintf(out, "ledgers written to %s\n", filepath.Join(opts.exportDir, ExportFileName))
	}

	if errors.Is(waitErr, context.DeadlineExceeded) {
		return fmt.Errorf("not every live participant decided within %s", opts.timeout)
	}
	if waitErr != nil {
		return waitErr
	}
	value, ok, err := c.Decision()
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(out, "decided %s in %s\n", value, elapsed.Round(time.Millisecond))
	}
	return nil
}

func printStates(out io.Writer, states []consensus.State) error {
	table := pterm.TableData{{"ID", "KILLED", "X", "DECIDED", "K"}}
	for id, s := range states {
		decided, k := "null", "null"
		if s.Decided != nil {
			decided = strconv.FormatBool(*s.Decided)
		}
		if s.K != nil {
			k = strconv.Itoa(*s.K)
		}
		table = append(table, []string{strconv.Itoa(id), strconv.FormatBool(s.Killed), s.X.String(), decided, k})
	}
	return renderTable(out, table)
}

func renderTable(out io.Writer, table pterm.TableData) error {
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(table).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, rendered)
	return err
}

func exportLedgers(dir string, ledgers [][]consensus.Message) error {
	payload, err := data.ExportLedgers(ledgers)
	if err != nil {
		return fmt.Errorf("failed to export ledgers: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ExportFileName), payload, 0o644)
}

// seededCoins gives each participant its own deterministic coin derived from seed.
func seededCoins(seed uint64) func(id int) consensus.Coin {
	return func(id int) consensus.Coin {
		return consensus.NewSeededCoin(seed + uint64(id))
	}
}
