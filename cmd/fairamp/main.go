//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdkim/fairamp/pkg/fairamp/commfile"
	"github.com/cdkim/fairamp/pkg/fairamp/coretype"
	"github.com/cdkim/fairamp/pkg/fairamp/env"
	"github.com/cdkim/fairamp/pkg/fairamp/estimator"
	"github.com/cdkim/fairamp/pkg/fairamp/kernel"
	"github.com/cdkim/fairamp/pkg/fairamp/output"
	"github.com/cdkim/fairamp/pkg/fairamp/policy"
	"github.com/cdkim/fairamp/pkg/fairamp/policyopt"
	"github.com/cdkim/fairamp/pkg/fairamp/supervisor"
)

type opts struct {
	comm       string
	mode       string
	cpuType    string
	legacy     string
	base       string
	criteria   string
	metric     string
	target     float64
	similarity float64
	outputPath string
	ftrace     string
	interval   time.Duration
	norepeat   bool
	noeffi     bool
	stop       bool
	verbose    bool
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "fairamp",
		Short: "User-space controller for a fair scheduler on asymmetric multicore CPUs",
		Long: `fairamp launches a set of commands, periodically measures their per-core-type
instruction rates through a custom kernel syscall, estimates each command's fast/slow
speedup, and pushes back per-task round-slice quotas so the kernel distributes fast-core
time fairly under the chosen scheduling policy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().StringVarP(&o.comm, "comm", "c", "", "path to the command file (required unless --stop)")
	root.Flags().StringVarP(&o.mode, "mode", "m", "normal", "run mode: one of the canonical modes (see --help)")
	root.Flags().StringVarP(&o.cpuType, "type", "t", "", "per-CPU type string, one rune per core (1/F fast, 0/S slow, X offline); default is a 1/3-fast layout")
	root.Flags().StringVarP(&o.legacy, "policy", "p", "", "legacy underscore-joined policy name (e.g. minF_90); overrides --base/--criteria/--metric/--target/--similarity")
	root.Flags().StringVar(&o.base, "base", "fair_share", "fairness normalisation reference: fair_share, slow_core, fast_core")
	root.Flags().StringVar(&o.criteria, "criteria", "max_fair", "scheduling criterion: unaware, manual, max_perf, max_fair, minF, uniformity, minF_uniformity")
	root.Flags().StringVar(&o.metric, "metric", "", "for criteria=minF: target metric, fairness or throughput")
	root.Flags().Float64Var(&o.target, "target", 0, "target value for the active metric, in [0,1]")
	root.Flags().Float64Var(&o.similarity, "similarity", 0, "speedup-similarity grouping epsilon")
	root.Flags().StringVarP(&o.outputPath, "output", "o", "fairamp.out", "path to the merged output file")
	root.Flags().StringVarP(&o.ftrace, "ftrace", "f", "", "ftrace path; attached as an attribute to every log line (no trace data is captured)")
	root.Flags().DurationVarP(&o.interval, "interval", "i", 2*time.Second, "scheduling/estimation tick interval")
	root.Flags().BoolVar(&o.norepeat, "norepeat", false, "do not respawn a finished command before every command has finished once")
	root.Flags().BoolVar(&o.noeffi, "noeffi", false, "do not pin cpufreq governor/frequency, even if the mode would")
	root.Flags().BoolVar(&o.stop, "stop", false, "emit the stop-measuring-IPS syscall and exit; no other setup is performed")
	root.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "set the log level to debug (no per-tick heartbeat is logged)")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if o.ftrace != "" {
		log = log.With("ftrace", o.ftrace)
	}

	k := kernel.New()

	if o.stop {
		if err := k.StopMeasuringIPSType(); err != nil {
			return fmt.Errorf("fairamp: stop measuring IPS: %w", err)
		}
		log.Info("stop-measuring-IPS syscall sent")
		return nil
	}

	if os.Geteuid() != 0 {
		return fmt.Errorf("fairamp: must run as root")
	}
	if o.comm == "" {
		return fmt.Errorf("fairamp: --comm is required")
	}

	modes := policyopt.ModeTable()
	mode, ok := modes[o.mode]
	if !ok {
		return fmt.Errorf("fairamp: unknown mode %q", o.mode)
	}
	if o.norepeat {
		mode.RepeatedRun = false
	}
	if o.noeffi {
		mode.AdjustFrequency = false
	}

	builder := policyopt.NewBuilder().FastCoreFirst(mode.FastCoreFirst)
	if o.legacy != "" {
		builder.Legacy(o.legacy)
	} else {
		builder.Base(o.base).Criteria(o.criteria).Metric(o.metric).Target(o.target).Similarity(o.similarity)
	}
	pol, err := builder.Build()
	if err != nil {
		return fmt.Errorf("fairamp: build policy: %w", err)
	}

	numCore, err := coretype.DetectCoreCount()
	if err != nil {
		return fmt.Errorf("fairamp: detect core count: %w", err)
	}
	freqs, err := coretype.DetectFrequencyRange()
	if err != nil && mode.AdjustFrequency {
		return fmt.Errorf("fairamp: detect frequency range: %w", err)
	}

	var layout []env.CoreType
	if o.cpuType != "" {
		layout, err = coretype.ParseLayout(o.cpuType, numCore)
	} else {
		layout = coretype.DefaultLayout(numCore)
	}
	if err != nil {
		return fmt.Errorf("fairamp: parse core layout: %w", err)
	}
	numFast, numSlow := coretype.Counts(layout)

	cpus, err := coretype.Configure(layout, mode.DoFairamp, pol.AsymmetryAware(), mode.AdjustFrequency, freqs, k, coretype.NewSysfsApplier())
	if err != nil {
		return fmt.Errorf("fairamp: configure core types: %w", err)
	}

	commands, err := commfile.ParseFile(o.comm)
	if err != nil {
		return fmt.Errorf("fairamp: parse command file: %w", err)
	}

	if coretype.AssignCommandCPUs(cpus, commands) {
		for _, c := range commands {
			if c.SpeedupHint < 0 {
				return fmt.Errorf("fairamp: commands want to be pinned, but #cpus < #threads")
			}
		}
		log.Warn("fairamp: fewer online cpus than total requested threads; some commands got no pinned cpu set")
	}

	environment := env.New(commands, numFast, numSlow, o.interval)

	outMgr, err := output.NewManager(o.outputPath)
	if err != nil {
		return fmt.Errorf("fairamp: open output: %w", err)
	}

	sup := supervisor.New(environment, k, outMgr, mode.DoFairamp, mode.RepeatedRun, log)
	eng := policy.NewEngine(environment, pol, k, mode.PeriodicUpdate)

	estCfg := estimator.DefaultConfig()
	estCfg.AdjustFrequency = mode.AdjustFrequency
	est := estimator.New(environment, k, estCfg, log)

	if err := eng.Recompute(true); err != nil {
		return fmt.Errorf("fairamp: initial round-slice computation: %w", err)
	}

	if err := sup.Launch(); err != nil {
		return fmt.Errorf("fairamp: launch commands: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	var estErrCh chan error
	if mode.PeriodicUpdate {
		estErrCh = make(chan error, 1)
		go func() { estErrCh <- est.Run(ctx, eng) }()
	}

	// sup.Run returns once every command has finished at least once or
	// ctx is cancelled (sup.Shutdown below kills any respawned instance
	// still running); either way the environment is now done, so the
	// estimator goroutine (gated only on ctx/environment.Done) is told
	// to stop by tearing down the shared context.
	runErr := sup.Run(ctx, mode.PeriodicUpdate, eng)
	environment.SetDone()
	stop()
	if runErr != nil {
		log.Warn("fairamp: supervisor run loop error", "err", runErr)
	}
	if estErrCh != nil {
		if err := <-estErrCh; err != nil {
			log.Warn("fairamp: estimator run loop error", "err", err)
		}
	}

	sup.Shutdown()
	outMgr.CloseAll()

	if err := outMgr.Merge(commands); err != nil {
		log.Warn("fairamp: merge output", "err", err)
	} else {
		outMgr.DeleteTemp(commands)
	}

	printReport(os.Stdout, commands, pol)
	return nil
}

func printReport(w *os.File, commands []*env.Command, pol policy.Policy) {
	fmt.Fprintf(w, "\nfairamp run report (policy: %s)\n", pol.Name)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NUM\tNAME\tSPEEDUP\tFAST_NS\tSLOW_NS\tDURATION\tEXIT")
	for _, c := range commands {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%d\t%d\t%s\t%d\n",
			c.Num, c.Name, c.Speedup, c.RoundSlice.Fast, c.RoundSlice.Slow,
			c.End.Sub(c.Begin).Round(time.Millisecond), c.State.ExitStatus())
	}
	tw.Flush()
}
