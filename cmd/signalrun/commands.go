package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/signalrun/internal/application/pipeline"
	"github.com/sawpanic/signalrun/internal/config"
)

var stepDescriptions = map[string]string{
	pipeline.StepLoad:     "Stream the input once and fit the dollar bar threshold",
	pipeline.StepBars:     "Build dollar bars with the fitted threshold",
	pipeline.StepLabels:   "Sample CUSUM events and label them with triple barriers",
	pipeline.StepFeatures: "Compute the feature matrix and fractional differencing orders",
	pipeline.StepWeights:  "Compute label uniqueness and sample weights",
	pipeline.StepCV:       "Lay out purged and embargoed cross-validation folds",
	pipeline.StepMeta:     "Run primary and meta-labeling models out of sample",
	pipeline.StepBet:      "Size bets from meta-model probabilities",
	pipeline.StepVerify:   "Re-check artifact invariants",
}

func newRootCmd() *cobra.Command {
	opts := &appOptions{}
	root := &cobra.Command{
		Use:     appName,
		Short:   "Dollar bar research pipeline",
		Version: version,
		Long: `signalrun turns a tick or OHLCV file into dollar bars, labeled events,
features, sample weights, purged CV folds, meta-labeled predictions and bet
sizes. Each step reads its inputs from and writes its output to the artifact
directory, so steps can be run one at a time or together with 'run'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML run configuration file")
	pf.StringVar(&opts.logFormat, "log-format", "auto", "log format (auto|console|json)")
	pf.BoolVar(&opts.force, "force", false, "recompute steps whose artifact already exists")
	opts.flags = config.RegisterFlags(pf)

	for _, name := range pipeline.Steps {
		root.AddCommand(&cobra.Command{
			Use:   name,
			Short: stepDescriptions[name],
			Args:  cobra.NoArgs,
			RunE: withApp(opts, func(ctx context.Context, a *app, w io.Writer, _ []string) error {
				res, err := a.exec.Run(ctx, name)
				printSteps(w, res)
				return err
			}),
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "run [steps...]",
		Short: "Run several steps, or all of them, in pipeline order",
		Long: `Run executes the named steps in pipeline order, or every step when none
are named. Steps whose artifact exists are skipped unless --force is given.`,
		ValidArgs: pipeline.Steps,
		Args:      cobra.OnlyValidArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, w io.Writer, args []string) error {
			res, err := a.exec.Run(ctx, args...)
			printSteps(w, res)
			return err
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Compare bars-per-day targets by return normality",
		Long: `Sweep builds fixed-threshold dollar bars for every --targets value and ranks
the targets by the Jarque-Bera statistic of their log returns, lowest first.
The winner is recorded in the run ledger.`,
		Args: cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, _ io.Writer, _ []string) error {
			_, err := a.exec.Sweep(ctx, nil)
			return err
		}),
	})
	return root
}

func withApp(opts *appOptions, fn func(ctx context.Context, a *app, w io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, *opts, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, cmd.OutOrStdout(), args)
	}
}

func printSteps(w io.Writer, res *pipeline.Result) {
	if res == nil || len(res.Steps) == 0 {
		return
	}
	fmt.Fprintf(w, "\nRun %s\n", res.RunID)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tROWS\tDURATION\tARTIFACT\tNOTE")
	for _, s := range res.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", s.Name, s.Status, s.Rows, s.Duration.Round(time.Millisecond), s.Artifact, s.Note)
	}
	tw.Flush()
}
