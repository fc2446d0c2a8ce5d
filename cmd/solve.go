package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/qpbridge/internal/backends"
	"github.com/cwbudde/qpbridge/internal/batch"
	"github.com/cwbudde/qpbridge/internal/metrics"
	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/store"
)

var (
	solveOptions []string
	saveRuns     bool
	showProgress bool
	outputFormat string
)

var solveCmd = &cobra.Command{
	Use:   "solve FILE...",
	Short: "Solve one or more problem files",
	Long: `Loads each problem file, solves it with the selected backend and prints the
result. Files are solved concurrently. Options given with --option apply to
this call only and take precedence over options in the file and the config.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSolve,
}

func init() {
	rootCmd.AddCommand(solveCmd)

	flags := solveCmd.Flags()
	flags.String("backend", "osqp", "Solver backend (osqp, mayfly)")
	flags.Int("concurrency", 4, "Number of files solved at once")
	flags.String("metrics-file", "", "Write Prometheus metrics in text format to this file")
	flags.StringArrayVarP(&solveOptions, "option", "o", nil, "Backend option as name=value (repeatable)")
	flags.BoolVar(&saveRuns, "save", false, "Store each run under the data directory")
	flags.BoolVar(&showProgress, "progress", false, "Print job state changes to stderr")
	flags.StringVar(&outputFormat, "output", "table", "Output format (table, json)")

	mustBind("backend", flags.Lookup("backend"))
	mustBind("concurrency", flags.Lookup("concurrency"))
	mustBind("metrics_file", flags.Lookup("metrics-file"))
}

func runSolve(cmd *cobra.Command, args []string) error {
	if outputFormat != "table" && outputFormat != "json" {
		return fmt.Errorf("invalid output format %q (use table or json)", outputFormat)
	}

	backendID := backends.NormalizeBackend(cfg.Backend)
	call, err := parseOptionFlags(backendID, solveOptions)
	if err != nil {
		return err
	}

	rec := metrics.NewRecorder()
	runnerOpts := []batch.Option{
		batch.WithConcurrency(cfg.Concurrency),
		batch.WithDefaults(cfg.DefaultOptions()),
		batch.WithCallOptions(call),
		batch.WithRecorder(rec),
		batch.WithLogger(logger.WithName("batch")),
	}
	if saveRuns {
		st, err := store.NewFSStore(cfg.DataDir, store.WithLogger(logger.WithName("store")))
		if err != nil {
			return fmt.Errorf("failed to create run store: %w", err)
		}
		runnerOpts = append(runnerOpts, batch.WithStore(st))
	}

	runner := batch.NewRunner(string(backendID), runnerOpts...)
	var progressDone chan struct{}
	var events chan batch.Event
	if showProgress {
		events = runner.Jobs().Events().Subscribe(len(args) * 4)
		progressDone = make(chan struct{})
		go printProgress(cmd.ErrOrStderr(), events, progressDone)
	}
	outcomes, runErr := runner.Run(cmd.Context(), args)
	if showProgress {
		runner.Jobs().Events().Unsubscribe(events)
		<-progressDone
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		err = printOutcomesJSON(out, outcomes, call)
	} else {
		err = printOutcomesTable(out, outcomes)
	}
	if err != nil {
		return err
	}

	if cfg.MetricsFile != "" {
		if err := rec.WriteFile(cfg.MetricsFile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		logger.V(1).Info("Metrics written", "path", cfg.MetricsFile)
	}

	if runErr != nil {
		return runErr
	}
	counts := runner.Jobs().Count()
	if failed := counts[batch.StateFailed]; failed > 0 {
		return fmt.Errorf("%d of %d problem(s) failed", failed, len(outcomes))
	}
	return nil
}

// parseOptionFlags turns name=value flags into the call option scope of backend.
func parseOptionFlags(backend options.SolverID, flags []string) (options.Set, error) {
	assignments := make(map[string]string, len(flags))
	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --option %q (want name=value)", f)
		}
		assignments[name] = strings.TrimSpace(value)
	}
	return options.ParseAssignments(backend, assignments), nil
}

func printProgress(w io.Writer, events <-chan batch.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		line := fmt.Sprintf("[%s] %s %s", ev.Timestamp.Format("15:04:05.000"), ev.Path, ev.State)
		if ev.Result != "" {
			line += fmt.Sprintf(" result=%s cost=%.6g iterations=%d", ev.Result, float64(ev.Cost), ev.Iterations)
		}
		if ev.Error != "" {
			line += " error=" + ev.Error
		}
		fmt.Fprintln(w, line)
	}
}

func printOutcomesTable(out io.Writer, outcomes []batch.Outcome) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBLEM\tRESULT\tCOST\tITERATIONS\tSOLUTION")
	for _, o := range outcomes {
		name := o.Job.Name
		if name == "" {
			name = o.Job.Path
		}
		if o.Result == nil {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t%s\n", name, o.Job.State, o.Job.Error)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%.6g\t%d\t%s\n",
			name,
			o.Result.Status(),
			o.Result.OptimalCost(),
			o.Result.Iterations(),
			formatSolution(o),
		)
	}
	return w.Flush()
}

func formatSolution(o batch.Outcome) string {
	x := o.Result.SolutionVector()
	vars := o.Result.Variables()
	parts := make([]string, len(x))
	for i := range x {
		parts[i] = fmt.Sprintf("%s=%.6g", vars[i], x[i])
	}
	return strings.Join(parts, " ")
}

func printOutcomesJSON(out io.Writer, outcomes []batch.Outcome, call options.Set) error {
	enc := json.NewEncoder(out)
	for _, o := range outcomes {
		if o.Result == nil {
			if err := enc.Encode(o.Job); err != nil {
				return err
			}
			continue
		}
		run := batch.NewRun(o.Job.ID, o.Problem, o.Result, call)
		run.Source = o.Job.Path
		if o.Err != nil {
			run.Error = o.Err.Error()
		}
		if err := enc.Encode(run); err != nil {
			return err
		}
	}
	return nil
}
