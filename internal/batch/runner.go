package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/qpbridge/internal/backend/osqp"
	"github.com/cwbudde/qpbridge/internal/backends"
	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/problemfile"
	"github.com/cwbudde/qpbridge/internal/solver"
	"github.com/cwbudde/qpbridge/internal/store"
)

// BackendFactory creates the backend for one job.
type BackendFactory func(name string, log logr.Logger) (solver.Backend, error)

// Outcome is the result of one job. Result is nil when the job failed
// before the backend was called.
type Outcome struct {
	Job     Job
	Problem *problemfile.Loaded
	Result  *solver.Result
	Err     error
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds the number of jobs solved at once. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = max(n, 1) }
}

// WithDefaults sets the global option scope of every job's Solver.
func WithDefaults(s options.Set) Option {
	return func(r *Runner) { r.defaults = s.Clone() }
}

// WithCallOptions sets the call option scope passed to every solve.
func WithCallOptions(s options.Set) Option {
	return func(r *Runner) { r.call = s.Clone() }
}

// WithStore persists every dispatched run, including its residual trace.
func WithStore(st *store.FSStore) Option {
	return func(r *Runner) { r.store = st }
}

// WithRecorder attaches a solve observer to every Solver.
func WithRecorder(rec solver.Recorder) Option {
	return func(r *Runner) { r.rec = rec }
}

// WithLogger sets the logger. The default discards.
func WithLogger(log logr.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithBackendFactory replaces backends.New.
func WithBackendFactory(f BackendFactory) Option {
	return func(r *Runner) { r.newBackend = f }
}

// Runner solves problem files with a bounded worker pool. Every job gets its
// own Solver, so jobs share no backend state.
type Runner struct {
	backend     string
	concurrency int
	defaults    options.Set
	call        options.Set
	store       *store.FSStore
	rec         solver.Recorder
	log         logr.Logger
	newBackend  BackendFactory
	jobs        *Manager
}

// NewRunner creates a Runner for the named backend.
func NewRunner(backend string, opts ...Option) *Runner {
	r := &Runner{
		backend:     backend,
		concurrency: 1,
		log:         logr.Discard(),
		newBackend:  backends.New,
		jobs:        NewManager(),
	}
	for _, o := range opts {
		o(r)
	}
	r.jobs.events.log = r.log.WithName("events")
	return r
}

// Jobs returns the job manager.
func (r *Runner) Jobs() *Manager { return r.jobs }

// Run solves paths and returns one Outcome per path in the same order.
// Job failures are reported in the outcomes, not as an error. Cancelling ctx
// stops jobs that have not started yet; Run then returns ctx.Err().
func (r *Runner) Run(ctx context.Context, paths []string) ([]Outcome, error) {
	outcomes := make([]Outcome, len(paths))
	ids := make([]string, len(paths))
	for i, p := range paths {
		ids[i] = r.jobs.CreateJob(p).ID
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i := range paths {
		g.Go(func() error {
			outcomes[i] = r.runJob(ctx, ids[i])
			return nil
		})
	}
	g.Wait()

	for i, id := range ids {
		outcomes[i].Job, _ = r.jobs.GetJob(id)
	}
	return outcomes, ctx.Err()
}

func (r *Runner) runJob(ctx context.Context, id string) Outcome {
	if err := ctx.Err(); err != nil {
		r.jobs.finish(id, StateCancelled, nil)
		return Outcome{Err: err}
	}

	job, _ := r.jobs.GetJob(id)
	log := r.log.WithValues("job_id", id, "path", job.Path)
	r.jobs.UpdateJob(id, func(j *Job) {
		j.State = StateRunning
		j.StartTime = time.Now()
	})
	log.V(1).Info("Starting job")

	loaded, err := problemfile.Load(job.Path)
	if err != nil {
		log.Error(err, "Failed to load problem")
		r.jobs.finish(id, StateFailed, err)
		return Outcome{Err: err}
	}
	r.jobs.UpdateJob(id, func(j *Job) { j.Name = loaded.Name })

	backend, err := r.newBackend(r.backend, log)
	if err != nil {
		r.jobs.finish(id, StateFailed, err)
		return Outcome{Problem: loaded, Err: err}
	}

	s := solver.New(backend,
		solver.WithDefaults(r.defaults),
		solver.WithLogger(log),
		solver.WithRecorder(r.rec),
	)
	start := time.Now()
	res, err := s.Solve(loaded.Problem, loaded.InitialGuess, r.call)
	if res == nil {
		log.Error(err, "Solve rejected before dispatch")
		r.jobs.finish(id, StateFailed, err)
		return Outcome{Problem: loaded, Err: err}
	}

	r.jobs.UpdateJob(id, func(j *Job) {
		j.Result = res.Status().String()
		j.Cost = store.Float(res.OptimalCost())
		j.Iterations = res.Iterations()
	})

	if r.store != nil {
		if serr := r.save(id, job.Path, loaded, res, err, start); serr != nil {
			log.Error(serr, "Failed to save run")
			err = errors.Join(err, serr)
		} else {
			r.jobs.UpdateJob(id, func(j *Job) { j.Saved = true })
		}
	}

	state := StateCompleted
	if err != nil {
		state = StateFailed
	}
	r.jobs.finish(id, state, err)
	log.Info("Job finished",
		"state", state,
		"result", res.Status(),
		"cost", res.OptimalCost(),
		"iterations", res.Iterations(),
		"elapsed", time.Since(start),
	)
	return Outcome{Problem: loaded, Result: res, Err: err}
}

func (r *Runner) save(id, path string, loaded *problemfile.Loaded, res *solver.Result, solveErr error, start time.Time) error {
	run := NewRun(id, loaded, res, r.call)
	run.Source = path
	run.Timestamp = start
	if solveErr != nil {
		run.Error = solveErr.Error()
	}
	if err := r.store.SaveRun(run); err != nil {
		return err
	}

	d, err := solver.GetSolverDetails[osqp.Details](res)
	if err != nil || len(d.Trace) == 0 {
		return nil
	}
	return writeTrace(r.store.BaseDir(), id, d.Trace)
}

// NewRun converts a result into its stored form.
func NewRun(id string, loaded *problemfile.Loaded, res *solver.Result, call options.Set) *store.Run {
	run := &store.Run{
		ID:          id,
		Name:        loaded.Name,
		Backend:     string(res.SolverID()),
		Result:      res.Status().String(),
		RawStatus:   res.RawStatus(),
		StatusText:  statusText(res),
		Iterations:  res.Iterations(),
		OptimalCost: store.Float(res.OptimalCost()),
		Variables:   make([]string, len(res.Variables())),
		Solution:    store.Floats(res.SolutionVector()),
		SolveTime:   res.SolveTime(),
		Timestamp:   time.Now(),
	}
	for i, v := range res.Variables() {
		run.Variables[i] = v.String()
	}
	if vals := call.For(res.SolverID()); len(vals) > 0 {
		run.Options = make(map[string]string, len(vals))
		for k, v := range vals {
			run.Options[k] = cast.ToString(v)
		}
	}
	if res.CostMismatch() != nil {
		run.Inconsistent = true
	}
	return run
}

func statusText(res *solver.Result) string {
	if _, err := solver.GetSolverDetails[osqp.Details](res); err == nil {
		return osqp.StatusText(res.RawStatus())
	}
	return ""
}

func writeTrace(baseDir, id string, trace []osqp.TraceEntry) error {
	tw, err := store.NewTraceWriter(baseDir, id)
	if err != nil {
		return err
	}
	for _, e := range trace {
		entry := store.TraceEntry{
			Iteration: e.Iter,
			PrimalRes: store.Float(e.PrimalRes),
			DualRes:   store.Float(e.DualRes),
			Rho:       store.Float(e.Rho),
		}
		if err := tw.Write(entry); err != nil {
			tw.Close()
			return fmt.Errorf("write trace: %w", err)
		}
	}
	return tw.Close()
}
