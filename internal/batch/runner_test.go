package batch

import (
	"context"
	"errors"
	"math"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/qpbridge/internal/assemble"
	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/problemfile"
	"github.com/cwbudde/qpbridge/internal/solver"
	"github.com/cwbudde/qpbridge/internal/store"
)

func TestRunSolvesFilesInOrder(t *testing.T) {
	r := NewRunner("osqp", WithConcurrency(3))
	paths := []string{
		"testdata/box.yaml",
		"testdata/infeasible.yaml",
		"testdata/missing.yaml",
		"testdata/broken.yaml",
	}

	outcomes, err := r.Run(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, outcomes, len(paths))

	box := outcomes[0]
	require.NoError(t, box.Err)
	assert.Equal(t, StateCompleted, box.Job.State)
	assert.Equal(t, "box", box.Job.Name)
	assert.Equal(t, solver.Success, box.Result.Status())
	assert.InDelta(t, 4, box.Result.OptimalCost(), 1e-4)
	x, err := box.Result.Solution(box.Problem.Vars["x"])
	require.NoError(t, err)
	assert.InDelta(t, 1, x, 1e-4)

	inf := outcomes[1]
	require.NoError(t, inf.Err)
	assert.Equal(t, StateCompleted, inf.Job.State)
	assert.Equal(t, solver.PrimalInfeasible.String(), inf.Job.Result)
	assert.True(t, math.IsInf(float64(inf.Job.Cost), 1))

	missing := outcomes[2]
	assert.Equal(t, StateFailed, missing.Job.State)
	assert.ErrorIs(t, missing.Err, os.ErrNotExist)
	assert.Nil(t, missing.Result)

	broken := outcomes[3]
	assert.Equal(t, StateFailed, broken.Job.State)
	assert.ErrorIs(t, broken.Err, problemfile.ErrInvalidFile)
	assert.Contains(t, broken.Job.Error, "undeclared variable")

	assert.Equal(t, map[JobState]int{StateCompleted: 2, StateFailed: 2}, r.Jobs().Count())
}

func TestRunPersistsRunsAndTraces(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	var call options.Set
	call.Put("osqp", "check_termination", 5)
	r := NewRunner("osqp", WithStore(st), WithCallOptions(call))

	outcomes, err := r.Run(context.Background(), []string{"testdata/box.yaml"})
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)
	assert.True(t, outcomes[0].Job.Saved)

	run, err := st.LoadRun(outcomes[0].Job.ID)
	require.NoError(t, err)
	assert.Equal(t, "box", run.Name)
	assert.Equal(t, "testdata/box.yaml", run.Source)
	assert.Equal(t, "osqp", run.Backend)
	assert.Equal(t, "success", run.Result)
	assert.Equal(t, "solved", run.StatusText)
	assert.Equal(t, []string{"x"}, run.Variables)
	assert.InDelta(t, 1, float64(run.Solution[0]), 1e-4)
	assert.Equal(t, map[string]string{"check_termination": "5"}, run.Options)

	tr, err := store.NewTraceReader(st.BaseDir(), run.ID)
	require.NoError(t, err)
	defer tr.Close()
	entries, err := tr.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, 5, entries[0].Iteration)
	assert.Equal(t, run.Iterations, entries[len(entries)-1].Iteration)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner("osqp")
	outcomes, err := r.Run(ctx, []string{"testdata/box.yaml", "testdata/box.yaml"})
	require.ErrorIs(t, err, context.Canceled)
	for _, o := range outcomes {
		assert.Equal(t, StateCancelled, o.Job.State)
		assert.ErrorIs(t, o.Err, context.Canceled)
		assert.True(t, o.Job.StartTime.IsZero(), "cancelled job never started")
	}
}

func TestRunStampsStartTimeWhenRunning(t *testing.T) {
	r := NewRunner("osqp", WithConcurrency(1))
	outcomes, err := r.Run(context.Background(), []string{"testdata/box.yaml", "testdata/box.yaml"})
	require.NoError(t, err)

	first, second := outcomes[0].Job, outcomes[1].Job
	require.False(t, first.StartTime.IsZero())
	require.NotNil(t, first.EndTime)
	require.NotNil(t, second.EndTime)
	// the second job waited in the queue while the first one ran
	assert.False(t, second.StartTime.Before(*first.EndTime))
	assert.False(t, second.EndTime.Before(second.StartTime))
}

func TestRunUnknownBackendFailsEveryJob(t *testing.T) {
	r := NewRunner("gurobi")
	outcomes, err := r.Run(context.Background(), []string{"testdata/box.yaml"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcomes[0].Job.State)
	assert.Error(t, outcomes[0].Err)
}

// slowBackend solves everything to x = 0 after a short pause and records how
// many instances were solving at once.
type slowBackend struct {
	active, peak *atomic.Int32
	fail         bool
}

func (slowBackend) ID() options.SolverID            { return "slow" }
func (slowBackend) Available() bool                 { return true }
func (slowBackend) KnownOptions() []string          { return nil }
func (slowBackend) StatusTable() solver.StatusTable { return solver.StatusTable{1: solver.Success} }

func (b slowBackend) Setup(qp *assemble.QP, _ options.Values) (solver.Instance, error) {
	return &slowInstance{b: b, n: qp.N}, nil
}

type slowInstance struct {
	b slowBackend
	n int
}

func (*slowInstance) UpdateBounds(_, _ []float64) error { return nil }

func (s *slowInstance) Solve([]float64) (solver.Raw, error) {
	n := s.b.active.Add(1)
	defer s.b.active.Add(-1)
	for {
		p := s.b.peak.Load()
		if n <= p || s.b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	if s.b.fail {
		return solver.Raw{}, errors.New("boom")
	}
	return solver.Raw{Status: 1, Iterations: 1, X: make([]float64, s.n)}, nil
}

func TestRunRespectsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	factory := func(string, logr.Logger) (solver.Backend, error) {
		return slowBackend{active: &active, peak: &peak}, nil
	}
	r := NewRunner("slow", WithConcurrency(2), WithBackendFactory(factory))

	paths := make([]string, 6)
	for i := range paths {
		paths[i] = "testdata/box.yaml"
	}
	outcomes, err := r.Run(context.Background(), paths)
	require.NoError(t, err)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		assert.Equal(t, solver.Success, o.Result.Status())
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRunBackendFailureIsSavedAsFailed(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	var active, peak atomic.Int32
	factory := func(string, logr.Logger) (solver.Backend, error) {
		return slowBackend{active: &active, peak: &peak, fail: true}, nil
	}
	r := NewRunner("slow", WithBackendFactory(factory), WithStore(st))

	outcomes, err := r.Run(context.Background(), []string{"testdata/box.yaml"})
	require.NoError(t, err)
	o := outcomes[0]
	require.ErrorIs(t, o.Err, solver.ErrSolverFailure)
	assert.Equal(t, StateFailed, o.Job.State)
	require.NotNil(t, o.Result)
	assert.Equal(t, solver.SolverError, o.Result.Status())

	run, err := st.LoadRun(o.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, "solver_error", run.Result)
	assert.Contains(t, run.Error, "boom")
	assert.True(t, math.IsNaN(float64(run.OptimalCost)))
}
