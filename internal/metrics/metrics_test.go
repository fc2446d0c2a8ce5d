package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSolve(t *testing.T) {
	r := NewRecorder()
	r.ObserveSolve("osqp", "success", 50, 3*time.Millisecond)
	r.ObserveSolve("osqp", "success", 75, time.Millisecond)
	r.ObserveSolve("osqp", "primal_infeasible", 100, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.solves.WithLabelValues("osqp", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.solves.WithLabelValues("osqp", "primal_infeasible")))

	expected := `
# HELP qpbridge_solves_total Number of finished solves by backend and result.
# TYPE qpbridge_solves_total counter
qpbridge_solves_total{backend="osqp",result="primal_infeasible"} 1
qpbridge_solves_total{backend="osqp",result="success"} 2
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "qpbridge_solves_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(r.iterations))
}

func TestWriteFile(t *testing.T) {
	r := NewRecorder()
	r.ObserveSolve("mayfly", "success", 100, time.Second)

	path := filepath.Join(t.TempDir(), "qpbridge.prom")
	require.NoError(t, r.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `qpbridge_solves_total{backend="mayfly",result="success"} 1`)
	assert.Contains(t, string(data), "qpbridge_solve_duration_seconds_count")
}
