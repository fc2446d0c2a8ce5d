package store

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Float is a float64 that survives JSON when it is NaN or infinite.
// Non-finite values are encoded as the strings "NaN", "+Inf" and "-Inf".
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Floats converts a vector for storage.
func Floats(v []float64) []Float {
	out := make([]Float, len(v))
	for i, x := range v {
		out[i] = Float(x)
	}
	return out
}

// Run is the persisted outcome of one solve.
type Run struct {
	// ID is the unique identifier of the run
	ID string `json:"id"`

	// Name is the problem name, usually the file name without extension
	Name string `json:"name"`

	// Source is the problem file path, if any
	Source string `json:"source,omitempty"`

	Backend    string `json:"backend"`
	Result     string `json:"result"`
	RawStatus  int    `json:"rawStatus"`
	StatusText string `json:"statusText,omitempty"`
	Iterations int    `json:"iterations"`

	// OptimalCost is ±Inf for infeasible/unbounded and NaN for failed runs
	OptimalCost Float `json:"optimalCost"`

	// Variables and Solution are parallel, indexed by variable id
	Variables []string `json:"variables"`
	Solution  []Float  `json:"solution"`

	// Options holds the call-scoped options given on the command line
	Options map[string]string `json:"options,omitempty"`

	// Inconsistent is set when the reported and reconstructed costs disagree
	Inconsistent bool `json:"inconsistent,omitempty"`

	SolveTime time.Duration `json:"solveTimeNs"`
	Timestamp time.Time     `json:"timestamp"`

	// Error holds the Go error of a failed dispatch
	Error string `json:"error,omitempty"`
}

// RunInfo contains metadata about a run without the solution vector.
type RunInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Backend     string    `json:"backend"`
	Result      string    `json:"result"`
	Iterations  int       `json:"iterations"`
	OptimalCost Float     `json:"optimalCost"`
	Timestamp   time.Time `json:"timestamp"`
}

// ToInfo converts a full Run to RunInfo (metadata only).
func (r *Run) ToInfo() RunInfo {
	return RunInfo{
		ID:          r.ID,
		Name:        r.Name,
		Backend:     r.Backend,
		Result:      r.Result,
		Iterations:  r.Iterations,
		OptimalCost: r.OptimalCost,
		Timestamp:   r.Timestamp,
	}
}

// Validate checks if the run has valid data.
func (r *Run) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if r.Backend == "" {
		return &ValidationError{Field: "Backend", Reason: "cannot be empty"}
	}
	if r.Result == "" {
		return &ValidationError{Field: "Result", Reason: "cannot be empty"}
	}
	if r.Iterations < 0 {
		return &ValidationError{Field: "Iterations", Reason: "cannot be negative"}
	}
	if len(r.Solution) != len(r.Variables) {
		return &ValidationError{Field: "Solution", Reason: "length must match Variables"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents a run validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
