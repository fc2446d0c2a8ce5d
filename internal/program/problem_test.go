package program

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestNewContinuousVariables(t *testing.T) {
	p := New()
	x := p.NewContinuousVariables(3, "x")
	y := p.NewVariable("y")

	if p.NumVars() != 4 {
		t.Fatalf("NumVars = %d, want 4", p.NumVars())
	}
	for i, v := range x {
		if v.ID() != i {
			t.Errorf("x[%d].ID() = %d", i, v.ID())
		}
	}
	if y.ID() != 3 {
		t.Errorf("y.ID() = %d, want 3", y.ID())
	}
	if got := x[1].String(); got != "x(1)" {
		t.Errorf("x[1].String() = %q", got)
	}

	anon := p.NewContinuousVariables(1, "")
	if got := anon[0].String(); got != "x4" {
		t.Errorf("anonymous name = %q, want x4", got)
	}
}

func TestForeignVariableRejected(t *testing.T) {
	p := New()
	other := New()
	x := p.NewContinuousVariables(1, "x")
	foreign := other.NewContinuousVariables(1, "z")

	tests := []struct {
		name string
		add  func() error
	}{
		{"quadratic", func() error {
			return p.AddQuadraticCost(QuadraticCost{Quad: []QuadTerm{Q(1, x[0], foreign[0])}})
		}},
		{"quadratic linear part", func() error {
			return p.AddQuadraticCost(QuadraticCost{Linear: []Term{T(1, foreign[0])}})
		}},
		{"linear", func() error {
			return p.AddLinearCost(LinearCost{Terms: []Term{T(1, foreign[0])}})
		}},
		{"constraint", func() error {
			return p.AddLinearConstraint([]Term{T(1, x[0]), T(1, foreign[0])}, 0, 1)
		}},
		{"box", func() error { return p.AddBoundingBox(foreign[0], 0, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.add()
			if !errors.Is(err, ErrUnknownVariable) {
				t.Fatalf("err = %v, want ErrUnknownVariable", err)
			}
			var uv *UnknownVariableError
			if !errors.As(err, &uv) || uv.Var != foreign[0] {
				t.Errorf("error does not carry the foreign variable: %v", err)
			}
		})
	}

	// the problem stays usable and unchanged
	if len(p.QuadraticCosts()) != 0 || len(p.LinearCosts()) != 0 || len(p.Constraints()) != 0 {
		t.Error("failed declarations must not modify the problem")
	}
	if err := p.AddBoundingBox(x[0], 0, 1); err != nil {
		t.Fatalf("AddBoundingBox after failure: %v", err)
	}
}

func TestInvalidBounds(t *testing.T) {
	p := New()
	x := p.NewVariable("x")
	inf := math.Inf(1)

	for _, b := range [][2]float64{{2, 1}, {math.NaN(), 0}, {0, math.NaN()}, {inf, inf}, {-inf, -inf}} {
		if err := p.AddBoundingBox(x, b[0], b[1]); !errors.Is(err, ErrInvalidBounds) {
			t.Errorf("bounds %v: err = %v, want ErrInvalidBounds", b, err)
		}
	}
	if err := p.AddBoundingBox(x, -inf, inf); err != nil {
		t.Errorf("free row rejected: %v", err)
	}
	if err := p.SetConstraintBounds(0, 3, 1); !errors.Is(err, ErrInvalidBounds) {
		t.Errorf("SetConstraintBounds err = %v", err)
	}
	if err := p.SetConstraintBounds(5, 0, 1); err == nil {
		t.Error("expected out of range error")
	}
	if err := p.SetConstraintBounds(0, 1, 1); err != nil {
		t.Fatalf("SetConstraintBounds: %v", err)
	}
	if !p.Constraints()[0].IsEquality() {
		t.Error("row should now be an equality")
	}
}

func TestSquare(t *testing.T) {
	p := New()
	x := p.NewContinuousVariables(2, "x")

	got := Square(Expr(-2, T(1, x[0]), T(3, x[1])))
	want := QuadraticCost{
		Quad: []QuadTerm{
			Q(1, x[0], x[0]),
			Q(6, x[0], x[1]),
			Q(9, x[1], x[1]),
		},
		Linear:   []Term{T(-4, x[0]), T(-12, x[1])},
		Constant: 4,
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(Variable{})); diff != "" {
		t.Errorf("Square mismatch (-want +got):\n%s", diff)
	}
}

func TestExprConstraintMovesConstant(t *testing.T) {
	p := New()
	x := p.NewVariable("x")
	if err := p.AddExprConstraint(Expr(2, T(1, x)), 0, 5); err != nil {
		t.Fatal(err)
	}
	got := p.Constraints()[0]
	if got.Lower != -2 || got.Upper != 3 {
		t.Errorf("bounds = [%g, %g], want [-2, 3]", got.Lower, got.Upper)
	}
}

func TestSolverOptionsAreCopied(t *testing.T) {
	p := New()
	p.SetSolverOption("osqp", "max_iter", 10)

	opts := p.SolverOptions()
	opts.Put("osqp", "max_iter", 99)

	want := map[string]any{"max_iter": 10}
	if diff := cmp.Diff(want, p.SolverOptions().For("osqp"), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("solver options changed through copy (-want +got):\n%s", diff)
	}
}
