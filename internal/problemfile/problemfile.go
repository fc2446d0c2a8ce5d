// Package problemfile reads quadratic programs from YAML (or JSON) files.
//
//	variables: [x, {name: y, count: 2}]
//	costs:
//	  - quadratic: [{vars: [x, x], coeff: 1}]
//	    linear: [{var: "y(0)", coeff: 4}]
//	    constant: 5
//	  - square: {terms: [{var: "y(0)", coeff: 1}, {var: "y(1)", coeff: 1}], constant: -2}
//	constraints:
//	  - {terms: [{var: x, coeff: 1}, {var: "y(1)", coeff: 2}], equal: 2}
//	  - {terms: [{var: x, coeff: 1}], lower: 0}
//	bounds:
//	  - {var: "y(0)", lower: -1, upper: 1}
//	options:
//	  osqp: {max_iter: 200}
//	initial_guess: {x: 0.5}
//
// Omitted constraint bounds are infinite; .inf and -.inf are accepted.
package problemfile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/program"
)

// ErrInvalidFile is returned for structurally valid YAML that does not
// describe a valid problem.
var ErrInvalidFile = errors.New("invalid problem file")

// File is the on-disk schema.
type File struct {
	Variables    []VariableSpec            `yaml:"variables"`
	Costs        []CostSpec                `yaml:"costs"`
	Constraints  []ConstraintSpec          `yaml:"constraints"`
	Bounds       []BoundSpec               `yaml:"bounds"`
	Options      map[string]map[string]any `yaml:"options"`
	InitialGuess map[string]float64        `yaml:"initial_guess"`
}

// VariableSpec declares one variable ("x") or a group ({name: y, count: 3}).
type VariableSpec struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

// UnmarshalYAML accepts a bare name or a mapping.
func (v *VariableSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		v.Name, v.Count = node.Value, 0
		return nil
	}
	type plain VariableSpec
	return node.Decode((*plain)(v))
}

// TermSpec is coeff·var.
type TermSpec struct {
	Var   string  `yaml:"var"`
	Coeff float64 `yaml:"coeff"`
}

// QuadTermSpec is coeff·vars[0]·vars[1].
type QuadTermSpec struct {
	Vars  []string `yaml:"vars"`
	Coeff float64  `yaml:"coeff"`
}

// SquareSpec is (Σ terms + constant)².
type SquareSpec struct {
	Terms    []TermSpec `yaml:"terms"`
	Constant float64    `yaml:"constant"`
}

// CostSpec is one cost. A cost with only linear terms and a constant is
// added as a linear cost.
type CostSpec struct {
	Quadratic []QuadTermSpec `yaml:"quadratic"`
	Linear    []TermSpec     `yaml:"linear"`
	Constant  float64        `yaml:"constant"`
	Square    *SquareSpec    `yaml:"square"`
}

// ConstraintSpec is lower ≤ Σ terms ≤ upper, or Σ terms == equal.
type ConstraintSpec struct {
	Terms []TermSpec `yaml:"terms"`
	Lower *float64   `yaml:"lower"`
	Upper *float64   `yaml:"upper"`
	Equal *float64   `yaml:"equal"`
}

// BoundSpec is lower ≤ var ≤ upper.
type BoundSpec struct {
	Var   string   `yaml:"var"`
	Lower *float64 `yaml:"lower"`
	Upper *float64 `yaml:"upper"`
}

// Loaded is a built problem together with its variable names.
type Loaded struct {
	Name    string
	Problem *program.Problem
	Vars    map[string]program.Variable
	// Order lists variable names by id.
	Order []string
	// InitialGuess is nil when the file has none; unnamed variables start at 0.
	InitialGuess []float64
}

// Load reads and builds the problem at path.
func Load(path string) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read problem file: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return l, nil
}

// Parse builds a problem from file contents.
func Parse(data []byte) (*Loaded, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return f.Build()
}

// Build declares everything in f on a fresh problem.
func (f *File) Build() (*Loaded, error) {
	l := &Loaded{Problem: program.New(), Vars: make(map[string]program.Variable)}
	prob := l.Problem

	declare := func(name string) error {
		if name == "" {
			return fmt.Errorf("%w: empty variable name", ErrInvalidFile)
		}
		if _, dup := l.Vars[name]; dup {
			return fmt.Errorf("%w: variable %q declared twice", ErrInvalidFile, name)
		}
		l.Vars[name] = prob.NewVariable(name)
		l.Order = append(l.Order, name)
		return nil
	}
	for _, v := range f.Variables {
		if v.Count <= 0 {
			if err := declare(v.Name); err != nil {
				return nil, err
			}
			continue
		}
		for i := 0; i < v.Count; i++ {
			if err := declare(fmt.Sprintf("%s(%d)", v.Name, i)); err != nil {
				return nil, err
			}
		}
	}

	lookup := func(name string) (program.Variable, error) {
		v, ok := l.Vars[name]
		if !ok {
			return program.Variable{}, fmt.Errorf("%w: undeclared variable %q", ErrInvalidFile, name)
		}
		return v, nil
	}
	terms := func(specs []TermSpec) ([]program.Term, error) {
		out := make([]program.Term, 0, len(specs))
		for _, s := range specs {
			v, err := lookup(s.Var)
			if err != nil {
				return nil, err
			}
			out = append(out, program.T(s.Coeff, v))
		}
		return out, nil
	}

	for i, c := range f.Costs {
		if err := addCost(prob, c, lookup, terms); err != nil {
			return nil, fmt.Errorf("cost %d: %w", i, err)
		}
	}

	for i, c := range f.Constraints {
		ts, err := terms(c.Terms)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i, err)
		}
		lo, hi := math.Inf(-1), math.Inf(1)
		switch {
		case c.Equal != nil && (c.Lower != nil || c.Upper != nil):
			return nil, fmt.Errorf("constraint %d: %w: equal excludes lower/upper", i, ErrInvalidFile)
		case c.Equal != nil:
			lo, hi = *c.Equal, *c.Equal
		default:
			if c.Lower != nil {
				lo = *c.Lower
			}
			if c.Upper != nil {
				hi = *c.Upper
			}
		}
		if err := prob.AddLinearConstraint(ts, lo, hi); err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i, err)
		}
	}

	for i, b := range f.Bounds {
		v, err := lookup(b.Var)
		if err != nil {
			return nil, fmt.Errorf("bound %d: %w", i, err)
		}
		lo, hi := math.Inf(-1), math.Inf(1)
		if b.Lower != nil {
			lo = *b.Lower
		}
		if b.Upper != nil {
			hi = *b.Upper
		}
		if err := prob.AddBoundingBox(v, lo, hi); err != nil {
			return nil, fmt.Errorf("bound %d: %w", i, err)
		}
	}

	for backend, opts := range f.Options {
		for name, value := range opts {
			prob.SetSolverOption(options.SolverID(backend), name, value)
		}
	}

	if len(f.InitialGuess) > 0 {
		l.InitialGuess = make([]float64, prob.NumVars())
		for name, value := range f.InitialGuess {
			v, err := lookup(name)
			if err != nil {
				return nil, fmt.Errorf("initial guess: %w", err)
			}
			l.InitialGuess[v.ID()] = value
		}
	}
	return l, nil
}

func addCost(
	prob *program.Problem,
	c CostSpec,
	lookup func(string) (program.Variable, error),
	terms func([]TermSpec) ([]program.Term, error),
) error {
	if c.Square != nil {
		if len(c.Quadratic) > 0 || len(c.Linear) > 0 || c.Constant != 0 {
			return fmt.Errorf("%w: square excludes other cost fields", ErrInvalidFile)
		}
		ts, err := terms(c.Square.Terms)
		if err != nil {
			return err
		}
		return prob.AddQuadraticCost(program.Square(program.Expr(c.Square.Constant, ts...)))
	}

	lin, err := terms(c.Linear)
	if err != nil {
		return err
	}
	if len(c.Quadratic) == 0 {
		return prob.AddLinearCost(program.LinearCost{Terms: lin, Constant: c.Constant})
	}

	quad := make([]program.QuadTerm, 0, len(c.Quadratic))
	for _, q := range c.Quadratic {
		if len(q.Vars) != 2 {
			return fmt.Errorf("%w: quadratic term needs exactly two vars, got %d", ErrInvalidFile, len(q.Vars))
		}
		a, err := lookup(q.Vars[0])
		if err != nil {
			return err
		}
		b, err := lookup(q.Vars[1])
		if err != nil {
			return err
		}
		quad = append(quad, program.Q(q.Coeff, a, b))
	}
	return prob.AddQuadraticCost(program.QuadraticCost{Quad: quad, Linear: lin, Constant: c.Constant})
}
