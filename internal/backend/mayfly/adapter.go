package mayfly

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// Adapter runs the mayfly library as an Optimizer.
type Adapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewAdapter returns the default Factory implementation.
func NewAdapter(maxIters, popSize int, seed int64) Optimizer {
	return &Adapter{maxIters: maxIters, popSize: popSize, seed: seed}
}

// Run minimizes eval. The library only supports one scalar box for every
// coordinate, so lower[0] and upper[0] are used.
func (a *Adapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	cfg := mayfly.NewDefaultConfig()
	cfg.ObjectiveFunc = eval
	cfg.ProblemSize = dim
	cfg.MaxIterations = a.maxIters
	cfg.NPop = a.popSize
	cfg.LowerBound = lower[0]
	cfg.UpperBound = upper[0]
	cfg.Rand = rand.New(rand.NewSource(a.seed))

	res, err := mayfly.Optimize(cfg)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly: %w", err)
	}
	return res.GlobalBest.Position, res.GlobalBest.Cost, nil
}
