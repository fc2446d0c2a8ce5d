package mayfly

// Optimizer is a derivative-free minimizer over a box. It returns the best
// point found and its objective value.
type Optimizer interface {
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error)
}

// Factory builds an Optimizer for one solve.
type Factory func(maxIters, popSize int, seed int64) Optimizer
