package osqp

import (
	"errors"
	"time"

	"github.com/cwbudde/qpbridge/internal/options"
)

// Settings controls the ADMM iteration.
type Settings struct {
	Rho                  float64
	Sigma                float64
	Alpha                float64
	EpsAbs               float64
	EpsRel               float64
	EpsPrimInf           float64
	EpsDualInf           float64
	MaxIter              int
	CheckTermination     int
	AdaptiveRho          bool
	AdaptiveRhoTolerance float64
	Polish               bool
	Delta                float64
	PolishRefineIter     int
	WarmStart            bool
	TimeLimit            time.Duration
	Verbose              bool
}

// DefaultSettings returns the settings used when no option overrides them.
func DefaultSettings() Settings {
	return Settings{
		Rho:                  0.1,
		Sigma:                1e-6,
		Alpha:                1.6,
		EpsAbs:               1e-5,
		EpsRel:               1e-5,
		EpsPrimInf:           1e-5,
		EpsDualInf:           1e-5,
		MaxIter:              4000,
		CheckTermination:     25,
		AdaptiveRho:          true,
		AdaptiveRhoTolerance: 5,
		Polish:               true,
		Delta:                1e-6,
		PolishRefineIter:     3,
		WarmStart:            true,
	}
}

var knownOptions = []string{
	"rho", "sigma", "alpha",
	"eps_abs", "eps_rel", "eps_prim_inf", "eps_dual_inf",
	"max_iter", "check_termination",
	"adaptive_rho", "adaptive_rho_tolerance",
	"polish", "delta", "polish_refine_iter",
	"warm_start", "time_limit", "verbose",
}

// settingsFrom overlays resolved option values on the defaults.
func settingsFrom(v options.Values) (Settings, error) {
	s := DefaultSettings()
	var errs []error
	f := func(dst *float64, name string) {
		val, err := v.Float(name, *dst)
		errs = append(errs, err)
		*dst = val
	}
	i := func(dst *int, name string) {
		val, err := v.Int(name, *dst)
		errs = append(errs, err)
		*dst = val
	}
	b := func(dst *bool, name string) {
		val, err := v.Bool(name, *dst)
		errs = append(errs, err)
		*dst = val
	}

	f(&s.Rho, "rho")
	f(&s.Sigma, "sigma")
	f(&s.Alpha, "alpha")
	f(&s.EpsAbs, "eps_abs")
	f(&s.EpsRel, "eps_rel")
	f(&s.EpsPrimInf, "eps_prim_inf")
	f(&s.EpsDualInf, "eps_dual_inf")
	i(&s.MaxIter, "max_iter")
	i(&s.CheckTermination, "check_termination")
	b(&s.AdaptiveRho, "adaptive_rho")
	f(&s.AdaptiveRhoTolerance, "adaptive_rho_tolerance")
	b(&s.Polish, "polish")
	f(&s.Delta, "delta")
	i(&s.PolishRefineIter, "polish_refine_iter")
	b(&s.WarmStart, "warm_start")
	b(&s.Verbose, "verbose")

	seconds, err := v.Float("time_limit", 0)
	errs = append(errs, err)
	s.TimeLimit = time.Duration(seconds * float64(time.Second))

	if err := errors.Join(errs...); err != nil {
		return s, err
	}
	return s, s.validate()
}

func (s Settings) validate() error {
	switch {
	case s.Rho <= 0:
		return errors.New("rho must be positive")
	case s.Sigma <= 0:
		return errors.New("sigma must be positive")
	case s.Alpha <= 0 || s.Alpha >= 2:
		return errors.New("alpha must be in (0, 2)")
	case s.EpsAbs < 0 || s.EpsRel < 0:
		return errors.New("eps_abs and eps_rel must not be negative")
	case s.EpsAbs == 0 && s.EpsRel == 0:
		return errors.New("eps_abs and eps_rel must not both be zero")
	case s.EpsPrimInf < 0 || s.EpsDualInf < 0:
		return errors.New("infeasibility tolerances must not be negative")
	case s.MaxIter <= 0:
		return errors.New("max_iter must be positive")
	case s.CheckTermination < 0:
		return errors.New("check_termination must not be negative")
	case s.AdaptiveRhoTolerance < 1:
		return errors.New("adaptive_rho_tolerance must be at least 1")
	case s.Delta <= 0:
		return errors.New("delta must be positive")
	case s.PolishRefineIter < 0:
		return errors.New("polish_refine_iter must not be negative")
	case s.TimeLimit < 0:
		return errors.New("time_limit must not be negative")
	}
	return nil
}
