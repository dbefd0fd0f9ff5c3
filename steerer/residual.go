package steerer

import (
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
)

// residualFunctions are the functions a residual policy formula may
// call, mirroring the small, explicit function table
// fbclock/daemon/math.go registers for its M/W/Drift expressions rather
// than exposing govaluate's full builtin surface.
var residualFunctions = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs: want 1 argument, got %d", len(args))
		}
		return math.Abs(args[0].(float64)), nil
	},
	"sqrt": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("sqrt: want 1 argument, got %d", len(args))
		}
		return math.Sqrt(args[0].(float64)), nil
	},
	"sign": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("sign: want 1 argument, got %d", len(args))
		}
		v := args[0].(float64)
		switch {
		case v > 0:
			return 1.0, nil
		case v < 0:
			return -1.0, nil
		default:
			return 0.0, nil
		}
	},
}

var residualVariables = map[string]bool{
	"delta": true,
	"omega": true,
	"p00":   true,
	"p11":   true,
}

// ResidualPolicy is a compiled residual-correction formula, evaluated
// against the combined estimate each time the Steerer applies a Slew or
// Frequency-only decision (spec §6's residual_offset_policy /
// residual_frequency_policy knobs).
type ResidualPolicy struct {
	Formula string
	expr    *govaluate.EvaluableExpression
}

// NewResidualPolicy compiles formula, rejecting any variable outside
// {delta, omega, p00, p11}.
func NewResidualPolicy(formula string) (*ResidualPolicy, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(formula, residualFunctions)
	if err != nil {
		return nil, fmt.Errorf("steerer: compiling residual policy %q: %w", formula, err)
	}
	for _, v := range expr.Vars() {
		if !residualVariables[v] {
			return nil, fmt.Errorf("steerer: residual policy %q uses unsupported variable %q", formula, v)
		}
	}
	return &ResidualPolicy{Formula: formula, expr: expr}, nil
}

// Evaluate runs the policy against the current combined estimate.
func (p *ResidualPolicy) Evaluate(delta, omega, p00, p11 float64) (float64, error) {
	result, err := p.expr.Evaluate(map[string]interface{}{
		"delta": delta,
		"omega": omega,
		"p00":   p00,
		"p11":   p11,
	})
	if err != nil {
		return 0, fmt.Errorf("steerer: evaluating residual policy %q: %w", p.Formula, err)
	}
	v, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("steerer: residual policy %q did not evaluate to a number", p.Formula)
	}
	return v, nil
}

// DefaultResidualOffsetPolicy is the spec §4.4 default for Slew: leave
// sign(Δ)·sqrt(P00) of the offset behind rather than slewing to zero.
const DefaultResidualOffsetPolicy = "sign(delta) * sqrt(p00)"

// DefaultResidualFrequencyPolicy is the spec §4.4 default for
// Frequency-only: no residual, apply -ω in full.
const DefaultResidualFrequencyPolicy = "0"
