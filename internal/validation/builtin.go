package validation

import (
	"fmt"
	"math"
	"strings"
)

// bound is checkMin / checkMax. A single limit applies to every element;
// otherwise limits are matched element by element.
type bound struct {
	variable string
	limits   []float64
	upper    bool
}

func newBound(variable string, params []any, upper bool) (*bound, error) {
	limits, err := numbers("parameters", params)
	if err != nil {
		return nil, err
	}
	if len(limits) == 0 {
		return nil, fmt.Errorf("a limit is required")
	}
	return &bound{variable: variable, limits: limits, upper: upper}, nil
}

func (b *bound) Expression() string {
	fun := FunCheckMin
	if b.upper {
		fun = FunCheckMax
	}
	parts := make([]string, len(b.limits))
	for i, l := range b.limits {
		parts[i] = fmt.Sprint(l)
	}
	return fmt.Sprintf("%s(%s, %s)", fun, b.variable, strings.Join(parts, ", "))
}

func (b *bound) Test(env Env) (bool, error) {
	v, ok := env.Value(b.variable)
	if !ok {
		return false, fmt.Errorf("unknown variable %s", b.variable)
	}
	values, err := numbers(b.variable, v)
	if err != nil {
		return false, err
	}
	for i, x := range values {
		limit := b.limits[0]
		if len(b.limits) > 1 {
			if i >= len(b.limits) {
				return false, fmt.Errorf("%s has more elements than limits", b.variable)
			}
			limit = b.limits[i]
		}
		if b.upper && x > limit {
			return false, nil
		}
		if !b.upper && x < limit {
			return false, nil
		}
	}
	return true, nil
}

type numericRange struct {
	min, max float64
	integral bool
}

var typeRanges = map[string]numericRange{
	"int8":    {math.MinInt8, math.MaxInt8, true},
	"int16":   {math.MinInt16, math.MaxInt16, true},
	"int32":   {math.MinInt32, math.MaxInt32, true},
	"int64":   {math.MinInt64, math.MaxInt64, true},
	"uint8":   {0, math.MaxUint8, true},
	"uint16":  {0, math.MaxUint16, true},
	"uint32":  {0, math.MaxUint32, true},
	"uint64":  {0, math.MaxUint64, true},
	"float32": {-math.MaxFloat32, math.MaxFloat32, false},
	"float64": {-math.MaxFloat64, math.MaxFloat64, false},
}

// typeCheck is checkType: every element must fit the declared numeric type.
// Non-numeric types always pass.
type typeCheck struct {
	variable string
	typeName string
}

func (c *typeCheck) Expression() string {
	return fmt.Sprintf("%s(%s, %s)", FunCheckType, c.variable, c.typeName)
}

func (c *typeCheck) Test(env Env) (bool, error) {
	r, numeric := typeRanges[c.typeName]
	if !numeric {
		return true, nil
	}
	v, ok := env.Value(c.variable)
	if !ok {
		return false, fmt.Errorf("unknown variable %s", c.variable)
	}
	values, err := numbers(c.variable, v)
	if err != nil {
		return false, nil
	}
	for _, x := range values {
		if math.IsInf(x, 0) || x < r.min || x > r.max {
			return false, nil
		}
		if r.integral && x != math.Trunc(x) {
			return false, nil
		}
	}
	return true, nil
}
