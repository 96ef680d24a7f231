// Package validation evaluates the predicates attached to variables: the
// built-in range and type checks and constraint expressions relating several
// variables.
package validation

import (
	"fmt"
	"math"
	"strconv"

	"github.com/dyluth/hieratika/pkg/hieratika"
)

// Built-in predicate names as sent by the server.
const (
	FunCheckMin  = "checkMin"
	FunCheckMax  = "checkMax"
	FunCheckType = "checkType"
)

// Env resolves variable names to their current values.
type Env interface {
	Value(name string) (any, bool)
}

// Predicate is one validation of a variable value.
type Predicate interface {
	// Expression is the text shown when the predicate fails.
	Expression() string
	// Test reports whether the values in env satisfy the predicate.
	Test(env Env) (bool, error)
}

// Run evaluates preds in order and returns the index and predicate of the
// first failure, or -1 and nil when all pass. Predicates after the first
// failure are not evaluated. An evaluation error counts as a failure.
func Run(preds []Predicate, env Env) (int, Predicate) {
	for i, p := range preds {
		ok, err := p.Test(env)
		if err != nil || !ok {
			return i, p
		}
	}
	return -1, nil
}

// Build turns the server validations of variable into predicates.
// Constraint expressions are compiled with c.
func Build(c *Compiler, variable, typeName string, validations []hieratika.Validation) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(validations))
	for _, v := range validations {
		var (
			p   Predicate
			err error
		)
		switch v.Fun {
		case FunCheckMin:
			p, err = newBound(variable, v.Parameters, false)
		case FunCheckMax:
			p, err = newBound(variable, v.Parameters, true)
		case FunCheckType:
			p = &typeCheck{variable: variable, typeName: typeName}
		default:
			p, err = c.Compile(v.Fun)
		}
		if err != nil {
			return nil, fmt.Errorf("validation %q of %s: %w", v.Fun, variable, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// MapEnv is an Env backed by a map.
type MapEnv map[string]any

// Value implements Env.
func (m MapEnv) Value(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Elements flattens a scalar, array or matrix value into its elements in
// row-major order. A nil value has no elements.
func Elements(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if inner, ok := e.([]any); ok {
				out = append(out, Elements(inner)...)
				continue
			}
			out = append(out, e)
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	}
	return []any{v}
}

// Number converts a numeric element to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case fmt.Stringer:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	}
	return 0, false
}

// numbers converts every element of v, failing on the first non-numeric one.
func numbers(name string, v any) ([]float64, error) {
	elems := Elements(v)
	out := make([]float64, len(elems))
	for i, e := range elems {
		f, ok := Number(e)
		if !ok || math.IsNaN(f) {
			return nil, fmt.Errorf("%s[%d] is not a number: %v", name, i, e)
		}
		out[i] = f
	}
	return out, nil
}
