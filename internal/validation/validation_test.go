package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/hieratika/pkg/hieratika"
)

// countingPredicate records how often it was evaluated.
type countingPredicate struct {
	expr   string
	result bool
	err    error
	calls  int
}

func (p *countingPredicate) Expression() string { return p.expr }

func (p *countingPredicate) Test(Env) (bool, error) {
	p.calls++
	return p.result, p.err
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	preds := []*countingPredicate{
		{expr: "p0", result: true},
		{expr: "p1", result: true},
		{expr: "p2", result: false},
		{expr: "p3", result: false},
	}
	list := make([]Predicate, len(preds))
	for i, p := range preds {
		list[i] = p
	}

	idx, failed := Run(list, MapEnv{})
	assert.Equal(t, 2, idx)
	assert.Equal(t, "p2", failed.Expression())
	assert.Equal(t, 1, preds[2].calls)
	assert.Zero(t, preds[3].calls, "predicates after the first failure are not evaluated")
}

func TestRunErrorIsFailure(t *testing.T) {
	list := []Predicate{
		&countingPredicate{expr: "ok", result: true},
		&countingPredicate{expr: "boom", result: true, err: errors.New("boom")},
	}
	idx, failed := Run(list, MapEnv{})
	assert.Equal(t, 1, idx)
	assert.Equal(t, "boom", failed.Expression())
}

func TestRunAllPass(t *testing.T) {
	idx, failed := Run([]Predicate{&countingPredicate{result: true}}, MapEnv{})
	assert.Equal(t, -1, idx)
	assert.Nil(t, failed)

	idx, _ = Run(nil, MapEnv{})
	assert.Equal(t, -1, idx)
}

func TestBounds(t *testing.T) {
	tests := []struct {
		name   string
		fun    string
		params []any
		value  any
		want   bool
	}{
		{"min scalar ok", FunCheckMin, []any{-1.0}, 0.0, true},
		{"min scalar equal", FunCheckMin, []any{-1.0}, -1.0, true},
		{"min scalar low", FunCheckMin, []any{-1.0}, -1.5, false},
		{"max scalar ok", FunCheckMax, []any{10.0}, 10.0, true},
		{"max scalar high", FunCheckMax, []any{10.0}, 10.5, false},
		{"max broadcasts over array", FunCheckMax, []any{5.0}, []any{1.0, 2.0, 6.0}, false},
		{"max element wise", FunCheckMax, []any{1.0, 2.0, 3.0}, []any{1.0, 2.0, 3.0}, true},
		{"max element wise high", FunCheckMax, []any{1.0, 2.0, 3.0}, []any{1.0, 2.5, 3.0}, false},
		{"min over matrix", FunCheckMin, []any{0.0}, []any{[]any{1.0, 2.0}, []any{3.0, -4.0}}, false},
		{"integers", FunCheckMin, []any{-10}, int64(-3), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preds, err := Build(NewCompiler(), "x", "float64", []hieratika.Validation{{Fun: tt.fun, Parameters: tt.params}})
			require.NoError(t, err)
			ok, err := preds[0].Test(MapEnv{"x": tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	t.Run("non numeric value errors", func(t *testing.T) {
		preds, err := Build(NewCompiler(), "x", "float64", []hieratika.Validation{{Fun: FunCheckMin, Parameters: []any{0.0}}})
		require.NoError(t, err)
		_, err = preds[0].Test(MapEnv{"x": "abc"})
		assert.Error(t, err)
	})

	t.Run("missing limit is rejected", func(t *testing.T) {
		_, err := Build(NewCompiler(), "x", "float64", []hieratika.Validation{{Fun: FunCheckMax}})
		assert.Error(t, err)
	})

	t.Run("expression names the check", func(t *testing.T) {
		preds, err := Build(NewCompiler(), "GAIN", "float64", []hieratika.Validation{{Fun: FunCheckMax, Parameters: []any{10.0}}})
		require.NoError(t, err)
		assert.Equal(t, "checkMax(GAIN, 10)", preds[0].Expression())
	})
}

func TestCheckType(t *testing.T) {
	tests := []struct {
		typeName string
		value    any
		want     bool
	}{
		{"uint8", 255.0, true},
		{"uint8", 256.0, false},
		{"uint8", -1.0, false},
		{"int8", -128.0, true},
		{"int16", 1.5, false},
		{"int32", []any{1.0, 2.0}, true},
		{"float32", 1e39, false},
		{"float64", 1e39, true},
		{"string", "anything", true},
		{"int32", "text", false},
	}

	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			c := &typeCheck{variable: "x", typeName: tt.typeName}
			ok, err := c.Test(MapEnv{"x": tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok, "%v", tt.value)
		})
	}
}

func TestElements(t *testing.T) {
	assert.Nil(t, Elements(nil))
	assert.Equal(t, []any{1.0}, Elements(1.0))
	assert.Equal(t, []any{1.0, 2.0}, Elements([]any{1.0, 2.0}))
	assert.Equal(t, []any{1.0, 2.0, 3.0, 4.0}, Elements([]any{[]any{1.0, 2.0}, []any{3.0, 4.0}}))
}
