package widget

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/hieratika/internal/validation"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

func TestTextToTypeValue(t *testing.T) {
	tests := []struct {
		text     string
		typeName string
		want     any
	}{
		{"1.5", "float64", 1.5},
		{" 2 ", "float32", 2.0},
		{"abc", "float64", "abc"},
		{"42", "int32", int64(42)},
		{"42.0", "uint8", int64(42)},
		{"1.5", "int16", "1.5"},
		{"-3", "int64", int64(-3)},
		{"hello", "string", "hello"},
		{"7", "", "7"},
		{"9223372036854775807", "int64", int64(math.MaxInt64)},
		{"-9223372036854775808", "int64", int64(math.MinInt64)},
		{"1e3", "int32", int64(1000)},
		{"1e19", "int64", "1e19"},
		{"9223372036854775808", "int64", "9223372036854775808"},
		{"1e19", "uint64", uint64(1e19)},
		{"18446744073709551615", "uint64", uint64(math.MaxUint64)},
		{"18446744073709551616", "uint64", "18446744073709551616"},
		{"NaN", "float64", "NaN"},
		{"Inf", "float32", "Inf"},
		{"-infinity", "float64", "-infinity"},
		{"NaN", "int32", "NaN"},
		{"1e400", "float64", "1e400"},
	}

	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.typeName, func(t *testing.T) {
			assert.Equal(t, tt.want, TextToTypeValue(tt.text, tt.typeName))
		})
	}
}

func TestSetTextRoundTrip(t *testing.T) {
	w := New("GAIN", KindInput)
	w.Configure(&hieratika.VariableInfo{Name: "GAIN", Type: "float64"}, nil)

	w.SetText("3.25")
	assert.Equal(t, 3.25, w.Value())

	w.SetText("not a number")
	assert.Equal(t, "not a number", w.Value(), "failed coercion keeps the text")
}

func TestSetTextOutOfRange(t *testing.T) {
	preds, err := validation.Build(validation.NewCompiler(), "COUNT", "int64",
		[]hieratika.Validation{{Fun: validation.FunCheckType}})
	require.NoError(t, err)

	w := New("COUNT", KindInput)
	w.Configure(&hieratika.VariableInfo{Name: "COUNT", Type: "int64"}, nil)
	w.SetValidations(preds)

	w.SetText("9223372036854775807")
	assert.Equal(t, int64(math.MaxInt64), w.Value())
	assert.False(t, w.Display().Error)

	w.SetText("1e19")
	assert.Equal(t, "1e19", w.Value(), "a number past int64 is kept as text")
	assert.True(t, w.Display().Error)
	assert.Equal(t, "Failed @ checkType(COUNT, int64)", w.Display().Title)
}

func TestSetTextRejectsNaN(t *testing.T) {
	w := New("GAIN", KindInput)
	w.Configure(&hieratika.VariableInfo{Name: "GAIN", Type: "float64"}, nil)

	for _, text := range []string{"NaN", "Inf", "+Infinity"} {
		w.SetText(text)
		assert.Equal(t, text, w.Value())
	}
}

func TestSetValueCoercesText(t *testing.T) {
	t.Run("typed scalar", func(t *testing.T) {
		w := New("OFFSET", KindInput)
		w.Configure(&hieratika.VariableInfo{Name: "OFFSET", Type: "int32"}, nil)
		w.SetValue("5", false)
		assert.Equal(t, int64(5), w.Value())

		w.SetPlantValue("6")
		assert.Equal(t, int64(6), w.PlantValue())
	})

	t.Run("typed array", func(t *testing.T) {
		w := New("GAINS", KindArray)
		w.Configure(&hieratika.VariableInfo{Name: "GAINS", Type: "float32"}, nil)
		w.SetValue([]any{"1.5", 2.0, "x"}, false)
		assert.Equal(t, []any{1.5, 2.0, "x"}, w.Value())
	})

	t.Run("untyped widget keeps text", func(t *testing.T) {
		w := New("NOTE", KindInput)
		w.SetValue("5", false)
		assert.Equal(t, "5", w.Value())
	})
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1, 1.0))
	assert.True(t, Equal(int64(1), "1"))
	assert.True(t, Equal([]any{1.0, "2"}, []any{int64(1), 2}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(1, 2))
	assert.False(t, Equal("a", "b"))
	assert.False(t, Equal([]any{1.0}, []any{1.0, 2.0}))
	assert.False(t, Equal(nil, 0))
}

func TestNormalise(t *testing.T) {
	t.Run("scalar kinds unwrap one element arrays", func(t *testing.T) {
		for _, kind := range []Kind{KindCheckbox, KindRadio, KindEnum, KindLockButton} {
			w := New("x", kind)
			w.SetValue([]any{1.0}, false)
			assert.Equal(t, 1.0, w.Value(), kind)
			w.SetPlantValue([]any{0.0})
			assert.Equal(t, 0.0, w.PlantValue(), kind)
		}
	})

	t.Run("array takes first row of a matrix", func(t *testing.T) {
		w := New("x", KindArray)
		w.SetValue([]any{[]any{1.0, 2.0}}, false)
		assert.Equal(t, []any{1.0, 2.0}, w.Value())
	})

	t.Run("array ignores empty arrays except for value", func(t *testing.T) {
		w := New("x", KindArray)
		w.SetInitialValue([]any{1.0})
		w.SetPlantValue([]any{2.0})
		w.SetReferenceValue([]any{3.0})

		w.SetInitialValue([]any{})
		w.SetPlantValue([]any{})
		w.SetReferenceValue([]any{})
		assert.Equal(t, []any{1.0}, w.InitialValue())
		assert.Equal(t, []any{2.0}, w.PlantValue())
		assert.Equal(t, []any{3.0}, w.ReferenceValue())

		w.SetValue([]any{}, false)
		assert.Equal(t, []any{}, w.Value())
	})

	t.Run("values are copied", func(t *testing.T) {
		src := []any{1.0, 2.0}
		w := New("x", KindArray)
		w.SetValue(src, false)
		src[0] = 99.0
		assert.Equal(t, []any{1.0, 2.0}, w.Value())
	})
}

func TestSetElementText(t *testing.T) {
	w := New("x", KindArray)
	w.Configure(&hieratika.VariableInfo{Type: "int32"}, nil)
	w.SetValue([]any{1.0, 2.0}, false)

	var queued []any
	w.SetRemote(func(name string, v any) { queued = append(queued, v) })

	require.NoError(t, w.SetElementText(1, "5"))
	assert.Equal(t, []any{1.0, int64(5)}, w.Value())

	require.NoError(t, w.SetElementText(3, "x"))
	assert.Equal(t, []any{1.0, int64(5), nil, "x"}, w.Value())
	assert.Len(t, queued, 2)

	assert.Error(t, w.SetElementText(-1, "1"))
}

func TestCheckColours(t *testing.T) {
	t.Run("unchanged value uses standard colours", func(t *testing.T) {
		w := New("x", KindInput)
		w.SetInitialValue(1.0)
		w.SetValue(1.0, false)

		d := w.Display()
		require.Len(t, d.Cells, 1)
		assert.Equal(t, Cell{hieratika.ColorStandardForeground, hieratika.ColorStandardBackground}, d.Cells[0])
		assert.False(t, d.Error)
	})

	t.Run("value differing from initial", func(t *testing.T) {
		w := New("x", KindArray)
		w.SetInitialValue([]any{1.0, 2.0})
		w.SetValue([]any{1.0, 3.0}, false)

		d := w.Display()
		assert.Equal(t, hieratika.ColorStandardForeground, d.Cells[0].Foreground)
		assert.Equal(t, hieratika.ColorDiffInitChanged, d.Cells[1].Foreground)
	})

	t.Run("read-only and forbidden widgets are disabled", func(t *testing.T) {
		w := New("x", KindInput)
		w.SetReadOnly(true)
		assert.Equal(t, hieratika.ColorDisabled, w.Display().Cells[0].Background)

		w = New("x", KindInput)
		w.Configure(&hieratika.VariableInfo{Type: "float64", Permissions: []string{"experts"}}, []string{"guests"})
		w.SetValue(1.0, false)
		assert.False(t, w.CanWrite())
		assert.Equal(t, hieratika.ColorDisabled, w.Display().Cells[0].Background)
	})

	t.Run("plant reference", func(t *testing.T) {
		w := New("x", KindArray)
		w.SetPlantValue([]any{1.0, 2.0})
		w.SetValue([]any{1.0, 5.0}, false)

		assert.Equal(t, hieratika.ColorStandardBackground, w.Display().Cells[1].Background, "none never differs")

		w.SetReferenceMode(hieratika.ReferencePlant)
		d := w.Display()
		assert.Equal(t, hieratika.ColorStandardBackground, d.Cells[0].Background)
		assert.Equal(t, hieratika.ColorPlantOrRefChanged, d.Cells[1].Background)
	})

	t.Run("schedule reference compares the reference value", func(t *testing.T) {
		w := New("x", KindInput)
		w.SetPlantValue(1.0)
		w.SetReferenceValue(2.0)
		w.SetValue(1.0, false)
		w.SetReferenceMode("schedule-uid")

		assert.Equal(t, hieratika.ColorPlantOrRefChanged, w.Display().Cells[0].Background)

		w.SetValue(2.0, false)
		assert.Equal(t, hieratika.ColorStandardBackground, w.Display().Cells[0].Background)
	})

	t.Run("reference colour wins over disabled", func(t *testing.T) {
		w := New("x", KindInput)
		w.SetReadOnly(true)
		w.SetPlantValue(1.0)
		w.SetValue(2.0, false)
		w.SetReferenceMode(hieratika.ReferencePlant)
		assert.Equal(t, hieratika.ColorPlantOrRefChanged, w.Display().Cells[0].Background)
	})
}

func TestCheckValidations(t *testing.T) {
	c := validation.NewCompiler()
	preds, err := validation.Build(c, "x", "int8", []hieratika.Validation{
		{Fun: validation.FunCheckType},
		{Fun: validation.FunCheckMax, Parameters: []any{10.0}},
		{Fun: validation.FunCheckMin, Parameters: []any{-10.0}},
		{Fun: "'x' != 5"},
	})
	require.NoError(t, err)

	w := New("x", KindArray)
	w.Configure(&hieratika.VariableInfo{Type: "int8", Description: "gains"}, nil)
	w.SetValidations(preds)

	tests := []struct {
		name   string
		value  any
		failed int
		title  string
	}{
		{"all pass", []any{1.0}, -1, "gains"},
		{"type fails first", []any{1.5, 200.0}, 0, "Failed @ checkType(x, int8)"},
		{"max fails", []any{1.0, 11.0}, 1, "Failed @ checkMax(x, 10)"},
		{"min fails", []any{-11.0}, 2, "Failed @ checkMin(x, -10)"},
		{"constraint fails", []any{5.0}, 3, "Failed @ 'x' != 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w.SetValue(tt.value, false)
			d := w.Display()
			assert.Equal(t, tt.failed, d.Failed)
			assert.Equal(t, tt.failed >= 0, d.Error)
			assert.Equal(t, tt.title, d.Title)
			if d.Error {
				for _, cell := range d.Cells {
					assert.Equal(t, hieratika.ColorErrorBackground, cell.Background)
				}
			}
		})
	}
}

func TestCheckUsesEnv(t *testing.T) {
	pred, err := validation.NewCompiler().Compile("'x' < 'limit'")
	require.NoError(t, err)

	w := New("x", KindInput)
	w.SetEnv(validation.MapEnv{"x": 1.0, "limit": 0.0})
	w.SetValidations([]validation.Predicate{pred})
	assert.True(t, w.Display().Error)

	w.SetEnv(validation.MapEnv{"x": 1.0, "limit": 2.0})
	assert.False(t, w.Check().Error)
}

func TestChangeListeners(t *testing.T) {
	w := New("x", KindInput)

	var changes []ChangeKind
	w.OnChange(func(_ *Widget, c ChangeKind) { changes = append(changes, c) })

	var remote []string
	w.SetRemote(func(name string, v any) { remote = append(remote, name) })

	w.SetValue(1.0, false)
	w.SetPlantValue(2.0)
	w.SetReferenceValue(3.0)
	w.SetInitialValue(4.0)
	w.SetValue(5.0, true)

	assert.Equal(t, []ChangeKind{ChangeValue, ChangePlant, ChangeReference, ChangeInitial, ChangeValue}, changes)
	assert.Equal(t, []string{"x"}, remote, "only user edits reach the remote queue")

	w.Commit()
	assert.Equal(t, 5.0, w.InitialValue())
}

func TestLockButton(t *testing.T) {
	lock := New("LOCK", KindLockButton)
	target := New("GAIN", KindInput)

	assert.True(t, lock.Locked(), "a lock without value is locked")
	lock.Lock(target)
	assert.True(t, target.ReadOnly())

	var states []bool
	lock.OnLockChange(func(locked bool) { states = append(states, locked) })

	require.NoError(t, lock.Toggle())
	assert.False(t, lock.Locked())
	assert.False(t, target.ReadOnly())
	assert.Equal(t, Unlocked, lock.Value())

	require.NoError(t, lock.Toggle())
	assert.True(t, lock.Locked())
	assert.True(t, target.ReadOnly())
	assert.Equal(t, []bool{false, true}, states)

	t.Run("permanently locked", func(t *testing.T) {
		lock.SetValue(PermanentlyLocked, false)
		assert.True(t, lock.ReadOnly())
		assert.ErrorIs(t, lock.Toggle(), ErrReadOnly)

		lock.SetReadOnly(false)
		assert.True(t, lock.ReadOnly())
	})

	t.Run("refresh reapplies the state", func(t *testing.T) {
		lock := New("LOCK", KindLockButton)
		target := New("GAIN", KindInput)
		lock.SetValue(Locked, false)
		lock.Lock(target)

		target.SetReadOnly(false)
		lock.RefreshLock()
		assert.True(t, target.ReadOnly())

		target.RefreshLock()
		assert.True(t, target.ReadOnly(), "refreshing a plain widget changes nothing")
	})

	t.Run("only lock buttons toggle", func(t *testing.T) {
		assert.Error(t, target.Toggle())
	})
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("matrix-dropdown")
	require.NoError(t, err)
	assert.Equal(t, KindMatrixDropdown, k)

	_, err = ParseKind("slider")
	assert.Error(t, err)
}
