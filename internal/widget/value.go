package widget

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/dyluth/hieratika/internal/validation"
)

// TextToTypeValue converts edited text to the value type of a variable.
// float* types become float64; NaN and infinities are not accepted.
// int* types become int64 and uint* types become int64, or uint64 above
// math.MaxInt64. Integral float forms such as "1e3" are accepted when they
// fit. Any other type, or text that does not convert, is returned unchanged.
func TextToTypeValue(text, typeName string) any {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(typeName, "float"):
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	case strings.HasPrefix(typeName, "int"):
		if v, ok := integerValue(trimmed, false); ok {
			return v
		}
	case strings.HasPrefix(typeName, "uint"):
		if v, ok := integerValue(trimmed, true); ok {
			return v
		}
	}
	return text
}

// 2^63 and 2^64 are exact in float64, unlike math.MaxInt64 and
// math.MaxUint64.
const (
	twoTo63 = float64(1 << 63)
	twoTo64 = 2 * twoTo63
)

func integerValue(s string, unsigned bool) (any, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	if unsigned {
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, true
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, false
	}
	switch {
	case f >= -twoTo63 && f < twoTo63:
		return int64(f), true
	case unsigned && f >= 0 && f < twoTo64:
		return uint64(f), true
	}
	return nil, false
}

// coerce converts the text elements of v with TextToTypeValue, copying
// slices on the way.
func coerce(v any, typeName string) any {
	switch t := v.(type) {
	case string:
		if typeName == "" {
			return t
		}
		return TextToTypeValue(t, typeName)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = coerce(e, typeName)
		}
		return out
	}
	return v
}

// canonical rewrites a value so that numbers of any Go type, and numeric
// text, compare equal when they denote the same number.
func canonical(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonical(e)
		}
		return out
	}
	if f, ok := validation.Number(v); ok {
		return f
	}
	return v
}

// Equal compares two variable values loosely: 1, int64(1), 1.0 and "1" are
// all equal.
func Equal(a, b any) bool {
	return cmp.Equal(canonical(a), canonical(b))
}

// element returns the i-th flattened element of v, or nil.
func element(v any, i int) any {
	elems := validation.Elements(v)
	if i < len(elems) {
		return elems[i]
	}
	return nil
}

// copyValue duplicates slices so that widgets never share backing arrays
// with the maps they were fed from.
func copyValue(v any) any {
	t, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(t))
	for i, e := range t {
		out[i] = copyValue(e)
	}
	return out
}
