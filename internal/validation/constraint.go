package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

var (
	quotedName  = regexp.MustCompile(`'([^']+)'`)
	jsMath      = regexp.MustCompile(`\bMath\.([A-Za-z0-9_]+)`)
	indexSuffix = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

	// JavaScript Math constants and their Go spelling.
	jsMathConstants = map[string]string{
		"E":       "math.E",
		"PI":      "math.Pi",
		"LN2":     "math.Ln2",
		"LN10":    "math.Ln10",
		"LOG2E":   "math.Log2E",
		"LOG10E":  "math.Log10E",
		"SQRT2":   "math.Sqrt2",
		"SQRT1_2": "(1 / math.Sqrt2)",
	}
)

// Compiler turns constraint expressions into Go functions using the yaegi
// interpreter. Variables are written as quoted names ('gain', 'gains[2]')
// and the math package is in scope. Compiled expressions are cached, so a
// Compiler should be shared by every widget of a session.
type Compiler struct {
	mu    sync.Mutex
	cache map[string]*Constraint
}

// NewCompiler creates an empty compiler.
func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[string]*Constraint)}
}

// Constraint is a compiled constraint expression.
type Constraint struct {
	expr  string
	names []string
	fn    func([]float64) bool
	mu    *sync.Mutex
}

// Compile compiles expr, or returns the cached result of an earlier call.
func (c *Compiler) Compile(expr string) (*Constraint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache[expr]; ok {
		return cached, nil
	}

	names, body := rewrite(expr)
	src := fmt.Sprintf("package main\n\nimport \"math\"\n\nvar _ = math.Pi\n\nfunc Eval(v []float64) bool {\n\treturn %s\n}\n", body)

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("invalid constraint %q: %w", expr, err)
	}
	fv, err := i.Eval("main.Eval")
	if err != nil {
		return nil, fmt.Errorf("invalid constraint %q: %w", expr, err)
	}
	fn, ok := fv.Interface().(func([]float64) bool)
	if !ok {
		return nil, fmt.Errorf("invalid constraint %q: not a boolean expression", expr)
	}

	compiled := &Constraint{expr: expr, names: names, fn: fn, mu: &c.mu}
	c.cache[expr] = compiled
	return compiled, nil
}

// rewrite replaces quoted names with slots of the argument slice and
// translates the JavaScript spellings found in older page definitions.
func rewrite(expr string) (names []string, body string) {
	slots := map[string]int{}
	body = quotedName.ReplaceAllStringFunc(expr, func(m string) string {
		name := quotedName.FindStringSubmatch(m)[1]
		idx, ok := slots[name]
		if !ok {
			idx = len(names)
			slots[name] = idx
			names = append(names, name)
		}
		return fmt.Sprintf("v[%d]", idx)
	})
	body = strings.NewReplacer("===", "==", "!==", "!=").Replace(body)
	body = jsMath.ReplaceAllStringFunc(body, func(m string) string {
		member := strings.TrimPrefix(m, "Math.")
		if c, ok := jsMathConstants[member]; ok {
			return c
		}
		return "math." + strings.ToUpper(member[:1]) + member[1:]
	})
	return names, body
}

// Names returns the variables the constraint reads, in slot order.
func (c *Constraint) Names() []string {
	return append([]string(nil), c.names...)
}

// Expression implements Predicate.
func (c *Constraint) Expression() string {
	return c.expr
}

// Test implements Predicate.
func (c *Constraint) Test(env Env) (ok bool, err error) {
	args := make([]float64, len(c.names))
	for i, name := range c.names {
		x, err := resolve(env, name)
		if err != nil {
			return false, err
		}
		args[i] = x
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("constraint %q panicked: %v", c.expr, r)
		}
	}()
	return c.fn(args), nil
}

// resolve reads one scalar: name, or name[i] for an element of an array.
func resolve(env Env, ref string) (float64, error) {
	base, index := ref, -1
	if m := indexSuffix.FindStringSubmatch(ref); m != nil {
		base = m[1]
		index, _ = strconv.Atoi(m[2])
	}
	v, ok := env.Value(base)
	if !ok {
		return 0, fmt.Errorf("unknown variable %s", base)
	}
	values, err := numbers(base, v)
	if err != nil {
		return 0, err
	}
	switch {
	case index >= 0 && index < len(values):
		return values[index], nil
	case index >= 0:
		return 0, fmt.Errorf("%s has no element %d", base, index)
	case len(values) == 1:
		return values[0], nil
	}
	return 0, fmt.Errorf("%s is not a scalar, use %s[i]", base, base)
}
