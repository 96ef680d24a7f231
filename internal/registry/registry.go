// Package registry binds variable names to the widgets displaying them.
package registry

import (
	"sort"

	"github.com/dyluth/hieratika/internal/widget"
)

// Registry maps a variable name to every widget bound to it, in binding
// order. It is owned by a single goroutine (the editor loop) and does no
// locking.
type Registry struct {
	bindings map[string][]*widget.Widget
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{bindings: make(map[string][]*widget.Widget)}
}

// Bind adds w under its variable name. Binding the same widget twice is a
// no-op.
func (r *Registry) Bind(w *widget.Widget) {
	name := w.Name()
	for _, existing := range r.bindings[name] {
		if existing == w {
			return
		}
	}
	r.bindings[name] = append(r.bindings[name], w)
}

// Unbind removes w. It reports whether w was bound.
func (r *Registry) Unbind(w *widget.Widget) bool {
	name := w.Name()
	list := r.bindings[name]
	for i, existing := range list {
		if existing != w {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.bindings, name)
		} else {
			r.bindings[name] = list
		}
		return true
	}
	return false
}

// Lookup returns the widgets bound to name; none when the name is unknown.
func (r *Registry) Lookup(name string) []*widget.Widget {
	return r.bindings[name]
}

// Names returns the bound variable names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every bound widget, ordered by name then binding order.
func (r *Registry) All() []*widget.Widget {
	var all []*widget.Widget
	for _, name := range r.Names() {
		all = append(all, r.bindings[name]...)
	}
	return all
}

// Len returns the number of bound names.
func (r *Registry) Len() int {
	return len(r.bindings)
}

// Value returns the value of the first widget bound to name, so that a
// registry can serve as the environment of validations.
func (r *Registry) Value(name string) (any, bool) {
	list := r.bindings[name]
	if len(list) == 0 {
		return nil, false
	}
	return list[0].Value(), true
}

// Values returns the value of every bound name.
func (r *Registry) Values() map[string]any {
	out := make(map[string]any, len(r.bindings))
	for name, list := range r.bindings {
		out[name] = list[0].Value()
	}
	return out
}
