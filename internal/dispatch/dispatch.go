// Package dispatch routes push messages to the widgets bound to the
// variables they carry.
package dispatch

import (
	"go.uber.org/zap"

	"github.com/dyluth/hieratika/internal/metrics"
	"github.com/dyluth/hieratika/internal/registry"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

// Result summarises what a message did.
type Result struct {
	Kind hieratika.Kind
	// Applied counts widget updates.
	Applied int
	// Dropped is set for schedule messages that do not concern the active
	// schedule.
	Dropped bool
}

// Dispatcher applies push messages to a registry. Like the registry it is
// driven by a single goroutine.
type Dispatcher struct {
	reg    *registry.Registry
	logger *zap.Logger

	tid             string
	tidListeners    []func(tid string)
	transformations []func(msg *hieratika.Message)
	logouts         []func(token string)
	pending         func(name string, value any)
}

// New creates a dispatcher over reg. A nil logger disables logging.
func New(reg *registry.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{reg: reg, logger: logger.Named("dispatch")}
}

// Tid returns the stream identifier received in the last reset message.
func (d *Dispatcher) Tid() string {
	return d.tid
}

// OnTid registers fn for reset messages.
func (d *Dispatcher) OnTid(fn func(tid string)) {
	d.tidListeners = append(d.tidListeners, fn)
}

// OnTransformation registers fn for transformation progress messages.
func (d *Dispatcher) OnTransformation(fn func(msg *hieratika.Message)) {
	d.transformations = append(d.transformations, fn)
}

// OnLogout registers fn for logout messages.
func (d *Dispatcher) OnLogout(fn func(token string)) {
	d.logouts = append(d.logouts, fn)
}

// RecordPending sets where values received for the active schedule are
// recorded; they become part of the next commit.
func (d *Dispatcher) RecordPending(fn func(name string, value any)) {
	d.pending = fn
}

// Dispatch applies msg given the UID of the schedule being edited ("" when
// none is open). Live values and values of the active schedule replace the
// widget value without being queued back to the server; plant values only
// update the plant slot; schedule values of any other schedule are dropped.
// Names without bound widgets are ignored.
func (d *Dispatcher) Dispatch(msg *hieratika.Message, activeSchedule string) Result {
	res := Result{Kind: msg.Kind()}

	switch res.Kind {
	case hieratika.KindReset:
		d.tid = msg.Tid
		d.logger.Debug("stream reset", zap.String("tid", msg.Tid))
		for _, fn := range d.tidListeners {
			fn(msg.Tid)
		}
		return res

	case hieratika.KindTransformation:
		for _, fn := range d.transformations {
			fn(msg)
		}
		return res

	case hieratika.KindLogout:
		for _, fn := range d.logouts {
			fn(msg.Logout)
		}
		return res

	case hieratika.KindSchedule:
		if activeSchedule == "" || msg.Schedule() != activeSchedule {
			res.Dropped = true
			metrics.ObserveDispatch("dropped", len(msg.Variables))
			d.logger.Debug("schedule update dropped",
				zap.String("schedule", msg.Schedule()),
				zap.String("active", activeSchedule))
			return res
		}
		res.Applied = d.applyValues(msg.Variables)

	case hieratika.KindLive:
		res.Applied = d.applyValues(msg.Variables)

	case hieratika.KindPlant:
		for name, v := range msg.Variables {
			for _, w := range d.reg.Lookup(name) {
				w.SetPlantValue(v)
				res.Applied++
			}
		}
	}

	metrics.ObserveDispatch("applied", res.Applied)
	return res
}

func (d *Dispatcher) applyValues(values hieratika.Values) int {
	applied := 0
	for name, v := range values {
		widgets := d.reg.Lookup(name)
		for _, w := range widgets {
			w.SetValue(v, false)
			applied++
		}
		if len(widgets) > 0 && d.pending != nil {
			d.pending(name, v)
		}
	}
	return applied
}
