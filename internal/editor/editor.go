// Package editor runs an editing session: a set of widgets bound to the
// variables of one page, the schedule they edit, and the event loop that
// applies server push messages and synchronises local edits.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/hieratika/internal/dispatch"
	"github.com/dyluth/hieratika/internal/registry"
	"github.com/dyluth/hieratika/internal/syncer"
	"github.com/dyluth/hieratika/internal/validation"
	"github.com/dyluth/hieratika/internal/widget"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

const defaultSyncInterval = time.Second

var (
	// ErrNoSchedule is returned by operations that need an open schedule.
	ErrNoSchedule = errors.New("no schedule is open")
	// ErrLoggedOut is returned by Run when the server closes the session.
	ErrLoggedOut = errors.New("session logged out by the server")
	// ErrStreamClosed is returned by Run when the push stream ends.
	ErrStreamClosed = errors.New("push stream closed")
	// ErrStopped is returned by Do once Run has returned.
	ErrStopped = errors.New("editor stopped")
)

// Source opens a push message subscription. *hieratika.Stream and
// *hieratika.Relay implement it.
type Source interface {
	Subscribe(ctx context.Context) (*hieratika.Subscription, error)
}

// Options tunes an Editor.
type Options struct {
	// SyncInterval is the period of batched updates (default 1s).
	SyncInterval time.Duration
	Logger       *zap.Logger
}

type call struct {
	fn   func() error
	done chan error
}

// Editor is an editing session for one page. Until Run is called its
// methods may be used directly; while Run is active they must only be called
// through Do, which executes them on the loop.
type Editor struct {
	client     *hieratika.Client
	page       string
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	syncer     *syncer.Syncer
	compiler   *validation.Compiler
	logger     *zap.Logger
	interval   time.Duration

	schedule *hieratika.Schedule
	pending  hieratika.Values

	calls   chan call
	running atomic.Bool
	stopped chan struct{}
}

// New creates an editor for page.
func New(client *hieratika.Client, page string, opts *Options) *Editor {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.SyncInterval
	if interval <= 0 {
		interval = defaultSyncInterval
	}

	e := &Editor{
		client:   client,
		page:     page,
		reg:      registry.New(),
		compiler: validation.NewCompiler(),
		logger:   logger.Named("editor").With(zap.String("page", page)),
		interval: interval,
		pending:  hieratika.Values{},
		calls:    make(chan call),
		stopped:  make(chan struct{}),
	}
	e.dispatcher = dispatch.New(e.reg, logger)
	e.dispatcher.RecordPending(func(name string, v any) { e.pending[name] = v })
	e.dispatcher.OnTid(client.SetTid)
	e.syncer = syncer.New(client, e.ScheduleUID, logger)
	e.syncer.OnFlush(e.mergePending)
	return e
}

func (e *Editor) Page() string                     { return e.page }
func (e *Editor) Registry() *registry.Registry     { return e.reg }
func (e *Editor) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }
func (e *Editor) Schedule() *hieratika.Schedule    { return e.schedule }

// ScheduleUID returns the UID of the open schedule, "" when none is open.
func (e *Editor) ScheduleUID() string {
	if e.schedule == nil {
		return ""
	}
	return e.schedule.UID
}

// Pending returns a copy of the values that the next Commit will send.
func (e *Editor) Pending() hieratika.Values {
	out := make(hieratika.Values, len(e.pending))
	for k, v := range e.pending {
		out[k] = v
	}
	return out
}

func (e *Editor) mergePending(batch hieratika.Values) {
	for k, v := range batch {
		e.pending[k] = v
	}
}

// Bind attaches widgets to the session. User edits of a bound widget are
// queued for synchronisation and validations see every bound variable.
func (e *Editor) Bind(widgets ...*widget.Widget) {
	for _, w := range widgets {
		e.reg.Bind(w)
		w.SetEnv(e.reg)
		w.SetRemote(e.syncer.Enqueue)
	}
}

// Unbind detaches a widget.
func (e *Editor) Unbind(w *widget.Widget) {
	if e.reg.Unbind(w) {
		w.SetRemote(nil)
		w.SetEnv(nil)
	}
}

// LoadVariablesInfo fetches the metadata of every bound variable and
// configures its widgets: type, permissions, plant value and validations.
// Members of structured variables are bound as "parent.member".
func (e *Editor) LoadVariablesInfo(ctx context.Context) error {
	names := e.reg.Names()
	if len(names) == 0 {
		return nil
	}
	infos, err := e.client.GetVariablesInfo(ctx, e.page, names)
	if err != nil {
		return fmt.Errorf("failed to load variables of %s: %w", e.page, err)
	}

	var groups []string
	if u := e.client.User(); u != nil {
		groups = u.Groups
	}
	for _, info := range infos {
		if err := e.configure(info.Name, info, groups); err != nil {
			return err
		}
	}
	return nil
}

func (e *Editor) configure(name string, info *hieratika.VariableInfo, groups []string) error {
	for member, sub := range info.Members {
		if err := e.configure(name+"."+member, sub, groups); err != nil {
			return err
		}
	}
	widgets := e.reg.Lookup(name)
	if len(widgets) == 0 {
		return nil
	}
	preds, err := validation.Build(e.compiler, name, info.Type, info.Validation)
	if err != nil {
		return err
	}
	for _, w := range widgets {
		w.Configure(info, groups)
		w.SetValidations(preds)
	}
	return nil
}

// OpenSchedule makes uid the edited schedule: its values become both the
// value and the initial value of every bound widget, and the pending commit
// set is reset.
func (e *Editor) OpenSchedule(ctx context.Context, uid string) (*hieratika.Schedule, error) {
	sched, err := e.client.GetSchedule(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %s: %w", uid, err)
	}
	values, err := e.client.GetScheduleVariablesValues(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to get values of schedule %s: %w", uid, err)
	}

	e.schedule = sched
	e.pending = hieratika.Values{}
	e.syncer.Drain()
	for _, w := range e.reg.All() {
		w.SetReadOnly(false)
	}
	for name, v := range values {
		for _, w := range e.reg.Lookup(name) {
			w.SetValue(v, false)
			w.SetInitialValue(v)
		}
	}
	for _, w := range e.reg.All() {
		w.RefreshLock()
	}
	e.logger.Info("schedule opened", zap.String("schedule", uid), zap.String("name", sched.Name))
	return sched, nil
}

// CloseSchedule stops editing. Queued edits are discarded.
func (e *Editor) CloseSchedule() {
	e.schedule = nil
	e.pending = hieratika.Values{}
	e.syncer.Drain()
}

// DisplayPlant closes the schedule and shows the plant values read-only.
func (e *Editor) DisplayPlant(ctx context.Context) error {
	names := e.reg.Names()
	infos, err := e.client.GetVariablesInfo(ctx, e.page, names)
	if err != nil {
		return fmt.Errorf("failed to load plant values of %s: %w", e.page, err)
	}
	e.CloseSchedule()
	for _, info := range infos {
		for _, w := range e.reg.Lookup(info.Name) {
			w.SetPlantValue(info.Value)
			w.SetValue(info.Value, false)
			w.SetInitialValue(info.Value)
			w.SetReadOnly(true)
		}
	}
	return nil
}

// SetReference selects the comparison baseline of every widget:
// hieratika.ReferenceNone, hieratika.ReferencePlant or a schedule UID, whose
// values are fetched.
func (e *Editor) SetReference(ctx context.Context, mode string) error {
	if mode != hieratika.ReferenceNone && mode != hieratika.ReferencePlant && mode != "" {
		values, err := e.client.GetScheduleVariablesValues(ctx, mode)
		if err != nil {
			return fmt.Errorf("failed to get reference schedule %s: %w", mode, err)
		}
		for name, v := range values {
			for _, w := range e.reg.Lookup(name) {
				w.SetReferenceValue(v)
			}
		}
	}
	for _, w := range e.reg.All() {
		w.SetReferenceMode(mode)
	}
	return nil
}

// ApplyLibrary copies the values of a library into the bound widgets as user
// edits, so they are synchronised and committed like any other change.
// It returns the number of widgets changed.
func (e *Editor) ApplyLibrary(ctx context.Context, libraryUID string) (int, error) {
	values, err := e.client.GetLibraryVariablesValues(ctx, libraryUID)
	if err != nil {
		return 0, fmt.Errorf("failed to get library %s: %w", libraryUID, err)
	}
	changed := 0
	for name, v := range values {
		for _, w := range e.reg.Lookup(name) {
			w.SetValue(v, true)
			changed++
		}
	}
	return changed, nil
}

// Commit stores the pending set in the open schedule. When the schedule is
// in use the error is returned and the pending set is kept; on success the
// committed values become the initial values and the set is cleared.
func (e *Editor) Commit(ctx context.Context) error {
	if e.schedule == nil {
		return ErrNoSchedule
	}
	e.mergePending(e.syncer.Drain())

	uid := e.schedule.UID
	if err := e.client.CommitSchedule(ctx, uid, e.Pending()); err != nil {
		return fmt.Errorf("failed to commit schedule %s: %w", uid, err)
	}
	for _, w := range e.reg.All() {
		w.Commit()
	}
	e.logger.Info("schedule committed", zap.String("schedule", uid), zap.Int("variables", len(e.pending)))
	e.pending = hieratika.Values{}
	return nil
}

// UpdatePlant sends every bound value to the plant. On success the values
// become the initial values.
func (e *Editor) UpdatePlant(ctx context.Context) error {
	values := e.reg.Values()
	if err := e.client.UpdatePlant(ctx, e.page, values); err != nil {
		return fmt.Errorf("failed to update plant %s: %w", e.page, err)
	}
	for _, w := range e.reg.All() {
		w.Commit()
	}
	return nil
}

// Do runs fn on the event loop and returns its error. Before Run is called
// fn runs immediately on the calling goroutine.
func (e *Editor) Do(ctx context.Context, fn func() error) error {
	if !e.running.Load() {
		return fn()
	}
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case e.calls <- c:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the event loop. It applies push messages from source in receipt
// order, flushes queued edits every sync interval and executes calls queued
// by Do, one at a time. It returns when ctx ends, the stream closes, the
// session is invalidated or the server logs the session out. Run may only be
// called once.
func (e *Editor) Run(ctx context.Context, source Source) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("editor is already running")
	}
	defer close(e.stopped)

	sub, err := source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to push messages: %w", err)
	}
	defer sub.Close()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-sub.Events():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrStreamClosed
			}
			res := e.dispatcher.Dispatch(msg, e.ScheduleUID())
			if res.Kind == hieratika.KindLogout && msg.Logout == e.client.Token() {
				return ErrLoggedOut
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			e.logger.Warn("skipped push message", zap.Error(err))

		case <-ticker.C:
			if _, err := e.syncer.Flush(ctx); err != nil {
				if errors.Is(err, hieratika.ErrInvalidToken) {
					return err
				}
				e.logger.Warn("sync failed", zap.Error(err))
			}

		case c := <-e.calls:
			c.done <- c.fn()
		}
	}
}
