package widget

import (
	"errors"
	"fmt"
	"math"

	"github.com/dyluth/hieratika/internal/validation"
)

// ErrReadOnly is returned when a user action targets a read-only widget.
var ErrReadOnly = errors.New("widget is read-only")

// Lock values. A permanently locked button cannot be toggled.
const (
	Unlocked          = 0
	Locked            = 1
	PermanentlyLocked = -1
)

// lockState reads the value of a lock button. A missing or non-numeric value
// counts as locked.
func (w *Widget) lockState() int {
	f, ok := validation.Number(w.value)
	if !ok || math.IsNaN(f) {
		return Locked
	}
	return int(f)
}

// Locked reports whether a lock button is locked.
func (w *Widget) Locked() bool {
	return w.kind == KindLockButton && w.lockState() != Unlocked
}

// Lock makes targets follow the state of this lock button: they are read-only
// while it is locked.
func (w *Widget) Lock(targets ...*Widget) {
	locked := w.Locked()
	for _, t := range targets {
		w.lockListeners = append(w.lockListeners, t.SetReadOnly)
		t.SetReadOnly(locked)
	}
}

// OnLockChange registers fn for lock state changes of a lock button.
func (w *Widget) OnLockChange(fn func(locked bool)) {
	w.lockListeners = append(w.lockListeners, fn)
}

// RefreshLock pushes the current state of a lock button to its targets
// again, for instance after they were made editable in bulk.
func (w *Widget) RefreshLock() {
	if w.kind == KindLockButton {
		w.applyLock()
	}
}

func (w *Widget) applyLock() {
	state := w.lockState()
	if state == PermanentlyLocked {
		w.readOnly = true
	}
	for _, fn := range w.lockListeners {
		fn(state != Unlocked)
	}
}

// Toggle flips a lock button between locked and unlocked as a user edit.
func (w *Widget) Toggle() error {
	if w.kind != KindLockButton {
		return fmt.Errorf("%s is not a lock button", w.name)
	}
	if w.readOnly {
		return ErrReadOnly
	}
	switch w.lockState() {
	case Locked:
		w.SetValue(Unlocked, true)
	case Unlocked:
		w.SetValue(Locked, true)
	}
	return nil
}
