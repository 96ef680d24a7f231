// Package widget models the editable representation of a plant variable
// without any rendering: the value quadruple (value, initial, plant and
// reference values), its display state and validation outcome.
package widget

import (
	"fmt"

	"github.com/dyluth/hieratika/internal/validation"
	"github.com/dyluth/hieratika/pkg/hieratika"
)

// Kind is the type of editor a widget stands for.
type Kind string

const (
	KindInput          Kind = "input"
	KindTextArea       Kind = "textarea"
	KindArray          Kind = "array"
	KindMatrix         Kind = "matrix"
	KindMatrixDropdown Kind = "matrix-dropdown"
	KindEnum           Kind = "enum"
	KindCheckbox       Kind = "checkbox"
	KindRadio          Kind = "radio"
	KindLockButton     Kind = "lock-button"
	KindScheduleButton Kind = "schedule-button"
	KindLibraryButton  Kind = "library-button"
)

var kinds = map[Kind]bool{
	KindInput: true, KindTextArea: true, KindArray: true, KindMatrix: true,
	KindMatrixDropdown: true, KindEnum: true, KindCheckbox: true, KindRadio: true,
	KindLockButton: true, KindScheduleButton: true, KindLibraryButton: true,
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !kinds[k] {
		return "", fmt.Errorf("unknown widget kind %q", s)
	}
	return k, nil
}

// scalar kinds hold a single element.
func (k Kind) scalar() bool {
	switch k {
	case KindEnum, KindCheckbox, KindRadio, KindLockButton:
		return true
	}
	return false
}

// ChangeKind says which slot of the quadruple changed.
type ChangeKind string

const (
	ChangeValue     ChangeKind = "value"
	ChangeInitial   ChangeKind = "initial"
	ChangePlant     ChangeKind = "plant"
	ChangeReference ChangeKind = "reference"
)

// ChangeFunc is notified after a widget slot changed.
type ChangeFunc func(w *Widget, change ChangeKind)

// RemoteFunc receives values edited by the user that must reach the server.
type RemoteFunc func(name string, value any)

// Cell is the display state of one element.
type Cell struct {
	Foreground string
	Background string
}

// Display is the outcome of the last Check.
type Display struct {
	Cells []Cell
	Title string
	Error bool
	// Failed is the index of the failing validation, -1 when none failed.
	Failed int
}

// Widget holds the value quadruple of one variable instance. It is not safe
// for concurrent use: widgets belong to the editor loop.
type Widget struct {
	name        string
	kind        Kind
	typeName    string
	description string
	readOnly    bool
	canWrite    bool
	options     []string

	value     any
	initial   any
	plant     any
	reference any
	refMode   string

	validations []validation.Predicate
	env         validation.Env
	display     Display

	listeners     []ChangeFunc
	lockListeners []func(locked bool)
	remote        RemoteFunc
}

// New creates a writable widget of kind bound to variable name.
func New(name string, kind Kind) *Widget {
	return &Widget{
		name:     name,
		kind:     kind,
		canWrite: true,
		refMode:  hieratika.ReferenceNone,
		display:  Display{Failed: -1},
	}
}

func (w *Widget) Name() string          { return w.name }
func (w *Widget) Kind() Kind            { return w.kind }
func (w *Widget) TypeName() string      { return w.typeName }
func (w *Widget) Description() string   { return w.description }
func (w *Widget) ReadOnly() bool        { return w.readOnly }
func (w *Widget) CanWrite() bool        { return w.canWrite }
func (w *Widget) Options() []string     { return w.options }
func (w *Widget) Value() any            { return w.value }
func (w *Widget) InitialValue() any     { return w.initial }
func (w *Widget) PlantValue() any       { return w.plant }
func (w *Widget) ReferenceValue() any   { return w.reference }
func (w *Widget) ReferenceMode() string { return w.refMode }

// Display returns the state computed by the last Check.
func (w *Widget) Display() Display {
	return w.display
}

// Configure applies server metadata: type, description, write permission for
// a member of groups, and the plant value.
func (w *Widget) Configure(info *hieratika.VariableInfo, groups []string) {
	w.typeName = info.Type
	w.description = info.Description
	if w.description == "" {
		w.description = info.Alias
	}
	w.canWrite = info.CanWrite(groups)
	if info.Value != nil {
		w.SetPlantValue(info.Value)
	}
}

// SetOptions sets the choices of enum and radio widgets.
func (w *Widget) SetOptions(options ...string) {
	w.options = append([]string(nil), options...)
}

// SetValidations replaces the validation list.
func (w *Widget) SetValidations(preds []validation.Predicate) {
	w.validations = preds
	w.Check()
}

// SetEnv sets where validations look up variable values. Without an env
// validations only see this widget's own value.
func (w *Widget) SetEnv(env validation.Env) {
	w.env = env
}

// OnChange registers fn for every slot change.
func (w *Widget) OnChange(fn ChangeFunc) {
	w.listeners = append(w.listeners, fn)
}

// SetRemote sets where user edits are queued for synchronisation.
func (w *Widget) SetRemote(fn RemoteFunc) {
	w.remote = fn
}

func (w *Widget) fire(change ChangeKind) {
	for _, fn := range w.listeners {
		fn(w, change)
	}
}

// SetReadOnly toggles editing. A lock button with value -1 stays read-only.
func (w *Widget) SetReadOnly(readOnly bool) {
	if w.kind == KindLockButton && w.lockState() == -1 {
		readOnly = true
	}
	w.readOnly = readOnly
	w.Check()
}

// normalise adapts the shape of v to the widget kind and converts text
// elements to the variable type.
func (w *Widget) normalise(v any) any {
	arr, isArray := v.([]any)
	switch {
	case w.kind.scalar() && isArray && len(arr) == 1:
		v = arr[0]
	case w.kind == KindArray && isArray && len(arr) > 0:
		if row, ok := arr[0].([]any); ok {
			v = row
		}
	}
	return coerce(v, w.typeName)
}

// emptyArray reports whether v is an array with no elements. Array widgets
// ignore those for the initial, plant and reference slots.
func (w *Widget) emptyArray(v any) bool {
	if w.kind != KindArray {
		return false
	}
	arr, ok := v.([]any)
	return ok && len(arr) == 0
}

// SetValue replaces the editable value. updateRemote marks a user edit, which
// is queued for synchronisation with the server.
func (w *Widget) SetValue(v any, updateRemote bool) {
	w.value = w.normalise(v)
	if w.kind == KindLockButton {
		w.applyLock()
	}
	w.Check()
	w.fire(ChangeValue)
	if updateRemote && w.remote != nil {
		w.remote(w.name, w.value)
	}
}

// SetText is a user edit of a scalar widget: the text is converted with
// TextToTypeValue and queued for synchronisation.
func (w *Widget) SetText(text string) {
	w.SetValue(TextToTypeValue(text, w.typeName), true)
}

// SetElementText is a user edit of element i of an array widget. The array
// grows when i is past its end.
func (w *Widget) SetElementText(i int, text string) error {
	if i < 0 {
		return fmt.Errorf("element index %d out of range", i)
	}
	arr, _ := copyValue(w.value).([]any)
	for len(arr) <= i {
		arr = append(arr, nil)
	}
	arr[i] = TextToTypeValue(text, w.typeName)
	w.SetValue(arr, true)
	return nil
}

// SetInitialValue records the last committed value.
func (w *Widget) SetInitialValue(v any) {
	if w.emptyArray(v) {
		return
	}
	w.initial = w.normalise(v)
	w.Check()
	w.fire(ChangeInitial)
}

// SetPlantValue records the value applied to the plant.
func (w *Widget) SetPlantValue(v any) {
	if w.emptyArray(v) {
		return
	}
	w.plant = w.normalise(v)
	w.Check()
	w.fire(ChangePlant)
}

// SetReferenceValue records the values of the schedule used as reference.
func (w *Widget) SetReferenceValue(v any) {
	if w.emptyArray(v) {
		return
	}
	w.reference = w.normalise(v)
	w.Check()
	w.fire(ChangeReference)
}

// SetReferenceMode selects what the value is compared with:
// hieratika.ReferencePlant, hieratika.ReferenceNone or a schedule UID.
func (w *Widget) SetReferenceMode(mode string) {
	if mode == "" {
		mode = hieratika.ReferenceNone
	}
	w.refMode = mode
	w.Check()
}

// Commit makes the current value the initial one, as after a successful
// commit.
func (w *Widget) Commit() {
	w.SetInitialValue(w.value)
}

// DiffersFromReference reports whether element i differs from the active
// reference. With no reference, or an unknown reference element, nothing
// differs.
func (w *Widget) DiffersFromReference(i int) bool {
	var ref any
	switch w.refMode {
	case hieratika.ReferenceNone:
		return false
	case hieratika.ReferencePlant:
		ref = element(w.plant, i)
	default:
		ref = element(w.reference, i)
	}
	if ref == nil {
		return false
	}
	return !Equal(element(w.value, i), ref)
}

// Check recomputes the display state and runs the validations.
func (w *Widget) Check() Display {
	n := len(validation.Elements(w.value))
	if n == 0 {
		n = 1
	}
	cells := make([]Cell, n)
	for i := range cells {
		fg := hieratika.ColorStandardForeground
		if !Equal(element(w.value, i), element(w.initial, i)) {
			fg = hieratika.ColorDiffInitChanged
		}
		bg := hieratika.ColorStandardBackground
		if w.readOnly || !w.canWrite {
			bg = hieratika.ColorDisabled
		}
		if w.DiffersFromReference(i) {
			bg = hieratika.ColorPlantOrRefChanged
		}
		cells[i] = Cell{Foreground: fg, Background: bg}
	}

	d := Display{Cells: cells, Title: w.description, Failed: -1}
	if len(w.validations) > 0 {
		env := w.env
		if env == nil {
			env = validation.MapEnv{w.name: w.value}
		}
		if idx, failed := validation.Run(w.validations, env); idx >= 0 {
			for i := range d.Cells {
				d.Cells[i].Background = hieratika.ColorErrorBackground
			}
			d.Error = true
			d.Failed = idx
			d.Title = "Failed @ " + failed.Expression()
		}
	}
	w.display = d
	return d
}

func (w *Widget) String() string {
	return fmt.Sprintf("%s(%s)=%v", w.kind, w.name, w.value)
}
