package forms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gridport-io/gridport/internal/models"
)

// ErrSubmitInFlight is returned when Submit is called while a previous
// submission has not completed yet.
var ErrSubmitInFlight = errors.New("a submission is already in flight")

// ErrClosed is returned when a closed form is used.
var ErrClosed = errors.New("form is closed")

// RequiredFieldError reports a required field left unset at submit time.
type RequiredFieldError struct {
	Field string
}

func (e *RequiredFieldError) Error() string {
	return fmt.Sprintf("required field %q is not set", e.Field)
}

// UnknownFieldError reports a write to a field outside the editable set.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("field %q is not editable", e.Field)
}

// SaveFunc persists a submitted draft.
type SaveFunc func(ctx context.Context, draft models.Record) error

// RecordForm is the state of one open create/edit form. The draft is an
// independent copy of the initial record, so concurrent reconciler activity
// on the record set never corrupts an open form.
type RecordForm struct {
	mu     sync.Mutex
	fields []FieldSpec
	byName map[string]FieldSpec
	draft  models.Record
	mode   Mode
	save   SaveFunc
	busy   bool
	err    error
	open   bool
}

// NewRecordForm opens a form over the given columns. In edit mode the
// editable subset of initial seeds the draft; in create mode every editable
// field starts as null.
func NewRecordForm(columns []models.ColumnDescriptor, initial models.Record, mode Mode, save SaveFunc) *RecordForm {
	fields := EditableFields(columns, mode)
	byName := make(map[string]FieldSpec, len(fields))
	draft := make(models.Record, len(fields))
	for _, f := range fields {
		byName[f.Column] = f
		if initial != nil {
			draft[f.Column] = Normalize(initial[f.Column])
		} else {
			draft[f.Column] = nil
		}
	}
	return &RecordForm{
		fields: fields,
		byName: byName,
		draft:  draft,
		mode:   mode,
		save:   save,
		open:   true,
	}
}

// Fields returns the editable field specs in column order.
func (f *RecordForm) Fields() []FieldSpec {
	return f.fields
}

// Mode returns the mode the form was opened in.
func (f *RecordForm) Mode() Mode {
	return f.mode
}

// SetField updates one draft value. Empty strings are normalized to null.
// Writes outside the editable field set are rejected, which guarantees the
// submitted draft contains exactly the filtered column set.
func (f *RecordForm) SetField(name string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return ErrClosed
	}
	if _, ok := f.byName[name]; !ok {
		return &UnknownFieldError{Field: name}
	}
	f.draft[name] = Normalize(value)
	return nil
}

// Draft returns a copy of the current draft record.
func (f *RecordForm) Draft() models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft.Clone()
}

// Submit validates required fields, then invokes the save callback with a
// copy of the draft. On success the form closes; on failure the error is
// retained, the form stays open and the draft is preserved for correction.
// A second Submit while one is in flight fails fast with ErrSubmitInFlight.
func (f *RecordForm) Submit(ctx context.Context) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.busy {
		f.mu.Unlock()
		return ErrSubmitInFlight
	}
	f.err = nil
	for _, spec := range f.fields {
		if spec.Required && f.draft[spec.Column] == nil {
			err := &RequiredFieldError{Field: spec.Column}
			f.err = err
			f.mu.Unlock()
			return err
		}
	}
	f.busy = true
	draft := f.draft.Clone()
	save := f.save
	f.mu.Unlock()

	err := save(ctx, draft)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
	if err != nil {
		f.err = err
		return err
	}
	f.open = false
	return nil
}

// Cancel discards the draft and closes the form.
func (f *RecordForm) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
}

// Err returns the error of the last failed submission, if any.
func (f *RecordForm) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Busy reports whether a submission is in flight.
func (f *RecordForm) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

// IsOpen reports whether the form is still accepting edits.
func (f *RecordForm) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}
