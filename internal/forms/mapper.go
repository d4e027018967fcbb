// Package forms derives editable field sets from introspected column
// metadata and manages the draft record of one open create/edit form.
package forms

import (
	"strings"

	"github.com/gridport-io/gridport/internal/models"
)

// Mode selects which columns are editable.
type Mode int

const (
	// ModeCreate excludes server-generated columns (those with defaults)
	// in addition to the system columns.
	ModeCreate Mode = iota
	ModeEdit
)

// FieldKind selects the input representation for a column.
type FieldKind int

const (
	// FieldText is the fallback representation.
	FieldText FieldKind = iota
	// FieldBoolean renders as a tri-state select: unset / true / false.
	FieldBoolean
	// FieldTimestamp renders as a datetime-local input.
	FieldTimestamp
	// FieldNumber renders as a numeric input.
	FieldNumber
)

// FieldSpec is one editable input derived from a ColumnDescriptor.
type FieldSpec struct {
	Column   string    `json:"column"`
	Kind     FieldKind `json:"kind"`
	DataType string    `json:"data_type"`
	Required bool      `json:"required"`
	Default  *string   `json:"default,omitempty"`
}

// systemColumns are owned by the database and never editable, regardless of
// nullability.
var systemColumns = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
}

// IsSystemColumn reports whether the named column is excluded from every
// editable field set.
func IsSystemColumn(name string) bool {
	_, ok := systemColumns[name]
	return ok
}

// Editable reports whether the column may appear in a form for the given
// mode. Exclusion always wins over the required flag: a NOT NULL system
// column never blocks submission.
func Editable(col models.ColumnDescriptor, mode Mode) bool {
	if IsSystemColumn(col.Name) {
		return false
	}
	if mode == ModeCreate && col.ColumnDefault != nil {
		return false
	}
	return true
}

// MapColumn maps one column to its input representation and validation rule.
func MapColumn(col models.ColumnDescriptor) FieldSpec {
	return FieldSpec{
		Column:   col.Name,
		Kind:     KindForType(col.DataType),
		DataType: col.DataType,
		Required: !col.IsNullable,
		Default:  col.ColumnDefault,
	}
}

// EditableFields returns the field specs for the columns that survive the
// mode's exclusion rules, in column order.
func EditableFields(columns []models.ColumnDescriptor, mode Mode) []FieldSpec {
	fields := make([]FieldSpec, 0, len(columns))
	for _, col := range columns {
		if !Editable(col, mode) {
			continue
		}
		fields = append(fields, MapColumn(col))
	}
	return fields
}

// KindForType maps a declared column type to a field kind.
func KindForType(dataType string) FieldKind {
	t := strings.ToLower(dataType)
	switch {
	case t == "boolean" || t == "bool":
		return FieldBoolean
	case strings.Contains(t, "timestamp"):
		return FieldTimestamp
	case t == "integer" || t == "numeric" || t == "bigint" || t == "smallint" ||
		t == "real" || t == "decimal" || t == "double precision":
		return FieldNumber
	default:
		return FieldText
	}
}

// Normalize applies the sole type coercion this layer owns: an empty string
// input becomes null. Everything else is passed through for the database to
// parse.
func Normalize(value interface{}) interface{} {
	if s, ok := value.(string); ok && s == "" {
		return nil
	}
	return value
}
