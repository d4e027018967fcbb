package models

import (
	"fmt"
)

// Record is one row of an arbitrary table as a column-name to value mapping.
// Values are whatever the database driver produced: nil, bool, int64,
// float64, string or time.Time. Row identity is the id column.
type Record map[string]interface{}

// ID returns the row identity as a string, or "" when the record has no id.
func (r Record) ID() string {
	v, ok := r["id"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Clone returns a shallow copy so callers can hold drafts that do not alias
// live record-set entries.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ColumnDescriptor is the introspected metadata for one table column.
// Immutable once fetched for a given table.
type ColumnDescriptor struct {
	Name          string  `json:"column_name"`
	DataType      string  `json:"data_type"`
	IsNullable    bool    `json:"is_nullable"`
	ColumnDefault *string `json:"column_default"`
	ForeignTable  string  `json:"foreign_table_name,omitempty"`
	ForeignColumn string  `json:"foreign_column_name,omitempty"`
}

// ChangeEventType tags a ChangeEvent.
type ChangeEventType string

const (
	ChangeInsert ChangeEventType = "INSERT"
	ChangeUpdate ChangeEventType = "UPDATE"
	ChangeDelete ChangeEventType = "DELETE"
	// ChangeResync carries no rows. It is queued when the change feed was
	// interrupted and deltas may have been lost; consumers must refetch.
	ChangeResync ChangeEventType = "RESYNC"
)

// ChangeEvent describes one row mutation pushed over the change feed.
// Inserts carry the full new row, updates carry at least the id plus the
// changed columns, deletes carry the id of the removed row in Old.
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  ChangeEventType `json:"type"`
	New   Record          `json:"new,omitempty"`
	Old   Record          `json:"old,omitempty"`
}

// RowID returns the identity of the row the event refers to.
func (e ChangeEvent) RowID() string {
	switch e.Type {
	case ChangeDelete:
		return e.Old.ID()
	default:
		return e.New.ID()
	}
}
