package records

import (
	"github.com/gridport-io/gridport/internal/models"
)

// RecordSet is the client-held, live-updated page of rows for one table.
// Row identity (the id column) is unique within the set. It is mutated in
// place by Apply and replaced wholesale on table switch or refresh.
//
// RecordSet is not safe for concurrent use; the Browser serializes access.
type RecordSet struct {
	records []models.Record
	index   map[string]int
}

func NewRecordSet(records []models.Record) *RecordSet {
	s := &RecordSet{}
	s.Replace(records)
	return s
}

// Replace swaps in a freshly fetched row list, dropping duplicates by id.
func (s *RecordSet) Replace(records []models.Record) {
	s.records = s.records[:0]
	s.index = make(map[string]int, len(records))
	for _, rec := range records {
		id := rec.ID()
		if _, dup := s.index[id]; dup {
			continue
		}
		s.index[id] = len(s.records)
		s.records = append(s.records, rec.Clone())
	}
}

// Apply reconciles one change event into the set:
//
//   - Insert appends the new record unless its id is already present, so
//     duplicate delivery is idempotent.
//   - Update shallow-merges the event's fields over the existing record,
//     preserving fields absent from the partial payload. An update for an
//     unknown id is dropped, never turned into a synthetic insert.
//   - Delete removes the matching record; an unknown id is a no-op.
//   - Resync carries no rows and is ignored here; the owning session
//     refetches instead.
func (s *RecordSet) Apply(ev models.ChangeEvent) {
	switch ev.Type {
	case models.ChangeInsert:
		id := ev.New.ID()
		if _, exists := s.index[id]; exists {
			return
		}
		s.index[id] = len(s.records)
		s.records = append(s.records, ev.New.Clone())
	case models.ChangeUpdate:
		i, exists := s.index[ev.New.ID()]
		if !exists {
			return
		}
		for k, v := range ev.New {
			s.records[i][k] = v
		}
	case models.ChangeDelete:
		id := ev.Old.ID()
		i, exists := s.index[id]
		if !exists {
			return
		}
		s.records = append(s.records[:i], s.records[i+1:]...)
		delete(s.index, id)
		for j := i; j < len(s.records); j++ {
			s.index[s.records[j].ID()] = j
		}
	}
}

// Get returns a copy of the record with the given id.
func (s *RecordSet) Get(id string) (models.Record, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.records[i].Clone(), true
}

// Records returns copies of the rows in set order.
func (s *RecordSet) Records() []models.Record {
	out := make([]models.Record, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

func (s *RecordSet) Len() int {
	return len(s.records)
}
