package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gridport-io/gridport/internal/database"
	"github.com/gridport-io/gridport/internal/introspect"
	"github.com/gridport-io/gridport/internal/models"
	"github.com/gridport-io/gridport/internal/signalbus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const topicPrefix = "table:"

// Topic returns the signal bus topic carrying change events for a table.
func Topic(table string) string {
	return topicPrefix + table
}

// TopicTable returns the table a change topic refers to.
func TopicTable(topic string) string {
	return strings.TrimPrefix(topic, topicPrefix)
}

// Store performs generic row operations against any introspected table and
// publishes a change event for every successful write. Reads and writes are
// refused for tables the introspector does not list, which also keeps
// unvalidated names out of SQL.
type Store struct {
	db           *gorm.DB
	introspector *introspect.Introspector
	bus          signalbus.SignalBus
	transaction  database.TransactionFunc
	logger       *zap.SugaredLogger
}

func NewStore(db *gorm.DB, introspector *introspect.Introspector, bus signalbus.SignalBus, transaction database.TransactionFunc, logger *zap.SugaredLogger) *Store {
	return &Store{
		db:           db,
		introspector: introspector,
		bus:          bus,
		transaction:  transaction,
		logger:       logger,
	}
}

func (s *Store) checkTable(ctx context.Context, table string) error {
	if !introspect.ValidIdentifier(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	ok, err := s.introspector.HasTable(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	return nil
}

// hasColumn reports whether the table declares the named column.
func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	columns, err := s.introspector.DescribeColumns(ctx, table)
	if err != nil {
		return false, err
	}
	for _, col := range columns {
		if col.Name == column {
			return true, nil
		}
	}
	return false, nil
}

// FetchRows selects up to limit rows. Ordering is fixed: by name where the
// table has a name column, otherwise by id.
func (s *Store) FetchRows(ctx context.Context, table string, limit int) ([]models.Record, error) {
	if err := s.checkTable(ctx, table); err != nil {
		return nil, &FetchError{Table: table, Err: err}
	}
	orderBy := "id"
	if ok, err := s.hasColumn(ctx, table, "name"); err != nil {
		return nil, &FetchError{Table: table, Err: err}
	} else if ok {
		orderBy = "name"
	}

	var rows []map[string]interface{}
	res := s.db.WithContext(ctx).Table(table).Order(orderBy).Limit(limit).Find(&rows)
	if res.Error != nil {
		return nil, &FetchError{Table: table, Err: res.Error}
	}
	out := make([]models.Record, len(rows))
	for i, row := range rows {
		out[i] = models.Record(row)
	}
	return out, nil
}

// FetchRow selects one row by id.
func (s *Store) FetchRow(ctx context.Context, table, id string) (models.Record, error) {
	if err := s.checkTable(ctx, table); err != nil {
		return nil, &FetchError{Table: table, Err: err}
	}
	var rows []map[string]interface{}
	res := s.db.WithContext(ctx).Table(table).Where("id = ?", id).Limit(1).Find(&rows)
	if res.Error != nil {
		return nil, &FetchError{Table: table, Err: res.Error}
	}
	if len(rows) == 0 {
		return nil, &ErrNotFound{Table: table, ID: id}
	}
	return models.Record(rows[0]), nil
}

// InsertRow creates a row from the draft and returns the stored row as the
// database produced it, defaults included. An insert change event is
// published on the table's topic.
func (s *Store) InsertRow(ctx context.Context, table string, draft models.Record) (models.Record, error) {
	if err := s.checkTable(ctx, table); err != nil {
		return nil, &WriteError{Table: table, Op: "insert", Err: err}
	}
	values := map[string]interface{}(draft.Clone())
	if values["id"] == nil {
		// map-based creates do not report generated keys back, so mint the
		// id client side unless the column is server-generated
		columns, err := s.introspector.DescribeColumns(ctx, table)
		if err != nil {
			return nil, &WriteError{Table: table, Op: "insert", Err: err}
		}
		for _, col := range columns {
			if col.Name == "id" && col.ColumnDefault == nil {
				values["id"] = uuid.NewString()
				break
			}
		}
	}
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		return tx.Table(table).Create(values).Error
	})
	if err != nil {
		return nil, &WriteError{Table: table, Op: "insert", Err: err}
	}

	created := models.Record(values)
	if id := created.ID(); id != "" {
		// re-read so defaults and triggers are reflected in the event
		if stored, err := s.FetchRow(ctx, table, id); err == nil {
			created = stored
		}
	}
	s.bus.Publish(Topic(table), models.ChangeEvent{
		Table: table,
		Type:  models.ChangeInsert,
		New:   created,
	})
	return created, nil
}

// UpdateRow applies a partial record to the row with the given id and
// publishes an update change event carrying the changed fields plus the id.
func (s *Store) UpdateRow(ctx context.Context, table, id string, partial models.Record) error {
	if err := s.checkTable(ctx, table); err != nil {
		return &WriteError{Table: table, Op: "update", Err: err}
	}
	values := map[string]interface{}(partial.Clone())
	delete(values, "id")
	if len(values) == 0 {
		return nil
	}

	var affected int64
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Table(table).Where("id = ?", id).Updates(values)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return &WriteError{Table: table, Op: "update", Err: err}
	}
	if affected == 0 {
		return &ErrNotFound{Table: table, ID: id}
	}

	delta := models.Record(values).Clone()
	delta["id"] = id
	s.bus.Publish(Topic(table), models.ChangeEvent{
		Table: table,
		Type:  models.ChangeUpdate,
		New:   delta,
	})
	return nil
}

// DeleteRow removes the row with the given id and publishes a delete change
// event identifying the removed row.
func (s *Store) DeleteRow(ctx context.Context, table, id string) error {
	if err := s.checkTable(ctx, table); err != nil {
		return &WriteError{Table: table, Op: "delete", Err: err}
	}
	var affected int64
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Exec(fmt.Sprintf("DELETE FROM %q WHERE id = ?", table), id)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return &WriteError{Table: table, Op: "delete", Err: err}
	}
	if affected == 0 {
		return &ErrNotFound{Table: table, ID: id}
	}
	s.bus.Publish(Topic(table), models.ChangeEvent{
		Table: table,
		Type:  models.ChangeDelete,
		Old:   models.Record{"id": id},
	})
	return nil
}
