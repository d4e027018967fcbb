// Package introspect reads table and column metadata out of the connected
// database so the console can render a grid and an edit form for tables it
// has never seen before.
package introspect

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/gridport-io/gridport/internal/database"
	"github.com/gridport-io/gridport/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IntrospectionError wraps a failed schema lookup.
type IntrospectionError struct {
	Table string
	Err   error
}

func (e *IntrospectionError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("introspection failed: %s", e.Err)
	}
	return fmt.Sprintf("introspection of table %q failed: %s", e.Table, e.Err)
}

func (e *IntrospectionError) Unwrap() error {
	return e.Err
}

// Tables whose names begin with this prefix are internal and never listed.
const reservedPrefix = "_"

// Migration/version bookkeeping tables are hidden from the console.
var reservedTables = map[string]struct{}{
	"schema_migrations": {},
	"schema_version":    {},
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to interpolate as a SQL
// identifier. Table names always pass through this gate before they reach a
// query string.
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

type Introspector struct {
	db      *gorm.DB
	dialect database.Dialect
	logger  *zap.SugaredLogger
}

func New(db *gorm.DB, dialect database.Dialect, logger *zap.SugaredLogger) *Introspector {
	return &Introspector{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

// ListTables returns the user-schema table names, sorted, with reserved and
// bookkeeping tables filtered out.
func (in *Introspector) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	var err error
	switch in.dialect {
	case database.DialectPostgreSQL, database.DialectCockroachDB:
		err = in.db.WithContext(ctx).
			Raw("SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = 'public' ORDER BY tablename").
			Scan(&names).Error
	default:
		err = in.db.WithContext(ctx).
			Raw("SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name").
			Scan(&names).Error
	}
	if err != nil {
		return nil, &IntrospectionError{Err: err}
	}

	tables := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, reservedPrefix) {
			continue
		}
		if _, reserved := reservedTables[name]; reserved {
			continue
		}
		if in.dialect == database.DialectSqlLite && strings.HasPrefix(name, "sqlite_") {
			continue
		}
		tables = append(tables, name)
	}
	return tables, nil
}

// HasTable reports whether the named table is visible to the console.
func (in *Introspector) HasTable(ctx context.Context, table string) (bool, error) {
	tables, err := in.ListTables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}

// DescribeColumns returns the column metadata for the named table in
// ordinal position order. An absent table yields an empty descriptor set,
// not an error.
func (in *Introspector) DescribeColumns(ctx context.Context, table string) ([]models.ColumnDescriptor, error) {
	if !ValidIdentifier(table) {
		return nil, &IntrospectionError{Table: table, Err: fmt.Errorf("invalid table name")}
	}
	switch in.dialect {
	case database.DialectPostgreSQL, database.DialectCockroachDB:
		return in.describeColumnsPg(ctx, table)
	default:
		return in.describeColumnsSqlite(ctx, table)
	}
}

type pgColumnRow struct {
	ColumnName        string
	DataType          string
	IsNullable        string
	ColumnDefault     *string
	ForeignTableName  *string
	ForeignColumnName *string
}

func (in *Introspector) describeColumnsPg(ctx context.Context, table string) ([]models.ColumnDescriptor, error) {
	var rows []pgColumnRow
	err := in.db.WithContext(ctx).Raw(`
		SELECT c.column_name,
		       c.data_type,
		       c.is_nullable,
		       c.column_default,
		       fk.foreign_table_name,
		       fk.foreign_column_name
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name,
			       ccu.table_name  AS foreign_table_name,
			       ccu.column_name AS foreign_column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON tc.constraint_name = kcu.constraint_name
			 AND tc.table_schema = kcu.table_schema
			JOIN information_schema.constraint_column_usage ccu
			  ON tc.constraint_name = ccu.constraint_name
			 AND tc.table_schema = ccu.table_schema
			WHERE tc.constraint_type = 'FOREIGN KEY'
			  AND tc.table_name = ?
		) fk ON fk.column_name = c.column_name
		WHERE c.table_schema = 'public' AND c.table_name = ?
		ORDER BY c.ordinal_position`, table, table).
		Scan(&rows).Error
	if err != nil {
		return nil, &IntrospectionError{Table: table, Err: err}
	}

	columns := make([]models.ColumnDescriptor, 0, len(rows))
	for _, row := range rows {
		col := models.ColumnDescriptor{
			Name:          row.ColumnName,
			DataType:      row.DataType,
			IsNullable:    row.IsNullable == "YES",
			ColumnDefault: row.ColumnDefault,
		}
		if row.ForeignTableName != nil {
			col.ForeignTable = *row.ForeignTableName
		}
		if row.ForeignColumnName != nil {
			col.ForeignColumn = *row.ForeignColumnName
		}
		columns = append(columns, col)
	}
	return columns, nil
}

type sqliteColumnRow struct {
	Cid       int     `gorm:"column:cid"`
	Name      string  `gorm:"column:name"`
	Type      string  `gorm:"column:type"`
	NotNull   int     `gorm:"column:notnull"`
	DfltValue *string `gorm:"column:dflt_value"`
	Pk        int     `gorm:"column:pk"`
}

type sqliteForeignKeyRow struct {
	Table string `gorm:"column:table"`
	From  string `gorm:"column:from"`
	To    string `gorm:"column:to"`
}

func (in *Introspector) describeColumnsSqlite(ctx context.Context, table string) ([]models.ColumnDescriptor, error) {
	var rows []sqliteColumnRow
	err := in.db.WithContext(ctx).
		Raw(fmt.Sprintf("PRAGMA table_info(%q)", table)).
		Scan(&rows).Error
	if err != nil {
		return nil, &IntrospectionError{Table: table, Err: err}
	}

	var fks []sqliteForeignKeyRow
	err = in.db.WithContext(ctx).
		Raw(fmt.Sprintf("PRAGMA foreign_key_list(%q)", table)).
		Scan(&fks).Error
	if err != nil {
		return nil, &IntrospectionError{Table: table, Err: err}
	}
	fkByColumn := map[string]sqliteForeignKeyRow{}
	for _, fk := range fks {
		fkByColumn[fk.From] = fk
	}

	columns := make([]models.ColumnDescriptor, 0, len(rows))
	for _, row := range rows {
		col := models.ColumnDescriptor{
			Name:          row.Name,
			DataType:      normalizeSqliteType(row.Type),
			IsNullable:    row.NotNull == 0 && row.Pk == 0,
			ColumnDefault: row.DfltValue,
		}
		if fk, ok := fkByColumn[row.Name]; ok {
			col.ForeignTable = fk.Table
			col.ForeignColumn = fk.To
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// normalizeSqliteType maps sqlite declared types onto the postgres spellings
// the form field mapper understands.
func normalizeSqliteType(declared string) string {
	t := strings.ToLower(declared)
	switch {
	case strings.Contains(t, "bool"):
		return "boolean"
	case strings.Contains(t, "datetime") || strings.Contains(t, "timestamp"):
		return "timestamp with time zone"
	case strings.Contains(t, "int"):
		return "integer"
	case strings.Contains(t, "real") || strings.Contains(t, "floa") || strings.Contains(t, "doub") || strings.Contains(t, "numeric") || strings.Contains(t, "decimal"):
		return "numeric"
	default:
		return "text"
	}
}
