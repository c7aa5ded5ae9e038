package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/richard-senior/podds/internal/logger"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// Persistable is implemented by every row type. Columns come from struct tags:
//
//	column  column name (defaults to the lower cased field name)
//	dbtype  sqlite column definition; fields without one are not persisted
//	primary "true" for primary key columns
//	index   "true" to create a single column index
type Persistable interface {
	TableName() string
	PrimaryKey() map[string]any
}

// beforeSaver rows can validate or normalise themselves before being written
type beforeSaver interface {
	BeforeSave() error
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// persistedField is one struct field mapped to a column
type persistedField struct {
	index   int
	column  string
	dbType  string
	primary bool
	indexed bool
}

// fieldsOf returns the persisted fields of a row type in declaration order
func fieldsOf(t reflect.Type) []persistedField {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var fields []persistedField
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		dbType := field.Tag.Get("dbtype")
		if dbType == "" {
			continue
		}
		column := field.Tag.Get("column")
		if column == "" {
			column = strings.ToLower(field.Name)
		}
		fields = append(fields, persistedField{
			index:   i,
			column:  column,
			dbType:  dbType,
			primary: field.Tag.Get("primary") == "true",
			indexed: field.Tag.Get("index") == "true",
		})
	}
	return fields
}

// createTableSQL generates CREATE TABLE and CREATE INDEX statements from struct tags
func createTableSQL(obj Persistable) (string, []string) {
	table := obj.TableName()
	var columns, primaryKeys, indexes []string

	for _, f := range fieldsOf(reflect.TypeOf(obj)) {
		columns = append(columns, fmt.Sprintf("%s %s", f.column, f.dbType))
		if f.primary {
			primaryKeys = append(primaryKeys, f.column)
		}
		if f.indexed {
			indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", table, f.column, table, f.column))
		}
	}
	if len(primaryKeys) > 0 {
		columns = append(columns, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(primaryKeys, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(columns, ", ")), indexes
}

// createTable creates the table and its indexes for a row type
func createTable(ctx context.Context, q querier, obj Persistable) error {
	create, indexes := createTableSQL(obj)
	logger.Debug("Creating table with SQL", create)
	if _, err := q.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create table %s: %w", obj.TableName(), err)
	}
	for _, query := range indexes {
		if _, err := q.ExecContext(ctx, query); err != nil {
			logger.Warn("Failed to create index", err)
		}
	}
	return nil
}

// buildWhereClause builds a WHERE clause from a primary key map, columns in name order
func buildWhereClause(primaryKey map[string]any) (string, []any) {
	columns := make([]string, 0, len(primaryKey))
	for c := range primaryKey {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	conditions := make([]string, len(columns))
	values := make([]any, len(columns))
	for i, c := range columns {
		conditions[i] = c + " = ?"
		values[i] = primaryKey[c]
	}
	return strings.Join(conditions, " AND "), values
}

// exists checks whether the row's primary key is already stored
func exists(ctx context.Context, q querier, obj Persistable) (bool, error) {
	where, values := buildWhereClause(obj.PrimaryKey())
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", obj.TableName(), where)
	if err := q.QueryRowContext(ctx, query, values...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check existence in %s: %w", obj.TableName(), err)
	}
	return count > 0, nil
}

// save inserts the row, or updates it when its primary key already exists
func save(ctx context.Context, q querier, obj Persistable) error {
	if b, ok := obj.(beforeSaver); ok {
		if err := b.BeforeSave(); err != nil {
			return fmt.Errorf("before save hook failed: %w", err)
		}
	}

	found, err := exists(ctx, q, obj)
	if err != nil {
		return err
	}

	value := reflect.Indirect(reflect.ValueOf(obj))
	fields := fieldsOf(value.Type())
	table := obj.TableName()

	var query string
	var values []any
	if found {
		var set []string
		for _, f := range fields {
			if f.primary {
				continue
			}
			set = append(set, f.column+" = ?")
			values = append(values, value.Field(f.index).Interface())
		}
		where, keys := buildWhereClause(obj.PrimaryKey())
		values = append(values, keys...)
		query = fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(set, ", "), where)
	} else {
		columns := make([]string, len(fields))
		placeholders := make([]string, len(fields))
		for i, f := range fields {
			columns[i] = f.column
			placeholders[i] = "?"
			values = append(values, value.Field(f.index).Interface())
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	}

	logger.Debug("Save SQL", query)
	if _, err := q.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to save into %s: %w", table, err)
	}
	return nil
}

// findWhere selects every row of T matching a WHERE clause. An empty clause selects all rows.
func findWhere[T any, P interface {
	*T
	Persistable
}](ctx context.Context, q querier, where string, args ...any) ([]P, error) {
	table := P(new(T)).TableName()
	fields := fieldsOf(reflect.TypeOf(new(T)))
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.column
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table)
	if where != "" {
		query += " WHERE " + where
	}
	logger.Debug("FindWhere SQL", query)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var results []P
	for rows.Next() {
		row := new(T)
		value := reflect.ValueOf(row).Elem()
		destinations := make([]any, len(fields))
		for i, f := range fields {
			destinations[i] = value.Field(f.index).Addr().Interface()
		}
		if err := rows.Scan(destinations...); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", table, err)
		}
		results = append(results, P(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows from %s: %w", table, err)
	}
	return results, nil
}

// findByPrimaryKey loads the single row with the given key into a new T
func findByPrimaryKey[T any, P interface {
	*T
	Persistable
}](ctx context.Context, q querier, primaryKey map[string]any) (P, error) {
	where, values := buildWhereClause(primaryKey)
	rows, err := findWhere[T, P](ctx, q, where, values...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %v: %w", P(new(T)).TableName(), primaryKey, ErrNotFound)
	}
	return rows[0], nil
}

// deleteRow removes the row with the object's primary key
func deleteRow(ctx context.Context, q querier, obj Persistable) error {
	where, values := buildWhereClause(obj.PrimaryKey())
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", obj.TableName(), where)
	if _, err := q.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", obj.TableName(), err)
	}
	return nil
}
