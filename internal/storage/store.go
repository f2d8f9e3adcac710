package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/TheCrowned/Post-SMTP/pkg/storage"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// LogTableSuffix is appended to the configured prefix to name the log table.
const LogTableSuffix = "post_smtp_logs"

// SchemaVersion is recorded in the options store once the log table exists.
const (
	SchemaVersion       = "1.0.1"
	SchemaVersionOption = "postman_db_version"
)

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

type DBInterface interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
	DriverName() string
}

// SQLStore is the log store and query engine over a PostgreSQL or MySQL database.
type SQLStore struct {
	db      DBInterface
	dialect dialect
	prefix  string
	table   string
	options *OptionStore
}

func NewSQLStore(driver, dsn, prefix string) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	store, err := NewSQLStoreFromDB(db, prefix)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStoreFromDB wraps an open connection or transaction.
func NewSQLStoreFromDB(db DBInterface, prefix string) (*SQLStore, error) {
	if !prefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		prefix:  prefix,
		table:   prefix + LogTableSuffix,
		options: newOptionStore(db, d, prefix),
	}, nil
}

// Table is the fully prefixed log table name.
func (s *SQLStore) Table() string { return s.table }

// Options is the options store sharing this store's connection.
func (s *SQLStore) Options() storage.OptionStore { return s.options }

func (s *SQLStore) ledgerTable() string { return s.table + "_legacy" }

func (s *SQLStore) Begin() (storage.Store, error) {
	tx, err := s.beginx(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *SQLStore) beginx(ctx context.Context, opts *sql.TxOptions) (*SQLStore, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.BeginTxx(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &SQLStore{
			db:      tx,
			dialect: s.dialect,
			prefix:  s.prefix,
			table:   s.table,
			options: newOptionStore(tx, s.dialect, s.prefix),
		}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *SQLStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *SQLStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *SQLStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// inTx runs fn in a transaction, reusing the current one when the store already is a transaction.
func (s *SQLStore) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *SQLStore) error) (err error) {
	if _, ok := s.db.(*sqlx.Tx); ok {
		return fn(s)
	}
	tx, err := s.beginx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

func (s *SQLStore) col(field string) string {
	return s.dialect.quote(field)
}

// selectColumns reads NULL text columns as empty strings.
func (s *SQLStore) selectColumns() string {
	cols := []string{"id"}
	for _, f := range models.LogFields {
		switch f {
		case models.FieldSuccess, models.FieldTime:
			cols = append(cols, s.col(f))
		default:
			cols = append(cols, fmt.Sprintf("COALESCE(%s, '') AS %s", s.col(f), s.col(f)))
		}
	}
	return strings.Join(cols, ", ")
}

// EnsureSchema creates the log and legacy ledger tables unless the recorded schema version is current.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	version, ok, err := s.options.GetOption(ctx, SchemaVersionOption)
	if err != nil {
		return &storage.StoreError{Op: "read schema version", Err: err}
	}
	if ok && version == SchemaVersion {
		return nil
	}
	for _, stmt := range []string{
		s.dialect.createLogTable(s.table),
		s.dialect.createLedgerTable(s.ledgerTable()),
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &storage.StoreError{Op: "create log table", Err: err}
		}
	}
	if err := s.options.SetOption(ctx, SchemaVersionOption, SchemaVersion); err != nil {
		return &storage.StoreError{Op: "write schema version", Err: err}
	}
	return nil
}

// Insert writes rec as a new row and returns its id. A zero Time is replaced by now.
func (s *SQLStore) Insert(ctx context.Context, rec models.LogRecord) (int64, error) {
	if err := storage.ValidateRecord(rec); err != nil {
		return 0, err
	}
	if rec.Time == 0 {
		rec.Time = time.Now().Unix()
	}
	id, err := s.insertRow(ctx, rec.Values())
	if err != nil {
		return 0, &storage.StoreError{Op: "insert log", Err: err}
	}
	return id, nil
}

func (s *SQLStore) insertRow(ctx context.Context, values models.Fields) (int64, error) {
	names := sortedFields(values)
	cols := make([]string, len(names))
	marks := make([]string, len(names))
	args := make([]interface{}, len(names))
	for i, name := range names {
		cols[i] = s.col(name)
		marks[i] = "?"
		args[i] = columnValue(name, values[name])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.col(s.table), strings.Join(cols, ", "), strings.Join(marks, ", "))

	if s.dialect.returningID() {
		var id int64
		if err := s.db.QueryRowxContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Update applies a partial update. It reports false when no row has the id.
func (s *SQLStore) Update(ctx context.Context, id int64, fields models.Fields) (bool, error) {
	if len(fields) == 0 {
		return false, storage.Invalid("fields", "nothing to update")
	}
	if err := storage.ValidateFields(fields); err != nil {
		return false, err
	}
	names := sortedFields(fields)
	sets := make([]string, len(names))
	args := make([]interface{}, 0, len(names)+1)
	for i, name := range names {
		sets[i] = s.col(name) + " = ?"
		args = append(args, columnValue(name, fields[name]))
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		s.q(fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", s.col(s.table), strings.Join(sets, ", "))), args...)
	if err != nil {
		return false, &storage.StoreError{Op: "update log", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &storage.StoreError{Op: "update log", Err: err}
	}
	if n > 0 {
		return true, nil
	}
	// MySQL reports 0 affected rows when the values are unchanged.
	if s.dialect.returningID() {
		return false, nil
	}
	return s.exists(ctx, id)
}

func (s *SQLStore) exists(ctx context.Context, id int64) (bool, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, s.q(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", s.col(s.table))), id)
	if err != nil {
		return false, &storage.StoreError{Op: "check log", Err: err}
	}
	return n > 0, nil
}

// TruncateKeepLatest deletes every row but the keep highest ids in one statement.
func (s *SQLStore) TruncateKeepLatest(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, storage.Invalid("keep", "must not be negative")
	}
	res, err := s.db.ExecContext(ctx, s.q(s.dialect.truncateKeepLatest(s.table)), keep)
	if err != nil {
		return 0, &storage.StoreError{Op: "truncate logs", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &storage.StoreError{Op: "truncate logs", Err: err}
	}
	return n, nil
}

func sortedFields(fields models.Fields) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func columnValue(name string, v interface{}) interface{} {
	switch name {
	case models.FieldTime:
		ts, _ := storage.TimeValue(v)
		return ts
	case models.FieldSuccess:
		if o, ok := v.(models.Outcome); ok {
			return o
		}
		return models.ParseOutcome(storage.StringValue(v))
	}
	return storage.StringValue(v)
}
