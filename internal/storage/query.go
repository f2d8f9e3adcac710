package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/TheCrowned/Post-SMTP/pkg/storage"
	"github.com/jmoiron/sqlx"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// filter builds the WHERE clause shared by the filtered count and the page query.
func (s *SQLStore) filter(q models.Query) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if q.Search != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(q.Search)) + "%"
		ors := make([]string, len(models.SearchableFields))
		for i, f := range models.SearchableFields {
			ors[i] = fmt.Sprintf("LOWER(%s) LIKE ?%s", s.col(f), s.dialect.likeEscape())
			args = append(args, pattern)
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	if q.From != nil {
		conds = append(conds, s.col(models.FieldTime)+" >= ?")
		args = append(args, *q.From)
	}
	if q.To != nil {
		conds = append(conds, s.col(models.FieldTime)+" <= ?")
		args = append(args, *q.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// orderClause only ever emits allow-listed column names.
func (s *SQLStore) orderClause(q models.Query) string {
	field, dir := storage.ResolveOrder(q)
	dir = strings.ToUpper(dir)
	if field == "id" {
		return " ORDER BY id " + dir
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", s.col(field), dir, dir)
}

// List returns the requested page plus the total and filtered counts, read from one snapshot.
func (s *SQLStore) List(ctx context.Context, q models.Query) (models.Page, error) {
	if err := storage.ValidateQuery(q); err != nil {
		return models.Page{}, err
	}
	page := models.Page{Rows: []models.LogRecord{}}
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := s.inTx(ctx, opts, func(tx *SQLStore) error {
		where, args := tx.filter(q)
		from := " FROM " + tx.col(tx.table)

		if err := tx.db.GetContext(ctx, &page.Total, "SELECT COUNT(*)"+from); err != nil {
			return fmt.Errorf("count logs: %w", err)
		}
		if err := tx.db.GetContext(ctx, &page.Filtered, tx.q("SELECT COUNT(*)"+from+where), args...); err != nil {
			return fmt.Errorf("count filtered logs: %w", err)
		}
		if page.Filtered == 0 {
			return nil
		}

		query := "SELECT " + tx.selectColumns() + from + where + tx.orderClause(q) + tx.dialect.window(q.Unbounded())
		pageArgs := append([]interface{}{}, args...)
		if !q.Unbounded() {
			pageArgs = append(pageArgs, q.Limit)
		}
		pageArgs = append(pageArgs, q.Offset)
		if err := tx.db.SelectContext(ctx, &page.Rows, tx.q(query), pageArgs...); err != nil {
			return fmt.Errorf("select logs: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Page{}, &storage.StoreError{Op: "list logs", Err: err}
	}
	return page, nil
}

// GetByIDs returns the rows with the given ids, newest first. The AllRecords sentinel selects every row.
func (s *SQLStore) GetByIDs(ctx context.Context, ids []int64) ([]models.LogRecord, error) {
	all, err := storage.ValidateIDs(ids)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + s.selectColumns() + " FROM " + s.col(s.table)
	var args []interface{}
	if !all {
		query, args, err = sqlx.In(query+" WHERE id IN (?)", ids)
		if err != nil {
			return nil, err
		}
	}
	rows := []models.LogRecord{}
	if err := s.db.SelectContext(ctx, &rows, s.q(query+" ORDER BY id DESC"), args...); err != nil {
		return nil, &storage.StoreError{Op: "get logs", Err: err}
	}
	return rows, nil
}

func (s *SQLStore) GetAll(ctx context.Context) ([]models.LogRecord, error) {
	return s.GetByIDs(ctx, []int64{models.AllRecords})
}

func (s *SQLStore) GetOne(ctx context.Context, id int64) (models.LogRecord, error) {
	var rec models.LogRecord
	err := s.db.GetContext(ctx, &rec,
		s.q("SELECT "+s.selectColumns()+" FROM "+s.col(s.table)+" WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return models.LogRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return models.LogRecord{}, &storage.StoreError{Op: "get log", Err: err}
	}
	return rec, nil
}

// GetField returns one column of one row as its raw string value; NULL reads as "".
func (s *SQLStore) GetField(ctx context.Context, id int64, field string) (string, error) {
	if !models.IsKnownField(field) {
		return "", storage.Invalid("field", "unknown field %q", field)
	}
	var v sql.NullString
	err := s.db.QueryRowxContext(ctx,
		s.q(fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", s.col(field), s.col(s.table))), id).Scan(&v)
	if err == sql.ErrNoRows {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", &storage.StoreError{Op: "get log field", Err: err}
	}
	return v.String, nil
}

// Delete removes the given ids, or every row for the AllRecords sentinel.
func (s *SQLStore) Delete(ctx context.Context, ids []int64) (bool, error) {
	all, err := storage.ValidateIDs(ids)
	if err != nil {
		return false, err
	}
	query := "DELETE FROM " + s.col(s.table)
	var args []interface{}
	if !all {
		query, args, err = sqlx.In(query+" WHERE id IN (?)", ids)
		if err != nil {
			return false, err
		}
	}
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, &storage.StoreError{Op: "delete logs", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &storage.StoreError{Op: "delete logs", Err: err}
	}
	return n > 0, nil
}
