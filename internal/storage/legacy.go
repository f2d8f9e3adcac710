package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/TheCrowned/Post-SMTP/pkg/storage"
)

// LegacyPostType marks the posts that carried a log record in their metadata.
const LegacyPostType = "postman_sent_mail"

// LegacySource reads log records stored as post metadata in <prefix>posts / <prefix>postmeta.
type LegacySource struct {
	db      DBInterface
	dialect dialect
	posts   string
	meta    string
}

// LegacySource returns the legacy metadata source sharing this store's connection and prefix.
func (s *SQLStore) LegacySource() *LegacySource {
	return &LegacySource{
		db:      s.db,
		dialect: s.dialect,
		posts:   s.prefix + "posts",
		meta:    s.prefix + "postmeta",
	}
}

func (l *LegacySource) RecordIDs(ctx context.Context) ([]int64, error) {
	ids := []int64{}
	err := l.db.SelectContext(ctx, &ids,
		l.db.Rebind(fmt.Sprintf("SELECT id FROM %s WHERE post_type = ? ORDER BY id", l.dialect.quote(l.posts))), LegacyPostType)
	if err != nil {
		return nil, fmt.Errorf("list legacy posts: %w", err)
	}
	return ids, nil
}

func (l *LegacySource) Field(ctx context.Context, id int64, key string) (string, bool, error) {
	var v sql.NullString
	err := l.db.GetContext(ctx, &v, l.db.Rebind(fmt.Sprintf(
		"SELECT meta_value FROM %s WHERE post_id = ? AND meta_key = ? ORDER BY meta_id LIMIT 1", l.dialect.quote(l.meta))), id, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read legacy field %s of %d: %w", key, id, err)
	}
	return v.String, true, nil
}

func (l *LegacySource) DeleteField(ctx context.Context, id int64, key string) error {
	_, err := l.db.ExecContext(ctx, l.db.Rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE post_id = ? AND meta_key = ?", l.dialect.quote(l.meta))), id, key)
	if err != nil {
		return fmt.Errorf("delete legacy field %s of %d: %w", key, id, err)
	}
	return nil
}

// MigrateLegacy copies every legacy field into the log table, deleting each field once written.
// The ledger table maps legacy ids to log rows, so an interrupted run resumes into the same rows.
// A log row is only created for a record that still holds a field that can be written.
func (s *SQLStore) MigrateLegacy(ctx context.Context, src storage.LegacySource) (models.MigrationReport, error) {
	var report models.MigrationReport
	ids, err := src.RecordIDs(ctx)
	if err != nil {
		return report, &storage.StoreError{Op: "list legacy records", Err: err}
	}
	for _, legacyID := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Records++
		pending, failed := storage.ReadLegacyRecord(ctx, src, legacyID)
		report.Failed += failed
		if len(pending) == 0 {
			continue
		}
		logID, err := s.ledgerRow(ctx, legacyID)
		if err != nil {
			report.Failed += len(pending)
			continue
		}
		for _, field := range pending {
			if !s.migrateField(ctx, src, legacyID, logID, field) {
				report.Failed++
				continue
			}
			report.Migrated++
		}
	}
	return report, nil
}

func (s *SQLStore) migrateField(ctx context.Context, src storage.LegacySource, legacyID, logID int64, field storage.LegacyField) bool {
	updated, err := s.Update(ctx, logID, field.Fields)
	if err != nil || !updated {
		return false
	}
	return src.DeleteField(ctx, legacyID, field.Key) == nil
}

// ledgerRow returns the log row of a legacy record, creating it on first sight.
func (s *SQLStore) ledgerRow(ctx context.Context, legacyID int64) (int64, error) {
	var logID int64
	err := s.inTx(ctx, nil, func(tx *SQLStore) error {
		ledger := tx.col(tx.ledgerTable())
		// A ledger entry whose log row was deleted since is dropped and recreated.
		_, err := tx.db.ExecContext(ctx, tx.q(fmt.Sprintf(
			"DELETE FROM %s WHERE legacy_id = ? AND NOT EXISTS (SELECT 1 FROM %s t WHERE t.id = %s.log_id)",
			ledger, tx.col(tx.table), ledger)), legacyID)
		if err != nil {
			return err
		}
		err = tx.db.GetContext(ctx, &logID, tx.q(fmt.Sprintf("SELECT log_id FROM %s WHERE legacy_id = ?", ledger)), legacyID)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}
		logID, err = tx.insertRow(ctx, models.Fields{
			models.FieldSuccess: models.Failed(""),
			models.FieldTime:    time.Now().Unix(),
		})
		if err != nil {
			return err
		}
		_, err = tx.db.ExecContext(ctx, tx.q(fmt.Sprintf("INSERT INTO %s (legacy_id, log_id) VALUES (?, ?)", ledger)), legacyID, logID)
		return err
	})
	if err != nil {
		return 0, &storage.StoreError{Op: "migrate legacy record", Err: err}
	}
	return logID, nil
}
