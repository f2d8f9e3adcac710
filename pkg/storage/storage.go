package storage

import (
	"context"

	"github.com/TheCrowned/Post-SMTP/pkg/models"
)

// LogStore owns the log table schema and its write/retention operations.
type LogStore interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, rec models.LogRecord) (int64, error)
	// Update reports false when no row matches id.
	Update(ctx context.Context, id int64, fields models.Fields) (bool, error)
	// TruncateKeepLatest deletes every row except the keep highest ids.
	TruncateKeepLatest(ctx context.Context, keep int) (int64, error)
	MigrateLegacy(ctx context.Context, src LegacySource) (models.MigrationReport, error)
}

// QueryEngine reads and deletes log rows.
type QueryEngine interface {
	List(ctx context.Context, q models.Query) (models.Page, error)
	GetByIDs(ctx context.Context, ids []int64) ([]models.LogRecord, error)
	GetAll(ctx context.Context) ([]models.LogRecord, error)
	GetOne(ctx context.Context, id int64) (models.LogRecord, error)
	GetField(ctx context.Context, id int64, field string) (string, error)
	// Delete reports whether at least one row was removed.
	Delete(ctx context.Context, ids []int64) (bool, error)
}

// Store defines the storage operations of the email log.
type Store interface {
	LogStore
	QueryEngine

	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error
}

// OptionStore is the process-wide key/value configuration store.
type OptionStore interface {
	GetOption(ctx context.Context, name string) (string, bool, error)
	SetOption(ctx context.Context, name, value string) error
}

// LegacySource exposes the old per-post metadata representation of log records.
type LegacySource interface {
	RecordIDs(ctx context.Context) ([]int64, error)
	// Field returns ok=false when the key is absent for the record.
	Field(ctx context.Context, id int64, key string) (value string, ok bool, err error)
	DeleteField(ctx context.Context, id int64, key string) error
}
