package service

import (
	"context"
	"time"

	"github.com/TheCrowned/Post-SMTP/pkg/mailer"
	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/TheCrowned/Post-SMTP/pkg/storage"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for LogService
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// DefaultTimeLayout renders log timestamps for listings and exports.
const DefaultTimeLayout = "January 2, 2006 3:04 pm"

// Option configures a LogService.
type Option func(*LogService)

// WithMailer sets the transport used by Resend.
func WithMailer(m mailer.Mailer) Option {
	return func(s *LogService) { s.mailer = m }
}

// WithRetention keeps only the latest keep records after every Record call. 0 disables it.
func WithRetention(keep int) Option {
	return func(s *LogService) { s.keep = keep }
}

// WithTimeLayout sets the Go time layout used to render record times.
func WithTimeLayout(layout string) Option {
	return func(s *LogService) {
		if layout != "" {
			s.timeLayout = layout
		}
	}
}

// WithLocation sets the zone record times are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(s *LogService) {
		if loc != nil {
			s.location = loc
		}
	}
}

// LogService is the entry point of request handlers into the email log.
// It is built once per process around a single Store.
type LogService struct {
	store      storage.Store
	logger     Logger
	mailer     mailer.Mailer
	keep       int
	timeLayout string
	location   *time.Location
}

func NewLogService(store storage.Store, logger Logger, opts ...Option) *LogService {
	s := &LogService{
		store:      store,
		logger:     logger,
		timeLayout: DefaultTimeLayout,
		location:   time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init makes sure the log table exists. Call once at process start.
func (s *LogService) Init(ctx context.Context) error {
	if err := s.store.EnsureSchema(ctx); err != nil {
		return errors.Wrap(err, "ensure log schema")
	}
	s.logger.Debugf("Email log schema is ready")
	return nil
}

// FormatTime renders a Unix timestamp with the configured layout.
func (s *LogService) FormatTime(ts int64) string {
	return time.Unix(ts, 0).In(s.location).Format(s.timeLayout)
}

// Record stores a completed send attempt and applies the retention limit.
func (s *LogService) Record(ctx context.Context, rec models.LogRecord) (int64, error) {
	id, err := s.store.Insert(ctx, rec)
	if err != nil {
		return 0, errors.Wrap(err, "record email log")
	}
	if s.keep > 0 {
		deleted, err := s.store.TruncateKeepLatest(ctx, s.keep)
		if err != nil {
			s.logger.Errorf("Failed to apply log retention of %d: %v", s.keep, err)
		} else if deleted > 0 {
			s.logger.Debugf("Retention removed %d email logs (keeping %d)", deleted, s.keep)
		}
	}
	s.logger.Debugf("Recorded email log %d", id)
	return id, nil
}

// Update applies a partial update; false means the record does not exist.
func (s *LogService) Update(ctx context.Context, id int64, fields models.Fields) (bool, error) {
	if id <= 0 {
		return false, storage.Invalid("id", "must be positive")
	}
	ok, err := s.store.Update(ctx, id, fields)
	if err != nil {
		return false, errors.Wrapf(err, "update email log %d", id)
	}
	return ok, nil
}

func (s *LogService) List(ctx context.Context, q models.Query) (models.Page, error) {
	page, err := s.store.List(ctx, q)
	if err != nil {
		return models.Page{}, errors.Wrap(err, "list email logs")
	}
	return page, nil
}

func (s *LogService) Get(ctx context.Context, id int64) (models.LogRecord, error) {
	if id <= 0 {
		return models.LogRecord{}, storage.Invalid("id", "must be positive")
	}
	rec, err := s.store.GetOne(ctx, id)
	if err != nil {
		return models.LogRecord{}, errors.Wrapf(err, "get email log %d", id)
	}
	return rec, nil
}

// GetField loads a single field, e.g. a large session transcript, without the rest of the row.
func (s *LogService) GetField(ctx context.Context, id int64, field string) (string, error) {
	if id <= 0 {
		return "", storage.Invalid("id", "must be positive")
	}
	v, err := s.store.GetField(ctx, id, field)
	if err != nil {
		return "", errors.Wrapf(err, "get %s of email log %d", field, id)
	}
	return v, nil
}

// Delete removes the given records, or all of them for models.AllRecords.
func (s *LogService) Delete(ctx context.Context, ids []int64) (bool, error) {
	ok, err := s.store.Delete(ctx, ids)
	if err != nil {
		return false, errors.Wrap(err, "delete email logs")
	}
	if ok {
		s.logger.Infof("Deleted email logs %v", ids)
	}
	return ok, nil
}

// Truncate keeps only the latest keep records.
func (s *LogService) Truncate(ctx context.Context, keep int) (int64, error) {
	n, err := s.store.TruncateKeepLatest(ctx, keep)
	if err != nil {
		return 0, errors.Wrapf(err, "truncate email logs to %d", keep)
	}
	s.logger.Infof("Truncated %d email logs, keeping the latest %d", n, keep)
	return n, nil
}

// MigrateLegacy moves every legacy metadata record into the log table.
func (s *LogService) MigrateLegacy(ctx context.Context, src storage.LegacySource) (models.MigrationReport, error) {
	report, err := s.store.MigrateLegacy(ctx, src)
	if err != nil {
		return report, errors.Wrap(err, "migrate legacy email logs")
	}
	if report.Failed > 0 {
		s.logger.Errorf("Legacy migration: %d records, %d fields migrated, %d fields failed",
			report.Records, report.Migrated, report.Failed)
	} else {
		s.logger.Infof("Legacy migration: %d records, %d fields migrated", report.Records, report.Migrated)
	}
	return report, nil
}
