package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/pkg/errors"
)

// mockStore implements storage.Store with in-memory storage
type mockStore struct {
	mu      sync.Mutex
	records []models.LogRecord
	ledger  map[int64]int64 // legacy id -> log id
	nextID  int64
	closed  bool
	failOn  map[string]error
}

// NewMockStore returns an in-memory Store with the same query semantics as the SQL store.
func NewMockStore() Store {
	return &mockStore{ledger: make(map[int64]int64), failOn: make(map[string]error)}
}

// FailOn makes every later call of op on a mock store return err. It is a no-op for other stores.
func FailOn(s Store, op string, err error) {
	if m, ok := s.(*mockStore); ok {
		m.mu.Lock()
		m.failOn[op] = err
		m.mu.Unlock()
	}
}

func (m *mockStore) fail(op string) error {
	if m.closed {
		return &StoreError{Op: op, Err: errors.New("store closed")}
	}
	if err, ok := m.failOn[op]; ok {
		return &StoreError{Op: op, Err: err}
	}
	return nil
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error          { return nil }
func (m *mockStore) Rollback() error        { return nil }

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStore) EnsureSchema(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail("ensure schema")
}

func (m *mockStore) Insert(ctx context.Context, rec models.LogRecord) (int64, error) {
	if err := ValidateRecord(rec); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("insert log"); err != nil {
		return 0, err
	}
	if rec.Time == 0 {
		rec.Time = time.Now().Unix()
	}
	m.nextID++
	rec.ID = m.nextID
	m.records = append(m.records, rec)
	return rec.ID, nil
}

func (m *mockStore) Update(ctx context.Context, id int64, fields models.Fields) (bool, error) {
	if len(fields) == 0 {
		return false, Invalid("fields", "nothing to update")
	}
	if err := ValidateFields(fields); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("update log"); err != nil {
		return false, err
	}
	for i := range m.records {
		if m.records[i].ID == id {
			applyFields(&m.records[i], fields)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) TruncateKeepLatest(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, Invalid("keep", "must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("truncate logs"); err != nil {
		return 0, err
	}
	sort.Slice(m.records, func(i, j int) bool { return m.records[i].ID < m.records[j].ID })
	if len(m.records) <= keep {
		return 0, nil
	}
	deleted := len(m.records) - keep
	m.records = append([]models.LogRecord(nil), m.records[deleted:]...)
	return int64(deleted), nil
}

func (m *mockStore) MigrateLegacy(ctx context.Context, src LegacySource) (models.MigrationReport, error) {
	var report models.MigrationReport
	ids, err := src.RecordIDs(ctx)
	if err != nil {
		return report, &StoreError{Op: "list legacy records", Err: err}
	}
	for _, legacyID := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Records++
		pending, failed := ReadLegacyRecord(ctx, src, legacyID)
		report.Failed += failed
		if len(pending) == 0 {
			continue
		}
		logID, err := m.ledgerRow(legacyID)
		if err != nil {
			report.Failed += len(pending)
			continue
		}
		for _, field := range pending {
			updated, err := m.Update(ctx, logID, field.Fields)
			if err != nil || !updated {
				report.Failed++
				continue
			}
			if err := src.DeleteField(ctx, legacyID, field.Key); err != nil {
				report.Failed++
				continue
			}
			report.Migrated++
		}
	}
	return report, nil
}

// ledgerRow returns the log row of a legacy record, replacing a ledger entry whose row was deleted.
func (m *mockStore) ledgerRow(legacyID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("migrate legacy record"); err != nil {
		return 0, err
	}
	if logID, ok := m.ledger[legacyID]; ok {
		for _, r := range m.records {
			if r.ID == logID {
				return logID, nil
			}
		}
		delete(m.ledger, legacyID)
	}
	m.nextID++
	m.records = append(m.records, models.LogRecord{ID: m.nextID, Success: models.Failed(""), Time: time.Now().Unix()})
	m.ledger[legacyID] = m.nextID
	return m.nextID, nil
}

func (m *mockStore) List(ctx context.Context, q models.Query) (models.Page, error) {
	if err := ValidateQuery(q); err != nil {
		return models.Page{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("list logs"); err != nil {
		return models.Page{}, err
	}
	page := models.Page{Total: int64(len(m.records)), Rows: []models.LogRecord{}}
	var matched []models.LogRecord
	for _, r := range m.records {
		if matchesQuery(r, q) {
			matched = append(matched, r)
		}
	}
	page.Filtered = int64(len(matched))

	field, dir := ResolveOrder(q)
	sort.SliceStable(matched, func(i, j int) bool {
		c := compareField(matched[i], matched[j], field)
		if c == 0 {
			c = compareInt(matched[i].ID, matched[j].ID)
		}
		if dir == models.OrderDesc {
			return c > 0
		}
		return c < 0
	})
	if q.Offset >= len(matched) {
		return page, nil
	}
	matched = matched[q.Offset:]
	if !q.Unbounded() && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	page.Rows = append(page.Rows, matched...)
	return page, nil
}

func (m *mockStore) GetByIDs(ctx context.Context, ids []int64) ([]models.LogRecord, error) {
	all, err := ValidateIDs(ids)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("get logs"); err != nil {
		return nil, err
	}
	out := []models.LogRecord{}
	for _, r := range m.records {
		if all || containsID(ids, r.ID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *mockStore) GetAll(ctx context.Context) ([]models.LogRecord, error) {
	return m.GetByIDs(ctx, []int64{models.AllRecords})
}

func (m *mockStore) GetOne(ctx context.Context, id int64) (models.LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("get log"); err != nil {
		return models.LogRecord{}, err
	}
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return models.LogRecord{}, ErrNotFound
}

func (m *mockStore) GetField(ctx context.Context, id int64, field string) (string, error) {
	if !models.IsKnownField(field) {
		return "", Invalid("field", "unknown field %q", field)
	}
	r, err := m.GetOne(ctx, id)
	if err != nil {
		return "", err
	}
	if field == "id" {
		return strconv.FormatInt(r.ID, 10), nil
	}
	return StringValue(r.Values()[field]), nil
}

func (m *mockStore) Delete(ctx context.Context, ids []int64) (bool, error) {
	all, err := ValidateIDs(ids)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete logs"); err != nil {
		return false, err
	}
	kept := m.records[:0]
	removed := 0
	for _, r := range m.records {
		if all || containsID(ids, r.ID) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return removed > 0, nil
}

func applyFields(r *models.LogRecord, fields models.Fields) {
	for name, v := range fields {
		switch name {
		case models.FieldSuccess:
			if o, ok := v.(models.Outcome); ok {
				r.Success = o
			} else {
				r.Success = models.ParseOutcome(StringValue(v))
			}
		case models.FieldTime:
			r.Time, _ = TimeValue(v)
		default:
			*stringField(r, name) = StringValue(v)
		}
	}
}

func stringField(r *models.LogRecord, name string) *string {
	switch name {
	case models.FieldSolution:
		return &r.Solution
	case models.FieldFromHeader:
		return &r.FromHeader
	case models.FieldToHeader:
		return &r.ToHeader
	case models.FieldCcHeader:
		return &r.CcHeader
	case models.FieldBccHeader:
		return &r.BccHeader
	case models.FieldReplyToHeader:
		return &r.ReplyToHeader
	case models.FieldTransportURI:
		return &r.TransportURI
	case models.FieldOriginalTo:
		return &r.OriginalTo
	case models.FieldOriginalSubject:
		return &r.OriginalSubject
	case models.FieldOriginalMessage:
		return &r.OriginalMessage
	case models.FieldOriginalHeaders:
		return &r.OriginalHeaders
	}
	return &r.SessionTranscript
}

func matchesQuery(r models.LogRecord, q models.Query) bool {
	if q.From != nil && r.Time < *q.From {
		return false
	}
	if q.To != nil && r.Time > *q.To {
		return false
	}
	if q.Search == "" {
		return true
	}
	needle := strings.ToLower(q.Search)
	values := r.Values()
	for _, f := range models.SearchableFields {
		if strings.Contains(strings.ToLower(StringValue(values[f])), needle) {
			return true
		}
	}
	return false
}

func compareField(a, b models.LogRecord, field string) int {
	switch field {
	case "id":
		return compareInt(a.ID, b.ID)
	case models.FieldTime:
		return compareInt(a.Time, b.Time)
	}
	return strings.Compare(StringValue(a.Values()[field]), StringValue(b.Values()[field]))
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
