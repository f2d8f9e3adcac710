package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/TheCrowned/Post-SMTP/pkg/models"
)

// LegacyFieldValue converts a legacy metadata value into the update for field key.
func LegacyFieldValue(key, value string) (models.Fields, error) {
	switch key {
	case models.FieldTime:
		ts, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, Invalid(models.FieldTime, "legacy value %q is not a Unix timestamp", value)
		}
		return models.Fields{key: ts}, nil
	case models.FieldSuccess:
		return models.Fields{key: models.ParseOutcome(value)}, nil
	}
	f := models.Fields{key: value}
	if err := ValidateFields(f); err != nil {
		return nil, err
	}
	return f, nil
}

// LegacyField is a legacy metadata field converted into its log column update.
type LegacyField struct {
	Key    string
	Fields models.Fields
}

// ReadLegacyRecord collects the fields of a legacy record that can be written to the log table.
// failed counts the fields that could not be read or converted; they stay in the source.
func ReadLegacyRecord(ctx context.Context, src LegacySource, id int64) (pending []LegacyField, failed int) {
	for _, key := range models.LogFields {
		value, ok, err := src.Field(ctx, id, key)
		if err != nil {
			failed++
			continue
		}
		if !ok {
			continue
		}
		fields, err := LegacyFieldValue(key, value)
		if err != nil {
			failed++
			continue
		}
		pending = append(pending, LegacyField{Key: key, Fields: fields})
	}
	return pending, failed
}

// MemoryLegacySource is an in-memory LegacySource keyed by legacy record id.
type MemoryLegacySource struct {
	mu      sync.Mutex
	records map[int64]map[string]string
}

func NewMemoryLegacySource(records map[int64]map[string]string) *MemoryLegacySource {
	if records == nil {
		records = make(map[int64]map[string]string)
	}
	return &MemoryLegacySource{records: records}
}

func (s *MemoryLegacySource) RecordIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryLegacySource) Field(ctx context.Context, id int64, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[id][key]
	return v, ok, nil
}

func (s *MemoryLegacySource) DeleteField(ctx context.Context, id int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[id], key)
	return nil
}

// Remaining counts the fields not yet migrated.
func (s *MemoryLegacySource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, fields := range s.records {
		n += len(fields)
	}
	return n
}
