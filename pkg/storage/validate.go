package storage

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/TheCrowned/Post-SMTP/pkg/models"
)

// DefaultOrderBy and DefaultOrderDir apply when a query names no usable ordering.
const (
	DefaultOrderBy  = "id"
	DefaultOrderDir = models.OrderDesc
)

// ValidateRecord checks the short-field bounds of rec.
func ValidateRecord(rec models.LogRecord) error {
	return ValidateFields(rec.Values())
}

// ValidateFields checks that every key is a writable field and short values fit their column.
func ValidateFields(fields models.Fields) error {
	for name, v := range fields {
		if name == "id" || !models.IsKnownField(name) {
			return Invalid("field", "unknown or read-only field %q", name)
		}
		if name == models.FieldTime {
			if _, err := TimeValue(v); err != nil {
				return err
			}
			continue
		}
		if models.IsLongText(name) {
			continue
		}
		s := StringValue(v)
		if n := utf8.RuneCountInString(s); n > models.ShortFieldMaxLen {
			return Invalid(name, "%d characters exceeds the %d character limit", n, models.ShortFieldMaxLen)
		}
	}
	return nil
}

// StringValue renders a field value the way it is written to a text column.
func StringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case models.Outcome:
		return t.String()
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// TimeValue coerces a time field value to Unix seconds.
func TimeValue(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	}
	return 0, Invalid(models.FieldTime, "expected integer seconds, got %T", v)
}

// ValidateIDs returns all=true when ids carries the AllRecords sentinel.
func ValidateIDs(ids []int64) (all bool, err error) {
	if len(ids) == 0 {
		return false, Invalid("ids", "empty id list")
	}
	for _, id := range ids {
		if id == models.AllRecords {
			return true, nil
		}
		if id <= 0 {
			return false, Invalid("ids", "id %d is not positive", id)
		}
	}
	return false, nil
}

// ValidateQuery rejects windows the engine cannot express.
func ValidateQuery(q models.Query) error {
	if q.Offset < 0 {
		return Invalid("offset", "must not be negative")
	}
	return nil
}

// ResolveOrder maps the requested ordering onto the allow-list, falling back to id desc.
func ResolveOrder(q models.Query) (field, dir string) {
	field = DefaultOrderBy
	if q.OrderBy != "" && models.IsKnownField(q.OrderBy) {
		field = q.OrderBy
	}
	dir = DefaultOrderDir
	switch strings.ToLower(q.OrderDir) {
	case models.OrderAsc:
		dir = models.OrderAsc
	case models.OrderDesc:
		dir = models.OrderDesc
	}
	return field, dir
}
