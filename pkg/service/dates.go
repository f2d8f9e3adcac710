package service

import (
	"strconv"
	"time"

	"github.com/TheCrowned/Post-SMTP/pkg/storage"
)

const dateLayout = "2006-01-02"

// ParseBound reads a date filter bound given as Unix seconds or YYYY-MM-DD in the
// service location. A date used as an upper bound covers the whole day.
func (s *LogService) ParseBound(value string, endOfDay bool) (int64, error) {
	if ts, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ts, nil
	}
	day, err := time.ParseInLocation(dateLayout, value, s.location)
	if err != nil {
		return 0, storage.Invalid("date", "%q is not YYYY-MM-DD or Unix seconds", value)
	}
	ts := day.Unix()
	if endOfDay {
		ts += 86400 - 1
	}
	return ts, nil
}
