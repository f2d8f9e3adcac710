package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	successMarker = "1"
	failureMarker = "0"
	// detailEscape prefixes a stored failure detail that would otherwise read as a marker.
	detailEscape = "Error: "
)

type Outcome struct {
	ok     bool
	detail string
}

// Success returns the successful outcome.
func Success() Outcome {
	return Outcome{ok: true}
}

// Failed returns a failed outcome carrying detail.
func Failed(detail string) Outcome {
	return Outcome{detail: detail}
}

func (o Outcome) IsSuccess() bool { return o.ok }

// Detail is the failure detail; empty for Success.
func (o Outcome) Detail() string {
	if o.ok {
		return ""
	}
	return o.detail
}

// String renders the column encoding: "1" for success, the detail otherwise.
// Details that read as a marker are stored behind an "Error: " prefix.
func (o Outcome) String() string {
	if o.ok {
		return successMarker
	}
	if o.detail == "" {
		return failureMarker
	}
	if needsEscape(o.detail) {
		return detailEscape + o.detail
	}
	return o.detail
}

// ParseOutcome decodes a stored success column value.
func ParseOutcome(raw string) Outcome {
	if isMarker(raw) {
		switch strings.TrimSpace(raw) {
		case successMarker, "true":
			return Success()
		}
		return Failed("")
	}
	if rest := strings.TrimPrefix(raw, detailEscape); rest != raw && needsEscape(rest) {
		return Failed(rest)
	}
	return Failed(raw)
}

func isMarker(raw string) bool {
	switch strings.TrimSpace(raw) {
	case successMarker, "true", "", failureMarker, "false":
		return true
	}
	return false
}

// needsEscape reports whether detail would not read back as itself when stored verbatim.
func needsEscape(detail string) bool {
	for {
		if isMarker(detail) {
			return true
		}
		rest := strings.TrimPrefix(detail, detailEscape)
		if rest == detail {
			return false
		}
		detail = rest
	}
}

// Value implements driver.Valuer.
func (o Outcome) Value() (driver.Value, error) {
	return o.String(), nil
}

// Scan implements sql.Scanner.
func (o *Outcome) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*o = Failed("")
	case string:
		*o = ParseOutcome(v)
	case []byte:
		*o = ParseOutcome(string(v))
	case int64:
		*o = ParseOutcome(fmt.Sprint(v))
	case bool:
		if v {
			*o = Success()
		} else {
			*o = Failed("")
		}
	default:
		return fmt.Errorf("outcome: unsupported scan type %T", src)
	}
	return nil
}

type outcomeJSON struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeJSON{Success: o.ok, Error: o.Detail()})
}

func (o *Outcome) UnmarshalJSON(b []byte) error {
	var v outcomeJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.Success {
		*o = Success()
	} else {
		*o = Failed(v.Error)
	}
	return nil
}
