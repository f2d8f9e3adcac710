package models

// ShortFieldMaxLen is the column width of every non-text header/meta field.
const ShortFieldMaxLen = 255

// AllRecords is the id sentinel meaning "every row" for id-list operations.
const AllRecords int64 = -1

// Logical field names of a log record, in CSV/export order.
const (
	FieldSolution          = "solution"
	FieldSuccess           = "success"
	FieldFromHeader        = "from_header"
	FieldToHeader          = "to_header"
	FieldCcHeader          = "cc_header"
	FieldBccHeader         = "bcc_header"
	FieldReplyToHeader     = "reply_to_header"
	FieldTransportURI      = "transport_uri"
	FieldOriginalTo        = "original_to"
	FieldOriginalSubject   = "original_subject"
	FieldOriginalMessage   = "original_message"
	FieldOriginalHeaders   = "original_headers"
	FieldSessionTranscript = "session_transcript"
	FieldTime              = "time"
)

// LogFields is the fixed field list of a log record, excluding id.
var LogFields = []string{
	FieldSolution,
	FieldSuccess,
	FieldFromHeader,
	FieldToHeader,
	FieldCcHeader,
	FieldBccHeader,
	FieldReplyToHeader,
	FieldTransportURI,
	FieldOriginalTo,
	FieldOriginalSubject,
	FieldOriginalMessage,
	FieldOriginalHeaders,
	FieldSessionTranscript,
	FieldTime,
}

// SearchableFields are matched by free-text search.
var SearchableFields = []string{
	FieldSolution,
	FieldSuccess,
	FieldFromHeader,
	FieldToHeader,
	FieldCcHeader,
	FieldBccHeader,
	FieldReplyToHeader,
	FieldTransportURI,
	FieldOriginalTo,
	FieldOriginalSubject,
}

// IsLongText reports whether the field is stored without a length bound.
func IsLongText(field string) bool {
	switch field {
	case FieldOriginalMessage, FieldOriginalHeaders, FieldSessionTranscript:
		return true
	}
	return false
}

// IsKnownField reports whether name is id or one of LogFields.
func IsKnownField(name string) bool {
	if name == "id" {
		return true
	}
	for _, f := range LogFields {
		if f == name {
			return true
		}
	}
	return false
}

// LogRecord is one persisted email send attempt.
type LogRecord struct {
	ID                int64   `json:"id" db:"id"`
	Solution          string  `json:"solution" db:"solution"`
	Success           Outcome `json:"success" db:"success"`
	FromHeader        string  `json:"from_header" db:"from_header"`
	ToHeader          string  `json:"to_header" db:"to_header"`
	CcHeader          string  `json:"cc_header" db:"cc_header"`
	BccHeader         string  `json:"bcc_header" db:"bcc_header"`
	ReplyToHeader     string  `json:"reply_to_header" db:"reply_to_header"`
	TransportURI      string  `json:"transport_uri" db:"transport_uri"`
	OriginalTo        string  `json:"original_to" db:"original_to"`
	OriginalSubject   string  `json:"original_subject" db:"original_subject"`
	OriginalMessage   string  `json:"original_message" db:"original_message"`
	OriginalHeaders   string  `json:"original_headers" db:"original_headers"`
	SessionTranscript string  `json:"session_transcript" db:"session_transcript"`
	Time              int64   `json:"time" db:"time"` // Unix seconds
}

// Fields is a partial set of column values keyed by logical field name.
type Fields map[string]interface{}

// Values flattens the record into a Fields map covering every LogFields entry.
func (r LogRecord) Values() Fields {
	return Fields{
		FieldSolution:          r.Solution,
		FieldSuccess:           r.Success,
		FieldFromHeader:        r.FromHeader,
		FieldToHeader:          r.ToHeader,
		FieldCcHeader:          r.CcHeader,
		FieldBccHeader:         r.BccHeader,
		FieldReplyToHeader:     r.ReplyToHeader,
		FieldTransportURI:      r.TransportURI,
		FieldOriginalTo:        r.OriginalTo,
		FieldOriginalSubject:   r.OriginalSubject,
		FieldOriginalMessage:   r.OriginalMessage,
		FieldOriginalHeaders:   r.OriginalHeaders,
		FieldSessionTranscript: r.SessionTranscript,
		FieldTime:              r.Time,
	}
}
