package models

// NoLimit disables the page size bound of a Query.
const NoLimit = -1

// Order directions.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Query selects a window of log records.
type Query struct {
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"` // NoLimit or 0 means unbounded
	Search   string `json:"search,omitempty"`
	OrderBy  string `json:"order_by,omitempty"`
	OrderDir string `json:"order_dir,omitempty"`
	From     *int64 `json:"from,omitempty"` // inclusive Unix seconds
	To       *int64 `json:"to,omitempty"`   // inclusive Unix seconds
}

// Unbounded reports whether the query has no page size.
func (q Query) Unbounded() bool {
	return q.Limit <= 0
}

// Page is a window of records plus the unfiltered and filtered row counts.
type Page struct {
	Rows     []LogRecord `json:"rows"`
	Total    int64       `json:"total"`
	Filtered int64       `json:"filtered"`
}

// MigrationReport summarises a legacy migration run.
type MigrationReport struct {
	Records  int `json:"records"`
	Migrated int `json:"migrated"`
	Failed   int `json:"failed"`
}
