package service

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/pkg/errors"
)

// ExportHeader is the CSV header row. Existing exports depend on this order.
var ExportHeader = []string{
	"solution",
	"success",
	"from_header",
	"to_header",
	"cc_header",
	"bcc_header",
	"reply_to_header",
	"transport_uri",
	"original_to",
	"original_subject",
	"original_message",
	"original_headers",
	"session_transcript",
	"delivery_time",
}

// Export writes the selected records (models.AllRecords for every record) as CSV and
// returns the number of data rows written.
func (s *LogService) Export(ctx context.Context, w io.Writer, ids []int64) (int, error) {
	logs, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return 0, errors.Wrap(err, "export email logs")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return 0, err
	}
	for _, l := range logs {
		if err := cw.Write(s.exportRow(l)); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, errors.Wrap(err, "write csv")
	}
	return len(logs), nil
}

func (s *LogService) exportRow(l models.LogRecord) []string {
	return []string{
		l.Solution,
		l.Success.String(),
		l.FromHeader,
		l.ToHeader,
		l.CcHeader,
		l.BccHeader,
		l.ReplyToHeader,
		l.TransportURI,
		l.OriginalTo,
		l.OriginalSubject,
		l.OriginalMessage,
		l.OriginalHeaders,
		l.SessionTranscript,
		s.FormatTime(l.Time),
	}
}
