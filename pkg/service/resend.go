package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/TheCrowned/Post-SMTP/pkg/mailer"
	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/TheCrowned/Post-SMTP/pkg/storage"
	"github.com/pkg/errors"
)

// ResendResult is the outcome of sending a logged message again.
type ResendResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Transcript string `json:"transcript"`
	// LogID is the record of the new attempt, 0 when it could not be stored.
	LogID int64 `json:"log_id,omitempty"`
}

// Resend delivers the original message of log id again, to override when given
// (comma separated addresses) or to the original recipients otherwise.
// A failed delivery is reported in the result; the error is reserved for lookup,
// validation and configuration failures.
func (s *LogService) Resend(ctx context.Context, id int64, override string) (ResendResult, error) {
	if s.mailer == nil {
		return ResendResult{}, errors.New("no mailer configured")
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return ResendResult{}, err
	}
	to, err := recipients(rec.OriginalTo, override)
	if err != nil {
		return ResendResult{}, err
	}

	res, sendErr := s.mailer.Send(ctx, mailer.Message{
		To:      to,
		Subject: rec.OriginalSubject,
		Body:    rec.OriginalMessage,
		Headers: rec.OriginalHeaders,
	})

	attempt := models.LogRecord{
		Solution:          rec.Solution,
		Success:           models.Success(),
		FromHeader:        rec.FromHeader,
		ToHeader:          strings.Join(to, ", "),
		CcHeader:          rec.CcHeader,
		BccHeader:         rec.BccHeader,
		ReplyToHeader:     rec.ReplyToHeader,
		TransportURI:      s.mailer.TransportURI(),
		OriginalTo:        strings.Join(to, ", "),
		OriginalSubject:   rec.OriginalSubject,
		OriginalMessage:   rec.OriginalMessage,
		OriginalHeaders:   rec.OriginalHeaders,
		SessionTranscript: res.Transcript,
	}
	out := ResendResult{Transcript: res.Transcript}
	if sendErr != nil {
		s.logger.Errorf("Email %d was not successfully re-sent: %v", id, sendErr)
		attempt.Success = models.Failed(clip(sendErr.Error(), models.ShortFieldMaxLen))
		out.Message = sendErr.Error()
	} else {
		s.logger.Debugf("Email %d was successfully re-sent", id)
		out.Success = true
		out.Message = fmt.Sprintf("Your message was delivered (%d ms) to the SMTP server!", res.Duration.Milliseconds())
	}

	logID, err := s.Record(ctx, attempt)
	if err != nil {
		s.logger.Errorf("Failed to log resend of email %d: %v", id, err)
	} else {
		out.LogID = logID
	}
	return out, nil
}

// recipients parses the override list, falling back to the original recipients.
func recipients(original, override string) ([]string, error) {
	source := original
	if strings.TrimSpace(override) != "" {
		source = override
	}
	var to []string
	for _, part := range strings.Split(source, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := mail.ParseAddress(part)
		if err != nil {
			return nil, storage.Invalid("to", "%q is not a valid email address", part)
		}
		to = append(to, addr.Address)
	}
	if len(to) == 0 {
		return nil, storage.Invalid("to", "no recipients")
	}
	return to, nil
}

// clip shortens s to at most n runes so it fits a short column.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
