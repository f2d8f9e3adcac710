// Package mailer sends a logged message again over SMTP.
package mailer

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
	mail "gopkg.in/gomail.v2"
)

// Message is an outgoing email rebuilt from a log record.
type Message struct {
	To      []string
	Subject string
	Body    string
	// Headers is the raw header block as originally requested.
	Headers string
}

// Result describes one delivery attempt.
type Result struct {
	Duration   time.Duration
	Transcript string
}

// Mailer delivers a Message.
type Mailer interface {
	Send(ctx context.Context, msg Message) (Result, error)
	// TransportURI identifies the transport configuration, e.g. smtp://host:587.
	TransportURI() string
}

// Config holds the SMTP transport settings.
type Config struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	SkipTLSVerify bool
}

// SMTPMailer sends through an SMTP relay with gomail.
type SMTPMailer struct {
	cfg    Config
	dialer *mail.Dialer
}

func NewSMTPMailer(cfg Config) *SMTPMailer {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	return &SMTPMailer{cfg: cfg, dialer: d}
}

func (m *SMTPMailer) TransportURI() string {
	return fmt.Sprintf("smtp://%s:%d", m.cfg.Host, m.cfg.Port)
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (Result, error) {
	if m.cfg.Host == "" {
		return Result{}, fmt.Errorf("smtp host is not configured")
	}
	built, err := Build(msg, m.cfg.From)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var tr strings.Builder
	fmt.Fprintf(&tr, "connect %s\n", m.TransportURI())
	start := time.Now()
	err = m.dialer.DialAndSend(built)
	res := Result{Duration: time.Since(start)}
	if err != nil {
		fmt.Fprintf(&tr, "error: %v\n", err)
		res.Transcript = tr.String()
		return res, fmt.Errorf("could not send email: %w", err)
	}
	fmt.Fprintf(&tr, "sent to %s in %d ms\n", strings.Join(msg.To, ", "), res.Duration.Milliseconds())
	res.Transcript = tr.String()
	return res, nil
}

// Build assembles a gomail message from msg. Headers that gomail manages itself
// (To, Subject, Content-Type, MIME-Version) are taken from msg, the rest are kept.
func Build(msg Message, defaultFrom string) (*mail.Message, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}
	headers, err := ParseHeaders(msg.Headers)
	if err != nil {
		return nil, err
	}

	m := mail.NewMessage()
	contentType := "text/plain"
	from := defaultFrom
	for _, h := range headers {
		switch strings.ToLower(h.Key) {
		case "to", "subject", "mime-version", "content-transfer-encoding":
		case "content-type":
			contentType = strings.TrimSpace(strings.SplitN(h.Value, ";", 2)[0])
		case "from":
			from = h.Value
		default:
			m.SetHeader(h.Key, append(m.GetHeader(h.Key), h.Value)...)
		}
	}
	if from != "" {
		m.SetHeader("From", from)
	}
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody(contentType, msg.Body)
	return m, nil
}

// Header is one raw header line.
type Header struct {
	Key   string
	Value string
}

// ParseHeaders reads a raw header block (one "Key: value" per line) in order.
func ParseHeaders(raw string) ([]Header, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\n", "\r\n")
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(raw + "\r\n\r\n")))
	if err != nil {
		return nil, fmt.Errorf("parse headers: %w", err)
	}
	var out []Header
	fields := h.Fields()
	for fields.Next() {
		out = append(out, Header{Key: fields.Key(), Value: strings.TrimSpace(fields.Value())})
	}
	return out, nil
}
