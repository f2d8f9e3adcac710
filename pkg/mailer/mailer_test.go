package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers, err := ParseHeaders("From: Shop <shop@example.com>\nX-Mailer: PHPMailer\r\nContent-Type: text/html; charset=UTF-8\n")
	require.NoError(t, err)
	require.Len(t, headers, 3)
	assert.Contains(t, headers, Header{Key: "X-Mailer", Value: "PHPMailer"})
	assert.Contains(t, headers, Header{Key: "From", Value: "Shop <shop@example.com>"})

	headers, err = ParseHeaders("   ")
	require.NoError(t, err)
	assert.Empty(t, headers)
}

func TestBuild(t *testing.T) {
	msg := Message{
		To:      []string{"alice@example.com", "bob@example.com"},
		Subject: "Your receipt",
		Body:    "<b>Thanks</b>",
		Headers: "From: Shop <shop@example.com>\nTo: stale@example.com\nContent-Type: text/html; charset=UTF-8\nX-Campaign: spring",
	}
	m, err := Build(msg, "fallback@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"Shop <shop@example.com>"}, m.GetHeader("From"))
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"Your receipt"}, m.GetHeader("Subject"))
	assert.Equal(t, []string{"spring"}, m.GetHeader("X-Campaign"))

	m, err = Build(Message{To: []string{"a@example.com"}}, "fallback@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback@example.com"}, m.GetHeader("From"))

	_, err = Build(Message{}, "")
	assert.Error(t, err)
}

func TestSMTPMailer(t *testing.T) {
	m := NewSMTPMailer(Config{Host: "127.0.0.1", Port: 2525})
	assert.Equal(t, "smtp://127.0.0.1:2525", m.TransportURI())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Send(ctx, Message{To: []string{"a@example.com"}})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewSMTPMailer(Config{}).Send(context.Background(), Message{To: []string{"a@example.com"}})
	assert.Error(t, err)
}
