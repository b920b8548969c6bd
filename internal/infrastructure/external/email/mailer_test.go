package email

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/garyjia/po-workflow/internal/application/port"
)

func newTestMailer(send func(m ...*gomail.Message) error) *Mailer {
	m := NewMailer(Config{Host: "smtp.example.com", From: "orders@example.com"}, zap.NewNop())
	m.send = send
	return m
}

func sampleEmail() port.SupplierEmail {
	return port.SupplierEmail{
		To:           "sales@acme.example",
		SupplierName: "Acme & Sons",
		Subject:      "New purchase order PO-20261016-ABC123",
		OrderNumber:  "PO-20261016-ABC123",
		Body:         "You have received purchase order PO-20261016-ABC123.",
		Link:         "https://po.example.com/respond/tok",
	}
}

func TestSendOrderEmail(t *testing.T) {
	var sent []*gomail.Message
	m := newTestMailer(func(msgs ...*gomail.Message) error {
		sent = append(sent, msgs...)
		return nil
	})

	require.NoError(t, m.SendOrderEmail(context.Background(), sampleEmail()))
	require.Len(t, sent, 1)

	msg := sent[0]
	assert.Equal(t, []string{"orders@example.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"sales@acme.example"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"New purchase order PO-20261016-ABC123"}, msg.GetHeader("Subject"))

	var raw bytes.Buffer
	_, err := msg.WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "text/plain")
	assert.Contains(t, raw.String(), "text/html")
	assert.Contains(t, raw.String(), "Acme &amp; Sons")
}

func TestSendOrderEmail_Errors(t *testing.T) {
	m := newTestMailer(func(msgs ...*gomail.Message) error {
		return errors.New("connection refused")
	})

	err := m.SendOrderEmail(context.Background(), sampleEmail())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	missing := sampleEmail()
	missing.To = ""
	assert.EqualError(t, m.SendOrderEmail(context.Background(), missing), "recipient address cannot be empty")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.SendOrderEmail(ctx, sampleEmail()), context.Canceled)
}

func TestTextBody(t *testing.T) {
	body := textBody(sampleEmail())
	assert.Contains(t, body, "Dear Acme & Sons,")
	assert.Contains(t, body, "https://po.example.com/respond/tok")
}

func TestNewMailer_FormatsSender(t *testing.T) {
	m := NewMailer(Config{Host: "smtp.example.com", Port: 2525, From: "orders@example.com", FromName: "Site Purchasing"}, zap.NewNop())
	assert.Equal(t, `"Site Purchasing" <orders@example.com>`, m.from)
	assert.Equal(t, 2525, m.dialer.Port)
}
