package smtpd

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // register charset decoders
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"

	"github.com/letterfeed/letterfeed/helpers"
	"github.com/letterfeed/letterfeed/logger"
	"github.com/letterfeed/letterfeed/pkg/metrics"
	"github.com/letterfeed/letterfeed/server/delivery"
)

// Backend creates one Session per SMTP connection.
type Backend struct {
	pipeline       *delivery.Pipeline
	maxMessageSize int64
}

func (b *Backend) NewSession(conn *smtp.Conn) (smtp.Session, error) {
	return &Session{backend: b}, nil
}

// Session handles a single SMTP transaction.
type Session struct {
	backend    *Backend
	from       string
	recipients []string
}

func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	// Sender authentication is out of scope; any syntactically accepted
	// MAIL FROM is fine, including the empty bounce address.
	s.from = from
	return nil
}

func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	if !strings.Contains(to, "@") {
		return &smtp.SMTPError{
			Code:         513,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Invalid recipient",
		}
	}
	// Every plausible recipient is accepted. Rejecting unknown mailboxes at
	// RCPT time would let senders enumerate valid references.
	s.recipients = append(s.recipients, to)
	return nil
}

func (s *Session) Data(r io.Reader) error {
	var reader io.Reader = r
	if s.backend.maxMessageSize > 0 {
		// Add 1 byte to detect when the limit is exceeded.
		reader = io.LimitReader(r, s.backend.maxMessageSize+1)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Failed to read message",
		}
	}
	if s.backend.maxMessageSize > 0 && int64(buf.Len()) > s.backend.maxMessageSize {
		logger.Debug("message rejected for size", "size", buf.Len(), "limit", s.backend.maxMessageSize)
		return &smtp.SMTPError{
			Code:         552,
			EnhancedCode: smtp.EnhancedCode{5, 3, 4},
			Message:      "Message exceeds maximum allowed size",
		}
	}

	metrics.MessagesReceivedTotal.Inc()
	metrics.MessageSizeBytes.Observe(float64(buf.Len()))

	msg := parseMessage(buf.Bytes(), s.recipients)
	if err := s.backend.pipeline.Deliver(msg); err != nil {
		// Storage failure: ask the peer to retry later. The feed's prior
		// persisted state is untouched.
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary delivery failure, try again later",
		}
	}
	return nil
}

func (s *Session) Reset() {
	s.from = ""
	s.recipients = nil
}

func (s *Session) Logout() error {
	return nil
}

// parseMessage reconstructs a delivery.Message from raw message bytes and the
// envelope recipients. Malformed headers degrade to zero values rather than
// failing the transaction; the pipeline treats those as empty strings and the
// acceptance time.
func parseMessage(raw []byte, recipients []string) *delivery.Message {
	msg := &delivery.Message{Recipients: recipients}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		logger.Warn("unparseable message, delivering with defaults", "error", err)
		return msg
	}
	if entity == nil {
		return msg
	}

	header := mail.Header{Header: entity.Header}

	if from, err := header.Text("From"); err == nil {
		msg.From = strings.TrimSpace(from)
	} else {
		msg.From = strings.TrimSpace(header.Get("From"))
	}

	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = strings.TrimSpace(header.Get("Subject"))
	}

	if date, err := header.Date(); err == nil {
		msg.Date = date
	} else {
		msg.Date = time.Time{}
	}

	msg.TextBody, msg.HTMLBody = helpers.ExtractBodies(entity)
	return msg
}
