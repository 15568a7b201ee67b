// Package delivery turns one accepted inbound message into zero or one
// appended feed entries. Messages that resolve to no known feed are dropped
// silently: a sender must not be able to probe which references exist.
package delivery

import (
	"errors"
	"time"

	"github.com/letterfeed/letterfeed/consts"
	"github.com/letterfeed/letterfeed/helpers"
	"github.com/letterfeed/letterfeed/logger"
	"github.com/letterfeed/letterfeed/pkg/metrics"
	"github.com/letterfeed/letterfeed/render"
	"github.com/letterfeed/letterfeed/storage"
)

// Message is a fully reconstructed inbound email as handed over by the SMTP
// layer: headers decoded, transfer encodings removed, body parts separated.
type Message struct {
	From       string   // decoded From header, verbatim; empty when absent
	Recipients []string // envelope recipients
	Subject    string   // decoded Subject header; empty when absent
	Date       time.Time
	TextBody   string
	HTMLBody   string
}

// Normalized is the delivery-ready projection of a message.
type Normalized struct {
	TargetReference string // empty when no recipient maps to a mailbox address
	Author          string
	Title           string
	ContentHTML     string
	ReceivedAt      time.Time
}

// Pipeline orchestrates normalization and the feed store append.
type Pipeline struct {
	store     *storage.Store
	converter *render.Converter
	host      string
}

// NewPipeline returns a Pipeline delivering to store for mailbox addresses
// under host.
func NewPipeline(store *storage.Store, converter *render.Converter, host string) *Pipeline {
	return &Pipeline{store: store, converter: converter, host: host}
}

// Normalize extracts the target reference, author, title, body HTML, and
// received time from a message. Absent headers degrade to empty strings; an
// absent or unparseable date degrades to acceptedAt. An HTML body part takes
// precedence over a plain text one.
func (p *Pipeline) Normalize(msg *Message, acceptedAt time.Time) Normalized {
	n := Normalized{
		Author:     msg.From,
		Title:      msg.Subject,
		ReceivedAt: msg.Date,
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = acceptedAt
	}

	if ref, ok := helpers.FirstMailboxReference(msg.Recipients, p.host); ok {
		n.TargetReference = ref
	}

	switch {
	case msg.HTMLBody != "":
		n.ContentHTML = p.converter.Body(msg.HTMLBody, render.HTML)
	case msg.TextBody != "":
		n.ContentHTML = p.converter.Body(msg.TextBody, render.PlainText)
	}

	return n
}

// Deliver runs the pipeline for one accepted message. A message without a
// resolvable target completes as a no-op. Only storage failures surface as
// errors; the caller should signal a temporary failure to the peer so the
// message is retried.
func (p *Pipeline) Deliver(msg *Message) error {
	start := time.Now()
	defer func() {
		metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	}()

	n := p.Normalize(msg, time.Now().UTC())

	if n.TargetReference == "" {
		metrics.DeliveriesTotal.WithLabelValues("no_target").Inc()
		logger.Debug("message matches no mailbox address, dropping", "recipients", len(msg.Recipients))
		return nil
	}

	err := p.store.AppendEntry(n.TargetReference, storage.AppendRequest{
		Author:      n.Author,
		Title:       n.Title,
		ContentHTML: n.ContentHTML,
		ReceivedAt:  n.ReceivedAt,
	})
	switch {
	case errors.Is(err, consts.ErrFeedNotFound):
		// Well-formed but unknown reference: same silent drop as no target,
		// so unknown and known mailboxes are indistinguishable to the sender.
		metrics.DeliveriesTotal.WithLabelValues("unknown_reference").Inc()
		logger.Debug("message addressed to unknown reference, dropping", "reference", n.TargetReference)
		return nil
	case err != nil:
		metrics.DeliveriesTotal.WithLabelValues("error").Inc()
		logger.Error("delivery failed", "reference", n.TargetReference, "error", err)
		return err
	}

	metrics.DeliveriesTotal.WithLabelValues("delivered").Inc()
	logger.Info("message delivered", "reference", n.TargetReference, "title", n.Title)
	return nil
}
