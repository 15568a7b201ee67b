package helpers

import (
	"io"
	"strings"

	"github.com/emersion/go-message"
)

// ExtractBodies traverses the MIME structure of the message and returns the
// first text/plain and first text/html parts, with transfer encoding and
// charset already decoded by go-message. A message may carry either, both, or
// neither; missing parts come back as empty strings. Unreadable parts are
// skipped rather than failing the whole extraction.
func ExtractBodies(msg *message.Entity) (textBody, htmlBody string) {
	var walk func(entity *message.Entity)
	walk = func(entity *message.Entity) {
		if textBody != "" && htmlBody != "" {
			return
		}

		mediaType, _, err := entity.Header.ContentType()
		if err != nil {
			// No usable Content-Type; treat a top-level entity as plain text.
			mediaType = "text/plain"
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			mr := entity.MultipartReader()
			if mr == nil {
				return
			}
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					// Malformed inner part; keep whatever was already found.
					return
				}
				walk(part)
			}
			return
		}

		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return
		}

		switch mediaType {
		case "text/plain":
			if textBody == "" {
				textBody = string(content)
			}
		case "text/html":
			if htmlBody == "" {
				htmlBody = string(content)
			}
		}
	}

	walk(msg)
	return textBody, htmlBody
}
