// Package normalize turns fetched header and text sections into canonical
// messages. It degrades instead of failing: undecodable header words keep
// their raw text, a missing date becomes the processing time and an
// unreadable body yields an empty preview.
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/emersion/go-message/charset"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/ivdimova/inbox-triage-assistant/filter"
	"github.com/ivdimova/inbox-triage-assistant/model"
)

// maxBodyRead bounds how much of a text part is decoded for the preview.
const maxBodyRead = 16 * 1024

// Normalize converts one raw payload into a Message. It only fails, with an
// error wrapping model.ErrEmptyPayload, when there is nothing to read.
func Normalize(p model.RawPayload, now time.Time) (model.Message, error) {
	if p.Empty() {
		return model.Message{}, fmt.Errorf("message %s: %w", p.ID, model.ErrEmptyPayload)
	}

	raw := model.RawPayload{Header: sanitizeHeader(p.Header), Body: p.Body}.Bytes()
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return model.Message{}, fmt.Errorf("message %s: %w: %v", p.ID, model.ErrEmptyPayload, err)
	}

	mr := mail.NewReader(entity)
	header := mr.Header

	msg := model.Message{
		ID:      p.ID,
		Subject: decodeHeader(header, "Subject"),
		Sender:  decodeHeader(header, "From"),
		Date:    now,
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.Date = date
	}

	msg.Preview, msg.HasAttachment = walkParts(mr, isMultipart(header))
	return msg, nil
}

// Preview truncates text to model.PreviewLimit characters and trims it.
func Preview(text string) string {
	text = strings.ToValidUTF8(text, "")
	if utf8.RuneCountInString(text) > model.PreviewLimit {
		text = string([]rune(text)[:model.PreviewLimit])
	}
	return strings.TrimSpace(text)
}

func decodeHeader(h mail.Header, key string) string {
	value, err := h.Text(key)
	if err != nil {
		value = h.Get(key)
	}
	return strings.ToValidUTF8(value, "")
}

func isMultipart(h mail.Header) bool {
	mediaType, _, err := h.ContentType()
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

// walkParts visits every part depth first. The preview comes from the first
// text/plain part of a multipart message, attachment or not, or from the
// only part of a single-part message.
func walkParts(mr *mail.Reader, multipart bool) (preview string, hasAttachment bool) {
	found := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) || part == nil {
			// unknown charsets still yield the part alongside the error
			break
		}

		var header message.Header
		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			hasAttachment = true
			header = h.Header
		case *mail.InlineHeader:
			header = h.Header
		default:
			continue
		}

		if found || (multipart && !isPlainText(header)) {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(part.Body, maxBodyRead))
		if err != nil && len(body) == 0 {
			continue
		}
		preview = Preview(string(body))
		found = true
	}
	return preview, hasAttachment
}

func isPlainText(h message.Header) bool {
	mediaType, _, err := h.ContentType()
	if err != nil || mediaType == "" {
		return h.Get("Content-Type") == ""
	}
	return strings.EqualFold(mediaType, "text/plain")
}

// sanitizeHeader drops lines that are neither fields nor continuations so a
// sloppy header does not make the whole message unreadable.
func sanitizeHeader(header []byte) []byte {
	if len(header) == 0 {
		return header
	}

	trimmed, _ := filter.SplitRawMessage(header)
	lines := strings.Split(strings.ReplaceAll(string(trimmed), "\r\n", "\n"), "\n")

	var out strings.Builder
	inField := false
	for _, line := range lines {
		if line == "" {
			continue
		}
		switch {
		case line[0] == ' ' || line[0] == '\t':
			if !inField {
				continue
			}
		case isFieldLine(line):
			inField = true
		default:
			inField = false
			continue
		}
		out.WriteString(line)
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n")
	return []byte(out.String())
}

func isFieldLine(line string) bool {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return false
	}
	for _, r := range line[:idx] {
		if r <= ' ' || r > '~' {
			return false
		}
	}
	return true
}
