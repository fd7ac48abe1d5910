package model

import "time"

// PreviewLimit bounds the number of characters kept from a message body.
const PreviewLimit = 200

// Message is the canonical, decoded form of one mailbox message.
type Message struct {
	ID            string
	Subject       string
	Sender        string
	Date          time.Time
	Preview       string
	HasAttachment bool
}

// RawPayload holds the header and text sections fetched for one message.
type RawPayload struct {
	ID     string
	Header []byte
	Body   []byte
}

// Empty reports whether the server returned nothing for the message.
func (p RawPayload) Empty() bool {
	return len(p.Header) == 0 && len(p.Body) == 0
}

// Bytes joins header and body back into a single RFC 5322 message.
func (p RawPayload) Bytes() []byte {
	raw := make([]byte, 0, len(p.Header)+len(p.Body)+4)
	raw = append(raw, p.Header...)
	if len(p.Header) > 0 && !hasBlankLineSuffix(p.Header) {
		raw = append(raw, "\r\n\r\n"...)
	}
	return append(raw, p.Body...)
}

func hasBlankLineSuffix(b []byte) bool {
	n := len(b)
	if n >= 4 && string(b[n-4:]) == "\r\n\r\n" {
		return true
	}
	return n >= 2 && string(b[n-2:]) == "\n\n"
}
