package model

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means the mailbox rejected the credentials or could not be reached.
	ErrAuthentication = errors.New("authentication failed")
	// ErrFetch marks a single message that could not be retrieved or decoded.
	ErrFetch = errors.New("fetch failed")
	// ErrEmptyPayload is returned when the server sent no data for a message.
	ErrEmptyPayload = fmt.Errorf("%w: empty payload", ErrFetch)
	// ErrArchive means a bulk archive failed; earlier ids may already be applied.
	ErrArchive = errors.New("archive failed")
	// ErrConnectionLost means the mailbox session can no longer serve requests.
	ErrConnectionLost = errors.New("mailbox connection lost")
	// ErrNotFound means the referenced cluster is not in the active set.
	ErrNotFound = errors.New("cluster not found")
)
