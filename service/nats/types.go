package nats

import (
	"strings"
	"time"

	"github.com/brojonat/txview/service/serialize"
)

// TransactionEvent is the message published for every relayed transaction.
// The payload is the serializable record, so 64-bit values travel as strings.
type TransactionEvent struct {
	Transaction *serialize.TransactionInfo `json:"transaction"`
	PublishedAt time.Time                  `json:"publishedAt"`
}

// NewTransactionEvent wraps a serializable record for publishing.
func NewTransactionEvent(tx *serialize.TransactionInfo) *TransactionEvent {
	return &TransactionEvent{
		Transaction: tx,
		PublishedAt: time.Now().UTC(),
	}
}

// ID returns the id of the wrapped transaction, or "" when there is none.
func (e *TransactionEvent) ID() string {
	if e == nil || e.Transaction == nil {
		return ""
	}
	return e.Transaction.ID
}

// Subject returns the subject an event from the given sender is published on.
// Characters NATS treats as token separators or wildcards are replaced.
func Subject(fromAddress string) string {
	return SubjectPrefix + subjectToken(fromAddress)
}

func subjectToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
