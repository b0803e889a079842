package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Log entry statuses.
const (
	StatusSent  = "sent"
	StatusError = "error"
)

// Sentinel values carried by error entries when the failing message's
// identity is unknown.
const (
	unknownSentinel = "unknown"
	errorSentinel   = "error"
)

// LogEntry records the outcome of processing one candidate message. Entries
// are immutable once appended.
type LogEntry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	EmailFrom    string    `json:"emailFrom"`
	EmailSubject string    `json:"emailSubject"`
	RuleID       string    `json:"ruleId"`
	RuleName     string    `json:"ruleName"`
	ReplySent    string    `json:"replySent"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
}

// NewSentEntry builds the log entry for a successfully sent reply.
func NewSentEntry(from, subject, ruleID, ruleName, reply string) LogEntry {
	return LogEntry{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		EmailFrom:    from,
		EmailSubject: subject,
		RuleID:       ruleID,
		RuleName:     ruleName,
		ReplySent:    reply,
		Status:       StatusSent,
	}
}

// NewErrorEntry builds the tagged error-variant entry used when a message
// fails anywhere inside its processing boundary. Identity fields carry
// sentinels because the failure may have happened before the message detail
// was fetched.
func NewErrorEntry(err error) LogEntry {
	msg := unknownSentinel
	if err != nil {
		msg = err.Error()
	}
	return LogEntry{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		EmailFrom:    unknownSentinel,
		EmailSubject: unknownSentinel,
		RuleID:       errorSentinel,
		RuleName:     errorSentinel,
		Status:       StatusError,
		Error:        msg,
	}
}
