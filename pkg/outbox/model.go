package outbox

import "time"

// Status is the relay state of a stored row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Message is what a repository writes next to its state change. Type is the topic the
// payload is published under.
type Message struct {
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
}

// Event is a stored Message as claimed by a relay.
type Event struct {
	Message

	ID         int64
	CreatedAt  time.Time
	Status     Status
	RelayID    string
	RetryCount int
}
