package queue

import (
	"github.com/google/uuid"
)

const idProperty = "event_id"

// Message is an event published to or received from a topic. Key is used as
// the broker message key for lookups.
type Message struct {
	ID      string
	Key     string
	Payload []byte
}

func NewMessage(key string, payload []byte) Message {
	return Message{
		ID:      uuid.NewString(),
		Key:     key,
		Payload: payload,
	}
}
