package domain

import (
	"context"
	"time"
)

type Source string

const (
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// Exchange 一回分のやり取り
type Exchange struct {
	ID        string
	Endpoint  string
	Persona   string
	Client    string
	Input     string
	Output    string
	Source    Source
	Failure   string
	Latency   time.Duration
	CreatedAt time.Time
}

// Recorder stores or forwards finished exchanges. Implementations must not
// block the reply on slow backends for long; callers log and ignore errors.
type Recorder interface {
	Record(ctx context.Context, ex *Exchange) error
}

// HistoryStore keeps a bounded per-client window of recent messages.
type HistoryStore interface {
	Recent(ctx context.Context, key string) ([]Message, error)
	Append(ctx context.Context, key string, msgs ...Message) error
}
