package llm

import (
	"fmt"
	"unicode/utf8"
)

type Failure string

const (
	FailureNone         Failure = ""
	FailureUnconfigured Failure = "unconfigured"
	FailureTransport    Failure = "transport"
	FailureHTTPStatus   Failure = "http_status"
	FailureEmpty        Failure = "empty_content"
)

// EmptyPlaceholder stands in for a successful call that returned no text.
const EmptyPlaceholder = "（先生からの返事が空っぽでした。もう一度聞いてみてね）"

// MaxErrorBody bounds how much of a provider error body is kept.
const MaxErrorBody = 200

// Result is the outcome of one gateway call. Exactly one of Text or Failure
// is meaningful.
type Result struct {
	Text     string
	Failure  Failure
	Status   int
	Detail   string
	Attempts int
}

func (r Result) OK() bool {
	return r.Failure == FailureNone
}

// Message returns the text on success and a tagged, human readable
// degraded message otherwise. It never returns an empty string.
func (r Result) Message() string {
	switch r.Failure {
	case FailureNone:
		return r.Text
	case FailureEmpty:
		return EmptyPlaceholder
	case FailureHTTPStatus:
		return fmt.Sprintf("[llm:http %d] %s", r.Status, r.Detail)
	case FailureTransport:
		return fmt.Sprintf("[llm:transport] request failed after %d attempt(s): %s", r.Attempts, r.Detail)
	case FailureUnconfigured:
		return "[llm:unconfigured] " + r.Detail
	default:
		return "[llm:" + string(r.Failure) + "] " + r.Detail
	}
}

// truncateBytes keeps at most n bytes of s without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
