package store

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/golang/groupcache/lru"

	"homeroom/services/homeroom/internal/domain"
)

const (
	DefaultMaxKeys     = 1024
	DefaultMaxMessages = 20
	userAgentPrefix    = 32
)

// ClientKey fingerprints a caller by address and user agent. The agent is
// cut to at most userAgentPrefix bytes without splitting a rune.
func ClientKey(ip, userAgent string) string {
	if len(userAgent) > userAgentPrefix {
		cut := userAgentPrefix
		for cut > 0 && !utf8.RuneStart(userAgent[cut]) {
			cut--
		}
		userAgent = userAgent[:cut]
	}
	return ip + "|" + userAgent
}

// MemoryHistory keeps the most recent messages of up to maxKeys clients.
// The least recently used client is evicted first.
type MemoryHistory struct {
	mu          sync.Mutex
	cache       *lru.Cache
	maxMessages int
}

func NewMemoryHistory(maxKeys, maxMessages int) *MemoryHistory {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &MemoryHistory{
		cache:       lru.New(maxKeys),
		maxMessages: maxMessages,
	}
}

func (h *MemoryHistory) Recent(_ context.Context, key string) ([]domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.cache.Get(key)
	if !ok {
		return nil, nil
	}
	msgs := v.([]domain.Message)
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (h *MemoryHistory) Append(_ context.Context, key string, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var cur []domain.Message
	if v, ok := h.cache.Get(key); ok {
		cur = v.([]domain.Message)
	}
	for _, m := range msgs {
		cur = append(cur, domain.Message{Role: m.Role, Content: m.Content})
	}
	if over := len(cur) - h.maxMessages; over > 0 {
		cur = append([]domain.Message(nil), cur[over:]...)
	}
	h.cache.Add(key, cur)
	return nil
}

func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache.Len()
}
