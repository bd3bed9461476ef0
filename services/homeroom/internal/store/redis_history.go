package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"homeroom/services/homeroom/internal/domain"
)

type messageModel struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RedisHistory stores each client's window as a capped list.
type RedisHistory struct {
	client      *redis.Client
	prefix      string
	maxMessages int
	ttl         time.Duration
}

func NewRedisHistory(client *redis.Client, prefix string, maxMessages int, ttl time.Duration) *RedisHistory {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisHistory{client: client, prefix: prefix, maxMessages: maxMessages, ttl: ttl}
}

func (h *RedisHistory) key(client string) string {
	return h.prefix + "history:" + client
}

func (h *RedisHistory) Recent(ctx context.Context, client string) ([]domain.Message, error) {
	raw, err := h.client.LRange(ctx, h.key(client), int64(-h.maxMessages), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	msgs := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var m messageModel
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		msgs = append(msgs, domain.Message{Role: domain.ParseRole(m.Role), Content: m.Content})
	}
	return msgs, nil
}

func (h *RedisHistory) Append(ctx context.Context, client string, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	vals := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(messageModel{Role: string(m.Role), Content: m.Content})
		if err != nil {
			return err
		}
		vals = append(vals, b)
	}

	key := h.key(client)
	pipe := h.client.TxPipeline()
	pipe.RPush(ctx, key, vals...)
	pipe.LTrim(ctx, key, int64(-h.maxMessages), -1)
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
