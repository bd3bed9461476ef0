package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"homeroom/infra/queue"
	"homeroom/services/homeroom/internal/domain"
)

// ExchangeEvent is the payload published for every served exchange.
type ExchangeEvent struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Persona   string    `json:"persona"`
	Client    string    `json:"client,omitempty"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Source    string    `json:"source"`
	Failure   string    `json:"failure,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

type Publisher interface {
	Send(ctx context.Context, topic string, msg queue.Message) error
}

type EventRecorder struct {
	pub   Publisher
	topic string
}

func NewEventRecorder(pub Publisher, topic string) *EventRecorder {
	return &EventRecorder{pub: pub, topic: topic}
}

func (r *EventRecorder) Record(ctx context.Context, ex *domain.Exchange) error {
	payload, err := json.Marshal(ExchangeEvent{
		ID:        ex.ID,
		Endpoint:  ex.Endpoint,
		Persona:   ex.Persona,
		Client:    ex.Client,
		Input:     ex.Input,
		Output:    ex.Output,
		Source:    string(ex.Source),
		Failure:   ex.Failure,
		LatencyMS: ex.Latency.Milliseconds(),
		CreatedAt: ex.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode exchange: %w", err)
	}
	return r.pub.Send(ctx, r.topic, queue.Message{ID: ex.ID, Key: ex.Persona, Payload: payload})
}

// MultiRecorder fans an exchange out to every configured recorder.
type MultiRecorder struct {
	recorders []domain.Recorder
}

func NewMultiRecorder(recorders ...domain.Recorder) *MultiRecorder {
	m := &MultiRecorder{}
	for _, r := range recorders {
		if r != nil {
			m.recorders = append(m.recorders, r)
		}
	}
	return m
}

func (m *MultiRecorder) Len() int {
	return len(m.recorders)
}

func (m *MultiRecorder) Record(ctx context.Context, ex *domain.Exchange) error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Record(ctx, ex); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
