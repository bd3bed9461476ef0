package queue

import (
	"context"
	"fmt"

	rocketmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
)

// syncSender is the part of rocketmq.Producer the publisher uses.
type syncSender interface {
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
	Shutdown() error
}

type Producer struct {
	producer syncSender
}

func NewProducer(nameServers []string, group string, maxRetries int) (*Producer, error) {
	opts := []producer.Option{
		producer.WithNsResolver(primitive.NewPassthroughResolver(nameServers)),
		producer.WithRetry(maxRetries),
		producer.WithQueueSelector(producer.NewRoundRobinQueueSelector()),
	}
	if group != "" {
		opts = append(opts, producer.WithGroupName(group))
	}
	p, err := rocketmq.NewProducer(opts...)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start producer: %w", err)
	}
	return &Producer{producer: p}, nil
}

// Send publishes msg synchronously and fails unless the broker acknowledges it.
func (p *Producer) Send(ctx context.Context, topic string, msg Message) error {
	m := primitive.NewMessage(topic, msg.Payload)
	if msg.Key != "" {
		m.WithKeys([]string{msg.Key})
	}
	if msg.ID != "" {
		m.WithProperty(idProperty, msg.ID)
	}

	result, err := p.producer.SendSync(ctx, m)
	if err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	if result.Status != primitive.SendOK {
		return fmt.Errorf("send to %s: status=%d", topic, result.Status)
	}
	return nil
}

func (p *Producer) Stop() error {
	return p.producer.Shutdown()
}
