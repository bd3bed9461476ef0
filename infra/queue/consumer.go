package queue

import (
	"context"
	"fmt"

	rocketmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
)

type Consumer struct {
	consumer rocketmq.PushConsumer
}

func NewConsumer(nameServers []string, group string, model consumer.MessageModel) (*Consumer, error) {
	c, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(nameServers)),
		consumer.WithGroupName(group),
		consumer.WithConsumerModel(model),
		consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset),
	)
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	return &Consumer{consumer: c}, nil
}

// Subscribe registers handler for topic. A handler error asks the broker to
// redeliver the batch later.
func (c *Consumer) Subscribe(topic string, handler func(context.Context, Message) error) error {
	return c.consumer.Subscribe(topic, consumer.MessageSelector{}, func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
		for _, msg := range msgs {
			if err := handler(ctx, fromExt(msg)); err != nil {
				return consumer.ConsumeRetryLater, err
			}
		}
		return consumer.ConsumeSuccess, nil
	})
}

func (c *Consumer) Start() error {
	return c.consumer.Start()
}

func (c *Consumer) Stop() error {
	return c.consumer.Shutdown()
}

func fromExt(msg *primitive.MessageExt) Message {
	id := msg.GetProperty(idProperty)
	if id == "" {
		id = msg.MsgId
	}
	return Message{ID: id, Key: msg.GetKeys(), Payload: msg.Body}
}
