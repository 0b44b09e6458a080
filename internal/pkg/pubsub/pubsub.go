package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelClassAvailability = "class_availability"
)

// AvailabilityMessage 课程余位变化
type AvailabilityMessage struct {
	Type           string `json:"type"`
	ClassID        int64  `json:"class_id"`
	BookedCount    int64  `json:"booked_count"`
	MaxCapacity    int    `json:"max_capacity"`
	AvailableSpots int64  `json:"available_spots"`
	IsFull         bool   `json:"is_full"`
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Complete 根据容量和已订人数填充余位字段
func (msg *AvailabilityMessage) Complete() {
	msg.Type = ChannelClassAvailability
	msg.AvailableSpots = int64(msg.MaxCapacity) - msg.BookedCount
	if msg.AvailableSpots < 0 {
		msg.AvailableSpots = 0
	}
	msg.IsFull = msg.AvailableSpots == 0
}

// PublishAvailability 发布课程余位
func (p *Publisher) PublishAvailability(ctx context.Context, msg *AvailabilityMessage) error {
	msg.Complete()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal availability message: %w", err)
	}

	return p.client.Publish(ctx, ChannelClassAvailability, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅余位变化，直到 ctx 取消
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*AvailabilityMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelClassAvailability)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var availability AvailabilityMessage
			if err := json.Unmarshal([]byte(msg.Payload), &availability); err != nil {
				continue // 忽略解析错误
			}

			handler(&availability)
		}
	}
}
