// Package events consumes post publication events from Kafka and turns
// them into follower notifications.
package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/Kimseongmin3790/gclip-relay/internal/config"
	"github.com/Kimseongmin3790/gclip-relay/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

type PostNotifier interface {
	NotifyFollowersNewPost(ctx context.Context, actorId, postId int, caption string) error
}

// PostHandler is a sarama.ConsumerGroupHandler for the post.published
// topic. Every message is marked once handled: failures are logged and
// not retried.
type PostHandler struct {
	log      *log.Logger
	notifier PostNotifier
	validate *validator.Validate
	timeout  time.Duration
}

func NewPostHandler(logger *log.Logger, n PostNotifier, timeout time.Duration) *PostHandler {
	return &PostHandler{
		log:      logger,
		notifier: n,
		validate: validator.New(),
		timeout:  timeout,
	}
}

func (h *PostHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.log.Printf("post consumer joined generation %d as %s", session.GenerationID(), session.MemberID())
	return nil
}

func (h *PostHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.log.Println("post consumer cleanup")
	return nil
}

func (h *PostHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(session.Context(), msg); err != nil {
				h.log.Printf("post event %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *PostHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event types.PostPublished
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := h.validate.Struct(event); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.notifier.NotifyFollowersNewPost(ctx, event.UserId, event.PostId, event.Caption); err != nil {
		return fmt.Errorf("notify followers of post %d: %w", event.PostId, err)
	}

	return nil
}

func newSaramaConfig() *sarama.Config {
	c := sarama.NewConfig()
	c.ClientID = "gclip-relay"
	c.Consumer.Return.Errors = true
	c.Consumer.Offsets.Initial = sarama.OffsetNewest
	c.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	return c
}

const retryDelay = time.Second

type Consumer struct {
	log     *log.Logger
	group   sarama.ConsumerGroup
	topic   string
	handler sarama.ConsumerGroupHandler
}

func NewConsumer(logger *log.Logger, cfg config.KafkaConfig, n PostNotifier, timeout time.Duration) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupId, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return newConsumer(logger, group, cfg.Topic, NewPostHandler(logger, n, timeout)), nil
}

func newConsumer(logger *log.Logger, group sarama.ConsumerGroup, topic string, handler sarama.ConsumerGroupHandler) *Consumer {
	return &Consumer{
		log:     logger,
		group:   group,
		topic:   topic,
		handler: handler,
	}
}

// Run consumes until ctx is cancelled, rejoining the group after every
// rebalance, and then closes the group.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.log.Printf("consumer group: %v", err)
		}
	}()

	c.log.Printf("consuming %s", c.topic)
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.log.Printf("consume %s: %v", c.topic, err)
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}

	return nil
}
