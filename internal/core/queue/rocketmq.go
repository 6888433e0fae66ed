package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/apache/rocketmq-client-go/v2"
	c "github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/apache/rocketmq-client-go/v2/rlog"
	"github.com/avast/retry-go/v4"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

const (
	TopicIngestion = "topic_documind_ingestion"
	TagIngest      = "tag_ingest"

	consumeGroupIngestion = "cg_documind_ingestion"

	sendMessageAttempts = 3
	maxReconsumeTimes   = 3
)

var _ core.JobQueue = (*RocketMQQueue)(nil)

// RocketMQQueue publishes job messages to a RocketMQ topic and consumes them
// with a clustered push consumer.
type RocketMQQueue struct {
	producer rocketmq.Producer
	consumer rocketmq.PushConsumer
}

func NewRocketMQQueue(nameServer string, workers int) (*RocketMQQueue, error) {
	if nameServer == "" {
		return nil, fmt.Errorf("rocketmq name server not set")
	}
	rlog.SetLogLevel("warn")

	if workers <= 0 {
		workers = 1
	}
	cons, err := rocketmq.NewPushConsumer(
		c.WithNameServer([]string{nameServer}),
		c.WithGroupName(consumeGroupIngestion),
		c.WithConsumerModel(c.Clustering),
		c.WithConsumeFromWhere(c.ConsumeFromLastOffset),
		c.WithMaxReconsumeTimes(maxReconsumeTimes),
		c.WithConsumeGoroutineNums(workers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	prod, err := rocketmq.NewProducer(producer.WithNameServer([]string{nameServer}))
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	if err := prod.Start(); err != nil {
		return nil, fmt.Errorf("failed to start producer: %w", err)
	}
	return &RocketMQQueue{producer: prod, consumer: cons}, nil
}

func (q *RocketMQQueue) Publish(ctx context.Context, msg models.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	m := primitive.NewMessage(TopicIngestion, body).WithTag(TagIngest)
	m.WithKeys([]string{msg.DocumentID})

	err = retry.Do(
		func() error {
			_, err := q.producer.SendSync(ctx, m)
			return err
		},
		retry.Attempts(sendMessageAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("retrying to send message", "attempt", n+1, "topic", TopicIngestion, "err", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s after retries: %w", TopicIngestion, err)
	}
	return nil
}

// Consume subscribes handler and blocks until ctx is cancelled. A handler error
// asks the broker to redeliver later.
func (q *RocketMQQueue) Consume(ctx context.Context, handler core.JobHandler) error {
	selector := c.MessageSelector{Type: c.TAG, Expression: TagIngest}
	err := q.consumer.Subscribe(TopicIngestion, selector, func(mctx context.Context, messages ...*primitive.MessageExt) (c.ConsumeResult, error) {
		for _, m := range messages {
			var msg models.JobMessage
			if err := json.Unmarshal(m.Body, &msg); err != nil {
				slog.Error("dropping malformed job message", "msg_id", m.MsgId, "error", err)
				continue
			}
			if err := handler(ctx, msg); err != nil {
				slog.Error("failed to process message", "msg_id", m.MsgId, "job_id", msg.JobID, "error", err)
				return c.ConsumeRetryLater, err
			}
		}
		return c.ConsumeSuccess, nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", TopicIngestion, err)
	}
	if err := q.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	<-ctx.Done()
	return nil
}

func (q *RocketMQQueue) Close() error {
	var first error
	if q.producer != nil {
		first = q.producer.Shutdown()
	}
	if q.consumer != nil {
		if err := q.consumer.Shutdown(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
