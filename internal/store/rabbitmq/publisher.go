package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// ImageJobMessage is the wire payload between server and worker; the
// job row in the store carries everything else.
type ImageJobMessage struct {
	JobID string `json:"job_id"`
}

// DLQName returns the dead-letter queue for an image job queue.
func DLQName(queue string) string { return queue + ".dlq" }

// RetryName returns the delayed-retry queue for an image job queue.
func RetryName(queue string) string { return queue + ".retry" }

// DeclareTopology declares the image job queues: the main queue
// dead-letters rejected jobs to the DLQ, and messages expiring on the
// retry queue flow back into the main queue. Publisher and worker both
// declare it, so whichever starts first sets it up and the other's
// declaration must match.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(DLQName(queue), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}
	if _, err := ch.QueueDeclare(RetryName(queue), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return fmt.Errorf("declare retry queue: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DLQName(queue),
	}); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	return nil
}

// Publisher enqueues image generation jobs for the worker process.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishImageJob(ctx context.Context, jobID string) error {
	body, err := json.Marshal(ImageJobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
