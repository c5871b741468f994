// Package queue carries render jobs from producers to workers over Redis
// lists or SQS.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"templater/internal/models"
)

// Message is the envelope of a queued job.
type Message struct {
	ID  string           `json:"id"`
	Job models.RenderJob `json:"job"`
}

// Result reports the outcome of a job to RESULT_QUEUE consumers.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Delivery is one received message. Err is set when the body could not be
// decoded; such deliveries should be acknowledged and dropped.
type Delivery struct {
	Message Message
	Raw     string
	Err     error

	ack func(ctx context.Context) error
}

// Ack removes the message from the queue. Redis deliveries are removed on
// receipt and Ack is a no-op for them.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	// Receive waits for one message. It returns nil, nil when the poll
	// window passes without one.
	Receive(ctx context.Context) (*Delivery, error)
	// Publish sends a job result. It is a no-op without a result queue.
	Publish(ctx context.Context, res Result) error
	Ping(ctx context.Context) error
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(raw string) *Delivery {
	d := &Delivery{Raw: raw}
	if err := json.Unmarshal([]byte(raw), &d.Message); err != nil {
		d.Err = fmt.Errorf("decode message: %w", err)
	}
	return d
}
