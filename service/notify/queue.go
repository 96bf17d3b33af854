package notify

import (
	"context"
	"fmt"

	"github.com/viant/gatekeeper/service/messaging"
)

// TopicCompleted marks completion messages.
const TopicCompleted = "instance.completed"

// Completion is the envelope published on the notification queue.
type Completion struct {
	Topic   string            `json:"topic"`
	Payload *Payload          `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
}

// QueuePort publishes completions on a messaging queue.
type QueuePort struct {
	queue   messaging.Queue[Completion]
	headers map[string]string
}

// NewQueuePort creates a Port backed by queue; headers are copied onto every
// message.
func NewQueuePort(queue messaging.Queue[Completion], headers map[string]string) *QueuePort {
	return &QueuePort{queue: queue, headers: headers}
}

func (p *QueuePort) Complete(ctx context.Context, instanceID string, payload *Payload) error {
	if payload == nil {
		payload = &Payload{InstanceID: instanceID}
	}
	if payload.InstanceID == "" {
		payload.InstanceID = instanceID
	}
	message := &Completion{Topic: TopicCompleted, Payload: payload}
	if len(p.headers) > 0 {
		message.Headers = make(map[string]string, len(p.headers))
		for k, v := range p.headers {
			message.Headers[k] = v
		}
	}
	if err := p.queue.Publish(ctx, message); err != nil {
		return fmt.Errorf("failed to publish completion of %v: %w", instanceID, err)
	}
	return nil
}

var _ Port = (*QueuePort)(nil)
