package storage

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/dinakaran-p/vccrm/domain"
)

// ActivityQueue carries activity events from the API to the audit worker.
type ActivityQueue struct {
	queue *azqueue.QueueClient
}

// QueueMessage is a dequeued activity message awaiting deletion.
type QueueMessage struct {
	ID      string
	Receipt string
	Text    string
}

// NewActivityQueue creates an ActivityQueue for the named queue.
func NewActivityQueue(connStr, queueName string) (*ActivityQueue, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, queueClientOptions())
	if err != nil {
		return nil, err
	}
	return &ActivityQueue{queue: q}, nil
}

// Publish enqueues a single activity.
func (q *ActivityQueue) Publish(ctx context.Context, a domain.Activity) error {
	data, err := sonic.Marshal(a)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Dequeue retrieves a single message, or nil when the queue is empty.
func (q *ActivityQueue) Dequeue(ctx context.Context) (*QueueMessage, error) {
	resp, err := q.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &QueueMessage{}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.Receipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		msg.Text = *m.MessageText
	}
	return msg, nil
}

// Delete removes a processed message from the queue.
func (q *ActivityQueue) Delete(ctx context.Context, msg *QueueMessage) error {
	_, err := q.queue.DeleteMessage(ctx, msg.ID, msg.Receipt, nil)
	return err
}
