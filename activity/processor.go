package activity

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/dinakaran-p/vccrm/domain"
	"github.com/dinakaran-p/vccrm/storage"
)

type messageSource interface {
	Dequeue(ctx context.Context) (*storage.QueueMessage, error)
	Delete(ctx context.Context, msg *storage.QueueMessage) error
}

type auditWriter interface {
	Append(ctx context.Context, a domain.Activity) error
}

// Processor moves activities from the queue into the audit table and then
// announces them on the live channel.
type Processor struct {
	source    messageSource
	audit     auditWriter
	broadcast Publisher
	log       *log.Logger
	idle      time.Duration
}

// NewProcessor creates a Processor. broadcast may be nil.
func NewProcessor(source messageSource, audit auditWriter, broadcast Publisher, logger *log.Logger, idle time.Duration) *Processor {
	if idle <= 0 {
		idle = time.Second
	}
	return &Processor{source: source, audit: audit, broadcast: broadcast, log: logger, idle: idle}
}

// Run polls the queue until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		handled, err := p.ProcessOne(ctx)
		if err != nil {
			p.log.WithError(err).Error("activity processing failed")
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.idle):
		}
	}
}

// ProcessOne handles at most one message and reports whether one was found.
// A message whose audit write fails stays on the queue and becomes visible
// again for another attempt.
func (p *Processor) ProcessOne(ctx context.Context) (bool, error) {
	msg, err := p.source.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	var a domain.Activity
	if err := sonic.Unmarshal([]byte(msg.Text), &a); err != nil {
		p.log.WithError(err).WithField("message", msg.ID).Warn("dropping malformed activity message")
		return true, p.source.Delete(ctx, msg)
	}
	if err := p.audit.Append(ctx, a); err != nil {
		return true, err
	}
	if p.broadcast != nil {
		if err := p.broadcast.Publish(ctx, a); err != nil {
			p.log.Errorf("Unable to publish activity %s for task %s", a.Type, a.TaskID)
		}
	}
	p.log.WithFields(log.Fields{"activity": a.Type, "task": a.TaskID}).Debug("activity recorded")
	return true, p.source.Delete(ctx, msg)
}
