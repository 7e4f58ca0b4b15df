package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/dinakaran-p/vccrm/domain"
)

// Publisher delivers an activity to one destination.
type Publisher interface {
	Publish(ctx context.Context, a domain.Activity) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, a domain.Activity) error

func (f PublisherFunc) Publish(ctx context.Context, a domain.Activity) error { return f(ctx, a) }

// Config sizes the dispatcher worker pool.
type Config struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// DefaultConfig mirrors the ACTIVITY_* environment defaults.
func DefaultConfig() Config {
	return Config{Workers: 8, Buffer: 1024, Timeout: 30 * time.Second, HandoffTimeout: 15 * time.Millisecond}
}

var errDispatcherClosed = errors.New("activity dispatcher is closed")

// Dispatcher fans activities out to publishers on a pool of background
// workers. When the buffer stays full past the handoff timeout the activity
// is delivered on the caller's goroutine instead of being dropped.
type Dispatcher struct {
	cfg        Config
	publishers []Publisher
	log        *log.Logger

	mu     sync.RWMutex
	jobs   chan domain.Activity
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the worker pool.
func NewDispatcher(cfg Config, logger *log.Logger, publishers ...Publisher) *Dispatcher {
	if logger == nil {
		panic("activity.NewDispatcher: logger is nil")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	d := &Dispatcher{
		cfg:        cfg,
		publishers: publishers,
		log:        logger,
		jobs:       make(chan domain.Activity, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("activity dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return d
}

// Record implements domain.ActivityRecorder.
func (d *Dispatcher) Record(ctx context.Context, a domain.Activity) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return errDispatcherClosed
	}
	handed := d.handoff(a)
	d.mu.RUnlock()
	if handed {
		return nil
	}
	d.log.WithFields(log.Fields{"activity": a.Type, "task": a.TaskID}).Warn("activity buffer saturated, delivering inline")
	return d.deliver(ctx, a)
}

// handoff must be called with d.mu read-locked so Close cannot close jobs underneath it.
func (d *Dispatcher) handoff(a domain.Activity) bool {
	select {
	case d.jobs <- a:
		return true
	default:
	}
	if d.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- a:
		return true
	case <-timer.C:
		return false
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for a := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		if err := d.deliver(ctx, a); err != nil {
			d.log.WithError(err).WithFields(log.Fields{"activity": a.Type, "task": a.TaskID, "worker": id}).Error("activity delivery failed")
		}
		cancel()
	}
}

// deliver sends a to every publisher and joins their failures.
func (d *Dispatcher) deliver(ctx context.Context, a domain.Activity) error {
	var errs []error
	for _, p := range d.publishers {
		if err := p.Publish(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting activities and waits for buffered ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

// RedisPublisher broadcasts activities on a pub/sub channel for live streams.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a RedisPublisher.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, a domain.Activity) error {
	payload, err := sonic.Marshal(a)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// LogPublisher writes activities to the structured log.
type LogPublisher struct {
	log *log.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *log.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, a domain.Activity) error {
	p.log.WithFields(log.Fields{
		"activity": a.Type,
		"task":     a.TaskID,
		"actor":    a.ActorID,
		"role":     a.ActorRole,
	}).Info(a.Details)
	return nil
}
