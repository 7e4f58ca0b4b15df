package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/dinakaran-p/vccrm/domain"
)

const (
	streamBuffer    = 16
	streamHeartbeat = 25 * time.Second
	reconnectDelay  = time.Second
)

// Broker fans activity events out to connected SSE clients.
type Broker struct {
	log *log.Logger

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewBroker creates an empty broker.
func NewBroker(logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broker{log: logger, subs: make(map[chan []byte]struct{})}
}

func (b *Broker) subscribe() chan []byte {
	ch := make(chan []byte, streamBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Broadcast sends data to every subscriber. Slow subscribers miss the event.
func (b *Broker) Broadcast(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- data:
		default:
			b.log.Warn("stream subscriber is lagging, dropping event")
		}
	}
}

// Publish broadcasts a single activity. It lets the broker act as an
// activity publisher when no Redis channel is configured.
func (b *Broker) Publish(_ context.Context, a domain.Activity) error {
	data, err := sonic.Marshal(a)
	if err != nil {
		return err
	}
	b.Broadcast(data)
	return nil
}

// Subscribe relays messages from a Redis channel to the broker until ctx is
// cancelled, reconnecting when the subscription drops.
func (b *Broker) Subscribe(ctx context.Context, rc *redis.Client, channel string) {
	for {
		sub := rc.Subscribe(ctx, channel)
		b.relay(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.log.WithField("channel", channel).Error("activity subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (b *Broker) relay(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var a domain.Activity
			if err := sonic.UnmarshalString(msg.Payload, &a); err != nil {
				b.log.WithError(err).Warn("unable to parse activity event")
				continue
			}
			b.Broadcast([]byte(msg.Payload))
		}
	}
}

// stream serves the activity feed as server-sent events.
func (b *Broker) stream(c echo.Context) error {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set(echo.HeaderCacheControl, "no-cache")
	header.Set(echo.HeaderConnection, "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	if _, err := c.Response().Write([]byte(": connected\n\n")); err != nil {
		return nil
	}
	flusher.Flush()

	ctx := c.Request().Context()
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		var frame []byte
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			frame = []byte(": ping\n\n")
		case data := <-ch:
			frame = make([]byte, 0, len(data)+24)
			frame = append(frame, "event: activity\ndata: "...)
			frame = append(frame, data...)
			frame = append(frame, "\n\n"...)
		}
		if _, err := c.Response().Write(frame); err != nil {
			return nil
		}
		flusher.Flush()
	}
}
