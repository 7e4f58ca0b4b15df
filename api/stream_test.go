package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/dinakaran-p/vccrm/domain"
)

func receive(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for broadcast")
		return nil
	}
}

func TestBrokerPublishBroadcastsActivity(t *testing.T) {
	logger, _ := test.NewNullLogger()
	b := NewBroker(logger)
	ch := b.subscribe()
	defer b.unsubscribe(ch)

	if err := b.Publish(context.Background(), domain.Activity{ID: "a1", Type: domain.ActivityTaskCompleted, TaskID: "t1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var got domain.Activity
	if err := sonic.Unmarshal(receive(t, ch), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "a1" || got.TaskID != "t1" {
		t.Fatalf("unexpected activity: %+v", got)
	}
}

func TestBrokerDropsEventsForSlowSubscribers(t *testing.T) {
	logger, hook := test.NewNullLogger()
	b := NewBroker(logger)
	ch := b.subscribe()
	for i := 0; i < streamBuffer+1; i++ {
		b.Broadcast([]byte("{}"))
	}
	if len(ch) != streamBuffer {
		t.Fatalf("expected buffer to be full, got %d", len(ch))
	}
	if entry := hook.LastEntry(); entry == nil || !strings.Contains(entry.Message, "lagging") {
		t.Fatalf("expected lagging warning, got %#v", entry)
	}
}

func TestBrokerSubscribeRelaysRedisMessages(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	logger, _ := test.NewNullLogger()
	b := NewBroker(logger)
	ch := b.subscribe()
	defer b.unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Subscribe(ctx, rc, "activity")
		close(done)
	}()

	// wait for the subscription to register
	deadline := time.Now().Add(time.Second)
	for len(m.PubSubChannels("activity")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := rc.Publish(context.Background(), "activity", "not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	payload := `{"id":"a2","type":"task_created","taskId":"t2","time":"2024-05-01T09:00:00Z"}`
	if err := rc.Publish(context.Background(), "activity", payload).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := string(receive(t, ch)); got != payload {
		t.Fatalf("unexpected payload: %s", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscribe loop did not stop")
	}
}

func TestStreamWritesServerSentEvents(t *testing.T) {
	logger, _ := test.NewNullLogger()
	b := NewBroker(logger)
	e := echo.New()
	e.GET("/api/stream", b.stream)
	srv := httptest.NewServer(e)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stream")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || line != ": connected\n" {
		t.Fatalf("unexpected greeting %q: %v", line, err)
	}

	b.Broadcast([]byte(`{"id":"a3"}`))
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if lines[0] != "event: activity" || lines[1] != `data: {"id":"a3"}` {
		t.Fatalf("unexpected frame: %q", lines)
	}
}
