package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
	return nil
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	client := hub.Register("session-1")
	defer hub.Unregister(client)

	hub.Broadcast(context.Background(), "session-1", []byte("hello"))
	if msg := receive(t, client); string(msg) != "hello" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestHubBroadcastIsolatesSessions(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Register("a")
	b := hub.Register("b")
	defer hub.Unregister(a)
	defer hub.Unregister(b)

	hub.Broadcast(context.Background(), "a", []byte("only-a"))
	receive(t, a)
	select {
	case msg := <-b.Send:
		t.Fatalf("session b received %q", msg)
	default:
	}
}

func TestHubSlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("slow")
	defer hub.Unregister(client)

	for i := 0; i < cap(client.Send)+10; i++ {
		hub.Broadcast(context.Background(), "slow", []byte("x"))
	}
	if len(client.Send) != cap(client.Send) {
		t.Fatalf("expected full buffer, got %d", len(client.Send))
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch != "workout:abc:progress" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if sessionIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected session id")
	}
	for _, bad := range []string{"bad", "workout::progress", "tracking:abc:broadcast"} {
		if sessionIDFromChannel(bad) != "" {
			t.Fatalf("expected empty session id for %q", bad)
		}
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-2")
	if hub.Subscribers("session-2") != 1 {
		t.Fatalf("expected one subscriber")
	}
	hub.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
	if hub.Subscribers("session-2") != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestHubPublishProgress(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("s-9")
	defer hub.Unregister(client)

	hub.PublishProgress(context.Background(), Progress{SessionID: "s-9", Status: "processing", Frames: 40, Count: 2})

	var got Progress
	if err := json.Unmarshal(receive(t, client), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Frames != 40 || got.Count != 2 || got.Done {
		t.Fatalf("unexpected progress %+v", got)
	}
}

func TestHubRedisRelay(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	hub := NewHub(rdb)
	defer hub.Close()
	<-hub.ready

	ws := hub.Register("session-redis")
	defer hub.Unregister(ws)

	hub.Broadcast(context.Background(), "session-redis", []byte("ping"))
	if msg := receive(t, ws); string(msg) != "ping" {
		t.Fatalf("unexpected message %q", msg)
	}
	select {
	case msg := <-ws.Send:
		t.Fatalf("message delivered twice: %q", msg)
	case <-time.After(50 * time.Millisecond):
	}

	// another instance publishing on the shared channel
	if err := rdb.Publish(context.Background(), "workout:session-redis:progress", "pong").Err(); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	if msg := receive(t, ws); string(msg) != "pong" {
		t.Fatalf("unexpected message from redis %q", msg)
	}
}

func TestHubRedisPublishErrorFallsBackToLocal(t *testing.T) {
	server := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer rdb.Close()

	hub := NewHub(rdb)
	<-hub.ready
	server.Close()

	client := hub.Register("session-bad")
	defer hub.Unregister(client)

	hub.Broadcast(context.Background(), "session-bad", []byte("ping"))
	if msg := receive(t, client); string(msg) != "ping" {
		t.Fatalf("unexpected message %q", msg)
	}
	hub.Close()
}
