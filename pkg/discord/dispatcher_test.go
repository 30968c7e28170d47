package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tinyland-inc/linecord/pkg/bus"
)

type staticEndpoint struct {
	ep Endpoint
	ok bool
}

func (s staticEndpoint) Current() (Endpoint, bool) { return s.ep, s.ok }

type webhookRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
}

func (rec *webhookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	rec.mu.Lock()
	rec.bodies = append(rec.bodies, body)
	rec.mu.Unlock()
	if rec.status != 0 {
		w.WriteHeader(rec.status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rec *webhookRecorder) received() []map[string]any {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]map[string]any(nil), rec.bodies...)
}

func TestDeliver_PostsWebhookBody(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	d := NewDispatcher(bus.NewMessageBus(), staticEndpoint{Endpoint{URL: srv.URL}, true}, 0)
	err := d.Deliver(context.Background(), bus.OutboundMessage{
		Content:   "hello",
		Username:  "Alice",
		AvatarURL: "https://profile.line-scdn.net/abc",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	bodies := rec.received()
	if len(bodies) != 1 {
		t.Fatalf("requests: got %d, want 1", len(bodies))
	}
	want := map[string]any{
		"content":    "hello",
		"username":   "Alice",
		"avatar_url": "https://profile.line-scdn.net/abc",
	}
	for k, v := range want {
		if bodies[0][k] != v {
			t.Errorf("%s: got %v, want %v", k, bodies[0][k], v)
		}
	}
}

func TestDeliver_NonSuccessIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(&webhookRecorder{status: http.StatusNotFound})
	defer srv.Close()

	d := NewDispatcher(bus.NewMessageBus(), staticEndpoint{Endpoint{URL: srv.URL}, true}, 0)
	err := d.Deliver(context.Background(), bus.OutboundMessage{Content: "x", Username: "a"})

	var delErr *DeliveryError
	if !errors.As(err, &delErr) {
		t.Fatalf("Deliver: got %v, want *DeliveryError", err)
	}
	if delErr.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d", delErr.StatusCode)
	}
}

func TestDeliver_NoEndpoint(t *testing.T) {
	d := NewDispatcher(bus.NewMessageBus(), staticEndpoint{}, 0)
	err := d.Deliver(context.Background(), bus.OutboundMessage{Content: "x"})
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("Deliver: got %v, want ErrChannelUnavailable", err)
	}
}

func TestDispatcher_RunDrainsBusAndStops(t *testing.T) {
	rec := &webhookRecorder{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	mb := bus.NewMessageBus()
	d := NewDispatcher(mb, staticEndpoint{Endpoint{URL: srv.URL}, true}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Failures do not stop the loop.
	for _, text := range []string{"one", "two"} {
		if err := mb.PublishOutbound(ctx, bus.OutboundMessage{Content: text, Username: "a"}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return len(rec.received()) == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestDispatcher_SlowDeliveryDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	fast := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body["content"] {
		case "slow":
			select {
			case <-release:
			case <-r.Context().Done():
			}
		case "fast":
			close(fast)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	defer close(release)

	mb := bus.NewMessageBus()
	d := NewDispatcher(mb, staticEndpoint{Endpoint{URL: srv.URL}, true}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for _, text := range []string{"slow", "fast"} {
		if err := mb.PublishOutbound(ctx, bus.OutboundMessage{Content: text, Username: "a"}); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-fast:
	case <-time.After(2 * time.Second):
		t.Fatal("fast delivery waited on the slow one")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
