package ingress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
	"github.com/hasip-timurtas/solana-watchtower/internal/logging"
	"github.com/hasip-timurtas/solana-watchtower/internal/metrics"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestIngress(t *testing.T, wsURL string, subs []Subscription) *Ingress {
	t.Helper()
	log := logging.NewTestLogger()
	met := metrics.New()
	cfg := Config{
		WSURL:                 wsURL,
		TimeoutSeconds:        2,
		MaxReconnectAttempts:  3,
		ReconnectDelaySeconds: 1,
		EventBufferSize:       16,
	}
	return New(cfg, subs, met, log)
}

func TestIngressDecodesAccountNotification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"accountNotification","params":{"subscription":1,"result":{"programId":"` + strings.Repeat("A", 44) + `","slot":42}}}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	in := newTestIngress(t, wsURL(srv), []Subscription{{ProgramID: strings.Repeat("A", 44), MonitorAccounts: true}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := in.Start(ctx)
	select {
	case ev := <-out:
		if ev == nil || ev.Type != events.TypeAccountUpdate {
			t.Fatalf("expected account update event, got %+v", ev)
		}
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("timed out waiting for decoded event")
	}
}

func TestIngressSkipsMalformedFrameWithoutClosingStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"accountNotification","params":{"subscription":1,"result":{"programId":"`+strings.Repeat("B", 44)+`"}}}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	in := newTestIngress(t, wsURL(srv), []Subscription{{ProgramID: strings.Repeat("B", 44), MonitorAccounts: true}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := in.Start(ctx)
	select {
	case ev := <-out:
		if ev == nil || ev.Type != events.TypeAccountUpdate {
			t.Fatalf("expected the well-formed frame to still arrive, got %+v", ev)
		}
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("timed out: malformed frame appears to have terminated the stream")
	}
}

func TestIngressFailsAfterExhaustingReconnectAttempts(t *testing.T) {
	log := logging.NewTestLogger()
	met := metrics.New()
	cfg := Config{
		WSURL:                 "ws://127.0.0.1:1/does-not-exist",
		TimeoutSeconds:        1,
		MaxReconnectAttempts:  2,
		ReconnectDelaySeconds: 0,
		EventBufferSize:       4,
	}
	in := New(cfg, nil, met, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := in.Start(ctx)
	for range out {
	}

	if in.Status() != StatusFailed {
		t.Fatalf("expected Failed status after exhausting retries, got %v", in.Status())
	}
}

func TestShouldDropFiltersFailedAndVoteTransactionsByDefault(t *testing.T) {
	in := newTestIngress(t, "ws://unused", nil)

	failed := events.New(events.TypeTransactionUpdate, events.ProgramID{}, map[string]any{"err": map[string]any{"InstructionError": 0}})
	if !in.shouldDrop(failed) {
		t.Fatal("expected a failed transaction to be dropped by default")
	}

	vote := events.New(events.TypeTransactionUpdate, events.ProgramID{}, map[string]any{"isVote": true})
	if !in.shouldDrop(vote) {
		t.Fatal("expected a vote transaction to be dropped by default")
	}

	ok := events.New(events.TypeTransactionUpdate, events.ProgramID{}, map[string]any{"err": nil})
	if in.shouldDrop(ok) {
		t.Fatal("expected a successful (err: null) transaction to pass through")
	}
}

func TestShouldDropRespectsIncludeFlags(t *testing.T) {
	in := newTestIngress(t, "ws://unused", nil)
	in.cfg.IncludeFailed = true
	in.cfg.IncludeVotes = true

	failed := events.New(events.TypeTransactionUpdate, events.ProgramID{}, map[string]any{"err": map[string]any{"x": 1}})
	if in.shouldDrop(failed) {
		t.Fatal("expected a failed transaction to pass through when include_failed is set")
	}
	vote := events.New(events.TypeTransactionUpdate, events.ProgramID{}, map[string]any{"isVote": true})
	if in.shouldDrop(vote) {
		t.Fatal("expected a vote transaction to pass through when include_votes is set")
	}
}

func TestFullJitterStaysWithinBound(t *testing.T) {
	d := 10 * time.Second
	for i := 0; i < 20; i++ {
		got := fullJitter(d)
		if got < 0 || got >= d {
			t.Fatalf("jittered delay %v out of [0, %v)", got, d)
		}
	}
}
