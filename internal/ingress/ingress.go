// Package ingress implements a reconnecting WebSocket subscriber that
// decodes the upstream chain's notification frames into canonical
// events.ProgramEvent values.
package ingress

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	mathrand "math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
	"github.com/hasip-timurtas/solana-watchtower/internal/logging"
	"github.com/hasip-timurtas/solana-watchtower/internal/metrics"
)

// Status is the ingress client's public connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusReconnecting:
		return "Reconnecting"
	case StatusFailed:
		return "Failed"
	default:
		return "Disconnected"
	}
}

// Subscription describes one configured program's subscribe flags.
type Subscription struct {
	ProgramID           string
	MonitorAccounts     bool
	MonitorTransactions bool
	MonitorLogs         bool
}

// Config parametrises reconnect behaviour and connection-level filters.
type Config struct {
	WSURL                 string
	TimeoutSeconds        int
	MaxReconnectAttempts  int
	ReconnectDelaySeconds int
	EventBufferSize       int

	// IncludeFailed/IncludeVotes control whether failed and vote
	// transactions are dropped here, at ingress, unless explicitly
	// requested, so the rule engine and history never see traffic
	// nobody asked to monitor.
	IncludeFailed bool
	IncludeVotes  bool
}

// Ingress owns a single WebSocket connection at a time. The goroutine
// running the connect/subscribe/read loop does all reads on the
// *websocket.Conn; while readLoop runs, a pingLoop goroutine writes
// ping control frames on the same Conn. No mutex guards Conn.
type Ingress struct {
	cfg  Config
	subs []Subscription
	met  *metrics.Registry
	log  *logging.Logger

	statusMu sync.RWMutex
	status   Status

	dialer *websocket.Dialer
}

// New constructs an Ingress client for the given subscriptions.
func New(cfg Config, subs []Subscription, met *metrics.Registry, log *logging.Logger) *Ingress {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Ingress{
		cfg:    cfg,
		subs:   subs,
		met:    met,
		log:    log,
		status: StatusDisconnected,
		dialer: &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

// Status returns the current connection state.
func (in *Ingress) Status() Status {
	in.statusMu.RLock()
	defer in.statusMu.RUnlock()
	return in.status
}

func (in *Ingress) setStatus(s Status) {
	in.statusMu.Lock()
	in.status = s
	in.statusMu.Unlock()
}

// Start opens a session and returns a channel of decoded events,
// closing it once the connection is permanently Failed or ctx is
// cancelled. The returned channel has capacity event_buffer_size; a
// full channel blocks the producer rather than dropping, applying
// backpressure all the way back to the socket reader.
func (in *Ingress) Start(ctx context.Context) <-chan *events.ProgramEvent {
	capacity := in.cfg.EventBufferSize
	if capacity <= 0 {
		capacity = 10_000
	}
	out := make(chan *events.ProgramEvent, capacity)
	go in.run(ctx, out)
	return out
}

func (in *Ingress) run(ctx context.Context, out chan<- *events.ProgramEvent) {
	defer close(out)

	attempt := 0
	var downtimeStart time.Time
	firstConnect := true

	for {
		if ctx.Err() != nil {
			return
		}

		in.setStatus(StatusConnecting)
		conn, _, err := in.dialer.DialContext(ctx, in.cfg.WSURL, http.Header{})
		if err != nil {
			if !in.backoffOrFail(ctx, &attempt, &downtimeStart) {
				in.setStatus(StatusFailed)
				return
			}
			continue
		}

		if err := in.subscribeAll(conn); err != nil {
			conn.Close()
			if !in.backoffOrFail(ctx, &attempt, &downtimeStart) {
				in.setStatus(StatusFailed)
				return
			}
			continue
		}

		in.setStatus(StatusConnected)
		if !firstConnect {
			downtime := time.Since(downtimeStart)
			in.emitReconnectEvent(ctx, out, attempt, downtime)
		}
		firstConnect = false
		attempt = 0

		readErr := in.readLoop(ctx, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		if readErr == nil {
			return
		}

		downtimeStart = time.Now()
		if !in.backoffOrFail(ctx, &attempt, &downtimeStart) {
			in.setStatus(StatusFailed)
			return
		}
	}
}

// backoffOrFail waits out a full-jitter exponential backoff and reports
// whether the caller should retry (false means retries are exhausted).
func (in *Ingress) backoffOrFail(ctx context.Context, attempt *int, downtimeStart *time.Time) bool {
	maxAttempts := in.cfg.MaxReconnectAttempts
	if maxAttempts > 0 && *attempt >= maxAttempts {
		return false
	}
	in.setStatus(StatusReconnecting)
	if downtimeStart.IsZero() {
		*downtimeStart = time.Now()
	}
	if in.met != nil {
		in.met.IncReconnectAttempt()
	}

	base := time.Duration(in.cfg.ReconnectDelaySeconds) * time.Second
	if base <= 0 {
		base = time.Second
	}
	delay := base * time.Duration(math.Pow(2, float64(*attempt)))
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	delay = fullJitter(delay)
	*attempt++

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// fullJitter returns a random duration in [0, d), the "full jitter"
// backoff strategy. This is an arithmetic concern, not a transport one,
// so it stays on math/rand rather than pulling in a dependency (see
// DESIGN.md).
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return d / 2
	}
	r := mathrand.New(mathrand.NewSource(int64(binary.BigEndian.Uint64(seed[:]))))
	return time.Duration(r.Int63n(int64(d)))
}

func (in *Ingress) subscribeAll(conn *websocket.Conn) error {
	id := 1
	for _, sub := range in.subs {
		methods := subscribeMethods(sub)
		for _, method := range methods {
			frame := events.SubscribeFrame{
				ID:     id,
				Method: method,
				Params: []any{sub.ProgramID, map[string]any{"encoding": "jsonParsed"}},
			}
			id++
			if err := conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("send subscribe frame: %w", err)
			}
		}
	}
	return nil
}

func subscribeMethods(sub Subscription) []events.SubscribeMethod {
	var methods []events.SubscribeMethod
	if sub.MonitorAccounts {
		methods = append(methods, events.MethodAccountSubscribe)
	}
	if sub.MonitorTransactions {
		methods = append(methods, events.MethodSignatureSubscribe)
	}
	if sub.MonitorLogs {
		methods = append(methods, events.MethodLogsSubscribe)
	}
	return methods
}

// readLoop reads from conn until it returns (transport error or clean
// shutdown), running pingLoop alongside it to write pings on the same
// conn.
func (in *Ingress) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- *events.ProgramEvent) error {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go in.pingLoop(conn, stopPing)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var hint struct {
			Method string `json:"method"`
		}
		_ = json.Unmarshal(raw, &hint)

		ev, err := events.Decode(hint.Method, raw)
		if err != nil {
			if _, unknown := err.(*events.ErrUnknownMethod); unknown {
				continue
			}
			if in.met != nil {
				in.met.IncEventsMalformed()
			}
			if in.log != nil {
				in.log.Warn("dropped malformed frame", logging.String("error", err.Error()))
			}
			continue
		}

		if in.shouldDrop(ev) {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// shouldDrop applies the ingress-level transaction filters: failed and
// vote transactions are dropped before they ever reach history or the
// rule engine unless the operator opted in.
func (in *Ingress) shouldDrop(ev *events.ProgramEvent) bool {
	if ev.Type != events.TypeTransactionUpdate {
		return false
	}
	if !in.cfg.IncludeFailed {
		if errVal, present := ev.Data["err"]; present && errVal != nil {
			return true
		}
	}
	if !in.cfg.IncludeVotes {
		if vote, ok := ev.Data["isVote"].(bool); ok && vote {
			return true
		}
	}
	return false
}

func (in *Ingress) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (in *Ingress) emitReconnectEvent(ctx context.Context, out chan<- *events.ProgramEvent, attempts int, downtime time.Duration) {
	ev := events.NewCustom("reconnect", events.ProgramID{}, map[string]any{
		"attempts":    attempts,
		"downtime_ms": downtime.Milliseconds(),
	})
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
