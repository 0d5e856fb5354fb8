// Package remote keeps a local store in sync with a peer data layer:
// a reachability probe, an initial catch-up pull, then a live WebSocket
// subscription with bounded-backoff reconnection.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"udl/application/store"
	"udl/application/webhook"
	"udl/domain/node"
	"udl/pkg/errors"
	"udl/pkg/observability"
)

// State is the connection lifecycle of the subscription.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateBackoff
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config drives the sync client.
type Config struct {
	// URL is the peer's base HTTP URL.
	URL string

	HealthTimeout    time.Duration // reachability probe, default 3s
	PullTimeout      time.Duration // initial catch-up pull, default 30s
	HandshakeTimeout time.Duration // WebSocket dial, default 10s

	ReconnectDelay       time.Duration // initial backoff, default 1s
	MaxReconnectAttempts int           // default 10

	// OnWebhookReceived relays an upstream webhook:queued event so the
	// local node can enqueue a copy for local processing.
	OnWebhookReceived func(*webhook.QueuedWebhook)

	// OnError surfaces a terminal subscription failure (reconnect
	// attempts exhausted). The initial pull state remains valid.
	OnError func(error)
}

func (c Config) withDefaults() Config {
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 3 * time.Second
	}
	if c.PullTimeout <= 0 {
		c.PullTimeout = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	return c
}

// Frame is the peer's event envelope.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// SyncResponse is the initial pull's body.
type SyncResponse struct {
	Updated []*node.Node `json:"updated"`
	Deleted []string     `json:"deleted"`
}

// Client is the remote sync client. One per configured peer; it owns a
// background goroutine for the subscription and mutates the local store
// through the standard writer discipline.
type Client struct {
	cfg        Config
	store      *store.Store
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *observability.Metrics
	logger     *zap.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	cancel  context.CancelFunc
	started bool // subscription goroutine launched, done will close
	done    chan struct{}
}

// New creates a sync client against the configured peer.
func New(cfg Config, s *store.Store, metrics *observability.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		store:      s,
		httpClient: &http.Client{},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "remote-sync",
			Timeout: 30 * time.Second,
		}),
		metrics: metrics,
		logger:  logger.With(zap.String("component", "remote-sync"), zap.String("peer", cfg.URL)),
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

// State returns the current subscription state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start probes the peer, performs the initial pull since the given
// timestamp, and launches the live subscription. A failed probe returns
// RemoteUnreachable and disables remote sync for this run.
func (c *Client) Start(ctx context.Context, since time.Time) error {
	if err := c.probe(ctx); err != nil {
		c.setState(StateClosed)
		return errors.NewRemoteUnreachable("peer health probe failed", err)
	}

	if err := c.initialPull(ctx, since); err != nil {
		// Catch-up is best effort; the subscription still carries deltas.
		c.logger.Warn("initial sync pull failed", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()
	go c.run(runCtx)
	return nil
}

// Stop cancels the reconnect loop and closes the socket, waiting at most
// grace for the background goroutine to drain.
func (c *Client) Stop(grace time.Duration) {
	c.mu.Lock()
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	// Without a subscription goroutine there is nothing to wait for.
	if !started {
		return
	}

	select {
	case <-c.done:
	case <-time.After(grace):
		c.logger.Warn("remote sync did not stop within grace period")
	}
}

func (c *Client) probe(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (any, error) {
		probeCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.cfg.URL+"/health", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("health returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

func (c *Client) initialPull(ctx context.Context, since time.Time) error {
	body, err := c.breaker.Execute(func() (any, error) {
		pullCtx, cancel := context.WithTimeout(ctx, c.cfg.PullTimeout)
		defer cancel()

		endpoint := fmt.Sprintf("%s/_sync?since=%s", c.cfg.URL, url.QueryEscape(since.Format(time.RFC3339)))
		req, err := http.NewRequestWithContext(pullCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("sync pull returned %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return errors.NewTransientIO("sync pull failed", err)
	}

	var sync SyncResponse
	if err := json.Unmarshal(body.([]byte), &sync); err != nil {
		return errors.NewTransientIO("sync pull body unparseable", err)
	}

	// Updated nodes keep their original envelopes; deletions are applied
	// without cascade, the peer already expanded its own cascades.
	for _, n := range sync.Updated {
		if err := c.store.Put(n); err != nil {
			c.logger.Warn("rejected synced node", zap.String("nodeId", n.ID()), zap.Error(err))
		}
	}
	for _, id := range sync.Deleted {
		c.store.Delete(id, false)
	}

	c.logger.Info("initial sync applied",
		zap.Int("updated", len(sync.Updated)),
		zap.Int("deleted", len(sync.Deleted)),
	)
	return nil
}

// run is the subscription state machine: Connecting -> Open on success,
// Connecting -> Backoff -> Connecting on failure, Closed when attempts
// are exhausted or the context is canceled.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(StateClosed)

	attempts := 0
	delay := c.cfg.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err == nil {
			attempts = 0
			delay = c.cfg.ReconnectDelay
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.setState(StateOpen)
			c.logger.Info("subscribed to peer events")

			err = c.readLoop(ctx, conn)
			conn.Close()
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("peer connection lost", zap.Error(err))
		}

		attempts++
		if c.metrics != nil {
			c.metrics.RemoteReconnects.Inc()
		}
		if attempts > c.cfg.MaxReconnectAttempts {
			err := errors.NewRemoteUnreachable(
				fmt.Sprintf("gave up after %d reconnect attempts", c.cfg.MaxReconnectAttempts), err)
			c.logger.Error("remote subscription abandoned", zap.Error(err))
			if c.cfg.OnError != nil {
				c.cfg.OnError(err)
			}
			return
		}

		c.setState(StateBackoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > time.Minute {
			delay = time.Minute
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, websocketURL(c.cfg.URL), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("unparseable peer frame", zap.Error(err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	switch frame.Type {
	case "node:updated", "node:created":
		var n node.Node
		if err := json.Unmarshal(frame.Payload, &n); err != nil {
			c.logger.Warn("bad node payload in peer frame", zap.Error(err))
			return
		}
		if err := c.store.Put(&n); err != nil {
			c.logger.Warn("rejected peer node", zap.Error(err))
		}

	case "node:deleted":
		var n node.Node
		if err := json.Unmarshal(frame.Payload, &n); err != nil {
			c.logger.Warn("bad delete payload in peer frame", zap.Error(err))
			return
		}
		if n.ID() != "" {
			c.store.Delete(n.ID(), false)
		}

	case "webhook:queued":
		if c.cfg.OnWebhookReceived == nil {
			return
		}
		var w webhook.QueuedWebhook
		if err := json.Unmarshal(frame.Payload, &w); err != nil {
			c.logger.Warn("bad webhook payload in peer frame", zap.Error(err))
			return
		}
		c.cfg.OnWebhookReceived(&w)

	default:
		c.logger.Debug("ignoring peer frame", zap.String("type", frame.Type))
	}
}

// websocketURL derives the subscription endpoint from the peer base URL:
// http becomes ws, https becomes wss.
func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimSuffix(base, "/") + "/ws"
}
