package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"mdstream/internal/infrastructure/metrics"
)

var (
	ErrNotConnected   = errors.New("websocket not connected")
	ErrRetryExhausted = errors.New("reconnect attempts exhausted")
	ErrClosed         = errors.New("client closed")
)

// Callbacks 连接生命周期回调。除 OnState 外都在连接 goroutine 上调用
type Callbacks struct {
	// Handshake runs right after dial, before the read loop starts. It may read and
	// write conn directly; the read deadline is the handshake timeout.
	Handshake func(conn *websocket.Conn) error
	// OnOpen runs after a successful handshake. An error drops the connection and retries.
	OnOpen    func() error
	OnMessage func(msgType int, data []byte)
	OnError   func(err error)
	OnClose   func(err error)
	// OnFatal is called once when the retry budget is exhausted.
	OnFatal func(err error)
	OnState func(s ConnState)
}

type ClientConfig struct {
	Name             string
	URL              string
	Header           http.Header
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	// Heartbeat replaces the protocol-level ping, e.g. a text "ping" frame.
	Heartbeat func(c *Client) error
	Retry     RetryPolicy
	Dialer    *websocket.Dialer
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 35 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	cfg.Retry = cfg.Retry.WithDefaults()
	return cfg
}

// runCtl 一次 Connect 对应的连接循环
type runCtl struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (r *runCtl) signal() { r.stopOnce.Do(func() { close(r.stop) }) }

// Client is the wire protocol client: it owns the physical connection, the heartbeat
// and the reconnect loop, and knows nothing about subscriptions.
type Client struct {
	cfg ClientConfig
	cb  Callbacks

	mu    sync.Mutex
	state ConnState
	conn  *websocket.Conn
	ctl   *runCtl

	writeMu sync.Mutex
}

func NewClient(cfg ClientConfig, cb Callbacks) *Client {
	return &Client{cfg: cfg.withDefaults(), cb: cb}
}

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop in the background and returns immediately.
// It is a no-op while a loop is already running.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.URL == "" {
		return fmt.Errorf("%s: ws url empty", c.cfg.Name)
	}
	c.mu.Lock()
	if !c.state.idle() {
		c.mu.Unlock()
		return nil
	}
	ctl := &runCtl{stop: make(chan struct{}), done: make(chan struct{})}
	c.ctl = ctl
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify(StateConnecting)

	go c.run(ctx, ctl)
	return nil
}

// Close stops the reconnect loop and closes the socket. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	ctl, conn := c.ctl, c.conn
	c.ctl, c.conn = nil, nil
	changed := c.state != StateDisconnected && c.state != StateTerminal
	if changed {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if ctl != nil {
		ctl.signal()
	}
	if conn != nil {
		// WriteControl may run concurrently with other writers
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if changed {
		c.notify(StateDisconnected)
	}
	return nil
}

// Wait blocks until the current connection loop (if any) has exited.
func (c *Client) Wait() {
	c.mu.Lock()
	ctl := c.ctl
	c.mu.Unlock()
	if ctl != nil {
		<-ctl.done
	}
}

// Send writes one frame. Returns ErrNotConnected when no socket is attached.
func (c *Client) Send(msgType int, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(msgType, data)
}

func (c *Client) SendText(s string) error {
	return c.Send(websocket.TextMessage, []byte(s))
}

func (c *Client) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.Send(websocket.TextMessage, b)
}

func (c *Client) run(ctx context.Context, ctl *runCtl) {
	defer close(ctl.done)

	attempt := 0
	for {
		if c.stopped(ctx, ctl) {
			c.finish(ctl)
			return
		}
		if !c.transition(ctl, StateConnecting) {
			return
		}

		opened, err := c.session(ctx, ctl)
		if opened {
			attempt = 0
		}
		if c.stopped(ctx, ctl) {
			c.finish(ctl)
			return
		}
		if err != nil && !opened && c.cb.OnError != nil {
			c.cb.OnError(err)
		}

		if attempt >= c.cfg.Retry.MaxAttempts {
			fatal := fmt.Errorf("%s: %w (%d attempts): %v", c.cfg.Name, ErrRetryExhausted, attempt, err)
			log.Error().Str("venue", c.cfg.Name).Err(fatal).Msg("ws giving up")
			if c.transition(ctl, StateTerminal) {
				c.detach(ctl)
				if c.cb.OnFatal != nil {
					c.cb.OnFatal(fatal)
				}
			}
			return
		}

		delay := c.cfg.Retry.Delay(attempt)
		attempt++
		if !c.transition(ctl, StateReconnecting) {
			return
		}
		metrics.Reconnects.WithLabelValues(c.cfg.Name).Inc()
		log.Warn().Str("venue", c.cfg.Name).Err(err).
			Int("attempt", attempt).
			Int64("delay_ms", delay.Milliseconds()).
			Msg("ws disconnected, reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctl.stop:
			timer.Stop()
			c.finish(ctl)
			return
		case <-ctx.Done():
			timer.Stop()
			c.finish(ctl)
			return
		case <-timer.C:
		}
	}
}

// session dials, authenticates, runs OnOpen and then the read loop until the socket drops.
// opened reports whether OnOpen completed, which resets the retry counter.
func (c *Client) session(ctx context.Context, ctl *runCtl) (opened bool, err error) {
	log.Info().Str("venue", c.cfg.Name).Str("url", c.cfg.URL).Msg("ws connecting")
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, _, err := c.cfg.Dialer.DialContext(dctx, c.cfg.URL, c.cfg.Header)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	if !c.attach(ctl, conn) {
		_ = conn.Close()
		return false, ErrClosed
	}
	defer c.detachConn(ctl, conn)

	if c.cb.Handshake != nil {
		c.writeMu.Lock()
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
		err := c.cb.Handshake(conn)
		c.writeMu.Unlock()
		if err != nil {
			return false, fmt.Errorf("handshake: %w", err)
		}
	}
	if !c.transition(ctl, StateAuthenticated) {
		return false, ErrClosed
	}

	readTimeout := c.cfg.PingInterval + c.cfg.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	if c.cb.OnOpen != nil {
		if err := c.cb.OnOpen(); err != nil {
			return false, fmt.Errorf("on open: %w", err)
		}
	}
	log.Info().Str("venue", c.cfg.Name).Msg("ws connected")

	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		for {
			mt, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			metrics.FramesReceived.WithLabelValues(c.cfg.Name).Inc()
			if c.cb.OnMessage != nil {
				c.cb.OnMessage(mt, b)
			}
		}
	}()

	for {
		select {
		case <-ctl.stop:
			return true, ErrClosed
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-errCh:
			if c.cb.OnClose != nil {
				c.cb.OnClose(err)
			}
			return true, err
		case <-pingTicker.C:
			if err := c.heartbeat(conn); err != nil {
				log.Warn().Str("venue", c.cfg.Name).Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (c *Client) heartbeat(conn *websocket.Conn) error {
	if c.cfg.Heartbeat != nil {
		return c.cfg.Heartbeat(c)
	}
	return conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteTimeout))
}

func (c *Client) stopped(ctx context.Context, ctl *runCtl) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-ctl.stop:
		return true
	default:
		return false
	}
}

// transition 仅当 ctl 仍是当前循环时才修改状态
func (c *Client) transition(ctl *runCtl, s ConnState) bool {
	c.mu.Lock()
	if c.ctl != ctl {
		c.mu.Unlock()
		return false
	}
	c.state = s
	c.mu.Unlock()
	c.notify(s)
	return true
}

func (c *Client) attach(ctl *runCtl, conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.ctl != ctl {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()
	c.notify(StateConnected)
	return true
}

func (c *Client) detachConn(ctl *runCtl, conn *websocket.Conn) {
	c.mu.Lock()
	if c.ctl == ctl && c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// detach 释放循环所有权但保留 Terminal 状态
func (c *Client) detach(ctl *runCtl) {
	c.mu.Lock()
	if c.ctl == ctl {
		c.ctl = nil
	}
	c.mu.Unlock()
}

func (c *Client) finish(ctl *runCtl) {
	c.mu.Lock()
	if c.ctl != ctl {
		c.mu.Unlock()
		return
	}
	c.ctl = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	c.notify(StateDisconnected)
}

func (c *Client) notify(s ConnState) {
	metrics.ConnState.WithLabelValues(c.cfg.Name).Set(float64(s))
	if c.cb.OnState != nil {
		c.cb.OnState(s)
	}
}
