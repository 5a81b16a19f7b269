package btp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/retry"
)

// Status of a peer link.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Timing for the websocket keepalive and writes.
const (
	pingInterval     = 30 * time.Second
	pongTimeout      = 30 * time.Second
	writeTimeout     = 10 * time.Second
	maxFrameSize     = 1 << 22 // 4 MiB
	closeGracePeriod = time.Second
)

// Reconnection defaults: exponential backoff from 1s capped at 30s, ten
// attempts before the link parks in the error state.
const (
	DefaultReconnectBase = time.Second
	DefaultReconnectCap  = 30 * time.Second
	DefaultMaxAttempts   = 10
)

// Handler consumes one inbound packet from a peer link.
type Handler func(peerID string, p *Packet)

// ConnOptions tunes a peer link.
type ConnOptions struct {
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	// MaxAttempts bounds consecutive reconnection attempts. After
	// exhaustion the link surfaces StatusError until Reconnect is called.
	MaxAttempts int
	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = DefaultReconnectBase
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = DefaultReconnectCap
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// Conn is one bidirectional peer link. One frame carries one packet.
// Outbound links (created with a URL) reconnect themselves; inbound links
// (adopted by a server) end when the socket does.
type Conn struct {
	url     string
	peerID  string
	handler Handler
	opts    ConnOptions

	mu       sync.Mutex
	ws       *websocket.Conn
	status   Status
	attempts int
	closed   bool

	statusFeed event.FeedOf[Status]
	readerDone chan struct{}
}

// NewConn returns an outbound link toward url. It does not dial; call
// Connect.
func NewConn(url, peerID string, handler Handler, opts ConnOptions) *Conn {
	return &Conn{
		url:     url,
		peerID:  peerID,
		handler: handler,
		opts:    opts.withDefaults(),
		status:  StatusDisconnected,
	}
}

// Adopt wraps an already-accepted server-side socket as a peer link and
// starts its read loop. Inbound links do not reconnect.
func Adopt(ws *websocket.Conn, peerID string, handler Handler) *Conn {
	c := &Conn{
		peerID:  peerID,
		handler: handler,
		opts:    ConnOptions{}.withDefaults(),
	}
	c.install(ws)
	return c
}

// PeerID returns the peer this link is bound to.
func (c *Conn) PeerID() string { return c.peerID }

// Status returns the link state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SubscribeStatus delivers every status change emitted after the call.
func (c *Conn) SubscribeStatus(ch chan<- Status) event.Subscription {
	return c.statusFeed.Subscribe(ch)
}

func (c *Conn) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.statusFeed.Send(s)
}

// Connect dials the peer. On success the attempt counter resets and the
// read loop starts.
func (c *Conn) Connect(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("btp: inbound link cannot dial")
	}
	c.setStatus(StatusConnecting)
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("btp: dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	c.install(ws)
	return nil
}

// install wires the socket and starts the read and keepalive loops.
func (c *Conn) install(ws *websocket.Conn) {
	ws.SetReadLimit(maxFrameSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	})

	c.mu.Lock()
	c.ws = ws
	c.readerDone = make(chan struct{})
	done := c.readerDone
	c.mu.Unlock()
	c.setStatus(StatusConnected)

	go c.readLoop(ws, done)
	go c.pingLoop(ws, done)
}

// Send writes one packet as one frame. Concurrent senders serialize on the
// connection's write lock.
func (c *Conn) Send(p Packet) error {
	frame, err := EncodeFrame(p)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || c.status != StatusConnected {
		return fmt.Errorf("btp: peer %s is not connected", c.peerID)
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("btp: write to %s: %w", c.peerID, err)
	}
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			c.onReadError(ws, err)
			return
		}
		p, err := DecodeFrame(frame)
		if err != nil {
			zap.L().Warn("dropping malformed frame",
				zap.String("peer", c.peerID), zap.Error(err))
			continue
		}
		if c.handler != nil {
			c.handler(c.peerID, p)
		}
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Conn) onReadError(ws *websocket.Conn, err error) {
	ws.Close()

	c.mu.Lock()
	if c.closed || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		zap.L().Info("peer closed link", zap.String("peer", c.peerID))
	} else {
		zap.L().Warn("peer link lost", zap.String("peer", c.peerID), zap.Error(err))
	}
	c.setStatus(StatusDisconnected)
	if c.url != "" {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries the dial under the backoff ladder until it succeeds,
// the attempt budget runs out, or the link is closed.
func (c *Conn) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		attempt := c.attempts
		if attempt >= c.opts.MaxAttempts {
			c.mu.Unlock()
			zap.L().Error("reconnection attempts exhausted",
				zap.String("peer", c.peerID), zap.Int("attempts", attempt))
			c.setStatus(StatusError)
			return
		}
		c.attempts = attempt + 1
		c.mu.Unlock()

		time.Sleep(retry.BackoffDelay(attempt, c.opts.ReconnectBase, c.opts.ReconnectCap))
		if err := c.Connect(context.Background()); err == nil {
			return
		}
	}
}

// Reconnect resets the attempt counter and dials again. It is the manual
// escape hatch after the automatic ladder has parked the link in the error
// state.
func (c *Conn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("btp: link to %s is closed", c.peerID)
	}
	c.attempts = 0
	c.mu.Unlock()
	return c.Connect(ctx)
}

// Close sends a close frame, waits briefly for the read loop to drain, and
// releases the socket. The link cannot be reused afterwards.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	done := c.readerDone
	c.mu.Unlock()

	if ws != nil {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if done != nil {
			select {
			case <-done:
			case <-time.After(closeGracePeriod):
			}
		}
		ws.Close()
	}
	c.setStatus(StatusDisconnected)
	return nil
}
