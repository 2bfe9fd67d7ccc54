// Package channel is the client side of the dialogue service connection: a
// WebSocket that carries commit and cancel envelopes out and streamed reply
// events back.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"yuzu/interview/internal/protocol"
)

var (
	ErrClosed       = errors.New("channel: closed")
	ErrBackpressure = errors.New("channel: send queue full")
)

type Option func(*Client)

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// WithQueueSize bounds the number of envelopes waiting to be written.
func WithQueueSize(n int) Option { return func(c *Client) { c.queueSize = n } }

func WithWriteTimeout(d time.Duration) Option { return func(c *Client) { c.writeTimeout = d } }

// Client owns one connection. Send never blocks: envelopes are queued and
// written by a single writer goroutine.
type Client struct {
	conn         *ws.Conn
	log          *slog.Logger
	queueSize    int
	writeTimeout time.Duration

	out    chan protocol.Outbound
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	onSendError func(turnID string, err error)
}

// Dial connects to the dialogue service. token, if set, is sent as a bearer
// credential.
func Dial(ctx context.Context, url, token string, opts ...Option) (*Client, error) {
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := ws.Dial(ctx, url, &ws.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("channel: dial %s: %w", url, err)
	}
	return newClient(conn, opts...), nil
}

func newClient(conn *ws.Conn, opts ...Option) *Client {
	c := &Client{
		conn:         conn,
		log:          slog.Default(),
		queueSize:    32,
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "channel")
	c.out = make(chan protocol.Outbound, c.queueSize)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.writeLoop()
	return c
}

// OnSendError registers a callback for envelopes that were accepted by Send
// but could not be written.
func (c *Client) OnSendError(f func(turnID string, err error)) {
	c.mu.Lock()
	c.onSendError = f
	c.mu.Unlock()
}

// Send queues msg for writing.
func (c *Client) Send(msg protocol.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				c.log.Warn("write failed", "type", msg.Type, "turn_id", msg.TurnID, "err", err)
				c.reportSendError(msg.TurnID, err)
				continue
			}
			c.log.Debug("sent", "type", msg.Type, "turn_id", msg.TurnID)
		}
	}
}

func (c *Client) reportSendError(turnID string, err error) {
	c.mu.Lock()
	f := c.onSendError
	c.mu.Unlock()
	if f != nil {
		f(turnID, err)
	}
}

// Run reads inbound envelopes until ctx ends or the connection drops.
// Undecodable payloads are logged and skipped.
func (c *Client) Run(ctx context.Context, handle func(protocol.Inbound)) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return nil
			}
			if ws.CloseStatus(err) == ws.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("channel: read: %w", err)
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			c.log.Warn("inbound dropped", "err", err)
			continue
		}
		handle(msg)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the writer and closes the connection. Queued envelopes that
// were not yet written are dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return c.conn.Close(ws.StatusNormalClosure, "bye")
}
