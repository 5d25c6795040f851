package dbproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	rnet "github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"go.uber.org/zap"
)

// Client is the realm's end of the persistence link. Requests from many
// workers share one TCP connection and are matched to responses by
// request id. When the link drops, every in-flight request fails as
// transient and the next Execute redials.
type Client struct {
	addr        string
	codec       *packet.Codec
	dialTimeout time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	conn    net.Conn
	pending map[uuid.UUID]chan *packet.DbResponse
	closed  bool

	writeMu sync.Mutex
	dials   atomic.Uint64
}

func NewClient(addr string, codec *packet.Codec, dialTimeout time.Duration, log *zap.Logger) *Client {
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	return &Client{
		addr:        addr,
		codec:       codec,
		dialTimeout: dialTimeout,
		log:         log.Named("dblink"),
		pending:     make(map[uuid.UUID]chan *packet.DbResponse),
	}
}

// Dials is how many connections have been opened.
func (c *Client) Dials() uint64 { return c.dials.Load() }

// Execute sends one attempt of cmd and waits for its response.
func (c *Client) Execute(ctx context.Context, cmd Command) ([]byte, error) {
	ch := make(chan *packet.DbResponse, 1)
	conn, err := c.register(ctx, cmd.ID, ch)
	if err != nil {
		return nil, err
	}

	req := &packet.DbRequest{
		RequestID: [16]byte(cmd.ID),
		Kind:      byte(cmd.Kind),
		Table:     cmd.Table,
		Key:       cmd.Key,
		Payload:   cmd.Payload,
	}
	c.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(dl)
	}
	err = rnet.WriteMessage(conn, c.codec, req)
	c.writeMu.Unlock()
	if err != nil {
		c.drop(conn, err)
		return nil, Transient(fmt.Errorf("send %s: %w", cmd, err))
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, Transient(fmt.Errorf("%s: %w", cmd, ErrLinkDown))
		}
		return decodeResponse(resp)
	case <-ctx.Done():
		c.forget(cmd.ID)
		return nil, Transient(ctx.Err())
	}
}

// register makes sure a link is up and records a waiter for id on it.
func (c *Client) register(ctx context.Context, id uuid.UUID, ch chan *packet.DbResponse) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil {
		d := net.Dialer{Timeout: c.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return nil, Transient(fmt.Errorf("dial dbproxy %s: %w", c.addr, err))
		}
		c.dials.Add(1)
		c.conn = conn
		go c.readLoop(conn)
		c.log.Info("persistence link up", zap.String("addr", c.addr))
	}
	c.pending[id] = ch
	return c.conn, nil
}

func (c *Client) forget(id uuid.UUID) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop(conn net.Conn) {
	for {
		msg, err := rnet.ReadMessage(conn, c.codec)
		if err != nil {
			c.drop(conn, err)
			return
		}
		resp, ok := msg.(*packet.DbResponse)
		if !ok {
			c.log.Warn("unexpected message on persistence link", zap.Stringer("type", msg.Type()))
			continue
		}
		id := uuid.UUID(resp.RequestID)
		c.mu.Lock()
		ch := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
	}
}

// drop tears down conn if it is still the current link and fails every
// request waiting on it.
func (c *Client) drop(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	waiting := c.pending
	c.pending = make(map[uuid.UUID]chan *packet.DbResponse)
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	for _, ch := range waiting {
		close(ch)
	}
	if !closed {
		c.log.Warn("persistence link down", zap.Int("in_flight", len(waiting)), zap.Error(cause))
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.drop(conn, ErrClosed)
	}
	return nil
}

func decodeResponse(resp *packet.DbResponse) ([]byte, error) {
	switch resp.Status {
	case packet.DbOK:
		return resp.Payload, nil
	case packet.DbNotFound:
		return nil, fmt.Errorf("%s: %w", resp.Error, ErrNotFound)
	case packet.DbConflict:
		return nil, fmt.Errorf("%s: %w", resp.Error, ErrConflict)
	case packet.DbTransient:
		return nil, Transient(errors.New(resp.Error))
	default:
		return nil, errors.New(resp.Error)
	}
}

func encodeStatus(err error) byte {
	switch {
	case err == nil:
		return packet.DbOK
	case errors.Is(err, ErrNotFound):
		return packet.DbNotFound
	case errors.Is(err, ErrConflict):
		return packet.DbConflict
	case IsTransient(err):
		return packet.DbTransient
	default:
		return packet.DbFatal
	}
}
