// Package transport is the duplex binary-frame channel to the room server.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/mossy-p/webrtc-device/internal/logutil"
)

const (
	defaultSendBuffer   = 256
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 54 * time.Second
	defaultPongTimeout  = 60 * time.Second
)

var (
	// ErrClosed is returned by Send after the client has been closed.
	ErrClosed = errors.New("transport: closed")

	// ErrSendBufferFull is returned when the outbound queue is full.
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// EventKind identifies a transport event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventFrame
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventFrame:
		return "frame"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to the Handler from the read goroutine.
type Event struct {
	Kind EventKind

	// Data is the frame payload. For control frames it is the 2-byte close code.
	Data    []byte
	Control bool

	Err error
}

// CloseCode decodes the close code carried by a control frame.
func (e Event) CloseCode() int {
	if !e.Control || len(e.Data) != 2 {
		return 0
	}
	return 256*int(e.Data[0]) + int(e.Data[1])
}

// Handler receives transport events. It must not block for long.
type Handler func(Event)

// Options configures a Client.
type Options struct {
	// SendBuffer bounds the outbound queue. Default: 256
	SendBuffer int

	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration

	Header http.Header
	Dialer *websocket.Dialer

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Client is a websocket connection to the room server
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	handler Handler
	opts    Options
	log     logging.LeveledLogger

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// disconnectOnce ensures a single Disconnected event.
	disconnectOnce sync.Once
}

// Dial connects to url and starts the read and write pumps. EventConnected
// is delivered before Dial returns.
func Dial(ctx context.Context, url string, opts Options, handler Handler) (*Client, error) {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaultPongTimeout
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	c := &Client{
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		handler: handler,
		opts:    opts,
		log:     logutil.Scoped(opts.LoggerFactory, "transport"),
		closed:  make(chan struct{}),
	}

	c.log.Info("signaling connected")
	c.deliver(Event{Kind: EventConnected})

	c.wg.Add(2)
	go c.writePump()
	go c.readPump()
	return c, nil
}

// Send queues a binary frame.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame, stops both pumps and waits for them.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	c.wg.Wait()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.wg.Done()
		c.closeOnce.Do(func() { close(c.closed) })
		c.disconnected()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				code := make([]byte, 2)
				binary.BigEndian.PutUint16(code, uint16(closeErr.Code))
				c.deliver(Event{Kind: EventFrame, Data: code, Control: true})
			case isClosing(c.closed):
			default:
				c.log.Warnf("websocket error: %v", err)
				c.deliver(Event{Kind: EventError, Err: err})
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			c.log.Debugf("ignoring websocket message type %d", messageType)
			continue
		}
		c.deliver(Event{Kind: EventFrame, Data: data})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.wg.Done()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				c.log.Warnf("failed to write message: %v", err)
				c.deliver(Event{Kind: EventError, Err: err})
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.deliver(Event{Kind: EventError, Err: err})
				return
			}

		case <-c.closed:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteTimeout))
			return
		}
	}
}

// flush writes frames queued before Close, such as a final leave request.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) disconnected() {
	c.disconnectOnce.Do(func() {
		c.log.Info("signaling disconnected")
		c.deliver(Event{Kind: EventDisconnected})
	})
}

func (c *Client) deliver(ev Event) {
	if c.handler != nil {
		c.handler(ev)
	}
}

func isClosing(closed chan struct{}) bool {
	select {
	case <-closed:
		return true
	default:
		return false
	}
}
