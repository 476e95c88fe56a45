package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/medrelay/internal/transcript"
	"github.com/rs/zerolog"
)

// inbound is one parsed client frame, or the reason it was rejected.
type inbound struct {
	msg Message
	err error
}

// clientConn owns the downstream websocket. readLoop is its only reader and
// writeLoop its only writer.
type clientConn struct {
	conn         *websocket.Conn
	logger       zerolog.Logger
	writeTimeout time.Duration

	inbound  chan inbound
	outbound chan transcript.Event
	done     chan struct{} // closed at shutdown; unblocks readLoop

	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

func newClientConn(conn *websocket.Conn, logger zerolog.Logger, readLimit int64, writeTimeout time.Duration, queue int) *clientConn {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &clientConn{
		conn:         conn,
		logger:       logger,
		writeTimeout: writeTimeout,
		inbound:      make(chan inbound),
		outbound:     make(chan transcript.Event, queue),
		done:         make(chan struct{}),
	}
}

func (c *clientConn) start() {
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// send queues ev for the writer without blocking. It reports false when the
// client has fallen too far behind.
func (c *clientConn) send(ev transcript.Event) bool {
	select {
	case c.outbound <- ev:
		return true
	default:
		return false
	}
}

// shutdown flushes queued events, sends a close frame and releases the socket.
func (c *clientConn) shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.done)
		close(c.outbound)
		c.wg.Wait()
	})
}

func (c *clientConn) readLoop() {
	defer c.wg.Done()
	defer close(c.inbound)

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Debug().Msg("relay: client closed connection")
				} else {
					c.logger.Debug().Err(err).Msg("relay: client read ended")
				}
			}
			return
		}

		in := inbound{}
		if typ != websocket.TextMessage {
			in.err = errBinaryFrame
		} else {
			in.msg, in.err = ParseMessage(data)
		}

		select {
		case c.inbound <- in:
		case <-c.done:
			return
		}
	}
}

func (c *clientConn) writeLoop() {
	defer c.wg.Done()
	// Closing the socket here ends readLoop once the writer is finished.
	defer c.conn.Close()

	broken := false
	for ev := range c.outbound {
		if broken {
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			c.logger.Debug().Err(err).Msg("relay: client write failed")
			broken = true
		}
	}

	if !broken {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
}
