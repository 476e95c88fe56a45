package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultURL is the OpenAI realtime endpoint in transcription mode.
const DefaultURL = "wss://api.openai.com/v1/realtime?intent=transcription"

var (
	// ErrMissingCredential is returned by Dial when no API key is configured.
	ErrMissingCredential = errors.New("upstream credential not configured")
	// ErrConnect wraps dial and handshake failures.
	ErrConnect = errors.New("upstream connect failed")
	// ErrQueueFull is returned when the send queue cannot accept a message.
	ErrQueueFull = errors.New("upstream send queue full")
	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("upstream client closed")
)

const (
	defaultSendQueue     = 256
	defaultHandshake     = 10 * time.Second
	writeTimeout         = 10 * time.Second
	closeFrameTimeout    = time.Second
	eventsChannelBacklog = 64
)

// Config holds configuration for the realtime transcription client.
type Config struct {
	APIKey         string
	URL            string // defaults to DefaultURL
	Model          string // transcription model, e.g. "gpt-4o-transcribe"
	Language       string // e.g. "en"
	InputFormat    string // e.g. "pcm16"
	NoiseReduction string // "near_field", "far_field" or "" to disable
	SendQueue      int    // bounded outbound queue length

	HandshakeTimeout time.Duration
}

// Client owns one websocket connection to the upstream transcription service.
type Client struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	queue  chan []byte
	events chan Event

	sendMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup // readLoop and writeLoop
}

// Dial connects to the upstream service and sends the session configuration.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshake
	}
	queueLen := cfg.SendQueue
	if queueLen <= 0 {
		queueLen = defaultSendQueue
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}
	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	update, err := json.Marshal(sessionUpdate(cfg))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: encode session update: %v", ErrConnect, err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, update); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: send session update: %v", ErrConnect, err)
	}

	c := &Client{
		conn:   conn,
		logger: logger,
		queue:  make(chan []byte, queueLen),
		events: make(chan Event, eventsChannelBacklog),
		done:   make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	logger.Debug().Str("url", url).Msg("realtime: session update sent")
	return c, nil
}

// Events returns the channel of parsed upstream events. It is closed after
// the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// AppendAudio enqueues one base64-encoded audio chunk without blocking.
func (c *Client) AppendAudio(audioB64 string) error {
	msg, err := json.Marshal(audioAppend{Type: "input_audio_buffer.append", Audio: audioB64})
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

// Commit closes the current input buffer and asks the service for a
// transcription response. Both messages are enqueued or neither is.
func (c *Client) Commit(instructions string) error {
	commit, err := json.Marshal(typedMessage{Type: "input_audio_buffer.commit"})
	if err != nil {
		return err
	}
	create, err := json.Marshal(responseCreate(instructions))
	if err != nil {
		return err
	}
	return c.enqueue(commit, create)
}

func (c *Client) enqueue(msgs ...[]byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	// writeLoop only drains, so free space cannot shrink while sendMu is held.
	if cap(c.queue)-len(c.queue) < len(msgs) {
		return ErrQueueFull
	}
	for _, m := range msgs {
		c.queue <- m
	}
	return nil
}

// Close closes the upstream connection. It is safe to call more than once
// and from any goroutine.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		close(c.done)
		c.sendMu.Unlock()

		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeFrameTimeout))
		err = c.conn.Close()

		c.wg.Wait()
	})
	return err
}

func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn().Err(err).Msg("realtime: write failed")
				// Unblocks readLoop, which reports the closure.
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.emit(closedEvent(err))
			return
		}

		ev, err := ParseEvent(msg)
		if err != nil {
			c.logger.Warn().Err(err).Msg("realtime: failed to parse event")
			ev = ProtocolError(err)
		}
		if !c.emit(ev) {
			return
		}
	}
}

// emit delivers ev unless the client is closing.
func (c *Client) emit(ev Event) bool {
	select {
	case <-c.done:
		return false
	case c.events <- ev:
		return true
	}
}

func closedEvent(err error) Event {
	ev := Event{Kind: KindClosed, Type: "close", Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		ev.Code = ce.Code
		ev.Reason = ce.Text
	}
	return ev
}
