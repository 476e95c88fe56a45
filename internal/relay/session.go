// Package relay bridges one client websocket to one upstream realtime
// transcription session.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lukasbauer/medrelay/internal/eventlog"
	"github.com/lukasbauer/medrelay/internal/logging"
	"github.com/lukasbauer/medrelay/internal/metrics"
	"github.com/lukasbauer/medrelay/internal/realtime"
	"github.com/lukasbauer/medrelay/internal/transcript"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a relay session.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingReady
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Upstream is the part of realtime.Client the relay depends on.
type Upstream interface {
	AppendAudio(audioB64 string) error
	Commit(instructions string) error
	Events() <-chan realtime.Event
	Close() error
}

// DialFunc opens an upstream session.
type DialFunc func(ctx context.Context, cfg realtime.Config, logger zerolog.Logger) (Upstream, error)

// DialRealtime is the production DialFunc.
func DialRealtime(ctx context.Context, cfg realtime.Config, logger zerolog.Logger) (Upstream, error) {
	c, err := realtime.Dial(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

const (
	defaultWriteTimeout  = 10 * time.Second
	defaultOutboundQueue = 256
)

// Options configures a relay session.
type Options struct {
	Upstream     realtime.Config
	Instructions string // sent with every response.create
	Dial         DialFunc

	ReadLimit     int64         // max inbound client frame size
	WriteTimeout  time.Duration // per outbound client frame
	OutboundQueue int           // client events buffered before the client is considered stalled

	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	EventLog *eventlog.Logger
}

type dialResult struct {
	upstream Upstream
	err      error
}

// Session relays one client connection. All transcript and relay state is
// owned by the goroutine executing Run.
type Session struct {
	id      string
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.Metrics

	client     *clientConn
	transcript *transcript.Session
	upstream   Upstream

	dialed      chan dialResult
	dialPending bool

	state     atomic.Int32
	closing   chan struct{}
	closeOnce sync.Once
}

// NewSession prepares a relay session for an upgraded client connection.
func NewSession(conn *websocket.Conn, opts Options) *Session {
	if opts.Dial == nil {
		opts.Dial = DialRealtime
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = defaultOutboundQueue
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}

	id := uuid.NewString()
	logger := logging.WithSession(opts.Logger, id)

	s := &Session{
		id:         id,
		opts:       opts,
		logger:     logger,
		metrics:    opts.Metrics,
		client:     newClientConn(conn, logger, opts.ReadLimit, opts.WriteTimeout, opts.OutboundQueue),
		transcript: transcript.NewSession(),
		closing:    make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("relay: state change")
	}
}

// Close asks the session to end. It may be called any number of times from
// any goroutine; teardown happens once, inside Run.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Run relays until the client leaves, either side closes, or a fatal error
// occurs. Both connections are released before it returns. A nil error means
// normal termination.
func (s *Session) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)

	s.metrics.SessionsTotal.Inc()
	s.metrics.SessionsActive.Inc()
	s.opts.EventLog.LogAsync(s.id, eventlog.EventSessionStarted, nil)
	s.logger.Info().Msg("relay: session started")

	s.client.start()
	defer func() { s.teardown(cancel, err) }()

	if s.opts.Upstream.APIKey == "" {
		return s.fail(fmt.Errorf("%w: %w", ErrConfig, realtime.ErrMissingCredential),
			"transcription unavailable: upstream credential not configured")
	}

	s.dialed = make(chan dialResult, 1)
	s.dialPending = true
	go func() {
		up, err := s.opts.Dial(ctx, s.opts.Upstream, s.logger)
		s.dialed <- dialResult{upstream: up, err: err}
	}()

	var events <-chan realtime.Event
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.closing:
			return nil

		case res := <-s.dialed:
			s.dialPending = false
			if res.err != nil {
				return s.fail(fmt.Errorf("%w: %w", ErrUpstreamConnect, res.err),
					"could not connect to transcription service")
			}
			s.upstream = res.upstream
			events = s.upstream.Events()
			s.setState(StateAwaitingReady)
			s.opts.EventLog.LogAsync(s.id, eventlog.EventUpstreamConnected, nil)

		case in, ok := <-s.client.inbound:
			if !ok {
				// Downstream disconnect is a normal end of session.
				return nil
			}
			if stop, err := s.handleClient(in); stop || err != nil {
				return err
			}

		case ev, ok := <-events:
			if !ok {
				return s.fail(ErrUpstreamTerminated, "transcription service connection lost")
			}
			if err := s.handleUpstream(ev); err != nil {
				return s.fail(err, "transcription service connection lost")
			}
		}
	}
}

// handleClient applies one inbound client message. stop reports a requested close.
func (s *Session) handleClient(in inbound) (stop bool, err error) {
	if in.err != nil {
		s.metrics.ClientProtocolErrors.Inc()
		s.logger.Warn().Err(in.err).Msg("relay: dropping client message")
		return false, s.emit(transcript.ErrorEvent(in.err.Error()))
	}

	msg := in.msg
	switch msg.Type {
	case MessageInit:
		return false, s.handleInit(msg)

	case MessageAudioAppend:
		s.forwardAudio(msg.Audio)
		return false, nil

	case MessageCommit:
		return false, s.handleCommit()

	case MessageClose:
		s.logger.Info().Msg("relay: client requested close")
		return true, nil
	}
	return false, nil
}

func (s *Session) handleInit(msg Message) error {
	if s.State() == StateActive {
		s.logger.Warn().Msg("relay: rejecting init after upstream ready")
		return s.emit(transcript.ErrorEvent("session already initialized"))
	}

	if msg.IgnoredSampleRate != "" {
		s.logger.Warn().Str("sampleRate", msg.IgnoredSampleRate).Msg("relay: ignoring invalid init sample rate")
	}

	t := s.transcript
	if msg.SampleRateHz > 0 {
		t.SampleRateHz = msg.SampleRateHz
	}
	if msg.Codec != "" {
		t.Codec = msg.Codec
	}
	if msg.ContextID != "" {
		t.ContextID = msg.ContextID
		s.logger = s.logger.With().Str("contextId", msg.ContextID).Logger()
	}

	s.logger.Info().
		Int("sampleRateHz", t.SampleRateHz).
		Str("codec", t.Codec).
		Msg("relay: session init")
	s.opts.EventLog.LogAsync(s.id, eventlog.EventSessionInit, map[string]any{
		"sample_rate_hz": t.SampleRateHz,
		"codec":          t.Codec,
		"context_id":     t.ContextID,
	})
	return nil
}

// forwardAudio enqueues one frame upstream, or drops it if the upstream
// session is not ready or cannot keep up.
func (s *Session) forwardAudio(audio string) {
	if s.upstream == nil || !s.transcript.Ready() {
		s.metrics.AudioFramesDropped.WithLabelValues("not_ready").Inc()
		s.logger.Debug().Msg("relay: dropping audio, upstream not ready")
		return
	}

	switch err := s.upstream.AppendAudio(audio); {
	case err == nil:
		s.metrics.AudioFramesForwarded.Inc()
	case errors.Is(err, realtime.ErrQueueFull):
		s.metrics.AudioFramesDropped.WithLabelValues("queue_full").Inc()
		s.logger.Debug().Msg("relay: dropping audio, upstream queue full")
	default:
		s.metrics.AudioFramesDropped.WithLabelValues("closed").Inc()
		s.logger.Debug().Err(err).Msg("relay: dropping audio")
	}
}

func (s *Session) handleCommit() error {
	if s.State() != StateActive {
		s.logger.Warn().Msg("relay: commit before upstream ready")
		return s.emit(transcript.ErrorEvent("upstream not ready"))
	}
	if err := s.upstream.Commit(s.opts.Instructions); err != nil {
		s.logger.Warn().Err(err).Msg("relay: commit not forwarded")
		return s.emit(transcript.ErrorEvent("commit dropped: transcription service busy"))
	}

	s.metrics.Commits.Inc()
	s.logger.Debug().Msg("relay: commit forwarded")
	s.opts.EventLog.LogAsync(s.id, eventlog.EventAudioCommitted, nil)
	return nil
}

// handleUpstream translates one upstream event and queues the results for
// the client in order. A returned error is fatal for the session.
func (s *Session) handleUpstream(ev realtime.Event) error {
	s.metrics.UpstreamEvents.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case realtime.KindClosed:
		return fmt.Errorf("%w: code %d: %s", ErrUpstreamTerminated, ev.Code, ev.Reason)
	case realtime.KindError:
		s.logger.Warn().Str("message", ev.Message).Msg("relay: upstream error")
		s.opts.EventLog.LogAsync(s.id, eventlog.EventUpstreamError, map[string]any{"message": ev.Message})
	case realtime.KindUnknown:
		s.logger.Debug().Str("type", ev.Type).Msg("relay: ignoring upstream event")
	}

	wasReady := s.transcript.Ready()
	out := s.transcript.Translate(ev)
	if !wasReady && s.transcript.Ready() {
		s.setState(StateActive)
		s.logger.Info().Msg("relay: upstream ready")
		s.opts.EventLog.LogAsync(s.id, eventlog.EventUpstreamReady, nil)
	}

	for _, e := range out {
		if err := s.emit(e); err != nil {
			return err
		}
	}
	return nil
}

// emit queues one event for the client writer.
func (s *Session) emit(ev transcript.Event) error {
	if !s.client.send(ev) {
		return ErrClientTooSlow
	}
	s.metrics.ClientEvents.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// fail reports a fatal error to the client and returns err for Run.
func (s *Session) fail(err error, message string) error {
	s.logger.Error().Err(err).Msg("relay: session failed")
	if !errors.Is(err, ErrClientTooSlow) {
		_ = s.emit(transcript.ErrorEvent(message))
	}
	return err
}

func (s *Session) teardown(cancel context.CancelFunc, err error) {
	s.setState(StateClosing)
	cancel()

	if s.upstream != nil {
		_ = s.upstream.Close()
	} else if s.dialPending {
		// Dial observes the cancelled context; close whatever it produced.
		if res := <-s.dialed; res.upstream != nil {
			_ = res.upstream.Close()
		}
	}

	s.client.shutdown()
	s.setState(StateClosed)

	outcome := outcomeOf(err)
	s.metrics.SessionsActive.Dec()
	s.metrics.SessionOutcomes.WithLabelValues(outcome).Inc()
	s.opts.EventLog.LogAsync(s.id, eventlog.EventSessionEnded, map[string]any{"outcome": outcome})
	s.logger.Info().Str("outcome", outcome).Msg("relay: session closed")
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "normal"
	case errors.Is(err, ErrConfig):
		return "config_error"
	case errors.Is(err, ErrUpstreamConnect):
		return "connect_error"
	case errors.Is(err, ErrUpstreamTerminated):
		return "upstream_terminated"
	case errors.Is(err, ErrClientTooSlow):
		return "client_too_slow"
	default:
		return "error"
	}
}
