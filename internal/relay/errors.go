package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig means the session could not start because of missing configuration.
	ErrConfig = errors.New("relay not configured")
	// ErrUpstreamConnect means the upstream dial or handshake failed.
	ErrUpstreamConnect = errors.New("upstream connect failed")
	// ErrUpstreamTerminated means the upstream connection ended mid-session.
	ErrUpstreamTerminated = errors.New("upstream connection terminated")
	// ErrClientProtocol marks a malformed inbound client message.
	ErrClientProtocol = errors.New("malformed client message")
	// ErrClientTooSlow means the client stopped draining outbound events.
	ErrClientTooSlow = errors.New("client not reading events")
)

var errBinaryFrame = fmt.Errorf("%w: binary frames are not supported", ErrClientProtocol)
