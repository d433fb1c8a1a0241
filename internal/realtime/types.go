package realtime

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrShutdown         = errors.New("client shut down")
	ErrInvalidEnvelope  = errors.New("invalid envelope")
	ErrMissingType      = errors.New("envelope type is empty")
)

// TransportError wraps a dial or read failure with the endpoint it happened on.
type TransportError struct {
	Op  string // "dial", "read" or "write"
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is reported when an inbound frame or its payload cannot be decoded.
type DecodeError struct {
	Type string // Empty when the envelope itself was malformed
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode envelope: %v", e.Err)
	}
	return fmt.Sprintf("decode %q payload: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// HandlerPanicError is reported when a handler panics during dispatch.
type HandlerPanicError struct {
	Type  string
	Value any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler for %q panicked: %v", e.Type, e.Value)
}

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosedPendingRetry
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedPendingRetry:
		return "closed_pending_retry"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures a Client.
type Config struct {
	MaxAttempts      int           // Reconnect attempts before giving up
	BaseDelay        time.Duration // Delay before the first reconnect; doubles per attempt
	MaxDelay         time.Duration // Upper bound on a single reconnect delay
	HandshakeTimeout time.Duration // WebSocket handshake timeout
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keepalive ping interval (0 = disabled)
	ReadTimeout      time.Duration // Max silence before the connection is considered stale (0 = none)
	ErrorBufferSize  int           // Errors channel buffer size
	Header           http.Header   // Extra handshake headers
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      5,
		BaseDelay:        1000 * time.Millisecond,
		MaxDelay:         5 * time.Minute,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		ErrorBufferSize:  64,
	}
}

// Stats provides counters about a Client.
type Stats struct {
	State             State
	Attempts          int   // Current consecutive reconnect attempts
	Opens             int64 // Successful opens
	ReconnectsPlanned int64 // Reconnect timers scheduled
	Received          int64 // Inbound frames
	Dispatched        int64 // Handler invocations
	Dropped           int64 // Envelopes with no registered handler
	ParseErrors       int64
	HandlerPanics     int64
	Sent              int64
	SendErrors        int64
}

// Backoff returns the delay before reconnect attempt number attempt (0-based).
// The delay doubles per attempt and saturates at max; max <= 0 only guards
// against overflow.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if max <= 0 {
		max = math.MaxInt64
	}
	if base <= 0 {
		return 0
	}
	if base >= max || attempt >= 63 || base > max>>uint(attempt) {
		return max
	}
	return base << uint(attempt)
}
