package websocket

import "time"

// Relay tuning constants
const (
	// Largest client frame accepted; a 100ms base64 audio chunk is ~6.4KB.
	MaxClientMessageBytes = 1 << 20
	// Largest backend frame accepted; audio deltas can be several seconds long.
	MaxBackendMessageBytes = 16 << 20

	ReadBufferSize  = 16 * 1024
	WriteBufferSize = 16 * 1024

	// Used when the configuration leaves CloseGrace unset.
	DefaultCloseGrace = time.Second

	// Realtime API headers
	HeaderAuthorization = "Authorization"
	HeaderRealtimeBeta  = "OpenAI-Beta"
	RealtimeBetaValue   = "realtime=v1"

	// Query parameter a client may use to pick its own connection id.
	ConnectionIDParam = "connection_id"
)

// Error codes carried by relay originated error messages.
const (
	CodeProtocolViolation   = "protocol_violation"
	CodeInvalidJobTitle     = "invalid_job_title"
	CodeStartTimeout        = "start_timeout"
	CodeBackendUnavailable  = "backend_unavailable"
	CodeBackendDisconnected = "backend_disconnected"
)

// Close reasons, used for logs, metrics and the session.closed event.
const (
	ReasonClientClosed       = "client_closed"
	ReasonBackendClosed      = "backend_closed"
	ReasonBackendFailure     = "backend_failure"
	ReasonBackendUnavailable = "backend_unavailable"
	ReasonProtocolViolation  = "protocol_violation"
	ReasonInvalidJobTitle    = "invalid_job_title"
	ReasonStartTimeout       = "start_timeout"
	ReasonShutdown           = "shutdown"
)

// Drop reasons for messages that are not forwarded.
const (
	DropMalformed      = "malformed"
	DropBinary         = "binary"
	DropDuplicateStart = "duplicate_start"
)
