package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/raihanakbr/realtime-interview-relay/internal/logging"
	"github.com/raihanakbr/realtime-interview-relay/internal/models"
	"github.com/raihanakbr/realtime-interview-relay/internal/observability/metrics"
	"github.com/raihanakbr/realtime-interview-relay/internal/protocol"
)

// WebsocketDialer opens the upstream connection to the realtime backend.
type WebsocketDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// RelaySession bridges one client connection to one backend connection for the
// lifetime of a single interview. It owns both sockets; Close tears down both.
type RelaySession struct {
	ID string

	server    *Server
	clientWS  *websocket.Conn
	backendWS *websocket.Conn

	// Write locks, one per socket. Each direction has a single forwarding
	// goroutine, but error and close frames may be written from elsewhere.
	clientMu  sync.Mutex
	backendMu sync.Mutex

	mu          sync.RWMutex
	state       State
	jobTitle    string
	closeReason string
	closedFrom  State

	ctx       context.Context
	cancel    context.CancelFunc
	closing   atomic.Bool
	errorSent atomic.Bool
	closeOnce sync.Once
	released  sync.Once

	startTime       time.Time
	clientMessages  atomic.Int64
	backendMessages atomic.Int64
	scored          atomic.Bool

	log zerolog.Logger
}

func newRelaySession(s *Server, id string, clientWS *websocket.Conn) *RelaySession {
	ctx, cancel := context.WithCancel(context.Background())
	return &RelaySession{
		ID:        id,
		server:    s,
		clientWS:  clientWS,
		state:     StateIdle,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		log:       logging.WithSession(id),
	}
}

// State returns the current lifecycle state.
func (rs *RelaySession) State() State {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.state
}

func (rs *RelaySession) setState(next State) {
	rs.mu.Lock()
	prev := rs.state
	if prev != StateClosed {
		rs.state = next
	}
	rs.mu.Unlock()

	if prev != StateClosed {
		rs.log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("Session state changed")
	}
}

// Run drives the session through its whole lifecycle and returns once both
// sockets are released.
func (rs *RelaySession) Run() {
	defer rs.release()

	start, code, reason, err := rs.awaitStart()
	if err != nil {
		if !rs.closing.Load() {
			rs.log.Warn().Err(err).Str("reason", reason).Msg("Rejecting session")
			rs.sendError(code, err.Error())
			rs.Close(reason)
		}
		rs.drain(rs.clientWS)
		return
	}

	rs.mu.Lock()
	rs.jobTitle = start.JobTitle
	rs.mu.Unlock()
	rs.setState(StateAwaitingBackend)

	if err := rs.connectBackend(start.JobTitle); err != nil {
		if !rs.closing.Load() {
			rs.log.Error().Err(err).Msg("Failed to connect to realtime backend")
			rs.sendError(CodeBackendUnavailable, "AI interviewer unavailable: could not connect to the realtime service")
			rs.Close(ReasonBackendUnavailable)
		}
		rs.drain(rs.clientWS)
		return
	}

	rs.setState(StateRelaying)
	rs.log.Info().Str("jobTitle", start.JobTitle).Msg("Session relaying")
	rs.publish(models.EventSessionStarted, models.SessionStarted{
		EventType: models.EventSessionStarted,
		SessionID: rs.ID,
		JobTitle:  start.JobTitle,
		Timestamp: time.Now().UnixMilli(),
	})

	var g errgroup.Group
	g.Go(rs.pumpClientToBackend)
	g.Go(rs.pumpBackendToClient)
	_ = g.Wait()
}

// awaitStart reads the first client message, which must be a start_interview
// with a non-blank job title.
func (rs *RelaySession) awaitStart() (protocol.StartInterview, string, string, error) {
	cfg := rs.server.cfg
	_ = rs.clientWS.SetReadDeadline(time.Now().Add(cfg.StartTimeout))

	messageType, data, err := rs.clientWS.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return protocol.StartInterview{}, CodeStartTimeout, ReasonStartTimeout,
				fmt.Errorf("no %s received within %v", protocol.TypeStartInterview, cfg.StartTimeout)
		}
		// The client went away before saying anything; nobody to tell.
		rs.Close(ReasonClientClosed)
		return protocol.StartInterview{}, "", ReasonClientClosed, err
	}
	_ = rs.clientWS.SetReadDeadline(time.Time{})

	if messageType != websocket.TextMessage {
		return protocol.StartInterview{}, CodeProtocolViolation, ReasonProtocolViolation,
			fmt.Errorf("%w: first message must be a JSON %s", ErrProtocolViolation, protocol.TypeStartInterview)
	}

	ev, err := protocol.Decode(data)
	if err != nil {
		return protocol.StartInterview{}, CodeProtocolViolation, ReasonProtocolViolation,
			fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	start, ok := ev.(protocol.StartInterview)
	if !ok {
		return protocol.StartInterview{}, CodeProtocolViolation, ReasonProtocolViolation,
			fmt.Errorf("%w: expected %s, got %s", ErrProtocolViolation, protocol.TypeStartInterview, ev.EventType())
	}
	if !protocol.ValidJobTitle(start.JobTitle) {
		return protocol.StartInterview{}, CodeInvalidJobTitle, ReasonInvalidJobTitle,
			errors.New("job title is required")
	}
	return start, "", "", nil
}

// connectBackend dials the realtime backend and sends the one session.update
// that must precede any relayed client frame.
func (rs *RelaySession) connectBackend(jobTitle string) error {
	cfg := rs.server.cfg

	u, err := url.Parse(cfg.RealtimeURL)
	if err != nil {
		return fmt.Errorf("failed to parse realtime URL: %w", err)
	}
	if cfg.RealtimeModel != "" {
		q := u.Query()
		q.Set("model", cfg.RealtimeModel)
		u.RawQuery = q.Encode()
	}

	headers := http.Header{}
	headers.Set(HeaderAuthorization, "Bearer "+cfg.APIKey)
	headers.Set(HeaderRealtimeBeta, RealtimeBetaValue)

	ctx, cancel := context.WithTimeout(rs.ctx, cfg.BackendConnectTimeout)
	defer cancel()

	dialStart := time.Now()
	backendWS, resp, err := rs.server.dialer.DialContext(ctx, u.String(), headers)
	rs.server.metrics.RecordBackendConnect(err, time.Since(dialStart).Seconds())
	if err != nil {
		if resp != nil {
			rs.log.Error().Int("status", resp.StatusCode).Msg("Realtime backend rejected the connection")
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	backendWS.SetReadLimit(MaxBackendMessageBytes)

	rs.mu.Lock()
	if rs.closing.Load() {
		rs.mu.Unlock()
		_ = backendWS.Close()
		return errSessionClosing
	}
	rs.backendWS = backendWS
	rs.mu.Unlock()

	rs.log.Info().Dur("latency", time.Since(dialStart)).Msg("Connected to realtime backend")

	update, err := protocol.Encode(protocol.NewSessionUpdate(protocol.SessionOptions{
		JobTitle: jobTitle,
		Voice:    cfg.Voice,
	}))
	if err != nil {
		return err
	}
	if err := rs.write(backendWS, &rs.backendMu, websocket.TextMessage, update); err != nil {
		return fmt.Errorf("%w: send session.update: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (rs *RelaySession) pumpClientToBackend() error {
	for {
		messageType, data, err := rs.clientWS.ReadMessage()
		if err != nil {
			if !rs.closing.Load() {
				rs.log.Info().Err(err).Msg("Client connection ended")
				rs.Close(ReasonClientClosed)
			}
			return err
		}
		if rs.closing.Load() {
			continue
		}

		if !rs.admit(metrics.DirectionClientToBackend, messageType, data) {
			continue
		}
		if err := rs.write(rs.backendWS, &rs.backendMu, messageType, data); err != nil {
			if !errors.Is(err, errSessionClosing) {
				rs.failBackend(err)
			}
			continue
		}
		rs.clientMessages.Add(1)
		rs.server.metrics.RecordRelayed(metrics.DirectionClientToBackend, len(data))
	}
}

func (rs *RelaySession) pumpBackendToClient() error {
	for {
		messageType, data, err := rs.backendWS.ReadMessage()
		if err != nil {
			if !rs.closing.Load() {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					rs.log.Info().Msg("Realtime backend closed the connection")
					rs.Close(ReasonBackendClosed)
				} else {
					rs.failBackend(err)
				}
			}
			return err
		}
		if rs.closing.Load() {
			continue
		}

		if !rs.admit(metrics.DirectionBackendToClient, messageType, data) {
			continue
		}
		if err := rs.write(rs.clientWS, &rs.clientMu, messageType, data); err != nil {
			if !errors.Is(err, errSessionClosing) {
				rs.log.Info().Err(err).Msg("Failed to write to client")
				rs.Close(ReasonClientClosed)
			}
			continue
		}
		rs.backendMessages.Add(1)
		rs.server.metrics.RecordRelayed(metrics.DirectionBackendToClient, len(data))
	}
}

// admit decides whether a frame is forwarded. Frames are never modified; only
// enough structure is read to reject malformed input and observe scoring.
func (rs *RelaySession) admit(direction string, messageType int, data []byte) bool {
	if messageType != websocket.TextMessage {
		rs.drop(direction, DropBinary, nil)
		return false
	}

	msgType, err := protocol.PeekType(data)
	if err != nil {
		rs.drop(direction, DropMalformed, err)
		return false
	}

	switch {
	case direction == metrics.DirectionClientToBackend && msgType == protocol.TypeStartInterview:
		rs.drop(direction, DropDuplicateStart, nil)
		return false
	case direction == metrics.DirectionBackendToClient && msgType == protocol.TypeFunctionCallArgumentsDone:
		rs.observeScore(data)
	}

	rs.log.Debug().Str("direction", direction).Str("type", msgType).Int("bytes", len(data)).Msg("Relaying message")
	return true
}

func (rs *RelaySession) drop(direction, reason string, err error) {
	rs.server.metrics.RecordDropped(direction, reason)
	rs.log.Warn().Err(err).Str("direction", direction).Str("reason", reason).Msg("Dropping message")
}

func (rs *RelaySession) observeScore(data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		return
	}
	call, ok := ev.(protocol.FunctionCallArgumentsDone)
	if !ok || (call.Name != "" && call.Name != protocol.ScoreFunctionName) {
		return
	}

	rs.scored.Store(true)
	rs.server.metrics.RecordScore()

	args := json.RawMessage(call.Arguments)
	if !json.Valid(args) {
		// Keep the event well formed; clients decide what to do with bad scores.
		quoted, _ := json.Marshal(call.Arguments)
		args = quoted
	}
	rs.publish(models.EventScoreReceived, models.ScoreReceived{
		EventType: models.EventScoreReceived,
		SessionID: rs.ID,
		Arguments: args,
		Timestamp: time.Now().UnixMilli(),
	})
}

// failBackend reports a lost backend to the client and tears the session down.
func (rs *RelaySession) failBackend(err error) {
	if rs.closing.Load() {
		return
	}
	rs.log.Error().Err(err).Msg("Realtime backend connection failed")
	rs.sendError(CodeBackendDisconnected, "AI interviewer unavailable: connection to the realtime service was lost")
	rs.Close(ReasonBackendFailure)
}

// sendError writes a relay error to the client. At most one is sent per session.
func (rs *RelaySession) sendError(code, message string) {
	if !rs.errorSent.CompareAndSwap(false, true) {
		return
	}
	data, err := protocol.Encode(protocol.NewError(code, message))
	if err != nil {
		return
	}
	if err := rs.write(rs.clientWS, &rs.clientMu, websocket.TextMessage, data); err != nil {
		rs.log.Warn().Err(err).Msg("Failed to send error to client")
	}
}

func (rs *RelaySession) write(conn *websocket.Conn, mu *sync.Mutex, messageType int, data []byte) error {
	mu.Lock()
	defer mu.Unlock()
	if rs.closing.Load() {
		return errSessionClosing
	}
	_ = conn.SetWriteDeadline(time.Now().Add(rs.server.cfg.WriteTimeout))
	return conn.WriteMessage(messageType, data)
}

// Close begins tearing down both connections. It sends close frames and bounds
// any further reads by the close grace period; sockets are released by Run once
// the reading goroutines return. Safe to call repeatedly and concurrently.
func (rs *RelaySession) Close(reason string) {
	rs.closeOnce.Do(func() {
		rs.closing.Store(true)
		rs.cancel()

		rs.mu.Lock()
		prev := rs.state
		rs.state = StateClosed
		rs.closedFrom = prev
		rs.closeReason = reason
		backendWS := rs.backendWS
		rs.mu.Unlock()

		rs.log.Info().Str("reason", reason).Str("previousState", prev.String()).Msg("Closing session")

		grace := rs.server.closeGrace()
		deadline := time.Now().Add(grace)

		// WriteControl may run concurrently with a pending write; once the
		// close frame is out, gorilla rejects further data frames.
		_ = rs.clientWS.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCode(reason), reason), deadline)
		_ = rs.clientWS.SetReadDeadline(deadline)

		if backendWS != nil {
			_ = backendWS.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = backendWS.SetReadDeadline(deadline)
		}
	})
}

// drain reads and discards until the peer acknowledges the close or the grace
// deadline set by Close expires.
func (rs *RelaySession) drain(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// release closes both sockets and records the end of the session.
func (rs *RelaySession) release() {
	rs.released.Do(func() {
		rs.Close(ReasonClientClosed)

		rs.mu.RLock()
		backendWS := rs.backendWS
		reason := rs.closeReason
		closedFrom := rs.closedFrom
		jobTitle := rs.jobTitle
		rs.mu.RUnlock()

		_ = rs.clientWS.Close()
		if backendWS != nil {
			_ = backendWS.Close()
		}

		duration := time.Since(rs.startTime)
		rs.server.registry.Remove(rs.ID)
		rs.server.metrics.RecordSessionEnd(reason, duration.Seconds())

		rs.publish(models.EventSessionClosed, models.SessionClosed{
			EventType:       models.EventSessionClosed,
			SessionID:       rs.ID,
			Reason:          reason,
			LastState:       closedFrom.String(),
			DurationMs:      duration.Milliseconds(),
			ClientMessages:  rs.clientMessages.Load(),
			BackendMessages: rs.backendMessages.Load(),
			Scored:          rs.scored.Load(),
			Timestamp:       time.Now().UnixMilli(),
		})

		rs.log.Info().
			Str("reason", reason).
			Str("jobTitle", jobTitle).
			Dur("duration", duration).
			Int64("clientMessages", rs.clientMessages.Load()).
			Int64("backendMessages", rs.backendMessages.Load()).
			Msg("Session released")
	})
}

func (rs *RelaySession) publish(eventType string, event any) {
	if rs.server.publisher == nil {
		return
	}
	if err := rs.server.publisher.Publish(context.Background(), rs.ID, eventType, event); err != nil {
		rs.log.Warn().Err(err).Str("eventType", eventType).Msg("Failed to publish session event")
	}
}
