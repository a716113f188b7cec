// Package client is the candidate side of an interview: it talks to the relay,
// streams the microphone, plays the interviewer and keeps the transcript and
// score for the UI.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/raihanakbr/realtime-interview-relay/internal/audio"
	"github.com/raihanakbr/realtime-interview-relay/internal/logging"
	"github.com/raihanakbr/realtime-interview-relay/internal/protocol"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	writeTimeout          = 10 * time.Second
	closeGrace            = time.Second
)

// Dialer opens the connection to the relay.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures a Session.
type Options struct {
	RelayURL   string
	Dialer     Dialer
	Microphone audio.Microphone

	// Sink and Clock play interviewer audio; without a Sink audio is dropped.
	Sink  audio.Sink
	Clock audio.Clock

	ChunkDuration time.Duration
	// Bounds both the dial and the wait for the backend to accept the session.
	ConnectTimeout time.Duration

	OnUpdate func(Snapshot)
	OnNotice func(Notice)
}

// Session runs one interview at a time against the relay.
//
// Callbacks run on the session's goroutines, one at a time. End waits for those
// goroutines and must not be called from a callback.
type Session struct {
	opts    Options
	capture *audio.Capture
	player  *audio.Player

	mu      sync.Mutex
	st      *state
	gen     uint64
	noticed bool
	conn    *websocket.Conn
	stream  audio.InputStream
	cancel  context.CancelFunc

	// starting is closed when the most recent Start returns.
	starting chan struct{}

	writeMu sync.Mutex
	notify  sync.Mutex
	wg      sync.WaitGroup

	log zerolog.Logger
}

// New creates an idle session.
func New(opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	s := &Session{
		opts:    opts,
		capture: audio.NewCapture(opts.ChunkDuration),
		st:      newState(),
		log:     logging.WithComponent("interview-client"),
	}
	if opts.Sink != nil {
		clock := opts.Clock
		if clock == nil {
			clock = audio.NewSampleClock(audio.SampleRate)
		}
		s.player = audio.NewPlayer(clock, opts.Sink)
	}
	return s
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.snapshot()
}

// Start begins an interview for jobTitle. It validates the title, opens the
// microphone, connects to the relay and sends start_interview; the session is
// Live once the backend confirms it. A finished session is reset first; a
// connecting or live one is left alone and ErrAlreadyStarted is returned.
// End, or cancelling ctx, while Start is still connecting makes it return
// ErrStartCanceled.
func (s *Session) Start(ctx context.Context, jobTitle string) error {
	if !protocol.ValidJobTitle(jobTitle) {
		s.emitNotice(Notice{Kind: NoticeValidation, Message: msgJobTitleRequired})
		return ErrJobTitleRequired
	}

	s.mu.Lock()
	switch s.st.phase {
	case PhaseConnecting, PhaseLive:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case PhaseEnded:
		s.mu.Unlock()
		s.End()
		s.mu.Lock()
		if s.st.phase != PhaseIdle {
			s.mu.Unlock()
			return ErrAlreadyStarted
		}
	}
	// The session context outlives Start; ctx only bounds the connecting part.
	runCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	s.gen++
	gen := s.gen
	s.noticed = false
	s.cancel = cancel
	done := make(chan struct{})
	defer close(done)
	s.starting = done
	s.st.phase = PhaseConnecting
	s.st.jobTitle = jobTitle
	snap := s.st.snapshot()
	s.mu.Unlock()
	s.emitUpdate(snap)

	if s.opts.Microphone == nil {
		s.abortStart(gen, &Notice{Kind: NoticePermission, Message: msgMicrophoneDenied})
		return fmt.Errorf("%w: no microphone configured", ErrMicrophonePermission)
	}
	stream, err := s.opts.Microphone.Open(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			s.abortStart(gen, nil)
			return fmt.Errorf("%w: %v", ErrStartCanceled, err)
		}
		s.abortStart(gen, &Notice{Kind: NoticePermission, Message: msgMicrophoneDenied})
		return fmt.Errorf("%w: %v", ErrMicrophonePermission, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = stream.Close()
		return ErrStartCanceled
	}
	s.stream = stream
	s.mu.Unlock()

	dialCtx, cancelDial := context.WithTimeout(runCtx, s.opts.ConnectTimeout)
	conn, _, err := s.opts.Dialer.DialContext(dialCtx, s.opts.RelayURL, nil)
	cancelDial()
	if err != nil {
		if runCtx.Err() != nil {
			s.abortStart(gen, nil)
			return fmt.Errorf("%w: %v", ErrStartCanceled, err)
		}
		s.abortStart(gen, &Notice{Kind: NoticeUnavailable, Message: msgUnavailable})
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrStartCanceled
	}
	s.conn = conn
	s.mu.Unlock()

	if err := s.send(conn, protocol.NewStartInterview(jobTitle)); err != nil {
		if runCtx.Err() != nil {
			s.abortStart(gen, nil)
			return fmt.Errorf("%w: %v", ErrStartCanceled, err)
		}
		s.fail(gen, Notice{Kind: NoticeUnavailable, Message: msgUnavailable})
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	if !stop() {
		// ctx was cancelled after the connection opened.
		s.abortStart(gen, nil)
		return ErrStartCanceled
	}
	s.log.Info().Str("jobTitle", jobTitle).Msg("Interview started")

	s.wg.Add(3)
	go s.readLoop(gen, conn)
	go s.captureLoop(runCtx, conn, stream)
	go s.watchConnect(runCtx, gen)
	return nil
}

// End stops capture, closes the relay connection and resets the session to
// Idle. A Start still connecting is cancelled and waited for. Calling it again
// is a no-op.
func (s *Session) End() {
	s.mu.Lock()
	if s.st.phase == PhaseIdle && s.conn == nil {
		s.mu.Unlock()
		return
	}
	s.gen++
	conn, stream, cancel := s.detachLocked()
	starting := s.starting
	s.st.reset()
	s.noticed = false
	snap := s.st.snapshot()
	s.mu.Unlock()

	s.release(conn, stream, cancel)
	if starting != nil {
		<-starting
	}
	s.wg.Wait()
	s.log.Info().Msg("Interview ended")
	s.emitUpdate(snap)
}

// abortStart returns a session whose start failed before connecting to Idle,
// releasing the microphone if it was opened.
func (s *Session) abortStart(gen uint64, n *Notice) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	conn, stream, cancel := s.detachLocked()
	s.st.reset()
	snap := s.st.snapshot()
	s.mu.Unlock()

	s.release(conn, stream, cancel)
	if n != nil {
		s.emitNotice(*n)
	}
	s.emitUpdate(snap)
}

// fail tears down a connected session after a transport problem, leaving it
// Ended with its transcript and score. At most one notice is shown per session.
func (s *Session) fail(gen uint64, n Notice) {
	s.mu.Lock()
	if s.gen != gen || s.st.phase == PhaseEnded {
		s.mu.Unlock()
		return
	}
	conn, stream, cancel := s.detachLocked()
	s.st.endLive()
	showNotice := !s.noticed
	s.noticed = true
	snap := s.st.snapshot()
	s.mu.Unlock()

	s.release(conn, stream, cancel)
	if showNotice {
		s.emitNotice(n)
	}
	s.emitUpdate(snap)
}

// closed handles the relay closing the connection.
func (s *Session) closed(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.st.phase == PhaseEnded {
		s.mu.Unlock()
		return
	}
	conn, stream, cancel := s.detachLocked()
	s.st.endLive()
	showNotice := !s.noticed && !websocket.IsCloseError(err, websocket.CloseNormalClosure)
	s.noticed = true
	snap := s.st.snapshot()
	s.mu.Unlock()

	s.log.Info().Err(err).Msg("Relay connection closed")
	s.release(conn, stream, cancel)
	if showNotice {
		s.emitNotice(Notice{Kind: NoticeConnectionLost, Message: msgConnectionLost})
	}
	s.emitUpdate(snap)
}

func (s *Session) detachLocked() (*websocket.Conn, audio.InputStream, context.CancelFunc) {
	conn, stream, cancel := s.conn, s.stream, s.cancel
	s.conn, s.stream, s.cancel = nil, nil, nil
	return conn, stream, cancel
}

// release frees the microphone, the socket and queued playback.
func (s *Session) release(conn *websocket.Conn, stream audio.InputStream, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		_ = conn.Close()
	}
	if s.player != nil {
		s.player.Reset()
	}
}

func (s *Session) readLoop(gen uint64, conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.closed(gen, err)
			return
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("Dropping malformed message")
			continue
		}
		s.dispatch(gen, ev)
	}
}

func (s *Session) dispatch(gen uint64, ev protocol.Event) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	fx := s.st.apply(ev, time.Now())
	if fx.fatal {
		s.noticed = true
	}
	// Scheduled under the lock so a concurrent End either drops the chunk or
	// resets the player after it.
	if fx.audio != nil && s.player != nil {
		if _, err := s.player.Enqueue(fx.audio); err != nil {
			s.log.Warn().Err(err).Msg("Failed to schedule audio")
		}
	}
	snap := s.st.snapshot()
	s.mu.Unlock()

	if fx.notice != nil {
		s.emitNotice(*fx.notice)
	}
	s.emitUpdate(snap)
}

func (s *Session) captureLoop(ctx context.Context, conn *websocket.Conn, stream audio.InputStream) {
	defer s.wg.Done()
	err := s.capture.Run(ctx, stream, func(chunk string) error {
		return s.send(conn, protocol.NewAudioAppend(chunk))
	})
	switch {
	case err == nil:
		s.log.Info().Msg("Microphone stream ended")
	case errors.Is(err, context.Canceled):
	default:
		s.log.Warn().Err(err).Msg("Audio capture stopped")
	}
}

// watchConnect ends the session if the backend never confirms it.
func (s *Session) watchConnect(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	timer := time.NewTimer(s.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.mu.Lock()
	pending := s.gen == gen && s.st.phase == PhaseConnecting
	s.mu.Unlock()
	if pending {
		s.log.Warn().Dur("timeout", s.opts.ConnectTimeout).Msg("Interview session was not confirmed in time")
		s.fail(gen, Notice{Kind: NoticeUnavailable, Message: msgUnavailable})
	}
}

func (s *Session) send(conn *websocket.Conn, v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) emitUpdate(snap Snapshot) {
	if s.opts.OnUpdate == nil {
		return
	}
	s.notify.Lock()
	defer s.notify.Unlock()
	s.opts.OnUpdate(snap)
}

func (s *Session) emitNotice(n Notice) {
	s.log.Info().Str("kind", n.Kind.String()).Str("message", n.Message).Msg("Notice")
	if s.opts.OnNotice == nil {
		return
	}
	s.notify.Lock()
	defer s.notify.Unlock()
	s.opts.OnNotice(n)
}
