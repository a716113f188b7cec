package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/raihanakbr/realtime-interview-relay/internal/config"
	"github.com/raihanakbr/realtime-interview-relay/internal/observability/metrics"
	"github.com/raihanakbr/realtime-interview-relay/internal/protocol"
)

const testTimeout = 3 * time.Second

// fakeBackend stands in for the realtime speech service.
type fakeBackend struct {
	srv     *httptest.Server
	conns   chan *websocket.Conn
	headers chan http.Header
	query   chan string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		conns:   make(chan *websocket.Conn, 4),
		headers: make(chan http.Header, 4),
		query:   make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.headers <- r.Header.Clone()
		fb.query <- r.URL.RawQuery
		fb.conns <- conn
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func (fb *fakeBackend) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fb.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(testTimeout):
		t.Fatal("relay never connected to the backend")
		return nil
	}
}

// countingDialer records dial attempts and can be told to fail.
type countingDialer struct {
	calls atomic.Int32
	err   error
}

func (d *countingDialer) DialContext(ctx context.Context, urlStr string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, nil, d.err
	}
	return websocket.DefaultDialer.DialContext(ctx, urlStr, h)
}

type testRelay struct {
	server  *Server
	http    *httptest.Server
	metrics *metrics.Metrics
	dialer  *countingDialer
}

func newTestRelay(t *testing.T, backendURL string, mutate func(*config.Config)) *testRelay {
	t.Helper()
	cfg := config.Default()
	cfg.APIKey = "sk-test-secret"
	cfg.RealtimeURL = backendURL
	cfg.CloseGrace = 200 * time.Millisecond
	cfg.BackendConnectTimeout = time.Second
	if mutate != nil {
		mutate(cfg)
	}

	tr := &testRelay{
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		dialer:  &countingDialer{},
	}
	tr.server = NewServer(cfg, WithDialer(tr.dialer), WithMetrics(tr.metrics))
	tr.http = httptest.NewServer(tr.server.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = tr.server.Shutdown(ctx)
		tr.http.Close()
	})
	return tr
}

func (tr *testRelay) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(tr.http.URL, "http") + tr.server.cfg.RelayPath
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (tr *testRelay) waitForNoSessions(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for tr.server.Sessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected all sessions released, %d still registered", tr.server.Sessions())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readText(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

// readUntilClose collects text frames until the connection closes.
func readUntilClose(t *testing.T, conn *websocket.Conn) ([][]byte, error) {
	t.Helper()
	var msgs [][]byte
	_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, data)
	}
}

func expectRelayError(t *testing.T, msgs [][]byte, code string) {
	t.Helper()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message before close, got %d: %q", len(msgs), msgs)
	}
	ev, err := protocol.Decode(msgs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	errEv, ok := ev.(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("expected error event, got %T", ev)
	}
	if errEv.Code != code {
		t.Errorf("expected code %s, got %s (%s)", code, errEv.Code, errEv.Text())
	}
	if errEv.Text() == "" {
		t.Error("expected a human readable message")
	}
}

func TestRelay_ConfiguresBackendThenForwardsInOrder(t *testing.T) {
	fb := newFakeBackend(t)
	tr := newTestRelay(t, fb.url(), nil)
	client := tr.dial(t)

	sendJSON(t, client, protocol.NewStartInterview("Software Engineer"))

	const n = 25
	var sent [][]byte
	for i := 0; i < n; i++ {
		data, _ := json.Marshal(protocol.NewAudioAppend(fmt.Sprintf("chunk-%02d", i)))
		sent = append(sent, data)
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	backend := fb.accept(t)

	hdr := <-fb.headers
	if got := hdr.Get("Authorization"); got != "Bearer sk-test-secret" {
		t.Errorf("expected bearer credential, got %q", got)
	}
	if got := hdr.Get(HeaderRealtimeBeta); got != RealtimeBetaValue {
		t.Errorf("expected %s header, got %q", HeaderRealtimeBeta, got)
	}
	if q := <-fb.query; !strings.Contains(q, "model=") {
		t.Errorf("expected model query parameter, got %q", q)
	}

	first := readText(t, backend)
	var update protocol.SessionUpdate
	if err := json.Unmarshal(first, &update); err != nil {
		t.Fatalf("first backend message is not a session.update: %v", err)
	}
	if update.Type != protocol.TypeSessionUpdate {
		t.Fatalf("expected session.update first, got %s", update.Type)
	}
	if !strings.Contains(update.Session.Instructions, "Software Engineer") {
		t.Error("session.update instructions must embed the job title")
	}

	for i := 0; i < n; i++ {
		got := readText(t, backend)
		if string(got) != string(sent[i]) {
			t.Fatalf("client->backend message %d: got %s, want %s", i, got, sent[i])
		}
	}

	var fromBackend [][]byte
	for i := 0; i < n; i++ {
		data := []byte(fmt.Sprintf(`{"type":"response.audio_transcript.delta","delta":"w%02d ","extra":{"k":%d}}`, i, i))
		fromBackend = append(fromBackend, data)
		if err := backend.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("backend write: %v", err)
		}
	}
	for i := 0; i < n; i++ {
		got := readText(t, client)
		if string(got) != string(fromBackend[i]) {
			t.Fatalf("backend->client message %d: got %s, want %s", i, got, fromBackend[i])
		}
	}

	if got := testutil.ToFloat64(tr.metrics.MessagesRelayed.WithLabelValues(metrics.DirectionClientToBackend)); got != n {
		t.Errorf("expected %d client messages relayed, got %v", n, got)
	}
}

func TestRelay_UnknownTypesAreForwarded(t *testing.T) {
	fb := newFakeBackend(t)
	tr := newTestRelay(t, fb.url(), nil)
	client := tr.dial(t)

	sendJSON(t, client, protocol.NewStartInterview("Designer"))
	backend := fb.accept(t)
	readText(t, backend) // session.update

	unknown := []byte(`{"type":"rate_limits.updated","rate_limits":[]}`)
	if err := backend.WriteMessage(websocket.TextMessage, unknown); err != nil {
		t.Fatal(err)
	}
	if got := readText(t, client); string(got) != string(unknown) {
		t.Errorf("expected unknown type forwarded verbatim, got %s", got)
	}
}

func TestRelay_RejectsNonStartFirstMessage(t *testing.T) {
	tr := newTestRelay(t, "ws://127.0.0.1:1/unused", nil)
	client := tr.dial(t)

	sendJSON(t, client, protocol.NewAudioAppend("AAAA"))

	msgs, err := readUntilClose(t, client)
	expectRelayError(t, msgs, CodeProtocolViolation)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("expected policy violation close, got %v", err)
	}
	if tr.dialer.calls.Load() != 0 {
		t.Error("backend must not be dialed after a protocol violation")
	}
	tr.waitForNoSessions(t)
}

func TestRelay_RejectsBlankJobTitleWithoutDialing(t *testing.T) {
	for _, title := range []string{"", "   "} {
		t.Run(fmt.Sprintf("%q", title), func(t *testing.T) {
			tr := newTestRelay(t, "ws://127.0.0.1:1/unused", nil)
			client := tr.dial(t)

			sendJSON(t, client, protocol.NewStartInterview(title))

			msgs, _ := readUntilClose(t, client)
			expectRelayError(t, msgs, CodeInvalidJobTitle)
			if tr.dialer.calls.Load() != 0 {
				t.Error("backend must not be dialed for a blank job title")
			}
		})
	}
}

func TestRelay_RejectsMalformedFirstMessage(t *testing.T) {
	tr := newTestRelay(t, "ws://127.0.0.1:1/unused", nil)
	client := tr.dial(t)

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":`)); err != nil {
		t.Fatal(err)
	}

	msgs, _ := readUntilClose(t, client)
	expectRelayError(t, msgs, CodeProtocolViolation)
}

func TestRelay_StartTimeout(t *testing.T) {
	tr := newTestRelay(t, "ws://127.0.0.1:1/unused", func(c *config.Config) {
		c.StartTimeout = 100 * time.Millisecond
	})
	client := tr.dial(t)

	msgs, _ := readUntilClose(t, client)
	expectRelayError(t, msgs, CodeStartTimeout)
	if tr.dialer.calls.Load() != 0 {
		t.Error("backend must not be dialed without start_interview")
	}
}

func TestRelay_BackendUnavailable(t *testing.T) {
	tr := newTestRelay(t, "ws://127.0.0.1:1/unused", nil)
	tr.dialer.err = errors.New("connection refused")
	client := tr.dial(t)

	sendJSON(t, client, protocol.NewStartInterview("Software Engineer"))

	msgs, err := readUntilClose(t, client)
	expectRelayError(t, msgs, CodeBackendUnavailable)
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Errorf("expected try-again-later close, got %v", err)
	}
	if tr.dialer.calls.Load() != 1 {
		t.Errorf("expected one dial attempt, got %d", tr.dialer.calls.Load())
	}
	tr.waitForNoSessions(t)

	if got := testutil.ToFloat64(tr.metrics.SessionsClosed.WithLabelValues(ReasonBackendUnavailable)); got != 1 {
		t.Errorf("expected one backend_unavailable close, got %v", got)
	}
}

func TestRelay_DropsMalformedFramesAndContinues(t *testing.T) {
	fb := newFakeBackend(t)
	tr := newTestRelay(t, fb.url(), nil)
	client := tr.dial(t)

	sendJSON(t, client, protocol.NewStartInterview("Software Engineer"))
	backend := fb.accept(t)
	readText(t, backend) // session.update

	// client -> backend
	_ = client.WriteMessage(websocket.TextMessage, []byte(`{"type":"input_audio_buffer.append","audio":`))
	_ = client.WriteMessage(websocket.TextMessage, []byte(`{"audio":"no type"}`))
	_ = client.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
	sendJSON(t, client, protocol.NewStartInterview("Again"))
	good := []byte(`{"type":"input_audio_buffer.append","audio":"AAAA"}`)
	_ = client.WriteMessage(websocket.TextMessage, good)

	if got := readText(t, backend); string(got) != string(good) {
		t.Errorf("expected only the good client frame, got %s", got)
	}

	// backend -> client
	_ = backend.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
	goodOut := []byte(`{"type":"response.audio_transcript.delta","delta":"Hello"}`)
	_ = backend.WriteMessage(websocket.TextMessage, goodOut)

	if got := readText(t, client); string(got) != string(goodOut) {
		t.Errorf("expected only the good backend frame, got %s", got)
	}

	rs, ok := tr.server.registry.Get(firstSessionID(tr))
	if !ok || rs.State() != StateRelaying {
		t.Error("session must still be relaying after malformed frames")
	}
	if got := testutil.ToFloat64(tr.metrics.MessagesDropped.WithLabelValues(metrics.DirectionClientToBackend, DropMalformed)); got != 2 {
		t.Errorf("expected 2 malformed client frames dropped, got %v", got)
	}
	if got := testutil.ToFloat64(tr.metrics.MessagesDropped.WithLabelValues(metrics.DirectionClientToBackend, DropDuplicateStart)); got != 1 {
		t.Errorf("expected duplicate start dropped, got %v", got)
	}
}

func TestRelay_ClientCloseClosesBackend(t *testing.T) {
	fb := newFakeBackend(t)
	tr := newTestRelay(t, fb.url(), nil)
	client := tr.dial(t)

	sendJSON(t, client, protocol.NewStartInterview("Software Engineer"))
	backend := fb.accept(t)
	readText(t, backend)

	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	client.Close()

	start := time.Now()
	_ = backend.SetReadDeadline(time.Now().Add(testTimeout))
	if _, _, err := backend.ReadMessage(); err == nil {
		t.Fatal("expected backend connection to be closed")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("backend close took %v", elapsed)
	}
	tr.waitForNoSessions(t)
}

func TestRelay_BackendNormalCloseClosesClient(t *testing.T) {
	fb := newFakeBackend(t)
	tr := newTestRelay(t, fb.url(), nil)
	client := tr.dial(t)

	sendJSON(t, client, protocol.NewStartInterview("Software Engineer"))
	backend := fb.accept(t)
	readText(t, backend)

	_ = backend.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	msgs, err := readUntilClose(t, client)
	if len(msgs) != 0 {
		t.Errorf("expected no error message on normal backend close, got %q", msgs)
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
	tr.waitForNoSessions(t)
}

func TestRelay_BackendFailureNotifiesClientOnce(t *testing.T) {
	fb := newFakeBackend(t)
	tr := newTestRelay(t, fb.url(), nil)
	client := tr.dial(t)

	sendJSON(t, client, protocol.NewStartInterview("Software Engineer"))
	backend := fb.accept(t)
	readText(t, backend)

	// Drop the TCP connection without a close frame.
	backend.UnderlyingConn().Close()

	msgs, _ := readUntilClose(t, client)
	expectRelayError(t, msgs, CodeBackendDisconnected)
	tr.waitForNoSessions(t)
}

func TestRelay_ShutdownClosesSessions(t *testing.T) {
	fb := newFakeBackend(t)
	tr := newTestRelay(t, fb.url(), nil)
	client := tr.dial(t)

	sendJSON(t, client, protocol.NewStartInterview("Software Engineer"))
	backend := fb.accept(t)
	readText(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := tr.server.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_, err := readUntilClose(t, client)
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
	if tr.server.Sessions() != 0 {
		t.Errorf("expected no sessions after shutdown, got %d", tr.server.Sessions())
	}
}

func TestRelay_ConnectionIDConflict(t *testing.T) {
	fb := newFakeBackend(t)
	tr := newTestRelay(t, fb.url(), nil)

	base := "ws" + strings.TrimPrefix(tr.http.URL, "http") + tr.server.cfg.RelayPath + "?connection_id=interview-1"
	first, _, err := websocket.DefaultDialer.Dial(base, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()

	deadline := time.Now().Add(testTimeout)
	for {
		if _, ok := tr.server.Session("interview-1"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil {
		t.Fatal("expected second connection with the same id to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %+v", resp)
	}
}

func firstSessionID(tr *testRelay) string {
	tr.server.registry.mu.RLock()
	defer tr.server.registry.mu.RUnlock()
	for id := range tr.server.registry.sessions {
		return id
	}
	return ""
}
