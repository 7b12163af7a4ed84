package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Servoy/sablo-sub001/pkg/eventdispatch"
	"github.com/Servoy/sablo-sub001/pkg/protocol"
)

type testEnv struct {
	t   *testing.T
	mgr *SessionManager
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mgr := NewSessionManager(testConfig(), testLogger())
	ws := NewWebSocketServer(mgr, testLogger())
	srv := httptest.NewServer(ws.Handler("test"))
	t.Cleanup(func() {
		srv.Close()
		mgr.Shutdown()
	})
	return &testEnv{t: t, mgr: mgr, srv: srv}
}

func (env *testEnv) dial(query string) *websocket.Conn {
	env.t.Helper()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http")
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		env.t.Fatalf("dial: %v", err)
	}
	env.t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads one framed message and splits off its message number.
func readFrame(t *testing.T, conn *websocket.Conn) (uint64, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	i := bytes.IndexByte(data, protocol.EnvelopeSeparator)
	if i < 0 {
		t.Fatalf("unframed message: %s", data)
	}
	n, err := strconv.ParseUint(string(data[:i]), 10, 64)
	if err != nil {
		t.Fatalf("bad frame number in %q: %v", data, err)
	}
	return n, data[i+1:]
}

func readWelcome(t *testing.T, conn *websocket.Conn) (uint64, welcome) {
	t.Helper()
	n, body := readFrame(t, conn)
	var w welcome
	if err := json.Unmarshal(body, &w); err != nil {
		t.Fatalf("welcome unmarshal: %v (%s)", err, body)
	}
	return n, w
}

func (env *testEnv) session(w welcome) *Session {
	env.t.Helper()
	s, err := env.mgr.Session(SessionKey{EndpointType: "test", HTTPSessionID: w.SessionID, ClientNr: w.ClientNr})
	if err != nil {
		env.t.Fatalf("session lookup: %v", err)
	}
	return s
}

func writeJSON(t *testing.T, conn *websocket.Conn, body string) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(body)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHandshakeWelcome(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")

	n, w := readWelcome(t, conn)
	if n != 1 {
		t.Errorf("welcome frame number = %d, want 1", n)
	}
	if w.SessionID == "" || w.ClientNr == 0 || w.WindowNr == 0 {
		t.Errorf("incomplete welcome: %+v", w)
	}
	env.session(w) // fails the test if the session was not registered
}

func TestHeartbeatAnsweredInline(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")
	readWelcome(t, conn)

	writeJSON(t, conn, protocol.PingPayload)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	// The pong is raw: no frame number, no dispatcher involvement.
	if string(data) != protocol.PongPayload {
		t.Errorf("pong = %q, want %q", data, protocol.PongPayload)
	}
}

type callResult struct {
	ret json.RawMessage
	err error
}

// startBlockingCall issues window.CallClientFunction on the session's
// dispatcher and returns the channel its outcome lands on.
func startBlockingCall(s *Session, name string, args []any) <-chan callResult {
	ch := make(chan callResult, 1)
	s.Dispatcher().AddEvent(func() {
		w, _ := s.Window(1)
		ret, err := w.CallClientFunction(name, args, true)
		ch <- callResult{ret: ret, err: err}
	}, eventdispatch.LevelDefault)
	return ch
}

func TestBlockingClientCall(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")
	_, w := readWelcome(t, conn)
	s := env.session(w)

	resCh := startBlockingCall(s, "greet", []any{"bob"})

	_, body := readFrame(t, conn)
	var call struct {
		Call struct {
			Name string `json:"name"`
			Args []any  `json:"args"`
		} `json:"call"`
		SMsgID uint64 `json:"smsgid"`
	}
	if err := json.Unmarshal(body, &call); err != nil {
		t.Fatalf("call unmarshal: %v (%s)", err, body)
	}
	if call.Call.Name != "greet" || call.SMsgID == 0 {
		t.Fatalf("unexpected call frame: %s", body)
	}

	writeJSON(t, conn, `{"smsgid":`+strconv.FormatUint(call.SMsgID, 10)+`,"ret":"ok"}`)

	select {
	case res := <-resCh:
		if res.err != nil {
			t.Fatalf("call error: %v", res.err)
		}
		if string(res.ret) != `"ok"` {
			t.Errorf("ret = %s, want \"ok\"", res.ret)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocking call never resolved")
	}

	// A duplicate response has nothing to resolve; the connection shrugs
	// it off and keeps working.
	writeJSON(t, conn, `{"smsgid":`+strconv.FormatUint(call.SMsgID, 10)+`,"ret":"again"}`)
	writeJSON(t, conn, protocol.PingPayload)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil || string(data) != protocol.PongPayload {
		t.Fatalf("connection unusable after duplicate response: %q, %v", data, err)
	}
}

func TestClientCallError(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")
	_, w := readWelcome(t, conn)
	s := env.session(w)

	resCh := startBlockingCall(s, "explode", nil)
	_, body := readFrame(t, conn)
	var call struct {
		SMsgID uint64 `json:"smsgid"`
	}
	_ = json.Unmarshal(body, &call)

	writeJSON(t, conn, `{"smsgid":`+strconv.FormatUint(call.SMsgID, 10)+`,"err":"boom"}`)

	res := <-resCh
	var callErr *ClientCallError
	if !errors.As(res.err, &callErr) {
		t.Fatalf("err = %v, want ClientCallError", res.err)
	}
	if callErr.Function != "explode" || !strings.Contains(string(callErr.Payload), "boom") {
		t.Errorf("unexpected call error: %+v", callErr)
	}
}

func TestEndpointCloseCancelsPendingCalls(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")
	_, w := readWelcome(t, conn)
	s := env.session(w)

	resCh := startBlockingCall(s, "never-answered", nil)
	readFrame(t, conn) // the call went out
	conn.Close()

	select {
	case res := <-resCh:
		if !errors.Is(res.err, eventdispatch.ErrSuspendCancelled) {
			t.Errorf("err = %v, want ErrSuspendCancelled", res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call survived its endpoint")
	}
}

type echoService struct{}

func (echoService) ExecuteMethod(name string, args map[string]json.RawMessage) (any, error) {
	if name != "say" {
		return nil, errors.New("unknown method")
	}
	var v string
	if err := json.Unmarshal(args["v"], &v); err != nil {
		return nil, err
	}
	return v, nil
}

func TestServiceCallRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")
	_, w := readWelcome(t, conn)
	env.session(w).RegisterService("echo", echoService{})

	writeJSON(t, conn, `{"service":"echo","methodname":"say","args":{"v":"hi"},"cmsgid":7}`)

	_, body := readFrame(t, conn)
	var ret struct {
		CMsgID uint64          `json:"cmsgid"`
		Ret    json.RawMessage `json:"ret"`
		Err    string          `json:"err"`
	}
	if err := json.Unmarshal(body, &ret); err != nil {
		t.Fatalf("return unmarshal: %v (%s)", err, body)
	}
	if ret.CMsgID != 7 || string(ret.Ret) != `"hi"` || ret.Err != "" {
		t.Errorf("unexpected return frame: %s", body)
	}
}

func TestServiceCallUnknownService(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")
	readWelcome(t, conn)

	writeJSON(t, conn, `{"service":"nope","methodname":"x","cmsgid":8}`)

	_, body := readFrame(t, conn)
	var ret struct {
		CMsgID uint64 `json:"cmsgid"`
		Err    string `json:"err"`
	}
	if err := json.Unmarshal(body, &ret); err != nil {
		t.Fatalf("return unmarshal: %v (%s)", err, body)
	}
	if ret.CMsgID != 8 || ret.Err == "" {
		t.Errorf("expected error return, got: %s", body)
	}
}

type pushRecorder struct {
	ch chan [2]string
}

func (p *pushRecorder) ReceiveDataChange(prop string, v json.RawMessage) {
	p.ch <- [2]string{prop, string(v)}
}

func TestClientDataPush(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")
	_, w := readWelcome(t, conn)

	rec := &pushRecorder{ch: make(chan [2]string, 1)}
	env.session(w).RegisterDataHandler("state", rec)

	writeJSON(t, conn, `{"servicedatapush":"state","changes":{"x":"1"}}`)

	select {
	case got := <-rec.ch:
		if got[0] != "x" || got[1] != `"1"` {
			t.Errorf("data change = %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("data push never reached the handler")
	}
}

func TestServerDataPushBroadcast(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")
	_, w := readWelcome(t, conn)
	s := env.session(w)

	if err := s.SendServiceDataPush("clock", map[string]any{"now": "12:00"}); err != nil {
		t.Fatal(err)
	}

	_, body := readFrame(t, conn)
	var push struct {
		ServiceDataPush string                     `json:"servicedatapush"`
		Changes         map[string]json.RawMessage `json:"changes"`
	}
	if err := json.Unmarshal(body, &push); err != nil {
		t.Fatalf("push unmarshal: %v (%s)", err, body)
	}
	if push.ServiceDataPush != "clock" || string(push.Changes["now"]) != `"12:00"` {
		t.Errorf("unexpected push frame: %s", body)
	}
}

func TestClientServiceAsyncMethod(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")
	_, w := readWelcome(t, conn)
	s := env.session(w)
	window, err := s.Window(w.WindowNr)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.ClientService("dialog").ExecuteAsyncMethod(window, "show", []any{"hi"}); err != nil {
		t.Fatal(err)
	}

	// Fire and forget: the frame goes out, nothing blocks on a response.
	_, body := readFrame(t, conn)
	var call struct {
		Call struct {
			Name string `json:"name"`
		} `json:"call"`
	}
	if err := json.Unmarshal(body, &call); err != nil {
		t.Fatalf("call unmarshal: %v (%s)", err, body)
	}
	if call.Call.Name != "dialog.show" {
		t.Errorf("call name = %q, want dialog.show", call.Call.Name)
	}
}

func TestOutOfSyncClose(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("sessionid=ghost&clientnr=77&windowid=1&lastServerMessageNumber=5")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("err = %v, want close error", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", closeErr.Code, websocket.ClosePolicyViolation)
	}
	if closeErr.Text != OutOfSyncReason {
		t.Errorf("close reason = %q, want %q", closeErr.Text, OutOfSyncReason)
	}
}

func TestReconnectReusesWindow(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial("")
	n1, w := readWelcome(t, conn)
	s := env.session(w)
	window, err := s.Window(w.WindowNr)
	if err != nil {
		t.Fatal(err)
	}
	c := &recordingContainer{name: "form1"}
	window.RegisterContainer(c)

	conn.Close()
	for deadline := time.Now().Add(2 * time.Second); window.Endpoint() != nil; {
		if time.Now().After(deadline) {
			t.Fatal("endpoint never unbound")
		}
		time.Sleep(5 * time.Millisecond)
	}

	query := "sessionid=" + w.SessionID +
		"&clientnr=" + strconv.Itoa(w.ClientNr) +
		"&windowid=" + strconv.Itoa(w.WindowNr) +
		"&lastServerMessageNumber=" + strconv.FormatUint(n1, 10)
	conn2 := env.dial(query)
	n2, w2 := readWelcome(t, conn2)

	if w2.SessionID != w.SessionID || w2.ClientNr != w.ClientNr {
		t.Errorf("reconnect produced a different session: %+v vs %+v", w2, w)
	}
	if w2.WindowNr != w.WindowNr {
		t.Errorf("reconnect produced a different window: %d vs %d", w2.WindowNr, w.WindowNr)
	}
	// The counter carried on from the first connection.
	if n2 != n1+1 {
		t.Errorf("welcome frame number = %d, want %d", n2, n1+1)
	}
	if window.Container("form1") != c {
		t.Error("container lost across reconnect")
	}
	if window.Endpoint() == nil {
		t.Error("window has no endpoint after reconnect")
	}
}
