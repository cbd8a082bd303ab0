package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/cmd/refinery/service"
	"github.com/draftwell/refinery/common/auth"
	"github.com/draftwell/refinery/common/logger"
)

func newTestLogger() *logger.Logger {
	return logger.New("test", "error", "json")
}

type fakeUpdater struct {
	mu        sync.Mutex
	allow     bool
	accessErr error

	accessCalls  int
	filesCalls   int
	filesThread  string
	files        map[string]interface{}
	statusCalls  int
	statusThread string
	status       models.ProposalStatus
	statusMsg    string
}

func (f *fakeUpdater) CanAccessThread(_ context.Context, _ string, _ uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessCalls++
	if f.accessErr != nil {
		return false, f.accessErr
	}
	return f.allow, nil
}

func (f *fakeUpdater) UpdateProposalFilesFromStream(_ context.Context, threadID string, files map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filesCalls++
	f.filesThread = threadID
	f.files = files
	return nil
}

func (f *fakeUpdater) UpdateProposalStatusFromStream(_ context.Context, threadID string, status models.ProposalStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	f.statusThread = threadID
	f.status = status
	f.statusMsg = errMsg
	return nil
}

func (f *fakeUpdater) recordedFiles() (int, string, map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filesCalls, f.filesThread, f.files
}

func (f *fakeUpdater) recordedStatus() (int, string, models.ProposalStatus, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, f.statusThread, f.status, f.statusMsg
}

// serverDialer connects to a local fake runtime regardless of thread
type serverDialer struct {
	url string
}

func (d *serverDialer) StreamDial(ctx context.Context, _ string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

type failDialer struct {
	err error
}

func (d *failDialer) StreamDial(context.Context, string) (*websocket.Conn, error) {
	return nil, d.err
}

// newRuntimeServer runs a fake runtime stream endpoint whose behavior per
// connection is given by script.
func newRuntimeServer(t *testing.T, script func(conn *websocket.Conn)) *serverDialer {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)

	return &serverDialer{url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

type proxyFixture struct {
	updater *fakeUpdater
	tasks   *service.TaskRunner
	jwt     *auth.JWTManager
	server  *httptest.Server
}

func newProxyFixture(t *testing.T, dialer StreamDialer) *proxyFixture {
	t.Helper()

	jwtManager, err := auth.NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)

	updater := &fakeUpdater{allow: true}
	tasks := service.NewTaskRunner(newTestLogger()).WithTaskTimeout(5 * time.Second)
	p := NewRefinementProxy(updater, dialer, jwtManager, tasks, newTestLogger())

	e := echo.New()
	e.GET("/api/ws/refinements/:thread_id", p.Stream)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &proxyFixture{updater: updater, tasks: tasks, jwt: jwtManager, server: srv}
}

func (f *proxyFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.jwt.GenerateToken(userID, "tester")
	require.NoError(t, err)
	return token
}

func (f *proxyFixture) dial(t *testing.T, threadID, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/ws/refinements/" + threadID
	if token != "" {
		url += "?token=" + token
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilClose drains text messages until the server closes the stream and
// reports the close code and reason.
func readUntilClose(t *testing.T, conn *websocket.Conn) ([]string, int, string) {
	t.Helper()

	var messages []string
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr, "expected a close frame")
			return messages, closeErr.Code, closeErr.Text
		}
		messages = append(messages, string(raw))
	}
}

func TestStreamRejectsBadTokens(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T, f *proxyFixture) string
	}{
		{"missing token", func(*testing.T, *proxyFixture) string { return "" }},
		{"garbage token", func(*testing.T, *proxyFixture) string { return "not-a-token" }},
		{"non-uuid subject", func(t *testing.T, f *proxyFixture) string { return f.token(t, "system") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := newProxyFixture(t, &failDialer{err: errors.New("unreachable")})
			conn := fixture.dial(t, "thread-1", tt.token(t, fixture))

			messages, code, reason := readUntilClose(t, conn)
			assert.Empty(t, messages)
			assert.Equal(t, websocket.ClosePolicyViolation, code)
			assert.Equal(t, "unauthorized", reason)

			fixture.updater.mu.Lock()
			defer fixture.updater.mu.Unlock()
			assert.Zero(t, fixture.updater.accessCalls, "access should not be checked for bad tokens")
		})
	}
}

func TestStreamRejectsForeignUser(t *testing.T) {
	fixture := newProxyFixture(t, &failDialer{err: errors.New("unreachable")})
	fixture.updater.allow = false

	conn := fixture.dial(t, "thread-1", fixture.token(t, uuid.NewString()))

	messages, code, reason := readUntilClose(t, conn)
	assert.Empty(t, messages)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, "forbidden", reason)
}

func TestStreamAccessCheckFailure(t *testing.T) {
	fixture := newProxyFixture(t, &failDialer{err: errors.New("unreachable")})
	fixture.updater.accessErr = errors.New("pool exhausted")

	conn := fixture.dial(t, "thread-1", fixture.token(t, uuid.NewString()))

	_, code, reason := readUntilClose(t, conn)
	assert.Equal(t, websocket.CloseInternalServerErr, code)
	assert.Equal(t, "internal error", reason)
}

func TestStreamDialFailure(t *testing.T) {
	fixture := newProxyFixture(t, &failDialer{err: errors.New("connection refused")})

	conn := fixture.dial(t, "thread-1", fixture.token(t, uuid.NewString()))

	messages, code, _ := readUntilClose(t, conn)
	require.Len(t, messages, 1)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(messages[0]), &event))
	assert.Equal(t, "error", event["event_type"])
	assert.Equal(t, websocket.CloseInternalServerErr, code)

	fixture.tasks.Wait()
	calls, thread, status, msg := fixture.updater.recordedStatus()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "thread-1", thread)
	assert.Equal(t, models.ProposalFailed, status)
	assert.Contains(t, msg, "runtime stream unavailable")
}

func TestStreamRelayAndFinalize(t *testing.T) {
	fromClient := make(chan string, 1)
	dialer := newRuntimeServer(t, func(conn *websocket.Conn) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fromClient <- string(raw)

		events := []string{
			`{"event_type":"token","data":{"content":"Working on it"}}`,
			`not json`,
			`{"event_type":"on_state_update","data":{"files":{"outline.md":{"content":"v2","type":"markdown"}}}}`,
			`{"event_type":"end","data":{}}`,
		}
		for _, event := range events {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
				return
			}
		}

		// hold the socket open until the proxy tears it down
		conn.ReadMessage()
	})

	fixture := newProxyFixture(t, dialer)
	conn := fixture.dial(t, "thread-9", fixture.token(t, uuid.NewString()))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "hello"}))

	messages, code, _ := readUntilClose(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, code)

	require.Len(t, messages, 3, "malformed runtime message should be dropped")
	assert.Contains(t, messages[0], `"token"`)
	assert.Contains(t, messages[1], `"on_state_update"`)
	assert.Contains(t, messages[2], `"end"`)

	select {
	case forwarded := <-fromClient:
		assert.Contains(t, forwarded, "hello")
	case <-time.After(5 * time.Second):
		t.Fatal("client message never reached the runtime")
	}

	fixture.tasks.Wait()
	calls, thread, files := fixture.updater.recordedFiles()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "thread-9", thread)
	assert.Equal(t, map[string]interface{}{
		"outline.md": map[string]interface{}{"content": "v2", "type": "markdown"},
	}, files)

	statusCalls, _, _, _ := fixture.updater.recordedStatus()
	assert.Zero(t, statusCalls, "a normal end should not record a failure")
}

func TestStreamRuntimeAbruptClose(t *testing.T) {
	dialer := newRuntimeServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"token","data":{"content":"hi"}}`)); err != nil {
			return
		}
		conn.UnderlyingConn().Close()
	})

	fixture := newProxyFixture(t, dialer)
	conn := fixture.dial(t, "thread-5", fixture.token(t, uuid.NewString()))

	messages, code, reason := readUntilClose(t, conn)
	assert.Len(t, messages, 1)
	assert.Equal(t, websocket.CloseInternalServerErr, code)
	assert.Equal(t, "runtime stream error", reason)

	fixture.tasks.Wait()
	calls, thread, status, msg := fixture.updater.recordedStatus()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "thread-5", thread)
	assert.Equal(t, models.ProposalFailed, status)
	assert.NotEmpty(t, msg)
}

func TestStreamRuntimeGracefulClose(t *testing.T) {
	dialer := newRuntimeServer(t, func(conn *websocket.Conn) {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
		conn.ReadMessage()
	})

	fixture := newProxyFixture(t, dialer)
	conn := fixture.dial(t, "thread-3", fixture.token(t, uuid.NewString()))

	messages, code, _ := readUntilClose(t, conn)
	assert.Empty(t, messages)
	assert.Equal(t, websocket.CloseNormalClosure, code)

	fixture.tasks.Wait()
	statusCalls, _, _, _ := fixture.updater.recordedStatus()
	filesCalls, _, _ := fixture.updater.recordedFiles()
	assert.Zero(t, statusCalls)
	assert.Zero(t, filesCalls, "a graceful close without an end event leaves the proposal untouched")
}

func TestStreamClientDisconnect(t *testing.T) {
	runtimeGone := make(chan struct{})
	dialer := newRuntimeServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		close(runtimeGone)
	})

	fixture := newProxyFixture(t, dialer)
	conn := fixture.dial(t, "thread-2", fixture.token(t, uuid.NewString()))

	deadline := time.Now().Add(time.Second)
	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline))
	conn.Close()

	select {
	case <-runtimeGone:
	case <-time.After(5 * time.Second):
		t.Fatal("proxy never released the runtime connection")
	}

	fixture.tasks.Wait()
	statusCalls, _, _, _ := fixture.updater.recordedStatus()
	filesCalls, _, _ := fixture.updater.recordedFiles()
	assert.Zero(t, statusCalls, "a client disconnect is not a runtime failure")
	assert.Zero(t, filesCalls)
}
