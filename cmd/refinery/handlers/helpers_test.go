package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/draftwell/refinery/cmd/refinery/middleware"
	"github.com/draftwell/refinery/common/logger"
)

func testLog() *logger.Logger {
	return logger.New("test", "error", "json")
}

// newContext builds an echo context for a handler call. An empty body sends
// no payload; otherwise it is sent as JSON.
func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func authenticate(c echo.Context, userID uuid.UUID) {
	c.Set(middleware.UserIDKey, userID.String())
	c.Set(middleware.UsernameKey, "tester")
}

func setParam(c echo.Context, name, value string) {
	c.SetParamNames(name)
	c.SetParamValues(value)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not a JSON object: %v\n%s", err, rec.Body.String())
	}
	return body
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()

	if rec.Code != want {
		t.Fatalf("status = %d, want %d\nbody: %s", rec.Code, want, rec.Body.String())
	}
}

func assertErrorBody(t *testing.T, rec *httptest.ResponseRecorder, message, code string) {
	t.Helper()

	body := decodeBody(t, rec)
	if body["error"] != message {
		t.Errorf("error = %v, want %q", body["error"], message)
	}
	if body["code"] != code {
		t.Errorf("code = %v, want %q", body["code"], code)
	}
}
