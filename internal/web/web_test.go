package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"greenhouse/auth"
	"greenhouse/internal/conditional"
	"greenhouse/internal/metrics"
	"greenhouse/internal/mqtt"
	store "greenhouse/internal/redis"
	"greenhouse/internal/testutil"
	"greenhouse/internal/web"
	"greenhouse/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopDaemon struct{}

func (nopDaemon) RefreshConditionalSettings(context.Context, string) (string, error) {
	return "Conditional settings successfully refreshed", nil
}

func (nopDaemon) ControllerActivate(context.Context, string) (string, error) {
	return "activated", nil
}

func (nopDaemon) ControllerDeactivate(context.Context, string) (string, error) {
	return "deactivated", nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fixture struct {
	server *web.WebServer
	bus    *mqtt.Memory
	db     *pinger
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	orm := testutil.DB(t)
	rdb, _ := testutil.Redis(t)
	bus := mqtt.NewMemory()
	p := &pinger{}

	server, err := web.NewWebServer(web.Deps{
		Auth:    auth.NewAuthModule(orm, rdb, "test-secret"),
		Editor:  conditional.NewEditor(orm, conditional.NewCodeStore(t.TempDir()), nopDaemon{}, zap.NewNop(), nil),
		Flashes: store.NewFlashStore(rdb),
		Bus:     bus,
		Metrics: metrics.New(),
		DB:      p,
		Log:     zap.NewNop(),
	})
	require.NoError(t, err)
	return &fixture{server: server, bus: bus, db: p}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

// register creates a user and returns its JWT
func (f *fixture) register(t *testing.T) string {
	t.Helper()
	body := `{"username":"grower","password":"secret123","email":"grower@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (f *fixture) postForm(path, token string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	return f.do(req)
}

type listing struct {
	Conditionals []struct {
		UniqueID    string `json:"unique_id"`
		Name        string `json:"name"`
		IsActivated bool   `json:"is_activated"`
	} `json:"conditionals"`
	Flashes []struct {
		Category string `json:"category"`
		Message  string `json:"message"`
	} `json:"flashes"`
}

func (f *fixture) list(t *testing.T, token string) listing {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/function", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	var out listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestFunctionRequiresAuth(t *testing.T) {
	f := setup(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/function", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.postForm("/function/conditional/add", "garbage", url.Values{"name": {"x"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	f := setup(t)
	f.register(t)

	body := `{"username":"grower","password":"secret123"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)

	req = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.AddCookie(session)
	w = f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"grower"`)

	body = `{"username":"grower","password":"wrong"}`
	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
}

func TestRegisterDuplicate(t *testing.T) {
	f := setup(t)
	f.register(t)

	body := `{"username":"grower","password":"secret123"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusConflict, f.do(req).Code)
}

func TestAddConditionalRedirectsWithFlash(t *testing.T) {
	f := setup(t)
	token := f.register(t)

	w := f.postForm("/function/conditional/add", token, url.Values{
		"name":   {"vent"},
		"period": {"30"},
	})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/function", w.Header().Get("Location"))

	out := f.list(t, token)
	require.Len(t, out.Conditionals, 1)
	assert.Equal(t, "vent", out.Conditionals[0].Name)
	require.NotEmpty(t, out.Flashes)
	last := out.Flashes[len(out.Flashes)-1]
	assert.Equal(t, "success", last.Category)
	assert.Equal(t, "Success: "+conditional.OpAdd, last.Message)

	// flashes are shown once
	assert.Empty(t, f.list(t, token).Flashes)
}

func TestActivateFailureFlashesErrors(t *testing.T) {
	f := setup(t)
	token := f.register(t)

	f.postForm("/function/conditional/add", token, url.Values{"name": {"vent"}})
	id := f.list(t, token).Conditionals[0].UniqueID

	w := f.postForm("/function/conditional/activate", token, url.Values{"function_id": {id}})
	assert.Equal(t, http.StatusSeeOther, w.Code)

	out := f.list(t, token)
	assert.False(t, out.Conditionals[0].IsActivated)
	require.NotEmpty(t, out.Flashes)
	last := out.Flashes[len(out.Flashes)-1]
	assert.Equal(t, "error", last.Category)
	assert.Contains(t, last.Message, "Error: Activate Conditional")
	assert.Contains(t, last.Message, "No Conditions found")
}

func TestMissingFunctionIDFlashesInvalidForm(t *testing.T) {
	f := setup(t)
	token := f.register(t)

	w := f.postForm("/function/conditional/delete", token, url.Values{})
	assert.Equal(t, http.StatusSeeOther, w.Code)

	out := f.list(t, token)
	require.Len(t, out.Flashes, 1)
	assert.Equal(t, "error", out.Flashes[0].Category)
	assert.Contains(t, out.Flashes[0].Message, "Error: "+conditional.OpDelete+": Invalid form")
}

func TestHealth(t *testing.T) {
	f := setup(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	f.db.err = errors.New("connection refused")
	w = f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLiveMeasurements(t *testing.T) {
	f := setup(t)
	token := f.register(t)

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/measurements"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.server.LiveClients() == 1 }, 2*time.Second, 10*time.Millisecond)

	payload := []byte(`{"input_id":"bme280","measurements":{}}`)
	require.NoError(t, f.bus.Publish("inputs/bme280/measurements", payload))
	require.NoError(t, f.bus.Publish("outputs/fan/commands", []byte("ignored")))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, msg)

	_, _, err = websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err)
}
