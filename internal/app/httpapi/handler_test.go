package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/platform/internal/app/bus"
	"github.com/flowforge/platform/internal/app/gate"
	"github.com/flowforge/platform/internal/app/services/accounts"
	"github.com/flowforge/platform/internal/app/services/engine"
	"github.com/flowforge/platform/internal/app/services/flows"
	"github.com/flowforge/platform/internal/app/services/integrations"
	"github.com/flowforge/platform/internal/app/services/notifications"
	"github.com/flowforge/platform/internal/app/services/reports"
	"github.com/flowforge/platform/internal/app/services/verification"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/internal/app/vault"
)

type apiFixture struct {
	handler http.Handler
	mem     *storage.Memory
	session *http.Cookie
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemory()
	hub := bus.NewHub(nil)
	t.Cleanup(hub.Close)

	sessions, err := gate.NewSessions("test-secret", false)
	require.NoError(t, err)
	vlt, err := vault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	notifier := notifications.New(mem, hub, nil)
	engineSvc := engine.New(mem, mem, mem, vlt, notifier, nil)
	verifier := verification.New(mem, notifier, hub, nil)
	verifier.WithDeferral(time.Millisecond)
	require.NoError(t, verifier.Start(ctx))
	t.Cleanup(func() { _ = verifier.Stop(context.Background()) })

	handler := NewHandler(Deps{
		Accounts:      accounts.New(mem, mem, nil, nil),
		Sessions:      sessions,
		Gate:          gate.New(sessions, mem, mem, nil),
		Flows:         flows.New(mem, engineSvc, nil),
		Engine:        engineSvc,
		Integrations:  integrations.New(mem, vlt, nil),
		Verifier:      verifier,
		Notifications: notifier,
		Reports:       reports.New(t.TempDir(), mem, mem, mem, nil),
		Hub:           hub,
		Policy:        mem,
		Audit:         mem,
	}, "http://localhost:5173")

	f := &apiFixture{handler: handler, mem: mem}
	f.signupAndLogin(t)
	return f
}

func (f *apiFixture) signupAndLogin(t *testing.T) {
	t.Helper()
	f.do(t, http.MethodPost, "/auth/signup", `{"email":"ada@example.com","password":"hunter2hunter2"}`, nil)
	pending, err := f.mem.GetPendingUser(context.Background(), "ada@example.com")
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/auth/verify",
		`{"email":"ada@example.com","code":"`+pending.VerificationCode+`"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == gate.SessionCookie {
			f.session = cookie
		}
	}
	require.NotNil(t, f.session, "no session cookie issued")
}

func (f *apiFixture) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if cookie != nil {
		r.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func (f *apiFixture) authed(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	return f.do(t, method, path, body, f.session)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAuthMeRequiresSession(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.authed(t, http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada@example.com", decode(t, w)["email"])
}

func TestLoginSetsRememberCookieLifetime(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/auth/login",
		`{"email":"ada@example.com","password":"hunter2hunter2","remember":true}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var session *http.Cookie
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == gate.SessionCookie {
			session = cookie
		}
	}
	require.NotNil(t, session)
	assert.Equal(t, int(gate.SessionTTLRemember/time.Second), session.MaxAge)
}

func TestFlowLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	w := f.authed(t, http.MethodPost, "/flows", `{"name":"Pay"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	flowID := decode(t, w)["id"].(string)

	graph := `{"graph":{"nodes":[{"id":"start","type":"start"},{"id":"end","type":"end"}],` +
		`"edges":[{"from":"start","to":"end"}]}}`
	w = f.authed(t, http.MethodPost, "/flows/"+flowID+"/versions", graph)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["version"])

	// Activation kicks off a deploy execution.
	w = f.authed(t, http.MethodPatch, "/flows/"+flowID+"/status", `{"status":"active"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Contains(t, body, "execution")

	// Soft delete hides the flow.
	w = f.authed(t, http.MethodDelete, "/flows/"+flowID, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = f.authed(t, http.MethodGet, "/flows", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["flows"])
}

func TestStartExecutionReturns202(t *testing.T) {
	f := newAPIFixture(t)

	w := f.authed(t, http.MethodPost, "/flows", `{"name":"Run"}`)
	flowID := decode(t, w)["id"].(string)
	graph := `{"graph":{"nodes":[{"id":"start","type":"start"},{"id":"end","type":"end"}],` +
		`"edges":[{"from":"start","to":"end"}]}}`
	f.authed(t, http.MethodPost, "/flows/"+flowID+"/versions", graph)

	w = f.authed(t, http.MethodPost, "/executions/start", `{"flow_id":"`+flowID+`"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	execID := decode(t, w)["execution_id"].(string)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		w = f.authed(t, http.MethodGet, "/executions/"+execID, "")
		require.Equal(t, http.StatusOK, w.Code)
		if decode(t, w)["status"] == "completed" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("execution never completed")
}

func TestIntegrationCreateReturns202AndVerifies(t *testing.T) {
	f := newAPIFixture(t)

	w := f.authed(t, http.MethodPost, "/integrations", `{"name":"Internal Thing","apiKey":"k"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])

	// No test URL and no default for this name: verification concludes in error.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		w = f.authed(t, http.MethodGet, "/integrations", "")
		require.Equal(t, http.StatusOK, w.Code)
		list := decode(t, w)["integrations"].([]any)
		require.Len(t, list, 1)
		if list[0].(map[string]any)["status"] == "error" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("integration verification never concluded")
}

func TestAllowlistEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	w := f.authed(t, http.MethodGet, "/ip-whitelist/current-ip", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["currentIp"])

	w = f.authed(t, http.MethodPost, "/ip-whitelist", `{"ip_address":"10.0.0.5","description":"office"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	entryID := decode(t, w)["id"].(string)

	w = f.authed(t, http.MethodPost, "/ip-whitelist", `{"ip_address":"not-an-ip"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.authed(t, http.MethodDelete, "/ip-whitelist/"+entryID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAuditRowWrittenForMutations(t *testing.T) {
	f := newAPIFixture(t)

	f.authed(t, http.MethodPost, "/flows", `{"name":"Audited"}`)

	entries := f.mem.AuditEntries()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "POST /flows", last.Action)
	assert.Equal(t, http.StatusCreated, last.StatusCode)
	assert.NotEmpty(t, last.UserID)
	assert.NotEmpty(t, last.RequestID)
}

func TestNotificationsFlow(t *testing.T) {
	f := newAPIFixture(t)

	w := f.authed(t, http.MethodPost, "/notifications", `{"type":"warn","title":"Heads up","message":"check this"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.authed(t, http.MethodGet, "/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["notifications"].([]any)
	require.Len(t, list, 1)
	first := list[0].(map[string]any)
	assert.Equal(t, false, first["is_read"])

	w = f.authed(t, http.MethodPost, "/notifications/read-all", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["updated"])
}

func TestComplianceReportEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.authed(t, http.MethodPost, "/reports/compliance", `{"window_days":7}`)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "report")
	assert.Contains(t, body["path"], ".json")
}
