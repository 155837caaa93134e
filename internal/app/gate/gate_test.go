package gate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/storage"
)

func setupGate(t *testing.T, rateLimit int, allowIP bool) (*Gate, *Sessions, account.User, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	org, err := mem.CreateOrganization(context.Background(), account.Organization{Name: "acme"})
	require.NoError(t, err)
	usr, err := mem.CreateUser(context.Background(), account.User{
		OrgID:       org.ID,
		Email:       "user@acme.test",
		RateLimit:   rateLimit,
		AllowIPList: allowIP,
	})
	require.NoError(t, err)

	sessions, err := NewSessions("test-secret", false)
	require.NoError(t, err)
	return New(sessions, mem, mem, nil), sessions, usr, mem
}

func authedRequest(t *testing.T, sessions *Sessions, usr account.User, ip string) *http.Request {
	t.Helper()
	token, err := sessions.Issue(Principal{UserID: usr.ID, Email: usr.Email, OrgID: usr.OrgID}, SessionTTLDefault)
	require.NoError(t, err)
	r := httptest.NewRequest("GET", "/flows", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	if ip != "" {
		r.Header.Set("X-Forwarded-For", ip)
	}
	return r
}

func okHandler() (http.Handler, *int) {
	calls := 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}), &calls
}

func TestGateRejectsMissingSession(t *testing.T) {
	g, _, _, _ := setupGate(t, 5, false)
	next, calls := okHandler()

	w := httptest.NewRecorder()
	g.Middleware(next).ServeHTTP(w, httptest.NewRequest("GET", "/flows", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, *calls)
}

func TestGateAcceptsFallbackCookie(t *testing.T) {
	g, sessions, usr, _ := setupGate(t, 5, false)
	next, calls := okHandler()

	token, err := sessions.Issue(Principal{UserID: usr.ID, Email: usr.Email, OrgID: usr.OrgID}, SessionTTLDefault)
	require.NoError(t, err)
	r := httptest.NewRequest("GET", "/flows", nil)
	r.AddCookie(&http.Cookie{Name: FallbackSessionCookie, Value: token})

	w := httptest.NewRecorder()
	g.Middleware(next).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, *calls)
}

func TestGateRejectsExpiredToken(t *testing.T) {
	g, sessions, usr, _ := setupGate(t, 5, false)
	next, _ := okHandler()

	token, err := sessions.Issue(Principal{UserID: usr.ID, OrgID: usr.OrgID}, -time.Minute)
	require.NoError(t, err)
	r := httptest.NewRequest("GET", "/flows", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})

	w := httptest.NewRecorder()
	g.Middleware(next).ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateQuotaEnforced(t *testing.T) {
	g, sessions, usr, mem := setupGate(t, 5, false)
	next, calls := okHandler()
	handler := g.Middleware(next)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest(t, sessions, usr, ""))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(t, sessions, usr, ""))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, 5, *calls)

	// Exactly five samples were recorded; the rejected request adds none.
	count, err := mem.CountRateSamples(context.Background(), usr.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestAllowlistDeniesUnlistedAddress(t *testing.T) {
	g, sessions, usr, mem := setupGate(t, 100, true)
	_, err := mem.AddAllowlistEntry(context.Background(), account.IPAllowlistEntry{
		UserID:    usr.ID,
		IPAddress: "10.0.0.5",
	})
	require.NoError(t, err)

	next, _ := okHandler()
	handler := g.Middleware(next)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(t, sessions, usr, "198.51.100.7"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "198.51.100.7")

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest(t, sessions, usr, "10.0.0.5"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeactivatedUserIsReadOnly(t *testing.T) {
	g, sessions, usr, mem := setupGate(t, 100, false)
	now := time.Now().UTC()
	usr.DeactivatedAt = &now
	_, err := mem.UpdateUser(context.Background(), usr)
	require.NoError(t, err)

	next, _ := okHandler()
	handler := g.Middleware(next)

	token, err := sessions.Issue(Principal{UserID: usr.ID, OrgID: usr.OrgID}, SessionTTLDefault)
	require.NoError(t, err)

	post := httptest.NewRequest("POST", "/flows", nil)
	post.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, post)
	assert.Equal(t, http.StatusForbidden, w.Code)

	get := httptest.NewRequest("GET", "/flows", nil)
	get.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, get)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionRoundTrip(t *testing.T) {
	sessions, err := NewSessions("another-secret", false)
	require.NoError(t, err)

	p := Principal{UserID: "u1", Email: "x@y.z", OrgID: "o1"}
	token, err := sessions.Issue(p, SessionTTLRemember)
	require.NoError(t, err)

	got, err := sessions.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
