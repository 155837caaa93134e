package httpapi

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/gate"
)

// GoogleOAuthConfig holds the OIDC client settings.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// FrontendURL receives the browser after a successful login.
	FrontendURL string
	// Endpoint overrides exist for tests.
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

const oauthStateCookie = "ff_oauth_state"

func (c GoogleOAuthConfig) enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c GoogleOAuthConfig) authURL() string {
	if c.AuthURL != "" {
		return c.AuthURL
	}
	return "https://accounts.google.com/o/oauth2/v2/auth"
}

func (c GoogleOAuthConfig) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return "https://oauth2.googleapis.com/token"
}

func (c GoogleOAuthConfig) userInfoURL() string {
	if c.UserInfoURL != "" {
		return c.UserInfoURL
	}
	return "https://openidconnect.googleapis.com/v1/userinfo"
}

func (h *handler) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	if !h.OAuth.enabled() {
		httputil.WriteError(w, apperr.Validation("google sign-in is not configured"))
		return
	}

	stateBytes := make([]byte, 24)
	if _, err := rand.Read(stateBytes); err != nil {
		httputil.WriteError(w, apperr.Internal(err))
		return
	}
	state := base64.RawURLEncoding.EncodeToString(stateBytes)
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	query := url.Values{
		"client_id":     {h.OAuth.ClientID},
		"redirect_uri":  {h.OAuth.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
	}
	http.Redirect(w, r, h.OAuth.authURL()+"?"+query.Encode(), http.StatusFound)
}

type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type googleUserInfo struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

func (h *handler) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.OAuth.enabled() {
		httputil.WriteError(w, apperr.Validation("google sign-in is not configured"))
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		httputil.WriteError(w, apperr.Unauthenticated("oauth state mismatch"))
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteError(w, apperr.Validation("missing authorization code"))
		return
	}

	info, err := h.exchangeGoogleCode(r, code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	usr, err := h.Accounts.UpsertOAuthUser(r.Context(), info.Email, info.GivenName, info.FamilyName, info.Picture)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.issueSession(w, usr.ID, usr.Email, usr.OrgID, gate.SessionTTLOAuth)

	target := h.OAuth.FrontendURL
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *handler) exchangeGoogleCode(r *http.Request, code string) (googleUserInfo, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	form := url.Values{
		"client_id":     {h.OAuth.ClientID},
		"client_secret": {h.OAuth.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {h.OAuth.RedirectURL},
	}
	resp, err := client.Post(h.OAuth.tokenURL(), "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		return googleUserInfo{}, apperr.UpstreamUnavailable(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return googleUserInfo{}, apperr.Unauthenticated("google code exchange failed")
	}
	var token googleTokenResponse
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
		return googleUserInfo{}, apperr.UpstreamUnavailable(fmt.Errorf("malformed token response"))
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, h.OAuth.userInfoURL(), nil)
	if err != nil {
		return googleUserInfo{}, apperr.Internal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	infoResp, err := client.Do(req)
	if err != nil {
		return googleUserInfo{}, apperr.UpstreamUnavailable(err)
	}
	defer infoResp.Body.Close()
	infoBody, _ := io.ReadAll(io.LimitReader(infoResp.Body, 1<<20))
	if infoResp.StatusCode != http.StatusOK {
		return googleUserInfo{}, apperr.Unauthenticated("google userinfo failed")
	}
	var info googleUserInfo
	if err := json.Unmarshal(infoBody, &info); err != nil || info.Email == "" {
		return googleUserInfo{}, apperr.UpstreamUnavailable(fmt.Errorf("malformed userinfo response"))
	}
	return info, nil
}
