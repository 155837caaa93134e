package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/pkg/logger"
)

// MTNCredentials is the decrypted connection config for MTN MoMo.
type MTNCredentials struct {
	SubscriptionKey string `json:"subscription_key"`
	APIUser         string `json:"api_user"`
	APIKey          string `json:"api_key"`
	TargetEnv       string `json:"target_env"`
}

// MTN talks to the MoMo collection API.
type MTN struct {
	client
	baseURL string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// MTNSandboxURL is the collection API root for the sandbox environment.
const MTNSandboxURL = "https://sandbox.momodeveloper.mtn.com"

// NewMTN builds the adapter. baseURL defaults to the sandbox.
func NewMTN(httpClient *http.Client, recorder *Recorder, baseURL string, log *logger.Logger) *MTN {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = MTNSandboxURL
	}
	return &MTN{
		client:  newClient(httpClient, recorder, log, "mtn"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type mtnTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token exchanges API user/key for a bearer token, caching it until expiry.
func (m *MTN) Token(ctx context.Context, orgID string, creds MTNCredentials) (string, error) {
	m.mu.Lock()
	if m.accessToken != "" && time.Now().Before(m.tokenExpiry) {
		token := m.accessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	basic := base64.StdEncoding.EncodeToString([]byte(creds.APIUser + ":" + creds.APIKey))
	headers := map[string]string{
		"Authorization":             "Basic " + basic,
		"Ocp-Apim-Subscription-Key": creds.SubscriptionKey,
	}

	var token mtnTokenResponse
	status, err := m.doJSON(ctx, orgID, http.MethodPost, m.baseURL+"/collection/token/", headers, nil, &token)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK || token.AccessToken == "" {
		return "", apperr.UpstreamUnavailable(fmt.Errorf("mtn token exchange returned %d", status))
	}

	m.mu.Lock()
	m.accessToken = token.AccessToken
	m.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).Add(-30 * time.Second)
	m.mu.Unlock()
	return token.AccessToken, nil
}

// PaymentRequest is the normalized request-to-pay input.
type PaymentRequest struct {
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Payer      string `json:"payer"`
	ExternalID string `json:"external_id"`
	Note       string `json:"note,omitempty"`
}

// RequestToPay initiates a collection and returns the reference id used for
// status polling.
func (m *MTN) RequestToPay(ctx context.Context, orgID string, creds MTNCredentials, req PaymentRequest) (string, error) {
	token, err := m.Token(ctx, orgID, creds)
	if err != nil {
		return "", err
	}

	referenceID := uuid.NewString()
	headers := m.authHeaders(token, creds)
	headers["X-Reference-Id"] = referenceID

	body := map[string]any{
		"amount":     req.Amount,
		"currency":   req.Currency,
		"externalId": req.ExternalID,
		"payer": map[string]string{
			"partyIdType": "MSISDN",
			"partyId":     req.Payer,
		},
		"payerMessage": req.Note,
		"payeeNote":    req.Note,
	}

	status, err := m.doJSON(ctx, orgID, http.MethodPost, m.baseURL+"/collection/v1_0/requesttopay", headers, body, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusAccepted {
		return "", apperr.UpstreamUnavailable(fmt.Errorf("mtn requesttopay returned %d", status))
	}
	return referenceID, nil
}

// PaymentStatus returns the raw status document for a prior request-to-pay.
func (m *MTN) PaymentStatus(ctx context.Context, orgID string, creds MTNCredentials, referenceID string) (map[string]any, error) {
	token, err := m.Token(ctx, orgID, creds)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	url := fmt.Sprintf("%s/collection/v1_0/requesttopay/%s", m.baseURL, referenceID)
	status, err := m.doJSON(ctx, orgID, http.MethodGet, url, m.authHeaders(token, creds), nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, apperr.NotFound("payment")
	}
	if status != http.StatusOK {
		return nil, apperr.UpstreamUnavailable(fmt.Errorf("mtn status returned %d", status))
	}
	return out, nil
}

// Balance returns the collection account balance.
func (m *MTN) Balance(ctx context.Context, orgID string, creds MTNCredentials) (map[string]any, error) {
	token, err := m.Token(ctx, orgID, creds)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	status, err := m.doJSON(ctx, orgID, http.MethodGet, m.baseURL+"/collection/v1_0/account/balance", m.authHeaders(token, creds), nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apperr.UpstreamUnavailable(fmt.Errorf("mtn balance returned %d", status))
	}
	return out, nil
}

// AccountHolderActive reports whether an MSISDN can receive payments.
func (m *MTN) AccountHolderActive(ctx context.Context, orgID string, creds MTNCredentials, msisdn string) (bool, error) {
	token, err := m.Token(ctx, orgID, creds)
	if err != nil {
		return false, err
	}

	var out struct {
		Result bool `json:"result"`
	}
	url := fmt.Sprintf("%s/collection/v1_0/accountholder/msisdn/%s/active", m.baseURL, msisdn)
	status, err := m.doJSON(ctx, orgID, http.MethodGet, url, m.authHeaders(token, creds), nil, &out)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, apperr.UpstreamUnavailable(fmt.Errorf("mtn accountholder returned %d", status))
	}
	return out.Result, nil
}

func (m *MTN) authHeaders(token string, creds MTNCredentials) map[string]string {
	env := creds.TargetEnv
	if env == "" {
		env = "sandbox"
	}
	return map[string]string{
		"Authorization":             "Bearer " + token,
		"Ocp-Apim-Subscription-Key": creds.SubscriptionKey,
		"X-Target-Environment":      env,
	}
}
