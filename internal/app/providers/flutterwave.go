package providers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/pkg/logger"
)

// FlutterwaveCredentials is the decrypted connection config for Flutterwave.
type FlutterwaveCredentials struct {
	SecretKey  string `json:"secret_key"`
	SecretHash string `json:"secret_hash"`
}

// Flutterwave talks to the v3 payments API.
type Flutterwave struct {
	client
	baseURL string
}

// FlutterwaveBaseURL is the production API root.
const FlutterwaveBaseURL = "https://api.flutterwave.com/v3"

// NewFlutterwave builds the adapter.
func NewFlutterwave(httpClient *http.Client, recorder *Recorder, baseURL string, log *logger.Logger) *Flutterwave {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = FlutterwaveBaseURL
	}
	return &Flutterwave{
		client:  newClient(httpClient, recorder, log, "flutterwave"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type flwEnvelope struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// HostedPayment creates a hosted payment page and returns its link.
func (f *Flutterwave) HostedPayment(ctx context.Context, orgID string, creds FlutterwaveCredentials, txRef, amount, currency, redirectURL, customerEmail string) (string, error) {
	body := map[string]any{
		"tx_ref":       txRef,
		"amount":       amount,
		"currency":     currency,
		"redirect_url": redirectURL,
		"customer": map[string]string{
			"email": customerEmail,
		},
	}

	var envelope flwEnvelope
	status, err := f.doJSON(ctx, orgID, http.MethodPost, f.baseURL+"/payments", f.headers(creds), body, &envelope)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK || envelope.Status != "success" {
		return "", apperr.UpstreamUnavailable(fmt.Errorf("flutterwave payments returned %d (%s)", status, envelope.Message))
	}
	link, _ := envelope.Data["link"].(string)
	if link == "" {
		return "", apperr.UpstreamUnavailable(fmt.Errorf("flutterwave response has no payment link"))
	}
	return link, nil
}

// VerifyByReference looks up a transaction by tx_ref and returns its data
// document.
func (f *Flutterwave) VerifyByReference(ctx context.Context, orgID string, creds FlutterwaveCredentials, txRef string) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/transactions/verify_by_reference?tx_ref=%s", f.baseURL, url.QueryEscape(txRef))

	var envelope flwEnvelope
	status, err := f.doJSON(ctx, orgID, http.MethodGet, endpoint, f.headers(creds), nil, &envelope)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, apperr.NotFound("transaction")
	}
	if status != http.StatusOK || envelope.Status != "success" {
		return nil, apperr.UpstreamUnavailable(fmt.Errorf("flutterwave verify returned %d (%s)", status, envelope.Message))
	}
	return envelope.Data, nil
}

// VerifyWebhookSignature checks the verif-hash header against the configured
// secret hash in constant time.
func (f *Flutterwave) VerifyWebhookSignature(creds FlutterwaveCredentials, header string) bool {
	if creds.SecretHash == "" || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(creds.SecretHash), []byte(header)) == 1
}

func (f *Flutterwave) headers(creds FlutterwaveCredentials) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + creds.SecretKey,
	}
}
