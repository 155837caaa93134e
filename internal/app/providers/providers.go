// Package providers holds thin per-provider adapters translating normalized
// requests into provider HTTP calls and back. Every call that touches a
// provider endpoint appends a TxEvent scoped to the initiating org.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/domain/integration"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/pkg/logger"
)

// CallTimeout bounds every outbound provider call.
const CallTimeout = 6 * time.Second

const bodyLimit = int64(1 << 20) // 1 MiB

// Recorder appends provider-call rollups for dashboards.
type Recorder struct {
	store storage.TxEventStore
	log   *logger.Logger
}

// NewRecorder builds a TxEvent recorder. store may be nil in tests.
func NewRecorder(store storage.TxEventStore, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewDefault("providers")
	}
	return &Recorder{store: store, log: log}
}

// Record appends one rollup. Failures are logged, never surfaced: accounting
// must not change call outcomes.
func (r *Recorder) Record(ctx context.Context, orgID string, success bool, latency time.Duration) {
	if r == nil || r.store == nil || orgID == "" {
		return
	}
	ms := latency.Milliseconds()
	_, err := r.store.AppendTxEvent(ctx, integration.TxEvent{
		OrgID:     orgID,
		Success:   success,
		LatencyMS: &ms,
	})
	if err != nil {
		r.log.WithError(err).WithField("org_id", orgID).Warn("append tx event failed")
	}
}

// client is the shared transport for provider adapters.
type client struct {
	http     *http.Client
	limiter  *rate.Limiter
	recorder *Recorder
	log      *logger.Logger
}

func newClient(httpClient *http.Client, recorder *Recorder, log *logger.Logger, name string) client {
	if httpClient == nil {
		httpClient = httputil.NewClient(CallTimeout)
	}
	if log == nil {
		log = logger.NewDefault(name)
	}
	// Smooth outbound call bursts per provider; generous enough to be
	// invisible in normal operation.
	return client{
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(20), 40),
		recorder: recorder,
		log:      log,
	}
}

// doJSON issues a request, decodes a JSON response, and records the TxEvent.
// Transport failures map to Timeout/UpstreamUnavailable; non-2xx responses
// return the decoded body plus the status for the caller to interpret.
func (c client) doJSON(ctx context.Context, orgID, method, url string, headers map[string]string, body any, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = strings.NewReader(string(encoded))
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.recorder.Record(context.WithoutCancel(ctx), orgID, false, latency)
		if ctx.Err() != nil {
			return 0, apperr.Timeout(err)
		}
		return 0, apperr.UpstreamUnavailable(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		c.recorder.Record(context.WithoutCancel(ctx), orgID, false, latency)
		return resp.StatusCode, apperr.UpstreamUnavailable(err)
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.recorder.Record(context.WithoutCancel(ctx), orgID, success, latency)

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil && success {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
