// Package verification probes third-party credentials in the background and
// flips integration health with user-visible state transitions. Provider
// flakiness is isolated from the caller: the API returns before the probe
// runs, and every outcome lands as a status change plus a notification.
package verification

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/infrastructure/metrics"
	"github.com/flowforge/platform/internal/app/bus"
	"github.com/flowforge/platform/internal/app/domain/integration"
	"github.com/flowforge/platform/internal/app/domain/notification"
	"github.com/flowforge/platform/internal/app/netguard"
	"github.com/flowforge/platform/internal/app/services/notifications"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/pkg/logger"
)

const (
	// Deferral gives the caller's UI an observable pending state before the
	// probe lands.
	Deferral = 3 * time.Second

	// ProbeTimeout bounds the verification GET.
	ProbeTimeout = 6 * time.Second
)

// bearerOnlyKey matches key shapes that carry their own scheme prefix.
var bearerOnlyKey = regexp.MustCompile(`^(sk|pk)_`)

// Request is one verification job.
type Request struct {
	IntegrationID string
	OrgID         string
	Name          string
	APIKey        string
	TestURL       string
}

// EnvCredentials describes provider keys present in the process environment,
// used by the startup self-check.
type EnvCredentials struct {
	FlutterwaveKey string
	MTNKey         string
}

// Worker runs verification probes.
type Worker struct {
	store       storage.IntegrationStore
	notifier    *notifications.Service
	hub         *bus.Hub
	client      *http.Client
	validateURL func(string) (*url.URL, error)
	log         *logger.Logger
	envCreds    EnvCredentials
	deferral    time.Duration

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates the worker.
func New(store storage.IntegrationStore, notifier *notifications.Service, hub *bus.Hub, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewDefault("verification")
	}
	return &Worker{
		store:       store,
		notifier:    notifier,
		hub:         hub,
		client:      httputil.NewGuardedClient(ProbeTimeout, netguard.ResolveAndCheck),
		validateURL: netguard.ValidateURL,
		log:         log,
		deferral:    Deferral,
	}
}

// WithEnvCredentials configures the startup self-check inputs.
func (w *Worker) WithEnvCredentials(creds EnvCredentials) {
	w.envCreds = creds
}

// WithHTTPClient overrides the probe client. Tests use this.
func (w *Worker) WithHTTPClient(client *http.Client) {
	if client != nil {
		w.client = client
	}
}

// WithDeferral overrides the pending deferral. Tests use this.
func (w *Worker) WithDeferral(d time.Duration) {
	if d >= 0 {
		w.deferral = d
	}
}

// WithURLValidator overrides the outbound target guard. Tests use this to
// probe loopback fixtures.
func (w *Worker) WithURLValidator(validate func(string) (*url.URL, error)) {
	if validate != nil {
		w.validateURL = validate
	}
}

func (w *Worker) Name() string { return "integration-verifier" }

// Start enables probe scheduling and launches the startup self-check.
func (w *Worker) Start(_ context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	w.runCtx = runCtx
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.selfCheck(runCtx)
	}()

	w.log.Info("integration verifier started")
	return nil
}

// Stop cancels pending deferrals and waits for in-flight probes.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.log.Info("integration verifier stopped")
	return nil
}

// Enqueue writes pending immediately, broadcasts, and schedules the deferred
// probe. Concurrent re-verification of the same integration is allowed; the
// last write wins on last_checked.
func (w *Worker) Enqueue(ctx context.Context, req Request) error {
	in, err := w.store.GetIntegration(ctx, req.IntegrationID)
	if err != nil || in.OrgID != req.OrgID {
		return fmt.Errorf("integration %s not found", req.IntegrationID)
	}

	now := time.Now().UTC()
	in.Status = integration.StatusPending
	in.LastChecked = &now
	if _, err := w.store.UpdateIntegration(ctx, in); err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}
	w.broadcast(req.OrgID)

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("verifier is not running")
	}
	runCtx := w.runCtx
	w.wg.Add(1)
	w.mu.Unlock()

	// The probe outlives the caller's request; only worker shutdown cancels
	// the deferral.
	go func() {
		defer w.wg.Done()
		select {
		case <-time.After(w.deferral):
		case <-runCtx.Done():
			return
		}
		w.probe(context.WithoutCancel(runCtx), req)
	}()
	return nil
}

// probe performs the GET and records the transition.
func (w *Worker) probe(ctx context.Context, req Request) {
	defer w.broadcast(req.OrgID)

	probeURL := req.TestURL
	if probeURL == "" {
		probeURL = inferProbeURL(req.Name)
	}
	if probeURL == "" {
		w.conclude(ctx, req, integration.StatusError, "no valid Test URL for verification")
		return
	}

	target, err := w.validateURL(probeURL)
	if err != nil {
		w.conclude(ctx, req, integration.StatusError, fmt.Sprintf("invalid test URL: %v", err))
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		w.conclude(ctx, req, integration.StatusError, fmt.Sprintf("build probe: %v", err))
		return
	}
	applyAuthHeaders(httpReq, req.APIKey)

	resp, err := w.client.Do(httpReq)
	if err != nil {
		w.conclude(ctx, req, integration.StatusError, fmt.Sprintf("probe failed: %v", err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.conclude(ctx, req, integration.StatusActive, "")
		return
	}
	w.conclude(ctx, req, integration.StatusError, fmt.Sprintf("probe returned HTTP %d", resp.StatusCode))
}

// conclude writes the terminal status and emits the matching notification.
func (w *Worker) conclude(ctx context.Context, req Request, status integration.Status, reason string) {
	metrics.VerificationProbes.WithLabelValues(string(status)).Inc()

	in, err := w.store.GetIntegration(ctx, req.IntegrationID)
	if err != nil {
		w.log.WithError(err).WithField("integration_id", req.IntegrationID).Warn("load integration for conclude")
		return
	}
	now := time.Now().UTC()
	in.Status = status
	in.LastChecked = &now
	if _, err := w.store.UpdateIntegration(ctx, in); err != nil {
		w.log.WithError(err).WithField("integration_id", req.IntegrationID).Warn("record verification result")
		return
	}

	if w.notifier == nil {
		return
	}
	if status == integration.StatusActive {
		w.notifier.Notify(ctx, req.OrgID, notification.TypeInfo,
			fmt.Sprintf("Integration active: %s", in.Name),
			fmt.Sprintf("%s verified successfully", in.Name), in.ID)
		return
	}
	w.notifier.Notify(ctx, req.OrgID, notification.TypeError,
		fmt.Sprintf("Integration error: %s", in.Name), reason, in.ID)
}

func (w *Worker) broadcast(orgID string) {
	if w.hub != nil {
		w.hub.Broadcast(orgID, bus.EventIntegrations)
		metrics.BusEvents.WithLabelValues(bus.EventIntegrations).Inc()
	}
}

// selfCheck re-verifies provider integrations against process-environment
// credentials so a deploy that drops keys cannot leave stale active rows.
func (w *Worker) selfCheck(ctx context.Context) {
	all, err := w.store.ListAllIntegrations(ctx)
	if err != nil {
		w.log.WithError(err).Warn("startup self-check: list integrations")
		return
	}
	for _, in := range all {
		name := strings.ToLower(in.Name)
		var key string
		switch {
		case strings.Contains(name, "flutterwave"):
			key = w.envCreds.FlutterwaveKey
		case strings.Contains(name, "mtn"):
			key = w.envCreds.MTNKey
		default:
			continue
		}

		if key == "" {
			w.conclude(ctx, Request{IntegrationID: in.ID, OrgID: in.OrgID, Name: in.Name},
				integration.StatusError, "provider credentials missing from environment")
			w.broadcast(in.OrgID)
			continue
		}
		w.probe(ctx, Request{
			IntegrationID: in.ID,
			OrgID:         in.OrgID,
			Name:          in.Name,
			APIKey:        key,
			TestURL:       in.TestURL,
		})
	}
}

// inferProbeURL maps a provider-ish integration name to a default endpoint.
func inferProbeURL(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.Contains(name, "stripe"):
		return "https://api.stripe.com/v1/charges?limit=1"
	case strings.Contains(name, "github"):
		return "https://api.github.com/user"
	case strings.Contains(name, "slack"):
		return "https://slack.com/api/auth.test"
	case strings.Contains(name, "flutterwave"):
		return "https://api.flutterwave.com/v3/balances"
	case strings.Contains(name, "sendgrid"):
		return "https://api.sendgrid.com/v3/user/profile"
	default:
		return ""
	}
}

// applyAuthHeaders implements the header selection heuristic: keys with an
// sk_/pk_ prefix identify themselves, everything else gets both header forms.
func applyAuthHeaders(req *http.Request, apiKey string) {
	if apiKey == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if !bearerOnlyKey.MatchString(apiKey) {
		req.Header.Set("X-Api-Key", apiKey)
	}
}
