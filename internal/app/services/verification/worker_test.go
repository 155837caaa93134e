package verification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/bus"
	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/domain/integration"
	"github.com/flowforge/platform/internal/app/domain/notification"
	"github.com/flowforge/platform/internal/app/services/notifications"
	"github.com/flowforge/platform/internal/app/storage"
)

type fixture struct {
	worker *Worker
	mem    *storage.Memory
	hub    *bus.Hub
	orgID  string
	in     integration.Integration
}

func newFixture(t *testing.T, name, testURL string) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemory()
	hub := bus.NewHub(nil)
	t.Cleanup(hub.Close)

	org, err := mem.CreateOrganization(ctx, account.Organization{Name: "acme"})
	require.NoError(t, err)
	in, err := mem.CreateIntegration(ctx, integration.Integration{
		OrgID: org.ID, Name: name, TestURL: testURL,
	})
	require.NoError(t, err)

	worker := New(mem, notifications.New(mem, hub, nil), hub, nil)
	worker.WithDeferral(10 * time.Millisecond)
	worker.WithURLValidator(func(raw string) (*url.URL, error) { return url.Parse(raw) })
	worker.WithHTTPClient(httputil.NewClient(ProbeTimeout))
	require.NoError(t, worker.Start(ctx))
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })

	return &fixture{worker: worker, mem: mem, hub: hub, orgID: org.ID, in: in}
}

func (f *fixture) waitStatus(t *testing.T, want integration.Status) integration.Integration {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		in, err := f.mem.GetIntegration(context.Background(), f.in.ID)
		require.NoError(t, err)
		if in.Status == want {
			return in
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("integration never reached %s", want)
	return integration.Integration{}
}

func (f *fixture) request(apiKey string) Request {
	return Request{
		IntegrationID: f.in.ID,
		OrgID:         f.orgID,
		Name:          f.in.Name,
		APIKey:        apiKey,
		TestURL:       f.in.TestURL,
	}
}

func notificationsOf(t *testing.T, f *fixture) []notification.Notification {
	t.Helper()
	list, err := f.mem.ListNotifications(context.Background(), f.orgID, 50)
	require.NoError(t, err)
	return list
}

func TestSuccessfulProbeActivates(t *testing.T) {
	var gotAuth, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("X-Api-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t, "Stripe Test", server.URL)
	sub := f.hub.Subscribe(f.orgID)

	require.NoError(t, f.worker.Enqueue(context.Background(), f.request("sk_test_abc")))

	// Immediate pending state before the probe lands.
	in, err := f.mem.GetIntegration(context.Background(), f.in.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.StatusPending, in.Status)
	require.NotNil(t, in.LastChecked)

	active := f.waitStatus(t, integration.StatusActive)
	require.NotNil(t, active.LastChecked)

	// sk_-prefixed keys are sent as a bare bearer token.
	assert.Equal(t, "Bearer sk_test_abc", gotAuth)
	assert.Empty(t, gotAPIKey)

	list := notificationsOf(t, f)
	require.Len(t, list, 1)
	assert.Equal(t, notification.TypeInfo, list[0].Type)
	assert.Contains(t, list[0].Title, "Integration active")

	// integrations:update fired at both transitions; the info notification
	// broadcasts notifications:update in between.
	want := []string{bus.EventIntegrations, bus.EventNotifications, bus.EventIntegrations}
	var got []string
	for len(got) < len(want) {
		select {
		case ev := <-sub.C:
			got = append(got, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("saw %d bus events, want %d", len(got), len(want))
		}
	}
	assert.Equal(t, want, got)
}

func TestFailingProbeMarksError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Generic keys carry both header forms.
		assert.Equal(t, "Bearer some-generic-key", r.Header.Get("Authorization"))
		assert.Equal(t, "some-generic-key", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	f := newFixture(t, "Custom API", server.URL)
	require.NoError(t, f.worker.Enqueue(context.Background(), f.request("some-generic-key")))

	f.waitStatus(t, integration.StatusError)

	list := notificationsOf(t, f)
	require.Len(t, list, 1)
	assert.Equal(t, notification.TypeError, list[0].Type)
	assert.Contains(t, list[0].Message, "401")
}

func TestNoTestURLAndNoInferenceIsError(t *testing.T) {
	f := newFixture(t, "Mystery System", "")
	require.NoError(t, f.worker.Enqueue(context.Background(), f.request("key")))

	f.waitStatus(t, integration.StatusError)
	list := notificationsOf(t, f)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Message, "no valid Test URL")
}

func TestInferProbeURL(t *testing.T) {
	assert.Equal(t, "https://api.stripe.com/v1/charges?limit=1", inferProbeURL("Stripe Test"))
	assert.Equal(t, "https://api.github.com/user", inferProbeURL("my github sync"))
	assert.Empty(t, inferProbeURL("internal billing"))
}

func TestReverifyActiveIntegrationOnlyTouchesLastChecked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t, "Stripe Test", server.URL)
	require.NoError(t, f.worker.Enqueue(context.Background(), f.request("sk_test_abc")))
	first := f.waitStatus(t, integration.StatusActive)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.worker.Enqueue(context.Background(), f.request("sk_test_abc")))
	second := f.waitStatus(t, integration.StatusActive)

	assert.Equal(t, integration.StatusActive, second.Status)
	assert.True(t, second.LastChecked.After(*first.LastChecked))
}

func TestStartupSelfCheckFlipsMissingCredentialsToError(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	hub := bus.NewHub(nil)
	defer hub.Close()

	org, err := mem.CreateOrganization(ctx, account.Organization{Name: "acme"})
	require.NoError(t, err)
	in, err := mem.CreateIntegration(ctx, integration.Integration{
		OrgID: org.ID, Name: "Flutterwave", Status: integration.StatusActive,
	})
	require.NoError(t, err)

	worker := New(mem, notifications.New(mem, hub, nil), hub, nil)
	// No env credentials configured.
	require.NoError(t, worker.Start(ctx))
	defer worker.Stop(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := mem.GetIntegration(ctx, in.ID)
		require.NoError(t, err)
		if got.Status == integration.StatusError {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("self-check never flipped the integration to error")
}
