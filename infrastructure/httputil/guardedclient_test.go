package httputil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardedClientDialsVettedAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)
	serverIP := net.ParseIP(serverURL.Hostname())
	require.NotNil(t, serverIP)

	var resolvedHost string
	client := NewGuardedClient(5*time.Second, func(_ context.Context, host string) ([]net.IP, error) {
		resolvedHost = host
		return []net.IP{serverIP}, nil
	})

	// The request names a host the resolver maps onto the fixture's address.
	resp, err := client.Get("http://service.internal.test:" + serverURL.Port() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "service.internal.test", resolvedHost)
}

func TestGuardedClientRejectsBlockedResolution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("connection reached the server despite a rejecting resolver")
	}))
	defer server.Close()

	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	client := NewGuardedClient(5*time.Second, func(_ context.Context, host string) ([]net.IP, error) {
		return nil, fmt.Errorf("address %s is not allowed", host)
	})

	_, err = client.Get("http://rebinder.test:" + serverURL.Port() + "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestGuardedClientWithoutResolverFallsBack(t *testing.T) {
	client := NewGuardedClient(time.Second, nil)
	require.NotNil(t, client)
	assert.Equal(t, time.Second, client.Timeout)
}
