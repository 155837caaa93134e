// Package httputil carries small HTTP helpers shared by the API surface and
// outbound clients.
package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	apperr "github.com/flowforge/platform/infrastructure/errors"
)

// MaxBodyBytes bounds request bodies accepted by DecodeJSON.
const MaxBodyBytes = 1 << 20 // 1 MiB

// NewClient builds an outbound HTTP client with the given total timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// HostResolver vets a dial target and returns the addresses the transport may
// connect to. Returning an error aborts the dial before any connection.
type HostResolver func(ctx context.Context, host string) ([]net.IP, error)

// NewGuardedClient builds an outbound client whose transport resolves and
// vets every dial target through resolve before connecting. The connection is
// made to a vetted address, never to a name, so a hostname cannot re-resolve
// to a different address between check and connect.
func NewGuardedClient(timeout time.Duration, resolve HostResolver) *http.Client {
	if resolve == nil {
		return NewClient(timeout)
	}
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolve(ctx, host)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			if lastErr == nil {
				lastErr = fmt.Errorf("no routable address for %s", host)
			}
			return nil, lastErr
		},
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// DecodeJSON reads a bounded JSON body into out.
func DecodeJSON(r *http.Request, out any) error {
	defer io.Copy(io.Discard, r.Body)
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return apperr.Validation(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps err onto the wire shape used across the API.
func WriteError(w http.ResponseWriter, err error) {
	svcErr := apperr.FromError(err)
	body := map[string]any{
		"error": map[string]any{
			"kind":    svcErr.Kind,
			"message": svcErr.Message,
		},
	}
	if len(svcErr.Details) > 0 {
		body["error"].(map[string]any)["details"] = svcErr.Details
	}
	WriteJSON(w, svcErr.HTTPStatus, body)
}
