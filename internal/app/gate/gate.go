// Package gate resolves the caller's identity and evaluates IP allowlist and
// per-principal rate quota before admitting a request. It runs in front of
// every authenticated endpoint.
package gate

import (
	"context"
	"net/http"
	"strconv"
	"time"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/infrastructure/httputil"
	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/pkg/logger"
)

type ctxKey string

const (
	ctxPrincipalKey ctxKey = "gate.principal"
	ctxClientIPKey  ctxKey = "gate.client_ip"
)

// RateWindow is the sliding window for quota accounting.
const RateWindow = time.Hour

// Gate is the principal and policy middleware.
type Gate struct {
	sessions *Sessions
	users    storage.UserStore
	policy   storage.PolicyStore
	log      *logger.Logger
}

// New constructs the gate.
func New(sessions *Sessions, users storage.UserStore, policy storage.PolicyStore, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.NewDefault("gate")
	}
	return &Gate{sessions: sessions, users: users, policy: policy, log: log}
}

// PrincipalFrom returns the authenticated principal stored on the context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxPrincipalKey).(Principal)
	return p, ok
}

// ClientIPFrom returns the resolved client address stored on the context.
func ClientIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(ctxClientIPKey).(string)
	return ip
}

// WithPrincipal stores a principal on the context. Exposed for handler tests.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

// Middleware admits or rejects the request, then annotates the context with
// the principal and client IP.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := httputil.ClientIP(r)
		ctx := context.WithValue(r.Context(), ctxClientIPKey, clientIP)

		principal, err := g.sessions.FromRequest(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		usr, err := g.users.GetUser(ctx, principal.UserID)
		if err != nil {
			httputil.WriteError(w, apperr.Unauthenticated(""))
			return
		}
		if !usr.Active() && mutating(r.Method) {
			httputil.WriteError(w, apperr.Forbidden("account is deactivated"))
			return
		}

		// IP allowlist. Unexpected store errors fail open to avoid lockout
		// during misconfiguration; this is explicit operator-facing policy.
		if usr.AllowIPList {
			entries, err := g.policy.ListAllowlistEntries(ctx, usr.ID)
			if err != nil {
				g.log.WithError(err).WithField("user_id", usr.ID).Warn("allowlist lookup failed; admitting request")
			} else {
				allowed := false
				for _, entry := range entries {
					if entry.IPAddress == clientIP {
						allowed = true
						break
					}
				}
				if !allowed {
					err := apperr.Forbidden("source address is not allowlisted").
						WithDetails("currentIp", clientIP)
					httputil.WriteError(w, err)
					return
				}
			}
		}

		// Rate quota over the trailing hour.
		since := time.Now().UTC().Add(-RateWindow)
		count, err := g.policy.CountRateSamples(ctx, usr.ID, since)
		if err != nil {
			g.log.WithError(err).WithField("user_id", usr.ID).Warn("rate sample count failed; admitting request")
			count = 0
		}
		limit := usr.RateLimit
		if limit < 1 {
			limit = 1
		}
		if count >= limit {
			retryAfter := int(RateWindow / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(RateWindow).Unix(), 10))
			httputil.WriteError(w, apperr.RateLimited(retryAfter))
			return
		}

		sample := account.RateSample{
			UserID:    usr.ID,
			Endpoint:  r.URL.Path,
			IPAddress: clientIP,
			Timestamp: time.Now().UTC(),
		}
		if err := g.policy.AppendRateSample(ctx, sample); err != nil {
			g.log.WithError(err).WithField("user_id", usr.ID).Warn("append rate sample failed")
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit-count-1))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(RateWindow).Unix(), 10))

		ctx = context.WithValue(ctx, ctxPrincipalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// Sweeper deletes rate samples older than the retention window on an
// interval. Registered as a lifecycle service.
type Sweeper struct {
	policy    storage.PolicyStore
	accounts  PendingSweeper
	log       *logger.Logger
	interval  time.Duration
	retention time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// PendingSweeper is implemented by the accounts service to expire stale
// signups alongside rate samples.
type PendingSweeper interface {
	SweepPendingUsers(ctx context.Context) (int, error)
}

// NewSweeper builds a sweeper with the default hourly cadence and 24 h
// retention.
func NewSweeper(policy storage.PolicyStore, accounts PendingSweeper, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("gate-sweeper")
	}
	return &Sweeper{
		policy:    policy,
		accounts:  accounts,
		log:       log,
		interval:  time.Hour,
		retention: 24 * time.Hour,
	}
}

func (s *Sweeper) Name() string { return "policy-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.sweep(runCtx)
			}
		}
	}()
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.retention)
	removed, err := s.policy.DeleteRateSamplesBefore(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Warn("rate sample sweep failed")
	} else if removed > 0 {
		s.log.WithField("removed", removed).Debug("swept rate samples")
	}

	if s.accounts != nil {
		if expired, err := s.accounts.SweepPendingUsers(ctx); err != nil {
			s.log.WithError(err).Warn("pending user sweep failed")
		} else if expired > 0 {
			s.log.WithField("removed", expired).Debug("swept pending users")
		}
	}
}
