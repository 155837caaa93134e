package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flowforge/platform/pkg/logger"
)

// Service runs the HTTP server under the lifecycle manager.
type Service struct {
	server *http.Server
	log    *logger.Logger
}

// NewService wraps the handler in a lifecycle-managed server.
func NewService(handler http.Handler, addr string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Service{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func (s *Service) Name() string { return "http-api" }

// Start begins serving in the background. Listen errors after startup are
// logged.
func (s *Service) Start(_ context.Context) error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server exited")
		}
	}()
	s.log.WithField("addr", s.server.Addr).Info("http api listening")
	return nil
}

// Stop shuts the server down gracefully.
func (s *Service) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
