package system

import "context"

// Service is a lifecycle-managed component. Start must not block beyond
// initialisation; long-running work belongs in goroutines owned by the
// service and torn down in Stop.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService satisfies Service for components that expose request/response
// APIs only and need no background lifecycle.
type NoopService struct {
	ServiceName string
}

func (s NoopService) Name() string                  { return s.ServiceName }
func (s NoopService) Start(_ context.Context) error { return nil }
func (s NoopService) Stop(_ context.Context) error  { return nil }
