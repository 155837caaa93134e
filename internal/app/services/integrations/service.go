// Package integrations manages an org's declared external dependencies and
// the encrypted connections that back them.
package integrations

import (
	"context"
	"errors"
	"strings"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/internal/app/domain/integration"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/internal/app/vault"
	"github.com/flowforge/platform/pkg/logger"
)

// Service owns integration and connection records.
type Service struct {
	store storage.IntegrationStore
	vault *vault.Vault
	log   *logger.Logger
}

// New creates the service.
func New(store storage.IntegrationStore, vlt *vault.Vault, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("integrations")
	}
	if vlt == nil {
		vlt = vault.Disabled()
	}
	return &Service{store: store, vault: vlt, log: log}
}

// Create registers a new integration in pending state. Names are unique per
// org, case-insensitive.
func (s *Service) Create(ctx context.Context, orgID, name, testURL string) (integration.Integration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return integration.Integration{}, apperr.Validation("integration name is required")
	}
	in, err := s.store.CreateIntegration(ctx, integration.Integration{
		OrgID:   orgID,
		Name:    name,
		Status:  integration.StatusPending,
		TestURL: strings.TrimSpace(testURL),
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return integration.Integration{}, apperr.Conflict("an integration with this name already exists")
		}
		return integration.Integration{}, apperr.Internal(err)
	}
	return in, nil
}

// Get returns an org-scoped integration.
func (s *Service) Get(ctx context.Context, orgID, id string) (integration.Integration, error) {
	in, err := s.store.GetIntegration(ctx, id)
	if err != nil || in.OrgID != orgID {
		return integration.Integration{}, apperr.NotFound("integration")
	}
	return in, nil
}

// List returns the org's integrations.
func (s *Service) List(ctx context.Context, orgID string) ([]integration.Integration, error) {
	return s.store.ListIntegrations(ctx, orgID)
}

// Update renames an integration or changes its test URL.
func (s *Service) Update(ctx context.Context, orgID, id, name, testURL string) (integration.Integration, error) {
	in, err := s.Get(ctx, orgID, id)
	if err != nil {
		return integration.Integration{}, err
	}
	if name = strings.TrimSpace(name); name != "" {
		in.Name = name
	}
	if testURL = strings.TrimSpace(testURL); testURL != "" {
		in.TestURL = testURL
	}
	updated, err := s.store.UpdateIntegration(ctx, in)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return integration.Integration{}, apperr.Conflict("an integration with this name already exists")
		}
		return integration.Integration{}, apperr.Internal(err)
	}
	return updated, nil
}

// Delete removes an integration.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return err
	}
	if err := s.store.DeleteIntegration(ctx, id); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// CreateConnection encrypts the provider config and stores the blob. The
// plaintext never reaches the store.
func (s *Service) CreateConnection(ctx context.Context, ownerUserID, provider, label string, env integration.Env, config any) (integration.Connection, error) {
	if provider = strings.TrimSpace(provider); provider == "" {
		return integration.Connection{}, apperr.Validation("provider is required")
	}
	if env != integration.EnvSandbox && env != integration.EnvProduction {
		return integration.Connection{}, apperr.Validation("env must be sandbox or production")
	}
	blob, err := s.vault.Encrypt(config)
	if err != nil {
		return integration.Connection{}, apperr.Internal(err)
	}
	conn, err := s.store.CreateConnection(ctx, integration.Connection{
		OwnerUserID: ownerUserID,
		Provider:    provider,
		Env:         env,
		Label:       strings.TrimSpace(label),
		ConfigEnc:   blob,
	})
	if err != nil {
		return integration.Connection{}, apperr.Internal(err)
	}
	return conn, nil
}

// ListConnections returns the caller's connections. Blobs stay encrypted.
func (s *Service) ListConnections(ctx context.Context, ownerUserID string) ([]integration.Connection, error) {
	return s.store.ListConnections(ctx, ownerUserID)
}

// DeleteConnection removes a connection owned by the caller.
func (s *Service) DeleteConnection(ctx context.Context, ownerUserID, id string) error {
	conn, err := s.store.GetConnection(ctx, id)
	if err != nil || conn.OwnerUserID != ownerUserID {
		return apperr.NotFound("connection")
	}
	if err := s.store.DeleteConnection(ctx, id); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
