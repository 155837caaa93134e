// Package notifications manages the org-visible event queue and its bus
// fan-out.
package notifications

import (
	"context"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/internal/app/bus"
	"github.com/flowforge/platform/internal/app/domain/notification"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/pkg/logger"
)

// DefaultListLimit caps list reads when the caller does not bound them.
const DefaultListLimit = 50

// Service persists notifications and broadcasts updates.
type Service struct {
	store storage.NotificationStore
	hub   *bus.Hub
	log   *logger.Logger
}

// New creates the service. hub may be nil in tests.
func New(store storage.NotificationStore, hub *bus.Hub, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &Service{store: store, hub: hub, log: log}
}

// Notify appends a notification and broadcasts notifications:update to the
// org room. Failures are logged, not surfaced: notifying must never fail the
// operation that produced the event.
func (s *Service) Notify(ctx context.Context, orgID string, typ notification.Type, title, message, relatedID string) {
	_, err := s.store.CreateNotification(ctx, notification.Notification{
		OrgID:     orgID,
		Type:      typ,
		Title:     title,
		Message:   message,
		RelatedID: relatedID,
	})
	if err != nil {
		s.log.WithError(err).WithField("org_id", orgID).Warn("create notification failed")
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(orgID, bus.EventNotifications)
	}
}

// List returns the org's most recent notifications.
func (s *Service) List(ctx context.Context, orgID string, limit int) ([]notification.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = DefaultListLimit
	}
	return s.store.ListNotifications(ctx, orgID, limit)
}

// MarkRead flags one notification as read.
func (s *Service) MarkRead(ctx context.Context, orgID, id string) error {
	if err := s.store.MarkNotificationRead(ctx, orgID, id); err != nil {
		return apperr.NotFound("notification")
	}
	if s.hub != nil {
		s.hub.Broadcast(orgID, bus.EventNotifications)
	}
	return nil
}

// MarkAllRead flags every unread notification for the org.
func (s *Service) MarkAllRead(ctx context.Context, orgID string) (int, error) {
	updated, err := s.store.MarkAllNotificationsRead(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if updated > 0 && s.hub != nil {
		s.hub.Broadcast(orgID, bus.EventNotifications)
	}
	return updated, nil
}
