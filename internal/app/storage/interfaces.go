package storage

import (
	"context"
	"time"

	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/domain/execution"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/domain/integration"
	"github.com/flowforge/platform/internal/app/domain/notification"
)

// OrgStore persists organizations.
type OrgStore interface {
	CreateOrganization(ctx context.Context, org account.Organization) (account.Organization, error)
	GetOrganization(ctx context.Context, id string) (account.Organization, error)
	GetOrganizationByName(ctx context.Context, name string) (account.Organization, error)
	ListOrganizationIDs(ctx context.Context) ([]string, error)
}

// UserStore persists users and pending signups.
type UserStore interface {
	CreateUser(ctx context.Context, usr account.User) (account.User, error)
	UpdateUser(ctx context.Context, usr account.User) (account.User, error)
	GetUser(ctx context.Context, id string) (account.User, error)
	GetUserByEmail(ctx context.Context, email string) (account.User, error)
	ListUsers(ctx context.Context, orgID string) ([]account.User, error)

	UpsertPendingUser(ctx context.Context, pending account.PendingUser) error
	GetPendingUser(ctx context.Context, email string) (account.PendingUser, error)
	DeletePendingUser(ctx context.Context, email string) error
	DeleteExpiredPendingUsers(ctx context.Context, before time.Time) (int, error)
}

// FlowStore persists flow definitions and their immutable versions.
type FlowStore interface {
	CreateFlow(ctx context.Context, fl flow.Flow) (flow.Flow, error)
	UpdateFlow(ctx context.Context, fl flow.Flow) (flow.Flow, error)
	GetFlow(ctx context.Context, id string) (flow.Flow, error)
	GetFlowByName(ctx context.Context, orgID, name string) (flow.Flow, error)
	ListFlows(ctx context.Context, orgID string) ([]flow.Flow, error)
	SoftDeleteFlow(ctx context.Context, id string) error

	// CreateVersion assigns max(version)+1 for the flow atomically.
	CreateVersion(ctx context.Context, ver flow.Version) (flow.Version, error)
	GetVersion(ctx context.Context, flowID string, version int) (flow.Version, error)
	GetLatestVersion(ctx context.Context, flowID string) (flow.Version, error)
	ListVersions(ctx context.Context, flowID string) ([]flow.Version, error)
}

// ExecutionStore persists executions, steps, and logs.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec execution.Execution) (execution.Execution, error)
	UpdateExecution(ctx context.Context, exec execution.Execution) (execution.Execution, error)
	GetExecution(ctx context.Context, id string) (execution.Execution, error)
	ListFlowExecutions(ctx context.Context, flowID string, limit int) ([]execution.Execution, error)
	ListRecentExecutions(ctx context.Context, orgID string, limit int) ([]execution.Execution, error)
	ListRunningExecutions(ctx context.Context) ([]execution.Execution, error)
	// DeleteExecution removes logs, then steps, then the execution row.
	DeleteExecution(ctx context.Context, id string) error

	CreateStep(ctx context.Context, step execution.Step) (execution.Step, error)
	UpdateStep(ctx context.Context, step execution.Step) (execution.Step, error)
	ListSteps(ctx context.Context, executionID string) ([]execution.Step, error)

	AppendLog(ctx context.Context, entry execution.Log) (execution.Log, error)
	ListLogs(ctx context.Context, executionID string, limit int) ([]execution.Log, error)
}

// IntegrationStore persists integrations and connections.
type IntegrationStore interface {
	CreateIntegration(ctx context.Context, in integration.Integration) (integration.Integration, error)
	UpdateIntegration(ctx context.Context, in integration.Integration) (integration.Integration, error)
	GetIntegration(ctx context.Context, id string) (integration.Integration, error)
	GetIntegrationByName(ctx context.Context, orgID, name string) (integration.Integration, error)
	ListIntegrations(ctx context.Context, orgID string) ([]integration.Integration, error)
	ListAllIntegrations(ctx context.Context) ([]integration.Integration, error)
	DeleteIntegration(ctx context.Context, id string) error

	CreateConnection(ctx context.Context, conn integration.Connection) (integration.Connection, error)
	GetConnection(ctx context.Context, id string) (integration.Connection, error)
	ListConnections(ctx context.Context, ownerUserID string) ([]integration.Connection, error)
	DeleteConnection(ctx context.Context, id string) error
}

// NotificationStore persists org notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)
	ListNotifications(ctx context.Context, orgID string, limit int) ([]notification.Notification, error)
	MarkNotificationRead(ctx context.Context, orgID, id string) error
	MarkAllNotificationsRead(ctx context.Context, orgID string) (int, error)
}

// TxEventStore persists outbound provider-call rollups.
type TxEventStore interface {
	AppendTxEvent(ctx context.Context, ev integration.TxEvent) (integration.TxEvent, error)
	ListTxEvents(ctx context.Context, orgID string, since time.Time) ([]integration.TxEvent, error)
}

// PolicyStore persists rate samples and IP allowlist entries.
type PolicyStore interface {
	AppendRateSample(ctx context.Context, sample account.RateSample) error
	CountRateSamples(ctx context.Context, userID string, since time.Time) (int, error)
	DeleteRateSamplesBefore(ctx context.Context, cutoff time.Time) (int, error)

	AddAllowlistEntry(ctx context.Context, entry account.IPAllowlistEntry) (account.IPAllowlistEntry, error)
	ListAllowlistEntries(ctx context.Context, userID string) ([]account.IPAllowlistEntry, error)
	RemoveAllowlistEntry(ctx context.Context, userID, id string) error
}

// AuditStore appends audit entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry account.AuditEntry) error
}
