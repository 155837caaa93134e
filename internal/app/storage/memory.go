package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/domain/execution"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/domain/integration"
	"github.com/flowforge/platform/internal/app/domain/notification"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness constraint would be violated.
var ErrConflict = errors.New("conflict")

// Memory is a thread-safe in-memory persistence layer implementing the
// storage interfaces defined in this package. It is intended for tests and
// prototyping and deliberately keeps the implementation simple.
type Memory struct {
	mu            sync.RWMutex
	orgs          map[string]account.Organization
	users         map[string]account.User
	pending       map[string]account.PendingUser
	flows         map[string]flow.Flow
	versions      map[string][]flow.Version
	executions    map[string]execution.Execution
	steps         map[string][]execution.Step
	logs          map[string][]execution.Log
	integrations  map[string]integration.Integration
	connections   map[string]integration.Connection
	notifications map[string]notification.Notification
	txEvents      []integration.TxEvent
	rateSamples   []account.RateSample
	allowlist     map[string]account.IPAllowlistEntry
	audits        []account.AuditEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orgs:          make(map[string]account.Organization),
		users:         make(map[string]account.User),
		pending:       make(map[string]account.PendingUser),
		flows:         make(map[string]flow.Flow),
		versions:      make(map[string][]flow.Version),
		executions:    make(map[string]execution.Execution),
		steps:         make(map[string][]execution.Step),
		logs:          make(map[string][]execution.Log),
		integrations:  make(map[string]integration.Integration),
		connections:   make(map[string]integration.Connection),
		notifications: make(map[string]notification.Notification),
		allowlist:     make(map[string]account.IPAllowlistEntry),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OrgStore implementation ----------------------------------------------------

func (m *Memory) CreateOrganization(_ context.Context, org account.Organization) (account.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.orgs {
		if strings.EqualFold(existing.Name, org.Name) {
			return account.Organization{}, ErrConflict
		}
	}
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	m.orgs[org.ID] = org
	return org, nil
}

func (m *Memory) GetOrganization(_ context.Context, id string) (account.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[id]
	if !ok {
		return account.Organization{}, ErrNotFound
	}
	return org, nil
}

func (m *Memory) GetOrganizationByName(_ context.Context, name string) (account.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, org := range m.orgs {
		if strings.EqualFold(org.Name, name) {
			return org, nil
		}
	}
	return account.Organization{}, ErrNotFound
}

func (m *Memory) ListOrganizationIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.orgs))
	for id := range m.orgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// UserStore implementation ---------------------------------------------------

func (m *Memory) CreateUser(_ context.Context, usr account.User) (account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if emailKey(existing.Email) == emailKey(usr.Email) {
			return account.User{}, ErrConflict
		}
	}
	if usr.ID == "" {
		usr.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if usr.CreatedAt.IsZero() {
		usr.CreatedAt = now
	}
	usr.UpdatedAt = now
	if usr.RateLimit <= 0 {
		usr.RateLimit = 1000
	}
	m.users[usr.ID] = usr
	return usr, nil
}

func (m *Memory) UpdateUser(_ context.Context, usr account.User) (account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[usr.ID]
	if !ok {
		return account.User{}, ErrNotFound
	}
	usr.CreatedAt = existing.CreatedAt
	usr.UpdatedAt = time.Now().UTC()
	m.users[usr.ID] = usr
	return usr, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (account.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	usr, ok := m.users[id]
	if !ok {
		return account.User{}, ErrNotFound
	}
	return usr, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (account.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, usr := range m.users {
		if emailKey(usr.Email) == emailKey(email) {
			return usr, nil
		}
	}
	return account.User{}, ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context, orgID string) ([]account.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []account.User
	for _, usr := range m.users {
		if usr.OrgID == orgID {
			result = append(result, usr)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) UpsertPendingUser(_ context.Context, pending account.PendingUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pending.LastSentAt.IsZero() {
		pending.LastSentAt = time.Now().UTC()
	}
	m.pending[emailKey(pending.Email)] = pending
	return nil
}

func (m *Memory) GetPendingUser(_ context.Context, email string) (account.PendingUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pending, ok := m.pending[emailKey(email)]
	if !ok {
		return account.PendingUser{}, ErrNotFound
	}
	return pending, nil
}

func (m *Memory) DeletePendingUser(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, emailKey(email))
	return nil
}

func (m *Memory) DeleteExpiredPendingUsers(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, pending := range m.pending {
		if pending.LastSentAt.Before(before) {
			delete(m.pending, key)
			removed++
		}
	}
	return removed, nil
}

// FlowStore implementation ---------------------------------------------------

func (m *Memory) CreateFlow(_ context.Context, fl flow.Flow) (flow.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.flows {
		if existing.OrgID == fl.OrgID && !existing.IsDeleted && strings.EqualFold(existing.Name, fl.Name) {
			return flow.Flow{}, ErrConflict
		}
	}
	if fl.ID == "" {
		fl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	fl.CreatedAt = now
	fl.UpdatedAt = now
	if fl.Status == "" {
		fl.Status = flow.StatusDraft
	}
	m.flows[fl.ID] = fl
	return fl, nil
}

func (m *Memory) UpdateFlow(_ context.Context, fl flow.Flow) (flow.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.flows[fl.ID]
	if !ok {
		return flow.Flow{}, ErrNotFound
	}
	fl.CreatedAt = existing.CreatedAt
	fl.UpdatedAt = time.Now().UTC()
	m.flows[fl.ID] = fl
	return fl, nil
}

func (m *Memory) GetFlow(_ context.Context, id string) (flow.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fl, ok := m.flows[id]
	if !ok {
		return flow.Flow{}, ErrNotFound
	}
	return fl, nil
}

func (m *Memory) GetFlowByName(_ context.Context, orgID, name string) (flow.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fl := range m.flows {
		if fl.OrgID == orgID && !fl.IsDeleted && strings.EqualFold(fl.Name, name) {
			return fl, nil
		}
	}
	return flow.Flow{}, ErrNotFound
}

func (m *Memory) ListFlows(_ context.Context, orgID string) ([]flow.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []flow.Flow
	for _, fl := range m.flows {
		if fl.OrgID == orgID && !fl.IsDeleted {
			result = append(result, fl)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) SoftDeleteFlow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fl, ok := m.flows[id]
	if !ok {
		return ErrNotFound
	}
	fl.IsDeleted = true
	fl.UpdatedAt = time.Now().UTC()
	m.flows[id] = fl
	return nil
}

func (m *Memory) CreateVersion(_ context.Context, ver flow.Version) (flow.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flows[ver.FlowID]; !ok {
		return flow.Version{}, ErrNotFound
	}
	if ver.ID == "" {
		ver.ID = uuid.NewString()
	}
	ver.Version = len(m.versions[ver.FlowID]) + 1
	ver.CreatedAt = time.Now().UTC()
	m.versions[ver.FlowID] = append(m.versions[ver.FlowID], ver)
	return ver, nil
}

func (m *Memory) GetVersion(_ context.Context, flowID string, version int) (flow.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ver := range m.versions[flowID] {
		if ver.Version == version {
			return ver, nil
		}
	}
	return flow.Version{}, ErrNotFound
}

func (m *Memory) GetLatestVersion(_ context.Context, flowID string) (flow.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.versions[flowID]
	if len(versions) == 0 {
		return flow.Version{}, ErrNotFound
	}
	return versions[len(versions)-1], nil
}

func (m *Memory) ListVersions(_ context.Context, flowID string) ([]flow.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.versions[flowID]
	result := make([]flow.Version, len(versions))
	copy(result, versions)
	return result, nil
}

// ExecutionStore implementation ----------------------------------------------

func (m *Memory) CreateExecution(_ context.Context, exec execution.Execution) (execution.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if exec.Status == "" {
		exec.Status = execution.StatusRunning
	}
	m.executions[exec.ID] = exec
	return exec, nil
}

func (m *Memory) UpdateExecution(_ context.Context, exec execution.Execution) (execution.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.executions[exec.ID]
	if !ok {
		return execution.Execution{}, ErrNotFound
	}
	exec.StartedAt = existing.StartedAt
	m.executions[exec.ID] = exec
	return exec, nil
}

func (m *Memory) GetExecution(_ context.Context, id string) (execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executions[id]
	if !ok {
		return execution.Execution{}, ErrNotFound
	}
	return exec, nil
}

func (m *Memory) ListFlowExecutions(_ context.Context, flowID string, limit int) ([]execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []execution.Execution
	for _, exec := range m.executions {
		if exec.FlowID == flowID {
			result = append(result, exec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) ListRecentExecutions(_ context.Context, orgID string, limit int) ([]execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []execution.Execution
	for _, exec := range m.executions {
		fl, ok := m.flows[exec.FlowID]
		if !ok || fl.OrgID != orgID {
			continue
		}
		result = append(result, exec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) ListRunningExecutions(_ context.Context) ([]execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []execution.Execution
	for _, exec := range m.executions {
		if exec.Status == execution.StatusRunning {
			result = append(result, exec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.Before(result[j].StartedAt) })
	return result, nil
}

func (m *Memory) DeleteExecution(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[id]; !ok {
		return ErrNotFound
	}
	delete(m.logs, id)
	delete(m.steps, id)
	delete(m.executions, id)
	return nil
}

func (m *Memory) CreateStep(_ context.Context, step execution.Step) (execution.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.steps[step.ExecutionID] {
		if existing.NodeID == step.NodeID {
			return execution.Step{}, ErrConflict
		}
	}
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	m.steps[step.ExecutionID] = append(m.steps[step.ExecutionID], step)
	return step, nil
}

func (m *Memory) UpdateStep(_ context.Context, step execution.Step) (execution.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	steps := m.steps[step.ExecutionID]
	for i, existing := range steps {
		if existing.ID == step.ID {
			steps[i] = step
			return step, nil
		}
	}
	return execution.Step{}, ErrNotFound
}

func (m *Memory) ListSteps(_ context.Context, executionID string) ([]execution.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	steps := m.steps[executionID]
	result := make([]execution.Step, len(steps))
	copy(result, steps)
	return result, nil
}

func (m *Memory) AppendLog(_ context.Context, entry execution.Log) (execution.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.logs[entry.ExecutionID] = append(m.logs[entry.ExecutionID], entry)
	return entry, nil
}

func (m *Memory) ListLogs(_ context.Context, executionID string, limit int) ([]execution.Log, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := m.logs[executionID]
	result := make([]execution.Log, len(logs))
	copy(result, logs)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// IntegrationStore implementation --------------------------------------------

func (m *Memory) CreateIntegration(_ context.Context, in integration.Integration) (integration.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.integrations {
		if existing.OrgID == in.OrgID && strings.EqualFold(existing.Name, in.Name) {
			return integration.Integration{}, ErrConflict
		}
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	if in.Status == "" {
		in.Status = integration.StatusPending
	}
	m.integrations[in.ID] = in
	return in, nil
}

func (m *Memory) UpdateIntegration(_ context.Context, in integration.Integration) (integration.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.integrations[in.ID]
	if !ok {
		return integration.Integration{}, ErrNotFound
	}
	in.CreatedAt = existing.CreatedAt
	m.integrations[in.ID] = in
	return in, nil
}

func (m *Memory) GetIntegration(_ context.Context, id string) (integration.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.integrations[id]
	if !ok {
		return integration.Integration{}, ErrNotFound
	}
	return in, nil
}

func (m *Memory) GetIntegrationByName(_ context.Context, orgID, name string) (integration.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, in := range m.integrations {
		if in.OrgID == orgID && strings.EqualFold(in.Name, name) {
			return in, nil
		}
	}
	return integration.Integration{}, ErrNotFound
}

func (m *Memory) ListIntegrations(_ context.Context, orgID string) ([]integration.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []integration.Integration
	for _, in := range m.integrations {
		if in.OrgID == orgID {
			result = append(result, in)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) ListAllIntegrations(_ context.Context) ([]integration.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []integration.Integration
	for _, in := range m.integrations {
		result = append(result, in)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) DeleteIntegration(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.integrations[id]; !ok {
		return ErrNotFound
	}
	delete(m.integrations, id)
	return nil
}

func (m *Memory) CreateConnection(_ context.Context, conn integration.Connection) (integration.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	m.connections[conn.ID] = conn
	return conn, nil
}

func (m *Memory) GetConnection(_ context.Context, id string) (integration.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[id]
	if !ok {
		return integration.Connection{}, ErrNotFound
	}
	return conn, nil
}

func (m *Memory) ListConnections(_ context.Context, ownerUserID string) ([]integration.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []integration.Connection
	for _, conn := range m.connections {
		if conn.OwnerUserID == ownerUserID {
			result = append(result, conn)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) DeleteConnection(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[id]; !ok {
		return ErrNotFound
	}
	delete(m.connections, id)
	return nil
}

// NotificationStore implementation -------------------------------------------

func (m *Memory) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	m.notifications[n.ID] = n
	return n, nil
}

func (m *Memory) ListNotifications(_ context.Context, orgID string, limit int) ([]notification.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []notification.Notification
	for _, n := range m.notifications {
		if n.OrgID == orgID {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.OrgID != orgID {
		return ErrNotFound
	}
	n.IsRead = true
	m.notifications[id] = n
	return nil
}

func (m *Memory) MarkAllNotificationsRead(_ context.Context, orgID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated := 0
	for id, n := range m.notifications {
		if n.OrgID == orgID && !n.IsRead {
			n.IsRead = true
			m.notifications[id] = n
			updated++
		}
	}
	return updated, nil
}

// TxEventStore implementation ------------------------------------------------

func (m *Memory) AppendTxEvent(_ context.Context, ev integration.TxEvent) (integration.TxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.txEvents = append(m.txEvents, ev)
	return ev, nil
}

func (m *Memory) ListTxEvents(_ context.Context, orgID string, since time.Time) ([]integration.TxEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []integration.TxEvent
	for _, ev := range m.txEvents {
		if ev.OrgID == orgID && !ev.CreatedAt.Before(since) {
			result = append(result, ev)
		}
	}
	return result, nil
}

// PolicyStore implementation -------------------------------------------------

func (m *Memory) AppendRateSample(_ context.Context, sample account.RateSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}
	m.rateSamples = append(m.rateSamples, sample)
	return nil
}

func (m *Memory) CountRateSamples(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, sample := range m.rateSamples {
		if sample.UserID == userID && !sample.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) DeleteRateSamplesBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rateSamples[:0]
	removed := 0
	for _, sample := range m.rateSamples {
		if sample.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, sample)
	}
	m.rateSamples = kept
	return removed, nil
}

func (m *Memory) AddAllowlistEntry(_ context.Context, entry account.IPAllowlistEntry) (account.IPAllowlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.allowlist[entry.ID] = entry
	return entry, nil
}

func (m *Memory) ListAllowlistEntries(_ context.Context, userID string) ([]account.IPAllowlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []account.IPAllowlistEntry
	for _, entry := range m.allowlist {
		if entry.UserID == userID {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) RemoveAllowlistEntry(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.allowlist[id]
	if !ok || entry.UserID != userID {
		return ErrNotFound
	}
	delete(m.allowlist, id)
	return nil
}

// AuditStore implementation --------------------------------------------------

func (m *Memory) AppendAudit(_ context.Context, entry account.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.audits = append(m.audits, entry)
	return nil
}

// AuditEntries returns a copy of recorded audit entries. Test helper.
func (m *Memory) AuditEntries() []account.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]account.AuditEntry, len(m.audits))
	copy(out, m.audits)
	return out
}
