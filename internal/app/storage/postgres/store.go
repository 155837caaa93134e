package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/domain/execution"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.OrgStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.FlowStore = (*Store)(nil)
var _ storage.ExecutionStore = (*Store)(nil)
var _ storage.IntegrationStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.TxEventStore = (*Store)(nil)
var _ storage.PolicyStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.ErrConflict
	}
	return err
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

// --- OrgStore ---------------------------------------------------------------

func (s *Store) CreateOrganization(ctx context.Context, org account.Organization) (account.Organization, error) {
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at)
		VALUES ($1, $2, $3)
	`, org.ID, org.Name, org.CreatedAt)
	if err != nil {
		return account.Organization{}, mapErr(err)
	}
	return org, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (account.Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM organizations WHERE id = $1
	`, id)
	var org account.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
		return account.Organization{}, mapErr(err)
	}
	return org, nil
}

func (s *Store) GetOrganizationByName(ctx context.Context, name string) (account.Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM organizations WHERE lower(name) = lower($1)
	`, name)
	var org account.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
		return account.Organization{}, mapErr(err)
	}
	return org, nil
}

func (s *Store) ListOrganizationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- UserStore --------------------------------------------------------------

const userColumns = `id, org_id, email, password_hash, first_name, last_name,
	deactivated_at, rate_limit, allow_ip_whitelist, send_error_alerts,
	profile_picture, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (account.User, error) {
	var (
		usr            account.User
		passwordHash   sql.NullString
		firstName      sql.NullString
		lastName       sql.NullString
		deactivatedAt  sql.NullTime
		profilePicture sql.NullString
	)
	err := row.Scan(&usr.ID, &usr.OrgID, &usr.Email, &passwordHash, &firstName,
		&lastName, &deactivatedAt, &usr.RateLimit, &usr.AllowIPList,
		&usr.SendErrorAlerts, &profilePicture, &usr.CreatedAt, &usr.UpdatedAt)
	if err != nil {
		return account.User{}, mapErr(err)
	}
	usr.PasswordHash = passwordHash.String
	usr.FirstName = firstName.String
	usr.LastName = lastName.String
	usr.ProfilePicture = profilePicture.String
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		usr.DeactivatedAt = &t
	}
	return usr, nil
}

func (s *Store) CreateUser(ctx context.Context, usr account.User) (account.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	usr.CreatedAt = now
	usr.UpdatedAt = now
	if usr.RateLimit <= 0 {
		usr.RateLimit = 1000
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, org_id, email, password_hash, first_name, last_name,
			deactivated_at, rate_limit, allow_ip_whitelist, send_error_alerts,
			profile_picture, created_at, updated_at)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, usr.ID, usr.OrgID, usr.Email, nullString(usr.PasswordHash),
		nullString(usr.FirstName), nullString(usr.LastName), nullTime(usr.DeactivatedAt),
		usr.RateLimit, usr.AllowIPList, usr.SendErrorAlerts,
		nullString(usr.ProfilePicture), usr.CreatedAt, usr.UpdatedAt)
	if err != nil {
		return account.User{}, mapErr(err)
	}
	return usr, nil
}

func (s *Store) UpdateUser(ctx context.Context, usr account.User) (account.User, error) {
	usr.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = lower($2), password_hash = $3, first_name = $4,
			last_name = $5, deactivated_at = $6, rate_limit = $7,
			allow_ip_whitelist = $8, send_error_alerts = $9, profile_picture = $10,
			updated_at = $11
		WHERE id = $1
	`, usr.ID, usr.Email, nullString(usr.PasswordHash), nullString(usr.FirstName),
		nullString(usr.LastName), nullTime(usr.DeactivatedAt), usr.RateLimit,
		usr.AllowIPList, usr.SendErrorAlerts, nullString(usr.ProfilePicture),
		usr.UpdatedAt)
	if err != nil {
		return account.User{}, mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.User{}, storage.ErrNotFound
	}
	return usr, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (account.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (account.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = lower($1)
	`, email))
}

func (s *Store) ListUsers(ctx context.Context, orgID string) ([]account.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE org_id = $1 ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []account.User
	for rows.Next() {
		usr, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, usr)
	}
	return result, rows.Err()
}

func (s *Store) UpsertPendingUser(ctx context.Context, pending account.PendingUser) error {
	if pending.LastSentAt.IsZero() {
		pending.LastSentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_users (email, password_hash, verification_code, last_sent_at)
		VALUES (lower($1), $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			verification_code = EXCLUDED.verification_code,
			last_sent_at = EXCLUDED.last_sent_at
	`, pending.Email, pending.PasswordHash, pending.VerificationCode, pending.LastSentAt)
	return mapErr(err)
}

func (s *Store) GetPendingUser(ctx context.Context, email string) (account.PendingUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT email, password_hash, verification_code, last_sent_at
		FROM pending_users WHERE email = lower($1)
	`, email)
	var pending account.PendingUser
	if err := row.Scan(&pending.Email, &pending.PasswordHash, &pending.VerificationCode, &pending.LastSentAt); err != nil {
		return account.PendingUser{}, mapErr(err)
	}
	return pending, nil
}

func (s *Store) DeletePendingUser(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_users WHERE email = lower($1)`, email)
	return mapErr(err)
}

func (s *Store) DeleteExpiredPendingUsers(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pending_users WHERE last_sent_at < $1`, before)
	if err != nil {
		return 0, mapErr(err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// --- FlowStore --------------------------------------------------------------

func (s *Store) CreateFlow(ctx context.Context, fl flow.Flow) (flow.Flow, error) {
	if fl.ID == "" {
		fl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	fl.CreatedAt = now
	fl.UpdatedAt = now
	if fl.Status == "" {
		fl.Status = flow.StatusDraft
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flows (id, org_id, name, status, is_deleted, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, fl.ID, fl.OrgID, fl.Name, fl.Status, fl.IsDeleted, fl.CreatedBy, fl.CreatedAt, fl.UpdatedAt)
	if err != nil {
		return flow.Flow{}, mapErr(err)
	}
	return fl, nil
}

func (s *Store) UpdateFlow(ctx context.Context, fl flow.Flow) (flow.Flow, error) {
	fl.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE flows SET name = $2, status = $3, is_deleted = $4, updated_at = $5
		WHERE id = $1
	`, fl.ID, fl.Name, fl.Status, fl.IsDeleted, fl.UpdatedAt)
	if err != nil {
		return flow.Flow{}, mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return flow.Flow{}, storage.ErrNotFound
	}
	return fl, nil
}

const flowColumns = `id, org_id, name, status, is_deleted, created_by, created_at, updated_at`

func scanFlow(row interface{ Scan(...any) error }) (flow.Flow, error) {
	var fl flow.Flow
	if err := row.Scan(&fl.ID, &fl.OrgID, &fl.Name, &fl.Status, &fl.IsDeleted,
		&fl.CreatedBy, &fl.CreatedAt, &fl.UpdatedAt); err != nil {
		return flow.Flow{}, mapErr(err)
	}
	return fl, nil
}

func (s *Store) GetFlow(ctx context.Context, id string) (flow.Flow, error) {
	return scanFlow(s.db.QueryRowContext(ctx, `
		SELECT `+flowColumns+` FROM flows WHERE id = $1
	`, id))
}

func (s *Store) GetFlowByName(ctx context.Context, orgID, name string) (flow.Flow, error) {
	return scanFlow(s.db.QueryRowContext(ctx, `
		SELECT `+flowColumns+` FROM flows
		WHERE org_id = $1 AND lower(name) = lower($2) AND NOT is_deleted
	`, orgID, name))
}

func (s *Store) ListFlows(ctx context.Context, orgID string) ([]flow.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+flowColumns+` FROM flows
		WHERE org_id = $1 AND NOT is_deleted ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []flow.Flow
	for rows.Next() {
		fl, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, fl)
	}
	return result, rows.Err()
}

func (s *Store) SoftDeleteFlow(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE flows SET is_deleted = TRUE, updated_at = $2 WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateVersion(ctx context.Context, ver flow.Version) (flow.Version, error) {
	if ver.ID == "" {
		ver.ID = uuid.NewString()
	}
	ver.CreatedAt = time.Now().UTC()

	graphJSON, err := json.Marshal(ver.Graph)
	if err != nil {
		return flow.Version{}, err
	}
	varsJSON, err := marshalJSON(ver.Variables)
	if err != nil {
		return flow.Version{}, err
	}

	// max(version)+1 is computed inside the insert so two concurrent writers
	// collide on UNIQUE(flow_id, version) instead of both landing.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO flow_versions (id, flow_id, version, graph, variables, created_at)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5
		FROM flow_versions WHERE flow_id = $2
		RETURNING version
	`, ver.ID, ver.FlowID, graphJSON, varsJSON, ver.CreatedAt)
	if err := row.Scan(&ver.Version); err != nil {
		return flow.Version{}, mapErr(err)
	}
	return ver, nil
}

const versionColumns = `id, flow_id, version, graph, variables, created_at`

func scanVersion(row interface{ Scan(...any) error }) (flow.Version, error) {
	var (
		ver      flow.Version
		graphRaw []byte
		varsRaw  []byte
	)
	if err := row.Scan(&ver.ID, &ver.FlowID, &ver.Version, &graphRaw, &varsRaw, &ver.CreatedAt); err != nil {
		return flow.Version{}, mapErr(err)
	}
	if len(graphRaw) > 0 {
		_ = json.Unmarshal(graphRaw, &ver.Graph)
	}
	ver.Variables = unmarshalMap(varsRaw)
	return ver, nil
}

func (s *Store) GetVersion(ctx context.Context, flowID string, version int) (flow.Version, error) {
	return scanVersion(s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+` FROM flow_versions
		WHERE flow_id = $1 AND version = $2
	`, flowID, version))
}

func (s *Store) GetLatestVersion(ctx context.Context, flowID string) (flow.Version, error) {
	return scanVersion(s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+` FROM flow_versions
		WHERE flow_id = $1 ORDER BY version DESC LIMIT 1
	`, flowID))
}

func (s *Store) ListVersions(ctx context.Context, flowID string) ([]flow.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM flow_versions
		WHERE flow_id = $1 ORDER BY version
	`, flowID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []flow.Version
	for rows.Next() {
		ver, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ver)
	}
	return result, rows.Err()
}

// --- ExecutionStore ---------------------------------------------------------

func (s *Store) CreateExecution(ctx context.Context, exec execution.Execution) (execution.Execution, error) {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if exec.Status == "" {
		exec.Status = execution.StatusRunning
	}
	triggerJSON, err := marshalJSON(exec.TriggerData)
	if err != nil {
		return execution.Execution{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_executions (id, flow_id, flow_version, status, trigger_type,
			trigger_data, started_at, completed_at, error_message, execution_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, exec.ID, exec.FlowID, exec.FlowVersion, exec.Status, exec.TriggerType,
		triggerJSON, exec.StartedAt, nullTime(exec.CompletedAt),
		nullString(exec.ErrorMessage), nullInt64(exec.DurationMS))
	if err != nil {
		return execution.Execution{}, mapErr(err)
	}
	return exec, nil
}

func (s *Store) UpdateExecution(ctx context.Context, exec execution.Execution) (execution.Execution, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE flow_executions SET status = $2, completed_at = $3,
			error_message = $4, execution_time_ms = $5
		WHERE id = $1
	`, exec.ID, exec.Status, nullTime(exec.CompletedAt),
		nullString(exec.ErrorMessage), nullInt64(exec.DurationMS))
	if err != nil {
		return execution.Execution{}, mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return execution.Execution{}, storage.ErrNotFound
	}
	return exec, nil
}

const executionColumns = `id, flow_id, flow_version, status, trigger_type,
	trigger_data, started_at, completed_at, error_message, execution_time_ms`

func scanExecution(row interface{ Scan(...any) error }) (execution.Execution, error) {
	var (
		exec        execution.Execution
		triggerRaw  []byte
		completedAt sql.NullTime
		errMsg      sql.NullString
		durationMS  sql.NullInt64
	)
	if err := row.Scan(&exec.ID, &exec.FlowID, &exec.FlowVersion, &exec.Status,
		&exec.TriggerType, &triggerRaw, &exec.StartedAt, &completedAt, &errMsg,
		&durationMS); err != nil {
		return execution.Execution{}, mapErr(err)
	}
	exec.TriggerData = unmarshalMap(triggerRaw)
	exec.ErrorMessage = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}
	if durationMS.Valid {
		d := durationMS.Int64
		exec.DurationMS = &d
	}
	return exec, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (execution.Execution, error) {
	return scanExecution(s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM flow_executions WHERE id = $1
	`, id))
}

func (s *Store) ListFlowExecutions(ctx context.Context, flowID string, limit int) ([]execution.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM flow_executions
		WHERE flow_id = $1 ORDER BY started_at DESC LIMIT $2
	`, flowID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (s *Store) ListRecentExecutions(ctx context.Context, orgID string, limit int) ([]execution.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.flow_id, e.flow_version, e.status, e.trigger_type,
			e.trigger_data, e.started_at, e.completed_at, e.error_message,
			e.execution_time_ms
		FROM flow_executions e
		JOIN flows f ON f.id = e.flow_id
		WHERE f.org_id = $1
		ORDER BY e.started_at DESC LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (s *Store) ListRunningExecutions(ctx context.Context) ([]execution.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM flow_executions
		WHERE status = 'running' ORDER BY started_at
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func collectExecutions(rows *sql.Rows) ([]execution.Execution, error) {
	var result []execution.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_logs WHERE execution_id = $1`, id); err != nil {
		return mapErr(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_steps WHERE execution_id = $1`, id); err != nil {
		return mapErr(err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM flow_executions WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return mapErr(tx.Commit())
}

func (s *Store) CreateStep(ctx context.Context, step execution.Step) (execution.Step, error) {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	inputJSON, err := marshalJSON(step.InputData)
	if err != nil {
		return execution.Step{}, err
	}
	outputJSON, err := marshalJSON(step.OutputData)
	if err != nil {
		return execution.Step{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_steps (id, execution_id, node_id, node_type, node_kind,
			status, started_at, completed_at, input_data, output_data, error_message,
			execution_time_ms, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, step.ID, step.ExecutionID, step.NodeID, step.NodeType, nullString(step.NodeKind),
		step.Status, nullTime(step.StartedAt), nullTime(step.CompletedAt),
		inputJSON, outputJSON, nullString(step.ErrorMessage),
		nullInt64(step.DurationMS), step.RetryCount)
	if err != nil {
		return execution.Step{}, mapErr(err)
	}
	return step, nil
}

func (s *Store) UpdateStep(ctx context.Context, step execution.Step) (execution.Step, error) {
	inputJSON, err := marshalJSON(step.InputData)
	if err != nil {
		return execution.Step{}, err
	}
	outputJSON, err := marshalJSON(step.OutputData)
	if err != nil {
		return execution.Step{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE execution_steps SET status = $2, started_at = $3, completed_at = $4,
			input_data = $5, output_data = $6, error_message = $7,
			execution_time_ms = $8, retry_count = $9
		WHERE id = $1
	`, step.ID, step.Status, nullTime(step.StartedAt), nullTime(step.CompletedAt),
		inputJSON, outputJSON, nullString(step.ErrorMessage),
		nullInt64(step.DurationMS), step.RetryCount)
	if err != nil {
		return execution.Step{}, mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return execution.Step{}, storage.ErrNotFound
	}
	return step, nil
}

func (s *Store) ListSteps(ctx context.Context, executionID string) ([]execution.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, node_id, node_type, node_kind, status, started_at,
			completed_at, input_data, output_data, error_message, execution_time_ms,
			retry_count
		FROM execution_steps WHERE execution_id = $1 ORDER BY started_at
	`, executionID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []execution.Step
	for rows.Next() {
		var (
			step        execution.Step
			nodeKind    sql.NullString
			startedAt   sql.NullTime
			completedAt sql.NullTime
			inputRaw    []byte
			outputRaw   []byte
			errMsg      sql.NullString
			durationMS  sql.NullInt64
		)
		if err := rows.Scan(&step.ID, &step.ExecutionID, &step.NodeID, &step.NodeType,
			&nodeKind, &step.Status, &startedAt, &completedAt, &inputRaw, &outputRaw,
			&errMsg, &durationMS, &step.RetryCount); err != nil {
			return nil, mapErr(err)
		}
		step.NodeKind = nodeKind.String
		step.ErrorMessage = errMsg.String
		step.InputData = unmarshalMap(inputRaw)
		step.OutputData = unmarshalMap(outputRaw)
		if startedAt.Valid {
			t := startedAt.Time
			step.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			step.CompletedAt = &t
		}
		if durationMS.Valid {
			d := durationMS.Int64
			step.DurationMS = &d
		}
		result = append(result, step)
	}
	return result, rows.Err()
}

func (s *Store) AppendLog(ctx context.Context, entry execution.Log) (execution.Log, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	metaJSON, err := marshalJSON(entry.Metadata)
	if err != nil {
		return execution.Log{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (id, execution_id, step_id, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.ExecutionID, nullString(entry.StepID), entry.Level,
		entry.Message, metaJSON, entry.CreatedAt)
	if err != nil {
		return execution.Log{}, mapErr(err)
	}
	return entry, nil
}

func (s *Store) ListLogs(ctx context.Context, executionID string, limit int) ([]execution.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, step_id, level, message, metadata, created_at
		FROM execution_logs WHERE execution_id = $1 ORDER BY created_at LIMIT $2
	`, executionID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []execution.Log
	for rows.Next() {
		var (
			entry   execution.Log
			stepID  sql.NullString
			metaRaw []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ExecutionID, &stepID, &entry.Level,
			&entry.Message, &metaRaw, &entry.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		entry.StepID = stepID.String
		entry.Metadata = unmarshalMap(metaRaw)
		result = append(result, entry)
	}
	return result, rows.Err()
}

// --- helpers ----------------------------------------------------------------

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
