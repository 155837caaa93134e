package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/domain/integration"
	"github.com/flowforge/platform/internal/app/domain/notification"
	"github.com/flowforge/platform/internal/app/storage"
)

// --- IntegrationStore -------------------------------------------------------

const integrationColumns = `id, org_id, name, status, test_url, last_checked, created_at`

func scanIntegration(row interface{ Scan(...any) error }) (integration.Integration, error) {
	var (
		in          integration.Integration
		testURL     sql.NullString
		lastChecked sql.NullTime
	)
	if err := row.Scan(&in.ID, &in.OrgID, &in.Name, &in.Status, &testURL,
		&lastChecked, &in.CreatedAt); err != nil {
		return integration.Integration{}, mapErr(err)
	}
	in.TestURL = testURL.String
	if lastChecked.Valid {
		t := lastChecked.Time
		in.LastChecked = &t
	}
	return in, nil
}

func (s *Store) CreateIntegration(ctx context.Context, in integration.Integration) (integration.Integration, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	if in.Status == "" {
		in.Status = integration.StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, org_id, name, status, test_url, last_checked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, in.ID, in.OrgID, in.Name, in.Status, nullString(in.TestURL),
		nullTime(in.LastChecked), in.CreatedAt)
	if err != nil {
		return integration.Integration{}, mapErr(err)
	}
	return in, nil
}

func (s *Store) UpdateIntegration(ctx context.Context, in integration.Integration) (integration.Integration, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE integrations SET name = $2, status = $3, test_url = $4, last_checked = $5
		WHERE id = $1
	`, in.ID, in.Name, in.Status, nullString(in.TestURL), nullTime(in.LastChecked))
	if err != nil {
		return integration.Integration{}, mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return integration.Integration{}, storage.ErrNotFound
	}
	return in, nil
}

func (s *Store) GetIntegration(ctx context.Context, id string) (integration.Integration, error) {
	return scanIntegration(s.db.QueryRowContext(ctx, `
		SELECT `+integrationColumns+` FROM integrations WHERE id = $1
	`, id))
}

func (s *Store) GetIntegrationByName(ctx context.Context, orgID, name string) (integration.Integration, error) {
	return scanIntegration(s.db.QueryRowContext(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE org_id = $1 AND lower(name) = lower($2)
	`, orgID, name))
}

func (s *Store) ListIntegrations(ctx context.Context, orgID string) ([]integration.Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE org_id = $1 ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []integration.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

func (s *Store) ListAllIntegrations(ctx context.Context) ([]integration.Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+integrationColumns+` FROM integrations ORDER BY created_at
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []integration.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

func (s *Store) DeleteIntegration(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM integrations WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateConnection(ctx context.Context, conn integration.Connection) (integration.Connection, error) {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (id, owner_user_id, provider, env, label, config_enc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, conn.ID, conn.OwnerUserID, conn.Provider, conn.Env, conn.Label,
		conn.ConfigEnc, conn.CreatedAt)
	if err != nil {
		return integration.Connection{}, mapErr(err)
	}
	return conn, nil
}

func (s *Store) GetConnection(ctx context.Context, id string) (integration.Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, provider, env, label, config_enc, created_at
		FROM connections WHERE id = $1
	`, id)
	var conn integration.Connection
	if err := row.Scan(&conn.ID, &conn.OwnerUserID, &conn.Provider, &conn.Env,
		&conn.Label, &conn.ConfigEnc, &conn.CreatedAt); err != nil {
		return integration.Connection{}, mapErr(err)
	}
	return conn, nil
}

func (s *Store) ListConnections(ctx context.Context, ownerUserID string) ([]integration.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_user_id, provider, env, label, config_enc, created_at
		FROM connections WHERE owner_user_id = $1 ORDER BY created_at
	`, ownerUserID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []integration.Connection
	for rows.Next() {
		var conn integration.Connection
		if err := rows.Scan(&conn.ID, &conn.OwnerUserID, &conn.Provider, &conn.Env,
			&conn.Label, &conn.ConfigEnc, &conn.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		result = append(result, conn)
	}
	return result, rows.Err()
}

func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- NotificationStore ------------------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, org_id, type, title, message, related_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.OrgID, n.Type, n.Title, n.Message, nullString(n.RelatedID),
		n.IsRead, n.CreatedAt)
	if err != nil {
		return notification.Notification{}, mapErr(err)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, orgID string, limit int) ([]notification.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, type, title, message, related_id, is_read, created_at
		FROM notifications WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []notification.Notification
	for rows.Next() {
		var (
			n         notification.Notification
			relatedID sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.OrgID, &n.Type, &n.Title, &n.Message,
			&relatedID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		n.RelatedID = relatedID.String
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE id = $1 AND org_id = $2
	`, id, orgID)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, orgID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE org_id = $1 AND NOT is_read
	`, orgID)
	if err != nil {
		return 0, mapErr(err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// --- TxEventStore -----------------------------------------------------------

func (s *Store) AppendTxEvent(ctx context.Context, ev integration.TxEvent) (integration.TxEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tx_events (id, org_id, success, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID, ev.OrgID, ev.Success, nullInt64(ev.LatencyMS), ev.CreatedAt)
	if err != nil {
		return integration.TxEvent{}, mapErr(err)
	}
	return ev, nil
}

func (s *Store) ListTxEvents(ctx context.Context, orgID string, since time.Time) ([]integration.TxEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, success, latency_ms, created_at
		FROM tx_events WHERE org_id = $1 AND created_at >= $2 ORDER BY created_at
	`, orgID, since)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []integration.TxEvent
	for rows.Next() {
		var (
			ev        integration.TxEvent
			latencyMS sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.Success, &latencyMS, &ev.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		if latencyMS.Valid {
			l := latencyMS.Int64
			ev.LatencyMS = &l
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// --- PolicyStore ------------------------------------------------------------

func (s *Store) AppendRateSample(ctx context.Context, sample account.RateSample) error {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_rate_samples (user_id, endpoint, ip_address, ts)
		VALUES ($1, $2, $3, $4)
	`, sample.UserID, sample.Endpoint, nullString(sample.IPAddress), sample.Timestamp)
	return mapErr(err)
}

func (s *Store) CountRateSamples(ctx context.Context, userID string, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM api_rate_samples WHERE user_id = $1 AND ts >= $2
	`, userID, since)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, mapErr(err)
	}
	return count, nil
}

func (s *Store) DeleteRateSamplesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_rate_samples WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, mapErr(err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (s *Store) AddAllowlistEntry(ctx context.Context, entry account.IPAllowlistEntry) (account.IPAllowlistEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_allowlist (id, user_id, ip_address, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.UserID, entry.IPAddress, nullString(entry.Description), entry.CreatedAt)
	if err != nil {
		return account.IPAllowlistEntry{}, mapErr(err)
	}
	return entry, nil
}

func (s *Store) ListAllowlistEntries(ctx context.Context, userID string) ([]account.IPAllowlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, ip_address, description, created_at
		FROM ip_allowlist WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var result []account.IPAllowlistEntry
	for rows.Next() {
		var (
			entry       account.IPAllowlistEntry
			description sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.IPAddress,
			&description, &entry.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		entry.Description = description.String
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) RemoveAllowlistEntry(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM ip_allowlist WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- AuditStore -------------------------------------------------------------

func (s *Store) AppendAudit(ctx context.Context, entry account.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	metaJSON, err := marshalJSON(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, action, target_type, target_id, route,
			method, ip, user_agent, status_code, request_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, entry.ID, nullString(entry.UserID), entry.Action, nullString(entry.TargetType),
		nullString(entry.TargetID), nullString(entry.Route), nullString(entry.Method),
		nullString(entry.IP), nullString(entry.UserAgent), entry.StatusCode,
		nullString(entry.RequestID), metaJSON, entry.CreatedAt)
	return mapErr(err)
}
