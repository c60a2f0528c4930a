package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/avandra/go-toggl-backend/internal/model"
)

// ErrSyncRunning is returned when inserting a running sync log for a
// workspace that already has one. The partial unique index makes the check
// atomic with the insert, so two concurrent starts cannot both succeed.
var ErrSyncRunning = errors.New("a sync is already running for this workspace")

type DBConfig struct {
	Host string
	Port string
	User string
	Pass string
	Name string
}

type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PostgresRepo{DB: db}, nil
}

func NewPostgresRepoFromConfig(cfg *DBConfig) (*PostgresRepo, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Pass, cfg.Name)
	return NewPostgresRepo(dsn)
}

func (r *PostgresRepo) RunMigrations(ctx context.Context) error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS "pgcrypto";`,
		`CREATE TABLE IF NOT EXISTS admins (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username VARCHAR(100) UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS clients (
			id BIGSERIAL PRIMARY KEY,
			toggl_id BIGINT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			notes TEXT,
			external_reference TEXT,
			archived BOOLEAN NOT NULL DEFAULT false,
			workspace_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS ix_clients_workspace ON clients (workspace_id);`,
		`CREATE TABLE IF NOT EXISTS projects (
			id BIGSERIAL PRIMARY KEY,
			toggl_id BIGINT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			client_id BIGINT REFERENCES clients(id) ON DELETE SET NULL,
			client_toggl_id BIGINT,
			workspace_id BIGINT NOT NULL,
			billable BOOLEAN NOT NULL DEFAULT false,
			is_private BOOLEAN NOT NULL DEFAULT false,
			active BOOLEAN NOT NULL DEFAULT true,
			color VARCHAR(7),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS ix_projects_workspace ON projects (workspace_id);`,
		`CREATE TABLE IF NOT EXISTS members (
			id BIGSERIAL PRIMARY KEY,
			toggl_id BIGINT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			email TEXT,
			workspace_id BIGINT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS ix_members_workspace ON members (workspace_id);`,
		`CREATE TABLE IF NOT EXISTS time_entries_cache (
			id BIGSERIAL PRIMARY KEY,
			toggl_id BIGINT UNIQUE NOT NULL,
			description TEXT,
			duration BIGINT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			stop_time TIMESTAMPTZ,
			user_id BIGINT NOT NULL,
			user_name TEXT,
			project_id BIGINT REFERENCES projects(id) ON DELETE SET NULL,
			project_toggl_id BIGINT,
			client_id BIGINT,
			client_name TEXT,
			workspace_id BIGINT NOT NULL,
			billable BOOLEAN NOT NULL DEFAULT false,
			tags TEXT[],
			sync_date DATE NOT NULL DEFAULT CURRENT_DATE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS ix_time_entries_workspace ON time_entries_cache (workspace_id);`,
		`CREATE INDEX IF NOT EXISTS ix_time_entries_start ON time_entries_cache (start_time);`,
		`CREATE INDEX IF NOT EXISTS ix_time_entries_sync_date ON time_entries_cache (sync_date);`,
		`CREATE TABLE IF NOT EXISTS sync_logs (
			id BIGSERIAL PRIMARY KEY,
			workspace_id BIGINT NOT NULL,
			sync_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			start_time TIMESTAMPTZ NOT NULL DEFAULT now(),
			end_time TIMESTAMPTZ,
			records_processed INT NOT NULL DEFAULT 0,
			records_added INT NOT NULL DEFAULT 0,
			records_updated INT NOT NULL DEFAULT 0,
			error_message TEXT,
			date_range_start DATE,
			date_range_end DATE
		);`,
		`CREATE INDEX IF NOT EXISTS ix_sync_logs_workspace_start ON sync_logs (workspace_id, start_time DESC);`,
		// One running sync per workspace, enforced by the database so the
		// conflict check cannot race with the insert.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_logs_one_running
			ON sync_logs (workspace_id) WHERE status = 'running';`,
		`CREATE TABLE IF NOT EXISTS settings (
			id BIGSERIAL PRIMARY KEY,
			workspace_id BIGINT,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_settings_scope_key
			ON settings (COALESCE(workspace_id, 0), key);`,
	}
	for _, q := range queries {
		if _, err := r.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// ---- admins ----

func (r *PostgresRepo) UpsertAdmin(ctx context.Context, username, passwordHash string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO admins (username, password_hash) VALUES ($1,$2)
		ON CONFLICT (username) DO UPDATE SET password_hash = $2
	`, username, passwordHash)
	return err
}

func (r *PostgresRepo) GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM admins WHERE username = $1 LIMIT 1`, username)
	var a model.Admin
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// ---- entity upserts ----
// Each upsert reconciles by the remote toggl_id and reports whether the row
// was inserted (true) or an existing row was overwritten (false).
// "xmax = 0" holds only for freshly inserted rows.

func (r *PostgresRepo) UpsertClient(ctx context.Context, c *model.Client) (bool, error) {
	var inserted bool
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO clients (toggl_id, name, notes, external_reference, archived, workspace_id, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
		ON CONFLICT (toggl_id) DO UPDATE SET
			name = EXCLUDED.name,
			notes = EXCLUDED.notes,
			external_reference = EXCLUDED.external_reference,
			archived = EXCLUDED.archived,
			workspace_id = EXCLUDED.workspace_id,
			updated_at = now()
		RETURNING (xmax = 0)
	`, c.TogglID, c.Name, c.Notes, c.ExternalReference, c.Archived, c.WorkspaceID).Scan(&inserted)
	return inserted, err
}

func (r *PostgresRepo) UpsertProject(ctx context.Context, p *model.Project) (bool, error) {
	// client_id resolves through the client's toggl_id; a project whose
	// client has not been mirrored yet keeps a NULL client_id.
	var inserted bool
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO projects (toggl_id, name, client_id, client_toggl_id, workspace_id,
			billable, is_private, active, color, updated_at)
		VALUES ($1,$2, (SELECT id FROM clients WHERE toggl_id = $3), $3, $4, $5,$6,$7,$8, now())
		ON CONFLICT (toggl_id) DO UPDATE SET
			name = EXCLUDED.name,
			client_id = EXCLUDED.client_id,
			client_toggl_id = EXCLUDED.client_toggl_id,
			workspace_id = EXCLUDED.workspace_id,
			billable = EXCLUDED.billable,
			is_private = EXCLUDED.is_private,
			active = EXCLUDED.active,
			color = EXCLUDED.color,
			updated_at = now()
		RETURNING (xmax = 0)
	`, p.TogglID, p.Name, p.ClientTogglID, p.WorkspaceID,
		p.Billable, p.IsPrivate, p.Active, p.Color).Scan(&inserted)
	return inserted, err
}

func (r *PostgresRepo) UpsertMember(ctx context.Context, m *model.Member) (bool, error) {
	var inserted bool
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO members (toggl_id, name, email, workspace_id, active, updated_at)
		VALUES ($1,$2,$3,$4,$5, now())
		ON CONFLICT (toggl_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			workspace_id = EXCLUDED.workspace_id,
			active = EXCLUDED.active,
			updated_at = now()
		RETURNING (xmax = 0)
	`, m.TogglID, m.Name, m.Email, m.WorkspaceID, m.Active).Scan(&inserted)
	return inserted, err
}

func (r *PostgresRepo) UpsertTimeEntry(ctx context.Context, e *model.TimeEntryCache) (bool, error) {
	var stop interface{}
	if e.StopTime != nil {
		stop = *e.StopTime
	}
	var clientID interface{}
	if e.ClientID.Valid {
		clientID = e.ClientID.Int64
	}
	var inserted bool
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO time_entries_cache (toggl_id, description, duration, start_time, stop_time,
			user_id, user_name, project_id, project_toggl_id, client_id, client_name,
			workspace_id, billable, tags, sync_date, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,
			(SELECT id FROM projects WHERE toggl_id = $8), $8, $9,$10,$11,$12,$13,$14, now())
		ON CONFLICT (toggl_id) DO UPDATE SET
			description = EXCLUDED.description,
			duration = EXCLUDED.duration,
			start_time = EXCLUDED.start_time,
			stop_time = EXCLUDED.stop_time,
			user_id = EXCLUDED.user_id,
			user_name = EXCLUDED.user_name,
			project_id = EXCLUDED.project_id,
			project_toggl_id = EXCLUDED.project_toggl_id,
			client_id = EXCLUDED.client_id,
			client_name = EXCLUDED.client_name,
			workspace_id = EXCLUDED.workspace_id,
			billable = EXCLUDED.billable,
			tags = EXCLUDED.tags,
			sync_date = EXCLUDED.sync_date,
			updated_at = now()
		RETURNING (xmax = 0)
	`, e.TogglID, e.Description, e.Duration, e.StartTime, stop,
		e.UserID, e.UserName, e.ProjectTogglID, clientID, e.ClientName,
		e.WorkspaceID, e.Billable, pq.Array(e.Tags), e.SyncDate).Scan(&inserted)
	return inserted, err
}

// ---- sync logs ----

func (r *PostgresRepo) InsertSyncLog(ctx context.Context, l *model.SyncLog) error {
	var rangeStart, rangeEnd interface{}
	if l.DateRangeStart != nil {
		rangeStart = *l.DateRangeStart
	}
	if l.DateRangeEnd != nil {
		rangeEnd = *l.DateRangeEnd
	}
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO sync_logs (workspace_id, sync_type, status, start_time, date_range_start, date_range_end)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, l.WorkspaceID, l.SyncType, l.Status, l.StartTime, rangeStart, rangeEnd).Scan(&l.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrSyncRunning
		}
		return err
	}
	return nil
}

// FinishSyncLog finalizes a running log. The status filter keeps the
// transition one way: a terminal row is never rewritten.
func (r *PostgresRepo) FinishSyncLog(ctx context.Context, l *model.SyncLog) error {
	var end interface{}
	if l.EndTime != nil {
		end = *l.EndTime
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE sync_logs
		SET status = $2, end_time = $3, records_processed = $4,
			records_added = $5, records_updated = $6, error_message = NULLIF($7, '')
		WHERE id = $1 AND status = 'running'
	`, l.ID, l.Status, end, l.RecordsProcessed, l.RecordsAdded, l.RecordsUpdated, l.ErrorMessage)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sync log %d is not running", l.ID)
	}
	return nil
}

func (r *PostgresRepo) RecentSyncLogs(ctx context.Context, workspaceID int64, syncType string, limit int) ([]model.SyncLog, error) {
	query := `
		SELECT id, workspace_id, sync_type, status, start_time, end_time,
			records_processed, records_added, records_updated,
			COALESCE(error_message, ''), date_range_start, date_range_end
		FROM sync_logs
		WHERE workspace_id = $1 AND ($2 = '' OR sync_type = $2)
		ORDER BY start_time DESC
		LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, workspaceID, syncType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSyncLogs(rows)
}

// CompletedTimeEntrySyncs returns every completed time-entry sync for the
// workspace. Chunked backfills scan these to derive which chunks are done.
func (r *PostgresRepo) CompletedTimeEntrySyncs(ctx context.Context, workspaceID int64) ([]model.SyncLog, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, workspace_id, sync_type, status, start_time, end_time,
			records_processed, records_added, records_updated,
			COALESCE(error_message, ''), date_range_start, date_range_end
		FROM sync_logs
		WHERE workspace_id = $1 AND sync_type = $2 AND status = $3
			AND date_range_end IS NOT NULL
		ORDER BY date_range_end DESC
	`, workspaceID, model.SyncTypeTimeEntries, model.SyncStatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSyncLogs(rows)
}

func (r *PostgresRepo) LastCompletedTimeEntrySync(ctx context.Context, workspaceID int64) (*model.SyncLog, error) {
	logs, err := r.CompletedTimeEntrySyncs(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}
	return &logs[0], nil
}

func (r *PostgresRepo) HasCompletedTimeEntrySyncSince(ctx context.Context, workspaceID int64, since time.Time) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sync_logs
			WHERE workspace_id = $1 AND sync_type = $2 AND status = $3 AND start_time >= $4
		)
	`, workspaceID, model.SyncTypeTimeEntries, model.SyncStatusCompleted, since).Scan(&exists)
	return exists, err
}

func scanSyncLogs(rows *sql.Rows) ([]model.SyncLog, error) {
	var logs []model.SyncLog
	for rows.Next() {
		var l model.SyncLog
		var end, rangeStart, rangeEnd sql.NullTime
		if err := rows.Scan(&l.ID, &l.WorkspaceID, &l.SyncType, &l.Status, &l.StartTime, &end,
			&l.RecordsProcessed, &l.RecordsAdded, &l.RecordsUpdated,
			&l.ErrorMessage, &rangeStart, &rangeEnd); err != nil {
			return nil, err
		}
		if end.Valid {
			t := end.Time
			l.EndTime = &t
		}
		if rangeStart.Valid {
			t := rangeStart.Time
			l.DateRangeStart = &t
		}
		if rangeEnd.Valid {
			t := rangeEnd.Time
			l.DateRangeEnd = &t
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ---- retention & summary ----

func (r *PostgresRepo) DeleteTimeEntriesBefore(ctx context.Context, workspaceID int64, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM time_entries_cache WHERE workspace_id = $1 AND sync_date < $2
	`, workspaceID, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) DataCounts(ctx context.Context, workspaceID int64) (model.DataCounts, error) {
	var counts model.DataCounts
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM clients WHERE workspace_id = $1),
			(SELECT count(*) FROM projects WHERE workspace_id = $1),
			(SELECT count(*) FROM members WHERE workspace_id = $1),
			(SELECT count(*) FROM time_entries_cache WHERE workspace_id = $1)
	`, workspaceID).Scan(&counts.Clients, &counts.Projects, &counts.Members, &counts.TimeEntries)
	return counts, err
}

// ---- settings ----

func (r *PostgresRepo) SettingsByKey(ctx context.Context, key string) ([]model.Setting, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, workspace_id, key, value FROM settings WHERE key = $1
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []model.Setting
	for rows.Next() {
		var s model.Setting
		var wid sql.NullInt64
		if err := rows.Scan(&s.ID, &wid, &s.Key, &s.Value); err != nil {
			return nil, err
		}
		if wid.Valid {
			v := wid.Int64
			s.WorkspaceID = &v
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

func (r *PostgresRepo) UpsertSetting(ctx context.Context, workspaceID *int64, key, value string) error {
	var wid interface{}
	if workspaceID != nil {
		wid = *workspaceID
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO settings (workspace_id, key, value, updated_at)
		VALUES ($1,$2,$3, now())
		ON CONFLICT (COALESCE(workspace_id, 0), key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = now()
	`, wid, key, value)
	return err
}

// AutoSyncWorkspaceIDs lists workspaces with the auto_sync flag enabled.
func (r *PostgresRepo) AutoSyncWorkspaceIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT workspace_id FROM settings
		WHERE key = 'auto_sync' AND value = 'true' AND workspace_id IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
