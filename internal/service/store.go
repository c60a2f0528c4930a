package service

import (
	"context"
	"time"

	"github.com/avandra/go-toggl-backend/internal/model"
)

// Store is the persistence surface the sync layer depends on. PostgresRepo
// satisfies it; tests swap in an in-memory fake.
type Store interface {
	UpsertClient(ctx context.Context, c *model.Client) (bool, error)
	UpsertProject(ctx context.Context, p *model.Project) (bool, error)
	UpsertMember(ctx context.Context, m *model.Member) (bool, error)
	UpsertTimeEntry(ctx context.Context, e *model.TimeEntryCache) (bool, error)

	InsertSyncLog(ctx context.Context, l *model.SyncLog) error
	FinishSyncLog(ctx context.Context, l *model.SyncLog) error
	RecentSyncLogs(ctx context.Context, workspaceID int64, syncType string, limit int) ([]model.SyncLog, error)
	CompletedTimeEntrySyncs(ctx context.Context, workspaceID int64) ([]model.SyncLog, error)
	LastCompletedTimeEntrySync(ctx context.Context, workspaceID int64) (*model.SyncLog, error)
	HasCompletedTimeEntrySyncSince(ctx context.Context, workspaceID int64, since time.Time) (bool, error)

	DeleteTimeEntriesBefore(ctx context.Context, workspaceID int64, cutoff time.Time) (int64, error)
	DataCounts(ctx context.Context, workspaceID int64) (model.DataCounts, error)
}

// TogglAPI is the remote data surface of the sync layer. toggl.Client
// satisfies it.
type TogglAPI interface {
	GetCurrentUser(ctx context.Context) (model.TogglUser, error)
	GetWorkspaces(ctx context.Context) ([]model.TogglWorkspace, error)
	GetWorkspaceUsers(ctx context.Context, workspaceID int64) ([]model.TogglUser, error)
	GetWorkspaceClients(ctx context.Context, workspaceID int64) ([]model.TogglClient, error)
	GetWorkspaceProjects(ctx context.Context, workspaceID int64) ([]model.TogglProject, error)
	GetWorkspaceTimeEntries(ctx context.Context, workspaceID int64, startDate, endDate string) ([]model.TogglTimeEntry, error)
}
