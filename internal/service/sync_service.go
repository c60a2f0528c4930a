package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avandra/go-toggl-backend/internal/model"
	"github.com/avandra/go-toggl-backend/internal/repository"
	"github.com/avandra/go-toggl-backend/internal/toggl"
)

var (
	// ErrSyncConflict means another sync is already running for the workspace.
	ErrSyncConflict = errors.New("sync already in progress for this workspace")
	// ErrBudgetExceeded means the pre-flight estimate was over the safe
	// threshold. Nothing is logged for a rejected request.
	ErrBudgetExceeded = errors.New("estimated request count exceeds the hourly safety threshold")
)

// SyncService pulls workspace data from Toggl into the local mirror. Every
// operation is wrapped in a SyncLog, and the store enforces at most one
// running sync per workspace.
type SyncService struct {
	store Store
	api   TogglAPI

	now func() time.Time
}

func NewSyncService(store Store, api TogglAPI) *SyncService {
	return &SyncService{store: store, api: api, now: time.Now}
}

// Start dispatches a sync by type. days bounds the time-entry window for
// time_entries and full syncs; zero falls back to 7 days.
func (s *SyncService) Start(ctx context.Context, workspaceID int64, syncType string, days int) (*model.SyncLog, error) {
	if !model.ValidSyncType(syncType) {
		return nil, fmt.Errorf("unknown sync type %q", syncType)
	}
	if days <= 0 {
		days = 7
	}
	switch syncType {
	case model.SyncTypeClients:
		return s.SyncClients(ctx, workspaceID)
	case model.SyncTypeProjects:
		return s.SyncProjects(ctx, workspaceID)
	case model.SyncTypeMembers:
		return s.SyncMembers(ctx, workspaceID)
	case model.SyncTypeMetadata:
		logs, err := s.SyncMetadata(ctx, workspaceID)
		if len(logs) > 0 {
			return &logs[len(logs)-1], err
		}
		return nil, err
	case model.SyncTypeTimeEntries:
		end := dateOnly(s.now())
		start := end.AddDate(0, 0, -(days - 1))
		return s.SyncTimeEntries(ctx, workspaceID, start, end)
	}
	logs, err := s.FullSync(ctx, workspaceID, days)
	if len(logs) > 0 {
		return &logs[len(logs)-1], err
	}
	return nil, err
}

// TestConnection verifies credentials against the remote API.
func (s *SyncService) TestConnection(ctx context.Context) (model.TogglUser, error) {
	return s.api.GetCurrentUser(ctx)
}

func (s *SyncService) SyncClients(ctx context.Context, workspaceID int64) (*model.SyncLog, error) {
	return s.run(ctx, workspaceID, model.SyncTypeClients, nil, nil, s.pullClients)
}

func (s *SyncService) SyncProjects(ctx context.Context, workspaceID int64) (*model.SyncLog, error) {
	return s.run(ctx, workspaceID, model.SyncTypeProjects, nil, nil, s.pullProjects)
}

func (s *SyncService) SyncMembers(ctx context.Context, workspaceID int64) (*model.SyncLog, error) {
	return s.run(ctx, workspaceID, model.SyncTypeMembers, nil, nil, s.pullMembers)
}

// SyncMetadata refreshes clients, projects and members in dependency order,
// one logged sync per entity. It stops at the first failed step and returns
// the logs accumulated so far, so callers can see exactly which step broke.
func (s *SyncService) SyncMetadata(ctx context.Context, workspaceID int64) ([]model.SyncLog, error) {
	steps := []func(context.Context, int64) (*model.SyncLog, error){
		s.SyncClients, s.SyncProjects, s.SyncMembers,
	}
	var logs []model.SyncLog
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return logs, err
		}
		l, err := step(ctx, workspaceID)
		if l != nil {
			logs = append(logs, *l)
		}
		if err != nil {
			return logs, err
		}
	}
	return logs, nil
}

// SyncTimeEntries mirrors the [start, end] window. The request is rejected
// before any log row is written when the call estimate is over budget.
func (s *SyncService) SyncTimeEntries(ctx context.Context, workspaceID int64, start, end time.Time) (*model.SyncLog, error) {
	start, end = dateOnly(start), dateOnly(end)
	if end.Before(start) {
		return nil, fmt.Errorf("invalid date range: end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	days := daysBetween(start, end) + 1
	if est := EstimateCalls(model.SyncTypeTimeEntries, days); !IsSafe(est) {
		return nil, fmt.Errorf("%w: %d calls estimated for %d days", ErrBudgetExceeded, est, days)
	}
	return s.run(ctx, workspaceID, model.SyncTypeTimeEntries, &start, &end, func(ctx context.Context, l *model.SyncLog) error {
		return s.pullTimeEntries(ctx, l, start, end)
	})
}

// FullSync runs clients, projects, members and time entries as separate
// logged operations, aborting at the first failure. The returned slice holds
// one log per step that was started, in order.
func (s *SyncService) FullSync(ctx context.Context, workspaceID int64, timeEntryDays int) ([]model.SyncLog, error) {
	if timeEntryDays <= 0 {
		timeEntryDays = 7
	}
	if est := EstimateCalls(model.SyncTypeFull, timeEntryDays); !IsSafe(est) {
		return nil, fmt.Errorf("%w: %d calls estimated for a %d-day full sync", ErrBudgetExceeded, est, timeEntryDays)
	}

	logs, err := s.SyncMetadata(ctx, workspaceID)
	if err != nil {
		return logs, err
	}

	end := dateOnly(s.now())
	start := end.AddDate(0, 0, -(timeEntryDays - 1))
	entries, err := s.SyncTimeEntries(ctx, workspaceID, start, end)
	if entries != nil {
		logs = append(logs, *entries)
	}
	return logs, err
}

// Status reports recent activity for the workspace.
func (s *SyncService) Status(ctx context.Context, workspaceID int64, limit int) (*model.SyncStatus, error) {
	if limit <= 0 {
		limit = 10
	}
	recent, err := s.store.RecentSyncLogs(ctx, workspaceID, "", limit)
	if err != nil {
		return nil, err
	}
	status := &model.SyncStatus{WorkspaceID: workspaceID, RecentSyncs: recent}
	for i := range recent {
		if recent[i].Status == model.SyncStatusRunning {
			status.IsSyncRunning = true
		}
		if status.LastFullSync == nil &&
			recent[i].SyncType == model.SyncTypeFull &&
			recent[i].Status == model.SyncStatusCompleted {
			status.LastFullSync = &recent[i]
		}
	}
	return status, nil
}

// Logs returns recent sync logs, optionally filtered by type.
func (s *SyncService) Logs(ctx context.Context, workspaceID int64, syncType string, limit int) ([]model.SyncLog, error) {
	if syncType != "" && !model.ValidSyncType(syncType) {
		return nil, fmt.Errorf("unknown sync type %q", syncType)
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.RecentSyncLogs(ctx, workspaceID, syncType, limit)
}

// Summary returns mirrored row counts per entity.
func (s *SyncService) Summary(ctx context.Context, workspaceID int64) (model.DataCounts, error) {
	return s.store.DataCounts(ctx, workspaceID)
}

// CleanupOldTimeEntries prunes cached entries older than the retention
// window, counted in months back from today.
func (s *SyncService) CleanupOldTimeEntries(ctx context.Context, workspaceID int64, retentionMonths int) (int64, error) {
	if retentionMonths <= 0 {
		retentionMonths = 12
	}
	cutoff := dateOnly(s.now()).AddDate(0, -retentionMonths, 0)
	return s.store.DeleteTimeEntriesBefore(ctx, workspaceID, cutoff)
}

// run wraps one sync body in a SyncLog lifecycle. Acquiring the running row
// is what serializes concurrent syncs; repository.ErrSyncRunning maps to
// ErrSyncConflict for callers.
func (s *SyncService) run(ctx context.Context, workspaceID int64, syncType string, rangeStart, rangeEnd *time.Time, body func(context.Context, *model.SyncLog) error) (*model.SyncLog, error) {
	l := &model.SyncLog{
		WorkspaceID:    workspaceID,
		SyncType:       syncType,
		Status:         model.SyncStatusRunning,
		StartTime:      s.now(),
		DateRangeStart: rangeStart,
		DateRangeEnd:   rangeEnd,
	}
	if err := s.store.InsertSyncLog(ctx, l); err != nil {
		if errors.Is(err, repository.ErrSyncRunning) {
			return nil, ErrSyncConflict
		}
		return nil, err
	}

	err := body(ctx, l)

	end := s.now()
	l.EndTime = &end
	if err != nil {
		l.Status = model.SyncStatusFailed
		l.ErrorMessage = err.Error()
		log.Printf("sync %s failed for workspace %d: %v", syncType, workspaceID, err)
	} else {
		l.Status = model.SyncStatusCompleted
	}
	if finishErr := s.store.FinishSyncLog(ctx, l); finishErr != nil {
		log.Printf("finalizing sync log %d: %v", l.ID, finishErr)
		if err == nil {
			err = finishErr
		}
	}
	return l, err
}

// pullClients and friends are the raw fetch+upsert bodies behind the
// single-entity syncs. They accumulate counts into l.

func (s *SyncService) pullClients(ctx context.Context, l *model.SyncLog) error {
	clients, err := s.api.GetWorkspaceClients(ctx, l.WorkspaceID)
	if err != nil {
		return err
	}
	for i := range clients {
		tc := &clients[i]
		inserted, err := s.store.UpsertClient(ctx, &model.Client{
			TogglID:           tc.ID,
			Name:              tc.Name,
			Notes:             tc.Notes,
			ExternalReference: tc.ExternalReference,
			Archived:          tc.Archived,
			WorkspaceID:       l.WorkspaceID,
		})
		if err != nil {
			return err
		}
		l.RecordsProcessed++
		if inserted {
			l.RecordsAdded++
		} else {
			l.RecordsUpdated++
		}
	}
	return nil
}

func (s *SyncService) pullProjects(ctx context.Context, l *model.SyncLog) error {
	projects, err := s.api.GetWorkspaceProjects(ctx, l.WorkspaceID)
	if err != nil {
		return err
	}
	for i := range projects {
		tp := &projects[i]
		inserted, err := s.store.UpsertProject(ctx, &model.Project{
			TogglID:       tp.ID,
			Name:          tp.Name,
			ClientTogglID: tp.ClientID,
			WorkspaceID:   l.WorkspaceID,
			Billable:      tp.Billable,
			IsPrivate:     tp.IsPrivate,
			Active:        tp.Active,
			Color:         tp.Color,
		})
		if err != nil {
			return err
		}
		l.RecordsProcessed++
		if inserted {
			l.RecordsAdded++
		} else {
			l.RecordsUpdated++
		}
	}
	return nil
}

func (s *SyncService) pullMembers(ctx context.Context, l *model.SyncLog) error {
	users, err := s.api.GetWorkspaceUsers(ctx, l.WorkspaceID)
	if err != nil {
		return err
	}
	for i := range users {
		u := &users[i]
		inserted, err := s.store.UpsertMember(ctx, &model.Member{
			TogglID:     u.ID,
			Name:        u.Name,
			Email:       u.Email,
			WorkspaceID: l.WorkspaceID,
			Active:      u.Active,
		})
		if err != nil {
			return err
		}
		l.RecordsProcessed++
		if inserted {
			l.RecordsAdded++
		} else {
			l.RecordsUpdated++
		}
	}
	return nil
}

func (s *SyncService) pullTimeEntries(ctx context.Context, l *model.SyncLog, start, end time.Time) error {
	entries, err := s.api.GetWorkspaceTimeEntries(ctx, l.WorkspaceID,
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return err
	}
	syncDate := dateOnly(s.now())
	for i := range entries {
		e := &entries[i]
		inserted, err := s.store.UpsertTimeEntry(ctx, &model.TimeEntryCache{
			TogglID:        e.ID,
			Description:    e.Description,
			Duration:       e.Duration,
			StartTime:      e.Start,
			StopTime:       e.Stop,
			UserID:         e.UserID,
			UserName:       e.UserName,
			ProjectTogglID: e.ProjectID,
			ClientID:       model.NullInt64From(e.ClientID),
			ClientName:     clientNameOrDefault(e.ClientName),
			WorkspaceID:    l.WorkspaceID,
			Billable:       e.Billable,
			Tags:           tagStrings(e.TagIDs),
			SyncDate:       syncDate,
		})
		if err != nil {
			return err
		}
		l.RecordsProcessed++
		if inserted {
			l.RecordsAdded++
		} else {
			l.RecordsUpdated++
		}
	}
	return nil
}

func clientNameOrDefault(name string) string {
	if name == "" {
		return toggl.NoClientName
	}
	return name
}

func tagStrings(ids []int64) []string {
	if len(ids) == 0 {
		return nil
	}
	tags := make([]string, len(ids))
	for i, id := range ids {
		tags[i] = fmt.Sprintf("%d", id)
	}
	return tags
}
