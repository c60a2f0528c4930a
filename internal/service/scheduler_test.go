package service

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/avandra/go-toggl-backend/internal/model"
)

func seedCompletedTimeEntrySync(t *testing.T, store *memStore, workspaceID int64, startTime, rangeEnd time.Time) {
	t.Helper()
	start := rangeEnd.AddDate(0, 0, -6)
	l := &model.SyncLog{
		WorkspaceID:    workspaceID,
		SyncType:       model.SyncTypeTimeEntries,
		Status:         model.SyncStatusRunning,
		StartTime:      startTime,
		DateRangeStart: &start,
		DateRangeEnd:   &rangeEnd,
	}
	ctx := context.Background()
	if err := store.InsertSyncLog(ctx, l); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	l.Status = model.SyncStatusCompleted
	if err := store.FinishSyncLog(ctx, l); err != nil {
		t.Fatalf("seed finish: %v", err)
	}
}

func TestDailyRecommendationDefaultsWithoutHistory(t *testing.T) {
	svc := newTestSyncService(newMemStore(), newFakeToggl())

	rec, err := svc.DailyRecommendation(context.Background(), 77)
	if err != nil {
		t.Fatalf("DailyRecommendation: %v", err)
	}
	if rec.RecommendedDays != 30 {
		t.Fatalf("days = %d, want the 30-day default", rec.RecommendedDays)
	}
	if !rec.IsSafe {
		t.Fatalf("a 30-day catch-up must be safe, estimate = %d", rec.EstimatedCalls)
	}
}

func TestDailyRecommendationCoversTheGap(t *testing.T) {
	store := newMemStore()
	svc := newTestSyncService(store, newFakeToggl())

	// Last sync covered through 3 days ago; the gap plus today is 4 days.
	rangeEnd := dateOnly(testNow).AddDate(0, 0, -3)
	seedCompletedTimeEntrySync(t, store, 77, testNow.AddDate(0, 0, -3), rangeEnd)

	rec, err := svc.DailyRecommendation(context.Background(), 77)
	if err != nil {
		t.Fatalf("DailyRecommendation: %v", err)
	}
	if rec.RecommendedDays != 4 {
		t.Fatalf("days = %d, want 4", rec.RecommendedDays)
	}
}

func TestDailyRecommendationCapsLongGaps(t *testing.T) {
	store := newMemStore()
	svc := newTestSyncService(store, newFakeToggl())

	rangeEnd := dateOnly(testNow).AddDate(0, 0, -120)
	seedCompletedTimeEntrySync(t, store, 77, testNow.AddDate(0, 0, -120), rangeEnd)

	rec, err := svc.DailyRecommendation(context.Background(), 77)
	if err != nil {
		t.Fatalf("DailyRecommendation: %v", err)
	}
	if rec.RecommendedDays != maxRecommendedDays {
		t.Fatalf("days = %d, want the %d-day cap", rec.RecommendedDays, maxRecommendedDays)
	}
}

func TestRunAutomaticDailySyncIsIdempotentPerDay(t *testing.T) {
	store := newMemStore()
	api := newFakeToggl()
	svc := newTestSyncService(store, api)
	ctx := context.Background()

	first, err := svc.RunAutomaticDailySync(ctx, 77)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first == nil || first.Status != model.SyncStatusCompleted {
		t.Fatalf("first run log: %+v", first)
	}
	callsAfterFirst := api.totalCalls()

	second, err := svc.RunAutomaticDailySync(ctx, 77)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second != nil {
		t.Fatalf("second run started a sync: %+v", second)
	}
	if api.totalCalls() != callsAfterFirst {
		t.Fatal("second run hit the remote API")
	}
}

func TestRunAutomaticDailySyncIgnoresYesterdaysRun(t *testing.T) {
	store := newMemStore()
	api := newFakeToggl()
	svc := newTestSyncService(store, api)

	yesterday := testNow.AddDate(0, 0, -1)
	seedCompletedTimeEntrySync(t, store, 77, yesterday, dateOnly(yesterday))

	l, err := svc.RunAutomaticDailySync(context.Background(), 77)
	if err != nil {
		t.Fatalf("RunAutomaticDailySync: %v", err)
	}
	if l == nil {
		t.Fatal("a run from yesterday must not satisfy today")
	}
	if got := api.entryRanges[0]; got[1] != "2025-06-10" {
		t.Fatalf("catch-up window ends %s, want today", got[1])
	}
}

// memSettings is an in-memory SettingStore.
type memSettings struct {
	settings []model.Setting
}

func (m *memSettings) SettingsByKey(_ context.Context, key string) ([]model.Setting, error) {
	var out []model.Setting
	for _, s := range m.settings {
		if s.Key == key {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSettings) UpsertSetting(_ context.Context, workspaceID *int64, key, value string) error {
	for i := range m.settings {
		s := &m.settings[i]
		sameScope := (s.WorkspaceID == nil) == (workspaceID == nil) &&
			(workspaceID == nil || *s.WorkspaceID == *workspaceID)
		if s.Key == key && sameScope {
			s.Value = value
			return nil
		}
	}
	m.settings = append(m.settings, model.Setting{WorkspaceID: workspaceID, Key: key, Value: value})
	return nil
}

func (m *memSettings) AutoSyncWorkspaceIDs(context.Context) ([]int64, error) {
	var ids []int64
	for _, s := range m.settings {
		if s.Key == settingAutoSync && s.Value == "true" && s.WorkspaceID != nil {
			ids = append(ids, *s.WorkspaceID)
		}
	}
	return ids, nil
}

func TestSchedulerTickRunsDueWorkspacesOnly(t *testing.T) {
	store := newMemStore()
	api := newFakeToggl()
	svc := newTestSyncService(store, api)

	settings := &memSettings{}
	settingSvc := NewSettingService(settings)
	ctx := context.Background()

	due, notDue := int64(77), int64(88)
	hour := strconv.Itoa(testNow.Hour())
	settingSvc.Set(ctx, &due, settingAutoSync, "true")
	settingSvc.Set(ctx, &due, settingAutoSyncHour, hour)
	settingSvc.Set(ctx, &notDue, settingAutoSync, "true")
	settingSvc.Set(ctx, &notDue, settingAutoSyncHour, strconv.Itoa((testNow.Hour()+5)%24))

	sched := NewScheduler(svc, settingSvc)
	sched.now = func() time.Time { return testNow }

	if err := sched.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	ranDue, _ := store.HasCompletedTimeEntrySyncSince(ctx, due, dateOnly(testNow))
	if !ranDue {
		t.Fatal("due workspace did not sync")
	}
	ranOther, _ := store.HasCompletedTimeEntrySyncSince(ctx, notDue, dateOnly(testNow))
	if ranOther {
		t.Fatal("workspace outside its configured hour synced")
	}
}

// failingWorkspaceToggl fails time-entry pulls for one workspace only.
type failingWorkspaceToggl struct {
	*fakeToggl
	failFor int64
}

func (f *failingWorkspaceToggl) GetWorkspaceTimeEntries(ctx context.Context, workspaceID int64, startDate, endDate string) ([]model.TogglTimeEntry, error) {
	if workspaceID == f.failFor {
		return nil, errors.New("workspace is broken")
	}
	return f.fakeToggl.GetWorkspaceTimeEntries(ctx, workspaceID, startDate, endDate)
}

func TestSchedulerTickContinuesPastFailingWorkspace(t *testing.T) {
	store := newMemStore()
	api := &failingWorkspaceToggl{fakeToggl: newFakeToggl(), failFor: 77}
	svc := newTestSyncService(store, api)
	settings := &memSettings{}
	settingSvc := NewSettingService(settings)
	ctx := context.Background()

	hour := strconv.Itoa(testNow.Hour())
	for _, wid := range []int64{77, 88} {
		id := wid
		settingSvc.Set(ctx, &id, settingAutoSync, "true")
		settingSvc.Set(ctx, &id, settingAutoSyncHour, hour)
	}

	sched := NewScheduler(svc, settingSvc)
	sched.now = func() time.Time { return testNow }

	if err := sched.tick(ctx); err != nil {
		t.Fatalf("tick must absorb a single workspace's failure, got %v", err)
	}

	ranHealthy, _ := store.HasCompletedTimeEntrySyncSince(ctx, 88, dateOnly(testNow))
	if !ranHealthy {
		t.Fatal("healthy workspace was starved by the failing one")
	}
	failedLogs, _ := store.RecentSyncLogs(ctx, 77, model.SyncTypeTimeEntries, 5)
	if len(failedLogs) != 1 || failedLogs[0].Status != model.SyncStatusFailed {
		t.Fatalf("failing workspace logs = %+v, want one failed attempt", failedLogs)
	}
}

func TestSchedulerTickToleratesBusyWorkspace(t *testing.T) {
	store := newMemStore()
	svc := newTestSyncService(store, newFakeToggl())
	settings := &memSettings{}
	settingSvc := NewSettingService(settings)
	ctx := context.Background()

	wid := int64(77)
	settingSvc.Set(ctx, &wid, settingAutoSync, "true")
	settingSvc.Set(ctx, &wid, settingAutoSyncHour, strconv.Itoa(testNow.Hour()))

	running := &model.SyncLog{WorkspaceID: wid, SyncType: model.SyncTypeFull, Status: model.SyncStatusRunning, StartTime: testNow}
	if err := store.InsertSyncLog(ctx, running); err != nil {
		t.Fatalf("seed running: %v", err)
	}

	sched := NewScheduler(svc, settingSvc)
	sched.now = func() time.Time { return testNow }

	if err := sched.tick(ctx); err != nil {
		t.Fatalf("tick must tolerate a busy workspace, got %v", err)
	}
}
