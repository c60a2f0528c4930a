package service

import (
	"context"
	"strconv"

	"github.com/avandra/go-toggl-backend/internal/model"
)

const (
	settingAutoSync     = "auto_sync"
	settingAutoSyncHour = "auto_sync_hour"

	defaultAutoSyncHour = 3
)

// SettingStore is the settings surface of the repository.
type SettingStore interface {
	SettingsByKey(ctx context.Context, key string) ([]model.Setting, error)
	UpsertSetting(ctx context.Context, workspaceID *int64, key, value string) error
	AutoSyncWorkspaceIDs(ctx context.Context) ([]int64, error)
}

// SettingService resolves configuration keys hierarchically: a value scoped
// to the workspace wins over a global one.
type SettingService struct {
	store SettingStore
}

func NewSettingService(store SettingStore) *SettingService {
	return &SettingService{store: store}
}

// Resolve returns the effective value for key in workspaceID's scope, or
// fallback when neither a workspace nor a global value exists.
func (s *SettingService) Resolve(ctx context.Context, workspaceID int64, key, fallback string) (string, error) {
	settings, err := s.store.SettingsByKey(ctx, key)
	if err != nil {
		return "", err
	}
	var global *model.Setting
	for i := range settings {
		if settings[i].WorkspaceID == nil {
			if global == nil {
				global = &settings[i]
			}
			continue
		}
		if *settings[i].WorkspaceID == workspaceID {
			return settings[i].Value, nil
		}
	}
	if global != nil {
		return global.Value, nil
	}
	return fallback, nil
}

func (s *SettingService) Set(ctx context.Context, workspaceID *int64, key, value string) error {
	return s.store.UpsertSetting(ctx, workspaceID, key, value)
}

// AutoSyncEnabled reports whether unattended daily syncs are on for the
// workspace. Off unless explicitly enabled.
func (s *SettingService) AutoSyncEnabled(ctx context.Context, workspaceID int64) (bool, error) {
	v, err := s.Resolve(ctx, workspaceID, settingAutoSync, "false")
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// AutoSyncHour returns the configured local hour for the daily sync.
func (s *SettingService) AutoSyncHour(ctx context.Context, workspaceID int64) (int, error) {
	v, err := s.Resolve(ctx, workspaceID, settingAutoSyncHour, strconv.Itoa(defaultAutoSyncHour))
	if err != nil {
		return 0, err
	}
	hour, err := strconv.Atoi(v)
	if err != nil || hour < 0 || hour > 23 {
		return defaultAutoSyncHour, nil
	}
	return hour, nil
}

// AutoSyncWorkspaces lists the workspaces with auto sync enabled.
func (s *SettingService) AutoSyncWorkspaces(ctx context.Context) ([]int64, error) {
	return s.store.AutoSyncWorkspaceIDs(ctx)
}
