package model

import "time"

// Sync types accepted by the orchestrator.
const (
	SyncTypeClients     = "clients"
	SyncTypeProjects    = "projects"
	SyncTypeMembers     = "members"
	SyncTypeTimeEntries = "time_entries"
	SyncTypeFull        = "full"
	SyncTypeMetadata    = "metadata"
)

// Sync log statuses. A log only moves running -> completed or running -> failed.
const (
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// SyncLog is the durable record of one sync attempt. It is created when the
// operation starts and finalized exactly once when it ends; rows are never
// deleted because chunked backfills derive their progress from them.
type SyncLog struct {
	ID               int64      `json:"id"`
	WorkspaceID      int64      `json:"workspace_id"`
	SyncType         string     `json:"sync_type"`
	Status           string     `json:"status"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsAdded     int        `json:"records_added"`
	RecordsUpdated   int        `json:"records_updated"`
	ErrorMessage     string     `json:"error_message,omitempty"`

	// Date window covered by the pull. Only set for time-entry syncs.
	DateRangeStart *time.Time `json:"date_range_start,omitempty"`
	DateRangeEnd   *time.Time `json:"date_range_end,omitempty"`
}

// ValidSyncType reports whether t is one of the accepted sync types.
func ValidSyncType(t string) bool {
	switch t {
	case SyncTypeClients, SyncTypeProjects, SyncTypeMembers,
		SyncTypeTimeEntries, SyncTypeFull, SyncTypeMetadata:
		return true
	}
	return false
}

// SyncStatus is the poll response for a workspace.
type SyncStatus struct {
	WorkspaceID   int64     `json:"workspace_id"`
	RecentSyncs   []SyncLog `json:"recent_syncs"`
	LastFullSync  *SyncLog  `json:"last_full_sync,omitempty"`
	IsSyncRunning bool      `json:"is_sync_running"`
}

// SyncRecommendation is the scheduler's advice for a workspace.
type SyncRecommendation struct {
	WorkspaceID     int64 `json:"workspace_id"`
	RecommendedDays int   `json:"recommended_days"`
	EstimatedCalls  int   `json:"estimated_calls"`
	IsSafe          bool  `json:"is_safe"`
}

// DataCounts summarizes mirrored rows per entity for a workspace.
type DataCounts struct {
	Clients     int64 `json:"clients"`
	Projects    int64 `json:"projects"`
	Members     int64 `json:"members"`
	TimeEntries int64 `json:"time_entries"`
}
