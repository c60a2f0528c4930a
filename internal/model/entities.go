package model

import "time"

// Client mirrors a Toggl client. TogglID is the remote identifier and the
// reconciliation key; ID is assigned locally.
type Client struct {
	ID                int64     `json:"id"`
	TogglID           int64     `json:"toggl_id"`
	Name              string    `json:"name"`
	Notes             string    `json:"notes,omitempty"`
	ExternalReference string    `json:"external_reference,omitempty"`
	Archived          bool      `json:"archived"`
	WorkspaceID       int64     `json:"workspace_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Project mirrors a Toggl project. ClientID is the local clients.id, resolved
// through the client's Toggl id at upsert time; it stays null until the
// referenced client has been mirrored.
type Project struct {
	ID            int64         `json:"id"`
	TogglID       int64         `json:"toggl_id"`
	Name          string        `json:"name"`
	ClientID      JsonNullInt64 `json:"client_id"`
	ClientTogglID *int64        `json:"client_toggl_id,omitempty"`
	WorkspaceID   int64         `json:"workspace_id"`
	Billable      bool          `json:"billable"`
	IsPrivate     bool          `json:"is_private"`
	Active        bool          `json:"active"`
	Color         string        `json:"color,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Member mirrors a workspace member.
type Member struct {
	ID          int64     `json:"id"`
	TogglID     int64     `json:"toggl_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	WorkspaceID int64     `json:"workspace_id"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TimeEntryCache mirrors a time entry. Duration is seconds; entries still
// running carry a non-positive duration. SyncDate records when the local copy
// was last refreshed and drives retention pruning only.
type TimeEntryCache struct {
	ID             int64         `json:"id"`
	TogglID        int64         `json:"toggl_id"`
	Description    string        `json:"description,omitempty"`
	Duration       int64         `json:"duration"`
	StartTime      time.Time     `json:"start_time"`
	StopTime       *time.Time    `json:"stop_time,omitempty"`
	UserID         int64         `json:"user_id"`
	UserName       string        `json:"user_name,omitempty"`
	ProjectID      JsonNullInt64 `json:"project_id"`
	ProjectTogglID *int64        `json:"project_toggl_id,omitempty"`
	ClientID       JsonNullInt64 `json:"client_id"`
	ClientName     string        `json:"client_name,omitempty"`
	WorkspaceID    int64         `json:"workspace_id"`
	Billable       bool          `json:"billable"`
	Tags           []string      `json:"tags,omitempty"`
	SyncDate       time.Time     `json:"sync_date"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Setting is a workspace-scoped or global (WorkspaceID nil) key/value pair.
type Setting struct {
	ID          int64  `json:"id"`
	WorkspaceID *int64 `json:"workspace_id,omitempty"`
	Key         string `json:"key"`
	Value       string `json:"value"`
}

type Admin struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
}
