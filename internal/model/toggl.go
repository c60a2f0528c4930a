package model

import "time"

// Decoded Toggl API payloads, as returned by the remote data client.

type TogglUser struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

type TogglWorkspace struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type TogglClient struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Notes             string `json:"notes"`
	ExternalReference string `json:"external_reference"`
	Archived          bool   `json:"archived"`
	WorkspaceID       int64  `json:"wid"`
}

type TogglProject struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ClientID    *int64 `json:"client_id"`
	WorkspaceID int64  `json:"workspace_id"`
	Billable    bool   `json:"billable"`
	IsPrivate   bool   `json:"is_private"`
	Active      bool   `json:"active"`
	Color       string `json:"color"`
}

// TogglTimeEntry is a single time entry, enriched with client identity via
// its project. Duration is seconds; non-positive means the entry is still
// running and must be excluded from totals.
type TogglTimeEntry struct {
	ID          int64
	Description string
	Duration    int64
	Start       time.Time
	Stop        *time.Time
	UserID      int64
	UserName    string
	ProjectID   *int64
	WorkspaceID int64
	Billable    bool
	TagIDs      []int64
	ClientID    *int64
	ClientName  string
}

// MemberTimeTotal aggregates tracked time for one member.
type MemberTimeTotal struct {
	UserID          int64  `json:"user_id"`
	UserName        string `json:"user_name"`
	TotalSeconds    int64  `json:"total_duration_seconds"`
	BillableSeconds int64  `json:"billable_duration_seconds"`
	EntryCount      int    `json:"entry_count"`
}
