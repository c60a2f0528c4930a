package toggl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/avandra/go-toggl-backend/internal/model"
)

const (
	// reportPageSize is the fixed page size of the reports endpoint. A page
	// shorter than this signals exhaustion.
	reportPageSize = 50
	// maxReportPages bounds pagination so an inconsistent server cannot
	// keep us looping.
	maxReportPages = 100
	// clientMapTTL is how long a workspace's project-to-client map is
	// reused before being refreshed.
	clientMapTTL = 5 * time.Minute

	// NoClientName is the sentinel attached to entries whose project has no
	// client, or that have no project at all.
	NoClientName = "No Client"
)

// Client exposes typed accessors over the rate-governed transport. It owns a
// short-lived per-workspace cache mapping projects to clients, used to enrich
// time entries with client identity.
type Client struct {
	transport *Transport

	mu         sync.Mutex
	clientMaps map[int64]clientMapEntry

	now func() time.Time
}

type clientRef struct {
	ID   *int64
	Name string
}

type clientMapEntry struct {
	byProject map[int64]clientRef
	fetchedAt time.Time
}

func NewClient(transport *Transport) *Client {
	return &Client{
		transport:  transport,
		clientMaps: make(map[int64]clientMapEntry),
		now:        time.Now,
	}
}

// GetCurrentUser returns the authenticated user.
func (c *Client) GetCurrentUser(ctx context.Context) (model.TogglUser, error) {
	raw, err := c.transport.Execute(ctx, http.MethodGet, "/me", nil, nil)
	if err != nil {
		return model.TogglUser{}, err
	}
	var out struct {
		ID       int64  `json:"id"`
		Fullname string `json:"fullname"`
		Email    string `json:"email"`
	}
	if err := decode(raw, &out); err != nil {
		return model.TogglUser{}, err
	}
	return model.TogglUser{ID: out.ID, Name: out.Fullname, Email: out.Email, Active: true}, nil
}

// GetWorkspaces lists workspaces accessible to the user.
func (c *Client) GetWorkspaces(ctx context.Context) ([]model.TogglWorkspace, error) {
	raw, err := c.transport.Execute(ctx, http.MethodGet, "/workspaces", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []model.TogglWorkspace
	if err := decode(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetWorkspaceUsers lists members of a workspace.
func (c *Client) GetWorkspaceUsers(ctx context.Context, workspaceID int64) ([]model.TogglUser, error) {
	path := fmt.Sprintf("/workspaces/%d/users", workspaceID)
	raw, err := c.transport.Execute(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var out []model.TogglUser
	if err := decode(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetWorkspaceClients lists clients of a workspace.
func (c *Client) GetWorkspaceClients(ctx context.Context, workspaceID int64) ([]model.TogglClient, error) {
	path := fmt.Sprintf("/workspaces/%d/clients", workspaceID)
	raw, err := c.transport.Execute(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var out []model.TogglClient
	if err := decode(raw, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].WorkspaceID = workspaceID
	}
	return out, nil
}

// GetWorkspaceProjects lists projects of a workspace.
func (c *Client) GetWorkspaceProjects(ctx context.Context, workspaceID int64) ([]model.TogglProject, error) {
	path := fmt.Sprintf("/workspaces/%d/projects", workspaceID)
	raw, err := c.transport.Execute(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var out []model.TogglProject
	if err := decode(raw, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].WorkspaceID = workspaceID
	}
	return out, nil
}

// GetWorkspaceTimeEntries pulls all time entries for the workspace in the
// inclusive [startDate, endDate] window (YYYY-MM-DD), enriched with client
// identity. It paginates the reports endpoint until a short page, and falls
// back to per-member pulls when the reports endpoint fails.
func (c *Client) GetWorkspaceTimeEntries(ctx context.Context, workspaceID int64, startDate, endDate string) ([]model.TogglTimeEntry, error) {
	if err := validateDate(startDate); err != nil {
		return nil, err
	}
	if err := validateDate(endDate); err != nil {
		return nil, err
	}

	clientMap, err := c.projectClients(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	entries, err := c.reportTimeEntries(ctx, workspaceID, startDate, endDate, clientMap)
	if err == nil {
		return entries, nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return nil, err
	}
	log.Printf("toggl: reports endpoint failed for workspace %d, falling back to per-member pulls: %v", workspaceID, err)
	return c.fallbackTimeEntries(ctx, workspaceID, startDate, endDate, clientMap)
}

type reportEntry struct {
	ID      int64  `json:"id"`
	Seconds int64  `json:"seconds"`
	Start   string `json:"start"`
	Stop    string `json:"stop"`
}

type reportRow struct {
	UserID      int64         `json:"user_id"`
	Username    string        `json:"username"`
	ProjectID   *int64        `json:"project_id"`
	Description string        `json:"description"`
	Billable    bool          `json:"billable"`
	TagIDs      []int64       `json:"tag_ids"`
	TimeEntries []reportEntry `json:"time_entries"`
}

func (c *Client) reportTimeEntries(ctx context.Context, workspaceID int64, startDate, endDate string, clientMap map[int64]clientRef) ([]model.TogglTimeEntry, error) {
	path := fmt.Sprintf("/reports/api/v3/workspace/%d/search/time_entries", workspaceID)

	var entries []model.TogglTimeEntry
	for page := 0; ; page++ {
		if page >= maxReportPages {
			log.Printf("toggl: reached maximum page count (%d) for workspace %d time entries", maxReportPages, workspaceID)
			break
		}
		body := map[string]any{
			"start_date":       startDate,
			"end_date":         endDate,
			"first_row_number": page*reportPageSize + 1,
			"max_rows":         reportPageSize,
		}
		raw, err := c.transport.Execute(ctx, http.MethodPost, path, nil, body)
		if err != nil {
			return nil, err
		}

		rows, err := decodeReportRows(raw)
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			ref := lookupClient(clientMap, row.ProjectID)
			for _, te := range row.TimeEntries {
				start, err := time.Parse(time.RFC3339, te.Start)
				if err != nil {
					return nil, &APIError{Kind: KindDecodeError, Message: fmt.Sprintf("bad start timestamp %q", te.Start)}
				}
				var stop *time.Time
				if te.Stop != "" {
					t, err := time.Parse(time.RFC3339, te.Stop)
					if err == nil {
						stop = &t
					}
				}
				entries = append(entries, model.TogglTimeEntry{
					ID:          te.ID,
					Description: row.Description,
					Duration:    te.Seconds,
					Start:       start,
					Stop:        stop,
					UserID:      row.UserID,
					UserName:    row.Username,
					ProjectID:   row.ProjectID,
					WorkspaceID: workspaceID,
					Billable:    row.Billable,
					TagIDs:      row.TagIDs,
					ClientID:    ref.ID,
					ClientName:  ref.Name,
				})
			}
		}

		if len(rows) < reportPageSize {
			break
		}
	}
	return entries, nil
}

// fallbackTimeEntries iterates workspace members and pulls each member's
// entries individually. Slower, but a single degraded endpoint does not turn
// into a total failure; members whose pull fails are skipped.
func (c *Client) fallbackTimeEntries(ctx context.Context, workspaceID int64, startDate, endDate string, clientMap map[int64]clientRef) ([]model.TogglTimeEntry, error) {
	users, err := c.GetWorkspaceUsers(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	var entries []model.TogglTimeEntry
	for _, user := range users {
		userEntries, err := c.userTimeEntries(ctx, workspaceID, user, startDate, endDate)
		if err != nil {
			log.Printf("toggl: failed to get entries for user %d in workspace %d: %v", user.ID, workspaceID, err)
			continue
		}
		for i := range userEntries {
			ref := lookupClient(clientMap, userEntries[i].ProjectID)
			userEntries[i].ClientID = ref.ID
			userEntries[i].ClientName = ref.Name
		}
		entries = append(entries, userEntries...)
	}
	return entries, nil
}

func (c *Client) userTimeEntries(ctx context.Context, workspaceID int64, user model.TogglUser, startDate, endDate string) ([]model.TogglTimeEntry, error) {
	query := url.Values{}
	query.Set("start_date", startDate)
	query.Set("end_date", endDate)
	query.Set("user_id", fmt.Sprintf("%d", user.ID))

	raw, err := c.transport.Execute(ctx, http.MethodGet, "/me/time_entries", query, nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID          int64   `json:"id"`
		Description string  `json:"description"`
		Duration    int64   `json:"duration"`
		Start       string  `json:"start"`
		Stop        *string `json:"stop"`
		UserID      int64   `json:"user_id"`
		ProjectID   *int64  `json:"project_id"`
		WorkspaceID int64   `json:"workspace_id"`
		Billable    bool    `json:"billable"`
		TagIDs      []int64 `json:"tag_ids"`
	}
	if err := decode(raw, &rows); err != nil {
		return nil, err
	}

	entries := make([]model.TogglTimeEntry, 0, len(rows))
	for _, row := range rows {
		start, err := time.Parse(time.RFC3339, row.Start)
		if err != nil {
			return nil, &APIError{Kind: KindDecodeError, Message: fmt.Sprintf("bad start timestamp %q", row.Start)}
		}
		var stop *time.Time
		if row.Stop != nil {
			t, err := time.Parse(time.RFC3339, *row.Stop)
			if err == nil {
				stop = &t
			}
		}
		userID := row.UserID
		if userID == 0 {
			userID = user.ID
		}
		entries = append(entries, model.TogglTimeEntry{
			ID:          row.ID,
			Description: row.Description,
			Duration:    row.Duration,
			Start:       start,
			Stop:        stop,
			UserID:      userID,
			UserName:    user.Name,
			ProjectID:   row.ProjectID,
			WorkspaceID: workspaceID,
			Billable:    row.Billable,
			TagIDs:      row.TagIDs,
		})
	}
	return entries, nil
}

// projectClients returns the project-to-client map for the workspace,
// refreshing it when older than clientMapTTL.
func (c *Client) projectClients(ctx context.Context, workspaceID int64) (map[int64]clientRef, error) {
	c.mu.Lock()
	cached, ok := c.clientMaps[workspaceID]
	c.mu.Unlock()
	if ok && c.now().Sub(cached.fetchedAt) < clientMapTTL {
		return cached.byProject, nil
	}

	projects, err := c.GetWorkspaceProjects(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	clients, err := c.GetWorkspaceClients(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]model.TogglClient, len(clients))
	for _, cl := range clients {
		byID[cl.ID] = cl
	}

	byProject := make(map[int64]clientRef, len(projects))
	for _, p := range projects {
		if p.ClientID != nil {
			if cl, ok := byID[*p.ClientID]; ok {
				id := cl.ID
				byProject[p.ID] = clientRef{ID: &id, Name: cl.Name}
				continue
			}
		}
		byProject[p.ID] = clientRef{Name: NoClientName}
	}

	c.mu.Lock()
	c.clientMaps[workspaceID] = clientMapEntry{byProject: byProject, fetchedAt: c.now()}
	c.mu.Unlock()
	return byProject, nil
}

func lookupClient(clientMap map[int64]clientRef, projectID *int64) clientRef {
	if projectID != nil {
		if ref, ok := clientMap[*projectID]; ok {
			return ref
		}
	}
	return clientRef{Name: NoClientName}
}

// AggregateMemberTotals sums tracked time per member. Entries with
// non-positive durations are still running and are excluded from both the
// totals and the entry counts. Results are ordered by total time descending.
func AggregateMemberTotals(entries []model.TogglTimeEntry) []model.MemberTimeTotal {
	totals := make(map[int64]*model.MemberTimeTotal)
	for _, e := range entries {
		if e.Duration <= 0 {
			continue
		}
		t, ok := totals[e.UserID]
		if !ok {
			t = &model.MemberTimeTotal{UserID: e.UserID, UserName: e.UserName}
			totals[e.UserID] = t
		}
		t.TotalSeconds += e.Duration
		if e.Billable {
			t.BillableSeconds += e.Duration
		}
		t.EntryCount++
	}

	out := make([]model.MemberTimeTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalSeconds > out[j].TotalSeconds })
	return out
}

func decodeReportRows(raw json.RawMessage) ([]reportRow, error) {
	var rows []reportRow
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}
	var wrapper struct {
		Data []reportRow `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, &APIError{Kind: KindDecodeError, Message: scrubCredentials(err.Error())}
	}
	return wrapper.Data, nil
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &APIError{Kind: KindDecodeError, Message: scrubCredentials(err.Error())}
	}
	return nil
}

// validateDate rejects anything that is not a YYYY-MM-DD date before a
// remote call is spent on it.
func validateDate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return nil
}
