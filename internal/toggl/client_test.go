package toggl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/avandra/go-toggl-backend/internal/model"
)

// togglFixture is a configurable fake of the remote API, counting hits per
// route so tests can assert on call patterns.
type togglFixture struct {
	t    *testing.T
	hits map[string]int

	reportStatus int
	reportPages  [][]reportRow
	userEntries  map[string]string
}

func newTogglFixture(t *testing.T) *togglFixture {
	return &togglFixture{
		t:           t,
		hits:        make(map[string]int),
		userEntries: make(map[string]string),
	}
}

func (f *togglFixture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.hits[r.URL.Path]++
		switch {
		case r.URL.Path == "/workspaces/77/projects":
			fmt.Fprint(w, `[
				{"id": 10, "name": "Site", "client_id": 5, "active": true},
				{"id": 11, "name": "Internal", "client_id": null, "active": true}
			]`)
		case r.URL.Path == "/workspaces/77/clients":
			fmt.Fprint(w, `[{"id": 5, "name": "Acme"}]`)
		case r.URL.Path == "/workspaces/77/users":
			fmt.Fprint(w, `[
				{"id": 1, "name": "Ana", "email": "ana@example.com", "active": true},
				{"id": 2, "name": "Ben", "email": "ben@example.com", "active": true}
			]`)
		case strings.HasPrefix(r.URL.Path, "/reports/"):
			if f.reportStatus != 0 {
				w.WriteHeader(f.reportStatus)
				return
			}
			var req struct {
				FirstRowNumber int `json:"first_row_number"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			page := (req.FirstRowNumber - 1) / reportPageSize
			rows := []reportRow{}
			if page < len(f.reportPages) {
				rows = f.reportPages[page]
			}
			json.NewEncoder(w).Encode(rows)
		case r.URL.Path == "/me/time_entries":
			body, ok := f.userEntries[r.URL.Query().Get("user_id")]
			if !ok {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, body)
		default:
			f.t.Errorf("unexpected request: %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestClient(t *testing.T, f *togglFixture) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	tr, clock := newTestTransport(t, srv.URL)
	c := NewClient(tr)
	c.now = clock.now
	return c, srv
}

func makeReportPage(startID int64, n int, projectID *int64, userID int64, userName string) []reportRow {
	rows := make([]reportRow, n)
	for i := range rows {
		rows[i] = reportRow{
			UserID:      userID,
			Username:    userName,
			ProjectID:   projectID,
			Description: "work",
			TimeEntries: []reportEntry{{
				ID:      startID + int64(i),
				Seconds: 3600,
				Start:   "2025-05-01T09:00:00Z",
				Stop:    "2025-05-01T10:00:00Z",
			}},
		}
	}
	return rows
}

func TestGetWorkspaceTimeEntriesPaginates(t *testing.T) {
	pid := int64(10)
	f := newTogglFixture(t)
	f.reportPages = [][]reportRow{
		makeReportPage(1000, reportPageSize, &pid, 1, "Ana"),
		makeReportPage(2000, 3, &pid, 1, "Ana"),
	}
	c, _ := newTestClient(t, f)

	entries, err := c.GetWorkspaceTimeEntries(context.Background(), 77, "2025-05-01", "2025-05-31")
	if err != nil {
		t.Fatalf("GetWorkspaceTimeEntries: %v", err)
	}
	if len(entries) != reportPageSize+3 {
		t.Fatalf("entries = %d, want %d", len(entries), reportPageSize+3)
	}
	if got := f.hits["/reports/api/v3/workspace/77/search/time_entries"]; got != 2 {
		t.Fatalf("report calls = %d, want 2 (short page ends pagination)", got)
	}
	for _, e := range entries {
		if e.ClientName != "Acme" || e.ClientID == nil || *e.ClientID != 5 {
			t.Fatalf("entry %d not enriched with client: %+v", e.ID, e)
		}
	}
}

func TestGetWorkspaceTimeEntriesNoClientSentinel(t *testing.T) {
	orphan := int64(11)
	f := newTogglFixture(t)
	page := makeReportPage(1, 1, &orphan, 1, "Ana")
	page = append(page, makeReportPage(2, 1, nil, 2, "Ben")...)
	f.reportPages = [][]reportRow{page}
	c, _ := newTestClient(t, f)

	entries, err := c.GetWorkspaceTimeEntries(context.Background(), 77, "2025-05-01", "2025-05-31")
	if err != nil {
		t.Fatalf("GetWorkspaceTimeEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.ClientName != NoClientName {
			t.Fatalf("entry %d client = %q, want %q", e.ID, e.ClientName, NoClientName)
		}
		if e.ClientID != nil {
			t.Fatalf("entry %d has client id %d, want none", e.ID, *e.ClientID)
		}
	}
}

func TestGetWorkspaceTimeEntriesFallsBackPerMember(t *testing.T) {
	f := newTogglFixture(t)
	f.reportStatus = http.StatusGone
	f.userEntries["1"] = `[
		{"id": 501, "description": "deploy", "duration": 1800,
		 "start": "2025-05-02T09:00:00Z", "stop": "2025-05-02T09:30:00Z",
		 "project_id": 10, "workspace_id": 77, "billable": true}
	]`
	// User 2's pull fails; the fallback skips the member instead of failing.
	c, _ := newTestClient(t, f)

	entries, err := c.GetWorkspaceTimeEntries(context.Background(), 77, "2025-05-01", "2025-05-31")
	if err != nil {
		t.Fatalf("GetWorkspaceTimeEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 from the surviving member", len(entries))
	}
	e := entries[0]
	if e.ID != 501 || e.UserID != 1 || e.UserName != "Ana" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.ClientName != "Acme" {
		t.Fatalf("fallback entry not enriched: client = %q", e.ClientName)
	}
	if got := f.hits["/workspaces/77/users"]; got != 1 {
		t.Fatalf("user list calls = %d, want 1", got)
	}
}

func TestGetWorkspaceTimeEntriesValidatesDates(t *testing.T) {
	f := newTogglFixture(t)
	c, _ := newTestClient(t, f)

	if _, err := c.GetWorkspaceTimeEntries(context.Background(), 77, "05/01/2025", "2025-05-31"); err == nil {
		t.Fatal("expected error for malformed start date")
	}
	if _, err := c.GetWorkspaceTimeEntries(context.Background(), 77, "2025-05-01", "not-a-date"); err == nil {
		t.Fatal("expected error for malformed end date")
	}
	if len(f.hits) != 0 {
		t.Fatalf("server was hit %v times for invalid input", f.hits)
	}
}

func TestProjectClientMapIsCached(t *testing.T) {
	pid := int64(10)
	f := newTogglFixture(t)
	f.reportPages = [][]reportRow{makeReportPage(1, 1, &pid, 1, "Ana")}
	c, _ := newTestClient(t, f)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.GetWorkspaceTimeEntries(ctx, 77, "2025-05-01", "2025-05-31"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	if got := f.hits["/workspaces/77/projects"]; got != 1 {
		t.Fatalf("project fetches = %d, want 1 within the cache TTL", got)
	}
	if got := f.hits["/workspaces/77/clients"]; got != 1 {
		t.Fatalf("client fetches = %d, want 1 within the cache TTL", got)
	}
}

func TestAggregateMemberTotals(t *testing.T) {
	entries := []model.TogglTimeEntry{
		{UserID: 1, UserName: "Ana", Duration: 3600, Billable: true},
		{UserID: 1, UserName: "Ana", Duration: 1800},
		{UserID: 2, UserName: "Ben", Duration: 7200},
		// Running entry, must not count.
		{UserID: 1, UserName: "Ana", Duration: -1748000000},
		{UserID: 3, UserName: "Cal", Duration: 0},
	}

	totals := AggregateMemberTotals(entries)
	if len(totals) != 2 {
		t.Fatalf("totals = %d members, want 2", len(totals))
	}
	if totals[0].UserID != 2 || totals[0].TotalSeconds != 7200 {
		t.Fatalf("expected Ben first with 7200s, got %+v", totals[0])
	}
	ana := totals[1]
	if ana.TotalSeconds != 5400 || ana.BillableSeconds != 3600 || ana.EntryCount != 2 {
		t.Fatalf("unexpected Ana totals: %+v", ana)
	}
}
