package service

import (
	"math"
	"time"

	"github.com/avandra/go-toggl-backend/internal/model"
)

const (
	// The provider allows roughly 30 requests per hour per token. Syncs are
	// only started when the estimate stays under safeRequestThreshold, which
	// leaves headroom for retries and ad-hoc calls.
	hourlyRequestBudget  = 30
	safeRequestThreshold = 25

	// assumedEntriesPerDay sizes time-entry pagination before any data
	// exists. Deliberately pessimistic for a small team.
	assumedEntriesPerDay = 20
	maxPageEstimate      = 40

	metadataCalls = 3
)

// EstimateCalls predicts how many API requests a sync of the given type and
// date span will issue. days only matters for time-entry and full syncs.
func EstimateCalls(syncType string, days int) int {
	switch syncType {
	case model.SyncTypeClients, model.SyncTypeProjects, model.SyncTypeMembers:
		return 1
	case model.SyncTypeMetadata:
		return metadataCalls
	case model.SyncTypeTimeEntries:
		return timeEntryCalls(days)
	case model.SyncTypeFull:
		return metadataCalls + timeEntryCalls(days)
	}
	return 1
}

// timeEntryCalls is 2 fixed calls for the project/client map refresh plus one
// report page per 50 estimated entries, capped so a huge range cannot blow
// past the budget arithmetic.
func timeEntryCalls(days int) int {
	if days < 1 {
		days = 1
	}
	pages := int(math.Ceil(float64(days*assumedEntriesPerDay) / 50.0))
	if pages > maxPageEstimate {
		pages = maxPageEstimate
	}
	return 2 + pages
}

// IsSafe reports whether a sync with the given estimate may start.
func IsSafe(estimatedCalls int) bool {
	return estimatedCalls <= safeRequestThreshold
}

// dateOnly truncates to midnight in t's location.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// daysBetween counts whole calendar days from a to b; same day is 0.
// Rounding absorbs the 23- and 25-hour days DST transitions produce, so the
// count is stable in any location.
func daysBetween(a, b time.Time) int {
	return int(math.Round(dateOnly(b).Sub(dateOnly(a)).Hours() / 24))
}
