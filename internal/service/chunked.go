package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/avandra/go-toggl-backend/internal/model"
)

// Historical backfill defaults.
const (
	DefaultHistoricalDays = 365
	DefaultChunkSizeDays  = 30
	DefaultChunksPerCall  = 1
)

// ChunkProgress describes how far a workspace's backfill has come. Progress
// is derived from completed time-entry sync logs, never stored separately, so
// it survives restarts and never drifts from the logs.
type ChunkProgress struct {
	WorkspaceID     int64 `json:"workspace_id"`
	TotalChunks     int   `json:"total_chunks"`
	CompletedChunks int   `json:"completed_chunks"`
	RemainingChunks int   `json:"remaining_chunks"`
	IsComplete      bool  `json:"is_complete"`
}

// ChunkSyncResult reports one backfill invocation. IsFirstChunk marks the
// invocation that also refreshed metadata.
type ChunkSyncResult struct {
	WorkspaceID     int64           `json:"workspace_id"`
	ChunksProcessed int             `json:"chunks_processed"`
	IsFirstChunk    bool            `json:"is_first_chunk"`
	Progress        ChunkProgress   `json:"progress"`
	Logs            []model.SyncLog `json:"logs,omitempty"`
}

// chunkWindow computes chunk i's date range, counting back from today in
// chunkSize-day steps. Chunk 0 ends today; the oldest chunk is clamped so the
// overall span never exceeds totalDays.
func chunkWindow(today time.Time, i, totalDays, chunkSize int) (start, end time.Time) {
	today = dateOnly(today)
	end = today.AddDate(0, 0, -i*chunkSize)
	start = end.AddDate(0, 0, -(chunkSize - 1))
	oldest := today.AddDate(0, 0, -(totalDays - 1))
	if start.Before(oldest) {
		start = oldest
	}
	return start, end
}

// completedChunks maps completed time-entry logs back onto chunk indices. A
// log belongs to the chunk whose window its range_end falls in; ranges synced
// under different settings or by daily syncs are simply ignored when they do
// not land on a chunk.
func (s *SyncService) completedChunks(ctx context.Context, workspaceID int64, totalDays, chunkSize int) (map[int]bool, error) {
	logs, err := s.store.CompletedTimeEntrySyncs(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	today := dateOnly(s.now())
	totalChunks := (totalDays + chunkSize - 1) / chunkSize

	done := make(map[int]bool)
	for i := range logs {
		if logs[i].DateRangeEnd == nil {
			continue
		}
		days := daysBetween(*logs[i].DateRangeEnd, today)
		if days < 0 {
			continue
		}
		idx := days / chunkSize
		if idx >= 0 && idx < totalChunks {
			done[idx] = true
		}
	}
	return done, nil
}

// ChunkedHistoricalSync advances the backfill by up to maxChunks chunks,
// oldest-pending-first from today backwards. Metadata is refreshed once, on
// the first invocation for a workspace. The first chunk failure stops the
// run; completed chunks stay completed.
func (s *SyncService) ChunkedHistoricalSync(ctx context.Context, workspaceID int64, totalDays, chunkSize, maxChunks int) (*ChunkSyncResult, error) {
	if totalDays <= 0 {
		totalDays = DefaultHistoricalDays
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSizeDays
	}
	if maxChunks <= 0 {
		maxChunks = DefaultChunksPerCall
	}
	if est := EstimateCalls(model.SyncTypeTimeEntries, chunkSize); !IsSafe(est) {
		return nil, fmt.Errorf("%w: %d calls estimated per %d-day chunk", ErrBudgetExceeded, est, chunkSize)
	}

	totalChunks := (totalDays + chunkSize - 1) / chunkSize
	done, err := s.completedChunks(ctx, workspaceID, totalDays, chunkSize)
	if err != nil {
		return nil, err
	}

	result := &ChunkSyncResult{WorkspaceID: workspaceID}
	today := dateOnly(s.now())

	if len(done) == 0 {
		result.IsFirstChunk = true
		metaLogs, err := s.SyncMetadata(ctx, workspaceID)
		result.Logs = append(result.Logs, metaLogs...)
		if err != nil {
			result.Progress = progressOf(workspaceID, totalChunks, done)
			return result, err
		}
	}

	for i := 0; i < totalChunks && result.ChunksProcessed < maxChunks; i++ {
		if done[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		start, end := chunkWindow(today, i, totalDays, chunkSize)
		l, err := s.SyncTimeEntries(ctx, workspaceID, start, end)
		if l != nil {
			result.Logs = append(result.Logs, *l)
		}
		if err != nil {
			result.Progress = progressOf(workspaceID, totalChunks, done)
			return result, fmt.Errorf("chunk %d (%s to %s): %w", i,
				start.Format("2006-01-02"), end.Format("2006-01-02"), err)
		}
		done[i] = true
		result.ChunksProcessed++
		log.Printf("historical sync: workspace %d chunk %d/%d done (%s to %s)",
			workspaceID, i+1, totalChunks, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	result.Progress = progressOf(workspaceID, totalChunks, done)
	return result, nil
}

// SafeChunkedHistoricalSync is the rate-conscious entry point: one bounded
// slice of the backfill per call, sized for unattended hourly invocation.
func (s *SyncService) SafeChunkedHistoricalSync(ctx context.Context, workspaceID int64, totalDays, chunkSize, chunksPerCall int) (*ChunkSyncResult, error) {
	if chunksPerCall <= 0 {
		chunksPerCall = DefaultChunksPerCall
	}
	return s.ChunkedHistoricalSync(ctx, workspaceID, totalDays, chunkSize, chunksPerCall)
}

// HistoricalProgress reports backfill progress without syncing anything.
func (s *SyncService) HistoricalProgress(ctx context.Context, workspaceID int64, totalDays, chunkSize int) (*ChunkProgress, error) {
	if totalDays <= 0 {
		totalDays = DefaultHistoricalDays
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSizeDays
	}
	totalChunks := (totalDays + chunkSize - 1) / chunkSize
	done, err := s.completedChunks(ctx, workspaceID, totalDays, chunkSize)
	if err != nil {
		return nil, err
	}
	p := progressOf(workspaceID, totalChunks, done)
	return &p, nil
}

func progressOf(workspaceID int64, totalChunks int, done map[int]bool) ChunkProgress {
	remaining := totalChunks - len(done)
	if remaining < 0 {
		remaining = 0
	}
	return ChunkProgress{
		WorkspaceID:     workspaceID,
		TotalChunks:     totalChunks,
		CompletedChunks: len(done),
		RemainingChunks: remaining,
		IsComplete:      len(done) >= totalChunks,
	}
}
