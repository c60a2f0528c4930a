package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/avandra/go-toggl-backend/internal/config"
	"github.com/avandra/go-toggl-backend/internal/model"
	"github.com/avandra/go-toggl-backend/internal/service"
)

type StartSyncRequest struct {
	WorkspaceID int64  `json:"workspace_id" binding:"required"`
	SyncType    string `json:"sync_type" binding:"required"`
	Days        int    `json:"days"`
}

type HistoricalSyncRequest struct {
	TotalDays     int `json:"total_days"`
	ChunkSizeDays int `json:"chunk_size_days"`
	MaxChunks     int `json:"max_chunks"`
}

type SyncHandler struct {
	Sync     *service.SyncService
	Settings *service.SettingService
	Cfg      *config.Config
}

func NewSyncHandler(sync *service.SyncService, settings *service.SettingService, cfg *config.Config) *SyncHandler {
	return &SyncHandler{Sync: sync, Settings: settings, Cfg: cfg}
}

// StartSync triggers a sync. Quick types run inline; full syncs run in the
// background and answer 202 with the workspace to poll.
// POST /api/v1/sync/start
func (h *SyncHandler) StartSync(c *gin.Context) {
	var req StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if !model.ValidSyncType(req.SyncType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown sync type: " + req.SyncType})
		return
	}

	if req.SyncType == model.SyncTypeFull {
		go func() {
			if _, err := h.Sync.FullSync(context.Background(), req.WorkspaceID, req.Days); err != nil {
				log.Printf("background full sync for workspace %d: %v", req.WorkspaceID, err)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{
			"message":      "Full sync started in the background",
			"workspace_id": req.WorkspaceID,
		})
		return
	}

	syncLog, err := h.Sync.Start(c.Request.Context(), req.WorkspaceID, req.SyncType, req.Days)
	if err != nil {
		h.syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, syncLog)
}

// GetStatus reports recent sync activity for a workspace.
// GET /api/v1/sync/status/:workspace_id
func (h *SyncHandler) GetStatus(c *gin.Context) {
	workspaceID, ok := h.workspaceParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	status, err := h.Sync.Status(c.Request.Context(), workspaceID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get sync status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetSummary reports mirrored row counts.
// GET /api/v1/sync/summary/:workspace_id
func (h *SyncHandler) GetSummary(c *gin.Context) {
	workspaceID, ok := h.workspaceParam(c)
	if !ok {
		return
	}
	counts, err := h.Sync.Summary(c.Request.Context(), workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get data summary"})
		return
	}
	c.JSON(http.StatusOK, counts)
}

// GetRecommendation returns the suggested catch-up window for a workspace.
// GET /api/v1/sync/recommendation/:workspace_id
func (h *SyncHandler) GetRecommendation(c *gin.Context) {
	workspaceID, ok := h.workspaceParam(c)
	if !ok {
		return
	}
	rec, err := h.Sync.DailyRecommendation(c.Request.Context(), workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute recommendation"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetLogs lists recent sync logs, optionally filtered by sync_type.
// GET /api/v1/sync/logs/:workspace_id
func (h *SyncHandler) GetLogs(c *gin.Context) {
	workspaceID, ok := h.workspaceParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	logs, err := h.Sync.Logs(c.Request.Context(), workspaceID, c.Query("sync_type"), limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// HistoricalSync runs the chunked backfill in the background, up to
// max_chunks chunks.
// POST /api/v1/sync/historical/:workspace_id
func (h *SyncHandler) HistoricalSync(c *gin.Context) {
	workspaceID, ok := h.workspaceParam(c)
	if !ok {
		return
	}
	req := h.historicalRequest(c)

	go func() {
		result, err := h.Sync.ChunkedHistoricalSync(context.Background(),
			workspaceID, req.TotalDays, req.ChunkSizeDays, req.MaxChunks)
		if err != nil {
			log.Printf("historical sync for workspace %d: %v", workspaceID, err)
			return
		}
		log.Printf("historical sync for workspace %d: %d/%d chunks complete",
			workspaceID, result.Progress.CompletedChunks, result.Progress.TotalChunks)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message":      "Historical sync started in the background",
		"workspace_id": workspaceID,
	})
}

// SafeHistoricalSync advances the backfill by one bounded slice and returns
// the resulting progress. Bounded work, so it answers inline.
// POST /api/v1/sync/historical/:workspace_id/safe
func (h *SyncHandler) SafeHistoricalSync(c *gin.Context) {
	workspaceID, ok := h.workspaceParam(c)
	if !ok {
		return
	}
	req := h.historicalRequest(c)

	result, err := h.Sync.SafeChunkedHistoricalSync(c.Request.Context(),
		workspaceID, req.TotalDays, req.ChunkSizeDays, req.MaxChunks)
	if err != nil {
		h.syncError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// historicalRequest binds the optional body and fills omitted fields from
// the configured defaults. An empty or missing body is fine.
func (h *SyncHandler) historicalRequest(c *gin.Context) HistoricalSyncRequest {
	var req HistoricalSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = HistoricalSyncRequest{}
	}
	if req.TotalDays <= 0 {
		req.TotalDays = h.Cfg.HistoricalDays
	}
	if req.ChunkSizeDays <= 0 {
		req.ChunkSizeDays = h.Cfg.ChunkSizeDays
	}
	if req.MaxChunks <= 0 {
		req.MaxChunks = h.Cfg.ChunksPerCall
	}
	return req
}

// HistoricalProgress reports backfill progress without syncing.
// GET /api/v1/sync/historical/:workspace_id/progress
func (h *SyncHandler) HistoricalProgress(c *gin.Context) {
	workspaceID, ok := h.workspaceParam(c)
	if !ok {
		return
	}
	totalDays, _ := strconv.Atoi(c.DefaultQuery("total_days", "0"))
	chunkSize, _ := strconv.Atoi(c.DefaultQuery("chunk_size_days", "0"))

	progress, err := h.Sync.HistoricalProgress(c.Request.Context(), workspaceID, totalDays, chunkSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute historical progress"})
		return
	}
	c.JSON(http.StatusOK, progress)
}

// Cleanup prunes cached time entries beyond the retention window.
// POST /api/v1/sync/cleanup/:workspace_id
func (h *SyncHandler) Cleanup(c *gin.Context) {
	workspaceID, ok := h.workspaceParam(c)
	if !ok {
		return
	}
	months, _ := strconv.Atoi(c.DefaultQuery("retention_months", strconv.Itoa(h.Cfg.RetentionMonths)))

	deleted, err := h.Sync.CleanupOldTimeEntries(c.Request.Context(), workspaceID, months)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clean up time entries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// TestConnection checks the configured Toggl credentials.
// GET /api/v1/sync/test-connection
func (h *SyncHandler) TestConnection(c *gin.Context) {
	user, err := h.Sync.TestConnection(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Connection OK", "user": user})
}

// UpdateSetting writes a workspace-scoped setting.
// PUT /api/v1/sync/settings/:workspace_id
func (h *SyncHandler) UpdateSetting(c *gin.Context) {
	workspaceID, ok := h.workspaceParam(c)
	if !ok {
		return
	}
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if err := h.Settings.Set(c.Request.Context(), &workspaceID, req.Key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save setting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Setting saved"})
}

func (h *SyncHandler) workspaceParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("workspace_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace_id"})
		return 0, false
	}
	return id, true
}

func (h *SyncHandler) syncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSyncConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrBudgetExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
