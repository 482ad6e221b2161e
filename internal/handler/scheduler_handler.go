package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"inbox-sync-go/internal/scheduler"
)

// RunSync runs one sync batch over every connected mailbox
func (h *Handlers) RunSync(c *gin.Context) {
	start := time.Now()

	results, err := h.scheduler.RunOnce(c.Request.Context())
	if errors.Is(err, scheduler.ErrCycleInProgress) {
		respondError(c, http.StatusConflict, "sync_in_progress", "A sync cycle is already running")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "sync_failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, SyncResponse{
		Summary:    summarize(results, time.Since(start)),
		Workspaces: results,
	})
}

// StartScheduler starts the periodic sync
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		respondError(c, http.StatusInternalServerError, "scheduler_error", "Failed to start scheduler")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the periodic sync
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		respondError(c, http.StatusInternalServerError, "scheduler_error", "Failed to stop scheduler")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}
