package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"inbox-sync-go/internal/conversation"
	"inbox-sync-go/internal/repository"
	"inbox-sync-go/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	repo          *repository.Repository
	conversations *conversation.Service
	scheduler     *scheduler.Scheduler
	gatherer      prometheus.Gatherer
	cronSecret    string
}

// NewHandlers creates new HTTP handlers
func NewHandlers(repo *repository.Repository, conversations *conversation.Service, sched *scheduler.Scheduler, gatherer prometheus.Gatherer, cronSecret string) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		repo:          repo,
		conversations: conversations,
		scheduler:     sched,
		gatherer:      gatherer,
		cronSecret:    cronSecret,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.POST("/sync/run", h.requireCronSecret(), h.RunSync)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.GET("/scheduler/status", h.GetSchedulerStatus)

		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id", h.GetConversation)
		api.POST("/conversations/:id/read", h.MarkConversationRead)
		api.GET("/prospects/:id/conversations", h.ListProspectConversations)
		api.GET("/inbox/unread-count", h.GetUnreadCount)

		api.GET("/workspaces/:id/mailbox", h.GetMailboxStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Scheduler: make(map[string]string),
	}

	if err := h.repo.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Scheduler["state"] = "running"
		response.Scheduler["next_run"] = h.scheduler.NextRun().Format(time.RFC3339)
	} else {
		response.Scheduler["state"] = "stopped"
	}
	if last := h.scheduler.LastRun(); !last.IsZero() {
		response.Scheduler["last_run"] = last.Format(time.RFC3339)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// requireCronSecret rejects requests without the configured bearer secret.
// With no secret configured every request is allowed.
func (h *Handlers) requireCronSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cronSecret == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
			logrus.Warn("Unauthorized sync request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid or missing cron secret",
				Code:    http.StatusUnauthorized,
			})
			return
		}
		c.Next()
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error:   code,
		Message: message,
		Code:    status,
	})
}
