package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"inbox-sync-go/internal/config"
	"inbox-sync-go/internal/conversation"
	"inbox-sync-go/internal/handler"
	"inbox-sync-go/internal/repository"
	"inbox-sync-go/internal/scheduler"
	"inbox-sync-go/internal/testutil"
)

func TestSetupRouter(t *testing.T) {
	conn := testutil.NewDB(t)
	sched := scheduler.NewScheduler(&config.SchedulerConfig{IntervalMinutes: 5}, nil)
	h := handler.NewHandlers(repository.New(conn), conversation.NewService(conn), sched, prometheus.NewRegistry(), "")

	r := SetupRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
