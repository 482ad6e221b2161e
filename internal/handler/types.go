package handler

import (
	"time"

	"inbox-sync-go/internal/inboxsync"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Scheduler map[string]string `json:"scheduler,omitempty"`
}

// SyncSummary aggregates one batch over every mailbox
type SyncSummary struct {
	TotalWorkspaces int   `json:"totalWorkspaces"`
	Successful      int   `json:"successful"`
	Failed          int   `json:"failed"`
	TotalProcessed  int   `json:"totalProcessed"`
	TotalMatched    int   `json:"totalMatched"`
	TotalUnlinked   int   `json:"totalUnlinked"`
	TotalDiscarded  int   `json:"totalDiscarded"`
	TotalErrors     int   `json:"totalErrors"`
	DurationMs      int64 `json:"durationMs"`
}

// SyncResponse is returned by the sync trigger
type SyncResponse struct {
	Summary    SyncSummary                 `json:"summary"`
	Workspaces []inboxsync.WorkspaceResult `json:"workspaces"`
}

// MailboxStatusResponse describes a workspace's mailbox connection
type MailboxStatusResponse struct {
	Connected     bool       `json:"connected"`
	Email         string     `json:"email,omitempty"`
	IsValid       bool       `json:"isValid"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt"`
	LastAuthError *string    `json:"lastAuthError"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func summarize(results []inboxsync.WorkspaceResult, duration time.Duration) SyncSummary {
	s := SyncSummary{TotalWorkspaces: len(results), DurationMs: duration.Milliseconds()}
	for _, r := range results {
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		if r.Result == nil {
			continue
		}
		s.TotalProcessed += r.Result.Processed
		s.TotalMatched += r.Result.Matched
		s.TotalUnlinked += r.Result.Unlinked
		s.TotalDiscarded += r.Result.Discarded
		s.TotalErrors += r.Result.Errors
	}
	return s
}
