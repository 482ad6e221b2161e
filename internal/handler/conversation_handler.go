package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"inbox-sync-go/internal/conversation"
	"inbox-sync-go/internal/model"
	"inbox-sync-go/internal/repository"
)

// ListConversations returns a page of a workspace's conversations
func (h *Handlers) ListConversations(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", "workspace_id is required")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(conversation.DefaultTake)))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = conversation.DefaultTake
	}

	filters := conversation.Filters{Status: model.ConversationStatus(c.Query("status"))}
	if v := c.Query("has_unread"); v != "" {
		hasUnread, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request", "has_unread must be a boolean")
			return
		}
		filters.HasUnread = &hasUnread
	}

	var err error
	if filters.DateFrom, err = parseDate(c.Query("date_from")); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "date_from must be RFC 3339 or YYYY-MM-DD")
		return
	}
	if filters.DateTo, err = parseDate(c.Query("date_to")); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "date_to must be RFC 3339 or YYYY-MM-DD")
		return
	}

	list, err := h.conversations.ListForWorkspace(c.Request.Context(), workspaceID, filters, conversation.Page{
		Skip: (page - 1) * limit,
		Take: limit,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to fetch conversations")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": list.Items,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": list.Total,
		},
	})
}

// GetConversation returns one conversation with its messages
func (h *Handlers) GetConversation(c *gin.Context) {
	conv, err := h.conversations.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, conversation.ErrNotFound) {
		respondError(c, http.StatusNotFound, "not_found", "Conversation not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to fetch conversation")
		return
	}

	c.JSON(http.StatusOK, conv)
}

// MarkConversationRead marks a conversation's inbound messages as read
func (h *Handlers) MarkConversationRead(c *gin.Context) {
	updated, err := h.conversations.MarkRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to mark conversation read")
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// ListProspectConversations returns every conversation with a prospect
func (h *Handlers) ListProspectConversations(c *gin.Context) {
	items, err := h.conversations.ListForProspect(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to fetch conversations")
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": items})
}

// GetUnreadCount returns the unread reply count of a workspace
func (h *Handlers) GetUnreadCount(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", "workspace_id is required")
		return
	}

	count, err := h.conversations.UnreadCount(c.Request.Context(), workspaceID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to count unread messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// GetMailboxStatus reports whether a workspace has a usable mailbox
func (h *Handlers) GetMailboxStatus(c *gin.Context) {
	conn, err := h.repo.GetConnection(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusOK, MailboxStatusResponse{Connected: false})
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to fetch mailbox connection")
		return
	}

	c.JSON(http.StatusOK, MailboxStatusResponse{
		Connected:     true,
		Email:         conn.Email,
		IsValid:       conn.IsValid,
		LastSyncedAt:  conn.LastSyncedAt,
		LastAuthError: conn.LastAuthError,
	})
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
