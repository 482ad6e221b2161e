package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inbox-sync-go/internal/model"
)

// ValidConnections returns every mailbox connection that can still be synced
func (r *Repository) ValidConnections(ctx context.Context) ([]model.MailboxConnection, error) {
	var conns []model.MailboxConnection
	result := r.db.WithContext(ctx).Where("is_valid = ?", true).Order("created_at ASC").Find(&conns)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get valid connections: %w", result.Error)
	}
	return conns, nil
}

// GetConnection returns the mailbox connection of a workspace
func (r *Repository) GetConnection(ctx context.Context, workspaceID string) (*model.MailboxConnection, error) {
	var conn model.MailboxConnection
	if err := r.first(ctx, &conn, "workspace_id = ?", workspaceID); err != nil {
		return nil, err
	}
	return &conn, nil
}

// InvalidateConnection marks a connection as needing re-authorization.
// The row and its tokens are kept.
func (r *Repository) InvalidateConnection(ctx context.Context, id, reason string) error {
	result := r.db.WithContext(ctx).Model(&model.MailboxConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_valid":        false,
			"last_auth_error": reason,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to invalidate connection: %w", result.Error)
	}
	return nil
}

// AdvanceCheckpoint records the end of a completed sync cycle
func (r *Repository) AdvanceCheckpoint(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&model.MailboxConnection{}).
		Where("id = ?", id).
		Update("last_synced_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", result.Error)
	}
	return nil
}

// UpdateTokens stores refreshed, already encrypted tokens
func (r *Repository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"expires_at":   expiresAt,
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}

	result := r.db.WithContext(ctx).Model(&model.MailboxConnection{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}

// UpsertConnection creates or replaces the connection of conn.WorkspaceID
// and marks it valid again.
func (r *Repository) UpsertConnection(ctx context.Context, conn *model.MailboxConnection) error {
	return r.Transaction(ctx, func(tx *Repository) error {
		existing, err := tx.GetConnection(ctx, conn.WorkspaceID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		if existing == nil {
			conn.IsValid = true
			conn.LastAuthError = nil
			if err := tx.db.Create(conn).Error; err != nil {
				return fmt.Errorf("failed to create connection: %w", err)
			}
			return nil
		}

		result := tx.db.Model(&model.MailboxConnection{}).Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"email":           conn.Email,
				"access_token":    conn.AccessToken,
				"refresh_token":   conn.RefreshToken,
				"expires_at":      conn.ExpiresAt,
				"is_valid":        true,
				"last_auth_error": nil,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update connection: %w", result.Error)
		}
		conn.ID = existing.ID
		conn.IsValid = true
		conn.LastAuthError = nil
		conn.LastSyncedAt = existing.LastSyncedAt
		return nil
	})
}

// GetWorkspace returns a workspace by id
func (r *Repository) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace
	if err := r.first(ctx, &ws, "id = ?", id); err != nil {
		return nil, err
	}
	return &ws, nil
}
