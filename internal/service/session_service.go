package service

import (
	"context"
	"errors"
	"fmt"

	"deploytime/sync-agent/internal/client"
	"deploytime/sync-agent/internal/models"

	"go.uber.org/zap"
)

// Login signs in, stores the session and runs a full cycle.
func (s *SyncService) Login(ctx context.Context, email, password string) (*models.User, SyncResult, error) {
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, SyncResult{}, err
	}
	if err := s.store.SaveSession(ctx, resp.AccessToken, resp.User); err != nil {
		return nil, SyncResult{}, fmt.Errorf("failed to store session: %w", err)
	}
	s.logger.Info("Signed in", zap.Int64("user_id", resp.User.ID), zap.String("email", resp.User.Email))

	result := s.SyncAll(context.WithoutCancel(ctx))
	return &resp.User, result, nil
}

// Logout revokes the token and drops the cached identity. The local session
// is cleared even when the backend cannot be reached.
func (s *SyncService) Logout(ctx context.Context) error {
	if _, err := s.currentUser(ctx); errors.Is(err, ErrNotAuthenticated) {
		return nil
	}
	remoteErr := s.api.Logout(ctx)
	if remoteErr != nil && !client.IsUnauthorized(remoteErr) {
		s.logger.Warn("Backend logout failed", zap.Error(remoteErr))
	}
	if err := s.store.ClearSession(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	s.logger.Info("Signed out")
	return nil
}

// CurrentUser returns the signed-in user or ErrNotAuthenticated.
func (s *SyncService) CurrentUser(ctx context.Context) (*models.User, error) {
	return s.currentUser(ctx)
}
