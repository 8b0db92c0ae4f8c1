package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"deploytime/sync-agent/internal/models"
)

// Well-known config keys.
const (
	ConfigServerURL      = "server_url"
	ConfigAuthToken      = "auth_token"
	ConfigUser           = "user"
	ConfigInstallationID = "installation_id"
)

func (s *LocalStore) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("config %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read config %q: %w", key, err)
	}
	return value, nil
}

func (s *LocalStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write config %q: %w", key, err)
	}
	return nil
}

func (s *LocalStore) DeleteConfig(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM config WHERE key IN ("+placeholders(len(keys))+")", args...); err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}

// SaveSession stores the bearer token and the signed-in user.
func (s *LocalStore) SaveSession(ctx context.Context, token string, user models.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for key, value := range map[string]string{ConfigAuthToken: token, ConfigUser: string(userJSON)} {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO config (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, key, value)
			if err != nil {
				return fmt.Errorf("failed to write config %q: %w", key, err)
			}
		}
		return nil
	})
}

// Session returns the stored token and user, or ErrNotFound when signed out.
func (s *LocalStore) Session(ctx context.Context) (string, *models.User, error) {
	token, err := s.GetConfig(ctx, ConfigAuthToken)
	if err != nil {
		return "", nil, err
	}
	raw, err := s.GetConfig(ctx, ConfigUser)
	if err != nil {
		return "", nil, err
	}
	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return "", nil, fmt.Errorf("failed to parse cached user: %w", err)
	}
	return token, &user, nil
}

// ClearSession removes the token and the cached identity.
func (s *LocalStore) ClearSession(ctx context.Context) error {
	return s.DeleteConfig(ctx, ConfigAuthToken, ConfigUser)
}
