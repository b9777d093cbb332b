package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"logguard/core"
)

// SetAPIKey stores or replaces the key for a provider.
func (s *SQLite) SetAPIKey(ctx context.Context, provider, key string) (*core.APIKeyRecord, error) {
	provider = core.NormalizeProvider(provider)
	if !core.ValidProvider(provider) {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if key == "" {
		return nil, fmt.Errorf("api key must not be empty")
	}

	now := time.Now().UTC()
	record := &core.APIKeyRecord{
		ID:        uuid.NewString(),
		Provider:  provider,
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.WriteDB.ExecContext(ctx, `
		INSERT INTO api_keys (id, provider, key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET key = excluded.key, updated_at = excluded.updated_at`,
		record.ID, record.Provider, record.Key, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}
	return record, nil
}

// GetAPIKey fetches the stored key for a provider.
func (s *SQLite) GetAPIKey(ctx context.Context, provider string) (*core.APIKeyRecord, error) {
	provider = core.NormalizeProvider(provider)

	var record core.APIKeyRecord
	err := s.ReadDB.QueryRowContext(ctx, `
		SELECT id, provider, key, created_at, updated_at
		FROM api_keys WHERE provider = ?`, provider).Scan(
		&record.ID, &record.Provider, &record.Key, &record.CreatedAt, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &record, nil
}

// KeyStatus reports which providers have a stored key without exposing keys.
func (s *SQLite) KeyStatus(ctx context.Context) (core.KeyStatus, error) {
	rows, err := s.ReadDB.QueryContext(ctx, "SELECT provider FROM api_keys")
	if err != nil {
		return core.KeyStatus{}, fmt.Errorf("failed to query key status: %w", err)
	}
	defer rows.Close()

	var status core.KeyStatus
	for rows.Next() {
		var provider string
		if err := rows.Scan(&provider); err != nil {
			return core.KeyStatus{}, fmt.Errorf("failed to scan provider: %w", err)
		}
		switch provider {
		case core.ProviderOpenAI:
			status.OpenAI.Configured = true
		case core.ProviderGemini:
			status.Gemini.Configured = true
		}
	}
	return status, rows.Err()
}

// DeleteAPIKey removes the key for a provider.
func (s *SQLite) DeleteAPIKey(ctx context.Context, provider string) error {
	provider = core.NormalizeProvider(provider)

	result, err := s.WriteDB.ExecContext(ctx,
		"DELETE FROM api_keys WHERE provider = ?", provider)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
