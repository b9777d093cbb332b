package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"logguard/core"
)

const webhookColumns = `id, url, secret, events, enabled, min_risk_score, created_at`

func scanWebhook(row interface{ Scan(...interface{}) error }) (*core.Webhook, error) {
	var w core.Webhook
	var events string
	var enabled int

	err := row.Scan(&w.ID, &w.URL, &w.Secret, &events, &enabled, &w.MinRiskScore, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(events), &w.Events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook events: %w", err)
	}
	w.Enabled = enabled == 1
	return &w, nil
}

// SaveWebhook inserts a webhook registration.
func (s *SQLite) SaveWebhook(ctx context.Context, w *core.Webhook) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	events, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook events: %w", err)
	}
	enabled := 0
	if w.Enabled {
		enabled = 1
	}

	_, err = s.WriteDB.ExecContext(ctx, `
		INSERT INTO webhooks (`+webhookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.URL, w.Secret, string(events), enabled, w.MinRiskScore, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook: %w", err)
	}
	return nil
}

// GetWebhook fetches one webhook by ID.
func (s *SQLite) GetWebhook(ctx context.Context, id string) (*core.Webhook, error) {
	row := s.ReadDB.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	w, err := scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

// ListWebhooks returns all registered webhooks.
func (s *SQLite) ListWebhooks(ctx context.Context) ([]core.Webhook, error) {
	rows, err := s.ReadDB.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := []core.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook row: %w", err)
		}
		webhooks = append(webhooks, *w)
	}
	return webhooks, rows.Err()
}

// UpdateWebhook replaces a webhook registration in place.
func (s *SQLite) UpdateWebhook(ctx context.Context, w *core.Webhook) error {
	if err := w.Validate(); err != nil {
		return err
	}
	events, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook events: %w", err)
	}
	enabled := 0
	if w.Enabled {
		enabled = 1
	}

	result, err := s.WriteDB.ExecContext(ctx, `
		UPDATE webhooks SET url = ?, secret = ?, events = ?, enabled = ?, min_risk_score = ?
		WHERE id = ?`,
		w.URL, w.Secret, string(events), enabled, w.MinRiskScore, w.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

// DeleteWebhook removes a webhook registration.
func (s *SQLite) DeleteWebhook(ctx context.Context, id string) error {
	result, err := s.WriteDB.ExecContext(ctx,
		"DELETE FROM webhooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrWebhookNotFound
	}
	return nil
}
