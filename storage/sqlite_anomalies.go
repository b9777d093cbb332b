package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"logguard/core"
)

func marshalJSONColumn(v map[string]interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSONColumn(col sql.NullString) (map[string]interface{}, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(col.String), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}
	return m, nil
}

const anomalyColumns = `id, log_file_id, timestamp, anomaly_type, description, risk_score,
	detection_method, status, source_data, raw_log_entry, log_line_number,
	ai_analysis, priority, analyst_notes, reviewed_at, created_at`

func scanAnomaly(row interface{ Scan(...interface{}) error }) (*core.Anomaly, error) {
	var a core.Anomaly
	var logFileID, sourceData, aiAnalysis sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&a.ID, &logFileID, &a.Timestamp, &a.AnomalyType, &a.Description, &a.RiskScore,
		&a.DetectionMethod, &a.Status, &sourceData, &a.RawLogEntry, &a.LogLineNumber,
		&aiAnalysis, &a.Priority, &a.AnalystNotes, &reviewedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.LogFileID = logFileID.String
	if a.SourceData, err = unmarshalJSONColumn(sourceData); err != nil {
		return nil, err
	}
	if a.AIAnalysis, err = unmarshalJSONColumn(aiAnalysis); err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		a.ReviewedAt = &t
	}
	return &a, nil
}

// SaveAnomaly inserts one anomaly, clamping the risk score on the way in.
func (s *SQLite) SaveAnomaly(ctx context.Context, a *core.Anomaly) error {
	sourceData, err := marshalJSONColumn(a.SourceData)
	if err != nil {
		return err
	}
	aiAnalysis, err := marshalJSONColumn(a.AIAnalysis)
	if err != nil {
		return err
	}

	var logFileID sql.NullString
	if a.LogFileID != "" {
		logFileID = sql.NullString{String: a.LogFileID, Valid: true}
	}
	var reviewedAt sql.NullTime
	if a.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: *a.ReviewedAt, Valid: true}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.RiskScore = core.ClampRiskScore(a.RiskScore)

	_, err = s.WriteDB.ExecContext(ctx, `
		INSERT INTO anomalies (`+anomalyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, logFileID, a.Timestamp, a.AnomalyType, a.Description, a.RiskScore,
		a.DetectionMethod, a.Status, sourceData, a.RawLogEntry, a.LogLineNumber,
		aiAnalysis, a.Priority, a.AnalystNotes, reviewedAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert anomaly: %w", err)
	}
	return nil
}

// SaveAnomalies inserts a batch inside one transaction.
func (s *SQLite) SaveAnomalies(ctx context.Context, anomalies []core.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	return s.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO anomalies (`+anomalyColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare anomaly insert: %w", err)
		}
		defer stmt.Close()

		for i := range anomalies {
			a := &anomalies[i]
			sourceData, err := marshalJSONColumn(a.SourceData)
			if err != nil {
				return err
			}
			aiAnalysis, err := marshalJSONColumn(a.AIAnalysis)
			if err != nil {
				return err
			}
			var logFileID sql.NullString
			if a.LogFileID != "" {
				logFileID = sql.NullString{String: a.LogFileID, Valid: true}
			}
			var reviewedAt sql.NullTime
			if a.ReviewedAt != nil {
				reviewedAt = sql.NullTime{Time: *a.ReviewedAt, Valid: true}
			}
			if a.CreatedAt.IsZero() {
				a.CreatedAt = time.Now().UTC()
			}
			a.RiskScore = core.ClampRiskScore(a.RiskScore)

			if _, err := stmt.ExecContext(ctx,
				a.ID, logFileID, a.Timestamp, a.AnomalyType, a.Description, a.RiskScore,
				a.DetectionMethod, a.Status, sourceData, a.RawLogEntry, a.LogLineNumber,
				aiAnalysis, a.Priority, a.AnalystNotes, reviewedAt, a.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert anomaly %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

// GetAnomaly fetches a single anomaly by ID.
func (s *SQLite) GetAnomaly(ctx context.Context, id string) (*core.Anomaly, error) {
	row := s.ReadDB.QueryRowContext(ctx,
		`SELECT `+anomalyColumns+` FROM anomalies WHERE id = ?`, id)
	a, err := scanAnomaly(row)
	if err == sql.ErrNoRows {
		return nil, ErrAnomalyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly: %w", err)
	}
	return a, nil
}

// escapeLike neutralizes LIKE wildcards in user-supplied search terms.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	return strings.ReplaceAll(s, "_", "\\_")
}

// ListAnomalies returns anomalies matching the filter, newest first.
func (s *SQLite) ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]core.Anomaly, error) {
	var conds []string
	var args []interface{}

	if filter.LogFileID != "" {
		conds = append(conds, "log_file_id = ?")
		args = append(args, filter.LogFileID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.DetectionMethod != "" {
		conds = append(conds, "detection_method = ?")
		args = append(args, filter.DetectionMethod)
	}
	if filter.MinRiskScore > 0 {
		conds = append(conds, "risk_score >= ?")
		args = append(args, filter.MinRiskScore)
	}
	if filter.Search != "" {
		conds = append(conds, "(anomaly_type LIKE ? ESCAPE '\\' OR description LIKE ? ESCAPE '\\' OR raw_log_entry LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(filter.Search) + "%"
		args = append(args, pattern, pattern, pattern)
	}

	query := `SELECT ` + anomalyColumns + ` FROM anomalies`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY risk_score DESC, created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	anomalies := []core.Anomaly{}
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly row: %w", err)
		}
		anomalies = append(anomalies, *a)
	}
	return anomalies, rows.Err()
}

// UpdateAnomaly applies a partial review update and returns the fresh row.
func (s *SQLite) UpdateAnomaly(ctx context.Context, id string, update core.AnomalyUpdate) (*core.Anomaly, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	var sets []string
	var args []interface{}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *update.Priority)
	}
	if update.AnalystNotes != nil {
		sets = append(sets, "analyst_notes = ?")
		args = append(args, *update.AnalystNotes)
	}
	if len(sets) == 0 {
		return s.GetAnomaly(ctx, id)
	}

	reviewedAt := time.Now().UTC()
	if update.ReviewedAt != nil {
		reviewedAt = *update.ReviewedAt
	}
	sets = append(sets, "reviewed_at = ?")
	args = append(args, reviewedAt)
	args = append(args, id)

	result, err := s.WriteDB.ExecContext(ctx,
		"UPDATE anomalies SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update anomaly: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrAnomalyNotFound
	}

	return s.GetAnomaly(ctx, id)
}

// BulkUpdateStatus moves every listed anomaly to status inside a single
// transaction. An unknown ID aborts the whole batch so the caller never sees
// a half-applied update.
func (s *SQLite) BulkUpdateStatus(ctx context.Context, ids []string, status string, reviewedAt time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > MaxBulkIDs {
		return 0, fmt.Errorf("%w: %d ids (max %d)", ErrTooManyIDs, len(ids), MaxBulkIDs)
	}
	if !core.ValidStatus(status) {
		return 0, fmt.Errorf("invalid status: %s", status)
	}

	updated := 0
	err := s.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"UPDATE anomalies SET status = ?, reviewed_at = ? WHERE id = ?")
		if err != nil {
			return fmt.Errorf("failed to prepare bulk update: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			result, err := stmt.ExecContext(ctx, status, reviewedAt, id)
			if err != nil {
				return fmt.Errorf("failed to update anomaly %s: %w", id, err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			if affected == 0 {
				return fmt.Errorf("%w: %s", ErrAnomalyNotFound, id)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// SetAIAnalysis attaches AI analysis output to an anomaly.
func (s *SQLite) SetAIAnalysis(ctx context.Context, id string, analysis map[string]interface{}) error {
	col, err := marshalJSONColumn(analysis)
	if err != nil {
		return err
	}
	result, err := s.WriteDB.ExecContext(ctx,
		"UPDATE anomalies SET ai_analysis = ? WHERE id = ?", col, id)
	if err != nil {
		return fmt.Errorf("failed to set AI analysis: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAnomalyNotFound
	}
	return nil
}
