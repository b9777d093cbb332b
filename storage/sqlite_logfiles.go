package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"logguard/core"
)

const logFileColumns = `id, filename, original_name, file_size, status,
	uploaded_at, processed_at, total_entries, error_message`

func scanLogFile(row interface{ Scan(...interface{}) error }) (*core.LogFile, error) {
	var f core.LogFile
	var processedAt sql.NullTime

	err := row.Scan(
		&f.ID, &f.Filename, &f.OriginalName, &f.FileSize, &f.Status,
		&f.UploadedAt, &processedAt, &f.TotalEntries, &f.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		t := processedAt.Time
		f.ProcessedAt = &t
	}
	return &f, nil
}

// SaveLogFile inserts an upload session record.
func (s *SQLite) SaveLogFile(ctx context.Context, f *core.LogFile) error {
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = core.FileStatusPending
	}
	var processedAt sql.NullTime
	if f.ProcessedAt != nil {
		processedAt = sql.NullTime{Time: *f.ProcessedAt, Valid: true}
	}

	_, err := s.WriteDB.ExecContext(ctx, `
		INSERT INTO log_files (`+logFileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Filename, f.OriginalName, f.FileSize, f.Status,
		f.UploadedAt, processedAt, f.TotalEntries, f.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert log file: %w", err)
	}
	return nil
}

// GetLogFile fetches one upload record by ID.
func (s *SQLite) GetLogFile(ctx context.Context, id string) (*core.LogFile, error) {
	row := s.ReadDB.QueryRowContext(ctx,
		`SELECT `+logFileColumns+` FROM log_files WHERE id = ?`, id)
	f, err := scanLogFile(row)
	if err == sql.ErrNoRows {
		return nil, ErrLogFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get log file: %w", err)
	}
	return f, nil
}

// ListLogFiles returns all upload records, newest first.
func (s *SQLite) ListLogFiles(ctx context.Context) ([]core.LogFile, error) {
	rows, err := s.ReadDB.QueryContext(ctx,
		`SELECT `+logFileColumns+` FROM log_files ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	defer rows.Close()

	files := []core.LogFile{}
	for rows.Next() {
		f, err := scanLogFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log file row: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// UpdateLogFileStatus moves a file through its lifecycle, enforcing the
// transition rules. Completed and failed states also stamp processed_at.
func (s *SQLite) UpdateLogFileStatus(ctx context.Context, id, status string, totalEntries int, errorMessage string) error {
	current, err := s.GetLogFile(ctx, id)
	if err != nil {
		return err
	}
	if err := core.ValidateFileTransition(current.Status, status); err != nil {
		return err
	}

	var processedAt sql.NullTime
	if status == core.FileStatusCompleted || status == core.FileStatusFailed {
		processedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	result, err := s.WriteDB.ExecContext(ctx, `
		UPDATE log_files
		SET status = ?, total_entries = ?, error_message = ?, processed_at = ?
		WHERE id = ?`,
		status, totalEntries, errorMessage, processedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update log file status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrLogFileNotFound
	}
	return nil
}

// DeleteLogFile removes an upload record; anomalies cascade.
func (s *SQLite) DeleteLogFile(ctx context.Context, id string) error {
	result, err := s.WriteDB.ExecContext(ctx,
		"DELETE FROM log_files WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete log file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrLogFileNotFound
	}
	return nil
}
