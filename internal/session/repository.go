package session

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessionsByStatus(ctx context.Context, status string) ([]*Session, error)
	UpdateSessionStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateSessionProgress(ctx context.Context, id string, progress int) error
	RecordAppend(ctx context.Context, id string, n int64) error
	SetOutputPath(ctx context.Context, id, path string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const sessionColumns = `id, status, format, width, height, fps, bytes_received, chunks, progress, error, output_path, created_at, updated_at`

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, status, format, width, height, fps, bytes_received, chunks, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)
	`, s.ID, s.Status, s.Format, s.Width, s.Height, s.FPS, s.CreatedAt.UTC().Format(time.RFC3339), s.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SQLiteRepository) ListSessionsByStatus(ctx context.Context, status string) ([]*Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var s Session
	var errMsg, outputPath sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&s.ID, &s.Status, &s.Format, &s.Width, &s.Height, &s.FPS,
		&s.BytesReceived, &s.Chunks, &s.Progress, &errMsg, &outputPath, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.Error = errMsg.String
	s.OutputPath = outputPath.String
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func (r *SQLiteRepository) UpdateSessionStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), now(), id)
	return err
}

func (r *SQLiteRepository) UpdateSessionProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, now(), id)
	return err
}

func (r *SQLiteRepository) RecordAppend(ctx context.Context, id string, n int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET bytes_received = bytes_received + ?, chunks = chunks + 1, updated_at = ? WHERE id = ?
	`, n, now(), id)
	return err
}

func (r *SQLiteRepository) SetOutputPath(ctx context.Context, id, path string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET output_path = ?, updated_at = ? WHERE id = ?
	`, path, now(), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
