package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pricebot/internal/domain"
)

// File origins.
const (
	OriginUser      = "user"
	OriginGenerated = "generated"
)

// SQLiteStore holds uploaded files and voice preferences per conversation.
// It implements domain.FileStore and domain.PreferenceStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ domain.FileStore       = (*SQLiteStore)(nil)
	_ domain.PreferenceStore = (*SQLiteStore)(nil)
)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// SQLite: single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// AddFile records a file for a conversation. A zero TimeUploaded is set to now.
func (s *SQLiteStore) AddFile(ctx context.Context, conversationID string, f domain.StoredFile, origin string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	if f.Filename == "" {
		return errors.New("filename is required")
	}
	if f.TimeUploaded.IsZero() {
		f.TimeUploaded = s.now()
	}
	if origin == "" {
		origin = OriginUser
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (conversation_id, filename, size, mime_type, time_uploaded, origin)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, f.Filename, f.Size, f.MimeType, f.TimeUploaded.UnixMilli(), origin,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// ListFiles returns a conversation's files, oldest first.
func (s *SQLiteStore) ListFiles(ctx context.Context, conversationID string) ([]domain.StoredFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, size, mime_type, time_uploaded
		 FROM files WHERE conversation_id = ?
		 ORDER BY time_uploaded ASC, id ASC`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []domain.StoredFile
	for rows.Next() {
		var f domain.StoredFile
		var uploaded int64
		if err := rows.Scan(&f.Filename, &f.Size, &f.MimeType, &uploaded); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.TimeUploaded = time.UnixMilli(uploaded)
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetVoicePreference reads the preference; a conversation without one is disabled.
func (s *SQLiteStore) GetVoicePreference(ctx context.Context, conversationID string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled FROM voice_preferences WHERE conversation_id = ?`, conversationID,
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query voice preference: %w", err)
	}
	return enabled, nil
}

// SetVoicePreference stores the preference, replacing any previous value.
func (s *SQLiteStore) SetVoicePreference(ctx context.Context, conversationID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_preferences (conversation_id, enabled, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		conversationID, enabled, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert voice preference: %w", err)
	}
	return nil
}

// Ping checks that the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Backup writes a consistent copy of the database to dest, which must not
// exist yet.
func (s *SQLiteStore) Backup(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target %s already exists", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("cannot create backup directory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
