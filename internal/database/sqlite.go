package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-audio-downloader-bot/internal/database/migrations"
	"go-audio-downloader-bot/internal/models"

	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Store errors
var (
	ErrStorage = errors.New("storage error")
	ErrNoData  = errors.New("no data for user")
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists users and completed downloads in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens (creating if needed) the database at path and applies migrations.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %v", ErrStorage, err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrStorage, err)
	}

	log.Infof("Database opened successfully at %s", path)
	return &Store{db: db, path: path}, nil
}

// buildDSN applies per-connection pragmas through the DSN so that every
// pooled connection gets them, not just the first.
func buildDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(log.StandardLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	log.Info("Closing database...")
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		log.WithError(lastErr).Debugf("Database busy, retrying (%d/%d) after %s", attempt+1, busyRetryAttempts, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// withTx runs fn in a transaction, committing on success and rolling back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, func() (err error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
			if err != nil {
				_ = tx.Rollback()
				return
			}
			err = tx.Commit()
		}()
		return fn(tx)
	})
}

// UpsertUserAndRecordDownload creates the user row on first download or bumps its
// counter, and inserts the download record, all in one transaction.
func (s *Store) UpsertUserAndRecordDownload(ctx context.Context, user models.ChatUser, item models.CandidateItem, fingerprint string, at time.Time) (models.DownloadRecord, error) {
	at = at.UTC()
	stamp := formatTime(at)
	record := models.DownloadRecord{
		UserID:       user.ID,
		SourceID:     item.SourceID,
		Title:        item.TitleOrDefault(),
		DownloadDate: at,
		Fingerprint:  fingerprint,
	}
	if record.SourceID == "" {
		record.SourceID = "unknown"
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (user_id, username, first_name, last_name, join_date, total_downloads, last_download_date)
			VALUES (?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				username = excluded.username,
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				total_downloads = users.total_downloads + 1,
				last_download_date = excluded.last_download_date`,
			user.ID, user.Username, user.FirstName, user.LastName, stamp, stamp,
		); err != nil {
			return fmt.Errorf("upsert user %d: %w", user.ID, err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO downloads (user_id, video_id, title, download_date, file_hash)
			VALUES (?, ?, ?, ?, ?)`,
			user.ID, record.SourceID, record.Title, stamp, fingerprint,
		)
		if err != nil {
			return fmt.Errorf("insert download for user %d: %w", user.ID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read download id: %w", err)
		}
		record.ID = id
		return nil
	})
	if err != nil {
		return models.DownloadRecord{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	log.WithFields(log.Fields{"user": user.ID, "record": record.ID}).Debug("Recorded download")
	return record, nil
}

// GetUserStats returns the aggregates shown by the stats command.
func (s *Store) GetUserStats(ctx context.Context, userID int64) (models.UserStats, error) {
	var (
		stats models.UserStats
		last  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			u.total_downloads,
			u.last_download_date,
			(SELECT COUNT(*) FROM downloads d WHERE d.user_id = u.user_id),
			(SELECT COUNT(DISTINCT d.video_id) FROM downloads d WHERE d.user_id = u.user_id)
		FROM users u WHERE u.user_id = ?`, userID,
	).Scan(&stats.TotalDownloads, &last, &stats.RecordCount, &stats.UniqueItems)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserStats{}, ErrNoData
	}
	if err != nil {
		return models.UserStats{}, fmt.Errorf("%w: user stats %d: %v", ErrStorage, userID, err)
	}
	stats.LastDownloadDate = parseNullTime(last)
	return stats, nil
}

// GetGlobalStats returns bot-wide totals.
func (s *Store) GetGlobalStats(ctx context.Context) (models.GlobalStats, error) {
	var stats models.GlobalStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM downloads),
			(SELECT COUNT(DISTINCT video_id) FROM downloads)`,
	).Scan(&stats.Users, &stats.Downloads, &stats.UniqueItems)
	if err != nil {
		return models.GlobalStats{}, fmt.Errorf("%w: global stats: %v", ErrStorage, err)
	}
	return stats, nil
}

// GetUser loads a single user row.
func (s *Store) GetUser(ctx context.Context, userID int64) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, first_name, last_name, join_date, total_downloads, last_download_date
		FROM users WHERE user_id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNoData
	}
	if err != nil {
		return models.User{}, fmt.Errorf("%w: get user %d: %v", ErrStorage, userID, err)
	}
	return user, nil
}

// ListUsers returns users ordered by download count, most active first.
func (s *Store) ListUsers(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, first_name, last_name, join_date, total_downloads, last_download_date
		FROM users ORDER BY total_downloads DESC, user_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %v", ErrStorage, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan user: %v", ErrStorage, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list users: %v", ErrStorage, err)
	}
	return users, nil
}

// ListDownloads returns the most recent downloads of a user.
func (s *Store) ListDownloads(ctx context.Context, userID int64, limit int) ([]models.DownloadRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, video_id, title, download_date, file_hash
		FROM downloads WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list downloads: %v", ErrStorage, err)
	}
	defer rows.Close()

	var records []models.DownloadRecord
	for rows.Next() {
		record, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan download: %v", ErrStorage, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list downloads: %v", ErrStorage, err)
	}
	return records, nil
}

// CountDownloads returns the total number of download records.
func (s *Store) CountDownloads(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count downloads: %v", ErrStorage, err)
	}
	return n, nil
}

// ForEachDownload calls fn for every download record in insertion order.
// Returning an error from fn stops the iteration.
func (s *Store) ForEachDownload(ctx context.Context, fn func(models.DownloadRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, video_id, title, download_date, file_hash
		FROM downloads ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("%w: iterate downloads: %v", ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanDownload(rows)
		if err != nil {
			return fmt.Errorf("%w: scan download: %v", ErrStorage, err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		user models.User
		join string
		last sql.NullString
	)
	if err := row.Scan(&user.ID, &user.Username, &user.FirstName, &user.LastName, &join, &user.TotalDownloads, &last); err != nil {
		return models.User{}, err
	}
	user.JoinDate = parseTime(join)
	user.LastDownloadDate = parseNullTime(last)
	return user, nil
}

func scanDownload(row rowScanner) (models.DownloadRecord, error) {
	var (
		record models.DownloadRecord
		stamp  string
	)
	if err := row.Scan(&record.ID, &record.UserID, &record.SourceID, &record.Title, &stamp, &record.Fingerprint); err != nil {
		return models.DownloadRecord{}, err
	}
	record.DownloadDate = parseTime(stamp)
	return record, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	log.Warnf("Unparseable timestamp in database: %q", value)
	return time.Time{}
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t := parseTime(value.String)
	return &t
}
