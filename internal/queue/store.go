package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"vouch/internal/fileutil"
)

// Store manages run-item persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the run database under stateDir.
func Open(stateDir string) (*Store, error) {
	if err := fileutil.EnsureDir(stateDir); err != nil {
		return nil, fmt.Errorf("ensure state directory: %w", err)
	}

	dbPath := filepath.Join(stateDir, "vouch.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const itemColumns = `id, identity_id, identity_index, request_id, status,
	progress_stage, progress_percent, progress_message, failure_reason,
	result_json, checkpoint_path, generated_dir, image_count, created_at, updated_at`

// NewIdentityRun inserts a new pending item for one identity validation run.
// Each run gets a fresh request id for log correlation.
func (s *Store) NewIdentityRun(ctx context.Context, identityID, identityIndex int) (*Item, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO run_items (
            identity_id, identity_index, request_id, status, created_at,
            updated_at, progress_percent
        ) VALUES (?, ?, ?, ?, ?, ?, 0)`,
		identityID,
		identityIndex,
		uuid.NewString(),
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert identity run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a run item by identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM run_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// LatestForIdentity returns the most recent run item for an identity, or nil.
func (s *Store) LatestForIdentity(ctx context.Context, identityID int) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM run_items WHERE identity_id = ? ORDER BY id DESC LIMIT 1`,
		identityID,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest for identity: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing run item.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE run_items
         SET identity_id = ?, identity_index = ?, request_id = ?, status = ?,
             progress_stage = ?, progress_percent = ?, progress_message = ?,
             failure_reason = ?, result_json = ?, checkpoint_path = ?,
             generated_dir = ?, image_count = ?, updated_at = ?
         WHERE id = ?`,
		item.IdentityID,
		item.IdentityIndex,
		nullableString(item.RequestID),
		item.Status,
		nullableString(item.ProgressStage),
		item.ProgressPercent,
		nullableString(item.ProgressMessage),
		nullableString(item.FailureReason),
		nullableString(item.ResultJSON),
		nullableString(item.CheckpointPath),
		nullableString(item.GeneratedDir),
		item.ImageCount,
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// List returns run items filtered by status set (or all items when no status
// is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM run_items`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ResetStuck rolls items stranded in a processing status back to pending,
// clearing progress. Used on startup after an interrupted batch.
func (s *Store) ResetStuck(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE run_items
         SET status = ?, progress_stage = NULL, progress_percent = 0,
             progress_message = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?)`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusPreflighting,
		StatusTraining,
		StatusGenerating,
		StatusScoring,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck items: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed returns failed and review items to pending. With ids it only
// touches those items; without, every failed or review item is reset.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	query := `UPDATE run_items
         SET status = ?, progress_stage = NULL, progress_percent = 0,
             progress_message = NULL, failure_reason = NULL, updated_at = ?
         WHERE status IN (?, ?)`
	args := []any{
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusFailed,
		StatusReview,
	}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a run item by id.
func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove item rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %d not found", id)
	}
	return nil
}

// Clear deletes all run items and returns the number removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_items`)
	if err != nil {
		return 0, fmt.Errorf("clear run items: %w", err)
	}
	return res.RowsAffected()
}

// Health aggregates item counts per lifecycle state.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM run_items GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("health query: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, fmt.Errorf("scan health row: %w", err)
		}
		summary.Total += count
		switch {
		case status == StatusPending:
			summary.Pending += count
		case IsProcessing(status):
			summary.Processing += count
		case status == StatusCompleted:
			summary.Completed += count
		case status == StatusFailed:
			summary.Failed += count
		case status == StatusReview:
			summary.Review += count
		}
	}
	return summary, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(scanner rowScanner) (*Item, error) {
	var (
		item            Item
		requestID       sql.NullString
		progressStage   sql.NullString
		progressMessage sql.NullString
		failureReason   sql.NullString
		resultJSON      sql.NullString
		checkpointPath  sql.NullString
		generatedDir    sql.NullString
		createdAt       string
		updatedAt       string
	)
	err := scanner.Scan(
		&item.ID,
		&item.IdentityID,
		&item.IdentityIndex,
		&requestID,
		&item.Status,
		&progressStage,
		&item.ProgressPercent,
		&progressMessage,
		&failureReason,
		&resultJSON,
		&checkpointPath,
		&generatedDir,
		&item.ImageCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.RequestID = requestID.String
	item.ProgressStage = progressStage.String
	item.ProgressMessage = progressMessage.String
	item.FailureReason = failureReason.String
	item.ResultJSON = resultJSON.String
	item.CheckpointPath = checkpointPath.String
	item.GeneratedDir = generatedDir.String
	item.CreatedAt = parseTimestamp(createdAt)
	item.UpdatedAt = parseTimestamp(updatedAt)
	return &item, nil
}

func parseTimestamp(value string) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	return time.Time{}
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}
