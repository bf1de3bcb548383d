package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reelshelf/reelshelf-server/internal/domain"
	"github.com/reelshelf/reelshelf-server/internal/store"
)

// mediaItemColumns must match the scan order in scanMediaItem.
const mediaItemColumns = `id, file_path, file_name, duration_seconds,
	video_codec, audio_codec, converted_path, created_at, updated_at`

func scanMediaItem(scanner interface{ Scan(dest ...any) error }) (*domain.MediaItem, error) {
	var (
		m             domain.MediaItem
		convertedPath sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := scanner.Scan(
		&m.ID,
		&m.FilePath,
		&m.FileName,
		&m.DurationSeconds,
		&m.VideoCodec,
		&m.AudioCodec,
		&convertedPath,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.ConvertedPath = stringPtr(convertedPath)
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &m, nil
}

// normalizeCodec lowercases a codec name and maps empty to "unknown".
func normalizeCodec(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return domain.CodecUnknown
	}
	return c
}

// UpsertMediaItem inserts an item or updates the scanner-owned fields of an existing one.
// An item ID of 0 lets SQLite assign one; the assigned ID is written back.
// The converted path is only written on insert; updates go through SetConvertedPath.
func (s *Store) UpsertMediaItem(ctx context.Context, item *domain.MediaItem) error {
	if item.FilePath == "" {
		return store.ErrInvalidInput.WithMessage("file path is required")
	}

	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	item.VideoCodec = normalizeCodec(item.VideoCodec)
	item.AudioCodec = normalizeCodec(item.AudioCodec)

	var id any
	if item.ID != 0 {
		id = item.ID
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO media_items (
			id, file_path, file_name, duration_seconds,
			video_codec, audio_codec, converted_path, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_path = excluded.file_path,
			file_name = excluded.file_name,
			duration_seconds = excluded.duration_seconds,
			video_codec = excluded.video_codec,
			audio_codec = excluded.audio_codec,
			updated_at = excluded.updated_at
		RETURNING id`,
		id,
		item.FilePath,
		item.FileName,
		item.DurationSeconds,
		item.VideoCodec,
		item.AudioCodec,
		nullableString(item.ConvertedPath),
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
	)
	if err := row.Scan(&item.ID); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists.WithCause(err)
		}
		return fmt.Errorf("upsert media item: %w", err)
	}
	return nil
}

// GetMediaItem retrieves a media item by ID.
// Returns store.ErrNotFound if the item does not exist.
func (s *Store) GetMediaItem(ctx context.Context, id int64) (*domain.MediaItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mediaItemColumns+` FROM media_items WHERE id = ?`, id)

	item, err := scanMediaItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound.WithMessage(fmt.Sprintf("media item %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get media item %d: %w", id, err)
	}
	return item, nil
}

// ListMediaItems returns all media items ordered by ID.
func (s *Store) ListMediaItems(ctx context.Context) ([]*domain.MediaItem, error) {
	return s.queryMediaItems(ctx, `SELECT `+mediaItemColumns+` FROM media_items ORDER BY id`)
}

// ListIncompatibleWithoutConvertedOutput returns items whose codecs need conversion
// and which have no converted output recorded, ordered by ID.
func (s *Store) ListIncompatibleWithoutConvertedOutput(ctx context.Context) ([]*domain.MediaItem, error) {
	candidates, err := s.queryMediaItems(ctx,
		`SELECT `+mediaItemColumns+` FROM media_items WHERE converted_path IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}

	// The codec allow-lists live in domain; filtering here keeps a single definition.
	items := candidates[:0]
	for _, item := range candidates {
		if item.NeedsConversion() {
			items = append(items, item)
		}
	}
	return items, nil
}

// ListConvertedPaths returns every recorded converted path keyed by item ID.
func (s *Store) ListConvertedPaths(ctx context.Context) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, converted_path FROM media_items WHERE converted_path IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list converted paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[int64]string)
	for rows.Next() {
		var (
			id   int64
			path string
		)
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("scan converted path: %w", err)
		}
		paths[id] = path
	}
	return paths, rows.Err()
}

// SetConvertedPath records the finalized output for an item.
// Returns store.ErrNotFound if the item does not exist.
func (s *Store) SetConvertedPath(ctx context.Context, id int64, path string) error {
	if path == "" {
		return store.ErrInvalidInput.WithMessage("converted path is required")
	}
	return s.updateConvertedPath(ctx, id, sql.NullString{String: path, Valid: true})
}

// ClearConvertedPath removes the recorded output for an item.
// Returns store.ErrNotFound if the item does not exist.
func (s *Store) ClearConvertedPath(ctx context.Context, id int64) error {
	return s.updateConvertedPath(ctx, id, sql.NullString{})
}

// ClearConvertedPathByPath clears every item whose converted path equals path.
// Returns the number of items updated; zero is not an error.
func (s *Store) ClearConvertedPathByPath(ctx context.Context, path string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE media_items SET converted_path = NULL, updated_at = ? WHERE converted_path = ?`,
		formatTime(time.Now()), path)
	if err != nil {
		return 0, fmt.Errorf("clear converted path: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) updateConvertedPath(ctx context.Context, id int64, path sql.NullString) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE media_items SET converted_path = ?, updated_at = ? WHERE id = ?`,
		path, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update converted path for item %d: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound.WithMessage(fmt.Sprintf("media item %d not found", id))
	}
	return nil
}

func (s *Store) queryMediaItems(ctx context.Context, query string, args ...any) ([]*domain.MediaItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query media items: %w", err)
	}
	defer rows.Close()

	var items []*domain.MediaItem
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
