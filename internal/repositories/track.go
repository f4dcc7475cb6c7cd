package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
)

const trackColumns = `id, sequence, provider, provider_track_id, title, artist, album, duration, cover_url,
	bitrate, sample_rate, bit_depth, quality_label, created_at, updated_at, deleted_at`

// TrackRepository implements models.Repository[*models.CachedTrack] for track display metadata.
//
// Rows are unique per (provider, provider_track_id) and soft deleted. Stream URLs are never written.
type TrackRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.CachedTrack] = (*TrackRepository)(nil)

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

// Create inserts a new [models.CachedTrack] into the database with generated ID and sequence
func (r *TrackRepository) Create(track *models.CachedTrack) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "tracks")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	track.SetID(id)
	track.SetSequence(sequence)

	t := track.Track()
	query := `
		INSERT INTO tracks (id, sequence, provider, provider_track_id, title, artist, album, duration, cover_url,
			bitrate, sample_rate, bit_depth, quality_label, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		id,
		sequence,
		t.Source,
		t.ID,
		t.Title,
		t.Artist,
		t.Album,
		t.Duration,
		t.CoverURL,
		t.Quality.Bitrate,
		t.Quality.SampleRate,
		t.Quality.BitDepth,
		t.Quality.Label,
		track.CreatedAt(),
		track.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}

	return nil
}

// Get retrieves a track by ID, excluding soft-deleted tracks
func (r *TrackRepository) Get(id string) (*models.CachedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByProviderID retrieves a track by provider and the provider's own track id
func (r *TrackRepository) GetByProviderID(provider models.ProviderID, trackID string) (*models.CachedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE provider = ? AND provider_track_id = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(query, provider, trackID))
}

// Update modifies the metadata of an existing track
func (r *TrackRepository) Update(track *models.CachedTrack) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	track.SetUpdatedAt(now)

	t := track.Track()
	query := `
		UPDATE tracks
		SET title = ?, artist = ?, album = ?, duration = ?, cover_url = ?,
			bitrate = ?, sample_rate = ?, bit_depth = ?, quality_label = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		t.Title,
		t.Artist,
		t.Album,
		t.Duration,
		t.CoverURL,
		t.Quality.Bitrate,
		t.Quality.SampleRate,
		t.Quality.BitDepth,
		t.Quality.Label,
		now,
		track.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}

	return affectedOne(result, shared.ErrTrackNotFound, track.ID())
}

// Delete soft-deletes a track by ID
func (r *TrackRepository) Delete(id string) error {
	query := `
		UPDATE tracks
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}

	return affectedOne(result, shared.ErrTrackNotFound, id)
}

// List retrieves all tracks matching the given criteria, excluding soft-deleted tracks
//
// Supported criteria: "provider".
func (r *TrackRepository) List(criteria map[string]any) ([]*models.CachedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE deleted_at IS NULL`
	args := []any{}

	if provider, ok := criteria["provider"].(string); ok && provider != "" {
		query += " AND provider = ?"
		args = append(args, provider)
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*models.CachedTrack
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return tracks, nil
}

// scanOne scans a single [sql.Row] into a [models.CachedTrack]
func (r *TrackRepository) scanOne(row *sql.Row) (*models.CachedTrack, error) {
	track, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrTrackNotFound
	}
	return track, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrack(s scanner) (*models.CachedTrack, error) {
	var (
		id         string
		sequence   int
		provider   string
		trackID    string
		title      string
		artist     string
		album      string
		duration   sql.NullInt64
		coverURL   sql.NullString
		bitrate    sql.NullInt64
		sampleRate sql.NullInt64
		bitDepth   sql.NullInt64
		label      string
		createdAt  time.Time
		updatedAt  time.Time
		deletedAt  sql.NullTime
	)

	err := s.Scan(&id, &sequence, &provider, &trackID, &title, &artist, &album, &duration, &coverURL,
		&bitrate, &sampleRate, &bitDepth, &label, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}

	dto := models.Track{
		ID:       trackID,
		Title:    title,
		Artist:   artist,
		Album:    album,
		Duration: nullInt(duration),
		Source:   models.ParseProviderID(provider),
		CoverURL: nullString(coverURL),
		Quality: models.Quality{
			Bitrate:    nullInt(bitrate),
			SampleRate: nullInt(sampleRate),
			BitDepth:   nullInt(bitDepth),
			Label:      label,
		},
	}

	track := models.NewCachedTrack(sequence, dto)
	track.SetID(id)
	track.SetCreatedAt(createdAt)
	track.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		track.SetDeletedAt(&deletedAt.Time)
	}

	return track, nil
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// affectedOne turns a zero-row result into a wrapped notFound error.
func affectedOne(result sql.Result, notFound error, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w or already deleted: %s", notFound, id)
	}
	return nil
}
