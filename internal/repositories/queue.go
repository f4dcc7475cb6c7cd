package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/sonar/internal/models"
	"github.com/desertthunder/sonar/internal/shared"
)

const queueColumns = `id, sequence, name, source_kind, source_id, source_provider, tracks, track_order, current_index,
	play_mode, loop_mode, repeat_count, repeats_done, current_track, created_at, updated_at, deleted_at`

// QueueRepository implements models.Repository[*models.PersistedQueue] for playback queue snapshots.
//
// Track references and traversal order are stored as JSON arrays. Names are unique among live queues.
type QueueRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.PersistedQueue] = (*QueueRepository)(nil)

// NewQueueRepository creates a new QueueRepository with the given database connection
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Create inserts a queue. The snapshot id is kept when set so the in-memory queue and its row agree.
func (r *QueueRepository) Create(queue *models.PersistedQueue) error {
	if err := queue.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "queues")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if queue.ID() == "" {
		queue.SetID(shared.GenerateID())
	}
	queue.SetSequence(sequence)

	cols, err := encodeSnapshot(queue.Snapshot())
	if err != nil {
		return err
	}

	query := `
		INSERT INTO queues (id, sequence, name, source_kind, source_id, source_provider, tracks, track_order,
			current_index, play_mode, loop_mode, repeat_count, repeats_done, current_track, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		queue.ID(),
		sequence,
		queue.Name(),
		cols.sourceKind,
		cols.sourceID,
		cols.sourceProvider,
		cols.tracks,
		cols.order,
		cols.currentIndex,
		cols.playMode,
		cols.loopMode,
		cols.repeatCount,
		cols.repeatsDone,
		cols.current,
		queue.CreatedAt(),
		queue.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue: %w", err)
	}

	return nil
}

// Get retrieves a queue by ID, excluding soft-deleted queues
func (r *QueueRepository) Get(id string) (*models.PersistedQueue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE id = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByName retrieves the live queue with the given name
func (r *QueueRepository) GetByName(name string) (*models.PersistedQueue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE name = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(query, name))
}

// Update replaces the stored snapshot of an existing queue
func (r *QueueRepository) Update(queue *models.PersistedQueue) error {
	if err := queue.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	queue.SetUpdatedAt(now)

	cols, err := encodeSnapshot(queue.Snapshot())
	if err != nil {
		return err
	}

	query := `
		UPDATE queues
		SET source_kind = ?, source_id = ?, source_provider = ?, tracks = ?, track_order = ?, current_index = ?,
			play_mode = ?, loop_mode = ?, repeat_count = ?, repeats_done = ?, current_track = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		cols.sourceKind,
		cols.sourceID,
		cols.sourceProvider,
		cols.tracks,
		cols.order,
		cols.currentIndex,
		cols.playMode,
		cols.loopMode,
		cols.repeatCount,
		cols.repeatsDone,
		cols.current,
		now,
		queue.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update queue: %w", err)
	}

	return affectedOne(result, shared.ErrQueueNotFound, queue.ID())
}

// Delete soft-deletes a queue by ID
func (r *QueueRepository) Delete(id string) error {
	query := `
		UPDATE queues
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete queue: %w", err)
	}

	return affectedOne(result, shared.ErrQueueNotFound, id)
}

// List retrieves live queues matching the given criteria
//
// Supported criteria: "name", "source_kind".
func (r *QueueRepository) List(criteria map[string]any) ([]*models.PersistedQueue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE deleted_at IS NULL`
	args := []any{}

	if name, ok := criteria["name"].(string); ok && name != "" {
		query += " AND name = ?"
		args = append(args, name)
	}

	if kind, ok := criteria["source_kind"].(string); ok && kind != "" {
		query += " AND source_kind = ?"
		args = append(args, kind)
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queues: %w", err)
	}
	defer rows.Close()

	var queues []*models.PersistedQueue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, queue)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return queues, nil
}

// Save stores snapshot under name, updating the live queue of that name when one exists.
func (r *QueueRepository) Save(name string, snapshot models.QueueSnapshot) (*models.PersistedQueue, error) {
	existing, err := r.GetByName(name)
	switch {
	case errors.Is(err, shared.ErrQueueNotFound):
		queue := models.NewPersistedQueue(0, name, snapshot)
		if err := r.Create(queue); err != nil {
			return nil, err
		}
		return queue, nil
	case err != nil:
		return nil, err
	}

	if snapshot.ID != "" && snapshot.ID != existing.ID() {
		// A different queue took over the name: retire the old row and keep the new id.
		if err := r.Delete(existing.ID()); err != nil {
			return nil, err
		}
		queue := models.NewPersistedQueue(0, name, snapshot)
		if err := r.Create(queue); err != nil {
			return nil, err
		}
		return queue, nil
	}

	existing.SetSnapshot(snapshot)
	if err := r.Update(existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (r *QueueRepository) scanOne(row *sql.Row) (*models.PersistedQueue, error) {
	queue, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrQueueNotFound
	}
	return queue, err
}

// snapshotColumns is the flat column form of a [models.QueueSnapshot].
type snapshotColumns struct {
	sourceKind     string
	sourceID       string
	sourceProvider string
	tracks         string
	order          string
	currentIndex   int
	playMode       string
	loopMode       string
	repeatCount    int
	repeatsDone    int
	current        sql.NullString
}

func encodeSnapshot(s models.QueueSnapshot) (snapshotColumns, error) {
	tracks := s.Tracks
	if tracks == nil {
		tracks = []models.TrackRef{}
	}
	order := s.Order
	if order == nil {
		order = []int{}
	}

	tracksJSON, err := json.Marshal(tracks)
	if err != nil {
		return snapshotColumns{}, fmt.Errorf("failed to encode queue tracks: %w", err)
	}
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return snapshotColumns{}, fmt.Errorf("failed to encode queue order: %w", err)
	}

	cols := snapshotColumns{
		sourceKind:     string(s.Source.Kind),
		sourceID:       s.Source.ID,
		sourceProvider: string(s.Source.Provider),
		tracks:         string(tracksJSON),
		order:          string(orderJSON),
		currentIndex:   s.CurrentIndex,
		playMode:       string(s.PlayMode),
		loopMode:       string(s.LoopMode),
		repeatCount:    s.RepeatCount,
		repeatsDone:    s.RepeatsDone,
	}
	if cols.sourceKind == "" {
		cols.sourceKind = string(models.SourceAdhoc)
	}
	if s.Current != nil {
		current, err := json.Marshal(s.Current)
		if err != nil {
			return snapshotColumns{}, fmt.Errorf("failed to encode now playing: %w", err)
		}
		cols.current = sql.NullString{String: string(current), Valid: true}
	}
	return cols, nil
}

func scanQueue(s scanner) (*models.PersistedQueue, error) {
	var (
		id        string
		sequence  int
		name      string
		cols      snapshotColumns
		createdAt time.Time
		updatedAt time.Time
		deletedAt sql.NullTime
	)

	err := s.Scan(&id, &sequence, &name, &cols.sourceKind, &cols.sourceID, &cols.sourceProvider, &cols.tracks,
		&cols.order, &cols.currentIndex, &cols.playMode, &cols.loopMode, &cols.repeatCount, &cols.repeatsDone,
		&cols.current, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}

	snapshot := models.QueueSnapshot{
		ID: id,
		Source: models.SourceRef{
			Kind:     models.SourceKind(cols.sourceKind),
			ID:       cols.sourceID,
			Provider: models.ProviderID(cols.sourceProvider),
		},
		CurrentIndex: cols.currentIndex,
		PlayMode:     models.ParsePlayMode(cols.playMode),
		LoopMode:     models.ParseLoopMode(cols.loopMode),
		RepeatCount:  cols.repeatCount,
		RepeatsDone:  cols.repeatsDone,
		CreatedAt:    createdAt,
	}
	if err := json.Unmarshal([]byte(cols.tracks), &snapshot.Tracks); err != nil {
		return nil, fmt.Errorf("failed to decode queue tracks: %w", err)
	}
	if err := json.Unmarshal([]byte(cols.order), &snapshot.Order); err != nil {
		return nil, fmt.Errorf("failed to decode queue order: %w", err)
	}
	if cols.current.Valid {
		var np models.NowPlaying
		if err := json.Unmarshal([]byte(cols.current.String), &np); err != nil {
			return nil, fmt.Errorf("failed to decode now playing: %w", err)
		}
		snapshot.Current = &np
	}

	queue := models.NewPersistedQueue(sequence, name, snapshot)
	queue.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		queue.SetDeletedAt(&deletedAt.Time)
	}

	return queue, nil
}
