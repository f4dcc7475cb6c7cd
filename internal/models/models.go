package models

import "time"

// Model is a row-backed record: [PersistedQueue] and [CachedTrack].
type Model interface {
	ID() string
	CreatedAt() time.Time
	UpdatedAt() time.Time
	// Validate rejects records that must not reach the database.
	Validate() error
}

// Repository is the CRUD surface shared by the queue and track stores.
//
// List criteria keys are column names; unknown keys are ignored by implementations.
type Repository[T Model] interface {
	Create(model T) error
	Get(id string) (T, error)
	Update(model T) error
	Delete(id string) error
	List(criteria map[string]any) ([]T, error)
}
