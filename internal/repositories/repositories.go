package repositories

import (
	"database/sql"
	"fmt"

	"github.com/desertthunder/sonar/internal/shared"
)

// sequenced lists the tables that carry a companion <table>_sequence counter row.
var sequenced = map[string]string{
	"tracks": "tracks_sequence",
	"queues": "queues_sequence",
}

// NextSequence bumps the counter for table and returns the new value.
//
// Sequences order cached tracks and saved queues by insertion; they never leave the database.
func NextSequence(db *sql.DB, table string) (int, error) {
	counter, ok := sequenced[table]
	if !ok {
		return 0, fmt.Errorf("%w: %q has no sequence", shared.ErrInvalidArgument, table)
	}

	var next int
	row := db.QueryRow(fmt.Sprintf("UPDATE %s SET value = value + 1 WHERE id = 1 RETURNING value", counter))
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to advance %s: %w", counter, err)
	}
	return next, nil
}
