package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/classlens/classlens/internal/model"
)

// CountStudentsByStatus tallies the roster by progress stage. Stages with no
// students are present with a zero count so consumers see the full sequence.
func (db *DB) CountStudentsByStatus(ctx context.Context, sessionID uuid.UUID) (map[model.ProgressStatus]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT progress, COUNT(*)
		 FROM students
		 WHERE session_id = $1
		 GROUP BY progress`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: count students by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ProgressStatus]int, len(model.AllStatuses))
	for _, status := range model.AllStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var status model.ProgressStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("storage: scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: count students rows: %w", err)
	}
	return counts, nil
}
