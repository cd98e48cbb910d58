package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/classlens/classlens/internal/model"
)

// UpsertTraitScores stores a student's five trait axes. Resubmission overwrites.
func (db *DB) UpsertTraitScores(ctx context.Context, scores model.TraitScores) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO trait_scores (student_id, openness, conscientiousness, extraversion, agreeableness, neuroticism)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (student_id)
		 DO UPDATE SET openness = EXCLUDED.openness,
		               conscientiousness = EXCLUDED.conscientiousness,
		               extraversion = EXCLUDED.extraversion,
		               agreeableness = EXCLUDED.agreeableness,
		               neuroticism = EXCLUDED.neuroticism`,
		scores.StudentID, scores.Openness, scores.Conscientiousness,
		scores.Extraversion, scores.Agreeableness, scores.Neuroticism,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert trait scores: %w", err)
	}
	return nil
}

// GetTraitScores fetches one student's trait axes.
func (db *DB) GetTraitScores(ctx context.Context, studentID uuid.UUID) (model.TraitScores, error) {
	var t model.TraitScores
	err := db.pool.QueryRow(ctx,
		`SELECT student_id, openness, conscientiousness, extraversion, agreeableness, neuroticism
		 FROM trait_scores WHERE student_id = $1`,
		studentID,
	).Scan(&t.StudentID, &t.Openness, &t.Conscientiousness, &t.Extraversion, &t.Agreeableness, &t.Neuroticism)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TraitScores{}, fmt.Errorf("storage: trait scores %s: %w", studentID, ErrNotFound)
		}
		return model.TraitScores{}, fmt.Errorf("storage: get trait scores: %w", err)
	}
	return t, nil
}

// ListTraitScores returns trait axes for every student in a session, keyed by
// student id. Students who have not completed the inventory are absent.
func (db *DB) ListTraitScores(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]model.TraitScores, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT t.student_id, t.openness, t.conscientiousness, t.extraversion, t.agreeableness, t.neuroticism
		 FROM trait_scores t
		 JOIN students s ON s.id = t.student_id
		 WHERE s.session_id = $1`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list trait scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[uuid.UUID]model.TraitScores)
	for rows.Next() {
		var t model.TraitScores
		if err := rows.Scan(&t.StudentID, &t.Openness, &t.Conscientiousness, &t.Extraversion, &t.Agreeableness, &t.Neuroticism); err != nil {
			return nil, fmt.Errorf("storage: scan trait scores: %w", err)
		}
		scores[t.StudentID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list trait scores rows: %w", err)
	}
	return scores, nil
}
