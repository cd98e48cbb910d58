package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classlens/classlens/internal/model"
)

// UpsertResponse stores a student's answer to one question. Re-answering
// overwrites; the latest write per (student, question) wins.
func (db *DB) UpsertResponse(ctx context.Context, resp model.QuestionResponse) error {
	if resp.AnsweredAt.IsZero() {
		resp.AnsweredAt = time.Now().UTC()
	}
	err := WithRetry(ctx, writeRetries, writeRetryDelay, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO question_responses (student_id, question_id, value, answered_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (student_id, question_id)
			 DO UPDATE SET value = EXCLUDED.value, answered_at = EXCLUDED.answered_at`,
			resp.StudentID, resp.QuestionID, string(resp.Value), resp.AnsweredAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: upsert response: %w", err)
	}
	return nil
}

// ListResponses returns every stored answer across a session's roster.
func (db *DB) ListResponses(ctx context.Context, sessionID uuid.UUID) ([]model.QuestionResponse, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT r.student_id, r.question_id, r.value, r.answered_at
		 FROM question_responses r
		 JOIN students s ON s.id = r.student_id
		 WHERE s.session_id = $1`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list responses: %w", err)
	}
	defer rows.Close()

	var responses []model.QuestionResponse
	for rows.Next() {
		var r model.QuestionResponse
		if err := rows.Scan(&r.StudentID, &r.QuestionID, &r.Value, &r.AnsweredAt); err != nil {
			return nil, fmt.Errorf("storage: scan response: %w", err)
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list responses rows: %w", err)
	}
	return responses, nil
}

// CountResponses returns the total number of stored answers in a session.
func (db *DB) CountResponses(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM question_responses r
		 JOIN students s ON s.id = r.student_id
		 WHERE s.session_id = $1`,
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count responses: %w", err)
	}
	return n, nil
}

// SaveReflection upserts a student's free-text reflection.
func (db *DB) SaveReflection(ctx context.Context, refl model.Reflection) error {
	if refl.SavedAt.IsZero() {
		refl.SavedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO reflections (student_id, text, saved_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (student_id)
		 DO UPDATE SET text = EXCLUDED.text, saved_at = EXCLUDED.saved_at`,
		refl.StudentID, refl.Text, refl.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save reflection: %w", err)
	}
	return nil
}
