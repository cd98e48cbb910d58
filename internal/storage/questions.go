package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/classlens/classlens/internal/model"
)

// ListOrderedQuestions returns every question in a session in its stable
// session-wide order: theme rank first, then question rank within the theme.
// Vector component positions come from this ordering, so it must not vary
// between the builder and any consumer of the resulting vectors.
func (db *DB) ListOrderedQuestions(ctx context.Context, sessionID uuid.UUID) ([]model.Question, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT q.id, q.session_id, q.theme_id, q.text, q.theme_rank, q.rank
		 FROM questions q
		 WHERE q.session_id = $1
		 ORDER BY q.theme_rank ASC, q.rank ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SessionID, &q.ThemeID, &q.Text, &q.ThemeRank, &q.Rank); err != nil {
			return nil, fmt.Errorf("storage: scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list questions rows: %w", err)
	}
	return questions, nil
}
