package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/classlens/classlens/internal/model"
)

// ListThemes returns a session's themes in rank order.
func (db *DB) ListThemes(ctx context.Context, sessionID uuid.UUID) ([]model.Theme, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, title, rank
		 FROM themes
		 WHERE session_id = $1
		 ORDER BY rank ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list themes: %w", err)
	}
	defer rows.Close()

	var themes []model.Theme
	for rows.Next() {
		var t model.Theme
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &t.Rank); err != nil {
			return nil, fmt.Errorf("storage: scan theme: %w", err)
		}
		themes = append(themes, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list themes rows: %w", err)
	}
	return themes, nil
}

// ThemeInSession reports whether a theme id belongs to the given session.
func (db *DB) ThemeInSession(ctx context.Context, sessionID, themeID uuid.UUID) (bool, error) {
	var ok bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM themes WHERE id = $1 AND session_id = $2)`,
		themeID, sessionID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("storage: theme in session: %w", err)
	}
	return ok, nil
}
