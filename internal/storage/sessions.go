package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/classlens/classlens/internal/model"
)

// CreateSession inserts a new classroom session.
func (db *DB) CreateSession(ctx context.Context, session model.Session) (model.Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO sessions (id, name, join_code_hash, created_at)
		 VALUES ($1, $2, $3, $4)`,
		session.ID, session.Name, session.JoinCodeHash, session.CreatedAt,
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: create session: %w", err)
	}
	return session, nil
}

// GetSession fetches one session by id.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (model.Session, error) {
	var s model.Session
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, join_code_hash, created_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.Name, &s.JoinCodeHash, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, fmt.Errorf("storage: session %s: %w", id, ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	return s, nil
}
