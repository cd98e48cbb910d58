package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/classlens/classlens/internal/model"
)

// CreateStudent inserts a new roster entry. The caller has already validated
// the display name and resolved the session.
func (db *DB) CreateStudent(ctx context.Context, student model.Student) (model.Student, error) {
	if student.ID == uuid.Nil {
		student.ID = uuid.New()
	}
	if student.JoinedAt.IsZero() {
		student.JoinedAt = time.Now().UTC()
	}
	if student.Progress == "" {
		student.Progress = model.StatusNotStarted
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO students (id, session_id, display_name, progress, selected_theme, joined_at)
		 VALUES ($1, $2, $3, $4, NULL, $5)`,
		student.ID, student.SessionID, student.DisplayName, string(student.Progress), student.JoinedAt,
	)
	if err != nil {
		return model.Student{}, fmt.Errorf("storage: create student: %w", err)
	}
	return student, nil
}

// GetStudent fetches one student by id.
func (db *DB) GetStudent(ctx context.Context, id uuid.UUID) (model.Student, error) {
	var s model.Student
	err := db.pool.QueryRow(ctx,
		`SELECT id, session_id, display_name, progress, joined_at FROM students WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.SessionID, &s.DisplayName, &s.Progress, &s.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Student{}, fmt.Errorf("storage: student %s: %w", id, ErrNotFound)
		}
		return model.Student{}, fmt.Errorf("storage: get student: %w", err)
	}
	return s, nil
}

// ListStudents returns a session's roster ordered by join time. Join order is
// the base ordering the anonymizer permutes, so it must stay stable across calls.
func (db *DB) ListStudents(ctx context.Context, sessionID uuid.UUID) ([]model.Student, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, display_name, progress, joined_at
		 FROM students
		 WHERE session_id = $1
		 ORDER BY joined_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list students: %w", err)
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var s model.Student
		if err := rows.Scan(&s.ID, &s.SessionID, &s.DisplayName, &s.Progress, &s.JoinedAt); err != nil {
			return nil, fmt.Errorf("storage: scan student: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list students rows: %w", err)
	}
	return students, nil
}

// SetProgressStatus records a gate-approved status for a student.
func (db *DB) SetProgressStatus(ctx context.Context, studentID uuid.UUID, status model.ProgressStatus) error {
	var tag pgconn.CommandTag
	err := WithRetry(ctx, writeRetries, writeRetryDelay, func() error {
		var err error
		tag, err = db.pool.Exec(ctx,
			`UPDATE students SET progress = $2 WHERE id = $1`,
			studentID, string(status),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: set progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: student %s: %w", studentID, ErrNotFound)
	}
	return nil
}

// SetSelectedTheme records the theme a student picked during THEME_SELECTION.
func (db *DB) SetSelectedTheme(ctx context.Context, studentID, themeID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE students SET selected_theme = $2 WHERE id = $1`,
		studentID, themeID,
	)
	if err != nil {
		return fmt.Errorf("storage: set selected theme: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: student %s: %w", studentID, ErrNotFound)
	}
	return nil
}
