package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/domain/ports/repository"
)

var _ repository.StudySessionRepository = (*StudySessionRepo)(nil)

type StudySessionRepo struct {
	pool *pgxpool.Pool
}

func NewStudySessionRepo(pool *pgxpool.Pool) *StudySessionRepo {
	return &StudySessionRepo{pool: pool}
}

func (r *StudySessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.StudySession) error {
	const q = `
INSERT INTO study_sessions (id, user_id, name, field_of_study, study_goal, context, time_commitment,
  difficulty_level, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  field_of_study = EXCLUDED.field_of_study,
  study_goal = EXCLUDED.study_goal,
  context = EXCLUDED.context,
  time_commitment = EXCLUDED.time_commitment,
  difficulty_level = EXCLUDED.difficulty_level,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.Name, s.FieldOfStudy, s.StudyGoal, s.Context,
		s.TimeCommitment, s.DifficultyLevel, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save study session: %w", err)
	}
	return nil
}

func (r *StudySessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.StudySession, error) {
	const q = `
SELECT id, user_id, name, field_of_study, study_goal, context, time_commitment, difficulty_level,
  created_at, updated_at
FROM study_sessions WHERE id = $1;`
	var s model.StudySession
	err := pickRow(ctx, r.pool, tx, q, id).Scan(&s.ID, &s.UserID, &s.Name, &s.FieldOfStudy, &s.StudyGoal,
		&s.Context, &s.TimeCommitment, &s.DifficultyLevel, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find study session: %w", err)
	}
	return &s, nil
}

// Delete cascades to the session's messages and requests.
func (r *StudySessionRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM study_sessions WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete study session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
