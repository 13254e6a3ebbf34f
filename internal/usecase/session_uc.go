package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/domain/ports/repository"
	"learnmate/internal/infra/logging"
)

var _ SessionUseCase = (*sessionUC)(nil)

type SessionUseCase interface {
	Create(ctx context.Context, userID string, in CreateSessionInput) (*model.StudySession, error)
	Get(ctx context.Context, userID, sessionID string) (*model.StudySession, error)
	Delete(ctx context.Context, userID, sessionID string) error
}

type CreateSessionInput struct {
	Name            string `json:"name"`
	FieldOfStudy    string `json:"field_of_study"`
	StudyGoal       string `json:"study_goal"`
	Context         string `json:"context"`
	TimeCommitment  string `json:"time_commitment"`
	DifficultyLevel string `json:"difficulty_level"`
}

type sessionUC struct {
	sessions repository.StudySessionRepository
	log      *zerolog.Logger
}

func NewSessionUseCase(sessions repository.StudySessionRepository, logger *zerolog.Logger) *sessionUC {
	return &sessionUC{sessions: sessions, log: logger}
}

func (s *sessionUC) Create(ctx context.Context, userID string, in CreateSessionInput) (*model.StudySession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrForbidden
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("session name is required: %w", domain.ErrInvalidArgument)
	}
	ss := model.NewStudySession(uuid.NewString(), userID, in.Name, in.FieldOfStudy)
	ss.StudyGoal = strings.TrimSpace(in.StudyGoal)
	ss.Context = strings.TrimSpace(in.Context)
	ss.TimeCommitment = strings.TrimSpace(in.TimeCommitment)
	ss.DifficultyLevel = strings.TrimSpace(in.DifficultyLevel)
	if err := s.sessions.Save(ctx, repository.NoTX, ss); err != nil {
		return nil, err
	}
	logging.With(ctx, s.log).Info().Str("session_id", ss.ID).Msg("study session created")
	return ss, nil
}

func (s *sessionUC) Get(ctx context.Context, userID, sessionID string) (*model.StudySession, error) {
	return authorize(ctx, s.sessions, userID, sessionID)
}

// Delete removes the session with its history and requests.
func (s *sessionUC) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := authorize(ctx, s.sessions, userID, sessionID); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, repository.NoTX, sessionID)
}

// authorize loads the session: unknown is ErrNotFound, foreign is ErrForbidden.
func authorize(ctx context.Context, sessions repository.StudySessionRepository, userID, sessionID string) (*model.StudySession, error) {
	ss, err := sessions.FindByID(ctx, repository.NoTX, sessionID)
	if err != nil {
		return nil, err
	}
	if !ss.OwnedBy(userID) {
		return nil, domain.ErrForbidden
	}
	return ss, nil
}
