package model

import (
	"strings"
	"time"
)

// StudySession is the aggregate a chat belongs to. Only the fields the chat needs
// to build its context are kept here.
type StudySession struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	FieldOfStudy    string    `json:"field_of_study"`
	StudyGoal       string    `json:"study_goal"`
	Context         string    `json:"context"`
	TimeCommitment  string    `json:"time_commitment"`
	DifficultyLevel string    `json:"difficulty_level"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewStudySession(id, userID, name, field string) *StudySession {
	now := time.Now()
	return &StudySession{
		ID:           id,
		UserID:       userID,
		Name:         strings.TrimSpace(name),
		FieldOfStudy: strings.TrimSpace(field),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// OwnedBy reports whether userID owns the session.
func (s *StudySession) OwnedBy(userID string) bool {
	return s != nil && s.UserID == userID
}
