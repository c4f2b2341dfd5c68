package models

import "github.com/go-playground/validator/v10"

// EvaluationLink is the pre-issued anonymization token for one group's
// peer evaluation form. One token per (session, group); the token is
// the only thing the student-facing URL carries.
type EvaluationLink struct {
	Token           string `db:"token" json:"token"`
	LessonSessionID int64  `db:"lesson_session_id" json:"lesson_session_id"`
	GroupID         int64  `db:"group_id" json:"group_id"`
	CreatedAt       int64  `db:"created_at" json:"created_at"`
}

// PeerEvaluation is one group's ranked-choice submission for a session.
// Keyed by (session, evaluator_token): re-submission with the same
// token overwrites instead of duplicating.
type PeerEvaluation struct {
	ID                 int64  `db:"id" json:"id"`
	LessonSessionID    int64  `db:"lesson_session_id" json:"lesson_session_id"`
	EvaluatorToken     string `db:"evaluator_token" json:"-"`
	EvaluatorGroupID   *int64 `db:"evaluator_group_id" json:"evaluator_group_id,omitempty"`
	FirstPlaceGroupID  int64  `db:"first_place_group_id" json:"first_place_group_id"`
	SecondPlaceGroupID int64  `db:"second_place_group_id" json:"second_place_group_id"`
	FirstPlaceReason   string `db:"first_place_reason" json:"first_place_reason,omitempty"`
	SecondPlaceReason  string `db:"second_place_reason" json:"second_place_reason,omitempty"`
	ClassComment       string `db:"class_comment" json:"class_comment,omitempty"`
	GeneralComment     string `db:"general_comment" json:"general_comment,omitempty"`
	CreatedAt          int64  `db:"created_at" json:"created_at"`
}

type ContributionEvaluation struct {
	ID                int64 `db:"id" json:"id"`
	PeerEvaluationID  int64 `db:"peer_evaluation_id" json:"peer_evaluation_id"`
	EvaluateeID       int64 `db:"evaluatee_id" json:"evaluatee_id"`
	ContributionScore int   `db:"contribution_score" json:"contribution_score"`
}

// ContributionRow scopes a contribution score to its session for the
// aggregation pass.
type ContributionRow struct {
	EvaluateeID       int64 `db:"evaluatee_id" json:"evaluatee_id"`
	ContributionScore int   `db:"contribution_score" json:"contribution_score"`
}

// SubmitEvaluationRequest is the submission payload. Group choices are
// explicit foreign keys picked from a closed list, never parsed out of
// labels.
type SubmitEvaluationRequest struct {
	Token              string        `json:"token"`
	EvaluatorGroupID   int64         `json:"evaluator_group_id" validate:"required"`
	FirstPlaceGroupID  int64         `json:"first_place_group_id" validate:"required"`
	SecondPlaceGroupID int64         `json:"second_place_group_id" validate:"required"`
	FirstPlaceReason   string        `json:"first_place_reason"`
	SecondPlaceReason  string        `json:"second_place_reason"`
	ClassComment       string        `json:"class_comment"`
	GeneralComment     string        `json:"general_comment"`
	Contributions      map[int64]int `json:"contributions"`
}

func (r *SubmitEvaluationRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
