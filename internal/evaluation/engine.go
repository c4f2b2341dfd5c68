package evaluation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/moriyamalab/tokuten/internal/apperr"
	"github.com/moriyamalab/tokuten/internal/models"
	"github.com/moriyamalab/tokuten/internal/store"
)

// Ranking weights: a first-place vote is worth double a second-place
// vote. Fixed design constants, not configuration.
const (
	FirstPlaceWeight  = 2
	SecondPlaceWeight = 1
)

// Engine accepts ranked-choice group votes plus contribution scores
// and computes deterministic standings.
type Engine struct {
	store store.Store
	now   func() time.Time
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// GroupStanding is the per-group accumulator built from one pass over
// the session's evaluations.
type GroupStanding struct {
	Group            models.Group `json:"group"`
	FirstPlaceVotes  int          `json:"first_place_votes"`
	SecondPlaceVotes int          `json:"second_place_votes"`
	TotalVotes       int          `json:"total_votes"`
	EvaluationsGiven int          `json:"evaluations_given"`
	Score            int          `json:"score"`
}

// Rankings holds the ordered standings and the per-student
// contribution averages for one session. Averages are rounded
// half-to-even to one decimal place.
type Rankings struct {
	Standings            []GroupStanding   `json:"standings"`
	ContributionAverages map[int64]float64 `json:"contribution_averages"`
	TotalEvaluations     int               `json:"total_evaluations"`
	TotalGroups          int               `json:"total_groups"`
}

// IssueLinks get-or-creates one anonymization token per group of the
// session. Tokens are stable: issuing twice hands out the same links.
func (e *Engine) IssueLinks(actor *models.User, sessionID int64) ([]models.EvaluationLink, error) {
	if !actor.IsTeacher() {
		return nil, apperr.Permission("only teachers may issue evaluation links")
	}

	session, err := e.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session == nil {
		return nil, apperr.NotFound("lesson session")
	}

	groups, err := e.store.ListGroups(session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	if len(groups) == 0 {
		return nil, apperr.State("session has no groups to evaluate")
	}

	links := make([]models.EvaluationLink, 0, len(groups))
	for _, group := range groups {
		link, err := e.store.GetOrCreateEvaluationLink(session.ID, group.ID, uuid.NewString(), e.now().Unix())
		if err != nil {
			return nil, fmt.Errorf("failed to issue link for group %d: %w", group.ID, err)
		}
		links = append(links, *link)
	}
	return links, nil
}

func (e *Engine) ListLinks(actor *models.User, sessionID int64) ([]models.EvaluationLink, error) {
	if !actor.IsTeacher() {
		return nil, apperr.Permission("only teachers may list evaluation links")
	}
	links, err := e.store.ListEvaluationLinks(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluation links: %w", err)
	}
	return links, nil
}

// Submit validates and persists one submission atomically: either the
// evaluation row and every contribution score land, or nothing does.
// Re-submission with the same token overwrites instead of duplicating.
func (e *Engine) Submit(sessionID int64, req *models.SubmitEvaluationRequest) (*models.PeerEvaluation, error) {
	session, err := e.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session == nil {
		return nil, apperr.NotFound("lesson session")
	}
	if session.PeerEvaluationClosed {
		return nil, apperr.State("peer evaluation for this session is closed")
	}

	if req.FirstPlaceGroupID == 0 {
		return nil, apperr.Validation("first_place_group_id", "first place group is required")
	}
	if req.SecondPlaceGroupID == 0 {
		return nil, apperr.Validation("second_place_group_id", "second place group is required")
	}
	if req.EvaluatorGroupID == 0 {
		return nil, apperr.Validation("evaluator_group_id", "evaluator group is required")
	}

	evaluatorGroup, err := e.groupInSession(session.ID, req.EvaluatorGroupID, "evaluator_group_id")
	if err != nil {
		return nil, err
	}
	if _, err := e.groupInSession(session.ID, req.FirstPlaceGroupID, "first_place_group_id"); err != nil {
		return nil, err
	}
	if _, err := e.groupInSession(session.ID, req.SecondPlaceGroupID, "second_place_group_id"); err != nil {
		return nil, err
	}

	for evaluateeID, score := range req.Contributions {
		if score < 1 || score > 5 {
			return nil, apperr.Validation(
				fmt.Sprintf("contributions.%d", evaluateeID),
				fmt.Sprintf("contribution score %d for student %d is outside [1,5]", score, evaluateeID),
			)
		}
		member, err := e.store.IsGroupMember(evaluatorGroup.ID, evaluateeID)
		if err != nil {
			return nil, fmt.Errorf("failed to check group membership: %w", err)
		}
		if !member {
			return nil, apperr.Validation(
				fmt.Sprintf("contributions.%d", evaluateeID),
				fmt.Sprintf("student %d is not a member of the evaluator group", evaluateeID),
			)
		}
	}

	// The token column is typed UUID on postgres, so anything else has
	// to be rejected here rather than surface as a driver error.
	token := req.Token
	if token == "" {
		token = uuid.NewString()
	} else {
		if _, err := uuid.Parse(token); err != nil {
			return nil, apperr.Validation("token", "token must be a valid uuid")
		}
		link, err := e.store.GetEvaluationLink(token)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve evaluation link: %w", err)
		}
		if link != nil && (link.LessonSessionID != session.ID || link.GroupID != evaluatorGroup.ID) {
			return nil, apperr.Validation("token", "token was issued for a different session or group")
		}
	}

	eval := &models.PeerEvaluation{
		LessonSessionID:    session.ID,
		EvaluatorToken:     token,
		EvaluatorGroupID:   &evaluatorGroup.ID,
		FirstPlaceGroupID:  req.FirstPlaceGroupID,
		SecondPlaceGroupID: req.SecondPlaceGroupID,
		FirstPlaceReason:   req.FirstPlaceReason,
		SecondPlaceReason:  req.SecondPlaceReason,
		ClassComment:       req.ClassComment,
		GeneralComment:     req.GeneralComment,
		CreatedAt:          e.now().Unix(),
	}
	if err := e.store.UpsertEvaluation(eval, req.Contributions); err != nil {
		return nil, fmt.Errorf("failed to persist evaluation: %w", err)
	}
	return eval, nil
}

func (e *Engine) groupInSession(sessionID, groupID int64, field string) (*models.Group, error) {
	group, err := e.store.GetGroup(groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve group: %w", err)
	}
	if group == nil {
		return nil, apperr.NotFound("group")
	}
	if group.LessonSessionID != sessionID {
		return nil, apperr.Validation(field, "group does not belong to this session")
	}
	return group, nil
}

// Close shuts the submission gate. Closing an already-closed session
// is a no-op success.
func (e *Engine) Close(actor *models.User, sessionID int64) error {
	return e.setClosed(actor, sessionID, true)
}

// Reopen is the symmetric idempotent toggle.
func (e *Engine) Reopen(actor *models.User, sessionID int64) error {
	return e.setClosed(actor, sessionID, false)
}

func (e *Engine) setClosed(actor *models.User, sessionID int64, closed bool) error {
	if !actor.IsTeacher() {
		return apperr.Permission("only teachers may change the evaluation gate")
	}
	found, err := e.store.SetPeerEvaluationClosed(sessionID, closed)
	if err != nil {
		return fmt.Errorf("failed to update evaluation gate: %w", err)
	}
	if !found {
		return apperr.NotFound("lesson session")
	}
	return nil
}

// Rankings computes the session standings in one pass over the
// evaluations. Pure read: no writes, safe to call at any time.
//
// Groups are ordered by score descending; ties keep creation order
// (stable sort over the creation-ordered group list), which is the
// displayed rank order.
func (e *Engine) Rankings(sessionID int64) (*Rankings, error) {
	session, err := e.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session == nil {
		return nil, apperr.NotFound("lesson session")
	}

	groups, err := e.store.ListGroups(session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	evals, err := e.store.ListEvaluations(session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}

	byGroup := make(map[int64]*GroupStanding, len(groups))
	standings := make([]GroupStanding, len(groups))
	for i, group := range groups {
		standings[i] = GroupStanding{Group: group}
		byGroup[group.ID] = &standings[i]
	}

	for _, eval := range evals {
		if acc, ok := byGroup[eval.FirstPlaceGroupID]; ok {
			acc.FirstPlaceVotes++
		}
		if acc, ok := byGroup[eval.SecondPlaceGroupID]; ok {
			acc.SecondPlaceVotes++
		}
		if eval.EvaluatorGroupID != nil {
			if acc, ok := byGroup[*eval.EvaluatorGroupID]; ok {
				acc.EvaluationsGiven++
			}
		}
	}
	for i := range standings {
		standings[i].TotalVotes = standings[i].FirstPlaceVotes + standings[i].SecondPlaceVotes
		standings[i].Score = standings[i].FirstPlaceVotes*FirstPlaceWeight +
			standings[i].SecondPlaceVotes*SecondPlaceWeight
	}
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Score > standings[j].Score
	})

	averages, err := e.contributionAverages(session.ID)
	if err != nil {
		return nil, err
	}

	return &Rankings{
		Standings:            standings,
		ContributionAverages: averages,
		TotalEvaluations:     len(evals),
		TotalGroups:          len(groups),
	}, nil
}

func (e *Engine) contributionAverages(sessionID int64) (map[int64]float64, error) {
	rows, err := e.store.ListSessionContributions(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}

	type acc struct {
		sum   int
		count int
	}
	byStudent := make(map[int64]*acc)
	for _, row := range rows {
		a := byStudent[row.EvaluateeID]
		if a == nil {
			a = &acc{}
			byStudent[row.EvaluateeID] = a
		}
		a.sum += row.ContributionScore
		a.count++
	}

	averages := make(map[int64]float64, len(byStudent))
	for studentID, a := range byStudent {
		averages[studentID] = roundHalfEven1(float64(a.sum) / float64(a.count))
	}
	return averages, nil
}

// roundHalfEven1 rounds to one decimal place using banker's rounding.
func roundHalfEven1(x float64) float64 {
	return math.RoundToEven(x*10) / 10
}

// SessionReportRow combines one student's QR points for a session with
// their peer contribution average.
type SessionReportRow struct {
	StudentID     int64   `json:"student_id"`
	FullName      string  `json:"full_name"`
	StudentNumber *string `json:"student_number,omitempty"`
	QRPoints      int     `json:"qr_points"`
	PeerScore     float64 `json:"peer_score"`
	TotalScore    float64 `json:"total_score"`
}

// SessionReport is the per-session evaluation sheet: lesson QR points
// plus contribution averages, one row per student with either.
func (e *Engine) SessionReport(sessionID int64) ([]SessionReportRow, error) {
	session, err := e.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session == nil {
		return nil, apperr.NotFound("lesson session")
	}

	pointRows, err := e.store.ListLessonPoints(session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson points: %w", err)
	}
	averages, err := e.contributionAverages(session.ID)
	if err != nil {
		return nil, err
	}

	report := make([]SessionReportRow, 0, len(pointRows))
	seen := make(map[int64]bool, len(pointRows))
	for _, row := range pointRows {
		peer := averages[row.StudentID]
		report = append(report, SessionReportRow{
			StudentID:     row.StudentID,
			FullName:      row.FullName,
			StudentNumber: row.StudentNumber,
			QRPoints:      row.Points,
			PeerScore:     peer,
			TotalScore:    float64(row.Points) + peer,
		})
		seen[row.StudentID] = true
	}
	for studentID, peer := range averages {
		if seen[studentID] {
			continue
		}
		student, err := e.store.GetStudent(studentID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve student: %w", err)
		}
		row := SessionReportRow{StudentID: studentID, PeerScore: peer, TotalScore: peer}
		if student != nil {
			row.FullName = student.FullName
			row.StudentNumber = student.StudentNumber
		}
		report = append(report, row)
	}

	sort.Slice(report, func(i, j int) bool {
		return report[i].TotalScore > report[j].TotalScore ||
			(report[i].TotalScore == report[j].TotalScore && report[i].StudentID < report[j].StudentID)
	})
	return report, nil
}
