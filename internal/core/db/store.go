package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/rewardkeeper/internal/types"
)

// Store is the typed persistence layer over the named queries.
// Every method is scoped to a project; rows of other projects are invisible.
type Store struct {
	q *Queries
}

// NewStore wraps loaded queries.
func NewStore(q *Queries) *Store {
	return &Store{q: q}
}

// Queries exposes the underlying named queries (used by the authenticator).
func (s *Store) Queries() *Queries {
	return s.q
}

// Timestamps are stored as RFC3339 UTC text in both dialects.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return types.Float64Ptr(n.Float64)
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	return types.IntPtr(int(n.Int64))
}

// notFound maps sql.ErrNoRows to types.ErrNotFound with the entity name.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %w", what, types.ErrNotFound)
	}
	return err
}

// CreateProject inserts a project and returns its ID.
func (s *Store) CreateProject(ctx context.Context, name string) (types.ProjectID, error) {
	id := types.NewProjectID()
	if _, err := s.q.Exec(ctx, "create-project", string(id), name, now()); err != nil {
		return "", fmt.Errorf("failed to create project: %w", err)
	}
	return id, nil
}

// ProjectExists reports whether the project is present.
func (s *Store) ProjectExists(ctx context.Context, projectID types.ProjectID) (bool, error) {
	var row struct {
		ProjectID string `db:"project_id"`
		Name      string `db:"name"`
		CreatedAt string `db:"created_at"`
	}
	err := s.q.Get(ctx, "get-project", &row, string(projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateAPIKey stores the HMAC hash of a newly issued key. The plaintext key
// is never persisted.
func (s *Store) CreateAPIKey(ctx context.Context, projectID types.ProjectID, secretID string, keyHash []byte, name string) (string, error) {
	id := types.NewAPIKeyID()
	_, err := s.q.Exec(ctx, "create-api-key", id, string(projectID), secretID, keyHash, name, now())
	if err != nil {
		return "", fmt.Errorf("failed to create api key: %w", err)
	}
	return id, nil
}

// RevokeAPIKey marks a key revoked. Returns types.ErrNotFound when the key
// does not exist in the project or is already revoked.
func (s *Store) RevokeAPIKey(ctx context.Context, projectID types.ProjectID, apiKeyID string) error {
	res, err := s.q.Exec(ctx, "revoke-api-key", now(), apiKeyID, string(projectID))
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key %s %w", apiKeyID, types.ErrNotFound)
	}
	return nil
}

// CreateStudent inserts a student.
func (s *Store) CreateStudent(ctx context.Context, projectID types.ProjectID, name string) (*types.Student, error) {
	st := &types.Student{
		StudentID: types.NewStudentID(),
		ProjectID: projectID,
		Name:      name,
	}
	ts := now()
	if _, err := s.q.Exec(ctx, "create-student", string(st.StudentID), string(projectID), name, ts); err != nil {
		return nil, fmt.Errorf("failed to create student: %w", err)
	}
	st.CreatedAt = parseTime(ts)
	return st, nil
}

// StudentExists reports whether the student belongs to the project.
func (s *Store) StudentExists(ctx context.Context, projectID types.ProjectID, studentID types.StudentID) (bool, error) {
	var row struct {
		StudentID string `db:"student_id"`
		ProjectID string `db:"project_id"`
		Name      string `db:"name"`
		CreatedAt string `db:"created_at"`
	}
	err := s.q.Get(ctx, "get-student", &row, string(projectID), string(studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// KnownStudents returns the set of student IDs of the project.
func (s *Store) KnownStudents(ctx context.Context, projectID types.ProjectID) (map[types.StudentID]struct{}, error) {
	var ids []string
	if err := s.q.Select(ctx, "list-student-ids", &ids, string(projectID)); err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	known := make(map[types.StudentID]struct{}, len(ids))
	for _, id := range ids {
		known[types.StudentID(id)] = struct{}{}
	}
	return known, nil
}

type subjectRow struct {
	SubjectID    string         `db:"subject_id"`
	ProjectID    string         `db:"project_id"`
	Name         string         `db:"name"`
	GradeMapping sql.NullString `db:"grade_mapping"`
	CreatedAt    string         `db:"created_at"`
	UpdatedAt    string         `db:"updated_at"`
}

func (r subjectRow) toSubject() *types.Subject {
	return &types.Subject{
		SubjectID:    types.SubjectID(r.SubjectID),
		ProjectID:    types.ProjectID(r.ProjectID),
		Name:         r.Name,
		GradeMapping: r.GradeMapping.String,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
}

// UpsertSubject inserts the subject when SubjectID is empty, otherwise
// updates it. Returns types.ErrNotFound for an unknown SubjectID.
func (s *Store) UpsertSubject(ctx context.Context, sub *types.Subject) error {
	ts := now()
	if sub.SubjectID == "" {
		sub.SubjectID = types.NewSubjectID()
		_, err := s.q.Exec(ctx, "create-subject",
			string(sub.SubjectID), string(sub.ProjectID), sub.Name, nullString(sub.GradeMapping), ts, ts)
		if err != nil {
			return fmt.Errorf("failed to create subject: %w", err)
		}
		sub.CreatedAt = parseTime(ts)
		sub.UpdatedAt = sub.CreatedAt
		return nil
	}

	res, err := s.q.Exec(ctx, "update-subject",
		sub.Name, nullString(sub.GradeMapping), ts, string(sub.ProjectID), string(sub.SubjectID))
	if err != nil {
		return fmt.Errorf("failed to update subject: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subject %s %w", sub.SubjectID, types.ErrNotFound)
	}
	sub.UpdatedAt = parseTime(ts)
	return nil
}

// GetSubject loads a subject of the project.
func (s *Store) GetSubject(ctx context.Context, projectID types.ProjectID, subjectID types.SubjectID) (*types.Subject, error) {
	var row subjectRow
	if err := s.q.Get(ctx, "get-subject", &row, string(projectID), string(subjectID)); err != nil {
		return nil, notFound(err, "subject")
	}
	return row.toSubject(), nil
}

type ruleRow struct {
	RuleID         string          `db:"rule_id"`
	ProjectID      string          `db:"project_id"`
	Name           string          `db:"name"`
	StudentID      sql.NullString  `db:"student_id"`
	SubjectID      sql.NullString  `db:"subject_id"`
	AssessmentType sql.NullString  `db:"assessment_type"`
	Condition      string          `db:"match_condition"`
	MinScore       sql.NullFloat64 `db:"min_score"`
	MaxScore       sql.NullFloat64 `db:"max_score"`
	RewardAmount   float64         `db:"reward_amount"`
	RewardFormula  sql.NullString  `db:"reward_formula"`
	Priority       int             `db:"priority"`
	DisplayOrder   sql.NullInt64   `db:"display_order"`
	IsActive       bool            `db:"is_active"`
	CreatedAt      string          `db:"created_at"`
	UpdatedAt      string          `db:"updated_at"`
}

func (r ruleRow) toRule() types.RewardRule {
	return types.RewardRule{
		RuleID:         types.RuleID(r.RuleID),
		ProjectID:      types.ProjectID(r.ProjectID),
		Name:           r.Name,
		StudentID:      types.StudentID(r.StudentID.String),
		SubjectID:      types.SubjectID(r.SubjectID.String),
		AssessmentType: types.AssessmentType(r.AssessmentType.String),
		Condition:      types.Condition(r.Condition),
		MinScore:       floatPtr(r.MinScore),
		MaxScore:       floatPtr(r.MaxScore),
		RewardAmount:   r.RewardAmount,
		RewardFormula:  r.RewardFormula.String,
		Priority:       r.Priority,
		DisplayOrder:   intPtr(r.DisplayOrder),
		IsActive:       r.IsActive,
		CreatedAt:      parseTime(r.CreatedAt),
		UpdatedAt:      parseTime(r.UpdatedAt),
	}
}

func toRules(rows []ruleRow) []types.RewardRule {
	out := make([]types.RewardRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRule())
	}
	return out
}

// ListActiveRules returns the active rules of the project. Inactive rules
// never reach the reward engine.
func (s *Store) ListActiveRules(ctx context.Context, projectID types.ProjectID) ([]types.RewardRule, error) {
	var rows []ruleRow
	if err := s.q.Select(ctx, "list-active-rules", &rows, string(projectID), true); err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	return toRules(rows), nil
}

// ListRules returns every rule of the project, active or not.
func (s *Store) ListRules(ctx context.Context, projectID types.ProjectID) ([]types.RewardRule, error) {
	var rows []ruleRow
	if err := s.q.Select(ctx, "list-rules", &rows, string(projectID)); err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	return toRules(rows), nil
}

// GetRule loads one rule of the project.
func (s *Store) GetRule(ctx context.Context, projectID types.ProjectID, ruleID types.RuleID) (*types.RewardRule, error) {
	var row ruleRow
	if err := s.q.Get(ctx, "get-rule", &row, string(projectID), string(ruleID)); err != nil {
		return nil, notFound(err, "rule")
	}
	r := row.toRule()
	return &r, nil
}

// UpsertRule inserts the rule when RuleID is empty, otherwise updates it.
// Returns types.ErrNotFound for an unknown RuleID. Callers validate first.
func (s *Store) UpsertRule(ctx context.Context, r *types.RewardRule) error {
	ts := now()
	if r.RuleID == "" {
		r.RuleID = types.NewRuleID()
		_, err := s.q.Exec(ctx, "insert-rule",
			string(r.RuleID), string(r.ProjectID), r.Name,
			nullString(string(r.StudentID)), nullString(string(r.SubjectID)), nullString(string(r.AssessmentType)),
			string(r.Condition), nullFloat(r.MinScore), nullFloat(r.MaxScore),
			r.RewardAmount, nullString(r.RewardFormula),
			r.Priority, nullInt(r.DisplayOrder), r.IsActive, ts, ts)
		if err != nil {
			return fmt.Errorf("failed to insert rule: %w", err)
		}
		r.CreatedAt = parseTime(ts)
		r.UpdatedAt = r.CreatedAt
		return nil
	}

	res, err := s.q.Exec(ctx, "update-rule",
		r.Name,
		nullString(string(r.StudentID)), nullString(string(r.SubjectID)), nullString(string(r.AssessmentType)),
		string(r.Condition), nullFloat(r.MinScore), nullFloat(r.MaxScore),
		r.RewardAmount, nullString(r.RewardFormula),
		r.Priority, nullInt(r.DisplayOrder), r.IsActive, ts,
		string(r.ProjectID), string(r.RuleID))
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s %w", r.RuleID, types.ErrNotFound)
	}
	r.UpdatedAt = parseTime(ts)
	return nil
}

type assessmentRow struct {
	AssessmentID   string          `db:"assessment_id"`
	ProjectID      string          `db:"project_id"`
	StudentID      string          `db:"student_id"`
	SubjectID      string          `db:"subject_id"`
	AssessmentType string          `db:"assessment_type"`
	Title          string          `db:"title"`
	ScoreType      string          `db:"score_type"`
	Score          sql.NullFloat64 `db:"score"`
	MaxScore       float64         `db:"max_score"`
	Percentage     sql.NullFloat64 `db:"percentage"`
	Grade          sql.NullString  `db:"grade"`
	Status         string          `db:"status"`
	RewardAmount   int64           `db:"reward_amount"`
	ManualReward   sql.NullFloat64 `db:"manual_reward"`
	CreatedAt      string          `db:"created_at"`
	UpdatedAt      string          `db:"updated_at"`
}

func (r assessmentRow) toAssessment() *types.Assessment {
	return &types.Assessment{
		AssessmentID:   types.AssessmentID(r.AssessmentID),
		ProjectID:      types.ProjectID(r.ProjectID),
		StudentID:      types.StudentID(r.StudentID),
		SubjectID:      types.SubjectID(r.SubjectID),
		AssessmentType: types.AssessmentType(r.AssessmentType),
		Title:          r.Title,
		ScoreType:      types.ScoreType(r.ScoreType),
		Score:          floatPtr(r.Score),
		MaxScore:       r.MaxScore,
		Percentage:     floatPtr(r.Percentage),
		Grade:          r.Grade.String,
		Status:         types.AssessmentStatus(r.Status),
		RewardAmount:   r.RewardAmount,
		ManualReward:   floatPtr(r.ManualReward),
		CreatedAt:      parseTime(r.CreatedAt),
		UpdatedAt:      parseTime(r.UpdatedAt),
	}
}

// CreateAssessment inserts an upcoming assessment with no score.
func (s *Store) CreateAssessment(ctx context.Context, a *types.Assessment) error {
	ts := now()
	a.AssessmentID = types.NewAssessmentID()
	a.Status = types.StatusUpcoming
	a.RewardAmount = 0
	_, err := s.q.Exec(ctx, "create-assessment",
		string(a.AssessmentID), string(a.ProjectID), string(a.StudentID), string(a.SubjectID),
		string(a.AssessmentType), a.Title, string(a.ScoreType), a.MaxScore,
		string(a.Status), a.RewardAmount, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to create assessment: %w", err)
	}
	a.CreatedAt = parseTime(ts)
	a.UpdatedAt = a.CreatedAt
	return nil
}

// GetAssessment loads an assessment of the project.
func (s *Store) GetAssessment(ctx context.Context, projectID types.ProjectID, assessmentID types.AssessmentID) (*types.Assessment, error) {
	a, _, err := s.getAssessment(ctx, s.q, projectID, assessmentID)
	return a, err
}

func (s *Store) getAssessment(ctx context.Context, q *Queries, projectID types.ProjectID, assessmentID types.AssessmentID) (*types.Assessment, string, error) {
	var row assessmentRow
	if err := q.Get(ctx, "get-assessment", &row, string(projectID), string(assessmentID)); err != nil {
		return nil, "", notFound(err, "assessment")
	}
	return row.toAssessment(), row.UpdatedAt, nil
}

// ScoreUpdate is the derived state written back to an assessment.
type ScoreUpdate struct {
	Score        *float64
	Percentage   *float64
	Grade        string
	Status       types.AssessmentStatus
	RewardAmount int64
	ManualReward *float64
	Reason       string
}

// UpdateScore applies fn to the current assessment and persists the result
// together with a ledger entry for the reward delta, in one transaction.
// The write is conditional on the row being unchanged since it was read;
// a concurrent writer yields types.ErrConflict.
func (s *Store) UpdateScore(ctx context.Context, projectID types.ProjectID, assessmentID types.AssessmentID,
	fn func(a *types.Assessment) (ScoreUpdate, error)) (*types.Assessment, int64, error) {
	var (
		updated *types.Assessment
		delta   int64
	)

	err := s.q.InTx(ctx, func(tx *Queries) error {
		a, version, err := s.getAssessment(ctx, tx, projectID, assessmentID)
		if err != nil {
			return err
		}

		u, err := fn(a)
		if err != nil {
			return err
		}

		ts := now()
		res, err := tx.Exec(ctx, "update-assessment-score",
			nullFloat(u.Score), nullFloat(u.Percentage), nullString(u.Grade), string(u.Status),
			u.RewardAmount, nullFloat(u.ManualReward), ts,
			string(projectID), string(assessmentID), a.RewardAmount, version)
		if err != nil {
			return fmt.Errorf("failed to update assessment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("assessment %s: %w", assessmentID, types.ErrConflict)
		}

		delta = u.RewardAmount - a.RewardAmount
		if delta != 0 {
			_, err := tx.Exec(ctx, "insert-ledger-entry",
				string(types.NewLedgerEntryID()), string(projectID), string(a.StudentID),
				nullString(string(assessmentID)), delta, u.Reason, ts)
			if err != nil {
				return fmt.Errorf("failed to insert ledger entry: %w", err)
			}
		}

		a.Score = u.Score
		a.Percentage = u.Percentage
		a.Grade = u.Grade
		a.Status = u.Status
		a.RewardAmount = u.RewardAmount
		a.ManualReward = u.ManualReward
		a.UpdatedAt = parseTime(ts)
		updated = a
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return updated, delta, nil
}

type ledgerRow struct {
	EntryID      string         `db:"entry_id"`
	ProjectID    string         `db:"project_id"`
	StudentID    string         `db:"student_id"`
	AssessmentID sql.NullString `db:"assessment_id"`
	Amount       int64          `db:"amount"`
	Reason       string         `db:"reason"`
	CreatedAt    string         `db:"created_at"`
}

// Balance returns the student's reward balance and ledger, oldest first.
func (s *Store) Balance(ctx context.Context, projectID types.ProjectID, studentID types.StudentID) (int64, []types.LedgerEntry, error) {
	var balance int64
	if err := s.q.Get(ctx, "sum-ledger", &balance, string(projectID), string(studentID)); err != nil {
		return 0, nil, fmt.Errorf("failed to sum ledger: %w", err)
	}

	var rows []ledgerRow
	if err := s.q.Select(ctx, "list-ledger-entries", &rows, string(projectID), string(studentID)); err != nil {
		return 0, nil, fmt.Errorf("failed to list ledger: %w", err)
	}

	entries := make([]types.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, types.LedgerEntry{
			EntryID:      types.LedgerEntryID(r.EntryID),
			ProjectID:    types.ProjectID(r.ProjectID),
			StudentID:    types.StudentID(r.StudentID),
			AssessmentID: types.AssessmentID(r.AssessmentID.String),
			Amount:       r.Amount,
			Reason:       r.Reason,
			CreatedAt:    parseTime(r.CreatedAt),
		})
	}
	return balance, entries, nil
}
