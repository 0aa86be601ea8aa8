package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/solatis/rewardkeeper/internal/types"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	database, err := Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := MigrateUp(database); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	return database
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	q, err := LoadQueries(openTestDB(t))
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}
	return NewStore(q)
}

type fixture struct {
	project types.ProjectID
	student types.StudentID
	subject types.SubjectID
}

func seed(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()

	project, err := s.CreateProject(ctx, "school")
	if err != nil {
		t.Fatal(err)
	}
	student, err := s.CreateStudent(ctx, project, "Ada")
	if err != nil {
		t.Fatal(err)
	}
	subject := &types.Subject{ProjectID: project, Name: "Math"}
	if err := s.UpsertSubject(ctx, subject); err != nil {
		t.Fatal(err)
	}
	return fixture{project: project, student: student.StudentID, subject: subject.SubjectID}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	if _, err := Open("mysql://localhost/db"); err == nil {
		t.Error("Open(mysql) error = nil, want error")
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	database := openTestDB(t)

	if err := MigrateUp(database); err != nil {
		t.Fatalf("second MigrateUp() error = %v", err)
	}

	statuses, err := MigrateStatus(database)
	if err != nil {
		t.Fatalf("MigrateStatus() error = %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("len(statuses) = %v, want 1", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].ID != "001_initial_schema.sql" {
		t.Errorf("status = %+v, want applied 001_initial_schema.sql", statuses[0])
	}
	if statuses[0].AppliedAt == nil {
		t.Error("AppliedAt = nil, want timestamp")
	}
}

func TestMigrateUp_ChecksumMismatch(t *testing.T) {
	database := openTestDB(t)

	if _, err := database.Exec("UPDATE migrations SET checksum = 'tampered'"); err != nil {
		t.Fatal(err)
	}
	if err := MigrateUp(database); err == nil {
		t.Error("MigrateUp() error = nil, want checksum mismatch")
	}
}

func TestSplitStatements(t *testing.T) {
	sql := "-- header; with semicolon\nCREATE TABLE a (x INT);\n\n  -- note\nCREATE TABLE b (y INT);\n"
	got := splitStatements(sql)
	if len(got) != 2 {
		t.Fatalf("len(splitStatements) = %v, want 2: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE a (x INT)" {
		t.Errorf("got[0] = %q", got[0])
	}
}

func TestStore_Rules(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seed(t, s)

	rule := &types.RewardRule{
		ProjectID:     f.project,
		Name:          "B range",
		SubjectID:     f.subject,
		Condition:     types.ConditionScoreRange,
		MinScore:      types.Float64Ptr(80),
		MaxScore:      types.Float64Ptr(89),
		RewardFormula: "P/10",
		Priority:      2,
		DisplayOrder:  types.IntPtr(1),
		IsActive:      true,
	}
	if err := s.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("UpsertRule(insert) error = %v", err)
	}
	if rule.RuleID == "" {
		t.Fatal("RuleID not assigned")
	}

	inactive := &types.RewardRule{
		ProjectID:    f.project,
		Name:         "off",
		Condition:    types.ConditionPerfectScore,
		RewardAmount: 50,
		IsActive:     false,
	}
	if err := s.UpsertRule(ctx, inactive); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRule(ctx, f.project, rule.RuleID)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if got.SubjectID != f.subject || got.StudentID != "" || got.AssessmentType != "" {
		t.Errorf("scope = %q/%q/%q, want subject only", got.SubjectID, got.StudentID, got.AssessmentType)
	}
	if got.MinScore == nil || *got.MinScore != 80 || got.MaxScore == nil || *got.MaxScore != 89 {
		t.Errorf("bounds = %v/%v, want 80/89", got.MinScore, got.MaxScore)
	}
	if got.DisplayOrder == nil || *got.DisplayOrder != 1 {
		t.Errorf("DisplayOrder = %v, want 1", got.DisplayOrder)
	}
	if got.RewardFormula != "P/10" || !got.IsActive {
		t.Errorf("formula/active = %q/%v", got.RewardFormula, got.IsActive)
	}

	active, err := s.ListActiveRules(ctx, f.project)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].RuleID != rule.RuleID {
		t.Errorf("ListActiveRules() = %v, want only %s", active, rule.RuleID)
	}

	all, err := s.ListRules(ctx, f.project)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("len(ListRules()) = %v, want 2", len(all))
	}

	rule.IsActive = false
	rule.DisplayOrder = nil
	if err := s.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("UpsertRule(update) error = %v", err)
	}
	active, _ = s.ListActiveRules(ctx, f.project)
	if len(active) != 0 {
		t.Errorf("len(ListActiveRules()) = %v after deactivation, want 0", len(active))
	}

	missing := &types.RewardRule{RuleID: types.NewRuleID(), ProjectID: f.project, Condition: types.ConditionPerfectScore}
	if err := s.UpsertRule(ctx, missing); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("UpsertRule(unknown id) error = %v, want ErrNotFound", err)
	}
}

func TestStore_ProjectIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seed(t, s)

	other, err := s.CreateProject(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}

	rule := &types.RewardRule{ProjectID: f.project, Name: "r", Condition: types.ConditionPerfectScore, RewardAmount: 10, IsActive: true}
	if err := s.UpsertRule(ctx, rule); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetRule(ctx, other, rule.RuleID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetRule(other project) error = %v, want ErrNotFound", err)
	}
	rules, err := s.ListActiveRules(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 0 {
		t.Errorf("other project sees %d rules, want 0", len(rules))
	}
	if _, err := s.GetSubject(ctx, other, f.subject); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetSubject(other project) error = %v, want ErrNotFound", err)
	}
	known, err := s.KnownStudents(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := known[f.student]; ok {
		t.Error("other project knows the student")
	}
}

func TestStore_UpdateScore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seed(t, s)

	a := &types.Assessment{
		ProjectID:      f.project,
		StudentID:      f.student,
		SubjectID:      f.subject,
		AssessmentType: types.AssessmentQuiz,
		Title:          "Quiz 1",
		ScoreType:      types.ScoreTypeNumeric,
		MaxScore:       50,
	}
	if err := s.CreateAssessment(ctx, a); err != nil {
		t.Fatalf("CreateAssessment() error = %v", err)
	}
	if a.Status != types.StatusUpcoming {
		t.Errorf("Status = %v, want upcoming", a.Status)
	}

	score := func(reward int64) func(*types.Assessment) (ScoreUpdate, error) {
		return func(cur *types.Assessment) (ScoreUpdate, error) {
			return ScoreUpdate{
				Score:        types.Float64Ptr(45),
				Percentage:   types.Float64Ptr(90),
				Status:       types.StatusCompleted,
				RewardAmount: reward,
				Reason:       "scored",
			}, nil
		}
	}

	updated, delta, err := s.UpdateScore(ctx, f.project, a.AssessmentID, score(30))
	if err != nil {
		t.Fatalf("UpdateScore() error = %v", err)
	}
	if delta != 30 || updated.RewardAmount != 30 || updated.Status != types.StatusCompleted {
		t.Errorf("delta/reward/status = %v/%v/%v, want 30/30/completed", delta, updated.RewardAmount, updated.Status)
	}

	// Same reward again writes no ledger entry.
	if _, delta, err = s.UpdateScore(ctx, f.project, a.AssessmentID, score(30)); err != nil || delta != 0 {
		t.Errorf("rescore delta/err = %v/%v, want 0/nil", delta, err)
	}

	_, delta, err = s.UpdateScore(ctx, f.project, a.AssessmentID, func(*types.Assessment) (ScoreUpdate, error) {
		return ScoreUpdate{Status: types.StatusUpcoming, Reason: "cleared"}, nil
	})
	if err != nil || delta != -30 {
		t.Errorf("clear delta/err = %v/%v, want -30/nil", delta, err)
	}

	balance, entries, err := s.Balance(ctx, f.project, f.student)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %v, want 0", balance)
	}
	if len(entries) != 2 || entries[0].Amount != 30 || entries[1].Amount != -30 {
		t.Errorf("entries = %+v, want [+30, -30]", entries)
	}
	if entries[0].AssessmentID != a.AssessmentID {
		t.Errorf("entry assessment = %v, want %v", entries[0].AssessmentID, a.AssessmentID)
	}

	got, err := s.GetAssessment(ctx, f.project, a.AssessmentID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Score != nil || got.Percentage != nil || got.RewardAmount != 0 {
		t.Errorf("cleared assessment = %+v", got)
	}
}

func TestStore_UpdateScoreRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seed(t, s)

	a := &types.Assessment{ProjectID: f.project, StudentID: f.student, SubjectID: f.subject,
		AssessmentType: types.AssessmentExam, Title: "Final", ScoreType: types.ScoreTypeNumeric, MaxScore: 100}
	if err := s.CreateAssessment(ctx, a); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, _, err := s.UpdateScore(ctx, f.project, a.AssessmentID, func(*types.Assessment) (ScoreUpdate, error) {
		return ScoreUpdate{}, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("UpdateScore() error = %v, want boom", err)
	}

	if _, _, err := s.UpdateScore(ctx, f.project, types.NewAssessmentID(), nil); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("UpdateScore(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestStore_UpdateScoreConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seed(t, s)

	a := &types.Assessment{ProjectID: f.project, StudentID: f.student, SubjectID: f.subject,
		AssessmentType: types.AssessmentHomework, Title: "HW", ScoreType: types.ScoreTypeNumeric, MaxScore: 10}
	if err := s.CreateAssessment(ctx, a); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.UpdateScore(ctx, f.project, a.AssessmentID, func(*types.Assessment) (ScoreUpdate, error) {
				return ScoreUpdate{Score: types.Float64Ptr(10), Percentage: types.Float64Ptr(100),
					Status: types.StatusCompleted, RewardAmount: 30, Reason: "scored"}, nil
			})
		}()
	}
	wg.Wait()

	balance, _, err := s.Balance(ctx, f.project, f.student)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 30 {
		t.Errorf("balance = %v, want 30 (ledger must equal the stored reward)", balance)
	}
}
