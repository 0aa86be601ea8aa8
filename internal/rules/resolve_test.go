package rules

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/rewardkeeper/internal/types"
)

const (
	testSubject types.SubjectID = "subject-math"
	testStudent types.StudentID = "student-ada"
)

func rangeRule(id string, lo, hi float64) types.RewardRule {
	return types.RewardRule{
		RuleID:    types.RuleID(id),
		Condition: types.ConditionScoreRange,
		MinScore:  types.Float64Ptr(lo),
		MaxScore:  types.Float64Ptr(hi),
		IsActive:  true,
	}
}

func query(pct float64) Query {
	return Query{
		AssessmentType: types.AssessmentExam,
		SubjectID:      testSubject,
		StudentID:      testStudent,
		Percentage:     &pct,
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name string
		rule types.RewardRule
		pct  float64
		want bool
	}{
		{name: "perfect exact", rule: types.RewardRule{Condition: types.ConditionPerfectScore}, pct: 100, want: true},
		{name: "perfect above", rule: types.RewardRule{Condition: types.ConditionPerfectScore}, pct: 105, want: false},
		{name: "perfect below", rule: types.RewardRule{Condition: types.ConditionPerfectScore}, pct: 99.9, want: false},
		{name: "equals hit", rule: types.RewardRule{Condition: types.ConditionScoreEquals, MinScore: types.Float64Ptr(75)}, pct: 75, want: true},
		{name: "equals miss", rule: types.RewardRule{Condition: types.ConditionScoreEquals, MinScore: types.Float64Ptr(75)}, pct: 76, want: false},
		{name: "equals without min", rule: types.RewardRule{Condition: types.ConditionScoreEquals}, pct: 0, want: false},
		{name: "range inclusive low", rule: rangeRule("r", 80, 89), pct: 80, want: true},
		{name: "range inclusive high", rule: rangeRule("r", 80, 89), pct: 89, want: true},
		{name: "range above", rule: rangeRule("r", 80, 89), pct: 89.5, want: false},
		{name: "range default bounds low", rule: types.RewardRule{Condition: types.ConditionScoreRange}, pct: 0, want: true},
		{name: "range default bounds high", rule: types.RewardRule{Condition: types.ConditionScoreRange}, pct: 100, want: true},
		{name: "range default bounds over", rule: types.RewardRule{Condition: types.ConditionScoreRange}, pct: 100.5, want: false},
		{name: "unknown condition", rule: types.RewardRule{Condition: "score_above"}, pct: 100, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(&tt.rule, tt.pct); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve_TierDominatesPriority(t *testing.T) {
	global := rangeRule("global", 0, 100)
	subject := rangeRule("subject", 0, 100)
	subject.SubjectID = testSubject

	got := Resolve([]types.RewardRule{global, subject}, query(50))
	if got == nil || got.RuleID != "subject" {
		t.Fatalf("Resolve() = %v, want subject rule", got)
	}
}

func TestResolve_FullTierOrder(t *testing.T) {
	global := rangeRule("global", 0, 100)
	student := rangeRule("student", 0, 100)
	student.StudentID = testStudent
	subject := rangeRule("subject", 0, 100)
	subject.SubjectID = testSubject
	both := rangeRule("both", 0, 100)
	both.SubjectID = testSubject
	both.StudentID = testStudent

	candidates := Candidates([]types.RewardRule{global, student, subject, both}, query(50))
	want := []types.RuleID{"both", "subject", "student", "global"}
	if len(candidates) != len(want) {
		t.Fatalf("len(Candidates()) = %v, want %v", len(candidates), len(want))
	}
	for i, id := range want {
		if candidates[i].RuleID != id {
			t.Errorf("Candidates()[%d] = %v, want %v", i, candidates[i].RuleID, id)
		}
	}
}

func TestResolve_AscendingDisplayOrder(t *testing.T) {
	second := rangeRule("second", 0, 100)
	second.DisplayOrder = types.IntPtr(2)
	first := rangeRule("first", 0, 100)
	first.DisplayOrder = types.IntPtr(1)

	got := Resolve([]types.RewardRule{second, first}, query(50))
	if got == nil || got.RuleID != "first" {
		t.Fatalf("Resolve() = %v, want rule with display order 1", got)
	}
}

func TestResolve_AscendingPriority(t *testing.T) {
	high := rangeRule("high", 0, 100)
	high.Priority = 10
	low := rangeRule("low", 0, 100)
	low.Priority = 1

	got := Resolve([]types.RewardRule{high, low}, query(50))
	if got == nil || got.RuleID != "low" {
		t.Fatalf("Resolve() = %v, want lower priority value first", got)
	}
}

func TestResolve_DisplayOrderOverridesPriority(t *testing.T) {
	a := rangeRule("a", 0, 100)
	a.Priority = 0
	a.DisplayOrder = types.IntPtr(5)
	b := rangeRule("b", 0, 100)
	b.Priority = 3

	got := Resolve([]types.RewardRule{a, b}, query(50))
	if got == nil || got.RuleID != "b" {
		t.Fatalf("Resolve() = %v, want b (priority 3 sorts before display order 5)", got)
	}
}

func TestResolve_EqualKeysKeepInputOrder(t *testing.T) {
	x := rangeRule("x", 0, 100)
	y := rangeRule("y", 0, 100)

	got := Resolve([]types.RewardRule{x, y}, query(50))
	if got == nil || got.RuleID != "x" {
		t.Fatalf("Resolve() = %v, want x", got)
	}
}

func TestResolve_FirstMatchWins(t *testing.T) {
	// Specific rule does not match, so resolution falls through to global
	subject := rangeRule("subject", 90, 100)
	subject.SubjectID = testSubject
	global := rangeRule("global", 0, 100)

	got := Resolve([]types.RewardRule{subject, global}, query(50))
	if got == nil || got.RuleID != "global" {
		t.Fatalf("Resolve() = %v, want global", got)
	}
}

func TestResolve_Filters(t *testing.T) {
	inactive := rangeRule("inactive", 0, 100)
	inactive.IsActive = false
	quizOnly := rangeRule("quiz", 0, 100)
	quizOnly.AssessmentType = types.AssessmentQuiz
	otherSubject := rangeRule("other-subject", 0, 100)
	otherSubject.SubjectID = "subject-art"
	otherStudent := rangeRule("other-student", 0, 100)
	otherStudent.StudentID = "student-bob"
	wrongPair := rangeRule("wrong-pair", 0, 100)
	wrongPair.SubjectID = testSubject
	wrongPair.StudentID = "student-bob"

	rules := []types.RewardRule{inactive, quizOnly, otherSubject, otherStudent, wrongPair}
	if got := Resolve(rules, query(50)); got != nil {
		t.Errorf("Resolve() = %v, want nil", got.RuleID)
	}

	examOnly := rangeRule("exam", 0, 100)
	examOnly.AssessmentType = types.AssessmentExam
	rules = append(rules, examOnly)
	if got := Resolve(rules, query(50)); got == nil || got.RuleID != "exam" {
		t.Errorf("Resolve() = %v, want exam", got)
	}
}

func TestResolve_NilPercentage(t *testing.T) {
	q := query(0)
	q.Percentage = nil
	if got := Resolve([]types.RewardRule{rangeRule("any", 0, 100)}, q); got != nil {
		t.Errorf("Resolve() = %v, want nil for unscored assessment", got.RuleID)
	}
}

func TestResolve_ScenarioSubjectBeatsGlobal(t *testing.T) {
	global := rangeRule("global", 90, 100)
	global.RewardAmount = 10
	subject := rangeRule("subject", 90, 100)
	subject.SubjectID = testSubject
	subject.RewardAmount = 20

	got := Resolve([]types.RewardRule{global, subject}, query(95))
	if got == nil || got.RuleID != "subject" {
		t.Fatalf("Resolve() = %v, want subject", got)
	}
	if got.RewardAmount != 20 {
		t.Errorf("RewardAmount = %v, want 20", got.RewardAmount)
	}
}

func TestFilterKnownStudents(t *testing.T) {
	known := rangeRule("known", 0, 100)
	known.StudentID = testStudent
	stale := rangeRule("stale", 0, 100)
	stale.StudentID = "student-gone"
	global := rangeRule("global", 0, 100)

	got := FilterKnownStudents([]types.RewardRule{known, stale, global}, map[types.StudentID]struct{}{testStudent: {}})
	if len(got) != 2 {
		t.Fatalf("len(FilterKnownStudents()) = %v, want 2", len(got))
	}
	if got[0].RuleID != "known" || got[1].RuleID != "global" {
		t.Errorf("FilterKnownStudents() = [%v %v], want [known global]", got[0].RuleID, got[1].RuleID)
	}
}

func TestTier_String(t *testing.T) {
	want := map[Tier]string{
		TierSubjectStudent: "subject_student",
		TierSubject:        "subject",
		TierStudent:        "student",
		TierGlobal:         "global",
		Tier(99):           "unknown",
	}
	for tier, s := range want {
		if tier.String() != s {
			t.Errorf("Tier(%d).String() = %q, want %q", int(tier), tier.String(), s)
		}
	}
}

// Property-based test: range predicate is exactly the closed interval
func TestMatches_PropertyRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	rule := rangeRule("r", 80, 89)

	properties.Property("score_range 80-89 matches iff 80 <= p <= 89", prop.ForAll(
		func(p float64) bool {
			return Matches(&rule, p) == (p >= 80 && p <= 89)
		},
		gen.Float64Range(-10, 200),
	))

	properties.TestingRun(t)
}

// Property-based test: a matching global rule never beats a matching subject rule
func TestResolve_PropertyTierDominance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("subject tier wins regardless of priority", prop.ForAll(
		func(globalPriority, subjectPriority int, pct float64) bool {
			global := rangeRule("global", 0, 100)
			global.Priority = globalPriority
			subject := rangeRule("subject", 0, 100)
			subject.SubjectID = testSubject
			subject.Priority = subjectPriority

			got := Resolve([]types.RewardRule{global, subject}, query(pct))
			return got != nil && got.RuleID == "subject"
		},
		gen.IntRange(-100, 100),
		gen.IntRange(-100, 100),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}
