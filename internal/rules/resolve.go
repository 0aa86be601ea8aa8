// internal/rules/resolve.go
package rules

import (
	"sort"

	"github.com/solatis/rewardkeeper/internal/types"
)

/*
 * Reward rule resolution.
 *
 * Selects at most one rule for an assessment result using a fixed four-tier
 * precedence. This is closed business logic; do not re-derive it from
 * "higher priority wins".
 *
 * Resolution workflow:
 *   1. Drop inactive rules
 *   2. Drop rules limited to a different assessment type
 *   3. Partition into tiers: subject+student, subject, student, global
 *   4. Stable-sort each tier ascending by DisplayOrder, else Priority
 *   5. Concatenate tiers most specific first
 *   6. First rule whose predicate matches the percentage wins
 *
 * Sorting is stable: rules with equal sort keys keep the order the caller
 * supplied them in.
 *
 * Matching uses the normalized percentage only, never the raw score.
 * perfect_score and score_equals compare with exact float equality.
 */

// Tier is a specificity level. Lower values are more specific.
type Tier int

const (
	TierSubjectStudent Tier = iota
	TierSubject
	TierStudent
	TierGlobal
	tierCount
)

// String returns a short label used in logs and API responses.
func (t Tier) String() string {
	switch t {
	case TierSubjectStudent:
		return "subject_student"
	case TierSubject:
		return "subject"
	case TierStudent:
		return "student"
	case TierGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Query describes the assessment a rule is resolved for.
// A nil Percentage means the assessment is not scored; nothing matches.
type Query struct {
	AssessmentType types.AssessmentType
	SubjectID      types.SubjectID
	StudentID      types.StudentID
	Percentage     *float64
}

// Resolve returns the first matching rule in precedence order, or nil.
// The returned pointer refers to an element of rules.
func Resolve(rules []types.RewardRule, q Query) *types.RewardRule {
	if q.Percentage == nil {
		return nil
	}
	for _, idx := range candidateIndexes(rules, q) {
		if Matches(&rules[idx], *q.Percentage) {
			return &rules[idx]
		}
	}
	return nil
}

// Candidates returns the rules eligible for q in evaluation order.
func Candidates(rules []types.RewardRule, q Query) []types.RewardRule {
	idxs := candidateIndexes(rules, q)
	out := make([]types.RewardRule, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, rules[idx])
	}
	return out
}

// candidateIndexes filters, partitions and orders rules (steps 1-5).
func candidateIndexes(rules []types.RewardRule, q Query) []int {
	var tiers [tierCount][]int

	for i := range rules {
		r := &rules[i]
		if !r.IsActive {
			continue
		}
		if r.AssessmentType != "" && r.AssessmentType != q.AssessmentType {
			continue
		}
		tier, ok := TierOf(r, q)
		if !ok {
			continue
		}
		tiers[tier] = append(tiers[tier], i)
	}

	out := make([]int, 0, len(rules))
	for _, tier := range tiers {
		sort.SliceStable(tier, func(a, b int) bool {
			return sortKey(&rules[tier[a]]) < sortKey(&rules[tier[b]])
		})
		out = append(out, tier...)
	}
	return out
}

// TierOf classifies a rule against the query's subject and student.
// ok=false means the rule is scoped to a different subject or student.
func TierOf(r *types.RewardRule, q Query) (Tier, bool) {
	subjectSet := r.SubjectID != ""
	studentSet := r.StudentID != ""

	switch {
	case subjectSet && studentSet:
		if r.SubjectID == q.SubjectID && r.StudentID == q.StudentID {
			return TierSubjectStudent, true
		}
	case subjectSet:
		if r.SubjectID == q.SubjectID {
			return TierSubject, true
		}
	case studentSet:
		if r.StudentID == q.StudentID {
			return TierStudent, true
		}
	default:
		return TierGlobal, true
	}
	return 0, false
}

// sortKey is DisplayOrder when set, else Priority. Ascending order.
func sortKey(r *types.RewardRule) int {
	if r.DisplayOrder != nil {
		return *r.DisplayOrder
	}
	return r.Priority
}

// Matches applies the rule's score predicate to a normalized percentage.
// Unknown conditions never match.
func Matches(r *types.RewardRule, percentage float64) bool {
	switch r.Condition {
	case types.ConditionPerfectScore:
		return percentage == 100
	case types.ConditionScoreEquals:
		return r.MinScore != nil && percentage == *r.MinScore
	case types.ConditionScoreRange:
		lo, hi := 0.0, 100.0
		if r.MinScore != nil {
			lo = *r.MinScore
		}
		if r.MaxScore != nil {
			hi = *r.MaxScore
		}
		return percentage >= lo && percentage <= hi
	default:
		return false
	}
}

// FilterKnownStudents drops rules scoped to a student outside known.
// Guards against stale rows and cross-project contamination. Rules without a
// student scope always pass.
func FilterKnownStudents(rules []types.RewardRule, known map[types.StudentID]struct{}) []types.RewardRule {
	out := make([]types.RewardRule, 0, len(rules))
	for _, r := range rules {
		if r.StudentID != "" {
			if _, ok := known[r.StudentID]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
