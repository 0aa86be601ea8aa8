// internal/types/rules.go
package types

import "time"

/*
 * Domain types for reward rules.
 *
 * RewardRule is the configuration entity read by internal/rules. The engine
 * never mutates a rule; it only reads a set of rules per invocation. These
 * types are wire-format agnostic - struct-to-rule conversion happens at the
 * API boundary (internal/core/api) and the storage boundary (internal/core/db).
 *
 * Key types:
 *   - RewardRule: condition-to-amount mapping with optional scope
 *   - Condition: how the normalized percentage is matched
 *   - AssessmentType: kind of assessment a rule is limited to
 *
 * Scope: StudentID and SubjectID left empty mean "all". The specificity tier
 * is derived from those two fields and never stored.
 */

// Condition selects the score-matching predicate of a rule.
type Condition string

const (
	ConditionPerfectScore Condition = "perfect_score"
	ConditionScoreEquals  Condition = "score_equals"
	ConditionScoreRange   Condition = "score_range"
)

// Valid reports whether c is one of the known conditions.
func (c Condition) Valid() bool {
	switch c {
	case ConditionPerfectScore, ConditionScoreEquals, ConditionScoreRange:
		return true
	default:
		return false
	}
}

// AssessmentType is the kind of assessment. Empty on a rule means any type.
type AssessmentType string

const (
	AssessmentExam     AssessmentType = "exam"
	AssessmentHomework AssessmentType = "homework"
	AssessmentQuiz     AssessmentType = "quiz"
	AssessmentProject  AssessmentType = "project"
)

// Valid reports whether t is one of the known assessment types.
func (t AssessmentType) Valid() bool {
	switch t {
	case AssessmentExam, AssessmentHomework, AssessmentQuiz, AssessmentProject:
		return true
	default:
		return false
	}
}

// RewardRule maps an assessment outcome to a reward amount.
type RewardRule struct {
	RuleID         RuleID
	ProjectID      ProjectID
	Name           string
	StudentID      StudentID      // empty = all students
	SubjectID      SubjectID      // empty = all subjects
	AssessmentType AssessmentType // empty = all types
	Condition      Condition
	MinScore       *float64 // percentage scale
	MaxScore       *float64 // percentage scale
	RewardAmount   float64  // flat amount when RewardFormula is empty
	RewardFormula  string   // expression over G, P, M
	Priority       int
	DisplayOrder   *int // overrides Priority for tie-break sorting when set
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
