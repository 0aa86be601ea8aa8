// Package types provides domain models shared across rewardkeeper components.
//
// Zero-dependency design: types.go, rules.go and errors.go use only the
// standard library so the reward engine in internal/rules can be embedded
// without pulling in storage or transport deps. ID utilities in ids.go import
// uuid but are isolated in their own file.
//
// Nullable references use the zero value: an empty StudentID or SubjectID on a
// rule means "applies to all". Nullable numbers use pointers because zero is a
// meaningful score.
package types

import "time"

// ProjectID identifies a tenant. Every stored entity belongs to one project.
type ProjectID string

// StudentID identifies a student within a project.
type StudentID string

// SubjectID identifies a subject within a project.
type SubjectID string

// AssessmentID identifies an assessment.
type AssessmentID string

// LedgerEntryID identifies a ledger entry.
type LedgerEntryID string

// ScoreType selects how an assessment result is expressed.
type ScoreType string

const (
	ScoreTypeNumeric ScoreType = "numeric"
	ScoreTypeLetter  ScoreType = "letter"
)

// AssessmentStatus is the scoring lifecycle state.
// upcoming -> completed when a score is supplied; clearing the score goes back.
type AssessmentStatus string

const (
	StatusUpcoming  AssessmentStatus = "upcoming"
	StatusCompleted AssessmentStatus = "completed"
)

// Assessment is a single graded piece of work for one student.
// Score, Percentage and RewardAmount are derived by the reward engine and
// persisted by the service.
type Assessment struct {
	AssessmentID   AssessmentID
	ProjectID      ProjectID
	StudentID      StudentID
	SubjectID      SubjectID
	AssessmentType AssessmentType
	Title          string
	ScoreType      ScoreType
	Score          *float64
	MaxScore       float64
	Percentage     *float64
	Grade          string
	Status         AssessmentStatus
	RewardAmount   int64
	ManualReward   *float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GradeScoreRange is the numeric band equivalent to one letter grade.
// Average is authoritative for custom mappings; Min and Max default to it.
type GradeScoreRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// GradeMapping translates letter grades to score bands.
type GradeMapping map[string]GradeScoreRange

// Student is a reward recipient within a project.
type Student struct {
	StudentID StudentID
	ProjectID ProjectID
	Name      string
	CreatedAt time.Time
}

// Subject groups assessments and optionally carries a custom grade mapping.
// GradeMapping holds the raw JSON document; empty means the default table.
type Subject struct {
	SubjectID    SubjectID
	ProjectID    ProjectID
	Name         string
	GradeMapping string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LedgerEntry is one signed movement on a student's reward balance.
type LedgerEntry struct {
	EntryID      LedgerEntryID
	ProjectID    ProjectID
	StudentID    StudentID
	AssessmentID AssessmentID // empty for entries not tied to an assessment
	Amount       int64
	Reason       string
	CreatedAt    time.Time
}

// Float64Ptr returns a pointer to v. Convenience for optional numeric fields.
func Float64Ptr(v float64) *float64 {
	return &v
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
