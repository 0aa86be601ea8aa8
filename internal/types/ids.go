package types

import "github.com/google/uuid"

// RuleID represents a UUIDv7 reward rule identifier.
type RuleID string

// NewRuleID generates a UUIDv7 rule identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRuleID() RuleID {
	return RuleID(newV7())
}

// NewAssessmentID generates a UUIDv7 assessment identifier.
func NewAssessmentID() AssessmentID {
	return AssessmentID(newV7())
}

// NewLedgerEntryID generates a UUIDv7 ledger entry identifier.
// Time-ordered IDs keep a student's ledger naturally sorted by insertion.
func NewLedgerEntryID() LedgerEntryID {
	return LedgerEntryID(newV7())
}

// NewStudentID generates a UUIDv7 student identifier.
func NewStudentID() StudentID {
	return StudentID(newV7())
}

// NewSubjectID generates a UUIDv7 subject identifier.
func NewSubjectID() SubjectID {
	return SubjectID(newV7())
}

// NewProjectID generates a UUIDv7 project identifier.
func NewProjectID() ProjectID {
	return ProjectID(newV7())
}

// NewAPIKeyID generates a UUIDv7 API key record identifier.
func NewAPIKeyID() string {
	return newV7()
}

func newV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ParseRuleID validates and converts a string to RuleID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the system.
func ParseRuleID(s string) (RuleID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return RuleID(s), nil
}

// ParseAssessmentID validates and converts a string to AssessmentID.
func ParseAssessmentID(s string) (AssessmentID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return AssessmentID(s), nil
}

// ParseStudentID validates and converts a string to StudentID.
func ParseStudentID(s string) (StudentID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return StudentID(s), nil
}

// ParseProjectID validates and converts a string to ProjectID.
func ParseProjectID(s string) (ProjectID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return ProjectID(s), nil
}
