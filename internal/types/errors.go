package types

import "errors"

// Sentinel errors for rewardkeeper operations.
// Callers wrap these with context via fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrEmptyFormula indicates a reward formula is empty after trimming.
	ErrEmptyFormula = errors.New("formula is empty")

	// ErrInvalidFormulaChar indicates a character outside the formula alphabet.
	ErrInvalidFormulaChar = errors.New("formula contains invalid character")

	// ErrMalformedNumber indicates a numeric literal that does not parse.
	ErrMalformedNumber = errors.New("malformed number in formula")

	// ErrMismatchedParens indicates unbalanced parentheses.
	ErrMismatchedParens = errors.New("mismatched parentheses")

	// ErrBadExpression indicates operand underflow or leftover operands.
	ErrBadExpression = errors.New("bad expression")

	// ErrNonFiniteResult indicates NaN or Infinity, e.g. division by zero.
	ErrNonFiniteResult = errors.New("formula result is not finite")

	// ErrInvalidCondition indicates an unknown rule condition.
	ErrInvalidCondition = errors.New("invalid rule condition")

	// ErrInvalidAssessmentType indicates an unknown assessment type.
	ErrInvalidAssessmentType = errors.New("invalid assessment type")

	// ErrInvalidRewardAmount indicates a negative or non-finite flat amount.
	ErrInvalidRewardAmount = errors.New("reward amount must be a finite non-negative number")

	// ErrInvalidScoreBounds indicates min/max bounds unusable for the condition.
	ErrInvalidScoreBounds = errors.New("invalid score bounds for condition")

	// ErrInvalidScoreType indicates an unknown score type.
	ErrInvalidScoreType = errors.New("invalid score type")

	// ErrNotFound indicates a missing entity within the caller's project.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent write changed the row first.
	ErrConflict = errors.New("concurrent modification")

	// ErrNotScored indicates an assessment input that yields no score,
	// such as a missing score or an unknown letter grade.
	ErrNotScored = errors.New("assessment input could not be scored")
)
