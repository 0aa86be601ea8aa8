package api

import (
	"context"
	"errors"

	"github.com/solatis/rewardkeeper/internal/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error mapping.
// Auth errors mapped in auth package interceptor.
// Validation errors map to INVALID_ARGUMENT.
// Missing entities map to NOT_FOUND.
// Lost optimistic updates map to ABORTED.
// Broken stored formulas map to FAILED_PRECONDITION (see scoringError).
// Context timeouts map to DEADLINE_EXCEEDED.
// Everything else is a storage failure and maps to UNAVAILABLE.

var invalidArgument = []error{
	types.ErrEmptyFormula,
	types.ErrInvalidFormulaChar,
	types.ErrMalformedNumber,
	types.ErrMismatchedParens,
	types.ErrBadExpression,
	types.ErrNonFiniteResult,
	types.ErrInvalidCondition,
	types.ErrInvalidAssessmentType,
	types.ErrInvalidRewardAmount,
	types.ErrInvalidScoreBounds,
	types.ErrInvalidScoreType,
	types.ErrNotScored,
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, types.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, types.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	for _, target := range invalidArgument {
		if errors.Is(err, target) {
			return status.Error(codes.InvalidArgument, err.Error())
		}
	}
	return status.Error(codes.Unavailable, err.Error())
}

// scoringError reports an engine failure while pricing with stored rules.
// The engine only fails on formula evaluation, and formulas are validated
// when authored, so this is a configuration problem.
func scoringError(err error) error {
	return status.Errorf(codes.FailedPrecondition, "reward rule misconfigured: %v", err)
}
