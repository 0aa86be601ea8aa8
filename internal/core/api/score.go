package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/solatis/rewardkeeper/internal/core/db"
	"github.com/solatis/rewardkeeper/internal/rules"
	"github.com/solatis/rewardkeeper/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// pricing is the project state the engine needs for one assessment.
type pricing struct {
	mapping types.GradeMapping
	rules   []types.RewardRule
	known   map[types.StudentID]struct{}
}

// loadPricing reads active rules, known students and the subject's grade
// mapping. An empty subjectID uses the default grade table.
func (s *RewardService) loadPricing(ctx context.Context, pid types.ProjectID, subjectID types.SubjectID) (*pricing, error) {
	p := &pricing{}

	if subjectID != "" {
		sub, err := s.store.GetSubject(ctx, pid, subjectID)
		if err != nil {
			return nil, err
		}
		if m, ok := rules.ParseGradeMapping([]byte(sub.GradeMapping)); ok {
			p.mapping = m
		} else if sub.GradeMapping != "" {
			s.log.Warn("ignoring incomplete grade mapping", zap.String("subject_id", string(subjectID)))
		}
	}

	var err error
	if p.rules, err = s.store.ListActiveRules(ctx, pid); err != nil {
		return nil, err
	}
	if p.known, err = s.store.KnownStudents(ctx, pid); err != nil {
		return nil, err
	}
	return p, nil
}

type previewRequest struct {
	SubjectID      string   `json:"subject_id"`
	StudentID      string   `json:"student_id"`
	AssessmentType string   `json:"assessment_type"`
	ScoreType      string   `json:"score_type"`
	Score          *float64 `json:"score"`
	Grade          string   `json:"grade"`
	MaxScore       float64  `json:"max_score"`
	ManualReward   *float64 `json:"manual_reward"`
}

type priceResponse struct {
	Scored     bool     `json:"scored"`
	Score      *float64 `json:"score"`
	Percentage *float64 `json:"percentage"`
	Reward     int64    `json:"reward"`
	Source     string   `json:"source"`
	RuleID     string   `json:"rule_id,omitempty"`
	Tier       string   `json:"tier,omitempty"`
}

func toPriceResponse(res rules.ScoreResult) priceResponse {
	out := priceResponse{
		Scored: res.Scored,
		Reward: res.Reward,
		Source: string(res.Source),
		RuleID: string(res.RuleID),
		Tier:   res.Tier,
	}
	if res.Scored {
		out.Score = types.Float64Ptr(res.Score)
		out.Percentage = types.Float64Ptr(res.Percentage)
	}
	return out
}

func validateKinds(assessmentType, scoreType string) error {
	if assessmentType != "" && !types.AssessmentType(assessmentType).Valid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidAssessmentType, assessmentType)
	}
	switch types.ScoreType(scoreType) {
	case types.ScoreTypeNumeric, types.ScoreTypeLetter, "":
		return nil
	default:
		return fmt.Errorf("%w: %q", types.ErrInvalidScoreType, scoreType)
	}
}

// PreviewReward prices an assessment-shaped input against the project's
// stored rules without persisting anything.
func (s *RewardService) PreviewReward(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := projectID(ctx)
	if err != nil {
		return nil, err
	}

	var req previewRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := validateKinds(req.AssessmentType, req.ScoreType); err != nil {
		return nil, toStatus(err)
	}

	p, err := s.loadPricing(ctx, pid, types.SubjectID(req.SubjectID))
	if err != nil {
		return nil, toStatus(err)
	}

	res, err := s.engine.Score(rules.ScoreRequest{
		AssessmentType: types.AssessmentType(req.AssessmentType),
		SubjectID:      types.SubjectID(req.SubjectID),
		StudentID:      types.StudentID(req.StudentID),
		Input: rules.ScoreInput{
			ScoreType: types.ScoreType(req.ScoreType),
			Score:     req.Score,
			Grade:     req.Grade,
			MaxScore:  req.MaxScore,
			Mapping:   p.mapping,
		},
		ManualReward:  req.ManualReward,
		Rules:         p.rules,
		KnownStudents: p.known,
	})
	if err != nil {
		return nil, scoringError(err)
	}

	return encode(toPriceResponse(res))
}

type scoreRequest struct {
	AssessmentID      string   `json:"assessment_id"`
	Score             *float64 `json:"score"`
	Grade             *string  `json:"grade"`
	ManualReward      *float64 `json:"manual_reward"`
	ClearManualReward bool     `json:"clear_manual_reward"`
}

type assessmentJSON struct {
	AssessmentID   string   `json:"assessment_id"`
	StudentID      string   `json:"student_id"`
	SubjectID      string   `json:"subject_id"`
	AssessmentType string   `json:"assessment_type"`
	Title          string   `json:"title"`
	ScoreType      string   `json:"score_type"`
	Score          *float64 `json:"score"`
	MaxScore       float64  `json:"max_score"`
	Percentage     *float64 `json:"percentage"`
	Grade          string   `json:"grade,omitempty"`
	Status         string   `json:"status"`
	RewardAmount   int64    `json:"reward_amount"`
	ManualReward   *float64 `json:"manual_reward"`
}

func toAssessmentJSON(a *types.Assessment) assessmentJSON {
	return assessmentJSON{
		AssessmentID:   string(a.AssessmentID),
		StudentID:      string(a.StudentID),
		SubjectID:      string(a.SubjectID),
		AssessmentType: string(a.AssessmentType),
		Title:          a.Title,
		ScoreType:      string(a.ScoreType),
		Score:          a.Score,
		MaxScore:       a.MaxScore,
		Percentage:     a.Percentage,
		Grade:          a.Grade,
		Status:         string(a.Status),
		RewardAmount:   a.RewardAmount,
		ManualReward:   a.ManualReward,
	}
}

type scoreResponse struct {
	Assessment assessmentJSON `json:"assessment"`
	Source     string         `json:"source,omitempty"`
	RuleID     string         `json:"rule_id,omitempty"`
	Tier       string         `json:"tier,omitempty"`
	Delta      int64          `json:"delta"`
}

func parseAssessmentID(raw string) (types.AssessmentID, error) {
	id, err := types.ParseAssessmentID(raw)
	if err != nil {
		return "", status.Errorf(codes.InvalidArgument, "invalid assessment_id %q", raw)
	}
	return id, nil
}

// ScoreAssessment records a score or grade, prices it and moves the
// assessment to completed. The reward change is written to the ledger in the
// same transaction.
func (s *RewardService) ScoreAssessment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := projectID(ctx)
	if err != nil {
		return nil, err
	}

	var req scoreRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	aid, err := parseAssessmentID(req.AssessmentID)
	if err != nil {
		return nil, err
	}
	if req.ManualReward != nil && req.ClearManualReward {
		return nil, status.Error(codes.InvalidArgument, "manual_reward and clear_manual_reward are exclusive")
	}

	unlock := s.locks.Lock(string(aid))
	defer unlock()

	current, err := s.store.GetAssessment(ctx, pid, aid)
	if err != nil {
		return nil, toStatus(err)
	}

	input := rules.ScoreInput{ScoreType: current.ScoreType, MaxScore: current.MaxScore}
	switch current.ScoreType {
	case types.ScoreTypeLetter:
		if req.Grade == nil {
			return nil, status.Error(codes.InvalidArgument, "grade required for letter-scored assessment")
		}
		input.Grade = *req.Grade
	default:
		if req.Score == nil {
			return nil, status.Error(codes.InvalidArgument, "score required for numeric assessment")
		}
		input.Score = req.Score
	}

	p, err := s.loadPricing(ctx, pid, current.SubjectID)
	if err != nil {
		return nil, toStatus(err)
	}
	input.Mapping = p.mapping

	var res rules.ScoreResult
	updated, delta, err := s.store.UpdateScore(ctx, pid, aid, func(a *types.Assessment) (db.ScoreUpdate, error) {
		manual := a.ManualReward
		switch {
		case req.ManualReward != nil:
			manual = req.ManualReward
		case req.ClearManualReward:
			manual = nil
		}

		var err error
		res, err = s.engine.Score(rules.ScoreRequest{
			AssessmentType: a.AssessmentType,
			SubjectID:      a.SubjectID,
			StudentID:      a.StudentID,
			Input:          input,
			ManualReward:   manual,
			Rules:          p.rules,
			KnownStudents:  p.known,
		})
		if err != nil {
			return db.ScoreUpdate{}, scoringError(err)
		}
		if !res.Scored {
			return db.ScoreUpdate{}, types.ErrNotScored
		}

		u := db.ScoreUpdate{
			Score:        types.Float64Ptr(res.Score),
			Percentage:   types.Float64Ptr(res.Percentage),
			Status:       types.StatusCompleted,
			RewardAmount: res.Reward,
			ManualReward: manual,
			Reason:       fmt.Sprintf("assessment scored (%s)", res.Source),
		}
		if a.ScoreType == types.ScoreTypeLetter {
			u.Grade = strings.ToUpper(strings.TrimSpace(input.Grade))
		}
		return u, nil
	})
	if err != nil {
		return nil, toStatus(err)
	}

	s.log.Info("assessment scored",
		zap.String("project_id", string(pid)),
		zap.String("assessment_id", string(aid)),
		zap.Float64("percentage", res.Percentage),
		zap.Int64("reward", res.Reward),
		zap.Int64("delta", delta),
		zap.String("source", string(res.Source)))

	return encode(scoreResponse{
		Assessment: toAssessmentJSON(updated),
		Source:     string(res.Source),
		RuleID:     string(res.RuleID),
		Tier:       res.Tier,
		Delta:      delta,
	})
}

type clearRequest struct {
	AssessmentID string `json:"assessment_id"`
}

// ClearAssessmentScore removes the score, returns the assessment to upcoming
// and reverses its reward in the ledger.
func (s *RewardService) ClearAssessmentScore(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := projectID(ctx)
	if err != nil {
		return nil, err
	}

	var req clearRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	aid, err := parseAssessmentID(req.AssessmentID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(string(aid))
	defer unlock()

	updated, delta, err := s.store.UpdateScore(ctx, pid, aid, func(a *types.Assessment) (db.ScoreUpdate, error) {
		return db.ScoreUpdate{
			Status:       types.StatusUpcoming,
			RewardAmount: 0,
			ManualReward: a.ManualReward,
			Reason:       "assessment score cleared",
		}, nil
	})
	if err != nil {
		return nil, toStatus(err)
	}

	s.log.Info("assessment score cleared",
		zap.String("project_id", string(pid)),
		zap.String("assessment_id", string(aid)),
		zap.Int64("delta", delta))

	return encode(scoreResponse{Assessment: toAssessmentJSON(updated), Delta: delta})
}
