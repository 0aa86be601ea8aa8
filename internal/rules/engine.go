package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/solatis/rewardkeeper/internal/types"
	"go.uber.org/zap"
)

// Engine composes normalization, resolution and calculation for one
// assessment. Stateless apart from the logger; safe for concurrent use.
type Engine struct {
	log *zap.Logger
}

// NewEngine creates a reward engine. A nil logger disables logging.
func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log.Named("rules")}
}

// ScoreRequest carries one assessment result and its rule context.
type ScoreRequest struct {
	AssessmentType types.AssessmentType
	SubjectID      types.SubjectID
	StudentID      types.StudentID
	Input          ScoreInput
	ManualReward   *float64

	// Rules are the active rules of the project. Order does not matter.
	Rules []types.RewardRule

	// KnownStudents, when non-nil, drops rules scoped to unknown students.
	KnownStudents map[types.StudentID]struct{}
}

// ScoreResult is the derived state to persist on the assessment.
type ScoreResult struct {
	Scored     bool
	Score      float64
	Percentage float64
	Reward     int64
	Source     RewardSource
	RuleID     types.RuleID
	Tier       string
}

// Score normalizes the input and prices it.
// An unscored input returns Scored=false with a zero reward and skips rule
// resolution entirely.
func (e *Engine) Score(req ScoreRequest) (ScoreResult, error) {
	norm, ok := Normalize(req.Input)
	if !ok {
		e.log.Debug("assessment not scored",
			zap.String("score_type", string(req.Input.ScoreType)),
			zap.String("grade", req.Input.Grade))
		return ScoreResult{Source: SourceNone}, nil
	}

	rules := req.Rules
	if req.KnownStudents != nil {
		rules = FilterKnownStudents(rules, req.KnownStudents)
		if dropped := len(req.Rules) - len(rules); dropped > 0 {
			e.log.Warn("dropped rules scoped to unknown students", zap.Int("dropped", dropped))
		}
	}

	// Rules dropped by the student filter still count as configured, so the
	// project does not fall back to the bootstrap schedule.
	if len(rules) == 0 && len(req.Rules) > 0 && req.ManualReward == nil {
		return ScoreResult{
			Scored:     true,
			Score:      norm.Score,
			Percentage: norm.Percentage,
			Source:     SourceNone,
		}, nil
	}

	out, err := Calculate(CalcInput{
		Rules:          rules,
		AssessmentType: req.AssessmentType,
		SubjectID:      req.SubjectID,
		StudentID:      req.StudentID,
		Score:          norm.Score,
		Percentage:     norm.Percentage,
		MaxScore:       req.Input.MaxScore,
		ManualReward:   req.ManualReward,
	})
	if err != nil {
		return ScoreResult{}, err
	}

	res := ScoreResult{
		Scored:     true,
		Score:      norm.Score,
		Percentage: norm.Percentage,
		Reward:     out.Reward,
		Source:     out.Source,
	}
	if out.Rule != nil {
		res.RuleID = out.Rule.RuleID
		if tier, ok := TierOf(out.Rule, Query{SubjectID: req.SubjectID, StudentID: req.StudentID}); ok {
			res.Tier = tier.String()
		}
	}

	e.log.Debug("assessment priced",
		zap.Float64("percentage", res.Percentage),
		zap.Int64("reward", res.Reward),
		zap.String("source", string(res.Source)),
		zap.String("rule_id", string(res.RuleID)),
		zap.Int("candidate_rules", len(rules)))

	return res, nil
}

// ValidateRule rejects rules that could never be evaluated correctly.
// Run at authoring time so a broken formula never reaches scoring.
func (e *Engine) ValidateRule(r *types.RewardRule) error {
	if !r.Condition.Valid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidCondition, r.Condition)
	}
	if r.AssessmentType != "" && !r.AssessmentType.Valid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidAssessmentType, r.AssessmentType)
	}
	if math.IsNaN(r.RewardAmount) || math.IsInf(r.RewardAmount, 0) || r.RewardAmount < 0 {
		return types.ErrInvalidRewardAmount
	}
	if r.MinScore != nil && !isFinite(*r.MinScore) {
		return fmt.Errorf("%w: min_score is not finite", types.ErrInvalidScoreBounds)
	}
	if r.MaxScore != nil && !isFinite(*r.MaxScore) {
		return fmt.Errorf("%w: max_score is not finite", types.ErrInvalidScoreBounds)
	}

	switch r.Condition {
	case types.ConditionScoreEquals:
		if r.MinScore == nil {
			return fmt.Errorf("%w: score_equals requires min_score", types.ErrInvalidScoreBounds)
		}
	case types.ConditionScoreRange:
		if r.MinScore != nil && r.MaxScore != nil && *r.MinScore > *r.MaxScore {
			return fmt.Errorf("%w: min_score %v > max_score %v", types.ErrInvalidScoreBounds, *r.MinScore, *r.MaxScore)
		}
	}

	if strings.TrimSpace(r.RewardFormula) != "" {
		if err := ValidateFormula(r.RewardFormula); err != nil {
			e.log.Debug("rejected rule formula", zap.String("formula", r.RewardFormula), zap.Error(err))
			return err
		}
	}
	return nil
}
