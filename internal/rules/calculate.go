// internal/rules/calculate.go
package rules

import (
	"math"
	"strings"

	"github.com/solatis/rewardkeeper/internal/types"
)

/*
 * Reward calculation.
 *
 * Turns a resolved rule (or a manual override) into a non-negative integer
 * reward.
 *
 * Precedence:
 *   1. Manual override - bypasses resolution and formulas entirely
 *   2. No rules configured at all - bootstrap fallback schedule
 *   3. Rules configured, none matched - zero
 *   4. Matched rule - formula if set, else flat amount
 *
 * The fallback is gated on "zero rules available", never "zero rules
 * matched". Formula errors are returned, not swallowed: a broken stored
 * formula is a configuration error.
 */

// RewardSource records which path produced a reward.
type RewardSource string

const (
	SourceManual   RewardSource = "manual"
	SourceRule     RewardSource = "rule"
	SourceFallback RewardSource = "fallback"
	SourceNone     RewardSource = "none"
)

// RuleRewardInput is the rule-derived half of a calculation.
type RuleRewardInput struct {
	RuleRewardAmount  float64
	RuleRewardFormula string
	Score             float64
	Percentage        float64
	MaxScore          float64
}

// CalculateRewardFromRule evaluates the rule's formula, or takes its flat
// amount, and clamps the rounded result at zero.
func CalculateRewardFromRule(in RuleRewardInput) (int64, error) {
	if strings.TrimSpace(in.RuleRewardFormula) != "" {
		v, err := EvaluateFormula(in.RuleRewardFormula, Vars{G: in.Score, P: in.Percentage, M: in.MaxScore})
		if err != nil {
			return 0, err
		}
		return RoundReward(v), nil
	}
	return RoundReward(in.RuleRewardAmount), nil
}

// RoundReward rounds to the nearest integer and clamps at zero.
// Non-finite values yield zero.
func RoundReward(v float64) int64 {
	if !isFinite(v) {
		return 0
	}
	r := math.Round(v)
	if r <= 0 {
		return 0
	}
	if r >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(r)
}

// Fallback schedule thresholds, used only when no rules are configured.
const (
	fallbackPerfect = 30
	fallbackNinety  = 10
	fallbackEighty  = 5
)

// FallbackReward is the bootstrap schedule for projects with no rules.
func FallbackReward(percentage float64) int64 {
	switch {
	case percentage >= 100:
		return fallbackPerfect
	case percentage >= 90:
		return fallbackNinety
	case percentage >= 80:
		return fallbackEighty
	default:
		return 0
	}
}

// CalcInput is everything needed to price one scored assessment.
type CalcInput struct {
	Rules          []types.RewardRule // all rules available for the context
	AssessmentType types.AssessmentType
	SubjectID      types.SubjectID
	StudentID      types.StudentID
	Score          float64
	Percentage     float64
	MaxScore       float64
	ManualReward   *float64
}

// Outcome is the priced result.
type Outcome struct {
	Reward int64
	Source RewardSource
	Rule   *types.RewardRule // set when Source == SourceRule
}

// Calculate applies override, fallback and rule resolution in order.
func Calculate(in CalcInput) (Outcome, error) {
	if in.ManualReward != nil {
		return Outcome{Reward: RoundReward(*in.ManualReward), Source: SourceManual}, nil
	}

	if len(in.Rules) == 0 {
		return Outcome{Reward: FallbackReward(in.Percentage), Source: SourceFallback}, nil
	}

	pct := in.Percentage
	rule := Resolve(in.Rules, Query{
		AssessmentType: in.AssessmentType,
		SubjectID:      in.SubjectID,
		StudentID:      in.StudentID,
		Percentage:     &pct,
	})
	if rule == nil {
		return Outcome{Reward: 0, Source: SourceNone}, nil
	}

	reward, err := CalculateRewardFromRule(RuleRewardInput{
		RuleRewardAmount:  rule.RewardAmount,
		RuleRewardFormula: rule.RewardFormula,
		Score:             in.Score,
		Percentage:        in.Percentage,
		MaxScore:          in.MaxScore,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Reward: reward, Source: SourceRule, Rule: rule}, nil
}
