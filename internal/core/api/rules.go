package api

import (
	"context"
	"time"

	"github.com/solatis/rewardkeeper/internal/rules"
	"github.com/solatis/rewardkeeper/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type formulaRequest struct {
	Formula string   `json:"formula"`
	G       *float64 `json:"g"`
	P       *float64 `json:"p"`
	M       *float64 `json:"m"`
}

type formulaResponse struct {
	Valid  bool     `json:"valid"`
	Error  string   `json:"error,omitempty"`
	Result *float64 `json:"result,omitempty"`
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// ValidateFormula compiles a reward formula and, when any variable is given,
// evaluates it. Unset variables are zero. An invalid formula is a normal
// response, not an RPC error.
func (s *RewardService) ValidateFormula(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req formulaRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	f, err := rules.CompileFormula(req.Formula)
	if err != nil {
		return encode(formulaResponse{Valid: false, Error: err.Error()})
	}

	resp := formulaResponse{Valid: true}
	if req.G != nil || req.P != nil || req.M != nil {
		v, err := f.Evaluate(rules.Vars{G: valueOr(req.G), P: valueOr(req.P), M: valueOr(req.M)})
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = &v
		}
	}
	return encode(resp)
}

// ruleJSON is the wire shape of a reward rule.
type ruleJSON struct {
	RuleID         string   `json:"rule_id,omitempty"`
	Name           string   `json:"name"`
	StudentID      string   `json:"student_id,omitempty"`
	SubjectID      string   `json:"subject_id,omitempty"`
	AssessmentType string   `json:"assessment_type,omitempty"`
	Condition      string   `json:"condition"`
	MinScore       *float64 `json:"min_score,omitempty"`
	MaxScore       *float64 `json:"max_score,omitempty"`
	RewardAmount   float64  `json:"reward_amount"`
	RewardFormula  string   `json:"reward_formula,omitempty"`
	Priority       int      `json:"priority"`
	DisplayOrder   *int     `json:"display_order,omitempty"`
	IsActive       *bool    `json:"is_active,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
}

func (r ruleJSON) toRule(pid types.ProjectID) types.RewardRule {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return types.RewardRule{
		RuleID:         types.RuleID(r.RuleID),
		ProjectID:      pid,
		Name:           r.Name,
		StudentID:      types.StudentID(r.StudentID),
		SubjectID:      types.SubjectID(r.SubjectID),
		AssessmentType: types.AssessmentType(r.AssessmentType),
		Condition:      types.Condition(r.Condition),
		MinScore:       r.MinScore,
		MaxScore:       r.MaxScore,
		RewardAmount:   r.RewardAmount,
		RewardFormula:  r.RewardFormula,
		Priority:       r.Priority,
		DisplayOrder:   r.DisplayOrder,
		IsActive:       active,
	}
}

func fromRule(r *types.RewardRule) ruleJSON {
	active := r.IsActive
	return ruleJSON{
		RuleID:         string(r.RuleID),
		Name:           r.Name,
		StudentID:      string(r.StudentID),
		SubjectID:      string(r.SubjectID),
		AssessmentType: string(r.AssessmentType),
		Condition:      string(r.Condition),
		MinScore:       r.MinScore,
		MaxScore:       r.MaxScore,
		RewardAmount:   r.RewardAmount,
		RewardFormula:  r.RewardFormula,
		Priority:       r.Priority,
		DisplayOrder:   r.DisplayOrder,
		IsActive:       &active,
		CreatedAt:      formatTime(r.CreatedAt),
		UpdatedAt:      formatTime(r.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type upsertRuleRequest struct {
	Rule ruleJSON `json:"rule"`
}

type ruleResponse struct {
	Rule ruleJSON `json:"rule"`
}

// UpsertRule validates a rule and stores it. Rules fail fast here, so a
// malformed formula never reaches scoring.
func (s *RewardService) UpsertRule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := projectID(ctx)
	if err != nil {
		return nil, err
	}

	var req upsertRuleRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	rule := req.Rule.toRule(pid)
	if rule.RuleID != "" {
		if _, err := types.ParseRuleID(string(rule.RuleID)); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid rule_id %q", rule.RuleID)
		}
	}
	if err := s.engine.ValidateRule(&rule); err != nil {
		return nil, toStatus(err)
	}
	if err := s.checkScope(ctx, pid, rule.StudentID, rule.SubjectID); err != nil {
		return nil, err
	}

	if err := s.store.UpsertRule(ctx, &rule); err != nil {
		return nil, toStatus(err)
	}

	s.log.Info("rule saved",
		zap.String("project_id", string(pid)),
		zap.String("rule_id", string(rule.RuleID)),
		zap.String("condition", string(rule.Condition)),
		zap.Bool("active", rule.IsActive))

	return encode(ruleResponse{Rule: fromRule(&rule)})
}

// checkScope rejects rules scoped to students or subjects outside the project.
func (s *RewardService) checkScope(ctx context.Context, pid types.ProjectID, studentID types.StudentID, subjectID types.SubjectID) error {
	if studentID != "" {
		ok, err := s.store.StudentExists(ctx, pid, studentID)
		if err != nil {
			return toStatus(err)
		}
		if !ok {
			return status.Errorf(codes.InvalidArgument, "unknown student_id %q", studentID)
		}
	}
	if subjectID != "" {
		if _, err := s.store.GetSubject(ctx, pid, subjectID); err != nil {
			st := toStatus(err)
			if status.Code(st) == codes.NotFound {
				return status.Errorf(codes.InvalidArgument, "unknown subject_id %q", subjectID)
			}
			return st
		}
	}
	return nil
}

type listRulesResponse struct {
	Rules []ruleJSON `json:"rules"`
}

// ListRules returns every rule of the project, inactive ones included.
func (s *RewardService) ListRules(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := projectID(ctx)
	if err != nil {
		return nil, err
	}
	if err := decode(in, &struct{}{}); err != nil {
		return nil, err
	}

	stored, err := s.store.ListRules(ctx, pid)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := listRulesResponse{Rules: make([]ruleJSON, 0, len(stored))}
	for i := range stored {
		resp.Rules = append(resp.Rules, fromRule(&stored[i]))
	}
	return encode(resp)
}
