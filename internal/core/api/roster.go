package api

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/solatis/rewardkeeper/internal/rules"
	"github.com/solatis/rewardkeeper/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type createStudentRequest struct {
	Name string `json:"name"`
}

type studentResponse struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
}

// CreateStudent adds a student to the project.
func (s *RewardService) CreateStudent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := projectID(ctx)
	if err != nil {
		return nil, err
	}

	var req createStudentRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name required")
	}

	st, err := s.store.CreateStudent(ctx, pid, name)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(studentResponse{StudentID: string(st.StudentID), Name: st.Name})
}

type upsertSubjectRequest struct {
	SubjectID    string          `json:"subject_id"`
	Name         string          `json:"name"`
	GradeMapping json.RawMessage `json:"grade_mapping"`
}

type subjectResponse struct {
	SubjectID     string          `json:"subject_id"`
	Name          string          `json:"name"`
	GradeMapping  json.RawMessage `json:"grade_mapping,omitempty"`
	CustomGrading bool            `json:"custom_grading"`
}

// UpsertSubject creates or renames a subject and sets its grade mapping.
// An incomplete mapping is stored but ignored when scoring; custom_grading in
// the response reports whether it will be used.
func (s *RewardService) UpsertSubject(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := projectID(ctx)
	if err != nil {
		return nil, err
	}

	var req upsertSubjectRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name required")
	}

	mapping := strings.TrimSpace(string(req.GradeMapping))
	if mapping == "null" {
		mapping = ""
	}
	_, custom := rules.ParseGradeMapping([]byte(mapping))

	sub := &types.Subject{
		SubjectID:    types.SubjectID(req.SubjectID),
		ProjectID:    pid,
		Name:         name,
		GradeMapping: mapping,
	}
	if err := s.store.UpsertSubject(ctx, sub); err != nil {
		return nil, toStatus(err)
	}

	s.log.Info("subject saved",
		zap.String("project_id", string(pid)),
		zap.String("subject_id", string(sub.SubjectID)),
		zap.Bool("custom_grading", custom))

	resp := subjectResponse{SubjectID: string(sub.SubjectID), Name: sub.Name, CustomGrading: custom}
	if mapping != "" {
		resp.GradeMapping = json.RawMessage(mapping)
	}
	return encode(resp)
}

type createAssessmentRequest struct {
	StudentID      string  `json:"student_id"`
	SubjectID      string  `json:"subject_id"`
	AssessmentType string  `json:"assessment_type"`
	Title          string  `json:"title"`
	ScoreType      string  `json:"score_type"`
	MaxScore       float64 `json:"max_score"`
}

type assessmentResponse struct {
	Assessment assessmentJSON `json:"assessment"`
}

// CreateAssessment adds an upcoming assessment for a student and subject.
func (s *RewardService) CreateAssessment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := projectID(ctx)
	if err != nil {
		return nil, err
	}

	var req createAssessmentRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.AssessmentType == "" {
		return nil, status.Error(codes.InvalidArgument, "assessment_type required")
	}
	if req.ScoreType == "" {
		req.ScoreType = string(types.ScoreTypeNumeric)
	}
	if err := validateKinds(req.AssessmentType, req.ScoreType); err != nil {
		return nil, toStatus(err)
	}
	if !(req.MaxScore > 0) || math.IsInf(req.MaxScore, 0) {
		return nil, status.Error(codes.InvalidArgument, "max_score must be a positive number")
	}
	if req.StudentID == "" || req.SubjectID == "" {
		return nil, status.Error(codes.InvalidArgument, "student_id and subject_id required")
	}
	if err := s.checkScope(ctx, pid, types.StudentID(req.StudentID), types.SubjectID(req.SubjectID)); err != nil {
		return nil, err
	}

	a := &types.Assessment{
		ProjectID:      pid,
		StudentID:      types.StudentID(req.StudentID),
		SubjectID:      types.SubjectID(req.SubjectID),
		AssessmentType: types.AssessmentType(req.AssessmentType),
		Title:          strings.TrimSpace(req.Title),
		ScoreType:      types.ScoreType(req.ScoreType),
		MaxScore:       req.MaxScore,
	}
	if err := s.store.CreateAssessment(ctx, a); err != nil {
		return nil, toStatus(err)
	}
	return encode(assessmentResponse{Assessment: toAssessmentJSON(a)})
}

type balanceRequest struct {
	StudentID string `json:"student_id"`
}

type ledgerJSON struct {
	EntryID      string `json:"entry_id"`
	AssessmentID string `json:"assessment_id,omitempty"`
	Amount       int64  `json:"amount"`
	Reason       string `json:"reason"`
	CreatedAt    string `json:"created_at"`
}

type balanceResponse struct {
	StudentID string       `json:"student_id"`
	Balance   int64        `json:"balance"`
	Entries   []ledgerJSON `json:"entries"`
}

// GetStudentBalance returns the student's reward balance and ledger.
func (s *RewardService) GetStudentBalance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := projectID(ctx)
	if err != nil {
		return nil, err
	}

	var req balanceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	sid, err := types.ParseStudentID(req.StudentID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid student_id %q", req.StudentID)
	}

	ok, err := s.store.StudentExists(ctx, pid, sid)
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "student %s not found", sid)
	}

	balance, entries, err := s.store.Balance(ctx, pid, sid)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := balanceResponse{StudentID: string(sid), Balance: balance, Entries: make([]ledgerJSON, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, ledgerJSON{
			EntryID:      string(e.EntryID),
			AssessmentID: string(e.AssessmentID),
			Amount:       e.Amount,
			Reason:       e.Reason,
			CreatedAt:    formatTime(e.CreatedAt),
		})
	}
	return encode(resp)
}
