// internal/rules/grades.go
package rules

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/solatis/rewardkeeper/internal/types"
)

/*
 * Grade normalization.
 *
 * Converts a letter grade or numeric score plus the assessment's max score
 * into the canonical (score, percentage) pair used for rule matching.
 *
 * Mapping resolution: a subject-specific mapping is trusted only when it
 * covers all 13 grades, each with a numeric average. Anything less falls back
 * to the system default wholesale - custom and default bands are never mixed
 * per grade.
 *
 * Letter grades resolve to the Max bound of their band, not the Average: the
 * top of the band is the equivalent score for reward purposes.
 *
 * Absence is reported with ok=false rather than an error. "Not yet scored" is
 * an expected state, and callers skip rule resolution when they see it.
 */

// gradeBand is one row of the default table.
type gradeBand struct {
	grade string
	rng   types.GradeScoreRange
}

// defaultGradeBands is the system default table, A+ down to F.
// Kept as an unexported array so it cannot be mutated through the API.
var defaultGradeBands = [...]gradeBand{
	{"A+", types.GradeScoreRange{Min: 97, Max: 100, Average: 98.5}},
	{"A", types.GradeScoreRange{Min: 93, Max: 96, Average: 94.5}},
	{"A-", types.GradeScoreRange{Min: 90, Max: 92, Average: 91}},
	{"B+", types.GradeScoreRange{Min: 87, Max: 89, Average: 88}},
	{"B", types.GradeScoreRange{Min: 83, Max: 86, Average: 84.5}},
	{"B-", types.GradeScoreRange{Min: 80, Max: 82, Average: 81}},
	{"C+", types.GradeScoreRange{Min: 77, Max: 79, Average: 78}},
	{"C", types.GradeScoreRange{Min: 73, Max: 76, Average: 74.5}},
	{"C-", types.GradeScoreRange{Min: 70, Max: 72, Average: 71}},
	{"D+", types.GradeScoreRange{Min: 67, Max: 69, Average: 68}},
	{"D", types.GradeScoreRange{Min: 63, Max: 66, Average: 64.5}},
	{"D-", types.GradeScoreRange{Min: 60, Max: 62, Average: 61}},
	{"F", types.GradeScoreRange{Min: 0, Max: 59, Average: 29.5}},
}

// GradeCount is the number of grades a complete mapping must supply.
const GradeCount = len(defaultGradeBands)

// Grades returns the recognized letter grades, best first.
func Grades() []string {
	out := make([]string, 0, GradeCount)
	for _, b := range defaultGradeBands {
		out = append(out, b.grade)
	}
	return out
}

// DefaultGradeMapping returns a fresh copy of the system default table.
func DefaultGradeMapping() types.GradeMapping {
	m := make(types.GradeMapping, GradeCount)
	for _, b := range defaultGradeBands {
		m[b.grade] = b.rng
	}
	return m
}

// rawGradeRange mirrors the stored JSON; pointers distinguish absent fields.
type rawGradeRange struct {
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Average *float64 `json:"average"`
}

// ParseGradeMapping decodes a subject's stored grade mapping.
// Returns ok=false for empty, malformed or incomplete input; callers then use
// the default table in its entirety.
func ParseGradeMapping(raw []byte) (types.GradeMapping, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, false
	}

	var entries map[string]rawGradeRange
	if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
		return nil, false
	}

	m := make(types.GradeMapping, GradeCount)
	for _, b := range defaultGradeBands {
		e, ok := entries[b.grade]
		if !ok || e.Average == nil || !isFinite(*e.Average) {
			return nil, false
		}
		r := types.GradeScoreRange{Min: *e.Average, Max: *e.Average, Average: *e.Average}
		if e.Min != nil && isFinite(*e.Min) {
			r.Min = *e.Min
		}
		if e.Max != nil && isFinite(*e.Max) {
			r.Max = *e.Max
		}
		m[b.grade] = r
	}
	return m, true
}

// ResolveGradeMapping returns custom when it is a complete mapping, otherwise
// the default table.
func ResolveGradeMapping(custom types.GradeMapping) types.GradeMapping {
	if isCompleteMapping(custom) {
		return custom
	}
	return DefaultGradeMapping()
}

// isCompleteMapping checks every grade is present with a finite average.
func isCompleteMapping(m types.GradeMapping) bool {
	if len(m) < GradeCount {
		return false
	}
	for _, b := range defaultGradeBands {
		r, ok := m[b.grade]
		if !ok || !isFinite(r.Average) {
			return false
		}
	}
	return true
}

// GradeToScore returns the Max bound of the grade's band.
// A nil mapping means the default table. Grades are matched case-insensitively
// after trimming whitespace.
func GradeToScore(grade string, mapping types.GradeMapping) (float64, bool) {
	g := normalizeGrade(grade)
	if g == "" {
		return 0, false
	}
	r, ok := ResolveGradeMapping(mapping)[g]
	if !ok {
		return 0, false
	}
	return r.Max, true
}

// GradeToPercentage converts a grade to a percentage of maxScore.
// Returns ok=false for unknown grades and non-positive maxScore.
func GradeToPercentage(grade string, maxScore float64, mapping types.GradeMapping) (float64, bool) {
	score, ok := GradeToScore(grade, mapping)
	if !ok {
		return 0, false
	}
	return Percentage(score, maxScore)
}

// Percentage computes score/maxScore*100 for the numeric path.
// Returns ok=false when the division is not meaningful.
func Percentage(score, maxScore float64) (float64, bool) {
	if !(maxScore > 0) || !isFinite(maxScore) || !isFinite(score) {
		return 0, false
	}
	p := score / maxScore * 100
	if !isFinite(p) {
		return 0, false
	}
	return p, true
}

// ScoreInput is the raw result of an assessment as entered by a user.
type ScoreInput struct {
	ScoreType types.ScoreType
	Score     *float64 // numeric path
	Grade     string   // letter path
	MaxScore  float64
	Mapping   types.GradeMapping // subject override, nil for default
}

// Normalized is the canonical pair used by rule matching and formulas.
type Normalized struct {
	Score      float64
	Percentage float64
}

// Normalize produces the canonical (score, percentage) pair.
// ok=false means the assessment is not yet scored.
func Normalize(in ScoreInput) (Normalized, bool) {
	switch in.ScoreType {
	case types.ScoreTypeLetter:
		score, ok := GradeToScore(in.Grade, in.Mapping)
		if !ok {
			return Normalized{}, false
		}
		pct, ok := Percentage(score, in.MaxScore)
		if !ok {
			return Normalized{}, false
		}
		return Normalized{Score: score, Percentage: pct}, true
	case types.ScoreTypeNumeric, "":
		if in.Score == nil {
			return Normalized{}, false
		}
		pct, ok := Percentage(*in.Score, in.MaxScore)
		if !ok {
			return Normalized{}, false
		}
		return Normalized{Score: *in.Score, Percentage: pct}, true
	default:
		return Normalized{}, false
	}
}

func normalizeGrade(grade string) string {
	return strings.ToUpper(strings.TrimSpace(grade))
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
