package core

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"carejournal/pkg"
)

// Score bounds for diary mood, stress and energy values.
const (
	MinScore = 1
	MaxScore = 10
)

// SoapFields is the structured part of a clinical note.  ParseFailed reports
// that the payload was not a JSON object and every field is a default.
type SoapFields struct {
	Subjective  string
	Objective   string
	Assessment  string
	Plan        string
	Explanation string
	ParseFailed bool
}

// DefaultSoapFields returns the fields used when extraction produced nothing
// usable.
func DefaultSoapFields() SoapFields {
	return SoapFields{
		Subjective:  pkg.DefaultSoapField,
		Objective:   pkg.DefaultSoapField,
		Assessment:  pkg.DefaultSoapField,
		Plan:        pkg.DefaultSoapField,
		Explanation: pkg.DefaultExplanation,
		ParseFailed: true,
	}
}

// DiaryFields is the structured part of a diary entry.
type DiaryFields struct {
	MoodScore         *int
	StressLevel       *int
	EnergyLevel       *int
	Category          pkg.Category
	AiPatientFeedback string
	TrendWarning      *string
	ParseFailed       bool
}

// DefaultDiaryFields returns the fields used when extraction produced nothing
// usable.
func DefaultDiaryFields() DiaryFields {
	return DiaryFields{Category: pkg.CategoryGeneral, ParseFailed: true}
}

// ParseSoap decodes an extraction payload into SOAP fields.  It never fails:
// missing, blank or non-string keys fall back to their defaults one by one.
func ParseSoap(raw string) SoapFields {
	root, ok := parseObject(raw)
	if !ok {
		return DefaultSoapFields()
	}
	return SoapFields{
		Subjective:  textOr(root.Get("SoapSubjective"), pkg.DefaultSoapField),
		Objective:   textOr(root.Get("SoapObjective"), pkg.DefaultSoapField),
		Assessment:  textOr(root.Get("SoapAssessment"), pkg.DefaultSoapField),
		Plan:        textOr(root.Get("SoapPlan"), pkg.DefaultSoapField),
		Explanation: textOr(root.Get("PatientFriendlyExplanation"), pkg.DefaultExplanation),
	}
}

// ParseDiary decodes an extraction payload into diary fields.  Like
// ParseSoap it never fails.
func ParseDiary(raw string) DiaryFields {
	root, ok := parseObject(raw)
	if !ok {
		return DefaultDiaryFields()
	}
	f := DiaryFields{
		MoodScore:    score(root.Get("MoodScore")),
		StressLevel:  score(root.Get("StressLevel")),
		EnergyLevel:  score(root.Get("EnergyLevel")),
		Category:     pkg.CategoryGeneral,
		TrendWarning: trendWarning(root.Get("TrendWarning")),
	}
	if c := root.Get("Category"); c.Type == gjson.String {
		f.Category, _ = pkg.ParseCategory(c.Str)
	}
	if fb := root.Get("AiPatientFeedback"); fb.Type == gjson.String {
		f.AiPatientFeedback = fb.Str
	}
	return f
}

// parseObject returns the payload as a JSON object, tolerating a markdown
// code fence around it.
func parseObject(raw string) (gjson.Result, bool) {
	s := stripFence(raw)
	if s == "" || !gjson.Valid(s) {
		return gjson.Result{}, false
	}
	root := gjson.Parse(s)
	if !root.IsObject() {
		return gjson.Result{}, false
	}
	return root, true
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func textOr(r gjson.Result, def string) string {
	if r.Type != gjson.String || strings.TrimSpace(r.Str) == "" {
		return def
	}
	return r.Str
}

// score accepts only integral JSON numbers inside [MinScore, MaxScore].
func score(r gjson.Result) *int {
	if r.Type != gjson.Number {
		return nil
	}
	v, err := strconv.Atoi(r.Raw)
	if err != nil || v < MinScore || v > MaxScore {
		return nil
	}
	return &v
}

// trendWarning treats the literal text "null" the same as a JSON null; the
// extraction service sometimes writes the word instead of the value.
func trendWarning(r gjson.Result) *string {
	if r.Type != gjson.String || r.Str == "null" || strings.TrimSpace(r.Str) == "" {
		return nil
	}
	w := r.Str
	return &w
}
