package pkg

import "time"

// Default values applied when structured extraction leaves a clinical note
// field empty.
const (
	DefaultSoapField   = "N/A"
	DefaultExplanation = "Your doctor has updated your chart."
)

// ClinicalNote is a doctor dictation turned into a SOAP note plus a short
// patient-facing explanation.  Notes are created once and never mutated by
// the ingestion pipeline.
type ClinicalNote struct {
	ID                         string    `json:"id"`
	PatientID                  string    `json:"patient_id"`
	DoctorID                   string    `json:"doctor_id"`
	RawDictation               string    `json:"raw_dictation"`
	SoapSubjective             string    `json:"soap_subjective"`
	SoapObjective              string    `json:"soap_objective"`
	SoapAssessment             string    `json:"soap_assessment"`
	SoapPlan                   string    `json:"soap_plan"`
	PatientFriendlyExplanation string    `json:"patient_friendly_explanation"`
	IsReadByPatient            bool      `json:"is_read_by_patient"`
	CreatedAt                  time.Time `json:"created_at"`
}

// Category classifies a diary entry.  Only the four values below are valid.
type Category string

const (
	CategorySymptom Category = "Symptom"
	CategoryDiet    Category = "Diet"
	CategoryGeneral Category = "General"
	CategoryMood    Category = "Mood"
)

// Categories lists the closed set of diary categories.
var Categories = []Category{CategorySymptom, CategoryDiet, CategoryGeneral, CategoryMood}

// ParseCategory returns the category whose name matches s exactly.  Any other
// value, including case variants, yields CategoryGeneral and false.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return CategoryGeneral, false
}

// DiaryEntry is a patient wellness log annotated with scores, a category and
// optional trend warning.  A nil score means the entry did not mention it.
type DiaryEntry struct {
	ID                string    `json:"id"`
	PatientID         string    `json:"patient_id"`
	RawText           string    `json:"raw_text"`
	MoodScore         *int      `json:"mood_score"`
	StressLevel       *int      `json:"stress_level"`
	EnergyLevel       *int      `json:"energy_level"`
	Category          Category  `json:"category"`
	AiPatientFeedback string    `json:"ai_patient_feedback"`
	TrendWarning      *string   `json:"trend_warning,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// PatientSummary is a row of the doctor dashboard roster.
type PatientSummary struct {
	ID               string `json:"id" yaml:"id"`
	Name             string `json:"name" yaml:"name"`
	Age              int    `json:"age" yaml:"age"`
	PrimaryCondition string `json:"primary_condition" yaml:"primary_condition"`
	Status           string `json:"status" yaml:"status"`
}

// PatientHistory bundles everything recorded for one patient.
type PatientHistory struct {
	DiaryLogs   []DiaryEntry   `json:"diary_logs"`
	DoctorNotes []ClinicalNote `json:"doctor_notes"`
}

// NoteNotification is published when a new clinical note is stored for a
// patient.
type NoteNotification struct {
	PatientID string `json:"patient_id"`
	NoteID    string `json:"note_id"`
}
