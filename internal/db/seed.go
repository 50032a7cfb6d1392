package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"carejournal/internal/core"
	"carejournal/pkg"
)

//go:embed seed.yaml
var seedYAML []byte

// seedMarkerPatient is checked to keep Seed idempotent.
const seedMarkerPatient = "patient_123"

func ago(now time.Time, days, hours int) time.Time {
	return now.Add(-time.Duration(days)*24*time.Hour - time.Duration(hours)*time.Hour).UTC()
}

type seedDiary struct {
	DaysAgo           int     `yaml:"days_ago"`
	HoursAgo          int     `yaml:"hours_ago"`
	PatientID         string  `yaml:"patient_id"`
	RawText           string  `yaml:"raw_text"`
	MoodScore         *int    `yaml:"mood_score"`
	StressLevel       *int    `yaml:"stress_level"`
	EnergyLevel       *int    `yaml:"energy_level"`
	Category          string  `yaml:"category"`
	AiPatientFeedback string  `yaml:"ai_patient_feedback"`
	TrendWarning      *string `yaml:"trend_warning"`
}

type seedNote struct {
	DaysAgo                    int    `yaml:"days_ago"`
	HoursAgo                   int    `yaml:"hours_ago"`
	PatientID                  string `yaml:"patient_id"`
	DoctorID                   string `yaml:"doctor_id"`
	RawDictation               string `yaml:"raw_dictation"`
	SoapSubjective             string `yaml:"soap_subjective"`
	SoapObjective              string `yaml:"soap_objective"`
	SoapAssessment             string `yaml:"soap_assessment"`
	SoapPlan                   string `yaml:"soap_plan"`
	PatientFriendlyExplanation string `yaml:"patient_friendly_explanation"`
}

// Fixtures is the demo data set shipped with the service.
type Fixtures struct {
	Patients      []pkg.PatientSummary `yaml:"patients"`
	DiaryEntries  []seedDiary          `yaml:"diary_entries"`
	ClinicalNotes []seedNote           `yaml:"clinical_notes"`
}

// LoadFixtures decodes the embedded demo data set.
func LoadFixtures() (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(seedYAML, &f); err != nil {
		return nil, fmt.Errorf("decode seed fixtures: %w", err)
	}
	return &f, nil
}

// Roster returns the patients shown on the doctor dashboard.
func Roster() ([]pkg.PatientSummary, error) {
	f, err := LoadFixtures()
	if err != nil {
		return nil, err
	}
	return f.Patients, nil
}

// Seed inserts the demo diary entries and clinical notes unless the marker
// patient already has diary entries.  It returns the number of records
// written.
func Seed(ctx context.Context, store core.Store, now time.Time) (int, error) {
	existing, err := store.DiaryEntriesByPatient(ctx, seedMarkerPatient)
	if err != nil {
		return 0, fmt.Errorf("check existing seed data: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	f, err := LoadFixtures()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, d := range f.DiaryEntries {
		category, _ := pkg.ParseCategory(d.Category)
		e := &pkg.DiaryEntry{
			ID:                uuid.NewString(),
			PatientID:         d.PatientID,
			RawText:           d.RawText,
			MoodScore:         d.MoodScore,
			StressLevel:       d.StressLevel,
			EnergyLevel:       d.EnergyLevel,
			Category:          category,
			AiPatientFeedback: d.AiPatientFeedback,
			TrendWarning:      d.TrendWarning,
			CreatedAt:         ago(now, d.DaysAgo, d.HoursAgo),
		}
		if err := store.InsertDiaryEntry(ctx, e); err != nil {
			return count, fmt.Errorf("seed diary entry for %s: %w", d.PatientID, err)
		}
		count++
	}
	for _, n := range f.ClinicalNotes {
		note := &pkg.ClinicalNote{
			ID:                         uuid.NewString(),
			PatientID:                  n.PatientID,
			DoctorID:                   n.DoctorID,
			RawDictation:               n.RawDictation,
			SoapSubjective:             n.SoapSubjective,
			SoapObjective:              n.SoapObjective,
			SoapAssessment:             n.SoapAssessment,
			SoapPlan:                   n.SoapPlan,
			PatientFriendlyExplanation: n.PatientFriendlyExplanation,
			CreatedAt:                  ago(now, n.DaysAgo, n.HoursAgo),
		}
		if err := store.InsertClinicalNote(ctx, note); err != nil {
			return count, fmt.Errorf("seed clinical note for %s: %w", n.PatientID, err)
		}
		count++
	}
	return count, nil
}
