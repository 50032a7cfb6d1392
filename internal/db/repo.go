package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite" // SQLite driver
	_ "github.com/lib/pq"             // Postgres driver

	"carejournal/pkg"
)

// Supported store drivers.  The SQL drivers double as database/sql driver
// names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Open opens and pings a SQL database for driver.
func Open(ctx context.Context, driver, dsn string, maxOpenConns int) (*sql.DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if maxOpenConns > 0 {
		conn.SetMaxOpenConns(maxOpenConns)
	}
	if driver == DriverSQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return conn, nil
}

// Repository stores clinical notes and diary entries in Postgres or SQLite.
// Queries are written with ? placeholders and rebound for Postgres.
type Repository struct {
	DB     *sql.DB
	driver string
}

// NewRepository serves records from conn, which must have been opened with
// the same driver name and migrated.  Closing conn stays with the caller.
func NewRepository(conn *sql.DB, driver string) *Repository {
	return &Repository{DB: conn, driver: driver}
}

const noteCols = `id, patient_id, doctor_id, raw_dictation,
	soap_subjective, soap_objective, soap_assessment, soap_plan,
	patient_friendly_explanation, is_read_by_patient, created_at`

const diaryCols = `id, patient_id, raw_text, mood_score, stress_level, energy_level,
	category, ai_patient_feedback, trend_warning, created_at`

// InsertClinicalNote stores a new clinical note.
func (r *Repository) InsertClinicalNote(ctx context.Context, n *pkg.ClinicalNote) error {
	_, err := r.DB.ExecContext(ctx, r.rebind(`INSERT INTO clinical_notes (`+noteCols+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.PatientID, n.DoctorID, n.RawDictation,
		n.SoapSubjective, n.SoapObjective, n.SoapAssessment, n.SoapPlan,
		n.PatientFriendlyExplanation, n.IsReadByPatient, n.CreatedAt.UTC(),
	)
	return err
}

// InsertDiaryEntry stores a new diary entry.
func (r *Repository) InsertDiaryEntry(ctx context.Context, e *pkg.DiaryEntry) error {
	_, err := r.DB.ExecContext(ctx, r.rebind(`INSERT INTO diary_entries (`+diaryCols+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.PatientID, e.RawText, e.MoodScore, e.StressLevel, e.EnergyLevel,
		string(e.Category), e.AiPatientFeedback, e.TrendWarning, e.CreatedAt.UTC(),
	)
	return err
}

// DiaryEntriesByPatient returns a patient's diary entries, newest first.
func (r *Repository) DiaryEntriesByPatient(ctx context.Context, patientID string) ([]pkg.DiaryEntry, error) {
	return r.queryDiary(ctx, `SELECT `+diaryCols+`
         FROM diary_entries
         WHERE patient_id = ?
         ORDER BY created_at DESC`, patientID)
}

// RecentDiaryEntries returns at most limit of a patient's newest diary
// entries.
func (r *Repository) RecentDiaryEntries(ctx context.Context, patientID string, limit int) ([]pkg.DiaryEntry, error) {
	return r.queryDiary(ctx, `SELECT `+diaryCols+`
         FROM diary_entries
         WHERE patient_id = ?
         ORDER BY created_at DESC
         LIMIT ?`, patientID, limit)
}

func (r *Repository) queryDiary(ctx context.Context, query string, args ...any) ([]pkg.DiaryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []pkg.DiaryEntry
	for rows.Next() {
		var e pkg.DiaryEntry
		if err := rows.Scan(&e.ID, &e.PatientID, &e.RawText, &e.MoodScore, &e.StressLevel, &e.EnergyLevel,
			&e.Category, &e.AiPatientFeedback, &e.TrendWarning, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClinicalNotesByPatient returns a patient's clinical notes, newest first.
func (r *Repository) ClinicalNotesByPatient(ctx context.Context, patientID string) ([]pkg.ClinicalNote, error) {
	return r.queryNotes(ctx, `SELECT `+noteCols+`
         FROM clinical_notes
         WHERE patient_id = ?
         ORDER BY created_at DESC`, patientID)
}

// UnreadNotes returns the notes the patient has not read yet, newest first.
func (r *Repository) UnreadNotes(ctx context.Context, patientID string) ([]pkg.ClinicalNote, error) {
	return r.queryNotes(ctx, `SELECT `+noteCols+`
         FROM clinical_notes
         WHERE patient_id = ? AND is_read_by_patient = ?
         ORDER BY created_at DESC`, patientID, false)
}

func (r *Repository) queryNotes(ctx context.Context, query string, args ...any) ([]pkg.ClinicalNote, error) {
	rows, err := r.DB.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notes []pkg.ClinicalNote
	for rows.Next() {
		var n pkg.ClinicalNote
		if err := rows.Scan(&n.ID, &n.PatientID, &n.DoctorID, &n.RawDictation,
			&n.SoapSubjective, &n.SoapObjective, &n.SoapAssessment, &n.SoapPlan,
			&n.PatientFriendlyExplanation, &n.IsReadByPatient, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func (r *Repository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
