package core

import (
	"context"

	"carejournal/pkg"
)

// DiaryReader returns at most limit of a patient's newest diary entries.
type DiaryReader interface {
	RecentDiaryEntries(ctx context.Context, patientID string, limit int) ([]pkg.DiaryEntry, error)
}

// Store is the persistence contract of the pipeline.  Records are insert-only;
// listings are ordered newest first.
type Store interface {
	DiaryReader
	DiaryEntriesByPatient(ctx context.Context, patientID string) ([]pkg.DiaryEntry, error)
	InsertDiaryEntry(ctx context.Context, e *pkg.DiaryEntry) error
	InsertClinicalNote(ctx context.Context, n *pkg.ClinicalNote) error
	ClinicalNotesByPatient(ctx context.Context, patientID string) ([]pkg.ClinicalNote, error)
	UnreadNotes(ctx context.Context, patientID string) ([]pkg.ClinicalNote, error)
}

// Transcriber turns recorded audio into text.  Errors are recoverable and
// their message is kept as the record's raw text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Extractor sends a prompt to the structured extraction service and returns
// its raw response, which is expected but not guaranteed to be JSON.
type Extractor interface {
	Extract(ctx context.Context, prompt string) (string, error)
}

// NoteNotifier is told about every clinical note after it is stored.
type NoteNotifier interface {
	NotifyNote(ctx context.Context, n pkg.NoteNotification) error
}
