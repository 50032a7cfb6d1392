package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"carejournal/internal/metrics"
	"carejournal/internal/speech"
	"carejournal/pkg"
)

// Stage is a step of the per-request ingestion state machine.
type Stage string

const (
	StageReceived         Stage = "received"
	StageModalityResolved Stage = "modality_resolved"
	StageTranscribed      Stage = "transcribed"
	StageContextGathered  Stage = "context_gathered"
	StagePromptSent       Stage = "prompt_sent"
	StageParsed           Stage = "parsed"
	StagePersisted        Stage = "persisted"
	StageRejectedInput    Stage = "rejected_input"
	StageStorageFailed    Stage = "storage_failed"
)

// Record kinds used in logs and metrics.
const (
	KindClinicalNote = "clinical_note"
	KindDiaryEntry   = "diary_entry"
)

// Input is a request payload: recorded audio or typed text.  Audio wins when
// both are present.
type Input struct {
	Audio []byte
	Text  string
}

func (in Input) hasAudio() bool { return len(in.Audio) > 0 }
func (in Input) hasText() bool  { return strings.TrimSpace(in.Text) != "" }

// Pipeline turns clinician dictations and patient diary entries into stored,
// annotated records.  It keeps no per-request state, so one Pipeline serves
// concurrent requests.
type Pipeline struct {
	store        Store
	transcriber  Transcriber
	extractor    Extractor
	notifier     NoteNotifier
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	historyLimit int
	now          func() time.Time
	newID        func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNotifier announces each stored clinical note to n.
func WithNotifier(n NoteNotifier) Option { return func(p *Pipeline) { p.notifier = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithHistoryLimit sets how many past diary entries are used as context.
func WithHistoryLimit(n int) Option { return func(p *Pipeline) { p.historyLimit = n } }

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithIDGenerator overrides record id generation.
func WithIDGenerator(f func() string) Option { return func(p *Pipeline) { p.newID = f } }

// NewPipeline wires the pipeline collaborators.
func NewPipeline(store Store, transcriber Transcriber, extractor Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        store,
		transcriber:  transcriber,
		extractor:    extractor,
		logger:       zerolog.Nop(),
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateClinicalNote converts a doctor's dictation into a SOAP note and
// stores it.  Only ErrInvalidInput and *StorageError are returned; failed
// transcription or extraction still yields a stored note with defaults.
func (p *Pipeline) CreateClinicalNote(ctx context.Context, patientID, doctorID string, in Input) (*pkg.ClinicalNote, error) {
	log := p.logger.With().Str("kind", KindClinicalNote).Str("patient_id", patientID).Logger()

	text, err := p.resolveText(ctx, log, in)
	if err != nil {
		return nil, err
	}

	fields := DefaultSoapFields()
	if raw, ok := p.extract(ctx, log, KindClinicalNote, BuildSoapPrompt(text)); ok {
		fields = ParseSoap(raw)
		if fields.ParseFailed {
			p.metrics.ParseFailed(KindClinicalNote)
			log.Warn().Str("stage", string(StageParsed)).Msg("extraction response was not a JSON object, using defaults")
		}
	}

	note := &pkg.ClinicalNote{
		ID:                         p.newID(),
		PatientID:                  patientID,
		DoctorID:                   doctorID,
		RawDictation:               text,
		SoapSubjective:             fields.Subjective,
		SoapObjective:              fields.Objective,
		SoapAssessment:             fields.Assessment,
		SoapPlan:                   fields.Plan,
		PatientFriendlyExplanation: fields.Explanation,
		IsReadByPatient:            false,
		CreatedAt:                  p.now().UTC(),
	}
	if err := p.store.InsertClinicalNote(ctx, note); err != nil {
		return nil, p.storageFailure(log, StagePersisted, "insert clinical note", err)
	}
	p.metrics.RecordCreated(KindClinicalNote)
	log.Info().Str("stage", string(StagePersisted)).Str("note_id", note.ID).Bool("defaulted", fields.ParseFailed).Msg("clinical note stored")

	if p.notifier != nil {
		n := pkg.NoteNotification{PatientID: patientID, NoteID: note.ID}
		if err := p.notifier.NotifyNote(ctx, n); err != nil {
			log.Warn().Err(err).Str("note_id", note.ID).Msg("failed to publish note notification")
		}
	}
	return note, nil
}

// CreateDiaryEntry scores a patient's diary entry against their recent
// history and stores it.  Error semantics match CreateClinicalNote, except
// that failing to read the history is also a *StorageError.
func (p *Pipeline) CreateDiaryEntry(ctx context.Context, patientID string, in Input) (*pkg.DiaryEntry, error) {
	log := p.logger.With().Str("kind", KindDiaryEntry).Str("patient_id", patientID).Logger()

	text, err := p.resolveText(ctx, log, in)
	if err != nil {
		return nil, err
	}

	digest, err := BuildDigest(ctx, p.store, patientID, p.historyLimit)
	if err != nil {
		p.metrics.StorageFailed(string(StageContextGathered))
		log.Error().Err(err).Str("stage", string(StageStorageFailed)).Msg("failed to load diary history")
		return nil, err
	}
	log.Debug().Str("stage", string(StageContextGathered)).Int("history_entries", len(digest.Lines)).Msg("history gathered")

	fields := DefaultDiaryFields()
	if raw, ok := p.extract(ctx, log, KindDiaryEntry, BuildDiaryPrompt(text, digest.String())); ok {
		fields = ParseDiary(raw)
		if fields.ParseFailed {
			p.metrics.ParseFailed(KindDiaryEntry)
			log.Warn().Str("stage", string(StageParsed)).Msg("extraction response was not a JSON object, using defaults")
		}
	}

	entry := &pkg.DiaryEntry{
		ID:                p.newID(),
		PatientID:         patientID,
		RawText:           text,
		MoodScore:         fields.MoodScore,
		StressLevel:       fields.StressLevel,
		EnergyLevel:       fields.EnergyLevel,
		Category:          fields.Category,
		AiPatientFeedback: fields.AiPatientFeedback,
		TrendWarning:      fields.TrendWarning,
		CreatedAt:         p.now().UTC(),
	}
	if err := p.store.InsertDiaryEntry(ctx, entry); err != nil {
		return nil, p.storageFailure(log, StagePersisted, "insert diary entry", err)
	}
	p.metrics.RecordCreated(KindDiaryEntry)
	log.Info().Str("stage", string(StagePersisted)).Str("entry_id", entry.ID).
		Bool("defaulted", fields.ParseFailed).Bool("trend_warning", entry.TrendWarning != nil).
		Msg("diary entry stored")
	return entry, nil
}

// GetHistory returns all diary entries and clinical notes of a patient.
func (p *Pipeline) GetHistory(ctx context.Context, patientID string) (*pkg.PatientHistory, error) {
	entries, err := p.GetDiaryEntries(ctx, patientID)
	if err != nil {
		return nil, err
	}
	notes, err := p.store.ClinicalNotesByPatient(ctx, patientID)
	if err != nil {
		return nil, &StorageError{Stage: StageReceived, Op: "list clinical notes", Err: err}
	}
	if notes == nil {
		notes = []pkg.ClinicalNote{}
	}
	return &pkg.PatientHistory{DiaryLogs: entries, DoctorNotes: notes}, nil
}

// GetDiaryEntries returns a patient's diary entries, newest first.
func (p *Pipeline) GetDiaryEntries(ctx context.Context, patientID string) ([]pkg.DiaryEntry, error) {
	entries, err := p.store.DiaryEntriesByPatient(ctx, patientID)
	if err != nil {
		return nil, &StorageError{Stage: StageReceived, Op: "list diary entries", Err: err}
	}
	if entries == nil {
		entries = []pkg.DiaryEntry{}
	}
	return entries, nil
}

// GetUnreadNotes returns the clinical notes the patient has not read yet.
func (p *Pipeline) GetUnreadNotes(ctx context.Context, patientID string) ([]pkg.ClinicalNote, error) {
	notes, err := p.store.UnreadNotes(ctx, patientID)
	if err != nil {
		return nil, &StorageError{Stage: StageReceived, Op: "list unread notes", Err: err}
	}
	if notes == nil {
		notes = []pkg.ClinicalNote{}
	}
	return notes, nil
}

// resolveText covers Received → ModalityResolved → Transcribed.  A failed
// transcription is not fatal: the failure text becomes the record text.
func (p *Pipeline) resolveText(ctx context.Context, log zerolog.Logger, in Input) (string, error) {
	if !in.hasAudio() {
		if in.hasText() {
			log.Debug().Str("stage", string(StageModalityResolved)).Str("modality", "text").Msg("input resolved")
			return in.Text, nil
		}
		log.Info().Str("stage", string(StageRejectedInput)).Msg("request has neither audio nor text")
		return "", ErrInvalidInput
	}

	log.Debug().Str("stage", string(StageModalityResolved)).Str("modality", "audio").Int("bytes", len(in.Audio)).Msg("input resolved")
	text, err := p.transcriber.Transcribe(ctx, in.Audio)
	if err != nil {
		reason, cause := speech.ReasonServiceError, err
		var failure *speech.Failure
		if errors.As(err, &failure) {
			reason = failure.Reason
			if failure.Err != nil {
				cause = failure.Err
			}
		}
		p.metrics.TranscriptionFailed(reason)
		log.Warn().Err(cause).Str("stage", string(StageTranscribed)).Str("reason", reason).Msg("transcription failed, keeping failure text")
		return err.Error(), nil
	}
	return text, nil
}

// extract covers PromptSent.  ok is false when the service failed and the
// caller must use default fields.
func (p *Pipeline) extract(ctx context.Context, log zerolog.Logger, kind, prompt string) (string, bool) {
	start := time.Now()
	raw, err := p.extractor.Extract(ctx, prompt)
	p.metrics.ObserveExtraction(kind, time.Since(start))
	if err != nil {
		p.metrics.ExtractionFailed(kind)
		log.Warn().Err(err).Str("stage", string(StagePromptSent)).Msg("extraction failed, using defaults")
		return "", false
	}
	return raw, true
}

func (p *Pipeline) storageFailure(log zerolog.Logger, stage Stage, op string, err error) error {
	p.metrics.StorageFailed(string(stage))
	log.Error().Err(err).Str("stage", string(StageStorageFailed)).Str("op", op).Msg("store failed")
	return &StorageError{Stage: stage, Op: op, Err: err}
}
