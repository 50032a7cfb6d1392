package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"carejournal/internal/core"
	"carejournal/pkg"
)

const (
	keepAliveInterval = 30 * time.Second

	// multipartMemory is how much of a form is kept in memory; the rest of
	// an upload spills to temp files.
	multipartMemory = 32 << 20
)

// ListPatients returns the doctor dashboard roster.
func (s *Server) ListPatients(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Roster)
}

// GetPatientHistory returns every diary entry and clinical note of a patient.
func (s *Server) GetPatientHistory(c echo.Context) error {
	history, err := s.Pipeline.GetHistory(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, history)
}

// CreateClinicalNote accepts a doctor's dictation as a multipart form with
// patient_id, doctor_id and either an audio file or raw_text.
func (s *Server) CreateClinicalNote(c echo.Context) error {
	if err := parseForm(c); err != nil {
		return err
	}
	patientID := strings.TrimSpace(formValue(c, "patient_id", "PatientId"))
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	doctorID := strings.TrimSpace(formValue(c, "doctor_id", "DoctorId"))

	in, err := s.readInput(c)
	if err != nil {
		return err
	}
	note, err := s.Pipeline.CreateClinicalNote(c.Request().Context(), patientID, doctorID, in)
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, note)
}

// ListDiaryEntries returns a patient's diary, newest first.
func (s *Server) ListDiaryEntries(c echo.Context) error {
	entries, err := s.Pipeline.GetDiaryEntries(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, entries)
}

// CreateDiaryEntry accepts a patient's diary entry as a multipart form with
// either an audio file or raw_text.
func (s *Server) CreateDiaryEntry(c echo.Context) error {
	patientID := strings.TrimSpace(c.Param("patientId"))
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient id is required")
	}
	if err := parseForm(c); err != nil {
		return err
	}
	in, err := s.readInput(c)
	if err != nil {
		return err
	}
	entry, err := s.Pipeline.CreateDiaryEntry(c.Request().Context(), patientID, in)
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// ListNotifications returns the clinical notes the patient has not read.
func (s *Server) ListNotifications(c echo.Context) error {
	notes, err := s.Pipeline.GetUnreadNotes(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, notes)
}

// StreamNotifications pushes a server-sent "note" event whenever a clinical
// note is stored for the patient.  The stream ends when the client leaves.
func (s *Server) StreamNotifications(c echo.Context) error {
	if s.Subscriber == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notifications are not available")
	}
	patientID := c.Param("patientId")
	ctx := c.Request().Context()

	events, err := s.Subscriber.Listen(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Str("patient_id", patientID).Msg("failed to subscribe to notifications")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notifications are not available")
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case n, ok := <-events:
			if !ok {
				return nil
			}
			if n.PatientID != patientID {
				continue
			}
			if err := writeEvent(w, "note", n); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w io.Writer, event string, n pkg.NoteNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// parseForm reads a multipart or urlencoded body once, so later field lookups
// see the parsed form instead of swallowing read errors.
func parseForm(c echo.Context) error {
	err := c.Request().ParseMultipartForm(multipartMemory)
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		return nil
	}
	if bodyLimitExceeded(c) {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return echo.NewHTTPError(http.StatusBadRequest, "malformed form: "+err.Error())
}

// readInput extracts the audio upload and typed text from a form.  A missing
// audio part is not an error; the pipeline decides whether the request has
// usable input.
func (s *Server) readInput(c echo.Context) (core.Input, error) {
	in := core.Input{Text: formValue(c, "raw_text", "RawText")}

	fh, err := formFile(c, "audio", "AudioFile")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return in, nil
		}
		return in, echo.NewHTTPError(http.StatusBadRequest, "malformed form: "+err.Error())
	}
	if fh.Size > s.MaxAudioBytes {
		return in, audioTooLarge(s.MaxAudioBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return in, echo.NewHTTPError(http.StatusBadRequest, "unreadable audio upload")
	}
	defer f.Close()
	audio, err := io.ReadAll(io.LimitReader(f, s.MaxAudioBytes+1))
	if err != nil {
		return in, echo.NewHTTPError(http.StatusBadRequest, "unreadable audio upload")
	}
	if int64(len(audio)) > s.MaxAudioBytes {
		return in, audioTooLarge(s.MaxAudioBytes)
	}
	in.Audio = audio
	return in, nil
}

func audioTooLarge(limit int64) error {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("audio exceeds the %d byte limit", limit))
}

// fail maps pipeline errors onto HTTP errors.
func (s *Server) fail(err error) error {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, "Please provide either an audio file or text.")
	case errors.Is(err, core.ErrStorage):
		return echo.NewHTTPError(http.StatusInternalServerError, "storage unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

// formValue returns the first non-empty value among the given field names.
func formValue(c echo.Context, names ...string) string {
	for _, name := range names {
		if v := c.FormValue(name); v != "" {
			return v
		}
	}
	return ""
}

func formFile(c echo.Context, names ...string) (*multipart.FileHeader, error) {
	var err error
	for _, name := range names {
		var fh *multipart.FileHeader
		fh, err = c.FormFile(name)
		if err == nil {
			return fh, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, err
		}
	}
	return nil, err
}
