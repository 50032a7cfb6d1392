package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carejournal/internal/core"
	"carejournal/internal/db"
	"carejournal/internal/llm"
	"carejournal/internal/metrics"
	"carejournal/pkg"
)

type stubTranscriber struct {
	text  string
	audio []byte
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	s.audio = audio
	return s.text, nil
}

type failingStore struct{ *db.MemoryStore }

func (failingStore) InsertClinicalNote(ctx context.Context, n *pkg.ClinicalNote) error {
	return errors.New("connection refused")
}

func (failingStore) DiaryEntriesByPatient(ctx context.Context, patientID string) ([]pkg.DiaryEntry, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) RecentDiaryEntries(ctx context.Context, patientID string, limit int) ([]pkg.DiaryEntry, error) {
	return nil, errors.New("connection refused")
}

type testEnv struct {
	store       *db.MemoryStore
	broadcaster *db.Broadcaster
	transcriber *stubTranscriber
	server      *Server
	echo        *echo.Echo
}

func newTestEnv(t *testing.T, store core.Store) *testEnv {
	t.Helper()
	mem := db.NewMemoryStore()
	if store == nil {
		store = mem
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	env := &testEnv{
		store:       mem,
		broadcaster: db.NewBroadcaster(),
		transcriber: &stubTranscriber{text: "Transcribed from audio."},
	}
	pipeline := core.NewPipeline(store, env.transcriber, llm.MockClient{},
		core.WithNotifier(env.broadcaster),
		core.WithMetrics(m),
	)
	roster, err := db.Roster()
	require.NoError(t, err)

	env.server = NewServer(pipeline, roster, zerolog.Nop())
	env.server.Subscriber = env.broadcaster
	env.server.Gatherer = reg
	env.echo = env.server.Echo([]string{"http://localhost:3000"})
	return env
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, target string, fields map[string]string, audio []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if audio != nil {
		fw, err := w.CreateFormFile("audio", "recording.wav")
		require.NoError(t, err)
		_, err = fw.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestListPatients(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/doctor/patients", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var patients []pkg.PatientSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patients))
	assert.Len(t, patients, 15)
	assert.Equal(t, "patient_456", patients[1].ID)
}

func TestCreateClinicalNote_Text(t *testing.T) {
	env := newTestEnv(t, nil)
	req := multipartRequest(t, "/api/doctor/note", map[string]string{
		"patient_id": "patient_123",
		"doctor_id":  "doctor_999",
		"raw_text":   "Patient reports headache since Monday.",
	}, nil)

	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var note pkg.ClinicalNote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &note))
	assert.NotEmpty(t, note.ID)
	assert.Equal(t, "patient_123", note.PatientID)
	assert.Equal(t, "doctor_999", note.DoctorID)
	assert.Equal(t, "Patient reports headache since Monday.", note.RawDictation)
	assert.Equal(t, "Tension headache.", note.SoapAssessment)
	assert.False(t, note.IsReadByPatient)

	unread, err := env.store.UnreadNotes(context.Background(), "patient_123")
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}

func TestCreateClinicalNote_AcceptsLegacyFieldNames(t *testing.T) {
	env := newTestEnv(t, nil)
	req := multipartRequest(t, "/api/doctor/note", map[string]string{
		"PatientId": "patient_123",
		"DoctorId":  "doctor_999",
		"RawText":   "Follow-up.",
	}, nil)

	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateClinicalNote_Audio(t *testing.T) {
	env := newTestEnv(t, nil)
	audio := []byte("RIFF fake wav bytes")
	req := multipartRequest(t, "/api/doctor/note", map[string]string{"patient_id": "patient_123"}, audio)

	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, audio, env.transcriber.audio)
	var note pkg.ClinicalNote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &note))
	assert.Equal(t, "Transcribed from audio.", note.RawDictation)
}

func TestCreateClinicalNote_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"missing patient", map[string]string{"raw_text": "text"}},
		{"no input", map[string]string{"patient_id": "patient_123"}},
		{"blank text", map[string]string{"patient_id": "patient_123", "raw_text": "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			rec := env.do(multipartRequest(t, "/api/doctor/note", tt.fields, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			notes, err := env.store.ClinicalNotesByPatient(context.Background(), "patient_123")
			require.NoError(t, err)
			assert.Empty(t, notes)
		})
	}
}

func TestCreateClinicalNote_AudioTooLarge(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.MaxAudioBytes = 8
	req := multipartRequest(t, "/api/doctor/note", map[string]string{"patient_id": "patient_123"}, []byte("more than eight bytes"))

	rec := env.do(req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

type countingBody struct {
	r    io.Reader
	read int
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += n
	return n, err
}

func TestCreateClinicalNote_OversizedBodyRejectedUnread(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.MaxAudioBytes = 1024
	env.echo = env.server.Echo(nil)

	payload := url.Values{
		"patient_id": {"patient_123"},
		"raw_text":   {strings.Repeat("a", 2*formOverhead)},
	}.Encode()
	body := &countingBody{r: strings.NewReader(payload)}
	req := httptest.NewRequest(http.MethodPost, "/api/doctor/note", body)
	req.ContentLength = int64(len(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)

	rec := env.do(req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, body.read)
	notes, err := env.store.ClinicalNotesByPatient(context.Background(), "patient_123")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestCreateDiaryEntry_OversizedBodyWithoutLength(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.MaxAudioBytes = 1024
	env.echo = env.server.Echo(nil)

	req := multipartRequest(t, "/api/patient/patient_456/diary",
		map[string]string{"raw_text": strings.Repeat("a", 2*formOverhead)}, nil)
	req.ContentLength = -1

	rec := env.do(req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	entries, err := env.store.DiaryEntriesByPatient(context.Background(), "patient_456")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateClinicalNote_StorageFailure(t *testing.T) {
	env := newTestEnv(t, failingStore{db.NewMemoryStore()})
	req := multipartRequest(t, "/api/doctor/note", map[string]string{"patient_id": "patient_123", "raw_text": "x"}, nil)

	rec := env.do(req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestCreateAndListDiaryEntries(t *testing.T) {
	env := newTestEnv(t, nil)

	form := url.Values{"raw_text": {"Third energy drink today."}}
	req := httptest.NewRequest(http.MethodPost, "/api/patient/patient_456/diary", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entry pkg.DiaryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "patient_456", entry.PatientID)
	assert.Equal(t, pkg.CategoryDiet, entry.Category)
	require.NotNil(t, entry.TrendWarning)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/patient/patient_456/diary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []pkg.DiaryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
}

func TestCreateDiaryEntry_NoInput(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(multipartRequest(t, "/api/patient/patient_456/diary", nil, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDiaryEntry_HistoryFailure(t *testing.T) {
	env := newTestEnv(t, failingStore{db.NewMemoryStore()})

	rec := env.do(multipartRequest(t, "/api/patient/patient_456/diary", map[string]string{"raw_text": "x"}, nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetPatientHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := db.Seed(context.Background(), env.store, time.Now())
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/doctor/patient/patient_123/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var history pkg.PatientHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history.DiaryLogs, 5)
	assert.Len(t, history.DoctorNotes, 1)
}

func TestGetPatientHistory_EmptyArrays(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/doctor/patient/nobody/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"diary_logs": [], "doctor_notes": []}`, rec.Body.String())
}

func TestListNotifications(t *testing.T) {
	env := newTestEnv(t, nil)
	note := &pkg.ClinicalNote{ID: "n1", PatientID: "patient_123", CreatedAt: time.Now()}
	require.NoError(t, env.store.InsertClinicalNote(context.Background(), note))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/patient/patient_123/notifications", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var notes []pkg.ClinicalNote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, "n1", notes[0].ID)
}

func TestStreamNotifications_Unavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.Subscriber = nil

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/patient/patient_123/notifications/stream", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamNotifications(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.echo)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/patient/patient_123/notifications/stream", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	// The subscription exists once headers are flushed.
	require.NoError(t, env.broadcaster.NotifyNote(ctx, pkg.NoteNotification{PatientID: "patient_456", NoteID: "other"}))
	require.NoError(t, env.broadcaster.NotifyNote(ctx, pkg.NoteNotification{PatientID: "patient_123", NoteID: "mine"}))

	lines := make(chan string, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "data: ") {
				lines <- strings.TrimPrefix(sc.Text(), "data: ")
				return
			}
		}
	}()

	select {
	case data := <-lines:
		var n pkg.NoteNotification
		require.NoError(t, json.Unmarshal([]byte(data), &n))
		assert.Equal(t, "mine", n.NoteID)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification event received")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(multipartRequest(t, "/api/doctor/note", map[string]string{"patient_id": "patient_123", "raw_text": "x"}, nil))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `carejournal_records_created_total{kind="clinical_note"} 1`)
}

func TestRecovery(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	h := Recovery(zerolog.Nop())(func(c echo.Context) error { panic("boom") })

	err := h(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
}
