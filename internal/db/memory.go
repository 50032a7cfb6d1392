package db

import (
	"context"
	"sort"
	"sync"

	"carejournal/pkg"
)

// MemoryStore keeps records in process memory.  It is used for demos with
// STORE_DRIVER=memory and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string][]pkg.ClinicalNote
	diary map[string][]pkg.DiaryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notes: make(map[string][]pkg.ClinicalNote),
		diary: make(map[string][]pkg.DiaryEntry),
	}
}

func (s *MemoryStore) InsertClinicalNote(ctx context.Context, n *pkg.ClinicalNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[n.PatientID] = append(s.notes[n.PatientID], *n)
	return nil
}

func (s *MemoryStore) InsertDiaryEntry(ctx context.Context, e *pkg.DiaryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diary[e.PatientID] = append(s.diary[e.PatientID], *e)
	return nil
}

func (s *MemoryStore) DiaryEntriesByPatient(ctx context.Context, patientID string) ([]pkg.DiaryEntry, error) {
	s.mu.RLock()
	entries := append([]pkg.DiaryEntry(nil), s.diary[patientID]...)
	s.mu.RUnlock()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

func (s *MemoryStore) RecentDiaryEntries(ctx context.Context, patientID string, limit int) ([]pkg.DiaryEntry, error) {
	entries, _ := s.DiaryEntriesByPatient(ctx, patientID)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) ClinicalNotesByPatient(ctx context.Context, patientID string) ([]pkg.ClinicalNote, error) {
	return s.notesWhere(patientID, func(pkg.ClinicalNote) bool { return true }), nil
}

func (s *MemoryStore) UnreadNotes(ctx context.Context, patientID string) ([]pkg.ClinicalNote, error) {
	return s.notesWhere(patientID, func(n pkg.ClinicalNote) bool { return !n.IsReadByPatient }), nil
}

func (s *MemoryStore) notesWhere(patientID string, keep func(pkg.ClinicalNote) bool) []pkg.ClinicalNote {
	s.mu.RLock()
	var out []pkg.ClinicalNote
	for _, n := range s.notes[patientID] {
		if keep(n) {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Broadcaster fans note notifications out to in-process listeners.  It
// replaces the Postgres Notifier for the sqlite and memory drivers.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan pkg.NoteNotification]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan pkg.NoteNotification]struct{})}
}

// NotifyNote delivers n to every current listener.  Slow listeners miss
// notifications rather than block the caller.
func (b *Broadcaster) NotifyNote(ctx context.Context, n pkg.NoteNotification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

// NoteSource yields note notifications until ctx is cancelled.
type NoteSource interface {
	Listen(ctx context.Context) (<-chan pkg.NoteNotification, error)
}

// Relay subscribes to src once and rebroadcasts what it yields to b's
// listeners until src closes its channel.  It lets many streams share one
// Postgres LISTEN connection.
func (b *Broadcaster) Relay(ctx context.Context, src NoteSource) error {
	events, err := src.Listen(ctx)
	if err != nil {
		return err
	}
	go func() {
		for n := range events {
			_ = b.NotifyNote(ctx, n)
		}
	}()
	return nil
}

// Listen yields notifications until ctx is cancelled.
func (b *Broadcaster) Listen(ctx context.Context) (<-chan pkg.NoteNotification, error) {
	ch := make(chan pkg.NoteNotification, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}
