package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"carejournal/pkg"
)

const (
	// DefaultHistoryLimit is the number of past diary entries given to the
	// extraction service as trend context.
	DefaultHistoryLimit = 3

	// NoHistory is the digest rendered for a patient without diary entries.
	NoHistory = "No previous history."

	digestDateLayout = "2006-01-02"
)

// DigestLine is one past diary entry as shown to the extraction service.
type DigestLine struct {
	Date time.Time
	Text string
}

// HistoryDigest is a short, newest-first view of a patient's recent diary
// entries.  It is built per request and never stored.
type HistoryDigest struct {
	Lines []DigestLine
}

// String renders the digest as "<date>: <text>" lines, or NoHistory.
func (d HistoryDigest) String() string {
	if len(d.Lines) == 0 {
		return NoHistory
	}
	out := make([]string, len(d.Lines))
	for i, l := range d.Lines {
		out[i] = l.Date.UTC().Format(digestDateLayout) + ": " + l.Text
	}
	return strings.Join(out, "\n")
}

// BuildDigest collects at most limit of the patient's most recent diary
// entries.  A limit of zero or less means DefaultHistoryLimit.  Store errors
// are returned as *StorageError.
func BuildDigest(ctx context.Context, store DiaryReader, patientID string, limit int) (HistoryDigest, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	entries, err := store.RecentDiaryEntries(ctx, patientID, limit)
	if err != nil {
		return HistoryDigest{}, &StorageError{Stage: StageContextGathered, Op: "load diary history", Err: err}
	}
	entries = append([]pkg.DiaryEntry(nil), entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	d := HistoryDigest{Lines: make([]DigestLine, 0, len(entries))}
	for _, e := range entries {
		d.Lines = append(d.Lines, DigestLine{Date: e.CreatedAt, Text: e.RawText})
	}
	return d, nil
}
