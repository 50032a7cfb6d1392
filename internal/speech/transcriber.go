// Package speech wraps an external speech recognizer.  Audio is written to a
// scoped temporary WAV file that is always removed before Transcribe returns.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-audio/wav"
)

// Failure reason codes.
const (
	ReasonNoMatch      = "NoMatch"
	ReasonServiceError = "ServiceError"
	ReasonInvalidAudio = "InvalidAudio"
	ReasonAdapterError = "AdapterError"
)

// Failure is returned for every unsuccessful transcription.  Its message is
// suitable for storing in place of the transcript.
type Failure struct {
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	return "Speech recognition failed: " + f.Reason
}

func (f *Failure) Unwrap() error { return f.Err }

// Recognizer is the external speech service.  It reads the mono WAV file at
// path and returns the recognized text; an empty result means no speech was
// found.
type Recognizer interface {
	Recognize(ctx context.Context, path, language string) (string, error)
}

// Transcriber adapts a Recognizer to raw audio bytes.
type Transcriber struct {
	recognizer Recognizer
	language   string
	tempDir    string
}

// NewTranscriber returns a Transcriber that sends language as the
// recognition hint.  An empty tempDir uses os.TempDir.
func NewTranscriber(r Recognizer, language, tempDir string) *Transcriber {
	return &Transcriber{recognizer: r, language: language, tempDir: tempDir}
}

// Transcribe recognizes speech in a single-channel WAV payload.  The audio is
// not converted; anything else fails with ReasonInvalidAudio.  Every error is
// a *Failure.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	f, err := os.CreateTemp(t.tempDir, "recording-*.wav")
	if err != nil {
		return "", &Failure{Reason: ReasonAdapterError, Err: fmt.Errorf("create temp audio file: %w", err)}
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(audio); err != nil {
		f.Close()
		return "", &Failure{Reason: ReasonAdapterError, Err: fmt.Errorf("write temp audio file: %w", err)}
	}
	if err := checkMonoWAV(f); err != nil {
		f.Close()
		return "", &Failure{Reason: ReasonInvalidAudio, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &Failure{Reason: ReasonAdapterError, Err: fmt.Errorf("close temp audio file: %w", err)}
	}

	text, err := t.recognizer.Recognize(ctx, path, t.language)
	if err != nil {
		var failure *Failure
		if errors.As(err, &failure) {
			return "", failure
		}
		return "", &Failure{Reason: ReasonServiceError, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return "", &Failure{Reason: ReasonNoMatch}
	}
	return text, nil
}

func checkMonoWAV(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return errors.New("invalid WAV file format")
	}
	if decoder.NumChans != 1 {
		return fmt.Errorf("unsupported number of channels: %d", decoder.NumChans)
	}
	return nil
}
