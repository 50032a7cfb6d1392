package core

// prompts.go defines the prompt templates sent to the structured extraction
// service.  Keeping the wording here makes it easy to tweak without touching
// the pipeline.

import (
	"fmt"
	"strings"

	"carejournal/pkg"
)

const (
	// soapTemplate asks for a SOAP note plus a patient-facing explanation.
	soapTemplate = `You are a medical AI assistant. Analyze the following doctor's dictation: '%s'
Output a JSON object strictly in this format, with exactly these keys:
{
  "SoapSubjective": "...",
  "SoapObjective": "...",
  "SoapAssessment": "...",
  "SoapPlan": "...",
  "PatientFriendlyExplanation": "Write a warm, empathetic 2-sentence summary for the patient at a 5th-grade reading level."
}`

	// diaryTemplate asks for wellness scoring of the latest diary entry, using
	// recent history to detect multi-day trends.
	diaryTemplate = `You are a preventative healthcare AI engine.

Here is the patient's recent diary history for context to detect trends:
%s

Analyze their LATEST diary entry: '%s'

Return a JSON object strictly in this format, with exactly these keys:
{
  "MoodScore": 5,
  "StressLevel": 5,
  "EnergyLevel": 8,
  "Category": "Symptom",
  "TrendWarning": null,
  "AiPatientFeedback": "A brief, empathetic response validating their feelings."
}
Rules:
- MoodScore, StressLevel, EnergyLevel: an integer from 1 to 10 if mentioned or implied, otherwise null.
- Category: choose strictly one of %s.
- TrendWarning: only if the history shows multiple entries of unhealthy habits (high sugar, excessive caffeine, prolonged symptoms), write a strict but friendly warning. Otherwise use null.
- AiPatientFeedback: a brief, empathetic response validating their feelings.`
)

// BuildSoapPrompt renders the clinical note extraction prompt for a dictation.
func BuildSoapPrompt(dictation string) string {
	return fmt.Sprintf(soapTemplate, dictation)
}

// BuildDiaryPrompt renders the diary analysis prompt for the latest entry and
// the rendered history digest.
func BuildDiaryPrompt(current, history string) string {
	names := make([]string, len(pkg.Categories))
	for i, c := range pkg.Categories {
		names[i] = string(c)
	}
	return fmt.Sprintf(diaryTemplate, history, current, strings.Join(names, ", "))
}
