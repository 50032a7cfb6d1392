package llm

import (
	"context"
	"strings"
)

// Canned payloads returned by MockClient.
const (
	MockTranscript = "This is a mocked audio transcription for testing."

	MockSoapResponse = `{ "SoapSubjective": "Patient reports headache.", "SoapObjective": "Vitals normal.", "SoapAssessment": "Tension headache.", "SoapPlan": "Rest and hydration.", "PatientFriendlyExplanation": "Make sure to get some rest and drink plenty of water." }`

	MockDiaryResponse = `{ "MoodScore": 4, "StressLevel": 7, "EnergyLevel": 2, "Category": "Diet", "TrendWarning": "I noticed you've been drinking a lot of energy drinks lately. This might be causing your crash.", "AiPatientFeedback": "Try drinking some water instead today." }`
)

// MockClient stands in for the OpenAI client when no AI account is
// configured.  It satisfies the same recognizer and extractor contracts.
type MockClient struct{}

func (MockClient) Recognize(ctx context.Context, path, language string) (string, error) {
	return MockTranscript, nil
}

// Extract answers with the canned payload matching the schema the prompt
// asks for.
func (MockClient) Extract(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "SoapSubjective") {
		return MockSoapResponse, nil
	}
	return MockDiaryResponse, nil
}
