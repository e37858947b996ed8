package consultation

import "context"

// Phraser produces conversational text for every phase except follow_up,
// whose questions come only from the rule catalog.
type Phraser interface {
	Generate(ctx context.Context, snap Snapshot, message string, phase Phase) (string, error)
}

const (
	WelcomeMessage      = "Hi! I'm CardioGenie, your AI assistant for cardiology consultations. To provide you with the best care, could you please share your name, email, age, and gender?"
	SessionErrorMessage = "Session error. Please refresh and try again."
	RateLimitMessage    = "You're sending messages too quickly. Please wait a moment and try again."
	SessionMovedMessage = "This conversation was continued in another window."
)

var fallbackTexts = map[Phase]string{
	PhaseBasicInfo: "Could you please provide your name, email, age, and gender?",
	PhaseSymptoms:  "What cardiovascular symptoms are you experiencing?",
	PhaseFollowUp:  "Could you provide more details about your symptoms?",
	PhaseCompleted: "Thank you for providing your information. A cardiologist will review your case.",
}

// FallbackText is the fixed reply used when the phrasing delegate is absent
// or fails.
func FallbackText(p Phase) string {
	if text, ok := fallbackTexts[p]; ok {
		return text
	}
	return "How can I assist you today?"
}
