package agent

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Aniketchurihar/CardioGenie/internal/consultation"
)

const basePrompt = `You are CardioGenie, a professional AI assistant for cardiology consultations.

Your role:
- Collect patient information professionally
- Ask relevant medical questions
- Be empathetic but concise
- No medical diagnoses or advice

Current phase: %s
Patient data: Name: %s, Email: %s, Age: %s, Gender: %s

Guidelines:
- Ask only ONE question at a time
- Keep responses under 25 words
- Be professional and caring`

var phaseTasks = map[consultation.Phase]string{
	consultation.PhaseBasicInfo: "Ask for missing basic information (name, email, age, gender). Be concise.",
	consultation.PhaseSymptoms:  "Ask what cardiovascular symptoms they are experiencing. One question only.",
	consultation.PhaseCompleted: "Provide professional completion message.",
}

// Generate phrases the next conversational turn. It is never used for
// follow-up questions.
func (c *Client) Generate(ctx context.Context, snap consultation.Snapshot, message string, phase consultation.Phase) (string, error) {
	out, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(snap, phase)},
		{Role: openai.ChatMessageRoleUser, Content: message},
	}, 80, 0.2)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out, nil
}

func systemPrompt(snap consultation.Snapshot, phase consultation.Phase) string {
	age := "Not provided"
	if snap.Age > 0 {
		age = fmt.Sprint(snap.Age)
	}
	task, ok := phaseTasks[phase]
	if !ok {
		task = "Assist the patient."
	}
	return fmt.Sprintf(basePrompt, phase,
		notProvided(snap.Name), notProvided(snap.Email), age, notProvided(snap.Gender)) +
		"\n\nCurrent task: " + task
}

func notProvided(v string) string {
	if v == "" {
		return "Not provided"
	}
	return v
}
