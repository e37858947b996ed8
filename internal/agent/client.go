package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Aniketchurihar/CardioGenie/internal/consultation"
)

const (
	defaultModel   = "llama-3.1-8b-instant"
	defaultTimeout = 15 * time.Second
)

var ErrEmptyCompletion = errors.New("empty completion")

// Config points the client at any OpenAI-compatible endpoint (OpenAI, Groq).
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client implements consultation.Extractor and consultation.Phraser on top
// of a chat completion API.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

var (
	_ consultation.Extractor = (*Client)(nil)
	_ consultation.Phraser   = (*Client)(nil)
)

func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}

type extraction struct {
	Name   string          `json:"name"`
	Email  string          `json:"email"`
	Age    json.RawMessage `json:"age"`
	Gender string          `json:"gender"`
}

// Extract asks the model for the demographics still missing from known.
func (c *Client) Extract(ctx context.Context, message string, known consultation.PatientInfo) (consultation.PatientInfo, error) {
	prompt := extractionPrompt(message, known)
	out, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, 100, 0.1)
	if err != nil {
		return consultation.PatientInfo{}, fmt.Errorf("extract: %w", err)
	}
	return parseExtraction(out, known)
}

func extractionPrompt(message string, known consultation.PatientInfo) string {
	age := "MISSING"
	if known.Age > 0 {
		age = fmt.Sprint(known.Age)
	}
	return fmt.Sprintf(`Extract patient information from: %q

Current data:
- Name: %s
- Email: %s
- Age: %s
- Gender: %s

Extract ONLY missing information. Return JSON format:
{"name": "extracted_name", "email": "extracted_email", "age": 25, "gender": "Male"}

For gender, use "Male" or "Female". For age, use integer only.
If nothing can be extracted, return {}.

Return only JSON:`,
		message, orMissing(known.Name), orMissing(known.Email), age, orMissing(known.Gender))
}

func parseExtraction(out string, known consultation.PatientInfo) (consultation.PatientInfo, error) {
	start, end := strings.Index(out, "{"), strings.LastIndex(out, "}")
	if start < 0 || end < start {
		return consultation.PatientInfo{}, fmt.Errorf("extract: no JSON object in completion")
	}

	var e extraction
	if err := json.Unmarshal([]byte(out[start:end+1]), &e); err != nil {
		return consultation.PatientInfo{}, fmt.Errorf("extract: decode completion: %w", err)
	}

	var info consultation.PatientInfo
	if known.Name == "" {
		info.Name = clean(e.Name)
	}
	if known.Email == "" && strings.Contains(e.Email, "@") {
		info.Email = clean(e.Email)
	}
	if known.Age == 0 {
		// Models return the age as a number or a quoted string.
		raw := strings.Trim(string(e.Age), `" `)
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < 130 {
			info.Age = n
		}
	}
	if known.Gender == "" {
		switch strings.ToLower(clean(e.Gender)) {
		case "male", "m":
			info.Gender = "Male"
		case "female", "f":
			info.Gender = "Female"
		}
	}
	return info, nil
}

var placeholders = map[string]bool{
	"": true, "missing": true, "null": true, "none": true, "unknown": true,
	"not provided": true, "extracted_name": true, "extracted_email": true,
}

func clean(v string) string {
	v = strings.TrimSpace(v)
	if placeholders[strings.ToLower(v)] {
		return ""
	}
	return v
}

func orMissing(v string) string {
	if v == "" {
		return "MISSING"
	}
	return v
}
