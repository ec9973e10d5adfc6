// Package generator calls a chat-style text generation endpoint to produce quiz questions.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/victornm/certiquest/internal/question"
)

const (
	defaultModel       = "command-nightly"
	defaultMaxTokens   = 3000
	defaultTemperature = 0.7
	defaultTimeout     = 10 * time.Second

	maxErrorBody = 512
)

type Config struct {
	URL         string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client implements question.Generator.
type Client struct {
	url         string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	http        *http.Client
}

func NewClient(c Config) *Client {
	cl := &Client{
		url:         c.URL,
		apiKey:      c.APIKey,
		model:       c.Model,
		temperature: c.Temperature,
		maxTokens:   c.MaxTokens,
		http:        c.HTTPClient,
	}

	if cl.model == "" {
		cl.model = defaultModel
	}
	if cl.temperature <= 0 {
		cl.temperature = defaultTemperature
	}
	if cl.maxTokens <= 0 {
		cl.maxTokens = defaultMaxTokens
	}
	if cl.http == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		cl.http = &http.Client{Timeout: timeout}
	}

	return cl
}

type chatRequest struct {
	Model       string  `json:"model"`
	Message     string  `json:"message"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Text string `json:"text"`
}

type generatedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

func (c *Client) Generate(ctx context.Context, req question.GenerateRequest) ([]question.GeneratedQuestion, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Message:     Prompt(req),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("generator returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if strings.TrimSpace(chat.Text) == "" {
		return nil, fmt.Errorf("generator returned no text")
	}

	cleaned := Clean(chat.Text)
	slog.DebugContext(ctx, "generator: response received", "category", req.Category, "bytes", len(cleaned))

	var raw []generatedQuestion
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("%w: decode questions: %w", question.ErrMalformedQuestion, err)
	}

	out := make([]question.GeneratedQuestion, 0, len(raw))
	for _, q := range raw {
		out = append(out, question.GeneratedQuestion{
			Text:          q.Question,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
		})
	}

	return out, nil
}

// Prompt asks for a bare JSON array of questions with four unique options each.
func Prompt(req question.GenerateRequest) string {
	return fmt.Sprintf(`Generate %d multiple-choice quiz questions in the category '%s' with difficulty '%s'.
Each question must have exactly 4 unique options and one correct answer that is one of the options.
Format the response strictly as a valid JSON array like this:
[
  {
    "question": "Example question?",
    "options": ["A", "B", "C", "D"],
    "correctAnswer": "A"
  }
]
Do not include explanations or any text outside the JSON array.`, req.Count, req.Category, req.Difficulty)
}

// Clean strips Markdown code fences and a surrounding JSON string quote from model output.
func Clean(text string) string {
	text = strings.TrimSpace(text)

	switch {
	case strings.HasPrefix(text, "```json"):
		text = strings.TrimSpace(text[len("```json"):])
	case strings.HasPrefix(text, "```"):
		text = strings.TrimSpace(text[len("```"):])
	}
	if strings.HasSuffix(text, "```") {
		text = strings.TrimSpace(text[:len(text)-len("```")])
	}

	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		text = strings.NewReplacer(`\"`, `"`, `\n`, "", `\r`, "").Replace(text[1 : len(text)-1])
	}

	return text
}
