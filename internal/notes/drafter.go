// Package notes drafts SOAP notes from consultation transcripts using an
// OpenAI-compatible chat completions endpoint.
package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/afyatrack/afyatrack-api/internal/model"
)

var (
	ErrRateLimited = errors.New("drafting service rate limited")
	ErrAuthFailed  = errors.New("drafting service rejected credentials")
	// ErrIncomplete means the reply could not be parsed or lacked a section.
	ErrIncomplete = errors.New("drafted note is incomplete")
	ErrEmptyInput = errors.New("transcript is empty")
)

// Drafter turns a transcript into a SOAP note.
type Drafter interface {
	Draft(ctx context.Context, transcript string) (model.SOAPNote, error)
}

// Config configures HTTPDrafter.
type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPDrafter calls the chat completions API once per draft. There are no
// retries; callers see the first failure.
type HTTPDrafter struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

func NewHTTPDrafter(cfg Config, logger zerolog.Logger) *HTTPDrafter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPDrafter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (d *HTTPDrafter) Draft(ctx context.Context, transcript string) (model.SOAPNote, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return model.SOAPNote{}, ErrEmptyInput
	}

	reqBody := chatRequest{
		Model:       d.cfg.Model,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
	}
	reqBody.ResponseFormat.Type = "json_object"
	body, err := json.Marshal(reqBody)
	if err != nil {
		return model.SOAPNote{}, fmt.Errorf("marshal draft request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return model.SOAPNote{}, fmt.Errorf("build draft request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return model.SOAPNote{}, fmt.Errorf("draft request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.SOAPNote{}, fmt.Errorf("read draft response: %w", err)
	}
	d.logger.Debug().Int("status", resp.StatusCode).Dur("latency", time.Since(start)).Msg("draft response")

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.SOAPNote{}, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return model.SOAPNote{}, ErrAuthFailed
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return model.SOAPNote{}, fmt.Errorf("drafting service returned status %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil || len(cr.Choices) == 0 {
		return model.SOAPNote{}, ErrIncomplete
	}
	return ParseNote(cr.Choices[0].Message.Content)
}

// ParseNote extracts the four sections from a model reply. The reply may be
// wrapped in a fenced code block. Every section must be non-empty.
func ParseNote(content string) (model.SOAPNote, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var n model.SOAPNote
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &n); err != nil {
		return model.SOAPNote{}, ErrIncomplete
	}
	n.Subjective = strings.TrimSpace(n.Subjective)
	n.Objective = strings.TrimSpace(n.Objective)
	n.Assessment = strings.TrimSpace(n.Assessment)
	n.Plan = strings.TrimSpace(n.Plan)
	if !n.Complete() {
		return model.SOAPNote{}, ErrIncomplete
	}
	return n, nil
}
