package llm

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
)

const (
	anthropicURL          = "https://api.anthropic.com/v1/messages"
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-5-20250929"
	anthropicMaxTokens    = 900

	anthropicMaxRetries     = 3
	anthropicRetryBaseDelay = 500 * time.Millisecond
)

// anthropicClient is the hosted alternative to a local OpenAI-compatible
// backend. It has no structured-output mode, so a schema is folded into the
// system instructions and the caller's normalizer does the rest.
type anthropicClient struct {
	apiKey string
	model  string
	http   *http.Client
	logger zerolog.Logger
}

func newAnthropic(opts Options, logger zerolog.Logger) (Client, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("anthropic provider requires an API key")
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "\"'")
	if model == "" {
		model = anthropicDefaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = openAIDefaultTimeout
	}
	return &anthropicClient{
		apiKey: key,
		model:  model,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

func (c *anthropicClient) Name() string { return c.model }

type anthropicPayload struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}

	system := req.System
	if req.Schema != nil {
		schemaJSON, err := json.Marshal(req.Schema)
		if err == nil {
			system += "\n\nRespond with a single JSON object matching this schema:\n" + string(schemaJSON)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= anthropicMaxRetries; attempt++ {
		if attempt > 0 {
			delay := anthropicRetryBaseDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("retrying completion call")
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		payload := anthropicPayload{
			Model:       c.model,
			System:      system,
			MaxTokens:   max(req.MaxTokens, anthropicMaxTokens),
			Temperature: req.Temperature,
		}
		for _, m := range req.Messages {
			payload.Messages = append(payload.Messages, toAnthropicMessage(m))
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return Response{}, fmt.Errorf("marshal payload: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicURL, bytes.NewReader(body))
		if err != nil {
			return Response{}, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if attempt < anthropicMaxRetries {
				continue
			}
			return Response{}, lastErr
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			if attempt < anthropicMaxRetries {
				continue
			}
			return Response{}, lastErr
		}

		if resp.StatusCode >= 400 {
			var apiErr struct {
				Error anthropicError `json:"error"`
			}
			if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
				lastErr = fmt.Errorf("anthropic %d: %s (type: %s)", resp.StatusCode, apiErr.Error.Message, apiErr.Error.Type)
			} else {
				lastErr = fmt.Errorf("anthropic %d: %s", resp.StatusCode, truncateString(string(data), 500))
			}
			c.logger.Error().
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Str("raw_response", truncateString(string(data), 500)).
				Msg("completion error")
			if (resp.StatusCode == 429 || resp.StatusCode >= 500) && attempt < anthropicMaxRetries {
				continue
			}
			return Response{}, lastErr
		}

		var ar anthropicResponse
		if err := json.Unmarshal(data, &ar); err != nil {
			lastErr = fmt.Errorf("parse response: %w", err)
			if attempt < anthropicMaxRetries {
				continue
			}
			return Response{}, lastErr
		}

		var buf bytes.Buffer
		for _, content := range ar.Content {
			if content.Type == "text" {
				buf.WriteString(content.Text)
			}
		}
		if buf.Len() == 0 {
			return Response{}, errors.New("empty response content")
		}
		return Response{Text: buf.String()}, nil
	}

	return Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func toAnthropicMessage(m Message) anthropicMessage {
	content := make([]anthropicContent, 0, len(m.Images)+1)
	for _, img := range m.Images {
		content = append(content, anthropicContent{
			Type: "image",
			Source: &anthropicSource{
				Type:      "base64",
				MediaType: "image/jpeg",
				Data:      img,
			},
		})
	}
	if m.Content != "" || len(content) == 0 {
		content = append(content, anthropicContent{Type: "text", Text: m.Content})
	}
	return anthropicMessage{Role: m.Role, Content: content}
}
