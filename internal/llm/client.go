// Package llm is a streaming client for OpenAI-compatible chat completion
// APIs. It is the only piece of the system that talks to the model provider.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/saleskit/ltc-backend/internal/domain"
)

// Message is one chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the assembled prompt for one streaming completion.
type ChatRequest struct {
	Messages []Message
}

// Options configures the provider endpoint and sampling parameters.
type Options struct {
	BaseURL     string // e.g. https://api.openai.com
	APIKey      string
	Model       string // e.g. gpt-4o-mini
	MaxTokens   int
	Temperature float64

	// IdleTimeout aborts a stream when the provider sends nothing for this
	// long. Zero disables the watchdog.
	IdleTimeout time.Duration
}

type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		opts: opts,
		// no overall client timeout: streams legitimately run for minutes,
		// the idle watchdog handles stalled providers
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream runs one streaming chat completion. onChunk is called for every
// non-empty content delta in arrival order; returning an error from onChunk
// aborts the stream and propagates that error unchanged. The accumulated
// assistant text is returned on success.
func (c *Client) Stream(ctx context.Context, req ChatRequest, onChunk func(string) error) (string, error) {
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrValidation)
	}

	body, err := json.Marshal(map[string]any{
		"model":       c.opts.Model,
		"messages":    req.Messages,
		"max_tokens":  c.opts.MaxTokens,
		"temperature": c.opts.Temperature,
		"stream":      true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", domain.ErrProvider, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	url := strings.TrimSuffix(c.opts.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrProvider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %v", domain.ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.logger.Warn("provider returned non-200",
			"status", resp.StatusCode,
			"model", c.opts.Model,
		)
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrProvider, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var idle *time.Timer
	var idleFired atomic.Bool
	if c.opts.IdleTimeout > 0 {
		idle = time.AfterFunc(c.opts.IdleTimeout, func() {
			idleFired.Store(true)
			cancel()
		})
		defer idle.Stop()
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	for scanner.Scan() {
		if idle != nil {
			idle.Reset(c.opts.IdleTimeout)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("skipping malformed stream chunk", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			full.WriteString(delta)
			if err := onChunk(delta); err != nil {
				return full.String(), err
			}
		}

		if fr := chunk.Choices[0].FinishReason; fr != nil && *fr != "" {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if idleFired.Load() {
			return full.String(), fmt.Errorf("%w: stream idle for %s", domain.ErrProvider, c.opts.IdleTimeout)
		}
		if ctx.Err() != nil {
			return full.String(), ctx.Err()
		}
		return full.String(), fmt.Errorf("%w: read stream: %v", domain.ErrProvider, err)
	}

	c.logger.Debug("stream complete",
		"model", c.opts.Model,
		"chars", full.Len(),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return full.String(), nil
}
