// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/saleskit/ltc-backend/internal/syncer"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond
	webhookHeaderSig     = "X-Signature"
)

type syncWebhookPayload struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Result     syncer.Result `json:"result"`
}

func (s *Scheduler) deliverSyncWebhook(ctx context.Context, result syncer.Result, startedAt, finishedAt time.Time) {
	webhookURL := strings.TrimSpace(s.webhookURL)
	if webhookURL == "" || s.httpClient == nil {
		return
	}

	body, err := json.Marshal(syncWebhookPayload{
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Result:     result,
	})
	if err != nil {
		s.logger.Error("webhook payload marshal failed", "error", err)
		return
	}

	signature := signWebhookPayload(s.webhookSecret, body)

	var lastErr error
	for attempt := 1; attempt <= webhookRetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			s.logger.Error("webhook request build failed", "attempt", attempt, "error", err)
			break
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(webhookHeaderSig, signature)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			s.logger.Warn("webhook failure", "attempt", attempt, "error", err)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				s.logger.Info("webhook success",
					"attempt", attempt,
					"response_status", resp.StatusCode,
				)
				return
			}

			lastErr = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
			s.logger.Warn("webhook failure",
				"attempt", attempt,
				"response_status", resp.StatusCode,
			)
		}

		if attempt < webhookRetryAttempts {
			wait := webhookRetryBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Warn("webhook canceled before retry", "attempt", attempt, "error", ctx.Err())
				return
			case <-timer.C:
			}
		}
	}

	if lastErr != nil {
		s.logger.Error("webhook retries exhausted", "error", lastErr)
	}
}

func signWebhookPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
