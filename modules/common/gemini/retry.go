package gemini

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// UnavailableError - transport 재시도를 모두 소진
type UnavailableError struct {
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ai backend unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// RejectedError - 재시도해도 소용없는 요청 오류 (4xx, 429 제외)
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ai backend rejected request: %v", e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// generateWithRetry - 429/5xx/네트워크 오류 시 지수 백오프 + jitter 로 재시도
func (c *Client) generateWithRetry(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, int, error) {
	attempts := c.retries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, attempt, &UnavailableError{Attempts: attempt, Err: err}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		result, err := c.generate(callCtx, model, contents, config)
		cancel()

		if err == nil {
			if attempt > 1 {
				logrus.Infof("✅ [Gemini Retry] Success on attempt %d/%d", attempt, attempts)
			}
			return result, attempt, nil
		}
		lastErr = err

		// 상위 컨텍스트 취소는 재시도하지 않음
		if ctx.Err() != nil {
			return nil, attempt, &UnavailableError{Attempts: attempt, Err: ctx.Err()}
		}
		if !isTransient(err) {
			logrus.Errorf("❌ [Gemini Retry] Non-retryable error: %v", err)
			return nil, attempt, &RejectedError{Err: err}
		}
		if attempt == attempts {
			break
		}

		delay := backoff(c.baseDelay, attempt)
		logrus.Warnf("⚠️  [Gemini Retry] Transient error on attempt %d/%d, waiting %s: %v", attempt, attempts, delay, err)
		select {
		case <-ctx.Done():
			return nil, attempt, &UnavailableError{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	return nil, attempts, &UnavailableError{Attempts: attempts, Err: lastErr}
}

// backoff - base * 2^(attempt-1) + [0, base) jitter
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	return base<<(attempt-1) + time.Duration(rand.Int64N(int64(base)))
}

// isTransient - 재시도 대상 오류인지 확인 (429, 5xx, 타임아웃, 네트워크)
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code == 429 || apiErrPtr.Code >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"429", "rate limit", "quota", "unavailable", "internal error", "timeout", "connection reset"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
