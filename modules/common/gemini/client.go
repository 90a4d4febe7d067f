package gemini

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/config"
)

// Request - 단일 텍스트 생성 요청
type Request struct {
	Model           string
	System          string
	Prompt          string
	Temperature     float32
	MaxOutputTokens int32
	JSON            bool
}

// Response - 생성 결과 + 사용량. 실패 시에도 Model, Latency 는 채워짐
type Response struct {
	Text       string
	Model      string
	TokensUsed int
	Latency    time.Duration
	Attempts   int
}

// Completer - classifier / codegen 이 사용하는 AI 호출 인터페이스
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Client - genai 기반 Completer (rate limit + transport 재시도)
type Client struct {
	generate  generateFunc
	limiter   *rate.Limiter
	timeout   time.Duration
	retries   int
	baseDelay time.Duration
}

// Options - Client 설정
type Options struct {
	RequestTimeout time.Duration
	Retries        int
	BaseDelay      time.Duration
	RatePerSec     float64
	Burst          int
}

// OptionsFromConfig - 환경설정 → Options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RequestTimeout: cfg.AIRequestTimeout,
		Retries:        cfg.AITransportRetries,
		BaseDelay:      time.Second,
		RatePerSec:     cfg.AIRateLimitPerSec,
		Burst:          cfg.AIRateBurst,
	}
}

// NewClient - Gemini API 클라이언트 생성
func NewClient(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newClient(genaiClient.Models.GenerateContent, opts), nil
}

func newClient(fn generateFunc, opts Options) *Client {
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		generate:  fn,
		limiter:   rate.NewLimiter(limit, burst),
		timeout:   timeout,
		retries:   retries,
		baseDelay: opts.BaseDelay,
	}
}

// Complete - 텍스트 생성 (JSON 모드 지원)
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: &req.Temperature,
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = req.MaxOutputTokens
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	start := time.Now()
	result, attempts, err := c.generateWithRetry(ctx, req.Model, contents, cfg)
	out := Response{Model: req.Model, Latency: time.Since(start), Attempts: attempts}
	if err != nil {
		return out, err
	}

	if result.UsageMetadata != nil {
		out.TokensUsed = int(result.UsageMetadata.TotalTokenCount)
	}
	out.Text = result.Text()
	if out.Text == "" {
		return out, &UnavailableError{Attempts: attempts, Err: fmt.Errorf("empty response from %s", req.Model)}
	}
	return out, nil
}
