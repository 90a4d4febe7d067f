package codegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/classifier"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/gemini"
)

// GenerationUnavailableError - AI 백엔드 접근 불가 (transport 재시도 소진)
// 현재 시도만 실패로 처리하고, 파이프라인의 repair 예산 안에서 다시 시도됨
type GenerationUnavailableError struct {
	Err error
}

func (e *GenerationUnavailableError) Error() string {
	return "generation unavailable: " + e.Err.Error()
}

func (e *GenerationUnavailableError) Unwrap() error { return e.Err }

// GenerationRejectedError - 재시도 불가한 요청 오류 (잘못된 키, 모델 없음 등)
type GenerationRejectedError struct {
	Err error
}

func (e *GenerationRejectedError) Error() string {
	return "generation rejected: " + e.Err.Error()
}

func (e *GenerationRejectedError) Unwrap() error { return e.Err }

// ContextSpec - 한 번의 생성 호출 입력
type ContextSpec struct {
	ProjectID      string
	Prompt         string
	Classification classifier.Result
	Attempt        int
	PriorCandidate *Candidate
	Issues         []string
	PriorError     string
}

// IsRepair - 이전 후보/이슈/오류가 있으면 수정 요청
func (s ContextSpec) IsRepair() bool {
	return s.PriorCandidate != nil || len(s.Issues) > 0 || s.PriorError != ""
}

// Usage - GenerationLog 용 사용량 (성공/실패 모두 기록)
type Usage struct {
	Model      string
	TokensUsed int
	Latency    time.Duration
	Attempts   int
}

// Outcome - 생성 결과
type Outcome struct {
	Result ParseResult
	Usage  Usage
}

// Generator - 파이프라인이 사용하는 코드 생성 인터페이스
type Generator interface {
	Generate(ctx context.Context, spec ContextSpec) (Outcome, error)
}

// Client - Gemini 기반 Generator
type Client struct {
	completer   gemini.Completer
	model       string
	temperature float32
	maxTokens   int32
}

// New - Client 생성
func New(completer gemini.Completer, modelName string, temperature float32, maxOutputTokens int32) *Client {
	return &Client{completer: completer, model: modelName, temperature: temperature, maxTokens: maxOutputTokens}
}

// Generate - 프롬프트 생성 → AI 호출 → 파싱
func (c *Client) Generate(ctx context.Context, spec ContextSpec) (Outcome, error) {
	log := logrus.WithFields(logrus.Fields{"project_id": spec.ProjectID, "attempt": spec.Attempt})
	if spec.IsRepair() {
		log.Infof("🔧 [Codegen] Requesting repair (%d issues)", len(spec.Issues))
	} else {
		log.Info("🎮 [Codegen] Requesting initial game code")
	}

	resp, err := c.completer.Complete(ctx, gemini.Request{
		Model:           c.model,
		System:          systemPrompt,
		Prompt:          BuildPrompt(spec),
		Temperature:     c.temperature,
		MaxOutputTokens: c.maxTokens,
		JSON:            true,
	})
	out := Outcome{Usage: Usage{Model: resp.Model, TokensUsed: resp.TokensUsed, Latency: resp.Latency, Attempts: resp.Attempts}}
	if out.Usage.Model == "" {
		out.Usage.Model = c.model
	}

	if err != nil {
		var rejected *gemini.RejectedError
		if errors.As(err, &rejected) {
			log.Errorf("❌ [Codegen] Request rejected: %v", err)
			return out, &GenerationRejectedError{Err: err}
		}
		log.Warnf("⚠️  [Codegen] Backend unavailable: %v", err)
		return out, &GenerationUnavailableError{Err: err}
	}

	out.Result = ParseResponse(resp.Text)
	switch r := out.Result.(type) {
	case ParsedOk:
		log.Infof("✅ [Codegen] Parsed %d files, %d assets (%d tokens, %s)",
			len(r.Candidate.Files), len(r.Candidate.Manifest.Assets), out.Usage.TokensUsed, out.Usage.Latency)
	case ParsedInvalid:
		log.Warnf("⚠️  [Codegen] Unparsable response: %s", r.Reason)
	default:
		return out, fmt.Errorf("unexpected parse result %T", r)
	}
	return out, nil
}
