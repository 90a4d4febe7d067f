package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/gemini"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

// InvalidPromptError - 비어있거나 너무 긴 프롬프트 (AI 호출 전에 거절)
type InvalidPromptError struct {
	Reason string
}

func (e *InvalidPromptError) Error() string {
	return "invalid prompt: " + e.Reason
}

// Source - 분류 결과 출처
const (
	SourceAI        = "ai"
	SourceHeuristic = "heuristic"
)

// Usage - classifier 로그 row 용 사용량
type Usage struct {
	Model      string
	TokensUsed int
	Latency    time.Duration
}

// Result - 분류 결과
type Result struct {
	Dimension      model.Dimension `json:"dimension"`
	Genre          string          `json:"genre"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	TemplateSeed   string          `json:"template_seed"`
	Source         string          `json:"source"`
	FallbackReason string          `json:"fallback_reason,omitempty"`
	Usage          Usage           `json:"-"`
}

// Classifier - 프롬프트 → 차원/장르/제목 분류기
type Classifier struct {
	completer gemini.Completer
	model     string
	maxLen    int
}

// New - Classifier 생성. completer 가 nil 이면 휴리스틱만 사용
func New(completer gemini.Completer, modelName string, maxPromptLength int) *Classifier {
	if maxPromptLength <= 0 {
		maxPromptLength = 2000
	}
	return &Classifier{completer: completer, model: modelName, maxLen: maxPromptLength}
}

// ValidatePrompt - trim 후 빈 값/길이 검증
func (c *Classifier) ValidatePrompt(prompt string) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", &InvalidPromptError{Reason: "prompt is required"}
	}
	if n := utf8.RuneCountInString(trimmed); n > c.maxLen {
		return "", &InvalidPromptError{Reason: fmt.Sprintf("prompt must be %d characters or less (got %d)", c.maxLen, n)}
	}
	return trimmed, nil
}

const systemPrompt = `You classify short game ideas for a browser game generator.
Respond with a single JSON object and nothing else:
{"dimension": "2d" | "3d", "genre": string, "title": string, "description": string}
- dimension: "3d" only when the idea needs a 3D scene (first person, 3D camera, open world); otherwise "2d".
- genre: one of platformer, runner, shooter, racing, breakout, snake, puzzle, adventure, arcade.
- title: a catchy game title, at most 6 words.
- description: one sentence describing the gameplay.`

type aiClassification struct {
	Dimension   string `json:"dimension"`
	Genre       string `json:"genre"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Classify - 단일 AI 호출로 분류, 실패하면 키워드 휴리스틱으로 대체 (생성을 막지 않음)
func (c *Classifier) Classify(ctx context.Context, prompt string) (Result, error) {
	trimmed, err := c.ValidatePrompt(prompt)
	if err != nil {
		return Result{}, err
	}

	if c.completer == nil {
		return Heuristic(trimmed, "no ai client configured"), nil
	}

	resp, err := c.completer.Complete(ctx, gemini.Request{
		Model:       c.model,
		System:      systemPrompt,
		Prompt:      trimmed,
		Temperature: 0.2,
		JSON:        true,
	})
	usage := Usage{Model: resp.Model, TokensUsed: resp.TokensUsed, Latency: resp.Latency}
	if err != nil {
		logrus.Warnf("⚠️  [Classifier] AI call failed, using heuristic: %v", err)
		res := Heuristic(trimmed, err.Error())
		res.Usage = usage
		return res, nil
	}

	res, reason := parseClassification(resp.Text, trimmed)
	res.Usage = usage
	if reason != "" {
		logrus.Warnf("⚠️  [Classifier] %s, using heuristic", reason)
	}
	return res, nil
}

// parseClassification - 스키마 검증. 실패 사유가 있으면 휴리스틱 결과 반환
func parseClassification(text, prompt string) (Result, string) {
	var raw aiClassification
	if err := json.Unmarshal([]byte(gemini.StripCodeFences(text)), &raw); err != nil {
		reason := "classification response is not valid JSON"
		return Heuristic(prompt, reason), reason
	}

	dim, ok := NormalizeDimension(raw.Dimension)
	if !ok {
		reason := fmt.Sprintf("classification has invalid dimension %q", raw.Dimension)
		return Heuristic(prompt, reason), reason
	}

	genre, ok := LookupGenre(raw.Genre)
	if !ok {
		// 레지스트리에 없는 장르명은 키워드로 매핑
		if g, matched := matchGenre(raw.Genre); matched {
			genre = g
		} else {
			genre = heuristicGenre(prompt)
		}
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = heuristicTitle(prompt)
	}
	description := strings.TrimSpace(raw.Description)
	if description == "" {
		description = truncate(prompt, 200)
	}

	return Result{
		Dimension:    dim,
		Genre:        genre.Name,
		Title:        truncate(title, 80),
		Description:  description,
		TemplateSeed: TemplateSeed(dim, genre.Name),
		Source:       SourceAI,
	}, ""
}

// Heuristic - 키워드 기반 결정적 분류
func Heuristic(prompt, reason string) Result {
	dim, threeScore, twoScore := detectDimension(prompt)
	genre := heuristicGenre(prompt)
	logrus.Debugf("🔍 [Classifier] Heuristic: %s (3D: %d, 2D: %d), genre: %s", dim, threeScore, twoScore, genre.Name)

	return Result{
		Dimension:      dim,
		Genre:          genre.Name,
		Title:          heuristicTitle(prompt),
		Description:    truncate(prompt, 200),
		TemplateSeed:   TemplateSeed(dim, genre.Name),
		Source:         SourceHeuristic,
		FallbackReason: reason,
	}
}

func heuristicGenre(prompt string) Genre {
	if g, ok := matchGenre(prompt); ok {
		return g
	}
	g, _ := LookupGenre(DefaultGenre)
	return g
}

var titleStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "make": true, "create": true, "build": true,
	"me": true, "please": true, "game": true, "simple": true,
}

// heuristicTitle - 프롬프트 앞부분 단어로 제목 생성
func heuristicTitle(prompt string) string {
	var words []string
	for _, w := range strings.Fields(prompt) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if w == "" || (len(words) == 0 && titleStopWords[strings.ToLower(w)]) {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words = append(words, string(unicode.ToUpper(r))+w[size:])
		if len(words) == 5 {
			break
		}
	}
	if len(words) == 0 {
		return "Untitled Game"
	}
	return truncate(strings.Join(words, " "), 60)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
