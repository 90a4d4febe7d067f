package codegen

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/gemini"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

// EntryFile - 모든 후보가 반드시 가져야 하는 진입 파일
const EntryFile = "index.html"

const maxFiles = 24

// Candidate - 파싱 경계를 통과한 생성 코드
type Candidate struct {
	Files    map[string]string `json:"files"`
	Manifest model.Manifest    `json:"manifest"`
	Entities []string          `json:"entities,omitempty"`
}

// Entry - index.html 내용
func (c Candidate) Entry() string {
	return c.Files[EntryFile]
}

// Scripts - .js 파일들 (이름 → 내용)
func (c Candidate) Scripts() map[string]string {
	out := make(map[string]string)
	for name, body := range c.Files {
		if strings.HasSuffix(strings.ToLower(name), ".js") {
			out[name] = body
		}
	}
	return out
}

// ParseResult - ParsedOk | ParsedInvalid
type ParseResult interface {
	isParseResult()
}

// ParsedOk - 스키마를 만족하는 후보
type ParsedOk struct {
	Candidate Candidate
}

// ParsedInvalid - 스키마 위반 응답 (원문 + 사유)
type ParsedInvalid struct {
	Raw    string
	Reason string
}

func (ParsedOk) isParseResult()      {}
func (ParsedInvalid) isParseResult() {}

type wireResponse struct {
	Files    map[string]string `json:"files"`
	Manifest *model.Manifest   `json:"manifest"`
	Entities []string          `json:"entities"`
}

var (
	htmlDocPattern  = regexp.MustCompile(`(?is)(<!doctype html.*?</html>|<html.*?</html>)`)
	safeFilePattern = regexp.MustCompile(`^[A-Za-z0-9_\-][A-Za-z0-9_\-./]*$`)
)

// ParseResponse - 모델 원문 → ParsedOk / ParsedInvalid
// JSON 객체, 코드펜스 안의 JSON, 단일 HTML 문서를 허용
func ParseResponse(raw string) ParseResult {
	body := strings.TrimSpace(raw)
	if !strings.HasPrefix(body, "{") && !strings.HasPrefix(body, "<") {
		body = gemini.StripCodeFences(body)
	}
	if body == "" {
		return ParsedInvalid{Raw: raw, Reason: "empty response"}
	}

	if strings.HasPrefix(body, "{") {
		return parseJSON(raw, body)
	}

	if doc := htmlDocPattern.FindString(body); doc != "" {
		return ParsedOk{Candidate: Candidate{
			Files:    map[string]string{EntryFile: doc},
			Manifest: model.Manifest{Assets: []model.Asset{}},
		}}
	}
	return ParsedInvalid{Raw: raw, Reason: "response is neither a JSON object nor an HTML document"}
}

func parseJSON(raw, body string) ParseResult {
	var wire wireResponse
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&wire); err != nil {
		return ParsedInvalid{Raw: raw, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if len(wire.Files) == 0 {
		return ParsedInvalid{Raw: raw, Reason: "missing files object"}
	}
	if len(wire.Files) > maxFiles {
		return ParsedInvalid{Raw: raw, Reason: fmt.Sprintf("too many files (%d > %d)", len(wire.Files), maxFiles)}
	}

	files := make(map[string]string, len(wire.Files))
	for name, content := range wire.Files {
		clean, ok := SafePath(name)
		if !ok {
			return ParsedInvalid{Raw: raw, Reason: fmt.Sprintf("unsafe file name %q", name)}
		}
		files[clean] = content
	}
	if strings.TrimSpace(files[EntryFile]) == "" {
		return ParsedInvalid{Raw: raw, Reason: "missing " + EntryFile}
	}

	manifest := model.Manifest{Assets: []model.Asset{}}
	if wire.Manifest != nil {
		for _, a := range wire.Manifest.Assets {
			clean, ok := SafePath(a.Path)
			if !ok {
				continue
			}
			a.Path = clean
			if a.Kind == "" {
				a.Kind = guessKind(a.Path)
			}
			manifest.Assets = append(manifest.Assets, a)
		}
	}

	return ParsedOk{Candidate: Candidate{Files: files, Manifest: manifest, Entities: wire.Entities}}
}

// SafePath - 빌드 루트 안쪽의 상대 경로만 허용 (절대 경로, ".." 세그먼트 거부)
func SafePath(p string) (string, bool) {
	clean := path.Clean(strings.TrimPrefix(strings.TrimSpace(p), "./"))
	if !safeFilePattern.MatchString(clean) || strings.Contains(clean, "..") {
		return "", false
	}
	return clean, true
}

func guessKind(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg":
		return "image"
	case ".mp3", ".wav", ".ogg":
		return "audio"
	default:
		return "data"
	}
}
