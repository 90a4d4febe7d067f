package validator

import (
	"fmt"
	"strings"

	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

// Severity - fatal 은 repair 를 강제, warning 은 기록만 하고 통과
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Issue - 검증 이슈 하나
type Issue struct {
	RuleID   string   `json:"rule_id"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s", i.RuleID, i.Message)
}

// Result - 검증 결과 (Issues 는 발견 순서)
type Result struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"issues"`
}

// Fatal - fatal 이슈만
func (r Result) Fatal() []Issue {
	return r.filter(SeverityFatal)
}

// Warnings - warning 이슈만
func (r Result) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

func (r Result) filter(sev Severity) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}

// Summary - 사용자에게 보여줄 한 줄 요약 (최대 5개)
func (r Result) Summary() string {
	fatal := r.Fatal()
	if len(fatal) == 0 {
		return ""
	}
	parts := make([]string, 0, 5)
	for i, issue := range fatal {
		if i == 5 {
			parts = append(parts, fmt.Sprintf("and %d more", len(fatal)-5))
			break
		}
		parts = append(parts, issue.Message)
	}
	return strings.Join(parts, "; ")
}

// Strings - repair 프롬프트용 문자열 목록
func Strings(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.String())
	}
	return out
}

// DefaultScriptHosts - 외부 스크립트 허용 CDN
var DefaultScriptHosts = []string{"cdnjs.cloudflare.com", "cdn.jsdelivr.net", "unpkg.com"}

// Options - 검증 옵션
type Options struct {
	Genre       string
	ScriptHosts []string
}

// Validate - 단계별 검증. 구문/진입점 단계에서 fatal 이 나오면 이후 단계는 건너뜀
func Validate(c codegen.Candidate, dim model.Dimension, opts Options) Result {
	if len(opts.ScriptHosts) == 0 {
		opts.ScriptHosts = DefaultScriptHosts
	}

	doc, issues := checkSyntax(c)
	if hasFatal(issues) {
		return newResult(issues)
	}

	issues = append(issues, checkEntryPoints(c, doc, dim, opts.Genre)...)
	if hasFatal(issues) {
		return newResult(issues)
	}

	issues = append(issues, checkReferences(c, doc)...)
	issues = append(issues, checkDisallowed(c, doc, opts.ScriptHosts)...)
	return newResult(issues)
}

// ValidateParsed - ParsedInvalid 는 스키마 이슈 하나로 실패 처리
func ValidateParsed(res codegen.ParseResult, dim model.Dimension, opts Options) Result {
	switch r := res.(type) {
	case codegen.ParsedOk:
		return Validate(r.Candidate, dim, opts)
	case codegen.ParsedInvalid:
		return newResult([]Issue{{RuleID: "response.schema", Message: "model response could not be parsed: " + r.Reason, Severity: SeverityFatal}})
	default:
		return newResult([]Issue{{RuleID: "response.schema", Message: "no candidate produced", Severity: SeverityFatal}})
	}
}

func newResult(issues []Issue) Result {
	if issues == nil {
		issues = []Issue{}
	}
	return Result{OK: !hasFatal(issues), Issues: issues}
}

func hasFatal(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

func fatal(rule, format string, args ...any) Issue {
	return Issue{RuleID: rule, Message: fmt.Sprintf(format, args...), Severity: SeverityFatal}
}

func warning(rule, format string, args ...any) Issue {
	return Issue{RuleID: rule, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}
