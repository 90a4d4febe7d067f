package gemini

import "strings"

// StripCodeFences - ```json ... ``` 로 감싼 응답에서 본문만 추출
// 펜스가 없으면 trim 한 원문 그대로
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	// 언어 태그 (json, html, javascript ...) 제거
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if !strings.ContainsAny(tag, "{}<>;() ") {
			body = body[nl+1:]
		}
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
