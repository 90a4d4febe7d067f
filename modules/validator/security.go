package validator

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
)

type disallowedRule struct {
	id      string
	pattern *regexp.Regexp
	message string
}

var disallowedRules = []disallowedRule{
	{"security.xhr", regexp.MustCompile(`\bXMLHttpRequest\b`), "XMLHttpRequest is not allowed"},
	{"security.websocket", regexp.MustCompile(`new\s+WebSocket\s*\(`), "WebSocket connections are not allowed"},
	{"security.eventsource", regexp.MustCompile(`new\s+EventSource\s*\(`), "EventSource connections are not allowed"},
	{"security.beacon", regexp.MustCompile(`\bsendBeacon\s*\(`), "navigator.sendBeacon is not allowed"},
	{"security.fetch", regexp.MustCompile("\\bfetch\\s*\\(\\s*['\"`](?:https?:)?//"), "fetch to a remote URL is not allowed"},
	{"security.eval", regexp.MustCompile(`(?:^|[^.\w])eval\s*\(`), "eval() is not allowed"},
	{"security.function", regexp.MustCompile(`new\s+Function\s*\(`), "new Function() is not allowed"},
	{"security.cookie", regexp.MustCompile(`document\.cookie\b`), "document.cookie access is not allowed"},
}

var (
	moduleImportURL = regexp.MustCompile(`(?:from\s*|import\s*\(\s*)['"]((?:https?:)?//[^'"]+)['"]`)
	importMapURL    = regexp.MustCompile(`['"]((?:https?:)?//[^'"]+)['"]`)
)

// checkDisallowed - 네트워크/동적 실행/쿠키 + 허용 목록 밖의 외부 스크립트
func checkDisallowed(c codegen.Candidate, doc *document, hosts []string) []Issue {
	var issues []Issue
	code := c.Entry() + "\n" + joinScripts(doc.scripts(c))

	for _, rule := range disallowedRules {
		if rule.pattern.MatchString(code) {
			issues = append(issues, fatal(rule.id, "%s", rule.message))
		}
	}

	var external []string
	for _, src := range doc.scriptSrcs {
		if isExternal(src) {
			external = append(external, src)
		}
	}
	for _, m := range moduleImportURL.FindAllStringSubmatch(code, -1) {
		external = append(external, m[1])
	}
	for _, im := range doc.importMaps {
		for _, m := range importMapURL.FindAllStringSubmatch(im, -1) {
			external = append(external, m[1])
		}
	}

	seen := make(map[string]bool)
	for _, src := range external {
		if seen[src] {
			continue
		}
		seen[src] = true
		if !allowedHost(src, hosts) {
			issues = append(issues, fatal("security.script-host", "external script %q is outside the allowed CDNs (%s)",
				src, strings.Join(hosts, ", ")))
		}
	}
	return issues
}

func allowedHost(src string, hosts []string) bool {
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	u, err := url.Parse(src)
	if err != nil || u.Scheme != "https" {
		return false
	}
	for _, h := range hosts {
		if strings.EqualFold(u.Hostname(), h) {
			return true
		}
	}
	return false
}
