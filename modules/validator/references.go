package validator

import (
	"path"
	"regexp"
	"strings"

	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
)

var assetLiteralPattern = regexp.MustCompile("(?i)['\"`]((?:\\./)?[A-Za-z0-9_\\-][A-Za-z0-9_\\-/.]*\\.(?:png|jpe?g|gif|webp|svg|mp3|wav|ogg|m4a|json))['\"`]")

// isExternal - 검사 대상이 아닌 참조 (절대 URL, data/blob, 앵커)
func isExternal(ref string) bool {
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"http://", "https://", "//", "data:", "blob:", "#", "mailto:", "javascript:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func normalizeRef(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return strings.TrimPrefix(path.Clean(strings.TrimPrefix(ref, "./")), "/")
}

// escapesRoot - 정규화 후에도 빌드 루트 위로 올라가는 참조
func escapesRoot(ref string) bool {
	return ref == ".." || strings.HasPrefix(ref, "../")
}

// AssetRefs - 코드가 참조하는 로컬 에셋 경로 (중복 제거, 발견 순서)
// 빌드 루트 밖이거나 안전하지 않은 경로는 제외
func AssetRefs(c codegen.Candidate) []string {
	doc, _ := parseDocument(c.Entry())
	var out []string
	for _, ref := range assetRefs(c, doc) {
		if safe, ok := codegen.SafePath(ref); ok {
			out = append(out, safe)
		}
	}
	return out
}

func assetRefs(c codegen.Candidate, doc *document) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ref string) {
		if ref == "" || isExternal(ref) {
			return
		}
		n := normalizeRef(ref)
		if n == "." || n == "" || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}
	for _, ref := range doc.refs {
		add(ref)
	}
	for _, s := range doc.scripts(c) {
		for _, m := range assetLiteralPattern.FindAllStringSubmatch(s.body, -1) {
			add(m[1])
		}
	}
	return out
}

// checkReferences - 로컬 script 누락과 루트 밖 에셋은 fatal, 매니페스트에 없는 에셋은 warning
func checkReferences(c codegen.Candidate, doc *document) []Issue {
	var issues []Issue
	for _, src := range doc.scriptSrcs {
		if isExternal(src) {
			continue
		}
		if _, ok := c.Files[normalizeRef(src)]; !ok {
			issues = append(issues, fatal("reference.script", "script src %q is not among the generated files", src))
		}
	}

	for _, ref := range assetRefs(c, doc) {
		if escapesRoot(ref) {
			issues = append(issues, fatal("asset.path", "asset %q points outside the game directory", ref))
			continue
		}
		if _, ok := c.Files[ref]; ok {
			continue
		}
		if c.Manifest.Has(ref) {
			continue
		}
		issues = append(issues, warning("asset.missing", "asset %q is referenced but not declared in the manifest", ref))
	}
	return issues
}
