package validator

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
)

// document - index.html 에서 추출한 정보
type document struct {
	inlineScripts []string
	scriptSrcs    []string
	importMaps    []string
	refs          []string
	hasCanvas     bool
}

// script - 검증 대상 JS 코드 (이름은 이슈 메시지용)
type script struct {
	name string
	body string
}

// scripts - 인라인 스크립트 + .js 파일 (파일명 정렬)
func (d *document) scripts(c codegen.Candidate) []script {
	var out []script
	for i, body := range d.inlineScripts {
		out = append(out, script{name: codegen.EntryFile + " inline script #" + strconv.Itoa(i+1), body: body})
	}
	files := c.Scripts()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, script{name: name, body: files[name]})
	}
	return out
}

func isJSType(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "text/javascript", "application/javascript", "module":
		return true
	}
	return false
}

// parseDocument - 토크나이저로 index.html 을 훑으며 script / 참조 수집
func parseDocument(src string) (*document, []Issue) {
	doc := &document{}
	z := html.NewTokenizer(strings.NewReader(src))

	var (
		elements      int
		opens, closes int
		inScript      bool
		scriptType    string
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return doc, []Issue{fatal("syntax.html", "index.html could not be tokenized: %v", z.Err())}
			}
			if elements == 0 {
				return doc, []Issue{fatal("syntax.html", "index.html contains no HTML elements")}
			}
			if opens != closes {
				return doc, []Issue{fatal("syntax.script-tags", "index.html has %d <script> tags but %d </script> tags", opens, closes)}
			}
			return doc, nil

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			elements++
			switch tok.DataAtom {
			case atom.Script:
				opens++
				if tt == html.SelfClosingTagToken {
					closes++
				} else {
					inScript = true
				}
				scriptType = attr(tok, "type")
				if src := attr(tok, "src"); src != "" {
					doc.scriptSrcs = append(doc.scriptSrcs, src)
				}
			case atom.Canvas:
				doc.hasCanvas = true
			case atom.Link:
				if href := attr(tok, "href"); href != "" {
					doc.refs = append(doc.refs, href)
				}
			case atom.Video:
				if poster := attr(tok, "poster"); poster != "" {
					doc.refs = append(doc.refs, poster)
				}
				fallthrough
			default:
				if src := attr(tok, "src"); src != "" {
					doc.refs = append(doc.refs, src)
				}
			}

		case html.EndTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Script {
				closes++
				inScript = false
			}

		case html.TextToken:
			if !inScript {
				continue
			}
			body := string(z.Text())
			if strings.TrimSpace(body) == "" {
				continue
			}
			switch {
			case strings.EqualFold(strings.TrimSpace(scriptType), "importmap"):
				doc.importMaps = append(doc.importMaps, body)
			case isJSType(scriptType):
				doc.inlineScripts = append(doc.inlineScripts, body)
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// checkSyntax - HTML 토큰화 + 모든 스크립트 JS 파싱
func checkSyntax(c codegen.Candidate) (*document, []Issue) {
	doc, issues := parseDocument(c.Entry())
	if len(issues) > 0 {
		return doc, issues
	}
	for _, s := range doc.scripts(c) {
		if _, err := js.Parse(parse.NewInputString(s.body), js.Options{}); err != nil {
			msg := strings.SplitN(err.Error(), "\n", 2)[0]
			issues = append(issues, fatal("syntax.js", "%s: %s", s.name, msg))
		}
	}
	return doc, issues
}
