package validator

import (
	"regexp"
	"strings"

	"github.com/hashwanthgogineni/gamora-ai/modules/classifier"
	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

var (
	createCanvasPattern = regexp.MustCompile(`createElement\s*\(\s*['"]canvas['"]\s*\)`)
	getContextPattern   = regexp.MustCompile(`\.getContext\s*\(`)
	rafPattern          = regexp.MustCompile(`requestAnimationFrame\s*\(`)
	animationLoop       = regexp.MustCompile(`(requestAnimationFrame|setAnimationLoop)\s*\(`)
	threeImportPattern  = regexp.MustCompile(`(?:from\s*|import\s*\(\s*)['"][^'"]*three[^'"]*['"]`)
	scenePattern        = regexp.MustCompile(`new\s+(?:THREE\.)?Scene\s*\(`)
	rendererPattern     = regexp.MustCompile(`new\s+(?:THREE\.)?WebGLRenderer\s*\(`)
)

// joinScripts - 진입점 검사용 JS 코드 전체
func joinScripts(scripts []script) string {
	var b strings.Builder
	for _, s := range scripts {
		b.WriteString(s.body)
		b.WriteString("\n")
	}
	return b.String()
}

// checkEntryPoints - 차원별 필수 구조 + 장르별 필수 메커닉
func checkEntryPoints(c codegen.Candidate, doc *document, dim model.Dimension, genre string) []Issue {
	code := joinScripts(doc.scripts(c))
	var issues []Issue

	if dim == model.Dimension3D {
		if !loadsThree(doc, code) {
			issues = append(issues, fatal("entry.three", "3D game does not load Three.js"))
		}
		if !scenePattern.MatchString(code) {
			issues = append(issues, fatal("entry.scene", "3D game never creates a THREE.Scene"))
		}
		if !rendererPattern.MatchString(code) {
			issues = append(issues, fatal("entry.renderer", "3D game never creates a WebGLRenderer"))
		}
		if !animationLoop.MatchString(code) {
			issues = append(issues, fatal("entry.loop", "3D game has no render loop (requestAnimationFrame or setAnimationLoop)"))
		}
	} else {
		if !doc.hasCanvas && !createCanvasPattern.MatchString(code) {
			issues = append(issues, fatal("entry.canvas", "2D game has no <canvas> element"))
		}
		if !getContextPattern.MatchString(code) {
			issues = append(issues, fatal("entry.context", "2D game never calls canvas.getContext"))
		}
		if !rafPattern.MatchString(code) {
			issues = append(issues, fatal("entry.loop", "2D game has no requestAnimationFrame loop"))
		}
	}

	if g, ok := classifier.LookupGenre(genre); ok {
		for i, re := range g.EntryPatterns() {
			if !re.MatchString(code) {
				issues = append(issues, fatal("entry.genre", "%s game must implement a %q mechanic but none was found",
					g.Name, strings.Split(g.EntryPoints[i], "|")[0]))
			}
		}
	}
	return issues
}

func loadsThree(doc *document, code string) bool {
	for _, src := range doc.scriptSrcs {
		if strings.Contains(strings.ToLower(src), "three") {
			return true
		}
	}
	for _, m := range doc.importMaps {
		if strings.Contains(strings.ToLower(m), "three") {
			return true
		}
	}
	return threeImportPattern.MatchString(code)
}
