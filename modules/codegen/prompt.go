package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashwanthgogineni/gamora-ai/modules/classifier"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

const systemPrompt = `You are an expert browser game developer. You write complete, playable, self-contained web games.
Respond with ONE JSON object and nothing else:
{
  "files": {"index.html": "<!DOCTYPE html>...", "game.js": "..."},
  "manifest": {"assets": [{"path": "assets/player.png", "kind": "image", "description": "player sprite"}]},
  "entities": ["player", "coin"]
}
Rules:
- "index.html" is required and is the entry point. Extra .js files are loaded with relative <script src>.
- Every asset path referenced in the code MUST be declared in manifest.assets. Prefer drawing shapes in code over image files.
- Games run offline: no fetch/XMLHttpRequest/WebSocket/EventSource/sendBeacon, no eval or new Function, no cookies.
- External scripts are allowed only from cdnjs.cloudflare.com, cdn.jsdelivr.net or unpkg.com.
- Guard every division and cap frame delta time; the game must never throw at runtime.`

func dimensionRequirements(dim model.Dimension) string {
	if dim == model.Dimension3D {
		return `3D REQUIREMENTS:
- Load Three.js from a CDN (<script src="https://cdn.jsdelivr.net/npm/three@0.160.0/build/three.min.js"></script>) or an ES module import.
- Create the scene with new THREE.Scene(), a PerspectiveCamera and a THREE.WebGLRenderer attached to the page.
- Drive the game loop with requestAnimationFrame or renderer.setAnimationLoop.
- Resize the renderer and camera on window resize.`
	}
	return `2D REQUIREMENTS:
- Use a <canvas> element and canvas.getContext('2d').
- Drive the game loop with requestAnimationFrame and a capped delta time.
- Resize the canvas on window resize.`
}

func genreRequirements(genre string) string {
	g, ok := classifier.LookupGenre(genre)
	if !ok || len(g.EntryPoints) == 0 {
		return ""
	}
	var lines []string
	for _, ep := range g.EntryPoints {
		lines = append(lines, fmt.Sprintf("- The code must implement a %q mechanic (a function or handler named with %s).",
			strings.Split(ep, "|")[0], strings.Join(strings.Split(ep, "|"), " or ")))
	}
	return "GENRE REQUIREMENTS (" + g.Name + "):\n" + strings.Join(lines, "\n")
}

// BuildPrompt - 최초 생성 / 수정 요청 프롬프트
func BuildPrompt(spec ContextSpec) string {
	var b strings.Builder
	c := spec.Classification

	fmt.Fprintf(&b, "USER REQUEST:\n%s\n\n", spec.Prompt)
	fmt.Fprintf(&b, "GAME PLAN:\n- Title: %s\n- Genre: %s\n- Dimension: %s\n- Template: %s\n- Summary: %s\n\n",
		c.Title, c.Genre, c.Dimension, c.TemplateSeed, c.Description)
	b.WriteString(dimensionRequirements(c.Dimension))
	b.WriteString("\n")
	if req := genreRequirements(c.Genre); req != "" {
		b.WriteString("\n" + req + "\n")
	}

	if !spec.IsRepair() {
		b.WriteString("\nGenerate the complete game now.")
		return b.String()
	}

	fmt.Fprintf(&b, "\nREPAIR ATTEMPT %d.\n", spec.Attempt)
	if len(spec.Issues) > 0 {
		b.WriteString("The previous version failed validation with these issues:\n")
		for _, issue := range spec.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	if spec.PriorError != "" {
		fmt.Fprintf(&b, "The previous generation call failed: %s\n", spec.PriorError)
	}
	if spec.PriorCandidate != nil {
		b.WriteString("\nPREVIOUS FILES:\n")
		names := make([]string, 0, len(spec.PriorCandidate.Files))
		for name := range spec.PriorCandidate.Files {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "=== %s ===\n%s\n", name, spec.PriorCandidate.Files[name])
		}
	}
	b.WriteString("\nFix every issue and return the complete corrected game in the same JSON format. Keep what already works.")
	return b.String()
}
