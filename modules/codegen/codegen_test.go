package codegen

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashwanthgogineni/gamora-ai/modules/classifier"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/gemini"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

type recordingCompleter struct {
	requests []gemini.Request
	text     string
	err      error
}

func (r *recordingCompleter) Complete(_ context.Context, req gemini.Request) (gemini.Response, error) {
	r.requests = append(r.requests, req)
	return gemini.Response{Text: r.text, Model: req.Model, TokensUsed: 1200, Latency: 40 * time.Millisecond, Attempts: 1}, r.err
}

func platformerSpec() ContextSpec {
	return ContextSpec{
		ProjectID: "p1",
		Prompt:    "a simple platformer with coins",
		Attempt:   1,
		Classification: classifier.Result{
			Dimension: model.Dimension2D, Genre: "platformer", Title: "Coin Jumper",
			TemplateSeed: "canvas-platformer",
		},
	}
}

func TestGenerateParsesJSONCandidate(t *testing.T) {
	completer := &recordingCompleter{text: `{"files":{"index.html":"<!DOCTYPE html><html></html>","./game.js":"let x = 1;"},
		"manifest":{"assets":[{"path":"./assets/coin.png"}]},"entities":["player","coin"]}`}
	client := New(completer, "codegen-model", 0.7, 8192)

	out, err := client.Generate(context.Background(), platformerSpec())
	require.NoError(t, err)

	ok, isOk := out.Result.(ParsedOk)
	require.True(t, isOk, "got %T", out.Result)
	assert.Contains(t, ok.Candidate.Files, "game.js")
	assert.Equal(t, []model.Asset{{Path: "assets/coin.png", Kind: "image"}}, ok.Candidate.Manifest.Assets)
	assert.Equal(t, []string{"player", "coin"}, ok.Candidate.Entities)

	assert.Equal(t, "codegen-model", out.Usage.Model)
	assert.Equal(t, 1200, out.Usage.TokensUsed)

	require.Len(t, completer.requests, 1)
	req := completer.requests[0]
	assert.True(t, req.JSON)
	assert.Equal(t, int32(8192), req.MaxOutputTokens)
	assert.Contains(t, req.Prompt, "2D REQUIREMENTS")
	assert.Contains(t, req.Prompt, `"jump" mechanic`)
	assert.NotContains(t, req.Prompt, "REPAIR ATTEMPT")
}

func TestGenerateRepairPromptCarriesIssuesAndCode(t *testing.T) {
	completer := &recordingCompleter{text: "<!DOCTYPE html><html><body></body></html>"}
	client := New(completer, "m", 0.7, 0)

	spec := platformerSpec()
	spec.Attempt = 2
	spec.PriorCandidate = &Candidate{Files: map[string]string{"index.html": "<html>OLD CODE</html>"}}
	spec.Issues = []string{"[entry.genre] missing jump mechanic"}

	out, err := client.Generate(context.Background(), spec)
	require.NoError(t, err)
	assert.IsType(t, ParsedOk{}, out.Result)

	prompt := completer.requests[0].Prompt
	assert.Contains(t, prompt, "REPAIR ATTEMPT 2")
	assert.Contains(t, prompt, "missing jump mechanic")
	assert.Contains(t, prompt, "OLD CODE")
}

func TestGenerateMapsErrors(t *testing.T) {
	unavailable := &recordingCompleter{err: &gemini.UnavailableError{Attempts: 3, Err: errors.New("503")}}
	out, err := New(unavailable, "m", 0.7, 0).Generate(context.Background(), platformerSpec())
	var genErr *GenerationUnavailableError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "m", out.Usage.Model, "usage recorded on failure")
	assert.Equal(t, 40*time.Millisecond, out.Usage.Latency)

	rejected := &recordingCompleter{err: &gemini.RejectedError{Err: errors.New("400 API key not valid")}}
	_, err = New(rejected, "m", 0.7, 0).Generate(context.Background(), platformerSpec())
	var rejErr *GenerationRejectedError
	require.ErrorAs(t, err, &rejErr)
}

func TestParseResponse(t *testing.T) {
	t.Run("fenced json", func(t *testing.T) {
		res := ParseResponse("```json\n{\"files\":{\"index.html\":\"<html></html>\"}}\n```")
		ok, isOk := res.(ParsedOk)
		require.True(t, isOk)
		assert.NotNil(t, ok.Candidate.Manifest.Assets)
	})

	t.Run("bare html with chatter", func(t *testing.T) {
		res := ParseResponse("Sure! Here is your game:\n<!DOCTYPE html><html><body>hi</body></html>\nEnjoy.")
		ok, isOk := res.(ParsedOk)
		require.True(t, isOk)
		assert.True(t, strings.HasPrefix(ok.Candidate.Entry(), "<!DOCTYPE html>"))
		assert.True(t, strings.HasSuffix(ok.Candidate.Entry(), "</html>"))
	})

	invalid := map[string]string{
		"empty":           "   ",
		"prose":           "I cannot help with that.",
		"broken json":     `{"files": {"index.html": "<html>"`,
		"no files":        `{"manifest": {"assets": []}}`,
		"no entry":        `{"files": {"game.js": "let a;"}}`,
		"path traversal":  `{"files": {"index.html": "<html></html>", "../../etc/passwd": "x"}}`,
		"absolute path":   `{"files": {"index.html": "<html></html>", "/abs.js": "x"}}`,
		"blank entry":     `{"files": {"index.html": "   "}}`,
	}
	for name, raw := range invalid {
		t.Run(name, func(t *testing.T) {
			res := ParseResponse(raw)
			bad, isBad := res.(ParsedInvalid)
			require.True(t, isBad, "got %T", res)
			assert.NotEmpty(t, bad.Reason)
			assert.Equal(t, raw, bad.Raw)
		})
	}
}

func TestCandidateScripts(t *testing.T) {
	c := Candidate{Files: map[string]string{"index.html": "", "game.js": "a", "lib/physics.JS": "b", "style.css": ""}}
	assert.Len(t, c.Scripts(), 2)
}

func TestParseResponseDropsEscapingManifestPaths(t *testing.T) {
	raw := `{"files":{"index.html":"<html></html>"},"manifest":{"assets":[` +
		`{"path":"../../manifest-escape.png"},{"path":"/etc/cover.png"},{"path":"sprites/../../up.png"},` +
		`{"path":"./sprites/hero.png"},{"path":"  "}]}}`
	ok, isOk := ParseResponse(raw).(ParsedOk)
	require.True(t, isOk)
	assert.Equal(t, []model.Asset{{Path: "sprites/hero.png", Kind: "image"}}, ok.Candidate.Manifest.Assets)
}

func TestSafePath(t *testing.T) {
	for in, want := range map[string]string{
		"index.html":          "index.html",
		"./assets/coin.png":   "assets/coin.png",
		"js//game.js":         "js/game.js",
		"assets/./a/../b.png": "assets/b.png",
	} {
		got, ok := SafePath(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", ".", "..", "../x.png", "/abs.png", "a/../../x.png", `\x.png`, "a b.png"} {
		_, ok := SafePath(in)
		assert.False(t, ok, in)
	}
}
