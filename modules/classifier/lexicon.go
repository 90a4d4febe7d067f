package classifier

import (
	"regexp"
	"strings"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

// Genre - 장르 레지스트리 항목
type Genre struct {
	Name     string
	Keywords []string
	// EntryPoints - 생성 코드에 반드시 있어야 하는 식별자 (대안은 | 로 구분)
	EntryPoints []string
}

// DefaultGenre - 매칭 실패 시 장르
const DefaultGenre = "arcade"

// 순서가 우선순위 (앞쪽이 먼저 매칭)
var genres = []Genre{
	{Name: "runner", Keywords: []string{"endless runner", "runner", "temple run", "subway surfer"}, EntryPoints: []string{"jump|dodge|lane"}},
	{Name: "platformer", Keywords: []string{"platformer", "platform", "mario", "side-scroll", "side scroll", "jump"}, EntryPoints: []string{"jump"}},
	{Name: "shooter", Keywords: []string{"shooter", "shoot", "space invaders", "bullet", "fps", "first-person", "first person"}, EntryPoints: []string{"shoot|fire|bullet"}},
	{Name: "racing", Keywords: []string{"racing", "race", "car", "driving", "kart"}, EntryPoints: []string{"speed|accelerat"}},
	{Name: "breakout", Keywords: []string{"breakout", "brick", "pong", "paddle"}, EntryPoints: []string{"paddle"}},
	{Name: "snake", Keywords: []string{"snake"}, EntryPoints: []string{"snake"}},
	{Name: "puzzle", Keywords: []string{"puzzle", "match-3", "match 3", "tetris", "sudoku", "sliding"}},
	{Name: "adventure", Keywords: []string{"adventure", "explore", "exploration", "rpg", "dungeon", "quest", "open world", "open-world"}},
	{Name: DefaultGenre, Keywords: []string{"arcade", "retro", "classic"}},
}

// LookupGenre - 이름으로 장르 조회 (대소문자 무시)
func LookupGenre(name string) (Genre, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, g := range genres {
		if g.Name == name {
			return g, true
		}
	}
	return Genre{}, false
}

var genrePatterns = compileGenrePatterns()

func compileGenrePatterns() [][]*regexp.Regexp {
	out := make([][]*regexp.Regexp, len(genres))
	for i, g := range genres {
		for _, kw := range g.Keywords {
			out[i] = append(out[i], regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`(s|es|ing|er|ers|ed)?\b`))
		}
	}
	return out
}

var entryPatterns = compileEntryPatterns()

func compileEntryPatterns() map[string][]*regexp.Regexp {
	out := make(map[string][]*regexp.Regexp, len(genres))
	for _, g := range genres {
		for _, ep := range g.EntryPoints {
			out[g.Name] = append(out[g.Name], regexp.MustCompile(`(?i)(?:`+ep+`)`))
		}
	}
	return out
}

// EntryPatterns - EntryPoints 순서대로 컴파일된 패턴 (대소문자 무시)
func (g Genre) EntryPatterns() []*regexp.Regexp {
	return entryPatterns[g.Name]
}

// matchGenre - 텍스트에 포함된 키워드(단어 단위, 복수형/진행형 허용)로 장르 추정
func matchGenre(text string) (Genre, bool) {
	for i, g := range genres {
		for _, re := range genrePatterns[i] {
			if re.MatchString(text) {
				return g, true
			}
		}
	}
	return Genre{}, false
}

var (
	threeDKeywords = []string{
		"3d", "3-d", "three-dimensional", "three dimensional", "3 dimensional", "3-dimensional",
		"third dimension", "isometric", "perspective", "depth", "z-axis", "z axis", "camera",
		"webgl", "three.js", "babylon", "unity", "unreal",
	}
	twoDKeywords = []string{
		"2d", "2-d", "two-dimensional", "two dimensional", "2 dimensional", "2-dimensional",
		"side-scrolling", "side scrolling", "side-scroller", "platformer", "pixel art", "sprite",
		"canvas", "flat",
	}
	threeDGenres = []string{
		"first-person", "first person", "fps", "third-person", "third person", "tps",
		"open world", "open-world", "sandbox", "simulation", "driving", "racing 3d",
		"flight simulator", "vr", "virtual reality",
	}
	twoDGenres = []string{
		"platformer", "puzzle", "match-3", "match 3", "endless runner", "side-scroller",
		"retro", "pixel", "arcade", "classic",
	}

	explicit3D = regexp.MustCompile(`\b3d\b|\b3-d\b|three.dimensional`)
	explicit2D = regexp.MustCompile(`\b2d\b|\b2-d\b|two.dimensional`)
)

// detectDimension - 키워드 점수 기반 2d/3d 판별 (동점이면 2d)
func detectDimension(prompt string) (model.Dimension, int, int) {
	lower := strings.ToLower(prompt)
	three, two := 0, 0

	for _, kw := range threeDKeywords {
		if strings.Contains(lower, kw) {
			three += 2
		}
	}
	for _, g := range threeDGenres {
		if strings.Contains(lower, g) {
			three++
		}
	}
	for _, kw := range twoDKeywords {
		if strings.Contains(lower, kw) {
			two += 2
		}
	}
	for _, g := range twoDGenres {
		if strings.Contains(lower, g) {
			two++
		}
	}
	if explicit3D.MatchString(lower) {
		three += 5
	}
	if explicit2D.MatchString(lower) {
		two += 5
	}

	if three > two {
		return model.Dimension3D, three, two
	}
	return model.Dimension2D, three, two
}

// NormalizeDimension - "2", "3D", "three" 등을 2d/3d 로. 4D 이상은 3d
func NormalizeDimension(raw string) (model.Dimension, bool) {
	d := strings.ToUpper(strings.TrimSpace(raw))
	switch d {
	case "2", "2D", "TWO", "TWO-D", "TWO-DIMENSIONAL":
		return model.Dimension2D, true
	case "3", "3D", "THREE", "THREE-D", "THREE-DIMENSIONAL":
		return model.Dimension3D, true
	}
	if d != "" && strings.ContainsAny(d, "456789") {
		return model.Dimension3D, true
	}
	return "", false
}

// TemplateSeed - 런타임 템플릿 식별자 (canvas-platformer, three-runner ...)
func TemplateSeed(dim model.Dimension, genre string) string {
	if dim == model.Dimension3D {
		return "three-" + genre
	}
	return "canvas-" + genre
}
