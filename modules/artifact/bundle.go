package artifact

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
	"github.com/hashwanthgogineni/gamora-ai/modules/validator"
)

const (
	ManifestFile = "manifest.json"
	CoverFile    = "cover.webp"
)

var (
	// ErrNoContent - 프로젝트에 생성 코드가 없음
	ErrNoContent = errors.New("project has no generated content")
	// ErrUnsafePath - 빌드 루트 밖을 가리키는 파일 경로
	ErrUnsafePath = errors.New("unsafe bundle path")
)

// Bundle - 배포할 웹 빌드 파일 묶음
type Bundle struct {
	ProjectID    string
	Files        map[string][]byte
	Placeholders []string
}

// NewBundle - 생성 코드 + manifest.json + 누락 에셋 대체 파일 + 커버
func NewBundle(p *model.Project) (*Bundle, error) {
	if p.AIContent == nil || p.AIContent.Files[codegen.EntryFile] == "" {
		return nil, ErrNoContent
	}
	content := p.AIContent

	b := &Bundle{ProjectID: p.ID, Files: make(map[string][]byte, len(content.Files)+4)}
	for name, body := range content.Files {
		safe, ok := codegen.SafePath(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
		b.Files[safe] = []byte(body)
	}

	if _, ok := b.Files[ManifestFile]; !ok {
		manifest, err := json.MarshalIndent(content.Manifest, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode manifest: %w", err)
		}
		b.Files[ManifestFile] = manifest
	}

	needed := make([]string, 0, len(content.Manifest.Assets))
	for _, a := range content.Manifest.Assets {
		needed = append(needed, a.Path)
	}
	needed = append(needed, validator.AssetRefs(codegen.Candidate{Files: content.Files, Manifest: content.Manifest})...)

	for _, ref := range needed {
		assetPath, ok := codegen.SafePath(ref)
		if !ok {
			continue
		}
		if _, ok := b.Files[assetPath]; ok {
			continue
		}
		data, _, err := Placeholder(assetPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create placeholder for %s: %w", assetPath, err)
		}
		b.Files[assetPath] = data
		b.Placeholders = append(b.Placeholders, assetPath)
	}

	if _, ok := b.Files[CoverFile]; !ok {
		cover, err := Cover(p.Genre)
		if err != nil {
			return nil, fmt.Errorf("failed to create cover: %w", err)
		}
		b.Files[CoverFile] = cover
	}
	return b, nil
}

// Paths - 정렬된 파일 경로
func (b *Bundle) Paths() []string {
	paths := make([]string, 0, len(b.Files))
	for p := range b.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Zip - 경로 순서대로 deflate 압축
func (b *Bundle) Zip() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range b.Paths() {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: p, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to zip: %w", p, err)
		}
		if _, err := w.Write(b.Files[p]); err != nil {
			return nil, fmt.Errorf("failed to write %s to zip: %w", p, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDir - 로컬 작업 디렉토리에 전개
func (b *Bundle) WriteDir(dir string) error {
	for _, p := range b.Paths() {
		if _, ok := codegen.SafePath(p); !ok {
			return fmt.Errorf("%w: %q", ErrUnsafePath, p)
		}
		target := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, b.Files[p], 0o644); err != nil {
			return err
		}
	}
	return nil
}

// ContentType - 업로드용 content-type
func ContentType(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
