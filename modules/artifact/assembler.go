package artifact

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/storage"
)

// ZipPath - 빌드 zip 오브젝트 키
func ZipPath(projectID string) string {
	return "builds/" + projectID + "/game.zip"
}

// WebPath - 미리보기용 개별 파일 오브젝트 키
func WebPath(projectID, file string) string {
	return "builds/" + projectID + "/web/" + file
}

// Result - 업로드 결과
type Result struct {
	BuildURL      string
	WebPreviewURL string
	StoragePath   string
	FileSize      int64
	Placeholders  []string
}

// Assembler - 번들 생성 → 로컬 작업 디렉토리 → 스토리지 업로드
type Assembler struct {
	store   storage.Store
	workDir string
}

// NewAssembler - workDir 가 비어 있으면 로컬 전개 생략
func NewAssembler(store storage.Store, workDir string) *Assembler {
	return &Assembler{store: store, workDir: workDir}
}

// Assemble - 프로젝트의 ai_content 를 웹 빌드로 배포
func (a *Assembler) Assemble(ctx context.Context, p *model.Project) (Result, error) {
	log := logrus.WithFields(logrus.Fields{"project_id": p.ID, "step": model.StepAssemble})

	bundle, err := NewBundle(p)
	if err != nil {
		return Result{}, err
	}
	if len(bundle.Placeholders) > 0 {
		log.Infof("🖼️  Generated %d placeholder assets: %v", len(bundle.Placeholders), bundle.Placeholders)
	}

	if a.workDir != "" {
		dir := filepath.Join(a.workDir, p.ID)
		if err := bundle.WriteDir(dir); err != nil {
			log.Warnf("⚠️  Failed to write workspace %s: %v", dir, err)
		}
	}

	archive, err := bundle.Zip()
	if err != nil {
		return Result{}, err
	}

	zipKey := ZipPath(p.ID)
	buildURL, err := a.store.Upload(ctx, zipKey, archive, ContentType(zipKey))
	if err != nil {
		return Result{}, fmt.Errorf("failed to upload build: %w", err)
	}

	var previewURL string
	for _, file := range bundle.Paths() {
		url, err := a.store.Upload(ctx, WebPath(p.ID, file), bundle.Files[file], ContentType(file))
		if err != nil {
			return Result{}, fmt.Errorf("failed to upload preview file %s: %w", file, err)
		}
		if file == codegen.EntryFile {
			previewURL = url
		}
	}

	log.Infof("📦 Build uploaded: %d files, %d bytes", len(bundle.Files), len(archive))
	return Result{
		BuildURL:      buildURL,
		WebPreviewURL: previewURL,
		StoragePath:   zipKey,
		FileSize:      int64(len(archive)),
		Placeholders:  bundle.Placeholders,
	}, nil
}
