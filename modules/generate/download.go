package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/artifact"
	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/database"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/storage"
)

// HandleDownload - GET /api/v1/generate/download/{project_id} (web 빌드 zip)
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	project, ok := h.ownedProject(w, r)
	if !ok {
		return
	}
	log := logrus.WithField("project_id", project.ID)

	builds, err := h.Gateway.ListBuilds(r.Context(), project.ID)
	if err != nil {
		log.Errorf("❌ Failed to list builds: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load builds")
		return
	}
	build := readyBuild(builds)
	if project.Status != model.StatusCompleted || build == nil {
		writeError(w, http.StatusConflict, "Build is not ready")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	data, err := h.Store.Download(ctx, *build.StoragePath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(w, http.StatusNotFound, "Build file not found")
		return
	}
	if err != nil {
		log.Errorf("❌ Failed to download build: %v", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch build")
		return
	}

	log.Infof("📦 Serving build download (%d bytes)", len(data))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, downloadName(project)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// readyBuild - 가장 최근 ready 빌드
func readyBuild(builds []model.Build) *model.Build {
	for i := len(builds) - 1; i >= 0; i-- {
		b := builds[i]
		if b.Status == model.BuildReady && b.StoragePath != nil {
			return &b
		}
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// downloadName - 제목 기반 파일명, 없으면 project id
func downloadName(p *model.Project) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(p.Title), "-"), "-")
	if slug == "" {
		return p.ID
	}
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	return slug
}

var headOpen = regexp.MustCompile(`(?i)<head[^>]*>`)

// HandlePreview - GET /api/v1/generate/preview/{project_id} (업로드된 index.html 프록시)
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]
	log := logrus.WithField("project_id", projectID)

	project, err := h.Gateway.GetProject(r.Context(), projectID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		log.Errorf("❌ Failed to load project: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load project")
		return
	}
	if project.Status != model.StatusCompleted {
		writeError(w, http.StatusConflict, "Game is not ready")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	page, err := h.Store.Download(ctx, artifact.WebPath(projectID, codegen.EntryFile))
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(w, http.StatusNotFound, "Preview not found")
		return
	}
	if err != nil {
		log.Errorf("❌ Failed to fetch preview: %v", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch preview")
		return
	}

	base := h.Store.PublicURL(artifact.WebPath(projectID, ""))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(withBase(page, base))
}

// withBase - 상대 경로 스크립트/에셋이 스토리지에서 로드되도록 <base> 삽입
func withBase(page []byte, baseURL string) []byte {
	tag := []byte(fmt.Sprintf(`<base href="%s">`, baseURL))
	if loc := headOpen.FindIndex(page); loc != nil {
		out := make([]byte, 0, len(page)+len(tag))
		out = append(out, page[:loc[1]]...)
		out = append(out, tag...)
		return append(out, page[loc[1]:]...)
	}
	return append(append(tag, '\n'), bytes.TrimLeft(page, "\n")...)
}
