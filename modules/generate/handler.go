package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/auth"
	"github.com/hashwanthgogineni/gamora-ai/modules/classifier"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/database"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/metrics"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
	redisClient "github.com/hashwanthgogineni/gamora-ai/modules/common/redis"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/storage"
	"github.com/hashwanthgogineni/gamora-ai/modules/progress"
	"github.com/hashwanthgogineni/gamora-ai/modules/worker"
)

// Submitter - 프로젝트 생성 + 큐 등록 실패 시 정리 (pipeline.Pipeline)
type Submitter interface {
	Submit(ctx context.Context, userID, prompt string) (*model.Project, error)
	Abandon(ctx context.Context, projectID, reason string) error
}

// Deps - Handler 의존성
type Deps struct {
	Pipeline       Submitter
	Gateway        database.Gateway
	Store          storage.Store
	Hub            *progress.Hub
	Redis          *redis.Client
	Queue          string
	Limiter        *redisClient.RateLimiter // nil 이면 제한 없음
	Cache          *redisClient.StatusCache // nil 이면 스냅샷 생략
	Auth           *auth.Verifier
	AllowedOrigins []string
}

// Handler - 게임 생성 HTTP / WebSocket API
type Handler struct {
	Deps
	metrics *metrics.Metrics
}

// NewHandler - Handler 생성
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps, metrics: metrics.Default}
}

// GenerateRequest - POST /api/v1/generate/game
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse - 생성 요청 응답
type GenerateResponse struct {
	ProjectID    string              `json:"project_id"`
	Status       model.ProjectStatus `json:"status"`
	Message      string              `json:"message"`
	WebsocketURL string              `json:"websocket_url"`
}

// ProjectResponse - 프로젝트 + 빌드 + 마지막 진행 상태
type ProjectResponse struct {
	*model.Project
	Builds   []model.Build         `json:"builds"`
	Progress *redisClient.Snapshot `json:"progress,omitempty"`
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Handle("/generate/game", h.protect(h.HandleGenerate)).Methods("POST", "OPTIONS")
	api.Handle("/generate/ws/{project_id}", h.protect(h.HandleWebSocket)).Methods("GET")
	api.Handle("/generate/download/{project_id}", h.protect(h.HandleDownload)).Methods("GET", "OPTIONS")
	api.HandleFunc("/generate/preview/{project_id}", h.HandlePreview).Methods("GET")
	api.Handle("/projects", h.protect(h.HandleListProjects)).Methods("GET", "OPTIONS")
	api.Handle("/projects/{project_id}", h.protect(h.HandleGetProject)).Methods("GET", "OPTIONS")
	api.Handle("/projects/{project_id}/logs", h.protect(h.HandleLogs)).Methods("GET", "OPTIONS")
	logrus.Info("✅ Generate routes registered: /api/v1/generate/*, /api/v1/projects/*")
}

func (h *Handler) protect(fn http.HandlerFunc) http.Handler {
	return h.Auth.Middleware(fn)
}

// HandleGenerate - POST /api/v1/generate/game
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	userID, _ := auth.UserID(r.Context())

	var req GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if h.Limiter != nil {
		res, err := h.Limiter.Allow(r.Context(), "generate:"+userID)
		switch {
		case err != nil:
			logrus.Warnf("⚠️  [Generate] Rate limiter unavailable, allowing request: %v", err)
		case !res.Allowed:
			h.metrics.RateLimited.Add(1)
			if res.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			}
			writeError(w, http.StatusTooManyRequests, "Generation limit reached, try again later")
			return
		}
	}

	project, err := h.Pipeline.Submit(r.Context(), userID, req.Prompt)
	if err != nil {
		var invalid *classifier.InvalidPromptError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Reason)
			return
		}
		logrus.Errorf("❌ [Generate] Submit failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	if _, err := worker.Enqueue(r.Context(), h.Redis, h.Queue, project.ID); err != nil {
		logrus.WithField("project_id", project.ID).Errorf("❌ [Generate] %v", err)
		if abandonErr := h.Pipeline.Abandon(context.WithoutCancel(r.Context()), project.ID, "failed to queue generation"); abandonErr != nil {
			logrus.WithField("project_id", project.ID).Warnf("⚠️  Failed to mark project failed: %v", abandonErr)
		}
		writeError(w, http.StatusServiceUnavailable, "Generation queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, GenerateResponse{
		ProjectID:    project.ID,
		Status:       project.Status,
		Message:      "Game generation started",
		WebsocketURL: websocketURL(r, project.ID),
	})
}

// websocketURL - 요청 호스트 기준 ws(s):// 주소
func websocketURL(r *http.Request, projectID string) string {
	scheme := "ws"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/api/v1/generate/ws/%s", scheme, r.Host, projectID)
}

// HandleGetProject - GET /api/v1/projects/{project_id}
func (h *Handler) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	builds, err := h.Gateway.ListBuilds(r.Context(), project.ID)
	if err != nil {
		logrus.WithField("project_id", project.ID).Errorf("❌ Failed to list builds: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load builds")
		return
	}
	if builds == nil {
		builds = []model.Build{}
	}

	resp := ProjectResponse{Project: project, Builds: builds}
	if h.Cache != nil && !project.Status.IsTerminal() {
		snapshot, err := h.Cache.Get(r.Context(), project.ID)
		if err != nil {
			logrus.WithField("project_id", project.ID).Debugf("⚠️  Cached status unavailable: %v", err)
		}
		resp.Progress = snapshot
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListProjects - GET /api/v1/projects?limit=&offset=
func (h *Handler) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	projects, err := h.Gateway.ListProjects(r.Context(), userID, limit, offset)
	if err != nil {
		logrus.Errorf("❌ Failed to list projects for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to list projects")
		return
	}
	// 목록에서는 생성 코드 제외
	for i := range projects {
		projects[i].AIContent = nil
	}
	if projects == nil {
		projects = []model.Project{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
		"limit":    limit,
		"offset":   offset,
	})
}

// HandleLogs - GET /api/v1/projects/{project_id}/logs
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	project, ok := h.ownedProject(w, r)
	if !ok {
		return
	}
	logs, err := h.Gateway.ListLogs(r.Context(), project.ID)
	if err != nil {
		logrus.WithField("project_id", project.ID).Errorf("❌ Failed to list logs: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load logs")
		return
	}
	if logs == nil {
		logs = []model.GenerationLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": project.ID,
		"logs":       logs,
	})
}

// ownedProject - project_id 조회 + 소유자 확인. 실패 시 응답까지 작성
func (h *Handler) ownedProject(w http.ResponseWriter, r *http.Request) (*model.Project, bool) {
	projectID := mux.Vars(r)["project_id"]
	project, err := h.Gateway.GetProject(r.Context(), projectID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found")
		return nil, false
	}
	if err != nil {
		logrus.WithField("project_id", projectID).Errorf("❌ Failed to load project: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load project")
		return nil, false
	}

	userID, _ := auth.UserID(r.Context())
	if !h.owns(project, userID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return nil, false
	}
	return project, true
}

// owns - 인증이 꺼져 있으면 소유자 확인 생략
func (h *Handler) owns(project *model.Project, userID string) bool {
	if !h.Auth.Required() {
		return true
	}
	return project.UserID == userID
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debugf("⚠️  Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requestTimeout - 다운로드/미리보기 스토리지 호출 제한
const requestTimeout = 30 * time.Second
