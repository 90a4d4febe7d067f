package model

import "time"

// ProjectStatus - projects.status
type ProjectStatus string

const (
	StatusGenerating ProjectStatus = "generating"
	StatusValidating ProjectStatus = "validating"
	StatusRepairing  ProjectStatus = "repairing"
	StatusCompleted  ProjectStatus = "completed"
	StatusFailed     ProjectStatus = "failed"
)

// IsTerminal - completed / failed 이후에는 전이 없음
func (s ProjectStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// 허용된 상태 전이 테이블
// repairing → repairing 은 repair 호출 자체가 실패했지만 예산이 남은 경우
var transitions = map[ProjectStatus][]ProjectStatus{
	StatusGenerating: {StatusValidating, StatusRepairing, StatusFailed},
	StatusValidating: {StatusCompleted, StatusRepairing, StatusFailed},
	StatusRepairing:  {StatusValidating, StatusRepairing, StatusFailed},
}

// CanTransition - from → to 전이가 허용되는지
func CanTransition(from, to ProjectStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Dimension - 2d | 3d
type Dimension string

const (
	Dimension2D Dimension = "2d"
	Dimension3D Dimension = "3d"
)

// BuildStatus - game_builds.status
type BuildStatus string

const (
	BuildBuilding BuildStatus = "building"
	BuildReady    BuildStatus = "ready"
	BuildFailed   BuildStatus = "failed"
)

// PlatformWeb - 유일한 빌드 플랫폼
const PlatformWeb = "web"

// LogStep - generation_logs.step
type LogStep string

const (
	StepClassifier LogStep = "classifier"
	StepGenerate   LogStep = "generate"
	StepValidate   LogStep = "validate"
	StepRepair     LogStep = "repair"
	StepAssemble   LogStep = "assemble"
)

// LogStatus - generation_logs.status
type LogStatus string

const (
	LogOK    LogStatus = "ok"
	LogError LogStatus = "error"
)

// Project - projects 테이블 구조
type Project struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Prompt      string        `json:"prompt"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Genre       string        `json:"genre"`
	Dimension   Dimension     `json:"dimension"`
	Status      ProjectStatus `json:"status"`
	AIContent   *AIContent    `json:"ai_content"`
	Error       *string       `json:"error"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at"`
}

// AIContent - projects.ai_content JSONB 구조 (매 패스마다 통째로 교체)
type AIContent struct {
	Files              map[string]string `json:"files"`
	Manifest           Manifest          `json:"manifest"`
	Entities           []string          `json:"entities,omitempty"`
	TemplateSeed       string            `json:"template_seed,omitempty"`
	ValidationWarnings []string          `json:"validation_warnings,omitempty"`
}

// Manifest - 생성된 게임이 선언한 에셋 목록
type Manifest struct {
	Assets []Asset `json:"assets"`
}

// Asset - 매니페스트 항목
type Asset struct {
	Path        string `json:"path"`
	Kind        string `json:"kind"` // "image", "audio", "data"
	Description string `json:"description,omitempty"`
}

// Has - 매니페스트에 path가 선언되어 있는지
func (m Manifest) Has(path string) bool {
	for _, a := range m.Assets {
		if a.Path == path {
			return true
		}
	}
	return false
}

// Build - game_builds 테이블 구조
type Build struct {
	ID            string      `json:"id"`
	ProjectID     string      `json:"project_id"`
	Platform      string      `json:"platform"`
	Status        BuildStatus `json:"status"`
	BuildURL      *string     `json:"build_url"`
	WebPreviewURL *string     `json:"web_preview_url"`
	StoragePath   *string     `json:"storage_path"`
	FileSize      int64       `json:"file_size"`
	Error         *string     `json:"error"`
	CreatedAt     time.Time   `json:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at"`
}

// GenerationLog - generation_logs 테이블 구조 (append-only)
type GenerationLog struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	Step       LogStep        `json:"step"`
	Status     LogStatus      `json:"status"`
	Attempt    int            `json:"attempt"`
	DurationMS int64          `json:"duration_ms"`
	AIModel    string         `json:"ai_model"`
	TokensUsed int            `json:"tokens_used"`
	Error      *string        `json:"error"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// StringPtr - nullable 컬럼용 헬퍼
func StringPtr(s string) *string {
	return &s
}
