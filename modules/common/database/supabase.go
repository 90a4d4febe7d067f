package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

// SupabaseGateway - Supabase PostgREST 기반 Gateway
type SupabaseGateway struct {
	supabase *supabase.Client
	clock    clock
}

// NewSupabaseGateway - Supabase 클라이언트 생성
func NewSupabaseGateway(url, serviceKey string) (*SupabaseGateway, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseGateway{supabase: client}, nil
}

// CreateProject - projects insert
func (g *SupabaseGateway) CreateProject(_ context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = g.clock.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	_, _, err := g.supabase.From(TableProjects).
		Insert(p, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	logrus.Debugf("📝 Project row created: %s", p.ID)
	return nil
}

// GetProject - projects 단건 조회
func (g *SupabaseGateway) GetProject(_ context.Context, id string) (*model.Project, error) {
	data, _, err := g.supabase.From(TableProjects).
		Select("*", "exact", false).
		Eq("id", id).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}

	var projects []model.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse projects response: %w", err)
	}
	if len(projects) == 0 {
		return nil, ErrNotFound
	}
	return &projects[0], nil
}

// ListProjects - 사용자 프로젝트 최신순 페이지 조회
func (g *SupabaseGateway) ListProjects(_ context.Context, userID string, limit, offset int) ([]model.Project, error) {
	if limit <= 0 {
		limit = 20
	}
	data, _, err := g.supabase.From(TableProjects).
		Select("*", "exact", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Range(offset, offset+limit-1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var projects []model.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse projects response: %w", err)
	}
	return projects, nil
}

// ListProjectsUpdatedBefore - 상태 + updated_at 기준 조회 (cleanup 용)
func (g *SupabaseGateway) ListProjectsUpdatedBefore(_ context.Context, statuses []model.ProjectStatus, before time.Time) ([]model.Project, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	data, _, err := g.supabase.From(TableProjects).
		Select("*", "exact", false).
		In("status", values).
		Lt("updated_at", before.UTC().Format(time.RFC3339Nano)).
		Order("updated_at", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list stale projects: %w", err)
	}

	var projects []model.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse projects response: %w", err)
	}
	return projects, nil
}

// UpdateProject - 가변 컬럼 전체 업데이트
func (g *SupabaseGateway) UpdateProject(_ context.Context, p *model.Project) error {
	updateData := map[string]interface{}{
		"title":        p.Title,
		"description":  p.Description,
		"genre":        p.Genre,
		"dimension":    p.Dimension,
		"status":       p.Status,
		"ai_content":   p.AIContent,
		"error":        p.Error,
		"updated_at":   p.UpdatedAt,
		"completed_at": p.CompletedAt,
	}

	data, _, err := g.supabase.From(TableProjects).
		Update(updateData, "representation", "").
		Eq("id", p.ID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update project %s: %w", p.ID, err)
	}
	if string(data) == "[]" {
		return ErrNotFound
	}
	return nil
}

// CreateBuild - game_builds insert
func (g *SupabaseGateway) CreateBuild(_ context.Context, b *model.Build) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = g.clock.now()
	}

	_, _, err := g.supabase.From(TableBuilds).
		Insert(b, true, "id", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert build: %w", err)
	}
	return nil
}

// UpdateBuild - ready 가 아닌 build 만 갱신
func (g *SupabaseGateway) UpdateBuild(_ context.Context, b *model.Build) error {
	updateData := map[string]interface{}{
		"status":          b.Status,
		"build_url":       b.BuildURL,
		"web_preview_url": b.WebPreviewURL,
		"storage_path":    b.StoragePath,
		"file_size":       b.FileSize,
		"error":           b.Error,
		"completed_at":    b.CompletedAt,
	}

	data, _, err := g.supabase.From(TableBuilds).
		Update(updateData, "representation", "").
		Eq("id", b.ID).
		Neq("status", string(model.BuildReady)).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update build %s: %w", b.ID, err)
	}
	if string(data) == "[]" {
		return g.confirmReady(b)
	}
	return nil
}

// confirmReady - 갱신된 row 가 없을 때, 같은 내용으로 이미 ready 면 성공
func (g *SupabaseGateway) confirmReady(b *model.Build) error {
	data, _, err := g.supabase.From(TableBuilds).
		Select("*", "exact", false).
		Eq("id", b.ID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to query build %s: %w", b.ID, err)
	}
	var builds []model.Build
	if err := json.Unmarshal(data, &builds); err != nil {
		return fmt.Errorf("failed to parse builds response: %w", err)
	}
	if len(builds) == 0 {
		return ErrNotFound
	}
	if sameReadyBuild(&builds[0], b) {
		return nil
	}
	return fmt.Errorf("build %s is ready and immutable", b.ID)
}

// ListBuilds - 프로젝트의 build 목록 (생성순)
func (g *SupabaseGateway) ListBuilds(_ context.Context, projectID string) ([]model.Build, error) {
	data, _, err := g.supabase.From(TableBuilds).
		Select("*", "exact", false).
		Eq("project_id", projectID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}

	var builds []model.Build
	if err := json.Unmarshal(data, &builds); err != nil {
		return nil, fmt.Errorf("failed to parse builds response: %w", err)
	}
	return builds, nil
}

// AppendLog - generation_logs insert (id 충돌 시 무시 → 재시도 안전)
func (g *SupabaseGateway) AppendLog(_ context.Context, l *model.GenerationLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = g.clock.now()
	}

	_, _, err := g.supabase.From(TableLogs).
		Insert(l, true, "id", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert generation log: %w", err)
	}
	return nil
}

// ListLogs - 프로젝트 로그 (실행 순서)
func (g *SupabaseGateway) ListLogs(_ context.Context, projectID string) ([]model.GenerationLog, error) {
	data, _, err := g.supabase.From(TableLogs).
		Select("*", "exact", false).
		Eq("project_id", projectID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list generation logs: %w", err)
	}

	var logs []model.GenerationLog
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, fmt.Errorf("failed to parse generation logs response: %w", err)
	}
	return logs, nil
}
