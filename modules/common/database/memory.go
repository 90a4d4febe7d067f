package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

// MemoryGateway - 프로세스 메모리 Gateway (로컬 개발, 테스트용)
type MemoryGateway struct {
	mu       sync.RWMutex
	clock    clock
	projects map[string]*model.Project
	builds   map[string][]*model.Build
	logs     map[string][]*model.GenerationLog
	logIDs   map[string]struct{}
}

// NewMemoryGateway - 빈 MemoryGateway 생성
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		projects: make(map[string]*model.Project),
		builds:   make(map[string][]*model.Build),
		logs:     make(map[string][]*model.GenerationLog),
		logIDs:   make(map[string]struct{}),
	}
}

func (m *MemoryGateway) CreateProject(_ context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.clock.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[p.ID]; exists {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	m.projects[p.ID] = cloneProject(p)
	return nil
}

func (m *MemoryGateway) GetProject(_ context.Context, id string) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProject(p), nil
}

func (m *MemoryGateway) ListProjects(_ context.Context, userID string, limit, offset int) ([]model.Project, error) {
	m.mu.RLock()
	var out []model.Project
	for _, p := range m.projects {
		if p.UserID == userID {
			out = append(out, *cloneProject(p))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (m *MemoryGateway) ListProjectsUpdatedBefore(_ context.Context, statuses []model.ProjectStatus, before time.Time) ([]model.Project, error) {
	wanted := make(map[model.ProjectStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Project
	for _, p := range m.projects {
		if wanted[p.Status] && p.UpdatedAt.Before(before) {
			out = append(out, *cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryGateway) UpdateProject(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		return ErrNotFound
	}
	m.projects[p.ID] = cloneProject(p)
	return nil
}

func (m *MemoryGateway) CreateBuild(_ context.Context, b *model.Build) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.clock.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[b.ProjectID]; !ok {
		return fmt.Errorf("build references unknown project %s", b.ProjectID)
	}
	for _, existing := range m.builds[b.ProjectID] {
		if existing.ID == b.ID {
			return nil
		}
	}
	cp := *b
	m.builds[b.ProjectID] = append(m.builds[b.ProjectID], &cp)
	return nil
}

func (m *MemoryGateway) UpdateBuild(_ context.Context, b *model.Build) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.builds[b.ProjectID] {
		if existing.ID == b.ID {
			if sameReadyBuild(existing, b) {
				return nil
			}
			if existing.Status == model.BuildReady {
				return fmt.Errorf("build %s is ready and immutable", b.ID)
			}
			cp := *b
			m.builds[b.ProjectID][i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryGateway) ListBuilds(_ context.Context, projectID string) ([]model.Build, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Build, 0, len(m.builds[projectID]))
	for _, b := range m.builds[projectID] {
		out = append(out, *b)
	}
	return out, nil
}

func (m *MemoryGateway) AppendLog(_ context.Context, l *model.GenerationLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = m.clock.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[l.ProjectID]; !ok {
		return fmt.Errorf("log references unknown project %s", l.ProjectID)
	}
	if _, dup := m.logIDs[l.ID]; dup {
		return nil
	}
	m.logIDs[l.ID] = struct{}{}
	cp := *l
	m.logs[l.ProjectID] = append(m.logs[l.ProjectID], &cp)
	return nil
}

func (m *MemoryGateway) ListLogs(_ context.Context, projectID string) ([]model.GenerationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.GenerationLog, 0, len(m.logs[projectID]))
	for _, l := range m.logs[projectID] {
		out = append(out, *l)
	}
	return out, nil
}

// cloneProject - ai_content 까지 깊은 복사 (호출자와 저장본이 메모리를 공유하지 않도록)
func cloneProject(p *model.Project) *model.Project {
	cp := *p
	if p.AIContent != nil {
		raw, err := json.Marshal(p.AIContent)
		if err == nil {
			var content model.AIContent
			if json.Unmarshal(raw, &content) == nil {
				cp.AIContent = &content
			}
		}
	}
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
