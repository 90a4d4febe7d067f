package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/config"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

// 테이블 이름
const (
	TableProjects = "projects"
	TableBuilds   = "game_builds"
	TableLogs     = "generation_logs"
)

// ErrNotFound - 조회 대상 row 없음 (재시도 대상 아님)
var ErrNotFound = errors.New("record not found")

// sameReadyBuild - 이미 ready 로 기록된 build 에 같은 ready 결과를 다시 쓰는 경우 (응답 유실 후 재시도)
func sameReadyBuild(stored, update *model.Build) bool {
	if stored.Status != model.BuildReady || update.Status != model.BuildReady {
		return false
	}
	if stored.StoragePath == nil || update.StoragePath == nil {
		return stored.StoragePath == update.StoragePath
	}
	return *stored.StoragePath == *update.StoragePath
}

// PersistenceError - 재시도를 모두 소진한 쓰기/읽기 실패
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Gateway - projects / game_builds / generation_logs 영속화 인터페이스
// 모든 구현체는 project id 단위 동시 쓰기를 지원해야 함
type Gateway interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjects(ctx context.Context, userID string, limit, offset int) ([]model.Project, error)
	// ListProjectsUpdatedBefore - 주어진 상태 중 updated_at < before 인 프로젝트
	ListProjectsUpdatedBefore(ctx context.Context, statuses []model.ProjectStatus, before time.Time) ([]model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error

	CreateBuild(ctx context.Context, b *model.Build) error
	UpdateBuild(ctx context.Context, b *model.Build) error
	ListBuilds(ctx context.Context, projectID string) ([]model.Build, error)

	AppendLog(ctx context.Context, l *model.GenerationLog) error
	ListLogs(ctx context.Context, projectID string) ([]model.GenerationLog, error)
}

// New - PERSISTENCE_BACKEND 에 따라 Gateway 생성 (재시도 데코레이터 포함)
func New(ctx context.Context, cfg *config.Config) (Gateway, func(), error) {
	var (
		gw      Gateway
		closeFn = func() {}
	)

	switch cfg.PersistenceBackend {
	case config.BackendSupabase:
		sb, err := NewSupabaseGateway(cfg.SupabaseURL, cfg.SupabaseServiceKey)
		if err != nil {
			return nil, nil, err
		}
		gw = sb
	case config.BackendPostgres:
		pg, err := NewPostgresGateway(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		gw = pg
		closeFn = pg.Close
	case config.BackendMemory:
		gw = NewMemoryGateway()
	default:
		return nil, nil, fmt.Errorf("unsupported persistence backend: %s", cfg.PersistenceBackend)
	}

	logrus.Infof("✅ Persistence gateway ready (%s, retries: %d)", cfg.PersistenceBackend, cfg.PersistRetries)
	return WithRetry(gw, cfg.PersistRetries, 200*time.Millisecond), closeFn, nil
}

// clock - 같은 프로세스 안에서 created_at 이 엄격히 증가하도록 보장
type clock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
