package database

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

// retryGateway - 모든 호출을 지수 백오프로 재시도하는 데코레이터
// 쓰기는 호출 전에 id 가 정해져 있어 재시도해도 중복 row 가 생기지 않음
type retryGateway struct {
	inner     Gateway
	attempts  int
	baseDelay time.Duration
}

// WithRetry - Gateway 를 재시도 데코레이터로 감싸기
// retries 는 첫 시도 이후의 추가 시도 횟수
func WithRetry(inner Gateway, retries int, baseDelay time.Duration) Gateway {
	if retries < 0 {
		retries = 0
	}
	return &retryGateway{inner: inner, attempts: retries + 1, baseDelay: baseDelay}
}

func (r *retryGateway) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrNotFound) {
			return lastErr
		}
		if attempt == r.attempts {
			break
		}

		delay := r.baseDelay << (attempt - 1)
		logrus.WithFields(logrus.Fields{"op": op, "attempt": attempt}).
			Warnf("⚠️  [Persistence] %s failed, retrying in %s: %v", op, delay, lastErr)

		select {
		case <-ctx.Done():
			return &PersistenceError{Op: op, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	logrus.WithField("op", op).Errorf("❌ [Persistence] %s exhausted %d attempts: %v", op, r.attempts, lastErr)
	return &PersistenceError{Op: op, Attempts: r.attempts, Err: lastErr}
}

func (r *retryGateway) CreateProject(ctx context.Context, p *model.Project) error {
	return r.do(ctx, "create_project", func() error { return r.inner.CreateProject(ctx, p) })
}

func (r *retryGateway) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var out *model.Project
	err := r.do(ctx, "get_project", func() error {
		p, err := r.inner.GetProject(ctx, id)
		out = p
		return err
	})
	return out, err
}

func (r *retryGateway) ListProjects(ctx context.Context, userID string, limit, offset int) ([]model.Project, error) {
	var out []model.Project
	err := r.do(ctx, "list_projects", func() error {
		ps, err := r.inner.ListProjects(ctx, userID, limit, offset)
		out = ps
		return err
	})
	return out, err
}

func (r *retryGateway) ListProjectsUpdatedBefore(ctx context.Context, statuses []model.ProjectStatus, before time.Time) ([]model.Project, error) {
	var out []model.Project
	err := r.do(ctx, "list_projects_updated_before", func() error {
		ps, err := r.inner.ListProjectsUpdatedBefore(ctx, statuses, before)
		out = ps
		return err
	})
	return out, err
}

func (r *retryGateway) UpdateProject(ctx context.Context, p *model.Project) error {
	return r.do(ctx, "update_project", func() error { return r.inner.UpdateProject(ctx, p) })
}

func (r *retryGateway) CreateBuild(ctx context.Context, b *model.Build) error {
	return r.do(ctx, "create_build", func() error { return r.inner.CreateBuild(ctx, b) })
}

func (r *retryGateway) UpdateBuild(ctx context.Context, b *model.Build) error {
	return r.do(ctx, "update_build", func() error { return r.inner.UpdateBuild(ctx, b) })
}

func (r *retryGateway) ListBuilds(ctx context.Context, projectID string) ([]model.Build, error) {
	var out []model.Build
	err := r.do(ctx, "list_builds", func() error {
		bs, err := r.inner.ListBuilds(ctx, projectID)
		out = bs
		return err
	})
	return out, err
}

func (r *retryGateway) AppendLog(ctx context.Context, l *model.GenerationLog) error {
	return r.do(ctx, "append_log", func() error { return r.inner.AppendLog(ctx, l) })
}

func (r *retryGateway) ListLogs(ctx context.Context, projectID string) ([]model.GenerationLog, error) {
	var out []model.GenerationLog
	err := r.do(ctx, "list_logs", func() error {
		ls, err := r.inner.ListLogs(ctx, projectID)
		out = ls
		return err
	})
	return out, err
}
