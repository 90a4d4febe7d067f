package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/config"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/database"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

// Abandoner - 멈춘 프로젝트를 failed 로 (pipeline.Pipeline)
type Abandoner interface {
	Abandon(ctx context.Context, projectID, reason string) error
}

// Options - 정리 주기 및 보존 기간
type Options struct {
	Schedule           string
	StaleAfter         time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	WorkDir            string
}

// OptionsFromConfig - 환경 설정에서 Options 생성
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Schedule:           cfg.CleanupSchedule,
		StaleAfter:         cfg.StaleRunAfter,
		CompletedRetention: cfg.CompletedRetention,
		FailedRetention:    cfg.FailedRetention,
		WorkDir:            cfg.ProjectsDir,
	}
}

// Report - 한 번의 정리 결과
type Report struct {
	Abandoned int
	Removed   int
}

// Cleaner - stale run 정리 + 로컬 작업 디렉토리 보존 기간 관리
type Cleaner struct {
	gw    database.Gateway
	runs  Abandoner
	opts  Options
	cron  *cron.Cron
	clock func() time.Time
}

// New - Cleaner 생성
func New(gw database.Gateway, runs Abandoner, opts Options) *Cleaner {
	return &Cleaner{gw: gw, runs: runs, opts: opts, clock: time.Now}
}

// Start - cron 스케줄 등록 후 백그라운드 실행
func (c *Cleaner) Start() error {
	c.cron = cron.New()
	_, err := c.cron.AddFunc(c.opts.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		c.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.opts.Schedule, err)
	}
	c.cron.Start()
	logrus.Infof("🧹 Cleanup scheduled: %s (stale after %s)", c.opts.Schedule, c.opts.StaleAfter)
	return nil
}

// Stop - 실행 중인 정리 작업이 끝날 때까지 대기
func (c *Cleaner) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
}

// RunOnce - stale sweep 후 작업 디렉토리 정리
func (c *Cleaner) RunOnce(ctx context.Context) Report {
	var report Report
	var err error

	if report.Abandoned, err = c.SweepStale(ctx); err != nil {
		logrus.Errorf("❌ [Cleanup] Stale sweep failed: %v", err)
	}
	if report.Removed, err = c.SweepWorkspaces(ctx); err != nil {
		logrus.Errorf("❌ [Cleanup] Workspace sweep failed: %v", err)
	}
	if report.Abandoned > 0 || report.Removed > 0 {
		logrus.Infof("🧹 [Cleanup] Abandoned %d stale runs, removed %d workspaces", report.Abandoned, report.Removed)
	}
	return report
}

// SweepStale - StaleAfter 동안 전이가 없는 비종료 프로젝트를 failed 로
func (c *Cleaner) SweepStale(ctx context.Context) (int, error) {
	if c.opts.StaleAfter <= 0 {
		return 0, nil
	}
	cutoff := c.clock().Add(-c.opts.StaleAfter)
	stale, err := c.gw.ListProjectsUpdatedBefore(ctx, []model.ProjectStatus{
		model.StatusGenerating, model.StatusValidating, model.StatusRepairing,
	}, cutoff)
	if err != nil {
		return 0, err
	}

	reason := fmt.Sprintf("generation stalled: no progress for %s", c.opts.StaleAfter)
	abandoned := 0
	for _, p := range stale {
		if err := c.runs.Abandon(ctx, p.ID, reason); err != nil {
			logrus.WithField("project_id", p.ID).Warnf("⚠️  [Cleanup] Failed to abandon: %v", err)
			continue
		}
		abandoned++
	}
	return abandoned, nil
}

// SweepWorkspaces - 보존 기간이 지난 {WorkDir}/{project_id} 삭제
func (c *Cleaner) SweepWorkspaces(ctx context.Context) (int, error) {
	if c.opts.WorkDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(c.opts.WorkDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	now := c.clock()
	removed := 0
	for _, entry := range entries {
		// 프로젝트 디렉토리만 (로컬 스토리지 objects/ 등은 제외)
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		if !c.expired(ctx, entry, now) {
			continue
		}
		dir := filepath.Join(c.opts.WorkDir, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			logrus.Warnf("⚠️  [Cleanup] Failed to remove %s: %v", dir, err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (c *Cleaner) expired(ctx context.Context, entry os.DirEntry, now time.Time) bool {
	project, err := c.gw.GetProject(ctx, entry.Name())
	switch {
	case errors.Is(err, database.ErrNotFound):
		// 삭제된 프로젝트의 잔여 디렉토리
		info, err := entry.Info()
		return err == nil && now.Sub(info.ModTime()) > c.opts.FailedRetention
	case err != nil:
		return false
	}

	switch project.Status {
	case model.StatusCompleted:
		since := project.UpdatedAt
		if project.CompletedAt != nil {
			since = *project.CompletedAt
		}
		return now.Sub(since) > c.opts.CompletedRetention
	case model.StatusFailed:
		return now.Sub(project.UpdatedAt) > c.opts.FailedRetention
	default:
		return false
	}
}
