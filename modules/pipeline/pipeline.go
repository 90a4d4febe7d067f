package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/artifact"
	"github.com/hashwanthgogineni/gamora-ai/modules/classifier"
	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/config"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/database"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/metrics"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/redis"
	"github.com/hashwanthgogineni/gamora-ai/modules/progress"
	"github.com/hashwanthgogineni/gamora-ai/modules/validator"
)

// Classifier - 프롬프트 검증 + 분류
type Classifier interface {
	ValidatePrompt(prompt string) (string, error)
	Classify(ctx context.Context, prompt string) (classifier.Result, error)
}

// Assembler - 검증된 프로젝트를 웹 빌드로 배포
type Assembler interface {
	Assemble(ctx context.Context, p *model.Project) (artifact.Result, error)
}

// Publisher - 진행 이벤트 팬아웃 (비차단)
type Publisher interface {
	Publish(projectID string, event progress.Event)
	Finish(projectID string, event progress.Event)
}

// StatusCache - 마지막 진행 상태 스냅샷 (선택)
type StatusCache interface {
	Set(ctx context.Context, projectID string, s redis.Snapshot) error
}

// Options - 파이프라인 설정
type Options struct {
	MaxRepairAttempts int
	SurfaceWarnings   bool
	Timeout           time.Duration
}

// OptionsFromConfig - 환경 설정에서 Options 생성
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRepairAttempts: cfg.MaxRepairAttempts,
		SurfaceWarnings:   cfg.SurfaceValidationWarnings,
		Timeout:           cfg.PipelineTimeout,
	}
}

// 진행률 (%)
const (
	progressClassified = 10
	progressGenerated  = 30
	progressRepairing  = 50
	progressValidated  = 60
	progressAssembling = 90
	progressDone       = 100
)

// Pipeline - 프로젝트 단위 생성 오케스트레이터
type Pipeline struct {
	gw         database.Gateway
	classifier Classifier
	generator  codegen.Generator
	assembler  Assembler
	hub        Publisher
	cache      StatusCache
	snapshots  chan snapshotWrite
	opts       Options
	metrics    *metrics.Metrics

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New - Pipeline 생성
func New(gw database.Gateway, cls Classifier, gen codegen.Generator, asm Assembler, hub Publisher, opts Options) *Pipeline {
	if opts.MaxRepairAttempts < 0 {
		opts.MaxRepairAttempts = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Minute
	}
	return &Pipeline{
		gw:         gw,
		classifier: cls,
		generator:  gen,
		assembler:  asm,
		hub:        hub,
		opts:       opts,
		metrics:    metrics.Default,
		inFlight:   make(map[string]struct{}),
	}
}

const (
	snapshotQueueSize = 256
	snapshotTimeout   = 2 * time.Second
)

type snapshotWrite struct {
	projectID string
	snap      redis.Snapshot
}

// WithStatusCache - Redis 진행 상태 캐시 연결
// 스냅샷은 단일 고루틴이 순서대로 기록하고, 큐가 차면 버림 (파이프라인은 대기하지 않음)
func (p *Pipeline) WithStatusCache(cache StatusCache) *Pipeline {
	p.cache = cache
	p.snapshots = make(chan snapshotWrite, snapshotQueueSize)
	go p.writeSnapshots(cache, p.snapshots)
	return p
}

func (p *Pipeline) writeSnapshots(cache StatusCache, queue <-chan snapshotWrite) {
	for w := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		if err := cache.Set(ctx, w.projectID, w.snap); err != nil {
			logrus.WithField("project_id", w.projectID).Debugf("⚠️  Failed to cache status: %v", err)
		}
		cancel()
	}
}

// Submit - 프롬프트 검증 후 generating 상태 프로젝트 생성 (AI 호출 없음)
func (p *Pipeline) Submit(ctx context.Context, userID, prompt string) (*model.Project, error) {
	trimmed, err := p.classifier.ValidatePrompt(prompt)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	project := &model.Project{
		ID:        uuid.NewString(),
		UserID:    userID,
		Prompt:    trimmed,
		Status:    model.StatusGenerating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.gw.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	logrus.WithFields(logrus.Fields{"project_id": project.ID, "user_id": userID}).
		Infof("🎮 Project created (prompt: %d chars)", len(trimmed))
	return project, nil
}

func (p *Pipeline) acquire(projectID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[projectID]; busy {
		return false
	}
	p.inFlight[projectID] = struct{}{}
	return true
}

func (p *Pipeline) release(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, projectID)
}

// Run - 분류 → 생성 → 검증 ⇄ 수정 → 배포. 종료 상태 프로젝트나 중복 호출은 no-op
// 실패로 끝난 실행은 원인 에러를 반환
func (p *Pipeline) Run(ctx context.Context, projectID string) error {
	log := logrus.WithField("project_id", projectID)
	if !p.acquire(projectID) {
		log.Infof("⏭️  Run already in flight, ignoring duplicate trigger")
		return nil
	}
	defer p.release(projectID)

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	project, err := p.gw.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	if project.Status.IsTerminal() {
		log.Infof("⏭️  Project already %s, nothing to do", project.Status)
		return nil
	}
	if project.Status != model.StatusGenerating {
		log.Warnf("⚠️  Project is %s without an active run, leaving it to the stale sweep", project.Status)
		return nil
	}

	p.metrics.RunsStarted.Add(1)
	r := &run{p: p, project: project, log: log}
	return r.execute(ctx)
}

// Abandon - 멈춘 비종료 프로젝트를 failed 로 (stale sweep 용)
func (p *Pipeline) Abandon(ctx context.Context, projectID, reason string) error {
	if !p.acquire(projectID) {
		return nil
	}
	defer p.release(projectID)

	project, err := p.gw.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.Status.IsTerminal() {
		return nil
	}

	r := &run{p: p, project: project, log: logrus.WithField("project_id", projectID)}
	r.terminate(ctx, record{step: lastStep(project.Status), status: model.LogError, started: time.Now(), err: reason}, reason)
	return nil
}

func lastStep(s model.ProjectStatus) model.LogStep {
	switch s {
	case model.StatusValidating:
		return model.StepValidate
	case model.StatusRepairing:
		return model.StepRepair
	default:
		return model.StepGenerate
	}
}

func (p *Pipeline) publish(projectID string, ev progress.Event) {
	p.hub.Publish(projectID, ev)
	p.cacheSnapshot(projectID, ev)
}

func (p *Pipeline) finish(projectID string, last progress.Event, final progress.Event) {
	p.cacheSnapshot(projectID, last)
	p.hub.Publish(projectID, last)
	p.hub.Finish(projectID, final)
}

func (p *Pipeline) cacheSnapshot(projectID string, ev progress.Event) {
	if p.snapshots == nil {
		return
	}
	data, ok := ev.Data.(progress.ProgressData)
	if !ok {
		return
	}
	w := snapshotWrite{projectID: projectID, snap: redis.Snapshot{
		Status:    string(data.Status),
		Step:      string(data.Step),
		Message:   data.Message,
		Progress:  data.Progress,
		UpdatedAt: time.Now().UTC(),
	}}
	select {
	case p.snapshots <- w:
	default:
		logrus.WithField("project_id", projectID).Debug("⚠️  Status cache queue full, dropping snapshot")
	}
}

// ValidationFailure - 수정 예산 소진 후 남은 fatal 이슈
type ValidationFailure struct {
	Attempts int
	Issues   []validator.Issue
}

func (e *ValidationFailure) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		msgs = append(msgs, i.Message)
	}
	return fmt.Sprintf("validation failed after %d repair attempts: %s", e.Attempts, strings.Join(msgs, "; "))
}
