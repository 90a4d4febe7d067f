package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashwanthgogineni/gamora-ai/modules/artifact"
	"github.com/hashwanthgogineni/gamora-ai/modules/classifier"
	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/database"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/redis"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/storage"
	"github.com/hashwanthgogineni/gamora-ai/modules/progress"
)

const platformerPrompt = "a simple platformer with coins"

const gameHTML = `<!DOCTYPE html>
<html><head><title>Coin Jumper</title></head>
<body>
<canvas id="game" width="800" height="600"></canvas>
<script src="game.js"></script>
</body></html>`

const gameJS = `const canvas = document.getElementById('game');
const ctx = canvas.getContext('2d');
const player = { x: 50, y: 500, vy: 0, onGround: true };
function jump() {
  if (player.onGround) { player.vy = -12; player.onGround = false; }
}
window.addEventListener('keydown', (e) => { if (e.code === 'Space') jump(); });
function loop() {
  player.vy += 0.5;
  player.y = Math.min(player.y + player.vy, 500);
  if (player.y >= 500) { player.vy = 0; player.onGround = true; }
  ctx.clearRect(0, 0, canvas.width, canvas.height);
  ctx.fillRect(player.x, player.y, 20, 20);
  requestAnimationFrame(loop);
}
requestAnimationFrame(loop);
`

type genStep func(ctx context.Context, spec codegen.ContextSpec) (codegen.Outcome, error)

type scriptedGenerator struct {
	mu    sync.Mutex
	steps []genStep
	specs []codegen.ContextSpec
}

func (g *scriptedGenerator) Generate(ctx context.Context, spec codegen.ContextSpec) (codegen.Outcome, error) {
	g.mu.Lock()
	g.specs = append(g.specs, spec)
	i := len(g.specs) - 1
	if i >= len(g.steps) {
		i = len(g.steps) - 1
	}
	step := g.steps[i]
	g.mu.Unlock()
	return step(ctx, spec)
}

func (g *scriptedGenerator) calls() []codegen.ContextSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]codegen.ContextSpec(nil), g.specs...)
}

var usage = codegen.Usage{Model: "test-model", TokensUsed: 100, Latency: time.Millisecond, Attempts: 1}

func produce(files map[string]string, assets ...model.Asset) genStep {
	return func(context.Context, codegen.ContextSpec) (codegen.Outcome, error) {
		copied := make(map[string]string, len(files))
		for k, v := range files {
			copied[k] = v
		}
		return codegen.Outcome{
			Result: codegen.ParsedOk{Candidate: codegen.Candidate{Files: copied, Manifest: model.Manifest{Assets: assets}}},
			Usage:  usage,
		}, nil
	}
}

func validGame() genStep {
	return produce(map[string]string{"index.html": gameHTML, "game.js": gameJS})
}

func gameWithoutJump() genStep {
	return produce(map[string]string{"index.html": gameHTML, "game.js": strings.ReplaceAll(gameJS, "jump", "hop")})
}

func unavailable() genStep {
	return func(context.Context, codegen.ContextSpec) (codegen.Outcome, error) {
		return codegen.Outcome{Usage: usage}, &codegen.GenerationUnavailableError{Err: errors.New("503 service unavailable")}
	}
}

type failingAssembler struct{}

func (failingAssembler) Assemble(context.Context, *model.Project) (artifact.Result, error) {
	return artifact.Result{}, errors.New("bucket unavailable")
}

type harness struct {
	p   *Pipeline
	gw  *database.MemoryGateway
	hub *progress.Hub
	gen *scriptedGenerator
}

func newHarness(t *testing.T, opts Options, steps ...genStep) *harness {
	t.Helper()
	store, err := storage.NewLocalStore(filepath.Join(t.TempDir(), "objects"), "http://localhost:8080/files")
	require.NoError(t, err)

	if opts.MaxRepairAttempts == 0 {
		opts.MaxRepairAttempts = 3
	}
	h := &harness{
		gw:  database.NewMemoryGateway(),
		hub: progress.NewHub(64),
		gen: &scriptedGenerator{steps: steps},
	}
	h.p = New(h.gw, classifier.New(nil, "", 0), h.gen, artifact.NewAssembler(store, ""), h.hub, opts)
	return h
}

func (h *harness) submit(t *testing.T) *model.Project {
	t.Helper()
	p, err := h.p.Submit(context.Background(), "user-1", platformerPrompt)
	require.NoError(t, err)
	return p
}

func (h *harness) logs(t *testing.T, id string) []model.GenerationLog {
	t.Helper()
	logs, err := h.gw.ListLogs(context.Background(), id)
	require.NoError(t, err)
	return logs
}

func steps(logs []model.GenerationLog) []model.LogStep {
	out := make([]model.LogStep, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Step)
	}
	return out
}

func countSteps(logs []model.GenerationLog, wanted ...model.LogStep) int {
	n := 0
	for _, l := range logs {
		for _, s := range wanted {
			if l.Step == s {
				n++
			}
		}
	}
	return n
}

func drain(sub *progress.Subscription) []progress.Event {
	var out []progress.Event
	for e := range sub.Events() {
		out = append(out, e)
	}
	return out
}

// assertLegalPath - 로그 row 순서가 상태 머신의 유효한 경로인지
func assertLegalPath(t *testing.T, logs []model.GenerationLog) {
	t.Helper()
	prev := model.StatusGenerating
	for i, l := range logs {
		next := model.ProjectStatus(l.Metadata["project_status"].(string))
		assert.True(t, next == prev || model.CanTransition(prev, next), "row %d (%s): %s → %s", i, l.Step, prev, next)
		prev = next
	}
	for i := 1; i < len(logs); i++ {
		assert.True(t, logs[i].CreatedAt.After(logs[i-1].CreatedAt), "rows ordered by creation")
	}
}

func readyBuilds(builds []model.Build) int {
	n := 0
	for _, b := range builds {
		if b.Status == model.BuildReady {
			n++
		}
	}
	return n
}

func TestScenarioARepairAfterMissingJump(t *testing.T) {
	h := newHarness(t, Options{}, gameWithoutJump(), validGame())
	project := h.submit(t)
	sub := h.hub.Subscribe(project.ID)

	require.NoError(t, h.p.Run(context.Background(), project.ID))

	got, err := h.gw.GetProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, model.Dimension2D, got.Dimension)
	assert.Equal(t, "platformer", got.Genre)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.AIContent)
	assert.Contains(t, got.AIContent.Files["game.js"], "jump")

	logs := h.logs(t, project.ID)
	assert.Equal(t, []model.LogStep{
		model.StepClassifier, model.StepGenerate, model.StepValidate, model.StepRepair, model.StepValidate, model.StepAssemble,
	}, steps(logs))
	assert.Equal(t, 2, countSteps(logs, model.StepGenerate, model.StepRepair))
	assert.Equal(t, 2, countSteps(logs, model.StepValidate))
	assert.Equal(t, model.LogError, logs[2].Status)
	assert.Contains(t, *logs[2].Error, "jump")
	assertLegalPath(t, logs)

	calls := h.gen.calls()
	require.Len(t, calls, 2)
	assert.False(t, calls[0].IsRepair())
	assert.Equal(t, 2, calls[1].Attempt)
	require.NotNil(t, calls[1].PriorCandidate)
	require.Len(t, calls[1].Issues, 1)
	assert.Contains(t, calls[1].Issues[0], "entry.genre")

	builds, err := h.gw.ListBuilds(context.Background(), project.ID)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, model.BuildReady, builds[0].Status)
	assert.Equal(t, "http://localhost:8080/files/builds/"+project.ID+"/web/index.html", *builds[0].WebPreviewURL)

	events := drain(sub)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, progress.EventComplete, last.Type)
	assert.Equal(t, *builds[0].WebPreviewURL, last.Data.(progress.CompleteData).WebPreviewURL)
	for _, e := range events[:len(events)-1] {
		assert.Equal(t, progress.EventProgress, e.Type)
	}
}

func TestScenarioBEmptyPromptWritesNothing(t *testing.T) {
	h := newHarness(t, Options{}, validGame())

	_, err := h.p.Submit(context.Background(), "user-1", "   ")
	var invalid *classifier.InvalidPromptError
	require.ErrorAs(t, err, &invalid)

	projects, err := h.gw.ListProjects(context.Background(), "user-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, projects)
	assert.Empty(t, h.gen.calls())
}

func TestScenarioCBackendDownForEveryCall(t *testing.T) {
	h := newHarness(t, Options{MaxRepairAttempts: 3}, unavailable())
	project := h.submit(t)
	sub := h.hub.Subscribe(project.ID)

	err := h.p.Run(context.Background(), project.ID)
	var unavailableErr *codegen.GenerationUnavailableError
	require.ErrorAs(t, err, &unavailableErr)

	got, err := h.gw.GetProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "unavailable")

	logs := h.logs(t, project.ID)
	assert.Equal(t, 4, countSteps(logs, model.StepGenerate, model.StepRepair))
	assert.Equal(t, 3, countSteps(logs, model.StepRepair))
	assert.Zero(t, countSteps(logs, model.StepValidate))
	assertLegalPath(t, logs)

	builds, err := h.gw.ListBuilds(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Zero(t, readyBuilds(builds))

	events := drain(sub)
	require.NotEmpty(t, events)
	assert.Equal(t, progress.EventError, events[len(events)-1].Type)
}

func TestScenarioDLateSubscriberGetsNoLiveEvents(t *testing.T) {
	h := newHarness(t, Options{}, validGame())
	project := h.submit(t)
	require.NoError(t, h.p.Run(context.Background(), project.ID))

	late := h.hub.Subscribe(project.ID)
	defer h.hub.Unsubscribe(late)
	assert.Len(t, late.Events(), 0)

	got, err := h.gw.GetProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)

	builds, err := h.gw.ListBuilds(context.Background(), project.ID)
	require.NoError(t, err)
	require.Equal(t, 1, readyBuilds(builds))
	assert.NotEmpty(t, *builds[0].WebPreviewURL)
}

func TestRunOnTerminalProjectIsNoOp(t *testing.T) {
	h := newHarness(t, Options{}, validGame())
	project := h.submit(t)
	require.NoError(t, h.p.Run(context.Background(), project.ID))

	before, err := h.gw.GetProject(context.Background(), project.ID)
	require.NoError(t, err)
	rows := len(h.logs(t, project.ID))

	require.NoError(t, h.p.Run(context.Background(), project.ID))

	after, err := h.gw.GetProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.Status, after.Status)
	assert.Len(t, h.logs(t, project.ID), rows)
	assert.Len(t, h.gen.calls(), 1)
}

func TestRepairBudgetExhaustedByValidation(t *testing.T) {
	h := newHarness(t, Options{MaxRepairAttempts: 2}, gameWithoutJump())
	project := h.submit(t)

	err := h.p.Run(context.Background(), project.ID)
	var vf *ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, 2, vf.Attempts)

	got, err := h.gw.GetProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, *got.Error, `"jump"`)

	logs := h.logs(t, project.ID)
	assert.Equal(t, 2, countSteps(logs, model.StepRepair))
	assert.Equal(t, 3, countSteps(logs, model.StepValidate))
	assertLegalPath(t, logs)

	builds, err := h.gw.ListBuilds(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, builds)
}

func TestUnavailableThenRecovered(t *testing.T) {
	h := newHarness(t, Options{}, unavailable(), validGame())
	project := h.submit(t)
	require.NoError(t, h.p.Run(context.Background(), project.ID))

	logs := h.logs(t, project.ID)
	assert.Equal(t, []model.LogStep{
		model.StepClassifier, model.StepGenerate, model.StepRepair, model.StepValidate, model.StepAssemble,
	}, steps(logs))
	assertLegalPath(t, logs)

	calls := h.gen.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].PriorError, "503")
}

func TestRejectedRequestFailsImmediately(t *testing.T) {
	h := newHarness(t, Options{}, func(context.Context, codegen.ContextSpec) (codegen.Outcome, error) {
		return codegen.Outcome{Usage: usage}, &codegen.GenerationRejectedError{Err: errors.New("400 API key not valid")}
	})
	project := h.submit(t)

	err := h.p.Run(context.Background(), project.ID)
	var rejected *codegen.GenerationRejectedError
	require.ErrorAs(t, err, &rejected)

	assert.Len(t, h.gen.calls(), 1)
	got, _ := h.gw.GetProject(context.Background(), project.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, *got.Error, "API key")
}

func TestAssemblyFailureLeavesNoReadyBuild(t *testing.T) {
	h := newHarness(t, Options{}, validGame())
	h.p.assembler = failingAssembler{}
	project := h.submit(t)

	require.Error(t, h.p.Run(context.Background(), project.ID))

	got, _ := h.gw.GetProject(context.Background(), project.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Nil(t, got.CompletedAt)

	builds, err := h.gw.ListBuilds(context.Background(), project.ID)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, model.BuildFailed, builds[0].Status)

	logs := h.logs(t, project.ID)
	assert.Equal(t, model.StepAssemble, logs[len(logs)-1].Step)
	assert.Equal(t, model.LogError, logs[len(logs)-1].Status)
	assertLegalPath(t, logs)
}

func TestDuplicateConcurrentRunIsIgnored(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	h := newHarness(t, Options{}, func(ctx context.Context, spec codegen.ContextSpec) (codegen.Outcome, error) {
		once.Do(func() { close(entered) })
		<-release
		return validGame()(ctx, spec)
	})
	project := h.submit(t)

	done := make(chan error, 1)
	go func() { done <- h.p.Run(context.Background(), project.ID) }()
	<-entered

	require.NoError(t, h.p.Run(context.Background(), project.ID))
	close(release)
	require.NoError(t, <-done)

	assert.Len(t, h.gen.calls(), 1)
	assert.Equal(t, 1, countSteps(h.logs(t, project.ID), model.StepClassifier))
}

type flakyGateway struct {
	*database.MemoryGateway
	failStep model.LogStep
	failed   bool
}

func (f *flakyGateway) AppendLog(ctx context.Context, l *model.GenerationLog) error {
	if l.Step == f.failStep && !f.failed {
		f.failed = true
		return &database.PersistenceError{Op: "append_log", Attempts: 3, Err: errors.New("connection refused")}
	}
	return f.MemoryGateway.AppendLog(ctx, l)
}

func TestPersistenceErrorFailsRun(t *testing.T) {
	h := newHarness(t, Options{}, validGame())
	flaky := &flakyGateway{MemoryGateway: h.gw, failStep: model.StepValidate}
	h.p.gw = flaky
	project := h.submit(t)
	sub := h.hub.Subscribe(project.ID)

	err := h.p.Run(context.Background(), project.ID)
	var perr *database.PersistenceError
	require.ErrorAs(t, err, &perr)

	got, _ := h.gw.GetProject(context.Background(), project.ID)
	assert.Equal(t, model.StatusFailed, got.Status)

	builds, _ := h.gw.ListBuilds(context.Background(), project.ID)
	assert.Empty(t, builds)

	events := drain(sub)
	require.NotEmpty(t, events)
	assert.Equal(t, progress.EventError, events[len(events)-1].Type)
}

func TestValidationWarningsSurfacing(t *testing.T) {
	withAsset := produce(map[string]string{
		"index.html": gameHTML,
		"game.js":    gameJS + "const coin = new Image();\ncoin.src = 'assets/coin.png';\n",
	})

	for _, surface := range []bool{true, false} {
		h := newHarness(t, Options{SurfaceWarnings: surface}, withAsset)
		project := h.submit(t)
		require.NoError(t, h.p.Run(context.Background(), project.ID))

		got, _ := h.gw.GetProject(context.Background(), project.ID)
		assert.Equal(t, model.StatusCompleted, got.Status)
		if surface {
			require.Len(t, got.AIContent.ValidationWarnings, 1)
			assert.Contains(t, got.AIContent.ValidationWarnings[0], "asset.missing")
		} else {
			assert.Empty(t, got.AIContent.ValidationWarnings)
		}

		logs := h.logs(t, project.ID)
		validateRow := logs[2]
		require.Equal(t, model.StepValidate, validateRow.Step)
		assert.NotEmpty(t, validateRow.Metadata["issues"], "warnings always recorded in the log row")
	}
}

func TestPipelineTimeoutReachesTerminalState(t *testing.T) {
	h := newHarness(t, Options{Timeout: 50 * time.Millisecond}, func(ctx context.Context, _ codegen.ContextSpec) (codegen.Outcome, error) {
		<-ctx.Done()
		return codegen.Outcome{Usage: usage}, &codegen.GenerationUnavailableError{Err: ctx.Err()}
	})
	project := h.submit(t)

	require.Error(t, h.p.Run(context.Background(), project.ID))

	got, _ := h.gw.GetProject(context.Background(), project.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, *got.Error, "timed out")
	assert.Len(t, h.gen.calls(), 1)
}

// contentRecorder - UpdateProject 에 전달된 AIContent 포인터 기록
type contentRecorder struct {
	database.Gateway
	seen []*model.AIContent
}

func (g *contentRecorder) UpdateProject(ctx context.Context, p *model.Project) error {
	if p.AIContent != nil {
		g.seen = append(g.seen, p.AIContent)
	}
	return g.Gateway.UpdateProject(ctx, p)
}

func TestSurfacedWarningsDoNotRewriteGeneratedContent(t *testing.T) {
	withAsset := produce(map[string]string{
		"index.html": gameHTML,
		"game.js":    gameJS + "const coin = new Image();\ncoin.src = 'assets/coin.png';\n",
	})
	h := newHarness(t, Options{SurfaceWarnings: true}, withAsset)
	rec := &contentRecorder{Gateway: h.gw}
	h.p.gw = rec
	project := h.submit(t)
	require.NoError(t, h.p.Run(context.Background(), project.ID))

	require.NotEmpty(t, rec.seen)
	generated, final := rec.seen[0], rec.seen[len(rec.seen)-1]
	assert.Empty(t, generated.ValidationWarnings)
	assert.Len(t, final.ValidationWarnings, 1)
	assert.Equal(t, generated.Files, final.Files)
}

func TestStatusCacheTracksProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cache := redis.NewStatusCache(rdb)

	h := newHarness(t, Options{}, validGame())
	h.p.WithStatusCache(cache)
	project := h.submit(t)
	require.NoError(t, h.p.Run(context.Background(), project.ID))

	require.Eventually(t, func() bool {
		snap, err := cache.Get(context.Background(), project.ID)
		return err == nil && snap != nil && snap.Status == string(model.StatusCompleted)
	}, 3*time.Second, 10*time.Millisecond)
	snap, err := cache.Get(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, snap.Progress)
}

// stalledCache - Redis 가 응답하지 않는 상황 (release 또는 ctx 만료까지 대기)
type stalledCache struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (c *stalledCache) Set(ctx context.Context, _ string, _ redis.Snapshot) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	select {
	case <-c.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *stalledCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestStalledStatusCacheDoesNotBlockRun(t *testing.T) {
	cache := &stalledCache{release: make(chan struct{})}
	defer close(cache.release)

	h := newHarness(t, Options{}, validGame())
	h.p.WithStatusCache(cache)
	project := h.submit(t)

	started := time.Now()
	require.NoError(t, h.p.Run(context.Background(), project.ID))
	assert.Less(t, time.Since(started), time.Second)

	got, _ := h.gw.GetProject(context.Background(), project.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.Eventually(t, func() bool { return cache.count() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestAbandonStuckProject(t *testing.T) {
	h := newHarness(t, Options{}, validGame())
	stuck := &model.Project{ID: "5a0e9c1e-0000-4000-8000-000000000009", UserID: "u", Prompt: "snake", Status: model.StatusValidating}
	require.NoError(t, h.gw.CreateProject(context.Background(), stuck))
	sub := h.hub.Subscribe(stuck.ID)

	require.NoError(t, h.p.Abandon(context.Background(), stuck.ID, "no progress for 30m"))

	got, _ := h.gw.GetProject(context.Background(), stuck.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "no progress for 30m", *got.Error)

	logs := h.logs(t, stuck.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.StepValidate, logs[0].Step)

	events := drain(sub)
	assert.Equal(t, progress.EventError, events[len(events)-1].Type)

	// 이미 종료된 프로젝트는 그대로
	require.NoError(t, h.p.Abandon(context.Background(), stuck.ID, "again"))
	assert.Len(t, h.logs(t, stuck.ID), 1)

	// 진행 중이 아닌 비-generating 프로젝트는 Run 이 건드리지 않음
	other := &model.Project{ID: "5a0e9c1e-0000-4000-8000-000000000010", UserID: "u", Prompt: "snake", Status: model.StatusRepairing}
	require.NoError(t, h.gw.CreateProject(context.Background(), other))
	require.NoError(t, h.p.Run(context.Background(), other.ID))
	assert.Empty(t, h.logs(t, other.ID))
}
