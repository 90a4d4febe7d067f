package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateProject(ctx context.Context, p *model.Project) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockGateway) GetProject(ctx context.Context, id string) (*model.Project, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.Project)
	return p, args.Error(1)
}

func (m *mockGateway) ListProjects(ctx context.Context, userID string, limit, offset int) ([]model.Project, error) {
	args := m.Called(ctx, userID, limit, offset)
	ps, _ := args.Get(0).([]model.Project)
	return ps, args.Error(1)
}

func (m *mockGateway) ListProjectsUpdatedBefore(ctx context.Context, statuses []model.ProjectStatus, before time.Time) ([]model.Project, error) {
	args := m.Called(ctx, statuses, before)
	ps, _ := args.Get(0).([]model.Project)
	return ps, args.Error(1)
}

func (m *mockGateway) UpdateProject(ctx context.Context, p *model.Project) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockGateway) CreateBuild(ctx context.Context, b *model.Build) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockGateway) UpdateBuild(ctx context.Context, b *model.Build) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockGateway) ListBuilds(ctx context.Context, projectID string) ([]model.Build, error) {
	args := m.Called(ctx, projectID)
	bs, _ := args.Get(0).([]model.Build)
	return bs, args.Error(1)
}

func (m *mockGateway) AppendLog(ctx context.Context, l *model.GenerationLog) error {
	return m.Called(ctx, l).Error(0)
}

func (m *mockGateway) ListLogs(ctx context.Context, projectID string) ([]model.GenerationLog, error) {
	args := m.Called(ctx, projectID)
	ls, _ := args.Get(0).([]model.GenerationLog)
	return ls, args.Error(1)
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	inner := &mockGateway{}
	l := &model.GenerationLog{ProjectID: "p1", Step: model.StepGenerate}
	inner.On("AppendLog", mock.Anything, l).Return(errors.New("connection reset")).Twice()
	inner.On("AppendLog", mock.Anything, l).Return(nil).Once()

	gw := WithRetry(inner, 3, time.Millisecond)
	require.NoError(t, gw.AppendLog(context.Background(), l))
	inner.AssertNumberOfCalls(t, "AppendLog", 3)
}

func TestRetryExhaustionReturnsPersistenceError(t *testing.T) {
	inner := &mockGateway{}
	p := &model.Project{ID: "p1"}
	inner.On("UpdateProject", mock.Anything, p).Return(errors.New("503 service unavailable"))

	gw := WithRetry(inner, 2, time.Millisecond)
	err := gw.UpdateProject(context.Background(), p)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "update_project", perr.Op)
	assert.Equal(t, 3, perr.Attempts)
	inner.AssertNumberOfCalls(t, "UpdateProject", 3)
}

func TestRetrySkipsNotFound(t *testing.T) {
	inner := &mockGateway{}
	inner.On("GetProject", mock.Anything, "missing").Return(nil, ErrNotFound)

	gw := WithRetry(inner, 5, time.Millisecond)
	_, err := gw.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	inner.AssertNumberOfCalls(t, "GetProject", 1)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	inner := &mockGateway{}
	inner.On("CreateBuild", mock.Anything, mock.Anything).Return(errors.New("timeout"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := WithRetry(inner, 5, time.Second)
	err := gw.CreateBuild(ctx, &model.Build{ProjectID: "p1"})

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, context.Canceled)
	inner.AssertNumberOfCalls(t, "CreateBuild", 1)
}

// lostReply - 첫 UpdateBuild 는 저장까지 성공하지만 응답이 유실된 것처럼 에러 반환
type lostReply struct {
	Gateway
	lost bool
}

func (g *lostReply) UpdateBuild(ctx context.Context, b *model.Build) error {
	if err := g.Gateway.UpdateBuild(ctx, b); err != nil {
		return err
	}
	if !g.lost {
		g.lost = true
		return errors.New("read: connection reset by peer")
	}
	return nil
}

func TestRetryAfterLostReadyReplySucceeds(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryGateway()
	require.NoError(t, mem.CreateProject(ctx, &model.Project{ID: "p1", Prompt: "x", Status: model.StatusGenerating}))
	b := &model.Build{ID: "b1", ProjectID: "p1", Platform: model.PlatformWeb, Status: model.BuildBuilding}
	require.NoError(t, mem.CreateBuild(ctx, b))

	gw := WithRetry(&lostReply{Gateway: mem}, 3, time.Millisecond)
	b.Status = model.BuildReady
	b.StoragePath = model.StringPtr("builds/p1/game.zip")
	require.NoError(t, gw.UpdateBuild(ctx, b))

	builds, err := mem.ListBuilds(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, model.BuildReady, builds[0].Status)
}
