package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/database"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

type recordingAbandoner struct {
	mu      sync.Mutex
	ids     []string
	reasons []string
}

func (r *recordingAbandoner) Abandon(_ context.Context, projectID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, projectID)
	r.reasons = append(r.reasons, reason)
	return nil
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, gw database.Gateway, status model.ProjectStatus, updated time.Time) string {
	t.Helper()
	p := &model.Project{
		ID:        uuid.NewString(),
		UserID:    "user-1",
		Prompt:    "a game",
		Status:    status,
		CreatedAt: updated.Add(-time.Minute),
		UpdatedAt: updated,
	}
	if status == model.StatusCompleted {
		p.CompletedAt = &updated
	}
	require.NoError(t, gw.CreateProject(context.Background(), p))
	return p.ID
}

func newCleaner(gw database.Gateway, runs Abandoner, dir string) *Cleaner {
	c := New(gw, runs, Options{
		Schedule:           "@every 1h",
		StaleAfter:         30 * time.Minute,
		CompletedRetention: 7 * 24 * time.Hour,
		FailedRetention:    24 * time.Hour,
		WorkDir:            dir,
	})
	c.clock = func() time.Time { return now }
	return c
}

func TestSweepStaleAbandonsOnlyStuckRuns(t *testing.T) {
	gw := database.NewMemoryGateway()
	stuckGen := seed(t, gw, model.StatusGenerating, now.Add(-2*time.Hour))
	stuckRepair := seed(t, gw, model.StatusRepairing, now.Add(-31*time.Minute))
	seed(t, gw, model.StatusValidating, now.Add(-5*time.Minute))
	seed(t, gw, model.StatusFailed, now.Add(-3*time.Hour))
	seed(t, gw, model.StatusCompleted, now.Add(-3*time.Hour))

	runs := &recordingAbandoner{}
	n, err := newCleaner(gw, runs, "").SweepStale(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{stuckGen, stuckRepair}, runs.ids)
	assert.Contains(t, runs.reasons[0], "no progress for 30m0s")
}

func TestSweepWorkspacesHonoursRetention(t *testing.T) {
	gw := database.NewMemoryGateway()
	dir := t.TempDir()

	oldDone := seed(t, gw, model.StatusCompleted, now.Add(-8*24*time.Hour))
	freshDone := seed(t, gw, model.StatusCompleted, now.Add(-time.Hour))
	oldFailed := seed(t, gw, model.StatusFailed, now.Add(-25*time.Hour))
	running := seed(t, gw, model.StatusGenerating, now.Add(-48*time.Hour))

	for _, id := range []string{oldDone, freshDone, oldFailed, running} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, id), 0o755))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "objects", "builds"), 0o755))

	n, err := newCleaner(gw, &recordingAbandoner{}, dir).SweepWorkspaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.NoDirExists(t, filepath.Join(dir, oldDone))
	assert.NoDirExists(t, filepath.Join(dir, oldFailed))
	assert.DirExists(t, filepath.Join(dir, freshDone))
	assert.DirExists(t, filepath.Join(dir, running))
	assert.DirExists(t, filepath.Join(dir, "objects"), "non-project dirs are untouched")
}

func TestSweepWorkspacesMissingDir(t *testing.T) {
	c := newCleaner(database.NewMemoryGateway(), &recordingAbandoner{}, filepath.Join(t.TempDir(), "nope"))
	n, err := c.SweepWorkspaces(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnceReportsBoth(t *testing.T) {
	gw := database.NewMemoryGateway()
	dir := t.TempDir()
	seed(t, gw, model.StatusGenerating, now.Add(-time.Hour))
	old := seed(t, gw, model.StatusFailed, now.Add(-48*time.Hour))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, old), 0o755))

	report := newCleaner(gw, &recordingAbandoner{}, dir).RunOnce(context.Background())
	assert.Equal(t, Report{Abandoned: 1, Removed: 1}, report)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	c := New(database.NewMemoryGateway(), &recordingAbandoner{}, Options{Schedule: "every tuesday"})
	assert.Error(t, c.Start())

	c = New(database.NewMemoryGateway(), &recordingAbandoner{}, Options{Schedule: "@every 1h"})
	require.NoError(t, c.Start())
	c.Stop()
}
