package badger

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/common"
	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/models"
)

func newTestStorage(t *testing.T) interfaces.JobStorage {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "forge-test"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewJobStorage(db, logger)
}

func testJob(owner, hash string, ttl time.Duration) *models.Job {
	sub := &models.JobSubmission{
		Kind: models.JobKindCompile,
		Files: []models.SourceFile{
			{Path: "src/Token.sol", Content: "contract Token {}"},
		},
	}
	return models.NewJob(owner, sub, hash, ttl)
}

func TestSaveAndGetJob(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := testJob("alice", "hash-1", time.Hour)
	require.NoError(t, storage.SaveJob(ctx, job))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, "hash-1", got.InputHash)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "src/Token.sol", got.Files[0].Path)

	_, err = storage.GetJob(ctx, "job_missing")
	assert.Error(t, err)
}

func TestGetJobForOwner(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := testJob("alice", "hash-1", time.Hour)
	require.NoError(t, storage.SaveJob(ctx, job))

	got, err := storage.GetJobForOwner(ctx, job.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	// Another owner sees not-found, not forbidden.
	_, err = storage.GetJobForOwner(ctx, job.ID, "mallory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSaveJobUpdatesExisting(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := testJob("alice", "hash-1", time.Hour)
	require.NoError(t, storage.SaveJob(ctx, job))

	job.MarkRunning()
	require.NoError(t, storage.SaveJob(ctx, job))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestListJobsFiltering(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	queued := testJob("alice", "hash-1", time.Hour)
	require.NoError(t, storage.SaveJob(ctx, queued))

	completed := testJob("bob", "hash-2", time.Hour)
	completed.MarkRunning()
	completed.MarkCompleted(&models.ForgeResult{Success: true})
	require.NoError(t, storage.SaveJob(ctx, completed))

	all, err := storage.ListJobs(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byStatus, err := storage.ListJobs(ctx, &interfaces.JobListOptions{Status: "completed"})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, completed.ID, byStatus[0].ID)

	byOwner, err := storage.ListJobs(ctx, &interfaces.JobListOptions{Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
	assert.Equal(t, queued.ID, byOwner[0].ID)

	limited, err := storage.ListJobs(ctx, &interfaces.JobListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCountJobs(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, storage.SaveJob(ctx, testJob("alice", "hash", time.Hour)))
	}

	total, err := storage.CountJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	queued, err := storage.CountJobsByStatus(ctx, models.JobStatusQueued)
	require.NoError(t, err)
	assert.Equal(t, 3, queued)

	running, err := storage.CountJobsByStatus(ctx, models.JobStatusRunning)
	require.NoError(t, err)
	assert.Zero(t, running)
}

func TestFindCachedJob(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	// Queued job with the hash: not a cache hit.
	queued := testJob("alice", "cache-hash", time.Hour)
	require.NoError(t, storage.SaveJob(ctx, queued))

	hit, err := storage.FindCachedJob(ctx, "cache-hash", models.JobKindCompile)
	require.NoError(t, err)
	assert.Nil(t, hit)

	completed := testJob("alice", "cache-hash", time.Hour)
	completed.MarkRunning()
	completed.MarkCompleted(&models.ForgeResult{Success: true})
	require.NoError(t, storage.SaveJob(ctx, completed))

	hit, err = storage.FindCachedJob(ctx, "cache-hash", models.JobKindCompile)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, completed.ID, hit.ID)

	// Kind is part of the cache key.
	miss, err := storage.FindCachedJob(ctx, "cache-hash", models.JobKindTest)
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestFindCachedJobSkipsExpired(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	expired := testJob("alice", "cache-hash", -time.Minute)
	expired.MarkRunning()
	expired.MarkCompleted(&models.ForgeResult{Success: true})
	require.NoError(t, storage.SaveJob(ctx, expired))

	hit, err := storage.FindCachedJob(ctx, "cache-hash", models.JobKindCompile)
	require.NoError(t, err)
	assert.Nil(t, hit, "expired entries never serve cache hits")
}

func TestAppendJobLog(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := testJob("alice", "hash-1", time.Hour)
	require.NoError(t, storage.SaveJob(ctx, job))

	require.NoError(t, storage.AppendJobLog(ctx, job.ID, "line one\n", 0))
	require.NoError(t, storage.AppendJobLog(ctx, job.ID, "line two\n", 0))
	require.NoError(t, storage.AppendJobLog(ctx, job.ID, "", 0))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", got.OutputLog)
}

func TestAppendJobLogCap(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := testJob("alice", "hash-cap", time.Hour)
	require.NoError(t, storage.SaveJob(ctx, job))

	require.NoError(t, storage.AppendJobLog(ctx, job.ID, strings.Repeat("a", 10), 16))
	require.NoError(t, storage.AppendJobLog(ctx, job.ID, strings.Repeat("b", 10), 16))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, got.OutputLog, 16)
	assert.True(t, strings.HasSuffix(got.OutputLog, strings.Repeat("b", 10)), "oldest output is discarded first")
}

func TestDeleteExpiredJobs(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	expired := testJob("alice", "h1", -time.Minute)
	require.NoError(t, storage.SaveJob(ctx, expired))

	fresh := testJob("alice", "h2", time.Hour)
	require.NoError(t, storage.SaveJob(ctx, fresh))

	deleted, err := storage.DeleteExpiredJobs(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = storage.GetJob(ctx, expired.ID)
	assert.Error(t, err)
	_, err = storage.GetJob(ctx, fresh.ID)
	assert.NoError(t, err)
}
