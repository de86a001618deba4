package indexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhanu1232/RepoRAG/internal/core"
)

type blockingIndexer struct {
	mu       sync.Mutex
	release  chan struct{}
	err      error
	progress []Progress
}

func (b *blockingIndexer) Index(ctx context.Context, req Request, onProgress func(Progress)) (Result, error) {
	if onProgress != nil {
		onProgress(Progress{Phase: PhaseWalking, RepoURL: req.RepoURL})
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return Result{}, core.NewError(core.ErrKindCancelled, "cancelled", ctx.Err())
	}
	if b.err != nil {
		return Result{}, b.err
	}
	return Result{RepoID: "repo1", ChunkCount: 3}, nil
}

func TestJobControllerRejectsConcurrentStart(t *testing.T) {
	bi := &blockingIndexer{release: make(chan struct{})}
	c := NewJobController(bi, time.Minute)

	_, err := c.Start(context.Background(), Request{RepoURL: "https://example.com/a.git"})
	require.NoError(t, err)

	_, err = c.Start(context.Background(), Request{RepoURL: "https://example.com/b.git"})
	require.Error(t, err)
	assert.Equal(t, core.ErrKindConflict, core.KindOf(err))

	close(bi.release)
}

func TestJobControllerReachesDoneTerminalState(t *testing.T) {
	bi := &blockingIndexer{release: make(chan struct{})}
	c := NewJobController(bi, time.Minute)

	_, err := c.Start(context.Background(), Request{RepoURL: "https://example.com/a.git"})
	require.NoError(t, err)
	close(bi.release)

	require.Eventually(t, func() bool {
		return c.Status().Phase == PhaseDone
	}, time.Second, 5*time.Millisecond)
}

func TestJobControllerReachesErrorTerminalState(t *testing.T) {
	bi := &blockingIndexer{release: make(chan struct{}), err: core.NewError(core.ErrKindIndex, "boom", nil)}
	c := NewJobController(bi, time.Minute)

	_, err := c.Start(context.Background(), Request{RepoURL: "https://example.com/a.git"})
	require.NoError(t, err)
	close(bi.release)

	require.Eventually(t, func() bool {
		return c.Status().Phase == PhaseError
	}, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, c.Status().Err)
}

func TestJobControllerAllowsNewJobAfterCompletion(t *testing.T) {
	bi := &blockingIndexer{release: make(chan struct{})}
	c := NewJobController(bi, time.Minute)

	_, err := c.Start(context.Background(), Request{RepoURL: "https://example.com/a.git"})
	require.NoError(t, err)
	close(bi.release)

	require.Eventually(t, func() bool {
		return c.Status().Phase == PhaseDone
	}, time.Second, 5*time.Millisecond)

	bi.release = make(chan struct{})
	_, err = c.Start(context.Background(), Request{RepoURL: "https://example.com/b.git"})
	require.NoError(t, err)
	close(bi.release)

	require.Eventually(t, func() bool {
		return c.Status().Phase == PhaseDone && c.Status().RepoURL == "https://example.com/b.git"
	}, time.Second, 5*time.Millisecond)
}

func TestJobControllerCancelStopsRunningJob(t *testing.T) {
	bi := &blockingIndexer{release: make(chan struct{})}
	c := NewJobController(bi, time.Minute)

	_, err := c.Start(context.Background(), Request{RepoURL: "https://example.com/a.git"})
	require.NoError(t, err)

	require.NoError(t, c.Cancel())

	require.Eventually(t, func() bool {
		return c.Status().Phase == PhaseError
	}, time.Second, 5*time.Millisecond)
}

func TestJobControllerCancelWithNoJobErrors(t *testing.T) {
	c := NewJobController(&blockingIndexer{release: make(chan struct{})}, time.Minute)
	assert.Error(t, c.Cancel())
}

func TestJobControllerHealthCheckOKWhenIdle(t *testing.T) {
	c := NewJobController(&blockingIndexer{release: make(chan struct{})}, time.Minute)
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestJobControllerHealthCheckReportsStuckJob(t *testing.T) {
	bi := &blockingIndexer{release: make(chan struct{})}
	c := NewJobController(bi, time.Millisecond)

	_, err := c.Start(context.Background(), Request{RepoURL: "https://example.com/a.git"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.HealthCheck(context.Background()) != nil
	}, time.Second, 5*time.Millisecond)

	close(bi.release)
}

func TestJobControllerHealthCheckReportsLastError(t *testing.T) {
	bi := &blockingIndexer{release: make(chan struct{}), err: core.NewError(core.ErrKindIndex, "boom", nil)}
	c := NewJobController(bi, time.Minute)

	_, err := c.Start(context.Background(), Request{RepoURL: "https://example.com/a.git"})
	require.NoError(t, err)
	close(bi.release)

	require.Eventually(t, func() bool {
		return c.Status().Phase == PhaseError
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, c.HealthCheck(context.Background()))
}
