package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pricebot/internal/metrics"
)

// TaskStatus represents the status of a background task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskFailed   TaskStatus = "failed"
)

// BackgroundTask is one deferred batch running detached from its request.
type BackgroundTask struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	ConversationID string     `json:"conversationId,omitempty"`
	Status         TaskStatus `json:"status"`
	Error          string     `json:"error,omitempty"`
	Progress       int        `json:"progress"` // 0-100
	StartedAt      time.Time  `json:"startedAt"`
	DoneAt         time.Time  `json:"doneAt,omitempty"`
}

// TaskFunc is the body of a background task. progress accepts 0-100.
type TaskFunc func(ctx context.Context, progress func(int)) error

// BackgroundExecutor runs tasks on their own goroutines and keeps their state.
type BackgroundExecutor struct {
	mu     sync.RWMutex
	tasks  map[string]*BackgroundTask
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBackgroundExecutor creates a new background task executor.
func NewBackgroundExecutor(logger *slog.Logger) *BackgroundExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundExecutor{
		tasks:  make(map[string]*BackgroundTask),
		logger: logger,
	}
}

// Submit starts fn asynchronously and returns the task id. The task does not
// inherit ctx cancellation; it keeps ctx values only.
func (be *BackgroundExecutor) Submit(ctx context.Context, name, conversationID string, fn TaskFunc) string {
	id := uuid.NewString()
	be.SubmitAs(ctx, id, name, conversationID, fn)
	return id
}

// SubmitAs is Submit with a caller-chosen id, for callers that must publish
// the id before the task starts.
func (be *BackgroundExecutor) SubmitAs(ctx context.Context, id, name, conversationID string, fn TaskFunc) {
	task := &BackgroundTask{
		ID:             id,
		Name:           name,
		ConversationID: conversationID,
		Status:         TaskPending,
		StartedAt:      time.Now(),
	}
	be.mu.Lock()
	be.tasks[id] = task
	be.mu.Unlock()

	be.logger.Info("background task submitted", "id", id, "name", name, "conversation", conversationID)

	detached := context.WithoutCancel(ctx)
	be.wg.Add(1)
	go func() {
		defer be.wg.Done()
		metrics.DeferredInFlight.Inc()
		defer metrics.DeferredInFlight.Dec()

		be.mu.Lock()
		task.Status = TaskRunning
		be.mu.Unlock()

		progressFn := func(pct int) {
			be.mu.Lock()
			task.Progress = pct
			be.mu.Unlock()
		}

		err := fn(detached, progressFn)

		be.mu.Lock()
		task.DoneAt = time.Now()
		if err != nil {
			task.Status = TaskFailed
			task.Error = err.Error()
			be.logger.Error("background task failed", "id", id, "err", err)
		} else {
			task.Status = TaskComplete
			task.Progress = 100
			be.logger.Info("background task completed", "id", id)
		}
		be.mu.Unlock()
	}()
}

// Wait blocks until every submitted task has finished or ctx is done.
func (be *BackgroundExecutor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		be.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the current state of a task.
func (be *BackgroundExecutor) Get(id string) (BackgroundTask, bool) {
	be.mu.RLock()
	defer be.mu.RUnlock()
	task, ok := be.tasks[id]
	if !ok {
		return BackgroundTask{}, false
	}
	return *task, true
}

// ListActive returns tasks that are still running or pending.
func (be *BackgroundExecutor) ListActive() []BackgroundTask {
	be.mu.RLock()
	defer be.mu.RUnlock()
	var result []BackgroundTask
	for _, t := range be.tasks {
		if t.Status == TaskPending || t.Status == TaskRunning {
			result = append(result, *t)
		}
	}
	return result
}

// Clean removes completed/failed tasks older than the given duration.
func (be *BackgroundExecutor) Clean(maxAge time.Duration) int {
	be.mu.Lock()
	defer be.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range be.tasks {
		if (t.Status == TaskComplete || t.Status == TaskFailed) && t.DoneAt.Before(cutoff) {
			delete(be.tasks, id)
			removed++
		}
	}
	return removed
}
