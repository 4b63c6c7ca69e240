package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pricebot/internal/domain"
	"pricebot/internal/tool"
)

// TurnConfig wires a Turn.
type TurnConfig struct {
	Resolver      *tool.Resolver
	PostProcessor *PostProcessor
	Background    *BackgroundExecutor
	Logger        *slog.Logger
}

// Turn runs the two phases of a tool-calling turn: the synchronous batch and,
// once the caller has replied, the deferred batch.
type Turn struct {
	resolver *tool.Resolver
	post     *PostProcessor
	bg       *BackgroundExecutor
	logger   *slog.Logger
}

func NewTurn(cfg TurnConfig) *Turn {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Background == nil {
		cfg.Background = NewBackgroundExecutor(cfg.Logger)
	}
	return &Turn{
		resolver: cfg.Resolver,
		post:     cfg.PostProcessor,
		bg:       cfg.Background,
		logger:   cfg.Logger,
	}
}

// Capabilities lists the catalog advertised for a conversation.
func (t *Turn) Capabilities(conversationID string) []domain.CapabilityDescriptor {
	return t.resolver.Capabilities(conversationID)
}

// Invoke runs the synchronous phase. The envelopes are always complete; a
// non-nil error reports collaborator failures of individual calls.
func (t *Turn) Invoke(ctx context.Context, conversationID string, calls []domain.ToolCall, locale string) ([]domain.Envelope, error) {
	envelopes, err := t.resolver.InvokeBatch(ctx, conversationID, calls, locale)
	if err != nil {
		t.logger.Warn("tool batch had failures", "conversation", conversationID, "err", err)
	}
	return envelopes, err
}

// Defer submits the deferred phase in the background and returns the task id.
// It returns "" when no envelope requests deferred work.
func (t *Turn) Defer(ctx context.Context, conversationID string, envelopes []domain.Envelope) string {
	id := uuid.NewString()
	if !t.DeferAs(ctx, id, conversationID, envelopes) {
		return ""
	}
	return id
}

// DeferAs is Defer under a caller-chosen task id. It reports whether a task
// was submitted.
func (t *Turn) DeferAs(ctx context.Context, taskID, conversationID string, envelopes []domain.Envelope) bool {
	if Pending(envelopes) == 0 {
		return false
	}
	batch := append([]domain.Envelope(nil), envelopes...)
	t.bg.SubmitAs(ctx, taskID, "deferred", conversationID, func(ctx context.Context, progress func(int)) error {
		return t.post.run(ctx, batch, progress)
	})
	return true
}

// Run invokes the batch and immediately submits its deferred work, for
// callers with no reply to send in between.
func (t *Turn) Run(ctx context.Context, conversationID string, calls []domain.ToolCall, locale string) ([]domain.Envelope, string, error) {
	envelopes, err := t.Invoke(ctx, conversationID, calls, locale)
	return envelopes, t.Defer(ctx, conversationID, envelopes), err
}

// Task reports the state of a deferred batch.
func (t *Turn) Task(id string) (BackgroundTask, bool) {
	return t.bg.Get(id)
}

// Active lists deferred batches that have not finished.
func (t *Turn) Active() []BackgroundTask {
	return t.bg.ListActive()
}

// Prune forgets finished batches older than maxAge and returns how many.
func (t *Turn) Prune(maxAge time.Duration) int {
	return t.bg.Clean(maxAge)
}

// Drain waits for in-flight deferred batches.
func (t *Turn) Drain(ctx context.Context) error {
	return t.bg.Wait(ctx)
}
