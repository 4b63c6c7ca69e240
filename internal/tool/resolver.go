package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"pricebot/internal/domain"
	"pricebot/internal/metrics"
)

const defaultMaxParallel = 4

// WrongFunctionAnswer is the answer for a name outside the catalog.
func WrongFunctionAnswer(name string) string {
	return "Function error - wrong function name: " + name
}

// CallError is a collaborator failure of one call in a batch.
type CallError struct {
	Index int
	Name  string
	Err   error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Registry    *Registry
	MaxParallel int // concurrent handlers per batch
	Logger      *slog.Logger
}

// Resolver dispatches tool calls to handlers and returns result envelopes.
type Resolver struct {
	registry    *Registry
	maxParallel int
	logger      *slog.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{registry: cfg.Registry, maxParallel: cfg.MaxParallel, logger: cfg.Logger}
}

// Capabilities lists the catalog for a conversation.
func (r *Resolver) Capabilities(conversationID string) []domain.CapabilityDescriptor {
	return r.registry.catalog.List(conversationID)
}

// Invoke runs one tool call. Unknown names and malformed arguments produce an
// envelope, never an error; only collaborator failures are returned as errors.
// The locale is carried for logging.
func (r *Resolver) Invoke(ctx context.Context, conversationID string, call domain.ToolCall, locale string) (env domain.Envelope, err error) {
	logger := r.logger.With("tool", call.Name, "conversation", conversationID)
	if locale != "" {
		logger = logger.With("locale", locale)
	}

	args, perr := ParseArgs(call.Arguments)
	if perr != nil {
		logger.Warn("unparseable tool arguments, using empty set", "err", perr)
	}

	capName, handler, lerr := r.registry.Get(call.Name)
	if lerr != nil {
		logger.Warn("unknown capability requested")
		metrics.ToolInvocation("other", "unknown").Inc()
		return domain.Envelope{Answer: WrongFunctionAnswer(call.Name), FunctionName: call.Name}, nil
	}
	if verr := r.registry.catalog.conforms(capName, args); verr != nil {
		logger.Debug("tool arguments do not match schema", "err", verr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("handler panicked", "panic", rec, "stack", string(debug.Stack()))
			env, err = domain.Envelope{}, fmt.Errorf("%s: handler panic: %v", call.Name, rec)
			metrics.ToolInvocation(call.Name, "error").Inc()
		}
	}()

	logger.Info("executing tool")
	start := time.Now()
	env, err = handler(ctx, conversationID, args)
	metrics.ToolLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error("tool failed", "err", err)
		metrics.ToolInvocation(call.Name, "error").Inc()
		return domain.Envelope{}, fmt.Errorf("%s: %w", call.Name, err)
	}
	if env.FunctionName == "" {
		env.FunctionName = call.Name
	}
	if !env.NeedsPostProcessing {
		env.Data = nil
	}
	metrics.ToolInvocation(call.Name, "ok").Inc()
	return env, nil
}

// InvokeBatch runs the calls of one turn concurrently and returns the
// envelopes in call order. A failed call still occupies its slot with a
// textual error answer; the failures are returned joined as *CallError.
func (r *Resolver) InvokeBatch(ctx context.Context, conversationID string, calls []domain.ToolCall, locale string) ([]domain.Envelope, error) {
	envelopes := make([]domain.Envelope, len(calls))
	failures := make([]error, len(calls))

	var g errgroup.Group
	g.SetLimit(r.maxParallel)
	for i, call := range calls {
		g.Go(func() error {
			env, err := r.Invoke(ctx, conversationID, call, locale)
			if err != nil {
				env = domain.Envelope{
					Answer:       fmt.Sprintf("Error executing tool %s: %s", call.Name, err.Error()),
					FunctionName: call.Name,
				}
				failures[i] = &CallError{Index: i, Name: call.Name, Err: err}
			}
			envelopes[i] = env
			return nil
		})
	}
	_ = g.Wait()

	return envelopes, errors.Join(failures...)
}
