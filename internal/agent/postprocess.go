package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pricebot/internal/domain"
	"pricebot/internal/metrics"
)

const (
	defaultSettleInterval = time.Second
	defaultSourceLabel    = "DALL-E"
)

// ErrInvalidPayload marks an envelope whose data does not belong to its capability.
var ErrInvalidPayload = errors.New("invalid deferred payload")

// DeferredHandler performs the deferred phase of one capability.
type DeferredHandler func(ctx context.Context, payload domain.DeferredPayload) error

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// PostProcessorConfig configures a PostProcessor.
type PostProcessorConfig struct {
	Notifier       domain.Notifier
	SettleInterval time.Duration // pause after each image delivery; 0 means 1s
	SourceLabel    string        // defaults to "DALL-E"
	Wait           WaitFunc      // defaults to a timer wait
	Logger         *slog.Logger
}

// PostProcessor runs deferred work for a batch of envelopes after the reply
// has been sent.
type PostProcessor struct {
	handlers map[domain.CapabilityName]DeferredHandler
	notifier domain.Notifier
	settle   time.Duration
	source   string
	wait     WaitFunc
	logger   *slog.Logger
}

func NewPostProcessor(cfg PostProcessorConfig) *PostProcessor {
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = defaultSettleInterval
	}
	if cfg.SourceLabel == "" {
		cfg.SourceLabel = defaultSourceLabel
	}
	if cfg.Wait == nil {
		cfg.Wait = sleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &PostProcessor{
		notifier: cfg.Notifier,
		settle:   cfg.SettleInterval,
		source:   cfg.SourceLabel,
		wait:     cfg.Wait,
		logger:   cfg.Logger,
	}
	p.handlers = map[domain.CapabilityName]DeferredHandler{
		domain.CapGenerateImage: p.deliverImage,
	}
	return p
}

// RunDeferred executes the flagged envelopes one at a time in batch order.
// Envelopes without a deferred handler are logged and skipped. A failing
// handler does not stop the batch; all failures are returned joined.
// Processing stops early only when ctx is done.
func (p *PostProcessor) RunDeferred(ctx context.Context, envelopes []domain.Envelope) error {
	return p.run(ctx, envelopes, nil)
}

// Pending counts the envelopes that request deferred work.
func Pending(envelopes []domain.Envelope) int {
	n := 0
	for _, env := range envelopes {
		if env.NeedsPostProcessing {
			n++
		}
	}
	return n
}

func (p *PostProcessor) run(ctx context.Context, envelopes []domain.Envelope, progress func(int)) error {
	total := Pending(envelopes)
	if total == 0 {
		return nil
	}

	var errs []error
	done := 0
	for i, env := range envelopes {
		if !env.NeedsPostProcessing {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("deferred batch interrupted at %d: %w", i, err))
			break
		}

		logger := p.logger.With("tool", env.FunctionName, "index", i)
		name, ok := domain.ParseCapabilityName(env.FunctionName)
		handler := p.handlers[name]
		if !ok || handler == nil {
			logger.Error("no deferred handler for envelope, skipping")
			metrics.DeferredRun("other", "skipped").Inc()
			continue
		}
		if env.Data == nil || env.Data.Capability() != name {
			logger.Error("deferred payload does not match capability, skipping", "payload", fmt.Sprintf("%T", env.Data))
			metrics.DeferredRun(string(name), "skipped").Inc()
			continue
		}

		logger.Info("running deferred work")
		start := time.Now()
		err := handler(ctx, env.Data)
		metrics.DeferredLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			logger.Error("deferred work failed", "err", err)
			metrics.DeferredRun(string(name), "error").Inc()
			errs = append(errs, fmt.Errorf("deferred %s at %d: %w", name, i, err))
		} else {
			metrics.DeferredRun(string(name), "ok").Inc()
		}

		done++
		if progress != nil {
			progress(done * 100 / total)
		}
	}
	return errors.Join(errs...)
}

func (p *PostProcessor) deliverImage(ctx context.Context, payload domain.DeferredPayload) error {
	req, ok := payload.(domain.ImageRequest)
	if !ok {
		return fmt.Errorf("%w: %T", ErrInvalidPayload, payload)
	}
	if p.notifier == nil {
		return errors.New("delivery channel not configured")
	}

	err := p.notifier.Deliver(ctx, domain.Delivery{
		ConversationID: req.ConversationID,
		Payload:        req.Description,
		SourceLabel:    p.source,
		AIGenerated:    true,
	})
	if err != nil {
		return fmt.Errorf("deliver image request: %w", err)
	}
	return p.wait(ctx, p.settle)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
