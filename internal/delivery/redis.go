package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pricebot/internal/domain"
)

// StreamAdder is the subset of *redis.Client used to enqueue jobs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

type RedisConfig struct {
	Client StreamAdder
	Stream string
	MaxLen int64        // approximate stream cap; 0 keeps everything
	Closer func() error // releases Client; may be nil
	Now    func() time.Time
	Logger *slog.Logger
}

// RedisNotifier appends each delivery to a Redis stream consumed by the
// image worker.
type RedisNotifier struct {
	client StreamAdder
	stream string
	maxLen int64
	closer func() error
	now    func() time.Time
	logger *slog.Logger
}

func NewRedisNotifier(cfg RedisConfig) *RedisNotifier {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisNotifier{
		client: cfg.Client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		closer: cfg.Closer,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

func (n *RedisNotifier) Deliver(ctx context.Context, d domain.Delivery) error {
	jobID := uuid.NewString()
	args := &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]interface{}{
			"job_id":          jobID,
			"conversation_id": d.ConversationID,
			"payload":         d.Payload,
			"source":          d.SourceLabel,
			"ai_generated":    strconv.FormatBool(d.AIGenerated),
			"time":            n.now().UnixMilli(),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}
	entryID, err := n.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", n.stream, err)
	}
	n.logger.Info("delivery enqueued", "stream", n.stream, "entry", entryID, "job", jobID, "conversation", d.ConversationID)
	return nil
}

func (n *RedisNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}
