// Package delivery hands deferred jobs to the downstream channel that
// performs generation and delivery.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"

	"pricebot/internal/config"
	"pricebot/internal/domain"
)

// Notifier is a domain.Notifier that owns external resources.
type Notifier interface {
	domain.Notifier
	Close() error
}

// New builds the notifier selected by cfg.Driver.
func New(cfg config.DeliveryConfig, logger *slog.Logger) (Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "", "log":
		return NewLogNotifier(logger), nil
	case "redis":
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		return NewRedisNotifier(RedisConfig{
			Client: client,
			Stream: cfg.Redis.Stream,
			MaxLen: cfg.Redis.MaxLen,
			Closer: client.Close,
			Logger: logger,
		}), nil
	case "telegram":
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("telegram bot init: %w", err)
		}
		return NewTelegramNotifier(TelegramConfig{
			Sender:    bot,
			ParseMode: cfg.Telegram.ParseMode,
			Logger:    logger,
		}), nil
	}
	return nil, fmt.Errorf("unknown delivery driver %q", cfg.Driver)
}

// LogNotifier only records deliveries in the log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Deliver(_ context.Context, d domain.Delivery) error {
	n.logger.Info("delivery accepted",
		"conversation", d.ConversationID,
		"source", d.SourceLabel,
		"ai", d.AIGenerated,
		"payload_bytes", len(d.Payload),
	)
	return nil
}

func (n *LogNotifier) Close() error { return nil }
