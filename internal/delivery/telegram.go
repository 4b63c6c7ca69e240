package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pricebot/internal/domain"
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

// Sender is the subset of *tgbotapi.BotAPI used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramConfig struct {
	Sender    Sender
	ParseMode string
	Logger    *slog.Logger
}

// TelegramNotifier tells the conversation's chat that a job was accepted.
// The conversation id must be the numeric chat id.
type TelegramNotifier struct {
	sender    Sender
	parseMode string
	logger    *slog.Logger
}

func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TelegramNotifier{sender: cfg.Sender, parseMode: cfg.ParseMode, logger: cfg.Logger}
}

func (n *TelegramNotifier) Deliver(ctx context.Context, d domain.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(d.ConversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("conversation %q is not a telegram chat id: %w", d.ConversationID, err)
	}

	msg := tgbotapi.NewMessage(chatID, noticeText(d))
	msg.ParseMode = n.parseMode
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	n.logger.Info("delivery sent", "chat", chatID, "source", d.SourceLabel)
	return nil
}

func (n *TelegramNotifier) Close() error { return nil }

func noticeText(d domain.Delivery) string {
	text := fmt.Sprintf("%s is generating your image:\n\n%s", d.SourceLabel, d.Payload)
	if d.AIGenerated {
		text += "\n\n(AI generated)"
	}
	if utf8.RuneCountInString(text) <= maxMessageLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMessageLen-1]) + "…"
}
