package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pricebot/internal/domain"
)

// Fixed answers surfaced to the model.
const (
	AnswerVoiceEnabled     = "Voice is enabled"
	AnswerVoiceDisabled    = "Voice is disabled"
	AnswerVoiceSetEnabled  = "Voice is set to enabled"
	AnswerVoiceSetDisabled = "Voice is set to disabled"
	AnswerNoFiles          = "No files uploaded by the user"
	AnswerImageMissing     = "Error generating image. Please provide the description of the image to be generated by DALL-E"
	AnswerImageStarted     = "Image generation is started. Please wait a few minutes. We will notify the user when it is done"

	// DefaultBotDescription is used when no description is configured.
	DefaultBotDescription = "I am @btc_price_ai_bot. I answer questions about the BTC/USD price, " +
		"calculate technical indicators and pivot points for time periods from 1 minute to 1 month, " +
		"draw BTC/USD charts with DALL-E, list the files you uploaded and can reply with voice messages."
)

// uploadTimeLayout renders YYYY.MM.DD-HH.MM.SS.
const uploadTimeLayout = "2006.01.02-15.04.05"

// Handler runs the synchronous phase of one capability.
type Handler func(ctx context.Context, conversationID string, args Args) (domain.Envelope, error)

// HandlerConfig carries the collaborators of the handler set.
type HandlerConfig struct {
	Files          domain.FileStore
	Preferences    domain.PreferenceStore
	Indicators     domain.IndicatorService
	BotDescription string
	Location       *time.Location   // list_files upload times; defaults to time.Local
	Now            func() time.Time // defaults to time.Now
}

// Handlers builds the handler table, one entry per capability.
func Handlers(cfg HandlerConfig) map[domain.CapabilityName]Handler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BotDescription == "" {
		cfg.BotDescription = DefaultBotDescription
	}
	h := &handlerSet{cfg: cfg}
	return map[domain.CapabilityName]Handler{
		domain.CapGenerateImage:        h.generateImage,
		domain.CapListFiles:            h.listFiles,
		domain.CapDescribeCapabilities: h.describe,
		domain.CapGetVoice:             h.getVoice,
		domain.CapSetVoice:             h.setVoice,
		domain.CapCurrentTime:          h.currentTime,
		domain.CapTechnicalIndicators:  h.indicators,
	}
}

type handlerSet struct {
	cfg HandlerConfig
}

func (h *handlerSet) describe(_ context.Context, _ string, _ Args) (domain.Envelope, error) {
	return domain.Envelope{Answer: h.cfg.BotDescription}, nil
}

func (h *handlerSet) currentTime(_ context.Context, _ string, _ Args) (domain.Envelope, error) {
	return domain.Envelope{Answer: h.cfg.Now().UTC().Format(http.TimeFormat)}, nil
}

func (h *handlerSet) indicators(ctx context.Context, _ string, _ Args) (domain.Envelope, error) {
	if h.cfg.Indicators == nil {
		return domain.Envelope{}, fmt.Errorf("indicator service not configured")
	}
	summary, err := h.cfg.Indicators.ComputeIndicators(ctx)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("compute indicators: %w", err)
	}
	if len(summary) == 0 {
		summary = json.RawMessage("null")
	}
	data, err := json.Marshal(struct {
		PivotPoints json.RawMessage `json:"pivotPoints"`
	}{summary})
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("encode indicators: %w", err)
	}
	return domain.Envelope{Answer: string(data)}, nil
}

func (h *handlerSet) getVoice(ctx context.Context, conversationID string, _ Args) (domain.Envelope, error) {
	if h.cfg.Preferences == nil {
		return domain.Envelope{}, fmt.Errorf("preference store not configured")
	}
	enabled, err := h.cfg.Preferences.GetVoicePreference(ctx, conversationID)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("get voice preference: %w", err)
	}
	if enabled {
		return domain.Envelope{Answer: AnswerVoiceEnabled}, nil
	}
	return domain.Envelope{Answer: AnswerVoiceDisabled}, nil
}

func (h *handlerSet) setVoice(ctx context.Context, conversationID string, args Args) (domain.Envelope, error) {
	if h.cfg.Preferences == nil {
		return domain.Envelope{}, fmt.Errorf("preference store not configured")
	}
	enabled := args.Enabled("isVoiceEnabled")
	if err := h.cfg.Preferences.SetVoicePreference(ctx, conversationID, enabled); err != nil {
		return domain.Envelope{}, fmt.Errorf("set voice preference: %w", err)
	}
	if enabled {
		return domain.Envelope{Answer: AnswerVoiceSetEnabled}, nil
	}
	return domain.Envelope{Answer: AnswerVoiceSetDisabled}, nil
}

type fileEntry struct {
	Filename     string `json:"filename"`
	SizeInBytes  int64  `json:"sizeInBytes"`
	MimeType     string `json:"mimeType"`
	TimeUploaded string `json:"timeUploaded"`
}

func (h *handlerSet) listFiles(ctx context.Context, conversationID string, _ Args) (domain.Envelope, error) {
	if h.cfg.Files == nil {
		return domain.Envelope{}, fmt.Errorf("file store not configured")
	}
	files, err := h.cfg.Files.ListFiles(ctx, conversationID)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("list files: %w", err)
	}
	if len(files) == 0 {
		return domain.Envelope{Answer: AnswerNoFiles}, nil
	}
	entries := make([]fileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, fileEntry{
			Filename:     f.Filename,
			SizeInBytes:  f.Size,
			MimeType:     f.MimeType,
			TimeUploaded: f.TimeUploaded.In(h.cfg.Location).Format(uploadTimeLayout),
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("encode files: %w", err)
	}
	return domain.Envelope{Answer: string(data)}, nil
}

func (h *handlerSet) generateImage(_ context.Context, conversationID string, args Args) (domain.Envelope, error) {
	description, ok := args.String("description")
	if !ok {
		return domain.Envelope{Answer: AnswerImageMissing}, nil
	}
	return domain.Envelope{
		Answer:              AnswerImageStarted,
		NeedsPostProcessing: true,
		Data:                domain.ImageRequest{ConversationID: conversationID, Description: description},
	}, nil
}
