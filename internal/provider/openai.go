package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"pricebot/internal/domain"
)

const defaultMaxRounds = 5

// OpenAITools converts the catalog into function tools, keeping its order.
// Capabilities without arguments carry no parameters.
func OpenAITools(descs []domain.CapabilityDescriptor) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(descs))
	for _, d := range descs {
		fn := openai.FunctionDefinitionParam{
			Name:        openai.String(string(d.Name)),
			Description: openai.String(d.Description),
		}
		if d.Parameters != nil {
			fn.Parameters = openai.F(openai.FunctionParameters(d.Parameters))
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Type:     openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(fn),
		})
	}
	return tools
}

// ToolCallsFromOpenAI maps the model's tool calls onto domain.ToolCall.
func ToolCallsFromOpenAI(calls []openai.ChatCompletionMessageToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, domain.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: c.Function.Arguments,
		})
	}
	return out
}

// Turn is what the assistant needs from the tool layer.
type Turn interface {
	Capabilities(conversationID string) []domain.CapabilityDescriptor
	Invoke(ctx context.Context, conversationID string, calls []domain.ToolCall, locale string) ([]domain.Envelope, error)
	Defer(ctx context.Context, conversationID string, envelopes []domain.Envelope) string
}

// AssistantConfig configures an Assistant.
type AssistantConfig struct {
	APIKey       string
	APIBase      string
	Model        string
	SystemPrompt string
	MaxRounds    int // tool-call rounds per user message
	Turn         Turn
	Logger       *slog.Logger
	Options      []option.RequestOption
}

// Assistant answers a user message with an OpenAI-compatible chat model,
// running the tool layer for every round of tool calls and scheduling the
// deferred work once the final reply is ready.
type Assistant struct {
	client    *openai.Client
	model     string
	system    string
	maxRounds int
	turn      Turn
	logger    *slog.Logger
}

func NewAssistant(cfg AssistantConfig) *Assistant {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithHTTPClient(SharedHTTPClient(0))}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	opts = append(opts, cfg.Options...)
	return &Assistant{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		system:    cfg.SystemPrompt,
		maxRounds: cfg.MaxRounds,
		turn:      cfg.Turn,
		logger:    cfg.Logger,
	}
}

// Reply is the outcome of one user message.
type Reply struct {
	Text         string            `json:"text"`
	Envelopes    []domain.Envelope `json:"envelopes"`
	DeferredTask string            `json:"deferredTask,omitempty"`
}

// Chat sends the user message, resolves tool calls until the model answers in
// text and then submits the collected envelopes for deferred work.
func (a *Assistant) Chat(ctx context.Context, conversationID, text, locale string) (Reply, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if a.system != "" {
		messages = append(messages, openai.SystemMessage(a.system))
	}
	messages = append(messages, openai.UserMessage(text))
	tools := OpenAITools(a.turn.Capabilities(conversationID))

	var all []domain.Envelope
	for round := 0; round < a.maxRounds; round++ {
		chat, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    openai.F(openai.ChatModel(a.model)),
			Messages: openai.F(messages),
			Tools:    openai.F(tools),
		})
		if err != nil {
			return Reply{}, fmt.Errorf("chat completion: %w", err)
		}
		if len(chat.Choices) == 0 {
			return Reply{}, errors.New("chat completion returned no choices")
		}
		msg := chat.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			reply := Reply{Text: msg.Content, Envelopes: all}
			reply.DeferredTask = a.turn.Defer(ctx, conversationID, all)
			return reply, nil
		}

		messages = append(messages, msg)
		calls := ToolCallsFromOpenAI(msg.ToolCalls)
		envelopes, err := a.turn.Invoke(ctx, conversationID, calls, locale)
		if err != nil {
			a.logger.Warn("tool round had failures", "round", round, "err", err)
		}
		for i, env := range envelopes {
			messages = append(messages, openai.ToolMessage(calls[i].ID, env.Answer))
		}
		all = append(all, envelopes...)
	}

	// Out of rounds: the user still gets the deferred work they asked for.
	task := a.turn.Defer(ctx, conversationID, all)
	return Reply{Envelopes: all, DeferredTask: task}, fmt.Errorf("no final answer after %d tool rounds", a.maxRounds)
}
