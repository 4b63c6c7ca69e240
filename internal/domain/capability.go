package domain

import (
	"context"
	"encoding/json"
	"time"
)

// CapabilityName identifies a capability the language model may invoke.
// The set is closed; the wire value is what the model sends back.
type CapabilityName string

const (
	CapGenerateImage        CapabilityName = "generate_image"
	CapListFiles            CapabilityName = "list_files"
	CapDescribeCapabilities CapabilityName = "description"
	CapGetVoice             CapabilityName = "get_voice"
	CapSetVoice             CapabilityName = "set_voice"
	CapCurrentTime          CapabilityName = "current_date_and_time"
	CapTechnicalIndicators  CapabilityName = "pivot_points"
)

// CapabilityNames lists every capability in advertised order.
var CapabilityNames = []CapabilityName{
	CapGenerateImage,
	CapListFiles,
	CapDescribeCapabilities,
	CapGetVoice,
	CapSetVoice,
	CapCurrentTime,
	CapTechnicalIndicators,
}

// ParseCapabilityName matches a wire name exactly (case-sensitive).
func ParseCapabilityName(s string) (CapabilityName, bool) {
	for _, n := range CapabilityNames {
		if string(n) == s {
			return n, true
		}
	}
	return "", false
}

// CapabilityDescriptor is what the model sees for one capability.
// Parameters is a JSON Schema object, or nil when the capability takes no arguments.
type CapabilityDescriptor struct {
	Name        CapabilityName `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is one invocation request emitted by the model.
// Arguments holds the raw serialized object text; it may be empty or malformed.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Envelope is the result of one invocation.
// Data is set only when NeedsPostProcessing is true.
type Envelope struct {
	Answer              string          `json:"answer"`
	NeedsPostProcessing bool            `json:"needsPostProcessing"`
	FunctionName        string          `json:"functionName"`
	Data                DeferredPayload `json:"data,omitempty"`
}

// DeferredPayload carries the data a deferred handler needs.
// Each implementation is tied to exactly one capability.
type DeferredPayload interface {
	Capability() CapabilityName
}

// ImageRequest is the deferred payload of generate_image.
type ImageRequest struct {
	ConversationID string `json:"id"`
	Description    string `json:"description"`
}

func (ImageRequest) Capability() CapabilityName { return CapGenerateImage }

// StoredFile is a file record held by the file store.
type StoredFile struct {
	Filename     string
	Size         int64
	MimeType     string
	TimeUploaded time.Time
}

// FileStore reads files uploaded within a conversation.
type FileStore interface {
	ListFiles(ctx context.Context, conversationID string) ([]StoredFile, error)
}

// PreferenceStore keeps the per-conversation voice preference.
// A conversation with no stored value reads as disabled.
type PreferenceStore interface {
	GetVoicePreference(ctx context.Context, conversationID string) (bool, error)
	SetVoicePreference(ctx context.Context, conversationID string, enabled bool) error
}

// IndicatorService computes the opaque technical-indicator summary.
type IndicatorService interface {
	ComputeIndicators(ctx context.Context) (json.RawMessage, error)
}

// Delivery is one job handed to the downstream delivery channel.
type Delivery struct {
	ConversationID string `json:"conversationId"`
	Payload        string `json:"payload"`
	SourceLabel    string `json:"sourceLabel"`
	AIGenerated    bool   `json:"isAiGenerated"`
}

// Notifier hands deferred work to a delivery channel.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}
