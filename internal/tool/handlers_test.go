package tool

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricebot/internal/domain"
)

func testHandlers(t *testing.T, cfg HandlerConfig) map[domain.CapabilityName]Handler {
	t.Helper()
	if cfg.Preferences == nil {
		cfg.Preferences = newFakePreferences()
	}
	if cfg.Files == nil {
		cfg.Files = &fakeFiles{}
	}
	if cfg.Indicators == nil {
		cfg.Indicators = fakeIndicators{summary: json.RawMessage(`{}`)}
	}
	return Handlers(cfg)
}

func TestDescribe_ConfiguredAndDefault(t *testing.T) {
	h := testHandlers(t, HandlerConfig{BotDescription: "hello"})
	env, err := h[domain.CapDescribeCapabilities](context.Background(), "c", Args{})
	require.NoError(t, err)
	assert.Equal(t, "hello", env.Answer)
	assert.False(t, env.NeedsPostProcessing)

	h = testHandlers(t, HandlerConfig{})
	env, err = h[domain.CapDescribeCapabilities](context.Background(), "c", Args{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBotDescription, env.Answer)
}

func TestCurrentTime_UTCFormat(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	fixed := time.Date(2024, 3, 9, 1, 2, 3, 0, loc)
	h := testHandlers(t, HandlerConfig{Now: func() time.Time { return fixed }})

	env, err := h[domain.CapCurrentTime](context.Background(), "c", Args{})
	require.NoError(t, err)
	assert.Equal(t, "Fri, 08 Mar 2024 22:02:03 GMT", env.Answer)
	assert.False(t, env.NeedsPostProcessing)
}

func TestIndicators_EmbedsSummaryVerbatim(t *testing.T) {
	h := testHandlers(t, HandlerConfig{Indicators: fakeIndicators{summary: json.RawMessage(`{"1m":{"pivot":1.5}}`)}})
	env, err := h[domain.CapTechnicalIndicators](context.Background(), "c", Args{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pivotPoints":{"1m":{"pivot":1.5}}}`, env.Answer)
}

func TestIndicators_ErrorPropagates(t *testing.T) {
	boom := errors.New("upstream down")
	h := testHandlers(t, HandlerConfig{Indicators: fakeIndicators{err: boom}})
	_, err := h[domain.CapTechnicalIndicators](context.Background(), "c", Args{})
	assert.ErrorIs(t, err, boom)
}

func TestVoice_SetThenGet(t *testing.T) {
	prefs := newFakePreferences()
	h := testHandlers(t, HandlerConfig{Preferences: prefs})
	ctx := context.Background()

	env, err := h[domain.CapGetVoice](ctx, "c", Args{})
	require.NoError(t, err)
	assert.Equal(t, AnswerVoiceDisabled, env.Answer)

	env, err = h[domain.CapSetVoice](ctx, "c", Args{"isVoiceEnabled": true})
	require.NoError(t, err)
	assert.Equal(t, AnswerVoiceSetEnabled, env.Answer)

	env, err = h[domain.CapGetVoice](ctx, "c", Args{})
	require.NoError(t, err)
	assert.Equal(t, AnswerVoiceEnabled, env.Answer)
}

func TestSetVoice_NonTrueCoercesToFalse(t *testing.T) {
	cases := map[string]Args{
		"absent":  {},
		"string":  {"isVoiceEnabled": "true"},
		"number":  {"isVoiceEnabled": json.Number("1")},
		"null":    {"isVoiceEnabled": nil},
		"false":   {"isVoiceEnabled": false},
		"object":  {"isVoiceEnabled": map[string]any{"v": true}},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			prefs := newFakePreferences()
			prefs.voice["c"] = true
			h := testHandlers(t, HandlerConfig{Preferences: prefs})

			env, err := h[domain.CapSetVoice](context.Background(), "c", args)
			require.NoError(t, err)
			assert.Equal(t, AnswerVoiceSetDisabled, env.Answer)
			assert.False(t, prefs.voice["c"])
		})
	}
}

func TestVoice_StoreErrorPropagates(t *testing.T) {
	prefs := newFakePreferences()
	prefs.err = errors.New("locked")
	h := testHandlers(t, HandlerConfig{Preferences: prefs})

	_, err := h[domain.CapGetVoice](context.Background(), "c", Args{})
	assert.ErrorIs(t, err, prefs.err)
	_, err = h[domain.CapSetVoice](context.Background(), "c", Args{"isVoiceEnabled": true})
	assert.ErrorIs(t, err, prefs.err)
}

func TestListFiles_Empty(t *testing.T) {
	h := testHandlers(t, HandlerConfig{Files: &fakeFiles{}})
	env, err := h[domain.CapListFiles](context.Background(), "c", Args{})
	require.NoError(t, err)
	assert.Equal(t, AnswerNoFiles, env.Answer)
}

func TestListFiles_Entries(t *testing.T) {
	loc := time.FixedZone("EET", 2*3600)
	uploaded := time.Date(2024, 1, 2, 22, 4, 5, 0, time.UTC)
	files := &fakeFiles{files: map[string][]domain.StoredFile{
		"c": {
			{Filename: "chart.png", Size: 2048, MimeType: "image/png", TimeUploaded: uploaded},
			{Filename: "notes.txt", Size: 10, MimeType: "text/plain", TimeUploaded: uploaded.Add(time.Hour)},
		},
	}}
	h := testHandlers(t, HandlerConfig{Files: files, Location: loc})

	env, err := h[domain.CapListFiles](context.Background(), "c", Args{})
	require.NoError(t, err)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.Answer), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "chart.png", entries[0]["filename"])
	assert.Equal(t, float64(2048), entries[0]["sizeInBytes"])
	assert.Equal(t, "image/png", entries[0]["mimeType"])
	assert.Equal(t, "2024.01.03-00.04.05", entries[0]["timeUploaded"])

	pattern := regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2}$`)
	for _, e := range entries {
		assert.Regexp(t, pattern, e["timeUploaded"])
	}
}

func TestGenerateImage(t *testing.T) {
	h := testHandlers(t, HandlerConfig{})
	ctx := context.Background()

	for name, args := range map[string]Args{
		"absent": {},
		"null":   {"description": nil},
		"number": {"description": json.Number("3")},
		"bool":   {"description": true},
	} {
		env, err := h[domain.CapGenerateImage](ctx, "c", args)
		require.NoError(t, err, name)
		assert.Equal(t, AnswerImageMissing, env.Answer, name)
		assert.False(t, env.NeedsPostProcessing, name)
		assert.Nil(t, env.Data, name)
	}

	env, err := h[domain.CapGenerateImage](ctx, "c", Args{"description": ""})
	require.NoError(t, err)
	assert.True(t, env.NeedsPostProcessing, "an empty description is present")
	assert.Equal(t, domain.ImageRequest{ConversationID: "c", Description: ""}, env.Data)

	env, err = h[domain.CapGenerateImage](ctx, "c", Args{"description": "three lines, dark theme"})
	require.NoError(t, err)
	assert.Equal(t, AnswerImageStarted, env.Answer)
	assert.True(t, env.NeedsPostProcessing)
	assert.Equal(t, domain.ImageRequest{ConversationID: "c", Description: "three lines, dark theme"}, env.Data)
}
