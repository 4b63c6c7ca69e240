package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricebot/internal/domain"
	"pricebot/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTurn struct {
	mu       sync.Mutex
	calls    []domain.ToolCall
	convs    []string
	deferred int
	fail     error
}

func (f *fakeTurn) Capabilities(string) []domain.CapabilityDescriptor {
	return tool.MustCatalog().List("")
}

func (f *fakeTurn) Invoke(_ context.Context, conv string, calls []domain.ToolCall, _ string) ([]domain.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, calls...)
	f.convs = append(f.convs, conv)
	if f.fail != nil {
		return []domain.Envelope{{Answer: "Error executing tool " + calls[0].Name + ": " + f.fail.Error(), FunctionName: calls[0].Name}}, f.fail
	}
	env := domain.Envelope{Answer: "ok " + calls[0].Name, FunctionName: calls[0].Name}
	if calls[0].Name == string(domain.CapGenerateImage) {
		env.NeedsPostProcessing = true
		env.Data = domain.ImageRequest{ConversationID: conv, Description: "cat"}
	}
	return []domain.Envelope{env}, nil
}

func (f *fakeTurn) Defer(_ context.Context, _ string, envs []domain.Envelope) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if envs[0].NeedsPostProcessing {
		f.deferred++
		return "task"
	}
	return ""
}

func newTestServer(turn *fakeTurn) *Server {
	return New(Config{Name: "pricebot", Version: "test", ConversationID: "mcp-conv", Turn: turn, Logger: testLogger()})
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func TestToolFor_MapsParameters(t *testing.T) {
	s := newTestServer(&fakeTurn{})
	cat := tool.MustCatalog()

	image, ok := cat.Lookup(domain.CapGenerateImage)
	require.True(t, ok)
	it := s.toolFor(image)
	assert.Equal(t, "generate_image", it.Name)
	assert.Equal(t, image.Description, it.Description)
	prop, ok := it.InputSchema.Properties["description"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", prop["type"])

	voice, ok := cat.Lookup(domain.CapSetVoice)
	require.True(t, ok)
	vt := s.toolFor(voice)
	prop, ok = vt.InputSchema.Properties["isVoiceEnabled"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boolean", prop["type"])

	now, ok := cat.Lookup(domain.CapCurrentTime)
	require.True(t, ok)
	assert.Empty(t, s.toolFor(now).InputSchema.Properties)
}

func TestCallTool_RunsOneCallTurnAndDefers(t *testing.T) {
	turn := &fakeTurn{}
	s := newTestServer(turn)

	var req mcp.CallToolRequest
	req.Params.Name = "generate_image"
	req.Params.Arguments = map[string]interface{}{"description": "cat"}

	res, err := s.callTool(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok generate_image", resultText(t, res))
	assert.False(t, res.IsError)

	require.Len(t, turn.calls, 1)
	assert.JSONEq(t, `{"description":"cat"}`, turn.calls[0].Arguments)
	assert.NotEmpty(t, turn.calls[0].ID)
	assert.Equal(t, []string{"mcp-conv"}, turn.convs)
	assert.Equal(t, 1, turn.deferred)
}

func TestCallTool_NoArgumentsSendsEmptyObject(t *testing.T) {
	turn := &fakeTurn{}
	s := newTestServer(turn)

	var req mcp.CallToolRequest
	req.Params.Name = "get_voice"
	_, err := s.callTool(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "{}", turn.calls[0].Arguments)
	assert.Zero(t, turn.deferred)
}

func TestCallTool_CollaboratorFailureIsToolError(t *testing.T) {
	turn := &fakeTurn{fail: errors.New("db down")}
	s := newTestServer(turn)

	var req mcp.CallToolRequest
	req.Params.Name = "list_files"
	res, err := s.callTool(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "db down")
	assert.Zero(t, turn.deferred)
}

func TestHandleMessage_ListsCatalogTools(t *testing.T) {
	s := newTestServer(&fakeTurn{})
	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var decoded struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	var names []string
	for _, tl := range decoded.Result.Tools {
		names = append(names, tl.Name)
	}
	for _, n := range domain.CapabilityNames {
		assert.Contains(t, names, string(n))
	}
}
