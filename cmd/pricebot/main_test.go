package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricebot/internal/config"
	"pricebot/internal/domain"
	"pricebot/internal/tool"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Storage.DBPath = filepath.Join(dir, "pricebot.db")
	cfg.General.LogLevel = "error"
	cfg.Delivery.SettleMillis = 1
	cfg.Indicators.Static = `{"BTCUSDT":{"pivot":100}}`
	path := filepath.Join(dir, "config.json")
	require.NoError(t, config.Save(path, cfg))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { configPath = "" })
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestWriteCatalog_Plain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCatalog(&buf, tool.MustCatalog().List(""), "plain"))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, len(domain.CapabilityNames))
	for i, n := range domain.CapabilityNames {
		assert.True(t, strings.HasPrefix(lines[i], string(n)), "line %d: %q", i, lines[i])
	}
}

func TestWriteCatalog_OpenAI(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCatalog(&buf, tool.MustCatalog().List(""), "openai"))

	var tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"function"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &tools))
	require.Len(t, tools, len(domain.CapabilityNames))
	assert.Equal(t, "function", tools[0].Type)
	assert.Equal(t, "generate_image", tools[0].Function.Name)
	assert.NotNil(t, tools[0].Function.Parameters)
}

func TestWriteCatalog_UnknownFormat(t *testing.T) {
	assert.Error(t, writeCatalog(&bytes.Buffer{}, nil, "xml"))
}

func TestInvoke_PersistsVoicePreference(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := run(t, "--config", cfgPath, "invoke", "set_voice", `{"isVoiceEnabled":true}`, "--conversation", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "Voice is set to enabled")

	out, err = run(t, "--config", cfgPath, "invoke", "get_voice", "--conversation", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "Voice is enabled")
}

func TestInvoke_UnknownCapabilityIsAnEnvelope(t *testing.T) {
	cfgPath := writeTestConfig(t)
	out, err := run(t, "--config", cfgPath, "invoke", "teleport")
	require.NoError(t, err)
	assert.Contains(t, out, "Function error - wrong function name: teleport")
}

func TestInvoke_ImageRunsDeferredWork(t *testing.T) {
	cfgPath := writeTestConfig(t)
	out, err := run(t, "--config", cfgPath, "invoke", "generate_image", `{"description":"a lighthouse"}`)
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, true, env["needsPostProcessing"])
	assert.Equal(t, "generate_image", env["functionName"])
}

func TestInvoke_StaticIndicators(t *testing.T) {
	cfgPath := writeTestConfig(t)
	out, err := run(t, "--config", cfgPath, "invoke", "pivot_points")
	require.NoError(t, err)
	assert.Contains(t, out, `pivotPoints`)
	assert.Contains(t, out, `BTCUSDT`)
}

func TestFilesAddAndList(t *testing.T) {
	cfgPath := writeTestConfig(t)
	upload := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, os.WriteFile(upload, []byte("png-bytes"), 0o644))

	out, err := run(t, "--config", cfgPath, "files", "add", upload, "--conversation", "c9")
	require.NoError(t, err)
	assert.Contains(t, out, "added chart.png")

	out, err = run(t, "--config", cfgPath, "files", "list", "--conversation", "c9")
	require.NoError(t, err)
	assert.Contains(t, out, "chart.png")
	assert.Contains(t, out, "image/png")

	out, err = run(t, "--config", cfgPath, "invoke", "list_files", "--conversation", "c9")
	require.NoError(t, err)
	assert.Contains(t, out, "chart.png")
}

func TestConfigGetMasksSecrets(t *testing.T) {
	cfgPath := writeTestConfig(t)
	_, err := run(t, "--config", cfgPath, "config", "set", "api.authToken", "supersecrettoken")
	require.NoError(t, err)

	out, err := run(t, "--config", cfgPath, "config", "get", "api.authToken")
	require.NoError(t, err)
	assert.Contains(t, out, "supe****oken")
	assert.NotContains(t, out, "supersecrettoken")
}

func TestBackup(t *testing.T) {
	cfgPath := writeTestConfig(t)
	dest := filepath.Join(t.TempDir(), "copy.db")
	out, err := run(t, "--config", cfgPath, "backup", "-o", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "Backup created: "+dest)
}

func TestRenderServiceFiles(t *testing.T) {
	unit := renderSystemd("/usr/bin/pricebot", "/etc/pricebot.json")
	assert.Contains(t, unit, "ExecStart=/usr/bin/pricebot serve --config /etc/pricebot.json")

	plist := renderLaunchd("/usr/bin/pricebot", "/etc/pricebot.json", "/var/log")
	assert.Contains(t, plist, "<string>serve</string>")
	assert.Contains(t, plist, "/var/log/pricebot-error.log")
	assert.NotContains(t, plist, "{{")
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KB", humanSize(1536))
	assert.Equal(t, "2.0 MB", humanSize(2<<20))
}
