package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"pricebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeFiles struct {
	files map[string][]domain.StoredFile
	err   error
}

func (f *fakeFiles) ListFiles(_ context.Context, conversationID string) ([]domain.StoredFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.files[conversationID], nil
}

type fakePreferences struct {
	mu    sync.Mutex
	voice map[string]bool
	err   error
}

func newFakePreferences() *fakePreferences {
	return &fakePreferences{voice: make(map[string]bool)}
}

func (p *fakePreferences) GetVoicePreference(_ context.Context, conversationID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return false, p.err
	}
	return p.voice[conversationID], nil
}

func (p *fakePreferences) SetVoicePreference(_ context.Context, conversationID string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.voice[conversationID] = enabled
	return nil
}

type fakeIndicators struct {
	summary json.RawMessage
	err     error
}

func (f fakeIndicators) ComputeIndicators(context.Context) (json.RawMessage, error) {
	return f.summary, f.err
}
