package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricebot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "pricebot.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_ListFilesEmpty(t *testing.T) {
	s := newTestStore(t)
	files, err := s.ListFiles(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSQLiteStore_AddAndListFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.UnixMilli(1_700_000_000_123)
	t0 := t1.Add(-time.Hour)

	require.NoError(t, s.AddFile(ctx, "conv-1", domain.StoredFile{Filename: "b.png", Size: 20, MimeType: "image/png", TimeUploaded: t1}, OriginGenerated))
	require.NoError(t, s.AddFile(ctx, "conv-1", domain.StoredFile{Filename: "a.txt", Size: 10, MimeType: "text/plain", TimeUploaded: t0}, ""))
	require.NoError(t, s.AddFile(ctx, "conv-2", domain.StoredFile{Filename: "other.pdf", Size: 1, TimeUploaded: t0}, ""))

	files, err := s.ListFiles(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Filename)
	assert.Equal(t, int64(10), files[0].Size)
	assert.Equal(t, "text/plain", files[0].MimeType)
	assert.True(t, files[0].TimeUploaded.Equal(t0))
	assert.Equal(t, "b.png", files[1].Filename)
	assert.True(t, files[1].TimeUploaded.Equal(t1))
}

func TestSQLiteStore_AddFileValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	assert.Error(t, s.AddFile(ctx, "", domain.StoredFile{Filename: "x"}, ""))
	assert.Error(t, s.AddFile(ctx, "c", domain.StoredFile{}, ""))
}

func TestSQLiteStore_AddFileDefaultsUploadTime(t *testing.T) {
	s := newTestStore(t)
	fixed := time.UnixMilli(1_650_000_000_000)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.AddFile(context.Background(), "c", domain.StoredFile{Filename: "x"}, ""))
	files, err := s.ListFiles(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].TimeUploaded.Equal(fixed))
}

func TestSQLiteStore_VoicePreference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	on, err := s.GetVoicePreference(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, on, "missing row reads as disabled")

	require.NoError(t, s.SetVoicePreference(ctx, "conv-1", true))
	on, err = s.GetVoicePreference(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, s.SetVoicePreference(ctx, "conv-1", false))
	on, err = s.GetVoicePreference(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, on)

	on, err = s.GetVoicePreference(ctx, "conv-2")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestSQLiteStore_ClosedDBErrors(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	_, err := s.GetVoicePreference(context.Background(), "c")
	assert.Error(t, err)
	_, err = s.ListFiles(context.Background(), "c")
	assert.Error(t, err)
}

func TestSQLiteStore_Backup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddFile(ctx, "conv-1", domain.StoredFile{Filename: "a.txt"}, ""))
	require.NoError(t, s.SetVoicePreference(ctx, "conv-1", true))
	require.NoError(t, s.Ping(ctx))

	dest := filepath.Join(t.TempDir(), "backups", "copy.db")
	require.NoError(t, s.Backup(ctx, dest))
	assert.Error(t, s.Backup(ctx, dest), "existing target is refused")

	restored, err := NewSQLiteStore(dest, testLogger())
	require.NoError(t, err)
	defer restored.Close()

	files, err := restored.ListFiles(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Filename)
	on, err := restored.GetVoicePreference(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, on)
}
