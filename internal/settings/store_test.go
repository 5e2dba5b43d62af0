package settings_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultVoice = "21m00Tcm4TlvDq8ikWAM"

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "settings-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func openStore(t *testing.T, path string) *settings.Store {
	t.Helper()

	store, err := settings.New(path, defaultVoice, newTestLogger(t))
	require.NoError(t, err)

	return store
}

func readFile(t *testing.T, path string) map[string]map[string]map[string]string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]map[string]map[string]string

	require.NoError(t, json.Unmarshal(data, &doc))

	return doc
}

func TestNew_RejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	_, err := settings.New("", defaultVoice, log)
	require.ErrorIs(t, err, settings.ErrPathEmpty)

	_, err = settings.New(filepath.Join(t.TempDir(), "s.json"), "", log)
	require.ErrorIs(t, err, settings.ErrDefaultVoiceEmpty)
}

func TestNew_MissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	store := openStore(t, filepath.Join(t.TempDir(), "settings.json"))

	_, ok := store.TTSChannel("guild-1")
	assert.False(t, ok)
	assert.Empty(t, store.TTSChannels())
	assert.Equal(t, defaultVoice, store.UserVoice("user-1"))
}

func TestNew_CorruptFileResetsAndStillPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := openStore(t, path)

	_, ok := store.TTSChannel("guild-1")
	assert.False(t, ok)

	require.NoError(t, store.SetTTSChannel("guild-1", "channel-9"))

	channel, ok := store.TTSChannel("guild-1")
	require.True(t, ok)
	assert.Equal(t, "channel-9", channel)

	doc := readFile(t, path)
	assert.Equal(t, "channel-9", doc["guilds"]["guild-1"]["tts_channel_id"])

	reopened := openStore(t, path)
	channel, ok = reopened.TTSChannel("guild-1")
	require.True(t, ok)
	assert.Equal(t, "channel-9", channel)
}

func TestNew_ImportsLegacyFlatFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "server_settings.json")
	legacy := `{
    "123456789012345678": {"tts_channel_id": 987654321098765432},
    "222": {"tts_channel_id": "333"},
    "444": {}
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	store := openStore(t, path)

	channel, ok := store.TTSChannel("123456789012345678")
	require.True(t, ok)
	assert.Equal(t, "987654321098765432", channel)

	channel, ok = store.TTSChannel("222")
	require.True(t, ok)
	assert.Equal(t, "333", channel)

	_, ok = store.TTSChannel("444")
	assert.False(t, ok)

	require.NoError(t, store.SetUserVoice("user-1", "voice-a"))

	doc := readFile(t, path)
	assert.Equal(t, "987654321098765432", doc["guilds"]["123456789012345678"]["tts_channel_id"])
	assert.Equal(t, "333", doc["guilds"]["222"]["tts_channel_id"])
	assert.Equal(t, "voice-a", doc["users"]["user-1"]["voice_id"])
}

func TestSetTTSChannel_IsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	store := openStore(t, path)

	require.NoError(t, store.SetTTSChannel("guild-1", "channel-1"))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, store.SetTTSChannel("guild-1", "channel-1"))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]string{"guild-1": "channel-1"}, store.TTSChannels())
}

func TestSetTTSChannel_Overwrites(t *testing.T) {
	t.Parallel()

	store := openStore(t, filepath.Join(t.TempDir(), "settings.json"))

	require.NoError(t, store.SetTTSChannel("guild-1", "channel-1"))
	require.NoError(t, store.SetTTSChannel("guild-1", "channel-2"))

	channel, ok := store.TTSChannel("guild-1")
	require.True(t, ok)
	assert.Equal(t, "channel-2", channel)
}

func TestUserVoice_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	store := openStore(t, path)

	require.NoError(t, store.SetUserVoice("user-1", "voice-a"))
	assert.Equal(t, "voice-a", store.UserVoice("user-1"))
	assert.Equal(t, defaultVoice, store.UserVoice("user-2"))

	reopened := openStore(t, path)
	assert.Equal(t, "voice-a", reopened.UserVoice("user-1"))

	doc := readFile(t, path)
	assert.Equal(t, "voice-a", doc["users"]["user-1"]["voice_id"])
}

func TestSetters_RejectEmptyIDs(t *testing.T) {
	t.Parallel()

	store := openStore(t, filepath.Join(t.TempDir(), "settings.json"))

	require.ErrorIs(t, store.SetTTSChannel("", "channel"), settings.ErrIDEmpty)
	require.ErrorIs(t, store.SetTTSChannel("guild", ""), settings.ErrIDEmpty)
	require.ErrorIs(t, store.SetUserVoice("", "voice"), settings.ErrIDEmpty)
	require.ErrorIs(t, store.SetUserVoice("user", ""), settings.ErrIDEmpty)
}

func TestSet_UnwritableStorageFailsWithoutCommitting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store := openStore(t, filepath.Join(blocker, "settings.json"))

	err := store.SetTTSChannel("guild-1", "channel-1")

	var persistErr *settings.PersistenceError

	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "write", persistErr.Op)

	_, ok := store.TTSChannel("guild-1")
	assert.False(t, ok, "a failed write must not become visible")

	err = store.SetUserVoice("user-1", "voice-a")
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, defaultVoice, store.UserVoice("user-1"))
}
