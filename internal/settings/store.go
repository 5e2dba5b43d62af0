// Package settings persists per-guild auto-TTS channels and per-user voice choices.
//
// The backing file holds two maps:
//
//	{
//	  "guilds": {"<guild id>": {"tts_channel_id": "<channel id>"}},
//	  "users":  {"<user id>":  {"voice_id": "<voice id>"}}
//	}
//
// The older flat format, {"<guild id>": {"tts_channel_id": <channel id>}}, is still
// read; its channels are imported and the next write converts the file.
//
// Every mutation is written to disk before it becomes visible to readers.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

var (
	// ErrPathEmpty indicates that no settings path was given.
	ErrPathEmpty = errors.New("settings path cannot be empty")
	// ErrDefaultVoiceEmpty indicates that no default voice was given.
	ErrDefaultVoiceEmpty = errors.New("default voice cannot be empty")
	// ErrIDEmpty indicates an empty guild, channel, user or voice ID.
	ErrIDEmpty = errors.New("id cannot be empty")
)

// PersistenceError reports that the settings file could not be read or written.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("settings %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// GuildSettings is the per-guild configuration.
type GuildSettings struct {
	TTSChannelID string `json:"tts_channel_id,omitempty"`
}

// UserSettings is the per-user configuration.
type UserSettings struct {
	VoiceID string `json:"voice_id,omitempty"`
}

const (
	guildsKey = "guilds"
	usersKey  = "users"
)

type document struct {
	Guilds map[string]GuildSettings `json:"guilds"`
	Users  map[string]UserSettings  `json:"users"`
}

func emptyDocument() document {
	return document{
		Guilds: make(map[string]GuildSettings),
		Users:  make(map[string]UserSettings),
	}
}

func (d document) clone() document {
	return document{
		Guilds: maps.Clone(d.Guilds),
		Users:  maps.Clone(d.Users),
	}
}

// Store is the single owner of persisted settings.
type Store struct {
	path         string
	defaultVoice string
	log          *logger.Logger

	mu  sync.RWMutex
	doc document
}

// New opens the store at path. A missing file starts an empty configuration;
// an unreadable or malformed file is logged and replaced by an empty one.
func New(path, defaultVoice string, log *logger.Logger) (*Store, error) {
	if path == "" {
		return nil, ErrPathEmpty
	}

	if defaultVoice == "" {
		return nil, ErrDefaultVoiceEmpty
	}

	store := &Store{
		path:         path,
		defaultVoice: defaultVoice,
		log:          log,
		mu:           sync.RWMutex{},
		doc:          emptyDocument(),
	}

	doc, err := store.read()
	if err != nil {
		log.Error("Failed to load settings, resetting to empty configuration: %v", err)

		resetErr := store.write(emptyDocument())
		if resetErr != nil {
			log.Error("Failed to reset settings file: %v", resetErr)
		}

		return store, nil
	}

	store.doc = doc
	log.Info("Loaded settings for %d guilds and %d users from %s", len(doc.Guilds), len(doc.Users), path)

	return store, nil
}

// DefaultVoice returns the voice used for users without a preference.
func (s *Store) DefaultVoice() string {
	return s.defaultVoice
}

// TTSChannel returns the auto-TTS text channel configured for a guild.
func (s *Store) TTSChannel(guildID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	guild, ok := s.doc.Guilds[guildID]
	if !ok || guild.TTSChannelID == "" {
		return "", false
	}

	return guild.TTSChannelID, true
}

// TTSChannels returns a snapshot of every configured auto-TTS channel by guild.
func (s *Store) TTSChannels() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make(map[string]string, len(s.doc.Guilds))
	for guildID, guild := range s.doc.Guilds {
		if guild.TTSChannelID != "" {
			channels[guildID] = guild.TTSChannelID
		}
	}

	return channels
}

// SetTTSChannel sets the auto-TTS channel for a guild, replacing any previous one.
func (s *Store) SetTTSChannel(guildID, channelID string) error {
	if guildID == "" || channelID == "" {
		return ErrIDEmpty
	}

	return s.update(func(doc *document) bool {
		guild := doc.Guilds[guildID]
		if guild.TTSChannelID == channelID {
			return false
		}

		guild.TTSChannelID = channelID
		doc.Guilds[guildID] = guild

		return true
	})
}

// UserVoice returns the user's voice, or the default voice when none is set.
func (s *Store) UserVoice(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.doc.Users[userID]
	if !ok || user.VoiceID == "" {
		return s.defaultVoice
	}

	return user.VoiceID
}

// SetUserVoice stores the user's voice preference.
func (s *Store) SetUserVoice(userID, voiceID string) error {
	if userID == "" || voiceID == "" {
		return ErrIDEmpty
	}

	return s.update(func(doc *document) bool {
		user := doc.Users[userID]
		if user.VoiceID == voiceID {
			return false
		}

		user.VoiceID = voiceID
		doc.Users[userID] = user

		return true
	})
}

// update applies mutate to a copy, persists it and only then publishes it.
func (s *Store) update(mutate func(doc *document) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if !mutate(&next) {
		return nil
	}

	err := s.write(next)
	if err != nil {
		return err
	}

	s.doc = next

	return nil
}

func (s *Store) read() (document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return emptyDocument(), nil
	}

	if err != nil {
		return document{}, &PersistenceError{Op: "read", Path: s.path, Err: err}
	}

	var top map[string]json.RawMessage

	err = json.Unmarshal(data, &top)
	if err != nil {
		return document{}, &PersistenceError{Op: "decode", Path: s.path, Err: err}
	}

	if isLegacy(top) {
		doc, legacyErr := decodeLegacy(top)
		if legacyErr != nil {
			return document{}, &PersistenceError{Op: "decode", Path: s.path, Err: legacyErr}
		}

		s.log.Warn("Imported %d guild channels from legacy settings file %s", len(doc.Guilds), s.path)

		return doc, nil
	}

	doc := emptyDocument()

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return document{}, &PersistenceError{Op: "decode", Path: s.path, Err: err}
	}

	if doc.Guilds == nil {
		doc.Guilds = make(map[string]GuildSettings)
	}

	if doc.Users == nil {
		doc.Users = make(map[string]UserSettings)
	}

	return doc, nil
}

// legacyGuild is one entry of the older flat format, keyed directly by guild ID, where
// channel IDs may be JSON numbers.
type legacyGuild struct {
	TTSChannelID json.Number `json:"tts_channel_id"`
}

func isLegacy(top map[string]json.RawMessage) bool {
	if len(top) == 0 {
		return false
	}

	_, hasGuilds := top[guildsKey]
	_, hasUsers := top[usersKey]

	return !hasGuilds && !hasUsers
}

func decodeLegacy(top map[string]json.RawMessage) (document, error) {
	doc := emptyDocument()

	for guildID, raw := range top {
		var entry legacyGuild

		err := json.Unmarshal(raw, &entry)
		if err != nil {
			return document{}, fmt.Errorf("legacy guild %s: %w", guildID, err)
		}

		if entry.TTSChannelID != "" {
			doc.Guilds[guildID] = GuildSettings{TTSChannelID: entry.TTSChannelID.String()}
		}
	}

	return doc, nil
}

// write replaces the settings file atomically via a temp file in the same directory.
func (s *Store) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)

	err = os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}

	tempName := tempFile.Name()

	defer func() {
		removeErr := os.Remove(tempName)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn("Failed to remove temp settings file '%s': %v", tempName, removeErr)
		}
	}()

	_, err = tempFile.Write(data)
	if err == nil {
		err = tempFile.Sync()
	}

	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Chmod(tempName, filePermissions)
	}

	if err == nil {
		err = os.Rename(tempName, s.path)
	}

	if err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}

	return nil
}
