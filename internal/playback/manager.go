// Package playback serializes speech playback per guild.
//
// Each guild has one session holding at most one voice connection and a FIFO queue of
// requests. Enqueue never blocks on synthesis or audio; the first request to reach an
// idle session starts that session's drain loop, and later requests join its queue.
// Only the drain loop connects, plays and disconnects, so a guild never holds two
// connections or two concurrent streams.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/core"
)

const releaseTimeout = 10 * time.Second

// Config tunes the manager.
type Config struct {
	// IdleTimeout disconnects a session that has had nothing to play for this long.
	// Zero keeps idle connections until Leave or Shutdown.
	IdleTimeout time.Duration
	// PlayTimeout bounds one request from synthesis to the end of playback. Zero means no bound.
	PlayTimeout time.Duration
}

// Manager owns every guild's playback session.
type Manager struct {
	synth     core.Synthesizer
	connector core.VoiceConnector
	config    Config
	log       *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	drains sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	sessions map[string]*session
}

type session struct {
	guildID string

	mu       sync.Mutex
	queue    []core.PlaybackRequest
	draining bool
	playing  bool
	conn     core.VoiceConnection
	leave    bool
	idle     *time.Timer
	idleGen  uint64
}

// NewManager creates a manager that synthesizes with synth and plays through connector.
func NewManager(synth core.Synthesizer, connector core.VoiceConnector, cfg Config, log *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		synth:     synth,
		connector: connector,
		config:    cfg,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		drains:    sync.WaitGroup{},
		mu:        sync.Mutex{},
		closed:    false,
		sessions:  make(map[string]*session),
	}
}

// Enqueue queues req behind the guild's pending requests and returns immediately.
func (m *Manager) Enqueue(req core.PlaybackRequest) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		finish(req, ErrClosed)

		return
	}

	s := m.sessionLocked(req.GuildID)

	s.mu.Lock()
	s.queue = append(s.queue, req)
	s.leave = false
	s.stopIdleLocked()

	start := !s.draining
	if start {
		s.draining = true

		m.drains.Add(1)
	}
	s.mu.Unlock()
	m.mu.Unlock()

	if start {
		go m.drain(s)
	}
}

// Leave releases the guild's voice connection, right away when the session is idle or
// once the queue has drained otherwise.
func (m *Manager) Leave(guildID string) {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	m.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	if s.draining {
		s.leave = true
		s.mu.Unlock()

		return
	}

	s.stopIdleLocked()
	conn := s.takeConnLocked()
	s.mu.Unlock()

	m.disconnect(guildID, conn, "leave")
}

// Connected reports whether the guild currently holds a voice connection.
func (m *Manager) Connected(guildID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	m.mu.Unlock()

	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn != nil
}

// Playing reports whether audio is currently streaming in the guild.
func (m *Manager) Playing(guildID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	m.mu.Unlock()

	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.playing
}

// Shutdown stops accepting requests, cancels in-flight work, waits for drain loops to
// exit and disconnects every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})

	go func() {
		m.drains.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.stopIdleLocked()
		conn := s.takeConnLocked()
		s.mu.Unlock()

		m.disconnect(s.guildID, conn, "shutdown")
	}

	return nil
}

func (m *Manager) sessionLocked(guildID string) *session {
	s, ok := m.sessions[guildID]
	if !ok {
		s = &session{guildID: guildID}
		m.sessions[guildID] = s
	}

	return s
}

// drain serves the session's queue head-first until it is empty.
func (m *Manager) drain(s *session) {
	defer m.drains.Done()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false

			var conn core.VoiceConnection
			if s.leave {
				s.leave = false
				conn = s.takeConnLocked()
			} else {
				m.armIdleLocked(s)
			}
			s.mu.Unlock()

			m.disconnect(s.guildID, conn, "leave after drain")

			return
		}

		req := s.queue[0]
		s.queue[0] = core.PlaybackRequest{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		err := m.ctx.Err()
		if err != nil {
			finish(req, ErrClosed)

			continue
		}

		err = m.serve(s, req)
		if err != nil {
			m.log.Error("Playback request %s for user %s in guild %s failed: %v", req.ID, req.UserID, s.guildID, err)
		}

		finish(req, err)
	}
}

// serve synthesizes, connects and plays one request. The audio is released on every
// path once synthesis has succeeded.
func (m *Manager) serve(s *session, req core.PlaybackRequest) error {
	ctx := m.ctx

	if m.config.PlayTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, m.config.PlayTimeout)
		defer cancel()
	}

	audio, err := m.synth.Synthesize(ctx, req.UserID, req.Text)
	if err != nil {
		return err
	}

	defer m.release(s.guildID, audio)

	data, err := audio.Load(ctx)
	if err != nil {
		return &PlaybackError{GuildID: s.guildID, Key: audio.Key(), Err: err}
	}

	conn, err := m.ensureConnection(ctx, s, req.ChannelID)
	if err != nil {
		return err
	}

	s.setPlaying(true)
	err = conn.Play(ctx, data)
	s.setPlaying(false)

	if err != nil {
		m.dropConnection(s)

		return &PlaybackError{GuildID: s.guildID, Key: audio.Key(), Err: err}
	}

	return nil
}

// ensureConnection reuses the session's connection when it is on channelID and
// otherwise replaces it. Only the drain loop calls it.
func (m *Manager) ensureConnection(ctx context.Context, s *session, channelID string) (core.VoiceConnection, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil && conn.ChannelID() == channelID {
		return conn, nil
	}

	if conn != nil {
		m.dropConnection(s)
	}

	conn, err := m.connector.Connect(ctx, s.guildID, channelID)
	if err != nil {
		return nil, &ConnectionError{GuildID: s.guildID, ChannelID: channelID, Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	m.log.Info("Joined voice channel %s in guild %s", channelID, s.guildID)

	return conn, nil
}

func (m *Manager) dropConnection(s *session) {
	s.mu.Lock()
	conn := s.takeConnLocked()
	s.mu.Unlock()

	m.disconnect(s.guildID, conn, "reset")
}

func (m *Manager) disconnect(guildID string, conn core.VoiceConnection, reason string) {
	if conn == nil {
		return
	}

	err := conn.Disconnect()
	if err != nil {
		m.log.Warn("Failed to disconnect from voice channel %s in guild %s (%s): %v", conn.ChannelID(), guildID, reason, err)

		return
	}

	m.log.Info("Left voice channel %s in guild %s (%s)", conn.ChannelID(), guildID, reason)
}

func (m *Manager) release(guildID string, audio core.AudioResource) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), releaseTimeout)
	defer cancel()

	err := audio.Release(ctx)
	if err != nil {
		m.log.Warn("Failed to release audio %s in guild %s: %v", audio.Key(), guildID, err)
	}
}

// armIdleLocked starts the idle timer for a session that just ran out of work.
func (m *Manager) armIdleLocked(s *session) {
	if m.config.IdleTimeout <= 0 || s.conn == nil {
		return
	}

	s.stopIdleLocked()

	s.idleGen++
	gen := s.idleGen
	s.idle = time.AfterFunc(m.config.IdleTimeout, func() {
		m.expire(s, gen)
	})
}

func (m *Manager) expire(s *session, gen uint64) {
	s.mu.Lock()
	if s.idleGen != gen || s.draining || len(s.queue) > 0 {
		s.mu.Unlock()

		return
	}

	s.idle = nil
	conn := s.takeConnLocked()
	s.mu.Unlock()

	m.disconnect(s.guildID, conn, "idle")
}

func (s *session) stopIdleLocked() {
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}

	s.idleGen++
}

func (s *session) takeConnLocked() core.VoiceConnection {
	conn := s.conn
	s.conn = nil

	return conn
}

func (s *session) setPlaying(playing bool) {
	s.mu.Lock()
	s.playing = playing
	s.mu.Unlock()
}

func finish(req core.PlaybackRequest, err error) {
	if req.OnDone != nil {
		req.OnDone(err)
	}
}
