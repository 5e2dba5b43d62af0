// Package router decides what happens to each inbound chat message.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/core"
	"golang.org/x/time/rate"
)

// Message is a chat message as seen by the router.
type Message struct {
	ID        string
	AuthorID  string
	GuildID   string
	ChannelID string
	Text      string
	// AuthorVoiceChannelID is empty when the author is not in a voice channel.
	AuthorVoiceChannelID string
	// ChannelIsVoice is set when the message was posted in a voice channel's text chat.
	ChannelIsVoice bool
	FromSelf       bool
}

// Dispatcher handles prefix commands. Dispatch reports whether the message was consumed.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) bool
}

// ChannelSettings exposes each guild's configured auto-TTS channel.
type ChannelSettings interface {
	TTSChannel(guildID string) (string, bool)
}

// Enqueuer accepts playback requests.
type Enqueuer interface {
	Enqueue(req core.PlaybackRequest)
}

// limiterSweepInterval is how often limiters of quiet users are forgotten.
const limiterSweepInterval = time.Minute

// Outcome records what Route did with a message.
type Outcome int

const (
	// OutcomeIgnored covers the bot's own messages and non-command messages outside a guild.
	OutcomeIgnored Outcome = iota
	// OutcomeCommand means the dispatcher consumed the message.
	OutcomeCommand
	// OutcomeNotEligible means the channel does not trigger auto-TTS.
	OutcomeNotEligible
	// OutcomeNotInVoice means the author was not in a voice channel.
	OutcomeNotInVoice
	// OutcomeNothingToSay means the text was empty after normalization.
	OutcomeNothingToSay
	// OutcomeRateLimited means the author exceeded the auto-TTS rate.
	OutcomeRateLimited
	// OutcomeEnqueued means a playback request was queued.
	OutcomeEnqueued
)

var outcomeNames = map[Outcome]string{
	OutcomeIgnored:      "ignored",
	OutcomeCommand:      "command",
	OutcomeNotEligible:  "not eligible",
	OutcomeNotInVoice:   "author not in voice",
	OutcomeNothingToSay: "nothing to say",
	OutcomeRateLimited:  "rate limited",
	OutcomeEnqueued:     "enqueued",
}

func (o Outcome) String() string {
	name, ok := outcomeNames[o]
	if !ok {
		return "unknown"
	}

	return name
}

// Option configures a Router.
type Option func(*Router)

// WithNormalizer rewrites message text before it is queued.
func WithNormalizer(normalize func(string) string) Option {
	return func(r *Router) {
		r.normalize = normalize
	}
}

// WithUserRateLimit caps auto-TTS messages per user per minute. Zero or less disables it.
func WithUserRateLimit(perMinute int) Option {
	return func(r *Router) {
		r.perMinute = perMinute
	}
}

// Router applies the auto-TTS trigger rules.
type Router struct {
	dispatcher Dispatcher
	settings   ChannelSettings
	enqueuer   Enqueuer
	log        *logger.Logger

	normalize func(string) string
	perMinute int

	now func() time.Time

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSweep time.Time
}

// New creates a router. dispatcher may be nil when no prefix commands are served.
func New(dispatcher Dispatcher, settings ChannelSettings, enqueuer Enqueuer, log *logger.Logger, opts ...Option) *Router {
	router := &Router{
		dispatcher: dispatcher,
		settings:   settings,
		enqueuer:   enqueuer,
		log:        log,
		normalize:  nil,
		perMinute:  0,
		now:        time.Now,
		mu:         sync.Mutex{},
		limiters:   make(map[string]*rate.Limiter),
		lastSweep:  time.Time{},
	}

	for _, opt := range opts {
		opt(router)
	}

	return router
}

// Route handles one message and reports what it did. Direct messages reach the
// dispatcher but never trigger auto-TTS.
func (r *Router) Route(ctx context.Context, msg Message) Outcome {
	if msg.FromSelf {
		return OutcomeIgnored
	}

	if r.dispatcher != nil && r.dispatcher.Dispatch(ctx, msg) {
		return OutcomeCommand
	}

	if msg.GuildID == "" {
		return OutcomeIgnored
	}

	if !r.eligible(msg) {
		return OutcomeNotEligible
	}

	if msg.AuthorVoiceChannelID == "" {
		return OutcomeNotInVoice
	}

	text := msg.Text
	if r.normalize != nil {
		text = r.normalize(text)
	}

	if text == "" {
		return OutcomeNothingToSay
	}

	if !r.allow(msg.AuthorID) {
		r.log.Warn("Dropping auto-TTS message %s from user %s in guild %s: rate limit reached", msg.ID, msg.AuthorID, msg.GuildID)

		return OutcomeRateLimited
	}

	req := core.NewPlaybackRequest(msg.GuildID, msg.AuthorVoiceChannelID, msg.AuthorID, text)
	r.enqueuer.Enqueue(req)

	return OutcomeEnqueued
}

// eligible reports whether the message's channel triggers auto-TTS.
func (r *Router) eligible(msg Message) bool {
	channelID, ok := r.settings.TTSChannel(msg.GuildID)
	if ok && channelID == msg.ChannelID {
		return true
	}

	return msg.ChannelIsVoice
}

func (r *Router) allow(userID string) bool {
	if r.perMinute <= 0 {
		return true
	}

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(now)

	limiter, ok := r.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.perMinute)), r.perMinute)
		r.limiters[userID] = limiter
	}

	return limiter.AllowN(now, 1)
}

// sweepLocked drops limiters that have refilled to their burst; a new limiter for
// the same user would behave identically.
func (r *Router) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < limiterSweepInterval {
		return
	}

	r.lastSweep = now

	for userID, limiter := range r.limiters {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(r.limiters, userID)
		}
	}
}
