package playback

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/app/audiofilter"
	"github.com/osa030/tunebox/internal/domain/track"
)

// ErrClosed is returned by Join once the controller has been retired.
var ErrClosed = errors.New("playback: controller closed")

// Messages are the notice templates posted to the text channel.
type Messages struct {
	NowPlaying string // Format string taking the track name
	QueueEmpty string
}

// Config holds controller configuration.
type Config struct {
	DefaultVolume int
	NotifyTimeout time.Duration
	Profiles      *audiofilter.Profiles
	Messages      Messages
	// OnIdle is called after the session tears down because its queue ran
	// out. It runs on the event goroutine without the controller lock held.
	OnIdle func(guildID string)
}

// Status is a read-only copy of the session for status display.
type Status struct {
	SessionID string
	GuildID   string
	Connected bool
	Paused    bool
	Current   *track.Track
	Previous  *track.Track
	Queue     []track.Track
	Loop      LoopMode
	Volume    int
	Filters   audiofilter.Set
	Position  time.Duration
}

// Controller drives one guild's session. Control operations and event
// handlers are serialized by mu.
type Controller struct {
	mu sync.Mutex

	id       string
	guildID  string
	voice    Voice
	resolver Resolver
	config   Config
	session  *Session

	// shuffle permutes n elements; rand.Shuffle outside tests.
	shuffle func(n int, swap func(i, j int))

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewController creates a controller for a guild.
func NewController(guildID string, voice Voice, resolver Resolver, config Config) *Controller {
	if config.Profiles == nil {
		config.Profiles = audiofilter.DefaultProfiles()
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 5 * time.Second
	}
	if config.Messages.NowPlaying == "" {
		config.Messages.NowPlaying = "🎶 | Now playing **%s**."
	}
	if config.Messages.QueueEmpty == "" {
		config.Messages.QueueEmpty = "✅ | Queue is empty. Leaving voice channel.."
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		id:       uuid.New().String(),
		guildID:  guildID,
		voice:    voice,
		resolver: resolver,
		config:   config,
		session:  NewSession(config.DefaultVolume),
		shuffle:  rand.Shuffle,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// GuildID returns the guild this controller belongs to.
func (c *Controller) GuildID() string {
	return c.guildID
}

func (c *Controller) player() (Player, bool) {
	return c.voice.Player(c.guildID)
}

// Connected reports whether the guild has an active player.
func (c *Controller) Connected() bool {
	_, ok := c.player()
	return ok
}

// Join connects to a voice channel and subscribes to the player's events.
// It does nothing if a player already exists.
func (c *Controller) Join(ctx context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, ok := c.player(); ok {
		return nil
	}

	p, err := c.voice.Join(ctx, c.guildID, channelID, JoinOptions{SelfDeaf: true})
	if err != nil {
		return errors.Wrapf(err, "failed to join voice channel %s", channelID)
	}

	zlog.Info().Msgf("playback: joined voice channel: guild=%s channel=%s session=%s", c.guildID, channelID, c.id)

	// New players start at the node's default volume.
	if p.Volume() != c.session.Volume {
		if err := p.SetVolume(ctx, c.session.Volume); err != nil {
			zlog.Warn().Msgf("playback: failed to apply volume: guild=%s volume=%d: %v", c.guildID, c.session.Volume, err)
		}
	}

	c.wg.Add(1)
	go c.eventLoop(p.Events())
	return nil
}

// SetTextChannel sets the destination for status notices.
func (c *Controller) SetTextChannel(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.TextChannel = n
}

// Load resolves a query to playable tracks. Session state is not touched.
func (c *Controller) Load(ctx context.Context, query string) (*track.LoadResult, error) {
	res, err := c.resolver.Load(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load tracks")
	}
	return res, nil
}

// Enqueue appends tracks to the queue.
func (c *Controller) Enqueue(tracks ...track.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Enqueue(tracks...)
}

// Play appends tracks and starts playback if the session was idle. It
// reports whether playback was started.
func (c *Controller) Play(ctx context.Context, tracks ...track.Track) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idle := c.session.Current == nil && len(c.session.Queue) == 0
	c.session.Enqueue(tracks...)
	if !idle || len(tracks) == 0 {
		return false, nil
	}
	if _, ok := c.player(); !ok {
		return false, nil
	}
	if err := c.startLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Start plays the front of the queue. The track is popped when the node
// confirms it started.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	p, ok := c.player()
	if !ok || len(c.session.Queue) == 0 {
		return nil
	}
	if err := p.Play(ctx, c.session.Queue[0]); err != nil {
		return errors.Wrap(err, "failed to play track")
	}
	return nil
}

// Pause pauses playback if it is not already paused.
func (c *Controller) Pause(ctx context.Context) error {
	return c.setPaused(ctx, true)
}

// Resume resumes playback if it is paused.
func (c *Controller) Resume(ctx context.Context) error {
	return c.setPaused(ctx, false)
}

func (c *Controller) setPaused(ctx context.Context, paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.player()
	if !ok || p.Paused() == paused {
		return nil
	}
	if err := p.Pause(ctx, paused); err != nil {
		return errors.Wrap(err, "failed to change pause state")
	}
	return nil
}

// Skip stops the current track. When n > 1 the track at position n is moved
// to the front of the queue first.
func (c *Controller) Skip(ctx context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skipLocked(ctx, n)
}

func (c *Controller) skipLocked(ctx context.Context, n int) error {
	p, ok := c.player()
	if !ok {
		return nil
	}
	if !c.session.PrepareSkip(n) {
		zlog.Debug().Msgf("playback: skip target out of range: guild=%s target=%d queue=%d", c.guildID, n, len(c.session.Queue))
		return nil
	}
	if err := p.Stop(ctx); err != nil {
		return errors.Wrap(err, "failed to stop track")
	}
	return nil
}

// Stop clears the queue and loop mode and stops the current track. The
// resulting track end disconnects and resets the session.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.player(); !ok {
		return nil
	}
	c.session.PrepareStop()
	return c.skipLocked(ctx, 1)
}

// Shuffle randomly permutes the queue.
func (c *Controller) Shuffle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Shuffle(c.shuffle)
}

// SetLoop sets the loop mode.
func (c *Controller) SetLoop(mode LoopMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Loop = mode
}

// SetVolume sets the player volume. The session keeps the parsed integer, not
// the raw input. Input that is not an integer is ignored.
func (c *Controller) SetVolume(ctx context.Context, raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.player()
	if !ok {
		return nil
	}
	volume, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	if err := p.SetVolume(ctx, volume); err != nil {
		return errors.Wrap(err, "failed to set volume")
	}
	c.session.Volume = volume
	return nil
}

// SetDoubleTime toggles the doubleTime filter.
func (c *Controller) SetDoubleTime(ctx context.Context, on bool) error {
	return c.setFilter(ctx, audiofilter.DoubleTime, on)
}

// SetNightcore toggles the nightcore filter.
func (c *Controller) SetNightcore(ctx context.Context, on bool) error {
	return c.setFilter(ctx, audiofilter.Nightcore, on)
}

// SetVaporwave toggles the vaporwave filter.
func (c *Controller) SetVaporwave(ctx context.Context, on bool) error {
	return c.setFilter(ctx, audiofilter.Vaporwave, on)
}

// Set8D toggles the 8D rotation filter.
func (c *Controller) Set8D(ctx context.Context, on bool) error {
	return c.setFilter(ctx, audiofilter.EightD, on)
}

// SetBassboost sets the bassboost intensity in percent. Zero turns it off.
func (c *Controller) SetBassboost(ctx context.Context, intensity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.player(); !ok {
		return nil
	}
	c.session.Filters.SetBassboost(intensity)
	return c.sendFiltersLocked(ctx)
}

func (c *Controller) setFilter(ctx context.Context, name audiofilter.Name, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.player(); !ok {
		return nil
	}
	c.session.Filters.Enable(name, on)
	return c.sendFiltersLocked(ctx)
}

// SendFilters sends the composed filter configuration to the node.
func (c *Controller) SendFilters(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendFiltersLocked(ctx)
}

func (c *Controller) sendFiltersLocked(ctx context.Context) error {
	p, ok := c.player()
	if !ok {
		return nil
	}

	payload := audiofilter.Compose(c.session.Filters, c.config.Profiles)
	payload["op"] = "filters"
	payload["guildId"] = c.guildID

	if err := p.SendRaw(ctx, payload); err != nil {
		return errors.Wrap(err, "failed to send filters")
	}
	return nil
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	queue := make([]track.Track, len(s.Queue))
	copy(queue, s.Queue)

	status := Status{
		SessionID: c.id,
		GuildID:   c.guildID,
		Current:   copyTrack(s.Current),
		Previous:  copyTrack(s.Previous),
		Queue:     queue,
		Loop:      s.Loop,
		Volume:    s.Volume,
		Filters:   s.Filters,
	}
	if p, ok := c.player(); ok {
		status.Connected = true
		status.Paused = p.Paused()
		if s.Current != nil {
			status.Position = p.Position()
		}
	}
	return status
}

// Retire closes an idle controller: one with no player, nothing playing and
// an empty queue. It reports whether the controller was closed. Join fails
// with ErrClosed afterwards. Retire does not wait for the event loop, so it
// may be called from OnIdle.
func (c *Controller) Retire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	if _, ok := c.player(); ok || c.session.Current != nil || len(c.session.Queue) > 0 {
		return false
	}
	c.closed = true
	c.cancel()
	return true
}

// Close stops the event loop.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// eventLoop consumes player events in order until the stream closes.
func (c *Controller) eventLoop(events <-chan Event) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				zlog.Debug().Msgf("playback: event stream closed: guild=%s", c.guildID)
				return
			}
			c.handleEvent(ev)
		}
	}
}

// handleEvent applies an event and posts the resulting notice, if any.
func (c *Controller) handleEvent(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback: event handler panicked: guild=%s event=%s: %v", c.guildID, ev.Type, r)
		}
	}()

	zlog.Debug().Msgf("playback: event: guild=%s type=%s reason=%s", c.guildID, ev.Type, ev.Reason)

	notifier, notice, idle := c.applyEvent(ev)
	if notifier != nil && notice != "" {
		ctx, cancel := context.WithTimeout(c.ctx, c.config.NotifyTimeout)
		if err := notifier.Post(ctx, notice); err != nil {
			zlog.Warn().Msgf("playback: failed to post notice: guild=%s: %v", c.guildID, err)
		}
		cancel()
	}
	if idle && c.config.OnIdle != nil {
		c.config.OnIdle(c.guildID)
	}
}

// applyEvent mutates the session and issues follow-up node commands while
// holding the lock. idle is set when the session was torn down.
func (c *Controller) applyEvent(ev Event) (notifier Notifier, notice string, idle bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	notifier = c.session.TextChannel

	switch ev.Type {
	case EventStarted:
		t := c.session.OnStarted()
		if t.NowPlaying != nil {
			zlog.Info().Msgf("playback: now playing: guild=%s track=%s", c.guildID, t.NowPlaying.DisplayName())
			return notifier, fmt.Sprintf(c.config.Messages.NowPlaying, t.NowPlaying.Info.Title), false
		}

	case EventEnded:
		t := c.session.OnEnded(ev.Reason)
		if t.Leave {
			zlog.Info().Msgf("playback: queue empty, leaving: guild=%s", c.guildID)
			if err := c.voice.Leave(c.ctx, c.guildID); err != nil {
				zlog.Error().Msgf("playback: failed to leave voice: guild=%s: %v", c.guildID, err)
			}
			return notifier, c.config.Messages.QueueEmpty, true
		}
		if t.Play != nil {
			if err := c.startLocked(c.ctx); err != nil {
				zlog.Error().Msgf("playback: failed to advance queue: guild=%s: %v", c.guildID, err)
			}
		}

	case EventError:
		zlog.Error().Msgf("playback: node reported error: guild=%s: %v", c.guildID, ev.Err)
	}
	return nil, "", false
}

func copyTrack(t *track.Track) *track.Track {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
