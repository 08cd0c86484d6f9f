package lavalink

import (
	"context"
	"sync"
	"time"

	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/domain/track"
)

// Player is one guild's player on the node. It implements playback.Player.
type Player struct {
	node    *Node
	guildID string

	mu        sync.Mutex
	paused    bool
	volume    int
	current   *track.Track
	position  time.Duration
	sessionID string
	token     string
	endpoint  string

	events    chan playback.Event
	done      chan struct{}
	closeMu   sync.RWMutex
	closeOnce sync.Once
}

var _ playback.Player = (*Player)(nil)

func newPlayer(node *Node, guildID string, buffer int) *Player {
	return &Player{
		node:    node,
		guildID: guildID,
		volume:  100,
		events:  make(chan playback.Event, buffer),
		done:    make(chan struct{}),
	}
}

// GuildID returns the guild this player belongs to.
func (p *Player) GuildID() string {
	return p.guildID
}

// Play starts a track, replacing the current one.
func (p *Player) Play(ctx context.Context, t track.Track) error {
	if err := p.node.send(ctx, playPayload{Op: opPlay, GuildID: p.guildID, Track: t.Encoded}); err != nil {
		return err
	}
	p.mu.Lock()
	p.current = &t
	p.position = 0
	p.mu.Unlock()
	return nil
}

// Stop stops the current track.
func (p *Player) Stop(ctx context.Context) error {
	return p.node.send(ctx, guildPayload{Op: opStop, GuildID: p.guildID})
}

// Pause pauses or resumes playback.
func (p *Player) Pause(ctx context.Context, paused bool) error {
	if err := p.node.send(ctx, pausePayload{Op: opPause, GuildID: p.guildID, Pause: paused}); err != nil {
		return err
	}
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
	return nil
}

// Paused reports whether the player is paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// SetVolume sets the player volume.
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if err := p.node.send(ctx, volumePayload{Op: opVolume, GuildID: p.guildID, Volume: volume}); err != nil {
		return err
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	return nil
}

// Volume returns the last volume accepted by the node.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Position returns the playback position from the last player update.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// SendRaw sends a prebuilt op, such as a filters payload.
func (p *Player) SendRaw(ctx context.Context, payload map[string]any) error {
	return p.node.send(ctx, payload)
}

// Events returns the player's event stream.
func (p *Player) Events() <-chan playback.Event {
	return p.events
}

// emit delivers an event in order. It blocks while the buffer is full and
// gives up once the player is destroyed.
func (p *Player) emit(ev playback.Event) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// destroy closes the event stream. Safe to call more than once.
func (p *Player) destroy() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.closeMu.Lock()
		close(p.events)
		p.closeMu.Unlock()
	})
}

func (p *Player) setPosition(pos time.Duration) {
	p.mu.Lock()
	p.position = pos
	p.mu.Unlock()
}

// setSession records the voice session ID and reports the voice update
// payload once the server half is also known.
func (p *Player) setSession(sessionID string) (voiceUpdatePayload, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
	return p.voiceUpdateLocked()
}

// setServer records the voice server and reports the voice update payload
// once the session half is also known.
func (p *Player) setServer(token, endpoint string) (voiceUpdatePayload, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.endpoint = endpoint
	return p.voiceUpdateLocked()
}

func (p *Player) clearVoice() {
	p.mu.Lock()
	p.sessionID = ""
	p.token = ""
	p.endpoint = ""
	p.mu.Unlock()
}

func (p *Player) voiceUpdateLocked() (voiceUpdatePayload, bool) {
	if p.sessionID == "" || p.token == "" || p.endpoint == "" {
		return voiceUpdatePayload{}, false
	}
	return voiceUpdatePayload{
		Op:        opVoiceUpdate,
		GuildID:   p.guildID,
		SessionID: p.sessionID,
		Event: voiceServerEvent{
			Token:    p.token,
			GuildID:  p.guildID,
			Endpoint: p.endpoint,
		},
	}, true
}

// trackFor returns the full track for an encoded handle when it is the one
// last played, and a bare handle otherwise.
func (p *Player) trackFor(encoded string) *track.Track {
	if encoded == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.Encoded == encoded {
		t := *p.current
		return &t
	}
	return &track.Track{Encoded: encoded}
}
