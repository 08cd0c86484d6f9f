package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/domain/track"
)

type nopVoice struct{}

func (nopVoice) Join(context.Context, string, string, playback.JoinOptions) (playback.Player, error) {
	return nil, nil
}
func (nopVoice) Leave(context.Context, string) error   { return nil }
func (nopVoice) Player(string) (playback.Player, bool) { return nil, false }

type eventPlayer struct {
	events chan playback.Event
}

func (p *eventPlayer) Play(context.Context, track.Track) error       { return nil }
func (p *eventPlayer) Stop(context.Context) error                    { return nil }
func (p *eventPlayer) Pause(context.Context, bool) error             { return nil }
func (p *eventPlayer) Paused() bool                                  { return false }
func (p *eventPlayer) SetVolume(context.Context, int) error          { return nil }
func (p *eventPlayer) Volume() int                                   { return 100 }
func (p *eventPlayer) Position() time.Duration                       { return 0 }
func (p *eventPlayer) SendRaw(context.Context, map[string]any) error { return nil }
func (p *eventPlayer) Events() <-chan playback.Event                 { return p.events }

// eventVoice hands out one player per guild and closes its stream on leave.
type eventVoice struct {
	mu      sync.Mutex
	players map[string]*eventPlayer
}

func (v *eventVoice) Join(_ context.Context, guildID, _ string, _ playback.JoinOptions) (playback.Player, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := &eventPlayer{events: make(chan playback.Event, 8)}
	v.players[guildID] = p
	return p, nil
}

func (v *eventVoice) Leave(_ context.Context, guildID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.players[guildID]; ok {
		close(p.events)
		delete(v.players, guildID)
	}
	return nil
}

func (v *eventVoice) Player(guildID string) (playback.Player, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.players[guildID]
	if !ok {
		return nil, false
	}
	return p, true
}

type nopResolver struct{}

func (nopResolver) Load(context.Context, string) (*track.LoadResult, error) {
	return &track.LoadResult{Type: track.LoadTypeEmpty}, nil
}

func newTestRegistry() *Registry {
	return NewRegistry(nopVoice{}, nopResolver{}, playback.Config{DefaultVolume: 100})
}

func TestRegistry_GetCreatesOnce(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	a := r.Get("guild-1")
	b := r.Get("guild-1")
	c := r.Get("guild-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "guild-1", a.GuildID())
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_ControllersAreIndependent(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	r.Get("guild-1").Enqueue(track.Track{Encoded: "a"})

	assert.Len(t, r.Get("guild-1").Snapshot().Queue, 1)
	assert.Empty(t, r.Get("guild-2").Snapshot().Queue)
	assert.Equal(t, 100, r.Get("guild-2").Snapshot().Volume)
}

func TestRegistry_Lookup(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	_, ok := r.Lookup("guild-1")
	assert.False(t, ok)

	created := r.Get("guild-1")
	found, ok := r.Lookup("guild-1")
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestRegistry_Remove(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	first := r.Get("guild-1")
	assert.True(t, r.Remove("guild-1"))
	assert.True(t, r.Remove("unknown"))

	assert.Equal(t, 0, r.Count())
	assert.NotSame(t, first, r.Get("guild-1"))
}

func TestRegistry_RemoveKeepsBusyController(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	c := r.Get("guild-1")
	c.Enqueue(track.Track{Encoded: "a"})

	assert.False(t, r.Remove("guild-1"))
	found, ok := r.Lookup("guild-1")
	require.True(t, ok)
	assert.Same(t, c, found)
}

func TestRegistry_DropsControllerAfterTeardown(t *testing.T) {
	voice := &eventVoice{players: make(map[string]*eventPlayer)}
	r := NewRegistry(voice, nopResolver{}, playback.Config{DefaultVolume: 100})
	defer r.Close()
	ctx := context.Background()

	c := r.Get("guild-1")
	require.NoError(t, c.Join(ctx, "voice-1"))
	_, err := c.Play(ctx, track.Track{Encoded: "a", Info: track.Info{Title: "A"}})
	require.NoError(t, err)

	p, _ := voice.Player("guild-1")
	events := p.(*eventPlayer).events
	events <- playback.Event{Type: playback.EventStarted}
	events <- playback.Event{Type: playback.EventEnded, Reason: playback.EndFinished}

	require.Eventually(t, func() bool {
		_, ok := r.Lookup("guild-1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Join(ctx, "voice-1"), playback.ErrClosed)
	assert.NotSame(t, c, r.Get("guild-1"))
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	var wg sync.WaitGroup
	results := make([]*playback.Controller, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Get("guild-1")
		}(i)
	}
	wg.Wait()

	for _, c := range results {
		assert.Same(t, results[0], c)
	}
	assert.Len(t, r.All(), 1)
}

func TestRegistry_Close(t *testing.T) {
	r := newTestRegistry()
	r.Get("guild-1")
	r.Get("guild-2")

	r.Close()

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.All())
}
