package discord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunebox/internal/app/notification"
	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/app/session"
	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/lavalink"
)

type stubPlayer struct {
	mu       sync.Mutex
	calls    []string
	payloads []map[string]any
	paused   bool
	position time.Duration
	events   chan playback.Event
}

func (p *stubPlayer) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return nil
}

func (p *stubPlayer) Play(_ context.Context, t track.Track) error {
	return p.record("play:" + t.Info.Title)
}

func (p *stubPlayer) Stop(context.Context) error {
	return p.record("stop")
}

func (p *stubPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *stubPlayer) Pause(_ context.Context, paused bool) error {
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
	return p.record("pause")
}

func (p *stubPlayer) SetVolume(context.Context, int) error {
	return p.record("volume")
}

func (p *stubPlayer) Volume() int {
	return 100
}

func (p *stubPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *stubPlayer) SendRaw(_ context.Context, payload map[string]any) error {
	p.mu.Lock()
	p.payloads = append(p.payloads, payload)
	p.mu.Unlock()
	return p.record("filters")
}

func (p *stubPlayer) Events() <-chan playback.Event {
	return p.events
}

func (p *stubPlayer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type stubVoice struct {
	mu      sync.Mutex
	players map[string]*stubPlayer
	joinErr error
}

func (v *stubVoice) Join(_ context.Context, guildID, _ string, _ playback.JoinOptions) (playback.Player, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.joinErr != nil {
		return nil, v.joinErr
	}
	p := &stubPlayer{events: make(chan playback.Event, 8)}
	v.players[guildID] = p
	return p, nil
}

func (v *stubVoice) Leave(_ context.Context, guildID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.players[guildID]; ok {
		close(p.events)
		delete(v.players, guildID)
	}
	return nil
}

func (v *stubVoice) Player(guildID string) (playback.Player, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.players[guildID]
	if !ok {
		return nil, false
	}
	return p, true
}

func (v *stubVoice) player(guildID string) *stubPlayer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.players[guildID]
}

type stubNode struct {
	connected bool
	stats     lavalink.Stats
}

func (n *stubNode) Name() string          { return "main" }
func (n *stubNode) Connected() bool       { return n.connected }
func (n *stubNode) Stats() lavalink.Stats { return n.stats }

type stubResolver struct {
	results map[string]*track.LoadResult
}

func (r *stubResolver) Load(_ context.Context, query string) (*track.LoadResult, error) {
	res, ok := r.results[query]
	if !ok {
		return nil, errors.New("node unavailable")
	}
	return res, nil
}

type stubChat struct {
	mu     sync.Mutex
	voice  map[string]string
	sent   []string
	sendTo []string
}

func (c *stubChat) Send(_ context.Context, channelID, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendTo = append(c.sendTo, channelID)
	c.sent = append(c.sent, message)
	return nil
}

func (c *stubChat) UserVoiceChannel(_, userID string) (string, bool) {
	ch, ok := c.voice[userID]
	return ch, ok
}

func (c *stubChat) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func mkTrack(title string, length time.Duration) track.Track {
	return track.Track{Encoded: "enc:" + title, Info: track.Info{Title: title, Author: "Artist", Length: length}}
}

type fixture struct {
	router   *Router
	node     *stubNode
	voice    *stubVoice
	chat     *stubChat
	registry *session.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	voice := &stubVoice{players: make(map[string]*stubPlayer)}
	resolver := &stubResolver{results: map[string]*track.LoadResult{
		"song a": {Type: track.LoadTypeSearch, Tracks: []track.Track{mkTrack("A", 3*time.Minute), mkTrack("A (live)", time.Minute)}},
		"song b": {Type: track.LoadTypeSearch, Tracks: []track.Track{mkTrack("B", 65*time.Second)}},
		"https://example.com/mix": {
			Type:         track.LoadTypePlaylist,
			PlaylistName: "Mix",
			Tracks:       []track.Track{mkTrack("M1", time.Minute), mkTrack("M2", time.Minute), mkTrack("M3", time.Minute)},
		},
		"nothing": {Type: track.LoadTypeEmpty},
		"private": {Type: track.LoadTypeError, Exception: "This video is private"},
	}}
	registry := session.NewRegistry(voice, resolver, playback.Config{DefaultVolume: 100})
	t.Cleanup(registry.Close)

	chat := &stubChat{voice: map[string]string{"listener": "voice-1"}}
	notices := notification.NewManager(chat, time.Second)
	node := &stubNode{connected: true}

	return &fixture{
		router:   NewRouter("!", registry, chat, notices, node),
		node:     node,
		voice:    voice,
		chat:     chat,
		registry: registry,
	}
}

func (f *fixture) send(t *testing.T, content string) string {
	t.Helper()
	reply, ok := f.router.Dispatch(context.Background(), Message{
		GuildID:   "g1",
		ChannelID: "text-1",
		AuthorID:  "listener",
		Content:   content,
	})
	require.True(t, ok, "expected %q to be handled", content)
	return reply
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		content  string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{"simple", "!", "!skip", "skip", []string{}, true},
		{"args", "!", "!play  never gonna   give", "play", []string{"never", "gonna", "give"}, true},
		{"case insensitive", "!", "!NightCore on", "nightcore", []string{"on"}, true},
		{"long prefix", "tb!", "tb!queue", "queue", []string{}, true},
		{"leading whitespace", "!", "  !pause", "pause", []string{}, true},
		{"no prefix", "!", "play something", "", nil, false},
		{"prefix only", "!", "!", "", nil, false},
		{"empty prefix", "", "play", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args, ok := parseCommand(tt.prefix, tt.content)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestRouter_NotACommand(t *testing.T) {
	f := newFixture(t)
	_, ok := f.router.Dispatch(context.Background(), Message{GuildID: "g1", Content: "hello there"})
	assert.False(t, ok)
}

func TestRouter_UnknownCommand(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "❌ | Unknown command. Try `!help`.", f.send(t, "!dance"))
}

func TestRouter_ActiveCommandsNeedSession(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range []string{"!skip", "!stop", "!pause", "!volume 50", "!loop queue", "!queue", "!np", "!8d on"} {
		assert.Equal(t, "❌ | Nothing is playing.", f.send(t, cmd), cmd)
	}
}

func TestRouter_Play(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "✅ | Queued **A**.", f.send(t, "!play song a"))
	p := f.voice.player("g1")
	require.NotNil(t, p)
	assert.Equal(t, []string{"play:A"}, p.Calls(), "first track starts immediately")

	assert.Equal(t, "✅ | Queued **B**.", f.send(t, "!p song b"))
	assert.Equal(t, []string{"play:A"}, p.Calls(), "later tracks only queue")

	c, ok := f.registry.Lookup("g1")
	require.True(t, ok)
	status := c.Snapshot()
	require.Len(t, status.Queue, 2)
	assert.Equal(t, "A", status.Queue[0].Info.Title)
	assert.Equal(t, "B", status.Queue[1].Info.Title)
}

func TestRouter_PlayPlaylist(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "✅ | Queued 3 tracks from **Mix**.", f.send(t, "!play https://example.com/mix"))
	c, _ := f.registry.Lookup("g1")
	assert.Len(t, c.Snapshot().Queue, 3)
}

func TestRouter_PlayFailures(t *testing.T) {
	tests := []struct {
		name    string
		author  string
		content string
		want    string
	}{
		{"no args", "listener", "!play", "❌ | Usage: `!play <query|url>`"},
		{"not in voice", "stranger", "!play song a", "❌ | Join a voice channel first."},
		{"no results", "listener", "!play nothing", "❌ | No results for **nothing**."},
		{"load error", "listener", "!play private", "❌ | Failed to load track: This video is private"},
		{"resolver error", "listener", "!play offline", "❌ | Could not load **offline**."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			reply, ok := f.router.Dispatch(context.Background(), Message{
				GuildID: "g1", ChannelID: "text-1", AuthorID: tt.author, Content: tt.content,
			})
			require.True(t, ok)
			assert.Equal(t, tt.want, reply)
			assert.Nil(t, f.voice.player("g1"), "failed play must not join voice")
		})
	}
}

func TestRouter_PlayJoinError(t *testing.T) {
	f := newFixture(t)
	f.voice.joinErr = errors.New("missing permissions")

	assert.Equal(t, "❌ | Could not join your voice channel.", f.send(t, "!play song a"))
}

func TestRouter_Skip(t *testing.T) {
	f := newFixture(t)
	f.send(t, "!play https://example.com/mix")
	p := f.voice.player("g1")

	assert.Equal(t, "❌ | Usage: `!skip [position]`", f.send(t, "!skip zero"))
	assert.Equal(t, "❌ | The queue only has 3 tracks.", f.send(t, "!skip 9"))
	assert.Equal(t, "⏭️ | Skipped to track 3.", f.send(t, "!skip 3"))

	c, _ := f.registry.Lookup("g1")
	queue := c.Snapshot().Queue
	assert.Equal(t, "M3", queue[0].Info.Title)
	assert.Contains(t, p.Calls(), "stop")
}

func TestRouter_Controls(t *testing.T) {
	f := newFixture(t)
	f.send(t, "!play song a")

	tests := []struct {
		content string
		want    string
	}{
		{"!pause", "⏸️ | Paused."},
		{"!resume", "▶️ | Resumed."},
		{"!volume 50", "🔊 | Volume set to 50."},
		{"!volume loud", "❌ | Usage: `!volume <0-1000>`"},
		{"!volume 5000", "❌ | Usage: `!volume <0-1000>`"},
		{"!loop track", "🔁 | Loop mode set to **track**."},
		{"!loop forever", "❌ | Usage: `!loop none|track|queue`"},
		{"!shuffle", "🔀 | Queue shuffled."},
		{"!nightcore on", "🎛️ | nightcore enabled."},
		{"!dt on", "🎛️ | doubleTime enabled."},
		{"!vaporwave maybe", "❌ | Usage: `!vaporwave on|off`"},
		{"!8d off", "🎛️ | 8d disabled."},
		{"!bassboost 40", "🎛️ | bassboost set to 40%."},
		{"!bassboost 0", "🎛️ | bassboost disabled."},
		{"!bassboost 101", "❌ | Usage: `!bassboost <0-100>`"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, f.send(t, tt.content), tt.content)
	}

	c, _ := f.registry.Lookup("g1")
	status := c.Snapshot()
	assert.Equal(t, 50, status.Volume)
	assert.Equal(t, playback.LoopTrack, status.Loop)
	assert.True(t, status.Filters.DoubleTime)
	assert.False(t, status.Filters.Nightcore, "doubleTime replaces nightcore")
}

func TestRouter_QueueAndNowPlaying(t *testing.T) {
	f := newFixture(t)
	f.send(t, "!play song a")
	f.send(t, "!play song b")

	assert.Equal(t, "1. Artist - A [3:00]\n2. Artist - B [1:05]", f.send(t, "!queue"))
	assert.Equal(t, "❌ | Nothing is playing.", f.send(t, "!nowplaying"), "nothing started yet")

	c, _ := f.registry.Lookup("g1")
	p := f.voice.player("g1")
	p.events <- playback.Event{Type: playback.EventStarted}

	require.Eventually(t, func() bool {
		return c.Snapshot().Current != nil
	}, 2*time.Second, 10*time.Millisecond)

	p.mu.Lock()
	p.position = 95 * time.Second
	p.mu.Unlock()

	f.send(t, "!nightcore on")
	assert.Equal(t, "🎶 | **Artist - A** [1:35/3:00] | loop: none | volume: 100 | filters: nightcore", f.send(t, "!np"))
	assert.Equal(t, "1. Artist - B [1:05]", f.send(t, "!q"))
}

func TestRouter_QueueTruncates(t *testing.T) {
	f := newFixture(t)
	f.send(t, "!play song a")
	c, _ := f.registry.Lookup("g1")
	for i := 0; i < 12; i++ {
		c.Enqueue(mkTrack("X", time.Second))
	}

	reply := f.send(t, "!queue")
	assert.Contains(t, reply, "10. Artist - X [0:01]")
	assert.Contains(t, reply, "…and 3 more")
	assert.NotContains(t, reply, "11.")
}

func TestRouter_Stats(t *testing.T) {
	f := newFixture(t)
	f.node.stats = lavalink.Stats{Players: 3, PlayingPlayers: 1, Uptime: 2*time.Hour + 5*time.Second}

	assert.Equal(t, "📊 | node main: connected | players: 3 (1 playing) | uptime: 2:00:05 | sessions: 0 (0 in voice)",
		f.send(t, "!stats"))

	f.send(t, "!play song a")
	f.node.connected = false
	assert.Equal(t, "📊 | node main: disconnected | players: 3 (1 playing) | uptime: 2:00:05 | sessions: 1 (1 in voice)",
		f.send(t, "!stats"))
}

func TestRouter_PlayAfterSessionEnds(t *testing.T) {
	f := newFixture(t)
	f.send(t, "!play song a")
	first, ok := f.registry.Lookup("g1")
	require.True(t, ok)

	p := f.voice.player("g1")
	p.events <- playback.Event{Type: playback.EventStarted}
	p.events <- playback.Event{Type: playback.EventEnded, Reason: playback.EndFinished}

	require.Eventually(t, func() bool {
		_, ok := f.registry.Lookup("g1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "idle controller is dropped")

	assert.Equal(t, "✅ | Queued **B**.", f.send(t, "!play song b"))
	second, ok := f.registry.Lookup("g1")
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, []string{"play:B"}, f.voice.player("g1").Calls())
}

func TestRouter_JoinReplacesRetiredController(t *testing.T) {
	f := newFixture(t)
	retired := f.registry.Get("g1")
	require.True(t, retired.Retire())

	c, err := f.router.join(context.Background(), "g1", "voice-1")
	require.NoError(t, err)
	assert.NotSame(t, retired, c)
	assert.True(t, c.Connected())
}

func TestRouter_Help(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "!help")
	assert.Contains(t, reply, "`!play <query|url>`")
	assert.Contains(t, reply, "`!bassboost <0-100>`")
}

func TestRouter_NowPlayingNotices(t *testing.T) {
	f := newFixture(t)
	f.send(t, "!play song a")

	p := f.voice.player("g1")
	p.events <- playback.Event{Type: playback.EventStarted}

	require.Eventually(t, func() bool {
		for _, m := range f.chat.Sent() {
			if m == "🎶 | Now playing **A**." {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00", formatDuration(0))
	assert.Equal(t, "3:05", formatDuration(185*time.Second))
	assert.Equal(t, "1:01:01", formatDuration(time.Hour+61*time.Second))
}
