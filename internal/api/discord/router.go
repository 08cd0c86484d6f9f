// Package discord routes prefix chat commands to guild sessions.
package discord

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/app/audiofilter"
	"github.com/osa030/tunebox/internal/app/notification"
	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/app/session"
	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/lavalink"
)

// maxQueueLines is the number of queue entries shown by the queue command.
const maxQueueLines = 10

var errUsage = errors.New("usage")

// Chat is the gateway the router replies through.
type Chat interface {
	Send(ctx context.Context, channelID, message string) error
	UserVoiceChannel(guildID, userID string) (string, bool)
}

// NodeStatus reports the health of the audio node.
type NodeStatus interface {
	Name() string
	Connected() bool
	Stats() lavalink.Stats
}

// Message is an incoming chat message.
type Message struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	Content   string
}

type request struct {
	msg  Message
	args []string
}

type command struct {
	usage string
	// active commands need a connected session.
	active bool
	run    func(ctx context.Context, c *playback.Controller, req request) (string, error)
}

// Router dispatches prefix commands.
type Router struct {
	prefix   string
	registry *session.Registry
	chat     Chat
	notices  *notification.Manager
	node     NodeStatus
	timeout  time.Duration
	commands map[string]command
}

// NewRouter creates a router for the given prefix.
func NewRouter(prefix string, registry *session.Registry, chat Chat, notices *notification.Manager, node NodeStatus) *Router {
	r := &Router{
		prefix:   prefix,
		registry: registry,
		chat:     chat,
		notices:  notices,
		node:     node,
		timeout:  15 * time.Second,
	}
	r.commands = map[string]command{
		"play":       {usage: "play <query|url>", run: r.play},
		"skip":       {usage: "skip [position]", active: true, run: skip},
		"stop":       {usage: "stop", active: true, run: stop},
		"pause":      {usage: "pause", active: true, run: pause},
		"resume":     {usage: "resume", active: true, run: resume},
		"volume":     {usage: "volume <0-1000>", active: true, run: volume},
		"loop":       {usage: "loop none|track|queue", active: true, run: loop},
		"shuffle":    {usage: "shuffle", active: true, run: shuffle},
		"queue":      {usage: "queue", active: true, run: queue},
		"nowplaying": {usage: "nowplaying", active: true, run: nowPlaying},
		"doubletime": {usage: "doubletime on|off", active: true, run: toggleFilter(audiofilter.DoubleTime)},
		"nightcore":  {usage: "nightcore on|off", active: true, run: toggleFilter(audiofilter.Nightcore)},
		"vaporwave":  {usage: "vaporwave on|off", active: true, run: toggleFilter(audiofilter.Vaporwave)},
		"8d":         {usage: "8d on|off", active: true, run: toggleFilter(audiofilter.EightD)},
		"bassboost":  {usage: "bassboost <0-100>", active: true, run: bassboost},
		"stats":      {usage: "stats", run: r.stats},
		"help":       {usage: "help", run: r.help},
	}
	return r
}

var aliases = map[string]string{
	"p":  "play",
	"s":  "skip",
	"np": "nowplaying",
	"q":  "queue",
	"dt": "doubletime",
	"nc": "nightcore",
	"bb": "bassboost",
}

// HandleMessage is the gateway handler for message creation.
func (r *Router) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	msg := Message{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Content:   m.Content,
	}
	reply, ok := r.Dispatch(ctx, msg)
	if !ok || reply == "" {
		return
	}
	if err := r.chat.Send(ctx, msg.ChannelID, reply); err != nil {
		zlog.Warn().Msgf("router: failed to reply: channel=%s error=%v", msg.ChannelID, err)
	}
}

// Dispatch runs the command in msg and returns the reply. ok is false when
// the message is not a command.
func (r *Router) Dispatch(ctx context.Context, msg Message) (reply string, ok bool) {
	name, args, ok := parseCommand(r.prefix, msg.Content)
	if !ok {
		return "", false
	}
	if alias, found := aliases[name]; found {
		name = alias
	}

	cmd, found := r.commands[name]
	if !found {
		return fmt.Sprintf("❌ | Unknown command. Try `%shelp`.", r.prefix), true
	}

	var c *playback.Controller
	if cmd.active {
		c, found = r.registry.Lookup(msg.GuildID)
		if !found || !c.Connected() {
			return "❌ | Nothing is playing.", true
		}
	}

	zlog.Debug().Msgf("router: command: guild=%s user=%s name=%s args=%v", msg.GuildID, msg.AuthorID, name, args)

	reply, err := cmd.run(ctx, c, request{msg: msg, args: args})
	if errors.Is(err, errUsage) {
		return fmt.Sprintf("❌ | Usage: `%s%s`", r.prefix, cmd.usage), true
	}
	if err != nil {
		zlog.Error().Msgf("router: command failed: guild=%s name=%s error=%v", msg.GuildID, name, err)
		return "❌ | Something went wrong.", true
	}
	return reply, true
}

// parseCommand splits a prefixed message into a lowercase name and args.
func parseCommand(prefix, content string) (string, []string, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (r *Router) play(ctx context.Context, _ *playback.Controller, req request) (string, error) {
	if len(req.args) == 0 {
		return "", errUsage
	}
	voiceChannel, ok := r.chat.UserVoiceChannel(req.msg.GuildID, req.msg.AuthorID)
	if !ok {
		return "❌ | Join a voice channel first.", nil
	}

	query := strings.Join(req.args, " ")

	res, err := r.registry.Get(req.msg.GuildID).Load(ctx, query)
	if err != nil {
		zlog.Warn().Msgf("router: load failed: guild=%s query=%s error=%v", req.msg.GuildID, query, err)
		return fmt.Sprintf("❌ | Could not load **%s**.", query), nil
	}
	if res != nil && res.Type == track.LoadTypeError {
		return fmt.Sprintf("❌ | Failed to load track: %s", res.Exception), nil
	}
	if res.IsEmpty() {
		return fmt.Sprintf("❌ | No results for **%s**.", query), nil
	}

	c, err := r.join(ctx, req.msg.GuildID, voiceChannel)
	if err != nil {
		zlog.Warn().Msgf("router: join failed: guild=%s channel=%s error=%v", req.msg.GuildID, voiceChannel, err)
		return "❌ | Could not join your voice channel.", nil
	}
	c.SetTextChannel(r.notices.Channel(req.msg.ChannelID))

	tracks := res.Tracks[:1]
	if res.Type == track.LoadTypePlaylist {
		tracks = res.Tracks
	}
	if _, err := c.Play(ctx, tracks...); err != nil {
		return "", err
	}

	if res.Type == track.LoadTypePlaylist {
		return fmt.Sprintf("✅ | Queued %d tracks from **%s**.", len(tracks), res.PlaylistName), nil
	}
	return fmt.Sprintf("✅ | Queued **%s**.", tracks[0].Info.Title), nil
}

// join connects the guild's controller to a voice channel. A controller
// retired after its session tore down is replaced once.
func (r *Router) join(ctx context.Context, guildID, channelID string) (*playback.Controller, error) {
	c := r.registry.Get(guildID)
	err := c.Join(ctx, channelID)
	if errors.Is(err, playback.ErrClosed) {
		r.registry.Remove(guildID)
		c = r.registry.Get(guildID)
		err = c.Join(ctx, channelID)
	}
	return c, err
}

func skip(ctx context.Context, c *playback.Controller, req request) (string, error) {
	n := 1
	if len(req.args) > 0 {
		v, err := strconv.Atoi(req.args[0])
		if err != nil || v < 1 {
			return "", errUsage
		}
		n = v
	}
	if queued := len(c.Snapshot().Queue); n > 1 && n > queued {
		return fmt.Sprintf("❌ | The queue only has %d tracks.", queued), nil
	}
	if err := c.Skip(ctx, n); err != nil {
		return "", err
	}
	if n > 1 {
		return fmt.Sprintf("⏭️ | Skipped to track %d.", n), nil
	}
	return "⏭️ | Skipped.", nil
}

func stop(ctx context.Context, c *playback.Controller, _ request) (string, error) {
	if err := c.Stop(ctx); err != nil {
		return "", err
	}
	return "⏹️ | Stopped and cleared the queue.", nil
}

func pause(ctx context.Context, c *playback.Controller, _ request) (string, error) {
	if err := c.Pause(ctx); err != nil {
		return "", err
	}
	return "⏸️ | Paused.", nil
}

func resume(ctx context.Context, c *playback.Controller, _ request) (string, error) {
	if err := c.Resume(ctx); err != nil {
		return "", err
	}
	return "▶️ | Resumed.", nil
}

func volume(ctx context.Context, c *playback.Controller, req request) (string, error) {
	if len(req.args) != 1 {
		return "", errUsage
	}
	v, err := strconv.Atoi(req.args[0])
	if err != nil || v < 0 || v > 1000 {
		return "", errUsage
	}
	if err := c.SetVolume(ctx, req.args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("🔊 | Volume set to %d.", v), nil
}

func loop(_ context.Context, c *playback.Controller, req request) (string, error) {
	if len(req.args) != 1 {
		return "", errUsage
	}
	mode, ok := playback.ParseLoopMode(req.args[0])
	if !ok {
		return "", errUsage
	}
	c.SetLoop(mode)
	return fmt.Sprintf("🔁 | Loop mode set to **%s**.", mode), nil
}

func shuffle(_ context.Context, c *playback.Controller, _ request) (string, error) {
	c.Shuffle()
	return "🔀 | Queue shuffled.", nil
}

func queue(_ context.Context, c *playback.Controller, _ request) (string, error) {
	status := c.Snapshot()
	if len(status.Queue) == 0 {
		return "📭 | The queue is empty.", nil
	}

	var b strings.Builder
	for i, t := range status.Queue {
		if i == maxQueueLines {
			fmt.Fprintf(&b, "…and %d more", len(status.Queue)-maxQueueLines)
			break
		}
		fmt.Fprintf(&b, "%d. %s [%s]\n", i+1, t.DisplayName(), formatDuration(t.Info.Length))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func nowPlaying(_ context.Context, c *playback.Controller, _ request) (string, error) {
	status := c.Snapshot()
	if status.Current == nil {
		return "❌ | Nothing is playing.", nil
	}

	line := fmt.Sprintf("🎶 | **%s** [%s/%s] | loop: %s | volume: %d",
		status.Current.DisplayName(), formatDuration(status.Position), formatDuration(status.Current.Info.Length),
		status.Loop, status.Volume)
	if active := status.Filters.Active(); len(active) > 0 {
		names := make([]string, len(active))
		for i, n := range active {
			names[i] = string(n)
		}
		line += " | filters: " + strings.Join(names, ", ")
	}
	if status.Paused {
		line += " | paused"
	}
	return line, nil
}

func toggleFilter(name audiofilter.Name) func(context.Context, *playback.Controller, request) (string, error) {
	return func(ctx context.Context, c *playback.Controller, req request) (string, error) {
		if len(req.args) != 1 {
			return "", errUsage
		}
		on, ok := parseToggle(req.args[0])
		if !ok {
			return "", errUsage
		}

		var err error
		switch name {
		case audiofilter.DoubleTime:
			err = c.SetDoubleTime(ctx, on)
		case audiofilter.Nightcore:
			err = c.SetNightcore(ctx, on)
		case audiofilter.Vaporwave:
			err = c.SetVaporwave(ctx, on)
		case audiofilter.EightD:
			err = c.Set8D(ctx, on)
		}
		if err != nil {
			return "", err
		}

		state := "disabled"
		if on {
			state = "enabled"
		}
		return fmt.Sprintf("🎛️ | %s %s.", name, state), nil
	}
}

func bassboost(ctx context.Context, c *playback.Controller, req request) (string, error) {
	if len(req.args) != 1 {
		return "", errUsage
	}
	v, err := strconv.Atoi(req.args[0])
	if err != nil || v < 0 || v > 100 {
		return "", errUsage
	}
	if err := c.SetBassboost(ctx, v); err != nil {
		return "", err
	}
	if v == 0 {
		return "🎛️ | bassboost disabled.", nil
	}
	return fmt.Sprintf("🎛️ | bassboost set to %d%%.", v), nil
}

func (r *Router) stats(context.Context, *playback.Controller, request) (string, error) {
	state := "disconnected"
	if r.node.Connected() {
		state = "connected"
	}
	active := 0
	for _, c := range r.registry.All() {
		if c.Connected() {
			active++
		}
	}
	st := r.node.Stats()
	return fmt.Sprintf("📊 | node %s: %s | players: %d (%d playing) | uptime: %s | sessions: %d (%d in voice)",
		r.node.Name(), state, st.Players, st.PlayingPlayers, formatDuration(st.Uptime), r.registry.Count(), active), nil
}

func (r *Router) help(context.Context, *playback.Controller, request) (string, error) {
	usages := make([]string, 0, len(r.commands))
	for _, cmd := range r.commands {
		usages = append(usages, "`"+r.prefix+cmd.usage+"`")
	}
	sort.Strings(usages)
	return strings.Join(usages, "\n"), nil
}

func parseToggle(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "true", "enable", "1":
		return true, true
	case "off", "false", "disable", "0":
		return false, true
	default:
		return false, false
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
