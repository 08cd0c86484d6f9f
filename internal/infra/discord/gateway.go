// Package discord wraps the chat gateway session used for voice signalling
// and text replies.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// EmbedColor is the accent color of reply embeds.
const EmbedColor = 0x5865F2

// VoiceSink receives the bot's own voice signalling.
type VoiceSink interface {
	VoiceStateUpdate(ctx context.Context, guildID, sessionID string)
	VoiceServerUpdate(ctx context.Context, guildID, token, endpoint string)
}

// Gateway is a chat gateway session.
type Gateway struct {
	session *discordgo.Session
	ctx     context.Context
}

// New creates a gateway session for a bot token. Call Open to connect.
func New(ctx context.Context, token string) (*Gateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	return &Gateway{session: s, ctx: ctx}, nil
}

// Session returns the underlying session.
func (g *Gateway) Session() *discordgo.Session {
	return g.session
}

// Open connects to the gateway.
func (g *Gateway) Open() error {
	if err := g.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord session")
	}
	zlog.Info().Msgf("discord: connected: user=%s", g.UserID())
	return nil
}

// Close disconnects from the gateway.
func (g *Gateway) Close() error {
	return g.session.Close()
}

// UserID returns the bot's user ID once the session is ready.
func (g *Gateway) UserID() string {
	if g.session.State == nil || g.session.State.User == nil {
		return ""
	}
	return g.session.State.User.ID
}

// UpdateVoiceState joins, moves or (with an empty channelID) leaves voice.
func (g *Gateway) UpdateVoiceState(guildID, channelID string, mute, deaf bool) error {
	if err := g.session.ChannelVoiceJoinManual(guildID, channelID, mute, deaf); err != nil {
		return errors.Wrapf(err, "failed to update voice state: guild=%s", guildID)
	}
	return nil
}

// UserVoiceChannel returns the voice channel a user is connected to.
func (g *Gateway) UserVoiceChannel(guildID, userID string) (string, bool) {
	vs, err := g.session.State.VoiceState(guildID, userID)
	if err != nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// Send posts a one-line embed to a text channel.
func (g *Gateway) Send(ctx context.Context, channelID, message string) error {
	embed := &discordgo.MessageEmbed{
		Description: message,
		Color:       EmbedColor,
	}
	if _, err := g.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "failed to send message: channel=%s", channelID)
	}
	return nil
}

// Forward registers handlers passing the bot's voice signalling to sink.
func (g *Gateway) Forward(sink VoiceSink) {
	g.session.AddHandler(g.voiceStateHandler(sink))
	g.session.AddHandler(g.voiceServerHandler(sink))
}

func (g *Gateway) voiceStateHandler(sink VoiceSink) func(*discordgo.Session, *discordgo.VoiceStateUpdate) {
	return func(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		if s.State == nil || s.State.User == nil || v.UserID != s.State.User.ID {
			return
		}
		sessionID := v.SessionID
		if v.ChannelID == "" {
			sessionID = ""
		}
		zlog.Debug().Msgf("discord: voice state update: guild=%s channel=%s", v.GuildID, v.ChannelID)
		sink.VoiceStateUpdate(g.ctx, v.GuildID, sessionID)
	}
}

func (g *Gateway) voiceServerHandler(sink VoiceSink) func(*discordgo.Session, *discordgo.VoiceServerUpdate) {
	return func(_ *discordgo.Session, v *discordgo.VoiceServerUpdate) {
		zlog.Debug().Msgf("discord: voice server update: guild=%s endpoint=%s", v.GuildID, v.Endpoint)
		sink.VoiceServerUpdate(g.ctx, v.GuildID, v.Token, v.Endpoint)
	}
}

// InstallLogger routes discordgo's internal logging through zerolog.
func InstallLogger() {
	discordgo.Logger = func(level, _ int, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch level {
		case discordgo.LogError:
			zlog.Error().Msgf("discordgo: %s", msg)
		case discordgo.LogWarning:
			zlog.Warn().Msgf("discordgo: %s", msg)
		case discordgo.LogInformational:
			zlog.Info().Msgf("discordgo: %s", msg)
		default:
			zlog.Debug().Msgf("discordgo: %s", msg)
		}
	}
}
