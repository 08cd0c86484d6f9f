package playback

import (
	"context"
	"time"

	"github.com/osa030/tunebox/internal/domain/track"
)

// JoinOptions are passed to the voice layer when connecting.
type JoinOptions struct {
	SelfDeaf bool
	SelfMute bool
}

// Voice is the connection registry of the audio node.
type Voice interface {
	// Join connects to a voice channel and returns the guild's player.
	Join(ctx context.Context, guildID, channelID string, opts JoinOptions) (Player, error)
	// Leave disconnects the guild and destroys its player.
	Leave(ctx context.Context, guildID string) error
	// Player returns the active player for a guild.
	Player(guildID string) (Player, bool)
}

// Player is the per-guild player handle on the audio node. Commands return
// once the node has accepted them, not once they are applied.
type Player interface {
	Play(ctx context.Context, t track.Track) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context, paused bool) error
	Paused() bool
	SetVolume(ctx context.Context, volume int) error
	// Volume returns the volume the node is playing at.
	Volume() int
	// Position returns the playback position of the current track.
	Position() time.Duration
	SendRaw(ctx context.Context, payload map[string]any) error
	// Events returns the event stream in emission order. It is closed when
	// the player is destroyed.
	Events() <-chan Event
}

// Resolver looks up playable tracks for a query.
type Resolver interface {
	Load(ctx context.Context, query string) (*track.LoadResult, error)
}

// Notifier posts status messages to a text channel.
type Notifier interface {
	Post(ctx context.Context, message string) error
}
