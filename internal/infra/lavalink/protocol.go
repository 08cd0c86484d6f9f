package lavalink

import (
	"time"

	"github.com/osa030/tunebox/internal/domain/track"
)

// Outgoing op codes.
const (
	opPlay        = "play"
	opStop        = "stop"
	opPause       = "pause"
	opVolume      = "volume"
	opVoiceUpdate = "voiceUpdate"
	opDestroy     = "destroy"
)

// Incoming op codes.
const (
	opEvent        = "event"
	opPlayerUpdate = "playerUpdate"
	opStats        = "stats"
)

// Incoming event types.
const (
	eventTrackStart      = "TrackStartEvent"
	eventTrackEnd        = "TrackEndEvent"
	eventTrackException  = "TrackExceptionEvent"
	eventTrackStuck      = "TrackStuckEvent"
	eventWebSocketClosed = "WebSocketClosedEvent"
)

type playPayload struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	Track   string `json:"track"`
}

type guildPayload struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

type pausePayload struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	Pause   bool   `json:"pause"`
}

type volumePayload struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	Volume  int    `json:"volume"`
}

type voiceServerEvent struct {
	Token    string `json:"token"`
	GuildID  string `json:"guild_id"`
	Endpoint string `json:"endpoint"`
}

type voiceUpdatePayload struct {
	Op        string           `json:"op"`
	GuildID   string           `json:"guildId"`
	SessionID string           `json:"sessionId"`
	Event     voiceServerEvent `json:"event"`
}

// exception is the error block attached to exception events and failed loads.
type exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// inbound is the union of every message the node sends over the websocket.
type inbound struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`

	// op=event
	Type        string     `json:"type"`
	Track       string     `json:"track"`
	Reason      string     `json:"reason"`
	Exception   *exception `json:"exception"`
	ThresholdMs int64      `json:"thresholdMs"`
	Code        int        `json:"code"`
	ByRemote    bool       `json:"byRemote"`

	// op=playerUpdate
	State *playerState `json:"state"`

	// op=stats
	Players        int   `json:"players"`
	PlayingPlayers int   `json:"playingPlayers"`
	Uptime         int64 `json:"uptime"`
}

type playerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
}

// Stats is the last statistics report received from the node.
type Stats struct {
	Players        int
	PlayingPlayers int
	Uptime         time.Duration
}

type trackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	SourceName string `json:"sourceName"`
}

type wireTrack struct {
	Track string    `json:"track"`
	Info  trackInfo `json:"info"`
}

type loadResponse struct {
	LoadType     string `json:"loadType"`
	PlaylistInfo struct {
		Name string `json:"name"`
	} `json:"playlistInfo"`
	Tracks    []wireTrack `json:"tracks"`
	Exception *exception  `json:"exception"`
}

var loadTypes = map[string]track.LoadType{
	"TRACK_LOADED":    track.LoadTypeTrack,
	"PLAYLIST_LOADED": track.LoadTypePlaylist,
	"SEARCH_RESULT":   track.LoadTypeSearch,
	"NO_MATCHES":      track.LoadTypeEmpty,
	"LOAD_FAILED":     track.LoadTypeError,
}

func (w wireTrack) toDomain() track.Track {
	return track.Track{
		Encoded: w.Track,
		Info: track.Info{
			Identifier: w.Info.Identifier,
			Title:      w.Info.Title,
			Author:     w.Info.Author,
			Length:     time.Duration(w.Info.Length) * time.Millisecond,
			URI:        w.Info.URI,
			SourceName: w.Info.SourceName,
			IsStream:   w.Info.IsStream,
			IsSeekable: w.Info.IsSeekable,
		},
	}
}

func (r *loadResponse) toDomain() *track.LoadResult {
	lt, ok := loadTypes[r.LoadType]
	if !ok {
		lt = track.LoadTypeError
	}

	result := &track.LoadResult{
		Type:   lt,
		Tracks: make([]track.Track, 0, len(r.Tracks)),
	}
	for _, t := range r.Tracks {
		result.Tracks = append(result.Tracks, t.toDomain())
	}
	if lt == track.LoadTypePlaylist {
		result.PlaylistName = r.PlaylistInfo.Name
	}
	if r.Exception != nil {
		result.Exception = r.Exception.Message
	}
	return result
}
