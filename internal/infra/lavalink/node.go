// Package lavalink implements the audio node client: a websocket for player
// commands and events, and a REST endpoint for track lookups.
package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/tunebox/internal/app/playback"
)

// ErrNotConnected is returned when a command is sent while the websocket is down.
var ErrNotConnected = errors.New("lavalink: node not connected")

// Gateway updates the bot's voice state on the chat gateway.
// An empty channelID disconnects.
type Gateway interface {
	UpdateVoiceState(guildID, channelID string, mute, deaf bool) error
}

// Config represents node connection configuration.
type Config struct {
	Name              string
	Host              string
	Port              int
	Password          string
	Secure            bool
	ClientName        string
	UserID            string // Bot user ID, known once the gateway session is open
	NumShards         int
	ReconnectInterval time.Duration
	EventBuffer       int
}

// Node is a connection to one audio node. It implements playback.Voice.
type Node struct {
	cfg     Config
	gateway Gateway
	dialer  *websocket.Dialer
	http    *http.Client
	limiter *rate.Limiter

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	playersMu sync.RWMutex
	players   map[string]*Player

	statsMu sync.RWMutex
	stats   Stats
}

var _ playback.Voice = (*Node)(nil)

// NewNode creates a node client. Call Run to connect.
func NewNode(cfg Config, gateway Gateway) *Node {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 1
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "tunebox"
	}

	return &Node{
		cfg:     cfg,
		gateway: gateway,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		players: make(map[string]*Player),
	}
}

func (n *Node) address() string {
	return net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
}

// Name returns the configured node name.
func (n *Node) Name() string {
	return n.cfg.Name
}

// Run connects to the node and keeps the connection alive until ctx is done.
// Reconnect attempts are paced by the reconnect interval.
func (n *Node) Run(ctx context.Context) error {
	for {
		if err := n.limiter.Wait(ctx); err != nil {
			return nil
		}

		conn, err := n.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zlog.Warn().Msgf("lavalink: connect failed: node=%s error=%v", n.cfg.Name, err)
			continue
		}

		n.setConn(conn)
		zlog.Info().Msgf("lavalink: connected: node=%s address=%s", n.cfg.Name, n.address())

		err = n.readLoop(ctx, conn)
		n.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			zlog.Info().Msgf("lavalink: disconnected: node=%s", n.cfg.Name)
			return nil
		}
		zlog.Warn().Msgf("lavalink: connection lost, reconnecting: node=%s error=%v", n.cfg.Name, err)
	}
}

func (n *Node) dial(ctx context.Context) (*websocket.Conn, error) {
	scheme := "ws"
	if n.cfg.Secure {
		scheme = "wss"
	}

	headers := http.Header{}
	headers.Set("Authorization", n.cfg.Password)
	headers.Set("User-Id", n.cfg.UserID)
	headers.Set("Num-Shards", strconv.Itoa(n.cfg.NumShards))
	headers.Set("Client-Name", n.cfg.ClientName)

	conn, resp, err := n.dialer.DialContext(ctx, fmt.Sprintf("%s://%s/", scheme, n.address()), headers)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "handshake failed: status=%d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dial failed")
	}
	return conn, nil
}

func (n *Node) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		n.handleMessage(data)
	}
}

func (n *Node) setConn(conn *websocket.Conn) {
	n.connMu.Lock()
	n.conn = conn
	n.connMu.Unlock()
}

// Connected reports whether the websocket is up.
func (n *Node) Connected() bool {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return n.conn != nil
}

// Stats returns the last statistics report from the node.
func (n *Node) Stats() Stats {
	n.statsMu.RLock()
	defer n.statsMu.RUnlock()
	return n.stats
}

// send writes one op to the websocket.
func (n *Node) send(ctx context.Context, payload any) error {
	n.connMu.RLock()
	conn := n.conn
	n.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	if err := conn.WriteJSON(payload); err != nil {
		return errors.Wrap(err, "failed to write to node")
	}
	return nil
}

// Join requests a voice connection for the guild and returns its player.
// Calling Join for a guild that already has a player returns that player.
func (n *Node) Join(ctx context.Context, guildID, channelID string, opts playback.JoinOptions) (playback.Player, error) {
	n.playersMu.Lock()
	p, ok := n.players[guildID]
	if !ok {
		p = newPlayer(n, guildID, n.cfg.EventBuffer)
		n.players[guildID] = p
	}
	n.playersMu.Unlock()

	if err := n.gateway.UpdateVoiceState(guildID, channelID, opts.SelfMute, opts.SelfDeaf); err != nil {
		if !ok {
			n.removePlayer(guildID)
			p.destroy()
		}
		return nil, errors.Wrap(err, "failed to join voice channel")
	}

	zlog.Info().Msgf("lavalink: joining voice: guild=%s channel=%s", guildID, channelID)
	return p, nil
}

// Leave destroys the guild's player and disconnects from voice.
func (n *Node) Leave(ctx context.Context, guildID string) error {
	p, ok := n.removePlayer(guildID)
	if !ok {
		return nil
	}
	p.destroy()

	var errs error
	if err := n.send(ctx, guildPayload{Op: opDestroy, GuildID: guildID}); err != nil && !errors.Is(err, ErrNotConnected) {
		errs = errors.CombineErrors(errs, err)
	}
	if err := n.gateway.UpdateVoiceState(guildID, "", false, false); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to leave voice channel"))
	}

	zlog.Info().Msgf("lavalink: left voice: guild=%s", guildID)
	return errs
}

// LeaveAll leaves every guild that has a player.
func (n *Node) LeaveAll(ctx context.Context) {
	n.playersMu.RLock()
	ids := make([]string, 0, len(n.players))
	for id := range n.players {
		ids = append(ids, id)
	}
	n.playersMu.RUnlock()

	for _, id := range ids {
		if err := n.Leave(ctx, id); err != nil {
			zlog.Warn().Msgf("lavalink: failed to leave: guild=%s error=%v", id, err)
		}
	}
}

// Player returns the active player for a guild.
func (n *Node) Player(guildID string) (playback.Player, bool) {
	p, ok := n.lookup(guildID)
	if !ok {
		return nil, false
	}
	return p, true
}

func (n *Node) lookup(guildID string) (*Player, bool) {
	n.playersMu.RLock()
	defer n.playersMu.RUnlock()
	p, ok := n.players[guildID]
	return p, ok
}

func (n *Node) removePlayer(guildID string) (*Player, bool) {
	n.playersMu.Lock()
	defer n.playersMu.Unlock()
	p, ok := n.players[guildID]
	if ok {
		delete(n.players, guildID)
	}
	return p, ok
}

// VoiceStateUpdate records the bot's voice session for a guild. An empty
// sessionID means the bot was disconnected from voice.
func (n *Node) VoiceStateUpdate(ctx context.Context, guildID, sessionID string) {
	p, ok := n.lookup(guildID)
	if !ok {
		return
	}
	if sessionID == "" {
		zlog.Debug().Msgf("lavalink: voice session cleared: guild=%s", guildID)
		p.clearVoice()
		return
	}
	if update, ready := p.setSession(sessionID); ready {
		n.sendVoiceUpdate(ctx, update)
	}
}

// VoiceServerUpdate records the voice server for a guild.
func (n *Node) VoiceServerUpdate(ctx context.Context, guildID, token, endpoint string) {
	p, ok := n.lookup(guildID)
	if !ok {
		return
	}
	if update, ready := p.setServer(token, endpoint); ready {
		n.sendVoiceUpdate(ctx, update)
	}
}

func (n *Node) sendVoiceUpdate(ctx context.Context, update voiceUpdatePayload) {
	if err := n.send(ctx, update); err != nil {
		zlog.Error().Msgf("lavalink: failed to send voice update: guild=%s error=%v", update.GuildID, err)
		return
	}
	zlog.Debug().Msgf("lavalink: voice update sent: guild=%s endpoint=%s", update.GuildID, update.Event.Endpoint)
}

// handleMessage decodes one websocket message and routes it.
func (n *Node) handleMessage(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		zlog.Warn().Msgf("lavalink: malformed message: error=%v", err)
		return
	}

	switch msg.Op {
	case opStats:
		n.statsMu.Lock()
		n.stats = Stats{
			Players:        msg.Players,
			PlayingPlayers: msg.PlayingPlayers,
			Uptime:         time.Duration(msg.Uptime) * time.Millisecond,
		}
		n.statsMu.Unlock()

	case opPlayerUpdate:
		if p, ok := n.lookup(msg.GuildID); ok && msg.State != nil {
			p.setPosition(time.Duration(msg.State.Position) * time.Millisecond)
		}

	case opEvent:
		p, ok := n.lookup(msg.GuildID)
		if !ok {
			zlog.Debug().Msgf("lavalink: event for unknown player: guild=%s type=%s", msg.GuildID, msg.Type)
			return
		}
		ev, ok := n.decodeEvent(p, &msg)
		if ok {
			p.emit(ev)
		}

	default:
		zlog.Debug().Msgf("lavalink: ignored op: op=%s", msg.Op)
	}
}

// decodeEvent converts a node event to a player event. Events that do not
// affect playback state are logged and dropped.
func (n *Node) decodeEvent(p *Player, msg *inbound) (playback.Event, bool) {
	switch msg.Type {
	case eventTrackStart:
		return playback.Event{Type: playback.EventStarted, Track: p.trackFor(msg.Track)}, true

	case eventTrackEnd:
		return playback.Event{
			Type:   playback.EventEnded,
			Track:  p.trackFor(msg.Track),
			Reason: playback.EndReason(msg.Reason),
		}, true

	case eventTrackException:
		cause := "unknown"
		if msg.Exception != nil {
			cause = msg.Exception.Message
		}
		return playback.Event{
			Type:  playback.EventError,
			Track: p.trackFor(msg.Track),
			Err:   errors.Newf("track exception: %s", cause),
		}, true

	case eventTrackStuck:
		return playback.Event{
			Type:  playback.EventError,
			Track: p.trackFor(msg.Track),
			Err:   errors.Newf("track stuck: threshold=%dms", msg.ThresholdMs),
		}, true

	case eventWebSocketClosed:
		zlog.Warn().Msgf("lavalink: voice websocket closed: guild=%s code=%d reason=%s remote=%t",
			msg.GuildID, msg.Code, msg.Reason, msg.ByRemote)

	default:
		zlog.Debug().Msgf("lavalink: unknown event: guild=%s type=%s", msg.GuildID, msg.Type)
	}
	return playback.Event{}, false
}
