// Package session keeps one playback controller per guild.
package session

import (
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/app/playback"
)

// Registry manages guild controllers with thread-safe access. The lock only
// guards the map; each controller serializes its own state.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*playback.Controller

	voice    playback.Voice
	resolver playback.Resolver
	config   playback.Config
}

// NewRegistry creates a registry whose controllers share the given voice
// layer, resolver and configuration. Controllers are dropped once their
// session tears down.
func NewRegistry(voice playback.Voice, resolver playback.Resolver, config playback.Config) *Registry {
	r := &Registry{
		controllers: make(map[string]*playback.Controller),
		voice:       voice,
		resolver:    resolver,
	}
	config.OnIdle = func(guildID string) {
		r.Remove(guildID)
	}
	r.config = config
	return r
}

// Get returns the controller of a guild, creating it on first use.
func (r *Registry) Get(guildID string) *playback.Controller {
	r.mu.RLock()
	c, ok := r.controllers[guildID]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.controllers[guildID]; ok {
		return c
	}
	c = playback.NewController(guildID, r.voice, r.resolver, r.config)
	r.controllers[guildID] = c
	zlog.Debug().Msgf("session: created controller: guild=%s", guildID)
	return c
}

// Lookup returns the controller of a guild without creating one.
func (r *Registry) Lookup(guildID string) (*playback.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[guildID]
	return c, ok
}

// Remove retires and forgets the controller of a guild if it is idle. It
// reports whether the guild no longer has a controller.
func (r *Registry) Remove(guildID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.controllers[guildID]
	if !ok {
		return true
	}
	if !c.Retire() {
		return false
	}
	delete(r.controllers, guildID)
	zlog.Debug().Msgf("session: removed controller: guild=%s", guildID)
	return true
}

// All returns every controller.
func (r *Registry) All() []*playback.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*playback.Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		result = append(result, c)
	}
	return result
}

// Count returns the number of controllers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}

// Close closes every controller and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	controllers := r.controllers
	r.controllers = make(map[string]*playback.Controller)
	r.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
}
