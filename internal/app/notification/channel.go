// Package notification posts session notices to chat text channels.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrTimeout is returned when a send does not complete in time.
var ErrTimeout = errors.New("notification send timed out")

// Sender delivers a message to a text channel on the chat platform.
type Sender interface {
	Send(ctx context.Context, channelID, message string) error
}

// Channel is a single notification destination.
type Channel struct {
	id      string
	sender  Sender
	timeout time.Duration
}

// ID returns the text channel ID.
func (c *Channel) ID() string {
	return c.id
}

// Post sends a message, giving up after the channel timeout so a slow
// platform call never blocks the caller.
func (c *Channel) Post(ctx context.Context, message string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.sender.Send(ctx, c.id, message)
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrapf(err, "failed to post to channel %s", c.id)
		}
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ErrTimeout, "channel %s", c.id)
	}
}

// Manager hands out channels that share one sender.
type Manager struct {
	mu       sync.Mutex
	sender   Sender
	timeout  time.Duration
	channels map[string]*Channel
}

// NewManager creates a notification manager.
func NewManager(sender Sender, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Manager{
		sender:   sender,
		timeout:  timeout,
		channels: make(map[string]*Channel),
	}
}

// Channel returns the destination for a text channel ID.
func (m *Manager) Channel(channelID string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[channelID]; ok {
		return ch
	}
	ch := &Channel{id: channelID, sender: m.sender, timeout: m.timeout}
	m.channels[channelID] = ch
	return ch
}

// Count returns the number of known channels.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}
