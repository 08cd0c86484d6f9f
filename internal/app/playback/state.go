// Package playback provides the per-guild session controller.
package playback

import (
	"strings"

	"github.com/osa030/tunebox/internal/app/audiofilter"
	"github.com/osa030/tunebox/internal/domain/track"
)

// LoopMode governs whether a completed track is queued again.
type LoopMode int

const (
	LoopNone  LoopMode = iota // No looping
	LoopTrack                 // Repeat the current track
	LoopQueue                 // Append completed tracks to the back
)

// String returns the string representation of the loop mode.
func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "none"
	}
}

// ParseLoopMode converts a string to a LoopMode.
func ParseLoopMode(s string) (LoopMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return LoopNone, true
	case "track", "song":
		return LoopTrack, true
	case "queue", "all":
		return LoopQueue, true
	default:
		return LoopNone, false
	}
}

// Session is the playback state of one guild. It has no I/O; the controller
// applies the returned transitions.
type Session struct {
	Current  *track.Track
	Previous *track.Track
	Queue    []track.Track
	Loop     LoopMode
	Volume   int
	Filters  audiofilter.Set

	// TextChannel receives status notices. It is not owned by the session.
	TextChannel Notifier

	defaultVolume int

	// skipCurrentOnLoop suppresses the loop=track requeue for the next
	// track end only.
	skipCurrentOnLoop bool
}

// Transition lists the follow-up actions of an event.
type Transition struct {
	Play       *track.Track // Play this track next
	Leave      bool         // Disconnect from voice
	NowPlaying *track.Track // Announce this track
	QueueEmpty bool         // Announce that the queue ran out
}

// NewSession creates an empty session.
func NewSession(defaultVolume int) *Session {
	s := &Session{defaultVolume: defaultVolume}
	s.Reset()
	return s
}

// Reset clears the session back to its initial state.
func (s *Session) Reset() {
	s.Loop = LoopNone
	s.Volume = s.defaultVolume
	s.Previous = nil
	s.Current = nil
	s.Queue = make([]track.Track, 0)
	s.TextChannel = nil
	s.Filters.Reset()
	s.skipCurrentOnLoop = false
}

// SkipPending reports whether the next track end skips the loop requeue.
func (s *Session) SkipPending() bool {
	return s.skipCurrentOnLoop
}

// Enqueue appends tracks to the back of the queue.
func (s *Session) Enqueue(tracks ...track.Track) {
	s.Queue = append(s.Queue, tracks...)
}

// OnStarted moves the front of the queue into the now playing slot.
func (s *Session) OnStarted() Transition {
	if len(s.Queue) == 0 {
		s.Current = nil
		return Transition{}
	}

	next := s.Queue[0]
	s.Queue = s.Queue[1:]
	s.Current = &next
	return Transition{NowPlaying: &next}
}

// OnEnded applies the loop policy after a track end. A replaced track is
// not a natural completion and changes nothing.
func (s *Session) OnEnded(reason EndReason) Transition {
	if reason == EndReplaced {
		return Transition{}
	}

	s.Previous = s.Current
	s.Current = nil

	if s.Previous != nil {
		if s.Loop == LoopTrack && !s.skipCurrentOnLoop {
			s.Queue = append([]track.Track{*s.Previous}, s.Queue...)
		} else if s.Loop == LoopQueue {
			s.Queue = append(s.Queue, *s.Previous)
		}
	}
	s.skipCurrentOnLoop = false

	if len(s.Queue) == 0 {
		s.Reset()
		return Transition{Leave: true, QueueEmpty: true}
	}

	next := s.Queue[0]
	return Transition{Play: &next}
}

// PrepareSkip reorders the queue for a skip to position n (1-based) and
// arms the loop=track suppression. The track at n-1 is moved to the front;
// the tracks before it stay queued behind it. It returns false when n is
// out of range.
func (s *Session) PrepareSkip(n int) bool {
	if n > 1 {
		if n > len(s.Queue) {
			return false
		}
		target := s.Queue[n-1]
		reordered := make([]track.Track, 0, len(s.Queue))
		reordered = append(reordered, target)
		reordered = append(reordered, s.Queue[:n-1]...)
		reordered = append(reordered, s.Queue[n:]...)
		s.Queue = reordered
	}

	if s.Loop == LoopTrack && len(s.Queue) > 0 {
		s.skipCurrentOnLoop = true
	}
	return true
}

// PrepareStop turns looping off and empties the queue so the next track end
// tears the session down.
func (s *Session) PrepareStop() {
	s.Loop = LoopNone
	s.Queue = make([]track.Track, 0)
}

// Shuffle permutes the queue with the given swap-based shuffler.
func (s *Session) Shuffle(shuffle func(n int, swap func(i, j int))) {
	shuffle(len(s.Queue), func(i, j int) {
		s.Queue[i], s.Queue[j] = s.Queue[j], s.Queue[i]
	})
}
