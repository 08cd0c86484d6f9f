package playback

import "github.com/osa030/tunebox/internal/domain/track"

// EventType represents a player lifecycle event reported by the audio node.
type EventType int

const (
	EventStarted EventType = iota // Track started playing
	EventEnded                    // Track ended
	EventError                    // Node reported a playback error
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// EndReason is the reason the node gives for a track end.
type EndReason string

const (
	EndFinished   EndReason = "FINISHED"
	EndLoadFailed EndReason = "LOAD_FAILED"
	EndStopped    EndReason = "STOPPED"
	EndReplaced   EndReason = "REPLACED"
	EndCleanup    EndReason = "CLEANUP"
)

// Event is a single player event.
type Event struct {
	Type   EventType
	Track  *track.Track // Track the node reported, if any
	Reason EndReason    // Set for EventEnded
	Err    error        // Set for EventError
}
