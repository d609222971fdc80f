package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnavailable is returned by Subscribe when no broker is configured.
var ErrUnavailable = errors.New("event broker unavailable")

const (
	EventCommentPosted = "comment.posted"
	EventVideoUploaded = "video.uploaded"
)

// UploadsTopic carries one event per successful upload.
const UploadsTopic = "videos.uploaded"

// CommentsTopic is the per-video topic for new comments.
func CommentsTopic(videoID string) string {
	return "comments." + videoID
}

type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into an event stamped with the current time.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// EventBroker fans events out to every subscriber of a topic.
// Delivery is at-most-once; subscribers that join late miss earlier events.
type EventBroker interface {
	Publish(ctx context.Context, topic string, event Event) error
	// Subscribe returns a channel that is closed once ctx is done or the
	// underlying connection goes away.
	Subscribe(ctx context.Context, topic string) (<-chan Event, error)
	Close() error
}

// Noop drops every event. Used when BROKER=none or Redis is not configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, Event) error { return nil }

func (Noop) Subscribe(context.Context, string) (<-chan Event, error) {
	return nil, ErrUnavailable
}

func (Noop) Close() error { return nil }
