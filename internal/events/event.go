package events

import (
	"encoding/json"
	"fmt"

	"github.com/pixil98/go-realm/internal/area"
	"github.com/pixil98/go-realm/internal/store"
)

// Kind tags what a propagated event describes.
type Kind string

const (
	// KindMove is a positional change. Receivers derive join/leave framing
	// by comparing Position and Previous against their own cell.
	KindMove Kind = "move"
	// KindAction is a public action performed in a room.
	KindAction Kind = "action"
)

// Event is the small tagged record published to room topics.
type Event struct {
	Kind     Kind            `json:"kind"`
	ID       string          `json:"id"`
	Entity   store.EntityID  `json:"entity"`
	Position area.Point      `json:"position"`
	Previous *area.Point     `json:"previous,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Kind, err)
	}
	return data, nil
}

func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	return e, nil
}

// RoomTopic names the pub/sub subject for one cell of the world grid.
func RoomTopic(p area.Point) string {
	return "room." + p.String()
}
