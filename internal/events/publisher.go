package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pixil98/go-realm/internal/area"
	"github.com/pixil98/go-realm/internal/store"
)

// Publisher provides the ability to publish messages to subjects.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// RoomPublisher fans state-change and action events out to room topics.
type RoomPublisher struct {
	publisher Publisher
}

func NewRoomPublisher(pub Publisher) *RoomPublisher {
	return &RoomPublisher{publisher: pub}
}

// OnChange announces a positional change to both affected rooms: the one
// being entered and the one being left, in a single call. Receivers in the
// new room see a join, receivers in the old room see a leave; no separate
// event types exist for the two framings.
func (p *RoomPublisher) OnChange(entity store.EntityID, position, previous area.Point) error {
	prev := previous
	ev := Event{
		Kind:     KindMove,
		ID:       uuid.New().String(),
		Entity:   entity,
		Position: position,
		Previous: &prev,
	}
	data, err := ev.Encode()
	if err != nil {
		return err
	}

	if err := p.publisher.Publish(RoomTopic(position), data); err != nil {
		return err
	}
	if previous != position {
		if err := p.publisher.Publish(RoomTopic(previous), data); err != nil {
			return err
		}
	}
	return nil
}

// OnPublicAction announces a free-form public action in a single room.
func (p *RoomPublisher) OnPublicAction(entity store.EntityID, room area.Point, payload []byte) error {
	ev := Event{
		Kind:     KindAction,
		ID:       uuid.New().String(),
		Entity:   entity,
		Position: room,
		Payload:  json.RawMessage(payload),
	}
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	return p.publisher.Publish(RoomTopic(room), data)
}
