package events

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pixil98/go-realm/internal/area"
	"github.com/pixil98/go-realm/internal/store"
)

var (
	ErrAlreadySubscribed = errors.New("entity already subscribed")
	ErrNotSubscribed     = errors.New("entity not subscribed")
)

// Subscriber provides the ability to subscribe to message subjects.
type Subscriber interface {
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func(), err error)
}

// Observer receives the events relevant to one entity. Position is consulted
// at delivery time, never cached, because the observer may have moved between
// subscribing to a cell and a message arriving from it.
type Observer interface {
	Position() area.Point
	Deliver(ev Event, interest area.Interest)
}

// Subscriptions manages room-topic subscriptions on behalf of entities:
// one observer per entity, one subscription per visible cell. Moves issue
// exactly the area delta rather than resubscribing the whole view, so the
// work per step is bounded by the peripheral ring.
type Subscriptions struct {
	mu         sync.Mutex
	subscriber Subscriber
	side       int
	bounds     area.Bounds
	entities   map[store.EntityID]*entitySubs
}

type entitySubs struct {
	view     area.Area
	observer Observer
	subs     map[string]func()
}

func NewSubscriptions(sub Subscriber, viewSide int, bounds area.Bounds) *Subscriptions {
	return &Subscriptions{
		subscriber: sub,
		side:       viewSide,
		bounds:     bounds,
		entities:   make(map[store.EntityID]*entitySubs),
	}
}

// Subscribe registers the entity's observer and subscribes every cell of its
// view area around center.
func (s *Subscriptions) Subscribe(entity store.EntityID, center area.Point, obs Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entity]; ok {
		return ErrAlreadySubscribed
	}

	es := &entitySubs{
		view:     area.Compute(center, s.side, s.bounds),
		observer: obs,
		subs:     make(map[string]func()),
	}
	s.entities[entity] = es

	for _, p := range es.view.Points() {
		if err := s.subscribeTopic(entity, es, RoomTopic(p)); err != nil {
			s.teardownLocked(entity, es)
			return err
		}
	}
	return nil
}

// MoveTo recomputes the entity's view around its new center and issues only
// the subscription delta.
func (s *Subscriptions) MoveTo(entity store.EntityID, center area.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	es, ok := s.entities[entity]
	if !ok {
		return ErrNotSubscribed
	}

	next := area.Compute(center, s.side, s.bounds)
	added, removed := area.Delta(es.view, next)
	es.view = next

	for _, p := range removed {
		topic := RoomTopic(p)
		if unsub, ok := es.subs[topic]; ok {
			unsub()
			delete(es.subs, topic)
		}
	}
	for _, p := range added {
		if err := s.subscribeTopic(entity, es, RoomTopic(p)); err != nil {
			return err
		}
	}
	return nil
}

// UnsubscribeAll tears down every subscription the entity holds. Used on
// disconnect; unknown entities are a no-op.
func (s *Subscriptions) UnsubscribeAll(entity store.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	es, ok := s.entities[entity]
	if !ok {
		return
	}
	s.teardownLocked(entity, es)
}

// Subscribed reports whether the entity currently holds subscriptions and
// how many cells are covered.
func (s *Subscriptions) Subscribed(entity store.EntityID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	es, ok := s.entities[entity]
	if !ok {
		return 0, false
	}
	return len(es.subs), true
}

func (s *Subscriptions) subscribeTopic(entity store.EntityID, es *entitySubs, topic string) error {
	unsub, err := s.subscriber.Subscribe(topic, func(data []byte) {
		s.dispatch(entity, data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	// Shouldn't happen, but never leak an older subscription for the cell.
	if old, ok := es.subs[topic]; ok {
		old()
	}
	es.subs[topic] = unsub
	return nil
}

func (s *Subscriptions) teardownLocked(entity store.EntityID, es *entitySubs) {
	for topic, unsub := range es.subs {
		unsub()
		delete(es.subs, topic)
	}
	delete(s.entities, entity)
}

// dispatch hands one incoming message to the entity's observer. Interest is
// re-derived against the observer's current position; stale messages — for
// the entity's own events, for cells just unsubscribed, or for an entity
// already torn down — are dropped silently, as are undecodable payloads.
func (s *Subscriptions) dispatch(entity store.EntityID, data []byte) {
	ev, err := Decode(data)
	if err != nil {
		slog.Debug("dropping undecodable event", "entity", entity, "error", err)
		return
	}

	s.mu.Lock()
	es, ok := s.entities[entity]
	var obs Observer
	if ok {
		obs = es.observer
	}
	s.mu.Unlock()
	if obs == nil {
		return
	}

	if ev.Entity == entity {
		return
	}

	interest := area.Classify(obs.Position(), ev.Position, s.side/2)
	if interest == area.None && ev.Previous != nil {
		// A move out of view is still a leave for whoever saw the origin.
		interest = area.Classify(obs.Position(), *ev.Previous, s.side/2)
	}
	if interest == area.None {
		return
	}

	obs.Deliver(ev, interest)
}
