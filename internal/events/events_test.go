package events

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pixil98/go-testutil"

	"github.com/pixil98/go-realm/internal/area"
	"github.com/pixil98/go-realm/internal/store"
)

// fakeBroker is an in-memory stand-in for the NATS broker: synchronous
// delivery, exact-subject matching.
type fakeBroker struct {
	mu        sync.Mutex
	nextID    int
	subs      map[string]map[int]func([]byte)
	published map[string]int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subs:      make(map[string]map[int]func([]byte)),
		published: make(map[string]int),
	}
}

func (b *fakeBroker) Publish(subject string, data []byte) error {
	b.mu.Lock()
	b.published[subject]++
	handlers := make([]func([]byte), 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (b *fakeBroker) Subscribe(subject string, handler func(data []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]func([]byte))
	}
	b.subs[subject][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[subject], id)
	}, nil
}

func (b *fakeBroker) subscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, handlers := range b.subs {
		n += len(handlers)
	}
	return n
}

type delivery struct {
	ev       Event
	interest area.Interest
}

// fakeObserver records deliveries and reports a movable position.
type fakeObserver struct {
	mu        sync.Mutex
	pos       area.Point
	delivered []delivery
}

func (o *fakeObserver) Position() area.Point {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pos
}

func (o *fakeObserver) Deliver(ev Event, interest area.Interest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered = append(o.delivered, delivery{ev: ev, interest: interest})
}

func (o *fakeObserver) moveTo(p area.Point) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pos = p
}

func (o *fakeObserver) deliveries() []delivery {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]delivery(nil), o.delivered...)
}

func TestRoomPublisher_OnChange(t *testing.T) {
	broker := newFakeBroker()
	pub := NewRoomPublisher(broker)

	err := pub.OnChange(7, area.Point{X: 6, Y: 5}, area.Point{X: 5, Y: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Both the room entered and the room left get the same message.
	testutil.AssertEqual(t, "new room", broker.published["room.6.5.0"], 1)
	testutil.AssertEqual(t, "old room", broker.published["room.5.5.0"], 1)
}

func TestRoomPublisher_OnChange_SameRoomOnce(t *testing.T) {
	broker := newFakeBroker()
	pub := NewRoomPublisher(broker)

	err := pub.OnChange(7, area.Point{X: 5, Y: 5}, area.Point{X: 5, Y: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "publish count", broker.published["room.5.5.0"], 1)
}

func TestRoomPublisher_OnPublicAction(t *testing.T) {
	broker := newFakeBroker()
	pub := NewRoomPublisher(broker)

	var got Event
	_, err := broker.Subscribe("room.5.5.0", func(data []byte) {
		ev, err := Decode(data)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got = ev
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = pub.OnPublicAction(7, area.Point{X: 5, Y: 5}, []byte(`{"verb":"wave"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "kind", got.Kind, KindAction)
	testutil.AssertEqual(t, "entity", got.Entity, store.EntityID(7))
	testutil.AssertEqual(t, "payload", string(got.Payload), `{"verb":"wave"}`)
	if got.ID == "" {
		t.Error("expected an event id")
	}
}

func TestSubscriptions_Subscribe(t *testing.T) {
	broker := newFakeBroker()
	subs := NewSubscriptions(broker, 3, area.DefaultBounds)
	obs := &fakeObserver{pos: area.Point{X: 5, Y: 5}}

	err := subs.Subscribe(11, area.Point{X: 5, Y: 5}, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One subscription per cell of the 3x3 view.
	count, ok := subs.Subscribed(11)
	testutil.AssertEqual(t, "subscribed", ok, true)
	testutil.AssertEqual(t, "cell count", count, 9)
	testutil.AssertEqual(t, "broker count", broker.subscriptionCount(), 9)

	err = subs.Subscribe(11, area.Point{X: 5, Y: 5}, obs)
	testutil.AssertEqual(t, "duplicate", err, ErrAlreadySubscribed, cmpopts.EquateErrors())
}

func TestSubscriptions_MoveTo_IssuesDelta(t *testing.T) {
	broker := newFakeBroker()
	subs := NewSubscriptions(broker, 3, area.DefaultBounds)
	obs := &fakeObserver{pos: area.Point{X: 5, Y: 5}}

	if err := subs.Subscribe(11, area.Point{X: 5, Y: 5}, obs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := subs.MoveTo(11, area.Point{X: 6, Y: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "broker count", broker.subscriptionCount(), 9)

	// The west column is gone, the new east column is live.
	testutil.AssertEqual(t, "left behind", len(broker.subs["room.4.5.0"]), 0)
	testutil.AssertEqual(t, "newly visible", len(broker.subs["room.7.5.0"]), 1)
	testutil.AssertEqual(t, "still visible", len(broker.subs["room.6.5.0"]), 1)
}

func TestSubscriptions_MoveTo_Unknown(t *testing.T) {
	subs := NewSubscriptions(newFakeBroker(), 3, area.DefaultBounds)

	err := subs.MoveTo(99, area.Point{X: 1, Y: 1})
	testutil.AssertEqual(t, "error", err, ErrNotSubscribed, cmpopts.EquateErrors())
}

func TestSubscriptions_InterestAtDeliveryTime(t *testing.T) {
	broker := newFakeBroker()
	subs := NewSubscriptions(broker, 3, area.DefaultBounds)
	pub := NewRoomPublisher(broker)
	obs := &fakeObserver{pos: area.Point{X: 5, Y: 5}}

	if err := subs.Subscribe(11, area.Point{X: 5, Y: 5}, obs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same cell: local.
	if err := pub.OnPublicAction(7, area.Point{X: 5, Y: 5}, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Adjacent cell: remote.
	if err := pub.OnPublicAction(7, area.Point{X: 6, Y: 5}, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := obs.deliveries()
	testutil.AssertEqual(t, "delivery count", len(got), 2)
	testutil.AssertEqual(t, "first interest", got[0].interest, area.Local)
	testutil.AssertEqual(t, "second interest", got[1].interest, area.Remote)

	// The observer moved since subscribing; interest follows the current
	// position, not the subscribe-time one.
	obs.moveTo(area.Point{X: 6, Y: 5})
	if err := pub.OnPublicAction(7, area.Point{X: 6, Y: 5}, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got = obs.deliveries()
	testutil.AssertEqual(t, "delivery count", len(got), 3)
	testutil.AssertEqual(t, "moved interest", got[2].interest, area.Local)
}

func TestSubscriptions_DropsOwnEvents(t *testing.T) {
	broker := newFakeBroker()
	subs := NewSubscriptions(broker, 3, area.DefaultBounds)
	pub := NewRoomPublisher(broker)
	obs := &fakeObserver{pos: area.Point{X: 5, Y: 5}}

	if err := subs.Subscribe(11, area.Point{X: 5, Y: 5}, obs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pub.OnPublicAction(11, area.Point{X: 5, Y: 5}, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "delivery count", len(obs.deliveries()), 0)
}

func TestSubscriptions_LeaveFraming(t *testing.T) {
	broker := newFakeBroker()
	subs := NewSubscriptions(broker, 3, area.DefaultBounds)
	pub := NewRoomPublisher(broker)
	obs := &fakeObserver{pos: area.Point{X: 5, Y: 5}}

	if err := subs.Subscribe(11, area.Point{X: 5, Y: 5}, obs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Entity 7 leaves the observer's view entirely. The message reaches the
	// old room's topic and must still be delivered as a leave.
	if err := pub.OnChange(7, area.Point{X: 50, Y: 50}, area.Point{X: 6, Y: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := obs.deliveries()
	testutil.AssertEqual(t, "delivery count", len(got), 1)
	testutil.AssertEqual(t, "interest", got[0].interest, area.Remote)
	testutil.AssertEqual(t, "position", got[0].ev.Position, area.Point{X: 50, Y: 50})
}

func TestSubscriptions_UnsubscribeAll(t *testing.T) {
	broker := newFakeBroker()
	subs := NewSubscriptions(broker, 3, area.DefaultBounds)
	pub := NewRoomPublisher(broker)
	obs := &fakeObserver{pos: area.Point{X: 5, Y: 5}}

	if err := subs.Subscribe(11, area.Point{X: 5, Y: 5}, obs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	subs.UnsubscribeAll(11)
	testutil.AssertEqual(t, "broker count", broker.subscriptionCount(), 0)
	_, ok := subs.Subscribed(11)
	testutil.AssertEqual(t, "subscribed", ok, false)

	// Torn down: nothing is delivered, nothing errors.
	if err := pub.OnPublicAction(7, area.Point{X: 5, Y: 5}, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "delivery count", len(obs.deliveries()), 0)

	// Repeated teardown is a no-op.
	subs.UnsubscribeAll(11)
}

func TestSubscriptions_DropsUndecodable(t *testing.T) {
	broker := newFakeBroker()
	subs := NewSubscriptions(broker, 3, area.DefaultBounds)
	obs := &fakeObserver{pos: area.Point{X: 5, Y: 5}}

	if err := subs.Subscribe(11, area.Point{X: 5, Y: 5}, obs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := broker.Publish("room.5.5.0", []byte("{garbage")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "delivery count", len(obs.deliveries()), 0)
}
