package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pixil98/go-realm/internal/store"
	"github.com/pixil98/go-realm/internal/transport"
)

const (
	DefaultPingInterval = 15 * time.Second
	DefaultPingTimeout  = 45 * time.Second

	// Pings spaced closer than floodSpacingFactor of the ping interval count
	// as strikes; more than floodStrikeLimit strikes force a disconnect.
	floodSpacingFactor = 0.9
	floodStrikeLimit   = 3
)

var ErrChannelNotFound = errors.New("channel not found")

// Binder persists the channel<->entity mapping across restarts.
type Binder interface {
	BindChannel(ctx context.Context, channelID string, e store.EntityID) error
	UnbindChannel(ctx context.Context, channelID string) error
}

// Observer is notified of channel lifecycle moments. Observers run
// synchronously, outside the manager's lock, so they may call back into it.
type Observer func(ctx context.Context, ch Channel)

// DeleteObserver is notified when a channel is torn down, with the reason
// delivered to the client.
type DeleteObserver func(ctx context.Context, ch Channel, reason string)

// Manager owns the live channel map and enforces the one-channel-per-entity
// invariant. Activating a channel for an entity that already has one closes
// the old channel first, so a second login preempts the first.
type Manager struct {
	mu        sync.Mutex
	channels  map[string]*Channel
	byEntity  map[store.EntityID]*Channel
	transport transport.Transport
	binder    Binder

	idKey        []byte
	pingInterval time.Duration
	pingTimeout  time.Duration
	clock        func() time.Time

	onNew    []Observer
	onPing   []Observer
	onPong   []Observer
	onDelete []DeleteObserver
}

type ManagerOpt func(*Manager)

func WithPingInterval(d time.Duration) ManagerOpt {
	return func(m *Manager) {
		m.pingInterval = d
	}
}

func WithPingTimeout(d time.Duration) ManagerOpt {
	return func(m *Manager) {
		m.pingTimeout = d
	}
}

func WithIDKey(key []byte) ManagerOpt {
	return func(m *Manager) {
		m.idKey = key
	}
}

func WithClock(clock func() time.Time) ManagerOpt {
	return func(m *Manager) {
		m.clock = clock
	}
}

func NewManager(t transport.Transport, b Binder, opts ...ManagerOpt) *Manager {
	m := &Manager{
		channels:     make(map[string]*Channel),
		byEntity:     make(map[store.EntityID]*Channel),
		transport:    t,
		binder:       b,
		pingInterval: DefaultPingInterval,
		pingTimeout:  DefaultPingTimeout,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) OnNew(obs Observer)          { m.onNew = append(m.onNew, obs) }
func (m *Manager) OnPing(obs Observer)         { m.onPing = append(m.onPing, obs) }
func (m *Manager) OnPong(obs Observer)         { m.onPong = append(m.onPong, obs) }
func (m *Manager) OnDelete(obs DeleteObserver) { m.onDelete = append(m.onDelete, obs) }

// Enable activates a channel for the entity. An existing channel for the
// same entity is force-closed with a "concurrency" disconnect before the new
// one is registered. The binding is persisted first, so a failure here
// leaves any existing channel untouched.
func (m *Manager) Enable(ctx context.Context, e store.EntityID) (*Channel, error) {
	id, err := newChannelID(m.idKey, e)
	if err != nil {
		return nil, err
	}
	if err := m.binder.BindChannel(ctx, id, e); err != nil {
		return nil, fmt.Errorf("binding channel: %w", err)
	}

	// The lock drops while each preempted channel is notified, so a racing
	// Enable can slip a channel in; re-check until the slot is empty.
	m.mu.Lock()
	for {
		old, ok := m.byEntity[e]
		if !ok {
			break
		}
		cl := m.detachLocked(old, ReasonConcurrency)
		m.mu.Unlock()
		m.finishClose(ctx, cl)
		m.mu.Lock()
	}
	ch := &Channel{
		ID:        id,
		Entity:    e,
		CreatedAt: m.clock(),
		Connected: true,
	}
	m.channels[id] = ch
	m.byEntity[e] = ch
	cp := *ch
	m.mu.Unlock()

	for _, obs := range m.onNew {
		obs(ctx, cp)
	}
	return &cp, nil
}

// Close tears the channel down, delivering the reason to the client.
func (m *Manager) Close(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	ch, ok := m.channels[id]
	if !ok {
		m.mu.Unlock()
		return ErrChannelNotFound
	}
	cl := m.detachLocked(ch, reason)
	m.mu.Unlock()

	m.finishClose(ctx, cl)
	return nil
}

// CloseAll tears down every live channel, for shutdown.
func (m *Manager) CloseAll(ctx context.Context, reason string) {
	m.mu.Lock()
	detached := make([]closedChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		detached = append(detached, m.detachLocked(ch, reason))
	}
	m.mu.Unlock()

	for _, cl := range detached {
		m.finishClose(ctx, cl)
	}
}

// HandlePing records an incoming ping and replies with a pong immediately.
// Pings arriving faster than the allowed spacing accumulate strikes; past the
// limit the channel is closed for flooding.
func (m *Manager) HandlePing(ctx context.Context, id string) error {
	m.mu.Lock()
	ch, ok := m.channels[id]
	if !ok {
		m.mu.Unlock()
		return ErrChannelNotFound
	}

	now := m.clock()
	minSpacing := time.Duration(float64(m.pingInterval) * floodSpacingFactor)
	if !ch.LastPingReceived.IsZero() && now.Sub(ch.LastPingReceived) < minSpacing {
		ch.floodStrikes++
	} else {
		ch.floodStrikes = 0
	}
	ch.LastPingReceived = now

	flooded := ch.floodStrikes > floodStrikeLimit
	var cl closedChannel
	if flooded {
		cl = m.detachLocked(ch, ReasonFlood)
	}
	cp := *ch
	m.mu.Unlock()

	if flooded {
		slog.WarnContext(ctx, "closing flooding channel", "channel", id, "entity", cp.Entity)
		m.finishClose(ctx, cl)
		return nil
	}

	if err := m.transport.SendSystemEvent(ctx, id, pongPayload); err != nil {
		slog.WarnContext(ctx, "sending pong", "channel", id, "error", err)
	}
	for _, obs := range m.onPing {
		obs(ctx, cp)
	}
	return nil
}

// HandlePong records a pong from the far end, refreshing the timeout window.
func (m *Manager) HandlePong(ctx context.Context, id string) error {
	m.mu.Lock()
	ch, ok := m.channels[id]
	if !ok {
		m.mu.Unlock()
		return ErrChannelNotFound
	}
	ch.LastPongReceived = m.clock()
	cp := *ch
	m.mu.Unlock()

	for _, obs := range m.onPong {
		obs(ctx, cp)
	}
	return nil
}

// Active returns the entity's live channel, if any.
func (m *Manager) Active(e store.EntityID) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.byEntity[e]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// Lookup returns the channel with the given id, if live.
func (m *Manager) Lookup(id string) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[id]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// closedChannel is a detached channel awaiting its teardown I/O.
type closedChannel struct {
	ch     Channel
	reason string
}

// detachLocked removes the channel from the live maps. The caller must hold
// the lock, and must pass the result to finishClose after releasing it;
// transport sends, binder round trips, and observers never run under the
// lock, or one slow client would stall every other channel.
func (m *Manager) detachLocked(ch *Channel, reason string) closedChannel {
	ch.Connected = false
	delete(m.channels, ch.ID)
	if m.byEntity[ch.Entity] == ch {
		delete(m.byEntity, ch.Entity)
	}
	return closedChannel{ch: *ch, reason: reason}
}

func (m *Manager) finishClose(ctx context.Context, cl closedChannel) {
	if err := m.transport.SendSystemEvent(ctx, cl.ch.ID, disconnectPayload(cl.reason)); err != nil {
		slog.WarnContext(ctx, "sending disconnect", "channel", cl.ch.ID, "error", err)
	}
	if err := m.binder.UnbindChannel(ctx, cl.ch.ID); err != nil {
		slog.ErrorContext(ctx, "unbinding channel", "channel", cl.ch.ID, "error", err)
	}

	for _, obs := range m.onDelete {
		obs(ctx, cl.ch, cl.reason)
	}
	slog.InfoContext(ctx, "channel closed", "channel", cl.ch.ID, "entity", cl.ch.Entity, "reason", cl.reason)
}

// snapshot copies the live channels for the monitor to examine outside the
// lock.
func (m *Manager) snapshot() []Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, *ch)
	}
	return out
}

func (m *Manager) markPingSent(id string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[id]; ok {
		ch.LastPingSent = t
	}
}
