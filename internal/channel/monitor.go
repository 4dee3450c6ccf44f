package channel

import (
	"context"
	"log/slog"
)

// Monitor drives channel health on the driver's tick: it sends pings when
// they are due and closes channels whose pong window has lapsed. A channel
// that never ponged is measured from its creation time, giving a fresh
// connection one full timeout to respond.
type Monitor struct {
	manager *Manager
}

func NewMonitor(m *Manager) *Monitor {
	return &Monitor{manager: m}
}

func (m *Monitor) Tick(ctx context.Context) error {
	mgr := m.manager
	now := mgr.clock()

	for _, ch := range mgr.snapshot() {
		since := ch.LastPongReceived
		if since.IsZero() {
			since = ch.CreatedAt
		}
		if now.Sub(since) > mgr.pingTimeout {
			if err := mgr.Close(ctx, ch.ID, ReasonTimeout); err != nil && err != ErrChannelNotFound {
				return err
			}
			continue
		}

		if ch.LastPingSent.IsZero() || now.Sub(ch.LastPingSent) >= mgr.pingInterval {
			if err := mgr.transport.SendSystemEvent(ctx, ch.ID, pingPayload); err != nil {
				// An unreachable transport is the same as a dead client.
				slog.WarnContext(ctx, "ping delivery failed", "channel", ch.ID, "error", err)
				if err := mgr.Close(ctx, ch.ID, ReasonTimeout); err != nil && err != ErrChannelNotFound {
					return err
				}
				continue
			}
			mgr.markPingSent(ch.ID, now)
		}
	}
	return nil
}
