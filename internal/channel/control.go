package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pixil98/go-realm/internal/store"
)

const (
	// SubjectEnable receives decoded session claims from the identity edge
	// when a client authenticates.
	SubjectEnable = "session.enable"
	// SubjectControl receives relayed client ping/pong frames.
	SubjectControl = "session.control"
)

// Subscriber provides the ability to subscribe to message subjects.
type Subscriber interface {
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func(), err error)
}

type enableFrame struct {
	Entity store.EntityID `json:"entity"`
}

type controlFrame struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
}

// Control is the worker routing inbound session frames from edge services to
// the manager. Credentials never appear here; the identity provider publishes
// already-validated claims.
type Control struct {
	manager    *Manager
	subscriber Subscriber
}

func NewControl(m *Manager, sub Subscriber) *Control {
	return &Control{
		manager:    m,
		subscriber: sub,
	}
}

func (c *Control) Start(ctx context.Context) error {
	unsubEnable, err := c.subscriber.Subscribe(SubjectEnable, func(data []byte) {
		c.handleEnable(ctx, data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", SubjectEnable, err)
	}
	defer unsubEnable()

	unsubControl, err := c.subscriber.Subscribe(SubjectControl, func(data []byte) {
		c.handleControl(ctx, data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", SubjectControl, err)
	}
	defer unsubControl()

	<-ctx.Done()
	c.manager.CloseAll(context.WithoutCancel(ctx), ReasonShutdown)
	return nil
}

func (c *Control) handleEnable(ctx context.Context, data []byte) {
	var frame enableFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.WarnContext(ctx, "dropping malformed enable frame", "error", err)
		return
	}
	if frame.Entity == 0 {
		slog.WarnContext(ctx, "dropping enable frame without entity")
		return
	}

	ch, err := c.manager.Enable(ctx, frame.Entity)
	if err != nil {
		slog.ErrorContext(ctx, "enabling channel", "entity", frame.Entity, "error", err)
		return
	}
	slog.InfoContext(ctx, "channel enabled", "entity", frame.Entity, "channel", ch.ID)
}

func (c *Control) handleControl(ctx context.Context, data []byte) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.WarnContext(ctx, "dropping malformed control frame", "error", err)
		return
	}

	var err error
	switch frame.Event {
	case "ping":
		err = c.manager.HandlePing(ctx, frame.Channel)
	case "pong":
		err = c.manager.HandlePong(ctx, frame.Channel)
	default:
		slog.DebugContext(ctx, "ignoring control frame", "event", frame.Event)
		return
	}

	// Frames racing a teardown are expected.
	if errors.Is(err, ErrChannelNotFound) {
		slog.DebugContext(ctx, "control frame for dead channel", "channel", frame.Channel)
	} else if err != nil {
		slog.ErrorContext(ctx, "handling control frame", "channel", frame.Channel, "error", err)
	}
}
