package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixil98/go-realm/internal/action"
	"github.com/pixil98/go-realm/internal/channel"
	"github.com/pixil98/go-realm/internal/driver"
	"github.com/pixil98/go-realm/internal/events"
	"github.com/pixil98/go-realm/internal/store"
	"github.com/pixil98/go-realm/internal/transport"
	service "github.com/pixil98/go-service"
)

func BuildWorkers(config interface{}) (service.WorkerList, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unable to cast config")
	}

	// Create the message broker
	broker, err := cfg.Nats.buildBroker()
	if err != nil {
		return nil, fmt.Errorf("creating broker: %w", err)
	}

	// Create the component store
	st := store.NewStore(cfg.Redis.buildClient(), store.NewRegistry())

	// Room subscriptions and publishing
	subs := events.NewSubscriptions(broker, cfg.World.ViewSize, cfg.World.buildBounds())

	// Action scheduler
	schedOpts, err := cfg.Scheduler.buildOpts()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	sched := action.NewScheduler(schedOpts...)

	// Channel lifecycle
	mgrOpts, err := cfg.Channels.buildOpts()
	if err != nil {
		return nil, fmt.Errorf("creating channel manager: %w", err)
	}
	mgr := channel.NewManager(transport.NewNatsTransport(broker), st, mgrOpts...)

	// A closed channel releases everything its entity held.
	mgr.OnDelete(func(ctx context.Context, ch channel.Channel, reason string) {
		subs.UnsubscribeAll(ch.Entity)
		stopped, err := sched.StopIfExists(ctx, ch.Entity)
		if err != nil {
			slog.ErrorContext(ctx, "stopping action on disconnect", "entity", ch.Entity, "error", err)
		} else if !stopped {
			slog.WarnContext(ctx, "action outlived its channel", "entity", ch.Entity)
		}
	})

	// Setup the realm driver
	tick, err := time.ParseDuration(cfg.TickInterval)
	if err != nil {
		return nil, fmt.Errorf("parsing tick_interval: %w", err)
	}
	realmDriver := driver.NewRealmDriver([]driver.Manager{
		channel.NewMonitor(mgr),
	}, driver.WithTickLength(tick))

	// Create a worker list
	return service.WorkerList{
		"nats":    broker,
		"control": channel.NewControl(mgr, broker),
		"driver":  realmDriver,
	}, nil
}
