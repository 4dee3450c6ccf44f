package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
)

type Config struct {
	TickInterval string          `json:"tick_interval"`
	Redis        RedisConfig     `json:"redis"`
	Nats         NatsConfig      `json:"nats"`
	Channels     ChannelsConfig  `json:"channels"`
	Scheduler    SchedulerConfig `json:"scheduler"`
	World        WorldConfig     `json:"world"`
}

func (c *Config) Validate() error {
	el := errors.NewErrorList()

	d, err := time.ParseDuration(c.TickInterval)
	if err != nil {
		el.Add(fmt.Errorf("parsing tick_interval: %w", err))
	} else if d < time.Second {
		el.Add(fmt.Errorf("tick_interval must be at least 1 second"))
	}

	el.Add(c.Redis.validate())
	el.Add(c.Nats.validate())
	el.Add(c.Channels.validate())
	el.Add(c.Scheduler.validate())
	el.Add(c.World.validate())

	return el.Err()
}
