package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-realm/internal/channel"
)

type ChannelsConfig struct {
	PingInterval string `json:"ping_interval"`
	PingTimeout  string `json:"ping_timeout"`
	IDKey        string `json:"id_key"`
}

func (c *ChannelsConfig) validate() error {
	el := errors.NewErrorList()

	if c.PingInterval != "" {
		_, err := time.ParseDuration(c.PingInterval)
		if err != nil {
			el.Add(fmt.Errorf("parsing ping_interval: %w", err))
		}
	}
	if c.PingTimeout != "" {
		_, err := time.ParseDuration(c.PingTimeout)
		if err != nil {
			el.Add(fmt.Errorf("parsing ping_timeout: %w", err))
		}
	}
	if c.IDKey == "" {
		el.Add(fmt.Errorf("id_key is required"))
	} else if len(c.IDKey) > 64 {
		el.Add(fmt.Errorf("id_key must be at most 64 bytes"))
	}

	return el.Err()
}

func (c *ChannelsConfig) buildOpts() ([]channel.ManagerOpt, error) {
	opts := []channel.ManagerOpt{
		channel.WithIDKey([]byte(c.IDKey)),
	}
	if c.PingInterval != "" {
		d, err := time.ParseDuration(c.PingInterval)
		if err != nil {
			return nil, fmt.Errorf("parsing ping_interval: %w", err)
		}
		opts = append(opts, channel.WithPingInterval(d))
	}
	if c.PingTimeout != "" {
		d, err := time.ParseDuration(c.PingTimeout)
		if err != nil {
			return nil, fmt.Errorf("parsing ping_timeout: %w", err)
		}
		opts = append(opts, channel.WithPingTimeout(d))
	}
	return opts, nil
}
