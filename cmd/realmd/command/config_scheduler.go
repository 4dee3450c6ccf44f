package command

import (
	"fmt"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-realm/internal/action"
)

type SchedulerConfig struct {
	StopTimeout string `json:"stop_timeout"`
}

func (c *SchedulerConfig) validate() error {
	el := errors.NewErrorList()

	if c.StopTimeout != "" {
		_, err := time.ParseDuration(c.StopTimeout)
		if err != nil {
			el.Add(fmt.Errorf("parsing stop_timeout: %w", err))
		}
	}

	return el.Err()
}

func (c *SchedulerConfig) buildOpts() ([]action.SchedulerOpt, error) {
	var opts []action.SchedulerOpt
	if c.StopTimeout != "" {
		d, err := time.ParseDuration(c.StopTimeout)
		if err != nil {
			return nil, fmt.Errorf("parsing stop_timeout: %w", err)
		}
		opts = append(opts, action.WithStopTimeout(d))
	}
	return opts, nil
}
