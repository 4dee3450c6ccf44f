package command

import (
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (c *RedisConfig) validate() error {
	el := errors.NewErrorList()

	if c.Addr == "" {
		el.Add(fmt.Errorf("addr is required"))
	}

	return el.Err()
}

func (c *RedisConfig) buildClient() redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
}
