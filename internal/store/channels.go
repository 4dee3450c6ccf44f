package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// BindChannel records the bidirectional channel<->entity mapping. The
// binding survives process restarts so a rebooted server can still preempt a
// stale session for the same entity.
func (s *Store) BindChannel(ctx context.Context, channelID string, e EntityID) error {
	err := s.client.HSet(ctx, channelsKey,
		channelField(channelID), strconv.FormatUint(uint64(e), 10),
		entityField(e), channelID,
	).Err()
	if err != nil {
		return fmt.Errorf("binding channel %s: %w", channelID, err)
	}
	return nil
}

// ChannelEntity resolves a channel id to its bound entity.
func (s *Store) ChannelEntity(ctx context.Context, channelID string) (EntityID, bool, error) {
	raw, err := s.client.HGet(ctx, channelsKey, channelField(channelID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolving channel %s: %w", channelID, err)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("resolving channel %s: %w", channelID, err)
	}
	return EntityID(id), true, nil
}

// EntityChannel resolves an entity to its currently bound channel id.
func (s *Store) EntityChannel(ctx context.Context, e EntityID) (string, bool, error) {
	id, err := s.client.HGet(ctx, channelsKey, entityField(e)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving entity %d channel: %w", e, err)
	}
	return id, true, nil
}

// UnbindChannel drops both directions of the mapping. Unbinding a channel
// that was already replaced for its entity leaves the newer binding alone.
func (s *Store) UnbindChannel(ctx context.Context, channelID string) error {
	e, ok, err := s.ChannelEntity(ctx, channelID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, channelsKey, channelField(channelID))
	current := s.client.HGet(ctx, channelsKey, entityField(e))
	if current.Err() == nil && current.Val() == channelID {
		pipe.HDel(ctx, channelsKey, entityField(e))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("unbinding channel %s: %w", channelID, err)
	}
	return nil
}
