package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Components fetches the requested component values for the given entities,
// grouped by entity. Presence bits are read first in one batch; data rows are
// fetched only for entities whose bit is set. An entity/component without
// presence simply has no map entry — absence is not an error.
func (s *Store) Components(ctx context.Context, entities []EntityID, types ...*ComponentType) (map[EntityID]map[*ComponentType]Value, error) {
	fetched, err := s.fetch(ctx, entities, types)
	if err != nil {
		return nil, err
	}

	result := make(map[EntityID]map[*ComponentType]Value, len(entities))
	for _, id := range entities {
		result[id] = make(map[*ComponentType]Value)
	}
	for pk, v := range fetched {
		result[pk.entity][typeOf(types, pk.key)] = v
	}
	return result, nil
}

// ComponentsByType is the inverse grouping of Components: component type
// first, then entity.
func (s *Store) ComponentsByType(ctx context.Context, entities []EntityID, types ...*ComponentType) (map[*ComponentType]map[EntityID]Value, error) {
	fetched, err := s.fetch(ctx, entities, types)
	if err != nil {
		return nil, err
	}

	result := make(map[*ComponentType]map[EntityID]Value, len(types))
	for _, ct := range types {
		result[ct] = make(map[EntityID]Value)
	}
	for pk, v := range fetched {
		result[typeOf(types, pk.key)][pk.entity] = v
	}
	return result, nil
}

// Component is a single-pair convenience over Components.
func (s *Store) Component(ctx context.Context, id EntityID, ct *ComponentType) (Value, bool, error) {
	fetched, err := s.fetch(ctx, []EntityID{id}, []*ComponentType{ct})
	if err != nil {
		return Value{}, false, err
	}
	v, ok := fetched[pairKey{entity: id, key: ct.Key}]
	return v, ok, nil
}

func (s *Store) fetch(ctx context.Context, entities []EntityID, types []*ComponentType) (map[pairKey]Value, error) {
	if len(entities) == 0 || len(types) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	bits := make(map[pairKey]*redis.IntCmd, len(entities)*len(types))
	for _, ct := range types {
		for _, id := range entities {
			bits[pairKey{entity: id, key: ct.Key}] = pipe.GetBit(ctx, presenceKey(ct), int64(id))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading presence bitmaps: %w", err)
	}

	// Second round trip: data rows for present pairs only. Pure boolean
	// flags have no row; the presence bit is the value.
	fetched := make(map[pairKey]Value)
	dataPipe := s.client.Pipeline()
	rows := make(map[*ComponentType]*redis.SliceCmd, len(types))
	present := make(map[*ComponentType][]EntityID, len(types))
	for _, ct := range types {
		var fields []string
		for _, id := range entities {
			if bits[pairKey{entity: id, key: ct.Key}].Val() != 1 {
				continue
			}
			if ct.Kind == KindBool {
				fetched[pairKey{entity: id, key: ct.Key}] = BoolValue(true)
				continue
			}
			present[ct] = append(present[ct], id)
			fields = append(fields, strconv.FormatUint(uint64(id), 10))
		}
		if len(fields) > 0 {
			rows[ct] = dataPipe.HMGet(ctx, dataKey(ct), fields...)
		}
	}
	if len(rows) > 0 {
		if _, err := dataPipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, fmt.Errorf("reading component data: %w", err)
		}
	}

	for ct, cmd := range rows {
		vals := cmd.Val()
		for i, id := range present[ct] {
			raw, ok := vals[i].(string)
			if !ok {
				// Presence without a data row: tolerate as absent.
				continue
			}
			v, err := decodeValue(ct, raw)
			if err != nil {
				return nil, err
			}
			fetched[pairKey{entity: id, key: ct.Key}] = v
		}
	}
	return fetched, nil
}

func typeOf(types []*ComponentType, key uint16) *ComponentType {
	for _, ct := range types {
		if ct.Key == key {
			return ct
		}
	}
	return nil
}

// EntitiesWithAll returns every entity carrying all of the given component
// types, computed by ANDing the presence bitmaps. The result is ordered by
// ascending id.
func (s *Store) EntitiesWithAll(ctx context.Context, types ...*ComponentType) ([]EntityID, error) {
	if len(types) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(types))
	for i, ct := range types {
		cmds[i] = pipe.Get(ctx, presenceKey(ct))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading presence bitmaps: %w", err)
	}

	var acc []byte
	for _, cmd := range cmds {
		bm, err := cmd.Bytes()
		if err == redis.Nil {
			// One empty bitmap empties the intersection.
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading presence bitmap: %w", err)
		}
		if acc == nil {
			acc = append([]byte(nil), bm...)
			continue
		}
		if len(bm) < len(acc) {
			acc = acc[:len(bm)]
		}
		for i := range acc {
			acc[i] &= bm[i]
		}
	}

	var ids []EntityID
	for byteIdx, b := range acc {
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>bit) != 0 {
				ids = append(ids, EntityID(byteIdx*8+bit))
			}
		}
	}
	return ids, nil
}

// ReleaseEntity deletes an entity outright: every registered component's
// presence bit and data row, then the allocation bit itself, in one
// transaction. This is an explicit administrative operation; nothing in the
// core calls it implicitly.
func (s *Store) ReleaseEntity(ctx context.Context, id EntityID) error {
	field := strconv.FormatUint(uint64(id), 10)

	pipe := s.client.TxPipeline()
	for _, ct := range s.registry.All() {
		pipe.SetBit(ctx, presenceKey(ct), int64(id), 0)
		pipe.HDel(ctx, dataKey(ct), field)
	}
	pipe.SetBit(ctx, entityMapKey, int64(id), 0)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("releasing entity %d: %w", id, err)
	}
	return nil
}
