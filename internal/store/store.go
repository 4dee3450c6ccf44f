package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrEntityExists is returned by Save when the entity already has an id.
	ErrEntityExists = errors.New("entity already allocated, use Update")
)

// allocScript finds the lowest unset bit of the entity bitmap and sets it in
// a single server-side step, so two concurrent callers can never be handed
// the same id. Bit 0 is forced on first: it is the reserved sentinel.
var allocScript = redis.NewScript(`
redis.call('SETBIT', KEYS[1], 0, 1)
local pos = redis.call('BITPOS', KEYS[1], 0)
redis.call('SETBIT', KEYS[1], pos, 1)
return pos
`)

// Store is the sparse entity/component store over the shared key-value
// backend. Every component type is persisted as a presence bitmap (bit n set
// iff entity n carries the component) plus, for kinds with payload, a data
// hash keyed by entity id.
type Store struct {
	client   redis.UniversalClient
	registry *Registry
}

func NewStore(client redis.UniversalClient, registry *Registry) *Store {
	return &Store{
		client:   client,
		registry: registry,
	}
}

// AllocateEntity reserves and returns the lowest free entity id.
func (s *Store) AllocateEntity(ctx context.Context) (EntityID, error) {
	pos, err := allocScript.Run(ctx, s.client, []string{entityMapKey}).Int64()
	if err != nil {
		return 0, fmt.Errorf("allocating entity: %w", err)
	}
	return EntityID(pos), nil
}

// Exists reports whether the id is currently allocated.
func (s *Store) Exists(ctx context.Context, id EntityID) (bool, error) {
	bit, err := s.client.GetBit(ctx, entityMapKey, int64(id)).Result()
	if err != nil {
		return false, fmt.Errorf("reading entity bitmap: %w", err)
	}
	return bit == 1, nil
}

// Save allocates an id for a fresh entity and flushes its staged changes.
// Entities that already carry an id must go through Update instead.
func (s *Store) Save(ctx context.Context, e *Entity) (EntityID, error) {
	if e.ID != 0 {
		return 0, ErrEntityExists
	}
	id, err := s.AllocateEntity(ctx)
	if err != nil {
		return 0, err
	}
	e.ID = id
	if err := s.Update(ctx, e); err != nil {
		return 0, err
	}
	return id, nil
}

// Update flushes the staged changes of one or more entities as a single
// atomic transaction. Either every write lands or none does; pending changes
// are cleared from the entities only after the transaction succeeds, so a
// failed call can simply be retried.
//
// Record and int-list sub-operations are folded into an absolute write of
// the final value before staging. Integer components whose only staged
// changes are increments are flushed as server-side HINCRBY so concurrent
// deltas from other callers accumulate instead of racing.
func (s *Store) Update(ctx context.Context, entities ...*Entity) error {
	for _, e := range entities {
		if e.ID == 0 && e.Dirty() {
			return fmt.Errorf("entity has staged changes but no id, use Save")
		}
		for _, ch := range e.Pending() {
			if err := validateChange(ch); err != nil {
				return err
			}
		}
	}

	outcomes, err := s.foldPending(ctx, entities)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, o := range outcomes {
		field := strconv.FormatUint(uint64(o.entity), 10)
		switch {
		case o.removed():
			pipe.SetBit(ctx, presenceKey(o.ct), int64(o.entity), 0)
			pipe.HDel(ctx, dataKey(o.ct), field)
		case o.incrOnly():
			pipe.SetBit(ctx, presenceKey(o.ct), int64(o.entity), 1)
			pipe.HIncrBy(ctx, dataKey(o.ct), field, o.delta)
		case o.ct.Kind == KindBool:
			// The presence bit is the value. Off clears like a removal.
			if o.value.Bool() {
				pipe.SetBit(ctx, presenceKey(o.ct), int64(o.entity), 1)
			} else {
				pipe.SetBit(ctx, presenceKey(o.ct), int64(o.entity), 0)
			}
			pipe.HDel(ctx, dataKey(o.ct), field)
		default:
			payload, err := o.value.encode()
			if err != nil {
				return err
			}
			pipe.SetBit(ctx, presenceKey(o.ct), int64(o.entity), 1)
			pipe.HSet(ctx, dataKey(o.ct), field, payload)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("flushing %d change(s): %w", len(outcomes), err)
	}

	for _, e := range entities {
		e.clearPending()
	}
	return nil
}

// foldState tags what the replay has decided about a pair so far.
type foldState int

const (
	foldNone foldState = iota
	foldValue
	foldIncr
	foldRemoved
)

// outcome is the folded final state of one (entity, component) pair.
type outcome struct {
	entity EntityID
	ct     *ComponentType
	state  foldState
	delta  int64 // foldIncr
	value  Value // foldValue
}

func (o *outcome) removed() bool  { return o.state == foldRemoved }
func (o *outcome) incrOnly() bool { return o.state == foldIncr }

type pairKey struct {
	entity EntityID
	key    uint16
}

// foldPending replays each entity's staged changes into one outcome per
// touched component, reading current values only for pairs whose first
// operation is a sub-operation on a record or list.
func (s *Store) foldPending(ctx context.Context, entities []*Entity) ([]outcome, error) {
	var order []pairKey
	byPair := make(map[pairKey]*outcome)
	var needCurrent []pairKey

	for _, e := range entities {
		for _, ch := range e.Pending() {
			pk := pairKey{entity: e.ID, key: ch.Type.Key}
			o, ok := byPair[pk]
			if !ok {
				o = &outcome{entity: e.ID, ct: ch.Type}
				byPair[pk] = o
				order = append(order, pk)
				if isSubOp(ch.Op) {
					needCurrent = append(needCurrent, pk)
				}
			}
			applyChange(o, ch)
		}
	}

	if len(needCurrent) > 0 {
		// Seed sub-op folds with the stored value, then replay on top.
		currents, err := s.fetchCurrents(ctx, byPair, needCurrent)
		if err != nil {
			return nil, err
		}
		for pk, v := range currents {
			o := byPair[pk]
			*o = outcome{entity: o.entity, ct: o.ct, state: foldValue, value: v}
		}
		for _, e := range entities {
			for _, ch := range e.Pending() {
				pk := pairKey{entity: e.ID, key: ch.Type.Key}
				if _, seeded := currents[pk]; seeded {
					applyChange(byPair[pk], ch)
				}
			}
		}
	}

	outcomes := make([]outcome, 0, len(order))
	for _, pk := range order {
		outcomes = append(outcomes, *byPair[pk])
	}
	return outcomes, nil
}

func (s *Store) fetchCurrents(ctx context.Context, byPair map[pairKey]*outcome, pairs []pairKey) (map[pairKey]Value, error) {
	pipe := s.client.Pipeline()
	cmds := make(map[pairKey]*redis.StringCmd, len(pairs))
	for _, pk := range pairs {
		o := byPair[pk]
		cmds[pk] = pipe.HGet(ctx, dataKey(o.ct), strconv.FormatUint(uint64(pk.entity), 10))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading current values: %w", err)
	}

	currents := make(map[pairKey]Value, len(pairs))
	for pk, cmd := range cmds {
		o := byPair[pk]
		payload, err := cmd.Result()
		if err == redis.Nil {
			currents[pk] = zeroValue(o.ct.Kind)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading current value: %w", err)
		}
		v, err := decodeValue(o.ct, payload)
		if err != nil {
			return nil, err
		}
		currents[pk] = v
	}
	return currents, nil
}

func isSubOp(op Op) bool {
	switch op {
	case OpFieldSet, OpFieldClear, OpListAppend, OpListRemove:
		return true
	default:
		return false
	}
}

func zeroValue(k Kind) Value {
	switch k {
	case KindRecord:
		return Value{kind: KindRecord, rec: map[string]Field{}}
	case KindIntList:
		return Value{kind: KindIntList}
	case KindInt:
		return Value{kind: KindInt}
	case KindString:
		return Value{kind: KindString}
	default:
		return Value{kind: KindBool}
	}
}

func applyChange(o *outcome, ch Change) {
	switch ch.Op {
	case OpSet:
		o.state = foldValue
		o.value = ch.Value
	case OpRemove:
		o.state = foldRemoved
		o.value = Value{}
	case OpIncr:
		switch o.state {
		case foldNone:
			// Nothing staged before the delta: leave the accumulation to
			// the server so concurrent callers commute.
			o.state = foldIncr
			o.delta = ch.Delta
		case foldIncr:
			o.delta += ch.Delta
		case foldRemoved:
			o.state = foldValue
			o.value = IntValue(ch.Delta)
		case foldValue:
			o.value = IntValue(o.value.Int() + ch.Delta)
		}
	case OpFieldSet:
		rec := recordOf(o)
		rec[ch.Field] = ch.FieldValue
		o.state = foldValue
		o.value = Value{kind: KindRecord, rec: rec}
	case OpFieldClear:
		rec := recordOf(o)
		delete(rec, ch.Field)
		o.state = foldValue
		o.value = Value{kind: KindRecord, rec: rec}
	case OpListAppend:
		o.state = foldValue
		o.value = Value{kind: KindIntList, ints: append(intsOf(o), ch.Item)}
	case OpListRemove:
		ints := intsOf(o)
		kept := ints[:0]
		for _, n := range ints {
			if n != ch.Item {
				kept = append(kept, n)
			}
		}
		o.state = foldValue
		o.value = Value{kind: KindIntList, ints: kept}
	}
}

func recordOf(o *outcome) map[string]Field {
	if o.state != foldValue || o.value.kind != KindRecord {
		return map[string]Field{}
	}
	return o.value.Record()
}

func intsOf(o *outcome) []int64 {
	if o.state != foldValue || o.value.kind != KindIntList {
		return nil
	}
	return o.value.Ints()
}

func validateChange(ch Change) error {
	if ch.Type == nil {
		return fmt.Errorf("change without component type")
	}
	switch ch.Op {
	case OpSet:
		if ch.Value.Kind() != ch.Type.Kind {
			return fmt.Errorf("component %q: set %s value on %s component", ch.Type.Name, ch.Value.Kind(), ch.Type.Kind)
		}
	case OpIncr:
		if ch.Type.Kind != KindInt {
			return fmt.Errorf("component %q: increment on %s component", ch.Type.Name, ch.Type.Kind)
		}
	case OpFieldSet, OpFieldClear:
		if ch.Type.Kind != KindRecord {
			return fmt.Errorf("component %q: field operation on %s component", ch.Type.Name, ch.Type.Kind)
		}
	case OpListAppend, OpListRemove:
		if ch.Type.Kind != KindIntList {
			return fmt.Errorf("component %q: list operation on %s component", ch.Type.Name, ch.Type.Kind)
		}
	}
	return nil
}
