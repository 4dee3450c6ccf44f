package store

// EntityID is an opaque allocated identity. IDs index the entity bitmap
// directly; 0 is the reserved sentinel and never allocated.
type EntityID uint64

// Op enumerates the pending change operations.
type Op int

const (
	// OpSet replaces the component's value outright.
	OpSet Op = iota
	// OpIncr applies a server-side relative delta to an integer component.
	OpIncr
	// OpRemove deletes the value and clears the presence bit.
	OpRemove
	// OpFieldSet sets one field of a record component.
	OpFieldSet
	// OpFieldClear removes one field of a record component.
	OpFieldClear
	// OpListAppend appends an element to an int-list component.
	OpListAppend
	// OpListRemove removes all matching elements from an int-list component.
	OpListRemove
)

// Change is one staged write that has not been flushed yet.
type Change struct {
	Type       *ComponentType
	Op         Op
	Value      Value  // OpSet
	Delta      int64  // OpIncr
	Field      string // OpFieldSet / OpFieldClear
	FieldValue Field  // OpFieldSet
	Item       int64  // OpListAppend / OpListRemove
}

// Entity is an allocated identity plus its staged, unflushed changes. It
// carries no component state of its own; reads go through the store.
// Entities are not safe for concurrent mutation; each call path owns the
// entities it stages (see the store's update contract).
type Entity struct {
	ID EntityID

	pending []Change
}

// NewEntity returns an unallocated entity ready for staging. Passing it to
// Save allocates its ID.
func NewEntity() *Entity {
	return &Entity{}
}

// Ref wraps an existing id so further changes can be staged against it.
func Ref(id EntityID) *Entity {
	return &Entity{ID: id}
}

// Set stages an absolute value for the component, overwriting whatever was
// stored, including relative increment history.
func (e *Entity) Set(ct *ComponentType, v Value) *Entity {
	e.pending = append(e.pending, Change{Type: ct, Op: OpSet, Value: v})
	return e
}

// Incr stages a relative delta for an integer component. Deltas commute
// with concurrent increments from other callers.
func (e *Entity) Incr(ct *ComponentType, delta int64) *Entity {
	e.pending = append(e.pending, Change{Type: ct, Op: OpIncr, Delta: delta})
	return e
}

// Remove stages deletion of the component: the value row and the presence
// bit both go.
func (e *Entity) Remove(ct *ComponentType) *Entity {
	e.pending = append(e.pending, Change{Type: ct, Op: OpRemove})
	return e
}

// SetField stages a single-field update on a record component. Use a
// NullField to store an explicit null.
func (e *Entity) SetField(ct *ComponentType, name string, f Field) *Entity {
	e.pending = append(e.pending, Change{Type: ct, Op: OpFieldSet, Field: name, FieldValue: f})
	return e
}

// ClearField stages removal of a single record field.
func (e *Entity) ClearField(ct *ComponentType, name string) *Entity {
	e.pending = append(e.pending, Change{Type: ct, Op: OpFieldClear, Field: name})
	return e
}

// AppendInt stages appending n to an int-list component.
func (e *Entity) AppendInt(ct *ComponentType, n int64) *Entity {
	e.pending = append(e.pending, Change{Type: ct, Op: OpListAppend, Item: n})
	return e
}

// RemoveInt stages removing every occurrence of n from an int-list component.
func (e *Entity) RemoveInt(ct *ComponentType, n int64) *Entity {
	e.pending = append(e.pending, Change{Type: ct, Op: OpListRemove, Item: n})
	return e
}

// Pending returns the staged changes in order.
func (e *Entity) Pending() []Change {
	return e.pending
}

// Dirty reports whether the entity has staged changes.
func (e *Entity) Dirty() bool {
	return len(e.pending) > 0
}

func (e *Entity) clearPending() {
	e.pending = e.pending[:0]
}
