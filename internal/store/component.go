package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind is the declared scalar kind of a component type.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindString
	KindIntList
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindIntList:
		return "int_list"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ComponentType describes one attachable component. Key is the stable small
// integer identity of the type: it doubles as the bitmap/hash key index in
// the backing store and must never be reused for two logical kinds.
type ComponentType struct {
	Key  uint16
	Name string
	Kind Kind
}

// Registry holds the component types a store knows how to persist.
// Registration rejects key reuse so a recycled key can't silently alias an
// older type's stored data.
type Registry struct {
	byKey map[uint16]*ComponentType
}

func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[uint16]*ComponentType),
	}
}

func (r *Registry) Register(ct *ComponentType) error {
	if ct.Key == 0 {
		return fmt.Errorf("component %q: key 0 is reserved", ct.Name)
	}
	if existing, ok := r.byKey[ct.Key]; ok {
		return fmt.Errorf("component %q: key %d already registered to %q", ct.Name, ct.Key, existing.Name)
	}
	r.byKey[ct.Key] = ct
	return nil
}

// MustRegister registers a batch of types and panics on conflict. Component
// tables are package-level declarations, so a conflict is a programming
// error caught at boot.
func (r *Registry) MustRegister(types ...*ComponentType) {
	for _, ct := range types {
		if err := r.Register(ct); err != nil {
			panic(err)
		}
	}
}

// All returns every registered type.
func (r *Registry) All() []*ComponentType {
	types := make([]*ComponentType, 0, len(r.byKey))
	for _, ct := range r.byKey {
		types = append(types, ct)
	}
	return types
}

// FieldKind tags one field of a record component.
type FieldKind int

const (
	FieldNull FieldKind = iota
	FieldBool
	FieldInt
	FieldString
)

// Field is one value inside a record component.
type Field struct {
	Kind FieldKind
	Bool bool
	Int  int64
	Str  string
}

func NullField() Field           { return Field{Kind: FieldNull} }
func BoolField(b bool) Field     { return Field{Kind: FieldBool, Bool: b} }
func IntField(n int64) Field     { return Field{Kind: FieldInt, Int: n} }
func StringField(s string) Field { return Field{Kind: FieldString, Str: s} }

// Value is the closed union over the component kinds. The zero Value is a
// false bool; use the constructors for everything else.
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
	ints []int64
	rec  map[string]Field
}

func BoolValue(b bool) Value     { return Value{kind: KindBool, b: b} }
func IntValue(n int64) Value     { return Value{kind: KindInt, i: n} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

func IntListValue(ns ...int64) Value {
	return Value{kind: KindIntList, ints: append([]int64(nil), ns...)}
}

func RecordValue(fields map[string]Field) Value {
	rec := make(map[string]Field, len(fields))
	for k, v := range fields {
		rec[k] = v
	}
	return Value{kind: KindRecord, rec: rec}
}

func (v Value) Kind() Kind  { return v.kind }
func (v Value) Bool() bool  { return v.b }
func (v Value) Int() int64  { return v.i }
func (v Value) Str() string { return v.s }

func (v Value) Ints() []int64 {
	return append([]int64(nil), v.ints...)
}

// Record returns a copy of the record fields.
func (v Value) Record() map[string]Field {
	rec := make(map[string]Field, len(v.rec))
	for k, f := range v.rec {
		rec[k] = f
	}
	return rec
}

// Fieldv returns one record field and whether it is present.
func (v Value) Fieldv(name string) (Field, bool) {
	f, ok := v.rec[name]
	return f, ok
}

// encode serializes a value into its hash row payload. Pure boolean flags
// never reach here: their value is the presence bit itself.
func (v Value) encode() (string, error) {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10), nil
	case KindString:
		return v.s, nil
	case KindIntList:
		data, err := json.Marshal(v.ints)
		if err != nil {
			return "", fmt.Errorf("encoding int list: %w", err)
		}
		return string(data), nil
	case KindRecord:
		raw := make(map[string]any, len(v.rec))
		for name, f := range v.rec {
			switch f.Kind {
			case FieldNull:
				raw[name] = nil
			case FieldBool:
				raw[name] = f.Bool
			case FieldInt:
				raw[name] = f.Int
			case FieldString:
				raw[name] = f.Str
			}
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return "", fmt.Errorf("encoding record: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("kind %s carries no payload", v.kind)
	}
}

// decodeValue deserializes a hash row payload for the given type.
func decodeValue(ct *ComponentType, payload string) (Value, error) {
	switch ct.Kind {
	case KindBool:
		// Presence implies true; a stored row only exists transiently.
		return BoolValue(payload != "0"), nil
	case KindInt:
		n, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("component %q: decoding int: %w", ct.Name, err)
		}
		return IntValue(n), nil
	case KindString:
		return StringValue(payload), nil
	case KindIntList:
		var ns []int64
		if err := json.Unmarshal([]byte(payload), &ns); err != nil {
			return Value{}, fmt.Errorf("component %q: decoding int list: %w", ct.Name, err)
		}
		return Value{kind: KindIntList, ints: ns}, nil
	case KindRecord:
		dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
		dec.UseNumber()
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return Value{}, fmt.Errorf("component %q: decoding record: %w", ct.Name, err)
		}
		rec := make(map[string]Field, len(raw))
		for name, val := range raw {
			switch tv := val.(type) {
			case nil:
				rec[name] = NullField()
			case bool:
				rec[name] = BoolField(tv)
			case json.Number:
				n, err := tv.Int64()
				if err != nil {
					return Value{}, fmt.Errorf("component %q: field %q: %w", ct.Name, name, err)
				}
				rec[name] = IntField(n)
			case string:
				rec[name] = StringField(tv)
			default:
				return Value{}, fmt.Errorf("component %q: field %q has unsupported type %T", ct.Name, name, val)
			}
		}
		return Value{kind: KindRecord, rec: rec}, nil
	default:
		return Value{}, fmt.Errorf("component %q: unknown kind %s", ct.Name, ct.Kind)
	}
}
