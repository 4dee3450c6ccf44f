package store

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pixil98/go-testutil"
	"github.com/redis/go-redis/v9"
)

var (
	testName     = &ComponentType{Key: 1, Name: "name", Kind: KindString}
	testHealth   = &ComponentType{Key: 2, Name: "health", Kind: KindInt}
	testAwake    = &ComponentType{Key: 3, Name: "awake", Kind: KindBool}
	testBag      = &ComponentType{Key: 4, Name: "bag", Kind: KindIntList}
	testProfile  = &ComponentType{Key: 5, Name: "profile", Kind: KindRecord}
	testPosition = &ComponentType{Key: 6, Name: "position", Kind: KindRecord}
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	registry := NewRegistry()
	registry.MustRegister(testName, testHealth, testAwake, testBag, testProfile, testPosition)

	return NewStore(client, registry), mr
}

func TestRegistry_RejectsReusedKey(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&ComponentType{Key: 7, Name: "first", Kind: KindInt})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = r.Register(&ComponentType{Key: 7, Name: "second", Kind: KindString})
	if err == nil {
		t.Error("expected error for reused key")
	}

	err = r.Register(&ComponentType{Key: 0, Name: "zero", Kind: KindBool})
	if err == nil {
		t.Error("expected error for reserved key 0")
	}
}

func TestStore_AllocateEntity(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Bit 0 is the sentinel, so allocation starts at 1 and is dense.
	for want := EntityID(1); want <= 5; want++ {
		id, err := s.AllocateEntity(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		testutil.AssertEqual(t, "allocated id", id, want)
	}
}

func TestStore_AllocateEntity_ReusesFreedSlot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := s.AllocateEntity(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := s.ReleaseEntity(ctx, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := s.AllocateEntity(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "reused id", id, EntityID(2))
}

func TestStore_AllocateEntity_Concurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const n = 64
	ids := make([]EntityID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			id, err := s.AllocateEntity(ctx)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			ids[slot] = id
		}(i)
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		// Distinct and the lowest n free values: exactly 1..n.
		testutil.AssertEqual(t, "dense id", id, EntityID(i+1))
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	e := NewEntity()
	e.Set(testName, StringValue("brynn"))
	e.Set(testHealth, IntValue(30))
	e.Set(testBag, IntListValue(3, 7, 7))
	e.Set(testProfile, RecordValue(map[string]Field{
		"title": StringField("wanderer"),
		"level": IntField(4),
		"dead":  BoolField(false),
	}))

	id, err := s.Save(ctx, e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "pending cleared", e.Dirty(), false)

	got, err := s.Components(ctx, []EntityID{id}, testName, testHealth, testBag, testProfile, testAwake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	comps := got[id]
	testutil.AssertEqual(t, "name", comps[testName].Str(), "brynn")
	testutil.AssertEqual(t, "health", comps[testHealth].Int(), int64(30))
	testutil.AssertEqual(t, "bag", len(comps[testBag].Ints()), 3)

	profile := comps[testProfile]
	title, ok := profile.Fieldv("title")
	testutil.AssertEqual(t, "title present", ok, true)
	testutil.AssertEqual(t, "title", title.Str, "wanderer")
	level, _ := profile.Fieldv("level")
	testutil.AssertEqual(t, "level", level.Int, int64(4))

	// Never set: absent, not an error.
	if _, ok := comps[testAwake]; ok {
		t.Error("expected awake to be absent")
	}
}

func TestStore_Save_RejectsAllocated(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	e := Ref(9).Set(testName, StringValue("dupe"))
	_, err := s.Save(ctx, e)
	testutil.AssertEqual(t, "error", err, ErrEntityExists, cmpopts.EquateErrors())
}

func TestStore_Update_RemovalClearsBoth(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	e := NewEntity().Set(testName, StringValue("gone-soon"))
	id, err := s.Save(ctx, e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Update(ctx, Ref(id).Remove(testName)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Components(ctx, []EntityID{id}, testName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got[id][testName]; ok {
		t.Error("expected name to be absent after removal")
	}

	// Neither half of the storage facet may survive.
	testutil.AssertEqual(t, "data row", mr.HGet("c:1:data", "1") == "", true)
}

func TestStore_Update_CounterCommutativity(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, NewEntity().Set(testName, StringValue("counter")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Deltas land server-side, so any interleaving accumulates.
	deltas := []int64{3, -1, 5}
	var wg sync.WaitGroup
	for _, d := range deltas {
		wg.Add(1)
		go func(d int64) {
			defer wg.Done()
			if err := s.Update(ctx, Ref(id).Incr(testHealth, d)); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(d)
	}
	wg.Wait()

	v, ok, err := s.Component(ctx, id, testHealth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "present", ok, true)
	testutil.AssertEqual(t, "total", v.Int(), int64(7))
}

func TestStore_Update_AbsoluteSetOverwritesIncrHistory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, NewEntity().Incr(testHealth, 12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Update(ctx, Ref(id).Set(testHealth, IntValue(100))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, _, err := s.Component(ctx, id, testHealth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "value", v.Int(), int64(100))
}

func TestStore_Update_BoolIsPresenceBit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, NewEntity().Set(testAwake, BoolValue(true)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, ok, err := s.Component(ctx, id, testAwake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "present", ok, true)
	testutil.AssertEqual(t, "value", v.Bool(), true)

	// Setting the flag off clears presence, same as a removal.
	if err := s.Update(ctx, Ref(id).Set(testAwake, BoolValue(false))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok, err = s.Component(ctx, id, testAwake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "present after off", ok, false)
}

func TestStore_Update_RecordSubOps(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, NewEntity().Set(testProfile, RecordValue(map[string]Field{
		"title": StringField("novice"),
		"level": IntField(1),
	})))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Sub-ops on a later call fold onto the stored record.
	e := Ref(id).
		SetField(testProfile, "level", IntField(2)).
		SetField(testProfile, "guild", NullField()).
		ClearField(testProfile, "title")
	if err := s.Update(ctx, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, _, err := s.Component(ctx, id, testProfile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	level, _ := v.Fieldv("level")
	testutil.AssertEqual(t, "level", level.Int, int64(2))
	guild, ok := v.Fieldv("guild")
	testutil.AssertEqual(t, "guild present", ok, true)
	testutil.AssertEqual(t, "guild null", guild.Kind, FieldNull)
	if _, ok := v.Fieldv("title"); ok {
		t.Error("expected title to be cleared")
	}
}

func TestStore_Update_ListSubOps(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, NewEntity().Set(testBag, IntListValue(10, 20, 10)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := Ref(id).
		AppendInt(testBag, 30).
		RemoveInt(testBag, 10)
	if err := s.Update(ctx, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, _, err := s.Component(ctx, id, testBag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := v.Ints()
	testutil.AssertEqual(t, "length", len(got), 2)
	testutil.AssertEqual(t, "first", got[0], int64(20))
	testutil.AssertEqual(t, "second", got[1], int64(30))
}

func TestStore_Update_KindMismatch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	tests := map[string]*Entity{
		"string value on int component": Ref(1).Set(testHealth, StringValue("nope")),
		"incr on string component":      Ref(1).Incr(testName, 1),
		"field op on int component":     Ref(1).SetField(testHealth, "x", IntField(1)),
		"list op on record component":   Ref(1).AppendInt(testProfile, 1),
	}

	for name, e := range tests {
		t.Run(name, func(t *testing.T) {
			if err := s.Update(ctx, e); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStore_Update_FailureKeepsPending(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	id, err := s.AllocateEntity(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := Ref(id).Set(testName, StringValue("stranded"))
	mr.Close()

	if err := s.Update(ctx, e); err == nil {
		t.Fatal("expected error after backend loss")
	}
	// Failed flushes stay staged so the caller can retry.
	testutil.AssertEqual(t, "still dirty", e.Dirty(), true)
}

func TestStore_EntitiesWithAll(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	named, err := s.Save(ctx, NewEntity().Set(testName, StringValue("only-name")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	both, err := s.Save(ctx, NewEntity().
		Set(testName, StringValue("both")).
		Set(testHealth, IntValue(5)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Save(ctx, NewEntity().Set(testHealth, IntValue(9))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids, err := s.EntitiesWithAll(ctx, testName, testHealth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "count", len(ids), 1)
	testutil.AssertEqual(t, "id", ids[0], both)

	ids, err = s.EntitiesWithAll(ctx, testName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "count", len(ids), 2)
	testutil.AssertEqual(t, "first", ids[0], named)

	ids, err = s.EntitiesWithAll(ctx, testName, testAwake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "empty intersection", len(ids), 0)
}

func TestStore_ChannelBinding(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.BindChannel(ctx, "abc123", 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e, ok, err := s.ChannelEntity(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "bound", ok, true)
	testutil.AssertEqual(t, "entity", e, EntityID(42))

	ch, ok, err := s.EntityChannel(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "bound", ok, true)
	testutil.AssertEqual(t, "channel", ch, "abc123")

	if err := s.UnbindChannel(ctx, "abc123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok, err = s.ChannelEntity(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "unbound", ok, false)
}

func TestStore_UnbindChannel_KeepsNewerBinding(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.BindChannel(ctx, "old", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.BindChannel(ctx, "new", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.UnbindChannel(ctx, "old"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ch, ok, err := s.EntityChannel(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "still bound", ok, true)
	testutil.AssertEqual(t, "channel", ch, "new")
}
