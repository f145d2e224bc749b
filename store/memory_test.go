package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/mlund/listmirror/model"
)

func TestMemory_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "tasks/a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing err = %v, want ErrNotFound", err)
	}

	body := model.Fields{"id": "a1", "name": "X"}
	if err := m.Set(ctx, "tasks/a1", body); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := m.Get(ctx, "tasks/a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, body) {
		t.Errorf("Get = %v, want %v", got, body)
	}

	// Returned bodies are copies.
	got["name"] = "mutated"
	again, _ := m.Get(ctx, "tasks/a1")
	if again["name"] != "X" {
		t.Error("Get shares storage with the node, want a copy")
	}

	if err := m.Remove(ctx, "tasks/a1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := m.Get(ctx, "tasks/a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove err = %v, want ErrNotFound", err)
	}
}

func TestMemory_GetMarkerNode(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Set(ctx, "tasks-ids/a1", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := m.Get(ctx, "tasks-ids/a1"); err == nil {
		t.Error("Get on a scalar marker succeeded, want error")
	}
}

func TestMemory_SubscribeAddedReplaysExisting(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "tasks-ids/b", true)
	_ = m.Set(ctx, "tasks-ids/a", true)

	var keys []string
	sub, err := m.SubscribeAdded(ctx, "tasks-ids", func(key string, _ any) {
		keys = append(keys, key)
	})
	if err != nil {
		t.Fatalf("SubscribeAdded: %v", err)
	}
	defer sub.Cancel()

	// Replay is in key order regardless of insertion order.
	if want := []string{"a", "b"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("replayed keys = %v, want %v", keys, want)
	}

	_ = m.Set(ctx, "tasks-ids/c", true)
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("keys after live event = %v, want %v", keys, want)
	}
}

func TestMemory_AddedFiresOnlyForNewNodes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var added int
	sub, _ := m.SubscribeAdded(ctx, "tasks", func(string, any) { added++ })
	defer sub.Cancel()

	_ = m.Set(ctx, "tasks/a1", model.Fields{"id": "a1"})
	_ = m.Set(ctx, "tasks/a1", model.Fields{"id": "a1", "name": "X"})

	if added != 1 {
		t.Errorf("added events = %d, want 1 (overwrite is a change, not an add)", added)
	}
}

func TestMemory_ChangedEmitsPerFieldDiff(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "tasks/a1", model.Fields{"id": "a1", "name": "X", "tmp": "gone"})

	var got []FieldDiff
	sub, _ := m.SubscribeChanged(ctx, "tasks/a1", func(field string, value any) {
		got = append(got, FieldDiff{field, value})
	})
	defer sub.Cancel()

	_ = m.Set(ctx, "tasks/a1", model.Fields{"id": "a1", "name": "Y", "done": true})

	want := []FieldDiff{
		{"done", true},
		{"name", "Y"},
		{"tmp", nil}, // deleted field arrives last, with a nil value
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("changed events = %v, want %v", got, want)
	}
}

func TestMemory_ChangedWithSliceValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "tasks/a1", model.Fields{"id": "a1", "tags": []any{"home"}})

	var got []FieldDiff
	sub, _ := m.SubscribeChanged(ctx, "tasks/a1", func(field string, value any) {
		got = append(got, FieldDiff{field, value})
	})
	defer sub.Cancel()

	// Identical slice contents: no event.
	_ = m.Set(ctx, "tasks/a1", model.Fields{"id": "a1", "tags": []any{"home"}})
	if len(got) != 0 {
		t.Errorf("events after identical overwrite = %v, want none", got)
	}

	_ = m.Set(ctx, "tasks/a1", model.Fields{"id": "a1", "tags": []any{"home", "urgent"}})
	want := []FieldDiff{{"tags", []any{"home", "urgent"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("changed events = %v, want %v", got, want)
	}
}

func TestMemory_RemovedEvent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "tasks-ids/a1", true)

	var removed []string
	sub, _ := m.SubscribeRemoved(ctx, "tasks-ids", func(key string) {
		removed = append(removed, key)
	})
	defer sub.Cancel()

	_ = m.Remove(ctx, "tasks-ids/a1")
	_ = m.Remove(ctx, "tasks-ids/a1") // missing node: no event

	if want := []string{"a1"}; !reflect.DeepEqual(removed, want) {
		t.Errorf("removed events = %v, want %v", removed, want)
	}
}

func TestMemory_CancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var events int
	sub, _ := m.SubscribeAdded(ctx, "tasks", func(string, any) { events++ })

	_ = m.Set(ctx, "tasks/a1", model.Fields{"id": "a1"})
	sub.Cancel()
	sub.Cancel() // idempotent
	_ = m.Set(ctx, "tasks/a2", model.Fields{"id": "a2"})

	if events != 1 {
		t.Errorf("events = %d, want 1 after Cancel", events)
	}
}

func TestSplitJoin(t *testing.T) {
	parent, key := Split(Join("tasks", "a1"))
	if parent != "tasks" || key != "a1" {
		t.Errorf("Split(Join(...)) = %q, %q", parent, key)
	}
	parent, key = Split("a/b/c")
	if parent != "a/b" || key != "c" {
		t.Errorf(`Split("a/b/c") = %q, %q, want "a/b", "c"`, parent, key)
	}
	parent, key = Split("root")
	if parent != "" || key != "root" {
		t.Errorf(`Split("root") = %q, %q, want "", "root"`, parent, key)
	}
}

func TestDiffFields(t *testing.T) {
	old := model.Fields{"a": 1, "b": "x", "c": true}
	updated := model.Fields{"a": 1, "b": "y", "d": "new"}

	want := []FieldDiff{
		{"b", "y"},
		{"d", "new"},
		{"c", nil},
	}
	if got := DiffFields(old, updated); !reflect.DeepEqual(got, want) {
		t.Errorf("DiffFields = %v, want %v", got, want)
	}

	if got := DiffFields(old, old.Clone()); len(got) != 0 {
		t.Errorf("DiffFields(identical) = %v, want none", got)
	}
}

func TestDiffFields_StructuralValues(t *testing.T) {
	old := model.Fields{"tags": []any{"a"}, "meta": map[string]any{"k": "v"}}
	updated := model.Fields{"tags": []any{"a", "b"}, "meta": map[string]any{"k": "v"}}

	want := []FieldDiff{{"tags", []any{"a", "b"}}}
	if got := DiffFields(old, updated); !reflect.DeepEqual(got, want) {
		t.Errorf("DiffFields = %v, want %v", got, want)
	}

	if got := DiffFields(old, old.Clone()); len(got) != 0 {
		t.Errorf("DiffFields(identical structural values) = %v, want none", got)
	}
}
