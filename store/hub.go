package store

import (
	"reflect"
	"sort"
	"sync"

	"github.com/mlund/listmirror/model"
)

// Hub is the in-process subscriber registry shared by the embedded backends.
// Callbacks are invoked outside the Hub's lock, on the emitting goroutine,
// in subscription order.
type Hub struct {
	mu      sync.Mutex
	nextID  int
	added   map[string]map[int]AddedFunc
	removed map[string]map[int]RemovedFunc
	changed map[string]map[int]ChangedFunc
}

// NewHub creates an empty registry.
func NewHub() *Hub {
	return &Hub{
		added:   make(map[string]map[int]AddedFunc),
		removed: make(map[string]map[int]RemovedFunc),
		changed: make(map[string]map[int]ChangedFunc),
	}
}

type hubSub struct {
	cancel func()
	once   sync.Once
}

func (s *hubSub) Cancel() { s.once.Do(s.cancel) }

// OnAdded registers fn for child-added events under path.
func (h *Hub) OnAdded(path string, fn AddedFunc) Subscription {
	return subscribe(h, h.added, path, fn)
}

// OnRemoved registers fn for child-removed events under path.
func (h *Hub) OnRemoved(path string, fn RemovedFunc) Subscription {
	return subscribe(h, h.removed, path, fn)
}

// OnChanged registers fn for field-change events on the node at path.
func (h *Hub) OnChanged(path string, fn ChangedFunc) Subscription {
	return subscribe(h, h.changed, path, fn)
}

// EmitAdded delivers a child-added event to path's subscribers.
func (h *Hub) EmitAdded(path, key string, value any) {
	for _, fn := range snapshot(h, h.added, path) {
		fn(key, value)
	}
}

// EmitRemoved delivers a child-removed event to path's subscribers.
func (h *Hub) EmitRemoved(path, key string) {
	for _, fn := range snapshot(h, h.removed, path) {
		fn(key)
	}
}

// EmitChanged delivers one field-change event to the node's subscribers.
func (h *Hub) EmitChanged(path, field string, value any) {
	for _, fn := range snapshot(h, h.changed, path) {
		fn(field, value)
	}
}

func subscribe[F any](h *Hub, byPath map[string]map[int]F, path string, fn F) Subscription {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if byPath[path] == nil {
		byPath[path] = make(map[int]F)
	}
	byPath[path][id] = fn
	h.mu.Unlock()

	return &hubSub{cancel: func() {
		h.mu.Lock()
		delete(byPath[path], id)
		h.mu.Unlock()
	}}
}

func snapshot[F any](h *Hub, byPath map[string]map[int]F, path string) []F {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := byPath[path]
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]F, 0, len(ids))
	for _, id := range ids {
		out = append(out, subs[id])
	}
	return out
}

// AsFields reports whether v is a record body, normalising the two map
// shapes callers pass.
func AsFields(v any) (model.Fields, bool) {
	switch f := v.(type) {
	case model.Fields:
		return f, true
	case map[string]any:
		return model.Fields(f), true
	default:
		return nil, false
	}
}

// FieldDiff is one per-field difference between two record bodies.
// A nil Value marks a deleted field.
type FieldDiff struct {
	Field string
	Value any
}

// DiffFields lists the per-field changes from old to new: changed and new
// fields first, deleted fields last, each group in key order. This is the
// event sequence an overwrite of a record body emits.
//
// Values are compared structurally: slice and map values (JSON arrays,
// nested objects) must not panic the mutating goroutine.
func DiffFields(old, new model.Fields) []FieldDiff {
	var diffs []FieldDiff
	for k, v := range new {
		if ov, ok := old[k]; !ok || !reflect.DeepEqual(ov, v) {
			diffs = append(diffs, FieldDiff{k, v})
		}
	}
	for k := range old {
		if _, ok := new[k]; !ok {
			diffs = append(diffs, FieldDiff{k, nil})
		}
	}
	sort.Slice(diffs, func(i, j int) bool {
		di, dj := diffs[i], diffs[j]
		if (di.Value == nil) != (dj.Value == nil) {
			return dj.Value == nil
		}
		return di.Field < dj.Field
	})
	return diffs
}
