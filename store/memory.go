package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mlund/listmirror/model"
)

// Memory is an in-process [Store]: a mutex-guarded node map with subscriber
// fanout. Events are delivered synchronously on the mutating goroutine, in
// the order the mutations happened, which makes it both a usable dev backend
// and a deterministic test double.
type Memory struct {
	mu    sync.Mutex
	nodes map[string]any
	hub   *Hub
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[string]any),
		hub:   NewHub(),
	}
}

// SubscribeAdded registers fn for child-added events under path. Existing
// children are replayed (in key order) before the subscription returns.
func (m *Memory) SubscribeAdded(_ context.Context, path string, fn AddedFunc) (Subscription, error) {
	sub := m.hub.OnAdded(path, fn)

	m.mu.Lock()
	existing := m.children(path)
	m.mu.Unlock()
	for _, c := range existing {
		fn(c.key, c.value)
	}
	return sub, nil
}

// SubscribeRemoved registers fn for child-removed events under path.
func (m *Memory) SubscribeRemoved(_ context.Context, path string, fn RemovedFunc) (Subscription, error) {
	return m.hub.OnRemoved(path, fn), nil
}

// SubscribeChanged registers fn for field-level changes on the record node
// at path.
func (m *Memory) SubscribeChanged(_ context.Context, path string, fn ChangedFunc) (Subscription, error) {
	return m.hub.OnChanged(path, fn), nil
}

// Get returns the record body at path.
func (m *Memory) Get(_ context.Context, path string) (model.Fields, error) {
	m.mu.Lock()
	v, ok := m.nodes[path]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("get %q: %w", path, ErrNotFound)
	}
	fields, ok := AsFields(v)
	if !ok {
		return nil, fmt.Errorf("get %q: node is not a record body", path)
	}
	return fields.Clone(), nil
}

// Set writes value at path. A new node emits child-added to the parent's
// subscribers; overwriting a record body emits one child-changed per
// differing field to the node's own subscribers (deleted fields arrive with
// a nil value).
func (m *Memory) Set(_ context.Context, path string, value any) error {
	parent, key := Split(path)
	stored := cloneValue(value)

	m.mu.Lock()
	old, existed := m.nodes[path]
	m.nodes[path] = stored
	m.mu.Unlock()

	if !existed {
		m.hub.EmitAdded(parent, key, cloneValue(stored))
		return nil
	}
	oldF, okOld := AsFields(old)
	newF, okNew := AsFields(stored)
	if okOld && okNew {
		for _, d := range DiffFields(oldF, newF) {
			m.hub.EmitChanged(path, d.Field, d.Value)
		}
	}
	return nil
}

// Remove deletes the node at path, emitting child-removed to the parent's
// subscribers. Removing a missing node is a no-op.
func (m *Memory) Remove(_ context.Context, path string) error {
	parent, key := Split(path)

	m.mu.Lock()
	_, existed := m.nodes[path]
	delete(m.nodes, path)
	m.mu.Unlock()

	if existed {
		m.hub.EmitRemoved(parent, key)
	}
	return nil
}

// Keys returns the sorted child keys under path.
func (m *Memory) Keys(path string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for _, c := range m.children(path) {
		keys = append(keys, c.key)
	}
	return keys
}

type childNode struct {
	key   string
	value any
}

// children snapshots the direct children of path in key order.
// Caller holds m.mu.
func (m *Memory) children(path string) []childNode {
	var out []childNode
	for p, v := range m.nodes {
		if parent, key := Split(p); parent == path {
			out = append(out, childNode{key, cloneValue(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func cloneValue(v any) any {
	if f, ok := AsFields(v); ok {
		return f.Clone()
	}
	return v
}
