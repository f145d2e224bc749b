package mirror

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mlund/listmirror/store"
)

// Add writes rec's body to the data path and then marks its id on the index
// path. The local list is NOT touched here — the marker write's resulting
// child-added event performs the insertion asynchronously. Store errors
// propagate unretried.
func (l *List[T]) Add(ctx context.Context, rec T) error {
	id := rec.RecordID()
	ctx, span := l.tracer.Start(ctx, spanAdd, trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	if id == "" {
		return l.fail(ctx, span, fmt.Errorf("mirror: record has no id"))
	}
	fields, err := l.codec.Encode(rec)
	if err != nil {
		return l.fail(ctx, span, fmt.Errorf("encoding record %q: %w", id, err))
	}
	if err := l.store.Set(ctx, store.Join(l.dataPath, id), fields); err != nil {
		return l.fail(ctx, span, fmt.Errorf("writing body for %q: %w", id, err))
	}
	if err := l.store.Set(ctx, store.Join(l.IndexPath(), id), true); err != nil {
		return l.fail(ctx, span, fmt.Errorf("writing index marker for %q: %w", id, err))
	}
	return nil
}

// Replace overwrites the remote body of an already-tracked record. The local
// copy is updated asynchronously by the resulting field-change events.
// Returns [ErrNotTracked] when the id is not currently in the list.
func (l *List[T]) Replace(ctx context.Context, rec T) error {
	id := rec.RecordID()
	ctx, span := l.tracer.Start(ctx, spanReplace, trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	l.mu.Lock()
	_, tracked := l.index[id]
	l.mu.Unlock()
	if !tracked {
		return l.fail(ctx, span, fmt.Errorf("replace %q: %w", id, ErrNotTracked))
	}

	fields, err := l.codec.Encode(rec)
	if err != nil {
		return l.fail(ctx, span, fmt.Errorf("encoding record %q: %w", id, err))
	}
	if err := l.store.Set(ctx, store.Join(l.dataPath, id), fields); err != nil {
		return l.fail(ctx, span, fmt.Errorf("writing body for %q: %w", id, err))
	}
	return nil
}

// ReplaceAt is disallowed: an arbitrary slot cannot guarantee the incoming
// record's id matches the record it would displace. Always returns
// [ErrUnsupported]; callers must use [List.Replace].
func (l *List[T]) ReplaceAt(_ int, _ T) error {
	return fmt.Errorf("indexed assignment: %w, use Replace", ErrUnsupported)
}

// Remove deletes the id's index marker and body from the store. The local
// removal happens asynchronously via the child-removed event.
func (l *List[T]) Remove(ctx context.Context, id string) error {
	ctx, span := l.tracer.Start(ctx, spanRemove, trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	if err := l.store.Remove(ctx, store.Join(l.IndexPath(), id)); err != nil {
		return l.fail(ctx, span, fmt.Errorf("removing index marker for %q: %w", id, err))
	}
	if err := l.store.Remove(ctx, store.Join(l.dataPath, id)); err != nil {
		return l.fail(ctx, span, fmt.Errorf("removing body for %q: %w", id, err))
	}
	return nil
}

// Clear removes every currently held record, one Remove at a time. The
// confirm flag is a guard against accidental mass deletion: Clear(ctx,
// false) always fails with [ErrUnsupported] and changes nothing.
func (l *List[T]) Clear(ctx context.Context, confirm bool) error {
	ctx, span := l.tracer.Start(ctx, spanClear)
	defer span.End()

	if !confirm {
		return l.fail(ctx, span, fmt.Errorf("clear without confirmation: %w", ErrUnsupported))
	}

	l.mu.Lock()
	ids := make([]string, len(l.items))
	for i, rec := range l.items {
		ids[i] = rec.RecordID()
	}
	l.mu.Unlock()

	for _, id := range ids {
		if err := l.Remove(ctx, id); err != nil {
			return l.fail(ctx, span, fmt.Errorf("clearing: %w", err))
		}
	}
	return nil
}

// Len returns the number of records currently held.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Items returns a snapshot copy of the list in order.
func (l *List[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Get returns the record with the given id, if tracked.
func (l *List[T]) Get(id string) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return l.items[pos], true
}

// IDs returns the tracked ids in list order.
func (l *List[T]) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, len(l.items))
	for i, rec := range l.items {
		ids[i] = rec.RecordID()
	}
	return ids
}

// DataPath returns the configured data path. Immutable.
func (l *List[T]) DataPath() string { return l.dataPath }

// IndexPath returns the current id-index path.
func (l *List[T]) IndexPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.indexPath
}

// Watch registers fn to be called on every local list change. Watchers are
// invoked synchronously on the goroutine applying the change and must not
// mutate the list.
func (l *List[T]) Watch(fn func(Change[T])) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
}

// fail records err on the span and error counter, then returns it.
func (l *List[T]) fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	l.cntErrors.Add(ctx, 1)
	return err
}
