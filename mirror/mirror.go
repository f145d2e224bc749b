// Package mirror keeps a local observable list consistent with two remote
// store locations — an id-index path holding boolean existence markers and a
// data path holding full record bodies — in both directions, for the
// lifetime of a [List].
//
// Remote child-added/removed events on the index path and per-record
// field-change events drive the local list; local mutators ([List.Add],
// [List.Replace], [List.Remove], [List.Clear]) only write to the store, and
// the resulting events perform the local mutation asynchronously. The list
// is purely a projection of observed events: failed writes are never
// compensated locally and no reconciliation pass is performed.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/mlund/listmirror/model"
	"github.com/mlund/listmirror/store"
)

const (
	otelScope      = "listmirror/mirror"
	spanAdd        = "mirror.add"
	spanReplace    = "mirror.replace"
	spanRemove     = "mirror.remove"
	spanClear      = "mirror.clear"
	metricAdded    = "listmirror.items.added"
	metricReplaced = "listmirror.items.replaced"
	metricRemoved  = "listmirror.items.removed"
	metricResubs   = "listmirror.resubscribes"
	metricErrors   = "listmirror.errors"
)

var (
	// ErrUnsupported is returned by operations that are disabled by
	// contract: indexed assignment and Clear without confirmation.
	ErrUnsupported = errors.New("mirror: operation not supported")

	// ErrNotTracked is returned by Replace when no item with the given id
	// is currently in the list.
	ErrNotTracked = errors.New("mirror: record id not tracked")
)

// Op identifies the kind of local list change a watcher is notified about.
type Op int

const (
	// OpAdd means a record appeared in the list.
	OpAdd Op = iota
	// OpReplace means a record's body was updated in place.
	OpReplace
	// OpRemove means a record left the list.
	OpRemove
	// OpReset means the whole list was cleared (index path change or Close).
	OpReset
)

// Change describes one local list mutation. For OpReset, ID and Record are
// zero values.
type Change[T model.Record] struct {
	Op     Op
	ID     string
	Record T
}

// Options configures a [List].
type Options struct {
	// DataPath is the remote location holding full record bodies. Required.
	DataPath string

	// IndexPath is the remote location holding the boolean id markers.
	// Defaults to DataPath + "-ids".
	IndexPath string

	// Logger receives structured adapter logs. Defaults to [slog.Default].
	Logger *slog.Logger
}

// List mirrors the record set under a remote path pair into an ordered local
// list. Create one with [New] and release it with [List.Close].
type List[T model.Record] struct {
	store    store.Store
	codec    model.Codec[T]
	log      *slog.Logger
	dataPath string

	// ctx scopes the fetches triggered by store events, which arrive
	// without a caller context.
	ctx context.Context

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntAdded    metric.Int64Counter
	cntReplaced metric.Int64Counter
	cntRemoved  metric.Int64Counter
	cntResubs   metric.Int64Counter
	cntErrors   metric.Int64Counter

	mu         sync.Mutex
	indexPath  string
	items      []T
	index      map[string]int // id → position in items
	fieldSubs  map[string]store.Subscription
	addedSub   store.Subscription
	removedSub store.Subscription
	watchers   []func(Change[T])
	closed     bool
}

// New creates a List over st and immediately subscribes to the index path's
// child-added and child-removed streams. Backends replay currently existing
// ids as added events, so the list populates during this call (or as the
// backend delivers them).
func New[T model.Record](ctx context.Context, st store.Store, codec model.Codec[T], opts Options) (*List[T], error) {
	if opts.DataPath == "" {
		return nil, fmt.Errorf("mirror: DataPath is required")
	}
	if opts.IndexPath == "" {
		opts.IndexPath = opts.DataPath + "-ids"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			opts.Logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	l := &List[T]{
		store:    st,
		codec:    codec,
		log:      opts.Logger,
		dataPath: opts.DataPath,
		ctx:      ctx,

		tracer:      otel.Tracer(otelScope),
		cntAdded:    mustCounter(metricAdded, "Records added to the local list"),
		cntReplaced: mustCounter(metricReplaced, "Records replaced in the local list"),
		cntRemoved:  mustCounter(metricRemoved, "Records removed from the local list"),
		cntResubs:   mustCounter(metricResubs, "Full resubscriptions after an index path change"),
		cntErrors:   mustCounter(metricErrors, "Adapter errors (failed fetches, decodes, writes)"),

		indexPath: opts.IndexPath,
		index:     make(map[string]int),
		fieldSubs: make(map[string]store.Subscription),
	}

	if err := l.subscribe(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// subscribe attaches the index-path subscriptions. Removed is attached first
// so a removal arriving mid-replay is not lost. Must be called without
// holding l.mu: the added subscription replays existing ids synchronously
// through handleAdded.
func (l *List[T]) subscribe(ctx context.Context) error {
	l.mu.Lock()
	path := l.indexPath
	l.mu.Unlock()

	removedSub, err := l.store.SubscribeRemoved(ctx, path, l.handleRemoved)
	if err != nil {
		return fmt.Errorf("subscribing child-removed on %q: %w", path, err)
	}
	addedSub, err := l.store.SubscribeAdded(ctx, path, l.handleAdded)
	if err != nil {
		removedSub.Cancel()
		return fmt.Errorf("subscribing child-added on %q: %w", path, err)
	}

	l.mu.Lock()
	l.removedSub = removedSub
	l.addedSub = addedSub
	l.mu.Unlock()
	return nil
}

// handleAdded reacts to a new id on the index path: fetch the body, decode,
// insert, notify, and start listening for its field changes.
func (l *List[T]) handleAdded(id string, _ any) {
	l.mu.Lock()
	if _, dup := l.index[id]; dup {
		l.mu.Unlock()
		l.log.Warn("duplicate child-added ignored", "id", id)
		return
	}
	l.mu.Unlock()

	body := store.Join(l.dataPath, id)
	fields, err := l.store.Get(l.ctx, body)
	if err != nil {
		l.cntErrors.Add(l.ctx, 1)
		l.log.Error("fetching record body", "id", id, "error", err)
		return
	}
	rec, err := l.codec.Decode(fields)
	if err != nil {
		l.cntErrors.Add(l.ctx, 1)
		l.log.Error("decoding record body", "id", id, "error", err)
		return
	}

	l.mu.Lock()
	if _, dup := l.index[id]; dup {
		l.mu.Unlock()
		return
	}
	l.index[id] = len(l.items)
	l.items = append(l.items, rec)
	l.mu.Unlock()

	l.cntAdded.Add(l.ctx, 1)
	l.notify(Change[T]{Op: OpAdd, ID: id, Record: rec})

	sub, err := l.store.SubscribeChanged(l.ctx, body, func(field string, value any) {
		l.handleChanged(id, field, value)
	})
	if err != nil {
		l.cntErrors.Add(l.ctx, 1)
		l.log.Error("subscribing field changes", "id", id, "error", err)
		return
	}
	l.mu.Lock()
	l.fieldSubs[id] = sub
	l.mu.Unlock()
}

// handleChanged merges a single remote field change into the held record:
// re-encode, overwrite (or delete, for a nil value) the one field, decode
// the merged body, and swap the item in place. Relies on the codec round
// trip being lossless.
func (l *List[T]) handleChanged(id, field string, value any) {
	l.mu.Lock()
	pos, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		l.log.Warn("field change for untracked id ignored", "id", id, "field", field)
		return
	}
	cur := l.items[pos]
	l.mu.Unlock()

	fields, err := l.codec.Encode(cur)
	if err != nil {
		l.cntErrors.Add(l.ctx, 1)
		l.log.Error("re-encoding record for merge", "id", id, "error", err)
		return
	}
	rec, err := l.codec.Decode(model.MergeField(fields, field, value))
	if err != nil {
		l.cntErrors.Add(l.ctx, 1)
		l.log.Error("decoding merged record", "id", id, "field", field, "error", err)
		return
	}
	if rec.RecordID() != id {
		l.cntErrors.Add(l.ctx, 1)
		l.log.Error("merged record changed id, dropping event", "id", id, "merged_id", rec.RecordID())
		return
	}

	l.mu.Lock()
	pos, ok = l.index[id]
	if !ok {
		l.mu.Unlock()
		return
	}
	l.items[pos] = rec
	l.mu.Unlock()

	l.cntReplaced.Add(l.ctx, 1)
	l.notify(Change[T]{Op: OpReplace, ID: id, Record: rec})
}

// handleRemoved reacts to an id disappearing from the index path: cancel its
// field subscription, drop the item, notify.
func (l *List[T]) handleRemoved(id string) {
	l.mu.Lock()
	sub := l.fieldSubs[id]
	delete(l.fieldSubs, id)

	pos, ok := l.index[id]
	var rec T
	if ok {
		rec = l.items[pos]
		l.items = append(l.items[:pos], l.items[pos+1:]...)
		delete(l.index, id)
		for i := pos; i < len(l.items); i++ {
			l.index[l.items[i].RecordID()] = i
		}
	}
	l.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if !ok {
		return
	}
	l.cntRemoved.Add(l.ctx, 1)
	l.notify(Change[T]{Op: OpRemove, ID: id, Record: rec})
}

// SetIndexPath re-points the list at a different id-index path. All active
// subscriptions are cancelled, the local list is cleared, and the list is
// rebuilt from scratch off the new path's current contents. No stale
// subscription survives the switch.
func (l *List[T]) SetIndexPath(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("mirror: index path must not be empty")
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("mirror: list is closed")
	}
	l.mu.Unlock()
	l.teardown()

	l.mu.Lock()
	l.indexPath = path
	l.mu.Unlock()

	l.cntResubs.Add(ctx, 1)
	l.notify(Change[T]{Op: OpReset})
	return l.subscribe(ctx)
}

// Close cancels every subscription and empties the list. The List must not
// be used afterwards. Safe to call more than once.
func (l *List[T]) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.teardown()
	l.notify(Change[T]{Op: OpReset})
	return nil
}

// teardown cancels all subscriptions and clears local state.
func (l *List[T]) teardown() {
	l.mu.Lock()
	addedSub, removedSub := l.addedSub, l.removedSub
	l.addedSub, l.removedSub = nil, nil
	fieldSubs := l.fieldSubs
	l.fieldSubs = make(map[string]store.Subscription)
	l.items = nil
	l.index = make(map[string]int)
	l.mu.Unlock()

	if addedSub != nil {
		addedSub.Cancel()
	}
	if removedSub != nil {
		removedSub.Cancel()
	}
	for _, sub := range fieldSubs {
		sub.Cancel()
	}
}

// notify delivers a change to all watchers, outside any lock.
func (l *List[T]) notify(ch Change[T]) {
	l.mu.Lock()
	watchers := make([]func(Change[T]), len(l.watchers))
	copy(watchers, l.watchers)
	l.mu.Unlock()

	for _, fn := range watchers {
		fn(ch)
	}
}
