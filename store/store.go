// Package store defines the capability interface of the remote realtime
// database as the mirror adapter consumes it, plus an in-process [Memory]
// implementation used as the dev backend and the test double.
//
// Paths are slash-separated strings ("tasks/a1"). A child of path P is any
// node at P/<key>; a record node's children are its fields.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/mlund/listmirror/model"
)

// ErrNotFound is returned by Get when no node exists at the path.
var ErrNotFound = errors.New("store: path not found")

// AddedFunc receives a child-added event: a new child key appeared under the
// subscribed path, carrying its full value.
type AddedFunc func(key string, value any)

// RemovedFunc receives a child-removed event for the subscribed path.
type RemovedFunc func(key string)

// ChangedFunc receives a field-level change on a record node. A nil value
// means the field was deleted.
type ChangedFunc func(field string, value any)

// Subscription is a live event stream registration. Cancel is idempotent;
// after it returns no further callbacks are delivered.
type Subscription interface {
	Cancel()
}

// Store is the surface of the remote realtime database used by the adapter.
// Implemented by [Memory] and by sqlitestore.Store; a vendor-SDK-backed
// implementation plugs in the same way.
//
// SubscribeAdded replays the currently existing children of path as added
// events before streaming new ones, so a fresh subscriber sees the full
// current state without a separate listing call.
type Store interface {
	SubscribeAdded(ctx context.Context, path string, fn AddedFunc) (Subscription, error)
	SubscribeRemoved(ctx context.Context, path string, fn RemovedFunc) (Subscription, error)
	SubscribeChanged(ctx context.Context, path string, fn ChangedFunc) (Subscription, error)

	Get(ctx context.Context, path string) (model.Fields, error)
	Set(ctx context.Context, path string, value any) error
	Remove(ctx context.Context, path string) error
}

// Join appends a child key to a base path.
func Join(path, key string) string {
	return path + "/" + key
}

// Split separates a path into its parent and final key segment.
func Split(path string) (parent, key string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
