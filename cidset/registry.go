// Package cidset tracks the identifier of every payload the workload has
// uploaded, in arrival order. The record is backed by a datastore, so a
// campaign that restarts keeps downloading content its previous run added.
package cidset

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/ipfs/go-datastore/query"
	dss "github.com/ipfs/go-datastore/sync"
	badgerds "github.com/ipfs/go-ds-badger"
	"golang.org/x/xerrors"
)

var registryKey = datastore.NewKey("/uploads")

// Registry is an append-only, duplicate-preserving record of uploaded
// content identifiers. Writes land in the datastore before the in-memory
// mirror, so the registry never acknowledges an upload it could forget.
type Registry struct {
	lk   sync.Mutex
	ds   datastore.Batching
	next uint64
	cids []cid.Cid
}

// New opens the registry over the given datastore, loading any identifiers a
// previous run left behind in the order they were appended
func New(ctx context.Context, ds datastore.Batching) (*Registry, error) {
	r := &Registry{ds: namespace.Wrap(ds, registryKey)}
	res, err := r.ds.Query(ctx, query.Query{Orders: []query.Order{query.OrderByKey{}}})
	if err != nil {
		return nil, xerrors.Errorf("loading upload registry: %w", err)
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, xerrors.Errorf("loading upload registry: %w", err)
	}
	for _, entry := range entries {
		c, err := cid.Cast(entry.Value)
		if err != nil {
			return nil, xerrors.Errorf("corrupt registry entry %s: %w", entry.Key, err)
		}
		r.cids = append(r.cids, c)
	}
	r.next = uint64(len(r.cids))
	return r, nil
}

// Append records one uploaded identifier. Duplicates are kept: uploading the
// same content twice makes it twice as likely to be sampled for download,
// which is the behavior the workload wants.
func (r *Registry) Append(ctx context.Context, c cid.Cid) error {
	r.lk.Lock()
	defer r.lk.Unlock()

	k := datastore.NewKey(fmt.Sprintf("%020d", r.next))
	if err := r.ds.Put(ctx, k, c.Bytes()); err != nil {
		return xerrors.Errorf("persisting upload %s: %w", c, err)
	}
	r.next++
	r.cids = append(r.cids, c)
	return nil
}

// Snapshot returns the identifiers known at this instant, oldest first. The
// returned slice is the caller's to keep; later appends will not show up in
// it.
func (r *Registry) Snapshot() []cid.Cid {
	r.lk.Lock()
	defer r.lk.Unlock()

	out := make([]cid.Cid, len(r.cids))
	copy(out, r.cids)
	return out
}

// Len returns how many uploads have been recorded so far
func (r *Registry) Len() int {
	r.lk.Lock()
	defer r.lk.Unlock()
	return len(r.cids)
}

// OpenDatastore returns a backing store for the registry: a badger store
// rooted at dir, or an ephemeral in-memory store when dir is empty
func OpenDatastore(dir string) (datastore.Batching, error) {
	if dir == "" {
		return dss.MutexWrap(datastore.NewMapDatastore()), nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, xerrors.Errorf("creating registry dir: %w", err)
	}
	opts := badgerds.DefaultOptions
	store, err := badgerds.NewDatastore(dir, &opts)
	if err != nil {
		return nil, xerrors.Errorf("opening registry store at %s: %w", dir, err)
	}
	return store, nil
}
