// Package pending tracks swap transactions that were submitted on-chain
// but whose CEX deposit has not been confirmed yet. The registry is
// durable so a restart does not orphan in-flight settlements, and a
// single poller fetches the deposit history for all of them.
package pending

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/store"
)

// Registry is the persisted set of awaited transaction ids for one
// venue. All mutations serialize on one mutex scoped to the storage
// key; the on-disk layout is a plain list of id strings.
type Registry struct {
	kv  store.KV
	key string
	log *zap.Logger

	mu sync.Mutex
}

func NewRegistry(kv store.KV, venue string, log *zap.Logger) *Registry {
	return &Registry{kv: kv, key: "pending:" + venue, log: log}
}

func (r *Registry) load(ctx context.Context) ([]string, error) {
	var ids []string
	ok, err := r.kv.Get(ctx, r.key, &ids)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.key, err)
	}
	if !ok {
		return nil, nil
	}
	return ids, nil
}

// Add registers a transaction id; adding an id twice keeps a single entry.
func (r *Registry) Add(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.load(ctx)
	if err != nil {
		return err
	}
	for _, have := range ids {
		if have == id {
			return nil
		}
	}
	return r.kv.Put(ctx, r.key, append(ids, id))
}

// Remove deregisters a transaction id; removing an absent id is a no-op.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.load(ctx)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, have := range ids {
		if have != id {
			out = append(out, have)
		}
	}
	if len(out) == len(ids) {
		return nil
	}
	return r.kv.Put(ctx, r.key, out)
}

// List returns the awaited ids in insertion order.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}
