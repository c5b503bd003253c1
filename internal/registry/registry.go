// Package registry caches per-table metadata for an extractor, keyed by
// schema.table, and handles invalidation when DDL changes a table's shape
// (spec.md §4.5).
package registry

import (
	"fmt"
	"sync"

	"github.com/sdlhq/dflow/internal/meta"
)

// FetchFunc loads (or re-loads) a single table's metadata on a cache miss.
// No source query is implemented: cmd/dflowd installs one that returns an
// error, so a table is known only once an extractor has Put it.
type FetchFunc func(schema, table string) (*meta.TableMeta, error)

// Registry is a name-keyed metadata cache shared by one extractor run. It
// is safe for concurrent use: the extractor writes it from its row-decode
// path while the pipeline reads id columns from it.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*meta.TableMeta
	fetch FetchFunc
}

func New(fetch FetchFunc) *Registry {
	return &Registry{
		byKey: make(map[string]*meta.TableMeta),
		fetch: fetch,
	}
}

func key(schema, table string) string {
	return schema + "." + table
}

// Get returns the cached metadata for schema.table, fetching and caching
// it on first use.
func (r *Registry) Get(schema, table string) (*meta.TableMeta, error) {
	k := key(schema, table)

	r.mu.RLock()
	if m, ok := r.byKey[k]; ok {
		r.mu.RUnlock()
		return m, nil
	}
	r.mu.RUnlock()

	m, err := r.fetch(schema, table)
	if err != nil {
		return nil, fmt.Errorf("registry: fetch %s: %w", k, err)
	}
	m.DeriveIDCols()

	r.mu.Lock()
	r.byKey[k] = m
	r.mu.Unlock()
	return m, nil
}

// Invalidate drops the cached entry for schema.table. An empty table name
// clears every entry for that schema (and an empty schema with an empty
// table clears everything). The owning extractor calls it when it sees a
// schema change; sinkers keep their own caches and get RefreshMeta instead.
func (r *Registry) Invalidate(schema, table string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if schema == "" && table == "" {
		r.byKey = make(map[string]*meta.TableMeta)
		return
	}
	if table == "" {
		prefix := schema + "."
		for k := range r.byKey {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				delete(r.byKey, k)
			}
		}
		return
	}
	delete(r.byKey, key(schema, table))
}

// Put installs metadata directly, bypassing FetchFunc — used by the PG
// extractor's relation-message decoding, which receives full column shape
// inline on the wire rather than needing a side query.
func (r *Registry) Put(m *meta.TableMeta) {
	m.DeriveIDCols()
	r.mu.Lock()
	r.byKey[key(m.Schema, m.Table)] = m
	r.mu.Unlock()
}

// Snapshot returns every cached table's metadata, used by dflowtop to
// render the current schema the pipeline has discovered.
func (r *Registry) Snapshot() []*meta.TableMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*meta.TableMeta, 0, len(r.byKey))
	for _, m := range r.byKey {
		out = append(out, m)
	}
	return out
}
