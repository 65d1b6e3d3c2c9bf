// Package entity implements the Entity Facade (spec §4.5): the single
// per-type contract that wraps an Entity Store with relation-aware
// convenience methods, and exposes the type-erased view the Relation
// Engine needs to traverse across types.
package entity

import (
	"github.com/kittclouds/reindeer/internal/kv"
	"github.com/kittclouds/reindeer/pkg/codec"
	"github.com/kittclouds/reindeer/pkg/dbmetrics"
	"github.com/kittclouds/reindeer/pkg/errs"
	"github.com/kittclouds/reindeer/pkg/family"
	"github.com/kittclouds/reindeer/pkg/relation"
	"github.com/kittclouds/reindeer/pkg/store"
)

// Option configures an optional extra on Open; zero value is the default
// (no instrumentation).
type Option func(*openOptions)

type openOptions struct {
	metrics *dbmetrics.Metrics
}

// WithMetrics instruments the opened Facade's Store with m, matching the
// per-tree counters/histograms DB.Metrics exposes for the rest of the
// process.
func WithMetrics(m *dbmetrics.Metrics) Option {
	return func(o *openOptions) { o.metrics = m }
}

// Facade is the unified contract for one entity type: a typed Store plus
// the Relation Engine wiring needed to declare and traverse edges.
type Facade[K codec.Key, V any] struct {
	*store.Store[K, V]
	rel  *relation.Engine
	desc family.Descriptor
}

// Open opens the named store and registers desc with the family catalog,
// returning a Facade ready for relation-aware use.
func Open[K codec.Key, V any](
	engine kv.Engine,
	catalog *family.Catalog,
	reg *relation.Registry,
	rel *relation.Engine,
	desc family.Descriptor,
	c codec.Codec[V],
	opts ...Option,
) (*Facade[K, V], error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	s, err := store.Open[K, V](engine, desc.TreeName, c)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		s.SetMetrics(o.metrics)
	}
	if err := catalog.Register(desc); err != nil {
		return nil, err
	}
	f := &Facade[K, V]{Store: s, rel: rel, desc: desc}
	reg.Register(f)
	return f, nil
}

// TreeName implements relation.VTable.
func (f *Facade[K, V]) TreeName() string { return f.Store.Name() }

// Descriptor returns the family descriptor this facade was registered with.
func (f *Facade[K, V]) Descriptor() family.Descriptor { return f.desc }

// ExistsBytes implements relation.VTable.
func (f *Facade[K, V]) ExistsBytes(key []byte) (bool, error) {
	return f.Store.ExistsBytesUnsafe(key)
}

// RemoveBytes implements relation.VTable.
func (f *Facade[K, V]) RemoveBytes(key []byte) error {
	return f.Store.RemoveBytesUnsafe(key)
}

// KeysWithPrefix implements relation.VTable.
func (f *Facade[K, V]) KeysWithPrefix(prefix []byte) ([][]byte, error) {
	return f.Store.KeysWithPrefixUnsafe(prefix)
}

// ComponentBytes implements relation.VTable.
func (f *Facade[K, V]) ComponentBytes(key []byte) []byte {
	return codec.ComponentPrefix[K](key)
}

// Delete removes the record at key, applying every declared edge's
// deletion policy (spec §4.3's three-phase algorithm).
func (f *Facade[K, V]) Delete(key K) error {
	return f.rel.Delete(f.TreeName(), key.Bytes())
}

// GetChildren returns every child key declared under edgeName for the
// record at key.
func (f *Facade[K, V]) GetChildren(key K, edgeName string) ([][]byte, error) {
	return f.rel.GetRelated(f.TreeName(), key.Bytes(), edgeName)
}

// GetSibling returns the sibling key declared under edgeName, if present.
func (f *Facade[K, V]) GetSibling(key K, edgeName string) ([]byte, bool, error) {
	return f.rel.GetSingleRelated(f.TreeName(), key.Bytes(), edgeName)
}

// SaveSibling saves t under key, the owning record's own key — spec.md's
// sibling relation ("save_sibling(s, t) sets t.key = s.key and saves t").
// Call this on the sibling type's own Facade with the owner's key.
func (f *Facade[K, V]) SaveSibling(key K, t V) error {
	return f.Save(key, t)
}

// CreateRelation records a free relation from key to (relatedTree,
// relatedKey) under edgeName.
func (f *Facade[K, V]) CreateRelation(key K, edgeName, relatedTree string, relatedKey []byte) error {
	return f.rel.CreateRelation(f.TreeName(), key.Bytes(), edgeName, relatedTree, relatedKey)
}

// RemoveRelation deletes one specific free relation from key.
func (f *Facade[K, V]) RemoveRelation(key K, edgeName, relatedTree string, relatedKey []byte) error {
	return f.rel.RemoveRelation(f.TreeName(), key.Bytes(), edgeName, relatedTree, relatedKey)
}

// GetRelated returns every related key under edgeName, regardless of
// relation kind.
func (f *Facade[K, V]) GetRelated(key K, edgeName string) ([][]byte, error) {
	return f.rel.GetRelated(f.TreeName(), key.Bytes(), edgeName)
}

// RemoveRelated deletes every record related to key under edgeName, in
// addition to unlinking the edge itself. This is strictly more destructive
// than RemoveRelation, which only unlinks one named pair.
func (f *Facade[K, V]) RemoveRelated(key K, edgeName string) error {
	return f.rel.RemoveRelated(f.TreeName(), key.Bytes(), edgeName)
}

// HasRelated reports whether key has any record under edgeName.
func (f *Facade[K, V]) HasRelated(key K, edgeName string) (bool, error) {
	return f.rel.HasRelated(f.TreeName(), key.Bytes(), edgeName)
}

// AutoIncrement wraps a Facade whose key is a Uint64 with a SaveNext
// method that allocates the next key itself, mirroring the Rust
// original's separate AutoIncrementEntity trait rather than faking
// specialization with a runtime type switch.
type AutoIncrement[V any] struct {
	*Facade[codec.Uint64, V]
}

// SaveNext allocates the next key (one greater than the current maximum,
// starting at 0) and saves v under it, returning the allocated key.
func (a *AutoIncrement[V]) SaveNext(v V) (codec.Uint64, error) {
	next, err := a.nextKey()
	if err != nil {
		return 0, err
	}
	if err := a.Save(next, v); err != nil {
		return 0, err
	}
	return next, nil
}

// GetNextKey returns the key SaveNext would allocate: one greater than the
// current maximum, or 0 if the store is empty.
func (a *AutoIncrement[V]) GetNextKey() (codec.Uint64, error) {
	return a.nextKey()
}

func (a *AutoIncrement[V]) nextKey() (codec.Uint64, error) {
	lastKey, _, ok, err := a.LastRaw()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	k, err := codec.Uint64FromBytes(lastKey)
	if err != nil {
		return 0, errs.New(errs.KindIntegrity, "entity.AutoIncrement.SaveNext", err)
	}
	return k + 1, nil
}
