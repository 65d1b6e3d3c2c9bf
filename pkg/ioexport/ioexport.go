// Package ioexport implements the Import/Export Wrapper (spec §4.6): a
// JSON round-trip of a store's records together with each record's
// relation metadata, so a dump can be restored into an empty database
// without losing edges.
package ioexport

import (
	"context"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/kittclouds/reindeer/pkg/codec"
	"github.com/kittclouds/reindeer/pkg/errs"
	"github.com/kittclouds/reindeer/pkg/family"
	"github.com/kittclouds/reindeer/pkg/relation"
)

// Record pairs one entity's value with the keys of everything it is
// related to, keyed by edge name. Keys are raw bytes (base64-encoded by
// the JSON marshaller).
type Record[V any] struct {
	Value     V                   `json:"value"`
	Relations map[string][][]byte `json:"relations,omitempty"`
}

// Wrapper is the on-disk export format for one store.
type Wrapper[V any] struct {
	TreeName string      `json:"tree_name"`
	Records  []Record[V] `json:"records"`
}

// storeLike is the minimal surface ExportStore needs from an
// entity.Facade: walk every record with its key, and ask the relation
// engine what each key is related to.
type storeLike[K codec.Key, V any] interface {
	TreeName() string
	GetEachKeyed(fn func(key []byte, v V) (more bool, err error)) error
	GetRelated(key K, edgeName string) ([][]byte, error)
}

// ExportStore walks every record in s and resolves its relations per the
// edges declared in desc, producing one JSON-ready Wrapper.
func ExportStore[K codec.Key, V any](s storeLike[K, V], desc family.Descriptor, keyFromBytes func([]byte) (K, error)) (Wrapper[V], error) {
	w := Wrapper[V]{TreeName: desc.TreeName}
	err := s.GetEachKeyed(func(rawKey []byte, v V) (bool, error) {
		k, err := keyFromBytes(rawKey)
		if err != nil {
			return false, errs.New(errs.KindIntegrity, "ioexport.ExportStore", err)
		}
		rec := Record[V]{Value: v}
		for _, edge := range desc.Edges {
			related, err := s.GetRelated(k, edge.Name)
			if err != nil {
				return false, err
			}
			if len(related) == 0 {
				continue
			}
			if rec.Relations == nil {
				rec.Relations = make(map[string][][]byte, len(desc.Edges))
			}
			rec.Relations[edge.Name] = related
		}
		w.Records = append(w.Records, rec)
		return true, nil
	})
	if err != nil {
		return Wrapper[V]{}, err
	}
	return w, nil
}

// importableStore is the minimal surface ImportStore needs: save a
// decoded record under its own key, and re-create a free relation to an
// already-imported (or not-yet-imported) related key.
type importableStore[K codec.Key, V any] interface {
	Save(key K, v V) error
	CreateRelation(key K, edgeName, relatedTree string, relatedKey []byte) error
}

// ImportStore re-saves every record in w into s under keyOf(v), and
// replays its free-relation edges against each edge's RelatedTo tree, as
// declared in desc. Sibling and child
// relations need no replay: they are implicit in the key layout and
// reappear once every store in the family has been imported.
func ImportStore[K codec.Key, V any](s importableStore[K, V], w Wrapper[V], desc family.Descriptor, keyOf func(V) K) error {
	edgeKind := make(map[string]family.Edge, len(desc.Edges))
	for _, e := range desc.Edges {
		edgeKind[e.Name] = e
	}
	for _, rec := range w.Records {
		key := keyOf(rec.Value)
		if err := s.Save(key, rec.Value); err != nil {
			return err
		}
		for edgeName, relatedKeys := range rec.Relations {
			edge, ok := edgeKind[edgeName]
			if !ok || edge.Kind != relation.KindFree {
				continue
			}
			for _, rk := range relatedKeys {
				if err := s.CreateRelation(key, edgeName, edge.RelatedTo, rk); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Marshal renders w as indented JSON, matching the teacher's preference
// for human-readable exported data.
func Marshal[V any](w Wrapper[V]) ([]byte, error) {
	b, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, errs.New(errs.KindIntegrity, "ioexport.Marshal", err)
	}
	return b, nil
}

// Unmarshal parses JSON produced by Marshal.
func Unmarshal[V any](b []byte) (Wrapper[V], error) {
	var w Wrapper[V]
	if err := json.Unmarshal(b, &w); err != nil {
		return Wrapper[V]{}, errs.New(errs.KindIntegrity, "ioexport.Unmarshal", err)
	}
	return w, nil
}

// ExportAll runs ExportStore for every job concurrently via an errgroup,
// matching the teacher's fan-out style for independent I/O-bound work.
func ExportAll(ctx context.Context, jobs []func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error { return job(ctx) })
	}
	return g.Wait()
}
