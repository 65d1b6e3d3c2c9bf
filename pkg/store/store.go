// Package store implements the Entity Store (spec §4.2): per-type CRUD and
// scan operations over one named tree, generic over the key and value
// shapes so every entity type gets the same contract without a
// trait/derive-macro code generator.
package store

import (
	"fmt"
	"time"

	"github.com/kittclouds/reindeer/internal/kv"
	"github.com/kittclouds/reindeer/pkg/codec"
	"github.com/kittclouds/reindeer/pkg/dbmetrics"
	"github.com/kittclouds/reindeer/pkg/errs"
)

// Store is a typed view over one kv.Tree: K is the key shape, V the
// decoded record shape.
type Store[K codec.Key, V any] struct {
	tree    kv.Tree
	codec   codec.Codec[V]
	name    string
	metrics *dbmetrics.Metrics
}

// SetMetrics attaches m so every point Get/Save/Remove/Update records its
// latency under this store's tree name. Safe to call with nil to disable
// instrumentation.
func (s *Store[K, V]) SetMetrics(m *dbmetrics.Metrics) {
	s.metrics = m
}

func (s *Store[K, V]) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveStoreOp(s.name, op, time.Since(start).Seconds())
	}
}

// Open opens (creating if necessary) the named tree and wraps it with c.
func Open[K codec.Key, V any](engine kv.Engine, name string, c codec.Codec[V]) (*Store[K, V], error) {
	t, err := engine.Tree(name)
	if err != nil {
		return nil, errs.New(errs.KindIO, "store.Open", err)
	}
	return &Store[K, V]{tree: t, codec: c, name: name}, nil
}

// Name returns the tree name this store was opened against.
func (s *Store[K, V]) Name() string { return s.name }

// ExistsBytesUnsafe reports whether the raw key (bypassing the K codec)
// has a record. Exposed so entity.Facade can implement relation.VTable,
// which traverses stores it has no static key type for.
func (s *Store[K, V]) ExistsBytesUnsafe(key []byte) (bool, error) {
	ok, err := s.tree.Exists(key)
	if err != nil {
		return false, errs.New(errs.KindIO, "store.ExistsBytesUnsafe", err)
	}
	return ok, nil
}

// RemoveBytesUnsafe deletes the record at the raw key (bypassing the K
// codec), for the same reason as ExistsBytesUnsafe.
func (s *Store[K, V]) RemoveBytesUnsafe(key []byte) error {
	defer s.observe("remove_bytes", time.Now())
	if err := s.tree.Delete(key); err != nil {
		return errs.New(errs.KindIO, "store.RemoveBytesUnsafe", err)
	}
	return nil
}

// KeysWithPrefixUnsafe returns every raw key starting with prefix, for the
// same reason as ExistsBytesUnsafe.
func (s *Store[K, V]) KeysWithPrefixUnsafe(prefix []byte) ([][]byte, error) {
	var out [][]byte
	err := s.tree.ForEachPrefix(prefix, func(k, _ []byte) (bool, error) {
		out = append(out, k)
		return true, nil
	})
	if err != nil {
		return nil, errs.New(errs.KindIO, "store.KeysWithPrefixUnsafe", err)
	}
	return out, nil
}

// LastRaw returns the raw key/value pair that sorts last in the tree, used
// by entity.AutoIncrement to compute the next key without decoding every
// record.
func (s *Store[K, V]) LastRaw() (key, value []byte, ok bool, err error) {
	key, value, ok, err = s.tree.Last()
	if err != nil {
		return nil, nil, false, errs.New(errs.KindIO, "store.LastRaw", err)
	}
	return key, value, ok, nil
}

// GetBytesUnsafe decodes and returns the record at the raw key (bypassing
// the K codec), for callers that only have a key's byte form on hand — e.g.
// entity.GetChildren/GetSibling resolving a prefix-scan or edge-record key
// against a related store of a different K type.
func (s *Store[K, V]) GetBytesUnsafe(key []byte) (V, bool, error) {
	var zero V
	raw, ok, err := s.tree.Get(key)
	if err != nil {
		return zero, false, errs.New(errs.KindIO, "store.GetBytesUnsafe", err)
	}
	if !ok {
		return zero, false, nil
	}
	v, err := s.decode("store.GetBytesUnsafe", raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (s *Store[K, V]) decode(op string, raw []byte) (V, error) {
	v, err := s.codec.Decode(raw)
	if err != nil {
		return v, errs.New(errs.KindIntegrity, op, err)
	}
	return v, nil
}

// rejectZeroKey guards the recommendation in spec §9's Design Notes: a
// zero-length key's prefix-scan and ordering semantics are undefined, so
// every primitive that takes a caller-supplied K rejects one up front
// rather than silently storing an ambiguous empty key.
func rejectZeroKey(op string, raw []byte) error {
	if len(raw) == 0 {
		return errs.New(errs.KindIntegrity, op, fmt.Errorf("zero-length key is not a valid key"))
	}
	return nil
}

// Get returns the record stored under key.
func (s *Store[K, V]) Get(key K) (V, error) {
	defer s.observe("get", time.Now())
	var zero V
	keyBytes := key.Bytes()
	if err := rejectZeroKey("store.Get", keyBytes); err != nil {
		return zero, err
	}
	raw, ok, err := s.tree.Get(keyBytes)
	if err != nil {
		return zero, errs.New(errs.KindIO, "store.Get", err)
	}
	if !ok {
		return zero, errs.New(errs.KindNotFound, "store.Get", fmt.Errorf("tree %q: key not found", s.name))
	}
	return s.decode("store.Get", raw)
}

// Exists reports whether key has a record.
func (s *Store[K, V]) Exists(key K) (bool, error) {
	keyBytes := key.Bytes()
	if err := rejectZeroKey("store.Exists", keyBytes); err != nil {
		return false, err
	}
	ok, err := s.tree.Exists(keyBytes)
	if err != nil {
		return false, errs.New(errs.KindIO, "store.Exists", err)
	}
	return ok, nil
}

// Save inserts or overwrites the record stored under key.
func (s *Store[K, V]) Save(key K, v V) error {
	defer s.observe("save", time.Now())
	keyBytes := key.Bytes()
	if err := rejectZeroKey("store.Save", keyBytes); err != nil {
		return err
	}
	raw, err := s.codec.Encode(v)
	if err != nil {
		return errs.New(errs.KindIntegrity, "store.Save", err)
	}
	if err := s.tree.Put(keyBytes, raw); err != nil {
		return errs.New(errs.KindIO, "store.Save", err)
	}
	return nil
}

// Update atomically reads the record at key (if any), applies fn, and
// writes the result back. Returning write=false from fn leaves the record
// untouched; fn is given the zero value and found=false when no record
// exists yet.
func (s *Store[K, V]) Update(key K, fn func(cur V, found bool) (next V, write bool, err error)) error {
	defer s.observe("update", time.Now())
	keyBytes := key.Bytes()
	if err := rejectZeroKey("store.Update", keyBytes); err != nil {
		return err
	}
	err := s.tree.Update(keyBytes, func(cur []byte, ok bool) ([]byte, bool, error) {
		var curV V
		if ok {
			decoded, derr := s.decode("store.Update", cur)
			if derr != nil {
				return nil, false, derr
			}
			curV = decoded
		}
		next, write, err := fn(curV, ok)
		if err != nil || !write {
			return nil, false, err
		}
		raw, err := s.codec.Encode(next)
		if err != nil {
			return nil, false, errs.New(errs.KindIntegrity, "store.Update", err)
		}
		return raw, true, nil
	})
	if err != nil {
		return errs.New(errs.KindIO, "store.Update", err)
	}
	return nil
}

// Remove deletes the record at key. Removing an absent key is a no-op.
func (s *Store[K, V]) Remove(key K) error {
	defer s.observe("remove", time.Now())
	keyBytes := key.Bytes()
	if err := rejectZeroKey("store.Remove", keyBytes); err != nil {
		return err
	}
	if err := s.tree.Delete(keyBytes); err != nil {
		return errs.New(errs.KindIO, "store.Remove", err)
	}
	return nil
}

// RemovePrefixed deletes every record whose key starts with prefix,
// returning the count removed.
func (s *Store[K, V]) RemovePrefixed(prefix []byte) (int, error) {
	var keys [][]byte
	err := s.tree.ForEachPrefix(prefix, func(k, _ []byte) (bool, error) {
		keys = append(keys, k)
		return true, nil
	})
	if err != nil {
		return 0, errs.New(errs.KindIO, "store.RemovePrefixed", err)
	}
	for _, k := range keys {
		if err := s.tree.Delete(k); err != nil {
			return 0, errs.New(errs.KindIO, "store.RemovePrefixed", err)
		}
	}
	return len(keys), nil
}

// GetNumber returns the number of records in the tree.
func (s *Store[K, V]) GetNumber() (int, error) {
	n, err := s.tree.Len()
	if err != nil {
		return 0, errs.New(errs.KindIO, "store.GetNumber", err)
	}
	return n, nil
}

// GetAll decodes and returns every record in key order.
func (s *Store[K, V]) GetAll() ([]V, error) {
	var out []V
	err := s.tree.ForEach(func(_, v []byte) (bool, error) {
		dv, err := s.decode("store.GetAll", v)
		if err != nil {
			return false, err
		}
		out = append(out, dv)
		return true, nil
	})
	if err != nil {
		return nil, errs.New(errs.KindIO, "store.GetAll", err)
	}
	return out, nil
}

// GetWithPrefix decodes and returns every record whose key starts with prefix.
func (s *Store[K, V]) GetWithPrefix(prefix []byte) ([]V, error) {
	var out []V
	err := s.tree.ForEachPrefix(prefix, func(_, v []byte) (bool, error) {
		dv, err := s.decode("store.GetWithPrefix", v)
		if err != nil {
			return false, err
		}
		out = append(out, dv)
		return true, nil
	})
	if err != nil {
		return nil, errs.New(errs.KindIO, "store.GetWithPrefix", err)
	}
	return out, nil
}

// GetInRange decodes and returns every record with key in [lo, hi).
func (s *Store[K, V]) GetInRange(lo, hi []byte) ([]V, error) {
	var out []V
	err := s.tree.ForEachRange(lo, hi, func(_, v []byte) (bool, error) {
		dv, err := s.decode("store.GetInRange", v)
		if err != nil {
			return false, err
		}
		out = append(out, dv)
		return true, nil
	})
	if err != nil {
		return nil, errs.New(errs.KindIO, "store.GetInRange", err)
	}
	return out, nil
}

// GetFromStart decodes and returns up to take records starting after the
// first skip records, in ascending key order, restricted to prefix if
// non-empty.
func (s *Store[K, V]) GetFromStart(skip, take int, prefix []byte) ([]V, error) {
	var out []V
	seen := 0
	err := s.tree.ForEachPrefix(prefix, func(_, v []byte) (bool, error) {
		if seen < skip {
			seen++
			return true, nil
		}
		if len(out) >= take {
			return false, nil
		}
		dv, err := s.decode("store.GetFromStart", v)
		if err != nil {
			return false, err
		}
		out = append(out, dv)
		return len(out) < take, nil
	})
	if err != nil {
		return nil, errs.New(errs.KindIO, "store.GetFromStart", err)
	}
	return out, nil
}

// GetFromEnd decodes and returns up to take records starting after the
// first skip records counted from the end, restricted to prefix if
// non-empty. Results are returned in ascending key order (spec §4.2).
func (s *Store[K, V]) GetFromEnd(skip, take int, prefix []byte) ([]V, error) {
	var rev []V
	seen := 0
	err := s.tree.ForEachPrefixReverse(prefix, func(_, v []byte) (bool, error) {
		if seen < skip {
			seen++
			return true, nil
		}
		if len(rev) >= take {
			return false, nil
		}
		dv, err := s.decode("store.GetFromEnd", v)
		if err != nil {
			return false, err
		}
		rev = append(rev, dv)
		return len(rev) < take, nil
	})
	if err != nil {
		return nil, errs.New(errs.KindIO, "store.GetFromEnd", err)
	}
	out := make([]V, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out, nil
}

// GetWithFilter decodes and returns every record for which pred returns true.
func (s *Store[K, V]) GetWithFilter(pred func(v V) bool) ([]V, error) {
	var out []V
	err := s.tree.ForEach(func(_, v []byte) (bool, error) {
		dv, err := s.decode("store.GetWithFilter", v)
		if err != nil {
			return false, err
		}
		if pred(dv) {
			out = append(out, dv)
		}
		return true, nil
	})
	if err != nil {
		return nil, errs.New(errs.KindIO, "store.GetWithFilter", err)
	}
	return out, nil
}

// GetEach performs a vectored lookup: the decoded record for each key in
// keys that exists, in the same order as keys, with any key that has no
// record silently dropped rather than erroring (spec §4.2's get_each).
func (s *Store[K, V]) GetEach(keys []K) ([]V, error) {
	defer s.observe("get_each", time.Now())
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		if err := rejectZeroKey("store.GetEach", k.Bytes()); err != nil {
			return nil, err
		}
		raw, ok, err := s.tree.Get(k.Bytes())
		if err != nil {
			return nil, errs.New(errs.KindIO, "store.GetEach", err)
		}
		if !ok {
			continue
		}
		v, err := s.decode("store.GetEach", raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetEachKeyed decodes and invokes fn with the raw key and decoded value
// of every record in key order, stopping early if fn returns false. This
// is what ioexport.ExportStore walks to pair each record with its
// relation metadata.
func (s *Store[K, V]) GetEachKeyed(fn func(key []byte, v V) (more bool, err error)) error {
	err := s.tree.ForEach(func(k, v []byte) (bool, error) {
		dv, err := s.decode("store.GetEachKeyed", v)
		if err != nil {
			return false, err
		}
		return fn(k, dv)
	})
	if err != nil {
		return errs.New(errs.KindIO, "store.GetEachKeyed", err)
	}
	return nil
}

// GetEachBytes invokes fn with the raw key/value bytes of every record in
// key order, without decoding the value — the bulk-export fast path
// (spec §9 supplement, reindeer-rs get_each_u8).
func (s *Store[K, V]) GetEachBytes(fn func(key, value []byte) (more bool, err error)) error {
	if err := s.tree.ForEach(fn); err != nil {
		return errs.New(errs.KindIO, "store.GetEachBytes", err)
	}
	return nil
}

// FilterRemove deletes every record for which pred returns true, returning
// the count removed.
func (s *Store[K, V]) FilterRemove(pred func(v V) bool) (int, error) {
	var doomed [][]byte
	err := s.tree.ForEach(func(k, v []byte) (bool, error) {
		dv, err := s.decode("store.FilterRemove", v)
		if err != nil {
			return false, err
		}
		if pred(dv) {
			doomed = append(doomed, append([]byte(nil), k...))
		}
		return true, nil
	})
	if err != nil {
		return 0, errs.New(errs.KindIO, "store.FilterRemove", err)
	}
	for _, k := range doomed {
		if err := s.tree.Delete(k); err != nil {
			return 0, errs.New(errs.KindIO, "store.FilterRemove", err)
		}
	}
	return len(doomed), nil
}

// FilterUpdate rewrites every record for which pred returns true using fn,
// returning the count updated.
func (s *Store[K, V]) FilterUpdate(pred func(v V) bool, fn func(v V) V) (int, error) {
	type hit struct {
		key []byte
		val V
	}
	var hits []hit
	err := s.tree.ForEach(func(k, v []byte) (bool, error) {
		dv, err := s.decode("store.FilterUpdate", v)
		if err != nil {
			return false, err
		}
		if pred(dv) {
			hits = append(hits, hit{key: append([]byte(nil), k...), val: dv})
		}
		return true, nil
	})
	if err != nil {
		return 0, errs.New(errs.KindIO, "store.FilterUpdate", err)
	}
	for _, h := range hits {
		raw, err := s.codec.Encode(fn(h.val))
		if err != nil {
			return 0, errs.New(errs.KindIntegrity, "store.FilterUpdate", err)
		}
		if err := s.tree.Put(h.key, raw); err != nil {
			return 0, errs.New(errs.KindIO, "store.FilterUpdate", err)
		}
	}
	return len(hits), nil
}
