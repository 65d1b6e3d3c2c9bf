// Package kv defines the ordered key-value engine contract that the rest of
// reindeer treats as an external collaborator (spec §1), plus the bbolt-backed
// implementation this module ships by default.
//
// An Engine exposes named trees ("buckets" in bbolt's vocabulary). Every
// operation on a Tree that touches the engine can block on I/O; single-key
// Get/Put/Delete are atomic, and Update gives the read-modify-write
// atomicity the Entity Store's Update/CAS-style operation needs (spec §5).
package kv

// Tree is one named, ordered byte-key/byte-value collection.
type Tree interface {
	// Get returns the value for key, or (nil, false) if absent.
	Get(key []byte) ([]byte, bool, error)
	// Put inserts or overwrites key with value.
	Put(key, value []byte) error
	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key []byte) error
	// Exists reports membership without decoding the value.
	Exists(key []byte) (bool, error)
	// Len returns the number of entries in the tree.
	Len() (int, error)

	// ForEach walks every entry in key order, stopping early if fn returns false.
	ForEach(fn func(key, value []byte) (more bool, err error)) error
	// ForEachPrefix walks every entry whose key starts with prefix, in key
	// order. An empty prefix is equivalent to ForEach.
	ForEachPrefix(prefix []byte, fn func(key, value []byte) (more bool, err error)) error
	// ForEachRange walks entries in the half-open range [lo, hi) in key order.
	ForEachRange(lo, hi []byte, fn func(key, value []byte) (more bool, err error)) error
	// ForEachPrefixReverse walks every entry whose key starts with prefix,
	// in descending key order. An empty prefix is equivalent to a full
	// reverse scan. The basis of Store.GetFromEnd's windowed scan.
	ForEachPrefixReverse(prefix []byte, fn func(key, value []byte) (more bool, err error)) error
	// Last returns the last key/value pair in key order, or (nil, nil, false).
	Last() ([]byte, []byte, bool, error)

	// Update performs an atomic read-modify-write on key: fn receives the
	// current value (nil, false if absent) and returns the new value to
	// store. Returning write=false leaves the key untouched; returning
	// (nil, true, nil) deletes the key. This is the single-key
	// compare-and-set primitive used by Store.Update.
	Update(key []byte, fn func(cur []byte, ok bool) (next []byte, write bool, err error)) error
}

// Engine opens named trees against one underlying database handle. The
// handle is cheaply shareable across goroutines (spec §5); Engine
// implementations must be safe for concurrent use.
type Engine interface {
	// Tree opens (creating if necessary) the named tree.
	Tree(name string) (Tree, error)
	// Close releases the underlying database handle.
	Close() error
}
