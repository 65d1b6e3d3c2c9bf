package kv

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// BoltEngine is the default Engine, backed by a single bbolt file. Each
// reindeer "tree" maps to one top-level bbolt bucket.
type BoltEngine struct {
	db  *bolt.DB
	log *zap.Logger
}

// Options configures OpenBolt.
type Options struct {
	// ReadOnly opens the database without write access.
	ReadOnly bool
	// FileMode is the permission bits used if the database file is created.
	FileMode uint32
	// Timeout bounds how long Open waits to acquire the file lock. Zero
	// means wait forever, matching bbolt's default.
	Timeout time.Duration
	// Log receives structured diagnostics. A nil Log is replaced with a
	// no-op logger.
	Log *zap.Logger
}

// OpenBolt opens (creating if necessary) a bbolt-backed Engine at path.
func OpenBolt(path string, opts Options) (*BoltEngine, error) {
	if opts.FileMode == 0 {
		opts.FileMode = 0o600
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	db, err := bolt.Open(path, opts.FileMode, &bolt.Options{
		ReadOnly: opts.ReadOnly,
		Timeout:  opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("kv: open %q: %w", path, err)
	}
	opts.Log.Debug("opened bolt engine", zap.String("path", path), zap.Bool("read_only", opts.ReadOnly))
	return &BoltEngine{db: db, log: opts.Log}, nil
}

// Tree implements Engine.
func (e *BoltEngine) Tree(name string) (Tree, error) {
	if len(name) == 0 {
		return nil, fmt.Errorf("kv: tree name must not be empty")
	}
	if !e.db.IsReadOnly() {
		err := e.db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(name))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("kv: open tree %q: %w", name, err)
		}
	}
	return &boltTree{db: e.db, name: []byte(name), log: e.log}, nil
}

// Close implements Engine.
func (e *BoltEngine) Close() error {
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("kv: close: %w", err)
	}
	return nil
}

type boltTree struct {
	db   *bolt.DB
	name []byte
	log  *zap.Logger
}

func (t *boltTree) bucket(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket(t.name)
}

func (t *boltTree) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		v := t.bucket(tx).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("kv: get: %w", err)
	}
	return out, out != nil, nil
}

func (t *boltTree) Put(key, value []byte) error {
	err := t.db.Update(func(tx *bolt.Tx) error {
		return t.bucket(tx).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("kv: put: %w", err)
	}
	return nil
}

func (t *boltTree) Delete(key []byte) error {
	err := t.db.Update(func(tx *bolt.Tx) error {
		return t.bucket(tx).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("kv: delete: %w", err)
	}
	return nil
}

func (t *boltTree) Exists(key []byte) (bool, error) {
	var ok bool
	err := t.db.View(func(tx *bolt.Tx) error {
		ok = t.bucket(tx).Get(key) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("kv: exists: %w", err)
	}
	return ok, nil
}

func (t *boltTree) Len() (int, error) {
	var n int
	err := t.db.View(func(tx *bolt.Tx) error {
		n = t.bucket(tx).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("kv: len: %w", err)
	}
	return n, nil
}

func (t *boltTree) ForEach(fn func(key, value []byte) (bool, error)) error {
	return t.db.View(func(tx *bolt.Tx) error {
		c := t.bucket(tx).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			more, err := fn(copyBytes(k), copyBytes(v))
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

func (t *boltTree) ForEachPrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	return t.db.View(func(tx *bolt.Tx) error {
		c := t.bucket(tx).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			more, err := fn(copyBytes(k), copyBytes(v))
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

func (t *boltTree) ForEachRange(lo, hi []byte, fn func(key, value []byte) (bool, error)) error {
	return t.db.View(func(tx *bolt.Tx) error {
		c := t.bucket(tx).Cursor()
		for k, v := c.Seek(lo); k != nil && bytes.Compare(k, hi) < 0; k, v = c.Next() {
			more, err := fn(copyBytes(k), copyBytes(v))
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

func (t *boltTree) ForEachPrefixReverse(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	// Filter forward, then walk the match set backward: a finite pass over
	// the prefix-scoped range rather than the whole bucket, and a lot
	// simpler to get right than seeking a cursor to the prefix's end.
	var keys, vals [][]byte
	err := t.ForEachPrefix(prefix, func(k, v []byte) (bool, error) {
		keys = append(keys, k)
		vals = append(vals, v)
		return true, nil
	})
	if err != nil {
		return err
	}
	for i := len(keys) - 1; i >= 0; i-- {
		more, err := fn(keys[i], vals[i])
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (t *boltTree) Last() ([]byte, []byte, bool, error) {
	var k, v []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		c := t.bucket(tx).Cursor()
		ck, cv := c.Last()
		if ck != nil {
			k, v = copyBytes(ck), copyBytes(cv)
		}
		return nil
	})
	if err != nil {
		return nil, nil, false, fmt.Errorf("kv: last: %w", err)
	}
	return k, v, k != nil, nil
}

func (t *boltTree) Update(key []byte, fn func(cur []byte, ok bool) ([]byte, bool, error)) error {
	err := t.db.Update(func(tx *bolt.Tx) error {
		b := t.bucket(tx)
		cur := b.Get(key)
		var curCopy []byte
		if cur != nil {
			curCopy = append([]byte(nil), cur...)
		}
		next, write, err := fn(curCopy, cur != nil)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		if next == nil {
			return b.Delete(key)
		}
		return b.Put(key, next)
	})
	if err != nil {
		return fmt.Errorf("kv: update: %w", err)
	}
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
