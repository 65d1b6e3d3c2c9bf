package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/reindeer/internal/kv"
	"github.com/kittclouds/reindeer/pkg/codec"
	"github.com/kittclouds/reindeer/pkg/errs"
	"github.com/kittclouds/reindeer/pkg/store"
)

type widget struct {
	Name string `json:"name"`
}

func openStore(t *testing.T) *store.Store[codec.Uint64, widget] {
	t.Helper()
	engine, err := kv.OpenBolt(filepath.Join(t.TempDir(), "store.db"), kv.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	s, err := store.Open[codec.Uint64, widget](engine, "widgets", codec.JSONCodec[widget]{})
	require.NoError(t, err)
	return s
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Save(codec.Uint64(1), widget{Name: "a"}))
	got, err := s.Get(codec.Uint64(1))
	require.NoError(t, err)
	require.Equal(t, "a", got.Name)
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(codec.Uint64(42))
	require.True(t, errs.Is(err, errs.KindNotFound))
}

func TestSaveOverwritesSilently(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Save(codec.Uint64(1), widget{Name: "a"}))
	require.NoError(t, s.Save(codec.Uint64(1), widget{Name: "b"}))
	got, err := s.Get(codec.Uint64(1))
	require.NoError(t, err)
	require.Equal(t, "b", got.Name)

	n, err := s.GetNumber()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestExistsAndRemove(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Save(codec.Uint64(1), widget{Name: "a"}))

	ok, err := s.Exists(codec.Uint64(1))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Remove(codec.Uint64(1)))

	ok, err = s.Exists(codec.Uint64(1))
	require.NoError(t, err)
	require.False(t, ok)

	// Removing an absent key is a no-op, not an error.
	require.NoError(t, s.Remove(codec.Uint64(1)))
}

func TestZeroLengthKeyRejected(t *testing.T) {
	engine, err := kv.OpenBolt(filepath.Join(t.TempDir(), "store.db"), kv.Options{})
	require.NoError(t, err)
	defer engine.Close()
	s, err := store.Open[codec.Bytes, widget](engine, "widgets", codec.JSONCodec[widget]{})
	require.NoError(t, err)

	err = s.Save(codec.Bytes(nil), widget{Name: "a"})
	require.True(t, errs.Is(err, errs.KindIntegrity))

	_, err = s.Get(codec.Bytes(nil))
	require.True(t, errs.Is(err, errs.KindIntegrity))
}

func TestUpdateSkipsMissingKeyWhenCallerDeclines(t *testing.T) {
	s := openStore(t)
	called := false
	err := s.Update(codec.Uint64(9), func(cur widget, found bool) (widget, bool, error) {
		called = true
		require.False(t, found)
		return cur, false, nil
	})
	require.NoError(t, err)
	require.True(t, called)

	_, err = s.Get(codec.Uint64(9))
	require.True(t, errs.Is(err, errs.KindNotFound))
}

func TestUpdateAppliesMutation(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Save(codec.Uint64(1), widget{Name: "a"}))
	err := s.Update(codec.Uint64(1), func(cur widget, found bool) (widget, bool, error) {
		require.True(t, found)
		cur.Name = cur.Name + "!"
		return cur, true, nil
	})
	require.NoError(t, err)
	got, err := s.Get(codec.Uint64(1))
	require.NoError(t, err)
	require.Equal(t, "a!", got.Name)
}

func seedOrdered(t *testing.T, s *store.Store[codec.Uint64, widget], n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Save(codec.Uint64(i), widget{Name: string(rune('a' + i))}))
	}
}

func TestGetAllAndPrefixAndRange(t *testing.T) {
	s := openStore(t)
	seedOrdered(t, s, 5)

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "a", all[0].Name)
	require.Equal(t, "e", all[4].Name)

	inRange, err := s.GetInRange(codec.Uint64(1).Bytes(), codec.Uint64(4).Bytes())
	require.NoError(t, err)
	require.Len(t, inRange, 3)
	require.Equal(t, "b", inRange[0].Name)
	require.Equal(t, "d", inRange[2].Name)

	withPrefix, err := s.GetWithPrefix(nil)
	require.NoError(t, err)
	require.Len(t, withPrefix, 5)
}

func TestGetFromStartAndEndWindow(t *testing.T) {
	s := openStore(t)
	seedOrdered(t, s, 5)

	first2, err := s.GetFromStart(0, 2, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names(first2))

	skip2take2, err := s.GetFromStart(2, 2, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, names(skip2take2))

	last2, err := s.GetFromEnd(0, 2, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"d", "e"}, names(last2), "GetFromEnd returns ascending key order")

	skip1FromEnd, err := s.GetFromEnd(1, 2, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, names(skip1FromEnd))
}

func names(ws []widget) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Name
	}
	return out
}

func TestGetWithFilterAndFilterRemove(t *testing.T) {
	s := openStore(t)
	seedOrdered(t, s, 5)

	isVowel := func(w widget) bool { return w.Name == "a" || w.Name == "e" }
	filtered, err := s.GetWithFilter(isVowel)
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	n, err := s.FilterRemove(isVowel)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	remaining, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, remaining, 3)
}

func TestFilterUpdate(t *testing.T) {
	s := openStore(t)
	seedOrdered(t, s, 3)

	n, err := s.FilterUpdate(
		func(w widget) bool { return w.Name == "b" },
		func(w widget) widget { w.Name = "B"; return w },
	)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.Get(codec.Uint64(1))
	require.NoError(t, err)
	require.Equal(t, "B", got.Name)
}

func TestGetEachSkipsMissingKeys(t *testing.T) {
	s := openStore(t)
	seedOrdered(t, s, 3)

	got, err := s.GetEach([]codec.Uint64{codec.Uint64(0), codec.Uint64(99), codec.Uint64(2)})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, names(got))
}

func TestRemovePrefixed(t *testing.T) {
	engine, err := kv.OpenBolt(filepath.Join(t.TempDir(), "store.db"), kv.Options{})
	require.NoError(t, err)
	defer engine.Close()
	s, err := store.Open[codec.Tuple2[codec.Bytes, codec.Uint64], widget](engine, "children", codec.JSONCodec[widget]{})
	require.NoError(t, err)

	parentA := codec.Bytes("a")
	parentB := codec.Bytes("b")
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(codec.Tuple2[codec.Bytes, codec.Uint64]{First: parentA, Second: codec.Uint64(i)}, widget{Name: "a-child"}))
	}
	require.NoError(t, s.Save(codec.Tuple2[codec.Bytes, codec.Uint64]{First: parentB, Second: codec.Uint64(0)}, widget{Name: "b-child"}))

	n, err := s.RemovePrefixed(codec.ComponentPrefix[codec.Bytes](parentA.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	remaining, err := s.GetNumber()
	require.NoError(t, err)
	require.Equal(t, 1, remaining)
}
