package reindeer_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/reindeer"
	"github.com/kittclouds/reindeer/pkg/codec"
	"github.com/kittclouds/reindeer/pkg/dbconfig"
	"github.com/kittclouds/reindeer/pkg/entity"
	"github.com/kittclouds/reindeer/pkg/errs"
	"github.com/kittclouds/reindeer/pkg/family"
	"github.com/kittclouds/reindeer/pkg/relation"
)

type recordEntity1 struct {
	Name string `json:"name"`
}

type recordEntity2 struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type recordEntity3 struct {
	Name string `json:"name"`
}

type recordChild struct {
	Ordinal int `json:"ordinal"`
}

func openTestDB(t *testing.T) *reindeer.DB {
	t.Helper()
	dir := t.TempDir()
	cfg := dbconfig.Default(filepath.Join(dir, "reindeer.db"))
	cfg.Metrics.Enabled = false
	db, err := reindeer.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestScenario1CreateAndRegister(t *testing.T) {
	db := openTestDB(t)

	e2Desc := family.Descriptor{
		TreeName: "entity_2",
		Version:  1,
		Edges: []family.Edge{
			{Name: "children", RelatedTo: "child_entity_1", Kind: relation.KindChild, OwnerDrop: relation.PolicyCascade, RelatedDrop: relation.PolicyCascade},
		},
	}
	e1Desc := family.Descriptor{
		TreeName: "entity_1",
		Version:  1,
		Edges: []family.Edge{
			{Name: "sibling", RelatedTo: "entity_2", Kind: relation.KindSibling, OwnerDrop: relation.PolicyCascade, RelatedDrop: relation.PolicyCascade},
		},
	}
	childDesc := family.Descriptor{TreeName: "child_entity_1", Version: 1}

	_, err := entity.Open[codec.Uint64, recordEntity1](db.Engine, db.Families, db.Registry, db.Relation, e1Desc, codec.JSONCodec[recordEntity1]{})
	require.NoError(t, err)
	_, err = entity.Open[codec.Bytes, recordEntity2](db.Engine, db.Families, db.Registry, db.Relation, e2Desc, codec.JSONCodec[recordEntity2]{})
	require.NoError(t, err)
	_, err = entity.Open[codec.Tuple2[codec.Bytes, codec.Uint64], recordChild](db.Engine, db.Families, db.Registry, db.Relation, childDesc, codec.JSONCodec[recordChild]{})
	require.NoError(t, err)

	for _, name := range []string{"entity_1", "entity_2", "child_entity_1"} {
		ok, err := db.Families.Exists(name)
		require.NoError(t, err)
		require.True(t, ok, "expected descriptor for %q", name)
	}

	desc, err := db.Families.Get("entity_1")
	require.NoError(t, err)
	require.Len(t, desc.Edges, 1)
	require.Equal(t, relation.KindSibling, desc.Edges[0].Kind)
}

func TestScenario2AutoIncrement(t *testing.T) {
	db := openTestDB(t)
	desc := family.Descriptor{TreeName: "entity_1", Version: 1}
	facade, err := entity.Open[codec.Uint64, recordEntity1](db.Engine, db.Families, db.Registry, db.Relation, desc, codec.JSONCodec[recordEntity1]{})
	require.NoError(t, err)
	auto := &entity.AutoIncrement[recordEntity1]{Facade: facade}

	k0, err := auto.SaveNext(recordEntity1{Name: "zero"})
	require.NoError(t, err)
	k1, err := auto.SaveNext(recordEntity1{Name: "one"})
	require.NoError(t, err)
	require.Equal(t, codec.Uint64(0), k0)
	require.Equal(t, codec.Uint64(1), k1)

	got0, err := facade.Get(k0)
	require.NoError(t, err)
	require.Equal(t, "zero", got0.Name)
	got1, err := facade.Get(k1)
	require.NoError(t, err)
	require.Equal(t, "one", got1.Name)

	_, err = facade.Get(codec.Uint64(8))
	require.True(t, errs.Is(err, errs.KindNotFound))
}

func childEdge(relatedTo string, policy relation.Policy) family.Edge {
	return family.Edge{Name: "children", RelatedTo: relatedTo, Kind: relation.KindChild, OwnerDrop: policy, RelatedDrop: relation.PolicyBreakLink}
}

func TestScenario3CascadeChildren(t *testing.T) {
	db := openTestDB(t)

	parentDesc := family.Descriptor{TreeName: "entity_2", Version: 1, Edges: []family.Edge{childEdge("child_entity_1", relation.PolicyCascade)}}
	childDesc := family.Descriptor{TreeName: "child_entity_1", Version: 1}

	parent, err := entity.Open[codec.Bytes, recordEntity2](db.Engine, db.Families, db.Registry, db.Relation, parentDesc, codec.JSONCodec[recordEntity2]{})
	require.NoError(t, err)
	child, err := entity.Open[codec.Tuple2[codec.Bytes, codec.Uint64], recordChild](db.Engine, db.Families, db.Registry, db.Relation, childDesc, codec.JSONCodec[recordChild]{})
	require.NoError(t, err)

	parentKey := codec.Bytes("id3")
	require.NoError(t, parent.Save(parentKey, recordEntity2{ID: "id3"}))
	childKeys := make([]codec.Tuple2[codec.Bytes, codec.Uint64], 3)
	for i := range childKeys {
		childKeys[i] = codec.Tuple2[codec.Bytes, codec.Uint64]{First: parentKey, Second: codec.Uint64(i)}
		require.NoError(t, child.Save(childKeys[i], recordChild{Ordinal: i}))
	}

	require.NoError(t, parent.Delete(parentKey))

	_, err = parent.Get(parentKey)
	require.True(t, errs.Is(err, errs.KindNotFound))
	for _, ck := range childKeys {
		_, err := child.Get(ck)
		require.True(t, errs.Is(err, errs.KindNotFound))
	}
}

func TestScenario4ErrorChildren(t *testing.T) {
	db := openTestDB(t)

	parentDesc := family.Descriptor{TreeName: "entity_3", Version: 1, Edges: []family.Edge{childEdge("child_entity_3", relation.PolicyError)}}
	childDesc := family.Descriptor{TreeName: "child_entity_3", Version: 1}

	parent, err := entity.Open[codec.Uint64, recordEntity3](db.Engine, db.Families, db.Registry, db.Relation, parentDesc, codec.JSONCodec[recordEntity3]{})
	require.NoError(t, err)
	child, err := entity.Open[codec.Tuple2[codec.Uint64, codec.Uint64], recordChild](db.Engine, db.Families, db.Registry, db.Relation, childDesc, codec.JSONCodec[recordChild]{})
	require.NoError(t, err)

	parentKey := codec.Uint64(2)
	require.NoError(t, parent.Save(parentKey, recordEntity3{Name: "parent"}))
	childKeys := make([]codec.Tuple2[codec.Uint64, codec.Uint64], 3)
	for i := range childKeys {
		childKeys[i] = codec.Tuple2[codec.Uint64, codec.Uint64]{First: parentKey, Second: codec.Uint64(i)}
		require.NoError(t, child.Save(childKeys[i], recordChild{Ordinal: i}))
	}

	err = parent.Delete(parentKey)
	require.True(t, errs.Is(err, errs.KindPolicyViolation))

	_, err = parent.Get(parentKey)
	require.NoError(t, err)
	for _, ck := range childKeys {
		_, err := child.Get(ck)
		require.NoError(t, err)
	}
}

func TestScenario5SiblingCascade(t *testing.T) {
	db := openTestDB(t)

	e1Desc := family.Descriptor{
		TreeName: "entity_1",
		Version:  1,
		Edges: []family.Edge{
			{Name: "sibling", RelatedTo: "entity_3", Kind: relation.KindSibling, OwnerDrop: relation.PolicyCascade, RelatedDrop: relation.PolicyBreakLink},
		},
	}
	e3Desc := family.Descriptor{TreeName: "entity_3", Version: 1}

	e1, err := entity.Open[codec.Uint64, recordEntity1](db.Engine, db.Families, db.Registry, db.Relation, e1Desc, codec.JSONCodec[recordEntity1]{})
	require.NoError(t, err)
	e3, err := entity.Open[codec.Uint64, recordEntity3](db.Engine, db.Families, db.Registry, db.Relation, e3Desc, codec.JSONCodec[recordEntity3]{})
	require.NoError(t, err)

	auto := &entity.AutoIncrement[recordEntity1]{Facade: e1}
	for i := 0; i < 3; i++ {
		_, err := auto.SaveNext(recordEntity1{Name: "filler"})
		require.NoError(t, err)
	}
	key3, err := auto.SaveNext(recordEntity1{Name: "id0"})
	require.NoError(t, err)
	require.Equal(t, codec.Uint64(3), key3)

	require.NoError(t, e3.Save(codec.Uint64(key3), recordEntity3{Name: "sibling-of-3"}))

	siblingKey, ok, err := e1.GetSibling(key3, "sibling")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, key3.Bytes(), siblingKey)

	require.NoError(t, e1.Delete(key3))

	_, err = e3.Get(key3)
	require.True(t, errs.Is(err, errs.KindNotFound))
}

func TestScenario6FreeRelationRecursiveCascade(t *testing.T) {
	db := openTestDB(t)

	e1Desc := family.Descriptor{
		TreeName: "entity_1",
		Version:  1,
		Edges: []family.Edge{
			{Name: "partner", RelatedTo: "entity_2", Kind: relation.KindFree, OwnerDrop: relation.PolicyCascade, RelatedDrop: relation.PolicyCascade},
		},
	}
	e2Desc := family.Descriptor{
		TreeName: "entity_2",
		Version:  1,
		Edges: []family.Edge{
			{Name: "partner", RelatedTo: "entity_1", Kind: relation.KindFree, OwnerDrop: relation.PolicyCascade, RelatedDrop: relation.PolicyCascade},
			childEdge("child_entity_1", relation.PolicyCascade),
		},
	}
	childDesc := family.Descriptor{TreeName: "child_entity_1", Version: 1}

	e1, err := entity.Open[codec.Uint64, recordEntity1](db.Engine, db.Families, db.Registry, db.Relation, e1Desc, codec.JSONCodec[recordEntity1]{})
	require.NoError(t, err)
	e2, err := entity.Open[codec.Bytes, recordEntity2](db.Engine, db.Families, db.Registry, db.Relation, e2Desc, codec.JSONCodec[recordEntity2]{})
	require.NoError(t, err)
	child, err := entity.Open[codec.Tuple2[codec.Bytes, codec.Uint64], recordChild](db.Engine, db.Families, db.Registry, db.Relation, childDesc, codec.JSONCodec[recordChild]{})
	require.NoError(t, err)

	auto := &entity.AutoIncrement[recordEntity1]{Facade: e1}
	e1Key, err := auto.SaveNext(recordEntity1{Name: "hub"})
	require.NoError(t, err)

	id1Key := codec.Bytes("id1")
	id3Key := codec.Bytes("id3")
	require.NoError(t, e2.Save(id1Key, recordEntity2{ID: "id1"}))
	require.NoError(t, e2.Save(id3Key, recordEntity2{ID: "id3"}))

	childKey := codec.Tuple2[codec.Bytes, codec.Uint64]{First: id3Key, Second: codec.Uint64(0)}
	require.NoError(t, child.Save(childKey, recordChild{Ordinal: 0}))

	require.NoError(t, e1.CreateRelation(e1Key, "partner", "entity_2", id1Key.Bytes()))
	require.NoError(t, e1.CreateRelation(e1Key, "partner", "entity_2", id3Key.Bytes()))

	require.NoError(t, e1.Delete(e1Key))

	_, err = e2.Get(id1Key)
	require.True(t, errs.Is(err, errs.KindNotFound))
	_, err = e2.Get(id3Key)
	require.True(t, errs.Is(err, errs.KindNotFound))
	_, err = child.Get(childKey)
	require.True(t, errs.Is(err, errs.KindNotFound))

	related, err := db.Relation.GetRelated("entity_2", id1Key.Bytes(), "partner")
	require.NoError(t, err)
	require.Empty(t, related)
}

func TestScenario7FreeRelationErrorSide(t *testing.T) {
	db := openTestDB(t)

	e1Desc := family.Descriptor{
		TreeName: "entity_1",
		Version:  1,
		Edges: []family.Edge{
			{Name: "partner", RelatedTo: "entity_2", Kind: relation.KindFree, OwnerDrop: relation.PolicyCascade, RelatedDrop: relation.PolicyError},
		},
	}
	e2Desc := family.Descriptor{
		TreeName: "entity_2",
		Version:  1,
		Edges: []family.Edge{
			{Name: "partner", RelatedTo: "entity_1", Kind: relation.KindFree, OwnerDrop: relation.PolicyError, RelatedDrop: relation.PolicyCascade},
		},
	}

	e1, err := entity.Open[codec.Uint64, recordEntity1](db.Engine, db.Families, db.Registry, db.Relation, e1Desc, codec.JSONCodec[recordEntity1]{})
	require.NoError(t, err)
	e2, err := entity.Open[codec.Bytes, recordEntity2](db.Engine, db.Families, db.Registry, db.Relation, e2Desc, codec.JSONCodec[recordEntity2]{})
	require.NoError(t, err)

	auto := &entity.AutoIncrement[recordEntity1]{Facade: e1}
	e1Key, err := auto.SaveNext(recordEntity1{Name: "hub"})
	require.NoError(t, err)

	id1Key := codec.Bytes("id1")
	require.NoError(t, e2.Save(id1Key, recordEntity2{ID: "id1"}))
	require.NoError(t, e1.CreateRelation(e1Key, "partner", "entity_2", id1Key.Bytes()))

	err = e2.Delete(id1Key)
	require.True(t, errs.Is(err, errs.KindPolicyViolation))

	_, err = e1.Get(e1Key)
	require.NoError(t, err)
	_, err = e2.Get(id1Key)
	require.NoError(t, err)

	relatedFromE1, err := db.Relation.GetRelated("entity_1", e1Key.Bytes(), "partner")
	require.NoError(t, err)
	require.Len(t, relatedFromE1, 1)
	relatedFromE2, err := db.Relation.GetRelated("entity_2", id1Key.Bytes(), "partner")
	require.NoError(t, err)
	require.Len(t, relatedFromE2, 1)
}
