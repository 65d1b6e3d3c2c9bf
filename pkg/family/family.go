// Package family implements the Family Descriptor (spec §4.4): the
// persisted catalog of declared relations and policies between entity
// types, cached in memory for the lifetime of an open database.
package family

import (
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kittclouds/reindeer/internal/kv"
	"github.com/kittclouds/reindeer/pkg/dbmetrics"
	"github.com/kittclouds/reindeer/pkg/errs"
)

const bucketName = "__families"

// Edge is one declared relation from an owning type to a related type.
type Edge struct {
	Name        string `json:"name"`
	RelatedTo   string `json:"related_to"`
	Kind        Kind   `json:"kind"`
	OwnerDrop   Policy `json:"owner_drop"`
	RelatedDrop Policy `json:"related_drop"`
}

// Descriptor is the persisted schema row for one entity type (tree).
type Descriptor struct {
	TreeName string `json:"tree_name"`
	Version  uint32 `json:"version"`
	Edges    []Edge `json:"edges"`
}

func (d Descriptor) edgeNamed(name string) (Edge, bool) {
	for _, e := range d.Edges {
		if e.Name == name {
			return e, true
		}
	}
	return Edge{}, false
}

// Catalog persists Descriptors in the engine's "__families" tree and
// caches recently used ones, mirroring the teacher's use of an LRU cache
// for hot lookups (pkg/dafsa caching pattern) instead of hitting the
// engine on every relation traversal.
type Catalog struct {
	tree    kv.Tree
	mu      sync.Mutex
	hot     *lru.Cache[string, Descriptor]
	metrics *dbmetrics.Metrics
}

// SetMetrics attaches m so every schema-drift rejection is counted. Safe to
// call with nil to disable instrumentation.
func (c *Catalog) SetMetrics(m *dbmetrics.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Open loads or creates the family catalog against tree "__families".
func Open(engine kv.Engine, cacheSize int) (*Catalog, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	t, err := engine.Tree(bucketName)
	if err != nil {
		return nil, errs.New(errs.KindIO, "family.Open", err)
	}
	cache, err := lru.New[string, Descriptor](cacheSize)
	if err != nil {
		return nil, errs.New(errs.KindIO, "family.Open", err)
	}
	return &Catalog{tree: t, hot: cache}, nil
}

// Register persists a new Descriptor. It fails with KindSchema if a
// descriptor already exists for TreeName with a higher version, or with the
// same version but different edges, or if a Sibling/Free edge disagrees with
// the related tree's registered reciprocal edge.
func (c *Catalog) Register(d Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok, err := c.load(d.TreeName)
	if err != nil {
		return err
	}
	if ok {
		if d.Version < existing.Version {
			if c.metrics != nil {
				c.metrics.ObserveSchemaError(d.TreeName)
			}
			return errs.New(errs.KindSchema, "family.Register",
				fmt.Errorf("tree %q: version %d would regress existing version %d", d.TreeName, d.Version, existing.Version))
		}
		if d.Version == existing.Version && !sameEdges(d.Edges, existing.Edges) {
			if c.metrics != nil {
				c.metrics.ObserveSchemaError(d.TreeName)
			}
			return errs.New(errs.KindSchema, "family.Register",
				fmt.Errorf("tree %q: schema drift at version %d", d.TreeName, d.Version))
		}
	}

	// Sibling and Free edges are symmetric: whichever side registers
	// second must agree with whatever the other side already declared.
	for _, e := range d.Edges {
		if e.Kind != KindSibling && e.Kind != KindFree {
			continue
		}
		if err := c.checkReciprocalLocked(d.TreeName, e); err != nil {
			if c.metrics != nil {
				c.metrics.ObserveSchemaError(d.TreeName)
			}
			return err
		}
	}

	b, err := json.Marshal(d)
	if err != nil {
		return errs.New(errs.KindIntegrity, "family.Register", err)
	}
	if err := c.tree.Put([]byte(d.TreeName), b); err != nil {
		return errs.New(errs.KindIO, "family.Register", err)
	}
	c.hot.Add(d.TreeName, d)
	return nil
}

// Get returns the Descriptor registered for treeName.
func (c *Catalog) Get(treeName string) (Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok, err := c.load(treeName)
	if err != nil {
		return Descriptor{}, err
	}
	if !ok {
		return Descriptor{}, errs.New(errs.KindNotFound, "family.Get", fmt.Errorf("no descriptor for tree %q", treeName))
	}
	return d, nil
}

// Exists reports whether treeName has a registered Descriptor.
func (c *Catalog) Exists(treeName string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok, err := c.load(treeName)
	return ok, err
}

// Edge returns the named edge declared on treeName's Descriptor. For a
// Sibling or Free edge this also checks the related store's own
// Descriptor, if registered, for a reciprocal edge back at treeName: per
// spec.md's Data Model, "for every edge declared on A→B, the reverse edge
// is implied on B→A with a matching policy obtained by consulting B's
// descriptor; mismatched declarations are a schema error detected at
// first use." A related store that has not (yet) declared the reverse
// edge is not an error — the reverse is implied, not mandatory to restate.
func (c *Catalog) Edge(treeName, edgeName string) (Edge, error) {
	d, err := c.Get(treeName)
	if err != nil {
		return Edge{}, err
	}
	e, ok := d.edgeNamed(edgeName)
	if !ok {
		return Edge{}, errs.New(errs.KindSchema, "family.Edge",
			fmt.Errorf("tree %q declares no edge %q", treeName, edgeName))
	}
	if e.Kind == KindSibling || e.Kind == KindFree {
		c.mu.Lock()
		err := c.checkReciprocalLocked(treeName, e)
		c.mu.Unlock()
		if err != nil {
			return Edge{}, err
		}
	}
	return e, nil
}

// checkReciprocalLocked requires c.mu to be held. Child edges are
// parent-to-child only and have no B→A declaration to reconcile against,
// so callers only invoke this for Sibling and Free edges.
func (c *Catalog) checkReciprocalLocked(treeName string, e Edge) error {
	related, ok, err := c.load(e.RelatedTo)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for _, peer := range related.Edges {
		if peer.RelatedTo != treeName || peer.Kind != e.Kind {
			continue
		}
		if peer.OwnerDrop != e.RelatedDrop || peer.RelatedDrop != e.OwnerDrop {
			return errs.New(errs.KindSchema, "family.checkReciprocal",
				fmt.Errorf("tree %q edge %q and tree %q's reciprocal edge %q declare mismatched drop policies",
					treeName, e.Name, e.RelatedTo, peer.Name))
		}
		return nil
	}
	return nil
}

// Bump re-registers treeName's Descriptor with version+1 and the supplied
// edges, e.g. after adding a relation to an already-registered type.
func (c *Catalog) Bump(treeName string, edges []Edge) error {
	d, err := c.Get(treeName)
	if err != nil {
		return err
	}
	d.Version++
	d.Edges = edges
	return c.Register(d)
}

// load looks up treeName, consulting the hot cache before the tree.
func (c *Catalog) load(treeName string) (Descriptor, bool, error) {
	if d, ok := c.hot.Get(treeName); ok {
		return d, true, nil
	}
	v, ok, err := c.tree.Get([]byte(treeName))
	if err != nil {
		return Descriptor{}, false, errs.New(errs.KindIO, "family.load", err)
	}
	if !ok {
		return Descriptor{}, false, nil
	}
	var d Descriptor
	if err := json.Unmarshal(v, &d); err != nil {
		return Descriptor{}, false, errs.New(errs.KindIntegrity, "family.load", err)
	}
	c.hot.Add(treeName, d)
	return d, true, nil
}

func sameEdges(a, b []Edge) bool {
	if len(a) != len(b) {
		return false
	}
	idx := make(map[string]Edge, len(a))
	for _, e := range a {
		idx[e.Name] = e
	}
	for _, e := range b {
		other, ok := idx[e.Name]
		if !ok || other != e {
			return false
		}
	}
	return true
}
