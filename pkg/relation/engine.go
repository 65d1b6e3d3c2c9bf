package relation

import (
	"fmt"

	"github.com/kittclouds/reindeer/internal/kv"
	"github.com/kittclouds/reindeer/pkg/dbmetrics"
	"github.com/kittclouds/reindeer/pkg/errs"
	"github.com/kittclouds/reindeer/pkg/family"
	"github.com/kittclouds/reindeer/pkg/pool"
)

const relationsTreeName = "__relations"

// VTable is the type-erased view of one entity store that the Relation
// Engine needs to traverse and delete records across types it has no
// static knowledge of (Design Note §9: "any mechanism... provided it
// yields the contracts of §4.5"). entity.Facade implements this for its
// underlying store.
type VTable interface {
	// TreeName returns the name this store is registered under.
	TreeName() string
	// ExistsBytes reports whether key has a record.
	ExistsBytes(key []byte) (bool, error)
	// RemoveBytes deletes the record at key.
	RemoveBytes(key []byte) error
	// KeysWithPrefix returns every key in the store starting with prefix,
	// the basis of a child-relation traversal.
	KeysWithPrefix(prefix []byte) ([][]byte, error)
	// ComponentBytes re-encodes one of this store's own terminal keys as
	// the form a child store's tuple key would embed it as — i.e.
	// length-prefixed if this store's key is variable-length, unchanged
	// if fixed-width. Needed to turn a parent key into a correct
	// child-prefix-scan byte string without decoding it back into K.
	ComponentBytes(key []byte) []byte
}

// Registry maps tree name to the VTable that can delete its records.
type Registry struct {
	tables map[string]VTable
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]VTable)}
}

// Register adds vt under its own TreeName.
func (r *Registry) Register(vt VTable) {
	r.tables[vt.TreeName()] = vt
}

func (r *Registry) lookup(treeName string) (VTable, error) {
	vt, ok := r.tables[treeName]
	if !ok {
		return nil, errs.New(errs.KindSchema, "relation.Registry", fmt.Errorf("no store registered for tree %q", treeName))
	}
	return vt, nil
}

// Engine runs the three-phase deletion algorithm (Plan, Apply, CleanUp)
// and owns the explicit free-relation edge records.
type Engine struct {
	catalog  *family.Catalog
	registry *Registry
	edges    kv.Tree
	metrics  *dbmetrics.Metrics
}

// SetMetrics attaches m so every Delete records its plan size. Safe to call
// with nil to disable instrumentation.
func (e *Engine) SetMetrics(m *dbmetrics.Metrics) {
	e.metrics = m
}

// Open opens the shared "__relations" tree used for free-relation edges.
func Open(engine kv.Engine, catalog *family.Catalog, registry *Registry) (*Engine, error) {
	t, err := engine.Tree(relationsTreeName)
	if err != nil {
		return nil, errs.New(errs.KindIO, "relation.Open", err)
	}
	return &Engine{catalog: catalog, registry: registry, edges: t}, nil
}

// --- free relations -------------------------------------------------------

// packParts concatenates each part as a 4-byte big-endian length prefix
// followed by its bytes, so the tail of a longer key can always be parsed
// back out unambiguously, and any leading subset of parts is a valid
// prefix-scan key.
func packParts(parts ...[]byte) []byte {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	for _, part := range parts {
		var lenPrefix [4]byte
		n := uint32(len(part))
		lenPrefix[0] = byte(n >> 24)
		lenPrefix[1] = byte(n >> 16)
		lenPrefix[2] = byte(n >> 8)
		lenPrefix[3] = byte(n)
		buf.Write(lenPrefix[:])
		buf.Write(part)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func edgeKey(ownerTree string, ownerKey []byte, edgeName, relatedTree string, relatedKey []byte) []byte {
	return packParts([]byte(ownerTree), ownerKey, []byte(edgeName), []byte(relatedTree), relatedKey)
}

func edgePrefix(ownerTree string, ownerKey []byte, edgeName string) []byte {
	return packParts([]byte(ownerTree), ownerKey, []byte(edgeName))
}

// CreateRelation records a free relation between (ownerTree, ownerKey) and
// (relatedTree, relatedKey) under edgeName, writing both the forward and
// reverse edge entries so either side can be traversed.
func (e *Engine) CreateRelation(ownerTree string, ownerKey []byte, edgeName, relatedTree string, relatedKey []byte) error {
	fwd := edgeKey(ownerTree, ownerKey, edgeName, relatedTree, relatedKey)
	rev := edgeKey(relatedTree, relatedKey, edgeName, ownerTree, ownerKey)
	if err := e.edges.Put(fwd, []byte{1}); err != nil {
		return errs.New(errs.KindIO, "relation.CreateRelation", err)
	}
	if err := e.edges.Put(rev, []byte{1}); err != nil {
		return errs.New(errs.KindIO, "relation.CreateRelation", err)
	}
	return nil
}

// RemoveRelation deletes one specific free-relation edge, in both directions.
func (e *Engine) RemoveRelation(ownerTree string, ownerKey []byte, edgeName, relatedTree string, relatedKey []byte) error {
	fwd := edgeKey(ownerTree, ownerKey, edgeName, relatedTree, relatedKey)
	rev := edgeKey(relatedTree, relatedKey, edgeName, ownerTree, ownerKey)
	if err := e.edges.Delete(fwd); err != nil {
		return errs.New(errs.KindIO, "relation.RemoveRelation", err)
	}
	if err := e.edges.Delete(rev); err != nil {
		return errs.New(errs.KindIO, "relation.RemoveRelation", err)
	}
	return nil
}

type relatedRef struct {
	tree string
	key  []byte
}

// getRelated returns every (tree, key) on the far side of ownerTree/ownerKey's
// edgeName free relation.
func (e *Engine) getRelated(ownerTree string, ownerKey []byte, edgeName string) ([]relatedRef, error) {
	prefix := edgePrefix(ownerTree, ownerKey, edgeName)
	var out []relatedRef
	err := e.edges.ForEachPrefix(prefix, func(k, _ []byte) (bool, error) {
		ref, ok := decodeEdgeTail(k, len(prefix))
		if ok {
			out = append(out, ref)
		}
		return true, nil
	})
	if err != nil {
		return nil, errs.New(errs.KindIO, "relation.getRelated", err)
	}
	return out, nil
}

// decodeEdgeTail parses the (relatedTree, relatedKey) suffix that follows
// the already-known prefix of an edge key.
func decodeEdgeTail(full []byte, prefixLen int) (relatedRef, bool) {
	rest := full[prefixLen:]
	tree, rest, ok := readLenPrefixed(rest)
	if !ok {
		return relatedRef{}, false
	}
	key, _, ok := readLenPrefixed(rest)
	if !ok {
		return relatedRef{}, false
	}
	return relatedRef{tree: string(tree), key: key}, true
}

func readLenPrefixed(b []byte) (part, rest []byte, ok bool) {
	if len(b) < 4 {
		return nil, nil, false
	}
	n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, false
	}
	return b[:n], b[n:], true
}

// GetRelated returns every related key for ownerTree/ownerKey/edgeName,
// regardless of relation kind: sibling and child relations are derived
// from the family descriptor, free relations from the edge records.
func (e *Engine) GetRelated(ownerTree string, ownerKey []byte, edgeName string) ([][]byte, error) {
	edge, err := e.catalog.Edge(ownerTree, edgeName)
	if err != nil {
		return nil, err
	}
	switch edge.Kind {
	case KindSibling:
		vt, err := e.registry.lookup(edge.RelatedTo)
		if err != nil {
			return nil, err
		}
		ok, err := vt.ExistsBytes(ownerKey)
		if err != nil {
			return nil, errs.New(errs.KindIO, "relation.GetRelated", err)
		}
		if !ok {
			return nil, nil
		}
		return [][]byte{ownerKey}, nil
	case KindChild:
		ownerVT, err := e.registry.lookup(ownerTree)
		if err != nil {
			return nil, err
		}
		vt, err := e.registry.lookup(edge.RelatedTo)
		if err != nil {
			return nil, err
		}
		return vt.KeysWithPrefix(ownerVT.ComponentBytes(ownerKey))
	case KindFree:
		refs, err := e.getRelated(ownerTree, ownerKey, edgeName)
		if err != nil {
			return nil, err
		}
		keys := make([][]byte, len(refs))
		for i, r := range refs {
			keys[i] = r.key
		}
		return keys, nil
	default:
		return nil, errs.New(errs.KindSchema, "relation.GetRelated", fmt.Errorf("unknown relation kind %v", edge.Kind))
	}
}

// GetSingleRelated returns the single related key for a sibling edge, or
// (nil, false) if the sibling record does not exist.
func (e *Engine) GetSingleRelated(ownerTree string, ownerKey []byte, edgeName string) ([]byte, bool, error) {
	keys, err := e.GetRelated(ownerTree, ownerKey, edgeName)
	if err != nil {
		return nil, false, err
	}
	if len(keys) == 0 {
		return nil, false, nil
	}
	return keys[0], true, nil
}

// HasRelated reports whether ownerTree/ownerKey has any record under edgeName.
func (e *Engine) HasRelated(ownerTree string, ownerKey []byte, edgeName string) (bool, error) {
	keys, err := e.GetRelated(ownerTree, ownerKey, edgeName)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// RemoveRelated deletes every record currently related to ownerTree/ownerKey
// under edgeName, not just the edge pointing at them — the Rust original's
// remove_related, strictly more destructive than RemoveRelation (which only
// unlinks one pair without touching either record). For a free edge this
// also removes the now-dangling edge entries; sibling and child edges have
// no separate edge record to unlink.
func (e *Engine) RemoveRelated(ownerTree string, ownerKey []byte, edgeName string) error {
	edge, err := e.catalog.Edge(ownerTree, edgeName)
	if err != nil {
		return err
	}
	keys, err := e.GetRelated(ownerTree, ownerKey, edgeName)
	if err != nil {
		return err
	}
	vt, err := e.registry.lookup(edge.RelatedTo)
	if err != nil {
		return err
	}
	for _, relatedKey := range keys {
		if err := vt.RemoveBytes(relatedKey); err != nil {
			return errs.New(errs.KindIO, "relation.RemoveRelated", err)
		}
		if edge.Kind == KindFree {
			if err := e.RemoveRelation(ownerTree, ownerKey, edgeName, edge.RelatedTo, relatedKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- three-phase deletion ---------------------------------------------------

type deleteOp struct {
	tree string
	key  []byte
}

type unlinkOp struct {
	ownerTree   string
	ownerKey    []byte
	edgeName    string
	relatedTree string
	relatedKey  []byte
}

// deletePlan is the output of Plan: an ordered list of records to remove
// and a list of free-relation edges to unlink, computed entirely before
// any write happens.
type deletePlan struct {
	removals []deleteOp
	unlinks  []unlinkOp
}

// Delete removes the record at (treeName, key), cascading, breaking links,
// or erroring per each declared edge's policy. Plan runs first and in
// full: if any Error-policy edge would be violated, Delete returns before
// touching the database.
func (e *Engine) Delete(treeName string, key []byte) error {
	visited := make(map[string]bool)
	p := &deletePlan{}
	if err := e.plan(treeName, key, visited, p); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.ObserveDeletePlan(len(p.removals))
	}
	if err := e.apply(p); err != nil {
		return err
	}
	return e.cleanUp(p)
}

func visitedKey(tree string, key []byte) string {
	return tree + "\x00" + string(key)
}

// plan performs a DFS from (tree, key), appending every record that must
// be removed (post-order, so a node's dependents precede it) and every
// free-relation edge that must be unlinked. It performs no writes.
func (e *Engine) plan(tree string, key []byte, visited map[string]bool, p *deletePlan) error {
	vk := visitedKey(tree, key)
	if visited[vk] {
		return nil
	}
	visited[vk] = true

	desc, err := e.catalog.Get(tree)
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		return err
	}
	for _, edge := range desc.Edges {
		if err := e.planEdge(tree, key, edge, visited, p); err != nil {
			return err
		}
	}

	p.removals = append(p.removals, deleteOp{tree: tree, key: key})
	return nil
}

func (e *Engine) planEdge(tree string, key []byte, edge family.Edge, visited map[string]bool, p *deletePlan) error {
	switch edge.Kind {
	case KindSibling:
		vt, err := e.registry.lookup(edge.RelatedTo)
		if err != nil {
			return err
		}
		ok, err := vt.ExistsBytes(key)
		if err != nil {
			return errs.New(errs.KindIO, "relation.plan", err)
		}
		if !ok {
			return nil
		}
		return e.applyPolicy(edge, tree, key, edge.RelatedTo, key, edge.Name, visited, p)

	case KindChild:
		ownerVT, err := e.registry.lookup(tree)
		if err != nil {
			return err
		}
		vt, err := e.registry.lookup(edge.RelatedTo)
		if err != nil {
			return err
		}
		children, err := vt.KeysWithPrefix(ownerVT.ComponentBytes(key))
		if err != nil {
			return errs.New(errs.KindIO, "relation.plan", err)
		}
		if len(children) == 0 {
			return nil
		}
		if edge.OwnerDrop == PolicyError {
			return errs.New(errs.KindPolicyViolation, "relation.plan",
				fmt.Errorf("tree %q key has %d children under edge %q", tree, len(children), edge.Name))
		}
		if edge.OwnerDrop == PolicyCascade {
			for _, childKey := range children {
				if err := e.plan(edge.RelatedTo, childKey, visited, p); err != nil {
					return err
				}
			}
		}
		// PolicyBreakLink on a child edge leaves the children as-is: the
		// parent-prefix key relationship cannot be unlinked without
		// re-keying the child, so there is nothing further to do here.
		return nil

	case KindFree:
		refs, err := e.getRelated(tree, key, edge.Name)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return nil
		}
		if edge.OwnerDrop == PolicyError {
			return errs.New(errs.KindPolicyViolation, "relation.plan",
				fmt.Errorf("tree %q key has %d free relations under edge %q", tree, len(refs), edge.Name))
		}
		for _, ref := range refs {
			if edge.OwnerDrop == PolicyCascade {
				if err := e.plan(ref.tree, ref.key, visited, p); err != nil {
					return err
				}
			} else if edge.OwnerDrop == PolicyBreakLink {
				p.unlinks = append(p.unlinks, unlinkOp{
					ownerTree: tree, ownerKey: key, edgeName: edge.Name,
					relatedTree: ref.tree, relatedKey: ref.key,
				})
			}
		}
		return nil

	default:
		return errs.New(errs.KindSchema, "relation.plan", fmt.Errorf("unknown relation kind %v", edge.Kind))
	}
}

// applyPolicy handles the sibling case, whose single related record
// follows the same Cascade/BreakLink/Error policy shape as child and free.
func (e *Engine) applyPolicy(edge family.Edge, tree string, key []byte, relatedTree string, relatedKey []byte, edgeName string, visited map[string]bool, p *deletePlan) error {
	switch edge.OwnerDrop {
	case PolicyError:
		return errs.New(errs.KindPolicyViolation, "relation.plan",
			fmt.Errorf("tree %q key has a sibling under edge %q", tree, edgeName))
	case PolicyCascade:
		return e.plan(relatedTree, relatedKey, visited, p)
	case PolicyBreakLink:
		// The sibling shares its key with the owner implicitly; there is
		// no edge record to unlink, so breaking the link is a no-op.
		return nil
	default:
		return errs.New(errs.KindSchema, "relation.plan", fmt.Errorf("unknown policy %v", edge.OwnerDrop))
	}
}

// apply removes every record named by the plan, in order.
func (e *Engine) apply(p *deletePlan) error {
	for _, op := range p.removals {
		vt, err := e.registry.lookup(op.tree)
		if err != nil {
			return err
		}
		if err := vt.RemoveBytes(op.key); err != nil {
			return errs.New(errs.KindIO, "relation.apply", err)
		}
	}
	return nil
}

// cleanUp unlinks every BreakLink edge the plan collected, and removes the
// free-relation edge records for every record that was cascaded away, so
// no edge entry ever points at a deleted record.
func (e *Engine) cleanUp(p *deletePlan) error {
	for _, u := range p.unlinks {
		if err := e.RemoveRelation(u.ownerTree, u.ownerKey, u.edgeName, u.relatedTree, u.relatedKey); err != nil {
			return err
		}
	}
	for _, op := range p.removals {
		refs, err := e.allEdgesFor(op.tree, op.key)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if err := e.RemoveRelation(op.tree, op.key, ref.edgeName, ref.tree, ref.key); err != nil {
				return err
			}
		}
	}
	return nil
}

type edgeRef struct {
	edgeName string
	tree     string
	key      []byte
}

// allEdgesFor scans every free-relation edge recorded for (tree, key),
// across every edge name, by prefix-scanning on (tree, key) alone.
func (e *Engine) allEdgesFor(tree string, key []byte) ([]edgeRef, error) {
	prefix := packParts([]byte(tree), key)

	var out []edgeRef
	err := e.edges.ForEachPrefix(prefix, func(k, _ []byte) (bool, error) {
		rest := k[len(prefix):]
		edgeName, rest, ok := readLenPrefixed(rest)
		if !ok {
			return true, nil
		}
		relTree, rest, ok := readLenPrefixed(rest)
		if !ok {
			return true, nil
		}
		relKey, _, ok := readLenPrefixed(rest)
		if !ok {
			return true, nil
		}
		out = append(out, edgeRef{edgeName: string(edgeName), tree: string(relTree), key: relKey})
		return true, nil
	})
	if err != nil {
		return nil, errs.New(errs.KindIO, "relation.allEdgesFor", err)
	}
	return out, nil
}
