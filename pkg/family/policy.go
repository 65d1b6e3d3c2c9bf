package family

// Kind distinguishes the three relation shapes a family descriptor can
// declare between two entity types. Defined here rather than in
// pkg/relation because family.Descriptor/Edge reference it directly, and
// pkg/relation already depends on pkg/family for the catalog.
type Kind int

const (
	// KindSibling is an implicit 1:0/1 relation: the related record shares
	// the owning record's key in a different tree.
	KindSibling Kind = iota
	// KindChild is an implicit 1:many relation: related records are keyed
	// by a tuple whose leading component is the parent's key, making
	// "children of P" a prefix scan.
	KindChild
	// KindFree is an explicit m:n relation, recorded as a pair of edge
	// entries (one per direction) in the shared relations tree.
	KindFree
)

func (k Kind) String() string {
	switch k {
	case KindSibling:
		return "sibling"
	case KindChild:
		return "child"
	case KindFree:
		return "free"
	default:
		return "unknown"
	}
}

// Policy is what happens to the far side of an edge when the near side is
// deleted.
type Policy int

const (
	// PolicyCascade deletes the far side too, recursively.
	PolicyCascade Policy = iota
	// PolicyBreakLink removes the edge but leaves the far side's record intact.
	PolicyBreakLink
	// PolicyError aborts the whole deletion before any writes happen.
	PolicyError
)

func (p Policy) String() string {
	switch p {
	case PolicyCascade:
		return "cascade"
	case PolicyBreakLink:
		return "break_link"
	case PolicyError:
		return "error"
	default:
		return "unknown"
	}
}
