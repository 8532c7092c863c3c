package graph

import "encoding/json"

// NodeKind represents the type of a node.
type NodeKind string

const (
	KindCommit NodeKind = "Commit"
	KindTree   NodeKind = "Tree"
)

// EdgeType represents the type of relationship between nodes.
type EdgeType string

const (
	EdgeParent     EdgeType = "PARENT"     // Commit -> parent Commit, at = parent index
	EdgeHasTree    EdgeType = "HAS_TREE"   // Commit -> Tree
	EdgeSupersedes EdgeType = "SUPERSEDES" // rewritten Commit -> predecessor Commit
)

// Node represents a node in the graph.
type Node struct {
	ID        string
	Kind      NodeKind
	Payload   json.RawMessage
	CreatedAt int64
}

// Decode unmarshals the node payload into v.
func (n *Node) Decode(v interface{}) error {
	return json.Unmarshal(n.Payload, v)
}

// Edge represents an edge in the graph.
type Edge struct {
	Src       string
	Type      EdgeType
	Dst       string
	At        string // context, empty when unused
	CreatedAt int64
}
