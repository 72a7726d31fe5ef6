// Package tree provides a rooted phylogenetic tree with cached
// traversal orders.
package tree

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTaxon is returned by MRCA if a taxon is not present in
// the tree.
var ErrUnknownTaxon = errors.New("unknown taxon")

// Tree is a rooted tree. Traversal orders are computed once and
// cached until ClearCache is called after a topology change.
type Tree struct {
	*Node
	nodes     []*Node
	postOrder []*Node
	preOrder  []*Node
	leaves    []*Node
	// version is incremented every time the cache is cleared.
	version int
}

// New creates a tree with a given root node.
func New(root *Node) *Tree {
	return &Tree{Node: root}
}

// ClearCache drops all the cached traversal orders. It has to be
// called after the topology has been changed.
func (tree *Tree) ClearCache() {
	tree.nodes = nil
	tree.postOrder = nil
	tree.preOrder = nil
	tree.leaves = nil
	tree.version++
}

// Version returns the topology version. It changes on every
// ClearCache call.
func (tree *Tree) Version() int {
	return tree.version
}

// NNodes returns the total number of nodes.
func (tree *Tree) NNodes() int {
	return len(tree.PreOrder())
}

// Nodes returns nodes indexed by their ids.
func (tree *Tree) Nodes() []*Node {
	if tree.nodes == nil {
		maxID := 0
		for _, node := range tree.PreOrder() {
			if node.ID > maxID {
				maxID = node.ID
			}
		}
		tree.nodes = make([]*Node, maxID+1)
		for _, node := range tree.PreOrder() {
			tree.nodes[node.ID] = node
		}
	}
	return tree.nodes
}

// MaxNodeID returns the maximum node id.
func (tree *Tree) MaxNodeID() int {
	return len(tree.Nodes()) - 1
}

// Leaves returns the terminal nodes indexed by LeafID.
func (tree *Tree) Leaves() []*Node {
	if tree.leaves == nil {
		n := 0
		for _, node := range tree.PreOrder() {
			if node.IsTerminal() {
				n++
			}
		}
		tree.leaves = make([]*Node, n)
		for _, node := range tree.PreOrder() {
			if node.IsTerminal() {
				if node.LeafID < 0 || node.LeafID >= n || tree.leaves[node.LeafID] != nil {
					panic("leaf id mismatch")
				}
				tree.leaves[node.LeafID] = node
			}
		}
	}
	return tree.leaves
}

// NLeaves returns the number of terminal nodes.
func (tree *Tree) NLeaves() int {
	return len(tree.Leaves())
}

// PreOrder returns nodes in the parent-before-child order. An
// explicit stack is used, so very deep trees do not grow the
// goroutine stack.
func (tree *Tree) PreOrder() []*Node {
	if tree.preOrder == nil {
		tree.preOrder = make([]*Node, 0, 16)
		stack := []*Node{tree.Node}
		for len(stack) > 0 {
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			tree.preOrder = append(tree.preOrder, node)
			// first child is visited first
			for i := len(node.childNodes) - 1; i >= 0; i-- {
				stack = append(stack, node.childNodes[i])
			}
		}
	}
	return tree.preOrder
}

// PostOrder returns nodes in the child-before-parent order. The root
// is the last node.
func (tree *Tree) PostOrder() []*Node {
	if tree.postOrder == nil {
		pre := tree.PreOrder()
		tree.postOrder = make([]*Node, len(pre))
		for i, node := range pre {
			tree.postOrder[len(pre)-1-i] = node
		}
	}
	return tree.postOrder
}

// Copy creates independent copy of the tree.
func (tree *Tree) Copy() (newTree *Tree) {
	nodes := tree.Nodes()
	newNodes := make([]*Node, len(nodes))

	for i, node := range nodes {
		if node == nil {
			continue
		}
		if i != node.ID {
			panic("node id mismatch")
		}
		newNodes[i] = node.Copy()
	}

	// Rewire node/parent connections.
	for i, node := range nodes {
		if node == nil {
			continue
		}
		for _, child := range node.childNodes {
			newNodes[i].AddChild(newNodes[child.ID])
		}
	}

	return &Tree{Node: newNodes[tree.ID], version: tree.version}
}

// MRCA returns the most recent common ancestor of the named taxa.
func (tree *Tree) MRCA(taxa []string) (*Node, error) {
	if len(taxa) == 0 {
		return nil, errors.New("empty taxon set")
	}
	byName := make(map[string]*Node, tree.NLeaves())
	for _, leaf := range tree.Leaves() {
		byName[leaf.Name] = leaf
	}

	want := make(map[*Node]bool, len(taxa))
	for _, name := range taxa {
		leaf, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTaxon, name)
		}
		want[leaf] = true
	}

	// number of requested taxa below every node
	below := make([]int, tree.MaxNodeID()+1)
	for _, node := range tree.PostOrder() {
		if want[node] {
			below[node.ID]++
		}
		if below[node.ID] == len(want) {
			return node, nil
		}
		if node.Parent != nil {
			below[node.Parent.ID] += below[node.ID]
		}
	}
	panic("root does not include all the leaves")
}

// String returns the newick representation of the tree.
func (tree *Tree) String() string {
	var b strings.Builder
	tree.Node.write(&b, false)
	b.WriteString(";")
	return b.String()
}

// IDString returns the newick representation with node ids
// instead of branch lengths.
func (tree *Tree) IDString() string {
	var b strings.Builder
	tree.Node.write(&b, true)
	b.WriteString(";")
	return b.String()
}

// Node is a tree node, the branch length is the length of the branch
// leading to the node.
type Node struct {
	Name         string
	BranchLength float64
	Parent       *Node
	childNodes   []*Node
	ID           int
	// LeafID is the index of a terminal node, -1 for internal nodes.
	LeafID int
}

// NewNode creates a new node with a given id and attaches it to
// parent unless parent is nil.
func NewNode(parent *Node, nodeID int) (node *Node) {
	node = &Node{ID: nodeID, LeafID: -1}
	if parent != nil {
		parent.AddChild(node)
	}
	return
}

// Copy creates copy of node with empty parent and children.
func (node *Node) Copy() *Node {
	return &Node{
		Name:         node.Name,
		BranchLength: node.BranchLength,
		childNodes:   make([]*Node, 0, len(node.childNodes)),
		ID:           node.ID,
		LeafID:       node.LeafID,
	}
}

// AddChild attaches subNode to node.
func (node *Node) AddChild(subNode *Node) {
	subNode.Parent = node
	node.childNodes = append(node.childNodes, subNode)
}

// RemoveChild detaches subNode from node. It returns false if
// subNode is not a child of node.
func (node *Node) RemoveChild(subNode *Node) bool {
	for i, child := range node.childNodes {
		if child == subNode {
			node.childNodes = append(node.childNodes[:i], node.childNodes[i+1:]...)
			subNode.Parent = nil
			return true
		}
	}
	return false
}

// ChildNodes returns the children of node.
func (node *Node) ChildNodes() []*Node {
	return node.childNodes
}

// IsRoot returns true for the node without the parent.
func (node *Node) IsRoot() bool {
	return node.Parent == nil
}

// IsTerminal returns true for the leaves.
func (node *Node) IsTerminal() bool {
	return len(node.childNodes) == 0
}

// LongString returns a human readable node description.
func (node *Node) LongString() (s string) {
	s = "<"
	if node.Parent == nil {
		s += "root, "
	}
	if node.Name != "" {
		s += "name=" + node.Name + ", "
	}
	s += fmt.Sprintf("ID=%v, BranchLength=%v", node.ID, node.BranchLength)
	if node.IsTerminal() {
		s += fmt.Sprintf(", LeafID=%v", node.LeafID)
	}
	s += ">"
	return
}

func (node *Node) write(b *strings.Builder, ids bool) {
	if !node.IsTerminal() {
		b.WriteString("(")
		for i, child := range node.childNodes {
			if i > 0 {
				b.WriteString(",")
			}
			child.write(b, ids)
		}
		b.WriteString(")")
	}
	b.WriteString(node.Name)
	if ids {
		fmt.Fprintf(b, "#%d", node.ID)
	} else {
		fmt.Fprintf(b, ":%g", node.BranchLength)
	}
}
