package tree

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// parseMode is a state of the newick parser.
type parseMode int

const (
	normal parseMode = iota
	length
	comment
)

// isSpecial returns true for the newick control characters.
func isSpecial(c rune) bool {
	switch c {
	case '(', ')', ':', '#', ';', ',', '[', ']':
		return true
	}
	return false
}

// NewickSplit is a bufio.SplitFunc which splits newick into tokens.
func NewickSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	// Skip leading spaces; and return 1-char tokens.
	for width := 0; start < len(data); start += width {
		var r rune
		r, width = utf8.DecodeRune(data[start:])
		if isSpecial(r) {
			return start + width, data[start : start+width], nil
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// Scan until space or special character.
	for width, i := 0, start; i < len(data); i += width {
		var r rune
		r, width = utf8.DecodeRune(data[i:])
		if unicode.IsSpace(r) || isSpecial(r) {
			return i, data[start:i], nil
		}
	}
	// If we're at EOF, we have a final, non-empty, non-terminated word. Return it.
	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	// Request more data.
	return 0, nil, nil
}

// ParseNewick reads a rooted tree in the newick format. Comments in
// square brackets are skipped. Node ids are assigned in the order of
// appearance, leaves are numbered from left to right.
func ParseNewick(rd io.Reader) (tree *Tree, err error) {
	scanner := bufio.NewScanner(rd)

	scanner.Split(NewickSplit)

	nodeID := 0
	leafID := 0

	node := NewNode(nil, nodeID)
	tree = New(node)
	nodeID++

	mode := normal

	for scanner.Scan() {
		text := scanner.Text()
		if mode == comment {
			if text == "]" {
				mode = normal
			}
			continue
		}
		switch text {
		case "[":
			mode = comment
		case "(":
			node = NewNode(node, nodeID)
			nodeID++
		case ",":
			if node.Parent == nil {
				return nil, errors.New("top level comma mismatch")
			}
			if node.IsTerminal() && node.Name == "" {
				return nil, errors.New("unnamed leaf")
			}
			node = NewNode(node.Parent, nodeID)
			nodeID++
		case ")":
			if node.Parent == nil {
				return nil, errors.New("brackets mismatch")
			}
			if node.IsTerminal() && node.Name == "" {
				return nil, errors.New("unnamed leaf")
			}
			node = node.Parent
		case ":":
			mode = length
		case "#":
			return nil, errors.New("node classes are not supported")
		case ";":
			if node.Parent != nil {
				return nil, errors.New("brackets mismatch")
			}
			if node.IsTerminal() && node.Name == "" {
				return nil, errors.New("empty tree")
			}
			tree.numberLeaves(leafID)
			return tree, nil
		default:
			switch mode {
			case length:
				l, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, err
				}
				if l < 0 {
					return nil, errors.New("negative branch length")
				}
				node.BranchLength = l
				mode = normal
			default:
				node.Name = text
				if node.IsTerminal() {
					node.LeafID = leafID
					leafID++
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("unexpected end of tree, missing ';'")
}

// numberLeaves checks that every leaf got a leaf id.
func (tree *Tree) numberLeaves(n int) {
	tree.ClearCache()
	if len(tree.Leaves()) != n {
		panic("leaf count mismatch")
	}
}
