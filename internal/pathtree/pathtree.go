// Package pathtree builds a directory tree out of a flat set of visible
// paths. The `ls` subcommand inserts the reconstructed paths and prints
// Files(): one full path per line, in lexicographic order, with no
// per-directory grouping in the output.
package pathtree

import (
	"sort"
	"strings"
)

// Node is one entry in the tree: either a directory (IsFile false, no Hash)
// or a leaf file carrying the content hash of the version it represents.
type Node struct {
	Name     string
	Path     string
	IsFile   bool
	Hash     string
	Children []*Node
}

// New returns an empty root node.
func New() *Node {
	return &Node{}
}

// Insert adds path (with its content hash) to the tree, creating
// intermediate directory nodes as needed.
func (n *Node) Insert(path, hash string) {
	n.insert(path, strings.TrimPrefix(path, "/"), hash)
}

func (n *Node) insert(fullPath, remaining, hash string) {
	parts := strings.SplitN(remaining, "/", 2)
	name := parts[0]

	for _, c := range n.Children {
		if c.Name == name {
			if len(parts) == 1 {
				c.IsFile = true
				c.Path = fullPath
				c.Hash = hash
				return
			}
			c.insert(fullPath, parts[1], hash)
			return
		}
	}

	child := &Node{Name: name}
	if len(parts) == 1 {
		child.IsFile = true
		child.Path = fullPath
		child.Hash = hash
	}
	n.Children = append(n.Children, child)
	sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Name < n.Children[j].Name })
	if len(parts) > 1 {
		child.insert(fullPath, parts[1], hash)
	}
}

// Files returns every leaf path under n, in lexicographic order.
func (n *Node) Files() []string {
	var out []string
	for _, c := range n.Children {
		if c.IsFile {
			out = append(out, c.Path)
		} else {
			out = append(out, c.Files()...)
		}
	}
	sort.Strings(out)
	return out
}

// Lookup descends to the node at dir (a "/"-joined path), or nil if absent.
func (n *Node) Lookup(dir string) *Node {
	if dir == "" {
		return n
	}
	parts := strings.SplitN(dir, "/", 2)
	for _, c := range n.Children {
		if c.Name == parts[0] {
			if len(parts) == 1 {
				return c
			}
			return c.Lookup(parts[1])
		}
	}
	return nil
}
