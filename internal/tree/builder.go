// Package tree turns a snapshot's flat path listing into a nested
// directory tree and renders it for display.
package tree

import (
	"sort"
	"strings"

	"panopticon/internal/repoerr"
	"panopticon/internal/snapshot"
)

// Node is one entry of the nested directory tree. Directory nodes carry
// children; file nodes carry size and blob id.
type Node struct {
	Name     string             `json:"name"`
	Kind     snapshot.EntryKind `json:"kind"`
	Size     int64              `json:"size,omitempty"`
	Blob     string             `json:"blob,omitempty"`
	Children []*Node            `json:"children,omitempty"`
}

// Build assembles the tree from the snapshot's path entries. A
// non-empty prefix restricts the tree to the subtree rooted at that
// directory; an unknown prefix is a not-found error. The returned root
// is a synthetic directory holding the top-level entries.
func Build(snap *snapshot.Snapshot, prefix string) (*Node, error) {
	const op = "tree.Build"

	if snap == nil {
		return nil, repoerr.New(repoerr.KindDataIntegrity, op, "snapshot is nil")
	}

	prefix = strings.Trim(prefix, "/")
	root := &Node{Name: ".", Kind: snapshot.KindDirectory}
	index := map[string]*Node{"": root}
	matched := prefix == ""

	for _, entry := range snap.Entries {
		rel := entry.Path
		if prefix != "" {
			if entry.Path == prefix {
				matched = true
				if entry.Kind != snapshot.KindDirectory {
					return nil, repoerr.New(repoerr.KindInvalidInput, op,
						"path %q is a file, not a directory", prefix)
				}
				continue
			}
			var ok bool
			rel, ok = strings.CutPrefix(entry.Path, prefix+"/")
			if !ok {
				continue
			}
			matched = true
		}
		insert(root, index, rel, entry)
	}

	if !matched {
		return nil, repoerr.New(repoerr.KindNotFound, op, "path %q not found in repository", prefix)
	}

	sortTree(root)
	return root, nil
}

// insert places one entry at its path below root, creating any missing
// intermediate directories. The index maps relative directory paths to
// their nodes so lookups stay constant per segment.
func insert(root *Node, index map[string]*Node, rel string, entry snapshot.PathEntry) {
	parentPath := ""
	if idx := strings.LastIndexByte(rel, '/'); idx >= 0 {
		parentPath = rel[:idx]
	}

	parent := index[parentPath]
	if parent == nil {
		// Flat listings always name a directory before its contents,
		// but tolerate gaps by materializing the missing chain.
		parent = root
		for _, seg := range strings.Split(parentPath, "/") {
			next := child(parent, seg)
			if next == nil {
				next = &Node{Name: seg, Kind: snapshot.KindDirectory}
				parent.Children = append(parent.Children, next)
			}
			parent = next
		}
		index[parentPath] = parent
	}

	name := rel[strings.LastIndexByte(rel, '/')+1:]
	if existing := child(parent, name); existing != nil {
		return
	}

	node := &Node{Name: name, Kind: entry.Kind}
	if entry.Kind == snapshot.KindFile {
		node.Size = entry.Size
		node.Blob = entry.Blob
	} else {
		index[rel] = node
	}
	parent.Children = append(parent.Children, node)
}

func child(parent *Node, name string) *Node {
	for _, c := range parent.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// sortTree orders every child list by name.
func sortTree(n *Node) {
	sort.Slice(n.Children, func(i, j int) bool {
		return n.Children[i].Name < n.Children[j].Name
	})
	for _, c := range n.Children {
		if c.Kind == snapshot.KindDirectory {
			sortTree(c)
		}
	}
}

// Render draws the tree with box-drawing connectors, one entry per
// line. Directory names get a trailing slash.
func Render(root *Node) string {
	if root == nil || len(root.Children) == 0 {
		return ""
	}
	var b strings.Builder
	renderChildren(&b, root, "")
	return strings.TrimSuffix(b.String(), "\n")
}

func renderChildren(b *strings.Builder, n *Node, indent string) {
	for i, c := range n.Children {
		connector, childIndent := "├── ", indent+"│   "
		if i == len(n.Children)-1 {
			connector, childIndent = "└── ", indent+"    "
		}
		b.WriteString(indent)
		b.WriteString(connector)
		b.WriteString(c.Name)
		if c.Kind == snapshot.KindDirectory {
			b.WriteString("/")
		}
		b.WriteString("\n")
		if c.Kind == snapshot.KindDirectory {
			renderChildren(b, c, childIndent)
		}
	}
}
