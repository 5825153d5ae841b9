package classify

import (
	"sort"

	"panopticon/internal/repoerr"
	"panopticon/internal/snapshot"
	"panopticon/internal/tree"
)

// Selection names one selected file and the rule that claimed it.
type Selection struct {
	Path string
	Rule string
}

// Result is the outcome of reading one selected file. Exactly one of
// Content or Error is meaningful; per-file failures never abort the
// surrounding read.
type Result struct {
	Path      string `json:"path"`
	Rule      string `json:"rule,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// BlobReader resolves file content from an already-fetched snapshot.
type BlobReader interface {
	ReadBlob(snap *snapshot.Snapshot, path string) ([]byte, error)
}

// Classifier applies an ordered rule set to a directory tree. The rule
// set is fixed at construction, so two runs over the same tree always
// produce the same selection.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier over the given rules, in priority
// order. An empty argument list means the default rule set.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Select walks the tree and returns the files claimed by the rules,
// ordered by rule priority and then lexically by path. A file is
// claimed by at most one rule, the first that matches. Unmatched files
// are left out entirely.
func (c *Classifier) Select(root *tree.Node) []Selection {
	byRule := make([][]string, len(c.rules))
	walkFiles(root, "", func(path string) {
		for i, rule := range c.rules {
			if rule.Matches(path) {
				byRule[i] = append(byRule[i], path)
				return
			}
		}
	})

	var selections []Selection
	for i, paths := range byRule {
		sort.Strings(paths)
		for _, p := range paths {
			selections = append(selections, Selection{Path: p, Rule: c.rules[i].ID})
		}
	}
	return selections
}

// walkFiles visits every file node, passing its slash-joined path
// relative to the tree root.
func walkFiles(n *tree.Node, prefix string, visit func(path string)) {
	if n == nil {
		return
	}
	for _, child := range n.Children {
		path := child.Name
		if prefix != "" {
			path = prefix + "/" + child.Name
		}
		if child.Kind == snapshot.KindDirectory {
			walkFiles(child, path, visit)
			continue
		}
		visit(path)
	}
}

// ReadAll resolves the content of each selection in order. A file that
// cannot be read yields an error entry carrying the failure kind; the
// remaining files are still read.
func ReadAll(reader BlobReader, snap *snapshot.Snapshot, selections []Selection) []Result {
	results := make([]Result, 0, len(selections))
	for _, sel := range selections {
		result := Result{Path: sel.Path, Rule: sel.Rule}
		content, err := reader.ReadBlob(snap, sel.Path)
		if err != nil {
			result.Error = err.Error()
			result.ErrorKind = repoerr.KindOf(err).String()
		} else {
			result.Content = string(content)
		}
		results = append(results, result)
	}
	return results
}
