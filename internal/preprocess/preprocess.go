// Package preprocess expands ${{ ... }} directives in a YAML document
// tree before any typed parsing happens.
//
// Two directives are understood, both appearing as scalar values:
//
//	${{ file: relative/path }}   replaced by the parsed content of the
//	                             file (.yaml/.yml as a subtree, anything
//	                             else as a string scalar)
//	${{ versions.N.schema }}     replaced by a deep copy of the referenced
//	                             subtree of the same document, after the
//	                             subtree's own directives are resolved
//
// Directives are data, not code: cycles among includes or references
// are structural and detected.
package preprocess

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	filePattern = regexp.MustCompile(`^\$\{\{\s*file:\s*([^\s}]+)\s*\}\}$`)
	refPattern  = regexp.MustCompile(`^\$\{\{\s*([A-Za-z_][\w.]*)\s*\}\}$`)

	// bareDirective finds a directive written unquoted at the end of a
	// line. The ": " inside ${{ file: ... }} would end a YAML plain
	// scalar, so such directives are quoted before parsing.
	bareDirective = regexp.MustCompile(`(?m)([:-][ \t]+)(\$\{\{[^}\n]*\}\})[ \t]*$`)
)

// quoteDirectives wraps unquoted directive scalars in single quotes so
// the text parses as YAML; the scalar values are unchanged.
func quoteDirectives(b []byte) []byte {
	return bareDirective.ReplaceAll(b, []byte("${1}'${2}'"))
}

// CircularIncludeError reports a file include that re-enters a file
// already on the include stack.
type CircularIncludeError struct {
	Path  string
	Stack []string
}

func (e *CircularIncludeError) Error() string {
	return fmt.Sprintf("circular include of %s (stack: %s)", e.Path, strings.Join(e.Stack, " -> "))
}

// CircularReferenceError reports a reference cycle inside one document.
type CircularReferenceError struct {
	Ref string
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular reference %s", e.Ref)
}

// LoadFile reads a YAML file, expands all directives to a fixed point,
// and returns the processed document along with the raw file bytes
// (kept for the yaml checksum, which hashes the pre-expansion text).
func LoadFile(path string) (*yaml.Node, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(quoteDirectives(raw), &doc); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	p := &processor{stack: []string{abs}}
	if err := p.expandIncludes(&doc, filepath.Dir(abs)); err != nil {
		return nil, nil, err
	}
	if err := resolveReferences(&doc); err != nil {
		return nil, nil, err
	}
	return &doc, raw, nil
}

// Process expands directives in an already-parsed document. Relative
// include paths resolve against baseDir.
func Process(doc *yaml.Node, baseDir string) error {
	p := &processor{}
	if err := p.expandIncludes(doc, baseDir); err != nil {
		return err
	}
	return resolveReferences(doc)
}

type processor struct {
	stack []string // absolute paths currently being loaded
}

func (p *processor) onStack(path string) bool {
	for _, s := range p.stack {
		if s == path {
			return true
		}
	}
	return false
}

// expandIncludes walks the tree replacing ${{ file: ... }} scalars.
func (p *processor) expandIncludes(n *yaml.Node, baseDir string) error {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode, yaml.MappingNode:
		for _, c := range n.Content {
			if err := p.expandIncludes(c, baseDir); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		m := filePattern.FindStringSubmatch(n.Value)
		if m == nil {
			return nil
		}
		return p.includeFile(n, baseDir, m[1])
	}
	return nil
}

func (p *processor) includeFile(n *yaml.Node, baseDir, rel string) error {
	path := filepath.Join(baseDir, rel)
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if p.onStack(abs) {
		return &CircularIncludeError{Path: abs, Stack: append([]string(nil), p.stack...)}
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("include %s: %w", rel, err)
	}

	ext := strings.ToLower(filepath.Ext(abs))
	if ext != ".yaml" && ext != ".yml" {
		// Non-YAML content (SQL, mostly) loads verbatim as a string.
		*n = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.LiteralStyle, Value: string(content)}
		return nil
	}

	var sub yaml.Node
	if err := yaml.Unmarshal(quoteDirectives(content), &sub); err != nil {
		return fmt.Errorf("include %s: %w", rel, err)
	}
	p.stack = append(p.stack, abs)
	err = p.expandIncludes(&sub, filepath.Dir(abs))
	p.stack = p.stack[:len(p.stack)-1]
	if err != nil {
		return err
	}
	if sub.Kind == yaml.DocumentNode && len(sub.Content) == 1 {
		*n = *sub.Content[0]
	} else {
		*n = sub
	}
	return nil
}

// resolveReferences replaces ${{ dotted.path }} scalars with deep
// copies of the referenced subtree. Resolution is demand-driven with
// memoization; re-entering a path that is still being resolved is a
// reference cycle.
func resolveReferences(doc *yaml.Node) error {
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = root.Content[0]
	}
	r := &refResolver{root: root, resolved: map[string]*yaml.Node{}, inProgress: map[string]bool{}}
	return r.walk(doc)
}

type refResolver struct {
	root       *yaml.Node
	resolved   map[string]*yaml.Node
	inProgress map[string]bool
}

func (r *refResolver) walk(n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode, yaml.MappingNode:
		for _, c := range n.Content {
			if err := r.walk(c); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		m := refPattern.FindStringSubmatch(n.Value)
		if m == nil {
			return nil
		}
		sub, err := r.resolve(m[1])
		if err != nil {
			return err
		}
		*n = *deepCopy(sub)
	}
	return nil
}

func (r *refResolver) resolve(path string) (*yaml.Node, error) {
	if n, ok := r.resolved[path]; ok {
		return n, nil
	}
	if r.inProgress[path] {
		return nil, &CircularReferenceError{Ref: path}
	}
	r.inProgress[path] = true
	defer delete(r.inProgress, path)

	target, err := navigate(r.root, strings.Split(path, "."))
	if err != nil {
		return nil, err
	}
	// Resolve the target's own references before anyone copies it.
	if err := r.walk(target); err != nil {
		return nil, err
	}
	r.resolved[path] = target
	return target, nil
}

// navigate follows a dotted path through the document. A numeric
// segment under a sequence of version entries selects the entry whose
// "version" field equals the number, falling back to a plain index.
func navigate(n *yaml.Node, segments []string) (*yaml.Node, error) {
	cur := n
	for i, seg := range segments {
		switch cur.Kind {
		case yaml.MappingNode:
			next := mapValue(cur, seg)
			if next == nil {
				return nil, fmt.Errorf("reference path %s: key %q not found", strings.Join(segments, "."), seg)
			}
			cur = next
		case yaml.SequenceNode:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("reference path %s: %q is not an index", strings.Join(segments, "."), seg)
			}
			next := seqEntry(cur, idx, segments[:i])
			if next == nil {
				return nil, fmt.Errorf("reference path %s: entry %d not found", strings.Join(segments, "."), idx)
			}
			cur = next
		default:
			return nil, fmt.Errorf("reference path %s: cannot descend into scalar at %q", strings.Join(segments, "."), seg)
		}
	}
	return cur, nil
}

// seqEntry picks a sequence entry by number. Under a "versions"
// sequence the number matches the entry's version field, so that
// ${{ versions.2.schema }} means version 2 rather than index 2.
func seqEntry(seq *yaml.Node, n int, parents []string) *yaml.Node {
	if len(parents) > 0 && parents[len(parents)-1] == "versions" {
		for _, item := range seq.Content {
			if item.Kind != yaml.MappingNode {
				continue
			}
			if v := mapValue(item, "version"); v != nil && v.Value == strconv.Itoa(n) {
				return item
			}
		}
	}
	if n >= 0 && n < len(seq.Content) {
		return seq.Content[n]
	}
	return nil
}

func mapValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func deepCopy(n *yaml.Node) *yaml.Node {
	out := *n
	if len(n.Content) > 0 {
		out.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = deepCopy(c)
		}
	}
	return &out
}
