// Package loader walks a query repository, expands directives, parses
// typed definitions, materializes inherited schemas and invariants,
// extracts SQL dependencies, and validates the result.
//
// Validation-phase problems are collected, not short-circuited: a
// Repository carries every error and warning found so that validate
// and sync --dry-run can report them all at once.
package loader

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bqdrift/bqdrift/internal/dag"
	"github.com/bqdrift/bqdrift/internal/preprocess"
	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/bqdrift/bqdrift/pkg/sqlref"
)

// Repository is the loaded, validated query set plus its dependency
// graph. It is immutable after Load and safe to share.
type Repository struct {
	Dir           string
	Queries       []*core.Query
	ByName        map[string]*core.Query
	ByDestination map[string]*core.Query // dataset.table -> query
	Graph         *dag.Graph
	Errors        []error
	Warnings      []Warning
}

// Valid reports whether the repository loaded without errors.
// Warnings do not affect validity.
func (r *Repository) Valid() bool { return len(r.Errors) == 0 }

// Query returns a query by name.
func (r *Repository) Query(name string) (*core.Query, bool) {
	q, ok := r.ByName[name]
	return q, ok
}

// Options configures a repository load.
type Options struct {
	// Project is the default GCP project used to qualify three-part
	// table references in dependency extraction.
	Project string
	// Logger receives debug-level progress; nil discards.
	Logger *slog.Logger
}

// Load walks dir for *.yaml query definitions and assembles the
// repository. The returned error is reserved for environmental
// failures (unreadable directory); definition problems are collected
// on the Repository.
func Load(dir string, opts Options) (*Repository, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	repo := &Repository{
		Dir:           dir,
		ByName:        make(map[string]*core.Query),
		ByDestination: make(map[string]*core.Query),
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		q, warns, err := loadOne(path)
		repo.Warnings = append(repo.Warnings, warns...)
		if err != nil {
			repo.Errors = append(repo.Errors, err)
			continue
		}
		logger.Debug("loaded query", "query", q.Name, "path", path, "versions", len(q.Versions))

		if prev, dup := repo.ByName[q.Name]; dup {
			repo.Errors = append(repo.Errors, &DefinitionError{Query: q.Name, Msg: fmt.Sprintf("duplicate query name (also defined in %s)", prev.Path)})
			continue
		}
		rel := q.Destination.Relation()
		if prev, dup := repo.ByDestination[rel]; dup {
			repo.Errors = append(repo.Errors, &DefinitionError{Query: q.Name, Msg: fmt.Sprintf("duplicate destination %s (also written by %s)", rel, prev.Name)})
			continue
		}

		repo.Queries = append(repo.Queries, q)
		repo.ByName[q.Name] = q
		repo.ByDestination[rel] = q
	}

	for _, q := range repo.Queries {
		errs, warns := validateQuery(q)
		repo.Errors = append(repo.Errors, errs...)
		repo.Warnings = append(repo.Warnings, warns...)
	}

	repo.extractDependencies(opts.Project, logger)
	repo.buildGraph()

	return repo, nil
}

func loadOne(path string) (*core.Query, []Warning, error) {
	doc, raw, err := preprocess.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return ParseQuery(doc, path, raw)
}

// extractDependencies parses every version's and revision's SQL for
// upstream table references and resolves them to query names.
// Unparseable SQL degrades to an unknown (empty) dependency set with a
// warning; the query still runs.
func (r *Repository) extractDependencies(project string, logger *slog.Logger) {
	for _, q := range r.Queries {
		upstream := map[string]bool{}
		for _, v := range q.Versions {
			r.collectRefs(q, v.SQL, project, upstream, fmt.Sprintf("v%d", v.Version))
			for _, rev := range v.Revisions {
				r.collectRefs(q, rev.SQL, project, upstream, fmt.Sprintf("v%d.r%d", v.Version, rev.Revision))
			}
		}
		names := make([]string, 0, len(upstream))
		for n := range upstream {
			names = append(names, n)
		}
		sort.Strings(names)
		q.Upstreams = names
		logger.Debug("extracted dependencies", "query", q.Name, "upstreams", names)
	}
}

func (r *Repository) collectRefs(q *core.Query, sql, project string, upstream map[string]bool, label string) {
	refs, err := sqlref.Extract(sql)
	if err != nil {
		r.Warnings = append(r.Warnings, Warning{Query: q.Name, Code: "W101", Msg: fmt.Sprintf("%s: SQL could not be parsed for dependencies, treating as unknown: %v", label, err)})
		return
	}
	self := q.Destination.Relation()
	for _, ref := range refs {
		rel := sqlref.Qualify(ref, project, q.Destination.Dataset)
		if rel == self {
			continue
		}
		dep, known := r.ByDestination[rel]
		if !known {
			continue
		}
		upstream[dep.Name] = true
	}
}

// buildGraph constructs the upstream -> downstream graph. Cycles are
// reported as load errors by probing the topological order once.
func (r *Repository) buildGraph() {
	g := dag.New()
	for _, q := range r.Queries {
		g.AddNode(q.Name)
	}
	for _, q := range r.Queries {
		for _, up := range q.Upstreams {
			if err := g.AddEdge(up, q.Name); err != nil {
				r.Errors = append(r.Errors, err)
			}
		}
	}
	if _, err := g.TopologicalOrder(); err != nil {
		r.Errors = append(r.Errors, err)
	}
	r.Graph = g
}
