package loader

import (
	"fmt"

	"github.com/bqdrift/bqdrift/pkg/core"
	"gopkg.in/yaml.v3"
)

// A schema clause is either a literal field list or a mutator
// {base, remove, modify, add}. The preprocessor has already replaced
// ${{ versions.N.schema }} references with deep copies, so a base is
// itself a clause and recursion bottoms out at a literal list.
//
// Mutator application order is fixed: remove -> modify -> add.

// materializeSchema resolves a schema clause node to a concrete field
// list.
func materializeSchema(n *yaml.Node, where string) (core.Schema, error) {
	if n == nil || n.Kind == 0 {
		return core.Schema{}, nil
	}
	switch n.Kind {
	case yaml.SequenceNode:
		var fields []core.Field
		if err := n.Decode(&fields); err != nil {
			return core.Schema{}, &ParseError{Path: where, Field: "schema", Msg: err.Error()}
		}
		return core.Schema{Fields: fields}, nil
	case yaml.MappingNode:
		return applySchemaMutator(n, where)
	default:
		return core.Schema{}, &ParseError{Path: where, Field: "schema", Msg: "expected a field list or a base/remove/modify/add mapping"}
	}
}

func applySchemaMutator(n *yaml.Node, where string) (core.Schema, error) {
	var mut struct {
		Base   yaml.Node    `yaml:"base"`
		Remove []string     `yaml:"remove"`
		Modify []core.Field `yaml:"modify"`
		Add    []core.Field `yaml:"add"`
	}
	if err := n.Decode(&mut); err != nil {
		return core.Schema{}, &ParseError{Path: where, Field: "schema", Msg: err.Error()}
	}
	if mut.Base.Kind == 0 {
		return core.Schema{}, &ParseError{Path: where, Field: "schema.base", Msg: "mutator requires a base schema"}
	}

	base, err := materializeSchema(&mut.Base, where)
	if err != nil {
		return core.Schema{}, err
	}
	fields := append([]core.Field(nil), base.Fields...)

	// remove
	for _, name := range mut.Remove {
		idx := fieldIndex(fields, name)
		if idx < 0 {
			return core.Schema{}, &DefinitionError{Msg: fmt.Sprintf("%s: schema remove: field %q not in base", where, name)}
		}
		fields = append(fields[:idx], fields[idx+1:]...)
	}

	// modify: replace in place, keeping the insertion position
	for _, patch := range mut.Modify {
		if idx := fieldIndex(fields, patch.Name); idx >= 0 {
			fields[idx] = patch
		}
	}

	// add: append in order, duplicates are an error
	for _, f := range mut.Add {
		if fieldIndex(fields, f.Name) >= 0 {
			return core.Schema{}, &DefinitionError{Msg: fmt.Sprintf("%s: schema add: duplicate field %q", where, f.Name)}
		}
		fields = append(fields, f)
	}

	return core.Schema{Fields: fields}, nil
}

func fieldIndex(fields []core.Field, name string) int {
	for i, f := range fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// materializeInvariants resolves an invariants clause. The inherited
// unit is {before, after}; remove and modify key by invariant name
// within each phase.
func materializeInvariants(n *yaml.Node, where string) (core.Invariants, error) {
	if n == nil || n.Kind == 0 {
		return core.Invariants{}, nil
	}
	if n.Kind != yaml.MappingNode {
		return core.Invariants{}, &ParseError{Path: where, Field: "invariants", Msg: "expected a before/after mapping"}
	}
	if mapKey(n, "base") == nil {
		return parseInvariantsDef(n, where)
	}
	return applyInvariantsMutator(n, where)
}

func applyInvariantsMutator(n *yaml.Node, where string) (core.Invariants, error) {
	var mut struct {
		Base   yaml.Node `yaml:"base"`
		Remove struct {
			Before []string `yaml:"before"`
			After  []string `yaml:"after"`
		} `yaml:"remove"`
		Modify yaml.Node `yaml:"modify"`
		Add    yaml.Node `yaml:"add"`
	}
	if err := n.Decode(&mut); err != nil {
		return core.Invariants{}, &ParseError{Path: where, Field: "invariants", Msg: err.Error()}
	}

	base, err := materializeInvariants(&mut.Base, where)
	if err != nil {
		return core.Invariants{}, err
	}
	out := core.Invariants{
		Before: append([]core.Invariant(nil), base.Before...),
		After:  append([]core.Invariant(nil), base.After...),
	}

	for _, name := range mut.Remove.Before {
		if out.Before, err = removeInvariant(out.Before, name, where, "before"); err != nil {
			return core.Invariants{}, err
		}
	}
	for _, name := range mut.Remove.After {
		if out.After, err = removeInvariant(out.After, name, where, "after"); err != nil {
			return core.Invariants{}, err
		}
	}

	if mut.Modify.Kind != 0 {
		patch, err := parseInvariantsDef(&mut.Modify, where)
		if err != nil {
			return core.Invariants{}, err
		}
		modifyInvariants(out.Before, patch.Before)
		modifyInvariants(out.After, patch.After)
	}

	if mut.Add.Kind != 0 {
		add, err := parseInvariantsDef(&mut.Add, where)
		if err != nil {
			return core.Invariants{}, err
		}
		for _, iv := range add.Before {
			if invariantIndex(out.Before, iv.Name) >= 0 {
				return core.Invariants{}, &DefinitionError{Msg: fmt.Sprintf("%s: invariants add: duplicate before check %q", where, iv.Name)}
			}
			out.Before = append(out.Before, iv)
		}
		for _, iv := range add.After {
			if invariantIndex(out.After, iv.Name) >= 0 {
				return core.Invariants{}, &DefinitionError{Msg: fmt.Sprintf("%s: invariants add: duplicate after check %q", where, iv.Name)}
			}
			out.After = append(out.After, iv)
		}
	}

	return out, nil
}

func removeInvariant(list []core.Invariant, name, where, phase string) ([]core.Invariant, error) {
	idx := invariantIndex(list, name)
	if idx < 0 {
		return nil, &DefinitionError{Msg: fmt.Sprintf("%s: invariants remove: %s check %q not in base", where, phase, name)}
	}
	return append(list[:idx], list[idx+1:]...), nil
}

func modifyInvariants(list, patches []core.Invariant) {
	for _, p := range patches {
		if idx := invariantIndex(list, p.Name); idx >= 0 {
			list[idx] = p
		}
	}
}

func invariantIndex(list []core.Invariant, name string) int {
	for i, iv := range list {
		if iv.Name == name {
			return i
		}
	}
	return -1
}
