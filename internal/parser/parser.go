package parser

import (
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probo/internal/common"
	"github.com/ternarybob/probo/internal/factory"
	"github.com/ternarybob/probo/internal/harness"
	"github.com/ternarybob/probo/internal/params"
)

// DiagKind identifies the class of a parser diagnostic
type DiagKind string

const (
	DiagConfigParse        DiagKind = "ConfigParseError"
	DiagDuplicateBlock     DiagKind = "DuplicateBlock"
	DiagDuplicateParameter DiagKind = "DuplicateParameter"
	DiagMissingType        DiagKind = "MissingType"
	DiagUnknownType        DiagKind = "UnknownType"
	DiagUnusedParameter    DiagKind = "UnusedParameter"
	DiagAmbiguousBlock     DiagKind = "AmbiguousBlock"
	DiagConstructionFailed DiagKind = "ConstructionFailed"
	DiagTypeMismatch       DiagKind = "TypeMismatch"
	DiagImmutableViolation DiagKind = "ImmutableViolation"
	DiagVerifyFailed       DiagKind = "VerifyFailed"
)

// Diagnostic is one accumulated parser finding with its locus
type Diagnostic struct {
	Kind    DiagKind
	File    string
	Line    int
	Path    string
	Message string
	Warning bool
}

// String renders the diagnostic with its locus
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: [%s] %s: %s", d.File, d.Line, d.Kind, d.Path, d.Message)
}

// Parser loads hierarchical configuration files and populates the bound
// warehouse with constructed test objects. Errors are accumulated and
// reported after parsing completes; a failing block never aborts parsing of
// unrelated blocks.
type Parser struct {
	factory   *factory.Factory
	warehouse *factory.Warehouse
	log       arbor.ILogger
	diags     []Diagnostic
}

// New creates a parser bound to a factory and warehouse
func New(f *factory.Factory, w *factory.Warehouse) *Parser {
	return &Parser{factory: f, warehouse: w, log: common.GetLogger()}
}

// Diagnostics returns every accumulated finding, in discovery order
func (p *Parser) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(p.diags))
	copy(out, p.diags)
	return out
}

// HasErrors reports whether any non-warning diagnostic was accumulated
func (p *Parser) HasErrors() bool {
	for _, d := range p.diags {
		if !d.Warning {
			return true
		}
	}
	return false
}

func (p *Parser) report(kind DiagKind, file string, line int, path, format string, args ...any) {
	d := Diagnostic{
		Kind:    kind,
		File:    file,
		Line:    line,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
		Warning: kind == DiagUnusedParameter,
	}
	p.diags = append(p.diags, d)
	if d.Warning {
		p.log.Warn().Str("file", file).Int("line", line).Str("path", path).Msg(d.Message)
	} else {
		p.log.Error().Str("file", file).Int("line", line).Str("path", path).Msg(d.Message)
	}
}

// Parse loads filename and appends the constructed test objects to the
// warehouse. The iteration root is the first top-level block (by
// convention "[Tests]"); an empty file appends nothing without error.
func (p *Parser) Parse(filename string) error {
	fileRoot, err := LoadFile(filename)
	if err != nil {
		p.report(DiagConfigParse, filename, 0, "", "%v", err)
		return err
	}

	p.checkDuplicates(filename, fileRoot)

	if len(fileRoot.Children) == 0 {
		return nil
	}
	root := fileRoot.Children[0]

	differs := make(map[string]harness.Differ)
	type pending struct {
		runner harness.Runner
		node   *Node
	}
	var runners []pending

	root.Walk(func(node *Node) {
		if node == root {
			return
		}
		if !node.IsLeaf() {
			if _, ok := node.Get("type"); ok {
				p.report(DiagAmbiguousBlock, filename, node.Line, node.FullPath,
					"block supplies a 'type' parameter but also contains child blocks")
			}
			return
		}

		obj := p.parseLeaf(filename, node)
		if obj == nil {
			return
		}

		switch t := obj.(type) {
		case harness.Runner:
			runners = append(runners, pending{runner: t, node: node})
		case harness.Differ:
			differs[t.Name()] = t
		default:
			p.report(DiagConstructionFailed, filename, node.Line, node.FullPath,
				"constructed object %q is neither a runner nor a differ", obj.Name())
		}
	})

	for _, r := range runners {
		bound := make([]harness.Differ, 0)
		ok := true
		for _, name := range r.runner.Parameters().GetStrings("differs") {
			d, found := differs[name]
			if !found {
				p.report(DiagConstructionFailed, filename, r.node.Line, r.node.FullPath,
					"the differ %q named in 'differs' was not declared in this file", name)
				ok = false
				continue
			}
			bound = append(bound, d)
		}
		if !ok {
			continue
		}
		r.runner.BindDiffers(bound)
		p.warehouse.Append(r.runner, filename)
	}

	return nil
}

// parseLeaf constructs the object declared by one leaf block
func (p *Parser) parseLeaf(filename string, node *Node) harness.Object {
	typeAssign, ok := node.Get("type")
	if !ok {
		p.report(DiagMissingType, filename, node.Line, node.FullPath, "missing 'type' in block %q", node.FullPath)
		return nil
	}
	typeName := unquote(typeAssign.Raw)

	set, err := p.factory.Params(typeName)
	if err != nil {
		p.report(DiagUnknownType, filename, typeAssign.Line, node.FullPath,
			"failed to extract parameters from %q object in block %q", typeName, node.FullPath)
		return nil
	}

	set.Set("name", node.Name)

	failed := false
	for _, assign := range node.Params {
		if assign.Key == "type" {
			continue
		}
		target, key := resolveTarget(set, assign.Key)
		if target == nil || !target.Has(key) {
			p.report(DiagUnusedParameter, filename, assign.Line, node.FullPath,
				"the parameter %q does not exist in %q object parameters", assign.Key, typeName)
			continue
		}
		if err := target.SetRaw(key, assign.Raw); err != nil {
			p.report(assignKind(err), filename, assign.Line, node.FullPath, "%v", err)
			failed = true
		}
	}
	if failed {
		return nil
	}

	obj, err := p.factory.Create(typeName, set)
	if err != nil {
		p.report(DiagConstructionFailed, filename, node.Line, node.FullPath,
			"failed to create object of type %q in block %q: %v", typeName, node.FullPath, err)
		return nil
	}
	return obj
}

// resolveTarget maps a "group/name" (or "group_name") key onto the nested
// set it belongs to. Plain keys resolve against the top-level set.
func resolveTarget(set *params.Set, key string) (*params.Set, string) {
	if set.Has(key) {
		return set, key
	}
	for _, sep := range []string{"/", "_"} {
		for _, prefix := range set.Keys() {
			sub := set.Sub(prefix)
			if sub == nil {
				continue
			}
			if rest, ok := cutPrefix(key, prefix+sep); ok && sub.Has(rest) {
				return sub, rest
			}
		}
	}
	return nil, key
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return s, false
}

func unquote(raw string) string {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1]
	}
	return raw
}

// assignKind maps a params assignment error onto its diagnostic kind
func assignKind(err error) DiagKind {
	switch {
	case errors.Is(err, params.ErrImmutableViolation):
		return DiagImmutableViolation
	case errors.Is(err, params.ErrVerifyFailed):
		return DiagVerifyFailed
	default:
		return DiagTypeMismatch
	}
}

// checkDuplicates records every block path and parameter path of the tree
// and reports repeats
func (p *Parser) checkDuplicates(filename string, root *Node) {
	seen := make(map[string]struct{})
	root.Walk(func(node *Node) {
		if node.FullPath != "" {
			if _, ok := seen[node.FullPath]; ok {
				p.report(DiagDuplicateBlock, filename, node.Line, node.FullPath,
					"duplicate section %q", node.FullPath)
			} else {
				seen[node.FullPath] = struct{}{}
			}
		}
		for _, assign := range node.Params {
			full := joinPath(node.FullPath, assign.Key)
			if _, ok := seen[full]; ok {
				p.report(DiagDuplicateParameter, filename, assign.Line, node.FullPath,
					"duplicate parameter %q", full)
			} else {
				seen[full] = struct{}{}
			}
		}
	})
}
