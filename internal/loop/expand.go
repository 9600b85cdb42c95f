// Package loop expands for blocks into flat sequences of concrete blocks.
//
// Expansion substitutes the iteration variable into every string field of the
// loop body: `${var}` for scalar list elements, `${var.field}` for structured
// ones. Three body forms are supported: a single inline template, a list of
// block templates (each expanded once per element), and a nested loop. The
// referenced list is re-read from config at expansion time so earlier blocks
// can rewrite it on disk.
package loop

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blocksrun/blocks/internal/config"
	"github.com/blocksrun/blocks/internal/errors"
	"github.com/blocksrun/blocks/internal/logger"
	"github.com/blocksrun/blocks/internal/workflow"
)

// DefaultMaxDepth bounds nested-loop recursion.
const DefaultMaxDepth = 10

// Expander turns loop specs into block lists using lists pulled from a
// config store.
type Expander struct {
	store    *config.Store
	log      logger.Logger
	maxDepth int
}

// Option configures an Expander.
type Option func(*Expander)

// WithMaxDepth overrides the nested-loop depth limit.
func WithMaxDepth(n int) Option {
	return func(e *Expander) { e.maxDepth = n }
}

// New creates an Expander backed by the given store.
func New(store *config.Store, log logger.Logger, opts ...Option) *Expander {
	e := &Expander{store: store, log: log, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand expands a loop spec into its concrete blocks. The config store is
// reloaded first so the referenced list reflects the latest on-disk state.
// An error leaves the expansion empty; callers decide whether that fails the
// surrounding run.
func (e *Expander) Expand(spec *workflow.LoopSpec) ([]workflow.Block, error) {
	return e.expand(spec, 0)
}

func (e *Expander) expand(spec *workflow.LoopSpec, depth int) ([]workflow.Block, error) {
	if depth >= e.maxDepth {
		return nil, errors.New(errors.ErrLoop,
			fmt.Sprintf("loop nesting exceeds the maximum depth of %d", e.maxDepth),
			"flatten the nested loops or raise the limit")
	}

	// Reload so workflows that rewrite the list before the loop see the
	// updated contents.
	e.store.Reload()

	if spec.Var == "" || spec.In == "" {
		return nil, errors.New(errors.ErrLoop,
			"for-loop missing 'individual' or 'in' field",
			"every for block needs both an iteration variable and a list path")
	}

	items, err := e.listItems(spec.In)
	if err != nil {
		return nil, err
	}

	switch {
	case len(spec.Blocks) > 0:
		return e.expandTemplates(spec, items), nil
	case spec.Loop != nil:
		return e.expandNested(spec, items, depth)
	default:
		return e.expandSimple(spec, items), nil
	}
}

// listItems resolves a list path, tolerating an optional ${} wrapper around
// the dotted path.
func (e *Expander) listItems(path string) ([]interface{}, error) {
	clean := strings.NewReplacer("${", "", "}", "").Replace(path)
	items, err := e.store.GetList(clean)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrLoop,
			fmt.Sprintf("'%s' does not reference a list", path),
			"point the loop's 'in' field at a YAML sequence")
	}
	return items, nil
}

func (e *Expander) expandSimple(spec *workflow.LoopSpec, items []interface{}) []workflow.Block {
	blocks := make([]workflow.Block, 0, len(items))
	for _, item := range items {
		blocks = append(blocks, expandBody(spec, item))
	}
	return blocks
}

func (e *Expander) expandTemplates(spec *workflow.LoopSpec, items []interface{}) []workflow.Block {
	blocks := make([]workflow.Block, 0, len(items)*len(spec.Blocks))
	for _, item := range items {
		for _, tmpl := range spec.Blocks {
			blocks = append(blocks, substituteTemplate(tmpl, spec.Var, item))
		}
	}
	return blocks
}

func (e *Expander) expandNested(spec *workflow.LoopSpec, items []interface{}, depth int) ([]workflow.Block, error) {
	var blocks []workflow.Block
	for _, item := range items {
		if spec.Run != "" {
			blocks = append(blocks, workflow.Command(substitute(spec.Run, spec.Var, item)))
		}

		inner, err := e.expandInner(spec.Loop, spec.Var, item, depth)
		if err != nil {
			return nil, err
		}

		// Substitute the outer variable a second time so outer- and
		// inner-scope references coexist in one template.
		for _, b := range inner {
			blocks = append(blocks, substituteBlock(b, spec.Var, item))
		}
	}
	return blocks, nil
}

// expandInner expands the inner loop of a nested for. When the inner list
// path names a field of the current outer element (structural containment),
// the in-memory list is iterated directly; otherwise the outer variable is
// substituted into the path and resolution goes through the config store.
func (e *Expander) expandInner(inner *workflow.LoopSpec, outerVar string, outerItem interface{}, depth int) ([]workflow.Block, error) {
	if list := containedList(inner.In, outerVar, outerItem); list != nil {
		blocks := make([]workflow.Block, 0, len(list))
		for _, item := range list {
			blocks = append(blocks, expandBody(inner, item))
		}
		return blocks, nil
	}

	cp := *inner
	cp.In = substitute(inner.In, outerVar, outerItem)
	return e.expand(&cp, depth+1)
}

// containedList extracts a list field named by a ${outerVar.field} reference
// in the inner path, when the outer element is a mapping carrying that field.
func containedList(innerPath, outerVar string, outerItem interface{}) []interface{} {
	m, ok := outerItem.(map[string]interface{})
	if !ok {
		return nil
	}
	pattern := regexp.MustCompile(`\$\{` + regexp.QuoteMeta(outerVar) + `\.([^}]+)\}`)
	match := pattern.FindStringSubmatch(innerPath)
	if match == nil {
		return nil
	}
	field, found := m[match[1]]
	if !found {
		field, found = m[strings.ToLower(match[1])]
	}
	if !found {
		return nil
	}
	list, ok := field.([]interface{})
	if !ok {
		return nil
	}
	return list
}

// expandBody builds one block from a loop's inline body for one element.
// A body with neither a command nor a remote spec yields an unknown block,
// which the runner warns about and skips.
func expandBody(spec *workflow.LoopSpec, item interface{}) workflow.Block {
	name := substitute(spec.Name, spec.Var, item)
	desc := substitute(spec.Description, spec.Var, item)

	var b workflow.Block
	switch {
	case spec.Remote != nil:
		b = workflow.RemoteBlock(substituteRemote(*spec.Remote, spec.Var, item))
	case spec.Run != "":
		b = workflow.Command(substitute(spec.Run, spec.Var, item))
	}
	b.Name = name
	b.Description = desc
	return b
}

// substituteTemplate substitutes the loop variable into a block template.
// A nested for inside the template only gets its 'in' path substituted; the
// rest of the nested loop is left for its own expansion pass.
func substituteTemplate(tmpl workflow.Block, varName string, item interface{}) workflow.Block {
	if tmpl.Loop != nil {
		cp := *tmpl.Loop
		cp.In = substitute(cp.In, varName, item)
		tmpl.Loop = &cp
		tmpl.Name = substitute(tmpl.Name, varName, item)
		tmpl.Description = substitute(tmpl.Description, varName, item)
		return tmpl
	}
	return substituteBlock(tmpl, varName, item)
}

// substituteBlock substitutes the loop variable into every string field of a
// block, preserving its shape.
func substituteBlock(b workflow.Block, varName string, item interface{}) workflow.Block {
	b.Name = substitute(b.Name, varName, item)
	b.Description = substitute(b.Description, varName, item)
	b.Run = substitute(b.Run, varName, item)
	if b.Remote != nil {
		r := substituteRemote(*b.Remote, varName, item)
		b.Remote = &r
	}
	return b
}

func substituteRemote(r workflow.RemoteSpec, varName string, item interface{}) workflow.RemoteSpec {
	r.Host = substitute(r.Host, varName, item)
	r.User = substitute(r.User, varName, item)
	r.Password = substitute(r.Password, varName, item)
	r.Run = substitute(r.Run, varName, item)
	r.LogFile = substitute(r.LogFile, varName, item)
	return r
}

// substitute replaces ${var} with the stringified element, or ${var.field}
// per field when the element is a mapping. Unmatched references stay put.
func substitute(s, varName string, item interface{}) string {
	if m, ok := item.(map[string]interface{}); ok {
		for field, value := range m {
			s = strings.ReplaceAll(s, "${"+varName+"."+field+"}", stringify(value))
		}
		return s
	}
	return strings.ReplaceAll(s, "${"+varName+"}", stringify(item))
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
