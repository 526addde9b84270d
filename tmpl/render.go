package tmpl

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Expand renders the template against a flat string context. A key resolves
// when present and non-empty; a chain with no resolving key renders as "".
// Expand never fails. Flat contexts hold no arrays, so {{#each}} renders its
// {{else}} branch and {{#if key}} tests for a non-empty value.
func (t *Template) Expand(ctx map[string]string) string {
	var sb strings.Builder
	expandNodes(&sb, t.nodes, ctx)
	return sb.String()
}

func expandNodes(sb *strings.Builder, nodes []node, ctx map[string]string) {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			sb.WriteString(string(n))
		case varNode:
			for _, key := range n.chain {
				if v := ctx[key]; v != "" {
					sb.WriteString(v)
					break
				}
			}
		case ifNode:
			if (ctx[n.path] != "") != n.negate {
				expandNodes(sb, n.then, ctx)
			} else {
				expandNodes(sb, n.els, ctx)
			}
		case eachNode:
			expandNodes(sb, n.els, ctx)
		}
	}
}

// ExpandString parses and expands src in one step.
func ExpandString(src string, ctx map[string]string) (string, error) {
	t, err := Parse(src)
	if err != nil {
		return "", err
	}
	return t.Expand(ctx), nil
}

// frame is one level of the scope stack used while rendering JSON.
type frame struct {
	value gjson.Result
	index int // -1 outside of {{#each}}
	key   string
	first bool
	last  bool
}

type jsonRenderer struct {
	sb    strings.Builder
	stack []frame
	vars  map[string]string
}

// Render renders the template against a JSON document. Paths use gjson
// syntax relative to the current scope ("list.0.field"). Unresolvable paths
// render as "".
func (t *Template) Render(data []byte) string {
	return t.RenderWith(data, nil)
}

// RenderWith is like Render and additionally exposes vars as @-prefixed
// data variables, so {{@query}} renders vars["query"].
func (t *Template) RenderWith(data []byte, vars map[string]string) string {
	r := &jsonRenderer{
		stack: []frame{{value: gjson.ParseBytes(data), index: -1}},
		vars:  vars,
	}
	r.render(t.nodes)
	return r.sb.String()
}

// RenderJSON parses src and renders it against data.
func RenderJSON(src string, data []byte) (string, error) {
	t, err := Parse(src)
	if err != nil {
		return "", err
	}
	return t.Render(data), nil
}

func (r *jsonRenderer) render(nodes []node) {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			r.sb.WriteString(string(n))
		case varNode:
			for _, path := range n.chain {
				if s := stringify(r.lookup(path)); s != "" {
					r.sb.WriteString(s)
					break
				}
			}
		case ifNode:
			if truthy(r.lookup(n.path)) != n.negate {
				r.render(n.then)
			} else {
				r.render(n.els)
			}
		case eachNode:
			r.each(n)
		}
	}
}

func (r *jsonRenderer) each(n eachNode) {
	v := r.lookup(n.path)

	var frames []frame
	switch {
	case v.IsArray():
		for i, el := range v.Array() {
			frames = append(frames, frame{value: el, index: i})
		}
	case v.IsObject():
		i := 0
		v.ForEach(func(k, val gjson.Result) bool {
			frames = append(frames, frame{value: val, index: i, key: k.String()})
			i++
			return true
		})
	}

	if len(frames) == 0 {
		r.render(n.els)
		return
	}
	for i := range frames {
		frames[i].first = i == 0
		frames[i].last = i == len(frames)-1
		r.stack = append(r.stack, frames[i])
		r.render(n.body)
		r.stack = r.stack[:len(r.stack)-1]
	}
}

// lookup resolves path against the scope stack. "../" climbs one scope.
func (r *jsonRenderer) lookup(path string) gjson.Result {
	depth := len(r.stack) - 1
	for strings.HasPrefix(path, "../") {
		path = path[3:]
		if depth > 0 {
			depth--
		}
	}
	f := r.stack[depth]

	switch path {
	case "this", ".":
		return f.value
	case "@index":
		if f.index < 0 {
			return gjson.Result{}
		}
		return gjson.Result{Type: gjson.Number, Num: float64(f.index), Raw: strconv.Itoa(f.index)}
	case "@key":
		if f.key == "" {
			return gjson.Result{}
		}
		return gjson.Result{Type: gjson.String, Str: f.key}
	case "@first":
		return boolResult(f.index >= 0 && f.first)
	case "@last":
		return boolResult(f.index >= 0 && f.last)
	}
	if strings.HasPrefix(path, "@") {
		if v, ok := r.vars[path[1:]]; ok {
			return gjson.Result{Type: gjson.String, Str: v}
		}
		return gjson.Result{}
	}

	path = strings.TrimPrefix(path, "this.")
	if !f.value.Exists() {
		return gjson.Result{}
	}
	return f.value.Get(path)
}

func boolResult(b bool) gjson.Result {
	if b {
		return gjson.Result{Type: gjson.True, Raw: "true"}
	}
	return gjson.Result{Type: gjson.False, Raw: "false"}
}

// truthy reports whether v exists and is not null, false, "" or [].
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return v.Str != ""
	case gjson.JSON:
		if v.IsArray() {
			return len(v.Array()) > 0
		}
		return true
	default:
		return true
	}
}

func stringify(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.JSON:
		return v.Raw
	default:
		return v.String()
	}
}
