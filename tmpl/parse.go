// Package tmpl implements the small placeholder language used by provider
// definitions.
//
// A template is literal text mixed with tags:
//
//	{{key}}                  interpolation
//	{{key1|key2|key3}}       fallback chain: first non-empty value wins
//	{{#each path}}..{{/each}} iteration (optional {{else}} for empty input)
//	{{#if path}}..{{else}}..{{/if}}
//	{{#unless path}}..{{/unless}}
//
// The same parsed Template is rendered two ways: Expand substitutes against a
// flat string map (request parameters), Render walks a JSON document
// (response templates).
package tmpl

import (
	"fmt"
	"strings"
)

// SyntaxError reports a template that cannot be parsed.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template: %s at offset %d", e.Msg, e.Offset)
}

// Diagnostic returns the placeholder text displayed in place of a template
// that failed to render.
func Diagnostic(err error) string {
	if se, ok := err.(*SyntaxError); ok {
		return fmt.Sprintf("[template error: %s at offset %d]", se.Msg, se.Offset)
	}
	return "[template error: " + err.Error() + "]"
}

type node interface{}

type textNode string

// varNode holds a fallback chain; a plain {{key}} is a chain of one.
type varNode struct {
	chain []string
}

type eachNode struct {
	path string
	body []node
	els  []node
}

type ifNode struct {
	path   string
	negate bool
	then   []node
	els    []node
}

// Template is a parsed template. It is immutable and safe for concurrent use.
type Template struct {
	src   string
	nodes []node
}

// Source returns the text the template was parsed from.
func (t *Template) Source() string { return t.src }

// Parse parses src into a Template.
func Parse(src string) (*Template, error) {
	p := &parser{src: src}
	nodes, term, err := p.parseList("", 0)
	if err != nil {
		return nil, err
	}
	if term != "" {
		return nil, &SyntaxError{Offset: p.pos, Msg: "unexpected {{" + term + "}}"}
	}
	return &Template{src: src, nodes: nodes}, nil
}

// MustParse is like Parse but panics on error. Intended for templates known
// at compile time.
func MustParse(src string) *Template {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	src string
	pos int
}

// parseList parses nodes until EOF or a tag that terminates the enclosing
// block. block is the enclosing helper name ("" at top level) and start the
// offset of its opening tag. The returned term is "else", "/<block>", or ""
// at EOF.
func (p *parser) parseList(block string, start int) ([]node, string, error) {
	var nodes []node
	for {
		i := strings.Index(p.src[p.pos:], "{{")
		if i < 0 {
			if p.pos < len(p.src) {
				nodes = append(nodes, textNode(p.src[p.pos:]))
			}
			p.pos = len(p.src)
			if block != "" {
				return nil, "", &SyntaxError{Offset: start, Msg: "unclosed {{#" + block + "}}"}
			}
			return nodes, "", nil
		}
		if i > 0 {
			nodes = append(nodes, textNode(p.src[p.pos:p.pos+i]))
		}

		tagStart := p.pos + i
		open, close := "{{", "}}"
		if strings.HasPrefix(p.src[tagStart:], "{{{") {
			open, close = "{{{", "}}}"
		}
		end := strings.Index(p.src[tagStart+len(open):], close)
		if end < 0 {
			return nil, "", &SyntaxError{Offset: tagStart, Msg: "unterminated tag"}
		}
		body := strings.TrimSpace(p.src[tagStart+len(open) : tagStart+len(open)+end])
		p.pos = tagStart + len(open) + end + len(close)

		switch {
		case body == "":
			return nil, "", &SyntaxError{Offset: tagStart, Msg: "empty tag"}

		case body == "else":
			if block == "" {
				return nil, "", &SyntaxError{Offset: tagStart, Msg: "{{else}} outside of a block"}
			}
			return nodes, "else", nil

		case body[0] == '/':
			name := strings.TrimSpace(body[1:])
			if name != block {
				return nil, "", &SyntaxError{Offset: tagStart, Msg: "unexpected {{/" + name + "}}"}
			}
			return nodes, "/" + name, nil

		case body[0] == '#':
			n, err := p.parseBlock(body[1:], tagStart)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, n)

		default:
			chain, err := parseChain(body, tagStart)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, varNode{chain: chain})
		}
	}
}

func (p *parser) parseBlock(tag string, start int) (node, error) {
	name, path, _ := strings.Cut(strings.TrimSpace(tag), " ")
	path = strings.TrimSpace(path)
	switch name {
	case "each", "if", "unless":
	default:
		return nil, &SyntaxError{Offset: start, Msg: "unknown block {{#" + name + "}}"}
	}
	if path == "" {
		return nil, &SyntaxError{Offset: start, Msg: "{{#" + name + "}} requires a path"}
	}

	body, term, err := p.parseList(name, start)
	if err != nil {
		return nil, err
	}
	var els []node
	if term == "else" {
		els, term, err = p.parseList(name, start)
		if err != nil {
			return nil, err
		}
		if term == "else" {
			return nil, &SyntaxError{Offset: start, Msg: "duplicate {{else}} in {{#" + name + "}}"}
		}
	}

	switch name {
	case "each":
		return eachNode{path: path, body: body, els: els}, nil
	default:
		return ifNode{path: path, negate: name == "unless", then: body, els: els}, nil
	}
}

func parseChain(body string, offset int) ([]string, error) {
	parts := strings.Split(body, "|")
	chain := make([]string, 0, len(parts))
	for _, part := range parts {
		key := strings.TrimSpace(part)
		if key == "" {
			return nil, &SyntaxError{Offset: offset, Msg: "empty key in {{" + body + "}}"}
		}
		chain = append(chain, key)
	}
	return chain, nil
}
