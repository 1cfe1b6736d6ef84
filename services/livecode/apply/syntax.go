// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apply

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

const (
	maxSyntaxErrors = 20
	maxWalkDepth    = 1000
)

// program is a parsed candidate. The tree is never executed.
type program struct {
	tree *sitter.Tree
	root *sitter.Node
	src  []byte
}

// parseProgram parses code as JavaScript.
//
// Description:
//
//	Strudel patterns are JavaScript with mini-notation inside string
//	literals, so a JavaScript grammar is enough for the dry-run. The parse
//	always produces a tree; syntax errors appear as ERROR and MISSING nodes.
//
// Outputs:
//
//	*program - The parsed program. Call Close when done.
//	error - Non-nil only if parsing was cancelled or failed outright.
func parseProgram(ctx context.Context, code string) (*program, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	src := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return &program{tree: tree, root: tree.RootNode(), src: src}, nil
}

func (p *program) Close() {
	p.tree.Close()
}

func (p *program) text(n *sitter.Node) string {
	return n.Content(p.src)
}

// walk visits n and its descendants in source order. Returning false from
// fn skips the node's children.
func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	walkDepth(n, fn, 0)
}

func walkDepth(n *sitter.Node, fn func(*sitter.Node) bool, depth int) {
	if n == nil || depth > maxWalkDepth {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walkDepth(n.Child(i), fn, depth+1)
	}
}

// syntaxErrors collects ERROR and MISSING nodes as diagnostics.
func (p *program) syntaxErrors() []Diagnostic {
	var diags []Diagnostic
	walk(p.root, func(n *sitter.Node) bool {
		if len(diags) >= maxSyntaxErrors {
			return false
		}
		if !n.IsError() && !n.IsMissing() {
			return true
		}

		pt := n.StartPoint()
		msg := "Syntax error"
		if n.IsMissing() {
			msg = fmt.Sprintf("Syntax error: missing %s", n.Type())
		} else if snippet := strings.TrimSpace(p.text(n)); snippet != "" {
			msg = fmt.Sprintf("Syntax error: unexpected %s", truncate(snippet, 50))
		}
		diags = append(diags, Diagnostic{
			Code:    DiagSyntax,
			Message: fmt.Sprintf("%s at line %d, column %d", msg, pt.Row+1, pt.Column+1),
			Line:    int(pt.Row) + 1,
			Column:  int(pt.Column) + 1,
		})
		// An ERROR node's children rarely add information.
		return false
	})

	if len(diags) == 0 && p.root.HasError() {
		diags = append(diags, Diagnostic{Code: DiagSyntax, Message: "Syntax error"})
	}
	return diags
}

// calleeName returns the called function's name for identifiers and the
// property name for method calls such as x.gain(...).
func (p *program) calleeName(call *sitter.Node) (name string, method bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	switch fn.Type() {
	case "identifier":
		return p.text(fn), false
	case "member_expression":
		if prop := fn.ChildByFieldName("property"); prop != nil {
			return p.text(prop), true
		}
	}
	return "", false
}

// arguments returns the named argument nodes of a call.
func arguments(call *sitter.Node) []*sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, args.NamedChildCount())
	for i := 0; i < int(args.NamedChildCount()); i++ {
		out = append(out, args.NamedChild(i))
	}
	return out
}

// stringLiteral returns the contents of a quoted string or a template
// string without substitutions.
func (p *program) stringLiteral(n *sitter.Node) (string, bool) {
	switch n.Type() {
	case "string":
	case "template_string":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if n.NamedChild(i).Type() == "template_substitution" {
				return "", false
			}
		}
	default:
		return "", false
	}
	s := p.text(n)
	if len(s) < 2 {
		return "", false
	}
	return s[1 : len(s)-1], true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
