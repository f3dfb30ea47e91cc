// Package syntax extracts language-normalized code shapes:
// function signatures, class hierarchies, error handling shapes, and
// import sites. Grounded on the teacher-adjacent tree-sitter walk pattern
// (theRebelliousNerd-codenerd's internal/world/python_parser.go), narrowed
// to shape extraction for heuristic detection rather than full AST-edit
// element modeling.
package syntax

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// MaxFileSize skips files above 1 MiB.
const MaxFileSize = 1 << 20

// FuncShape is a normalized function signature.
type FuncShape struct {
	Name      string
	Arity     int
	ParamKind []string
	StartLine int
}

// ClassShape is a normalized class/struct hierarchy.
type ClassShape struct {
	Name      string
	Bases     []string
	Overrides []string
	StartLine int
}

// ErrorShape describes how a code region handles errors.
type ErrorShape struct {
	CaughtTypes []string
	Rethrows    bool
	BroadCatch  bool
	StartLine   int
}

// Shapes is the syntactic analyzer's output for one file.
type Shapes struct {
	Language string
	Funcs    []FuncShape
	Classes  []ClassShape
	Errors   []ErrorShape
	Imports  []string
	ViaRegex bool // true when the regex fallback path produced this
}

var wellKnownOverrides = map[string]bool{
	"__init__": true, "__str__": true, "__repr__": true, "__eq__": true,
	"__enter__": true, "__exit__": true, "setUp": true, "tearDown": true,
}

// Extract produces Shapes for content at path. Malformed input never
// panics; it yields an empty or partial Shapes.
func Extract(ctx context.Context, path string, content []byte) Shapes {
	if len(content) > MaxFileSize {
		return Shapes{}
	}
	lang := languageFor(path)
	if lang == "python" {
		if s, ok := extractPython(ctx, content); ok {
			return s
		}
	}
	return extractRegex(lang, content)
}

func languageFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".py"):
		return "python"
	case strings.HasSuffix(path, ".go"):
		return "go"
	case strings.HasSuffix(path, ".ts"), strings.HasSuffix(path, ".tsx"):
		return "typescript"
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".jsx"):
		return "javascript"
	default:
		return "unknown"
	}
}

func extractPython(ctx context.Context, content []byte) (Shapes, bool) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		return Shapes{}, false
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		// Partial/malformed tree still yields an empty result rather than
		// a crash; fall back to regex for a best-effort shape.
		return Shapes{}, false
	}

	shapes := Shapes{Language: "python"}
	walkPython(root, content, &shapes)
	return shapes, true
}

func walkPython(node *sitter.Node, content []byte, shapes *Shapes) {
	text := func(n *sitter.Node) string { return string(content[n.StartByte():n.EndByte()]) }

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_definition":
			shapes.Funcs = append(shapes.Funcs, parsePyFunc(child, text))
		case "class_definition":
			shapes.Classes = append(shapes.Classes, parsePyClass(child, content, text))
		case "try_statement":
			shapes.Errors = append(shapes.Errors, parsePyTry(child, text))
		case "import_statement", "import_from_statement":
			shapes.Imports = append(shapes.Imports, text(child))
		}
		walkPython(child, content, shapes)
	}
}

func parsePyFunc(n *sitter.Node, text func(*sitter.Node) string) FuncShape {
	shape := FuncShape{StartLine: int(n.StartPoint().Row) + 1}
	if name := n.ChildByFieldName("name"); name != nil {
		shape.Name = text(name)
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			shape.ParamKind = append(shape.ParamKind, p.Type())
		}
		shape.Arity = len(shape.ParamKind)
	}
	return shape
}

func parsePyClass(n *sitter.Node, content []byte, text func(*sitter.Node) string) ClassShape {
	shape := ClassShape{StartLine: int(n.StartPoint().Row) + 1}
	if name := n.ChildByFieldName("name"); name != nil {
		shape.Name = text(name)
	}
	if superclasses := n.ChildByFieldName("superclasses"); superclasses != nil {
		for i := 0; i < int(superclasses.NamedChildCount()); i++ {
			shape.Bases = append(shape.Bases, text(superclasses.NamedChild(i)))
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			member := body.NamedChild(i)
			if member.Type() != "function_definition" {
				continue
			}
			nameNode := member.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := text(nameNode)
			if wellKnownOverrides[name] {
				shape.Overrides = append(shape.Overrides, name)
			}
		}
	}
	return shape
}

func parsePyTry(n *sitter.Node, text func(*sitter.Node) string) ErrorShape {
	shape := ErrorShape{StartLine: int(n.StartPoint().Row) + 1}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		clause := n.NamedChild(i)
		if clause.Type() != "except_clause" {
			continue
		}
		caught := false
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			c := clause.NamedChild(j)
			if c.Type() == "identifier" || c.Type() == "attribute" {
				shape.CaughtTypes = append(shape.CaughtTypes, text(c))
				caught = true
			}
			if c.Type() == "raise_statement" {
				shape.Rethrows = true
			}
		}
		if !caught {
			shape.BroadCatch = true
		}
	}
	return shape
}

var (
	reFunc   = regexp.MustCompile(`(?m)^\s*(?:func|def|function)\s+(\w+)\s*\(([^)]*)\)`)
	reClass  = regexp.MustCompile(`(?m)^\s*(?:class|type)\s+(\w+)(?:\s*\(([^)]*)\))?`)
	reImport = regexp.MustCompile(`(?m)^\s*(?:import|require)\s+\(?["']?([\w./\-]+)["']?\)?`)
	reCatch  = regexp.MustCompile(`(?m)^\s*(?:catch|except)\s*\(?([^){:]*)\)?`)
)

// extractRegex is the degraded-confidence fallback for languages without a
// bundled parser, or for malformed input the AST path rejected.
func extractRegex(lang string, content []byte) Shapes {
	s := Shapes{Language: lang, ViaRegex: true}
	text := string(content)

	for _, m := range reFunc.FindAllStringSubmatch(text, -1) {
		params := strings.TrimSpace(m[2])
		var kinds []string
		if params != "" {
			kinds = strings.Split(params, ",")
		}
		s.Funcs = append(s.Funcs, FuncShape{Name: m[1], Arity: len(kinds), ParamKind: kinds})
	}
	for _, m := range reClass.FindAllStringSubmatch(text, -1) {
		var bases []string
		if strings.TrimSpace(m[2]) != "" {
			bases = strings.Split(m[2], ",")
		}
		s.Classes = append(s.Classes, ClassShape{Name: m[1], Bases: bases})
	}
	for _, m := range reImport.FindAllStringSubmatch(text, -1) {
		s.Imports = append(s.Imports, m[1])
	}
	for _, m := range reCatch.FindAllStringSubmatch(text, -1) {
		caught := strings.TrimSpace(m[1])
		s.Errors = append(s.Errors, ErrorShape{
			CaughtTypes: nonEmpty(caught),
			BroadCatch:  caught == "",
		})
	}
	return s
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
