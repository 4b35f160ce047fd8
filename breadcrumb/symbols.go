package breadcrumb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
)

// maxSymbolGap is how many lines may separate an annotation block from the declaration it
// is attached to (doc comments usually sit in between).
const maxSymbolGap = 10

type declaration struct {
	row  int // 0-based
	name string
}

// SymbolResolver attaches the name of the following declaration to each breadcrumb, using
// tree-sitter grammars for the languages it knows.
type SymbolResolver struct {
	languages map[string]*sitter.Language
}

// NewSymbolResolver creates a resolver for Go and Python sources.
func NewSymbolResolver() *SymbolResolver {
	return &SymbolResolver{
		languages: map[string]*sitter.Language{
			".go": golang.GetLanguage(),
			".py": python.GetLanguage(),
		},
	}
}

// Supports reports whether files with path's extension can be resolved.
func (r *SymbolResolver) Supports(path string) bool {
	_, ok := r.languages[filepath.Ext(path)]
	return ok
}

// Resolve sets Symbol on every breadcrumb in result whose block is followed by a declaration.
// Unsupported files are left untouched.
func (r *SymbolResolver) Resolve(ctx context.Context, path string, content []byte, result *ParseResult) error {
	lang, ok := r.languages[filepath.Ext(path)]
	if !ok || len(result.Breadcrumbs) == 0 {
		return nil
	}

	// Parsers are not safe for concurrent use; one per call keeps Resolve goroutine-safe.
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	var decls []declaration
	collectDeclarations(tree.RootNode(), content, &decls)
	sort.Slice(decls, func(i, j int) bool { return decls[i].row < decls[j].row })

	for _, bc := range result.Breadcrumbs {
		// EndLine is 1-based, so it is also the 0-based row of the following line.
		idx := sort.Search(len(decls), func(i int) bool { return decls[i].row >= bc.EndLine })
		if idx < len(decls) && decls[idx].row-bc.EndLine < maxSymbolGap {
			bc.Symbol = decls[idx].name
		}
	}
	return nil
}

func collectDeclarations(n *sitter.Node, content []byte, out *[]declaration) {
	if n == nil {
		return
	}
	row := int(n.StartPoint().Row)

	switch n.Type() {
	case "function_declaration", "method_declaration", "function_definition", "class_definition":
		if name := n.ChildByFieldName("name"); name != nil {
			*out = append(*out, declaration{row: row, name: name.Content(content)})
		}
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			if name := def.ChildByFieldName("name"); name != nil {
				*out = append(*out, declaration{row: row, name: name.Content(content)})
			}
		}
	case "type_spec", "type_alias", "const_spec", "var_spec":
		if name := n.ChildByFieldName("name"); name != nil {
			*out = append(*out, declaration{row: row, name: name.Content(content)})
		}
	case "type_declaration", "const_declaration", "var_declaration":
		// A single-spec declaration is attributed to its keyword line.
		if n.NamedChildCount() == 1 {
			if name := n.NamedChild(0).ChildByFieldName("name"); name != nil {
				*out = append(*out, declaration{row: row, name: name.Content(content)})
				return
			}
		}
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		collectDeclarations(n.NamedChild(i), content, out)
	}
}
