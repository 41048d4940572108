//go:build cgo

package parser

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/nexus/pkg/types"
)

// languageSpec pairs a grammar with a query. The outer node is captured
// under its kind name (@function, @method, @class, @interface, @type) and
// the identifier under @name.
type languageSpec struct {
	language *sitter.Language
	query    string
}

type treeSitter struct {
	specs map[string]*languageSpec
}

func newTreeSitter() *treeSitter {
	return &treeSitter{specs: map[string]*languageSpec{
		"python": {
			language: python.GetLanguage(),
			query: `
				(function_definition name: (identifier) @name) @function
				(class_definition name: (identifier) @name) @class
				(decorated_definition definition: (function_definition name: (identifier) @name)) @function
				(decorated_definition definition: (class_definition name: (identifier) @name)) @class
			`,
		},
		"javascript": {
			language: javascript.GetLanguage(),
			query: `
				(function_declaration name: (identifier) @name) @function
				(class_declaration name: (identifier) @name) @class
				(method_definition name: (property_identifier) @name) @method
				(export_statement (function_declaration name: (identifier) @name)) @function
				(export_statement (class_declaration name: (identifier) @name)) @class
				(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @function
			`,
		},
		"typescript": {
			language: typescript.GetLanguage(),
			query: `
				(function_declaration name: (identifier) @name) @function
				(class_declaration name: (type_identifier) @name) @class
				(method_definition name: (property_identifier) @name) @method
				(export_statement (function_declaration name: (identifier) @name)) @function
				(export_statement (class_declaration name: (type_identifier) @name)) @class
				(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @function
				(interface_declaration name: (type_identifier) @name) @interface
				(type_alias_declaration name: (type_identifier) @name) @type
			`,
		},
	}}
}

func (t *treeSitter) supports(language string) bool {
	_, ok := t.specs[language]
	return ok
}

func (t *treeSitter) symbols(language string, src []byte) ([]types.Symbol, error) {
	spec := t.specs[language]

	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(spec.language)
	tree, err := p.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", language, err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(spec.query), spec.language)
	if err != nil {
		return nil, fmt.Errorf("compile query for %s: %w", language, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var symbols []types.Symbol
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}

		var outer *sitter.Node
		var name string
		var kind types.Kind
		for _, c := range m.Captures {
			switch capName := q.CaptureNameForId(c.Index); capName {
			case "name":
				name = c.Node.Content(src)
			default:
				outer = c.Node
				kind = types.Kind(capName)
			}
		}
		if outer == nil {
			continue
		}

		symbols = append(symbols, types.Symbol{
			Name:      name,
			Kind:      kind,
			StartLine: int(outer.StartPoint().Row) + 1,
			EndLine:   int(outer.EndPoint().Row) + 1,
		})
	}
	return symbols, nil
}
