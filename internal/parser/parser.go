package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"

	"github.com/dshills/nexus/pkg/types"
)

// Parser extracts top-level symbol spans from source files.
//
// Go files are parsed with go/ast. Python, JavaScript and TypeScript use
// tree-sitter grammars when the binary is built with cgo. Everything else,
// and any file the grammar-based paths cannot handle, falls back to the
// line-anchored regex table.
type Parser struct {
	trees *treeSitter
}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{
		trees: newTreeSitter(),
	}
}

// Parse extracts symbols from src. language is a tag from DetectLanguage;
// an empty tag yields no symbols.
func (p *Parser) Parse(language string, src []byte) *types.ParseResult {
	result := &types.ParseResult{Language: language}
	if language == "" || len(src) == 0 {
		return result
	}

	switch {
	case language == "go":
		syms, err := goSymbols(src)
		if err != nil {
			// Syntax errors are non-fatal; keep whatever the partial AST produced
			result.Errors = append(result.Errors, err.Error())
		}
		if len(syms) == 0 && err != nil {
			syms = regexSymbols(language, src)
		}
		result.Symbols = syms
	case p.trees.supports(language):
		syms, err := p.trees.symbols(language, src)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			syms = regexSymbols(language, src)
		}
		result.Symbols = syms
	default:
		result.Symbols = regexSymbols(language, src)
	}

	result.Symbols = outermost(result.Symbols)
	return result
}

// outermost sorts symbols by position and drops any symbol nested inside an
// earlier one, so the remaining spans never overlap.
func outermost(symbols []types.Symbol) []types.Symbol {
	if len(symbols) <= 1 {
		return symbols
	}

	sort.SliceStable(symbols, func(i, j int) bool {
		if symbols[i].StartLine != symbols[j].StartLine {
			return symbols[i].StartLine < symbols[j].StartLine
		}
		return symbols[i].EndLine > symbols[j].EndLine
	})

	result := make([]types.Symbol, 0, len(symbols))
	lastEnd := 0
	for _, s := range symbols {
		if s.StartLine <= lastEnd {
			continue
		}
		result = append(result, s)
		lastEnd = s.EndLine
	}
	return result
}

// goSymbols walks top-level declarations of a Go file
func goSymbols(src []byte) ([]types.Symbol, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", src, parser.ParseComments)
	if file == nil {
		return nil, fmt.Errorf("syntax error: %w", err)
	}

	e := &symbolExtractor{fset: fset}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}

	if err != nil {
		return e.symbols, fmt.Errorf("syntax error: %w", err)
	}
	return e.symbols, nil
}

// symbolExtractor collects symbols from Go declarations
type symbolExtractor struct {
	fset    *token.FileSet
	symbols []types.Symbol
}

// extractFunction extracts function and method declarations
func (e *symbolExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	kind := types.KindFunction
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		kind = types.KindMethod
	}

	e.add(funcDecl.Name.Name, kind, funcDecl.Doc, funcDecl.Pos(), funcDecl.End())
}

// extractGenDecl extracts type declarations. A parenthesized group becomes
// one span named after its first type.
func (e *symbolExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	if genDecl.Tok != token.TYPE || len(genDecl.Specs) == 0 {
		return
	}

	typeSpec, ok := genDecl.Specs[0].(*ast.TypeSpec)
	if !ok {
		return
	}

	kind := types.KindType
	switch typeSpec.Type.(type) {
	case *ast.StructType:
		kind = types.KindClass
	case *ast.InterfaceType:
		kind = types.KindInterface
	}

	e.add(typeSpec.Name.Name, kind, genDecl.Doc, genDecl.Pos(), genDecl.End())
}

// add records a symbol, extending its span upward over its doc comment
func (e *symbolExtractor) add(name string, kind types.Kind, doc *ast.CommentGroup, start, end token.Pos) {
	if doc != nil && doc.Pos() < start {
		start = doc.Pos()
	}

	e.symbols = append(e.symbols, types.Symbol{
		Name:      name,
		Kind:      kind,
		StartLine: e.fset.Position(start).Line,
		EndLine:   e.fset.Position(end).Line,
	})
}
