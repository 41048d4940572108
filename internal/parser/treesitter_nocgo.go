//go:build !cgo

package parser

import "github.com/dshills/nexus/pkg/types"

// Without cgo there are no tree-sitter grammars; every language except Go
// uses the regex table.
type treeSitter struct{}

func newTreeSitter() *treeSitter {
	return &treeSitter{}
}

func (t *treeSitter) supports(string) bool {
	return false
}

func (t *treeSitter) symbols(string, []byte) ([]types.Symbol, error) {
	return nil, nil
}
