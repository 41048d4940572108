package parser

import (
	"regexp"
	"strings"

	"github.com/dshills/nexus/pkg/types"
)

// Each pattern captures the declaring keyword and the symbol name. Patterns
// are anchored at line starts so expressions inside bodies do not match.
var symbolPatterns = map[string]*regexp.Regexp{
	"typescript": regexp.MustCompile(`(?m)^[ \t]*(?:export[ \t]+)?(?:default[ \t]+)?(?:declare[ \t]+)?(?:abstract[ \t]+)?(?:async[ \t]+)?(function|class|interface|type|enum)[ \t]+(\w+)`),
	"javascript": regexp.MustCompile(`(?m)^[ \t]*(?:export[ \t]+)?(?:default[ \t]+)?(?:async[ \t]+)?(function|class)[ \t]*\*?[ \t]*(\w+)`),
	"python":     regexp.MustCompile(`(?m)^[ \t]*(?:async[ \t]+)?(def|class)[ \t]+(\w+)`),
	"rust":       regexp.MustCompile(`(?m)^[ \t]*(?:pub(?:\([^)]*\))?[ \t]+)?(?:async[ \t]+)?(?:unsafe[ \t]+)?(fn|struct|enum|impl|trait|mod)[ \t]+(\w+)`),
	"go":         regexp.MustCompile(`(?m)^(func|type)[ \t]+(?:\([^)]*\)[ \t]*)?(\w+)`),
	"java":       regexp.MustCompile(`(?m)^[ \t]*(?:(?:public|private|protected|static|final|abstract)[ \t]+)*(class|interface|enum|record)[ \t]+(\w+)`),
	"kotlin":     regexp.MustCompile(`(?m)^[ \t]*(?:(?:public|private|internal|data|open|abstract|suspend)[ \t]+)*(fun|class|interface|object)[ \t]+(\w+)`),
	"ruby":       regexp.MustCompile(`(?m)^[ \t]*(def|class|module)[ \t]+(?:self\.)?(\w+)`),
	"php":        regexp.MustCompile(`(?m)^[ \t]*(?:(?:public|private|protected|static|abstract|final)[ \t]+)*(function|class|interface|trait)[ \t]+(\w+)`),
	"csharp":     regexp.MustCompile(`(?m)^[ \t]*(?:(?:public|private|protected|internal|static|sealed|abstract|partial)[ \t]+)*(class|interface|struct|enum|record)[ \t]+(\w+)`),
	"swift":      regexp.MustCompile(`(?m)^[ \t]*(?:(?:public|private|internal|open|final)[ \t]+)*(func|class|struct|protocol|enum|extension)[ \t]+(\w+)`),
	"scala":      regexp.MustCompile(`(?m)^[ \t]*(?:(?:case|abstract|sealed|final)[ \t]+)*(def|class|object|trait)[ \t]+(\w+)`),
	"lua":        regexp.MustCompile(`(?m)^[ \t]*(?:local[ \t]+)?(function)[ \t]+([\w.:]+)`),
	"shell":      regexp.MustCompile(`(?m)^[ \t]*(function)[ \t]+(\w+)`),
}

// keywordKind maps a declaring keyword to a chunk kind
func keywordKind(keyword string) types.Kind {
	switch keyword {
	case "function", "def", "fn", "func", "fun":
		return types.KindFunction
	case "class", "struct", "enum", "impl", "trait", "object", "record", "module", "mod", "extension":
		return types.KindClass
	case "interface", "protocol":
		return types.KindInterface
	case "type":
		return types.KindType
	default:
		return types.KindBlock
	}
}

// regexSymbols finds declaration lines. A symbol spans from its declaration
// to the line before the next kept declaration, or to the last line.
func regexSymbols(language string, src []byte) []types.Symbol {
	pattern, ok := symbolPatterns[language]
	if !ok {
		return nil
	}

	text := string(src)
	matches := pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	totalLines := countLines(text)
	symbols := make([]types.Symbol, 0, len(matches))
	lastIndent := -1
	for _, m := range matches {
		prefix := text[m[0]:m[2]]
		indent := len(prefix) - len(strings.TrimLeft(prefix, " \t"))
		// Deeper-indented declarations belong to the previous symbol
		if lastIndent >= 0 && indent > lastIndent {
			continue
		}
		lastIndent = indent

		keyword := text[m[2]:m[3]]
		name := text[m[4]:m[5]]
		line := strings.Count(text[:m[0]], "\n") + 1
		symbols = append(symbols, types.Symbol{
			Name:      name,
			Kind:      keywordKind(keyword),
			StartLine: line,
		})
	}

	for i := range symbols {
		if i+1 < len(symbols) {
			symbols[i].EndLine = symbols[i+1].StartLine - 1
		} else {
			symbols[i].EndLine = totalLines
		}
		if symbols[i].EndLine < symbols[i].StartLine {
			symbols[i].EndLine = symbols[i].StartLine
		}
	}
	return symbols
}

// countLines counts lines the way the chunker splits them: a trailing
// newline does not start a new line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
