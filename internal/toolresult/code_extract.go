package toolresult

import (
	"regexp"
	"strings"
)

// extensionToLanguage is a small subset of the original's
// EXTENSION_TO_LANGUAGE table, enough to drive the definition regexes
// below for the languages this corpus's tools most commonly touch.
var extensionToLanguage = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
}

func detectLanguage(filename string) string {
	for ext, lang := range extensionToLanguage {
		if strings.HasSuffix(filename, ext) {
			return lang
		}
	}
	return ""
}

// definitionPattern pairs a regex whose first capture group is the
// definition's name with the def_type label to report for a match.
type definitionPattern struct {
	re      *regexp.Regexp
	defType string
}

var definitionPatterns = map[string][]definitionPattern{
	"go": {
		{regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?(\w+)`), "function"},
		{regexp.MustCompile(`^type\s+(\w+)\s+struct`), "struct"},
		{regexp.MustCompile(`^type\s+(\w+)\s+interface`), "interface"},
	},
	"python": {
		{regexp.MustCompile(`^\s*def\s+(\w+)`), "function"},
		{regexp.MustCompile(`^\s*class\s+(\w+)`), "class"},
	},
	"javascript": {
		{regexp.MustCompile(`^\s*function\s+(\w+)`), "function"},
		{regexp.MustCompile(`^\s*class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:\([^)]*\)|[\w,\s]*)\s*=>`), "function"},
	},
	"typescript": {
		{regexp.MustCompile(`^\s*function\s+(\w+)`), "function"},
		{regexp.MustCompile(`^\s*class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^\s*interface\s+(\w+)`), "interface"},
		{regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:\([^)]*\)|[\w,\s]*)\s*=>`), "function"},
	},
}

// extractDefinitions is a regex-based fallback standing in for the
// original's tree-sitter extraction (§12): good enough to name the
// top-level functions/classes/types a recovery section should point the
// LLM back at, not a full parser.
func extractDefinitions(content, language string, maxItems int) []codeDef {
	patterns := definitionPatterns[language]
	if len(patterns) == 0 {
		return nil
	}
	var defs []codeDef
	for i, line := range strings.Split(content, "\n") {
		if len(defs) >= maxItems {
			break
		}
		for _, p := range patterns {
			if match := p.re.FindStringSubmatch(line); match != nil {
				defs = append(defs, codeDef{Type: p.defType, Name: match[1], Line: i + 1})
				break
			}
		}
	}
	return defs
}
