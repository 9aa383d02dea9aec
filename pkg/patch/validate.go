package patch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// languages maps file extensions to tree-sitter grammars.
var languages = map[string]func() *sitter.Language{
	".swift": swift.GetLanguage,
	".kt":    kotlin.GetLanguage,
	".kts":   kotlin.GetLanguage,
	".js":    javascript.GetLanguage,
	".jsx":   javascript.GetLanguage,
	".mjs":   javascript.GetLanguage,
	".ts":    typescript.GetLanguage,
	".tsx":   tsx.GetLanguage,
}

// Validate checks that after parses no worse than before. Files with a
// tree-sitter grammar are reparsed; Dart gets a delimiter balance check;
// anything else passes.
func Validate(ctx context.Context, path string, before, after []byte) error {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languages[ext]; ok {
		return validateTree(ctx, lang(), path, before, after)
	}
	if ext == ".dart" {
		return validateBalance(path, before, after)
	}
	return nil
}

// Validated lists the extensions Validate actually checks.
func Validated() []string {
	out := []string{".dart"}
	for ext := range languages {
		out = append(out, ext)
	}
	return out
}

func validateTree(ctx context.Context, lang *sitter.Language, path string, before, after []byte) error {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	was, err := syntaxErrors(ctx, parser, before)
	if err != nil {
		return core.ErrSyntaxBroken.Messagef("parse %s before patch", path).WithCause(err)
	}
	now, err := syntaxErrors(ctx, parser, after)
	if err != nil {
		return core.ErrSyntaxBroken.Messagef("parse %s after patch", path).WithCause(err)
	}
	if now > was {
		return core.ErrSyntaxBroken.
			Messagef("%s: patch introduces %d syntax errors", path, now-was).
			WithDetails(map[string]interface{}{"before": was, "after": now})
	}
	return nil
}

// syntaxErrors counts ERROR and MISSING nodes.
func syntaxErrors(ctx context.Context, parser *sitter.Parser, src []byte) (int, error) {
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return 0, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return 0, nil
	}
	count := 0
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.IsError() || n.IsMissing() {
			count++
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return count, nil
}

func validateBalance(path string, before, after []byte) error {
	was := balanceProblem(string(before))
	now := balanceProblem(string(after))
	if now != "" && was == "" {
		return core.ErrSyntaxBroken.Messagef("%s: %s", path, now)
	}
	return nil
}

// balanceProblem scans C-family source and describes the first unbalanced
// delimiter, or returns "". String literals (including Dart triple-quoted
// and raw strings) and comments are skipped. Interpolations inside strings
// are not parsed.
func balanceProblem(src string) string {
	var stack []rune
	line := 1
	closers := map[rune]rune{')': '(', ']': '[', '}': '{'}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\n':
			line++
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			line++
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return fmt.Sprintf("unterminated comment at line %d", line)
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 3
		case c == '\'' || c == '"':
			raw := i > 0 && src[i-1] == 'r'
			n, ok := skipString(src[i:], raw)
			if !ok {
				return fmt.Sprintf("unterminated string at line %d", line)
			}
			line += strings.Count(src[i:i+n], "\n")
			i += n - 1
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, rune(c))
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 || stack[len(stack)-1] != closers[rune(c)] {
				return fmt.Sprintf("unexpected %q at line %d", c, line)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Sprintf("%d unclosed delimiters at end of file", len(stack))
	}
	return ""
}

// skipString returns the length of the string literal at the start of s.
func skipString(s string, raw bool) (int, bool) {
	q := s[0]
	triple := strings.Repeat(string(q), 3)
	if strings.HasPrefix(s, triple) {
		end := strings.Index(s[3:], triple)
		if end < 0 {
			return 0, false
		}
		return end + 6, true
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if !raw {
				i++
			}
		case '\n':
			return 0, false
		case q:
			return i + 1, true
		}
	}
	return 0, false
}
