// Package highlight detects languages and renders code and diffs as HTML.
package highlight

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/pmezard/go-difflib/difflib"
)

// DefaultStyle is the chroma style used for previews.
const DefaultStyle = "github"

// Language returns the display name of the language detected for path and content.
func Language(path, content string) string {
	return lexerFor(path, content).Config().Name
}

// HTML renders content as a standalone highlighted block with line numbers.
func HTML(path, content, style string) (string, error) {
	return render(lexerFor(path, content), content, style, true)
}

// Diff returns a unified diff of before and after for path. Identical inputs give "".
func Diff(path, before, after string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: fmt.Sprintf("a/%s", path),
		ToFile:   fmt.Sprintf("b/%s", path),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", err
	}
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text, nil
}

// DiffHTML renders a unified diff with diff highlighting.
func DiffHTML(diff, style string) (string, error) {
	lexer := lexers.Get("diff")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return render(chroma.Coalesce(lexer), diff, style, false)
}

func render(lexer chroma.Lexer, content, style string, lineNumbers bool) (string, error) {
	st := styles.Get(style)
	if st == nil {
		st = styles.Fallback
	}
	formatter := html.New(
		html.WithClasses(false),
		html.WithLineNumbers(lineNumbers),
		html.TabWidth(4),
		html.PreventSurroundingPre(false),
	)
	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, st, iterator); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func lexerFor(path, content string) chroma.Lexer {
	var lexer chroma.Lexer
	if path != "" {
		lexer = lexers.Match(path)
	}
	if lexer == nil && strings.TrimSpace(content) != "" {
		lexer = lexers.Analyse(content)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}
