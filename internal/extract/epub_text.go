package extract

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockTags is the set of elements that insert a line break during text
// extraction, so words across block boundaries do not run together.
var blockTags = map[atom.Atom]bool{
	atom.P:          true,
	atom.Br:         true,
	atom.Div:        true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Tr:         true,
	atom.Blockquote: true,
	atom.Hr:         true,
	atom.Section:    true,
	atom.Article:    true,
}

// skipTags is the set of elements whose text content is never visible.
var skipTags = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Iframe: true,
	atom.Video:  true,
	atom.Form:   true,
	atom.Button: true,
	atom.Input:  true,
}

// extractText pulls visible text from an XHTML chapter using a streaming
// tokenizer, which tolerates most malformed markup.
func extractText(data []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(stripBOM(data)))
	var b strings.Builder
	depth := 0 // nesting depth inside skipTags elements

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return b.String(), nil
			}
			return b.String(), z.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] && tt == html.StartTagToken {
				depth++
			}
			if blockTags[a] {
				b.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] && depth > 0 {
				depth--
			}
			if blockTags[a] {
				b.WriteByte('\n')
			}

		case html.TextToken:
			if depth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// stripTags is the degrade path for chapters whose markup defeats even the
// tokenizer: drop everything between angle brackets and keep the rest.
func stripTags(data []byte) string {
	var b strings.Builder
	inTag := false
	for _, r := range string(stripBOM(data)) {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
