package envelope

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML reduces markup to readable plain text. Block elements and
// <br> become line breaks; script and style contents are dropped.
func StripHTML(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))

	var (
		b    strings.Builder
		skip int
	)
	newline := func() {
		s := b.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidy(b.String())

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				if tt == html.StartTagToken {
					skip++
				}
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote":
				newline()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote":
				newline()
			}

		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			s := b.String()
			if s != "" && !strings.HasSuffix(s, "\n") && !strings.HasSuffix(s, " ") {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// ContainsMarkup reports whether body looks like HTML.
func ContainsMarkup(body string) bool {
	lower := strings.ToLower(body)
	for _, tag := range []string{"<html", "<body", "<p", "<br", "<div", "<span", "<a ", "<b>", "<i>", "<table"} {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	return false
}
