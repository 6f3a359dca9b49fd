package fragment

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// LabelPart is either plain text or a hyperlinked item name from an
// implementor label.
type LabelPart struct {
	Text  string
	Href  string // set for anchors only
	Class string // rustdoc item class: "struct", "enum", "trait", ...
	Title string // e.g. "struct bdk_chain::DescriptorId"
}

// IsLink reports whether the part came from an <a> element.
func (p LabelPart) IsLink() bool { return p.Href != "" || p.Title != "" }

// SplitLabel tokenizes a rustdoc implementor label. Text is unescaped;
// markup other than anchors is discarded. Everything from a where clause on
// is dropped.
func SplitLabel(label string) []LabelPart {
	var parts []LabelPart
	z := html.NewTokenizer(strings.NewReader(label))
	var anchor *LabelPart

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return parts
			}
			if anchor != nil {
				parts = append(parts, *anchor)
			}
			return parts
		case html.TextToken:
			text := string(z.Text())
			if anchor != nil {
				anchor.Text += text
				continue
			}
			if i := strings.Index(text, " where "); i >= 0 {
				if i > 0 {
					parts = append(parts, LabelPart{Text: text[:i]})
				}
				return parts
			}
			parts = append(parts, LabelPart{Text: text})
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			attrs := readAttrs(z, hasAttr)
			if strings.Contains(attrs["class"], "where") {
				if anchor != nil {
					parts = append(parts, *anchor)
				}
				return parts
			}
			if string(name) == "a" {
				anchor = &LabelPart{Href: attrs["href"], Class: attrs["class"], Title: attrs["title"]}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "a" && anchor != nil {
				parts = append(parts, *anchor)
				anchor = nil
			}
		}
	}
}

func readAttrs(z *html.Tokenizer, more bool) map[string]string {
	attrs := make(map[string]string)
	for more {
		var k, v []byte
		k, v, more = z.TagAttr()
		attrs[string(k)] = string(v)
	}
	return attrs
}

// PlainLabel returns the label's text with all markup removed.
func PlainLabel(label string) string {
	var b strings.Builder
	for _, p := range SplitLabel(label) {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

var typeClasses = map[string]bool{
	"struct":      true,
	"enum":        true,
	"union":       true,
	"primitive":   true,
	"type":        true,
	"foreigntype": true,
	"trait":       true,
	"traitalias":  true,
}

// ImplTarget extracts the implementing type from an "impl ... for Type<..>"
// label. When the type is a linked item, path is the item's fully qualified
// path from its title and generics is the text that follows it. Otherwise the
// whole target text becomes the path. traitArgs is the trait's own generic
// argument list, "<u8>" for "impl From<u8> for X". All are empty when the
// label has no " for " clause.
func ImplTarget(label string) (path, generics, traitArgs string) {
	parts := SplitLabel(label)

	var head strings.Builder
	var target []LabelPart
	found := false
	depth := 0
	for _, p := range parts {
		if found {
			target = append(target, p)
			continue
		}
		if p.IsLink() {
			head.WriteString(p.Text)
			continue
		}
		i, d := topLevelFor(p.Text, depth)
		if i < 0 {
			depth = d
			head.WriteString(p.Text)
			continue
		}
		found = true
		head.WriteString(p.Text[:i])
		if rest := p.Text[i+len(" for "):]; rest != "" {
			target = append(target, LabelPart{Text: rest})
		}
	}
	if !found {
		return "", "", ""
	}
	traitArgs = genericArgsOf(head.String())

	for len(target) > 0 && !target[0].IsLink() && strings.TrimSpace(target[0].Text) == "" {
		target = target[1:]
	}
	if len(target) == 0 {
		return "", "", ""
	}

	if head := target[0]; head.IsLink() && typeClasses[head.Class] {
		if p := titlePath(head.Title); p != "" {
			var b strings.Builder
			for _, t := range target[1:] {
				b.WriteString(t.Text)
			}
			return p, strings.TrimSpace(b.String()), traitArgs
		}
	}

	var b strings.Builder
	for _, t := range target {
		b.WriteString(t.Text)
	}
	return strings.TrimSpace(b.String()), "", traitArgs
}

// topLevelFor finds " for " outside angle brackets in text, given the
// bracket depth at its start. It returns the index, or -1 and the depth at
// the end of text.
func topLevelFor(text string, depth int) (int, int) {
	for i := 0; i < len(text); i++ {
		if depth == 0 && strings.HasPrefix(text[i:], " for ") {
			return i, depth
		}
		switch text[i] {
		case '<':
			depth++
		case '>':
			if i > 0 && text[i-1] == '-' {
				continue
			}
			if depth > 0 {
				depth--
			}
		}
	}
	return -1, depth
}

// genericArgsOf returns the trait's argument list from the text preceding
// " for ": "impl<T: Into<u8>> From<T>" gives "<T>".
func genericArgsOf(head string) string {
	s := strings.TrimSpace(head)
	s = strings.TrimPrefix(s, "unsafe ")
	s = strings.TrimPrefix(s, "impl")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		depth := 0
	skip:
		for i := 0; i < len(s); i++ {
			switch s[i] {
			case '<':
				depth++
			case '>':
				if i > 0 && s[i-1] == '-' {
					continue
				}
				depth--
				if depth == 0 {
					s = s[i+1:]
					break skip
				}
			}
		}
	}
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '<'); i >= 0 {
		return strings.TrimSpace(s[i:])
	}
	return ""
}

// titlePath turns "struct bdk_chain::DescriptorId" into "bdk_chain::DescriptorId".
func titlePath(title string) string {
	title = strings.TrimSpace(title)
	if _, after, ok := strings.Cut(title, " "); ok {
		return strings.TrimSpace(after)
	}
	return title
}
