package markdown

import (
	"fmt"
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	gmparser "github.com/gomarkdown/markdown/parser"
	"github.com/jcdickinson/implindex/internal/fragment"
	"github.com/jcdickinson/implindex/internal/implreg"
)

var mdEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"<", `\<`,
	">", `\>`,
)

// LabelToMarkdown converts a rustdoc implementor label into inline markdown.
// Anchors become links; anchors without an href get rustdoc's relative item
// path derived from their title.
func LabelToMarkdown(label string) string {
	var b strings.Builder
	for _, p := range fragment.SplitLabel(label) {
		text := mdEscaper.Replace(p.Text)
		if !p.IsLink() {
			b.WriteString(text)
			continue
		}
		href := p.Href
		if href == "" {
			href = ItemHref(p.Title)
		}
		if href == "" {
			b.WriteString(text)
			continue
		}
		fmt.Fprintf(&b, "[%s](%s)", text, href)
	}
	return strings.TrimSpace(b.String())
}

// ItemHref turns a rustdoc anchor title such as "struct a::b::C" into the
// relative page path "a/b/struct.C.html".
func ItemHref(title string) string {
	kind, path, ok := strings.Cut(strings.TrimSpace(title), " ")
	if !ok || kind == "" {
		return ""
	}
	segs := strings.Split(strings.TrimSpace(path), "::")
	for _, s := range segs {
		if s == "" {
			return ""
		}
	}
	last := len(segs) - 1
	dir := strings.Join(segs[:last], "/")
	if dir != "" {
		dir += "/"
	}
	return dir + kind + "." + segs[last] + ".html"
}

// RenderImplementors renders the implementor list of a trait as a markdown
// page. Relative links are prefixed with linkBase when it is set.
func RenderImplementors(key implreg.TraitKey, entries []implreg.Entry, linkBase string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Implementors of `%s`\n\n", key)
	if len(entries) == 0 {
		b.WriteString("_No implementors registered._\n")
		return b.String()
	}

	for _, e := range entries {
		line := LabelToMarkdown(e.Label)
		if line == "" {
			line = mdEscaper.Replace(e.Identity())
		}
		b.WriteString("- ")
		b.WriteString(line)
		if e.Crate != "" {
			fmt.Fprintf(&b, " (%s)", mdEscaper.Replace(e.Crate))
		}
		b.WriteString("\n")
	}
	return RewriteLinks(b.String(), RelativeTo(linkBase))
}

// ToHTML renders markdown to an HTML fragment.
func ToHTML(md string) string {
	p := gmparser.NewWithExtensions(gmparser.CommonExtensions | gmparser.Autolink)
	r := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return string(gm.ToHTML([]byte(md), p, r))
}
