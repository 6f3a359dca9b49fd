package markdown

import (
	"sort"
	"strconv"
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	gmparser "github.com/gomarkdown/markdown/parser"
)

// RewriteLinks replaces inline link destinations for which rewrite returns
// true. Destinations are found by walking the parsed document, then replaced
// textually so the rest of the source keeps its formatting.
func RewriteLinks(src string, rewrite func(dest string) (string, bool)) string {
	if rewrite == nil {
		return src
	}

	doc := gm.Parse([]byte(src), gmparser.NewWithExtensions(gmparser.CommonExtensions))

	replaced := make(map[string]string)
	var order []string
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		link, ok := node.(*ast.Link)
		if !entering || !ok {
			return ast.GoToNext
		}
		dest := string(link.Destination)
		if _, done := replaced[dest]; done {
			return ast.GoToNext
		}
		if to, ok := rewrite(dest); ok && to != dest {
			replaced[dest] = to
			order = append(order, dest)
		}
		return ast.GoToNext
	})

	if len(order) == 0 {
		return src
	}
	pairs := make([]string, 0, 2*len(order))
	for _, dest := range order {
		pairs = append(pairs, "]("+dest+")", "]("+replaced[dest]+")")
	}
	return strings.NewReplacer(pairs...).Replace(src)
}

// RelativeTo returns a rewrite func that resolves relative destinations
// against base. Absolute URLs and rooted paths are left alone.
func RelativeTo(base string) func(string) (string, bool) {
	if base == "" {
		return nil
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return func(dest string) (string, bool) {
		if dest == "" || strings.Contains(dest, "://") || strings.HasPrefix(dest, "/") || strings.HasPrefix(dest, "#") {
			return "", false
		}
		return base + strings.TrimPrefix(dest, "./"), true
	}
}

// AddFrontMatter prepends a YAML front-matter block with the given fields,
// sorted by key. Values that YAML would misread are quoted.
func AddFrontMatter(src string, fields map[string]string) string {
	if len(fields) == 0 {
		return src
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("---\n")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(yamlScalar(fields[k]))
		b.WriteString("\n")
	}
	b.WriteString("---\n\n")
	b.WriteString(src)
	return b.String()
}

func yamlScalar(v string) string {
	if v == "" || strings.ContainsAny(v, "#\"'\n") || strings.Contains(v, ": ") ||
		strings.ContainsAny(v[:1], "-?:,[]{}&*!|>%@` ") || strings.HasSuffix(v, ":") {
		return strconv.Quote(v)
	}
	return v
}
