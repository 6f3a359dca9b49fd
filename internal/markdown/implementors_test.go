package markdown

import (
	"strings"
	"testing"

	"github.com/jcdickinson/implindex/internal/implreg"
)

const observedIn = `impl <a class="trait" href="https://doc.rust-lang.org/nightly/core/cmp/trait.PartialOrd.html" title="trait core::cmp::PartialOrd">PartialOrd</a> for <a class="enum" href="bdk_chain/enum.ObservedIn.html" title="enum bdk_chain::ObservedIn">ObservedIn</a>`

func TestLabelToMarkdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		label string
		want  string
	}{
		{
			"anchors",
			observedIn,
			"impl [PartialOrd](https://doc.rust-lang.org/nightly/core/cmp/trait.PartialOrd.html) for [ObservedIn](bdk_chain/enum.ObservedIn.html)",
		},
		{
			"generics_escaped",
			`impl&lt;T&gt; Foo for <a class="struct" href="a/struct.Bar.html" title="struct a::Bar">Bar</a>&lt;T&gt;`,
			`impl\<T\> Foo for [Bar](a/struct.Bar.html)\<T\>`,
		},
		{
			"title_only",
			`impl Foo for <a class="struct" title="struct a::b::Baz">Baz</a>`,
			"impl Foo for [Baz](a/b/struct.Baz.html)",
		},
		{
			"where_dropped",
			`impl&lt;T&gt; Foo for Bar&lt;T&gt;<div class="where">where T: Foo</div>`,
			`impl\<T\> Foo for Bar\<T\>`,
		},
		{
			"plain",
			"impl Foo for u8_t",
			`impl Foo for u8\_t`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := LabelToMarkdown(tt.label); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestItemHref(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"struct bdk_chain::DescriptorId": "bdk_chain/struct.DescriptorId.html",
		"trait core::cmp::PartialOrd":    "core/cmp/trait.PartialOrd.html",
		"primitive u8":                   "primitive.u8.html",
		"nospace":                        "",
		"struct a::::b":                  "",
	}
	for title, want := range tests {
		if got := ItemHref(title); got != want {
			t.Errorf("ItemHref(%q) = %q, want %q", title, got, want)
		}
	}
}

func TestRenderImplementors(t *testing.T) {
	t.Parallel()

	entries := []implreg.Entry{
		{Label: observedIn, Path: "bdk_chain::ObservedIn", Crate: "bdk_chain"},
		{Label: "impl Foo for Bar", Path: "Bar"},
	}

	t.Run("relative_links", func(t *testing.T) {
		got := RenderImplementors("core::cmp::PartialOrd", entries, "")
		if !strings.HasPrefix(got, "# Implementors of `core::cmp::PartialOrd`\n\n") {
			t.Errorf("missing header: %q", got)
		}
		if !strings.Contains(got, "- impl [PartialOrd](https://doc.rust-lang.org/nightly/core/cmp/trait.PartialOrd.html) for [ObservedIn](bdk_chain/enum.ObservedIn.html) (bdk\\_chain)\n") {
			t.Errorf("first entry not rendered: %q", got)
		}
		if !strings.HasSuffix(got, "- impl Foo for Bar\n") {
			t.Errorf("second entry not last: %q", got)
		}
	})

	t.Run("link_base", func(t *testing.T) {
		got := RenderImplementors("core::cmp::PartialOrd", entries, "https://docs.rs/bdk_chain/latest")
		if !strings.Contains(got, "(https://docs.rs/bdk_chain/latest/bdk_chain/enum.ObservedIn.html)") {
			t.Errorf("relative link not rewritten: %q", got)
		}
		if !strings.Contains(got, "(https://doc.rust-lang.org/nightly/core/cmp/trait.PartialOrd.html)") {
			t.Errorf("absolute link should be untouched: %q", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		got := RenderImplementors("a::B", nil, "")
		if !strings.Contains(got, "No implementors registered") {
			t.Errorf("expected placeholder, got %q", got)
		}
	})
}

func TestToHTML(t *testing.T) {
	t.Parallel()

	got := ToHTML("# Implementors\n\n- impl [Foo](a/struct.Foo.html)\n")
	if !strings.Contains(got, "<h1") {
		t.Errorf("missing heading: %q", got)
	}
	if !strings.Contains(got, `href="a/struct.Foo.html"`) {
		t.Errorf("missing link: %q", got)
	}
	if !strings.Contains(got, "<li>") {
		t.Errorf("missing list item: %q", got)
	}
}
