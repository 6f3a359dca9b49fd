package markdown

import (
	"strings"
	"testing"
)

func mapRewrite(m map[string]string) func(string) (string, bool) {
	return func(dest string) (string, bool) {
		to, ok := m[dest]
		return to, ok
	}
}

func TestRewriteLinks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		rewrite func(string) (string, bool)
		want    string
	}{
		{
			name:    "inline",
			src:     "See [Foo](old/path) for details.",
			rewrite: mapRewrite(map[string]string{"old/path": "https://docs.rs/crate/1.0/crate/struct.Foo.html"}),
			want:    "See [Foo](https://docs.rs/crate/1.0/crate/struct.Foo.html) for details.",
		},
		{
			name:    "nil_func",
			src:     "Hello [world](url).",
			rewrite: nil,
			want:    "Hello [world](url).",
		},
		{
			name:    "no_match",
			src:     "Check [this](keep-me) out.",
			rewrite: mapRewrite(map[string]string{"other": "rsimpl://x"}),
			want:    "Check [this](keep-me) out.",
		},
		{
			name:    "multiple",
			src:     "[A](a-dest) and [B](b-dest), [A again](a-dest).",
			rewrite: mapRewrite(map[string]string{"a-dest": "rsimpl://a", "b-dest": "rsimpl://b"}),
			want:    "[A](rsimpl://a) and [B](rsimpl://b), [A again](rsimpl://a).",
		},
		{
			name:    "plain_text_untouched",
			src:     "a-dest is mentioned, [A](a-dest) is linked.",
			rewrite: mapRewrite(map[string]string{"a-dest": "rsimpl://a"}),
			want:    "a-dest is mentioned, [A](rsimpl://a) is linked.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RewriteLinks(tt.src, tt.rewrite); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRelativeTo(t *testing.T) {
	t.Parallel()

	if RelativeTo("") != nil {
		t.Fatal("empty base should disable rewriting")
	}

	rel := RelativeTo("https://docs.rs/bdk_chain/0.1.0")
	tests := []struct {
		dest string
		want string
		ok   bool
	}{
		{"bdk_chain/enum.ObservedIn.html", "https://docs.rs/bdk_chain/0.1.0/bdk_chain/enum.ObservedIn.html", true},
		{"./core/cmp/trait.Ord.html", "https://docs.rs/bdk_chain/0.1.0/core/cmp/trait.Ord.html", true},
		{"https://doc.rust-lang.org/core/cmp/trait.Ord.html", "", false},
		{"/src/lib.rs", "", false},
		{"#impl", "", false},
	}
	for _, tt := range tests {
		got, ok := rel(tt.dest)
		if got != tt.want || ok != tt.ok {
			t.Errorf("rel(%q) = %q, %v; want %q, %v", tt.dest, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAddFrontMatter(t *testing.T) {
	t.Parallel()

	t.Run("basic", func(t *testing.T) {
		got := AddFrontMatter("# Doc", map[string]string{"trait": "core::cmp::PartialOrd"})
		if !strings.HasPrefix(got, "---\n") {
			t.Error("missing opening ---")
		}
		if !strings.Contains(got, "trait: core::cmp::PartialOrd") {
			t.Error("missing trait entry")
		}
		if !strings.HasSuffix(got, "# Doc") {
			t.Error("original content missing")
		}
	})

	t.Run("sorted_keys", func(t *testing.T) {
		got := AddFrontMatter("body", map[string]string{
			"zeta":  "rsimpl://z",
			"alpha": "rsimpl://a",
		})
		aIdx := strings.Index(got, "alpha")
		zIdx := strings.Index(got, "zeta")
		if aIdx > zIdx {
			t.Error("keys not sorted alphabetically")
		}
	})

	t.Run("quoting", func(t *testing.T) {
		got := AddFrontMatter("body", map[string]string{
			"plain":  "core::cmp::PartialOrd",
			"colon":  "a: b",
			"hash":   "x # y",
			"leader": "-dash",
			"empty":  "",
		})
		for _, want := range []string{
			"plain: core::cmp::PartialOrd\n",
			`colon: "a: b"` + "\n",
			`hash: "x # y"` + "\n",
			`leader: "-dash"` + "\n",
			`empty: ""` + "\n",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("missing %q in %q", want, got)
			}
		}
	})

	t.Run("empty_map", func(t *testing.T) {
		got := AddFrontMatter("body", nil)
		if got != "body" {
			t.Errorf("expected unchanged for empty map, got %q", got)
		}
	})
}
