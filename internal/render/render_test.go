package render

import (
	"strings"
	"testing"

	"github.com/jcdickinson/implindex/internal/implreg"
)

func payload(source string, key implreg.TraitKey, paths ...string) implreg.Payload {
	g := implreg.Group{Trait: key}
	for i, p := range paths {
		g.Entries = append(g.Entries, implreg.Entry{Label: "impl Foo for " + p, Path: p, Order: i})
	}
	return implreg.Payload{Source: source, Groups: []implreg.Group{g}}
}

func TestRenderer_FlushOnAttach(t *testing.T) {
	t.Parallel()

	reg := implreg.New()
	reg.Submit(payload("a", "x::Foo", "A", "B"))
	reg.Submit(payload("b", "x::Foo", "B", "C"))

	r := New("", nil)
	if r.Ready() {
		t.Fatal("renderer should not be ready before Attach")
	}
	if _, ok := r.Markdown("x::Foo"); ok {
		t.Fatal("no page expected before Attach")
	}

	if !r.Attach(reg) {
		t.Fatal("Attach returned false")
	}
	if !r.Ready() {
		t.Fatal("renderer should be ready after Attach")
	}
	if r.Updates() != 2 {
		t.Errorf("Updates = %d, want 2", r.Updates())
	}

	md, ok := r.Markdown("x::Foo")
	if !ok {
		t.Fatal("expected rendered page")
	}
	for _, want := range []string{"trait: x::Foo", "implementors: 3", "- impl Foo for A\n- impl Foo for B\n- impl Foo for C\n"} {
		if !strings.Contains(md, want) {
			t.Errorf("page missing %q:\n%s", want, md)
		}
	}
}

func TestRenderer_LiveUpdates(t *testing.T) {
	t.Parallel()

	reg := implreg.New()
	r := New("", nil)
	r.Attach(reg)

	reg.Submit(payload("a", "x::Foo", "A"))
	reg.Submit(payload("b", "x::Bar", "Z"))
	reg.Submit(payload("c", "x::Foo", "B"))

	md, _ := r.Markdown("x::Foo")
	if !strings.Contains(md, "- impl Foo for A\n- impl Foo for B\n") {
		t.Errorf("unexpected Foo page:\n%s", md)
	}
	html, ok := r.HTML("x::Bar")
	if !ok || !strings.Contains(html, "impl Foo for Z") {
		t.Errorf("unexpected Bar html (ok=%v):\n%s", ok, html)
	}
}

func TestRenderer_AttachTwice(t *testing.T) {
	t.Parallel()

	reg := implreg.New()
	r := New("", nil)
	if !r.Attach(reg) {
		t.Fatal("first Attach failed")
	}
	if r.Attach(reg) {
		t.Error("second Attach should report false")
	}

	other := New("", nil)
	if other.Attach(reg) {
		t.Error("registry already has a consumer")
	}
	if other.Ready() {
		t.Error("renderer that failed to attach should not be ready")
	}
}

func TestRenderer_UnknownTrait(t *testing.T) {
	t.Parallel()

	r := New("", nil)
	r.Attach(implreg.New())
	md, ok := r.Markdown("x::Missing")
	if ok {
		t.Error("expected ok=false for unknown trait")
	}
	if !strings.Contains(md, "implementors: 0") || !strings.Contains(md, "No implementors registered") {
		t.Errorf("unexpected placeholder:\n%s", md)
	}
}
