package docs

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/jcdickinson/implindex/internal/implreg"
)

// CollectImplementors builds a payload of every trait impl defined in the
// local crate. Impls are visited in ascending item id order so the payload
// is deterministic; synthetic (auto trait) impls are skipped.
func CollectImplementors(crate *RustdocCrate, crateName, source string) implreg.Payload {
	p := implreg.Payload{Source: source}
	groups := make(map[implreg.TraitKey]int)
	order := 0

	for _, id := range sortedIDs(crate.Index) {
		item := crate.Index[id]
		if item.CrateID != 0 {
			continue
		}
		implInner := unwrapInner(item.Inner, "impl")
		if implInner == nil {
			continue
		}

		var impl struct {
			Trait       *traitRef       `json:"trait"`
			For         json.RawMessage `json:"for"`
			IsSynthetic bool            `json:"is_synthetic"`
			IsNegative  bool            `json:"is_negative"`
			Synthetic   bool            `json:"synthetic"`
			Negative    bool            `json:"negative"`
		}
		if err := json.Unmarshal(implInner, &impl); err != nil || impl.Trait == nil {
			continue
		}
		if impl.IsSynthetic || impl.Synthetic {
			continue
		}

		key, traitName := impl.Trait.resolve(crate)
		if key == "" {
			continue
		}

		traitArgs := formatGenericArgs(impl.Trait.Args, crate)
		e := implEntry(impl.For, crate, traitName, string(key), traitArgs, impl.IsNegative || impl.Negative)
		e.Crate = crateName
		e.Order = order
		order++

		gi, ok := groups[key]
		if !ok {
			gi = len(p.Groups)
			groups[key] = gi
			p.Groups = append(p.Groups, implreg.Group{Trait: key})
		}
		p.Groups[gi].Entries = append(p.Groups[gi].Entries, e)
	}
	return p
}

type traitRef struct {
	Name string          `json:"name"`
	Path string          `json:"path"`
	ID   json.RawMessage `json:"id"`
	Args json.RawMessage `json:"args"`
}

// resolve returns the fully qualified trait path and its short display name.
func (t *traitRef) resolve(crate *RustdocCrate) (implreg.TraitKey, string) {
	name := t.Name
	if name == "" {
		name = t.Path
	}
	if summary, ok := crate.Paths[idKey(t.ID)]; ok && len(summary.Path) > 0 {
		short := summary.Path[len(summary.Path)-1]
		return implreg.TraitKey(strings.Join(summary.Path, "::")), short
	}
	if strings.Contains(name, "::") {
		segs := strings.Split(name, "::")
		return implreg.TraitKey(name), segs[len(segs)-1]
	}
	return "", name
}

// implEntry builds an entry whose label mirrors rustdoc's HTML labels, so the
// same identity rules apply to entries from JSON and from trait.impl files.
func implEntry(forJSON json.RawMessage, crate *RustdocCrate, traitName, traitPath, traitArgs string, negative bool) implreg.Entry {
	var b strings.Builder
	b.WriteString("impl ")
	if negative {
		b.WriteString("!")
	}
	fmt.Fprintf(&b, `<a class="trait" title="trait %s">%s</a>%s for `,
		html.EscapeString(traitPath), html.EscapeString(traitName), html.EscapeString(traitArgs))

	e := implreg.Entry{TraitArgs: traitArgs}
	if path, short, kind, args, ok := resolvedPath(forJSON, crate); ok {
		e.Path = path
		e.Generics = args
		fmt.Fprintf(&b, `<a class="%s" title="%s %s">%s</a>%s`,
			kind, kind, html.EscapeString(path), html.EscapeString(short), html.EscapeString(args))
	} else {
		e.Path = typeText(forJSON, crate)
		b.WriteString(html.EscapeString(e.Path))
	}
	e.Label = b.String()
	return e
}

// resolvedPath handles the common case of `impl Trait for some::Type<..>`.
func resolvedPath(typeJSON json.RawMessage, crate *RustdocCrate) (path, short, kind, args string, ok bool) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(typeJSON, &outer); err != nil {
		return
	}
	resolved, found := outer["resolved_path"]
	if !found {
		return
	}
	var rp struct {
		Name string           `json:"name"`
		Path string           `json:"path"`
		ID   json.RawMessage  `json:"id"`
		Args *json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(resolved, &rp); err != nil {
		return
	}

	kind = "struct"
	if summary, found := crate.Paths[idKey(rp.ID)]; found && len(summary.Path) > 0 {
		path = strings.Join(summary.Path, "::")
		short = summary.Path[len(summary.Path)-1]
		kind = itemClass(summary.Kind)
	} else {
		path = rp.Name
		if path == "" {
			path = rp.Path
		}
		segs := strings.Split(path, "::")
		short = segs[len(segs)-1]
	}
	if path == "" {
		return
	}
	if rp.Args != nil {
		args = formatGenericArgs(*rp.Args, crate)
	}
	ok = true
	return
}

func itemClass(kind string) string {
	switch kind {
	case "type_alias", "typedef":
		return "type"
	case "":
		return "struct"
	default:
		return kind
	}
}

// typeText renders a rustdoc Type as plain Rust syntax.
func typeText(typeJSON json.RawMessage, crate *RustdocCrate) string {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(typeJSON, &outer); err != nil {
		return ""
	}

	if _, ok := outer["resolved_path"]; ok {
		path, _, _, args, found := resolvedPath(typeJSON, crate)
		if found {
			return path + args
		}
	}

	if prim, ok := outer["primitive"]; ok {
		var name string
		if err := json.Unmarshal(prim, &name); err == nil {
			return name
		}
	}

	if g, ok := outer["generic"]; ok {
		var name string
		if err := json.Unmarshal(g, &name); err == nil {
			return name
		}
	}

	if br, ok := outer["borrowed_ref"]; ok {
		var r struct {
			Lifetime  *string         `json:"lifetime"`
			IsMutable bool            `json:"is_mutable"`
			Type      json.RawMessage `json:"type"`
		}
		if err := json.Unmarshal(br, &r); err != nil {
			return ""
		}
		prefix := "&"
		if r.Lifetime != nil && *r.Lifetime != "" {
			prefix += *r.Lifetime + " "
		}
		if r.IsMutable {
			prefix += "mut "
		}
		return prefix + typeText(r.Type, crate)
	}

	if sl, ok := outer["slice"]; ok {
		return "[" + typeText(sl, crate) + "]"
	}

	if arr, ok := outer["array"]; ok {
		var a struct {
			Type json.RawMessage `json:"type"`
			Len  string          `json:"len"`
		}
		if err := json.Unmarshal(arr, &a); err == nil {
			return fmt.Sprintf("[%s; %s]", typeText(a.Type, crate), a.Len)
		}
	}

	if tp, ok := outer["tuple"]; ok {
		var types []json.RawMessage
		if err := json.Unmarshal(tp, &types); err != nil {
			return ""
		}
		parts := make([]string, 0, len(types))
		for _, t := range types {
			parts = append(parts, typeText(t, crate))
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}

	if dt, ok := outer["dyn_trait"]; ok {
		var d struct {
			Traits []struct {
				Trait traitRef `json:"trait"`
			} `json:"traits"`
			Lifetime *string `json:"lifetime"`
		}
		if err := json.Unmarshal(dt, &d); err != nil || len(d.Traits) == 0 {
			return ""
		}
		parts := make([]string, 0, len(d.Traits)+1)
		for _, t := range d.Traits {
			key, name := t.Trait.resolve(crate)
			if key != "" {
				name = string(key)
			}
			parts = append(parts, name)
		}
		if d.Lifetime != nil && *d.Lifetime != "" {
			parts = append(parts, *d.Lifetime)
		}
		return "dyn " + strings.Join(parts, " + ")
	}

	if rp, ok := outer["raw_pointer"]; ok {
		var p struct {
			IsMutable bool            `json:"is_mutable"`
			Type      json.RawMessage `json:"type"`
		}
		if err := json.Unmarshal(rp, &p); err == nil {
			if p.IsMutable {
				return "*mut " + typeText(p.Type, crate)
			}
			return "*const " + typeText(p.Type, crate)
		}
	}

	return ""
}

func formatGenericArgs(argsJSON json.RawMessage, crate *RustdocCrate) string {
	var args struct {
		AngleBracketed *struct {
			Args []json.RawMessage `json:"args"`
		} `json:"angle_bracketed"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil || args.AngleBracketed == nil {
		return ""
	}

	var parts []string
	for _, arg := range args.AngleBracketed.Args {
		var a map[string]json.RawMessage
		if err := json.Unmarshal(arg, &a); err != nil {
			continue
		}
		if typeData, ok := a["type"]; ok {
			if t := typeText(typeData, crate); t != "" {
				parts = append(parts, t)
			}
		} else if lifetime, ok := a["lifetime"]; ok {
			var lt string
			if json.Unmarshal(lifetime, &lt) == nil {
				parts = append(parts, lt)
			}
		} else if c, ok := a["const"]; ok {
			var k struct {
				Expr string `json:"expr"`
			}
			if json.Unmarshal(c, &k) == nil && k.Expr != "" {
				parts = append(parts, k.Expr)
			}
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return "<" + strings.Join(parts, ", ") + ">"
}

// unwrapInner extracts the inner data for a given kind from a rustdoc Item's Inner field.
// Inner is shaped like {"struct": {...}} or {"impl": {...}}.
func unwrapInner(inner json.RawMessage, kind string) json.RawMessage {
	if len(inner) == 0 {
		return nil
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(inner, &outer); err != nil {
		return nil
	}
	data, ok := outer[kind]
	if !ok {
		return nil
	}
	return data
}

// idKey normalizes an item id, which rustdoc emits as a number or a string.
func idKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return string(raw)
}

func sortedIDs(index map[string]RustdocItem) []string {
	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseInt(ids[i], 10, 64)
		b, errB := strconv.ParseInt(ids[j], 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return ids[i] < ids[j]
	})
	return ids
}
