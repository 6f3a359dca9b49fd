package fragment

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/jcdickinson/implindex/internal/implreg"
)

const fromEntriesMarker = "Object.fromEntries("

var (
	// implementors["crate"] = [...]; as written by older rustdoc releases.
	legacyAssignRe = regexp.MustCompile(`implementors\[("(?:[^"\\]|\\.)*")\]\s*=\s*`)
	// trailing //{"start":57,"fragment_lengths":[...]}
	segmentsRe = regexp.MustCompile(`(?m)^//(\{.*\})\s*$`)

	ErrNoImplementors = errors.New("no implementors table found")
)

type crateImpls struct {
	crate   string
	entries []json.RawMessage
}

// DecodeImplJS decodes a rustdoc trait.impl/<path>/trait.<Name>.js file. The
// trait key comes from relPath; entry identities come from the labels.
func DecodeImplJS(source, relPath string, data []byte) (implreg.Payload, error) {
	p := implreg.Payload{Source: source}

	key, err := TraitKeyFromPath(relPath)
	if err != nil {
		return p, err
	}

	text := string(data)
	crates, err := extractCrates(text)
	if err != nil {
		return p, fmt.Errorf("decoding %s: %w", relPath, err)
	}

	if m := segmentsRe.FindStringSubmatch(text); m != nil && json.Valid([]byte(m[1])) {
		p.Segments = json.RawMessage(m[1])
	}

	g := implreg.Group{Trait: key}
	order := 0
	for _, c := range crates {
		for _, raw := range c.entries {
			e := decodeImplEntry(raw)
			e.Crate = c.crate
			e.Order = order
			order++
			g.Entries = append(g.Entries, e)
		}
	}
	p.Groups = []implreg.Group{g}
	return p, nil
}

func extractCrates(text string) ([]crateImpls, error) {
	if i := strings.Index(text, fromEntriesMarker); i >= 0 {
		dec := json.NewDecoder(strings.NewReader(text[i+len(fromEntriesMarker):]))
		var pairs [][]json.RawMessage
		if err := dec.Decode(&pairs); err != nil {
			return nil, fmt.Errorf("decoding implementors table: %w", err)
		}
		out := make([]crateImpls, 0, len(pairs))
		for _, pair := range pairs {
			if len(pair) < 2 {
				continue
			}
			var c crateImpls
			if err := json.Unmarshal(pair[0], &c.crate); err != nil {
				continue
			}
			if err := json.Unmarshal(pair[1], &c.entries); err != nil {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	}

	locs := legacyAssignRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil, ErrNoImplementors
	}
	out := make([]crateImpls, 0, len(locs))
	for _, loc := range locs {
		crate, err := strconv.Unquote(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		c := crateImpls{crate: crate}
		dec := json.NewDecoder(strings.NewReader(text[loc[1]:]))
		if err := dec.Decode(&c.entries); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// decodeImplEntry accepts both ["label", ...] and {"text": "label", "types": [...]}.
func decodeImplEntry(raw json.RawMessage) implreg.Entry {
	var label string
	var types []string

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) > 0 {
			json.Unmarshal(arr[0], &label)
		}
		for _, el := range arr[1:] {
			var ts []string
			if json.Unmarshal(el, &ts) == nil && len(ts) > 0 {
				types = ts
			}
		}
	} else {
		var obj struct {
			Text  string   `json:"text"`
			Types []string `json:"types"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return implreg.Entry{Label: string(raw)}
		}
		label, types = obj.Text, obj.Types
	}

	e := implreg.Entry{Label: label}
	e.Path, e.Generics, e.TraitArgs = ImplTarget(label)
	if e.Path == "" && len(types) > 0 {
		e.Path = types[0]
	}
	return e
}

// TraitKeyFromPath maps "trait.impl/core/cmp/trait.PartialOrd.js" (or the
// legacy "implementors/..." layout) to "core::cmp::PartialOrd". Leading
// directories before the marker are ignored.
func TraitKeyFromPath(relPath string) (implreg.TraitKey, error) {
	p := path.Clean(strings.ReplaceAll(relPath, "\\", "/"))
	for _, marker := range []string{"trait.impl/", "implementors/"} {
		if i := strings.LastIndex(p, marker); i >= 0 {
			p = p[i+len(marker):]
			break
		}
	}

	p = strings.TrimSuffix(p, ".js")
	dir, file := path.Split(p)
	name, ok := strings.CutPrefix(file, "trait.")
	if !ok || name == "" || dir == "" {
		return "", fmt.Errorf("not a trait implementors path: %s", relPath)
	}

	segs := strings.Split(strings.Trim(dir, "/"), "/")
	return implreg.TraitKey(strings.Join(append(segs, name), "::")), nil
}

// TraitImplPath is the inverse of TraitKeyFromPath.
func TraitImplPath(key implreg.TraitKey) (string, error) {
	segs := strings.Split(string(key), "::")
	if len(segs) < 2 {
		return "", fmt.Errorf("trait key %q is not fully qualified", key)
	}
	for _, s := range segs {
		if s == "" {
			return "", fmt.Errorf("trait key %q has an empty segment", key)
		}
	}
	last := len(segs) - 1
	return "trait.impl/" + strings.Join(segs[:last], "/") + "/trait." + segs[last] + ".js", nil
}
