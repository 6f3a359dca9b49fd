// Package fragment decodes implementor fragments into registry payloads.
//
// Two wire shapes are understood: a plain JSON object mapping trait paths to
// implementor records, and the trait.impl/*.js files rustdoc emits next to
// its HTML output.
package fragment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jcdickinson/implindex/internal/implreg"
)

// Record is one implementor in the JSON wire shape.
type Record struct {
	DisplayLabel     string `json:"display_label"`
	Identity         string `json:"identity"`
	GenericSignature string `json:"generic_signature,omitempty"`
	TraitArgs        string `json:"trait_args,omitempty"`
	Crate            string `json:"crate,omitempty"`
}

// DecodeJSON decodes {"<trait>": [Record, ...], ...} keeping the key order of
// the document. Records that fail to decode are kept as identity-less entries
// so the registry drops and reports them without losing their siblings. A
// trait whose value is not an array becomes a group holding one such entry;
// the remaining traits are still decoded and the problems are returned
// together.
func DecodeJSON(source string, data []byte) (implreg.Payload, error) {
	p := implreg.Payload{Source: source}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return p, fmt.Errorf("reading fragment: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return p, fmt.Errorf("fragment must be a JSON object, got %v", tok)
	}

	var errs []error
	order := 0
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return p, errors.Join(append(errs, fmt.Errorf("reading trait key: %w", err))...)
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return p, errors.Join(append(errs, fmt.Errorf("decoding implementors of %q: %w", key, err))...)
		}

		g := implreg.Group{Trait: implreg.TraitKey(strings.TrimSpace(key))}
		var raw []json.RawMessage
		if err := json.Unmarshal(value, &raw); err != nil {
			errs = append(errs, fmt.Errorf("decoding implementors of %q: %w", key, err))
			g.Entries = append(g.Entries, implreg.Entry{Label: string(value), Order: order})
			order++
			p.Groups = append(p.Groups, g)
			continue
		}
		for _, r := range raw {
			var rec Record
			if err := json.Unmarshal(r, &rec); err != nil {
				g.Entries = append(g.Entries, implreg.Entry{Label: string(r), Order: order})
				order++
				continue
			}
			g.Entries = append(g.Entries, implreg.Entry{
				Label:     rec.DisplayLabel,
				Path:      strings.TrimSpace(rec.Identity),
				Generics:  strings.TrimSpace(rec.GenericSignature),
				TraitArgs: strings.TrimSpace(rec.TraitArgs),
				Crate:     rec.Crate,
				Order:     order,
			})
			order++
		}
		p.Groups = append(p.Groups, g)
	}

	if _, err := dec.Token(); err != nil {
		errs = append(errs, fmt.Errorf("reading fragment end: %w", err))
	}
	return p, errors.Join(errs...)
}

// EncodeJSON writes groups in the JSON wire shape, preserving group order.
func EncodeJSON(groups []implreg.Group) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range groups {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(string(g.Trait))
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		recs := make([]Record, len(g.Entries))
		for j, e := range g.Entries {
			recs[j] = Record{
				DisplayLabel:     e.Label,
				Identity:         e.Path,
				GenericSignature: e.Generics,
				TraitArgs:        e.TraitArgs,
				Crate:            e.Crate,
			}
		}
		v, err := json.Marshal(recs)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
