// Package manifest loads batch fetch lists from TOML.
//
//	[[source]]
//	crate = "bdk_chain"
//	version = "0.1.0"
//	traits = ["core::cmp::PartialOrd"]
//
// A source without traits is fetched through the crate's rustdoc JSON, which
// covers every trait it implements.
package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/jcdickinson/implindex/internal/fragment"
	"github.com/jcdickinson/implindex/internal/implreg"
)

type Source struct {
	Crate   string   `toml:"crate"`
	Version string   `toml:"version"`
	Traits  []string `toml:"traits"`
}

type Manifest struct {
	Sources []Source `toml:"source"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	var m Manifest
	meta, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return finish(&m, meta)
}

// Parse decodes and validates manifest text.
func Parse(data string) (*Manifest, error) {
	var m Manifest
	meta, err := toml.Decode(data, &m)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return finish(&m, meta)
}

func finish(m *Manifest, meta toml.MetaData) (*Manifest, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown manifest keys: %s", strings.Join(keys, ", "))
	}

	var errs []error
	for i := range m.Sources {
		s := &m.Sources[i]
		s.Crate = strings.TrimSpace(s.Crate)
		s.Version = strings.TrimSpace(s.Version)
		if s.Crate == "" {
			errs = append(errs, fmt.Errorf("source %d: crate is required", i+1))
			continue
		}
		if s.Version == "" {
			s.Version = "latest"
		}
		for j, t := range s.Traits {
			t = strings.TrimSpace(t)
			if _, err := fragment.TraitImplPath(implreg.TraitKey(t)); err != nil {
				errs = append(errs, fmt.Errorf("source %d (%s): %w", i+1, s.Crate, err))
			}
			s.Traits[j] = t
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// TraitKeys returns the source's traits as registry keys.
func (s Source) TraitKeys() []implreg.TraitKey {
	keys := make([]implreg.TraitKey, len(s.Traits))
	for i, t := range s.Traits {
		keys[i] = implreg.TraitKey(t)
	}
	return keys
}
