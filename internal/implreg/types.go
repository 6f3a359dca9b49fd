package implreg

import (
	"encoding/json"
	"errors"
)

// TraitKey is the fully qualified path of a trait, e.g. "core::cmp::PartialOrd".
type TraitKey string

// Entry is one type's claim of implementing a trait.
type Entry struct {
	Label     string // display label, may contain HTML markup
	Path      string // fully qualified path of the implementing type
	Generics  string // generic parameter signature, e.g. "<'a, T>"
	TraitArgs string // generic arguments of the trait itself, e.g. "<u8>" in From<u8>
	Crate     string // originating crate, informational only
	Order     int    // position within the originating fragment
}

// Identity is the de-duplication key of an entry within a trait. Impls of
// the same generic trait with different arguments, such as From<u8> and
// From<u16> for one type, have distinct identities: "a::X as <u8>".
func (e Entry) Identity() string {
	if e.Path == "" {
		return ""
	}
	if e.TraitArgs != "" {
		return e.Path + e.Generics + " as " + e.TraitArgs
	}
	return e.Path + e.Generics
}

// Group is the ordered list of entries a fragment contributes to one trait.
type Group struct {
	Trait   TraitKey
	Entries []Entry
}

// Payload is one fragment's contribution, delivered as a single unit.
type Payload struct {
	Source string
	Groups []Group
	// Segments is the producer's section bookkeeping. Preserved, never read.
	Segments json.RawMessage
}

// EntryCount returns the total number of entries across all groups.
func (p Payload) EntryCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Entries)
	}
	return n
}

// Update is delivered to the consumer once per merged payload.
type Update struct {
	Seq    uint64     // 1-based merge sequence number
	Source string     // Payload.Source
	Traits []TraitKey // keys whose merged sequence changed, in payload order

	Accepted   int
	Duplicates int
	Malformed  int
}

// Consumer receives merge notifications. It is never called concurrently and
// may call Query or Traits, but must not call Submit or AnnounceReady.
type Consumer func(Update)

// Phase is the registry lifecycle state.
type Phase int

const (
	Accumulating Phase = iota
	Live
)

func (p Phase) String() string {
	switch p {
	case Accumulating:
		return "accumulating"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}

// Stats counts what the registry has merged so far.
type Stats struct {
	Payloads   int `json:"payloads"`
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
}

var (
	// ErrMalformedEntry marks an entry or group without a usable identity.
	ErrMalformedEntry = errors.New("implreg: malformed entry")
	// ErrDuplicateIdentity marks an entry whose identity is already merged.
	ErrDuplicateIdentity = errors.New("implreg: duplicate identity")
)
