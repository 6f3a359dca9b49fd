// Package implreg accumulates trait implementor fragments into one merged,
// de-duplicated, order-preserving index.
//
// Fragments may arrive before the index's consumer is ready. Until
// AnnounceReady is called they are queued unmodified; the first
// AnnounceReady drains the queue in arrival order, and every later Submit is
// merged and delivered immediately. The merged result does not depend on when
// readiness is announced.
package implreg

import (
	"fmt"
	"log/slog"
	"sync"
)

type traitState struct {
	entries []Entry
	ids     map[string]struct{}
}

// Registry is the process-wide implementor index. The zero value is not
// usable; construct one with New and share it by pointer.
type Registry struct {
	// deliver serializes Submit and AnnounceReady so merges and consumer
	// notifications happen in call order.
	deliver sync.Mutex

	mu       sync.RWMutex
	traits   map[TraitKey]*traitState
	order    []TraitKey
	pending  []Payload
	ready    bool
	consumer Consumer
	seq      uint64
	stats    Stats

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for dropped entries.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New returns an empty registry in the Accumulating phase.
func New(opts ...Option) *Registry {
	r := &Registry{traits: make(map[TraitKey]*traitState)}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Submit delivers one fragment payload. It never fails: before readiness the
// payload is queued as-is and queued is true; afterwards it is merged, the
// consumer notified, and the merge outcome returned.
func (r *Registry) Submit(p Payload) (u Update, queued bool) {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	if !r.ready {
		r.pending = append(r.pending, p)
		r.mu.Unlock()
		return Update{}, true
	}
	u = r.mergeLocked(p)
	consumer := r.consumer
	r.mu.Unlock()

	if consumer != nil {
		consumer(u)
	}
	return u, false
}

// AnnounceReady attaches the consumer and flushes queued payloads to it in
// arrival order, one Update per payload. Only the first call has any effect;
// it reports whether this call performed the transition to Live. c may be nil
// for consumers that only pull through Query.
func (r *Registry) AnnounceReady(c Consumer) bool {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		r.logger.Debug("implreg: repeated ready announcement ignored")
		return false
	}
	r.consumer = c
	queued := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, p := range queued {
		r.mu.Lock()
		u := r.mergeLocked(p)
		r.mu.Unlock()
		if c != nil {
			c(u)
		}
	}

	r.mu.Lock()
	r.ready = true
	r.mu.Unlock()
	return true
}

// Query returns a copy of the merged implementors of key, or nil if the key
// is unknown.
func (r *Registry) Query(key TraitKey) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.traits[key]
	if !ok {
		return nil
	}
	out := make([]Entry, len(ts.entries))
	copy(out, ts.entries)
	return out
}

// Traits returns every merged trait key in first-seen order.
func (r *Registry) Traits() []TraitKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TraitKey, len(r.order))
	copy(out, r.order)
	return out
}

// Ready reports whether the consumer has announced readiness.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Phase returns the current lifecycle state.
func (r *Registry) Phase() Phase {
	if r.Ready() {
		return Live
	}
	return Accumulating
}

// Pending returns the number of payloads waiting for the consumer.
func (r *Registry) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// Stats returns merge counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// mergeLocked folds p into the index. Caller holds r.mu for writing.
func (r *Registry) mergeLocked(p Payload) Update {
	r.seq++
	r.stats.Payloads++
	u := Update{Seq: r.seq, Source: p.Source}
	changed := make(map[TraitKey]bool)

	for _, g := range p.Groups {
		if g.Trait == "" {
			r.stats.Malformed += len(g.Entries)
			u.Malformed += len(g.Entries)
			r.logger.Warn("implreg: dropping group",
				"source", p.Source, "entries", len(g.Entries),
				"error", fmt.Errorf("%w: empty trait key", ErrMalformedEntry))
			continue
		}
		for _, e := range g.Entries {
			if err := r.addLocked(g.Trait, e); err != nil {
				switch err {
				case ErrDuplicateIdentity:
					r.stats.Duplicates++
					u.Duplicates++
				default:
					r.stats.Malformed++
					u.Malformed++
					r.logger.Warn("implreg: dropping entry",
						"source", p.Source, "trait", string(g.Trait), "label", e.Label, "error", err)
				}
				continue
			}
			r.stats.Accepted++
			u.Accepted++
			if !changed[g.Trait] {
				changed[g.Trait] = true
				u.Traits = append(u.Traits, g.Trait)
			}
		}
	}
	return u
}

func (r *Registry) addLocked(key TraitKey, e Entry) error {
	id := e.Identity()
	if id == "" {
		return fmt.Errorf("%w: missing identity", ErrMalformedEntry)
	}
	ts, ok := r.traits[key]
	if !ok {
		ts = &traitState{ids: make(map[string]struct{})}
		r.traits[key] = ts
		r.order = append(r.order, key)
	}
	if _, dup := ts.ids[id]; dup {
		return ErrDuplicateIdentity
	}
	ts.ids[id] = struct{}{}
	ts.entries = append(ts.entries, e)
	return nil
}
