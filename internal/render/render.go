// Package render keeps a rendered markdown page per trait, refreshed from
// registry updates.
package render

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/jcdickinson/implindex/internal/implreg"
	"github.com/jcdickinson/implindex/internal/markdown"
)

type page struct {
	body    string
	entries int
	seq     uint64
}

// Renderer is the registry's consumer. Attach it once the daemon is ready to
// serve pages; until then fragments stay queued in the registry.
type Renderer struct {
	linkBase string
	logger   *slog.Logger

	mu      sync.RWMutex
	reg     *implreg.Registry
	pages   map[implreg.TraitKey]page
	updates uint64
}

func New(linkBase string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		linkBase: linkBase,
		logger:   logger,
		pages:    make(map[implreg.TraitKey]page),
	}
}

// Attach announces readiness to reg with the renderer as its consumer. Any
// queued fragments are rendered before Attach returns. It reports false if
// reg already had a consumer.
func (r *Renderer) Attach(reg *implreg.Registry) bool {
	r.mu.Lock()
	if r.reg != nil {
		r.mu.Unlock()
		return false
	}
	r.reg = reg
	r.mu.Unlock()

	if !reg.AnnounceReady(r.consume) {
		r.mu.Lock()
		r.reg = nil
		r.mu.Unlock()
		return false
	}
	return true
}

// Ready reports whether the renderer is attached.
func (r *Renderer) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reg != nil && r.reg.Ready()
}

// Updates returns the number of updates consumed.
func (r *Renderer) Updates() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updates
}

func (r *Renderer) consume(u implreg.Update) {
	r.mu.RLock()
	reg := r.reg
	r.mu.RUnlock()

	rendered := make(map[implreg.TraitKey]page, len(u.Traits))
	for _, key := range u.Traits {
		entries := reg.Query(key)
		rendered[key] = page{
			body:    markdown.RenderImplementors(key, entries, r.linkBase),
			entries: len(entries),
			seq:     u.Seq,
		}
	}

	r.mu.Lock()
	for k, p := range rendered {
		r.pages[k] = p
	}
	r.updates++
	r.mu.Unlock()

	if len(u.Traits) > 0 {
		r.logger.Debug("rendered implementor pages", "seq", u.Seq, "source", u.Source, "traits", len(u.Traits))
	}
}

// Markdown returns the page for key with a front-matter header. ok is false
// when nothing has been rendered for key; the page then lists no implementors.
func (r *Renderer) Markdown(key implreg.TraitKey) (md string, ok bool) {
	p, ok := r.page(key)
	return markdown.AddFrontMatter(p.body, map[string]string{
		"trait":        string(key),
		"implementors": strconv.Itoa(p.entries),
	}), ok
}

// HTML returns the page for key rendered to HTML.
func (r *Renderer) HTML(key implreg.TraitKey) (string, bool) {
	p, ok := r.page(key)
	return markdown.ToHTML(p.body), ok
}

func (r *Renderer) page(key implreg.TraitKey) (page, bool) {
	r.mu.RLock()
	p, ok := r.pages[key]
	r.mu.RUnlock()
	if !ok {
		p = page{body: markdown.RenderImplementors(key, nil, r.linkBase)}
	}
	return p, ok
}
