package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jcdickinson/implindex/internal/docs"
	"github.com/jcdickinson/implindex/internal/fragment"
	"github.com/jcdickinson/implindex/internal/implreg"
	"github.com/jcdickinson/implindex/internal/rpc"
)

type fetchCacheEntry struct {
	data     []byte // nil for 404s
	notFound bool
	expiry   time.Time
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req rpc.FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	send := func(line rpc.ProgressLine) bool {
		if line.Message != "" {
			log.Printf("daemon: %s", line.Message)
		}
		if err := enc.Encode(line); err != nil {
			log.Printf("daemon: client disconnected: %v", err)
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	for _, spec := range req.Sources {
		progress := func(msg string) {
			send(rpc.ProgressLine{Type: "progress", Message: msg})
		}
		result := s.fetchSource(r.Context(), spec, progress)
		if !send(rpc.ProgressLine{Type: "result", Result: &result}) {
			return
		}
	}
}

func (s *Server) cacheTTL() time.Duration {
	if s.cfg.Fetch.CacheTTL > 0 {
		return s.cfg.Fetch.CacheTTL
	}
	return 10 * time.Minute
}

func (s *Server) getCachedFetch(url string) (fetchCacheEntry, bool) {
	s.fetchCacheMu.RLock()
	defer s.fetchCacheMu.RUnlock()
	entry, ok := s.fetchCache[url]
	if !ok || time.Now().After(entry.expiry) {
		return fetchCacheEntry{}, false
	}
	return entry, true
}

func (s *Server) setCachedFetch(url string, data []byte, notFound bool) {
	s.fetchCacheMu.Lock()
	defer s.fetchCacheMu.Unlock()
	s.fetchCache[url] = fetchCacheEntry{
		data:     data,
		notFound: notFound,
		expiry:   time.Now().Add(s.cacheTTL()),
	}
}

func (s *Server) clearFetchCache() {
	s.fetchCacheMu.Lock()
	s.fetchCache = make(map[string]fetchCacheEntry)
	s.fetchCacheMu.Unlock()

	s.crateCacheMu.Lock()
	s.crateCache = make(map[string]*docs.RustdocCrate)
	s.crateCacheMu.Unlock()
}

// cachedGet runs fetch at most once per url across concurrent callers and
// caches the outcome, including not-found, for the configured TTL. fetch
// receives a context that is not cancelled when ctx's caller goes away, since
// other callers may be waiting on the same result.
func (s *Server) cachedGet(ctx context.Context, url string, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	if entry, ok := s.getCachedFetch(url); ok {
		if entry.notFound {
			return nil, fmt.Errorf("%s: %w (cached)", url, docs.ErrNotFound)
		}
		return entry.data, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := s.fetchGroup.DoChan(url, func() (interface{}, error) {
		data, err := fetch(shared)
		if errors.Is(err, docs.ErrNotFound) {
			s.setCachedFetch(url, nil, true)
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		s.setCachedFetch(url, data, false)
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) fetchSource(ctx context.Context, spec rpc.FetchSpec, progress func(string)) rpc.FetchResult {
	version := spec.Version
	if version == "" {
		version = "latest"
	}
	result := rpc.FetchResult{Crate: spec.Crate, Version: version}
	if spec.Crate == "" {
		result.Error = "missing crate name"
		return result
	}

	var err error
	if len(spec.Traits) > 0 {
		err = s.fetchImplFiles(ctx, spec, version, &result, progress)
	} else {
		err = s.fetchRustdoc(ctx, spec.Crate, version, &result, progress)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if s.db != nil {
		crate, err := s.db.UpsertCrate(spec.Crate, result.Version)
		if err != nil {
			log.Printf("daemon: recording crate %s@%s: %v", spec.Crate, result.Version, err)
		} else {
			s.db.MarkCrateFetched(crate.ID)
		}
	}

	progress(fmt.Sprintf("finished %s@%s (%d traits, %d implementors)", spec.Crate, result.Version, result.Traits, result.Entries))
	return result
}

// fetchImplFiles pulls one trait.impl file per requested trait. A trait the
// crate does not implement is a 404 and only reported as progress.
func (s *Server) fetchImplFiles(ctx context.Context, spec rpc.FetchSpec, version string, result *rpc.FetchResult, progress func(string)) error {
	source := spec.Crate + "@" + version
	var errs []error
	for _, t := range spec.Traits {
		key := implreg.TraitKey(t)
		url, err := s.fetcher.ImplJSURL(spec.Crate, version, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		progress(fmt.Sprintf("fetching implementors of %s from %s@%s", key, spec.Crate, version))
		data, err := s.cachedGet(ctx, url, func(ctx context.Context) ([]byte, error) {
			return s.fetcher.FetchImplJS(ctx, spec.Crate, version, key)
		})
		if errors.Is(err, docs.ErrNotFound) {
			progress(fmt.Sprintf("%s@%s has no implementors of %s", spec.Crate, version, key))
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		name, _ := fragment.TraitImplPath(key)
		resp, err := s.submitRaw(source, name, data, fragment.FormatJS)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.Traits++
		result.Entries += resp.Entries
	}
	return errors.Join(errs...)
}

func (s *Server) fetchRustdoc(ctx context.Context, name, version string, result *rpc.FetchResult, progress func(string)) error {
	crate := s.getCachedCrate(name, version)
	if crate == nil {
		progress(fmt.Sprintf("fetching rustdoc for %s@%s", name, version))
		data, err := s.cachedGet(ctx, s.fetcher.RustdocJSONURL(name, version), func(ctx context.Context) ([]byte, error) {
			return s.fetcher.FetchRustdocJSON(ctx, name, version)
		})
		if err != nil {
			return fmt.Errorf("fetching docs: %w", err)
		}

		progress(fmt.Sprintf("parsing rustdoc for %s@%s", name, version))
		var c docs.RustdocCrate
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("parsing docs: %w", err)
		}
		crate = &c

		realVersion := crate.Version(version)
		if realVersion != "latest" {
			if err := s.rustdoc.Save(name, realVersion, data); err != nil {
				log.Printf("daemon: caching rustdoc for %s@%s: %v", name, realVersion, err)
			}
		}
		s.putCachedCrate(name, realVersion, crate)
		if realVersion != version {
			s.putCachedCrate(name, version, crate)
		}
	}

	result.Version = crate.Version(version)
	source := name + "@" + result.Version
	p := docs.CollectImplementors(crate, name, source)
	resp, err := s.submitPayload("rustdoc/"+source+".json", p)
	if err != nil {
		return err
	}
	result.Traits = len(p.Groups)
	result.Entries = resp.Entries
	return nil
}

// getCachedCrate returns a cached RustdocCrate, checking in-memory first then
// disk. "latest" is only served from memory since its disk cache is keyed by
// the resolved version.
func (s *Server) getCachedCrate(name, version string) *docs.RustdocCrate {
	key := name + "@" + version
	s.crateCacheMu.RLock()
	c, ok := s.crateCache[key]
	s.crateCacheMu.RUnlock()
	if ok {
		return c
	}
	if version == "latest" {
		return nil
	}

	c, err := s.rustdoc.Load(name, version)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("daemon: reading cached rustdoc for %s@%s: %v", name, version, err)
		}
		return nil
	}
	s.putCachedCrate(name, version, c)
	return c
}

func (s *Server) putCachedCrate(name, version string, c *docs.RustdocCrate) {
	s.crateCacheMu.Lock()
	s.crateCache[name+"@"+version] = c
	s.crateCacheMu.Unlock()
}
