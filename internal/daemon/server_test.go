package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/db"
	"github.com/jcdickinson/implindex/internal/rpc"
)

const orderJSON = `{"core::cmp::PartialOrd":[
	{"display_label":"impl PartialOrd for A","identity":"x::A"},
	{"display_label":"impl PartialOrd for B","identity":"x::B"}
]}`

const orderJS = `(function() {
    var implementors = Object.fromEntries([["bdk_chain",[["impl <a class=\"trait\" href=\"https://doc.rust-lang.org/nightly/core/cmp/trait.PartialOrd.html\" title=\"trait core::cmp::PartialOrd\">PartialOrd</a> for <a class=\"enum\" href=\"bdk_chain/enum.ObservedIn.html\" title=\"enum bdk_chain::ObservedIn\">ObservedIn</a>"]]]]);
    if (window.register_implementors) {
        window.register_implementors(implementors);
    } else {
        window.pending_implementors = implementors;
    }
})()`

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Daemon: config.DaemonConfig{ExpirationSeconds: 60},
		DocsRs: config.DocsRsConfig{BaseURL: config.BaseURL(baseURL), UserAgent: "implindex-test"},
		Fetch:  config.FetchConfig{CacheTTL: time.Minute},
	}
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding %s response: %v\n%s", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func queryPaths(t *testing.T, h http.Handler, trait string) (string, []string) {
	t.Helper()
	var resp rpc.QueryResponse
	if code := do(t, h, "POST", "/query", rpc.QueryRequest{Trait: trait}, &resp); code != http.StatusOK {
		t.Fatalf("query returned %d", code)
	}
	paths := []string{}
	for _, e := range resp.Entries {
		paths = append(paths, e.Path)
	}
	return resp.Phase, paths
}

func TestSubmit_QueuedUntilAttach(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig("http://unused/"), nil, "")
	h := s.routes()

	var sub rpc.SubmitResponse
	code := do(t, h, "POST", "/submit", rpc.SubmitRequest{Source: "a", Name: "a.json", Content: orderJSON}, &sub)
	if code != http.StatusOK {
		t.Fatalf("submit returned %d", code)
	}
	if !sub.Queued || sub.Entries != 2 || sub.Format != "json" || sub.Journaled {
		t.Errorf("unexpected submit response: %+v", sub)
	}

	phase, paths := queryPaths(t, h, "core::cmp::PartialOrd")
	if phase != "accumulating" || len(paths) != 0 {
		t.Errorf("before attach: phase=%s paths=%v", phase, paths)
	}
	if code := do(t, h, "POST", "/render", rpc.RenderRequest{Trait: "core::cmp::PartialOrd"}, nil); code != http.StatusServiceUnavailable {
		t.Errorf("render before attach returned %d, want 503", code)
	}

	s.renderer.Attach(s.reg)

	phase, paths = queryPaths(t, h, "core::cmp::PartialOrd")
	if phase != "live" {
		t.Errorf("phase = %s, want live", phase)
	}
	if diff := cmp.Diff([]string{"x::A", "x::B"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}

	var page rpc.RenderResponse
	if code := do(t, h, "POST", "/render", rpc.RenderRequest{Trait: "core::cmp::PartialOrd"}, &page); code != http.StatusOK {
		t.Fatalf("render returned %d", code)
	}
	if !page.Rendered || !strings.Contains(page.Content, "- impl PartialOrd for A\n- impl PartialOrd for B\n") {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestSubmit_MergeAndStatus(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig("http://unused/"), nil, "")
	s.renderer.Attach(s.reg)
	h := s.routes()

	second := `{"core::cmp::PartialOrd":[
		{"display_label":"impl PartialOrd for B (again)","identity":"x::B"},
		{"display_label":"broken"},
		{"display_label":"impl PartialOrd for C","identity":"x::C"}
	]}`
	wantSubs := []rpc.SubmitResponse{
		{Format: "json", Traits: []string{"core::cmp::PartialOrd"}, Entries: 2},
		{Format: "json", Traits: []string{"core::cmp::PartialOrd"}, Entries: 1, Duplicates: 1, Malformed: 1},
	}
	for i, content := range []string{orderJSON, second} {
		var sub rpc.SubmitResponse
		if code := do(t, h, "POST", "/submit", rpc.SubmitRequest{Source: "s", Content: content}, &sub); code != http.StatusOK {
			t.Fatalf("submit %d returned %d", i, code)
		}
		if diff := cmp.Diff(wantSubs[i], sub); diff != "" {
			t.Errorf("submit %d response mismatch (-want +got):\n%s", i, diff)
		}
	}

	_, paths := queryPaths(t, h, "core::cmp::PartialOrd")
	if diff := cmp.Diff([]string{"x::A", "x::B", "x::C"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}

	var st rpc.StatusResponse
	if code := do(t, h, "GET", "/status", nil, &st); code != http.StatusOK {
		t.Fatalf("status returned %d", code)
	}
	want := rpc.StatusResponse{
		Phase:           "live",
		Payloads:        2,
		Accepted:        3,
		Duplicates:      1,
		Malformed:       1,
		Traits:          1,
		RendererUpdates: 2,
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	var traits rpc.TraitsResponse
	do(t, h, "GET", "/traits", nil, &traits)
	if diff := cmp.Diff([]rpc.TraitSummary{{Trait: "core::cmp::PartialOrd", Implementors: 3}}, traits.Traits); diff != "" {
		t.Errorf("traits mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_LiveResubmitReportsDuplicates(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig("http://unused/"), nil, "")
	h := s.routes()

	var queued rpc.SubmitResponse
	do(t, h, "POST", "/submit", rpc.SubmitRequest{Source: "a", Content: orderJSON}, &queued)
	if !queued.Queued || queued.Entries != 2 || queued.Duplicates != 0 {
		t.Errorf("queued submit: %+v", queued)
	}

	s.renderer.Attach(s.reg)

	var again rpc.SubmitResponse
	do(t, h, "POST", "/submit", rpc.SubmitRequest{Source: "a", Content: orderJSON}, &again)
	if again.Queued || again.Entries != 0 || again.Duplicates != 2 {
		t.Errorf("live resubmit: %+v", again)
	}

	_, paths := queryPaths(t, h, "core::cmp::PartialOrd")
	if diff := cmp.Diff([]string{"x::A", "x::B"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_Rejected(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig("http://unused/"), nil, "")
	h := s.routes()

	tests := []struct {
		name string
		req  rpc.SubmitRequest
	}{
		{"not_json_object", rpc.SubmitRequest{Name: "x.json", Format: "json", Content: "[1,2]"}},
		{"unknown_format", rpc.SubmitRequest{Name: "x", Format: "yaml", Content: "{}"}},
		{"js_without_table", rpc.SubmitRequest{Name: "trait.impl/core/cmp/trait.Ord.js", Content: "var x = 1;"}},
		{"js_bad_path", rpc.SubmitRequest{Name: "foo.js", Content: orderJS}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := do(t, h, "POST", "/submit", tt.req, nil); code != http.StatusBadRequest {
				t.Errorf("got %d, want 400", code)
			}
		})
	}
	if s.reg.Pending() != 0 {
		t.Errorf("rejected submissions reached the registry: %d pending", s.reg.Pending())
	}
}

func TestQuery_MissingTrait(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig("http://unused/"), nil, "")
	if code := do(t, s.routes(), "POST", "/query", rpc.QueryRequest{Trait: " "}, nil); code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", code)
	}
}

func TestFetch_ImplFilesCached(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	var hits atomic.Int32
	docsrs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") != "implindex-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Path == "/bdk_chain/0.1.0/trait.impl/core/cmp/trait.PartialOrd.js" {
			w.Write([]byte(orderJS))
			return
		}
		http.NotFound(w, r)
	}))
	defer docsrs.Close()

	s := NewServer(testConfig(docsrs.URL+"/"), nil, "")
	s.renderer.Attach(s.reg)
	h := s.routes()

	fetch := func() rpc.FetchResult {
		req := httptest.NewRequest("POST", "/fetch", strings.NewReader(
			`{"sources":[{"crate":"bdk_chain","version":"0.1.0","traits":["core::cmp::PartialOrd","core::fmt::Debug"]}]}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("fetch returned %d", rec.Code)
		}

		var result *rpc.FetchResult
		var progress []string
		dec := json.NewDecoder(rec.Body)
		for dec.More() {
			var line rpc.ProgressLine
			if err := dec.Decode(&line); err != nil {
				t.Fatal(err)
			}
			if line.Type == "progress" {
				progress = append(progress, line.Message)
			}
			if line.Type == "result" {
				result = line.Result
			}
		}
		if result == nil {
			t.Fatal("no result line")
		}
		if len(progress) == 0 {
			t.Error("expected progress lines")
		}
		return *result
	}

	r1 := fetch()
	if r1.Error != "" || r1.Traits != 1 || r1.Entries != 1 {
		t.Errorf("unexpected first result: %+v", r1)
	}
	if hits.Load() != 2 {
		t.Errorf("hits after first fetch = %d, want 2", hits.Load())
	}

	r2 := fetch()
	if r2.Error != "" || r2.Traits != 1 {
		t.Errorf("unexpected second result: %+v", r2)
	}
	if hits.Load() != 2 {
		t.Errorf("second fetch should be served from cache, hits = %d", hits.Load())
	}

	_, paths := queryPaths(t, h, "core::cmp::PartialOrd")
	if diff := cmp.Diff([]string{"bdk_chain::ObservedIn"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}

	do(t, h, "POST", "/clear-cache", nil, nil)
	fetch()
	if hits.Load() != 4 {
		t.Errorf("clear-cache should force refetch, hits = %d", hits.Load())
	}
}

const rustdocJSON = `{
	"root": 0,
	"crate_version": "0.1.0",
	"format_version": 39,
	"index": {
		"1": {"id": 1, "crate_id": 0, "name": "ObservedIn", "inner": {"enum": {}}},
		"10": {"id": 10, "crate_id": 0, "inner": {"impl": {
			"trait": {"path": "PartialOrd", "id": 100, "args": null},
			"for": {"resolved_path": {"path": "ObservedIn", "id": 1, "args": null}},
			"is_synthetic": false}}}
	},
	"paths": {
		"1": {"crate_id": 0, "path": ["bdk_chain", "ObservedIn"], "kind": "enum"},
		"100": {"crate_id": 1, "path": ["core", "cmp", "PartialOrd"], "kind": "trait"}
	}
}`

func TestFetch_Rustdoc(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	compressed := enc.EncodeAll([]byte(rustdocJSON), nil)
	enc.Close()

	var hits atomic.Int32
	docsrs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/crate/bdk_chain/0.1.0/json" {
			http.NotFound(w, r)
			return
		}
		w.Write(compressed)
	}))
	defer docsrs.Close()

	s := NewServer(testConfig(docsrs.URL+"/"), nil, "")
	s.renderer.Attach(s.reg)

	res := s.fetchSource(t.Context(), rpc.FetchSpec{Crate: "bdk_chain", Version: "0.1.0"}, func(string) {})
	want := rpc.FetchResult{Crate: "bdk_chain", Version: "0.1.0", Traits: 1, Entries: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}

	_, paths := queryPaths(t, s.routes(), "core::cmp::PartialOrd")
	if diff := cmp.Diff([]string{"bdk_chain::ObservedIn"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}

	// A fresh server reads the crate from the disk cache instead of docs.rs.
	again := NewServer(testConfig(docsrs.URL+"/"), nil, "")
	if res := again.fetchSource(t.Context(), rpc.FetchSpec{Crate: "bdk_chain", Version: "0.1.0"}, func(string) {}); res.Error != "" {
		t.Fatalf("cached fetch failed: %s", res.Error)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestFetch_MissingCrate(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig("http://unused/"), nil, "")
	res := s.fetchSource(t.Context(), rpc.FetchSpec{}, func(string) {})
	if res.Error == "" {
		t.Error("expected error for empty crate")
	}
}

func TestJournal_Replay(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	database, err := db.New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	first := NewServer(testConfig("http://unused/"), database, "")
	first.renderer.Attach(first.reg)
	h := first.routes()

	var sub rpc.SubmitResponse
	do(t, h, "POST", "/submit", rpc.SubmitRequest{Source: "a", Name: "a.json", Content: orderJSON}, &sub)
	if !sub.Journaled {
		t.Fatalf("expected journaled submission: %+v", sub)
	}
	do(t, h, "POST", "/submit", rpc.SubmitRequest{Source: "a", Name: "a.json", Content: orderJSON}, &sub)
	do(t, h, "POST", "/submit", rpc.SubmitRequest{
		Source: "bdk", Name: "trait.impl/core/cmp/trait.PartialOrd.js", Content: orderJS,
	}, &sub)
	if sub.Format != "js" {
		t.Errorf("format = %q, want js", sub.Format)
	}

	n, err := database.CountFragments()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("journal has %d fragments, want 2 (identical resubmission skipped)", n)
	}

	second := NewServer(testConfig("http://unused/"), database, "")
	replayed, err := second.replayJournal()
	if err != nil {
		t.Fatal(err)
	}
	if replayed != 2 {
		t.Errorf("replayed %d fragments, want 2", replayed)
	}
	if second.reg.Pending() != 2 {
		t.Errorf("replayed fragments should wait for the renderer, pending = %d", second.reg.Pending())
	}
	second.renderer.Attach(second.reg)

	_, paths := queryPaths(t, second.routes(), "core::cmp::PartialOrd")
	if diff := cmp.Diff([]string{"x::A", "x::B", "bdk_chain::ObservedIn"}, paths); diff != "" {
		t.Errorf("replayed paths mismatch (-want +got):\n%s", diff)
	}

	if code := do(t, h, "POST", "/clear-cache", rpc.ClearCacheRequest{Journal: true}, nil); code != http.StatusOK {
		t.Fatalf("clear-cache returned %d", code)
	}
	if n, _ := database.CountFragments(); n != 0 {
		t.Errorf("journal has %d fragments after clear", n)
	}
}

func TestCachedGet_CancelledCallerDoesNotAbortShared(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig("http://unused/"), nil, "")
	const url = "http://unused/crate/x/latest/x.json"

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	var fetchErr atomic.Value
	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		close(started)
		<-release
		fetchErr.Store(fmt.Sprint(ctx.Err()))
		return []byte("payload"), nil
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.cachedGet(ctx1, url, fetch)
		first <- err
	}()
	<-started

	second := make(chan []byte, 1)
	go func() {
		data, err := s.cachedGet(context.Background(), url, fetch)
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		second <- data
	}()

	cancel1()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller err = %v, want context.Canceled", err)
	}
	close(release)

	if got := string(<-second); got != "payload" {
		t.Errorf("second caller got %q", got)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch ran %d times, want 1", n)
	}
	if got := fetchErr.Load(); got != "<nil>" {
		t.Errorf("shared fetch saw ctx err %v after first caller cancelled", got)
	}
}
