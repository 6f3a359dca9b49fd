package docs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jcdickinson/implindex/internal/fragment"
	"github.com/jcdickinson/implindex/internal/implreg"
	"github.com/klauspost/compress/zstd"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// ErrNotFound is returned when docs.rs has no document at the requested URL.
var ErrNotFound = errors.New("not found on docs.rs")

// Fetcher downloads documentation artifacts from a docs.rs-compatible host.
type Fetcher struct {
	BaseURL   string // e.g. "https://docs.rs/"
	UserAgent string
}

// RustdocJSONURL returns the URL of a crate's zstd-compressed rustdoc JSON.
func (f Fetcher) RustdocJSONURL(name, version string) string {
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("%scrate/%s/%s/json", f.base(), name, version)
}

// ImplJSURL returns the URL of the trait.impl file for key in a crate's docs.
func (f Fetcher) ImplJSURL(name, version string, key implreg.TraitKey) (string, error) {
	if version == "" {
		version = "latest"
	}
	rel, err := fragment.TraitImplPath(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s/%s/%s", f.base(), name, version, rel), nil
}

func (f Fetcher) base() string {
	b := f.BaseURL
	if b == "" {
		b = "https://docs.rs/"
	}
	if !strings.HasSuffix(b, "/") {
		b += "/"
	}
	return b
}

// FetchRustdocJSON downloads and decompresses rustdoc JSON from docs.rs.
// The version "latest" is resolved by docs.rs via redirect.
func (f Fetcher) FetchRustdocJSON(ctx context.Context, name, version string) ([]byte, error) {
	url := f.RustdocJSONURL(name, version)
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	// docs.rs returns zstd-compressed JSON
	decoder, err := zstd.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompressing rustdoc JSON: %w", err)
	}
	return data, nil
}

// FetchImplJS downloads the trait.impl JavaScript fragment for key.
func (f Fetcher) FetchImplJS(ctx context.Context, name, version string, key implreg.TraitKey) ([]byte, error) {
	url, err := f.ImplJSURL(name, version, key)
	if err != nil {
		return nil, err
	}
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}

func (f Fetcher) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	ua := f.UserAgent
	if ua == "" {
		ua = "implindex/0.1.0"
	}
	req.Header.Set("User-Agent", ua)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("docs.rs returned %d for %s: %s", resp.StatusCode, url, string(body))
	}
	return resp.Body, nil
}
