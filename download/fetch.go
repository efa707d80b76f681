// Package download fetches remote artifacts into a local cache.
//
// Artifacts are described by a remote Info document. Each artifact is
// cached under <cache_dir>/artifacts keyed by its key; an index records the
// cached version and hash so a fresh copy is never fetched twice.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pithecene-io/modpatch/iox"
	"github.com/pithecene-io/modpatch/types"
)

// DefaultTimeout bounds the response header wait of a single request.
const DefaultTimeout = 30 * time.Second

// Artifact kinds understood by the patch steps.
const (
	KindDex    = "dex"
	KindNative = "native"
	// KindAPK is the base application package.
	KindAPK = "apk"
)

// Artifact describes one remote file.
type Artifact struct {
	// Key names the artifact in the cache (e.g. "injector").
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Version string `json:"version"`
	URL     string `json:"url"`
	// SHA256 is the hex digest; empty skips verification.
	SHA256 string `json:"sha256,omitempty"`
	// Size in bytes; zero skips verification.
	Size int64 `json:"size,omitempty"`
	// Priority orders dex payloads; see dex.Reorganize.
	Priority int `json:"priority,omitempty"`
}

// Info is the remote description of a channel.
type Info struct {
	Version   string     `json:"version"`
	Artifacts []Artifact `json:"artifacts"`
}

// Artifact returns the artifact with key, if present.
func (i *Info) Artifact(key string) (Artifact, bool) {
	for _, a := range i.Artifacts {
		if a.Key == key {
			return a, true
		}
	}
	return Artifact{}, false
}

// ByKind returns the artifacts of kind in document order.
func (i *Info) ByKind(kind string) []Artifact {
	var out []Artifact
	for _, a := range i.Artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Validate checks that keys are unique and every artifact has a URL.
func (i *Info) Validate() error {
	seen := make(map[string]bool, len(i.Artifacts))
	for _, a := range i.Artifacts {
		switch {
		case a.Key == "":
			return errors.New("artifact without key")
		case a.URL == "":
			return fmt.Errorf("artifact %s: missing url", a.Key)
		case seen[a.Key]:
			return fmt.Errorf("artifact %s: duplicate key", a.Key)
		}
		if err := ValidateKey(a.Key); err != nil {
			return err
		}
		seen[a.Key] = true
	}
	return nil
}

// ValidateKey checks that key names a single file inside the cache
// directory.
func ValidateKey(key string) error {
	if key == "" || key == "." || key == ".." || key != filepath.Base(key) ||
		strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("artifact key %q is not a plain file name", key)
	}
	return nil
}

// Fetcher opens remote resources. Errors other than cancellation should
// wrap types.ErrNetwork.
type Fetcher interface {
	// Open returns the body and its length, or -1 when unknown.
	Open(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// HTTPFetcher is the default Fetcher.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher returns a fetcher with sensible timeouts.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: DefaultTimeout,
			},
		},
		UserAgent: "modpatch/" + types.Version,
	}
}

// Open implements Fetcher.
func (f *HTTPFetcher) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: GET %s: %v", types.ErrNetwork, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		iox.DiscardClose(resp.Body)
		return nil, 0, fmt.Errorf("%w: GET %s: status %d", types.ErrNetwork, url, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// maxInfoSize bounds the remote info document.
const maxInfoSize = 1 << 20

// FetchInfo downloads and decodes the channel info document.
func FetchInfo(ctx context.Context, f Fetcher, url string) (*Info, error) {
	body, _, err := f.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(body)

	var info Info
	if err := json.NewDecoder(io.LimitReader(body, maxInfoSize)).Decode(&info); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: decode %s: %v", types.ErrNetwork, url, err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrNetwork, url, err)
	}
	return &info, nil
}
