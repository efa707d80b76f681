package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pithecene-io/modpatch/metrics"
	"github.com/pithecene-io/modpatch/types"
)

func hexSum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// fileServer serves files by path and counts requests.
type fileServer struct {
	files map[string]string
	hits  atomic.Int64
}

func (s *fileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)
	body, ok := s.files[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = fmt.Fprint(w, body)
}

func newDownloader(t *testing.T, m *metrics.Collector) *Downloader {
	t.Helper()
	c, err := OpenCache(t.TempDir())
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	return &Downloader{Fetcher: NewHTTPFetcher(), Cache: c, Metrics: m}
}

func TestDownloader_FetchAndCache(t *testing.T) {
	fs := &fileServer{files: map[string]string{"/injector.dex": "payload"}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	m := metrics.NewCollector("att-1", "fs")
	d := newDownloader(t, m)
	a := Artifact{Key: "injector", Version: "1.0.0", URL: srv.URL + "/injector.dex", SHA256: hexSum("payload")}

	r, err := d.Fetch(t.Context(), a, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if r.Cached {
		t.Error("first fetch reported a cache hit")
	}
	b, err := os.ReadFile(r.Path)
	if err != nil || string(b) != "payload" {
		t.Fatalf("cached file = %q, %v", b, err)
	}

	r, err = d.Fetch(t.Context(), a, nil)
	if err != nil || !r.Cached {
		t.Fatalf("second Fetch = %+v, %v", r, err)
	}
	if fs.hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", fs.hits.Load())
	}
	s := m.Snapshot()
	if s.CacheHits != 1 || s.CacheMisses != 1 || s.BytesDownloaded != 7 {
		t.Errorf("metrics = %+v", s)
	}

	// The index survives a reopen.
	reopened, err := OpenCache(filepath.Dir(d.Cache.Dir()))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reopened.Lookup(a); !ok {
		t.Error("reopened cache does not hold the artifact")
	}
	if e, _ := reopened.Entry("injector"); e.Version != "1.0.0" || e.Size != 7 || e.FetchedAt.IsZero() {
		t.Errorf("entry = %+v", e)
	}
}

func TestCache_LookupStale(t *testing.T) {
	fs := &fileServer{files: map[string]string{"/a": "v1"}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	d := newDownloader(t, nil)
	a := Artifact{Key: "libs", Version: "1", URL: srv.URL + "/a"}
	if _, err := d.Fetch(t.Context(), a, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(a *Artifact)
	}{
		{"new version", func(a *Artifact) { a.Version = "2" }},
		{"different hash", func(a *Artifact) { a.SHA256 = hexSum("other") }},
		{"tampered file", func(*Artifact) {
			_ = os.WriteFile(d.Cache.Path("libs"), []byte("v2"), 0o644)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := a
			tt.mutate(&probe)
			if _, ok := d.Cache.Lookup(probe); ok {
				t.Error("stale artifact reported fresh")
			}
		})
	}
}

func TestDownloader_Errors(t *testing.T) {
	fs := &fileServer{files: map[string]string{"/a": "content"}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	tests := []struct {
		name string
		a    Artifact
	}{
		{"not found", Artifact{Key: "x", URL: srv.URL + "/missing"}},
		{"checksum", Artifact{Key: "x", URL: srv.URL + "/a", SHA256: hexSum("other")}},
		{"size", Artifact{Key: "x", URL: srv.URL + "/a", Size: 3}},
		{"refused", Artifact{Key: "x", URL: "http://127.0.0.1:1/a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDownloader(t, nil)
			_, err := d.Fetch(t.Context(), tt.a, nil)
			if !errors.Is(err, types.ErrNetwork) {
				t.Fatalf("err = %v, want ErrNetwork", err)
			}
			for _, p := range []string{d.Cache.Path("x"), d.Cache.Path("x") + partSuffix} {
				if _, err := os.Stat(p); !os.IsNotExist(err) {
					t.Errorf("%s left behind", p)
				}
			}
		})
	}
}

func TestDownloader_CancelRemovesPart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write(make([]byte, 4096))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	d := newDownloader(t, nil)
	a := Artifact{Key: "big", URL: srv.URL}

	var sawTotal int64
	_, err := d.Fetch(ctx, a, func(_ string, _, total int64) {
		sawTotal = total
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if types.Classify(err) != types.ErrorKindCancelled {
		t.Errorf("Classify = %q", types.Classify(err))
	}
	if sawTotal != 1048576 {
		t.Errorf("progress total = %d", sawTotal)
	}
	if _, err := os.Stat(d.Cache.Path("big") + partSuffix); !os.IsNotExist(err) {
		t.Error("part file left behind after cancel")
	}
}

func TestDownloader_FetchAll(t *testing.T) {
	fs := &fileServer{files: map[string]string{"/a": "aaa", "/b": "bb", "/c": "c"}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	d := newDownloader(t, nil)
	d.Parallelism = 2
	arts := []Artifact{
		{Key: "a", URL: srv.URL + "/a"},
		{Key: "b", URL: srv.URL + "/b"},
		{Key: "c", URL: srv.URL + "/c"},
	}
	var mu sync.Mutex
	seen := map[string]int64{}
	results, err := d.FetchAll(t.Context(), arts, func(key string, done, _ int64) {
		mu.Lock()
		seen[key] = done
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	for i, r := range results {
		if r.Artifact.Key != arts[i].Key {
			t.Errorf("results[%d] = %s, want %s", i, r.Artifact.Key, arts[i].Key)
		}
	}
	if seen["a"] != 3 || seen["b"] != 2 || seen["c"] != 1 {
		t.Errorf("progress = %v", seen)
	}

	arts = append(arts, Artifact{Key: "d", URL: srv.URL + "/missing"})
	if _, err := d.FetchAll(t.Context(), arts, nil); !errors.Is(err, types.ErrNetwork) {
		t.Errorf("FetchAll with a missing artifact err = %v", err)
	}
	if _, err := d.FetchAll(t.Context(), []Artifact{arts[0], arts[0]}, nil); err == nil {
		t.Error("duplicate keys accepted")
	}
}

func TestValidateKey_StaysInCache(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"injector", true},
		{"libs-arm64.zip", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../../escape", false},
		{"sub/file", false},
		{`sub\file`, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err == nil) != tt.ok {
				t.Fatalf("ValidateKey(%q) = %v, want ok=%v", tt.key, err, tt.ok)
			}
			info := Info{Artifacts: []Artifact{{Key: tt.key, URL: "http://x/a"}}}
			if verr := info.Validate(); (verr == nil) != tt.ok {
				t.Errorf("Validate = %v, want ok=%v", verr, tt.ok)
			}
		})
	}

	d := newDownloader(t, nil)
	outside := filepath.Join(filepath.Dir(filepath.Dir(d.Cache.Dir())), "escape")
	if _, err := d.Fetch(t.Context(), Artifact{Key: "../../escape", URL: "http://127.0.0.1:1/a"}, nil); err == nil {
		t.Fatal("Fetch accepted an escaping key")
	}
	for _, p := range []string{outside, outside + partSuffix} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s written outside the cache", p)
		}
	}
}

func TestFetchInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stable/info.json":
			_, _ = fmt.Fprint(w, `{"version":"2.1.0","artifacts":[{"key":"injector","kind":"dex","version":"2.1.0","url":"http://x/i.dex","priority":1}]}`)
		case "/dup/info.json":
			_, _ = fmt.Fprint(w, `{"version":"1","artifacts":[{"key":"a","url":"u"},{"key":"a","url":"u"}]}`)
		default:
			_, _ = fmt.Fprint(w, `not json`)
		}
	}))
	defer srv.Close()

	info, err := FetchInfo(t.Context(), NewHTTPFetcher(), srv.URL+"/stable/info.json")
	if err != nil {
		t.Fatalf("FetchInfo: %v", err)
	}
	a, ok := info.Artifact("injector")
	if !ok || a.Kind != KindDex || a.Priority != 1 || info.Version != "2.1.0" {
		t.Errorf("info = %+v", info)
	}
	for _, path := range []string{"/dup/info.json", "/garbage"} {
		if _, err := FetchInfo(t.Context(), NewHTTPFetcher(), srv.URL+path); !errors.Is(err, types.ErrNetwork) {
			t.Errorf("FetchInfo(%s) err = %v, want ErrNetwork", path, err)
		}
	}
}
