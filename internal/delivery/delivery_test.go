package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/hotfix/internal/builder/hash"
	"github.com/narvanalabs/hotfix/internal/models"
	"github.com/narvanalabs/hotfix/pkg/config"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFileStore_PutFetchRelease(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	h1, err := s.Put(ctx, []byte("Gameplay"))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.Put(ctx, []byte("Gameplay"))
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 || h1 != hash.Bytes([]byte("Gameplay")) {
		t.Errorf("handles = %q %q", h1, h2)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.Fetch(ctx, h1); err != nil {
			t.Fatal(err)
		}
	}
	if s.Refs(h1) != 2 {
		t.Errorf("Refs = %d, want 2", s.Refs(h1))
	}
	s.Release(h1)
	s.Release(h1)
	s.Release(h1)
	if s.Refs(h1) != 0 {
		t.Errorf("Refs after release = %d, want 0", s.Refs(h1))
	}

	if _, err := s.Fetch(ctx, "../../etc/passwd"); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Fetch invalid = %v, want ErrInvalidHandle", err)
	}
	if _, err := s.Fetch(ctx, hash.Bytes([]byte("absent"))); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch absent = %v, want ErrNotFound", err)
	}
}

// TestFileStore_HandlesAreContentAddressed checks that stored bytes always
// come back under the handle of their content.
func TestFileStore_HandlesAreContentAddressed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("get(put(b)) == b", prop.ForAll(
		func(b []byte) bool {
			h, err := s.Put(ctx, b)
			if err != nil || h != hash.Bytes(b) {
				return false
			}
			got, err := s.Get(h)
			return err == nil && bytes.Equal(got, b)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestFileStore_Catalog(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.ReadCatalog(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadCatalog on empty store = %v, want ErrNotFound", err)
	}

	want := &Catalog{
		GeneratedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Entries: []CatalogEntry{
			{Handle: "sha256-a", Binary: "Core.dll", Module: "Core", Size: 3},
			{Handle: "sha256-b", Binary: "Gameplay.dll", Module: "Gameplay", Dependencies: []string{"Core.dll"}, Size: 4},
		},
	}
	if err := s.WriteCatalog(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadCatalog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("catalog = %+v, want %+v", got, want)
	}
	if e, ok := got.Lookup("Gameplay.dll"); !ok || e.Module != "Gameplay" {
		t.Errorf("Lookup = %+v, %v", e, ok)
	}
}

// project writes module definitions and, for built modules, their artifacts.
func project(t *testing.T, built map[string]string, modules ...[]string) (string, *config.Settings) {
	t.Helper()
	root := t.TempDir()
	out := filepath.Join(root, "Assets", "HotfixOut")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}

	settings := &config.Settings{BinaryExtension: ".bytes"}
	for _, m := range modules {
		name, refs := m[0], m[1:]
		dir := filepath.Join(root, "Assets", name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		def := `{"name": "` + name + `", "references": [`
		for i, r := range refs {
			if i > 0 {
				def += ","
			}
			def += `"` + r + `"`
		}
		def += `]}`
		if err := os.WriteFile(filepath.Join(dir, name+".asmdef"), []byte(def), 0o644); err != nil {
			t.Fatal(err)
		}
		if data, ok := built[name]; ok {
			if err := os.WriteFile(filepath.Join(out, name+".bytes"), []byte(data), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		settings.Assemblies = append(settings.Assemblies, models.AssemblyDescriptor{
			Source:       filepath.Join("Assets", name, name+".asmdef"),
			OutputFolder: "Assets/HotfixOut",
		})
	}
	return root, settings
}

type reverseSealer struct{}

func (reverseSealer) Seal(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	for i, b := range p {
		out[len(p)-1-i] = b
	}
	return out, nil
}

func (r reverseSealer) Open(p []byte) ([]byte, error) { return r.Seal(p) }

func TestPublisher_Publish(t *testing.T) {
	root, settings := project(t,
		map[string]string{"Core": "core", "Gameplay": "gameplay"},
		[]string{"Gameplay", "Core", "UnityEngine.UI"},
		[]string{"Core"},
		[]string{"Tools", "Core"},
	)
	s := newStore(t)

	catalog, err := NewPublisher(root, settings, s, nil).Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(catalog.Entries) != 2 {
		t.Fatalf("entries = %+v, want Tools left out", catalog.Entries)
	}

	gameplay := catalog.Entries[0]
	if gameplay.Binary != "Gameplay.dll" || !reflect.DeepEqual(gameplay.Dependencies, []string{"Core.dll"}) {
		t.Errorf("Gameplay entry = %+v", gameplay)
	}
	if gameplay.Handle != hash.Bytes([]byte("gameplay")) || gameplay.Size != int64(len("gameplay")) {
		t.Errorf("Gameplay handle/size = %s/%d", gameplay.Handle, gameplay.Size)
	}
	if !s.Has(gameplay.Handle) {
		t.Error("Gameplay blob not stored")
	}

	stored, err := s.ReadCatalog(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Entries) != 2 {
		t.Errorf("stored catalog = %+v", stored)
	}
}

func TestPublisher_SealsBlobs(t *testing.T) {
	root, settings := project(t, map[string]string{"Core": "core"}, []string{"Core"})
	s := newStore(t)

	catalog, err := NewPublisher(root, settings, s, nil, WithSealer(reverseSealer{})).Publish(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	e := catalog.Entries[0]
	if !e.Sealed || e.Handle != hash.Bytes([]byte("eroc")) {
		t.Errorf("entry = %+v", e)
	}

	f := &SealedFetcher{Fetcher: s, Opener: reverseSealer{}}
	data, err := f.Fetch(context.Background(), e.Handle)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "core" {
		t.Errorf("opened = %q, want core", data)
	}
	f.Release(e.Handle)
	if s.Refs(e.Handle) != 0 {
		t.Errorf("Refs = %d", s.Refs(e.Handle))
	}
}

type failingOpener struct{}

func (failingOpener) Open([]byte) ([]byte, error) { return nil, errors.New("wrong key") }

func TestSealedFetcher_ReleasesOnOpenFailure(t *testing.T) {
	s := newStore(t)
	h, err := s.Put(context.Background(), []byte("sealed"))
	if err != nil {
		t.Fatal(err)
	}
	f := &SealedFetcher{Fetcher: s, Opener: failingOpener{}}
	if _, err := f.Fetch(context.Background(), h); err == nil {
		t.Fatal("Fetch should fail")
	}
	if s.Refs(h) != 0 {
		t.Errorf("Refs = %d, want 0", s.Refs(h))
	}
}

func TestPublisher_LeavesOutDependentsOfUnbuiltModules(t *testing.T) {
	tests := []struct {
		name    string
		built   map[string]string
		modules [][]string
		want    []string
	}{
		{
			name:    "direct dependency unbuilt",
			built:   map[string]string{"B": "b", "C": "c"},
			modules: [][]string{{"A"}, {"B", "A"}, {"C"}},
			want:    []string{"C.dll"},
		},
		{
			name:    "transitive dependency unbuilt",
			built:   map[string]string{"B": "b", "C": "c", "D": "d"},
			modules: [][]string{{"A"}, {"B", "A"}, {"C", "B"}, {"D"}},
			want:    []string{"D.dll"},
		},
		{
			name:    "non-hotfix references are ignored",
			built:   map[string]string{"B": "b"},
			modules: [][]string{{"B", "UnityEngine.UI"}},
			want:    []string{"B.dll"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, settings := project(t, tt.built, tt.modules...)
			catalog, err := NewPublisher(root, settings, newStore(t), nil).Publish(context.Background())
			if err != nil {
				t.Fatalf("Publish: %v", err)
			}

			var got []string
			present := make(map[string]bool)
			for _, e := range catalog.Entries {
				got = append(got, e.Binary)
				present[e.Binary] = true
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("published = %v, want %v", got, tt.want)
			}
			for _, e := range catalog.Entries {
				for _, dep := range e.Dependencies {
					if !present[dep] {
						t.Errorf("%s depends on unpublished %s", e.Binary, dep)
					}
				}
			}
		})
	}
}

func TestSealedFetcher_OpensOnlySealedHandles(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sealedHandle, err := s.Put(ctx, []byte("eroc"))
	if err != nil {
		t.Fatal(err)
	}
	plainHandle, err := s.Put(ctx, []byte("gameplay"))
	if err != nil {
		t.Fatal(err)
	}
	catalog := &Catalog{Entries: []CatalogEntry{
		{Handle: sealedHandle, Binary: "Core.dll", Sealed: true},
		{Handle: plainHandle, Binary: "Gameplay.dll"},
	}}

	tests := []struct {
		name    string
		opener  Opener
		handle  string
		want    string
		wantErr error
	}{
		{name: "sealed entry is opened", opener: reverseSealer{}, handle: sealedHandle, want: "core"},
		{name: "plain entry passes through", opener: reverseSealer{}, handle: plainHandle, want: "gameplay"},
		{name: "plain entry needs no opener", handle: plainHandle, want: "gameplay"},
		{name: "sealed entry without opener", handle: sealedHandle, wantErr: ErrNoOpener},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &SealedFetcher{Fetcher: s, Opener: tt.opener, Sealed: catalog.SealedHandles()}
			data, err := f.Fetch(ctx, tt.handle)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Fetch err = %v, want %v", err, tt.wantErr)
				}
				if s.Refs(tt.handle) != 0 {
					t.Errorf("Refs = %d, want 0", s.Refs(tt.handle))
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("data = %q, want %q", data, tt.want)
			}
			f.Release(tt.handle)
		})
	}
}

func TestDirFetcherAndLocalEntries(t *testing.T) {
	root, settings := project(t,
		map[string]string{"Core": "core", "Gameplay": "gameplay"},
		[]string{"Gameplay", "Core"},
		[]string{"Core"},
	)

	entries, err := LocalEntries(root, settings)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Binary != "Gameplay.dll" || !reflect.DeepEqual(entries[0].Dependencies, []string{"Core.dll"}) {
		t.Fatalf("entries = %+v", entries)
	}

	f := &DirFetcher{}
	data, err := f.Fetch(context.Background(), entries[1].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "core" {
		t.Errorf("data = %q", data)
	}

	rel := &DirFetcher{Root: root}
	if _, err := rel.Fetch(context.Background(), "Assets/HotfixOut/Missing.bytes"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file = %v, want ErrNotFound", err)
	}
}

func TestHTTPClient_RejectsTamperedBlob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	h := hash.Bytes([]byte("original"))
	if _, err := c.Fetch(context.Background(), h); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Fetch = %v, want ErrIntegrity", err)
	}
	if c.Refs(h) != 0 {
		t.Error("failed fetch took a reference")
	}
}

func TestHTTPClient_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"NOT_FOUND","message":"Blob not found"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second)
	_, err := c.Fetch(context.Background(), hash.Bytes([]byte("x")))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch = %v, want ErrNotFound", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "Blob not found" {
		t.Errorf("status error = %+v", se)
	}
}

func TestHTTPClient_RetriesTransientFailures(t *testing.T) {
	blob := []byte("Gameplay.dll")
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(blob)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, WithRetry(&RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}))
	data, err := c.Fetch(context.Background(), hash.Bytes(blob))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(data, blob) || requests.Load() != 2 {
		t.Errorf("data = %q after %d requests", data, requests.Load())
	}
	if c.Refs(hash.Bytes(blob)) != 1 {
		t.Errorf("Refs = %d, want 1", c.Refs(hash.Bytes(blob)))
	}
}

func TestHTTPClient_DoesNotRetryPermanentFailures(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, WithRetry(&RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond}))
	if _, err := c.Fetch(context.Background(), hash.Bytes([]byte("x"))); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Fetch = %v, want ErrNotFound", err)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &StatusError{Status: http.StatusBadGateway}, true},
		{"rate limited", &StatusError{Status: http.StatusTooManyRequests}, true},
		{"not found", &StatusError{Status: http.StatusNotFound}, false},
		{"integrity", fmt.Errorf("wrapped: %w", ErrIntegrity), false},
		{"canceled", context.Canceled, false},
		{"refused", errors.New("dial tcp 127.0.0.1:8088: connect: connection refused"), true},
		{"other", errors.New("malformed catalog"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
