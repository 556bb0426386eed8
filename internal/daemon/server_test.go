package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/db"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/klauspost/compress/zstd"
)

const debugTrait = "core::fmt::Debug"

// rustdocJSON builds a minimal crate with `impl Debug for Thing` and, when
// marker is set, `impl Marker for u8`.
func rustdocJSON(name, version string, marker bool) string {
	extra := ""
	if marker {
		extra = `,"11":{"id":11,"crate_id":0,"inner":{"impl":{"generics":{"params":[],"where_predicates":[]},` +
			`"trait":{"path":"Marker","id":3,"args":null},"for":{"primitive":"u8"},"is_synthetic":false,"blanket_impl":null}}}`
	}
	return fmt.Sprintf(`{"root":0,"crate_version":%[2]q,"format_version":39,
"external_crates":{"1":{"name":"core","html_root_url":"https://doc.rust-lang.org/nightly/"}},
"paths":{"1":{"crate_id":0,"path":[%[1]q,"Thing"],"kind":"struct"},
"2":{"crate_id":1,"path":["core","fmt","Debug"],"kind":"trait"},
"3":{"crate_id":0,"path":[%[1]q,"Marker"],"kind":"trait"}},
"index":{"10":{"id":10,"crate_id":0,"inner":{"impl":{"generics":{"params":[],"where_predicates":[]},
"trait":{"path":"Debug","id":2,"args":null},"for":{"resolved_path":{"path":"Thing","id":1,"args":null}},
"is_synthetic":false,"blanket_impl":null}}}%[3]s}}`, name, version, extra)
}

type fakeDocsRS struct {
	*httptest.Server
	fetches atomic.Int32
}

func newFakeDocsRS(t *testing.T) *fakeDocsRS {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	bodies := map[string][]byte{
		"/crate/alpha/latest/json": enc.EncodeAll([]byte(rustdocJSON("alpha", "1.0.0", true)), nil),
		"/crate/alpha/1.0.0/json":  enc.EncodeAll([]byte(rustdocJSON("alpha", "1.0.0", true)), nil),
		"/crate/alpha/2.0.0/json":  enc.EncodeAll([]byte(rustdocJSON("alpha", "2.0.0", false)), nil),
		"/crate/beta/2.0.0/json":   enc.EncodeAll([]byte(rustdocJSON("beta", "2.0.0", false)), nil),
	}
	enc.Close()

	f := &fakeDocsRS{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestServer(t *testing.T, docsRS string) (*Server, *db.DB) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{DocsRS: config.DocsRSConfig{BaseURL: docsRS, UserAgent: "implindex-test"}}
	return NewServer(cfg, database, filepath.Join(t.TempDir(), "d.sock")), database
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func addCrate(t *testing.T, base string, spec rpc.CrateSpec) rpc.CrateResult {
	t.Helper()
	resp := postJSON(t, base+"/add-crates", rpc.AddCratesRequest{Crates: []rpc.CrateSpec{spec}})
	defer resp.Body.Close()

	var result *rpc.CrateResult
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var line rpc.ProgressLine
		if err := dec.Decode(&line); err != nil {
			t.Fatal(err)
		}
		if line.Type == "result" {
			result = line.Result
		}
	}
	if result == nil {
		t.Fatal("no result line")
	}
	return *result
}

func getImplementors(t *testing.T, base, trait string) rpc.ImplementorsResponse {
	t.Helper()
	resp := postJSON(t, base+"/implementors", rpc.ImplementorsRequest{Trait: trait})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out rpc.ImplementorsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestServer_AddAndQueryImplementors(t *testing.T) {
	docsRS := newFakeDocsRS(t)
	s, database := newTestServer(t, docsRS.URL)
	t.Cleanup(func() { database.Close() })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	res := addCrate(t, ts.URL, rpc.CrateSpec{Name: "alpha"})
	if res.Error != "" {
		t.Fatal(res.Error)
	}
	if res.Version != "1.0.0" || res.Traits != 2 || res.Implementors != 2 {
		t.Fatalf("alpha result = %+v", res)
	}

	// Nobody has asked for Debug yet, so the registry waits in the slot.
	pending, ok := s.index.Slot(debugTrait).Peek()
	if !ok || pending.Len() != 1 {
		t.Fatalf("expected pending registry for %s", debugTrait)
	}

	got := getImplementors(t, ts.URL, debugTrait)
	if len(got.Groups) != 1 || got.Groups[0].Crate != "alpha" || len(got.Groups[0].Fragments) != 1 {
		t.Fatalf("groups = %+v", got.Groups)
	}
	frag := got.Groups[0].Fragments[0]
	if !strings.Contains(frag, docsRS.URL+"/alpha/1.0.0/alpha/struct.Thing.html") || !strings.Contains(frag, ">Debug</a>") {
		t.Errorf("fragment = %q", frag)
	}
	if got.Loads != 1 {
		t.Errorf("loads = %d, want only the persisted load", got.Loads)
	}
	if _, ok := s.index.Slot(debugTrait).Peek(); ok {
		t.Error("pending slot should be cleared after attach")
	}

	// With a consumer attached, new crates are delivered directly.
	res = addCrate(t, ts.URL, rpc.CrateSpec{Name: "beta", Version: "2.0.0"})
	if res.Error != "" || res.Implementors != 1 {
		t.Fatalf("beta result = %+v", res)
	}
	got = getImplementors(t, ts.URL, debugTrait)
	if len(got.Groups) != 2 || got.Groups[0].Crate != "alpha" || got.Groups[1].Crate != "beta" {
		t.Fatalf("groups after beta = %+v", got.Groups)
	}
	if got.Loads != 2 {
		t.Errorf("loads = %d, want 2", got.Loads)
	}

	// Already indexed: no second fetch.
	before := docsRS.fetches.Load()
	res = addCrate(t, ts.URL, rpc.CrateSpec{Name: "alpha"})
	if res.Error != "" || res.Implementors != 2 {
		t.Fatalf("cached alpha result = %+v", res)
	}
	if docsRS.fetches.Load() != before {
		t.Error("indexed crate was fetched again")
	}

	traits := getTraits(t, ts.URL)
	if len(traits) != 2 || traits[0].Path != "alpha::Marker" || traits[1].Crates != 2 {
		t.Errorf("traits = %+v", traits)
	}
}

func getTraits(t *testing.T, base string) []rpc.TraitSummary {
	t.Helper()
	resp, err := http.Get(base + "/traits")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var traits rpc.TraitsResponse
	if err := json.NewDecoder(resp.Body).Decode(&traits); err != nil {
		t.Fatal(err)
	}
	return traits.Traits
}

// checkUpgradedAlpha asserts that only alpha@2.0.0 is served: Marker is gone
// and Debug points at the new version.
func checkUpgradedAlpha(t *testing.T, base, docsRS string) {
	t.Helper()
	if got := getImplementors(t, base, "alpha::Marker"); len(got.Groups) != 0 {
		t.Errorf("alpha::Marker groups after upgrade = %+v", got.Groups)
	}
	got := getImplementors(t, base, debugTrait)
	if len(got.Groups) != 1 || len(got.Groups[0].Fragments) != 1 {
		t.Fatalf("Debug groups after upgrade = %+v", got.Groups)
	}
	if frag := got.Groups[0].Fragments[0]; !strings.Contains(frag, docsRS+"/alpha/2.0.0/") {
		t.Errorf("Debug fragment = %q, want the 2.0.0 page", frag)
	}
	traits := getTraits(t, base)
	if len(traits) != 1 || traits[0] != (rpc.TraitSummary{Path: debugTrait, Implementors: 1, Crates: 1}) {
		t.Errorf("traits after upgrade = %+v", traits)
	}
}

func TestServer_UpgradeDropsTrait(t *testing.T) {
	docsRS := newFakeDocsRS(t)
	s, database := newTestServer(t, docsRS.URL)
	t.Cleanup(func() { database.Close() })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if res := addCrate(t, ts.URL, rpc.CrateSpec{Name: "alpha", Version: "1.0.0"}); res.Error != "" || res.Traits != 2 {
		t.Fatalf("alpha@1.0.0 result = %+v", res)
	}
	if got := getImplementors(t, ts.URL, "alpha::Marker"); len(got.Groups) != 1 {
		t.Fatalf("alpha::Marker groups = %+v", got.Groups)
	}
	if got := getImplementors(t, ts.URL, debugTrait); len(got.Groups) != 1 {
		t.Fatalf("Debug groups = %+v", got.Groups)
	}

	if res := addCrate(t, ts.URL, rpc.CrateSpec{Name: "alpha", Version: "2.0.0"}); res.Error != "" || res.Traits != 1 {
		t.Fatalf("alpha@2.0.0 result = %+v", res)
	}
	checkUpgradedAlpha(t, ts.URL, docsRS.URL)
}

func TestServer_UpgradeBeforeFirstQuery(t *testing.T) {
	docsRS := newFakeDocsRS(t)
	s, database := newTestServer(t, docsRS.URL)
	t.Cleanup(func() { database.Close() })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for _, version := range []string{"1.0.0", "2.0.0"} {
		if res := addCrate(t, ts.URL, rpc.CrateSpec{Name: "alpha", Version: version}); res.Error != "" {
			t.Fatalf("alpha@%s: %s", version, res.Error)
		}
	}
	if _, ok := s.index.Slot("alpha::Marker").Peek(); !ok {
		t.Fatal("expected a pending registry for alpha::Marker")
	}
	checkUpgradedAlpha(t, ts.URL, docsRS.URL)
}

func TestServer_Errors(t *testing.T) {
	docsRS := newFakeDocsRS(t)
	s, database := newTestServer(t, docsRS.URL)
	t.Cleanup(func() { database.Close() })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/implementors", rpc.ImplementorsRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty trait status = %d", resp.StatusCode)
	}

	res := addCrate(t, ts.URL, rpc.CrateSpec{Name: "missing"})
	if res.Error == "" {
		t.Fatal("expected error for unknown crate")
	}
	// The 404 for "latest" is remembered.
	before := docsRS.fetches.Load()
	res = addCrate(t, ts.URL, rpc.CrateSpec{Name: "missing"})
	if !strings.Contains(res.Error, "cached") || docsRS.fetches.Load() != before {
		t.Errorf("second lookup = %+v", res)
	}

	// Unknown traits answer with no groups.
	got := getImplementors(t, ts.URL, "nothing::Here")
	if len(got.Groups) != 0 {
		t.Errorf("groups = %+v", got.Groups)
	}
}

func TestClient_OverSocket(t *testing.T) {
	docsRS := newFakeDocsRS(t)
	s, _ := newTestServer(t, docsRS.URL)

	go s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	client := NewClient(s.socketPath)
	deadline := time.Now().Add(5 * time.Second)
	for !client.IsAvailable() {
		if time.Now().After(deadline) {
			t.Fatal("daemon did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx := context.Background()
	var progress []string
	added, err := client.AddCrates(ctx, []rpc.CrateSpec{{Name: "alpha"}}, func(msg string) {
		progress = append(progress, msg)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(added.Results) != 1 || added.Results[0].Error != "" {
		t.Fatalf("results = %+v", added.Results)
	}
	if len(progress) == 0 {
		t.Error("expected progress messages")
	}

	impls, err := client.Implementors(ctx, "alpha::Marker")
	if err != nil {
		t.Fatal(err)
	}
	if len(impls.Groups) != 1 || !strings.Contains(impls.Groups[0].Fragments[0], "primitive.u8.html") {
		t.Errorf("implementors = %+v", impls)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Crates) != 1 || !status.Crates[0].Processed || len(status.Traits) != 1 {
		t.Errorf("status = %+v", status)
	}

	if _, err := client.Implementors(ctx, ""); err == nil || !strings.Contains(err.Error(), "missing trait") {
		t.Errorf("expected daemon error, got %v", err)
	}
	if err := client.ClearCache(ctx); err != nil {
		t.Fatal(err)
	}
}
