package docs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

const testCrateJSON = `{
  "root": 0,
  "crate_version": "1.0.0",
  "format_version": 39,
  "external_crates": {
    "1": {"name": "core", "html_root_url": "https://doc.rust-lang.org/nightly/"},
    "2": {"name": "serde_json"}
  },
  "paths": {
    "0": {"crate_id": 0, "path": ["mycrate"], "kind": "module"},
    "1": {"crate_id": 0, "path": ["mycrate", "Wrapper"], "kind": "struct"},
    "2": {"crate_id": 1, "path": ["core", "iter", "traits", "collect", "IntoIterator"], "kind": "trait"},
    "3": {"crate_id": 1, "path": ["core", "fmt", "Debug"], "kind": "trait"},
    "4": {"crate_id": 0, "path": ["mycrate", "Marker"], "kind": "trait"},
    "5": {"crate_id": 1, "path": ["core", "marker", "Send"], "kind": "trait"},
    "6": {"crate_id": 2, "path": ["serde_json", "Value"], "kind": "enum"},
    "7": {"crate_id": 0, "path": ["mycrate", "Alias"], "kind": "type_alias"}
  },
  "index": {
    "1": {"id": 1, "crate_id": 0, "name": "Wrapper", "inner": {"struct": {}}},
    "10": {"id": 10, "crate_id": 0, "name": null, "inner": {"impl": {
      "is_unsafe": false,
      "generics": {
        "params": [
          {"name": "'a", "kind": {"lifetime": {"outlives": []}}},
          {"name": "T", "kind": {"type": {"bounds": [
            {"trait_bound": {"trait": {"path": "Debug", "id": 3, "args": null}, "generic_params": [], "modifier": "none"}}
          ], "default": null, "is_synthetic": false}}}
        ],
        "where_predicates": []
      },
      "trait": {"path": "IntoIterator", "id": 2, "args": null},
      "for": {"borrowed_ref": {"lifetime": "'a", "is_mutable": false, "type":
        {"resolved_path": {"path": "Wrapper", "id": 1, "args": {"angle_bracketed": {"args": [{"type": {"generic": "T"}}], "constraints": []}}}}}},
      "is_negative": false,
      "is_synthetic": false,
      "blanket_impl": null
    }}},
    "11": {"id": 11, "crate_id": 0, "name": null, "inner": {"impl": {
      "generics": {"params": [], "where_predicates": []},
      "trait": {"path": "Send", "id": 5, "args": null},
      "for": {"resolved_path": {"path": "Wrapper", "id": 1, "args": null}},
      "is_synthetic": true,
      "blanket_impl": null
    }}},
    "12": {"id": 12, "crate_id": 0, "name": null, "inner": {"impl": {
      "generics": {"params": [], "where_predicates": []},
      "trait": {"path": "IntoIterator", "id": 2, "args": null},
      "for": {"generic": "I"},
      "is_synthetic": false,
      "blanket_impl": {"generic": "I"}
    }}},
    "13": {"id": 13, "crate_id": 0, "name": null, "inner": {"impl": {
      "generics": {"params": [], "where_predicates": []},
      "trait": {"path": "Marker", "id": 4, "args": null},
      "for": {"primitive": "u8"},
      "is_negative": true,
      "is_synthetic": false,
      "blanket_impl": null
    }}},
    "14": {"id": 14, "crate_id": 0, "name": null, "inner": {"impl": {
      "generics": {"params": [], "where_predicates": []},
      "trait": null,
      "for": {"resolved_path": {"path": "Wrapper", "id": 1, "args": null}},
      "is_synthetic": false,
      "blanket_impl": null
    }}},
    "15": {"id": 15, "crate_id": 0, "name": null, "inner": {"impl": {
      "is_unsafe": true,
      "generics": {
        "params": [{"name": "T", "kind": {"type": {"bounds": [], "default": null, "is_synthetic": false}}}],
        "where_predicates": [
          {"bound_predicate": {"type": {"generic": "T"}, "bounds": [
            {"trait_bound": {"trait": {"path": "Debug", "id": 3, "args": null}, "generic_params": [], "modifier": "none"}}
          ], "generic_params": []}}
        ]
      },
      "trait": {"path": "Marker", "id": 4, "args": null},
      "for": {"resolved_path": {"path": "Wrapper", "id": 1, "args": {"angle_bracketed": {"args": [{"type": {"generic": "T"}}], "constraints": []}}}},
      "is_negative": false,
      "is_synthetic": false,
      "blanket_impl": null
    }}},
    "99": {"id": 99, "crate_id": 1, "name": null, "inner": {"impl": {
      "generics": {"params": [], "where_predicates": []},
      "trait": {"path": "Debug", "id": 3, "args": null},
      "for": {"primitive": "str"},
      "is_synthetic": false,
      "blanket_impl": null
    }}}
  }
}`

func testCrate(t *testing.T) *RustdocCrate {
	t.Helper()
	crate, err := Parse([]byte(testCrateJSON))
	if err != nil {
		t.Fatal(err)
	}
	return crate
}

const (
	debugLink   = `<a class="trait" href="https://doc.rust-lang.org/nightly/core/fmt/trait.Debug.html" title="trait core::fmt::Debug">Debug</a>`
	wrapperLink = `<a class="struct" href="https://docs.rs/mycrate/1.0.0/mycrate/struct.Wrapper.html" title="struct mycrate::Wrapper">Wrapper</a>`
	markerLink  = `<a class="trait" href="https://docs.rs/mycrate/1.0.0/mycrate/trait.Marker.html" title="trait mycrate::Marker">Marker</a>`
)

func TestCollectImplementors(t *testing.T) {
	crate := testCrate(t)
	got := CollectImplementors(crate, "mycrate", "1.0.0", DefaultBaseURL)

	if len(got) != 2 {
		t.Fatalf("traits = %+v, want 2 entries", got)
	}
	if got[0].Trait != "core::iter::traits::collect::IntoIterator" || got[1].Trait != "mycrate::Marker" {
		t.Fatalf("trait order = %q, %q", got[0].Trait, got[1].Trait)
	}

	wantIter := `impl&lt;'a, T: ` + debugLink + `&gt; ` +
		`<a class="trait" href="https://doc.rust-lang.org/nightly/core/iter/traits/collect/trait.IntoIterator.html" title="trait core::iter::traits::collect::IntoIterator">IntoIterator</a>` +
		` for &amp;'a ` + wrapperLink + `&lt;T&gt;`
	if len(got[0].Fragments) != 1 || got[0].Fragments[0] != wantIter {
		t.Errorf("IntoIterator fragments:\n got %q\nwant %q", got[0].Fragments, wantIter)
	}

	if len(got[1].Fragments) != 2 {
		t.Fatalf("Marker fragments = %q", got[1].Fragments)
	}
	wantNeg := `impl !` + markerLink + ` for <a class="primitive" href="https://doc.rust-lang.org/nightly/std/primitive.u8.html">u8</a>`
	if got[1].Fragments[0] != wantNeg {
		t.Errorf("negative impl:\n got %q\nwant %q", got[1].Fragments[0], wantNeg)
	}
	wantUnsafe := `unsafe impl&lt;T&gt; ` + markerLink + ` for ` + wrapperLink + `&lt;T&gt;` +
		` <span class="where fmt-newline">where<br>&nbsp;&nbsp;&nbsp;&nbsp;T: ` + debugLink + `,&nbsp;</span>`
	if got[1].Fragments[1] != wantUnsafe {
		t.Errorf("unsafe impl:\n got %q\nwant %q", got[1].Fragments[1], wantUnsafe)
	}
}

func TestItemURL(t *testing.T) {
	crate := testCrate(t)
	tests := []struct {
		id   int
		want string
	}{
		{0, "https://docs.rs/mycrate/1.0.0/mycrate/index.html"},
		{1, "https://docs.rs/mycrate/1.0.0/mycrate/struct.Wrapper.html"},
		{2, "https://doc.rust-lang.org/nightly/core/iter/traits/collect/trait.IntoIterator.html"},
		{6, "https://docs.rs/serde_json/latest/serde_json/enum.Value.html"},
		{7, "https://docs.rs/mycrate/1.0.0/mycrate/type.Alias.html"},
		{42, ""},
	}
	for _, tt := range tests {
		if got := ItemURL(tt.id, crate, "mycrate", "1.0.0", "https://docs.rs/"); got != tt.want {
			t.Errorf("ItemURL(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestItemTitleAndTraitPath(t *testing.T) {
	crate := testCrate(t)
	if got := ItemTitle(7, crate); got != "type mycrate::Alias" {
		t.Errorf("ItemTitle = %q", got)
	}
	if got := TraitPath(3, crate, "Debug"); got != "core::fmt::Debug" {
		t.Errorf("TraitPath = %q", got)
	}
	if got := TraitPath(42, crate, "fallback::Tr"); got != "fallback::Tr" {
		t.Errorf("TraitPath fallback = %q", got)
	}
}

func TestExtractDocsRsCrateName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://docs.rs/tracing-core/0.1.36/x86_64-unknown-linux-gnu/", "tracing-core"},
		{"https://docs.rs/serde/latest/", "serde"},
		{"https://doc.rust-lang.org/nightly/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractDocsRsCrateName(tt.url); got != tt.want {
			t.Errorf("extractDocsRsCrateName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := Parse([]byte(`{"root": 0}`)); err == nil {
		t.Error("expected error for missing index")
	}
	crate := testCrate(t)
	if v := crate.ResolvedVersion("latest"); v != "1.0.0" {
		t.Errorf("ResolvedVersion = %q", v)
	}
	crate.CrateVersion = nil
	if v := crate.ResolvedVersion("latest"); v != "latest" {
		t.Errorf("ResolvedVersion fallback = %q", v)
	}
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestFetchRustdocJSON(t *testing.T) {
	body := compress(t, []byte(testCrateJSON))
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Path != "/crate/mycrate/latest/json" {
			http.Error(w, "no such crate", http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL+"/", "implindex-test")
	data, err := f.FetchRustdocJSON(context.Background(), "mycrate", "")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != testCrateJSON {
		t.Error("decompressed body mismatch")
	}
	if gotUA != "implindex-test" {
		t.Errorf("User-Agent = %q", gotUA)
	}

	_, err = f.FetchRustdocJSON(context.Background(), "missing", "1.0.0")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 error, got %v", err)
	}
}

func TestCache(t *testing.T) {
	c := &Cache{Dir: t.TempDir()}
	if c.Has("mycrate", "1.0.0") {
		t.Fatal("empty cache reports entry")
	}
	if err := c.Save([]byte(testCrateJSON), "mycrate", "1.0.0"); err != nil {
		t.Fatal(err)
	}
	if !c.Has("mycrate", "1.0.0") {
		t.Fatal("saved entry missing")
	}
	data, err := c.Load("mycrate", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != testCrateJSON {
		t.Error("cached data mismatch")
	}
	if _, err := c.Load("other", "1.0.0"); err == nil {
		t.Error("expected error loading missing entry")
	}
}
