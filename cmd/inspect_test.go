package cmd

import (
	"context"
	"testing"

	"github.com/jcdickinson/implindex/internal/jsfile"
)

func TestInspectDir_Fixture(t *testing.T) {
	t.Parallel()

	reports, err := inspectDir(context.Background(), "testdata", 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %+v", reports)
	}
	r := reports[0]
	if r.Trait != "core::iter::traits::IntoIterator" || r.Crates != 3 || r.Fragments != 59 {
		t.Errorf("report = %+v", r)
	}
	if r.Delivery != "stashed" || r.Drained {
		t.Errorf("without a consumer the registry should stay pending: %+v", r)
	}
}

func TestInspectDir_Attach(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for trait, groups := range map[string][]jsfile.Group{
		"a::Tr":   {{Crate: "x", Fragments: []string{"impl Tr for X"}}},
		"b::c::U": {{Crate: "y", Fragments: []string{"impl U for Y", "impl U for Z"}}, {Crate: "z", Fragments: []string{}}},
	} {
		if _, err := jsfile.WriteArtifact(root, trait, groups); err != nil {
			t.Fatal(err)
		}
	}

	reports, err := inspectDir(context.Background(), root, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 || reports[0].Trait != "a::Tr" || reports[1].Crates != 2 || reports[1].Fragments != 2 {
		t.Fatalf("reports = %+v", reports)
	}
	for _, r := range reports {
		if !r.Drained {
			t.Errorf("%s: pending registry not drained", r.Trait)
		}
	}
}

func TestParseCrateSpecs(t *testing.T) {
	t.Parallel()
	specs := parseCrateSpecs([]string{"libc@0.2.155", "phf"})
	if len(specs) != 2 || specs[0].Name != "libc" || specs[0].Version != "0.2.155" || specs[1].Version != "" {
		t.Errorf("specs = %+v", specs)
	}
}
