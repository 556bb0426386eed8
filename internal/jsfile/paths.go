package jsfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Dir is the directory rustdoc writes implementor artifacts under.
const Dir = "implementors"

// ErrNotArtifact is returned for paths that do not name a trait artifact.
var ErrNotArtifact = errors.New("not an implementors artifact")

// ErrInvalidTrait is returned for trait paths that cannot name an artifact file.
var ErrInvalidTrait = errors.New("invalid trait path")

// traitSegments splits a trait path and checks that every segment is a plain
// file name. A trait needs at least a crate and a name.
func traitSegments(trait string) ([]string, error) {
	segs := strings.Split(trait, "::")
	if len(segs) < 2 {
		return nil, fmt.Errorf("%q: %w", trait, ErrInvalidTrait)
	}
	for _, seg := range segs {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return nil, fmt.Errorf("%q: %w", trait, ErrInvalidTrait)
		}
	}
	return segs, nil
}

// ArtifactPath returns the artifact path for a trait, relative to a doc root.
// "core::iter::traits::IntoIterator" → "implementors/core/iter/traits/trait.IntoIterator.js".
func ArtifactPath(trait string) (string, error) {
	segs, err := traitSegments(trait)
	if err != nil {
		return "", err
	}
	name := segs[len(segs)-1]
	parts := append([]string{Dir}, segs[:len(segs)-1]...)
	parts = append(parts, "trait."+name+".js")
	return filepath.Join(parts...), nil
}

// TraitFromPath is the inverse of ArtifactPath.
func TraitFromPath(rel string) (string, error) {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimPrefix(rel, Dir+"/")
	dir, file := "", rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		dir, file = rel[:i], rel[i+1:]
	}
	if !strings.HasPrefix(file, "trait.") || !strings.HasSuffix(file, ".js") {
		return "", fmt.Errorf("%s: %w", rel, ErrNotArtifact)
	}
	name := strings.TrimSuffix(strings.TrimPrefix(file, "trait."), ".js")
	if name == "" || dir == "" {
		return "", fmt.Errorf("%s: %w", rel, ErrNotArtifact)
	}
	trait := strings.ReplaceAll(dir, "/", "::") + "::" + name
	if _, err := traitSegments(trait); err != nil {
		return "", fmt.Errorf("%s: %w", rel, ErrNotArtifact)
	}
	return trait, nil
}

// Artifact is an implementors file found on disk.
type Artifact struct {
	Trait string
	File  string
}

// Discover walks root/implementors and returns every trait artifact, sorted by trait.
func Discover(root string) ([]Artifact, error) {
	base := filepath.Join(root, Dir)
	var found []Artifact
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		trait, err := TraitFromPath(rel)
		if err != nil {
			return nil
		}
		found = append(found, Artifact{Trait: trait, File: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", base, err)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Trait < found[j].Trait })
	return found, nil
}

// Parsed is an artifact together with its decoded groups.
type Parsed struct {
	Artifact
	Groups []Group
}

// ReadAll reads and parses artifacts concurrently. Results follow the input order.
func ReadAll(ctx context.Context, artifacts []Artifact, concurrency int) ([]Parsed, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	out := make([]Parsed, len(artifacts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, a := range artifacts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(a.File)
			if err != nil {
				return fmt.Errorf("reading %s: %w", a.File, err)
			}
			groups, err := Parse(a.File, data)
			if err != nil {
				return err
			}
			out[i] = Parsed{Artifact: a, Groups: groups}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteArtifact writes groups for trait under root, creating directories as needed.
// It returns the file written.
func WriteArtifact(root, trait string, groups []Group) (string, error) {
	rel, err := ArtifactPath(trait)
	if err != nil {
		return "", err
	}
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("creating artifact: %w", err)
	}
	if err := Encode(f, groups); err != nil {
		f.Close()
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing artifact: %w", err)
	}
	return p, nil
}
