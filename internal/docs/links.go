package docs

import (
	"regexp"
	"strconv"
	"strings"
)

// ItemURL returns the HTML documentation page for a rustdoc item ID, or "" if
// the item can't be placed. Local items link to baseURL/crate/version/...,
// dependency items to their html_root_url.
func ItemURL(itemID int, crate *RustdocCrate, crateName, version, baseURL string) string {
	summary, ok := crate.Paths[strconv.Itoa(itemID)]
	if !ok || len(summary.Path) == 0 {
		return ""
	}

	var root string
	if summary.CrateID == 0 {
		root = strings.TrimSuffix(baseURL, "/") + "/" + crateName + "/" + version + "/"
	} else {
		ext, ok := crate.ExternalCrates[strconv.Itoa(summary.CrateID)]
		if !ok {
			return ""
		}
		root = ext.HTMLRootURL
		if root == "" {
			name := crate.ExternalCrateName(summary.CrateID)
			root = strings.TrimSuffix(baseURL, "/") + "/" + name + "/latest/"
		}
		if !strings.HasSuffix(root, "/") {
			root += "/"
		}
	}

	if summary.Kind == "module" {
		return root + strings.Join(summary.Path, "/") + "/index.html"
	}
	dir := summary.Path[:len(summary.Path)-1]
	name := summary.Path[len(summary.Path)-1]
	page := pageKind(summary.Kind) + "." + name + ".html"
	if len(dir) == 0 {
		return root + page
	}
	return root + strings.Join(dir, "/") + "/" + page
}

// pageKind maps a rustdoc item kind to the prefix rustdoc uses for the item's
// HTML page and link class.
func pageKind(kind string) string {
	switch kind {
	case "type_alias":
		return "type"
	case "trait_alias":
		return "traitalias"
	case "function":
		return "fn"
	case "proc_attribute":
		return "attr"
	case "proc_derive":
		return "derive"
	default:
		return kind
	}
}

// ItemTitle returns the hover title rustdoc puts on item links, e.g.
// "trait core::iter::traits::IntoIterator".
func ItemTitle(itemID int, crate *RustdocCrate) string {
	summary, ok := crate.Paths[strconv.Itoa(itemID)]
	if !ok || len(summary.Path) == 0 {
		return ""
	}
	return pageKind(summary.Kind) + " " + strings.Join(summary.Path, "::")
}

// ExternalCrateName looks up the Cargo package name for a dependency by crate_id.
// Prefers the name extracted from html_root_url (e.g. "https://docs.rs/tracing-core/0.1.36/...")
// since the Name field uses the Rust lib name (underscores) which may differ from the
// Cargo name (hyphens). Falls back to the lib name if no docs.rs URL is present.
func (c *RustdocCrate) ExternalCrateName(crateID int) string {
	ext, ok := c.ExternalCrates[strconv.Itoa(crateID)]
	if !ok {
		return ""
	}
	if name := extractDocsRsCrateName(ext.HTMLRootURL); name != "" {
		return name
	}
	return ext.Name
}

// docsRsCrateNameRe extracts the crate name from a docs.rs html_root_url.
// Example: "https://docs.rs/tracing-core/0.1.36/x86_64-unknown-linux-gnu/" → "tracing-core"
var docsRsCrateNameRe = regexp.MustCompile(`^https?://docs\.rs/([^/]+)/`)

func extractDocsRsCrateName(rootURL string) string {
	m := docsRsCrateNameRe.FindStringSubmatch(rootURL)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// TraitPath returns the full "::"-joined path of a trait item, falling back to
// the path text rustdoc recorded on the reference.
func TraitPath(itemID int, crate *RustdocCrate, fallback string) string {
	if summary, ok := crate.Paths[strconv.Itoa(itemID)]; ok && len(summary.Path) > 0 {
		return strings.Join(summary.Path, "::")
	}
	return fallback
}
