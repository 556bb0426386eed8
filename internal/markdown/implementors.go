package markdown

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	gm "github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	gmparser "github.com/gomarkdown/markdown/parser"

	"github.com/jcdickinson/implindex/internal/implementors"
)

// URIScheme prefixes links to other traits' implementor pages.
const URIScheme = "implementors://"

// TraitURI returns the resource URI for a trait's implementors page.
func TraitURI(trait string) string {
	return URIScheme + trait
}

var (
	anchorRe = regexp.MustCompile(`<a class="[^"]*" href="([^"]*)"(?: title="([^"]*)")?>([^<]*)</a>`)
	tagRe    = regexp.MustCompile(`</?span[^>]*>`)
)

// Fragment converts one rendered implementor fragment to inline markdown.
// Anchors become markdown links; entities are kept so generics survive
// markdown parsing. It also returns each link's hover title keyed by URL.
func Fragment(frag string) (string, map[string]string) {
	titles := make(map[string]string)
	out := anchorRe.ReplaceAllStringFunc(frag, func(m string) string {
		sub := anchorRe.FindStringSubmatch(m)
		href := html.UnescapeString(sub[1])
		titles[href] = html.UnescapeString(sub[2])
		return "[" + sub[3] + "](" + href + ")"
	})
	out = tagRe.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "<br>", " ")
	out = strings.ReplaceAll(out, "&nbsp;", "")
	out = strings.Join(strings.Fields(out), " ")
	return strings.TrimSuffix(out, ","), titles
}

// Body renders a trait's registry as markdown, one section per crate. Links
// to traits in known are rewritten to their implementors:// URIs.
func Body(title, trait string, reg *implementors.Registry, known map[string]bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s of `%s`\n\n", title, trait)

	names := reg.Groups()
	if len(names) == 0 {
		b.WriteString("No implementors are indexed.\n")
		return b.String()
	}

	linkMap := make(map[string]string)
	for _, name := range names {
		frags, _ := reg.Fragments(name)
		fmt.Fprintf(&b, "## %s\n\n", name)
		if len(frags) == 0 {
			b.WriteString("_No implementations._\n\n")
			continue
		}
		for _, frag := range frags {
			text, titles := Fragment(frag)
			b.WriteString("- ")
			b.WriteString(text)
			b.WriteString("\n")
			for href, t := range titles {
				if path, ok := strings.CutPrefix(t, "trait "); ok && known[path] {
					linkMap[href] = TraitURI(path)
				}
			}
		}
		b.WriteString("\n")
	}
	return RewriteLinks(b.String(), linkMap)
}

// Document is Body with a front-matter block summarizing the registry.
func Document(title, trait string, reg *implementors.Registry, known map[string]bool) string {
	return AddFrontMatter(Body(title, trait, reg, known), FrontMatter{
		Trait:        trait,
		URI:          TraitURI(trait),
		Crates:       reg.Len(),
		Implementors: reg.Total(),
	})
}

// HTMLPage renders a trait's registry as a standalone HTML page.
func HTMLPage(title, trait string, reg *implementors.Registry) []byte {
	src := Body(title, trait, reg, nil)

	p := gmparser.NewWithExtensions(gmparser.CommonExtensions)
	doc := p.Parse([]byte(src))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Title: title + " of " + trait,
		Flags: mdhtml.CommonFlags | mdhtml.CompletePage,
	})
	return gm.Render(doc, renderer)
}
