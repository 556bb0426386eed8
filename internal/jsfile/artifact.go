package jsfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Group is one crate's entry in an implementors artifact.
type Group struct {
	Crate     string
	Fragments []string
}

// artifactFile is the grammar of a rustdoc implementors/*.js file:
//
//	(function() {var implementors = {};
//	implementors["crate"] = ["<html>",...,];
//	if (window.register_implementors) {...} else {...}
//	})()
type artifactFile struct {
	Assignments []*assignment `"(" "function" "(" ")" "{" "var" Ident "=" "{" "}" ";" @@*`
	Register    *registration `@@? "}" ")" "(" ")" ";"?`
}

type assignment struct {
	Crate     string   `Ident "[" @String "]" "="`
	Fragments []string `"[" ( @String ","? )* "]" ";"?`
}

// registration is the hook-or-pending tail. Only the binding names are kept.
type registration struct {
	Hook    string `"if" "(" Ident "." @Ident ")" "{" Ident "." Ident "(" Ident ")" ";" "}"`
	Pending string `"else" "{" Ident "." @Ident "=" Ident ";" "}"`
}

var artifactLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `//[^\n]*|/\*([^*]|\*[^/])*\*/`},
	{Name: "String", Pattern: `"(\\[\s\S]|[^"\\])*"|'(\\[\s\S]|[^'\\])*'`},
	{Name: "Keyword", Pattern: `\b(function|var|if|else)\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_$][a-zA-Z0-9_$]*`},
	{Name: "Punct", Pattern: `[(){}\[\];=,.]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var artifactParser = participle.MustBuild[artifactFile](
	participle.Lexer(artifactLexer),
	participle.Map(unquoteToken, "String"),
	participle.Elide("Comment", "Whitespace"),
)

const (
	// HookName is the window binding rustdoc calls when the page is ready.
	HookName = "register_implementors"
	// PendingName is the window binding used when the hook is absent.
	PendingName = "pending_implementors"
)

// Parse decodes an implementors artifact. Groups keep file order; when a crate
// is assigned twice the later assignment wins, as it would in the browser.
func Parse(filename string, data []byte) ([]Group, error) {
	f, err := artifactParser.ParseBytes(filename, data)
	if err != nil {
		return nil, fmt.Errorf("parsing implementors artifact: %w", err)
	}

	var groups []Group
	seen := make(map[string]int)
	for _, a := range f.Assignments {
		frags := a.Fragments
		if frags == nil {
			frags = []string{}
		}
		if i, ok := seen[a.Crate]; ok {
			groups[i].Fragments = frags
			continue
		}
		seen[a.Crate] = len(groups)
		groups = append(groups, Group{Crate: a.Crate, Fragments: frags})
	}
	return groups, nil
}

// ToMap flattens groups into the form implementors.Build accepts.
func ToMap(groups []Group) map[string][]string {
	m := make(map[string][]string, len(groups))
	for _, g := range groups {
		m[g.Crate] = g.Fragments
	}
	return m
}

var jsEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
)

func jsString(s string) string {
	return `"` + jsEscaper.Replace(s) + `"`
}

// Encode writes groups in the layout rustdoc emits.
func Encode(w io.Writer, groups []Group) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("(function() {var implementors = {};\n")
	for _, g := range groups {
		bw.WriteString("implementors[")
		bw.WriteString(jsString(g.Crate))
		bw.WriteString("] = [")
		for _, frag := range g.Fragments {
			bw.WriteString(jsString(frag))
			bw.WriteString(",")
		}
		bw.WriteString("];\n")
	}
	fmt.Fprintf(bw, `
            if (window.%[1]s) {
                window.%[1]s(implementors);
            } else {
                window.%[2]s = implementors;
            }
        
})()
`, HookName, PendingName)
	return bw.Flush()
}
