package docs

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
)

const primitiveURL = "https://doc.rust-lang.org/nightly/std/primitive.%s.html"

// renderer turns rustdoc JSON types into the HTML snippets rustdoc embeds in
// implementors artifacts. Names are escaped; known items become links.
type renderer struct {
	crate     *RustdocCrate
	crateName string
	version   string
	baseURL   string
}

func (r *renderer) link(id int, name string) string {
	text := html.EscapeString(name)
	url := ItemURL(id, r.crate, r.crateName, r.version, r.baseURL)
	if url == "" {
		return text
	}
	class := "struct"
	if s, ok := r.crate.Paths[strconv.Itoa(id)]; ok {
		class = pageKind(s.Kind)
	}
	return fmt.Sprintf(`<a class="%s" href="%s" title="%s">%s</a>`,
		class, html.EscapeString(url), html.EscapeString(ItemTitle(id, r.crate)), text)
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "::"); i >= 0 {
		return path[i+2:]
	}
	return path
}

// typeHTML renders a rustdoc Type.
func (r *renderer) typeHTML(typeJSON json.RawMessage) string {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(typeJSON, &outer); err != nil {
		return ""
	}

	if rp, ok := outer["resolved_path"]; ok {
		return r.pathHTML(rp)
	}
	if prim, ok := outer["primitive"]; ok {
		var name string
		if json.Unmarshal(prim, &name) == nil {
			return fmt.Sprintf(`<a class="primitive" href="%s">%s</a>`,
				fmt.Sprintf(primitiveURL, name), html.EscapeString(name))
		}
	}
	if g, ok := outer["generic"]; ok {
		var name string
		if json.Unmarshal(g, &name) == nil {
			return html.EscapeString(name)
		}
	}
	if br, ok := outer["borrowed_ref"]; ok {
		return r.borrowedRefHTML(br)
	}
	if rp, ok := outer["raw_pointer"]; ok {
		var p struct {
			IsMutable bool            `json:"is_mutable"`
			Type      json.RawMessage `json:"type"`
		}
		if json.Unmarshal(rp, &p) == nil {
			if p.IsMutable {
				return "*mut " + r.typeHTML(p.Type)
			}
			return "*const " + r.typeHTML(p.Type)
		}
	}
	if sl, ok := outer["slice"]; ok {
		return "[" + r.typeHTML(sl) + "]"
	}
	if arr, ok := outer["array"]; ok {
		var a struct {
			Type json.RawMessage `json:"type"`
			Len  string          `json:"len"`
		}
		if json.Unmarshal(arr, &a) == nil {
			return "[" + r.typeHTML(a.Type) + "; " + html.EscapeString(a.Len) + "]"
		}
	}
	if tp, ok := outer["tuple"]; ok {
		var types []json.RawMessage
		if json.Unmarshal(tp, &types) == nil {
			parts := make([]string, 0, len(types))
			for _, t := range types {
				parts = append(parts, r.typeHTML(t))
			}
			return "(" + strings.Join(parts, ", ") + ")"
		}
	}
	if dt, ok := outer["dyn_trait"]; ok {
		return r.dynTraitHTML(dt)
	}
	if it, ok := outer["impl_trait"]; ok {
		var bounds []json.RawMessage
		if json.Unmarshal(it, &bounds) == nil {
			return "impl " + r.boundsHTML(bounds)
		}
	}
	if qp, ok := outer["qualified_path"]; ok {
		return r.qualifiedPathHTML(qp)
	}
	if fp, ok := outer["function_pointer"]; ok {
		return r.fnPointerHTML(fp)
	}
	if _, ok := outer["infer"]; ok {
		return "_"
	}
	return ""
}

func (r *renderer) pathHTML(raw json.RawMessage) string {
	var p traitRef
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	name := lastSegment(p.display())
	// Name can be empty in rustdoc JSON; fall back to the paths table.
	if name == "" {
		if summary, ok := r.crate.Paths[strconv.Itoa(p.ID)]; ok && len(summary.Path) > 0 {
			name = summary.Path[len(summary.Path)-1]
		}
	}
	if name == "" {
		return ""
	}
	out := r.link(p.ID, name)
	if p.Args != nil {
		out += r.genericArgsHTML(*p.Args)
	}
	return out
}

func (r *renderer) genericArgsHTML(argsJSON json.RawMessage) string {
	var args struct {
		AngleBracketed *struct {
			Args        []json.RawMessage `json:"args"`
			Constraints []json.RawMessage `json:"constraints"`
			Bindings    []json.RawMessage `json:"bindings"`
		} `json:"angle_bracketed"`
		Parenthesized *struct {
			Inputs []json.RawMessage `json:"inputs"`
			Output json.RawMessage   `json:"output"`
		} `json:"parenthesized"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return ""
	}

	if pz := args.Parenthesized; pz != nil {
		parts := make([]string, 0, len(pz.Inputs))
		for _, in := range pz.Inputs {
			parts = append(parts, r.typeHTML(in))
		}
		out := "(" + strings.Join(parts, ", ") + ")"
		if ret := r.typeHTML(pz.Output); ret != "" {
			out += " -&gt; " + ret
		}
		return out
	}

	ab := args.AngleBracketed
	if ab == nil {
		return ""
	}
	var parts []string
	for _, arg := range ab.Args {
		var a map[string]json.RawMessage
		if err := json.Unmarshal(arg, &a); err != nil {
			continue
		}
		if typeData, ok := a["type"]; ok {
			if t := r.typeHTML(typeData); t != "" {
				parts = append(parts, t)
			}
		} else if lifetime, ok := a["lifetime"]; ok {
			var lt string
			if json.Unmarshal(lifetime, &lt) == nil {
				parts = append(parts, lt)
			}
		} else if c, ok := a["const"]; ok {
			var k struct {
				Expr string `json:"expr"`
			}
			if json.Unmarshal(c, &k) == nil && k.Expr != "" {
				parts = append(parts, html.EscapeString(k.Expr))
			}
		}
	}
	constraints := ab.Constraints
	if len(constraints) == 0 {
		constraints = ab.Bindings
	}
	for _, c := range constraints {
		if s := r.constraintHTML(c); s != "" {
			parts = append(parts, s)
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return "&lt;" + strings.Join(parts, ", ") + "&gt;"
}

// constraintHTML renders an associated item constraint such as Item = T.
func (r *renderer) constraintHTML(raw json.RawMessage) string {
	var c struct {
		Name    string `json:"name"`
		Binding struct {
			Equality *struct {
				Type json.RawMessage `json:"type"`
			} `json:"equality"`
			Constraint []json.RawMessage `json:"constraint"`
		} `json:"binding"`
	}
	if err := json.Unmarshal(raw, &c); err != nil || c.Name == "" {
		return ""
	}
	if eq := c.Binding.Equality; eq != nil {
		return html.EscapeString(c.Name) + " = " + r.typeHTML(eq.Type)
	}
	if len(c.Binding.Constraint) > 0 {
		return html.EscapeString(c.Name) + ": " + r.boundsHTML(c.Binding.Constraint)
	}
	return ""
}

func (r *renderer) borrowedRefHTML(raw json.RawMessage) string {
	var b struct {
		Lifetime  *string         `json:"lifetime"`
		IsMutable bool            `json:"is_mutable"`
		Type      json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return ""
	}
	inner := r.typeHTML(b.Type)
	if inner == "" {
		return ""
	}
	prefix := "&amp;"
	if b.Lifetime != nil && *b.Lifetime != "" {
		prefix += *b.Lifetime + " "
	}
	if b.IsMutable {
		prefix += "mut "
	}
	return prefix + inner
}

func (r *renderer) dynTraitHTML(raw json.RawMessage) string {
	var d struct {
		Traits []struct {
			Trait traitRef `json:"trait"`
		} `json:"traits"`
		Lifetime *string `json:"lifetime"`
	}
	if err := json.Unmarshal(raw, &d); err != nil || len(d.Traits) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d.Traits)+1)
	for _, t := range d.Traits {
		s := r.link(t.Trait.ID, lastSegment(t.Trait.display()))
		if t.Trait.Args != nil {
			s += r.genericArgsHTML(*t.Trait.Args)
		}
		parts = append(parts, s)
	}
	if d.Lifetime != nil && *d.Lifetime != "" {
		parts = append(parts, *d.Lifetime)
	}
	return "dyn " + strings.Join(parts, " + ")
}

func (r *renderer) qualifiedPathHTML(raw json.RawMessage) string {
	var q struct {
		Name     string          `json:"name"`
		SelfType json.RawMessage `json:"self_type"`
		Trait    *traitRef       `json:"trait"`
	}
	if err := json.Unmarshal(raw, &q); err != nil {
		return ""
	}
	self := r.typeHTML(q.SelfType)
	if self == "" {
		return ""
	}
	name := html.EscapeString(q.Name)
	if q.Trait != nil && q.Trait.display() != "" {
		return fmt.Sprintf("&lt;%s as %s&gt;::%s", self, r.link(q.Trait.ID, lastSegment(q.Trait.display())), name)
	}
	return self + "::" + name
}

func (r *renderer) fnPointerHTML(raw json.RawMessage) string {
	var fp struct {
		Sig struct {
			Inputs []json.RawMessage `json:"inputs"`
			Output json.RawMessage   `json:"output"`
		} `json:"sig"`
	}
	if err := json.Unmarshal(raw, &fp); err != nil {
		return ""
	}
	var params []string
	for _, input := range fp.Sig.Inputs {
		var pair []json.RawMessage
		if err := json.Unmarshal(input, &pair); err != nil || len(pair) < 2 {
			continue
		}
		params = append(params, r.typeHTML(pair[1]))
	}
	out := "fn(" + strings.Join(params, ", ") + ")"
	if ret := r.typeHTML(fp.Sig.Output); ret != "" {
		out += " -&gt; " + ret
	}
	return out
}

// boundsHTML renders a list of GenericBound joined by " + ".
func (r *renderer) boundsHTML(bounds []json.RawMessage) string {
	parts := make([]string, 0, len(bounds))
	for _, raw := range bounds {
		var b struct {
			TraitBound *struct {
				Trait    traitRef `json:"trait"`
				Modifier string   `json:"modifier"`
			} `json:"trait_bound"`
			Outlives *string `json:"outlives"`
		}
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		switch {
		case b.TraitBound != nil:
			s := r.link(b.TraitBound.Trait.ID, lastSegment(b.TraitBound.Trait.display()))
			if b.TraitBound.Trait.Args != nil {
				s += r.genericArgsHTML(*b.TraitBound.Trait.Args)
			}
			if b.TraitBound.Modifier == "maybe" {
				s = "?" + s
			}
			parts = append(parts, s)
		case b.Outlives != nil:
			parts = append(parts, *b.Outlives)
		}
	}
	return strings.Join(parts, " + ")
}

type generics struct {
	Params []struct {
		Name string `json:"name"`
		Kind struct {
			Lifetime *struct {
				Outlives []string `json:"outlives"`
			} `json:"lifetime"`
			Type *struct {
				Bounds      []json.RawMessage `json:"bounds"`
				IsSynthetic bool              `json:"is_synthetic"`
			} `json:"type"`
			Const *struct {
				Type json.RawMessage `json:"type"`
			} `json:"const"`
		} `json:"kind"`
	} `json:"params"`
	WherePredicates []json.RawMessage `json:"where_predicates"`
}

// paramsHTML renders the <...> after "impl".
func (r *renderer) paramsHTML(g generics) string {
	var parts []string
	for _, p := range g.Params {
		switch {
		case p.Kind.Lifetime != nil:
			s := p.Name
			if len(p.Kind.Lifetime.Outlives) > 0 {
				s += ": " + strings.Join(p.Kind.Lifetime.Outlives, " + ")
			}
			parts = append(parts, s)
		case p.Kind.Type != nil:
			if p.Kind.Type.IsSynthetic {
				continue
			}
			s := html.EscapeString(p.Name)
			if len(p.Kind.Type.Bounds) > 0 {
				s += ": " + r.boundsHTML(p.Kind.Type.Bounds)
			}
			parts = append(parts, s)
		case p.Kind.Const != nil:
			parts = append(parts, "const "+html.EscapeString(p.Name)+": "+r.typeHTML(p.Kind.Const.Type))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "&lt;" + strings.Join(parts, ", ") + "&gt;"
}

const whereIndent = "<br>&nbsp;&nbsp;&nbsp;&nbsp;"

// whereHTML renders the where clause in rustdoc's fmt-newline layout.
func (r *renderer) whereHTML(g generics) string {
	var preds []string
	for _, raw := range g.WherePredicates {
		var p struct {
			BoundPredicate *struct {
				Type   json.RawMessage   `json:"type"`
				Bounds []json.RawMessage `json:"bounds"`
			} `json:"bound_predicate"`
			LifetimePredicate *struct {
				Lifetime string   `json:"lifetime"`
				Outlives []string `json:"outlives"`
			} `json:"lifetime_predicate"`
			EqPredicate *struct {
				LHS json.RawMessage `json:"lhs"`
				RHS json.RawMessage `json:"rhs"`
			} `json:"eq_predicate"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		switch {
		case p.BoundPredicate != nil:
			lhs := r.typeHTML(p.BoundPredicate.Type)
			if lhs == "" || len(p.BoundPredicate.Bounds) == 0 {
				continue
			}
			preds = append(preds, lhs+": "+r.boundsHTML(p.BoundPredicate.Bounds))
		case p.LifetimePredicate != nil:
			preds = append(preds, p.LifetimePredicate.Lifetime+": "+strings.Join(p.LifetimePredicate.Outlives, " + "))
		case p.EqPredicate != nil:
			var rhs struct {
				Type json.RawMessage `json:"type"`
			}
			json.Unmarshal(p.EqPredicate.RHS, &rhs)
			preds = append(preds, r.typeHTML(p.EqPredicate.LHS)+" = "+r.typeHTML(rhs.Type))
		}
	}
	if len(preds) == 0 {
		return ""
	}
	return ` <span class="where fmt-newline">where` + whereIndent +
		strings.Join(preds, ","+whereIndent) + ",&nbsp;</span>"
}
