package docs

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

type implData struct {
	IsUnsafe    bool             `json:"is_unsafe"`
	Generics    generics         `json:"generics"`
	Trait       *traitRef        `json:"trait"`
	For         json.RawMessage  `json:"for"`
	IsNegative  bool             `json:"is_negative"`
	IsSynthetic bool             `json:"is_synthetic"`
	BlanketImpl *json.RawMessage `json:"blanket_impl"`
}

// CollectImplementors renders every trait impl defined by the crate, grouped by
// the implemented trait's full path. Auto-trait (synthetic) and blanket impls
// are skipped, as rustdoc does for implementors lists. Traits are sorted by
// path; fragments keep item-ID order.
func CollectImplementors(crate *RustdocCrate, crateName, version, baseURL string) []TraitImpls {
	r := &renderer{crate: crate, crateName: crateName, version: version, baseURL: baseURL}

	ids := make([]int, 0, len(crate.Index))
	for key, item := range crate.Index {
		if item.CrateID != 0 {
			continue
		}
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	byTrait := make(map[string][]string)
	for _, id := range ids {
		item := crate.Index[strconv.Itoa(id)]
		data := unwrapInner(item.Inner, "impl")
		if data == nil {
			continue
		}
		var impl implData
		if err := json.Unmarshal(data, &impl); err != nil {
			continue
		}
		if impl.Trait == nil || impl.IsSynthetic || (impl.BlanketImpl != nil && string(*impl.BlanketImpl) != "null") {
			continue
		}
		trait := TraitPath(impl.Trait.ID, crate, impl.Trait.display())
		if trait == "" {
			continue
		}
		frag := r.implHTML(&impl)
		if frag == "" {
			continue
		}
		byTrait[trait] = append(byTrait[trait], frag)
	}

	traits := make([]string, 0, len(byTrait))
	for t := range byTrait {
		traits = append(traits, t)
	}
	sort.Strings(traits)

	out := make([]TraitImpls, len(traits))
	for i, t := range traits {
		out[i] = TraitImpls{Trait: t, Fragments: byTrait[t]}
	}
	return out
}

// implHTML renders "impl<..> Trait<..> for Type where ..".
func (r *renderer) implHTML(impl *implData) string {
	self := r.typeHTML(impl.For)
	if self == "" {
		return ""
	}

	var b strings.Builder
	if impl.IsUnsafe {
		b.WriteString("unsafe ")
	}
	b.WriteString("impl")
	b.WriteString(r.paramsHTML(impl.Generics))
	b.WriteString(" ")
	if impl.IsNegative {
		b.WriteString("!")
	}
	b.WriteString(r.link(impl.Trait.ID, lastSegment(impl.Trait.display())))
	if impl.Trait.Args != nil {
		b.WriteString(r.genericArgsHTML(*impl.Trait.Args))
	}
	b.WriteString(" for ")
	b.WriteString(self)
	b.WriteString(r.whereHTML(impl.Generics))
	return b.String()
}
