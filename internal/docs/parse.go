package docs

import (
	"encoding/json"
	"fmt"
)

// Parse decodes rustdoc JSON bytes.
func Parse(data []byte) (*RustdocCrate, error) {
	var crate RustdocCrate
	if err := json.Unmarshal(data, &crate); err != nil {
		return nil, fmt.Errorf("unmarshaling rustdoc JSON: %w", err)
	}
	if crate.Index == nil {
		return nil, fmt.Errorf("rustdoc JSON has no index")
	}
	return &crate, nil
}

// ResolvedVersion returns the crate's own version, or fallback when rustdoc
// did not record one.
func (c *RustdocCrate) ResolvedVersion(fallback string) string {
	if c.CrateVersion != nil && *c.CrateVersion != "" {
		return *c.CrateVersion
	}
	return fallback
}

// unwrapInner extracts the inner data for a given kind from a rustdoc Item's Inner field.
// Inner is shaped like {"struct": {...}} or {"impl": {...}}.
func unwrapInner(inner json.RawMessage, kind string) json.RawMessage {
	if len(inner) == 0 {
		return nil
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(inner, &outer); err != nil {
		return nil
	}
	data, ok := outer[kind]
	if !ok {
		return nil
	}
	return data
}
