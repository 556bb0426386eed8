package rpc

// AddCratesRequest is the request body for POST /add-crates.
type AddCratesRequest struct {
	Crates []CrateSpec `json:"crates"`
}

type CrateSpec struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// AddCratesResponse is the response body for POST /add-crates.
type AddCratesResponse struct {
	Results []CrateResult `json:"results"`
}

type CrateResult struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Traits       int    `json:"traits"`
	Implementors int    `json:"implementors"`
	Error        string `json:"error,omitempty"`
}

// ProgressLine is a single line of NDJSON streamed from the add-crates endpoint.
type ProgressLine struct {
	Type    string       `json:"type"` // "progress" or "result"
	Message string       `json:"message,omitempty"`
	Result  *CrateResult `json:"result,omitempty"`
}

// ImplementorsRequest is the request body for POST /implementors.
type ImplementorsRequest struct {
	Trait string `json:"trait"`
}

// Group is one crate's fragments for a trait.
type Group struct {
	Crate     string   `json:"crate"`
	Fragments []string `json:"fragments"`
}

// ImplementorsResponse is the response body for POST /implementors.
type ImplementorsResponse struct {
	Trait  string  `json:"trait"`
	Groups []Group `json:"groups"`
	// Loads counts registries delivered to the trait's consumer since the daemon started.
	Loads int `json:"loads"`
}

// TraitsResponse is the response body for GET /traits.
type TraitsResponse struct {
	Traits []TraitSummary `json:"traits"`
}

type TraitSummary struct {
	Path         string `json:"path"`
	Implementors int    `json:"implementors"`
	Crates       int    `json:"crates"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Crates []CrateStatus `json:"crates"`
	// Traits lists the traits with a live consumer in the daemon.
	Traits []string `json:"traits,omitempty"`
}

type CrateStatus struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Processed    bool   `json:"processed"`
	Implementors int    `json:"implementors"`
}

// ErrorResponse is the body of every non-2xx daemon reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
