package docs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DefaultBaseURL is the docs.rs origin used when none is configured.
const DefaultBaseURL = "https://docs.rs"

const defaultUserAgent = "implindex/0.1.0"

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher downloads rustdoc JSON from a docs.rs-compatible host.
type Fetcher struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

func NewFetcher(baseURL, userAgent string) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Fetcher{BaseURL: strings.TrimSuffix(baseURL, "/"), UserAgent: userAgent, Client: httpClient}
}

// FetchRustdocJSON downloads and decompresses rustdoc JSON.
// The version "latest" is resolved by docs.rs via redirect.
func (f *Fetcher) FetchRustdocJSON(ctx context.Context, name, version string) ([]byte, error) {
	if version == "" {
		version = "latest"
	}

	url := fmt.Sprintf("%s/crate/%s/%s/json", f.BaseURL, name, version)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("docs.rs returned %d for %s/%s: %s", resp.StatusCode, name, version, string(body))
	}

	// docs.rs returns zstd-compressed JSON
	decoder, err := zstd.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompressing rustdoc JSON: %w", err)
	}

	return data, nil
}
