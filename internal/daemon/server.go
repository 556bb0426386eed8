package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jcdickinson/implindex/internal/cas"
	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/db"
	"github.com/jcdickinson/implindex/internal/docs"
	"github.com/jcdickinson/implindex/internal/implementors"
	"github.com/jcdickinson/implindex/internal/rpc"
	"golang.org/x/sync/singleflight"
)

type versionCacheEntry struct {
	version  string // resolved real version; empty for 404s
	notFound bool
	expiry   time.Time
}

type Server struct {
	db         *db.DB
	cfg        *config.Config
	fetcher    *docs.Fetcher
	jsonCache  *docs.Cache
	socketPath string
	httpServer *http.Server
	listener   net.Listener

	mu         sync.Mutex
	expTimer   *time.Timer
	expiration time.Duration

	versionCache   map[string]versionCacheEntry
	versionCacheMu sync.RWMutex
	addCrateGroup  singleflight.Group

	// index holds one delivery slot per trait. A trait gets an Aggregator
	// attached the first time a client asks for it; until then registries
	// produced by add-crates wait in the slot's pending field and are
	// replaced by the persisted groups on attach.
	index       *implementors.Index
	aggMu       sync.Mutex
	aggregators map[string]*implementors.Aggregator
}

func NewServer(cfg *config.Config, database *db.DB, socketPath string) *Server {
	expSec := cfg.Daemon.ExpirationSeconds
	if expSec <= 0 {
		expSec = 600
	}

	return &Server{
		db:           database,
		cfg:          cfg,
		fetcher:      docs.NewFetcher(cfg.DocsRS.BaseURL, cfg.DocsRS.UserAgent),
		jsonCache:    &docs.Cache{Dir: config.JSONCacheDir()},
		socketPath:   socketPath,
		expiration:   time.Duration(expSec) * time.Second,
		versionCache: make(map[string]versionCacheEntry),
		index:        implementors.NewIndex(),
		aggregators:  make(map[string]*implementors.Aggregator),
	}
}

// Handler returns the daemon's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /add-crates", s.withExpReset(s.handleAddCrates))
	mux.HandleFunc("POST /implementors", s.withExpReset(s.handleImplementors))
	mux.HandleFunc("GET /traits", s.withExpReset(s.handleTraits))
	mux.HandleFunc("GET /status", s.withExpReset(s.handleStatus))
	mux.HandleFunc("POST /clear-cache", s.withExpReset(s.handleClearCache))
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = listener

	s.httpServer = &http.Server{Handler: s.Handler()}

	s.mu.Lock()
	s.expTimer = time.AfterFunc(s.expiration, s.expire)
	s.mu.Unlock()

	slog.Info("daemon listening", "socket", s.socketPath, "expiration", s.expiration)

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.expTimer != nil {
		s.expTimer.Stop()
	}
	s.mu.Unlock()

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("daemon shutdown error", "error", err)
			errs = append(errs, err)
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("daemon listener close error", "error", err)
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("daemon socket remove error", "error", err)
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		slog.Warn("daemon db close error", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) expire() {
	slog.Info("daemon expiring due to inactivity")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	os.Exit(0)
}

func (s *Server) resetExpiration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expTimer != nil {
		s.expTimer.Stop()
		s.expTimer.Reset(s.expiration)
	}
}

func (s *Server) withExpReset(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resetExpiration()
		handler(w, r)
	}
}

func (s *Server) handleAddCrates(w http.ResponseWriter, r *http.Request) {
	var req rpc.AddCratesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	send := func(line rpc.ProgressLine) bool {
		if line.Message != "" {
			slog.Info(line.Message)
		}
		if err := enc.Encode(line); err != nil {
			slog.Warn("client disconnected", "error", err)
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	for _, spec := range req.Crates {
		progress := func(msg string) {
			send(rpc.ProgressLine{Type: "progress", Message: msg})
		}
		result := s.addCrate(r.Context(), spec, progress)
		if !send(rpc.ProgressLine{Type: "result", Result: &result}) {
			return
		}
	}
}

const versionCacheTTL = 10 * time.Minute

func (s *Server) getCachedVersion(name string) (versionCacheEntry, bool) {
	s.versionCacheMu.RLock()
	defer s.versionCacheMu.RUnlock()
	entry, ok := s.versionCache[name]
	if !ok || time.Now().After(entry.expiry) {
		return versionCacheEntry{}, false
	}
	return entry, true
}

func (s *Server) setCachedVersion(name, version string, notFound bool) {
	s.versionCacheMu.Lock()
	defer s.versionCacheMu.Unlock()
	s.versionCache[name] = versionCacheEntry{
		version:  version,
		notFound: notFound,
		expiry:   time.Now().Add(versionCacheTTL),
	}
}

func (s *Server) clearVersionCache() {
	s.versionCacheMu.Lock()
	defer s.versionCacheMu.Unlock()
	s.versionCache = make(map[string]versionCacheEntry)
}

// existingResult fills result from a crate that is already indexed.
func (s *Server) existingResult(result rpc.CrateResult, c *db.Crate) rpc.CrateResult {
	result.Version = c.Version
	result.Implementors, _ = s.db.CountImplementors(c.ID)
	s.db.TouchCrate(c.ID)
	return result
}

func (s *Server) addCrate(ctx context.Context, spec rpc.CrateSpec, progress func(string)) rpc.CrateResult {
	version := spec.Version
	if version == "" {
		version = "latest"
	}

	result := rpc.CrateResult{Name: spec.Name, Version: version}
	if spec.Name == "" {
		result.Error = "missing crate name"
		return result
	}

	if version == "latest" {
		if entry, ok := s.getCachedVersion(spec.Name); ok && entry.notFound {
			result.Error = fmt.Sprintf("crate %s not found on docs.rs (cached)", spec.Name)
			return result
		}
		existing, err := s.db.GetLatestCrate(spec.Name)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		if existing != nil {
			return s.existingResult(result, existing)
		}
	} else {
		existing, err := s.db.GetCrate(spec.Name, version)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		if existing != nil && existing.ProcessedAt != nil {
			return s.existingResult(result, existing)
		}
	}

	// Singleflight: dedup concurrent fetches for the same crate@version
	key := spec.Name + "@" + version
	v, _, _ := s.addCrateGroup.Do(key, func() (interface{}, error) {
		return s.addCrateWork(ctx, spec.Name, version, progress), nil
	})
	return v.(rpc.CrateResult)
}

func (s *Server) addCrateWork(ctx context.Context, name, version string, progress func(string)) rpc.CrateResult {
	result := rpc.CrateResult{Name: name, Version: version}

	realVersion, rustdocCrate, err := s.resolveVersion(ctx, name, version, progress)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Version = realVersion
	s.setCachedVersion(name, realVersion, false)

	if realVersion != version {
		existing, err := s.db.GetCrate(name, realVersion)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		if existing != nil && existing.ProcessedAt != nil {
			return s.existingResult(result, existing)
		}
	}

	// Traits the crate's current version implements; any the new version
	// drops must lose this crate's group.
	previous, err := s.db.CrateTraits(name)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	crate, err := s.db.UpsertCrate(name, realVersion)
	if err != nil {
		result.Error = fmt.Sprintf("upserting crate: %v", err)
		return result
	}
	s.db.MarkCrateFetched(crate.ID)

	impls := docs.CollectImplementors(rustdocCrate, name, realVersion, s.fetcher.BaseURL)
	progress(fmt.Sprintf("rendered implementors of %d traits from %s@%s", len(impls), name, realVersion))

	n, err := s.storeImplementors(crate, impls)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	s.db.MarkCrateProcessed(crate.ID)

	current := make(map[string]bool, len(impls))
	for _, ti := range impls {
		current[ti.Trait] = true
		s.deliver(ti.Trait, map[string][]string{name: ti.Fragments})
	}
	for _, trait := range previous {
		if !current[trait] {
			s.deliver(trait, map[string][]string{name: {}})
		}
	}

	result.Traits = len(impls)
	result.Implementors = n
	progress(fmt.Sprintf("finished indexing %s@%s (%d implementors)", name, realVersion, n))
	return result
}

// resolveVersion loads rustdoc JSON from the on-disk cache or docs.rs and
// resolves "latest" to the crate's real version.
func (s *Server) resolveVersion(ctx context.Context, name, version string, progress func(string)) (string, *docs.RustdocCrate, error) {
	var data []byte
	if version != "latest" && s.jsonCache.Has(name, version) {
		cached, err := s.jsonCache.Load(name, version)
		if err != nil {
			slog.Warn("rustdoc cache unreadable, refetching", "crate", name, "version", version, "error", err)
		}
		data = cached
	}
	if data == nil {
		progress(fmt.Sprintf("fetching rustdoc for %s@%s", name, version))
		fetched, err := s.fetcher.FetchRustdocJSON(ctx, name, version)
		if err != nil {
			if version == "latest" {
				s.setCachedVersion(name, "", true)
			}
			return "", nil, fmt.Errorf("fetching docs: %w", err)
		}
		data = fetched
	}

	progress(fmt.Sprintf("parsing rustdoc for %s@%s", name, version))
	rustdocCrate, err := docs.Parse(data)
	if err != nil {
		return "", nil, fmt.Errorf("parsing docs: %w", err)
	}
	realVersion := rustdocCrate.ResolvedVersion(version)

	if err := s.jsonCache.Save(data, name, realVersion); err != nil {
		slog.Warn("failed to cache rustdoc JSON", "crate", name, "version", realVersion, "error", err)
	}
	return realVersion, rustdocCrate, nil
}

// storeImplementors replaces a crate's fragment rows, writing fragment bodies to the CAS.
func (s *Server) storeImplementors(crate *db.Crate, impls []docs.TraitImpls) (int, error) {
	if err := s.db.DeleteImplementorsByCrate(crate.ID); err != nil {
		return 0, fmt.Errorf("clearing implementors: %w", err)
	}
	n := 0
	for _, ti := range impls {
		for i, frag := range ti.Fragments {
			hash, err := cas.Write(frag)
			if err != nil {
				return n, fmt.Errorf("writing fragment for %s: %w", ti.Trait, err)
			}
			if err := s.db.InsertImplementor(crate.ID, ti.Trait, i, hash); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// deliver hands a registry to trait's consumer, or leaves it pending.
func (s *Server) deliver(trait string, groups map[string][]string) {
	_, how, err := implementors.Load(groups, s.index.Slot(trait))
	if err != nil {
		slog.Warn("building registry", "trait", trait, "error", err)
		return
	}
	slog.Debug("registry loaded", "trait", trait, "delivery", how)
}

// aggregator returns trait's consumer, attaching it on first use. A new
// consumer is built from the persisted groups; registries delivered after
// attaching are merged on top.
func (s *Server) aggregator(trait string) (*implementors.Aggregator, error) {
	s.aggMu.Lock()
	defer s.aggMu.Unlock()
	if agg, ok := s.aggregators[trait]; ok {
		return agg, nil
	}

	agg := implementors.NewAggregator(trait)
	slot := s.index.Slot(trait)
	// The store already holds everything a pending registry carried, and
	// later versions may have superseded it.
	if stale, ok := slot.Take(); ok {
		slog.Debug("dropping pending registry", "trait", trait, "groups", stale.Len())
	}
	slot.Attach(agg)

	persisted, err := s.db.ImplementorHashes(trait)
	if err != nil {
		slot.Detach()
		return nil, err
	}
	if len(persisted) > 0 {
		groups := make(map[string][]string, len(persisted))
		for _, ch := range persisted {
			frags, err := cas.ReadAll(ch.Hashes)
			if err != nil {
				slot.Detach()
				return nil, fmt.Errorf("reading fragments of %s: %w", ch.Crate, err)
			}
			groups[ch.Crate] = frags
		}
		if _, _, err := implementors.Load(groups, slot); err != nil {
			slot.Detach()
			return nil, err
		}
	}

	s.aggregators[trait] = agg
	return agg, nil
}

// RegistryGroups converts a registry to the wire form, ordered by crate name.
func RegistryGroups(r *implementors.Registry) []rpc.Group {
	names := r.Groups()
	out := make([]rpc.Group, 0, len(names))
	for _, name := range names {
		frags, _ := r.Fragments(name)
		out = append(out, rpc.Group{Crate: name, Fragments: frags})
	}
	return out
}

func (s *Server) handleImplementors(w http.ResponseWriter, r *http.Request) {
	var req rpc.ImplementorsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Trait == "" {
		writeError(w, http.StatusBadRequest, "missing trait")
		return
	}

	agg, err := s.aggregator(req.Trait)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rpc.ImplementorsResponse{
		Trait:  req.Trait,
		Groups: RegistryGroups(agg.Snapshot()),
		Loads:  agg.Loads(),
	})
}

func (s *Server) handleTraits(w http.ResponseWriter, r *http.Request) {
	traits, err := s.db.ListTraits()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := rpc.TraitsResponse{Traits: make([]rpc.TraitSummary, 0, len(traits))}
	for _, t := range traits {
		resp.Traits = append(resp.Traits, rpc.TraitSummary{Path: t.Trait, Implementors: t.Implementors, Crates: t.Crates})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	crates, err := s.db.ListCrates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var status []rpc.CrateStatus
	for _, c := range crates {
		n, _ := s.db.CountImplementors(c.ID)
		status = append(status, rpc.CrateStatus{
			Name:         c.Name,
			Version:      c.Version,
			Processed:    c.ProcessedAt != nil,
			Implementors: n,
		})
	}

	s.aggMu.Lock()
	attached := make([]string, 0, len(s.aggregators))
	for t := range s.aggregators {
		attached = append(attached, t)
	}
	s.aggMu.Unlock()
	sort.Strings(attached)

	writeJSON(w, http.StatusOK, rpc.StatusResponse{Crates: status, Traits: attached})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.clearVersionCache()
	slog.Info("version cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		os.Exit(0)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rpc.ErrorResponse{Error: msg})
}
