// Package api provides the HTTP API for exploring a generated hex world.
// GET endpoints are public (read-only observation, though reads may
// generate chunks on demand). Mutating endpoints require a bearer token.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/hexworld/internal/config"
	"github.com/talgya/hexworld/internal/persistence"
	"github.com/talgya/hexworld/internal/rules"
	"github.com/talgya/hexworld/internal/world"
)

const maxTemplateBytes = 1 << 20

// Server serves a world map, area generator and rule engine over HTTP.
// None of those are safe for concurrent use, so every handler that touches
// them holds mu.
type Server struct {
	World       *world.WorldMap
	Areas       *world.AreaGenerator
	Rules       *rules.Engine
	DB          *persistence.DB // optional; enables persistence of changes
	Port        int
	AdminKey    string // Bearer token for mutating endpoints. Empty = disabled.
	CORSOrigins []string
	PathBudget  int // max nodes expanded per path search; 0 = unbounded
	RateLimit   config.RateLimit

	mu sync.Mutex

	once        sync.Once
	events      *hub
	limiter     *RateLimiter // shared by every endpoint that may generate or search
	origins     map[string]bool
	upgrader    websocket.Upgrader
	streamConns atomic.Int32
}

func (s *Server) setup() {
	s.events = newHub()
	s.origins = allowedOrigins(s.CORSOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	if s.Areas == nil {
		s.Areas = world.NewAreaGenerator()
	}
	if s.Rules == nil {
		s.Rules = rules.NewEngine()
	}
	if s.RateLimit.Requests <= 0 || s.RateLimit.Window <= 0 {
		s.RateLimit = config.Default().RateLimit
	}
	s.limiter = NewRateLimiter(s.RateLimit.Requests, s.RateLimit.Window)
}

// Handler returns the API's HTTP handler.
func (s *Server) Handler() http.Handler {
	s.once.Do(s.setup)
	limiter := s.limiter

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/chunks", s.handleChunks)
	mux.HandleFunc("GET /api/v1/chunk/{x}/{y}", RateLimitMiddleware(limiter, s.handleChunk))
	mux.HandleFunc("GET /api/v1/hex/{q}/{r}", RateLimitMiddleware(limiter, s.handleHex))
	mux.HandleFunc("GET /api/v1/path", RateLimitMiddleware(limiter, s.handlePath))
	mux.HandleFunc("GET /api/v1/area/{name}", RateLimitMiddleware(limiter, s.handleArea))
	mux.HandleFunc("GET /api/v1/templates", s.handleTemplates)
	mux.HandleFunc("GET /api/v1/templates/{name}", s.handleTemplateDocument)
	mux.HandleFunc("GET /api/v1/schema", s.handleSchema)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Admin endpoints.
	mux.HandleFunc("POST /api/v1/templates", s.adminOnly(s.handleLoadTemplate))
	mux.HandleFunc("DELETE /api/v1/templates/{name}", s.adminOnly(s.handleRemoveTemplate))
	mux.HandleFunc("POST /api/v1/apply", s.adminOnly(s.handleApply))
	mux.HandleFunc("POST /api/v1/save", s.adminOnly(s.handleSave))

	return corsMiddleware(s.origins, mux)
}

// Run serves the API until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", srv.Addr, "admin_auth", s.AdminKey != "")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.events.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func allowedOrigins(extra []string) map[string]bool {
	origins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range extra {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins[origin] = true
		}
	}
	return origins
}

// corsMiddleware adds CORS headers for allowed frontend origins. Localhost
// dev servers are always allowed.
func corsMiddleware(allowed map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.origins[origin]
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no "+config.EnvAdminKey+" set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := map[string]any{
		"name":            "hexworld",
		"seed":            s.World.Seed(),
		"chunk_size":      s.World.ChunkSize(),
		"chunks":          s.World.ChunkCount(),
		"rule_templates":  len(s.Rules.Templates()),
		"area_templates":  s.Areas.Templates(),
		"extended_rules":  s.Rules.Extended(),
		"persistent":      s.DB != nil,
		"stream_clients":  s.events.Len(),
		"path_node_limit": s.PathBudget,
	}
	s.mu.Unlock()
	writeJSON(w, status)
}

type chunkSummary struct {
	Position   world.ChunkPosition `json:"position"`
	Biome      world.Biome         `json:"biome"`
	Cells      int                 `json:"cells"`
	Structures int                 `json:"structures"`
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	chunks := s.World.Chunks()
	result := make([]chunkSummary, len(chunks))
	for i, c := range chunks {
		result[i] = chunkSummary{
			Position:   c.Position,
			Biome:      c.Biome,
			Cells:      c.Grid.Len(),
			Structures: len(c.Structures),
		}
	}
	s.mu.Unlock()
	writeJSON(w, result)
}

// chunk returns the chunk at pos, generating it if needed. Callers hold mu.
func (s *Server) chunk(pos world.ChunkPosition) *world.MapChunk {
	if c, ok := s.World.Chunk(pos); ok {
		return c
	}
	c := s.World.GetOrGenerateChunk(pos)
	p := pos
	s.events.Publish(Event{Kind: EventChunkGenerated, Chunk: &p, Detail: c.Biome.String()})
	return c
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.PathValue("x"))
	y, errY := strconv.Atoi(r.PathValue("y"))
	if errX != nil || errY != nil {
		http.Error(w, "chunk coordinates must be integers", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	snap := s.chunk(world.ChunkPosition{X: x, Y: y}).Snapshot()
	s.mu.Unlock()
	writeJSON(w, snap)
}

func (s *Server) handleHex(w http.ResponseWriter, r *http.Request) {
	q, errQ := strconv.Atoi(r.PathValue("q"))
	rr, errR := strconv.Atoi(r.PathValue("r"))
	if errQ != nil || errR != nil {
		http.Error(w, "hex coordinates must be integers", http.StatusBadRequest)
		return
	}
	hex := world.NewPosition2D(q, rr)

	s.mu.Lock()
	cp := s.World.ChunkPositionForHex(hex)
	c := s.chunk(cp)
	cell, ok := c.Grid.CellAt(q, rr)
	structure, hasStructure := c.StructureAt(q, rr)
	biome := c.Biome
	s.mu.Unlock()

	if !ok {
		http.Error(w, "hex not found", http.StatusNotFound)
		return
	}
	result := map[string]any{
		"chunk":     cp,
		"biome":     biome,
		"cell":      cell,
		"position":  cell.Position(),
		"passable":  cell.Terrain.Passable(),
		"structure": nil,
	}
	if hasStructure {
		result["structure"] = map[string]any{"type": structure, "category": structure.Category()}
	}
	writeJSON(w, result)
}

func parseAxial(v string) (world.Position, error) {
	qs, rs, ok := strings.Cut(v, ",")
	if !ok {
		return world.Position{}, fmt.Errorf("%q: want q,r", v)
	}
	q, err := strconv.Atoi(strings.TrimSpace(qs))
	if err != nil {
		return world.Position{}, fmt.Errorf("%q: %w", v, err)
	}
	r, err := strconv.Atoi(strings.TrimSpace(rs))
	if err != nil {
		return world.Position{}, fmt.Errorf("%q: %w", v, err)
	}
	return world.NewPosition2D(q, r), nil
}

// handlePath finds a route between two hexes of the same chunk:
// GET /api/v1/path?from=q,r&to=q,r[&dijkstra=true]
func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	from, err := parseAxial(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "from: "+err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseAxial(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "to: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.World.ChunkPositionForHex(from)
	if cp != s.World.ChunkPositionForHex(to) {
		http.Error(w, "endpoints lie in different chunks", http.StatusBadRequest)
		return
	}
	grid := s.chunk(cp).Grid

	start := time.Now()
	opts := world.PathOptions{
		MaxExpanded: s.PathBudget,
		Dijkstra:    r.URL.Query().Get("dijkstra") == "true",
	}
	path, err := grid.FindPathContext(r.Context(), from, to, opts)
	switch {
	case errors.Is(err, world.ErrSearchBudget):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		slog.Debug("path search aborted", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	result := map[string]any{
		"found":      path != nil,
		"chunk":      cp,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}
	if path != nil {
		cost, _ := grid.PathCost(path)
		result["path"] = path
		result["cost"] = cost
	}
	writeJSON(w, result)
}

func (s *Server) handleArea(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	s.mu.Lock()
	c, ok := s.Areas.GenerateMap(name)
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown area template", http.StatusNotFound)
		return
	}
	writeJSON(w, c.Snapshot())
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	result := map[string]any{
		"rule_templates": s.Rules.Templates(),
		"area_templates": s.Areas.Templates(),
	}
	s.mu.Unlock()
	writeJSON(w, result)
}

func (s *Server) handleTemplateDocument(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	t, ok := s.Rules.Template(r.PathValue("name"))
	var doc []byte
	var err error
	if ok {
		doc, err = rules.Marshal(t)
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown template", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(doc)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	io.WriteString(w, rules.Schema())
}

func (s *Server) handleLoadTemplate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTemplateBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	t, err := rules.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.Rules.Register(t)
	s.mu.Unlock()

	if s.DB != nil {
		if err := s.DB.SaveTemplate(t.Name, t.Description, body); err != nil {
			slog.Error("template save failed", "template", t.Name, "error", err)
		}
	}
	s.events.Publish(Event{Kind: EventTemplateLoaded, Template: t.Name})

	writeJSONStatus(w, http.StatusCreated, map[string]any{"name": t.Name, "rules": len(t.Rules)})
}

func (s *Server) handleRemoveTemplate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	s.mu.Lock()
	removed := s.Rules.Remove(name)
	s.mu.Unlock()

	if !removed {
		http.Error(w, "unknown template", http.StatusNotFound)
		return
	}
	if s.DB != nil {
		if err := s.DB.DeleteTemplate(name); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			slog.Error("template delete failed", "template", name, "error", err)
		}
	}
	s.events.Publish(Event{Kind: EventTemplateRemoved, Template: name})
	writeJSON(w, map[string]any{"removed": name})
}

type applyRequest struct {
	Template string `json:"template"`
	Q        int    `json:"q"`
	R        int    `json:"r"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Template == "" {
		http.Error(w, "template is required", http.StatusBadRequest)
		return
	}
	hex := world.NewPosition2D(req.Q, req.R)

	s.mu.Lock()
	cp := s.World.ChunkPositionForHex(hex)
	c := s.chunk(cp)
	applied := s.Rules.ApplyTemplate(req.Template, c.Grid, hex)
	cell, _ := c.Grid.CellAt(req.Q, req.R)
	var saveErr error
	if applied && s.DB != nil {
		if saveErr = s.DB.SaveChunk(c); saveErr == nil {
			saveErr = s.DB.SaveGeneratorState(s.World)
		}
	}
	s.mu.Unlock()

	if saveErr != nil {
		slog.Error("chunk save failed", "chunk", cp.String(), "error", saveErr)
	}
	if applied {
		s.events.Publish(Event{Kind: EventTemplateApplied, Template: req.Template, Chunk: &cp, Hex: &hex})
	}
	writeJSON(w, map[string]any{"applied": applied, "chunk": cp, "cell": cell})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "no database configured", http.StatusServiceUnavailable)
		return
	}

	s.mu.Lock()
	err := s.DB.SaveWorld(s.World)
	chunks := s.World.ChunkCount()
	s.mu.Unlock()

	if err != nil {
		slog.Error("save failed", "error", err)
		http.Error(w, "save failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.events.Publish(Event{Kind: EventWorldSaved, Detail: strconv.Itoa(chunks) + " chunks"})
	writeJSON(w, map[string]any{"saved": true, "chunks": chunks})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
