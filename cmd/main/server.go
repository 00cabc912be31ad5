package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/Nepenthes/pkg/cache"
	"github.com/CTAG07/Nepenthes/pkg/loader"
	"github.com/CTAG07/Nepenthes/pkg/templating"
	"github.com/CTAG07/Nepenthes/pkg/vars"
)

// Server wires the engine, its loader and plan cache to the HTTP routes.
type Server struct {
	cm          *ConfigManager
	logger      *slog.Logger
	engine      *templating.Engine
	dir         *loader.DirLoader
	stats       *RenderStats
	authAPI     *AuthAPI
	templateAPI *TemplateAPI
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	mux         *http.ServeMux
}

// newEngine builds the engine described by config on top of planCache, which
// may be nil.
func newEngine(config Config, logger *slog.Logger, planCache *cache.Cache) (*templating.Engine, *loader.DirLoader) {
	dir := loader.NewDirLoader(config.Server.TemplateDir, loader.WithExtension(config.Server.TemplateExt))
	var opts []templating.Option
	if len(config.Server.Constants) > 0 {
		consts := make(map[string]any, len(config.Server.Constants))
		for k, v := range config.Server.Constants {
			consts[k] = v
		}
		opts = append(opts, templating.WithConstants(templating.NewConstants(consts)))
	}
	return templating.NewEngine(logger, dir, planCache, *config.Templates, opts...), dir
}

// NewServer creates the server and registers its routes.
func NewServer(cm *ConfigManager, logger *slog.Logger, planCache *cache.Cache, actionChan chan string) *Server {
	engine, dir := newEngine(cm.Get(), logger, planCache)
	cm.SetEngine(engine)
	stats := NewRenderStats()

	server := &Server{
		cm:          cm,
		logger:      logger,
		engine:      engine,
		dir:         dir,
		stats:       stats,
		authAPI:     NewAuthAPI(cm, logger),
		templateAPI: NewTemplateAPI(engine, dir, cm, logger),
		statsAPI:    NewStatsAPI(stats, engine, logger),
		serverAPI:   NewServerAPI(cm, actionChan, engine, logger),
		mux:         http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.templateAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// The health check stays unauthenticated.
	server.mux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.mux.Handle("/api/", server.authAPI.Authenticate(apiMux))
	server.mux.HandleFunc("/render/", server.handleRender)
	server.mux.HandleFunc("/favicon.ico", handleFavicon)

	return server
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handleRender renders the template named by the path. Query parameters become
// scalar variables; a POST body holds a JSON object that is merged on top.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	config := s.cm.Get()
	name := templateName(strings.TrimPrefix(r.URL.Path, "/render/"), config.Server.TemplateExt)
	if name == "" || strings.Contains(name, "..") {
		respondWithError(w, http.StatusBadRequest, "Invalid template name")
		return
	}

	var body map[string]any
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxTemplateBody)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
	}
	data, err := requestVars(config, r, body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.logger.Enabled(r.Context(), slog.LevelDebug) {
		s.logger.Debug("Rendering template", "template", name, "vars", vars.Dump(data.Root()))
	}

	var buf bytes.Buffer
	err = s.engine.Execute(r.Context(), &buf, name, data)
	s.stats.Record(name, buf.Len(), err)
	if err != nil {
		if errors.Is(err, loader.ErrSourceNotFound) {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
			return
		}
		s.logger.Error("Failed to execute template", "template", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	for k, v := range config.Server.Headers {
		w.Header().Set(k, v)
	}
	_, _ = buf.WriteTo(w)
}

// templateName normalizes a requested name so cache identities match the
// names used by the template API.
func templateName(name, ext string) string {
	name = strings.Trim(name, "/")
	if name != "" && ext != "" && !strings.HasSuffix(name, ext) {
		name += ext
	}
	return name
}

// requestVars layers the configured variable files, the query parameters and
// extra, in that order, into a variable context.
func requestVars(config Config, r *http.Request, extra map[string]any) (*vars.Context, error) {
	layer := make(map[string]any)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			layer[k] = v[len(v)-1]
		}
	}
	for k, v := range extra {
		layer[k] = v
	}
	return loadVars(config.Server.VarFiles, config.Server.VarSchema, layer,
		vars.WithOverwrite(config.Templates.OverwriteVars))
}

// handleFavicon answers favicon requests with no content so they are not
// looked up as templates.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
