package main

import (
	"log/slog"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/CTAG07/Nepenthes/pkg/templating"
	"github.com/alphadose/haxmap"
	"github.com/dustin/go-humanize"
)

// templateCounters tracks the renders of a single template.
type templateCounters struct {
	renders  atomic.Int64
	failures atomic.Int64
	bytes    atomic.Int64
	lastNano atomic.Int64
}

// TemplateStats is the per-template entry returned by the stats API.
type TemplateStats struct {
	Name         string    `json:"name"`
	Renders      int64     `json:"renders"`
	Failures     int64     `json:"failures"`
	BytesWritten string    `json:"bytes_written"`
	LastRendered time.Time `json:"last_rendered"`
	LastAgo      string    `json:"last_rendered_ago"`
}

// StatsSummary provides a high-level overview of the renders served.
type StatsSummary struct {
	TotalRenders   int64  `json:"total_renders"`
	TotalFailures  int64  `json:"total_failures"`
	UniqueTemplate int    `json:"unique_templates"`
	Uptime         string `json:"uptime"`
}

// RenderStats keeps render counters in memory. It is safe for concurrent use.
type RenderStats struct {
	started   time.Time
	templates *haxmap.Map[string, *templateCounters]
	renders   atomic.Int64
	failures  atomic.Int64
}

// NewRenderStats returns an empty RenderStats.
func NewRenderStats() *RenderStats {
	return &RenderStats{
		started:   time.Now(),
		templates: haxmap.New[string, *templateCounters](),
	}
}

// Record counts one render of name that wrote n bytes, or failed with err.
func (s *RenderStats) Record(name string, n int, err error) {
	c, ok := s.templates.Get(name)
	if !ok {
		c, _ = s.templates.GetOrSet(name, &templateCounters{})
	}
	s.renders.Add(1)
	c.renders.Add(1)
	if err != nil {
		s.failures.Add(1)
		c.failures.Add(1)
		return
	}
	c.bytes.Add(int64(n))
	c.lastNano.Store(time.Now().UnixNano())
}

// Summary returns the totals.
func (s *RenderStats) Summary() StatsSummary {
	return StatsSummary{
		TotalRenders:   s.renders.Load(),
		TotalFailures:  s.failures.Load(),
		UniqueTemplate: int(s.templates.Len()),
		Uptime:         humanize.RelTime(s.started, time.Now(), "", ""),
	}
}

// Templates returns per-template counters sorted by render count, highest
// first.
func (s *RenderStats) Templates() []TemplateStats {
	now := time.Now()
	var out []TemplateStats
	s.templates.ForEach(func(name string, c *templateCounters) bool {
		st := TemplateStats{
			Name:         name,
			Renders:      c.renders.Load(),
			Failures:     c.failures.Load(),
			BytesWritten: humanize.Bytes(uint64(c.bytes.Load())),
		}
		if last := c.lastNano.Load(); last != 0 {
			st.LastRendered = time.Unix(0, last)
			st.LastAgo = humanize.RelTime(st.LastRendered, now, "ago", "from now")
		}
		out = append(out, st)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Renders != out[j].Renders {
			return out[i].Renders > out[j].Renders
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	stats  *RenderStats
	engine *templating.Engine
	logger *slog.Logger
}

// NewStatsAPI creates a new instance of the StatsAPI.
func NewStatsAPI(stats *RenderStats, engine *templating.Engine, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		stats:  stats,
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/stats endpoints.
func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/templates", s.handleTemplates)
	mux.HandleFunc("/api/stats/diagnostics", s.handleDiagnostics)
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, s.stats.Summary())
}

func (s *StatsAPI) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, s.stats.Templates())
}

// DiagnosticInfo is the JSON form of a recorded diagnostic.
type DiagnosticInfo struct {
	Kind     string `json:"kind"`
	Template string `json:"template"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
}

// handleDiagnostics lists the diagnostics recorded in record mode, or clears
// them on DELETE.
func (s *StatsAPI) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		diags := s.engine.Diagnostics()
		out := make([]DiagnosticInfo, 0, len(diags))
		for _, d := range diags {
			info := DiagnosticInfo{Kind: d.Kind.String(), Template: d.Template, Message: d.Message}
			if d.Err != nil {
				info.Error = d.Err.Error()
			}
			out = append(out, info)
		}
		respondWithJSON(w, http.StatusOK, out)
	case http.MethodDelete:
		s.engine.ClearDiagnostics()
		s.logger.Info("Recorded diagnostics cleared via API")
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
