package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/CTAG07/Nepenthes/pkg/loader"
	"github.com/CTAG07/Nepenthes/pkg/templating"
	"github.com/natefinch/atomic"
)

// maxTemplateBody bounds template sources accepted over the API.
const maxTemplateBody = 1 << 20

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	engine *templating.Engine
	dir    *loader.DirLoader
	cm     *ConfigManager
	logger *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(engine *templating.Engine, dir *loader.DirLoader, cm *ConfigManager, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		engine: engine,
		dir:    dir,
		cm:     cm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleFile)
}

// handleList returns the names of all templates in the template directory.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	names, err := listTemplates(t.dir.Root(), t.cm.Get().Server.TemplateExt)
	if err != nil {
		t.logger.Error("Failed to list templates", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list templates: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, names)
}

// listTemplates walks root and returns the slash-separated names of every
// file ending in ext, sorted.
func listTemplates(root, ext string) ([]string, error) {
	names := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(names)
	return names, err
}

// handleTest renders the posted template source without saving it. Query
// parameters become variables on top of the configured variable files.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBody))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	data, err := requestVars(t.cm.Get(), r, nil)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var buf bytes.Buffer
	if err = t.engine.ExecuteString(r.Context(), &buf, string(body), data); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleFile manages CRUD operations for a single template file.
func (t *TemplateAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	ext := t.cm.Get().Server.TemplateExt
	if strings.Contains(name, "..") || !strings.HasSuffix(name, ext) {
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
		return
	}

	templateDir, err := filepath.Abs(t.dir.Root())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve template directory")
		return
	}
	path, err := filepath.Abs(filepath.Join(templateDir, filepath.FromSlash(name)))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid path")
		return
	}
	if !strings.HasPrefix(path, templateDir+string(filepath.Separator)) {
		respondWithError(w, http.StatusForbidden, "Access denied: Path outside template directory")
		return
	}

	switch r.Method {
	case http.MethodGet:
		content, err := os.ReadFile(path)
		if err != nil {
			respondWithError(w, http.StatusNotFound, "Template not found")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(content)

	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBody))
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create template directory: %v", err))
			return
		}
		if err = atomic.WriteFile(path, bytes.NewReader(body)); err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write template file: %v", err))
			return
		}
		t.engine.Invalidate(r.Context(), name)
		t.logger.Info("Template saved via API", "template", name)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete template file: %v", err))
			return
		}
		t.engine.Invalidate(r.Context(), name)
		t.logger.Info("Template deleted via API", "template", name)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
