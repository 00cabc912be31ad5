package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MakeNowJust/heredoc"
)

// writeTestConfig writes a config pointing at dir for templates and cache.
func writeTestConfig(t *testing.T, dir, backend string) string {
	t.Helper()
	config := DefaultConfig()
	config.Server.TemplateDir = filepath.Join(dir, "templates")
	config.Server.CacheBackend = backend
	config.Server.CacheDir = filepath.Join(dir, "cache")
	config.Server.CacheDatabasePath = filepath.Join(dir, "cache", "plans.db")
	data, err := json.Marshal(config)
	if err != nil {
		t.Fatalf("failed to encode config: %v", err)
	}
	return writeFile(t, dir, "config.json", string(data))
}

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
}

func TestRealMain_Render(t *testing.T) {
	for _, backend := range []string{cacheBackendFile, cacheBackendSQLite, cacheBackendMemory, cacheBackendNone} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			configPath := writeTestConfig(t, dir, backend)
			tmplDir := filepath.Join(dir, "templates")
			mustMkdir(t, tmplDir)
			writeFile(t, tmplDir, "example.html", heredoc.Doc(`
				<h1>{PAGE_TITLE}</h1>
				{LOOP: users}{users.ID}. {users.NAME}{IF: users.AGE gte 26} (26+){/IF}
				{/LOOP: users}{INCLUDE: footer.html}
			`))
			writeFile(t, tmplDir, "footer.html", "<footer>{PAGE_TITLE}</footer>")
			varsPath := writeFile(t, dir, "vars.yaml", heredoc.Doc(`
				PAGE_TITLE: Example Template
				users:
				  - {ID: 1, NAME: Ross Geller, AGE: 27}
				  - {ID: 3, NAME: Joey Tribiani, AGE: 25}
			`))

			want := heredoc.Doc(`
				<h1>Example Template</h1>
				1. Ross Geller (26+)
				3. Joey Tribiani
				<footer>Example Template</footer>
			`)
			// The second run is served from the cache where one is configured.
			for i := 0; i < 2; i++ {
				var stdout, stderr bytes.Buffer
				args := []string{"-config", configPath, "-vars", varsPath, "render", "example"}
				if err := realMain(args, &stdout, &stderr); err != nil {
					t.Fatalf("run %d: realMain failed: %v\n%s", i, err, stderr.String())
				}
				if stdout.String() != want {
					t.Errorf("run %d: expected %q, got %q", i, want, stdout.String())
				}
			}
		})
	}
}

func TestRealMain_Errors(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir, cacheBackendNone)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", []string{"-config", configPath}, 2},
		{"unknown command", []string{"-config", configPath, "frobnicate"}, 2},
		{"render without name", []string{"-config", configPath, "render"}, 2},
		{"bad flag", []string{"-nope"}, 2},
		{"missing template", []string{"-config", configPath, "render", "missing"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := realMain(tt.args, &stdout, &stderr)
			if err == nil {
				t.Fatal("expected an error")
			}
			var exitErr *exitError
			if tt.code == 0 {
				if errors.As(err, &exitErr) {
					t.Errorf("expected a plain error, got exit code %d", exitErr.code)
				}
				return
			}
			if !errors.As(err, &exitErr) || exitErr.code != tt.code {
				t.Errorf("expected exit code %d, got %v", tt.code, err)
			}
		})
	}
}

func TestRealMain_Purge(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir, cacheBackendNone)
	var stdout, stderr bytes.Buffer
	err := realMain([]string{"-config", configPath, "purge"}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Errorf("expected purging a disabled cache to fail, got %v", err)
	}

	configPath = writeTestConfig(t, dir, cacheBackendFile)
	if err = realMain([]string{"-config", configPath, "purge"}, &stdout, &stderr); err != nil {
		t.Errorf("expected purge to succeed, got %v", err)
	}
}

func TestRealMain_Version(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	if err := realMain([]string{"-config", filepath.Join(dir, "config.json"), "version"}, &stdout, &stderr); err != nil {
		t.Fatalf("realMain failed: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "nepenthes "+Version) {
		t.Errorf("unexpected version output %q", stdout.String())
	}

	// A missing config file is created with defaults.
	config, err := LoadConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Server.CacheBackend != cacheBackendFile || config.Templates.MaxIncludeDepth != 16 {
		t.Errorf("expected default config, got %+v %+v", config.Server, config.Templates)
	}
}

func TestLoadConfig_Partial(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"server_config": {"log_level": "debug"}, "template_config": {"max_cache_age": "5m", "report_mode": "record"}}`)
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Server.LogLevel != "debug" || config.Server.TemplateExt != ".html" {
		t.Errorf("expected defaults to survive a partial file, got %+v", config.Server)
	}
	if time.Duration(config.Templates.MaxCacheAge) != 5*time.Minute || config.Templates.ReportMode.String() != "record" {
		t.Errorf("unexpected template config %+v", config.Templates)
	}

	bad := writeFile(t, dir, "bad.json", `{"server_config": {"cache_backend": "redis"}}`)
	if _, err = LoadConfig(bad); err == nil {
		t.Error("expected an unknown cache backend to be rejected")
	}
}
