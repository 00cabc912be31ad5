package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/Nepenthes/pkg/templating"
	"github.com/natefinch/atomic"
)

// Cache backends selectable through ServerConfig.CacheBackend.
const (
	cacheBackendFile   = "file"
	cacheBackendSQLite = "sqlite"
	cacheBackendMemory = "memory"
	cacheBackendNone   = "none"
)

// ServerConfig holds the configuration for the CLI and the preview server.
type ServerConfig struct {
	ServerAddr        string            `json:"server_addr"`
	LogLevel          string            `json:"log_level"`
	APIKey            string            `json:"api_key"`
	TemplateDir       string            `json:"template_dir"`
	TemplateExt       string            `json:"template_ext"`
	CacheBackend      string            `json:"cache_backend"`
	CacheDir          string            `json:"cache_dir"`
	CacheDatabasePath string            `json:"cache_database_path"`
	VarFiles          []string          `json:"var_files"`
	VarSchema         string            `json:"var_schema"`
	Constants         map[string]string `json:"constants"`
	Headers           map[string]string `json:"headers"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig      `json:"server_config"`
	Templates *templating.Config `json:"template_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:        ":7277",
		LogLevel:          "info",
		TemplateDir:       "./data/templates",
		TemplateExt:       ".html",
		CacheBackend:      cacheBackendFile,
		CacheDir:          "./data/cache",
		CacheDatabasePath: "./data/nepenthes_cache.db?_journal_mode=WAL&_busy_timeout=5000",
		VarFiles:          []string{},
		Constants:         map[string]string{},
		Headers: map[string]string{
			"Cache-Control": "no-store, no-cache",
			"Content-Type":  "text/html; charset=utf-8",
		},
	}
}

// DefaultConfig returns a Config with every section set to its defaults.
func DefaultConfig() *Config {
	templates := templating.DefaultConfig()
	return &Config{
		Server:    DefaultServerConfig(),
		Templates: &templates,
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The defaults are still usable without a file on disk.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Templates == nil {
		templates := templating.DefaultConfig()
		config.Templates = &templates
	}
	if err = config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Server.CacheBackend {
	case cacheBackendFile, cacheBackendSQLite, cacheBackendMemory, cacheBackendNone:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Server.CacheBackend)
	}
	if c.Templates.MaxIncludeDepth < 0 {
		return fmt.Errorf("max_include_depth must not be negative, got %d", c.Templates.MaxIncludeDepth)
	}
	return nil
}

// logLevel maps the configured level name to a slog.Level, defaulting to Info.
func (s *ServerConfig) logLevel() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigManager handles thread-safe access to the configuration and keeps
// the engine in sync with it.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	engine     *templating.Engine
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &ConfigManager{config: cfg, configPath: path}, nil
}

// SetEngine registers the engine to receive template config updates.
func (cm *ConfigManager) SetEngine(engine *templating.Engine) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.engine = engine
	if engine != nil {
		engine.SetConfig(*cm.config.Templates)
	}
}

// overrideServer applies command-line overrides in memory. They are written
// to disk only by a later Update.
func (cm *ConfigManager) overrideServer(varFiles []string, logLevel string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	server := *cm.config.Server
	server.VarFiles = append(append([]string(nil), server.VarFiles...), varFiles...)
	if logLevel != "" {
		server.LogLevel = logLevel
	}
	cm.config.Server = &server
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Update validates and applies newConfig, then saves it to disk. Template
// settings take effect immediately; server settings need a restart.
func (cm *ConfigManager) Update(newConfig Config) error {
	if newConfig.Server == nil || newConfig.Templates == nil {
		return fmt.Errorf("config requires both server_config and template_config")
	}
	if err := newConfig.validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := json.MarshalIndent(newConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	*cm.config = newConfig
	if cm.engine != nil {
		cm.engine.SetConfig(*newConfig.Templates)
	}
	return nil
}
