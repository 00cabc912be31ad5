package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CTAG07/Nepenthes/pkg/vars"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const usage = `Usage: nepenthes [flags] <command> [args]

Commands:
  render NAME   compile the template NAME and write it to stdout
  serve         run the preview server
  purge         remove every cached render plan
  version       print build information

Flags:
`

// exitError carries a process exit code out of realMain.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := realMain(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		code := 1
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(code)
	}
}

func realMain(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("nepenthes", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "./config.json", "path to the JSON configuration file")
	varFiles := stringList{}
	fs.Var(&varFiles, "vars", "additional YAML or JSON variable file, may be repeated")
	logLevel := fs.String("log-level", "", "override the configured log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return &exitError{code: 2, err: err}
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return &exitError{code: 2, err: errors.New("missing command")}
	}

	loadConfig := func(path string) (*ConfigManager, error) {
		cm, err := NewConfigManager(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cm.overrideServer(varFiles, *logLevel)
		return cm, nil
	}
	cm, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	config := cm.Get()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: config.Server.logLevel()}))

	switch cmd := fs.Arg(0); cmd {
	case "render":
		if fs.NArg() != 2 {
			return &exitError{code: 2, err: errors.New("render takes exactly one template name")}
		}
		return renderCommand(context.Background(), config, logger, fs.Arg(1), stdout)
	case "serve":
		return serveCommand(cm, logger, loadConfig)
	case "purge":
		return purgeCommand(context.Background(), config, logger)
	case "version":
		fmt.Fprintf(stdout, "nepenthes %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return nil
	default:
		fs.Usage()
		return &exitError{code: 2, err: fmt.Errorf("unknown command %q", cmd)}
	}
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// renderCommand compiles one template against the configured variable files
// and writes the result to w.
func renderCommand(ctx context.Context, config Config, logger *slog.Logger, name string, w io.Writer) error {
	planCache, closeCache, err := openPlanCache(&config, logger)
	if err != nil {
		return fmt.Errorf("failed to open plan cache: %w", err)
	}
	defer func() {
		if err := closeCache(); err != nil {
			logger.Error("Failed to close plan cache", "error", err)
		}
	}()

	engine, _ := newEngine(config, logger, planCache)
	tmpl, err := engine.Load(name)
	if err != nil {
		return err
	}
	values, err := mergeVars(config.Server.VarFiles, config.Server.VarSchema, nil)
	if err != nil {
		return err
	}
	tmpl.SetMany(values)
	logger.Debug("Rendering template", "template", name, "vars", vars.Dump(tmpl.Vars().Root()))

	out, err := engine.Compile(ctx, tmpl)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if _, err = bw.WriteString(out); err != nil {
		return err
	}
	return bw.Flush()
}

// purgeCommand empties the configured plan cache.
func purgeCommand(ctx context.Context, config Config, logger *slog.Logger) error {
	planCache, closeCache, err := openPlanCache(&config, logger)
	if err != nil {
		return fmt.Errorf("failed to open plan cache: %w", err)
	}
	defer func() { _ = closeCache() }()
	if planCache == nil {
		return errors.New("plan cache is disabled")
	}
	if err = planCache.Purge(ctx); err != nil {
		return fmt.Errorf("failed to purge plan cache: %w", err)
	}
	logger.Info("Plan cache purged", "backend", config.Server.CacheBackend)
	return nil
}

// serveCommand hosts the preview server until a signal or an API action stops
// it. A restart action reloads the configuration and starts over.
func serveCommand(cm *ConfigManager, logger *slog.Logger, reload func(string) (*ConfigManager, error)) error {
	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		logger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(cm, logger, actionChan)
		if err != nil {
			logger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}
		if action != actionRestart {
			break
		}
		logger.Info("--- Server Restarting ---")
		reloaded, err := reload(cm.configPath)
		if err != nil {
			return err
		}
		cm = reloaded
	}

	logger.Info("Nepenthes has shut down.")
	return nil
}

// run hosts the server once, and returns whenever it is shut down or restarted.
func run(cm *ConfigManager, logger *slog.Logger, actionChan chan string) (string, error) {
	config := cm.Get()
	logger.Info("Starting server cycle...")

	planCache, closeCache, err := openPlanCache(&config, logger)
	if err != nil {
		return "", fmt.Errorf("failed to open plan cache: %w", err)
	}

	server := NewServer(cm, logger, planCache, actionChan)
	httpServer := &http.Server{
		Addr:              config.Server.ServerAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting Nepenthes preview server", "address", httpServer.Addr,
			"templates", config.Server.TemplateDir, "cache", config.Server.CacheBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Preview server failed", "error", err)
		}
	}()

	action := <-actionChan

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = httpServer.Shutdown(ctx); err != nil {
		logger.Error("Preview server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	if err = closeCache(); err != nil {
		logger.Error("Failed to close plan cache", "error", err)
	}
	return action, nil
}
