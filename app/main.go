package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/oauthproxy/oauthproxy/app/config"
	"github.com/oauthproxy/oauthproxy/app/manager"
	"github.com/oauthproxy/oauthproxy/app/proxy"
)

// version is the application version. It can be overridden at build time using
// the -ldflags "-X main.version=<version>" option.
var version = "dev"

var configDir = flag.String("config-dir", "", "directory of proxy configuration files (env OAUTHPROXY_CONFIG_DIR)")
var logDir = flag.String("log-dir", "", "write logs to <dir>/oauthproxy.log instead of stdout (env OAUTHPROXY_LOG_DIR)")
var logLevel = flag.String("log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
var logFormat = flag.String("log-format", "text", "log output format: text or json")
var serviceName = flag.String("service-name", "oauthproxy", "product name reported in the Via header (env OAUTHPROXY_SERVICE_NAME)")
var productVersion = flag.String("product-version", "", "version reported in the Via header (env OAUTHPROXY_VERSION)")
var adminAddr = flag.String("admin-addr", "", "listen address for /healthz, /metrics and /proxies; empty disables")
var adminTLSCert = flag.String("admin-tls-cert", "", "path to TLS certificate for the admin listener")
var adminTLSKey = flag.String("admin-tls-key", "", "path to TLS key for the admin listener")
var envFile = flag.String("env-file", "", "load environment variables from this file before reading them")
var watchConfig = flag.Bool("watch", true, "watch the config directory for changes")
var showVersion = flag.Bool("version", false, "print version and exit")
var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// envFlags maps flags to the environment variables that supply their value
// when the flag is not given on the command line.
var envFlags = map[string]string{
	"config-dir":      "OAUTHPROXY_CONFIG_DIR",
	"log-dir":         "OAUTHPROXY_LOG_DIR",
	"service-name":    "OAUTHPROXY_SERVICE_NAME",
	"product-version": "OAUTHPROXY_VERSION",
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: oauthproxy [options]\n\n")
	fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
	flag.PrintDefaults()
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadEnv reads path into the environment without overriding variables that
// are already set. A missing default .env file is not an error.
func loadEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	return godotenv.Load(path)
}

// applyEnv fills flags that were not set on the command line from envFlags.
func applyEnv(fs *flag.FlagSet) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for name, env := range envFlags {
		if set[name] {
			continue
		}
		if v, ok := os.LookupEnv(env); ok && v != "" {
			if err := fs.Set(name, v); err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
		}
	}
	return nil
}

// openLog returns the log destination: stdout, or an append-only file in dir.
func openLog(dir string) (io.WriteCloser, error) {
	if dir == "" {
		return nopCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "oauthproxy.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newFactory(opts proxy.Options, logger *slog.Logger) manager.Factory {
	return func(cfg *config.ProxyConfig) (manager.Runner, error) {
		return proxy.New(cfg, opts, logger)
	}
}

// healthzHandler reports readiness and the time of the last config load.
func healthzHandler(m *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Last-Reload", m.LastReload().Format(time.RFC3339))
		w.WriteHeader(http.StatusOK)
	}
}

// proxiesHandler lists every configuration file and its state.
func proxiesHandler(m *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Status())
	}
}

func adminMux(m *manager.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler(m))
	mux.HandleFunc("/metrics", proxy.MetricsHandler)
	mux.HandleFunc("/proxies", proxiesHandler(m))
	return mux
}

type server interface {
	ListenAndServe() error
	ListenAndServeTLS(certFile, keyFile string) error
}

func serve(s server, cert, key string) error {
	switch {
	case cert != "" && key != "":
		return s.ListenAndServeTLS(cert, key)
	case cert == "" && key == "":
		return s.ListenAndServe()
	default:
		return fmt.Errorf("both cert and key must be provided")
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := loadEnv(*envFile); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	if err := applyEnv(flag.CommandLine); err != nil {
		return err
	}
	if *configDir == "" {
		return errors.New("a config directory is required: set -config-dir or OAUTHPROXY_CONFIG_DIR")
	}
	if *productVersion == "" {
		*productVersion = version
	}

	out, err := openLog(*logDir)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer out.Close()
	logger = newLogger(out, *logLevel, *logFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := proxy.Options{Product: *serviceName, Version: *productVersion}
	mgr := manager.New(*configDir, newFactory(opts, logger), logger)
	if err := mgr.Load(ctx); err != nil {
		return err
	}
	if *watchConfig {
		if err := mgr.Watch(ctx); err != nil {
			logger.Error("failed to watch config directory", "error", err)
		}
	}

	var admin *http.Server
	if *adminAddr != "" {
		admin = &http.Server{Addr: *adminAddr, Handler: adminMux(mgr)}
		go func() {
			if err := serve(admin, *adminTLSCert, *adminTLSKey); err != nil && err != http.ErrServerClosed {
				logger.Error("admin listener failed", "error", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	reloadSig := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadSig, syscall.SIGHUP)

	for {
		select {
		case <-reloadSig:
			if err := mgr.Load(ctx); err != nil {
				logger.Error("reload failed", "error", err)
			} else {
				logger.Info("reloaded configuration")
			}
		case <-stop:
			logger.Info("shutting down")
			cancel()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if admin != nil {
				if err := admin.Shutdown(sctx); err != nil {
					logger.Error("admin shutdown", "error", err)
				}
			}
			return mgr.Close(sctx)
		}
	}
}
