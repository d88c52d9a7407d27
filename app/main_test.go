package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthproxy/oauthproxy/app/manager"
	"github.com/oauthproxy/oauthproxy/app/proxy"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf strings.Builder
	l := newLogger(&buf, "debug", "json")
	l.Debug("hello", "k", "v")
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(buf.String()), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestNewLoggerTextRespectsLevel(t *testing.T) {
	var buf strings.Builder
	l := newLogger(&buf, "warn", "text")
	l.Info("quiet")
	l.Warn("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func newFlagSet() (*flag.FlagSet, map[string]*string) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	vals := make(map[string]*string)
	for name := range envFlags {
		vals[name] = fs.String(name, "", "")
	}
	return fs, vals
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OAUTHPROXY_CONFIG_DIR", "/from/env")
	t.Setenv("OAUTHPROXY_SERVICE_NAME", "env-product")
	fs, vals := newFlagSet()
	require.NoError(t, fs.Parse([]string{"-service-name", "flag-product"}))
	require.NoError(t, applyEnv(fs))

	assert.Equal(t, "/from/env", *vals["config-dir"])
	assert.Equal(t, "flag-product", *vals["service-name"])
	assert.Equal(t, "", *vals["log-dir"])
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("OAUTHPROXY_TEST_ONLY=loaded\nOAUTHPROXY_TEST_KEEP=file\n"), 0o600))
	t.Setenv("OAUTHPROXY_TEST_KEEP", "process")
	t.Cleanup(func() { os.Unsetenv("OAUTHPROXY_TEST_ONLY") })

	require.NoError(t, loadEnv(path))
	assert.Equal(t, "loaded", os.Getenv("OAUTHPROXY_TEST_ONLY"))
	assert.Equal(t, "process", os.Getenv("OAUTHPROXY_TEST_KEEP"))

	assert.Error(t, loadEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestOpenLog(t *testing.T) {
	w, err := openLog("")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dir := filepath.Join(t.TempDir(), "logs")
	w, err = openLog(dir)
	require.NoError(t, err)
	fmt.Fprintln(w, "line one")
	require.NoError(t, w.Close())

	w, err = openLog(dir)
	require.NoError(t, err)
	fmt.Fprintln(w, "line two")
	require.NoError(t, w.Close())

	b, err := os.ReadFile(filepath.Join(dir, "oauthproxy.log"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(b))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeProxyConfig(t *testing.T, dir, file string) {
	t.Helper()
	keys := t.TempDir()
	doc := fmt.Sprintf(`{"service_name": "svc", "from_port": %d, "to_port": 2, "oauth_secret_dir": %q}`, freePort(t), keys)
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(doc), 0o600))
}

func TestAdminEndpoints(t *testing.T) {
	dir := t.TempDir()
	writeProxyConfig(t, dir, "svc.json")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{}`), 0o600))

	m := manager.New(dir, newFactory(proxy.Options{}, logger), logger)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Load(ctx))
	t.Cleanup(func() { m.Close(ctx) })
	t.Cleanup(cancel)

	srv := httptest.NewServer(adminMux(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ts, err := time.Parse(time.RFC3339, resp.Header.Get("X-Last-Reload"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)

	resp, err = http.Get(srv.URL + "/proxies")
	require.NoError(t, err)
	var st []manager.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	require.Len(t, st, 2)
	assert.Equal(t, "broken.json", st[0].File)
	assert.Equal(t, "proxy configuration lacks service_name", st[0].Error)
	assert.Equal(t, "svc.json", st[1].File)
	assert.Equal(t, "svc", st[1].Service)
	assert.True(t, st[1].Running, st[1].Error)

	resp, err = http.Post(srv.URL+"/proxies", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "text/plain; version=0.0.4", resp.Header.Get("Content-Type"))
}

type stubServer struct{ tls bool }

func (s *stubServer) ListenAndServe() error                    { return nil }
func (s *stubServer) ListenAndServeTLS(cert, key string) error { s.tls = true; return nil }

func TestServeSelectsTLS(t *testing.T) {
	s := &stubServer{}
	require.NoError(t, serve(s, "cert", "key"))
	assert.True(t, s.tls)

	s = &stubServer{}
	require.NoError(t, serve(s, "", ""))
	assert.False(t, s.tls)

	err := serve(&stubServer{}, "cert", "")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, http.ErrServerClosed))
}
