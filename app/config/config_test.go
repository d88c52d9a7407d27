package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthproxy/oauthproxy/app/whitelist"
)

func parse(t *testing.T, doc string) (*ProxyConfig, error) {
	t.Helper()
	return Parse(strings.NewReader(doc), "test.json")
}

func reason(t *testing.T, doc string) string {
	t.Helper()
	_, err := parse(t, doc)
	var inv *InvalidError
	require.True(t, errors.As(err, &inv), "expected InvalidError, got %v", err)
	assert.Equal(t, "test.json", inv.File)
	return inv.Reason
}

func TestParseValidReverseProxy(t *testing.T) {
	dir := t.TempDir()
	cfg, err := parse(t, fmt.Sprintf(`{
  "service_name": "jobs",
  "from_port": 8000,
  "to_port": "8080",
  "oauth_secret_dir": %q,
  "required_hosts": ["api.example.com"],
  "quotas": {"interval": 2, "default_threshold": 5, "thresholds": {"vip": 100}},
  "whitelist": [{"path": "/status", "methods": "GET"}, {"path": "/open/.*"}]
}`, dir))
	require.NoError(t, err)

	assert.Equal(t, "jobs", cfg.ServiceName)
	assert.True(t, cfg.IsReverseProxy())
	assert.Equal(t, 8000, cfg.FromPort)
	assert.Equal(t, 8080, cfg.ToPort)
	assert.Equal(t, DefaultTargetHost, cfg.TargetHost)
	assert.Equal(t, dir, cfg.SecretDir)
	assert.Equal(t, []string{"api.example.com"}, cfg.RequiredHosts)
	assert.Equal(t, 2*time.Second, cfg.Quota.Interval)
	assert.Equal(t, 5, cfg.Quota.DefaultThreshold)
	assert.Equal(t, map[string]int{"vip": 100}, cfg.Quota.Thresholds)
	assert.Equal(t, DefaultBackendTimeout, cfg.BackendTimeout)
	assert.Equal(t, []whitelist.Rule{
		{Path: "/status", Methods: []string{"GET"}},
		{Path: "/open/.*"},
	}, cfg.Whitelist.Paths)
}

func TestParseDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := parse(t, fmt.Sprintf(`{"service_name": "s", "from_port": 1, "to_port": 2, "oauth_secret_dir": %q}`, dir))
	require.NoError(t, err)
	assert.Equal(t, whitelist.Default, cfg.Whitelist)
	assert.Equal(t, DefaultQuotaInterval, cfg.Quota.Interval)
	assert.Zero(t, cfg.Quota.DefaultThreshold)
	assert.Nil(t, cfg.HTTPS)
	assert.False(t, cfg.ValidateTargetCert)
}

func TestParseWhitelistObjectForm(t *testing.T) {
	dir := t.TempDir()
	cfg, err := parse(t, fmt.Sprintf(`{
  "service_name": "s", "from_port": 1, "to_port": 2, "oauth_secret_dir": %q,
  "whitelist": {"paths": [{"path": "/a", "methods": ["GET", "HEAD"]}], "methods": "OPTIONS"}
}`, dir))
	require.NoError(t, err)
	assert.Equal(t, []string{"OPTIONS"}, cfg.Whitelist.Methods)
	assert.Equal(t, []whitelist.Rule{{Path: "/a", Methods: []string{"GET", "HEAD"}}}, cfg.Whitelist.Paths)
}

func TestParseForwardProxy(t *testing.T) {
	dir := t.TempDir()
	cfg, err := parse(t, fmt.Sprintf(`{"service_name": "out", "mode": "proxy", "from_port": 8001, "oauth_secret_dir": %q}`, dir))
	require.NoError(t, err)
	assert.Equal(t, ForwardProxy, cfg.Mode)
	assert.False(t, cfg.IsReverseProxy())
	assert.Zero(t, cfg.ToPort)
}

func TestParseRelativeSecretDir(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	rel := filepath.Join("testdata-keys-" + t.Name())
	require.NoError(t, os.Mkdir(rel, 0o700))
	t.Cleanup(func() { os.RemoveAll(rel) })

	cfg, err := parse(t, fmt.Sprintf(`{"service_name": "s", "from_port": 1, "to_port": 2, "oauth_secret_dir": %q}`, rel))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, rel), cfg.SecretDir)
}

func TestInvalidReasons(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	base := func(extra string) string {
		return fmt.Sprintf(`{"service_name": "s", "from_port": 8000, "to_port": 8080, "oauth_secret_dir": %q%s}`, dir, extra)
	}

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no service", `{"from_port": 1, "to_port": 2}`, "proxy configuration lacks service_name"},
		{"no from_port", `{"service_name": "s", "to_port": 2}`, "proxy configuration lacks from_port"},
		{"zero from_port", `{"service_name": "s", "from_port": 0, "to_port": 2}`, "proxy configuration lacks from_port"},
		{"no to_port", `{"service_name": "s", "from_port": 1}`, "proxy configuration lacks to_port"},
		{"proxy with to_port", `{"service_name": "s", "mode": "proxy", "from_port": 1, "to_port": 2}`, "proxy configuration has a to_port and shouldn't"},
		{"same ports", `{"service_name": "s", "from_port": 1, "to_port": 1}`, "from_port and to_port can not be identical"},
		{"interval nan", base(`, "quotas": {"interval": "soon"}`), "quotas.interval must be a number"},
		{"interval zero", base(`, "quotas": {"interval": 0}`), "minimum quotas.interval is 1 second"},
		{"default nan", base(`, "quotas": {"default_threshold": "lots"}`), "quotas.default_threshold must be a number"},
		{"default negative", base(`, "quotas": {"default_threshold": -1}`), "quotas.default_threshold must be positive"},
		{"threshold nan", base(`, "quotas": {"thresholds": {"k": "x"}}`), "k quota threshold must be a number"},
		{"threshold zero", base(`, "quotas": {"thresholds": {"a": 1, "k": 0}}`), "k quota threshold must be positive"},
		{"no key file", base(`, "https": {"cert": "c"}`), "no ssl key file provided"},
		{"key file missing", base(fmt.Sprintf(`, "https": {"key": %q}`, missing)), "https key file " + missing + " does not exist"},
		{"no cert file", base(fmt.Sprintf(`, "https": {"key": %q}`, file)), "no ssl cert file provided"},
		{"cert file missing", base(fmt.Sprintf(`, "https": {"key": %q, "cert": %q}`, file, missing)), "https cert file " + missing + " does not exist"},
		{"from_port nan", `{"service_name": "s", "from_port": "http", "to_port": 2}`, "from_port must be a number"},
		{"from_port range", `{"service_name": "s", "from_port": 70000, "to_port": 2}`, "from_port must be a valid port number"},
		{"to_port nan", `{"service_name": "s", "from_port": 1, "to_port": "x"}`, "to_port must be a number"},
		{"to_port range", `{"service_name": "s", "from_port": 1, "to_port": -4}`, "to_port must be a valid port number"},
		{"no secret dir", `{"service_name": "s", "from_port": 1, "to_port": 2}`, "proxy configuration lacks oauth_secret_dir"},
		{"secret dir missing", fmt.Sprintf(`{"service_name": "s", "from_port": 1, "to_port": 2, "oauth_secret_dir": %q}`, missing), "oauth_secret_dir " + missing + " is not a readable directory"},
		{"secret dir is file", fmt.Sprintf(`{"service_name": "s", "from_port": 1, "to_port": 2, "oauth_secret_dir": %q}`, file), "oauth_secret_dir " + file + " is not a readable directory"},
		{"http3 without https", base(`, "http3": true`), "http3 requires https"},
		{"bad timeout", base(`, "backend_timeout": "forever"`), "backend_timeout must be a positive duration"},
		{"bad whitelist", base(`, "whitelist": [{"path": "/(x"}]`), `whitelist path "/(x" is not a valid pattern`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reason(t, tt.doc))
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	r := reason(t, `{"service_name": "s", "frm_port": 1}`)
	assert.Contains(t, r, "failed to parse configuration")
}

func TestParseEmpty(t *testing.T) {
	assert.Equal(t, "configuration file is empty", reason(t, ""))
}

func TestNumberInt(t *testing.T) {
	tests := []struct {
		in   Number
		want int
		ok   bool
	}{
		{"42", 42, true},
		{" 7", 7, true},
		{"5.9", 5, true},
		{"10px", 10, true},
		{"-3", -3, true},
		{"px10", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := tt.in.Int()
		if tt.ok {
			require.NoError(t, err, string(tt.in))
			assert.Equal(t, tt.want, got)
		} else {
			assert.Error(t, err, string(tt.in))
		}
	}
}

func TestEqual(t *testing.T) {
	dir := t.TempDir()
	doc := fmt.Sprintf(`{"service_name": "s", "from_port": 1, "to_port": 2, "oauth_secret_dir": %q, "quotas": {"thresholds": {"k": 3}}}`, dir)
	a, err := parse(t, doc)
	require.NoError(t, err)
	b, err := parse(t, doc)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	c, err := parse(t, strings.Replace(doc, `"k": 3`, `"k": 4`, 1))
	require.NoError(t, err)
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.json")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`{"service_name": "s", "from_port": 1, "to_port": 2, "oauth_secret_dir": %q}`, dir)), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s", cfg.ServiceName)

	_, err = Load(filepath.Join(dir, "nope.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestWhitelistEmptyMethodList(t *testing.T) {
	dir := t.TempDir()
	cfg, err := parse(t, fmt.Sprintf(`{
  "service_name": "jobs",
  "from_port": 8000,
  "to_port": 8080,
  "oauth_secret_dir": %q,
  "whitelist": [{"path": "/closed", "methods": []}, {"path": "/open", "methods": ""}]
}`, dir))
	require.NoError(t, err)

	require.Len(t, cfg.Whitelist.Paths, 2)
	assert.NotNil(t, cfg.Whitelist.Paths[0].Methods)
	assert.Empty(t, cfg.Whitelist.Paths[0].Methods)
	assert.Nil(t, cfg.Whitelist.Paths[1].Methods)

	m, err := whitelist.New(cfg.Whitelist)
	require.NoError(t, err)
	assert.False(t, m.Matches("GET", "/closed"))
	assert.True(t, m.Matches("GET", "/open"))
	assert.True(t, m.Matches("DELETE", "/open"))
}
