// Package config parses and validates proxy configuration files. Each file in
// the configuration directory describes one proxy: a listener port, a target,
// a secret directory, quotas and a whitelist.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/oauthproxy/oauthproxy/app/whitelist"
)

// Mode selects what a proxy does with requests.
type Mode string

const (
	// ReverseProxy validates signed requests and forwards them to a backend.
	ReverseProxy Mode = "reverse_proxy"
	// ForwardProxy signs requests on behalf of local clients.
	ForwardProxy Mode = "proxy"
)

const (
	DefaultTargetHost     = "localhost"
	DefaultQuotaInterval  = time.Second
	DefaultBackendTimeout = 60 * time.Second
)

// InvalidError reports why a configuration file was rejected.
type InvalidError struct {
	File   string
	Reason string
}

func (e *InvalidError) Error() string {
	if e.File == "" {
		return e.Reason
	}
	return e.File + ": " + e.Reason
}

// Quota holds validated quota settings.
type Quota struct {
	Interval         time.Duration
	DefaultThreshold int
	Thresholds       map[string]int
	RedisAddr        string
}

// TLSFiles locate a listener's key and certificate.
type TLSFiles struct {
	KeyFile  string
	CertFile string
}

// ProxyConfig is a validated proxy configuration. Values are built by Parse
// and must not be modified afterwards.
type ProxyConfig struct {
	ServiceName        string
	Mode               Mode
	FromPort           int
	ToPort             int
	TargetHost         string
	SecretDir          string
	RequiredURIs       []string
	RequiredHosts      []string
	HTTPS              *TLSFiles
	HTTP3              bool
	ToPortIsHTTPS      bool
	ValidateTargetCert bool
	Quota              Quota
	Whitelist          whitelist.Config
	BackendTimeout     time.Duration
}

// IsReverseProxy reports whether the proxy validates inbound signatures.
func (c *ProxyConfig) IsReverseProxy() bool { return c.Mode == ReverseProxy }

// Equal reports whether two configurations are identical.
func (c *ProxyConfig) Equal(o *ProxyConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	return reflect.DeepEqual(c, o)
}

// Load reads and validates the configuration file at path.
func Load(path string) (*ProxyConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse decodes a configuration document and validates it. Validation
// failures are returned as *InvalidError.
func Parse(r io.Reader, file string) (*ProxyConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &InvalidError{File: file, Reason: "configuration file is empty"}
		}
		return nil, &InvalidError{File: file, Reason: fmt.Sprintf("failed to parse configuration: %v", err)}
	}
	if doc.OAuthSecretDir != "" && !filepath.IsAbs(doc.OAuthSecretDir) {
		abs, err := filepath.Abs(doc.OAuthSecretDir)
		if err != nil {
			return nil, err
		}
		doc.OAuthSecretDir = abs
	}
	if reason := doc.Invalid(); reason != "" {
		return nil, &InvalidError{File: file, Reason: reason}
	}
	return doc.build()
}

// build converts a document that passed Invalid. Number fields are known to
// parse at this point.
func (d *Document) build() (*ProxyConfig, error) {
	c := &ProxyConfig{
		ServiceName:        d.ServiceName,
		Mode:               d.mode(),
		TargetHost:         d.TargetHost,
		SecretDir:          d.OAuthSecretDir,
		RequiredURIs:       slices.Clone(d.RequiredURIs),
		RequiredHosts:      slices.Clone(d.RequiredHosts),
		HTTP3:              d.HTTP3,
		ToPortIsHTTPS:      d.ToPortIsHTTPS,
		ValidateTargetCert: d.ValidateTargetCert,
		BackendTimeout:     DefaultBackendTimeout,
		Quota:              Quota{Interval: DefaultQuotaInterval, Thresholds: map[string]int{}},
		Whitelist:          whitelist.Default,
	}
	if c.TargetHost == "" {
		c.TargetHost = DefaultTargetHost
	}
	c.FromPort, _ = d.FromPort.Int()
	if c.IsReverseProxy() {
		c.ToPort, _ = d.ToPort.Int()
	}
	if d.HTTPS != nil {
		c.HTTPS = &TLSFiles{KeyFile: d.HTTPS.Key, CertFile: d.HTTPS.Cert}
	}
	if d.BackendTimeout != "" {
		c.BackendTimeout, _ = time.ParseDuration(d.BackendTimeout)
	}
	if q := d.Quotas; q != nil {
		if q.Interval != "" {
			secs, _ := q.Interval.Int()
			c.Quota.Interval = time.Duration(secs) * time.Second
		}
		if q.DefaultThreshold != "" {
			c.Quota.DefaultThreshold, _ = q.DefaultThreshold.Int()
		}
		for k, v := range q.Thresholds {
			c.Quota.Thresholds[k], _ = v.Int()
		}
		c.Quota.RedisAddr = q.RedisAddr
	}
	if w := d.Whitelist; w != nil {
		c.Whitelist = whitelist.Config{Methods: slices.Clone([]string(w.Methods))}
		for _, r := range w.Paths {
			c.Whitelist.Paths = append(c.Whitelist.Paths, whitelist.Rule{
				Path:    r.Path,
				Methods: slices.Clone([]string(r.Methods)),
			})
		}
	}
	return c, nil
}
