// Package proxy runs one configured proxy: a listener whose requests pass
// through an ordered list of stages before being forwarded. In reverse_proxy
// mode the stages validate OAuth 1.0a signatures; in proxy mode they sign
// requests on behalf of local clients.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oauthproxy/oauthproxy/app/config"
	"github.com/oauthproxy/oauthproxy/app/keystore"
	"github.com/oauthproxy/oauthproxy/app/oauth"
	"github.com/oauthproxy/oauthproxy/app/quota"
	"github.com/oauthproxy/oauthproxy/app/whitelist"
)

// Options carries process-wide settings shared by every proxy.
type Options struct {
	// Product and Version appear in the Via header.
	Product string
	Version string
	// Now overrides the clock used for timestamps.
	Now func() time.Time
	// ShutdownTimeout bounds graceful listener shutdown in Stop.
	ShutdownTimeout time.Duration
}

// Proxy is one running proxy instance.
type Proxy struct {
	cfg    *config.ProxyConfig
	logger *slog.Logger
	now    func() time.Time
	via    string

	keys      *keystore.Store
	quota     *quota.Enforcer
	whitelist *whitelist.Matcher
	stages    []stage
	forwarder *httputil.ReverseProxy

	shutdownTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	servers *listeners
}

// New builds a proxy for cfg. Nothing is loaded or bound until Start.
func New(cfg *config.ProxyConfig, opts Options, logger *slog.Logger) (*Proxy, error) {
	logger = logger.With("service", cfg.ServiceName)

	wl, err := whitelist.New(cfg.Whitelist)
	if err != nil {
		return nil, err
	}
	keys := keystore.New(cfg.SecretDir, keystore.Thresholds{
		Default: cfg.Quota.DefaultThreshold,
		PerKey:  cfg.Quota.Thresholds,
	}, logger)

	p := &Proxy{
		cfg:       cfg,
		logger:    logger,
		now:       opts.Now,
		via:       viaHeader(opts.Product, opts.Version),
		keys:      keys,
		whitelist: wl,
		quota: quota.New(keys, quota.Options{
			Interval:  cfg.Quota.Interval,
			RedisAddr: cfg.Quota.RedisAddr,
			Namespace: cfg.ServiceName,
		}, logger),
		shutdownTimeout: opts.ShutdownTimeout,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.shutdownTimeout <= 0 {
		p.shutdownTimeout = 5 * time.Second
	}
	if cfg.IsReverseProxy() {
		p.stages = reverseStages
	} else {
		p.stages = forwardStages
	}
	p.forwarder = newForwarder(cfg, logger)
	return p, nil
}

func viaHeader(product, version string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	if product == "" {
		product = "oauthproxy"
	}
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("1.1 %s (%s v%s)", host, product, version)
}

// Config returns the configuration the proxy was built from.
func (p *Proxy) Config() *config.ProxyConfig { return p.cfg }

// Keys returns the proxy's credential store.
func (p *Proxy) Keys() *keystore.Store { return p.keys }

// Start loads the credentials, begins watching the secret directory, starts
// the quota sweep and binds the listeners. A failure leaves nothing running.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("proxy already started")
	}

	if err := p.keys.Load(); err != nil {
		return err
	}
	wctx, cancel := context.WithCancel(context.Background())
	if err := p.keys.Watch(wctx); err != nil {
		p.logger.Warn("failed to watch key directory, keys will not reload", "error", err)
	}
	p.quota.Start()

	ls, err := listen(ctx, p.cfg, p, p.logger)
	if err != nil {
		cancel()
		p.quota.Stop()
		return err
	}
	p.servers = ls
	p.cancel = cancel
	p.logger.Info("started proxy", "mode", p.cfg.Mode, "from_port", p.cfg.FromPort, "to_port", p.cfg.ToPort)
	return nil
}

// Stop closes the listeners, waiting for in-flight requests up to the
// shutdown timeout, and stops the key watcher and quota sweep.
func (p *Proxy) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	p.cancel = nil
	p.quota.Stop()

	sctx, cancel := context.WithTimeout(ctx, p.shutdownTimeout)
	defer cancel()
	err := p.servers.shutdown(sctx)
	p.servers = nil
	p.logger.Info("stopped proxy")
	return err
}

// Wait blocks until the listeners exit and returns the first serve error.
func (p *Proxy) Wait() error {
	p.mu.Lock()
	ls := p.servers
	p.mu.Unlock()
	if ls == nil {
		return nil
	}
	return ls.wait()
}

// ServeHTTP runs the request through the stages and forwards it if none of
// them ended it.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			p.logger.Error("failed to handle request",
				"method", r.Method, "host", r.Host, "url", r.RequestURI,
				"panic", v, "stack", string(debug.Stack()))
			if !rec.written() {
				http.Error(rec, msgInternal, http.StatusInternalServerError)
			}
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		recordRequest(p.cfg.ServiceName, status, time.Since(start))
	}()

	x := &exchange{r: r, params: oauth.NewParameterSet()}
	for _, s := range p.stages {
		if err := s.run(p, x); err != nil {
			p.reject(rec, x.r, s.name, err)
			return
		}
	}
	p.forwarder.ServeHTTP(rec, x.r)
}

func (p *Proxy) reject(w http.ResponseWriter, r *http.Request, stage string, err error) {
	var re *RequestError
	if !errors.As(err, &re) {
		p.logger.Error("failed to handle request", "method", r.Method, "host", r.Host, "url", r.URL.RequestURI(), "stage", stage, "error", err)
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	p.logger.Info("rejecting request",
		"method", r.Method, "host", r.Host, "url", r.URL.RequestURI(),
		"stage", stage, "status", re.Status, "error", re.Message)
	if re.Status == http.StatusUnauthorized {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	http.Error(w, re.Message, re.Status)
}
