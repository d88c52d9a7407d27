package proxy

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"

	"github.com/oauthproxy/oauthproxy/app/config"
)

var forwardedHeaders = []string{"X-Forwarded-For", "X-Forwarded-Port", "X-Forwarded-Proto"}

// newForwarder returns the backend hop. Reverse proxies send every request to
// target_host:to_port; forward proxies send each request to the absolute URL
// the router stage placed on it. The X-Forwarded-* headers built by the
// pipeline are kept as is.
func newForwarder(cfg *config.ProxyConfig, logger *slog.Logger) *httputil.ReverseProxy {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = cfg.BackendTimeout
	tr.MaxIdleConnsPerHost = 100
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.ValidateTargetCert}

	scheme := "http"
	if cfg.ToPort == 443 || cfg.ToPortIsHTTPS {
		scheme = "https"
	}
	backend := net.JoinHostPort(cfg.TargetHost, strconv.Itoa(cfg.ToPort))
	reverse := cfg.IsReverseProxy()

	return &httputil.ReverseProxy{
		Transport: tr,
		Rewrite: func(pr *httputil.ProxyRequest) {
			for _, h := range forwardedHeaders {
				if v, ok := pr.In.Header[h]; ok {
					pr.Out.Header[h] = v
				}
			}
			if reverse {
				pr.Out.URL.Scheme = scheme
				pr.Out.URL.Host = backend
			}
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Info("error communicating with underlying server", "method", r.Method, "url", r.URL.String(), "error", err)
			http.Error(w, "Connection to "+cfg.ServiceName+" failed", http.StatusInternalServerError)
		},
	}
}
