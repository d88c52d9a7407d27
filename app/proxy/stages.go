package proxy

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/oauthproxy/oauthproxy/app/keystore"
	"github.com/oauthproxy/oauthproxy/app/oauth"
)

// MaxURLLength bounds the request URI. Longer URIs are rejected with 413.
const MaxURLLength = 16 * 1024

// exchange carries per-request state between stages.
type exchange struct {
	r           *http.Request
	form        url.Values
	whitelisted bool
	params      *oauth.ParameterSet
	cred        *keystore.Credential
}

// A stage either passes the request on by returning nil or ends it. A
// *RequestError is answered with its status; any other error is a 500.
type stage struct {
	name string
	run  func(p *Proxy, x *exchange) error
}

var reverseStages = []stage{
	{"request_sanity", checkSanity},
	{"url_length", checkURLLength},
	{"form_parser", parseBody},
	{"forward_headers", addForwardHeaders},
	{"whitelist", checkWhitelist},
	{"oauth_params", collectParams},
	{"oauth_param_sanity", checkOAuthParams},
	{"oauth_timestamp", checkTimestamp},
	{"quota", checkQuota},
	{"oauth_signature", checkSignature},
	{"host_header", rewriteHost},
	{"auth_header", removeAuthHeader},
}

var forwardStages = []stage{
	{"request_sanity", checkSanity},
	{"url_length", checkURLLength},
	{"form_parser", parseBody},
	{"request_router", routeRequest},
	{"forward_headers", addForwardHeaders},
	{"quota", checkQuota},
	{"oauth_signer", signRequest},
}

func checkSanity(p *Proxy, x *exchange) error {
	r := x.r
	if r.Method == "" || r.URL == nil || r.Header == nil {
		return badRequest(msgInvalidRequest)
	}
	uri := r.RequestURI
	if uri == "" {
		uri = r.URL.RequestURI()
	}
	if len(p.cfg.RequiredURIs) > 0 && !containsAny(uri, p.cfg.RequiredURIs) {
		p.logger.Info("unmatched URI", "method", r.Method, "host", r.Host, "url", uri)
		return badRequest(msgInvalidRequest)
	}
	if len(p.cfg.RequiredHosts) > 0 && !containsAny(r.Host, p.cfg.RequiredHosts) {
		p.logger.Info("unmatched Host header", "method", r.Method, "host", r.Host, "url", uri)
		return badRequest(msgInvalidRequest)
	}
	return nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func checkURLLength(_ *Proxy, x *exchange) error {
	uri := x.r.RequestURI
	if uri == "" {
		uri = x.r.URL.RequestURI()
	}
	if len(uri) >= MaxURLLength {
		return &RequestError{Status: http.StatusRequestEntityTooLarge, Message: msgURLTooLong}
	}
	return nil
}

func parseBody(p *Proxy, x *exchange) error {
	form, err := parseForm(x.r)
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return &RequestError{Status: http.StatusRequestEntityTooLarge, Message: msgBodyTooLarge}
	case err != nil:
		p.logger.Warn("failed to parse body", "error", err)
	}
	x.form = form
	return nil
}

var hostPort = regexp.MustCompile(`:(\d+)`)

func appendHeader(h http.Header, name, value string) {
	if cur := h.Get(name); cur != "" {
		value = cur + "," + value
	}
	h.Set(name, value)
}

func addForwardHeaders(p *Proxy, x *exchange) error {
	r := x.r
	client, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		client = r.RemoteAddr
	}
	proto, port := "http", "80"
	if r.TLS != nil {
		proto, port = "https", "443"
	}
	if m := hostPort.FindStringSubmatch(r.Host); m != nil {
		port = m[1]
	}
	appendHeader(r.Header, "X-Forwarded-For", client)
	appendHeader(r.Header, "X-Forwarded-Port", port)
	appendHeader(r.Header, "X-Forwarded-Proto", proto)
	appendHeader(r.Header, "Via", p.via)
	if r.Header.Get(headerCorrelationID) == "" {
		r.Header.Set(headerCorrelationID, uuid.NewString())
	}
	return nil
}

func checkWhitelist(p *Proxy, x *exchange) error {
	if p.whitelist.Matches(x.r.Method, x.r.URL.EscapedPath()) {
		x.whitelisted = true
		incWhitelist(p.cfg.ServiceName)
		p.logger.Info("proxying whitelisted request", "method", x.r.Method, "host", x.r.Host, "url", x.r.URL.RequestURI())
	}
	return nil
}

func collectParams(_ *Proxy, x *exchange) error {
	if x.whitelisted {
		return nil
	}
	x.params.CollectAuthorization(x.r.Header.Get("Authorization"))
	x.params.Collect(x.r.URL.Query())
	x.params.Collect(x.form)
	return nil
}

func checkOAuthParams(p *Proxy, x *exchange) error {
	if x.whitelisted {
		return nil
	}
	if auth := x.r.Header.Get("Authorization"); auth != "" && !oauth.IsOAuthHeader(auth) {
		return badRequest(msgNotOAuth)
	}
	if m, _ := x.params.Get(oauth.ParamSignatureMethod); m != oauth.SignatureMethod {
		return badRequest(msgBadMethod)
	}
	for _, name := range oauth.RequiredParams {
		if v, _ := x.params.Get(name); v == "" {
			p.logger.Debug("missing oauth parameter", "param", name)
			return badRequest(msgIncomplete)
		}
	}
	if v, ok := x.params.Get(oauth.ParamVersion); ok && v != oauth.Version {
		return badRequest(msgBadVersion)
	}
	key, _ := x.params.Get(oauth.ParamConsumerKey)
	cred, ok := p.keys.Lookup(key)
	if !ok {
		return unauthorized(msgInvalidKey)
	}
	x.cred = cred
	return nil
}

func checkTimestamp(p *Proxy, x *exchange) error {
	if x.whitelisted {
		return nil
	}
	ts, _ := x.params.Get(oauth.ParamTimestamp)
	if err := oauth.CheckTimestamp(ts, p.now()); err != nil {
		return unauthorized(msgExpired)
	}
	return nil
}

func checkQuota(p *Proxy, x *exchange) error {
	if x.whitelisted {
		return nil
	}
	if !p.quota.Allow(x.r.Context(), x.cred) {
		incQuota(p.cfg.ServiceName)
		return unauthorized(msgQuotaExceeded)
	}
	return nil
}

func checkSignature(p *Proxy, x *exchange) error {
	if x.whitelisted {
		return nil
	}
	bases := oauth.CandidateBases(x.r, x.params.Pairs)
	claimed, _ := x.params.Get(oauth.ParamSignature)
	for _, b := range bases {
		p.logger.Debug("signature base", "base", b)
	}
	if !oauth.Verify(bases, x.cred.Secret, claimed) {
		return unauthorized(msgSignatureFailed)
	}
	x.r.Header.Set(headerConsumerKey, x.cred.Key)
	p.logger.Info("proxying request", "method", x.r.Method, "host", x.r.Host, "url", x.r.URL.RequestURI(), "key", x.cred.Key)
	return nil
}

func rewriteHost(p *Proxy, x *exchange) error {
	host := p.cfg.TargetHost
	if to := p.cfg.ToPort; to != 80 && to != 443 {
		host = net.JoinHostPort(host, strconv.Itoa(to))
	}
	x.r.Host = host
	return nil
}

func removeAuthHeader(_ *Proxy, x *exchange) error {
	x.r.Header.Del("Authorization")
	return nil
}

// Forward proxy control parameters.
const (
	paramProxyKey = "oauth_proxy_consumer_key"
	paramProxyURL = "oauth_proxy_url"
)

// routeRequest turns a request addressed to the forward proxy into one
// addressed to its target, dropping the control parameters.
func routeRequest(p *Proxy, x *exchange) error {
	q := x.r.URL.Query()
	key, raw := q.Get(paramProxyKey), q.Get(paramProxyURL)
	if key == "" || raw == "" {
		p.logger.Info("missing proxy control parameters", "method", x.r.Method, "url", x.r.URL.RequestURI())
		return badRequest(msgInvalidRequest)
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		p.logger.Info("invalid proxy target", "target", raw)
		return badRequest(msgInvalidRequest)
	}
	cred, ok := p.keys.Lookup(key)
	if !ok {
		return unauthorized(msgInvalidKey)
	}
	x.cred = cred
	x.r.URL = target
	x.r.Host = target.Host
	x.r.RequestURI = ""
	return nil
}

func signRequest(p *Proxy, x *exchange) error {
	s := oauth.Signer{Key: x.cred.Key, Secret: x.cred.Secret, Now: p.now}
	x.r.Header.Set("Authorization", s.Authorization(x.r.Method, x.r.URL, x.form))
	p.logger.Info("proxying request", "method", x.r.Method, "host", x.r.Host, "url", x.r.URL.String(), "key", x.cred.Key)
	return nil
}
