package oauth

import (
	"cmp"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"slices"
	"strings"
)

// Normalize builds the normalized request parameter string of RFC 5849
// section 3.4.1.3.2. Names and values are decoded and re-encoded so values
// that arrive already encoded (header transport, eager client libraries) are
// encoded exactly once. Pairs are sorted by name, then value, using byte
// order. Identical pairs are kept.
func Normalize(pairs []Pair) string {
	enc := make([]Pair, len(pairs))
	for i, p := range pairs {
		enc[i] = Pair{Name: Encode(Decode(p.Name)), Value: Encode(Decode(p.Value))}
	}
	slices.SortStableFunc(enc, func(a, b Pair) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})

	var b strings.Builder
	for i, p := range enc {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// BaseString returns METHOD&encode(scheme://host+path)&encode(normalized).
func BaseString(method, scheme, host, path, normalized string) string {
	return strings.ToUpper(method) + "&" +
		Encode(scheme+"://"+host+path) + "&" +
		Encode(normalized)
}

// CandidateBases returns the signature base strings a request may have been
// signed over. When the scheme is known (absolute request URI or an
// X-Forwarded-Proto starting with https) a single base is returned. Otherwise
// upstream infrastructure may have terminated TLS without saying so, and both
// the https and the http base are returned, https first.
func CandidateBases(r *http.Request, pairs []Pair) []string {
	normalized := Normalize(pairs)
	method := r.Method
	path := r.URL.EscapedPath()

	if s := strings.ToLower(r.URL.Scheme); s == "http" || s == "https" {
		host := r.URL.Host
		if host == "" {
			host = r.Host
		}
		return []string{BaseString(method, s, host, path, normalized)}
	}

	bases := []string{BaseString(method, "https", r.Host, path, normalized)}
	if strings.HasPrefix(strings.ToLower(r.Header.Get("X-Forwarded-Proto")), "https") {
		return bases
	}
	return append(bases, BaseString(method, "http", r.Host, path, normalized))
}

// digest returns the base64 HMAC-SHA1 of base. secret is the consumer secret
// in its percent-encoded form; the token secret is always empty.
func digest(base, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret+"&"))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Sign returns the percent-encoded signature of base, ready to be placed in
// an Authorization header.
func Sign(base, secret string) string {
	return Encode(digest(base, secret))
}

// Verify reports whether claimed is the signature of any of the candidate
// bases. claimed is decoded first so clients that send the raw base64 value
// are accepted too. Candidates are tried in order and compared in constant
// time.
func Verify(bases []string, secret, claimed string) bool {
	want := []byte(Decode(claimed))
	for _, base := range bases {
		if hmac.Equal([]byte(digest(base, secret)), want) {
			return true
		}
	}
	return false
}
