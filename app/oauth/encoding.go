package oauth

import (
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// Encode percent-encodes s as required by RFC 3986 section 2.1: every byte
// outside the unreserved set (ALPHA, DIGIT, "-", ".", "_", "~") becomes %XX
// with uppercase hex digits. Unlike url.QueryEscape, spaces become %20 and the
// sub-delimiters ! ' ( ) * are always escaped.
func Encode(s string) string {
	if s == "" {
		return ""
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

// Decode reverses Encode. "+" is left alone. Input that is not valid
// percent-encoding is returned unchanged so a sloppy client value never aborts
// the signature check on its own.
func Decode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	out, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return out
}

func unreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
