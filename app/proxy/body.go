package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
)

// MaxFormBytes is the largest form-urlencoded body read for signing.
const MaxFormBytes int64 = 1 << 20

// ErrBodyTooLarge is returned when a form body exceeds MaxFormBytes.
var ErrBodyTooLarge = errors.New("request body too large")

type bodyKey struct{}

// readBody returns up to limit bytes of the request body, caching them in the
// request context and resetting r.Body so the body can be forwarded.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if b, ok := r.Context().Value(bodyKey{}).([]byte); ok {
		return b, nil
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, ErrBodyTooLarge
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(b))
	ctx := context.WithValue(r.Context(), bodyKey{}, b)
	*r = *r.WithContext(ctx)
	return b, nil
}

func isForm(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/x-www-form-urlencoded"
}

// parseForm decodes a form-urlencoded body. Other bodies are left untouched
// and yield nil values.
func parseForm(r *http.Request) (url.Values, error) {
	if !isForm(r) {
		return nil, nil
	}
	b, err := readBody(r, MaxFormBytes)
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(string(b))
}
