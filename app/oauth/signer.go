package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Signer signs outbound requests on behalf of a consumer. Secret is the
// percent-encoded consumer secret, as held by the keystore.
type Signer struct {
	Key    string
	Secret string

	// Now and Nonce default to the wall clock and 16 random bytes in hex.
	Now   func() time.Time
	Nonce func() string
}

// Authorization returns an OAuth Authorization header value for a request to
// target. form holds decoded form-urlencoded body parameters, if any. The
// target scheme is known, so exactly one signature base is used.
func (s Signer) Authorization(method string, target *url.URL, form url.Values) string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	nonce := newNonce
	if s.Nonce != nil {
		nonce = s.Nonce
	}
	n := nonce()
	ts := strconv.FormatInt(now().UnixMilli(), 10)

	params := NewParameterSet()
	params.Add(ParamConsumerKey, Encode(s.Key))
	params.Add(ParamSignatureMethod, SignatureMethod)
	params.Add(ParamNonce, n)
	params.Add(ParamTimestamp, ts)
	params.Add(ParamVersion, Version)
	params.Collect(target.Query())
	params.Collect(form)

	base := BaseString(method, target.Scheme, target.Host, target.EscapedPath(), Normalize(params.Pairs))
	sig := Sign(base, s.Secret)

	return fmt.Sprintf(`OAuth %s="%s",%s="%s",%s="%s",%s="%s",%s="%s",%s="%s"`,
		ParamConsumerKey, Encode(s.Key),
		ParamSignatureMethod, SignatureMethod,
		ParamSignature, sig,
		ParamNonce, n,
		ParamTimestamp, ts,
		ParamVersion, Version,
	)
}

func newNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
