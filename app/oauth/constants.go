// Package oauth implements the OAuth 1.0a (RFC 5849) pieces used by the
// proxy: RFC 3986 encoding, parameter collection, signature base strings,
// HMAC-SHA1 signing and verification, and the timestamp window.
package oauth

import "time"

const (
	ParamConsumerKey     = "oauth_consumer_key"
	ParamNonce           = "oauth_nonce"
	ParamSignature       = "oauth_signature"
	ParamSignatureMethod = "oauth_signature_method"
	ParamTimestamp       = "oauth_timestamp"
	ParamVersion         = "oauth_version"
	ParamRealm           = "realm"

	// SignatureMethod is the only signature method accepted or produced.
	SignatureMethod = "HMAC-SHA1"
	// Version is the only oauth_version accepted when one is sent.
	Version = "1.0"

	paramPrefix = "oauth_"
	authScheme  = "OAuth"
)

// RequiredParams must all be present and non-empty on a signed request.
var RequiredParams = []string{
	ParamConsumerKey,
	ParamNonce,
	ParamSignature,
	ParamSignatureMethod,
	ParamTimestamp,
}

// MaxTimestampSkew is the largest accepted distance, in either direction,
// between a request's oauth_timestamp and the proxy clock.
const MaxTimestampSkew = 5 * time.Minute
