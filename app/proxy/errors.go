package proxy

import (
	"net/http"
)

// RequestError ends a request with Status. Message is sent to the client as
// plain text and logged with the rejection.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func badRequest(msg string) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: msg}
}

func unauthorized(msg string) *RequestError {
	return &RequestError{Status: http.StatusUnauthorized, Message: msg}
}

const (
	msgInvalidRequest   = "Invalid request"
	msgNotOAuth         = "Authorization type is not OAuth"
	msgBadMethod        = "Only OAuth 1.0a with HMAC-SHA1 is supported"
	msgIncomplete       = "Incomplete OAuth headers"
	msgBadVersion       = "Incorrect OAuth version"
	msgInvalidKey       = "Invalid consumer key"
	msgExpired          = "Request expired"
	msgQuotaExceeded    = "Quota exceeded"
	msgSignatureFailed  = "Signature mismatch"
	msgURLTooLong       = "URL exceeds maximum allowed length"
	msgBodyTooLarge     = "Request body too large"
	msgInternal         = "Internal error"
	headerConsumerKey   = "X-Oauth-Reverse-Proxy-Consumer-Key"
	headerCorrelationID = "X-Vp-Correlatorid"
)
