package oauth

import (
	"errors"
	"time"

	"github.com/oauthproxy/oauthproxy/app/numparse"
)

// ErrTimestampExpired is returned for timestamps outside MaxTimestampSkew.
var ErrTimestampExpired = errors.New("request expired")

// CheckTimestamp validates oauth_timestamp against now. Values shorter than
// 11 characters are seconds and are padded to milliseconds by appending
// "500", the middle of the second. The leading integer is used and any
// trailing text ignored. The window is inclusive: a timestamp exactly
// MaxTimestampSkew away is accepted.
func CheckTimestamp(ts string, now time.Time) error {
	if len(ts) < 11 {
		ts += "500"
	}
	ms, err := numparse.Leading(ts)
	if err != nil {
		return ErrTimestampExpired
	}
	delta := now.UnixMilli() - ms
	if delta < 0 {
		delta = -delta
	}
	if delta > MaxTimestampSkew.Milliseconds() {
		return ErrTimestampExpired
	}
	return nil
}
