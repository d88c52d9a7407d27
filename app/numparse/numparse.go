// Package numparse reads loosely formatted integers from config values and
// request parameters: leading whitespace and a sign are allowed, and anything
// after the leading digits is ignored.
package numparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var leadingInt = regexp.MustCompile(`^\s*[+-]?\d+`)

// Leading parses the leading integer of s. A value with no leading digits is
// an error.
func Leading(s string) (int64, error) {
	m := leadingInt.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(m), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	return v, nil
}
