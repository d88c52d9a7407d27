// Package whitelist decides which requests bypass OAuth validation.
package whitelist

import (
	"fmt"
	"regexp"
	"slices"
)

// Rule matches a path pattern and, optionally, a set of methods. An empty
// Path matches any path; nil Methods matches any method, while a non-nil
// empty Methods matches none.
type Rule struct {
	Path    string   `json:"path,omitempty"`
	Methods []string `json:"methods,omitempty"`
}

// Config is the whitelist section of a proxy configuration.
type Config struct {
	Paths []Rule `json:"paths,omitempty"`
	// Methods are allowed on every path.
	Methods []string `json:"methods,omitempty"`
}

// Default is used when a proxy configures no whitelist.
var Default = Config{
	Paths: []Rule{
		{Path: "/livecheck", Methods: []string{"GET"}},
		{Path: "/healthcheck", Methods: []string{"GET"}},
	},
}

type rule struct {
	path    *regexp.Regexp
	methods []string
}

func (r rule) matches(method, path string) bool {
	if r.methods != nil && !slices.Contains(r.methods, method) {
		return false
	}
	return r.path == nil || r.path.MatchString(path)
}

// Matcher evaluates a compiled whitelist.
type Matcher struct {
	methods []string
	rules   []rule
}

// Compile validates a path pattern the way New will use it.
func Compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid whitelist path %q: %w", pattern, err)
	}
	return re, nil
}

// New compiles cfg. Rules that can match nothing are dropped: those with
// neither a path nor methods, and those with an explicit empty method list.
func New(cfg Config) (*Matcher, error) {
	m := &Matcher{methods: cfg.Methods}
	for _, r := range cfg.Paths {
		if len(r.Methods) == 0 && (r.Path == "" || r.Methods != nil) {
			continue
		}
		var cr rule
		if r.Path != "" {
			re, err := Compile(r.Path)
			if err != nil {
				return nil, err
			}
			cr.path = re
		}
		if len(r.Methods) > 0 {
			cr.methods = r.Methods
		}
		m.rules = append(m.rules, cr)
	}
	return m, nil
}

// Matches reports whether a request with method and path is whitelisted.
func (m *Matcher) Matches(method, path string) bool {
	if slices.Contains(m.methods, method) {
		return true
	}
	for _, r := range m.rules {
		if r.matches(method, path) {
			return true
		}
	}
	return false
}
