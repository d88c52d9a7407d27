package oauth

import (
	"net/url"
	"sort"
	"strings"
)

// Pair is one signable (name, value) argument. Value holds the
// percent-encoded form.
type Pair struct {
	Name  string
	Value string
}

// ParameterSet is the per-request view of the OAuth parameters: a decoded
// lookup map of oauth_* values and the ordered list of signable pairs.
type ParameterSet struct {
	OAuth map[string]string
	Pairs []Pair
}

// NewParameterSet returns an empty set.
func NewParameterSet() *ParameterSet {
	return &ParameterSet{OAuth: make(map[string]string)}
}

// Get returns the decoded value of an oauth_* parameter and whether it was sent.
func (p *ParameterSet) Get(name string) (string, bool) {
	v, ok := p.OAuth[name]
	return v, ok
}

// Add appends a signable pair. The value must already be percent-encoded.
func (p *ParameterSet) Add(name, encodedValue string) {
	p.Pairs = append(p.Pairs, Pair{Name: name, Value: encodedValue})
}

// IsOAuthHeader reports whether an Authorization header uses the OAuth scheme.
func IsOAuthHeader(h string) bool {
	return strings.HasPrefix(h, authScheme)
}

// CollectAuthorization adds the parameters of an `OAuth k1="v1", k2="v2"`
// header. Header values are percent-encoded on the wire, so they are stored as
// signable pairs verbatim and decoded for the lookup map. realm is skipped and
// oauth_signature is never signed. Malformed fragments are ignored.
func (p *ParameterSet) CollectAuthorization(header string) {
	if !IsOAuthHeader(header) {
		return
	}
	for _, part := range strings.Split(header[len(authScheme):], ",") {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || name == ParamRealm {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if name != ParamSignature {
			p.Add(name, value)
		}
		p.OAuth[name] = Decode(value)
	}
}

// Collect adds decoded request parameters such as a parsed query string or
// form body. Every parameter except realm and oauth_signature becomes one
// signable pair per value; oauth_* parameters are also recorded in the lookup
// map using their first value.
func (p *ParameterSet) Collect(values url.Values) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == ParamRealm {
			continue
		}
		vals := values[name]
		if name != ParamSignature {
			if len(vals) == 0 {
				p.Add(name, "")
			}
			for _, v := range vals {
				p.Add(name, Encode(v))
			}
		}
		if strings.HasPrefix(name, paramPrefix) && len(vals) > 0 {
			p.OAuth[name] = vals[0]
		}
	}
}
