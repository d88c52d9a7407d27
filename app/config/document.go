package config

import (
	"fmt"

	yaml "gopkg.in/yaml.v3"

	"github.com/oauthproxy/oauthproxy/app/numparse"
)

// Number keeps a scalar exactly as written so validation can tell missing,
// non-numeric and out-of-range values apart.
type Number string

func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*n = ""
		return nil
	}
	*n = Number(node.Value)
	return nil
}

// Missing reports whether the value is absent, empty or zero.
func (n Number) Missing() bool { return n == "" || n == "0" }

// Int parses the leading integer of the value, ignoring any fraction or
// trailing text. A value with no leading digits is an error.
func (n Number) Int() (int, error) {
	v, err := numparse.Leading(string(n))
	if err != nil {
		return 0, err
	}
	if int64(int(v)) != v {
		return 0, fmt.Errorf("%q is out of range", string(n))
	}
	return int(v), nil
}

// MethodSet accepts either a single method or a list of methods. An absent
// or empty scalar decodes to nil (any method); an explicit empty list stays
// non-nil and allows no method.
type MethodSet []string

func (m *MethodSet) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			*m = nil
			return nil
		}
		*m = MethodSet{node.Value}
		return nil
	case yaml.SequenceNode:
		list := []string{}
		if err := node.Decode(&list); err != nil {
			return err
		}
		*m = list
		return nil
	default:
		return fmt.Errorf("line %d: methods must be a string or a list of strings", node.Line)
	}
}

// WhitelistRule is one path rule as written in a config file.
type WhitelistRule struct {
	Path    string    `yaml:"path"`
	Methods MethodSet `yaml:"methods"`
}

// WhitelistDoc accepts the legacy list form `[{path, methods}]` and the object
// form `{paths: [...], methods: ...}`.
type WhitelistDoc struct {
	Paths   []WhitelistRule `yaml:"paths"`
	Methods MethodSet       `yaml:"methods"`
}

func (w *WhitelistDoc) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		return node.Decode(&w.Paths)
	case yaml.MappingNode:
		type plain WhitelistDoc
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*w = WhitelistDoc(p)
		return nil
	default:
		return fmt.Errorf("line %d: whitelist must be a list or an object", node.Line)
	}
}

// HTTPSDoc names the TLS material for a listener.
type HTTPSDoc struct {
	Key  string `yaml:"key"`
	Cert string `yaml:"cert"`
}

// QuotasDoc is the quota section as written. Interval is in seconds.
type QuotasDoc struct {
	Interval         Number            `yaml:"interval"`
	DefaultThreshold Number            `yaml:"default_threshold"`
	Thresholds       map[string]Number `yaml:"thresholds"`
	RedisAddr        string            `yaml:"redis_addr"`
}

// Document is one proxy configuration file before validation.
type Document struct {
	ServiceName        string        `yaml:"service_name"`
	Mode               string        `yaml:"mode"`
	FromPort           Number        `yaml:"from_port"`
	ToPort             Number        `yaml:"to_port"`
	TargetHost         string        `yaml:"target_host"`
	OAuthSecretDir     string        `yaml:"oauth_secret_dir"`
	RequiredURIs       []string      `yaml:"required_uris"`
	RequiredHosts      []string      `yaml:"required_hosts"`
	HTTPS              *HTTPSDoc     `yaml:"https"`
	HTTP3              bool          `yaml:"http3"`
	ToPortIsHTTPS      bool          `yaml:"to_port_is_https"`
	ValidateTargetCert bool          `yaml:"validate_target_cert"`
	Quotas             *QuotasDoc    `yaml:"quotas"`
	Whitelist          *WhitelistDoc `yaml:"whitelist"`
	BackendTimeout     string        `yaml:"backend_timeout"`
}

func (d *Document) mode() Mode {
	if d.Mode == string(ForwardProxy) {
		return ForwardProxy
	}
	return ReverseProxy
}
