package config

import (
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/oauthproxy/oauthproxy/app/whitelist"
)

// Invalid returns the first reason the document cannot run as a proxy, or ""
// if it is valid.
func (d *Document) Invalid() string {
	reverse := d.mode() == ReverseProxy

	if d.ServiceName == "" {
		return "proxy configuration lacks service_name"
	}
	if d.FromPort.Missing() {
		return "proxy configuration lacks from_port"
	}
	if d.ToPort.Missing() && reverse {
		return "proxy configuration lacks to_port"
	}
	if !d.ToPort.Missing() && !reverse {
		return "proxy configuration has a to_port and shouldn't"
	}
	if d.FromPort == d.ToPort {
		return "from_port and to_port can not be identical"
	}

	if q := d.Quotas; q != nil {
		if q.Interval != "" {
			n, err := q.Interval.Int()
			if err != nil {
				return "quotas.interval must be a number"
			}
			if n < 1 {
				return "minimum quotas.interval is 1 second"
			}
		}
		if q.DefaultThreshold != "" {
			n, err := q.DefaultThreshold.Int()
			if err != nil {
				return "quotas.default_threshold must be a number"
			}
			if n <= 0 {
				return "quotas.default_threshold must be positive"
			}
		}
		keys := make([]string, 0, len(q.Thresholds))
		for k := range q.Thresholds {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			n, err := q.Thresholds[k].Int()
			if err != nil {
				return k + " quota threshold must be a number"
			}
			if n <= 0 {
				return k + " quota threshold must be positive"
			}
		}
	}

	if h := d.HTTPS; h != nil {
		if h.Key == "" {
			return "no ssl key file provided"
		}
		if _, err := os.Stat(h.Key); err != nil {
			return "https key file " + h.Key + " does not exist"
		}
		if h.Cert == "" {
			return "no ssl cert file provided"
		}
		if _, err := os.Stat(h.Cert); err != nil {
			return "https cert file " + h.Cert + " does not exist"
		}
	}

	from, err := d.FromPort.Int()
	if err != nil {
		return "from_port must be a number"
	}
	if from < 1 || from > 65535 {
		return "from_port must be a valid port number"
	}
	if reverse {
		to, err := d.ToPort.Int()
		if err != nil {
			return "to_port must be a number"
		}
		if to < 1 || to > 65535 {
			return "to_port must be a valid port number"
		}
	}

	if d.OAuthSecretDir == "" {
		return "proxy configuration lacks oauth_secret_dir"
	}
	if !readableDir(d.OAuthSecretDir) {
		return "oauth_secret_dir " + d.OAuthSecretDir + " is not a readable directory"
	}

	if d.HTTP3 && d.HTTPS == nil {
		return "http3 requires https"
	}
	if d.BackendTimeout != "" {
		if t, err := time.ParseDuration(d.BackendTimeout); err != nil || t <= 0 {
			return "backend_timeout must be a positive duration"
		}
	}
	if w := d.Whitelist; w != nil {
		for _, r := range w.Paths {
			if r.Path == "" {
				continue
			}
			if _, err := whitelist.Compile(r.Path); err != nil {
				return fmt.Sprintf("whitelist path %q is not a valid pattern", r.Path)
			}
		}
	}
	return ""
}

func readableDir(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil || !fi.IsDir() {
		return false
	}
	if _, err := f.Readdirnames(1); err != nil && err != io.EOF {
		return false
	}
	return true
}
