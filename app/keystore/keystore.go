// Package keystore holds the consumer key/secret pairs of one proxy. Each
// regular, non-hidden file in the secret directory is a credential: the file
// name is the consumer key and its trimmed contents the consumer secret.
package keystore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/oauthproxy/oauthproxy/app/oauth"
	"github.com/oauthproxy/oauthproxy/app/watch"
)

var validSecret = regexp.MustCompile(`^[-_.=a-zA-Z0-9]+$`)

// ValidSecret reports whether s may be used as a consumer secret.
func ValidSecret(s string) bool { return validSecret.MatchString(s) }

// Thresholds assigns per-interval request quotas to keys. Zero means no quota.
type Thresholds struct {
	Default int
	PerKey  map[string]int
}

func (t Thresholds) forKey(key string) int {
	if n, ok := t.PerKey[key]; ok {
		return n
	}
	return t.Default
}

// Credential is one consumer key. Secret is stored percent-encoded, the form
// used in the HMAC signing key.
type Credential struct {
	Key       string
	Secret    string
	Threshold int

	hits atomic.Int64
}

// Hit records a request and returns the count for the current interval.
func (c *Credential) Hit() int64 { return c.hits.Add(1) }

// Hits returns the count for the current interval.
func (c *Credential) Hits() int64 { return c.hits.Load() }

// Reset zeroes the counter and returns the count it held.
func (c *Credential) Reset() int64 { return c.hits.Swap(0) }

// Store is safe for concurrent use. Readers always see a complete table: a
// load builds a new table and publishes it with a single pointer swap.
type Store struct {
	dir        string
	thresholds Thresholds
	logger     *slog.Logger

	// QuietPeriod is how long Watch waits after a change before reloading.
	QuietPeriod time.Duration

	loadMu sync.Mutex
	table  atomic.Pointer[map[string]*Credential]
}

// New returns an empty store for dir. Call Load to populate it.
func New(dir string, thresholds Thresholds, logger *slog.Logger) *Store {
	s := &Store{
		dir:         dir,
		thresholds:  thresholds,
		logger:      logger.With("dir", dir),
		QuietPeriod: watch.DefaultQuietPeriod,
	}
	empty := make(map[string]*Credential)
	s.table.Store(&empty)
	return s
}

// Dir returns the secret directory.
func (s *Store) Dir() string { return s.dir }

// Load rescans the secret directory and replaces the table. Unreadable or
// invalid key files are logged and skipped. If the directory itself cannot be
// read the previous table stays in place and the error is returned.
func (s *Store) Load() error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("failed to read key directory", "error", err)
		return fmt.Errorf("failed to read key directory %s: %w", s.dir, err)
	}

	next := make(map[string]*Credential, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		secret, err := s.readSecret(name)
		if err != nil {
			s.logger.Warn("skipping key file", "key", name, "error", err)
			continue
		}
		next[name] = &Credential{
			Key:       name,
			Secret:    oauth.Encode(secret),
			Threshold: s.thresholds.forKey(name),
		}
	}

	for key := range *s.table.Load() {
		if _, ok := next[key]; !ok {
			s.logger.Info("deleting key", "key", key)
		}
	}
	s.table.Store(&next)
	s.logger.Info("loaded keys", "count", len(next))
	return nil
}

func (s *Store) readSecret(name string) (string, error) {
	path, err := securejoin.SecureJoin(s.dir, name)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	if !ValidSecret(secret) {
		return "", fmt.Errorf("invalid consumer secret pattern")
	}
	return secret, nil
}

// Lookup returns the credential for key.
func (s *Store) Lookup(key string) (*Credential, bool) {
	c, ok := (*s.table.Load())[key]
	return c, ok
}

// Len returns the number of loaded keys.
func (s *Store) Len() int { return len(*s.table.Load()) }

// Each calls fn for every credential in the current table.
func (s *Store) Each(fn func(*Credential)) {
	for _, c := range *s.table.Load() {
		fn(c)
	}
}

// Watch reloads the store after changes to the secret directory until ctx is
// done. Bursts of events within QuietPeriod cause a single reload.
func (s *Store) Watch(ctx context.Context) error {
	s.logger.Info("setting up watcher for key directory")
	return watch.Dir(ctx, s.dir, s.QuietPeriod, s.logger, func() {
		if err := s.Load(); err != nil {
			s.logger.Error("failed to reload keys", "error", err)
			return
		}
		s.logger.Info("reloaded keys due to change")
	})
}
