package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthproxy/oauthproxy/app/oauth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "oauthproxyctl version dev\n", out)
}

func TestKeygenWritesSecret(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "keygen", dir, "client", "--secret", "s3cr3t=")
	require.NoError(t, err)
	assert.Equal(t, "client s3cr3t=\n", out)

	b, err := os.ReadFile(filepath.Join(dir, "client"))
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t=\n", string(b))

	fi, err := os.Stat(filepath.Join(dir, "client"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestKeygenRandomSecret(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "keygen", dir, "client")
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	assert.Len(t, fields[1], 36)
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "keygen", dir, "client", "--secret", "one")
	require.NoError(t, err)

	_, err = execute(t, "keygen", dir, "client", "--secret", "two")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "keygen", dir, "client", "--secret", "two", "--force")
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "client"))
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(b))
}

func TestKeygenRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	for _, args := range [][]string{
		{"keygen", dir, ".hidden", "--secret", "x"},
		{"keygen", dir, "a/b", "--secret", "x"},
		{"keygen", dir, "client", "--secret", "has space"},
		{"keygen", filepath.Join(dir, "missing"), "client", "--secret", "x"},
	} {
		_, err := execute(t, args...)
		assert.Error(t, err, "%v", args)
	}
}

func TestCheckReportsEveryFile(t *testing.T) {
	dir := t.TempDir()
	secrets := t.TempDir()
	good := fmt.Sprintf(`{"service_name": "jobs", "from_port": 8000, "to_port": 8080, "oauth_secret_dir": %q}`, secrets)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobs.json"), []byte(good), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"service_name": "x"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.json"), []byte(`nope`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`nope`), 0o644))

	out, err := execute(t, "check", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 configuration files are invalid")
	assert.Contains(t, out, "jobs.json")
	assert.Contains(t, out, "broken.json")
	assert.Contains(t, out, "ok")
	assert.NotContains(t, out, ".hidden.json")
	assert.NotContains(t, out, "notes.txt")
}

func TestCheckAllValid(t *testing.T) {
	dir := t.TempDir()
	good := fmt.Sprintf(`{"service_name": "jobs", "from_port": 8000, "to_port": 8080, "oauth_secret_dir": %q}`, t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobs.json"), []byte(good), 0o644))

	out, err := execute(t, "check", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "jobs")
	assert.Contains(t, out, "8080")
}

func TestSignVerifies(t *testing.T) {
	out, err := execute(t, "sign", "--key", "client", "--secret", "s3cr3t",
		"-X", "post", "-d", "a=1&b=two", "https://api.example.com/v1/jobs?x=y")
	require.NoError(t, err)
	header := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(header, "OAuth "))

	r := httptest.NewRequest("POST", "https://api.example.com/v1/jobs?x=y", strings.NewReader("a=1&b=two"))
	params := oauth.NewParameterSet()
	params.CollectAuthorization(header)
	params.Collect(r.URL.Query())
	params.Collect(url.Values{"a": {"1"}, "b": {"two"}})

	key, _ := params.Get(oauth.ParamConsumerKey)
	assert.Equal(t, "client", key)
	sig, ok := params.Get(oauth.ParamSignature)
	require.True(t, ok)
	assert.True(t, oauth.Verify(oauth.CandidateBases(r, params.Pairs), oauth.Encode("s3cr3t"), sig))
}

func TestSignSecretFileAndCurl(t *testing.T) {
	file := filepath.Join(t.TempDir(), "client")
	require.NoError(t, os.WriteFile(file, []byte("s3cr3t\n"), 0o600))

	out, err := execute(t, "sign", "--key", "client", "--secret-file", file, "--curl", "http://localhost:8000/ping")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "curl -X GET -H 'Authorization: OAuth "))
	assert.True(t, strings.HasSuffix(out, " 'http://localhost:8000/ping'\n"))
}

func TestSignRequiresCredentials(t *testing.T) {
	_, err := execute(t, "sign", "--secret", "x", "http://localhost/")
	assert.Error(t, err)
	_, err = execute(t, "sign", "--key", "x", "http://localhost/")
	assert.Error(t, err)
	_, err = execute(t, "sign", "--key", "x", "--secret", "y", "/relative")
	assert.Error(t, err)
}
