package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/identity"
	"github.com/goodtune/tabtime/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, rawURL string) identity.Key {
	t.Helper()
	key, err := identity.Parse(rawURL)
	require.NoError(t, err)
	return key
}

func testConfig(engine string) config.PolicyConfig {
	return config.PolicyConfig{
		Engine:            engine,
		TrackableSchemes:  []string{"http", "HTTPS"},
		DenyHosts:         []string{"Intranet.example"},
		DecisionCacheSize: 16,
	}
}

func TestExcludes(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://a.test/x?q=1", false},
		{"http://a.test/", false},
		{"chrome://newtab/", true},
		{"about:blank", true},
		{"file:///tmp/a.html", true},
		{"https://intranet.example/wiki", true},
		{"https://docs.intranet.example/", true},
		{"https://notintranet.example/", false},
	}

	for _, engine := range []string{"builtin", "rego"} {
		t.Run(engine, func(t *testing.T) {
			e, err := New(testConfig(engine), testutil.Logger(t))
			require.NoError(t, err)

			for _, tt := range tests {
				assert.Equal(t, tt.want, e.Excludes(mustKey(t, tt.url)), tt.url)
			}
		})
	}
}

func TestDecisionCacheAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracking.rego")
	require.NoError(t, os.WriteFile(path, []byte("package tabtime.tracking\n\ndefault exclude := false\n"), 0644))

	cfg := testConfig("rego")
	cfg.OPAPolicyDir = dir
	e, err := New(cfg, testutil.Logger(t))
	require.NoError(t, err)

	key := mustKey(t, "https://a.test/")
	assert.False(t, e.Excludes(key))

	require.NoError(t, os.WriteFile(path, []byte("package tabtime.tracking\n\nexclude := true\n"), 0644))
	assert.False(t, e.Excludes(key), "cached decision survives until reload")

	require.NoError(t, e.Reload())
	assert.True(t, e.Excludes(key))
}

func TestEvaluationErrorFallsBackToBuiltin(t *testing.T) {
	dir := t.TempDir()
	// A non-boolean result is an evaluation error.
	policy := "package tabtime.tracking\n\nexclude := \"yes\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracking.rego"), []byte(policy), 0644))

	cfg := testConfig("rego")
	cfg.OPAPolicyDir = dir
	e, err := New(cfg, testutil.Logger(t))
	require.NoError(t, err)

	assert.False(t, e.Excludes(mustKey(t, "https://a.test/")))
	assert.True(t, e.Excludes(mustKey(t, "chrome://settings/")))
}
