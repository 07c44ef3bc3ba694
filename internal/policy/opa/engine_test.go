package opa

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input(scheme, hostname string, denyHosts ...string) map[string]any {
	deny := make([]any, 0, len(denyHosts))
	for _, h := range denyHosts {
		deny = append(deny, h)
	}
	return map[string]any{
		"url":               scheme + "://" + hostname + "/",
		"scheme":            scheme,
		"hostname":          hostname,
		"path":              "/",
		"trackable_schemes": []any{"http", "https"},
		"deny_hosts":        deny,
	}
}

func TestDefaultPolicy(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		name  string
		input map[string]any
		want  bool
	}{
		{"https tracked", input("https", "a.test"), false},
		{"http tracked", input("http", "a.test"), false},
		{"browser scheme excluded", input("chrome", "newtab"), true},
		{"empty hostname excluded", input("https", ""), true},
		{"denied host excluded", input("https", "a.test", "a.test"), true},
		{"denied parent excludes subdomain", input("https", "mail.a.test", "A.test"), true},
		{"suffix without dot is not a subdomain", input("https", "bba.test", "a.test"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Evaluate(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicyDirAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracking.rego")
	writePolicy := func(body string) {
		t.Helper()
		require.NoError(t, os.WriteFile(path, []byte("package tabtime.tracking\n\n"+body), 0644))
	}

	writePolicy("default exclude := false\n")
	engine, err := NewEngine(dir, zerolog.Nop())
	require.NoError(t, err)

	got, err := engine.Evaluate(context.Background(), input("chrome", "newtab"))
	require.NoError(t, err)
	assert.False(t, got)

	writePolicy("exclude := true\n")
	require.NoError(t, engine.Reload())

	got, err = engine.Evaluate(context.Background(), input("https", "a.test"))
	require.NoError(t, err)
	assert.True(t, got)

	// A broken policy leaves the loaded one in place.
	writePolicy("exclude := \n")
	require.Error(t, engine.Reload())

	got, err = engine.Evaluate(context.Background(), input("https", "a.test"))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEmptyPolicyDir(t *testing.T) {
	_, err := NewEngine(t.TempDir(), zerolog.Nop())
	require.Error(t, err)
}

func TestReloadThreadSafety(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := engine.Evaluate(ctx, input("https", "a.test")); err != nil {
					t.Errorf("evaluate: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, engine.Reload())
	}

	wg.Wait()
}
