// Package policy decides which resources are excluded from time accounting.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/identity"
	"github.com/goodtune/tabtime/internal/policy/opa"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const evalTimeout = 250 * time.Millisecond

// Engine answers exclusion questions for resource keys. Decisions are cached
// per key until the next Reload.
type Engine struct {
	schemes   []string
	denyHosts []string

	opa    *opa.Engine
	cache  *lru.Cache[string, bool]
	logger zerolog.Logger
}

// New builds an Engine from the policy configuration.
func New(cfg config.PolicyConfig, logger zerolog.Logger) (*Engine, error) {
	cache, err := lru.New[string, bool](cfg.DecisionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create decision cache: %w", err)
	}

	e := &Engine{
		schemes:   lowerAll(cfg.TrackableSchemes),
		denyHosts: lowerAll(cfg.DenyHosts),
		cache:     cache,
		logger:    logger.With().Str("component", "policy").Logger(),
	}

	if cfg.Engine == "rego" {
		e.opa, err = opa.NewEngine(cfg.OPAPolicyDir, logger)
		if err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Excludes reports whether resources showing key must not be tracked.
func (e *Engine) Excludes(key identity.Key) bool {
	cacheKey := key.String()
	if exclude, ok := e.cache.Get(cacheKey); ok {
		return exclude
	}

	exclude := e.decide(key)
	e.cache.Add(cacheKey, exclude)
	return exclude
}

func (e *Engine) decide(key identity.Key) bool {
	if e.opa == nil {
		return e.builtin(key)
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	exclude, err := e.opa.Evaluate(ctx, e.input(key))
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key.String()).Msg("Policy evaluation failed, using built-in rules")
		return e.builtin(key)
	}
	return exclude
}

func (e *Engine) input(key identity.Key) map[string]any {
	return map[string]any{
		"url":               key.String(),
		"scheme":            key.Scheme,
		"hostname":          key.Hostname,
		"path":              key.Path,
		"trackable_schemes": e.schemes,
		"deny_hosts":        e.denyHosts,
	}
}

// builtin applies the rules of the embedded default policy without OPA.
func (e *Engine) builtin(key identity.Key) bool {
	if key.Hostname == "" {
		return true
	}

	trackable := false
	for _, scheme := range e.schemes {
		if key.Scheme == scheme {
			trackable = true
			break
		}
	}
	if !trackable {
		return true
	}

	for _, host := range e.denyHosts {
		if key.Hostname == host || strings.HasSuffix(key.Hostname, "."+host) {
			return true
		}
	}
	return false
}

// Reload re-reads the Rego policies and drops cached decisions.
func (e *Engine) Reload() error {
	if e.opa != nil {
		if err := e.opa.Reload(); err != nil {
			return err
		}
	}
	e.cache.Purge()
	e.logger.Info().Msg("Policy reloaded")
	return nil
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(strings.TrimSpace(v)))
	}
	return out
}
