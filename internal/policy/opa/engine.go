package opa

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// Query is the rule every tracking policy must define.
const Query = "data.tabtime.tracking.exclude"

//go:embed default.rego
var defaultPolicy string

// Engine wraps OPA rego engine for exclusion decisions
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu      sync.RWMutex
	query   rego.PreparedEvalQuery
	modules map[string]*ast.Module
}

// NewEngine creates a new OPA engine. An empty policyDir loads the
// embedded default policy.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	if err := e.load(); err != nil {
		return nil, err
	}

	source := policyDir
	if source == "" {
		source = "embedded"
	}
	e.logger.Info().Str("policy_dir", source).Msg("OPA engine initialized")

	return e, nil
}

func (e *Engine) load() error {
	modules, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	query, err := prepareQuery(modules)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.modules = modules
	e.query = query
	e.mu.Unlock()

	return nil
}

// loadPolicies parses every .rego file in the policy directory, or the
// embedded default when no directory is configured.
func (e *Engine) loadPolicies() (map[string]*ast.Module, error) {
	modules := make(map[string]*ast.Module)

	if e.policyDir == "" {
		module, err := ast.ParseModule("default.rego", defaultPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedded policy: %w", err)
		}
		modules["default.rego"] = module
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.policyDir)
	}

	e.logger.Info().Int("count", len(files)).Msg("Loading policy files")

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}

		modules[file] = module
		e.logger.Debug().Str("file", file).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return modules, nil
}

func prepareQuery(modules map[string]*ast.Module) (rego.PreparedEvalQuery, error) {
	opts := make([]func(*rego.Rego), 0, len(modules)+1)
	opts = append(opts, rego.Query(Query))
	for _, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare exclusion query: %w", err)
	}
	return query, nil
}

// Evaluate reports whether the policy excludes the resource described by
// input.
func (e *Engine) Evaluate(ctx context.Context, input map[string]any) (bool, error) {
	startTime := time.Now()

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("exclusion query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Msg("Exclusion query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, fmt.Errorf("no results from exclusion query")
	}

	exclude, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("exclusion result is not a boolean: %T", results[0].Expressions[0].Value)
	}

	return exclude, nil
}

// Reload reloads all policies from disk. The previous policy stays in
// effect when the new one fails to load.
func (e *Engine) Reload() error {
	e.logger.Info().Msg("Reloading OPA policies")

	if err := e.load(); err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	e.logger.Info().Msg("OPA policies reloaded successfully")
	return nil
}
