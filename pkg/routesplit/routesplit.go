// Package routesplit implements the decision engine that routes an
// inbound request's path to either the legacy stack or the rust_shell
// lane: path normalization, control-prefix and API-authority
// short-circuits, domain overrides (expressed as CEL predicates over the
// normalized path), global flags, and salted cohort bucketing.
package routesplit

import (
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// Target is the destination a request is routed to.
type Target string

const (
	TargetLegacy    Target = "legacy"
	TargetRustShell Target = "rust_shell"
)

// Mode selects how rule 9/10 resolves once no earlier rule short-circuits.
type Mode string

const (
	ModeLegacy Mode = "legacy"
	ModeRust   Mode = "rust"
	ModeCohort Mode = "cohort"
)

const (
	codexWorkerControlPrefix = "/api/runtime/codex/workers"
	apiPrefix                = "/api"
)

// Reason is one of the stable short-circuit labels the engine emits.
type Reason string

const (
	ReasonCodexWorkerControlRustAuthority Reason = "codex_worker_control_rust_authority"
	ReasonAPIRustAuthority                Reason = "api_rust_authority"
	ReasonDomainOverride                  Reason = "domain_override"
	ReasonForceLegacy                     Reason = "force_legacy"
	ReasonRuntimeOverride                 Reason = "runtime_override"
	ReasonRouteSplitDisabled              Reason = "route_split_disabled"
	ReasonLegacyRouteDefault              Reason = "legacy_route_default"
	ReasonModeLegacy                      Reason = "mode_legacy"
	ReasonModeRust                        Reason = "mode_rust"
	ReasonModeCohort                      Reason = "mode_cohort"
)

// Decision is the outcome of evaluating a path, matching the
// RouteSplitDecision record.
type Decision struct {
	Path           string
	Target         Target
	Reason         Reason
	RouteDomain    string
	RollbackTarget Target
	CohortBucket   *int
	CohortKey      string
}

// RouteGroup names a fixed route-group and the CEL predicate (evaluated
// against a `path` string variable) used to recognize it.
type RouteGroup struct {
	Name  string
	Match string // CEL boolean expression over variable `path`
}

// Config is the engine's static configuration. Nil/zero-value fields are
// "unset": ForceLegacy defaults to off, OverrideTarget/DomainOverrides
// default to absent, CohortPercentage defaults to 0.
type Config struct {
	Enabled          bool
	Mode             Mode
	ForceLegacy      bool
	OverrideTarget   Target
	RustRoutes       []string // exact or prefix match, longest-prefix wins
	RouteGroups      []RouteGroup
	DomainOverrides  map[string]Target // route_domain -> target
	CohortSalt       string
	CohortPercentage int
}

// Engine evaluates routing decisions against a Config, compiling each
// RouteGroup's CEL predicate once at construction.
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	env    *cel.Env
	groups []compiledGroup
}

type compiledGroup struct {
	name string
	prg  cel.Program
}

// NewEngine compiles cfg's route groups and returns a ready Engine.
func NewEngine(cfg Config) (*Engine, error) {
	env, err := cel.NewEnv(cel.Variable("path", cel.StringType))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "routesplit: build CEL env")
	}

	e := &Engine{cfg: cfg, env: env}
	for _, g := range cfg.RouteGroups {
		ast, issues := env.Compile(g.Match)
		if issues != nil && issues.Err() != nil {
			return nil, errs.Wrap(errs.KindInvalidRequest, issues.Err(), "routesplit: compile route group "+g.Name)
		}
		prg, err := env.Program(ast, cel.InterruptCheckFrequency(100))
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidRequest, err, "routesplit: build program for route group "+g.Name)
		}
		e.groups = append(e.groups, compiledGroup{name: g.Name, prg: prg})
	}
	return e, nil
}

// Reconfigure swaps the engine's live config and recompiled route
// groups, for runtime config reloads.
func (e *Engine) Reconfigure(cfg Config) error {
	fresh, err := NewEngine(cfg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = fresh.cfg
	e.groups = fresh.groups
	return nil
}

// Evaluate routes path, short-circuiting through rules 1-10 in order.
func (e *Engine) Evaluate(path, cohortKey string) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	normalized := normalizePath(path)
	domain := e.matchRouteGroup(strings.ToLower(normalized))

	// Codex worker control and /api paths ignore every override.
	if normalized == codexWorkerControlPrefix || strings.HasPrefix(normalized, codexWorkerControlPrefix+"/") {
		return Decision{Path: normalized, Target: TargetRustShell, Reason: ReasonCodexWorkerControlRustAuthority, RouteDomain: domain, RollbackTarget: TargetRustShell, CohortKey: cohortKey}
	}
	if normalized == apiPrefix || strings.HasPrefix(normalized, apiPrefix+"/") {
		return Decision{Path: normalized, Target: TargetRustShell, Reason: ReasonAPIRustAuthority, RouteDomain: domain, RollbackTarget: TargetRustShell, CohortKey: cohortKey}
	}

	if domain != "" {
		if target, ok := e.cfg.DomainOverrides[domain]; ok {
			return Decision{Path: normalized, Target: target, Reason: ReasonDomainOverride, RouteDomain: domain, RollbackTarget: target, CohortKey: cohortKey}
		}
	}

	if e.cfg.ForceLegacy {
		return Decision{Path: normalized, Target: TargetLegacy, Reason: ReasonForceLegacy, RouteDomain: domain, RollbackTarget: TargetLegacy, CohortKey: cohortKey}
	}

	if e.cfg.OverrideTarget != "" {
		return Decision{Path: normalized, Target: e.cfg.OverrideTarget, Reason: ReasonRuntimeOverride, RouteDomain: domain, RollbackTarget: e.cfg.OverrideTarget, CohortKey: cohortKey}
	}

	if !e.cfg.Enabled {
		return Decision{Path: normalized, Target: TargetLegacy, Reason: ReasonRouteSplitDisabled, RouteDomain: domain, RollbackTarget: TargetLegacy, CohortKey: cohortKey}
	}

	if !e.inRustRoutes(normalized) {
		return Decision{Path: normalized, Target: TargetLegacy, Reason: ReasonLegacyRouteDefault, RouteDomain: domain, RollbackTarget: TargetLegacy, CohortKey: cohortKey}
	}

	switch e.cfg.Mode {
	case ModeLegacy:
		return Decision{Path: normalized, Target: TargetLegacy, Reason: ReasonModeLegacy, RouteDomain: domain, RollbackTarget: TargetLegacy, CohortKey: cohortKey}
	case ModeRust:
		return Decision{Path: normalized, Target: TargetRustShell, Reason: ReasonModeRust, RouteDomain: domain, RollbackTarget: TargetRustShell, CohortKey: cohortKey}
	case ModeCohort:
		bucket := stableBucket(cohortKey, e.cfg.CohortSalt)
		target := TargetLegacy
		if bucket < e.cfg.CohortPercentage {
			target = TargetRustShell
		}
		return Decision{Path: normalized, Target: target, Reason: ReasonModeCohort, RouteDomain: domain, RollbackTarget: TargetLegacy, CohortBucket: &bucket, CohortKey: cohortKey}
	default:
		return Decision{Path: normalized, Target: TargetLegacy, Reason: ReasonModeLegacy, RouteDomain: domain, RollbackTarget: TargetLegacy, CohortKey: cohortKey}
	}
}

func (e *Engine) matchRouteGroup(path string) string {
	for _, g := range e.groups {
		out, _, err := g.prg.Eval(map[string]any{"path": path})
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return g.name
		}
	}
	return ""
}

func (e *Engine) inRustRoutes(path string) bool {
	longestMatch := -1
	for _, route := range e.cfg.RustRoutes {
		if path == route || strings.HasPrefix(path, route+"/") {
			if len(route) > longestMatch {
				longestMatch = len(route)
			}
		}
	}
	return longestMatch >= 0
}

// normalizePath collapses repeated slashes and strips a trailing slash
// (except for the root path itself). The domain-group lookup is
// case-insensitive, but the normalized path returned in the decision
// keeps its original case.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	var b strings.Builder
	b.Grow(len(path))
	lastWasSlash := false
	for _, r := range path {
		if r == '/' {
			if lastWasSlash {
				continue
			}
			lastWasSlash = true
		} else {
			lastWasSlash = false
		}
		b.WriteRune(r)
	}
	normalized := b.String()
	if len(normalized) > 1 && strings.HasSuffix(normalized, "/") {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}
