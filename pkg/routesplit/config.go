package routesplit

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of the route-split domain/override
// matrix, loaded once at startup and on config reload.
type fileConfig struct {
	Enabled          bool                `yaml:"enabled"`
	Mode             string              `yaml:"mode"`
	ForceLegacy      bool                `yaml:"force_legacy"`
	OverrideTarget   string              `yaml:"override_target,omitempty"`
	RustRoutes       []string            `yaml:"rust_routes"`
	RouteGroups      []fileRouteGroup    `yaml:"route_groups,omitempty"`
	DomainOverrides  []fileDomainOverride `yaml:"domain_overrides,omitempty"`
	CohortSalt       string              `yaml:"cohort_salt,omitempty"`
	CohortPercentage int                 `yaml:"cohort_percentage,omitempty"`
}

type fileRouteGroup struct {
	Name  string `yaml:"name"`
	Match string `yaml:"match"`
}

// fileDomainOverride targets a route group either with a flat target or,
// when Expr is set, a CEL boolean expression over `path`. An expression
// override becomes its own route group named RouteDomain (see toConfig),
// so it narrows where Target applies only when RouteDomain does not also
// name a configured route group.
type fileDomainOverride struct {
	RouteDomain string `yaml:"route_domain"`
	Target      string `yaml:"target"`
	Expr        string `yaml:"expr,omitempty"`
}

// LoadConfigFile reads and parses a route-split domain/override matrix
// from a YAML file.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("routesplit: read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("routesplit: parse config %s: %w", path, err)
	}
	return fc.toConfig(), nil
}

func (fc fileConfig) toConfig() Config {
	cfg := Config{
		Enabled:          fc.Enabled,
		Mode:             Mode(fc.Mode),
		ForceLegacy:      fc.ForceLegacy,
		OverrideTarget:   Target(fc.OverrideTarget),
		RustRoutes:       fc.RustRoutes,
		CohortSalt:       fc.CohortSalt,
		CohortPercentage: fc.CohortPercentage,
		DomainOverrides:  map[string]Target{},
	}
	for _, g := range fc.RouteGroups {
		cfg.RouteGroups = append(cfg.RouteGroups, RouteGroup{Name: g.Name, Match: g.Match})
	}
	for _, o := range fc.DomainOverrides {
		if o.Expr == "" {
			cfg.DomainOverrides[o.RouteDomain] = Target(o.Target)
			continue
		}
		// An expression-gated override is modeled as its own synthetic
		// route group whose predicate is the override's expression alone,
		// appended after the configured groups, so Evaluate's existing
		// domain-override lookup applies unchanged. When RouteDomain also
		// names a configured group, that group matches first and Target
		// applies to every path it matches; the expression does not
		// narrow it.
		cfg.RouteGroups = append(cfg.RouteGroups, RouteGroup{
			Name:  o.RouteDomain,
			Match: o.Expr,
		})
		cfg.DomainOverrides[o.RouteDomain] = Target(o.Target)
	}
	return cfg
}
