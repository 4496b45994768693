package config

import (
	"cmp"
	"slices"
	"strings"

	"github.com/flemzord/tabkeeper/internal/core"
)

// tiers orders module namespaces so that providers of a service are
// provisioned before its consumers.
var tiers = map[string]int{
	"telemetry": 0,
	"store":     1,
	"paygate":   2,
	"payment":   3,
	"mcp":       4,
	"api":       5,
}

func tierOf(id string) int {
	if t, ok := tiers[core.ModuleID(id).Namespace()]; ok {
		return t
	}
	return len(tiers)
}

// Resolve returns the module IDs of the configuration in load order:
// by dependency tier, then by ID. The deterministic order ensures
// consistent module loading.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(tierOf(a), tierOf(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return ids
}
