package core

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	modules   = make(map[ModuleID]ModuleInfo)
	modulesMu sync.RWMutex
)

// RegisterModule adds a module to the compiled-in set. It panics on an
// invalid or duplicate ID, a nil constructor or a malformed requirement.
// Intended to be called from init() functions.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	switch {
	case info.ID == "":
		panic("module ID must not be empty")
	case !info.ID.valid():
		panic(fmt.Sprintf("module %q: ID must be <namespace>.<name>", info.ID))
	case info.New == nil:
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}
	for _, dep := range info.Requires {
		if !dep.valid() || dep == info.ID {
			panic(fmt.Sprintf("module %s: invalid requirement %q", info.ID, dep))
		}
	}

	modulesMu.Lock()
	defer modulesMu.Unlock()

	if _, exists := modules[info.ID]; exists {
		panic(fmt.Sprintf("module already registered: %s", info.ID))
	}
	modules[info.ID] = info
}

// GetModule returns the ModuleInfo for the given ID, or false if not found.
func GetModule(id string) (ModuleInfo, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	info, ok := modules[ModuleID(id)]
	return info, ok
}

// GetModules returns all registered modules sorted by ID.
func GetModules() []ModuleInfo {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	result := make([]ModuleInfo, 0, len(modules))
	for _, info := range modules {
		result = append(result, info)
	}
	slices.SortFunc(result, func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

// CheckSelection verifies that ids can be loaded together: every module
// is registered, its requirements are part of the selection, and no two
// modules provide the same service.
func CheckSelection(ids []string) error {
	selected := make(map[ModuleID]bool, len(ids))
	for _, id := range ids {
		selected[ModuleID(id)] = true
	}

	var errs []error
	providers := make(map[string][]string)
	for _, id := range ids {
		info, ok := GetModule(id)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown module %q", id))
			continue
		}
		for _, dep := range info.Requires {
			if !selected[dep] {
				errs = append(errs, fmt.Errorf("module %q requires module %q", id, dep))
			}
		}
		for _, svc := range info.Provides {
			providers[svc] = append(providers[svc], id)
		}
	}

	services := make([]string, 0, len(providers))
	for svc := range providers {
		services = append(services, svc)
	}
	slices.Sort(services)
	for _, svc := range services {
		if ids := providers[svc]; len(ids) > 1 {
			slices.Sort(ids)
			errs = append(errs, fmt.Errorf("modules %s are mutually exclusive: each provides %q",
				strings.Join(ids, ", "), svc))
		}
	}
	return errors.Join(errs...)
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules = make(map[ModuleID]ModuleInfo)
}
