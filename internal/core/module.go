package core

import "strings"

// ModuleID is a dotted module identifier such as "store.sqlite". The part
// before the first dot is the module's namespace.
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// valid reports whether id has a non-empty namespace and name.
func (id ModuleID) valid() bool {
	ns, name, ok := strings.Cut(string(id), ".")
	return ok && ns != "" && name != "" && !strings.ContainsAny(string(id), " \t\n")
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID ModuleID
	// New returns a fresh, unconfigured instance.
	New func() Module

	// Requires lists the modules that must be configured alongside this
	// one because it consumes their services.
	Requires []ModuleID
	// Provides names the services the module registers. Two modules
	// providing the same service cannot be loaded together.
	Provides []string
}

// Module is implemented by every pluggable component. Optional lifecycle
// hooks are expressed through Configurable, Provisioner, Validator,
// Starter and Stopper.
type Module interface {
	ModuleInfo() ModuleInfo
}
