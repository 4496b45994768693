package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// A module opts into each lifecycle step by implementing the matching
// interface. LoadModule runs Configure, Provision and Validate in that
// order; App.Start and App.Stop run the rest.

// Configurable receives the module's section of tabkeeper.yaml. It is
// skipped when the section is absent, so defaults belong in Provision.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner opens resources and publishes services. Services from
// modules in earlier tiers (stores, gateway backends) are already
// registered when Provision runs.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator checks the provisioned module, for example by pinging its
// database. It must not change state.
type Validator interface {
	Validate() error
}

// Starter launches background work such as listeners and schedulers.
type Starter interface {
	Start() error
}

// Stopper releases resources. Modules are stopped in reverse load order,
// including those without a Start hook.
type Stopper interface {
	Stop(ctx context.Context) error
}
