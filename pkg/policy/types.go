package policy

import (
	"fmt"
	"sort"

	"github.com/contractflow/contractflow/pkg/workflow"
)

// Wildcard grants every capability.
const Wildcard = "*"

// Role is a named set of capabilities.
type Role struct {
	// Description is free text shown by the CLI.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Capabilities lists the granted capabilities, e.g. "approval:legal:act".
	Capabilities []string `json:"capabilities" yaml:"capabilities"`

	// Head marks roles that may act on escalated tracks.
	Head bool `json:"head,omitempty" yaml:"head,omitempty"`
}

// Bindings maps actors to roles. It is the data document the Rego policy
// evaluates against.
type Bindings struct {
	Roles    map[string]Role     `json:"roles" yaml:"roles"`
	Bindings map[string][]string `json:"bindings" yaml:"bindings"`
}

// Validate checks that every bound role is defined and every capability is known.
func (b *Bindings) Validate() error {
	if len(b.Roles) == 0 {
		return fmt.Errorf("at least one role must be defined")
	}

	known := make(map[string]bool)
	for _, c := range workflow.AllCapabilities() {
		known[string(c)] = true
	}

	for name, role := range b.Roles {
		for _, c := range role.Capabilities {
			if c != Wildcard && !known[c] {
				return fmt.Errorf("role %q: unknown capability %q", name, c)
			}
		}
	}

	for actor, roles := range b.Bindings {
		if actor == "" {
			return fmt.Errorf("binding with empty actor id")
		}
		for _, r := range roles {
			if _, ok := b.Roles[r]; !ok {
				return fmt.Errorf("actor %q: undefined role %q", actor, r)
			}
		}
	}

	return nil
}

// RolesOf returns the sorted role names bound to actorID.
func (b *Bindings) RolesOf(actorID string) []string {
	roles := append([]string(nil), b.Bindings[actorID]...)
	sort.Strings(roles)
	return roles
}

// Actors returns the sorted list of bound actors.
func (b *Bindings) Actors() []string {
	actors := make([]string, 0, len(b.Bindings))
	for a := range b.Bindings {
		actors = append(actors, a)
	}
	sort.Strings(actors)
	return actors
}

// Decision records one capability check for logging and the CLI.
type Decision struct {
	Actor      string              `json:"actor"`
	Capability workflow.Capability `json:"capability"`
	Scope      workflow.Scope      `json:"scope"`
	Allowed    bool                `json:"allowed"`
}
