package policy

// DefaultModule is the Rego policy evaluated for every capability check.
// data.bindings maps actors to role names and data.roles holds the role
// definitions. A check scoped to the HEAD tier also requires a head role.
const DefaultModule = `package contractflow.authz

default allow := false

tier := object.get(input, ["scope", "actor_role"], "")

actor_roles contains role if {
	some role in data.bindings[input.actor]
	data.roles[role]
}

grants(role) if {
	input.capability in data.roles[role].capabilities
}

grants(role) if {
	"*" in data.roles[role].capabilities
}

allow if {
	tier != "HEAD"
	some role in actor_roles
	grants(role)
}

allow if {
	tier == "HEAD"
	some role in actor_roles
	data.roles[role].head == true
	grants(role)
}
`

// DefaultQuery is the decision the engine asks for.
const DefaultQuery = "data.contractflow.authz.allow"

// DefaultBindings returns the role catalogue used when no bindings file is
// configured. It defines the standard roles but binds no actors.
func DefaultBindings() *Bindings {
	return &Bindings{
		Roles: map[string]Role{
			"contract_manager": {
				Description:  "Drafts, submits, sends and cancels contracts",
				Capabilities: []string{"contract:create", "contract:send", "contract:cancel"},
			},
			"legal_manager": {
				Description:  "Decides legal tracks and escalates them",
				Capabilities: []string{"approval:legal:act", "approval:legal:escalate"},
			},
			"legal_head": {
				Description:  "Decides escalated legal tracks",
				Capabilities: []string{"approval:legal:act"},
				Head:         true,
			},
			"finance_manager": {
				Description:  "Decides finance tracks",
				Capabilities: []string{"approval:finance:act"},
			},
			"admin": {
				Description:  "Holds every capability",
				Capabilities: []string{Wildcard},
				Head:         true,
			},
		},
		Bindings: map[string][]string{},
	}
}
