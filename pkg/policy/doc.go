// Package policy answers capability checks for the contract workflow with
// Open Policy Agent.
//
// Role bindings map actors to roles and roles to capabilities. They are loaded
// from a YAML or JSON file, validated, and installed as the data document of a
// Rego module (DefaultModule unless replaced with WithModule):
//
//	roles:
//	  legal_manager:
//	    capabilities: [approval:legal:act, approval:legal:escalate]
//	  legal_head:
//	    capabilities: [approval:legal:act]
//	    head: true
//	bindings:
//	  lena: [legal_manager]
//	  hugo: [legal_head]
//
// Checks scoped to the HEAD tier (escalated legal tracks) additionally require
// a role marked head.
//
// # Usage
//
//	loader := policy.NewLoader(logger)
//	bindings, err := loader.LoadBindings("roles.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	oracle, err := policy.NewEngine(logger, bindings)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Hot reload: a bad file is logged and the previous bindings stay active.
//	_ = loader.Watch(ctx, "roles.yaml", func(b *policy.Bindings) error {
//	    return oracle.SetBindings(ctx, b)
//	})
package policy
