// Package config loads contractflow configuration.
//
// Configuration files are CUE. Each file is unified with a built-in closed
// schema (see Schema) that supplies defaults and rejects unknown keys; the
// decoded result is then checked with validator struct tags. An empty file
// yields a complete default configuration.
//
//	workflow: {
//		default_required_tracks: ["LEGAL", "FINANCE"]
//		min_approval_comment:    10
//		routing_script:          "routing.star"
//	}
//	store: path: "/var/lib/contractflow/contractflow.db"
//	policy: {
//		bindings_file: "roles.yaml"
//		watch:         true
//	}
//
// The optional routing script is Starlark and decides which review tracks a
// new contract requires when the creator does not name them:
//
//	def required_tracks(contract):
//	    if contract.amount < 10000:
//	        return [LEGAL]
//	    return [LEGAL, FINANCE]
package config
