// Package policy provides Open Policy Agent (OPA) integration for
// project configuration governance.
//
// Policies are written in Rego and evaluated against the compiled
// project configuration after compilation and before any cloud
// mutation. A violation at error severity or above blocks the run.
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating a compiled project:
//
//	result, err := engine.EvaluateProject(ctx, project, "deploy")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("Policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. twin-naming - Enforces digital twin naming conventions
//  2. retention-ordering - Enforces hot <= cold <= archive retention
//  3. provider-slots - Keeps layer assignments inside the supported set
//  4. optimization-consistency - Flags vs. layer assignment mismatches
//  5. event-wiring - Event feedback targets and the feedback flag
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files or
// directories:
//
//	package custom.policies.devices
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.project
//	    count(input.project.devices) > 500
//
//	    violation := {
//	        "message": "device inventory exceeds the fleet limit of 500",
//	        "severity": "error",
//	    }
//	}
//
//	err = engine.LoadPolicies(ctx, []string{"policies/"})
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically. Watch blocks until the context is cancelled:
//
//	loader := policy.NewLoader(logger)
//	go loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return engine.ReplacePolicies(ctx, policies)
//	})
//
// # Severity Levels
//
// Violations have four severity levels: info, warning, error, and
// critical. Error and critical violations mark the result as not
// allowed; info and warning violations are reported but do not block.
package policy
