// Package orchestrator sequences the full deployment lifecycle of a
// digital-twin pipeline: compile the project, gate it on policy, build
// the function archives, run the provisioning tool, push code layer by
// layer behind the pre-flight gates, and finish with the SDK-driven
// operations that need apply-time values.
//
// Destruction reverses that order and never gives up early: missing
// resources count as already clean, step failures are logged and the
// remaining cleanup continues, and a naming-prefix sweep runs as the
// final finalizer to catch anything the targeted teardown missed.
//
// Every run owns a DeploymentContext exclusively. Cleanup steps are
// registered on it with Defer and run LIFO on every exit path,
// including cancellation.
package orchestrator
