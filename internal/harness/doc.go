// Package harness provides scenario-based conformance testing for the
// release orchestrator.
//
// A scenario is a YAML file bundling a release configuration with a
// deployed baseline and a failure script for the external collaborators.
// The harness runs the orchestrator against scripted fakes and an
// in-memory registry, then condenses the attempt into a canonical
// snapshot for golden-file comparison.
//
// # Scenario Format
//
//	name: minor_release
//	description: "What this scenario validates"
//	attempt_token: attempt-0001
//	current_platform: "2.1.0"
//	baseline:
//	  inventory: "1.2.0"
//	promoter_failures:
//	  checkout: ["fatal:artifact missing"]
//	validator_failures: ["retryable:endpoint warming up"]
//	config:
//	  platform:
//	    name: storefront
//	  services:
//	    - name: inventory
//	      version: "1.3.0"
//
// The config section is a complete railyard configuration and goes
// through the same CUE schema validation as a real config file.
//
// Scripted failures are consumed one per call, so "retryable:blip"
// followed by nothing means: fail the first call, succeed the retry.
// The "fatal:" prefix (or no prefix) makes the failure non-retryable.
//
// # Deterministic Testing
//
// Scenarios execute with a fixed attempt token, a frozen wall clock, and
// an in-memory SQLite registry, so the same scenario produces a
// byte-identical snapshot across runs. Snapshots order promotions by
// (phase, service) because services within a phase finish in
// nondeterministic order.
package harness
