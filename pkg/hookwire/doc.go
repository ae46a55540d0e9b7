// Package hookwire routes raw webhook payloads to registered handlers.
//
// The engine is built from four cooperating pieces:
//   - Registry: ordered event definitions matched against payload shape
//   - Bus: handler registration and the dispatch pipeline
//   - Executor: bounded concurrent handler execution with timeouts
//   - plugin Manager: runtime load/unload of definition+handler bundles
//
// A dispatch flows raw data through Registry.Match, wraps the payload in an
// Event (matched canonical form or raw passthrough), resolves the handlers
// whose selectors apply, runs them through the Executor under a global
// admission gate, and aggregates the outcomes into a DispatchResult. "No
// pattern matched" is a normal outcome: activity, group, and catch-all
// handlers still run against the raw payload.
//
// Design influences:
//   - GitHub webhook delivery (first-match pattern routing, raw fallback)
//   - AWS EventBridge (dead letter handling for failed consumers)
package hookwire
