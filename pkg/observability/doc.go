/*
Package observability turns engine lifecycle events into Prometheus metrics, structured
log records and OpenTelemetry traces.

Everything here is built from domain.LifecycleHooks; hooks from several sources are
combined with LifecycleHooks.Merge before being handed to the agent.
*/
package observability
