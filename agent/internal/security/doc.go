// Package security inspects the TLS certificates served by the agent's
// upstream endpoints (the analytics API and the OTLP collector) so expiring
// certificates show up in the debug API before they break a run.
package security
