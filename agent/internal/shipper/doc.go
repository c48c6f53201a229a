// Package shipper pushes encoded OTLP metric payloads to a collector.
//
// Two transports are supported:
//   - OTLP/HTTP: the payload body is POSTed as-is with its content type
//     (application/x-protobuf or application/json) plus the configured
//     extra headers.
//   - OTLP/gRPC: the protobuf payload is decoded into an export request and
//     sent with the pmetricotlp client; extra headers travel as metadata.
//
// Send retries transient failures up to max_attempts times with truncated
// exponential backoff (1s→60s, ±25% jitter). HTTP 429/502/503/504, network
// errors and retryable gRPC codes are transient; a Retry-After header
// overrides the backoff delay. Everything else fails immediately.
//
// Extra headers come from a "k=v,k2=v2" string: each pair is split on its
// first '=', pairs without '=' are ignored.
package shipper
