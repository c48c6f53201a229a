// Package auth enforces API-key authentication on the sink's OTLP endpoints.
//
// APIKeyInterceptor guards the gRPC receiver and APIKeyMiddleware guards the
// HTTP receiver. Both read the key from the configured header (gRPC metadata
// or HTTP header). When mode is not "apikey" or no key is configured, every
// request passes through.
package auth
