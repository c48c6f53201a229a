// Package config loads the sink configuration from the `server:` section of
// config.yaml; the `agent:` key in the same file is ignored.
//
// Config fields:
//   - GRPCPort      port of the OTLP/gRPC receiver (default 4317)
//   - HTTPPort      port of OTLP/HTTP and the JSON API (default 4318)
//   - Auth.Mode     "apikey" or "none"
//   - Auth.KeyEnv   environment variable holding the expected API key
//   - Auth.Header   gRPC metadata/HTTP header name (default "x-api-key")
//   - Retention.TTL how long a metric stays listed after its last export (default 5m)
//   - Log           level and format of the process logger
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
