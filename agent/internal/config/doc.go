// Package config loads and watches the agent configuration file.
//
// Top-level types:
//   - Config{Agent}: the `agent:` section of the YAML file
//   - AgentConfig: account, api, query, export, http, log
//   - APIConfig: GraphQL endpoint, auth (bearer|apikey|basic|none), tls, timeout
//   - QueryConfig: run interval, window length, window delay, group limit
//   - ExportConfig: OTLP endpoint, protocol (http/protobuf|http/json|grpc),
//     extra headers, retry attempts, scope and resource attributes
//
// Secrets never live in the file: account_id_env, token_env, key_env,
// password_env and headers_env name environment variables that are read at
// use time.
//
// Load(path) applies defaults, unmarshals, then validates. Watch(ctx, path,
// onChange) reloads the file on write and hands the new Config to onChange.
package config
