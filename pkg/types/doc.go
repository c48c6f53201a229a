// Package types defines the wire-level values shared by the agent and the
// sink server: the encoded OTLP payload and its content types.
package types
