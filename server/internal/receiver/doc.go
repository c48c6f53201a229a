// Package receiver accepts OTLP metric exports from flarewatch agents.
//
// Receiver implements the pmetricotlp gRPC service and, through ServeHTTP, the
// OTLP/HTTP endpoint (POST /v1/metrics, protobuf or JSON body). Number data
// points of gauge and sum metrics are stored by metric name; points of any
// other metric type are reported back as rejected through partial success.
// Authentication is enforced upstream (see package auth).
package receiver
