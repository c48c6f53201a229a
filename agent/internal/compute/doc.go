// Package compute folds analytics groups into a per-run metric registry.
//
// schema.go describes a dataset declaratively: which dimensions become labels,
// which dimension carries the group time, and a field table mapping each
// numeric upstream field to a counter or gauge family. domains.go holds the
// five Cloudflare datasets. reader.go validates groups against a schema and
// adapter.go writes the validated samples, so a malformed group never leaves
// partial writes behind.
//
// Engine.Process runs one adapter per dataset concurrently against a fresh
// registry, waits for all of them and returns the gathered families together
// with the run timestamp chosen by the Resolver. now is passed explicitly so
// tests control the fallback clock.
package compute
