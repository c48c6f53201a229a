// Package analytics queries the Cloudflare GraphQL Analytics API for one
// account and time window and returns the raw dimensional groups of every
// requested dataset.
//
// Groups are decoded with gjson and keep the upstream shape: a dimensions
// object of tag values plus optional sum, avg and quantiles blocks of numbers.
// A block that is absent (or null) upstream stays nil, so callers can tell a
// missing block from an empty one. Interpreting the groups is left to the
// compute package.
package analytics
