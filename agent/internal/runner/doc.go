// Package runner drives the agent pipeline. One run computes the query window
// from the clock, fetches every dataset, folds the groups into a fresh
// registry, converts and encodes the gathered families and pushes the payload.
//
// Runs are serialized: a run triggered over HTTP while the ticker-driven run is
// in flight waits for it. The last successful run's Summary and families are
// kept for the debug API. Reload swaps the fetcher, sender and encoder built
// from a new config; a run already in progress finishes with the old ones.
package runner
