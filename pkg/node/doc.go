// Package node assembles a mesh node: a networking controller, a proxy
// bearer and a network state store, with optional Prometheus metrics.
//
// A Node restores its sequence number and IV index from the store at Start,
// persists every value the controller reports, and routes bearer PDUs to the
// matching controller entry point.
package node
