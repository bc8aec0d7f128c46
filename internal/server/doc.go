// Package server hosts the Fiber HTTP service that exposes artifact
// directories read-only. It wires request IDs, panic recovery and structured
// request logging, and leaves route registration to the routes package so the
// coordinator stays independent of any transport.
package server
