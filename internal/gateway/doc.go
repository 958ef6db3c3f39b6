// Package gateway exposes the hub over HTTP: one dispatch endpoint, a
// thread read endpoint, and directory upserts for coordinations, agents
// and live connections. JSON in, JSON out; bearer-token auth on every
// /api route when a verifier is configured.
package gateway
