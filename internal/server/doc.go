// Package server hosts the streaming gateway from a single HTTP server.
//
// The server builds a consistent middleware chain of logging, rate limiting,
// and the authentication gate so handlers all share common protections. The
// login surface and health probes stay outside the gate; every other route
// requires an authenticated backend session.
package server
