// Package server hosts the Farmhand HTTP API: auth, user settings, resumable
// upload coordination, video lookup, the optional legacy chunked-upload
// surface, and the eventsub webhook receiver, behind one multiplexer.
//
// The server builds a consistent middleware chain of request ID, security
// headers, CORS, logging, audit, metrics, rate limiting, and auth so handlers
// all share common protections and instrumentation.
package server
