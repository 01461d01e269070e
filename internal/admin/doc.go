// Package admin serves the operator HTTP API.
//
// Routes:
//
//	GET    /health                     liveness, no auth
//	GET    /metrics                    Prometheus metrics, no auth
//	GET    /api/threads                registered thread names
//	GET    /api/sessions/{address}     session snapshot (viewer)
//	DELETE /api/sessions/{address}     reset the session (admin)
//
// /api routes require an operator JWT and are only mounted when a verifier
// is configured.
package admin
