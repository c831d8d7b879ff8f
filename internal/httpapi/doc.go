// Package httpapi exposes the session and update-feed operations over HTTP.
//
// # Endpoints
//
//	POST /api/sessions                  create a tracking session
//	GET  /api/sessions/{id}             fetch one session
//	POST /api/sessions/{id}/audio       upload audio chunks (idempotent)
//	POST /api/sessions/{id}/finish      finalize audio for transcription
//	GET  /api/updates?after=N&limit=M   cursor read of the caller's feed
//	GET  /api/updates/stream            live feed via Server-Sent Events
//	GET  /health                        liveness probe
//
// # Identity
//
// The caller's user id arrives in the X-Looma-User header, set by the
// fronting proxy after verification. Requests without it get 401.
//
// # Error mapping
//
// Domain errors map to stable status codes: unknown session 404, foreign
// session 403, wrong-state operations 409, exhausted store conflicts 503.
// Everything else is a 500 with the detail kept server-side.
package httpapi
