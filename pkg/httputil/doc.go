// Package httputil provides the JSON response envelope, request parsing
// helpers, and generic HTTP middleware (request IDs, CORS, body limits).
package httputil
