// Package api exposes the streaming endpoints: the SSE timeline routes under
// /api/v1/streaming and the WebSocket entry point, plus the middleware both
// share.
package api
