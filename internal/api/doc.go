// Package api serves transcription over HTTP.
//
// The server accepts an audio upload on POST /api/analyze, decodes it through
// the pcm decoder, runs the transcription pipeline and stores the result in the
// analysis history. Stored results are exposed read-only under /api/history.
//
// Every JSON response is wrapped in an Envelope: {"success": true, "data": ...}
// on success and {"success": false, "error": "...", "detail": "..."} on
// failure. Status codes come from services.HTTPStatus so decode errors map to
// 422, missing entries to 404 and tool failures to 502.
//
// Only one server may run per state directory; Start takes a flock on the
// configured lock path before it binds.
package api
