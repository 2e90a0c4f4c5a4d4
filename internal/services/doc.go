// Package services defines shared utilities consumed by the transcription
// pipeline and its adapters.
//
// Key responsibilities:
//   - Context helpers that stamp stage names and correlation identifiers for
//     logging.
//   - Structured error markers plus the Wrap helper, with IsFatal and
//     HTTPStatus classifying failures for the CLI and API surfaces.
package services
