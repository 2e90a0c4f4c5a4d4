// Package analysis holds the domain types shared by every transcription stage.
//
// A Waveform enters the pipeline, stages derive a FrameSeries and a boundary
// set from it, the segment resolver turns boundary intervals into Segments,
// and the consolidator reduces those into note events. Config carries every
// tunable threshold; it is a value type so a stage can never mutate the copy
// another stage sees.
//
// This package has no dependencies on the rest of notescribe.
package analysis
