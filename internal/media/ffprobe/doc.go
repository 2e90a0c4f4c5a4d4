// Package ffprobe inspects audio sources before they are transcoded.
//
// It runs the ffprobe binary with JSON output and exposes helpers for the
// facts the decoder needs: whether an audio stream exists, its native sample
// rate and channel count, and the container duration.
package ffprobe
