// Package pcm decodes audio files and uploads into the mono float waveform
// the transcription pipeline consumes.
//
// Integer PCM WAV input at the target rate is decoded in-process with
// go-audio. Everything else (other containers, float WAV, other sample
// rates) is handed to ffmpeg, which downmixes to one channel and resamples to
// the target rate, mirroring how uploads were always normalized to 22050 Hz
// mono before analysis.
package pcm
