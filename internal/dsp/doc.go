// Package dsp provides the small signal-processing toolkit the transcription
// stages share: centred short-time Fourier transforms and their inverse, frame
// energy, median and Savitzky–Golay filters, percentiles, and peak
// interpolation.
//
// FFTs come from gonum's dsp/fourier, analysis windows from go-dsp, and order
// statistics from gonum's stat package. Everything here is deterministic and
// allocation-explicit; no function retains its inputs.
package dsp
