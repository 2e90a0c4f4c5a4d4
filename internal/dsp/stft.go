package dsp

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// FrameCount returns the number of centred frames for a signal of n samples.
func FrameCount(n, hop int) int {
	if n <= 0 || hop <= 0 {
		return 0
	}
	return 1 + n/hop
}

// FrameTimes returns the centre time in seconds of each of count frames.
func FrameTimes(count, hop, sampleRate int) []float64 {
	times := make([]float64, count)
	for i := range times {
		times[i] = float64(i*hop) / float64(sampleRate)
	}
	return times
}

// STFT computes the centred short-time Fourier transform of x using a Hann
// window of size samples. Frame i is centred on sample i*hop; samples outside
// the signal are treated as zero. Each row holds size/2+1 coefficients.
func STFT(x []float64, size, hop int) [][]complex128 {
	frames := FrameCount(len(x), hop)
	if frames == 0 || size <= 1 {
		return nil
	}
	win := window.Hann(size)
	plan := fourier.NewFFT(size)
	out := make([][]complex128, frames)
	buf := make([]float64, size)
	half := size / 2
	for i := 0; i < frames; i++ {
		start := i*hop - half
		for k := 0; k < size; k++ {
			idx := start + k
			if idx >= 0 && idx < len(x) {
				buf[k] = x[idx] * win[k]
			} else {
				buf[k] = 0
			}
		}
		out[i] = plan.Coefficients(nil, buf)
	}
	return out
}

// ISTFT inverts a spectrum produced by STFT with the same size and hop using
// weighted overlap-add. The result has length samples.
func ISTFT(spec [][]complex128, size, hop, length int) []float64 {
	out := make([]float64, length)
	if len(spec) == 0 || length == 0 {
		return out
	}
	win := window.Hann(size)
	plan := fourier.NewFFT(size)
	norm := make([]float64, length)
	frame := make([]float64, size)
	half := size / 2
	scale := 1 / float64(size)
	for i, coeff := range spec {
		plan.Sequence(frame, coeff)
		start := i*hop - half
		for k := 0; k < size; k++ {
			idx := start + k
			if idx < 0 || idx >= length {
				continue
			}
			out[idx] += frame[k] * scale * win[k]
			norm[idx] += win[k] * win[k]
		}
	}
	for i := range out {
		if norm[i] > 1e-10 {
			out[i] /= norm[i]
		}
	}
	return out
}

// Magnitudes returns |X| for every coefficient of spec.
func Magnitudes(spec [][]complex128) [][]float64 {
	out := make([][]float64, len(spec))
	for i, row := range spec {
		mags := make([]float64, len(row))
		for k, c := range row {
			mags[k] = cmplx.Abs(c)
		}
		out[i] = mags
	}
	return out
}

// FrameRMS returns the root-mean-square level of each centred, unwindowed
// frame of x.
func FrameRMS(x []float64, size, hop int) []float64 {
	frames := FrameCount(len(x), hop)
	out := make([]float64, frames)
	half := size / 2
	for i := 0; i < frames; i++ {
		start := i*hop - half
		var sum float64
		for k := 0; k < size; k++ {
			idx := start + k
			if idx >= 0 && idx < len(x) {
				sum += x[idx] * x[idx]
			}
		}
		out[i] = math.Sqrt(sum / float64(size))
	}
	return out
}

// BinFrequency returns the centre frequency of FFT bin k.
func BinFrequency(k, size, sampleRate int) float64 {
	return float64(k) * float64(sampleRate) / float64(size)
}
