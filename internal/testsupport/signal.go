package testsupport

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"notescribe/internal/analysis"
)

// SampleRate is the rate used by the synthetic signals below.
const SampleRate = 22050

// Sine returns seconds of a sine at hz with the given peak amplitude.
func Sine(hz, seconds, amplitude float64) []float64 {
	n := int(math.Round(seconds * SampleRate))
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*hz*float64(i)/SampleRate)
	}
	return out
}

// Silence returns seconds of zeros.
func Silence(seconds float64) []float64 {
	return make([]float64, int(math.Round(seconds*SampleRate)))
}

// Concat joins sample slices end to end.
func Concat(parts ...[]float64) []float64 {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]float64, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Wave wraps samples at SampleRate.
func Wave(samples []float64) analysis.Waveform {
	return analysis.Waveform{Samples: samples, SampleRate: SampleRate}
}

// WriteWAV encodes samples as 16-bit mono PCM at SampleRate and returns the
// file path.
func WriteWAV(t testing.TB, path string, samples []float64) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * math.MaxInt16))
	}
	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finalize %s: %v", path, err)
	}
	return path
}
