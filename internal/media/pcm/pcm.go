package pcm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-audio/wav"

	"notescribe/internal/analysis"
	"notescribe/internal/deps"
	"notescribe/internal/logging"
	"notescribe/internal/media/ffprobe"
	"notescribe/internal/services"
)

// TargetSampleRate is the rate every transcoded input is resampled to.
const TargetSampleRate = 22050

const stage = "decode"

// ErrNotWAV reports a stream that is not integer PCM WAV.
var ErrNotWAV = errors.New("not an integer PCM WAV stream")

// Decoder turns audio sources into waveforms. The zero value resolves ffmpeg
// and ffprobe through deps and resamples to TargetSampleRate.
type Decoder struct {
	FFmpeg     string
	FFprobe    string
	SampleRate int
	Logger     *slog.Logger
}

func (d Decoder) rate() int {
	if d.SampleRate > 0 {
		return d.SampleRate
	}
	return TargetSampleRate
}

func (d Decoder) logger() *slog.Logger {
	return logging.NewComponentLogger(d.Logger, "pcm")
}

// DecodeFile decodes the audio at path.
func (d Decoder) DecodeFile(ctx context.Context, path string) (analysis.Waveform, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return analysis.Waveform{}, services.Wrap(services.ErrInput, stage, "open", "empty audio path", nil)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return analysis.Waveform{}, services.Wrap(services.ErrNotFound, stage, "open", path, err)
		}
		return analysis.Waveform{}, services.Wrap(services.ErrInput, stage, "open", path, err)
	}
	defer f.Close()

	wave, err := d.decodeWAV(f)
	if err == nil {
		return wave, nil
	}
	if !errors.Is(err, ErrNotWAV) {
		return analysis.Waveform{}, services.Wrap(services.ErrInput, stage, "wav", path, err)
	}

	if inspector := deps.ResolveTool("ffprobe", d.FFprobe, ""); inspector.Available {
		result, inspectErr := ffprobe.Inspect(ctx, inspector.Command, path)
		switch {
		case inspectErr != nil:
			d.logger().Debug("ffprobe failed; relying on ffmpeg", logging.Error(inspectErr))
		case result.AudioStreamCount() == 0:
			return analysis.Waveform{}, services.Wrap(services.ErrInput, stage, "inspect", path+" has no audio stream", nil)
		default:
			if primary, ok := result.PrimaryAudio(); ok {
				d.logger().Debug("audio source inspected",
					logging.Group("stream",
						logging.String("codec", primary.CodecName),
						logging.Int("sample_rate", primary.SampleRateHz()),
						logging.Int("channels", primary.Channels),
					),
					logging.Float64("duration_seconds", result.DurationSeconds()),
				)
			}
		}
	}
	return d.transcode(ctx, path, nil)
}

// DecodeBytes decodes an in-memory upload.
func (d Decoder) DecodeBytes(ctx context.Context, data []byte) (analysis.Waveform, error) {
	if len(data) == 0 {
		return analysis.Waveform{}, services.Wrap(services.ErrInput, stage, "read", "empty upload", nil)
	}
	wave, err := d.decodeWAV(bytes.NewReader(data))
	if err == nil {
		return wave, nil
	}
	if !errors.Is(err, ErrNotWAV) {
		return analysis.Waveform{}, services.Wrap(services.ErrInput, stage, "wav", "upload", err)
	}
	return d.transcode(ctx, "pipe:0", bytes.NewReader(data))
}

// decodeWAV decodes in-process when the WAV already has the target rate or
// no ffmpeg is available to resample it.
func (d Decoder) decodeWAV(r io.ReadSeeker) (analysis.Waveform, error) {
	wave, err := DecodeWAV(r)
	if err != nil {
		return analysis.Waveform{}, err
	}
	if wave.SampleRate == d.rate() {
		return wave, nil
	}
	if !deps.ResolveTool("ffmpeg", d.FFmpeg, "").Available {
		d.logger().Debug("ffmpeg unavailable; analyzing at native rate",
			logging.Int("sample_rate", wave.SampleRate),
		)
		return wave, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return wave, nil
	}
	return analysis.Waveform{}, fmt.Errorf("%w: sample rate %d needs resampling", ErrNotWAV, wave.SampleRate)
}

// DecodeWAV reads integer PCM WAV data and downmixes it to mono in [-1, 1].
// The native sample rate is preserved.
func DecodeWAV(r io.ReadSeeker) (analysis.Waveform, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return analysis.Waveform{}, ErrNotWAV
	}
	if dec.WavAudioFormat != 1 {
		return analysis.Waveform{}, fmt.Errorf("%w: audio format %d", ErrNotWAV, dec.WavAudioFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return analysis.Waveform{}, fmt.Errorf("read pcm: %w", err)
	}
	channels := int(dec.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	return analysis.Waveform{
		Samples:    Downmix(buf.Data, channels, int(dec.BitDepth)),
		SampleRate: int(dec.SampleRate),
	}, nil
}

// Downmix averages interleaved integer samples into one channel scaled to
// [-1, 1]. 8-bit data is unsigned per the WAV format.
func Downmix(data []int, channels, bitDepth int) []float64 {
	if channels < 1 {
		channels = 1
	}
	scale := math.Pow(2, float64(bitDepth-1))
	offset := 0.0
	if bitDepth == 8 {
		offset = 128
	}
	if scale <= 0 {
		scale = math.MaxInt16 + 1
	}
	frames := len(data) / channels
	out := make([]float64, frames)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += (float64(data[i*channels+c]) - offset) / scale
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// PCM16ToFloat converts little-endian signed 16-bit samples to [-1, 1).
func PCM16ToFloat(data []byte) []float64 {
	out := make([]float64, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[2*i:]))
		out[i] = float64(v) / 32768
	}
	return out
}

func (d Decoder) transcode(ctx context.Context, input string, stdin io.Reader) (analysis.Waveform, error) {
	bin := deps.ResolveFFmpegPath(d.FFmpeg)
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(d.rate()),
		"-f", "s16le",
		"-",
	}
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.logger().Debug("transcoding with ffmpeg", logging.String("binary", bin), logging.String("input", input))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return analysis.Waveform{}, services.Wrap(services.ErrTimeout, stage, "ffmpeg", "transcode cancelled", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return analysis.Waveform{}, services.Wrap(services.ErrInput, stage, "ffmpeg",
				"could not decode audio: "+strings.TrimSpace(stderr.String()), err)
		}
		return analysis.Waveform{}, services.Wrap(services.ErrExternalTool, stage, "ffmpeg", "run "+bin, err)
	}
	return analysis.Waveform{Samples: PCM16ToFloat(stdout.Bytes()), SampleRate: d.rate()}, nil
}
