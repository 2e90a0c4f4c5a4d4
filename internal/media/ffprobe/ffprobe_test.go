package ffprobe

import (
	"math"
	"testing"
)

const sample = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "mjpeg"},
    {"index": 1, "codec_type": "audio", "codec_name": "mp3", "sample_rate": "44100", "channels": 2, "disposition": {"default": 0}},
    {"index": 2, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 1, "disposition": {"default": 1}}
  ],
  "format": {"filename": "take.m4a", "duration": "12.500", "format_name": "mov,mp4"}
}`

func TestParseAndHelpers(t *testing.T) {
	result, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("unexpected audio count: got %d want 2", result.AudioStreamCount())
	}
	primary, ok := result.PrimaryAudio()
	if !ok {
		t.Fatal("expected primary audio stream")
	}
	if primary.Index != 2 {
		t.Fatalf("unexpected primary index: got %d want 2", primary.Index)
	}
	if primary.SampleRateHz() != 48000 {
		t.Fatalf("unexpected sample rate: %d", primary.SampleRateHz())
	}
	if result.DurationSeconds() != 12.5 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
}

func TestPrimaryAudioFallsBackToFirst(t *testing.T) {
	result := Result{Streams: []Stream{
		{Index: 0, CodecType: "video"},
		{Index: 3, CodecType: "AUDIO"},
		{Index: 4, CodecType: "audio"},
	}}
	primary, ok := result.PrimaryAudio()
	if !ok || primary.Index != 3 {
		t.Fatalf("unexpected primary: %+v ok=%v", primary, ok)
	}
	if _, ok := (Result{}).PrimaryAudio(); ok {
		t.Fatal("expected no primary audio for empty result")
	}
}

func TestHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad"}}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if (Stream{SampleRate: "nope"}).SampleRateHz() != 0 {
		t.Fatal("expected zero sample rate for invalid value")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}
