// Package notes defines the note events emitted by the transcription pipeline
// and the conversions between frequency, MIDI numbers, and note names.
package notes

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"notescribe/internal/analysis"
)

var sharpNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var letterOffsets = map[string]int{"C": 0, "D": 2, "E": 4, "F": 5, "G": 7, "A": 9, "B": 11}

// ErrInvalidName reports a note name that cannot be parsed.
var ErrInvalidName = errors.New("invalid note name")

// Seconds is a time value serialized with millisecond precision.
type Seconds float64

// MarshalJSON renders the value with exactly three decimals.
func (s Seconds) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(s), 'f', 3, 64)), nil
}

// RoundSeconds rounds v to the nearest millisecond.
func RoundSeconds(v float64) Seconds {
	return Seconds(math.Round(v*1000) / 1000)
}

// Event is a single discrete note.
type Event struct {
	Note     string  `json:"note"`
	MIDI     int     `json:"-"`
	Start    Seconds `json:"start"`
	End      Seconds `json:"end"`
	Duration Seconds `json:"duration"`
	Volume   int     `json:"volume"`
}

// FromSegment converts a resolved segment into an event, snapping the pitch
// to the nearest semitone and rounding the volume.
func FromSegment(seg analysis.Segment) Event {
	midi := MIDIFromHz(seg.PitchHz)
	return Event{
		Note:     Name(midi),
		MIDI:     midi,
		Start:    RoundSeconds(seg.Start),
		End:      RoundSeconds(seg.End),
		Duration: RoundSeconds(seg.End - seg.Start),
		Volume:   clampVolume(int(math.Round(seg.Volume))),
	}
}

// Failure is the JSON body returned for an analysis that could not run.
type Failure struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// MIDIFromHz returns the nearest MIDI note number for hz.
func MIDIFromHz(hz float64) int {
	return int(math.Round(analysis.HzToSemitones(hz)))
}

// Name returns the sharp-spelled scientific pitch name for a MIDI number,
// e.g. 69 → "A4".
func Name(midi int) string {
	pc := ((midi % 12) + 12) % 12
	octave := int(math.Floor(float64(midi)/12)) - 1
	return sharpNames[pc] + strconv.Itoa(octave)
}

// NameFromHz names the semitone nearest to hz.
func NameFromHz(hz float64) string {
	return Name(MIDIFromHz(hz))
}

// ParseName parses names such as "A4", "c#3", "Bb2", "F♯5" and the cents
// suffixed form "C4+12". It returns the MIDI number and the cents offset.
func ParseName(raw string) (int, int, error) {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer("♯", "#", "♭", "b").Replace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("%w: empty", ErrInvalidName)
	}

	cents := 0
	if split := strings.LastIndexAny(s, "+-"); split > 0 && isDigit(s[split-1]) {
		value, err := strconv.Atoi(s[split:])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q has a malformed cents suffix", ErrInvalidName, raw)
		}
		cents = value
		s = s[:split]
	}

	letter := cases.Upper(language.Und).String(s[:1])
	offset, ok := letterOffsets[letter]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q has no note letter", ErrInvalidName, raw)
	}
	rest := s[1:]
	for len(rest) > 0 && (rest[0] == '#' || rest[0] == 'b') {
		if rest[0] == '#' {
			offset++
		} else {
			offset--
		}
		rest = rest[1:]
	}
	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q has no octave", ErrInvalidName, raw)
	}
	midi := (octave+1)*12 + offset
	if midi < 0 || midi > 127 {
		return 0, 0, fmt.Errorf("%w: %q is outside the MIDI range", ErrInvalidName, raw)
	}
	return midi, cents, nil
}

// Validate checks the emitted-event invariants: start < end, duration at
// least minDuration, and volume within [40,127].
func Validate(events []Event, minDuration float64) error {
	for i, ev := range events {
		if !(ev.Start < ev.End) {
			return fmt.Errorf("note %d: start %.3f is not before end %.3f", i, ev.Start, ev.End)
		}
		if float64(ev.Duration) < minDuration-1e-9 {
			return fmt.Errorf("note %d: duration %.3f below minimum %.3f", i, ev.Duration, minDuration)
		}
		if ev.Volume < analysis.MinVolume || ev.Volume > analysis.MaxVolume {
			return fmt.Errorf("note %d: volume %d outside [%d,%d]", i, ev.Volume, analysis.MinVolume, analysis.MaxVolume)
		}
		if i > 0 && ev.Start < events[i-1].Start {
			return fmt.Errorf("note %d: starts before note %d", i, i-1)
		}
	}
	return nil
}

func clampVolume(v int) int {
	if v < analysis.MinVolume {
		return analysis.MinVolume
	}
	if v > analysis.MaxVolume {
		return analysis.MaxVolume
	}
	return v
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
