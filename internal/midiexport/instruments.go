package midiexport

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// generalMIDI lists the General MIDI level 1 program names in program order.
var generalMIDI = [128]string{
	"Acoustic Grand Piano", "Bright Acoustic Piano", "Electric Grand Piano", "Honky-tonk Piano",
	"Electric Piano 1", "Electric Piano 2", "Harpsichord", "Clavinet",
	"Celesta", "Glockenspiel", "Music Box", "Vibraphone",
	"Marimba", "Xylophone", "Tubular Bells", "Dulcimer",
	"Drawbar Organ", "Percussive Organ", "Rock Organ", "Church Organ",
	"Reed Organ", "Accordion", "Harmonica", "Tango Accordion",
	"Acoustic Guitar (nylon)", "Acoustic Guitar (steel)", "Electric Guitar (jazz)", "Electric Guitar (clean)",
	"Electric Guitar (muted)", "Overdriven Guitar", "Distortion Guitar", "Guitar Harmonics",
	"Acoustic Bass", "Electric Bass (finger)", "Electric Bass (pick)", "Fretless Bass",
	"Slap Bass 1", "Slap Bass 2", "Synth Bass 1", "Synth Bass 2",
	"Violin", "Viola", "Cello", "Contrabass",
	"Tremolo Strings", "Pizzicato Strings", "Orchestral Harp", "Timpani",
	"String Ensemble 1", "String Ensemble 2", "Synth Strings 1", "Synth Strings 2",
	"Choir Aahs", "Voice Oohs", "Synth Choir", "Orchestra Hit",
	"Trumpet", "Trombone", "Tuba", "Muted Trumpet",
	"French Horn", "Brass Section", "Synth Brass 1", "Synth Brass 2",
	"Soprano Sax", "Alto Sax", "Tenor Sax", "Baritone Sax",
	"Oboe", "English Horn", "Bassoon", "Clarinet",
	"Piccolo", "Flute", "Recorder", "Pan Flute",
	"Blown Bottle", "Shakuhachi", "Whistle", "Ocarina",
	"Lead 1 (square)", "Lead 2 (sawtooth)", "Lead 3 (calliope)", "Lead 4 (chiff)",
	"Lead 5 (charang)", "Lead 6 (voice)", "Lead 7 (fifths)", "Lead 8 (bass + lead)",
	"Pad 1 (new age)", "Pad 2 (warm)", "Pad 3 (polysynth)", "Pad 4 (choir)",
	"Pad 5 (bowed)", "Pad 6 (metallic)", "Pad 7 (halo)", "Pad 8 (sweep)",
	"FX 1 (rain)", "FX 2 (soundtrack)", "FX 3 (crystal)", "FX 4 (atmosphere)",
	"FX 5 (brightness)", "FX 6 (goblins)", "FX 7 (echoes)", "FX 8 (sci-fi)",
	"Sitar", "Banjo", "Shamisen", "Koto",
	"Kalimba", "Bag pipe", "Fiddle", "Shanai",
	"Tinkle Bell", "Agogo", "Steel Drums", "Woodblock",
	"Taiko Drum", "Melodic Tom", "Synth Drum", "Reverse Cymbal",
	"Guitar Fret Noise", "Breath Noise", "Seashore", "Bird Tweet",
	"Telephone Ring", "Helicopter", "Applause", "Gunshot",
}

var drumNames = map[string]struct{}{
	"drum": {}, "drums": {}, "percussion": {}, "drum kit": {},
}

// Instrument selects the General MIDI program, or the percussion channel.
type Instrument struct {
	Program uint8
	Drum    bool
	Name    string
}

// DefaultInstrument is the acoustic grand piano.
func DefaultInstrument() Instrument {
	return Instrument{Program: 0, Name: generalMIDI[0]}
}

// LookupInstrument resolves a General MIDI program name (any casing), a
// program number 0-127, or one of the drum keywords. An empty name selects
// the default piano.
func LookupInstrument(name string) (Instrument, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultInstrument(), nil
	}
	lower := strings.ToLower(trimmed)
	if _, ok := drumNames[lower]; ok {
		return Instrument{Drum: true, Name: "Drum Kit"}, nil
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		if n < 0 || n >= len(generalMIDI) {
			return Instrument{}, fmt.Errorf("program %d outside 0-127", n)
		}
		return Instrument{Program: uint8(n), Name: generalMIDI[n]}, nil
	}
	title := cases.Title(language.English).String(lower)
	for i, candidate := range generalMIDI {
		if strings.EqualFold(candidate, title) {
			return Instrument{Program: uint8(i), Name: candidate}, nil
		}
	}
	return Instrument{}, fmt.Errorf("unknown instrument %q", name)
}
